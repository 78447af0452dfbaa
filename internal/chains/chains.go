/**
 * @description
 * Registry of blockchains the custody core may provision smart accounts on,
 * plus address/salt validation helpers shared by the services layer.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/common: hex address validation
 * - github.com/ethereum/go-ethereum/common/hexutil: salt decoding
 */

package chains

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Chain describes one supported blockchain.
type Chain struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// knownNames maps well-known EVM chain IDs to display names. Chains enabled
// via config but not listed here still work; they just get a generic name.
var knownNames = map[int64]string{
	1:     "ethereum",
	10:    "optimism",
	56:    "bsc",
	137:   "polygon",
	8453:  "base",
	42161: "arbitrum",
}

// Registry holds the set of chains enabled for this deployment.
type Registry struct {
	chains map[int64]Chain
}

// NewRegistry builds a registry from the configured chain ID list.
func NewRegistry(ids []int64) *Registry {
	r := &Registry{chains: make(map[int64]Chain, len(ids))}
	for _, id := range ids {
		name, ok := knownNames[id]
		if !ok {
			name = "unknown"
		}
		r.chains[id] = Chain{ID: id, Name: name}
	}
	return r
}

// Supported reports whether accounts may be provisioned on the given chain.
func (r *Registry) Supported(id int64) bool {
	_, ok := r.chains[id]
	return ok
}

// Get returns the chain record for the given ID.
func (r *Registry) Get(id int64) (Chain, bool) {
	c, ok := r.chains[id]
	return c, ok
}

// IDs returns the enabled chain IDs in ascending order.
func (r *Registry) IDs() []int64 {
	ids := make([]int64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ValidAddress reports whether s is a well-formed hex address.
func ValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// ValidSalt reports whether s is a 0x-prefixed 32-byte hex string, the salt
// format used for deterministic smart-account address derivation.
func ValidSalt(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == 32
}
