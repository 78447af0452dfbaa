/**
 * @description
 * HTTP Client for the external Custody Relayer API.
 * The relayer signs and broadcasts on-chain transactions on behalf of the
 * core: custody handovers, per-chain ownership changes during exports, and
 * matured withdrawal executions. The core itself never talks to chain RPCs.
 *
 * @dependencies
 * - net/http
 * - backend/internal/config
 * - backend/internal/models
 *
 * @notes
 * - Auth: static API key header (X-Api-Key).
 * - Endpoints: POST /custody/transfer, POST /ownership/broadcast,
 *   POST /withdrawals/execute.
 * - All calls are synchronous request/response; the relayer waits for the
 *   transaction to be accepted by the chain before answering.
 */

package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-wallet/backend/internal/config"
	"github.com/custodia-wallet/backend/internal/models"
)

const (
	DefaultTimeout = 30 * time.Second
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	APIKey     string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL: cfg.Relayer.URL,
		APIKey:  cfg.Relayer.APIKey,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// SubmitResponse is the relayer's answer to any transaction submission
type SubmitResponse struct {
	TransactionHash string `json:"transactionHash"`
	State           string `json:"state"` // PENDING, MINED, etc.
}

// RelayerError represents an error response from the relayer
type RelayerError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type custodyTransferRequest struct {
	ChainID         int64  `json:"chainId"`
	AccountAddress  string `json:"accountAddress"`
	Salt            string `json:"salt"`
	NewOwnerAddress string `json:"newOwnerAddress"`
}

type ownershipBroadcastRequest struct {
	ChainID         int64  `json:"chainId"`
	AccountAddress  string `json:"accountAddress"`
	NewOwnerAddress string `json:"newOwnerAddress"`
}

type withdrawalExecuteRequest struct {
	AccountAddress string `json:"accountAddress"`
	TokenAddress   string `json:"tokenAddress"`
	Amount         string `json:"amount"`
	ToAddress      string `json:"toAddress"`
}

// ExecuteTransfer asks the relayer to hand full signing authority over the
// account to newOwner. Called between BeginTransfer and Complete/AbortTransfer.
func (c *Client) ExecuteTransfer(ctx context.Context, account *models.SmartAccount, newOwner string) (string, error) {
	if account == nil {
		return "", fmt.Errorf("account cannot be nil")
	}
	resp, err := c.submit(ctx, "/custody/transfer", custodyTransferRequest{
		ChainID:         account.ChainID,
		AccountAddress:  account.Address,
		Salt:            account.Salt,
		NewOwnerAddress: newOwner,
	})
	if err != nil {
		return "", err
	}
	return resp.TransactionHash, nil
}

// BroadcastOwnershipChange broadcasts an ownership change for one chain of an
// export request. Each chain is an independent call; a failure here never
// affects sibling chains.
func (c *Client) BroadcastOwnershipChange(ctx context.Context, chainID int64, accountAddress, newOwner string) (string, error) {
	resp, err := c.submit(ctx, "/ownership/broadcast", ownershipBroadcastRequest{
		ChainID:         chainID,
		AccountAddress:  accountAddress,
		NewOwnerAddress: newOwner,
	})
	if err != nil {
		return "", err
	}
	return resp.TransactionHash, nil
}

// ExecuteWithdrawal broadcasts a token transfer out of the smart account for a
// matured (or immediate) withdrawal claimed by the sweeper.
func (c *Client) ExecuteWithdrawal(ctx context.Context, w *models.Withdrawal, accountAddress string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("withdrawal cannot be nil")
	}
	resp, err := c.submit(ctx, "/withdrawals/execute", withdrawalExecuteRequest{
		AccountAddress: accountAddress,
		TokenAddress:   w.TokenAddress,
		Amount:         w.Amount,
		ToAddress:      w.ToAddress,
	})
	if err != nil {
		return "", err
	}
	return resp.TransactionHash, nil
}

// submit posts a payload to the relayer and decodes the standard response envelope
func (c *Client) submit(ctx context.Context, path string, payload interface{}) (*SubmitResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s%s", c.BaseURL, path)

	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relayer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Read error body for better error messages
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("relayer returned status %d (failed to read error body: %v)", resp.StatusCode, readErr)
		}

		// Try to parse as JSON error
		var relayerErr RelayerError
		if jsonErr := json.Unmarshal(body, &relayerErr); jsonErr == nil && relayerErr.Message != "" {
			return nil, fmt.Errorf("relayer error (status %d): %s", resp.StatusCode, relayerErr.Message)
		}

		// Fallback to raw body if not JSON
		return nil, fmt.Errorf("relayer returned status %d: %s", resp.StatusCode, string(body))
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode relayer response: %w", err)
	}
	return &out, nil
}
