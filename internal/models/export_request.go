/**
 * @description
 * ExportRequest database model.
 * Maps to the 'export_requests' table in PostgreSQL.
 * Tracks a multi-chain custody export with a per-chain status map so partial
 * failure can be retried chain-by-chain without disturbing completed entries.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExportStatus is the aggregate status of an export request. Apart from the
// user-driven CANCELLED, it is always recomputed from the chain status map.
type ExportStatus string

const (
	ExportStatusPending    ExportStatus = "PENDING"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusPartial    ExportStatus = "PARTIAL"
	ExportStatusCompleted  ExportStatus = "COMPLETED"
	ExportStatusCancelled  ExportStatus = "CANCELLED"
)

// ChainResultStatus is the per-chain outcome inside the chain status map
type ChainResultStatus string

const (
	ChainResultPending   ChainResultStatus = "PENDING"
	ChainResultCompleted ChainResultStatus = "COMPLETED"
	ChainResultFailed    ChainResultStatus = "FAILED"
)

// ChainResult is one chain's broadcast outcome
type ChainResult struct {
	Status ChainResultStatus `json:"status"`
	TxHash string            `json:"tx_hash,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// ChainStatusMap maps chain ID -> broadcast outcome
type ChainStatusMap map[int64]ChainResult

// ExportRequest represents a user-initiated custody export across one or more chains
type ExportRequest struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;index:idx_export_requests_user" json:"user_id"`
	NewOwnerAddress string    `gorm:"type:varchar(42);not null" json:"new_owner_address"`

	ChainIDs    []int64        `gorm:"serializer:json;type:jsonb" json:"chain_ids"`
	ChainStatus ChainStatusMap `gorm:"serializer:json;type:jsonb" json:"chain_status"`

	Status ExportStatus `gorm:"type:varchar(16);not null;default:PENDING" json:"status"`

	// Version is an optimistic-concurrency counter; every write to ChainStatus
	// is a compare-and-swap on it.
	Version int `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by ExportRequest to `export_requests`
func (ExportRequest) TableName() string {
	return "export_requests"
}

// BeforeCreate ensures UUID is generated if not present
func (e *ExportRequest) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}
