/**
 * @description
 * SmartAccount database model.
 * Maps to the 'smart_accounts' table in PostgreSQL.
 * One row per (user, chain); the composite unique index is the idempotency
 * boundary for provisioning and is load-bearing for correctness, not just a
 * data-quality aid.
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

// CustodyStatus defines who controls signing authority over an account
type CustodyStatus string

const (
	// CustodyStatusManaged means the platform holds signing authority
	CustodyStatusManaged CustodyStatus = "MANAGED"
	// CustodyStatusTransferring is the in-flight midpoint of a custody handover
	CustodyStatusTransferring CustodyStatus = "TRANSFERRING"
	// CustodyStatusSelfCustody means the user holds signing authority
	CustodyStatusSelfCustody CustodyStatus = "SELF_CUSTODY"
)

// SmartAccount represents a per-user, per-chain custodial smart account
type SmartAccount struct {
	ID      uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_smart_accounts_user_chain" json:"user_id"`
	ChainID int64     `gorm:"not null;uniqueIndex:idx_smart_accounts_user_chain" json:"chain_id"`
	Address string    `gorm:"type:varchar(42);not null" json:"address"`
	Salt    string    `gorm:"type:varchar(66);not null" json:"salt"`

	CustodyStatus CustodyStatus `gorm:"type:varchar(16);not null;default:MANAGED" json:"custody_status"`

	// OwnerAddress and CustodyTransferredAt are set together, only on entering SELF_CUSTODY
	OwnerAddress         string     `gorm:"type:varchar(42)" json:"owner_address,omitempty"`
	CustodyTransferredAt *time.Time `json:"custody_transferred_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by SmartAccount to `smart_accounts`
func (SmartAccount) TableName() string {
	return "smart_accounts"
}

// BeforeCreate ensures UUID is generated if not present
func (a *SmartAccount) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return
}
