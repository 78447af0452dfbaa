/**
 * @description
 * Withdrawal database model.
 * Maps to the 'withdrawals' table in PostgreSQL.
 * Ownership of a withdrawal is derived through SmartAccountID -> user_id;
 * no owner field is duplicated here, so the two can never drift.
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

// WithdrawalStatus defines the state of a withdrawal
type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "PENDING"
	WithdrawalStatusProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalStatusCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalStatusCancelled  WithdrawalStatus = "CANCELLED"
	WithdrawalStatusFailed     WithdrawalStatus = "FAILED"
)

// TransferType defines whether a withdrawal executes immediately or after the hold period
type TransferType string

const (
	TransferTypeImmediate TransferType = "IMMEDIATE"
	TransferTypeDelayed   TransferType = "DELAYED"
)

// Withdrawal represents a transfer request out of a SmartAccount
type Withdrawal struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	SmartAccountID uuid.UUID `gorm:"type:uuid;not null;index:idx_withdrawals_account" json:"smart_account_id"`

	TokenAddress string `gorm:"type:varchar(42);not null" json:"token_address"`
	// Amount is an integer in the token's smallest unit, stored as a decimal
	// string. Never a floating-point type.
	Amount    string `gorm:"type:numeric(78,0);not null" json:"amount"`
	ToAddress string `gorm:"type:varchar(42);not null" json:"to_address"`

	Status       WithdrawalStatus `gorm:"type:varchar(16);not null;default:PENDING;index:idx_withdrawals_status" json:"status"`
	TransferType TransferType     `gorm:"type:varchar(16);not null" json:"transfer_type"`

	// AvailableAt = CreatedAt + hold period; set once at creation for DELAYED
	// withdrawals and immutable thereafter.
	AvailableAt *time.Time `gorm:"index:idx_withdrawals_available_at" json:"available_at,omitempty"`

	TxHash        string     `gorm:"type:varchar(66)" json:"tx_hash,omitempty"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by Withdrawal to `withdrawals`
func (Withdrawal) TableName() string {
	return "withdrawals"
}

// BeforeCreate ensures UUID is generated if not present
func (w *Withdrawal) BeforeCreate(tx *gorm.DB) (err error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return
}
