/**
 * @description
 * Withdrawal Engine.
 * Creates, holds, lists "ready", cancels, and finalizes withdrawals out of
 * smart accounts. Delayed withdrawals carry a mandatory 7-day hold before
 * they become eligible for execution; during the hold the owner may cancel.
 *
 * @dependencies
 * - gorm.io/gorm
 * - backend/internal/models
 * - backend/internal/chains
 * - backend/internal/clock
 * - backend/internal/logger
 *
 * @notes
 * - Every state transition is a conditional UPDATE guarded by the expected
 *   prior status. Zero rows affected means a concurrent actor already moved
 *   the state; callers treat that as a benign no-op, never an error.
 * - Cancel folds the ownership predicate into the same UPDATE, so "not
 *   pending" and "not yours" are indistinguishable from outside (IDOR
 *   hardening).
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/custodia-wallet/backend/internal/chains"
	"github.com/custodia-wallet/backend/internal/clock"
	"github.com/custodia-wallet/backend/internal/logger"
	"github.com/custodia-wallet/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HoldPeriod is the mandatory wait between creating a delayed withdrawal and
// its eligibility for execution.
const HoldPeriod = 7 * 24 * time.Hour

type WithdrawalService struct {
	DB     *gorm.DB
	Clock  clock.Clock
	Events *EventPublisher
}

func NewWithdrawalService(db *gorm.DB, clk clock.Clock, events *EventPublisher) *WithdrawalService {
	if clk == nil {
		clk = clock.System{}
	}
	return &WithdrawalService{
		DB:     db,
		Clock:  clk,
		Events: events,
	}
}

// Create opens a withdrawal out of one of userID's accounts. amount must be a
// positive integer in the token's smallest unit. DELAYED withdrawals get
// available_at = created_at + HoldPeriod, fixed at creation and immutable
// thereafter.
func (s *WithdrawalService) Create(ctx context.Context, userID, accountID uuid.UUID, tokenAddress, amount, toAddress string, transferType models.TransferType) (*models.Withdrawal, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if !chains.ValidAddress(tokenAddress) {
		return nil, fmt.Errorf("%w: malformed token address %q", ErrValidation, tokenAddress)
	}
	if !chains.ValidAddress(toAddress) {
		return nil, fmt.Errorf("%w: malformed destination address %q", ErrValidation, toAddress)
	}
	if transferType != models.TransferTypeImmediate && transferType != models.TransferTypeDelayed {
		return nil, fmt.Errorf("%w: unknown transfer type %q", ErrValidation, transferType)
	}

	// Ownership check: the account must belong to the requesting user.
	var account models.SmartAccount
	err := s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", accountID, userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}

	now := s.Clock.Now()
	withdrawal := &models.Withdrawal{
		SmartAccountID: account.ID,
		TokenAddress:   tokenAddress,
		Amount:         amount,
		ToAddress:      toAddress,
		Status:         models.WithdrawalStatusPending,
		TransferType:   transferType,
		CreatedAt:      now,
	}
	if transferType == models.TransferTypeDelayed {
		availableAt := now.Add(HoldPeriod)
		withdrawal.AvailableAt = &availableAt
	}

	if err := s.DB.WithContext(ctx).Create(withdrawal).Error; err != nil {
		return nil, fmt.Errorf("failed to create withdrawal: %w", err)
	}

	logger.Info("💸 Withdrawal %s created from account %s (%s, %s)", withdrawal.ID, account.ID, amount, transferType)
	s.Events.Publish(ctx, "withdrawal.created", withdrawal)
	return withdrawal, nil
}

// Get returns one withdrawal if the requester owns it (via the account join).
func (s *WithdrawalService) Get(ctx context.Context, withdrawalID, userID uuid.UUID) (*models.Withdrawal, error) {
	var withdrawal models.Withdrawal
	err := s.DB.WithContext(ctx).
		Joins("JOIN smart_accounts ON smart_accounts.id = withdrawals.smart_account_id").
		Where("withdrawals.id = ? AND smart_accounts.user_id = ?", withdrawalID, userID).
		First(&withdrawal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch withdrawal: %w", err)
	}
	return &withdrawal, nil
}

// ListForUser returns all withdrawals across the user's accounts, newest first.
func (s *WithdrawalService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Withdrawal, error) {
	var withdrawals []models.Withdrawal
	err := s.DB.WithContext(ctx).
		Joins("JOIN smart_accounts ON smart_accounts.id = withdrawals.smart_account_id").
		Where("smart_accounts.user_id = ?", userID).
		Order("withdrawals.created_at desc").
		Find(&withdrawals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	return withdrawals, nil
}

// ListReady returns withdrawals eligible for execution as of now: every
// pending IMMEDIATE withdrawal, plus delayed ones whose hold has matured.
// Read-only and non-blocking; this is what the sweep scheduler polls.
func (s *WithdrawalService) ListReady(ctx context.Context, now time.Time) ([]models.Withdrawal, error) {
	var withdrawals []models.Withdrawal
	err := s.DB.WithContext(ctx).
		Where("status = ?", models.WithdrawalStatusPending).
		Where("transfer_type = ? OR (available_at IS NOT NULL AND available_at <= ?)",
			models.TransferTypeImmediate, now).
		Order("created_at asc").
		Find(&withdrawals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ready withdrawals: %w", err)
	}
	return withdrawals, nil
}

// MarkProcessing claims a withdrawal: PENDING -> PROCESSING. Returns false
// when another actor already claimed or cancelled it; at most one concurrent
// caller ever gets true for a given withdrawal.
func (s *WithdrawalService) MarkProcessing(ctx context.Context, withdrawalID uuid.UUID) (bool, error) {
	moved, err := s.transition(ctx, withdrawalID, models.WithdrawalStatusPending, map[string]interface{}{
		"status": models.WithdrawalStatusProcessing,
	})
	if moved {
		s.Events.Publish(ctx, "withdrawal.processing", idPayload(withdrawalID))
	}
	return moved, err
}

// MarkCompleted finalizes a withdrawal: PROCESSING -> COMPLETED, recording the
// transaction hash and execution time.
func (s *WithdrawalService) MarkCompleted(ctx context.Context, withdrawalID uuid.UUID, txHash string) (bool, error) {
	moved, err := s.transition(ctx, withdrawalID, models.WithdrawalStatusProcessing, map[string]interface{}{
		"status":      models.WithdrawalStatusCompleted,
		"tx_hash":     txHash,
		"executed_at": s.Clock.Now(),
	})
	if moved {
		s.Events.Publish(ctx, "withdrawal.completed", map[string]string{"id": withdrawalID.String(), "tx_hash": txHash})
	}
	return moved, err
}

// MarkFailed records an execution failure: PROCESSING -> FAILED.
func (s *WithdrawalService) MarkFailed(ctx context.Context, withdrawalID uuid.UUID, reason string) (bool, error) {
	moved, err := s.transition(ctx, withdrawalID, models.WithdrawalStatusProcessing, map[string]interface{}{
		"status":         models.WithdrawalStatusFailed,
		"failure_reason": reason,
	})
	if moved {
		s.Events.Publish(ctx, "withdrawal.failed", map[string]string{"id": withdrawalID.String(), "reason": reason})
	}
	return moved, err
}

// Cancel cancels a pending withdrawal on behalf of requestingUserID. One
// conditional UPDATE carries both the status guard and the ownership
// predicate, so a false return deliberately does not distinguish "already
// processing" from "not yours".
func (s *WithdrawalService) Cancel(ctx context.Context, withdrawalID, requestingUserID uuid.UUID) (bool, error) {
	ownedAccounts := s.DB.Model(&models.SmartAccount{}).
		Select("id").
		Where("user_id = ?", requestingUserID)

	res := s.DB.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", withdrawalID, models.WithdrawalStatusPending).
		Where("smart_account_id IN (?)", ownedAccounts).
		Updates(map[string]interface{}{
			"status": models.WithdrawalStatusCancelled,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to cancel withdrawal: %w", res.Error)
	}

	cancelled := res.RowsAffected == 1
	if cancelled {
		logger.Info("🚫 Withdrawal %s cancelled by user %s", withdrawalID, requestingUserID)
		s.Events.Publish(ctx, "withdrawal.cancelled", idPayload(withdrawalID))
	}
	return cancelled, nil
}

// transition performs one conditional status update. Zero rows affected is
// reported as moved=false, never as an error.
func (s *WithdrawalService) transition(ctx context.Context, withdrawalID uuid.UUID, from models.WithdrawalStatus, updates map[string]interface{}) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", withdrawalID, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("withdrawal transition failed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// validateAmount enforces a positive base-10 integer with no sign or
// fractional part. Amounts are smallest-unit integers end to end.
func validateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("%w: amount is required", ErrValidation)
	}
	for _, r := range amount {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: amount must be a positive integer in the token's smallest unit", ErrValidation)
		}
	}
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok || n.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be a positive integer in the token's smallest unit", ErrValidation)
	}
	return nil
}

func idPayload(id uuid.UUID) map[string]string {
	return map[string]string{"id": id.String()}
}
