/**
 * @description
 * Smart Account Service.
 * Handles the business logic for:
 * 1. Idempotent per-(user, chain) account provisioning.
 * 2. The custody transition saga (managed -> transferring -> self-custody)
 *    with compensating rollback when the external executor fails.
 * 3. Reconciliation of accounts stuck mid-transfer.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/jackc/pgconn
 * - backend/internal/models
 * - backend/internal/chains
 * - backend/internal/clock
 * - backend/internal/logger
 *
 * @notes
 * - No in-process locking anywhere: the unique index on (user_id, chain_id)
 *   and conditional UPDATEs guarded by the expected prior status are the only
 *   concurrency primitives.
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-wallet/backend/internal/chains"
	"github.com/custodia-wallet/backend/internal/clock"
	"github.com/custodia-wallet/backend/internal/logger"
	"github.com/custodia-wallet/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"gorm.io/gorm"
)

// CustodyExecutor is the external collaborator that performs the on-chain
// ownership handover. The saga calls it between BeginTransfer and
// CompleteTransfer/AbortTransfer.
type CustodyExecutor interface {
	ExecuteTransfer(ctx context.Context, account *models.SmartAccount, newOwner string) (txHash string, err error)
}

type AccountService struct {
	DB       *gorm.DB
	Registry *chains.Registry
	Executor CustodyExecutor
	Clock    clock.Clock
	Events   *EventPublisher
}

func NewAccountService(db *gorm.DB, registry *chains.Registry, executor CustodyExecutor, clk clock.Clock, events *EventPublisher) *AccountService {
	if clk == nil {
		clk = clock.System{}
	}
	return &AccountService{
		DB:       db,
		Registry: registry,
		Executor: executor,
		Clock:    clk,
		Events:   events,
	}
}

// Provision creates the smart account for (userID, chainID), or returns the
// existing one. Concurrent duplicate calls converge on a single canonical
// row: exactly one INSERT wins, the loser re-reads. Callers never need to
// pre-check existence, and the losing call's address/salt are discarded
// (first writer wins).
func (s *AccountService) Provision(ctx context.Context, userID uuid.UUID, chainID int64, address, salt string) (*models.SmartAccount, error) {
	if !s.Registry.Supported(chainID) {
		return nil, fmt.Errorf("%w: chain %d is not supported", ErrValidation, chainID)
	}
	if !chains.ValidAddress(address) {
		return nil, fmt.Errorf("%w: malformed account address %q", ErrValidation, address)
	}
	if !chains.ValidSalt(salt) {
		return nil, fmt.Errorf("%w: salt must be a 0x-prefixed 32-byte hex string", ErrValidation)
	}

	account := &models.SmartAccount{
		UserID:        userID,
		ChainID:       chainID,
		Address:       address,
		Salt:          salt,
		CustodyStatus: models.CustodyStatusManaged,
	}

	if err := s.DB.WithContext(ctx).Create(account).Error; err != nil {
		if isUniqueViolation(err) {
			// Success-by-idempotency: another writer got there first.
			var existing models.SmartAccount
			if err := s.DB.WithContext(ctx).
				Where("user_id = ? AND chain_id = ?", userID, chainID).
				First(&existing).Error; err != nil {
				return nil, fmt.Errorf("failed to load existing account after conflict: %w", err)
			}
			return &existing, nil
		}
		return nil, fmt.Errorf("failed to provision account: %w", err)
	}

	logger.Info("🆕 Provisioned smart account %s for user %s on chain %d", account.Address, userID, chainID)
	s.Events.Publish(ctx, "account.provisioned", account)
	return account, nil
}

// GetAccount returns one account owned by userID. Missing and not-owned are
// the same ErrNotFound.
func (s *AccountService) GetAccount(ctx context.Context, accountID, userID uuid.UUID) (*models.SmartAccount, error) {
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
	return &account, nil
}

// ListAccounts returns all accounts owned by userID, oldest first.
func (s *AccountService) ListAccounts(ctx context.Context, userID uuid.UUID) ([]models.SmartAccount, error) {
	var accounts []models.SmartAccount
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// BeginTransfer moves an account MANAGED -> TRANSFERRING. The second return
// is false when the account was not MANAGED (a concurrent saga already holds
// it, or it is already self-custody); the returned row reflects current state.
func (s *AccountService) BeginTransfer(ctx context.Context, accountID uuid.UUID) (*models.SmartAccount, bool, error) {
	return s.transition(ctx, accountID, models.CustodyStatusManaged, map[string]interface{}{
		"custody_status": models.CustodyStatusTransferring,
		"updated_at":     s.Clock.Now(),
	})
}

// CompleteTransfer moves an account TRANSFERRING -> SELF_CUSTODY, setting
// owner_address and custody_transferred_at in the same atomic update.
func (s *AccountService) CompleteTransfer(ctx context.Context, accountID uuid.UUID, newOwnerAddress string) (*models.SmartAccount, bool, error) {
	if !chains.ValidAddress(newOwnerAddress) {
		return nil, false, fmt.Errorf("%w: malformed owner address %q", ErrValidation, newOwnerAddress)
	}
	now := s.Clock.Now()
	return s.transition(ctx, accountID, models.CustodyStatusTransferring, map[string]interface{}{
		"custody_status":         models.CustodyStatusSelfCustody,
		"owner_address":          newOwnerAddress,
		"custody_transferred_at": now,
		"updated_at":             now,
	})
}

// AbortTransfer compensates a failed handover: TRANSFERRING -> MANAGED with
// owner fields cleared.
func (s *AccountService) AbortTransfer(ctx context.Context, accountID uuid.UUID) (*models.SmartAccount, bool, error) {
	return s.transition(ctx, accountID, models.CustodyStatusTransferring, map[string]interface{}{
		"custody_status":         models.CustodyStatusManaged,
		"owner_address":          "",
		"custody_transferred_at": gorm.Expr("NULL"),
		"updated_at":             s.Clock.Now(),
	})
}

// TransferCustody drives the full saga for one account:
// BeginTransfer -> external executor -> CompleteTransfer, with AbortTransfer
// as compensation when the executor reports failure. Each step is atomic and
// conditional; a crash between steps is recovered by ReleaseStuckTransfers.
func (s *AccountService) TransferCustody(ctx context.Context, accountID, userID uuid.UUID, newOwnerAddress string) (*models.SmartAccount, error) {
	if !chains.ValidAddress(newOwnerAddress) {
		return nil, fmt.Errorf("%w: malformed owner address %q", ErrValidation, newOwnerAddress)
	}

	account, err := s.GetAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}

	account, began, err := s.BeginTransfer(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if !began {
		// Not MANAGED: either a transfer is already in flight or custody has
		// already moved. Report current state, mutate nothing.
		return account, fmt.Errorf("%w: account is %s", ErrTransferFailed, account.CustodyStatus)
	}
	s.Events.Publish(ctx, "custody.transfer_started", account)

	txHash, execErr := s.Executor.ExecuteTransfer(ctx, account, newOwnerAddress)
	if execErr != nil {
		logger.Error("Custody transfer for account %s failed, reverting: %v", account.ID, execErr)
		reverted, _, abortErr := s.AbortTransfer(ctx, account.ID)
		if abortErr != nil {
			return nil, fmt.Errorf("executor failed (%v) and revert also failed: %w", execErr, abortErr)
		}
		s.Events.Publish(ctx, "custody.transfer_aborted", reverted)
		return reverted, fmt.Errorf("%w: %v", ErrTransferFailed, execErr)
	}

	completed, _, err := s.CompleteTransfer(ctx, account.ID, newOwnerAddress)
	if err != nil {
		return nil, err
	}
	logger.Info("✅ Account %s is now self-custody (owner %s, tx %s)", account.ID, newOwnerAddress, txHash)
	s.Events.Publish(ctx, "custody.transfer_completed", completed)
	return completed, nil
}

// ReleaseStuckTransfers reverts accounts that have sat in TRANSFERRING longer
// than olderThan back to MANAGED. This is the reconciliation half of the
// saga: a crash between BeginTransfer and its compensating call leaves the
// row stuck, and only this sweep can free it. Returns how many were released.
func (s *AccountService) ReleaseStuckTransfers(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.Clock.Now().Add(-olderThan)
	res := s.DB.WithContext(ctx).Model(&models.SmartAccount{}).
		Where("custody_status = ? AND updated_at < ?", models.CustodyStatusTransferring, cutoff).
		Updates(map[string]interface{}{
			"custody_status": models.CustodyStatusManaged,
			"owner_address":  "",
			"updated_at":     s.Clock.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to release stuck transfers: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logger.Info("♻️ Released %d account(s) stuck in TRANSFERRING for over %s", res.RowsAffected, olderThan)
	}
	return res.RowsAffected, nil
}

// transition performs one conditional custody-status update and re-reads the
// row. moved=false means the predicate matched zero rows: a concurrent actor
// already advanced the state, which is a no-op for the caller, not an error.
func (s *AccountService) transition(ctx context.Context, accountID uuid.UUID, from models.CustodyStatus, updates map[string]interface{}) (*models.SmartAccount, bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.SmartAccount{}).
		Where("id = ? AND custody_status = ?", accountID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, false, fmt.Errorf("custody transition failed: %w", res.Error)
	}

	var account models.SmartAccount
	if err := s.DB.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("failed to reload account: %w", err)
	}
	return &account, res.RowsAffected == 1, nil
}

// isUniqueViolation detects a uniqueness-constraint rejection from either the
// GORM error translator or the raw Postgres error code.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}
