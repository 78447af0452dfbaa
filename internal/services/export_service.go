/**
 * @description
 * Multi-Chain Export Orchestrator.
 * Coordinates moving account ownership to a new owner address across N
 * chains, tracking a per-chain status map, aggregating an overall status,
 * and supporting retry of only the chains that failed.
 *
 * @dependencies
 * - gorm.io/gorm
 * - backend/internal/models
 * - backend/internal/chains
 * - backend/internal/logger
 *
 * @notes
 * - The chain status map lives in one JSON column, so "update one entry
 *   without touching the others" is a compare-and-swap on a version counter.
 *   Same optimistic discipline as every other write in the core, no row locks.
 * - The aggregate status is recomputed from the full map on every write; it
 *   is a pure function of the multiset of per-chain statuses, so results may
 *   arrive in any order.
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/custodia-wallet/backend/internal/chains"
	"github.com/custodia-wallet/backend/internal/logger"
	"github.com/custodia-wallet/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// casMaxRetries bounds the compare-and-swap loop on the chain status map.
const casMaxRetries = 5

// OwnershipBroadcaster is the external per-chain collaborator that puts the
// ownership change on chain. Failures are recorded per chain, never cascaded.
type OwnershipBroadcaster interface {
	BroadcastOwnershipChange(ctx context.Context, chainID int64, accountAddress, newOwner string) (txHash string, err error)
}

// ExportEligibility is the answer to a CanExport check
type ExportEligibility struct {
	Allowed  bool                `json:"allowed"`
	Blockers []models.Withdrawal `json:"blockers"`
}

type ExportService struct {
	DB          *gorm.DB
	Registry    *chains.Registry
	Broadcaster OwnershipBroadcaster
	Events      *EventPublisher
}

func NewExportService(db *gorm.DB, registry *chains.Registry, broadcaster OwnershipBroadcaster, events *EventPublisher) *ExportService {
	return &ExportService{
		DB:          db,
		Registry:    registry,
		Broadcaster: broadcaster,
		Events:      events,
	}
}

// CanExport reports whether the user may export right now. Exporting is
// blocked while any of the user's withdrawals is PENDING or PROCESSING. The
// check is advisory: nothing is locked, and CreateExport re-verifies it.
func (s *ExportService) CanExport(ctx context.Context, userID uuid.UUID) (*ExportEligibility, error) {
	var blockers []models.Withdrawal
	err := s.DB.WithContext(ctx).
		Joins("JOIN smart_accounts ON smart_accounts.id = withdrawals.smart_account_id").
		Where("smart_accounts.user_id = ? AND withdrawals.status IN ?",
			userID, []models.WithdrawalStatus{models.WithdrawalStatusPending, models.WithdrawalStatusProcessing}).
		Find(&blockers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check export blockers: %w", err)
	}
	return &ExportEligibility{Allowed: len(blockers) == 0, Blockers: blockers}, nil
}

// CreateExport opens an export request for the given chains with every chain
// entry initialized to PENDING. The user must have a provisioned account on
// each requested chain, and no active withdrawals anywhere.
func (s *ExportService) CreateExport(ctx context.Context, userID uuid.UUID, newOwnerAddress string, chainIDs []int64) (*models.ExportRequest, error) {
	if !chains.ValidAddress(newOwnerAddress) {
		return nil, fmt.Errorf("%w: malformed owner address %q", ErrValidation, newOwnerAddress)
	}
	if len(chainIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one chain is required", ErrValidation)
	}

	ids := dedupeChainIDs(chainIDs)
	for _, id := range ids {
		if !s.Registry.Supported(id) {
			return nil, fmt.Errorf("%w: chain %d is not supported", ErrValidation, id)
		}
	}

	// The user must actually have an account on every requested chain.
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.SmartAccount{}).
		Where("user_id = ? AND chain_id IN ?", userID, ids).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to verify accounts: %w", err)
	}
	if count != int64(len(ids)) {
		return nil, fmt.Errorf("%w: no smart account on one or more requested chains", ErrValidation)
	}

	// Re-verify the withdrawal blocker check at commit time; an advisory
	// CanExport answer may have gone stale.
	eligibility, err := s.CanExport(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !eligibility.Allowed {
		return nil, fmt.Errorf("%w: %d active withdrawal(s)", ErrExportBlocked, len(eligibility.Blockers))
	}

	chainStatus := make(models.ChainStatusMap, len(ids))
	for _, id := range ids {
		chainStatus[id] = models.ChainResult{Status: models.ChainResultPending}
	}

	export := &models.ExportRequest{
		UserID:          userID,
		NewOwnerAddress: newOwnerAddress,
		ChainIDs:        ids,
		ChainStatus:     chainStatus,
		Status:          models.ExportStatusPending,
	}
	if err := s.DB.WithContext(ctx).Create(export).Error; err != nil {
		return nil, fmt.Errorf("failed to create export request: %w", err)
	}

	logger.Info("📦 Export %s created for user %s across chains %v", export.ID, userID, ids)
	s.Events.Publish(ctx, "export.created", export)
	return export, nil
}

// Get returns one export request owned by userID.
func (s *ExportService) Get(ctx context.Context, exportID, userID uuid.UUID) (*models.ExportRequest, error) {
	var export models.ExportRequest
	err := s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", exportID, userID).
		First(&export).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch export: %w", err)
	}
	return &export, nil
}

// Execute broadcasts the ownership change for every still-pending chain of a
// PENDING export, feeding each outcome through RecordChainResult. Chains fail
// independently; one chain's error never touches its siblings.
func (s *ExportService) Execute(ctx context.Context, exportID, userID uuid.UUID) (*models.ExportRequest, error) {
	export, err := s.Get(ctx, exportID, userID)
	if err != nil {
		return nil, err
	}

	// PENDING -> PROCESSING, conditional. Losing the race (already started,
	// or cancelled) is a no-op.
	res := s.DB.WithContext(ctx).Model(&models.ExportRequest{}).
		Where("id = ? AND status = ?", export.ID, models.ExportStatusPending).
		Updates(map[string]interface{}{
			"status":  models.ExportStatusProcessing,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to start export: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return export, nil
	}

	for _, chainID := range export.ChainIDs {
		if entry, ok := export.ChainStatus[chainID]; ok && entry.Status != models.ChainResultPending {
			continue
		}
		if err := s.broadcastChain(ctx, export, chainID); err != nil {
			return nil, err
		}
	}

	return s.Get(ctx, exportID, userID)
}

// RecordChainResult merges one chain's outcome into the status map without
// touching any other entry, then recomputes the aggregate status from the
// full map. Compare-and-swap on the version column; retried on conflict.
func (s *ExportService) RecordChainResult(ctx context.Context, exportID uuid.UUID, chainID int64, result models.ChainResult) (*models.ExportRequest, error) {
	for attempt := 0; attempt < casMaxRetries; attempt++ {
		var export models.ExportRequest
		if err := s.DB.WithContext(ctx).First(&export, "id = ?", exportID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to load export: %w", err)
		}

		// Cancelled is a user-driven terminal state; late results are dropped.
		if export.Status == models.ExportStatusCancelled {
			return &export, nil
		}
		if _, ok := export.ChainStatus[chainID]; !ok {
			return nil, fmt.Errorf("%w: chain %d is not part of export %s", ErrValidation, chainID, exportID)
		}

		next := make(models.ChainStatusMap, len(export.ChainStatus))
		for k, v := range export.ChainStatus {
			next[k] = v
		}
		next[chainID] = result

		update := models.ExportRequest{
			ChainStatus: next,
			Status:      aggregateStatus(next),
			Version:     export.Version + 1,
		}
		res := s.DB.WithContext(ctx).Model(&models.ExportRequest{}).
			Where("id = ? AND version = ?", export.ID, export.Version).
			Select("chain_status", "status", "version").
			Updates(update)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to record chain result: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			export.ChainStatus = next
			export.Status = update.Status
			export.Version = update.Version
			s.Events.Publish(ctx, "export.chain_updated", map[string]interface{}{
				"export_id": export.ID,
				"chain_id":  chainID,
				"result":    result,
				"status":    export.Status,
			})
			return &export, nil
		}
		// Lost the swap to a concurrent writer; reload and retry.
	}
	return nil, ErrConcurrentUpdate
}

// RetryFailedChains re-broadcasts only the chains whose last attempt failed.
// Completed chains are never re-broadcast. Returns the chain IDs retried.
func (s *ExportService) RetryFailedChains(ctx context.Context, exportID, userID uuid.UUID) ([]int64, error) {
	export, err := s.Get(ctx, exportID, userID)
	if err != nil {
		return nil, err
	}

	var failed []int64
	for chainID, entry := range export.ChainStatus {
		if entry.Status == models.ChainResultFailed {
			failed = append(failed, chainID)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	if len(failed) == 0 {
		return nil, nil
	}

	// Reset the failed entries to PENDING first so a crash mid-retry is
	// visible in the map rather than silently lost.
	for _, chainID := range failed {
		if _, err := s.RecordChainResult(ctx, exportID, chainID, models.ChainResult{Status: models.ChainResultPending}); err != nil {
			return nil, err
		}
	}

	logger.Info("🔁 Retrying %d failed chain(s) for export %s: %v", len(failed), exportID, failed)
	for _, chainID := range failed {
		if err := s.broadcastChain(ctx, export, chainID); err != nil {
			return nil, err
		}
	}
	return failed, nil
}

// CancelExport cancels an export on behalf of userID. Allowed only while the
// aggregate status is still PENDING; once any chain has begun processing,
// cancellation is refused. Same boolean contract as withdrawal cancel.
func (s *ExportService) CancelExport(ctx context.Context, exportID, userID uuid.UUID) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.ExportRequest{}).
		Where("id = ? AND user_id = ? AND status = ?", exportID, userID, models.ExportStatusPending).
		Updates(map[string]interface{}{
			"status":  models.ExportStatusCancelled,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to cancel export: %w", res.Error)
	}

	cancelled := res.RowsAffected == 1
	if cancelled {
		logger.Info("🚫 Export %s cancelled by user %s", exportID, userID)
		s.Events.Publish(ctx, "export.cancelled", map[string]string{"id": exportID.String()})
	}
	return cancelled, nil
}

// broadcastChain performs one chain's ownership broadcast and records the
// outcome. Broadcast errors are recorded as data, not returned.
func (s *ExportService) broadcastChain(ctx context.Context, export *models.ExportRequest, chainID int64) error {
	var account models.SmartAccount
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND chain_id = ?", export.UserID, chainID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_, recErr := s.RecordChainResult(ctx, export.ID, chainID, models.ChainResult{
				Status: models.ChainResultFailed,
				Error:  "no smart account on chain",
			})
			return recErr
		}
		return fmt.Errorf("failed to fetch account for chain %d: %w", chainID, err)
	}

	txHash, err := s.Broadcaster.BroadcastOwnershipChange(ctx, chainID, account.Address, export.NewOwnerAddress)
	if err != nil {
		logger.Error("Broadcast on chain %d failed for export %s: %v", chainID, export.ID, err)
		_, recErr := s.RecordChainResult(ctx, export.ID, chainID, models.ChainResult{
			Status: models.ChainResultFailed,
			Error:  err.Error(),
		})
		return recErr
	}

	_, recErr := s.RecordChainResult(ctx, export.ID, chainID, models.ChainResult{
		Status: models.ChainResultCompleted,
		TxHash: txHash,
	})
	return recErr
}

// aggregateStatus derives the overall status from the chain map: every chain
// completed -> COMPLETED; some but not all completed -> PARTIAL; otherwise
// PROCESSING. Order-independent by construction.
func aggregateStatus(chainStatus models.ChainStatusMap) models.ExportStatus {
	completed := 0
	for _, entry := range chainStatus {
		if entry.Status == models.ChainResultCompleted {
			completed++
		}
	}
	switch {
	case len(chainStatus) > 0 && completed == len(chainStatus):
		return models.ExportStatusCompleted
	case completed > 0:
		return models.ExportStatusPartial
	default:
		return models.ExportStatusProcessing
	}
}

func dedupeChainIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
