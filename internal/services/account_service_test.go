package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodia-wallet/backend/internal/clock"
	"github.com/custodia-wallet/backend/internal/models"
)

func newAccountService(t *testing.T, executor *fakeExecutor, clk clock.Clock) (*AccountService, *models.User) {
	t.Helper()
	db := newTestDB(t)
	user := newTestUser(t, db, "user_account_test")
	if executor == nil {
		executor = &fakeExecutor{}
	}
	return NewAccountService(db, testRegistry(), executor, clk, nil), user
}

func TestProvisionIsIdempotent(t *testing.T) {
	svc, user := newAccountService(t, nil, nil)
	ctx := context.Background()

	first, err := svc.Provision(ctx, user.ID, 1, testAddress, testSalt)
	if err != nil {
		t.Fatalf("first provision failed: %v", err)
	}

	// Second call with a different address/salt must return the original row:
	// the first writer wins and the loser's inputs are discarded.
	second, err := svc.Provision(ctx, user.ID, 1, testAddress2, testSalt2)
	if err != nil {
		t.Fatalf("second provision failed: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected the same account, got %s and %s", first.ID, second.ID)
	}
	if second.Address != testAddress {
		t.Fatalf("expected first writer's address %s, got %s", testAddress, second.Address)
	}

	var count int64
	if err := svc.DB.Model(&models.SmartAccount{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}

func TestProvisionDifferentChainsCreatesSeparateAccounts(t *testing.T) {
	svc, user := newAccountService(t, nil, nil)
	ctx := context.Background()

	a, err := svc.Provision(ctx, user.ID, 1, testAddress, testSalt)
	if err != nil {
		t.Fatalf("provision on chain 1 failed: %v", err)
	}
	b, err := svc.Provision(ctx, user.ID, 8453, testAddress2, testSalt2)
	if err != nil {
		t.Fatalf("provision on chain 8453 failed: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("expected distinct accounts per chain")
	}
}

func TestProvisionValidation(t *testing.T) {
	svc, user := newAccountService(t, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name    string
		chainID int64
		address string
		salt    string
	}{
		{"unsupported chain", 999999, testAddress, testSalt},
		{"malformed address", 1, "not-an-address", testSalt},
		{"short salt", 1, testAddress, "0x01"},
		{"salt without prefix", 1, testAddress, "0000000000000000000000000000000000000000000000000000000000000001"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Provision(ctx, user.ID, tc.chainID, tc.address, tc.salt)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	var count int64
	if err := svc.DB.Model(&models.SmartAccount{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("validation failures must not write rows, found %d", count)
	}
}

func TestCustodySagaHappyPath(t *testing.T) {
	executor := &fakeExecutor{}
	svc, user := newAccountService(t, executor, nil)
	ctx := context.Background()
	account := provisionAccount(t, svc, user.ID, 1)

	result, err := svc.TransferCustody(ctx, account.ID, user.ID, testOwner)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if result.CustodyStatus != models.CustodyStatusSelfCustody {
		t.Fatalf("expected SELF_CUSTODY, got %s", result.CustodyStatus)
	}
	if result.OwnerAddress != testOwner {
		t.Fatalf("expected owner %s, got %s", testOwner, result.OwnerAddress)
	}
	if result.CustodyTransferredAt == nil {
		t.Fatal("expected custody_transferred_at to be set")
	}
	if executor.calls != 1 {
		t.Fatalf("expected one executor call, got %d", executor.calls)
	}
}

func TestCustodySagaRevertsOnExecutorFailure(t *testing.T) {
	executor := &fakeExecutor{err: errors.New("chain congested")}
	svc, user := newAccountService(t, executor, nil)
	ctx := context.Background()
	account := provisionAccount(t, svc, user.ID, 1)

	result, err := svc.TransferCustody(ctx, account.ID, user.ID, testOwner)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	// The account must be observed back in MANAGED, never stuck in TRANSFERRING.
	if result.CustodyStatus != models.CustodyStatusManaged {
		t.Fatalf("expected MANAGED after revert, got %s", result.CustodyStatus)
	}
	if result.OwnerAddress != "" {
		t.Fatalf("expected owner unset after revert, got %s", result.OwnerAddress)
	}
	if result.CustodyTransferredAt != nil {
		t.Fatal("expected custody_transferred_at unset after revert")
	}
}

func TestBeginTransferIsConditional(t *testing.T) {
	svc, user := newAccountService(t, nil, nil)
	ctx := context.Background()
	account := provisionAccount(t, svc, user.ID, 1)

	_, began, err := svc.BeginTransfer(ctx, account.ID)
	if err != nil || !began {
		t.Fatalf("first begin should succeed, got began=%v err=%v", began, err)
	}

	// A second begin matches zero rows: the state already moved.
	current, began, err := svc.BeginTransfer(ctx, account.ID)
	if err != nil {
		t.Fatalf("second begin errored: %v", err)
	}
	if began {
		t.Fatal("second begin must be a no-op")
	}
	if current.CustodyStatus != models.CustodyStatusTransferring {
		t.Fatalf("expected TRANSFERRING, got %s", current.CustodyStatus)
	}
}

func TestCompleteTransferRequiresTransferring(t *testing.T) {
	svc, user := newAccountService(t, nil, nil)
	ctx := context.Background()
	account := provisionAccount(t, svc, user.ID, 1)

	current, moved, err := svc.CompleteTransfer(ctx, account.ID, testOwner)
	if err != nil {
		t.Fatalf("complete errored: %v", err)
	}
	if moved {
		t.Fatal("complete from MANAGED must be a no-op")
	}
	if current.CustodyStatus != models.CustodyStatusManaged {
		t.Fatalf("expected MANAGED untouched, got %s", current.CustodyStatus)
	}
}

func TestTransferCustodyWrongUser(t *testing.T) {
	svc, user := newAccountService(t, nil, nil)
	ctx := context.Background()
	account := provisionAccount(t, svc, user.ID, 1)

	other := newTestUser(t, svc.DB, "user_account_other")
	_, err := svc.TransferCustody(ctx, account.ID, other.ID, testOwner)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-owner, got %v", err)
	}
}

func TestReleaseStuckTransfers(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewMock(start)
	svc, user := newAccountService(t, nil, clk)
	ctx := context.Background()
	account := provisionAccount(t, svc, user.ID, 1)

	if _, began, err := svc.BeginTransfer(ctx, account.ID); err != nil || !began {
		t.Fatalf("begin failed: began=%v err=%v", began, err)
	}

	// Not yet past the timeout: nothing to release.
	clk.Advance(30 * time.Minute)
	released, err := svc.ReleaseStuckTransfers(ctx, time.Hour)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected no releases before timeout, got %d", released)
	}

	// Past the timeout: the stuck account reverts to MANAGED.
	clk.Advance(45 * time.Minute)
	released, err = svc.ReleaseStuckTransfers(ctx, time.Hour)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected one release, got %d", released)
	}

	current, err := svc.GetAccount(ctx, account.ID, user.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if current.CustodyStatus != models.CustodyStatusManaged {
		t.Fatalf("expected MANAGED after reconciliation, got %s", current.CustodyStatus)
	}
}
