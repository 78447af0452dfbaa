package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/custodia-wallet/backend/internal/chains"
	"github.com/custodia-wallet/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// newTestDB opens an in-memory SQLite database with the full schema.
// TranslateError is on so unique violations surface as gorm.ErrDuplicatedKey,
// same as the Postgres setup in internal/db.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// A single connection keeps every query on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{},
		&models.SmartAccount{},
		&models.Withdrawal{},
		&models.ExportRequest{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestUser(t *testing.T, db *gorm.DB, clerkID string) *models.User {
	t.Helper()
	user := &models.User{ClerkID: clerkID, Email: clerkID + "@example.com"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func testRegistry() *chains.Registry {
	return chains.NewRegistry([]int64{1, 10, 137, 8453, 42161})
}

const (
	testAddress  = "0x52908400098527886E0F7030069857D2E4169EE7"
	testAddress2 = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
	testOwner    = "0xde709f2102306220921060314715629080e2fb77"
	testToken    = "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"
	testSalt     = "0x0000000000000000000000000000000000000000000000000000000000000001"
	testSalt2    = "0x0000000000000000000000000000000000000000000000000000000000000002"
)

// fakeExecutor stands in for the external custody transfer executor.
type fakeExecutor struct {
	mu     sync.Mutex
	err    error
	txHash string
	calls  int
}

func (f *fakeExecutor) ExecuteTransfer(ctx context.Context, account *models.SmartAccount, newOwner string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.txHash == "" {
		return "0xtransfer", nil
	}
	return f.txHash, nil
}

// fakeBroadcaster stands in for the external per-chain ownership broadcaster.
// failChains maps chain ID -> error message for chains that should fail.
type fakeBroadcaster struct {
	mu         sync.Mutex
	failChains map[int64]string
	calls      []int64
}

func (f *fakeBroadcaster) BroadcastOwnershipChange(ctx context.Context, chainID int64, accountAddress, newOwner string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chainID)
	if msg, ok := f.failChains[chainID]; ok {
		return "", fmt.Errorf("%s", msg)
	}
	return fmt.Sprintf("0xbroadcast-%d", chainID), nil
}

func (f *fakeBroadcaster) callsFor(chainID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == chainID {
			n++
		}
	}
	return n
}

// fakeWithdrawalExecutor stands in for the relayer's withdrawal execution.
type fakeWithdrawalExecutor struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeWithdrawalExecutor) ExecuteWithdrawal(ctx context.Context, w *models.Withdrawal, accountAddress string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "0xexecuted", nil
}

func provisionAccount(t *testing.T, svc *AccountService, userID uuid.UUID, chainID int64) *models.SmartAccount {
	t.Helper()
	account, err := svc.Provision(context.Background(), userID, chainID, testAddress, testSalt)
	if err != nil {
		t.Fatalf("failed to provision account: %v", err)
	}
	return account
}
