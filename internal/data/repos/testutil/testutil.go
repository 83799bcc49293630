// Package testutil provides shared fixtures for repository integration
// tests. Tests that need a database are gated on TEST_POSTGRES_DSN and run
// inside a transaction that is rolled back when the test finishes.
package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/artemmail/scriptor-sub002/internal/data/db"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

var (
	openOnce sync.Once
	shared   *gorm.DB
	openErr  error
)

// DB returns a migrated database handle, skipping the test when
// TEST_POSTGRES_DSN is not set.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping integration test")
	}
	openOnce.Do(func() {
		shared, openErr = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
			TranslateError: true,
		})
		if openErr != nil {
			return
		}
		openErr = db.AutoMigrateAll(shared)
	})
	if openErr != nil {
		t.Fatalf("open test database: %v", openErr)
	}
	return shared
}

// Tx begins a transaction that is rolled back when the test ends, so tests
// never see each other's rows.
func Tx(t *testing.T) dbctx.Context {
	t.Helper()
	tx := DB(t).Begin()
	if tx.Error != nil {
		t.Fatalf("begin tx: %v", tx.Error)
	}
	t.Cleanup(func() { tx.Rollback() })
	return dbctx.Context{Ctx: context.Background(), Tx: tx}
}

// Logger returns a quiet logger for repository construction in tests.
func Logger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New("production")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return l
}

// SeedJob inserts a minimal job owned by userID and returns it.
func SeedJob(t *testing.T, dbc dbctx.Context, userID uuid.UUID, kind types.JobKind, status types.JobStatus) *types.Job {
	t.Helper()
	job := &types.Job{
		ID:          uuid.New(),
		OwnerUserID: userID,
		Kind:        kind,
		SourceRef:   "src-" + uuid.NewString(),
		Status:      status,
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

// SeedWallet inserts a wallet with the given balance.
func SeedWallet(t *testing.T, dbc dbctx.Context, userID uuid.UUID, balanceCents int64) *types.Wallet {
	t.Helper()
	w := &types.Wallet{
		ID:           uuid.New(),
		UserID:       userID,
		BalanceCents: balanceCents,
		Currency:     "USD",
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(w).Error; err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	return w
}

// SeedPackage inserts a subscription package expiring at expiresAt.
func SeedPackage(t *testing.T, dbc dbctx.Context, userID uuid.UUID, minutes, videos int, expiresAt time.Time) *types.SubscriptionPackage {
	t.Helper()
	pkg := &types.SubscriptionPackage{
		ID:               uuid.New(),
		UserID:           userID,
		RemainingMinutes: minutes,
		RemainingVideos:  videos,
		ExpiresAt:        expiresAt,
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(pkg).Error; err != nil {
		t.Fatalf("seed package: %v", err)
	}
	return pkg
}
