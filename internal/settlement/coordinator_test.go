package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/artemmail/scriptor-sub002/internal/data/repos/billing"
	"github.com/artemmail/scriptor-sub002/internal/data/repos/jobs"
	"github.com/artemmail/scriptor-sub002/internal/data/repos/testutil"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
)

// Settlement runs in its own transaction, so these tests commit real rows
// and clean them up per user id.
func testCoordinator(t *testing.T) (*Coordinator, *gorm.DB) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	c := NewCoordinator(db,
		jobs.NewJobRepo(db, log),
		billing.NewWalletRepo(db, log),
		billing.NewPackageRepo(db, log),
		billing.NewUsageRepo(db, log),
		log)
	return c, db
}

func cleanupUser(t *testing.T, db *gorm.DB, userID uuid.UUID) {
	t.Helper()
	t.Cleanup(func() {
		db.Where("owner_user_id = ?", userID).Delete(&types.Job{})
		db.Where("user_id = ?", userID).Delete(&types.WalletTransaction{})
		db.Where("user_id = ?", userID).Delete(&types.Wallet{})
		db.Where("user_id = ?", userID).Delete(&types.SubscriptionPackage{})
		db.Where("user_id = ?", userID).Delete(&types.UsageRecord{})
	})
}

func seedTerminalJob(t *testing.T, db *gorm.DB, job *types.Job) *types.Job {
	t.Helper()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.SourceRef == "" {
		job.SourceRef = "src-" + uuid.NewString()
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestSettleDoneKeepsReservation(t *testing.T) {
	c, db := testCoordinator(t)
	userID := uuid.New()
	cleanupUser(t, db, userID)

	wallets := billing.NewWalletRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	if _, err := wallets.GetOrCreate(dbc, userID); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}

	job := seedTerminalJob(t, db, &types.Job{
		OwnerUserID:   userID,
		Kind:          types.JobKindAudioTranscription,
		Status:        types.JobStatusDone,
		FundingSource: types.FundingWallet,
		ReservedCents: 50,
	})

	if err := c.Settle(context.Background(), job.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	var fresh types.Job
	if err := db.Where("id = ?", job.ID).First(&fresh).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.SettledAt == nil {
		t.Fatal("settled_at should be set")
	}

	refunded, err := wallets.HasTransactionForJob(dbc, job.ID, types.WalletTxRefund)
	if err != nil {
		t.Fatalf("has refund: %v", err)
	}
	if refunded {
		t.Fatal("a done job must not be refunded")
	}
}

func TestSettleErrorRefundsWalletOnce(t *testing.T) {
	c, db := testCoordinator(t)
	userID := uuid.New()
	cleanupUser(t, db, userID)

	dbc := dbctx.Context{Ctx: context.Background()}
	wallets := billing.NewWalletRepo(db, testutil.Logger(t))
	if _, err := wallets.GetOrCreate(dbc, userID); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}

	job := seedTerminalJob(t, db, &types.Job{
		OwnerUserID:   userID,
		Kind:          types.JobKindAudioTranscription,
		Status:        types.JobStatusError,
		FundingSource: types.FundingWallet,
		ReservedCents: 50,
	})

	if err := c.Settle(context.Background(), job.ID); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	// A repeated settlement must not refund a second time.
	if err := c.Settle(context.Background(), job.ID); err != nil {
		t.Fatalf("second settle: %v", err)
	}

	w, err := wallets.Get(dbc, userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.BalanceCents != 50 {
		t.Fatalf("balance = %d, want exactly one 50c refund", w.BalanceCents)
	}

	var n int64
	err = db.Model(&types.WalletTransaction{}).
		Where("job_id = ? AND type = ?", job.ID, types.WalletTxRefund).
		Count(&n).Error
	if err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if n != 1 {
		t.Fatalf("refund entries = %d, want 1", n)
	}
}

func TestSettleErrorRestoresPackage(t *testing.T) {
	c, db := testCoordinator(t)
	userID := uuid.New()
	cleanupUser(t, db, userID)

	pkg := &types.SubscriptionPackage{
		ID:               uuid.New(),
		UserID:           userID,
		RemainingMinutes: 25,
		ExpiresAt:        time.Now().Add(24 * time.Hour),
	}
	if err := db.Create(pkg).Error; err != nil {
		t.Fatalf("seed package: %v", err)
	}

	job := seedTerminalJob(t, db, &types.Job{
		OwnerUserID:      userID,
		Kind:             types.JobKindAudioTranscription,
		Status:           types.JobStatusError,
		FundingSource:    types.FundingPackage,
		FundingPackageID: &pkg.ID,
		ReservedMinutes:  5,
	})

	if err := c.Settle(context.Background(), job.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	var fresh types.SubscriptionPackage
	if err := db.Where("id = ?", pkg.ID).First(&fresh).Error; err != nil {
		t.Fatalf("reload package: %v", err)
	}
	if fresh.RemainingMinutes != 30 {
		t.Fatalf("remaining_minutes = %d, want 30 after restore", fresh.RemainingMinutes)
	}
}

func TestSettleErrorReleasesFreeUsage(t *testing.T) {
	c, db := testCoordinator(t)
	userID := uuid.New()
	cleanupUser(t, db, userID)

	createdAt := time.Now()
	day := types.UsageDay(createdAt)
	rec := &types.UsageRecord{
		ID:          uuid.New(),
		UserID:      userID,
		Day:         day,
		MinutesUsed: 5,
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	job := seedTerminalJob(t, db, &types.Job{
		OwnerUserID:     userID,
		Kind:            types.JobKindAudioTranscription,
		Status:          types.JobStatusError,
		FundingSource:   types.FundingFree,
		ReservedMinutes: 5,
		CreatedAt:       createdAt,
	})

	if err := c.Settle(context.Background(), job.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	var fresh types.UsageRecord
	if err := db.Where("user_id = ? AND day = ?", userID, day).First(&fresh).Error; err != nil {
		t.Fatalf("reload usage: %v", err)
	}
	if fresh.MinutesUsed != 0 {
		t.Fatalf("minutes_used = %d, want 0 after release", fresh.MinutesUsed)
	}
}

func TestSettleRefusesNonTerminalJob(t *testing.T) {
	c, db := testCoordinator(t)
	userID := uuid.New()
	cleanupUser(t, db, userID)

	job := seedTerminalJob(t, db, &types.Job{
		OwnerUserID: userID,
		Kind:        types.JobKindAudioTranscription,
		Status:      types.JobStatusRunning,
	})

	err := c.Settle(context.Background(), job.ID)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("settle running job = %v, want ErrConflict", err)
	}
}

func TestSweepUnsettledSettlesBacklog(t *testing.T) {
	c, db := testCoordinator(t)
	userID := uuid.New()
	cleanupUser(t, db, userID)

	a := seedTerminalJob(t, db, &types.Job{
		OwnerUserID:   userID,
		Kind:          types.JobKindYoutubeCaption,
		Status:        types.JobStatusDone,
		FundingSource: types.FundingFree,
	})
	b := seedTerminalJob(t, db, &types.Job{
		OwnerUserID:   userID,
		Kind:          types.JobKindYoutubeCaption,
		Status:        types.JobStatusError,
		FundingSource: types.FundingFree,
	})

	if _, err := c.SweepUnsettled(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		var fresh types.Job
		if err := db.Where("id = ?", id).First(&fresh).Error; err != nil {
			t.Fatalf("reload %s: %v", id, err)
		}
		if fresh.SettledAt == nil {
			t.Fatalf("job %s left unsettled by the sweep", id)
		}
	}
}
