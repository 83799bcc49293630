package billing_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/artemmail/scriptor-sub002/internal/data/repos/billing"
	"github.com/artemmail/scriptor-sub002/internal/data/repos/testutil"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
)

func TestAddMinutesRespectsDailyCap(t *testing.T) {
	dbc := testutil.Tx(t)
	repo := billing.NewUsageRepo(testutil.DB(t), testutil.Logger(t))
	userID := uuid.New()
	day := types.UsageDay(time.Now())

	if _, err := repo.GetOrCreate(dbc, userID, day); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	ok, err := repo.AddMinutes(dbc, userID, day, 8, 10)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !ok {
		t.Fatal("reservation under the cap should succeed")
	}

	// 8 of 10 used; another 3 would exceed the cap.
	ok, err = repo.AddMinutes(dbc, userID, day, 3, 10)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if ok {
		t.Fatal("reservation over the cap must be refused")
	}

	rec, err := repo.Get(dbc, userID, day)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.MinutesUsed != 8 {
		t.Fatalf("minutes_used = %d, want 8", rec.MinutesUsed)
	}
}

func TestAddVideosRespectsDailyCap(t *testing.T) {
	dbc := testutil.Tx(t)
	repo := billing.NewUsageRepo(testutil.DB(t), testutil.Logger(t))
	userID := uuid.New()
	day := types.UsageDay(time.Now())

	if _, err := repo.GetOrCreate(dbc, userID, day); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	ok, err := repo.AddVideos(dbc, userID, day, 1, 1)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !ok {
		t.Fatal("first video should fit the free cap")
	}
	ok, err = repo.AddVideos(dbc, userID, day, 1, 1)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if ok {
		t.Fatal("second video must exceed the free cap")
	}
}

func TestReleaseMinutesFloorGuard(t *testing.T) {
	dbc := testutil.Tx(t)
	repo := billing.NewUsageRepo(testutil.DB(t), testutil.Logger(t))
	userID := uuid.New()
	day := types.UsageDay(time.Now())

	if _, err := repo.GetOrCreate(dbc, userID, day); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if _, err := repo.AddMinutes(dbc, userID, day, 5, 10); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.ReleaseMinutes(dbc, userID, day, 5); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Releasing more than was used must not push the counter negative.
	if err := repo.ReleaseMinutes(dbc, userID, day, 5); err != nil {
		t.Fatalf("second release: %v", err)
	}

	rec, err := repo.Get(dbc, userID, day)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.MinutesUsed != 0 {
		t.Fatalf("minutes_used = %d, want 0", rec.MinutesUsed)
	}
}

func TestUsageIsPerDay(t *testing.T) {
	dbc := testutil.Tx(t)
	repo := billing.NewUsageRepo(testutil.DB(t), testutil.Logger(t))
	userID := uuid.New()
	today := types.UsageDay(time.Now())
	yesterday := types.UsageDay(time.Now().Add(-24 * time.Hour))

	for _, day := range []string{today, yesterday} {
		if _, err := repo.GetOrCreate(dbc, userID, day); err != nil {
			t.Fatalf("get or create %s: %v", day, err)
		}
	}
	if _, err := repo.AddMinutes(dbc, userID, yesterday, 10, 10); err != nil {
		t.Fatalf("fill yesterday: %v", err)
	}

	// Yesterday being full leaves today's allowance untouched.
	ok, err := repo.AddMinutes(dbc, userID, today, 10, 10)
	if err != nil {
		t.Fatalf("add today: %v", err)
	}
	if !ok {
		t.Fatal("today's allowance should be independent of yesterday's")
	}

	records, err := repo.ListForUser(dbc, userID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].Day != today {
		t.Fatalf("records must be newest-day first, got %s", records[0].Day)
	}
}
