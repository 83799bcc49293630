package jobs_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/artemmail/scriptor-sub002/internal/data/repos/jobs"
	"github.com/artemmail/scriptor-sub002/internal/data/repos/testutil"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
)

func TestMarkProcessedIdempotent(t *testing.T) {
	dbc := testutil.Tx(t)
	repo := jobs.NewSegmentRepo(testutil.DB(t), testutil.Logger(t))
	job := testutil.SeedJob(t, dbc, uuid.New(), types.JobKindAudioTranscription, types.JobStatusRunning)
	stepID := uuid.New()

	segs, err := repo.CreateBatch(dbc, []*types.JobSegment{
		{JobID: job.ID, StepID: stepID, Index: 0},
	})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}

	updated, err := repo.MarkProcessed(dbc, segs[0].ID, "first fragment")
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if !updated {
		t.Fatal("first checkpoint should stick")
	}

	// A crashed-and-resumed worker reprocessing the segment must not
	// overwrite the committed fragment.
	updated, err = repo.MarkProcessed(dbc, segs[0].ID, "second fragment")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if updated {
		t.Fatal("second checkpoint must be a no-op")
	}

	out, err := repo.ListByStep(dbc, stepID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out[0].Fragment != "first fragment" {
		t.Fatalf("fragment = %q, want the first write", out[0].Fragment)
	}
}

func TestListBySegmentIndexOrder(t *testing.T) {
	dbc := testutil.Tx(t)
	repo := jobs.NewSegmentRepo(testutil.DB(t), testutil.Logger(t))
	job := testutil.SeedJob(t, dbc, uuid.New(), types.JobKindAudioTranscription, types.JobStatusRunning)
	stepID := uuid.New()

	// Insert out of order; reads must come back in index order.
	_, err := repo.CreateBatch(dbc, []*types.JobSegment{
		{JobID: job.ID, StepID: stepID, Index: 2},
		{JobID: job.ID, StepID: stepID, Index: 0},
		{JobID: job.ID, StepID: stepID, Index: 1},
	})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}

	out, err := repo.ListByStep(dbc, stepID)
	if err != nil {
		t.Fatalf("list by step: %v", err)
	}
	for i, s := range out {
		if s.Index != i {
			t.Fatalf("position %d holds index %d", i, s.Index)
		}
	}

	byJob, err := repo.ListByJob(dbc, job.ID)
	if err != nil {
		t.Fatalf("list by job: %v", err)
	}
	if len(byJob) != 3 {
		t.Fatalf("len = %d, want 3", len(byJob))
	}
}

func TestCountProcessed(t *testing.T) {
	dbc := testutil.Tx(t)
	repo := jobs.NewSegmentRepo(testutil.DB(t), testutil.Logger(t))
	job := testutil.SeedJob(t, dbc, uuid.New(), types.JobKindAudioTranscription, types.JobStatusRunning)
	stepID := uuid.New()

	segs, err := repo.CreateBatch(dbc, []*types.JobSegment{
		{JobID: job.ID, StepID: stepID, Index: 0},
		{JobID: job.ID, StepID: stepID, Index: 1},
	})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if _, err := repo.MarkProcessed(dbc, segs[0].ID, "f"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	n, err := repo.CountProcessed(dbc, stepID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}
}
