package runtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/artemmail/scriptor-sub002/internal/data/repos/jobs"
	"github.com/artemmail/scriptor-sub002/internal/data/repos/testutil"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
)

// CheckpointSegment opens its own transaction, so this test commits real
// rows and cleans them up by job id.
func checkpointFixture(t *testing.T, segmentsTotal int) (*Context, *gorm.DB, []*types.JobSegment) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	job := &types.Job{
		ID:            uuid.New(),
		OwnerUserID:   uuid.New(),
		Kind:          types.JobKindAudioTranscription,
		SourceRef:     "src-" + uuid.NewString(),
		Status:        types.JobStatusRunning,
		SegmentsTotal: segmentsTotal,
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	t.Cleanup(func() {
		db.Where("job_id = ?", job.ID).Delete(&types.JobSegment{})
		db.Where("job_id = ?", job.ID).Delete(&types.JobStep{})
		db.Where("id = ?", job.ID).Delete(&types.Job{})
	})

	jobRepo := jobs.NewJobRepo(db, log)
	stepRepo := jobs.NewStepRepo(db, log)
	segmentRepo := jobs.NewSegmentRepo(db, log)
	dbc := dbctx.Context{Ctx: context.Background()}

	steps, err := stepRepo.CreateForJob(dbc, []*types.JobStep{
		{JobID: job.ID, Kind: "recognize", Index: 0},
	})
	if err != nil {
		t.Fatalf("seed step: %v", err)
	}
	segs := make([]*types.JobSegment, 0, segmentsTotal)
	for i := 0; i < segmentsTotal; i++ {
		segs = append(segs, &types.JobSegment{JobID: job.ID, StepID: steps[0].ID, Index: i})
	}
	if _, err := segmentRepo.CreateBatch(dbc, segs); err != nil {
		t.Fatalf("seed segments: %v", err)
	}

	c := NewContext(context.Background(), db, job, jobRepo, stepRepo, segmentRepo, nil)
	return c, db, segs
}

func TestCheckpointSegmentWritesFragmentAndCounterTogether(t *testing.T) {
	c, db, segs := checkpointFixture(t, 2)

	updated, err := c.CheckpointSegment("recognize", segs[0].ID, `{"start_sec":0,"end_sec":60,"text":"hello"}`)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !updated {
		t.Fatal("first checkpoint should process the segment")
	}

	var seg types.JobSegment
	if err := db.Where("id = ?", segs[0].ID).First(&seg).Error; err != nil {
		t.Fatalf("reload segment: %v", err)
	}
	if !seg.Processed {
		t.Fatal("segment should be processed")
	}
	var job types.Job
	if err := db.Where("id = ?", c.Job.ID).First(&job).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if job.SegmentsDone != 1 {
		t.Fatalf("segments_done = %d, want 1: the counter moves with the fragment", job.SegmentsDone)
	}
}

func TestCheckpointSegmentReplayDoesNotDoubleCount(t *testing.T) {
	c, db, segs := checkpointFixture(t, 2)

	if _, err := c.CheckpointSegment("recognize", segs[0].ID, `{"start_sec":0,"end_sec":60,"text":"first"}`); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	// A reclaimed job replays the segment; the processed guard refuses the
	// rewrite and the counter stays put.
	updated, err := c.CheckpointSegment("recognize", segs[0].ID, `{"start_sec":0,"end_sec":60,"text":"second"}`)
	if err != nil {
		t.Fatalf("replay checkpoint: %v", err)
	}
	if updated {
		t.Fatal("replayed checkpoint must be a no-op")
	}

	var seg types.JobSegment
	if err := db.Where("id = ?", segs[0].ID).First(&seg).Error; err != nil {
		t.Fatalf("reload segment: %v", err)
	}
	if seg.Fragment == "" || seg.Fragment != `{"start_sec":0,"end_sec":60,"text":"first"}` {
		t.Fatalf("fragment = %q, want the first write preserved", seg.Fragment)
	}
	var job types.Job
	if err := db.Where("id = ?", c.Job.ID).First(&job).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if job.SegmentsDone != 1 {
		t.Fatalf("segments_done = %d, want 1 after replay", job.SegmentsDone)
	}
}
