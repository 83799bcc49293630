package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/artemmail/scriptor-sub002/internal/data/repos/jobs"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/services"
)

// Context is the execution handle for a single claimed job. It wraps the
// job row, the repositories, and the only sanctioned ways to report
// progress or terminate execution. Pipelines never write job rows directly.
type Context struct {
	Ctx      context.Context
	DB       *gorm.DB
	Job      *types.Job
	Jobs     jobs.JobRepo
	Steps    jobs.StepRepo
	Segments jobs.SegmentRepo
	Notify   services.JobNotifier
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.Job, jobRepo jobs.JobRepo, stepRepo jobs.StepRepo, segmentRepo jobs.SegmentRepo, notify services.JobNotifier) *Context {
	return &Context{
		Ctx:      ctx,
		DB:       db,
		Job:      job,
		Jobs:     jobRepo,
		Steps:    stepRepo,
		Segments: segmentRepo,
		Notify:   notify,
	}
}

func (c *Context) dbc() dbctx.Context {
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return dbctx.Context{Ctx: ctx}
}

// Canceled re-reads the cancellation flag. Pipelines check it between
// segments; a mid-segment cancel takes effect at the next boundary.
func (c *Context) Canceled() bool {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return false
	}
	fresh, err := c.Jobs.GetByID(c.dbc(), c.Job.ID)
	if err != nil {
		return false
	}
	c.Job.CancelRequested = fresh.CancelRequested
	return fresh.CancelRequested
}

// Progress publishes a non-terminal progress update and refreshes the
// heartbeat so the stale-claim reaper leaves this job alone.
func (c *Context) Progress(stage, message string) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	now := time.Now()
	ok, _ := c.Jobs.UpdateFieldsUnlessTerminal(c.dbc(), c.Job.ID, map[string]interface{}{
		"heartbeat_at": now,
	})
	if !ok {
		return
	}
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now

	if c.Notify != nil {
		c.Notify.JobProgress(c.Job.OwnerUserID, c.Job, stage, c.Job.SegmentsDone, c.Job.SegmentsTotal, message)
	}
}

// SetSegmentsTotal records the denominator of the progress pair once the
// pipeline knows how many segments the source splits into.
func (c *Context) SetSegmentsTotal(total int) error {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return nil
	}
	ok, err := c.Jobs.UpdateFieldsUnlessTerminal(c.dbc(), c.Job.ID, map[string]interface{}{
		"segments_total": total,
	})
	if err != nil {
		return err
	}
	if ok {
		c.Job.SegmentsTotal = total
	}
	return nil
}

// CheckpointSegment persists a segment's fragment and bumps the progress
// counter in a single transaction, so a crash cannot record one without the
// other. Returns false when the segment was already processed.
func (c *Context) CheckpointSegment(stage string, segmentID uuid.UUID, fragment string) (bool, error) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil || c.DB == nil {
		return false, nil
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var updated bool
	err := c.DB.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctx, Tx: txx}
		ok, mErr := c.Segments.MarkProcessed(inner, segmentID, fragment)
		if mErr != nil {
			return mErr
		}
		updated = ok
		if !ok {
			return nil
		}
		return c.Jobs.IncrementSegmentsDone(inner, c.Job.ID)
	})
	if err != nil {
		return false, err
	}
	if updated {
		if c.Job.SegmentsDone < c.Job.SegmentsTotal {
			c.Job.SegmentsDone++
		}
		c.Progress(stage, "")
	}
	return updated, nil
}

// Fail transitions the job to its terminal error state. The guard against
// terminal states means a late Fail after Succeed is a no-op.
func (c *Context) Fail(stage string, err error) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	ok, _ := c.Jobs.UpdateFieldsUnlessTerminal(c.dbc(), c.Job.ID, map[string]interface{}{
		"status":        types.JobStatusError,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
	})
	if !ok {
		return
	}
	c.Job.Status = types.JobStatusError
	c.Job.Error = msg
	c.Job.LastErrorAt = &now
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now

	if c.Notify != nil {
		c.Notify.JobFailed(c.Job.OwnerUserID, c.Job, stage, msg)
	}
}

// Succeed transitions the job to done and persists the assembled result.
func (c *Context) Succeed(result string) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	now := time.Now()
	ok, _ := c.Jobs.UpdateFieldsUnlessTerminal(c.dbc(), c.Job.ID, map[string]interface{}{
		"status":       types.JobStatusDone,
		"result":       result,
		"error":        "",
		"locked_at":    nil,
		"heartbeat_at": now,
	})
	if !ok {
		return
	}
	c.Job.Status = types.JobStatusDone
	c.Job.Result = result
	c.Job.Error = ""
	c.Job.LockedAt = nil
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now

	if c.Notify != nil {
		c.Notify.JobDone(c.Job.OwnerUserID, c.Job)
	}
}

// EnsureSteps creates any missing step rows for the pipeline's declared
// order. On resume existing rows, including succeeded ones, are kept as-is.
func (c *Context) EnsureSteps(kinds []string) ([]*types.JobStep, error) {
	existing, err := c.Steps.ListByJob(c.dbc(), c.Job.ID)
	if err != nil {
		return nil, err
	}
	have := make(map[string]*types.JobStep, len(existing))
	for _, s := range existing {
		have[s.Kind] = s
	}

	var missing []*types.JobStep
	for i, kind := range kinds {
		if _, ok := have[kind]; ok {
			continue
		}
		missing = append(missing, &types.JobStep{
			JobID:  c.Job.ID,
			Kind:   kind,
			Index:  i,
			Status: types.StepStatusPending,
		})
	}
	if len(missing) > 0 {
		if _, err := c.Steps.CreateForJob(c.dbc(), missing); err != nil {
			return nil, err
		}
	}
	return c.Steps.ListByJob(c.dbc(), c.Job.ID)
}

// BeginStep marks the step running, or reports skip=true when the step
// already succeeded in a previous attempt.
func (c *Context) BeginStep(step *types.JobStep) (skip bool, err error) {
	if step.Status == types.StepStatusSucceeded {
		return true, nil
	}
	if err := c.Steps.MarkRunning(c.dbc(), step.ID); err != nil {
		return false, err
	}
	step.Status = types.StepStatusRunning
	return false, nil
}

func (c *Context) CompleteStep(step *types.JobStep) error {
	if err := c.Steps.MarkSucceeded(c.dbc(), step.ID); err != nil {
		return err
	}
	step.Status = types.StepStatusSucceeded
	return nil
}

func (c *Context) FailStep(step *types.JobStep, stepErr error) error {
	msg := ""
	if stepErr != nil {
		msg = stepErr.Error()
	}
	if err := c.Steps.MarkFailed(c.dbc(), step.ID, msg); err != nil {
		return err
	}
	step.Status = types.StepStatusFailed
	step.Error = msg
	return nil
}
