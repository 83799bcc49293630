// Package worker runs the claim-and-execute pool. Each worker goroutine
// polls for a runnable job, claims it atomically, and drives the kind's
// pipeline; a heartbeat keeps the claim fresh while the pipeline runs.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/artemmail/scriptor-sub002/internal/data/repos/jobs"
	"github.com/artemmail/scriptor-sub002/internal/jobs/runtime"
	"github.com/artemmail/scriptor-sub002/internal/observability"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
	"github.com/artemmail/scriptor-sub002/internal/services"
	"github.com/artemmail/scriptor-sub002/internal/utils"
)

// Settler finalizes quota for a terminal job; the worker calls it after
// every pipeline run so settlement happens promptly rather than waiting for
// the startup sweep.
type Settler interface {
	Settle(ctx context.Context, jobID uuid.UUID) error
}

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	jobs     jobs.JobRepo
	steps    jobs.StepRepo
	segments jobs.SegmentRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	settler  Settler

	concurrency  int
	pollInterval time.Duration
	staleRunning time.Duration
	heartbeat    time.Duration
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, jobRepo jobs.JobRepo, stepRepo jobs.StepRepo, segmentRepo jobs.SegmentRepo, registry *runtime.Registry, notify services.JobNotifier, settler Settler) *Worker {
	log := baseLog.With("component", "JobWorker")
	return &Worker{
		db:       db,
		log:      log,
		jobs:     jobRepo,
		steps:    stepRepo,
		segments: segmentRepo,
		registry: registry,
		notify:   notify,
		settler:  settler,

		concurrency:  utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, baseLog),
		pollInterval: time.Duration(utils.GetEnvAsInt("WORKER_POLL_INTERVAL_MS", 1000, baseLog)) * time.Millisecond,
		staleRunning: time.Duration(utils.GetEnvAsInt("WORKER_STALE_RUNNING_SEC", 120, baseLog)) * time.Second,
		heartbeat:    time.Duration(utils.GetEnvAsInt("WORKER_HEARTBEAT_SEC", 15, baseLog)) * time.Second,
	}
}

func (w *Worker) Start(ctx context.Context) {
	concurrency := w.concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting job worker pool", "concurrency", concurrency)

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.jobs.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.staleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			observability.Current().WorkerClaim()
			w.execute(ctx, workerID, job.ID)
		}
	}
}

func (w *Worker) execute(ctx context.Context, workerID int, jobID uuid.UUID) {
	job, err := w.jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		w.log.Warn("Claimed job vanished", "worker_id", workerID, "job_id", jobID, "error", err)
		return
	}

	jc := runtime.NewContext(ctx, w.db, job, w.jobs, w.steps, w.segments, w.notify)

	h, ok := w.registry.Get(job.Kind)
	if !ok {
		w.log.Warn("No handler registered for kind",
			"worker_id", workerID,
			"kind", string(job.Kind),
			"job_id", job.ID,
		)
		jc.Fail("dispatch", &missingHandlerError{Kind: string(job.Kind)})
		w.settle(ctx, job.ID)
		return
	}

	stopHeartbeat := w.startHeartbeat(ctx, job.ID)

	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic",
					"worker_id", workerID,
					"job_id", job.ID,
					"kind", string(job.Kind),
					"panic", r,
				)
				observability.Current().WorkerPanic()
				jc.Fail("panic", errFromRecover(r))
			}
		}()

		if runErr := h.Run(jc); runErr != nil {
			// Pipelines call jc.Fail themselves; this is a safety net.
			jc.Fail("run", runErr)
		}
	}()

	stopHeartbeat()

	if jc.Job.Status.Terminal() {
		observability.Current().JobCompleted(string(jc.Job.Kind), string(jc.Job.Status))
		w.settle(ctx, job.ID)
	}
}

// startHeartbeat refreshes the claim while a pipeline runs so the stale
// reaper cannot hand the job to a second worker mid-execution.
func (w *Worker) startHeartbeat(ctx context.Context, jobID uuid.UUID) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.jobs.Heartbeat(dbctx.Context{Ctx: hbCtx}, jobID); err != nil {
					w.log.Warn("Heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) settle(ctx context.Context, jobID uuid.UUID) {
	if w.settler == nil {
		return
	}
	if err := w.settler.Settle(ctx, jobID); err != nil {
		// The startup sweep retries anything left unsettled here.
		w.log.Error("Settlement failed", "job_id", jobID, "error", err)
	}
}

type missingHandlerError struct{ Kind string }

func (e *missingHandlerError) Error() string { return "no handler registered for kind=" + e.Kind }

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
