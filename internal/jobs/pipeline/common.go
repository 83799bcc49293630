// Package pipeline implements the per-kind job pipelines. Each handler
// drives a claimed job through its declared steps, checkpointing segment
// results so a crashed or reclaimed job resumes instead of restarting.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/artemmail/scriptor-sub002/internal/clients/gcp"
	"github.com/artemmail/scriptor-sub002/internal/clients/media"
	"github.com/artemmail/scriptor-sub002/internal/clients/openai"
	"github.com/artemmail/scriptor-sub002/internal/docgen"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/jobs/runtime"
	"github.com/artemmail/scriptor-sub002/internal/observability"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/httpx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

var errCanceled = errors.New("cancelled by user")

const maxSegmentAttempts = 3

// Deps bundles the external collaborators shared by all pipelines.
type Deps struct {
	Log       *logger.Logger
	Extractor media.Extractor
	Speech    gcp.Speech
	OpenAI    openai.Transcriber
	Blobs     gcp.BucketService
}

// sourceMeta is persisted on the job row at probe time so later steps and
// resumed attempts see the same source facts.
type sourceMeta struct {
	Title       string  `json:"title,omitempty"`
	DurationSec float64 `json:"duration_sec"`
	Language    string  `json:"language,omitempty"`
}

func saveMeta(c *runtime.Context, meta sourceMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	ok, err := c.Jobs.UpdateFieldsUnlessTerminal(dbcOf(c), c.Job.ID, map[string]interface{}{
		"meta": datatypes.JSON(raw),
	})
	if err != nil {
		return err
	}
	if ok {
		c.Job.Meta = datatypes.JSON(raw)
	}
	return nil
}

func loadMeta(c *runtime.Context) (sourceMeta, error) {
	var meta sourceMeta
	if len(c.Job.Meta) == 0 {
		return meta, fmt.Errorf("job %s has no probed source metadata", c.Job.ID)
	}
	if err := json.Unmarshal(c.Job.Meta, &meta); err != nil {
		return meta, fmt.Errorf("decode job meta: %w", err)
	}
	return meta, nil
}

// fragment is the checkpointed per-segment result stored in job_segment.
type fragment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

func encodeFragment(f fragment) string {
	raw, _ := json.Marshal(f)
	return string(raw)
}

func decodeFragment(raw string) (fragment, error) {
	var f fragment
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return f, err
	}
	return f, nil
}

// ensureSegments plans the segment rows for a recognition step. On resume
// the existing rows, processed flags included, are reused untouched.
func ensureSegments(c *runtime.Context, step *types.JobStep, durationSec, windowSec float64) ([]*types.JobSegment, error) {
	existing, err := c.Segments.ListByStep(dbcOf(c), step.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	n := int(math.Ceil(durationSec / windowSec))
	if n < 1 {
		n = 1
	}
	segs := make([]*types.JobSegment, 0, n)
	for i := 0; i < n; i++ {
		segs = append(segs, &types.JobSegment{
			JobID:  c.Job.ID,
			StepID: step.ID,
			Index:  i,
		})
	}
	if _, err := c.Segments.CreateBatch(dbcOf(c), segs); err != nil {
		return nil, err
	}
	if err := c.SetSegmentsTotal(n); err != nil {
		return nil, err
	}
	return segs, nil
}

func segmentBounds(idx int, durationSec, windowSec float64) (start, end float64) {
	start = float64(idx) * windowSec
	end = start + windowSec
	if end > durationSec {
		end = durationSec
	}
	return start, end
}

// processSegments runs recognize over every unprocessed segment in index
// order, retrying transient failures with backoff and checkpointing each
// result before moving on. Cancellation is honored between segments only.
func processSegments(c *runtime.Context, step *types.JobStep, durationSec, windowSec float64, recognize func(ctx context.Context, startSec, endSec float64) (string, error)) error {
	segs, err := ensureSegments(c, step, durationSec, windowSec)
	if err != nil {
		return err
	}

	for _, seg := range segs {
		if seg.Processed {
			continue
		}
		if c.Canceled() {
			return errCanceled
		}

		start, end := segmentBounds(seg.Index, durationSec, windowSec)
		text, err := recognizeWithRetry(c.Ctx, recognize, start, end)
		if err != nil {
			return fmt.Errorf("segment %d: %w", seg.Index, err)
		}

		updated, err := c.CheckpointSegment("recognize", seg.ID, encodeFragment(fragment{
			StartSec: start,
			EndSec:   end,
			Text:     text,
		}))
		if err != nil {
			return err
		}
		if updated {
			observability.Current().SegmentProcessed()
		}
	}
	return nil
}

func recognizeWithRetry(ctx context.Context, recognize func(ctx context.Context, startSec, endSec float64) (string, error), start, end float64) (string, error) {
	backoff := 2 * time.Second
	var last error
	for attempt := 1; attempt <= maxSegmentAttempts; attempt++ {
		if ctx != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
		text, err := recognize(ctx, start, end)
		if err == nil {
			return text, nil
		}
		last = err
		if apperr.IsPermanent(err) {
			return "", err
		}
		if attempt == maxSegmentAttempts {
			break
		}
		observability.Current().SegmentRetried()
		time.Sleep(httpx.JitterSleep(backoff))
		backoff *= 2
	}
	return "", fmt.Errorf("exhausted %d attempts: %w", maxSegmentAttempts, last)
}

// composeResult reassembles fragments in index order into the kind's output
// document.
func composeResult(c *runtime.Context, log *logger.Logger) (string, error) {
	segs, err := c.Segments.ListByJob(dbcOf(c), c.Job.ID)
	if err != nil {
		return "", err
	}
	fragments := make([]docgen.Fragment, 0, len(segs))
	for _, seg := range segs {
		if !seg.Processed || seg.Fragment == "" {
			continue
		}
		f, err := decodeFragment(seg.Fragment)
		if err != nil {
			return "", fmt.Errorf("segment %d: decode fragment: %w", seg.Index, err)
		}
		fragments = append(fragments, docgen.Fragment{
			Index:    seg.Index,
			StartSec: f.StartSec,
			EndSec:   f.EndSec,
			Text:     f.Text,
		})
	}
	return docgen.Render(fragments, OutputFormat(log, c.Job.Kind))
}

// archiveResult uploads the final document to blob storage. Best-effort:
// the durable copy of the result is the job row, the blob is a convenience
// for downloads.
func archiveResult(c *runtime.Context, deps Deps, log *logger.Logger, result string) {
	if deps.Blobs == nil || result == "" {
		return
	}
	ext := "txt"
	switch OutputFormat(log, c.Job.Kind) {
	case docgen.FormatSRT:
		ext = "srt"
	case docgen.FormatMarkdown:
		ext = "md"
	}
	key := fmt.Sprintf("jobs/%s/result.%s", c.Job.ID, ext)
	if err := deps.Blobs.UploadFile(ctxOf(c), key, strings.NewReader(result)); err != nil {
		log.Warn("result archive upload failed", "job_id", c.Job.ID.String(), "key", key, "error", err)
	}
}

// runSteps is the shared pipeline skeleton: it walks the declared step order,
// skips already-succeeded steps on resume, and turns a step failure or
// cancellation into the job's terminal error state.
func runSteps(c *runtime.Context, log *logger.Logger, kinds []string, bodies map[string]func(c *runtime.Context, step *types.JobStep) error) error {
	steps, err := c.EnsureSteps(kinds)
	if err != nil {
		c.Fail("init", err)
		return err
	}

	for _, step := range steps {
		if c.Canceled() {
			c.Fail("cancel", errCanceled)
			return nil
		}

		skip, err := c.BeginStep(step)
		if err != nil {
			c.Fail(step.Kind, err)
			return err
		}
		if skip {
			continue
		}

		body, ok := bodies[step.Kind]
		if !ok {
			err := fmt.Errorf("no implementation for step %s", step.Kind)
			_ = c.FailStep(step, err)
			c.Fail(step.Kind, err)
			return err
		}

		c.Progress(step.Kind, "")
		if err := body(c, step); err != nil {
			if errors.Is(err, errCanceled) {
				_ = c.FailStep(step, errCanceled)
				c.Fail("cancel", errCanceled)
				return nil
			}
			log.Warn("pipeline step failed",
				"job_id", c.Job.ID.String(),
				"kind", string(c.Job.Kind),
				"step", step.Kind,
				"error", err)
			_ = c.FailStep(step, err)
			c.Fail(step.Kind, err)
			return err
		}
		if err := c.CompleteStep(step); err != nil {
			c.Fail(step.Kind, err)
			return err
		}
	}
	return nil
}

func dbcOf(c *runtime.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctxOf(c)}
}

func ctxOf(c *runtime.Context) context.Context {
	if c.Ctx != nil {
		return c.Ctx
	}
	return context.Background()
}
