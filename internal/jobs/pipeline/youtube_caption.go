package pipeline

import (
	"fmt"

	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/jobs/runtime"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

// youtubeCaption captions a video from its published caption track. No
// recognition is involved; the source must already carry captions.
type youtubeCaption struct {
	log  *logger.Logger
	deps Deps
}

func NewYoutubeCaption(deps Deps) runtime.Handler {
	return &youtubeCaption{
		log:  deps.Log.With("pipeline", "youtube_caption"),
		deps: deps,
	}
}

func (p *youtubeCaption) Kind() types.JobKind { return types.JobKindYoutubeCaption }

func (p *youtubeCaption) Run(c *runtime.Context) error {
	return runSteps(c, p.log, StepKinds(p.log, p.Kind()), map[string]func(*runtime.Context, *types.JobStep) error{
		"probe":          p.probe,
		"fetch_captions": p.fetchCaptions,
		"compose":        p.compose,
	})
}

func (p *youtubeCaption) probe(c *runtime.Context, _ *types.JobStep) error {
	info, err := p.deps.Extractor.Probe(ctxOf(c), c.Job.SourceRef)
	if err != nil {
		return err
	}
	if !info.HasCaptions {
		return apperr.Permanentf("source %s has no caption track", c.Job.SourceRef)
	}
	return saveMeta(c, sourceMeta{
		Title:       info.Title,
		DurationSec: info.DurationSec,
		Language:    info.Language,
	})
}

// fetchCaptions pulls the whole track once and checkpoints it in windowed
// segments so resume never re-downloads completed windows.
func (p *youtubeCaption) fetchCaptions(c *runtime.Context, step *types.JobStep) error {
	meta, err := loadMeta(c)
	if err != nil {
		return err
	}
	window := SegmentWindowSec(p.log, p.Kind())

	segs, err := ensureSegments(c, step, meta.DurationSec, window)
	if err != nil {
		return err
	}

	var lines []struct {
		start, end float64
		text       string
	}
	fetched := false

	for _, seg := range segs {
		if seg.Processed {
			continue
		}
		if c.Canceled() {
			return errCanceled
		}
		if !fetched {
			raw, err := p.deps.Extractor.FetchCaptions(ctxOf(c), c.Job.SourceRef, meta.Language)
			if err != nil {
				return err
			}
			for _, l := range raw {
				lines = append(lines, struct {
					start, end float64
					text       string
				}{l.StartSec, l.EndSec, l.Text})
			}
			fetched = true
		}

		start, end := segmentBounds(seg.Index, meta.DurationSec, window)
		text := ""
		for _, l := range lines {
			if l.start >= start && l.start < end {
				if text != "" {
					text += "\n"
				}
				text += fmt.Sprintf("%.3f\t%.3f\t%s", l.start, l.end, l.text)
			}
		}

		if _, err := c.CheckpointSegment("fetch_captions", seg.ID, encodeFragment(fragment{
			StartSec: start,
			EndSec:   end,
			Text:     text,
		})); err != nil {
			return err
		}
	}
	return nil
}

func (p *youtubeCaption) compose(c *runtime.Context, _ *types.JobStep) error {
	segs, err := c.Segments.ListByJob(dbcOf(c), c.Job.ID)
	if err != nil {
		return err
	}

	var fragments []fragment
	for _, seg := range segs {
		if !seg.Processed || seg.Fragment == "" {
			continue
		}
		f, err := decodeFragment(seg.Fragment)
		if err != nil {
			return fmt.Errorf("segment %d: decode fragment: %w", seg.Index, err)
		}
		fragments = append(fragments, f)
	}

	result, err := renderCaptionTrack(fragments, OutputFormat(p.log, p.Kind()))
	if err != nil {
		return err
	}
	archiveResult(c, p.deps, p.log, result)
	c.Succeed(result)
	return nil
}
