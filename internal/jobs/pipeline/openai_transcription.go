package pipeline

import (
	"context"
	"fmt"

	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/jobs/runtime"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

// openaiTranscription is the audio pipeline variant that recognizes through
// an OpenAI-compatible transcription endpoint instead of cloud speech.
type openaiTranscription struct {
	log  *logger.Logger
	deps Deps
}

func NewOpenAITranscription(deps Deps) runtime.Handler {
	return &openaiTranscription{
		log:  deps.Log.With("pipeline", "openai_transcription"),
		deps: deps,
	}
}

func (p *openaiTranscription) Kind() types.JobKind { return types.JobKindOpenAITranscription }

func (p *openaiTranscription) Run(c *runtime.Context) error {
	return runSteps(c, p.log, StepKinds(p.log, p.Kind()), map[string]func(*runtime.Context, *types.JobStep) error{
		"probe":       p.probe,
		"fetch_audio": p.fetchAudio,
		"recognize":   p.recognize,
		"compose":     p.compose,
	})
}

func (p *openaiTranscription) probe(c *runtime.Context, _ *types.JobStep) error {
	info, err := p.deps.Extractor.Probe(ctxOf(c), c.Job.SourceRef)
	if err != nil {
		return err
	}
	if info.DurationSec <= 0 {
		return apperr.Permanentf("source %s has no audio duration", c.Job.SourceRef)
	}
	return saveMeta(c, sourceMeta{
		Title:       info.Title,
		DurationSec: info.DurationSec,
		Language:    info.Language,
	})
}

func (p *openaiTranscription) fetchAudio(c *runtime.Context, _ *types.JobStep) error {
	meta, err := loadMeta(c)
	if err != nil {
		return err
	}
	probeEnd := meta.DurationSec
	if probeEnd > 1 {
		probeEnd = 1
	}
	_, _, err = p.deps.Extractor.FetchAudioSegment(ctxOf(c), c.Job.SourceRef, 0, probeEnd)
	return err
}

func (p *openaiTranscription) recognize(c *runtime.Context, step *types.JobStep) error {
	meta, err := loadMeta(c)
	if err != nil {
		return err
	}
	window := SegmentWindowSec(p.log, p.Kind())

	return processSegments(c, step, meta.DurationSec, window, func(ctx context.Context, startSec, endSec float64) (string, error) {
		audio, _, err := p.deps.Extractor.FetchAudioSegment(ctx, c.Job.SourceRef, startSec, endSec)
		if err != nil {
			return "", err
		}
		filename := fmt.Sprintf("%s-%06.0f.flac", c.Job.ID, startSec)
		return p.deps.OpenAI.TranscribeAudio(ctx, audio, filename, meta.Language)
	})
}

func (p *openaiTranscription) compose(c *runtime.Context, _ *types.JobStep) error {
	result, err := composeResult(c, p.log)
	if err != nil {
		return err
	}
	archiveResult(c, p.deps, p.log, result)
	c.Succeed(result)
	return nil
}
