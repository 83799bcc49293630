package pipeline

import (
	"context"

	"github.com/artemmail/scriptor-sub002/internal/clients/gcp"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/jobs/runtime"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

// audioTranscription transcribes an audio source in windowed chunks through
// the cloud speech recognizer.
type audioTranscription struct {
	log  *logger.Logger
	deps Deps
}

func NewAudioTranscription(deps Deps) runtime.Handler {
	return &audioTranscription{
		log:  deps.Log.With("pipeline", "audio_transcription"),
		deps: deps,
	}
}

func (p *audioTranscription) Kind() types.JobKind { return types.JobKindAudioTranscription }

func (p *audioTranscription) Run(c *runtime.Context) error {
	return runSteps(c, p.log, StepKinds(p.log, p.Kind()), map[string]func(*runtime.Context, *types.JobStep) error{
		"probe":       p.probe,
		"fetch_audio": p.fetchAudio,
		"recognize":   p.recognize,
		"compose":     p.compose,
	})
}

func (p *audioTranscription) probe(c *runtime.Context, _ *types.JobStep) error {
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

// fetchAudio verifies the source is actually fetchable before committing
// recognition quota to it. The chunks themselves are fetched lazily per
// segment in recognize.
func (p *audioTranscription) fetchAudio(c *runtime.Context, _ *types.JobStep) error {
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

func (p *audioTranscription) recognize(c *runtime.Context, step *types.JobStep) error {
	meta, err := loadMeta(c)
	if err != nil {
		return err
	}
	window := SegmentWindowSec(p.log, p.Kind())
	cfg := gcp.SpeechConfig{
		LanguageCode:               meta.Language,
		EnableAutomaticPunctuation: true,
	}

	return processSegments(c, step, meta.DurationSec, window, func(ctx context.Context, startSec, endSec float64) (string, error) {
		audio, mimeType, err := p.deps.Extractor.FetchAudioSegment(ctx, c.Job.SourceRef, startSec, endSec)
		if err != nil {
			return "", err
		}
		return p.deps.Speech.TranscribeAudioBytes(ctx, audio, mimeType, cfg)
	})
}

func (p *audioTranscription) compose(c *runtime.Context, _ *types.JobStep) error {
	result, err := composeResult(c, p.log)
	if err != nil {
		return err
	}
	archiveResult(c, p.deps, p.log, result)
	c.Succeed(result)
	return nil
}
