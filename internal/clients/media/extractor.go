// Package media talks to the external media extractor service, which probes
// sources (YouTube URLs, uploaded audio) and serves caption tracks and
// time-bounded audio chunks.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/httpx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type SourceInfo struct {
	Title       string  `json:"title"`
	DurationSec float64 `json:"duration_sec"`
	HasCaptions bool    `json:"has_captions"`
	Language    string  `json:"language,omitempty"`
}

type CaptionLine struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

type Extractor interface {
	Probe(ctx context.Context, sourceRef string) (*SourceInfo, error)
	FetchCaptions(ctx context.Context, sourceRef, language string) ([]CaptionLine, error)
	FetchAudioSegment(ctx context.Context, sourceRef string, startSec, endSec float64) ([]byte, string, error)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("extractor returned %d: %s", e.code, e.body)
}

func (e *statusError) HTTPStatusCode() int { return e.code }

type extractor struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	hc      *http.Client
}

func NewExtractor(log *logger.Logger) (Extractor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	base := strings.TrimRight(strings.TrimSpace(os.Getenv("MEDIA_EXTRACTOR_URL")), "/")
	if base == "" {
		return nil, fmt.Errorf("missing MEDIA_EXTRACTOR_URL")
	}
	return &extractor{
		log:     log.With("service", "MediaExtractor"),
		baseURL: base,
		apiKey:  strings.TrimSpace(os.Getenv("MEDIA_EXTRACTOR_API_KEY")),
		hc:      &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (e *extractor) Probe(ctx context.Context, sourceRef string) (*SourceInfo, error) {
	q := url.Values{"source": {sourceRef}}
	body, err := e.get(ctx, "/v1/probe", q)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var info SourceInfo
	if err := json.NewDecoder(body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode probe response: %w", err)
	}
	return &info, nil
}

func (e *extractor) FetchCaptions(ctx context.Context, sourceRef, language string) ([]CaptionLine, error) {
	q := url.Values{"source": {sourceRef}}
	if language != "" {
		q.Set("lang", language)
	}
	body, err := e.get(ctx, "/v1/captions", q)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var lines []CaptionLine
	if err := json.NewDecoder(body).Decode(&lines); err != nil {
		return nil, fmt.Errorf("decode captions response: %w", err)
	}
	return lines, nil
}

func (e *extractor) FetchAudioSegment(ctx context.Context, sourceRef string, startSec, endSec float64) ([]byte, string, error) {
	q := url.Values{
		"source": {sourceRef},
		"start":  {strconv.FormatFloat(startSec, 'f', 3, 64)},
		"end":    {strconv.FormatFloat(endSec, 'f', 3, 64)},
		"format": {"flac"},
	}
	body, err := e.get(ctx, "/v1/audio", q)
	if err != nil {
		return nil, "", err
	}
	defer body.Close()

	audio, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("read audio segment: %w", err)
	}
	return audio, "audio/flac", nil
}

// get performs one request without internal retries; segment-level retry
// policy belongs to the pipeline.
func (e *extractor) get(ctx context.Context, path string, q url.Values) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
		if !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, apperr.Permanent(serr)
		}
		return nil, serr
	}
	return resp.Body, nil
}
