// Package openai is a minimal client for OpenAI-compatible transcription
// endpoints (POST /audio/transcriptions).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/httpx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type Transcriber interface {
	TranscribeAudio(ctx context.Context, audio []byte, filename, language string) (string, error)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("openai returned %d: %s", e.code, e.body)
}

func (e *statusError) HTTPStatusCode() int { return e.code }

type transcriber struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	model   string
	hc      *http.Client
}

func NewTranscriber(log *logger.Logger) (Transcriber, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	base := strings.TrimRight(strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")), "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(os.Getenv("OPENAI_TRANSCRIBE_MODEL"))
	if model == "" {
		model = "whisper-1"
	}
	return &transcriber{
		log:     log.With("service", "OpenAITranscriber"),
		baseURL: base,
		apiKey:  apiKey,
		model:   model,
		hc:      &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (t *transcriber) TranscribeAudio(ctx context.Context, audio []byte, filename, language string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	if err := mw.WriteField("model", t.model); err != nil {
		return "", err
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", err
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
		if !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return "", apperr.Permanent(serr)
		}
		return "", serr
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
