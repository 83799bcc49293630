// Package renderer talks to the external document generator, which turns
// composed markdown into the binary formats (pdf, docx) this service does
// not produce itself.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/httpx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type Renderer interface {
	// Render converts markdown content into the requested binary format and
	// returns the document bytes with their content type.
	Render(ctx context.Context, content, format string) ([]byte, string, error)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("document renderer returned %d: %s", e.code, e.body)
}

func (e *statusError) HTTPStatusCode() int { return e.code }

type renderer struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	hc      *http.Client
}

func NewRenderer(log *logger.Logger) (Renderer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	base := strings.TrimRight(strings.TrimSpace(os.Getenv("DOCUMENT_RENDERER_URL")), "/")
	if base == "" {
		return nil, fmt.Errorf("missing DOCUMENT_RENDERER_URL")
	}
	return &renderer{
		log:     log.With("service", "DocumentRenderer"),
		baseURL: base,
		apiKey:  strings.TrimSpace(os.Getenv("DOCUMENT_RENDERER_API_KEY")),
		hc:      &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (r *renderer) Render(ctx context.Context, content, format string) ([]byte, string, error) {
	payload, err := json.Marshal(map[string]string{
		"content": content,
		"format":  format,
	})
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/render", bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
		if !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, "", apperr.Permanent(serr)
		}
		return nil, "", serr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read rendered document: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return data, ct, nil
}
