// Package payment integrates an external card-payment gateway for wallet
// deposits. The gateway calls back via a signed webhook once a payment
// settles; deposits are credited only from that webhook.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/httpx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type Gateway interface {
	RegisterPayment(ctx context.Context, operationID, userID uuid.UUID, amountCents int64, currency string) (paymentURL string, err error)
	VerifyWebhookSignature(body []byte, signature string) bool
}

// WebhookEvent is the payload the gateway posts when a payment settles.
type WebhookEvent struct {
	OperationID uuid.UUID `json:"operation_id"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("payment gateway returned %d: %s", e.code, e.body)
}

func (e *statusError) HTTPStatusCode() int { return e.code }

type gateway struct {
	log           *logger.Logger
	baseURL       string
	apiKey        string
	webhookSecret string
	hc            *http.Client
}

func NewGateway(log *logger.Logger) (Gateway, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	base := strings.TrimRight(strings.TrimSpace(os.Getenv("PAYMENT_GATEWAY_URL")), "/")
	if base == "" {
		return nil, fmt.Errorf("missing PAYMENT_GATEWAY_URL")
	}
	secret := strings.TrimSpace(os.Getenv("PAYMENT_WEBHOOK_SECRET"))
	if secret == "" {
		return nil, fmt.Errorf("missing PAYMENT_WEBHOOK_SECRET")
	}
	return &gateway{
		log:           log.With("service", "PaymentGateway"),
		baseURL:       base,
		apiKey:        strings.TrimSpace(os.Getenv("PAYMENT_GATEWAY_API_KEY")),
		webhookSecret: secret,
		hc:            &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (g *gateway) RegisterPayment(ctx context.Context, operationID, userID uuid.UUID, amountCents int64, currency string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"operation_id": operationID.String(),
		"user_id":      userID.String(),
		"amount_cents": amountCents,
		"currency":     currency,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payments", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	// The operation id doubles as the gateway idempotency key.
	req.Header.Set("Idempotency-Key", operationID.String())

	resp, err := g.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
		if !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return "", apperr.Permanent(serr)
		}
		return "", serr
	}

	var out struct {
		PaymentURL string `json:"payment_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode payment response: %w", err)
	}
	return out.PaymentURL, nil
}

func (g *gateway) VerifyWebhookSignature(body []byte, signature string) bool {
	signature = strings.TrimSpace(strings.TrimPrefix(signature, "sha256="))
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
