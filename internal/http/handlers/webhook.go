package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artemmail/scriptor-sub002/internal/clients/payment"
	"github.com/artemmail/scriptor-sub002/internal/http/response"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
	"github.com/artemmail/scriptor-sub002/internal/services"
)

type WebhookHandler struct {
	log     *logger.Logger
	billing services.BillingService
	gateway payment.Gateway
}

func NewWebhookHandler(baseLog *logger.Logger, billing services.BillingService, gateway payment.Gateway) *WebhookHandler {
	return &WebhookHandler{
		log:     baseLog.With("handler", "WebhookHandler"),
		billing: billing,
		gateway: gateway,
	}
}

// POST /webhooks/payment
//
// Unauthenticated route; the HMAC signature is the authentication. The body
// must be read raw before decoding because the signature covers the exact
// bytes the gateway sent.
func (h *WebhookHandler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	signature := c.GetHeader("X-Payment-Signature")
	if h.gateway == nil || !h.gateway.VerifyWebhookSignature(body, signature) {
		h.log.Warn("payment webhook signature rejected")
		response.RespondError(c, http.StatusUnauthorized, "invalid_signature", fmt.Errorf("signature verification failed"))
		return
	}

	var event payment.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_payload", err)
		return
	}

	if err := h.billing.ConfirmDeposit(dbctx.Context{Ctx: c.Request.Context()}, event); err != nil {
		// A retryable error must be a non-2xx so the gateway redelivers.
		response.RespondAppError(c, "confirm_deposit_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"status": "accepted"})
}
