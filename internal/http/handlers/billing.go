package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/artemmail/scriptor-sub002/internal/http/response"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/services"
)

type BillingHandler struct {
	billing services.BillingService
}

func NewBillingHandler(billing services.BillingService) *BillingHandler {
	return &BillingHandler{billing: billing}
}

// GET /api/billing/wallet
func (h *BillingHandler) GetWallet(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	wallet, err := h.billing.GetWallet(dbctx.Context{Ctx: c.Request.Context()}, userID)
	if err != nil {
		response.RespondAppError(c, "get_wallet_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"wallet": wallet})
}

// GET /api/billing/transactions
func (h *BillingHandler) ListTransactions(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	txs, err := h.billing.ListTransactions(dbctx.Context{Ctx: c.Request.Context()}, userID, limit, offset)
	if err != nil {
		response.RespondAppError(c, "list_transactions_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"transactions": txs})
}

// GET /api/billing/packages
func (h *BillingHandler) ListPackages(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	pkgs, err := h.billing.ListPackages(dbctx.Context{Ctx: c.Request.Context()}, userID)
	if err != nil {
		response.RespondAppError(c, "list_packages_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"packages": pkgs})
}

// GET /api/billing/usage
func (h *BillingHandler) ListUsage(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	usage, err := h.billing.ListUsage(dbctx.Context{Ctx: c.Request.Context()}, userID, limit)
	if err != nil {
		response.RespondAppError(c, "list_usage_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"usage": usage})
}

type depositRequest struct {
	AmountCents int64  `json:"amount_cents" binding:"required"`
	Currency    string `json:"currency"`
}

// POST /api/billing/deposit
func (h *BillingHandler) StartDeposit(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	op, err := h.billing.StartDeposit(dbctx.Context{Ctx: c.Request.Context()}, userID, req.AmountCents, req.Currency)
	if err != nil {
		response.RespondAppError(c, "start_deposit_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"operation": op})
}

type grantPackageRequest struct {
	UserID    uuid.UUID `json:"user_id" binding:"required"`
	Minutes   int       `json:"minutes"`
	Videos    int       `json:"videos"`
	ExpiresAt time.Time `json:"expires_at" binding:"required"`
}

// POST /api/admin/packages
func (h *BillingHandler) GrantPackage(c *gin.Context) {
	if _, ok := requestUserID(c); !ok {
		return
	}
	var req grantPackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	pkg, err := h.billing.GrantPackage(dbctx.Context{Ctx: c.Request.Context()}, req.UserID, req.Minutes, req.Videos, req.ExpiresAt)
	if err != nil {
		response.RespondAppError(c, "grant_package_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"package": pkg})
}
