package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	repos "github.com/artemmail/scriptor-sub002/internal/data/repos/jobs"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/http/response"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/ctxutil"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/services"
)

type JobHandler struct {
	jobs services.JobService
}

func NewJobHandler(jobs services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func requestUserID(c *gin.Context) (uuid.UUID, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("not authenticated"))
		return uuid.Nil, false
	}
	return rd.UserID, true
}

type startJobRequest struct {
	Kind      string `json:"kind" binding:"required"`
	SourceRef string `json:"source_ref" binding:"required"`
	// Minutes for transcription kinds, videos for caption kinds. Defaults to 1.
	Amount int `json:"amount"`
}

// POST /api/jobs
func (h *JobHandler) StartJob(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	var req startJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, decision, created, err := h.jobs.Start(dbc, userID, types.JobKind(req.Kind), req.SourceRef, req.Amount)
	if err != nil {
		if errors.Is(err, apperr.ErrQuotaExhausted) && decision != nil {
			c.JSON(http.StatusPaymentRequired, gin.H{"decision": decision})
			return
		}
		response.RespondAppError(c, "start_job_failed", err)
		return
	}
	payload := gin.H{"job": job, "decision": decision}
	if created {
		response.RespondCreated(c, payload)
		return
	}
	response.RespondOK(c, payload)
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	status, err := h.jobs.GetStatus(dbctx.Context{Ctx: c.Request.Context()}, jobID, userID)
	if err != nil {
		response.RespondAppError(c, "job_not_found", err)
		return
	}
	response.RespondOK(c, status)
}

// GET /api/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	f := repos.ListFilter{
		Kind:     types.JobKind(c.Query("kind")),
		Status:   types.JobStatus(c.Query("status")),
		SortBy:   c.DefaultQuery("sort_by", "created_at"),
		SortDesc: c.DefaultQuery("sort_dir", "desc") == "desc",
	}
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	f.Offset, _ = strconv.Atoi(c.Query("offset"))

	jobs, total, err := h.jobs.List(dbctx.Context{Ctx: c.Request.Context()}, userID, f)
	if err != nil {
		response.RespondAppError(c, "list_jobs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs, "total": total})
}

// GET /api/jobs/:id/render?format=
func (h *JobHandler) RenderJob(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	doc, err := h.jobs.Render(dbctx.Context{Ctx: c.Request.Context()}, jobID, userID, c.Query("format"))
	if err != nil {
		response.RespondAppError(c, "render_job_failed", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}

// POST /api/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.Cancel(dbctx.Context{Ctx: c.Request.Context()}, jobID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) && job != nil {
			// Already terminal; cancellation is a no-op.
			response.RespondOK(c, gin.H{"job": job})
			return
		}
		response.RespondAppError(c, "cancel_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}
