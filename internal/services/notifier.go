package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/realtime"
)

// JobNotifier pushes job lifecycle events to connected clients. Every method
// is fire-and-forget: notification failures never affect job state.
type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *types.Job)
	JobProgress(userID uuid.UUID, job *types.Job, stage string, done, total int, message string)
	JobFailed(userID uuid.UUID, job *types.Job, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *types.Job)
}

type jobNotifier struct {
	emit SSEEmitter
}

func NewJobNotifier(emit SSEEmitter) JobNotifier {
	return &jobNotifier{emit: emit}
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *types.Job) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   realtime.SSEEventJobCreated,
		Data:    map[string]any{"job": job},
	})
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *types.Job, stage string, done, total int, message string) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   realtime.SSEEventJobProgress,
		Data: map[string]any{
			"job_id":         safeJobID(job),
			"kind":           safeJobKind(job),
			"stage":          stage,
			"segments_done":  done,
			"segments_total": total,
			"message":        message,
		},
	})
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *types.Job, stage string, errorMessage string) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   realtime.SSEEventJobFailed,
		Data: map[string]any{
			"job_id": safeJobID(job),
			"kind":   safeJobKind(job),
			"stage":  stage,
			"error":  errorMessage,
		},
	})
}

func (n *jobNotifier) JobDone(userID uuid.UUID, job *types.Job) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   realtime.SSEEventJobDone,
		Data: map[string]any{
			"job_id": safeJobID(job),
			"kind":   safeJobKind(job),
			"job":    job,
		},
	})
}

// BillingNotifier announces wallet balance changes, e.g. after a confirmed
// deposit or a refund.
type BillingNotifier interface {
	WalletUpdated(userID uuid.UUID, wallet *types.Wallet)
}

type billingNotifier struct {
	emit SSEEmitter
}

func NewBillingNotifier(emit SSEEmitter) BillingNotifier {
	return &billingNotifier{emit: emit}
}

func (n *billingNotifier) WalletUpdated(userID uuid.UUID, wallet *types.Wallet) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   realtime.SSEEventWalletUpdated,
		Data:    map[string]any{"wallet": wallet},
	})
}

func safeJobID(job *types.Job) string {
	if job == nil {
		return ""
	}
	return job.ID.String()
}

func safeJobKind(job *types.Job) string {
	if job == nil {
		return ""
	}
	return string(job.Kind)
}
