package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type StepRepo interface {
	CreateForJob(dbc dbctx.Context, steps []*types.JobStep) ([]*types.JobStep, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobStep, error)
	GetByJobAndKind(dbc dbctx.Context, jobID uuid.UUID, kind string) (*types.JobStep, error)
	MarkRunning(dbc dbctx.Context, stepID uuid.UUID) error
	MarkSucceeded(dbc dbctx.Context, stepID uuid.UUID) error
	MarkFailed(dbc dbctx.Context, stepID uuid.UUID, errMsg string) error
}

type stepRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStepRepo(db *gorm.DB, baseLog *logger.Logger) StepRepo {
	return &stepRepo{
		db:  db,
		log: baseLog.With("repo", "StepRepo"),
	}
}

func (r *stepRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *stepRepo) CreateForJob(dbc dbctx.Context, steps []*types.JobStep) ([]*types.JobStep, error) {
	if len(steps) == 0 {
		return []*types.JobStep{}, nil
	}
	for _, s := range steps {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if s.Status == "" {
			s.Status = types.StepStatusPending
		}
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *stepRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobStep, error) {
	var out []*types.JobStep
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("idx ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *stepRepo) GetByJobAndKind(dbc dbctx.Context, jobID uuid.UUID, kind string) (*types.JobStep, error) {
	var step types.JobStep
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("job_id = ? AND kind = ?", jobID, kind).
		First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// MarkRunning enforces the ordering invariant: a step may not start while an
// earlier step of the same job is not succeeded.
func (r *stepRepo) MarkRunning(dbc dbctx.Context, stepID uuid.UUID) error {
	h := r.handle(dbc).WithContext(dbc.Ctx)

	var step types.JobStep
	if err := h.Where("id = ?", stepID).First(&step).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrNotFound
		}
		return err
	}
	if step.Status == types.StepStatusFailed {
		return fmt.Errorf("step %s already failed: %w", step.Kind, apperr.ErrOutOfOrder)
	}

	var blocked int64
	err := h.Model(&types.JobStep{}).
		Where("job_id = ? AND idx < ? AND status <> ?", step.JobID, step.Index, types.StepStatusSucceeded).
		Count(&blocked).Error
	if err != nil {
		return err
	}
	if blocked > 0 {
		return fmt.Errorf("step %s has unfinished predecessors: %w", step.Kind, apperr.ErrOutOfOrder)
	}

	now := time.Now()
	return h.Model(&types.JobStep{}).
		Where("id = ?", stepID).
		Updates(map[string]interface{}{
			"status":     types.StepStatusRunning,
			"started_at": now,
			"updated_at": now,
		}).Error
}

func (r *stepRepo) MarkSucceeded(dbc dbctx.Context, stepID uuid.UUID) error {
	now := time.Now()
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobStep{}).
		Where("id = ?", stepID).
		Updates(map[string]interface{}{
			"status":      types.StepStatusSucceeded,
			"error":       "",
			"finished_at": now,
			"updated_at":  now,
		}).Error
}

func (r *stepRepo) MarkFailed(dbc dbctx.Context, stepID uuid.UUID, errMsg string) error {
	now := time.Now()
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobStep{}).
		Where("id = ?", stepID).
		Updates(map[string]interface{}{
			"status":      types.StepStatusFailed,
			"error":       errMsg,
			"finished_at": now,
			"updated_at":  now,
		}).Error
}
