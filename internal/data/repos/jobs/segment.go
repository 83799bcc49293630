package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type SegmentRepo interface {
	CreateBatch(dbc dbctx.Context, segments []*types.JobSegment) ([]*types.JobSegment, error)
	ListByStep(dbc dbctx.Context, stepID uuid.UUID) ([]*types.JobSegment, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobSegment, error)
	MarkProcessed(dbc dbctx.Context, segmentID uuid.UUID, fragment string) (bool, error)
	CountProcessed(dbc dbctx.Context, stepID uuid.UUID) (int64, error)
}

type segmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSegmentRepo(db *gorm.DB, baseLog *logger.Logger) SegmentRepo {
	return &segmentRepo{
		db:  db,
		log: baseLog.With("repo", "SegmentRepo"),
	}
}

func (r *segmentRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *segmentRepo) CreateBatch(dbc dbctx.Context, segments []*types.JobSegment) ([]*types.JobSegment, error) {
	if len(segments) == 0 {
		return []*types.JobSegment{}, nil
	}
	for _, s := range segments {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&segments).Error; err != nil {
		return nil, err
	}
	return segments, nil
}

func (r *segmentRepo) ListByStep(dbc dbctx.Context, stepID uuid.UUID) ([]*types.JobSegment, error) {
	var out []*types.JobSegment
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("step_id = ?", stepID).
		Order("idx ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *segmentRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobSegment, error) {
	var out []*types.JobSegment
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("idx ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkProcessed persists a segment checkpoint. The processed=false guard
// makes reprocessing after a crash a harmless no-op: the first fragment
// written for a segment is the one that sticks.
func (r *segmentRepo) MarkProcessed(dbc dbctx.Context, segmentID uuid.UUID, fragment string) (bool, error) {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobSegment{}).
		Where("id = ? AND processed = ?", segmentID, false).
		Updates(map[string]interface{}{
			"processed":  true,
			"fragment":   fragment,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *segmentRepo) CountProcessed(dbc dbctx.Context, stepID uuid.UUID) (int64, error) {
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobSegment{}).
		Where("step_id = ? AND processed = ?", stepID, true).
		Count(&n).Error
	return n, err
}
