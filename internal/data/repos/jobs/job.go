package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

// ListFilter narrows and orders job listings. SortBy is validated against a
// whitelist so callers cannot inject arbitrary SQL.
type ListFilter struct {
	OwnerUserID uuid.UUID
	Kind        types.JobKind
	Status      types.JobStatus
	SortBy      string
	SortDesc    bool
	Limit       int
	Offset      int
}

type JobRepo interface {
	Create(dbc dbctx.Context, job *types.Job) (*types.Job, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	GetByIDForUser(dbc dbctx.Context, id, userID uuid.UUID) (*types.Job, error)
	FindReusableBySource(dbc dbctx.Context, userID uuid.UUID, kind types.JobKind, sourceRef string) (*types.Job, error)
	List(dbc dbctx.Context, f ListFilter) ([]*types.Job, int64, error)
	ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.Job, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	RequestCancel(dbc dbctx.Context, id, userID uuid.UUID) (bool, error)
	IncrementSegmentsDone(dbc dbctx.Context, id uuid.UUID) error
	MarkSettled(dbc dbctx.Context, id uuid.UUID) (bool, error)
	FindUnsettledTerminal(dbc dbctx.Context, limit int) ([]*types.Job, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobRepo) Create(dbc dbctx.Context, job *types.Job) (*types.Job, error) {
	if job == nil {
		return nil, apperr.ErrInvalidArgument
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobStatusCreated
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(job).Error; err != nil {
		// The live-source unique index rejects a second job for the same
		// owner, kind and source while one is still in flight or done.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("job for this source already exists: %w", apperr.ErrConflict)
		}
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	var job types.Job
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) GetByIDForUser(dbc dbctx.Context, id, userID uuid.UUID) (*types.Job, error) {
	var job types.Job
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ? AND owner_user_id = ?", id, userID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindReusableBySource returns an existing non-error job for the same owner,
// kind and source so repeated submissions stay idempotent.
func (r *jobRepo) FindReusableBySource(dbc dbctx.Context, userID uuid.UUID, kind types.JobKind, sourceRef string) (*types.Job, error) {
	if userID == uuid.Nil || sourceRef == "" {
		return nil, nil
	}
	var job types.Job
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("owner_user_id = ? AND kind = ? AND source_ref = ? AND status <> ?",
			userID, kind, sourceRef, types.JobStatusError).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

var listSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"status":     "status",
	"kind":       "kind",
}

func (r *jobRepo) List(dbc dbctx.Context, f ListFilter) ([]*types.Job, int64, error) {
	q := r.handle(dbc).WithContext(dbc.Ctx).Model(&types.Job{})
	if f.OwnerUserID != uuid.Nil {
		q = q.Where("owner_user_id = ?", f.OwnerUserID)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	col, ok := listSortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var out []*types.Job
	if err := q.Order(col + " " + dir).Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ClaimNextRunnable atomically hands exactly one eligible job to the calling
// worker. Eligible means freshly created, or running with a heartbeat so old
// the previous worker must have died. The SKIP LOCKED read plus conditional
// update keeps the single-writer invariant across processes.
func (r *jobRepo) ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.Job, error) {
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.Job
	err := r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.JobStatusCreated, types.JobStatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.Job{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = types.JobStatusRunning
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessTerminal refuses to overwrite done/error rows so a late
// worker cannot resurrect a finished job.
func (r *jobRepo) UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ? AND status NOT IN ?", id, []types.JobStatus{types.JobStatusDone, types.JobStatusError}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// RequestCancel flips the cancellation flag on a non-terminal job owned by
// userID. The engine observes the flag between segments.
func (r *jobRepo) RequestCancel(dbc dbctx.Context, id, userID uuid.UUID) (bool, error) {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ? AND owner_user_id = ? AND status NOT IN ?",
			id, userID, []types.JobStatus{types.JobStatusDone, types.JobStatusError}).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementSegmentsDone bumps the denormalized progress counter. The counter
// only moves forward and is clamped by segments_total.
func (r *jobRepo) IncrementSegmentsDone(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ? AND segments_done < segments_total", id).
		Updates(map[string]interface{}{
			"segments_done": gorm.Expr("segments_done + 1"),
			"updated_at":    time.Now(),
		}).Error
}

// MarkSettled is the settlement idempotency gate: the first caller wins the
// settled_at CAS, every later caller sees zero rows affected.
func (r *jobRepo) MarkSettled(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ? AND settled_at IS NULL", id).
		Updates(map[string]interface{}{
			"settled_at": time.Now(),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindUnsettledTerminal surfaces jobs whose settlement was interrupted, for
// the startup sweep.
func (r *jobRepo) FindUnsettledTerminal(dbc dbctx.Context, limit int) ([]*types.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.Job
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("status IN ? AND settled_at IS NULL",
			[]types.JobStatus{types.JobStatusDone, types.JobStatusError}).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
