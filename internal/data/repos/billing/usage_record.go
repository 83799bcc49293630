package billing

import (
	"errors"

	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type UsageRepo interface {
	GetOrCreate(dbc dbctx.Context, userID uuid.UUID, day string) (*types.UsageRecord, error)
	Get(dbc dbctx.Context, userID uuid.UUID, day string) (*types.UsageRecord, error)
	AddMinutes(dbc dbctx.Context, userID uuid.UUID, day string, minutes, capMinutes int) (bool, error)
	AddVideos(dbc dbctx.Context, userID uuid.UUID, day string, videos, capVideos int) (bool, error)
	ReleaseMinutes(dbc dbctx.Context, userID uuid.UUID, day string, minutes int) error
	ReleaseVideos(dbc dbctx.Context, userID uuid.UUID, day string, videos int) error
	ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.UsageRecord, error)
}

type usageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUsageRepo(db *gorm.DB, baseLog *logger.Logger) UsageRepo {
	return &usageRepo{
		db:  db,
		log: baseLog.With("repo", "UsageRepo"),
	}
}

func (r *usageRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *usageRepo) GetOrCreate(dbc dbctx.Context, userID uuid.UUID, day string) (*types.UsageRecord, error) {
	h := r.handle(dbc).WithContext(dbc.Ctx)
	var rec types.UsageRecord
	err := h.Where("user_id = ? AND day = ?", userID, day).First(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	rec = types.UsageRecord{
		ID:     uuid.New(),
		UserID: userID,
		Day:    day,
	}
	if cErr := h.Create(&rec).Error; cErr != nil {
		// Unique (user, day) means a concurrent insert may win; re-read.
		var again types.UsageRecord
		if rErr := h.Where("user_id = ? AND day = ?", userID, day).First(&again).Error; rErr == nil {
			return &again, nil
		}
		return nil, cErr
	}
	return &rec, nil
}

func (r *usageRepo) Get(dbc dbctx.Context, userID uuid.UUID, day string) (*types.UsageRecord, error) {
	var rec types.UsageRecord
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("user_id = ? AND day = ?", userID, day).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// AddMinutes reserves free-tier minutes against the daily cap. The cap check
// lives inside the UPDATE so concurrent admissions for the last free minute
// cannot both pass.
func (r *usageRepo) AddMinutes(dbc dbctx.Context, userID uuid.UUID, day string, minutes, capMinutes int) (bool, error) {
	if minutes <= 0 {
		return false, nil
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.UsageRecord{}).
		Where("user_id = ? AND day = ? AND minutes_used + ? <= ?", userID, day, minutes, capMinutes).
		Updates(map[string]interface{}{
			"minutes_used": gorm.Expr("minutes_used + ?", minutes),
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *usageRepo) AddVideos(dbc dbctx.Context, userID uuid.UUID, day string, videos, capVideos int) (bool, error) {
	if videos <= 0 {
		return false, nil
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.UsageRecord{}).
		Where("user_id = ? AND day = ? AND videos_used + ? <= ?", userID, day, videos, capVideos).
		Updates(map[string]interface{}{
			"videos_used": gorm.Expr("videos_used + ?", videos),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *usageRepo) ReleaseMinutes(dbc dbctx.Context, userID uuid.UUID, day string, minutes int) error {
	if minutes <= 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.UsageRecord{}).
		Where("user_id = ? AND day = ? AND minutes_used >= ?", userID, day, minutes).
		Updates(map[string]interface{}{
			"minutes_used": gorm.Expr("minutes_used - ?", minutes),
			"updated_at":   time.Now(),
		}).Error
}

func (r *usageRepo) ReleaseVideos(dbc dbctx.Context, userID uuid.UUID, day string, videos int) error {
	if videos <= 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.UsageRecord{}).
		Where("user_id = ? AND day = ? AND videos_used >= ?", userID, day, videos).
		Updates(map[string]interface{}{
			"videos_used": gorm.Expr("videos_used - ?", videos),
			"updated_at":  time.Now(),
		}).Error
}

func (r *usageRepo) ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.UsageRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 31
	}
	var out []*types.UsageRecord
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("day DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
