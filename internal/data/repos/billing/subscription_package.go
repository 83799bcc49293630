package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type PackageRepo interface {
	Create(dbc dbctx.Context, pkg *types.SubscriptionPackage) (*types.SubscriptionPackage, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SubscriptionPackage, error)
	ActiveForUser(dbc dbctx.Context, userID uuid.UUID, now time.Time) ([]*types.SubscriptionPackage, error)
	ReserveMinutes(dbc dbctx.Context, id uuid.UUID, minutes int) (bool, error)
	ReserveVideos(dbc dbctx.Context, id uuid.UUID, videos int) (bool, error)
	RestoreMinutes(dbc dbctx.Context, id uuid.UUID, minutes int) error
	RestoreVideos(dbc dbctx.Context, id uuid.UUID, videos int) error
}

type packageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPackageRepo(db *gorm.DB, baseLog *logger.Logger) PackageRepo {
	return &packageRepo{
		db:  db,
		log: baseLog.With("repo", "PackageRepo"),
	}
}

func (r *packageRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *packageRepo) Create(dbc dbctx.Context, pkg *types.SubscriptionPackage) (*types.SubscriptionPackage, error) {
	if pkg == nil {
		return nil, apperr.ErrInvalidArgument
	}
	if pkg.ID == uuid.Nil {
		pkg.ID = uuid.New()
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(pkg).Error; err != nil {
		return nil, err
	}
	return pkg, nil
}

func (r *packageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SubscriptionPackage, error) {
	var pkg types.SubscriptionPackage
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&pkg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// ActiveForUser returns non-expired packages in consumption order: the
// soonest-expiring first, creation time as the tie-break. The gate drains
// them in exactly this order so consumption stays deterministic.
func (r *packageRepo) ActiveForUser(dbc dbctx.Context, userID uuid.UUID, now time.Time) ([]*types.SubscriptionPackage, error) {
	var out []*types.SubscriptionPackage
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Order("expires_at ASC, created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReserveMinutes decrements the remaining counter only when enough headroom
// is left, so two concurrent reservations can never oversubscribe a package.
func (r *packageRepo) ReserveMinutes(dbc dbctx.Context, id uuid.UUID, minutes int) (bool, error) {
	if minutes <= 0 {
		return false, nil
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.SubscriptionPackage{}).
		Where("id = ? AND remaining_minutes >= ?", id, minutes).
		Updates(map[string]interface{}{
			"remaining_minutes": gorm.Expr("remaining_minutes - ?", minutes),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *packageRepo) ReserveVideos(dbc dbctx.Context, id uuid.UUID, videos int) (bool, error) {
	if videos <= 0 {
		return false, nil
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.SubscriptionPackage{}).
		Where("id = ? AND remaining_videos >= ?", id, videos).
		Updates(map[string]interface{}{
			"remaining_videos": gorm.Expr("remaining_videos - ?", videos),
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *packageRepo) RestoreMinutes(dbc dbctx.Context, id uuid.UUID, minutes int) error {
	if minutes <= 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.SubscriptionPackage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"remaining_minutes": gorm.Expr("remaining_minutes + ?", minutes),
			"updated_at":        time.Now(),
		}).Error
}

func (r *packageRepo) RestoreVideos(dbc dbctx.Context, id uuid.UUID, videos int) error {
	if videos <= 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.SubscriptionPackage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"remaining_videos": gorm.Expr("remaining_videos + ?", videos),
			"updated_at":       time.Now(),
		}).Error
}
