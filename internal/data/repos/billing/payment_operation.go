package billing

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type PaymentOperationRepo interface {
	Create(dbc dbctx.Context, op *types.PaymentOperation) (*types.PaymentOperation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PaymentOperation, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// MarkStatus transitions a pending operation to its final status. Returns
	// false when the operation already left pending, so webhook replays are
	// detected by the caller.
	MarkStatus(dbc dbctx.Context, id uuid.UUID, status types.PaymentStatus) (bool, error)
	ListForUser(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.PaymentOperation, error)
}

type paymentOperationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPaymentOperationRepo(db *gorm.DB, baseLog *logger.Logger) PaymentOperationRepo {
	return &paymentOperationRepo{
		db:  db,
		log: baseLog.With("repo", "PaymentOperationRepo"),
	}
}

func (r *paymentOperationRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *paymentOperationRepo) Create(dbc dbctx.Context, op *types.PaymentOperation) (*types.PaymentOperation, error) {
	if op == nil {
		return nil, apperr.ErrInvalidArgument
	}
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.Status == "" {
		op.Status = types.PaymentStatusPending
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(op).Error; err != nil {
		return nil, err
	}
	return op, nil
}

func (r *paymentOperationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PaymentOperation, error) {
	var op types.PaymentOperation
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *paymentOperationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.PaymentOperation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *paymentOperationRepo) MarkStatus(dbc dbctx.Context, id uuid.UUID, status types.PaymentStatus) (bool, error) {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.PaymentOperation{}).
		Where("id = ? AND status = ?", id, types.PaymentStatusPending).
		Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *paymentOperationRepo) ListForUser(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.PaymentOperation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.PaymentOperation
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
