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

type WalletRepo interface {
	GetOrCreate(dbc dbctx.Context, userID uuid.UUID) (*types.Wallet, error)
	Get(dbc dbctx.Context, userID uuid.UUID) (*types.Wallet, error)
	Debit(dbc dbctx.Context, userID uuid.UUID, amountCents int64, jobID *uuid.UUID, reference string) (bool, error)
	Credit(dbc dbctx.Context, userID uuid.UUID, amountCents int64, txType types.WalletTransactionType, jobID *uuid.UUID, reference string) error
	HasTransactionForJob(dbc dbctx.Context, jobID uuid.UUID, txType types.WalletTransactionType) (bool, error)
	HasTransactionForReference(dbc dbctx.Context, userID uuid.UUID, reference string) (bool, error)
	ListTransactions(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.WalletTransaction, error)
}

type walletRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWalletRepo(db *gorm.DB, baseLog *logger.Logger) WalletRepo {
	return &walletRepo{
		db:  db,
		log: baseLog.With("repo", "WalletRepo"),
	}
}

func (r *walletRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *walletRepo) GetOrCreate(dbc dbctx.Context, userID uuid.UUID) (*types.Wallet, error) {
	h := r.handle(dbc).WithContext(dbc.Ctx)
	var w types.Wallet
	err := h.Where("user_id = ?", userID).First(&w).Error
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	w = types.Wallet{
		ID:       uuid.New(),
		UserID:   userID,
		Currency: "USD",
	}
	if err := h.Create(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *walletRepo) Get(dbc dbctx.Context, userID uuid.UUID) (*types.Wallet, error) {
	var w types.Wallet
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Debit atomically lowers the balance and appends the matching ledger entry.
// The balance guard in the UPDATE is what makes concurrent admissions safe:
// only one of two racing debits for the last cent can see rows affected > 0.
func (r *walletRepo) Debit(dbc dbctx.Context, userID uuid.UUID, amountCents int64, jobID *uuid.UUID, reference string) (bool, error) {
	if amountCents <= 0 {
		return false, nil
	}
	h := r.handle(dbc).WithContext(dbc.Ctx)
	now := time.Now()

	res := h.Model(&types.Wallet{}).
		Where("user_id = ? AND balance_cents >= ?", userID, amountCents).
		Updates(map[string]interface{}{
			"balance_cents": gorm.Expr("balance_cents - ?", amountCents),
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	tx := &types.WalletTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        types.WalletTxDebit,
		AmountCents: amountCents,
		JobID:       jobID,
		Reference:   reference,
		CreatedAt:   now,
	}
	if err := h.Create(tx).Error; err != nil {
		return false, err
	}
	return true, nil
}

// Credit raises the balance and appends a deposit or refund entry. Callers
// are responsible for idempotency checks (HasTransactionForJob /
// HasTransactionForReference) before crediting.
func (r *walletRepo) Credit(dbc dbctx.Context, userID uuid.UUID, amountCents int64, txType types.WalletTransactionType, jobID *uuid.UUID, reference string) error {
	if amountCents <= 0 {
		return nil
	}
	h := r.handle(dbc).WithContext(dbc.Ctx)
	now := time.Now()

	err := h.Model(&types.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance_cents": gorm.Expr("balance_cents + ?", amountCents),
			"updated_at":    now,
		}).Error
	if err != nil {
		return err
	}

	tx := &types.WalletTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        txType,
		AmountCents: amountCents,
		JobID:       jobID,
		Reference:   reference,
		CreatedAt:   now,
	}
	return h.Create(tx).Error
}

func (r *walletRepo) HasTransactionForJob(dbc dbctx.Context, jobID uuid.UUID, txType types.WalletTransactionType) (bool, error) {
	if jobID == uuid.Nil {
		return false, nil
	}
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.WalletTransaction{}).
		Where("job_id = ? AND type = ?", jobID, txType).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *walletRepo) HasTransactionForReference(dbc dbctx.Context, userID uuid.UUID, reference string) (bool, error) {
	if reference == "" {
		return false, nil
	}
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.WalletTransaction{}).
		Where("user_id = ? AND reference = ?", userID, reference).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *walletRepo) ListTransactions(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.WalletTransaction
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
