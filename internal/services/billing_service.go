package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/artemmail/scriptor-sub002/internal/clients/payment"
	"github.com/artemmail/scriptor-sub002/internal/data/repos/billing"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/observability"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/ctxutil"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

func ctxOfDBC(dbc dbctx.Context) context.Context { return ctxutil.Default(dbc.Ctx) }

// depositReference builds the wallet-transaction reference for a confirmed
// gateway deposit. The operation id makes the credit idempotent across
// webhook replays.
func depositReference(operationID uuid.UUID) string {
	return "payment:" + operationID.String()
}

type BillingService interface {
	GetWallet(dbc dbctx.Context, userID uuid.UUID) (*types.Wallet, error)
	ListTransactions(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.WalletTransaction, error)
	ListPackages(dbc dbctx.Context, userID uuid.UUID) ([]*types.SubscriptionPackage, error)
	ListUsage(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.UsageRecord, error)

	// StartDeposit registers a payment with the gateway and returns the
	// operation holding the URL the user completes the payment at. Nothing is
	// credited until the gateway webhook confirms.
	StartDeposit(dbc dbctx.Context, userID uuid.UUID, amountCents int64, currency string) (*types.PaymentOperation, error)
	// ConfirmDeposit applies a verified gateway webhook event. Replayed events
	// are acknowledged without crediting twice.
	ConfirmDeposit(dbc dbctx.Context, event payment.WebhookEvent) error

	// GrantPackage creates a quota package for a user, e.g. after a
	// subscription purchase or an admin grant.
	GrantPackage(dbc dbctx.Context, userID uuid.UUID, minutes, videos int, expiresAt time.Time) (*types.SubscriptionPackage, error)
}

type billingService struct {
	db      *gorm.DB
	log     *logger.Logger
	wallets billing.WalletRepo
	pkgs    billing.PackageRepo
	usage   billing.UsageRepo
	ops     billing.PaymentOperationRepo
	gateway payment.Gateway
	notify  BillingNotifier
}

func NewBillingService(
	db *gorm.DB,
	baseLog *logger.Logger,
	wallets billing.WalletRepo,
	pkgs billing.PackageRepo,
	usage billing.UsageRepo,
	ops billing.PaymentOperationRepo,
	gateway payment.Gateway,
	notify BillingNotifier,
) BillingService {
	return &billingService{
		db:      db,
		log:     baseLog.With("service", "BillingService"),
		wallets: wallets,
		pkgs:    pkgs,
		usage:   usage,
		ops:     ops,
		gateway: gateway,
		notify:  notify,
	}
}

func (s *billingService) GetWallet(dbc dbctx.Context, userID uuid.UUID) (*types.Wallet, error) {
	if userID == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	return s.wallets.GetOrCreate(dbc, userID)
}

func (s *billingService) ListTransactions(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.WalletTransaction, error) {
	if userID == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	return s.wallets.ListTransactions(dbc, userID, limit, offset)
}

func (s *billingService) ListPackages(dbc dbctx.Context, userID uuid.UUID) ([]*types.SubscriptionPackage, error) {
	if userID == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	return s.pkgs.ActiveForUser(dbc, userID, time.Now())
}

func (s *billingService) ListUsage(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.UsageRecord, error) {
	if userID == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	return s.usage.ListForUser(dbc, userID, limit)
}

func (s *billingService) StartDeposit(dbc dbctx.Context, userID uuid.UUID, amountCents int64, currency string) (*types.PaymentOperation, error) {
	if userID == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %w", apperr.ErrInvalidArgument)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	if s.gateway == nil {
		return nil, fmt.Errorf("payment gateway not configured")
	}

	op, err := s.ops.Create(dbc, &types.PaymentOperation{
		UserID:      userID,
		AmountCents: amountCents,
		Currency:    currency,
		Status:      types.PaymentStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment operation: %w", err)
	}

	url, err := s.gateway.RegisterPayment(ctxOfDBC(dbc), op.ID, userID, amountCents, currency)
	if err != nil {
		_, _ = s.ops.MarkStatus(dbc, op.ID, types.PaymentStatusFailed)
		return nil, fmt.Errorf("register payment: %w", err)
	}
	if uErr := s.ops.UpdateFields(dbc, op.ID, map[string]interface{}{
		"payment_url": url,
		"updated_at":  time.Now(),
	}); uErr != nil {
		s.log.Warn("persist payment url failed", "operation_id", op.ID.String(), "error", uErr)
	}
	op.PaymentURL = url
	return op, nil
}

func (s *billingService) ConfirmDeposit(dbc dbctx.Context, event payment.WebhookEvent) error {
	if event.OperationID == uuid.Nil {
		return apperr.ErrInvalidArgument
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}

	var credited *types.Wallet
	var userID uuid.UUID

	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		op, err := s.ops.GetByID(inner, event.OperationID)
		if err != nil {
			return err
		}
		userID = op.UserID

		if !strings.EqualFold(event.Status, "succeeded") {
			moved, mErr := s.ops.MarkStatus(inner, op.ID, types.PaymentStatusFailed)
			if mErr != nil {
				return mErr
			}
			if moved {
				s.log.Info("deposit failed at gateway",
					"operation_id", op.ID.String(),
					"user_id", op.UserID.String(),
					"status", event.Status)
			}
			return nil
		}

		moved, err := s.ops.MarkStatus(inner, op.ID, types.PaymentStatusSucceeded)
		if err != nil {
			return err
		}
		if !moved {
			// Replayed webhook; the first delivery already credited.
			return nil
		}

		ref := depositReference(op.ID)
		exists, err := s.wallets.HasTransactionForReference(inner, op.UserID, ref)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if _, err := s.wallets.GetOrCreate(inner, op.UserID); err != nil {
			return err
		}
		if err := s.wallets.Credit(inner, op.UserID, op.AmountCents, types.WalletTxDeposit, nil, ref); err != nil {
			return fmt.Errorf("credit deposit: %w", err)
		}

		w, err := s.wallets.Get(inner, op.UserID)
		if err != nil {
			return err
		}
		credited = w
		return nil
	})
	if err != nil {
		return err
	}

	if credited != nil {
		observability.Current().DepositConfirmed()
		s.log.Info("deposit credited",
			"operation_id", event.OperationID.String(),
			"user_id", userID.String(),
			"amount_cents", credited.BalanceCents)
		if s.notify != nil {
			s.notify.WalletUpdated(userID, credited)
		}
	}
	return nil
}

func (s *billingService) GrantPackage(dbc dbctx.Context, userID uuid.UUID, minutes, videos int, expiresAt time.Time) (*types.SubscriptionPackage, error) {
	if userID == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	if minutes <= 0 && videos <= 0 {
		return nil, fmt.Errorf("package must grant minutes or videos: %w", apperr.ErrInvalidArgument)
	}
	if !expiresAt.After(time.Now()) {
		return nil, fmt.Errorf("package expiry must be in the future: %w", apperr.ErrInvalidArgument)
	}
	pkg, err := s.pkgs.Create(dbc, &types.SubscriptionPackage{
		UserID:           userID,
		RemainingMinutes: minutes,
		RemainingVideos:  videos,
		ExpiresAt:        expiresAt,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("package granted",
		"user_id", userID.String(),
		"package_id", pkg.ID.String(),
		"minutes", minutes,
		"videos", videos)
	return pkg, nil
}
