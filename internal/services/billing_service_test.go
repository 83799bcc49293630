package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/artemmail/scriptor-sub002/internal/clients/payment"
	billingrepos "github.com/artemmail/scriptor-sub002/internal/data/repos/billing"
	"github.com/artemmail/scriptor-sub002/internal/data/repos/testutil"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
)

type fakeGateway struct {
	url        string
	err        error
	registered int
}

func (f *fakeGateway) RegisterPayment(_ context.Context, _, _ uuid.UUID, _ int64, _ string) (string, error) {
	f.registered++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func (f *fakeGateway) VerifyWebhookSignature([]byte, string) bool { return true }

type fakeBillingNotifier struct {
	updates []uuid.UUID
}

func (f *fakeBillingNotifier) WalletUpdated(userID uuid.UUID, _ *types.Wallet) {
	f.updates = append(f.updates, userID)
}

func testBillingService(t *testing.T, gw payment.Gateway) (BillingService, *fakeBillingNotifier, billingrepos.WalletRepo, billingrepos.PaymentOperationRepo, dbctx.Context) {
	t.Helper()
	dbc := testutil.Tx(t)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	wallets := billingrepos.NewWalletRepo(db, log)
	ops := billingrepos.NewPaymentOperationRepo(db, log)
	notify := &fakeBillingNotifier{}
	svc := NewBillingService(db, log, wallets,
		billingrepos.NewPackageRepo(db, log),
		billingrepos.NewUsageRepo(db, log),
		ops, gw, notify)
	return svc, notify, wallets, ops, dbc
}

func TestStartDepositRegistersPayment(t *testing.T) {
	gw := &fakeGateway{url: "https://pay.example/checkout/1"}
	svc, _, _, ops, dbc := testBillingService(t, gw)
	userID := uuid.New()

	op, err := svc.StartDeposit(dbc, userID, 500, "usd")
	if err != nil {
		t.Fatalf("start deposit: %v", err)
	}
	if op.Status != types.PaymentStatusPending {
		t.Fatalf("status = %s, want pending until the webhook confirms", op.Status)
	}
	if op.Currency != "USD" {
		t.Fatalf("currency = %s, want normalized USD", op.Currency)
	}
	if op.PaymentURL != gw.url {
		t.Fatalf("payment_url = %q, want %q", op.PaymentURL, gw.url)
	}
	if gw.registered != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.registered)
	}

	fresh, err := ops.GetByID(dbc, op.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.PaymentURL != gw.url {
		t.Fatalf("persisted payment_url = %q, want %q", fresh.PaymentURL, gw.url)
	}
}

func TestStartDepositGatewayFailureMarksOperationFailed(t *testing.T) {
	gw := &fakeGateway{err: errors.New("gateway down")}
	svc, _, _, ops, dbc := testBillingService(t, gw)
	userID := uuid.New()

	if _, err := svc.StartDeposit(dbc, userID, 500, "USD"); err == nil {
		t.Fatal("expected the gateway failure to surface")
	}

	out, err := ops.ListForUser(dbc, userID, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].Status != types.PaymentStatusFailed {
		t.Fatalf("operations = %+v, want one failed operation", out)
	}
}

func TestStartDepositValidation(t *testing.T) {
	svc, _, _, _, dbc := testBillingService(t, &fakeGateway{url: "u"})

	if _, err := svc.StartDeposit(dbc, uuid.Nil, 500, "USD"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("nil user = %v, want ErrInvalidArgument", err)
	}
	if _, err := svc.StartDeposit(dbc, uuid.New(), 0, "USD"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("zero amount = %v, want ErrInvalidArgument", err)
	}
}

func TestConfirmDepositCreditsOnce(t *testing.T) {
	gw := &fakeGateway{url: "https://pay.example/checkout/2"}
	svc, notify, wallets, _, dbc := testBillingService(t, gw)
	userID := uuid.New()

	op, err := svc.StartDeposit(dbc, userID, 750, "USD")
	if err != nil {
		t.Fatalf("start deposit: %v", err)
	}

	event := payment.WebhookEvent{OperationID: op.ID, Status: "succeeded", AmountCents: 750, Currency: "USD"}
	if err := svc.ConfirmDeposit(dbc, event); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// The gateway retries webhooks; the replay must be a no-op.
	if err := svc.ConfirmDeposit(dbc, event); err != nil {
		t.Fatalf("replay: %v", err)
	}

	w, err := wallets.Get(dbc, userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.BalanceCents != 750 {
		t.Fatalf("balance = %d, want a single 750c credit", w.BalanceCents)
	}
	if len(notify.updates) != 1 || notify.updates[0] != userID {
		t.Fatalf("wallet notifications = %v, want one for %s", notify.updates, userID)
	}
}

func TestConfirmDepositFailedStatusDoesNotCredit(t *testing.T) {
	gw := &fakeGateway{url: "https://pay.example/checkout/3"}
	svc, notify, wallets, ops, dbc := testBillingService(t, gw)
	userID := uuid.New()

	op, err := svc.StartDeposit(dbc, userID, 500, "USD")
	if err != nil {
		t.Fatalf("start deposit: %v", err)
	}

	if err := svc.ConfirmDeposit(dbc, payment.WebhookEvent{OperationID: op.ID, Status: "failed"}); err != nil {
		t.Fatalf("confirm failed event: %v", err)
	}

	fresh, err := ops.GetByID(dbc, op.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.Status != types.PaymentStatusFailed {
		t.Fatalf("status = %s, want failed", fresh.Status)
	}

	w, err := wallets.GetOrCreate(dbc, userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.BalanceCents != 0 {
		t.Fatalf("balance = %d, want 0 after a failed payment", w.BalanceCents)
	}
	if len(notify.updates) != 0 {
		t.Fatalf("wallet notifications = %v, want none", notify.updates)
	}
}

func TestConfirmDepositUnknownOperation(t *testing.T) {
	svc, _, _, _, dbc := testBillingService(t, &fakeGateway{url: "u"})

	err := svc.ConfirmDeposit(dbc, payment.WebhookEvent{OperationID: uuid.New(), Status: "succeeded"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown operation = %v, want ErrNotFound", err)
	}
}

func TestGrantPackage(t *testing.T) {
	svc, _, _, _, dbc := testBillingService(t, &fakeGateway{url: "u"})
	userID := uuid.New()

	pkg, err := svc.GrantPackage(dbc, userID, 120, 0, time.Now().Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if pkg.RemainingMinutes != 120 {
		t.Fatalf("remaining_minutes = %d, want 120", pkg.RemainingMinutes)
	}

	got, err := svc.ListPackages(dbc, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != pkg.ID {
		t.Fatalf("packages = %+v, want the granted one", got)
	}

	if _, err := svc.GrantPackage(dbc, userID, 0, 0, time.Now().Add(time.Hour)); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("empty grant = %v, want ErrInvalidArgument", err)
	}
	if _, err := svc.GrantPackage(dbc, userID, 10, 0, time.Now().Add(-time.Hour)); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expired grant = %v, want ErrInvalidArgument", err)
	}
}
