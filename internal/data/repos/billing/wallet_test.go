package billing_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/artemmail/scriptor-sub002/internal/data/repos/billing"
	"github.com/artemmail/scriptor-sub002/internal/data/repos/testutil"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
)

func walletRepo(t *testing.T) (billing.WalletRepo, dbctx.Context) {
	t.Helper()
	dbc := testutil.Tx(t)
	return billing.NewWalletRepo(testutil.DB(t), testutil.Logger(t)), dbc
}

func TestGetOrCreateWallet(t *testing.T) {
	repo, dbc := walletRepo(t)
	userID := uuid.New()

	w, err := repo.GetOrCreate(dbc, userID)
	if err != nil {
		t.Fatalf("first get or create: %v", err)
	}
	if w.BalanceCents != 0 {
		t.Fatalf("new wallet balance = %d, want 0", w.BalanceCents)
	}

	again, err := repo.GetOrCreate(dbc, userID)
	if err != nil {
		t.Fatalf("second get or create: %v", err)
	}
	if again.ID != w.ID {
		t.Fatal("second call must return the same wallet")
	}
}

func TestDebitGuardsBalance(t *testing.T) {
	repo, dbc := walletRepo(t)
	userID := uuid.New()
	testutil.SeedWallet(t, dbc, userID, 100)
	jobID := uuid.New()

	ok, err := repo.Debit(dbc, userID, 60, &jobID, "job admission")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !ok {
		t.Fatal("debit within balance should succeed")
	}

	// 40 cents left; another 60-cent debit must be refused, balance untouched.
	ok, err = repo.Debit(dbc, userID, 60, &jobID, "job admission")
	if err != nil {
		t.Fatalf("second debit: %v", err)
	}
	if ok {
		t.Fatal("overdraft debit must be refused")
	}

	w, err := repo.Get(dbc, userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.BalanceCents != 40 {
		t.Fatalf("balance = %d, want 40", w.BalanceCents)
	}
}

func TestDebitWritesLedgerEntry(t *testing.T) {
	repo, dbc := walletRepo(t)
	userID := uuid.New()
	testutil.SeedWallet(t, dbc, userID, 500)
	jobID := uuid.New()

	if _, err := repo.Debit(dbc, userID, 120, &jobID, "job admission"); err != nil {
		t.Fatalf("debit: %v", err)
	}

	has, err := repo.HasTransactionForJob(dbc, jobID, types.WalletTxDebit)
	if err != nil {
		t.Fatalf("has tx for job: %v", err)
	}
	if !has {
		t.Fatal("debit must leave a ledger entry keyed by job id")
	}

	txs, err := repo.ListTransactions(dbc, userID, 10, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].AmountCents != 120 || txs[0].Type != types.WalletTxDebit {
		t.Fatalf("unexpected ledger: %+v", txs)
	}
}

func TestCreditAndReferenceIdempotencyCheck(t *testing.T) {
	repo, dbc := walletRepo(t)
	userID := uuid.New()
	testutil.SeedWallet(t, dbc, userID, 0)

	ref := "payment:" + uuid.NewString()
	has, err := repo.HasTransactionForReference(dbc, userID, ref)
	if err != nil {
		t.Fatalf("has tx before credit: %v", err)
	}
	if has {
		t.Fatal("reference should be unknown before the credit")
	}

	if err := repo.Credit(dbc, userID, 250, types.WalletTxDeposit, nil, ref); err != nil {
		t.Fatalf("credit: %v", err)
	}

	has, err = repo.HasTransactionForReference(dbc, userID, ref)
	if err != nil {
		t.Fatalf("has tx after credit: %v", err)
	}
	if !has {
		t.Fatal("credit must be findable by its reference")
	}

	w, err := repo.Get(dbc, userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.BalanceCents != 250 {
		t.Fatalf("balance = %d, want 250", w.BalanceCents)
	}
}

func TestRefundCreditKeyedByJob(t *testing.T) {
	repo, dbc := walletRepo(t)
	userID := uuid.New()
	testutil.SeedWallet(t, dbc, userID, 100)
	jobID := uuid.New()

	if _, err := repo.Debit(dbc, userID, 100, &jobID, "job admission"); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := repo.Credit(dbc, userID, 100, types.WalletTxRefund, &jobID, "job refund"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	has, err := repo.HasTransactionForJob(dbc, jobID, types.WalletTxRefund)
	if err != nil {
		t.Fatalf("has refund: %v", err)
	}
	if !has {
		t.Fatal("refund must be keyed by the job id")
	}

	w, err := repo.Get(dbc, userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.BalanceCents != 100 {
		t.Fatalf("balance = %d, want 100 after refund", w.BalanceCents)
	}
}
