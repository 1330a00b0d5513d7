package credit

import (
	"context"
	"errors"
	"testing"
)

type fakeLedger struct {
	balance   int64
	balanceErr error
	debited   int64
	debitErr  error
}

func (l *fakeLedger) Balance(context.Context, string) (int64, error) {
	return l.balance, l.balanceErr
}

func (l *fakeLedger) Debit(_ context.Context, _ string, amount int64) error {
	if l.debitErr != nil {
		return l.debitErr
	}
	l.debited += amount
	return nil
}

func TestHasEnoughCredits_Positive(t *testing.T) {
	svc := New(&fakeLedger{balance: 10})
	ok, err := svc.HasEnoughCredits(context.Background(), "org1")
	if err != nil || !ok {
		t.Fatalf("HasEnoughCredits = %v, %v, want true, nil", ok, err)
	}
}

func TestHasEnoughCredits_ZeroOrNegativeRefuses(t *testing.T) {
	for _, balance := range []int64{0, -5} {
		svc := New(&fakeLedger{balance: balance})
		ok, err := svc.HasEnoughCredits(context.Background(), "org1")
		if err != nil || ok {
			t.Fatalf("balance %d: HasEnoughCredits = %v, %v, want false, nil", balance, ok, err)
		}
	}
}

func TestHasEnoughCredits_LedgerError(t *testing.T) {
	wantErr := errors.New("db down")
	svc := New(&fakeLedger{balanceErr: wantErr})
	_, err := svc.HasEnoughCredits(context.Background(), "org1")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestRecordUsage_PositiveDebits(t *testing.T) {
	ledger := &fakeLedger{}
	svc := New(ledger)
	if err := svc.RecordUsage(context.Background(), "org1", 42); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if ledger.debited != 42 {
		t.Fatalf("expected 42 debited, got %d", ledger.debited)
	}
}

func TestRecordUsage_NonPositiveSkipsDebit(t *testing.T) {
	for _, cost := range []int{0, -1} {
		ledger := &fakeLedger{}
		svc := New(ledger)
		if err := svc.RecordUsage(context.Background(), "org1", cost); err != nil {
			t.Fatalf("RecordUsage(%d): %v", cost, err)
		}
		if ledger.debited != 0 {
			t.Fatalf("cost %d: expected no debit, got %d", cost, ledger.debited)
		}
	}
}

func TestRecordUsage_LedgerError(t *testing.T) {
	wantErr := errors.New("db down")
	svc := New(&fakeLedger{debitErr: wantErr})
	err := svc.RecordUsage(context.Background(), "org1", 10)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
