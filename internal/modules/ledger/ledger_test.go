// README: Ledger semantics tests against the in-memory implementation.
package ledger

import (
	"context"
	"testing"

	"carpool/internal/types"
)

func money(amount int64) types.Money {
	return types.Money{Amount: amount, Currency: "TWD"}
}

func TestDebit_InsufficientFunds(t *testing.T) {
	l := NewMemoryLedger("TWD")
	ctx := context.Background()

	if _, err := l.Debit(ctx, "u1", money(100), "pay:t1"); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if _, err := l.TopUp(ctx, "u1", money(50)); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if _, err := l.Debit(ctx, "u1", money(100), "pay:t1b"); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds with partial balance, got %v", err)
	}

	// A failed debit must not touch the balance.
	b, _ := l.Balance(ctx, "u1")
	if b.Amount != 50 {
		t.Fatalf("expected balance 50 after failed debits, got %d", b.Amount)
	}
}

func TestDebit_Idempotent(t *testing.T) {
	l := NewMemoryLedger("TWD")
	ctx := context.Background()

	if _, err := l.TopUp(ctx, "u1", money(100)); err != nil {
		t.Fatalf("topup: %v", err)
	}

	tx1, err := l.Debit(ctx, "u1", money(80), "pay:trip42")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	tx2, err := l.Debit(ctx, "u1", money(80), "pay:trip42")
	if err != nil {
		t.Fatalf("repeat debit: %v", err)
	}
	if tx1 != tx2 {
		t.Fatalf("expected same transaction id for repeated key, got %s vs %s", tx1, tx2)
	}

	b, _ := l.Balance(ctx, "u1")
	if b.Amount != 20 {
		t.Fatalf("expected balance 20 after one effective debit, got %d", b.Amount)
	}
}

func TestCredit_Idempotent(t *testing.T) {
	l := NewMemoryLedger("TWD")
	ctx := context.Background()

	if _, err := l.Credit(ctx, "u1", money(30), "refund:trip7"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := l.Credit(ctx, "u1", money(30), "refund:trip7"); err != nil {
		t.Fatalf("repeat credit: %v", err)
	}

	b, _ := l.Balance(ctx, "u1")
	if b.Amount != 30 {
		t.Fatalf("expected balance 30 after duplicate refund, got %d", b.Amount)
	}
}

func TestTopUp_AlwaysMovesMoney(t *testing.T) {
	l := NewMemoryLedger("TWD")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.TopUp(ctx, "u1", money(10)); err != nil {
			t.Fatalf("topup %d: %v", i, err)
		}
	}
	b, _ := l.Balance(ctx, "u1")
	if b.Amount != 30 {
		t.Fatalf("expected balance 30 after three topups, got %d", b.Amount)
	}
}

func TestBalance_UnknownUserIsZero(t *testing.T) {
	l := NewMemoryLedger("TWD")
	b, err := l.Balance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.Amount != 0 || b.Currency != "TWD" {
		t.Fatalf("expected zero TWD balance, got %+v", b)
	}
}

func TestKindForKey(t *testing.T) {
	cases := []struct {
		key   string
		debit bool
		want  Kind
	}{
		{"pay:abc", true, KindPayment},
		{"refund:abc", false, KindRefund},
		{"earn:abc", false, KindEarning},
		{"pay-reversal:abc", false, KindRefund},
		{"topup:abc", false, KindTopUp},
		{"refund-reversal:abc", true, KindPayment},
	}
	for _, tc := range cases {
		if got := kindForKey(tc.key, tc.debit); got != tc.want {
			t.Errorf("kindForKey(%q, %v) = %s, want %s", tc.key, tc.debit, got, tc.want)
		}
	}
}
