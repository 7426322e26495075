package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/njordpay/njord/internal/domain"
)

func topupSnapshot(account string, credits int64) domain.OrderSnapshot {
	return domain.OrderSnapshot{
		Kind:                 domain.KindCreditTopup,
		AccountID:            account,
		CreditAmount:         credits,
		ChargeAmount:         decimal.RequireFromString("10.50"),
		FeeAmount:            decimal.RequireFromString("0.50"),
		ExchangeRateSnapshot: decimal.RequireFromString("10"),
		Currency:             "usd",
	}
}

func TestMemoryLedger_Settle_GrantsCredits(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	result, err := l.Settle(ctx, SettleParams{
		IntentID: "pi_1",
		Snapshot: topupSnapshot("acct_1", 100),
		Path:     PathClient,
	})
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if result.AlreadySettled {
		t.Error("first settlement should not report AlreadySettled")
	}
	if result.Record.CreditsGranted != 100 {
		t.Errorf("CreditsGranted = %d, want 100", result.Record.CreditsGranted)
	}
	if result.Record.SettledAt.Location() != time.UTC {
		t.Errorf("SettledAt location = %v, want UTC", result.Record.SettledAt.Location())
	}

	balance, err := l.CreditBalance(ctx, "acct_1")
	if err != nil {
		t.Fatalf("CreditBalance() error = %v", err)
	}
	if balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}
}

func TestMemoryLedger_Settle_Idempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	snap := topupSnapshot("acct_1", 100)

	first, err := l.Settle(ctx, SettleParams{IntentID: "pi_1", Snapshot: snap, Path: PathClient})
	if err != nil {
		t.Fatalf("first Settle() error = %v", err)
	}

	// The webhook path arrives second with the same snapshot.
	second, err := l.Settle(ctx, SettleParams{IntentID: "pi_1", Snapshot: snap, Path: PathWebhook})
	if err != nil {
		t.Fatalf("second Settle() error = %v", err)
	}
	if !second.AlreadySettled {
		t.Error("second settlement should report AlreadySettled")
	}
	if second.Record.Path != first.Record.Path {
		t.Errorf("record path = %q, want the winner's %q", second.Record.Path, first.Record.Path)
	}

	balance, _ := l.CreditBalance(ctx, "acct_1")
	if balance != 100 {
		t.Errorf("balance = %d, want 100 (grant must apply once)", balance)
	}
}

func TestMemoryLedger_Settle_SnapshotMismatch(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if _, err := l.Settle(ctx, SettleParams{IntentID: "pi_1", Snapshot: topupSnapshot("acct_1", 100), Path: PathClient}); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}

	_, err := l.Settle(ctx, SettleParams{IntentID: "pi_1", Snapshot: topupSnapshot("acct_1", 500), Path: PathWebhook})
	if !domain.IsCode(err, domain.ECONFLICT) {
		t.Errorf("expected ECONFLICT for mismatched snapshot, got %v", err)
	}

	balance, _ := l.CreditBalance(ctx, "acct_1")
	if balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}
}

func TestMemoryLedger_Settle_EquivalentDecimalsMatch(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	snap := topupSnapshot("acct_1", 100)
	if _, err := l.Settle(ctx, SettleParams{IntentID: "pi_1", Snapshot: snap, Path: PathClient}); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}

	// Same values, different decimal representation.
	snap.ExchangeRateSnapshot = decimal.RequireFromString("10.000")
	result, err := l.Settle(ctx, SettleParams{IntentID: "pi_1", Snapshot: snap, Path: PathWebhook})
	if err != nil {
		t.Fatalf("Settle() with equivalent snapshot error = %v", err)
	}
	if !result.AlreadySettled {
		t.Error("equivalent snapshot should be treated as a duplicate, not a conflict")
	}
}

func TestMemoryLedger_Settle_Subscription(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	snap := domain.OrderSnapshot{
		Kind:         domain.KindSubscriptionActivation,
		AccountID:    "acct_1",
		TierID:       "pro",
		ChargeAmount: decimal.RequireFromString("30.86"),
		FeeAmount:    decimal.RequireFromString("0.87"),
		Currency:     "usd",
	}

	result, err := l.Settle(ctx, SettleParams{IntentID: "pi_sub", Snapshot: snap, Path: PathClient})
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if result.Record.CreditsGranted != 0 {
		t.Errorf("subscription should grant no credits, got %d", result.Record.CreditsGranted)
	}

	tier, err := l.Entitlement(ctx, "acct_1")
	if err != nil {
		t.Fatalf("Entitlement() error = %v", err)
	}
	if tier != "pro" {
		t.Errorf("entitlement = %q, want pro", tier)
	}
}

func TestMemoryLedger_Settle_Invalid(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if _, err := l.Settle(ctx, SettleParams{Snapshot: topupSnapshot("acct_1", 100)}); !domain.IsCode(err, domain.EINVALID) {
		t.Errorf("expected EINVALID for missing intent id, got %v", err)
	}

	bad := topupSnapshot("", 100)
	if _, err := l.Settle(ctx, SettleParams{IntentID: "pi_1", Snapshot: bad}); !domain.IsCode(err, domain.EINVALID) {
		t.Errorf("expected EINVALID for invalid snapshot, got %v", err)
	}
}

func TestMemoryLedger_Record(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if _, err := l.Record(ctx, "pi_missing"); !domain.IsCode(err, domain.ENOTFOUND) {
		t.Errorf("expected ENOTFOUND, got %v", err)
	}

	if _, err := l.Settle(ctx, SettleParams{IntentID: "pi_1", Snapshot: topupSnapshot("acct_1", 100), Path: PathWebhook}); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}

	record, err := l.Record(ctx, "pi_1")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if record.Path != PathWebhook {
		t.Errorf("Path = %q, want %q", record.Path, PathWebhook)
	}
}

// Both settlement paths race for the same intent: exactly one attempt may
// apply the grant, every other attempt must observe AlreadySettled.
func TestMemoryLedger_Settle_ConcurrentRace(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	snap := topupSnapshot("acct_1", 100)

	var winners atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 16; i++ {
		path := PathClient
		if i%2 == 0 {
			path = PathWebhook
		}
		g.Go(func() error {
			result, err := l.Settle(ctx, SettleParams{IntentID: "pi_race", Snapshot: snap, Path: path})
			if err != nil {
				return err
			}
			if !result.AlreadySettled {
				winners.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Settle() error = %v", err)
	}

	if winners.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", winners.Load())
	}

	balance, _ := l.CreditBalance(ctx, "acct_1")
	if balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}
}

// Distinct intents settle independently.
func TestMemoryLedger_Settle_AccumulatesAcrossIntents(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	for i := 0; i < 3; i++ {
		params := SettleParams{
			IntentID: fmt.Sprintf("pi_%d", i),
			Snapshot: topupSnapshot("acct_1", 100),
			Path:     PathClient,
		}
		if _, err := l.Settle(ctx, params); err != nil {
			t.Fatalf("Settle(%d) error = %v", i, err)
		}
	}

	balance, _ := l.CreditBalance(ctx, "acct_1")
	if balance != 300 {
		t.Errorf("balance = %d, want 300", balance)
	}
}
