package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestIntentState_CanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    IntentState
		to      IntentState
		allowed bool
	}{
		{"created to awaiting", IntentCreated, IntentAwaitingPayment, true},
		{"created to succeeded (zero-cost order)", IntentCreated, IntentSucceeded, true},
		{"created to processing skips collection", IntentCreated, IntentProcessing, false},
		{"awaiting to processing", IntentAwaitingPayment, IntentProcessing, true},
		{"processing to succeeded", IntentProcessing, IntentSucceeded, true},
		{"processing to failed", IntentProcessing, IntentFailed, true},
		{"processing to requires_action", IntentProcessing, IntentRequiresAction, true},
		{"requires_action loops back", IntentRequiresAction, IntentAwaitingPayment, true},
		{"requires_action exhausted", IntentRequiresAction, IntentFailed, true},
		{"succeeded is terminal", IntentSucceeded, IntentProcessing, false},
		{"failed is terminal", IntentFailed, IntentAwaitingPayment, false},
		{"no backwards edge", IntentProcessing, IntentCreated, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestIntentState_Terminal(t *testing.T) {
	for _, s := range []IntentState{IntentSucceeded, IntentFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []IntentState{IntentCreated, IntentAwaitingPayment, IntentProcessing, IntentRequiresAction} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestOrder_ChargeCents(t *testing.T) {
	order := Order{ChargeAmount: decimal.RequireFromString("10.50")}
	if got := order.ChargeCents(); got != 1050 {
		t.Errorf("ChargeCents() = %d, want 1050", got)
	}
}

func TestOrder_Free(t *testing.T) {
	free := Order{Kind: KindSubscriptionActivation, TierID: "community", ChargeAmount: decimal.Zero}
	if !free.Free() {
		t.Error("zero charge order should be free")
	}

	paid := Order{Kind: KindCreditTopup, ChargeAmount: decimal.RequireFromString("10")}
	if paid.Free() {
		t.Error("charged order should not be free")
	}
}

func TestOrderSnapshot_Equal(t *testing.T) {
	base := OrderSnapshot{
		Kind:                 KindCreditTopup,
		AccountID:            "acct_1",
		CreditAmount:         100,
		ChargeAmount:         decimal.RequireFromString("10.00"),
		FeeAmount:            decimal.RequireFromString("0.50"),
		ExchangeRateSnapshot: decimal.RequireFromString("10"),
		Currency:             "usd",
	}

	// Same value, different decimal representation.
	same := base
	same.ChargeAmount = decimal.RequireFromString("10")
	same.ExchangeRateSnapshot = decimal.RequireFromString("10.000")
	if !base.Equal(same) {
		t.Error("snapshots with equal values should compare equal")
	}

	changed := base
	changed.CreditAmount = 120
	if base.Equal(changed) {
		t.Error("snapshots with different credit amounts should differ")
	}
}

func TestOrderSnapshot_Validate(t *testing.T) {
	valid := OrderSnapshot{
		Kind:                 KindCreditTopup,
		AccountID:            "acct_1",
		CreditAmount:         100,
		ChargeAmount:         decimal.RequireFromString("10.00"),
		FeeAmount:            decimal.Zero,
		ExchangeRateSnapshot: decimal.RequireFromString("10"),
		Currency:             "usd",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid snapshot, got: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*OrderSnapshot)
	}{
		{"unknown kind", func(s *OrderSnapshot) { s.Kind = "gift_card" }},
		{"missing account", func(s *OrderSnapshot) { s.AccountID = "" }},
		{"zero credits", func(s *OrderSnapshot) { s.CreditAmount = 0 }},
		{"negative charge", func(s *OrderSnapshot) { s.ChargeAmount = decimal.RequireFromString("-1") }},
		{"zero rate", func(s *OrderSnapshot) { s.ExchangeRateSnapshot = decimal.Zero }},
		{"subscription without tier", func(s *OrderSnapshot) {
			s.Kind = KindSubscriptionActivation
			s.TierID = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
