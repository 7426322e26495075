package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/njordpay/njord/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testResolver() *Resolver {
	return NewResolver(
		StaticRateSource{Rate: dec("10")},
		DefaultTiers(),
		FeePolicy{Percent: dec("2.9"), Minimum: dec("0.50")},
	)
}

func TestResolver_Price_CreditTopup(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		credits    int64
		wantBase   string
		wantFee    string
		wantCharge string
	}{
		{
			// 100 credits at 10 credits per dollar is a $10.00 base,
			// 2.9% fee is $0.29, floored to the $0.50 minimum.
			name:       "small topup hits fee floor",
			credits:    100,
			wantBase:   "10",
			wantFee:    "0.50",
			wantCharge: "10.50",
		},
		{
			name:       "large topup uses percent fee",
			credits:    10000,
			wantBase:   "1000",
			wantFee:    "29",
			wantCharge: "1029",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := testResolver().Price(ctx, PurchaseRequest{
				Kind:         domain.KindCreditTopup,
				AccountID:    "acct_1",
				CreditAmount: tt.credits,
			})
			if err != nil {
				t.Fatalf("Price() error = %v", err)
			}
			if order.CreditAmount != tt.credits {
				t.Errorf("CreditAmount = %d, want %d", order.CreditAmount, tt.credits)
			}
			if !order.FeeAmount.Equal(dec(tt.wantFee)) {
				t.Errorf("FeeAmount = %s, want %s", order.FeeAmount, tt.wantFee)
			}
			if !order.ChargeAmount.Equal(dec(tt.wantCharge)) {
				t.Errorf("ChargeAmount = %s, want %s", order.ChargeAmount, tt.wantCharge)
			}
			if !order.ExchangeRateSnapshot.Equal(dec("10")) {
				t.Errorf("ExchangeRateSnapshot = %s, want 10", order.ExchangeRateSnapshot)
			}
		})
	}
}

func TestResolver_Price_Subscription(t *testing.T) {
	ctx := context.Background()

	order, err := testResolver().Price(ctx, PurchaseRequest{
		Kind:      domain.KindSubscriptionActivation,
		AccountID: "acct_1",
		TierID:    "pro",
	})
	if err != nil {
		t.Fatalf("Price() error = %v", err)
	}
	if order.TierID != "pro" {
		t.Errorf("TierID = %q, want pro", order.TierID)
	}
	// 29.99 * 2.9% = 0.87 after rounding.
	if !order.FeeAmount.Equal(dec("0.87")) {
		t.Errorf("FeeAmount = %s, want 0.87", order.FeeAmount)
	}
	if !order.ChargeAmount.Equal(dec("30.86")) {
		t.Errorf("ChargeAmount = %s, want 30.86", order.ChargeAmount)
	}
	if order.Free() {
		t.Error("paid tier should not produce a free order")
	}
}

func TestResolver_Price_FreeTier(t *testing.T) {
	ctx := context.Background()

	order, err := testResolver().Price(ctx, PurchaseRequest{
		Kind:      domain.KindSubscriptionActivation,
		AccountID: "acct_1",
		TierID:    "community",
	})
	if err != nil {
		t.Fatalf("Price() error = %v", err)
	}
	if !order.Free() {
		t.Error("zero-price tier should produce a free order")
	}
	if !order.FeeAmount.IsZero() {
		t.Errorf("free order FeeAmount = %s, want 0", order.FeeAmount)
	}
}

func TestResolver_Price_Invalid(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		req      PurchaseRequest
		wantCode string
	}{
		{
			name:     "missing account",
			req:      PurchaseRequest{Kind: domain.KindCreditTopup, CreditAmount: 100},
			wantCode: domain.EINVALID,
		},
		{
			name:     "zero credits",
			req:      PurchaseRequest{Kind: domain.KindCreditTopup, AccountID: "acct_1"},
			wantCode: domain.EINVALID,
		},
		{
			name:     "negative credits",
			req:      PurchaseRequest{Kind: domain.KindCreditTopup, AccountID: "acct_1", CreditAmount: -5},
			wantCode: domain.EINVALID,
		},
		{
			name:     "unknown tier",
			req:      PurchaseRequest{Kind: domain.KindSubscriptionActivation, AccountID: "acct_1", TierID: "platinum"},
			wantCode: domain.ENOTFOUND,
		},
		{
			name:     "unknown kind",
			req:      PurchaseRequest{Kind: "gift_card", AccountID: "acct_1"},
			wantCode: domain.EINVALID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testResolver().Price(ctx, tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := domain.ErrorCode(err); got != tt.wantCode {
				t.Errorf("ErrorCode = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestResolver_Price_UnconfiguredRate(t *testing.T) {
	r := NewResolver(StaticRateSource{}, DefaultTiers(), FeePolicy{})

	_, err := r.Price(context.Background(), PurchaseRequest{
		Kind:         domain.KindCreditTopup,
		AccountID:    "acct_1",
		CreditAmount: 100,
	})
	if err == nil {
		t.Fatal("expected error for unconfigured rate")
	}
	if got := domain.ErrorCode(err); got != domain.EINTERNAL {
		t.Errorf("ErrorCode = %q, want %q", got, domain.EINTERNAL)
	}
}

func TestFeePolicy_Fee(t *testing.T) {
	policy := FeePolicy{Percent: dec("2.9"), Minimum: dec("0.50")}

	if got := policy.Fee(decimal.Zero); !got.IsZero() {
		t.Errorf("Fee(0) = %s, want 0", got)
	}
	if got := policy.Fee(dec("1")); !got.Equal(dec("0.50")) {
		t.Errorf("Fee(1) = %s, want 0.50", got)
	}
	if got := policy.Fee(dec("100")); !got.Equal(dec("2.90")) {
		t.Errorf("Fee(100) = %s, want 2.90", got)
	}
}

func TestTierCatalog(t *testing.T) {
	catalog := NewTierCatalog([]Tier{
		{ID: "a", Price: decimal.Zero},
		{ID: "b", Price: dec("5")},
		{ID: "a", Price: dec("99")}, // duplicate ignored
	})

	tier, err := catalog.Tier("a")
	if err != nil {
		t.Fatalf("Tier(a) error = %v", err)
	}
	if !tier.Price.IsZero() {
		t.Errorf("duplicate id should keep the first tier, got price %s", tier.Price)
	}

	if _, err := catalog.Tier("missing"); !domain.IsCode(err, domain.ENOTFOUND) {
		t.Errorf("expected ENOTFOUND, got %v", err)
	}

	all := catalog.Tiers()
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Errorf("Tiers() = %v, want [a b] order", all)
	}
}
