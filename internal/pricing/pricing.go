// Package pricing resolves purchase requests into priced, immutable orders.
//
// Pricing happens exactly once per order, immediately before payment intent
// creation. The resolved order carries the exchange rate snapshot that later
// settlement is bound to.
package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/njordpay/njord/internal/domain"
)

// RateSource supplies the current credits-per-currency-unit exchange rate.
type RateSource interface {
	CurrentRate(ctx context.Context) (decimal.Decimal, error)
}

// StaticRateSource returns a fixed, operator-configured rate.
type StaticRateSource struct {
	Rate decimal.Decimal
}

func (s StaticRateSource) CurrentRate(ctx context.Context) (decimal.Decimal, error) {
	if !s.Rate.IsPositive() {
		return decimal.Zero, domain.Internal(nil, "pricing.rate", "exchange rate is not configured")
	}
	return s.Rate, nil
}

// FeePolicy computes the processing fee added on top of the base amount.
// Fee is a percentage of the base with a floor, so small purchases still
// cover the processor's fixed per-transaction cost. Free orders carry no fee.
type FeePolicy struct {
	// Percent is the fee rate, e.g. 2.9 for 2.9%.
	Percent decimal.Decimal

	// Minimum is the smallest nonzero fee, in currency units.
	Minimum decimal.Decimal
}

// Fee returns the fee for a base amount, rounded to cents.
func (p FeePolicy) Fee(base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	fee := base.Mul(p.Percent).Div(decimal.NewFromInt(100)).Round(2)
	if fee.LessThan(p.Minimum) {
		return p.Minimum
	}
	return fee
}

// PurchaseRequest is an unpriced purchase as submitted by a client.
type PurchaseRequest struct {
	Kind         domain.OrderKind
	AccountID    string
	CreditAmount int64
	TierID       string
}

// Resolver prices purchase requests.
type Resolver struct {
	rates RateSource
	tiers *TierCatalog
	fees  FeePolicy
	now   func() time.Time
}

// NewResolver creates a pricing resolver.
func NewResolver(rates RateSource, tiers *TierCatalog, fees FeePolicy) *Resolver {
	return &Resolver{
		rates: rates,
		tiers: tiers,
		fees:  fees,
		now:   time.Now,
	}
}

// Price resolves a purchase request into an order. The returned order is
// authoritative: its amounts and rate snapshot never change, no matter how
// long the payment takes to complete.
func (r *Resolver) Price(ctx context.Context, req PurchaseRequest) (*domain.Order, error) {
	const op = "pricing.price"

	if req.AccountID == "" {
		return nil, domain.Invalid(op, "account id is required")
	}

	order := &domain.Order{
		Kind:      req.Kind,
		AccountID: req.AccountID,
		Currency:  "usd",
		CreatedAt: r.now(),
	}

	rate, err := r.rates.CurrentRate(ctx)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to resolve exchange rate")
	}
	order.ExchangeRateSnapshot = rate

	var base decimal.Decimal
	switch req.Kind {
	case domain.KindCreditTopup:
		if req.CreditAmount <= 0 {
			return nil, domain.Invalid(op, "credit amount must be positive")
		}
		order.CreditAmount = req.CreditAmount
		base = decimal.NewFromInt(req.CreditAmount).Div(rate).Round(2)

	case domain.KindSubscriptionActivation:
		tier, err := r.tiers.Tier(req.TierID)
		if err != nil {
			return nil, err
		}
		order.TierID = tier.ID
		base = tier.Price

	default:
		return nil, domain.Invalid(op, "unknown order kind")
	}

	order.FeeAmount = r.fees.Fee(base)
	order.ChargeAmount = base.Add(order.FeeAmount)
	return order, nil
}
