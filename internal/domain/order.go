package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind identifies what a purchase buys.
type OrderKind string

const (
	// KindCreditTopup purchases a fixed number of marketplace credits.
	KindCreditTopup OrderKind = "credit_topup"

	// KindSubscriptionActivation activates a subscription tier.
	KindSubscriptionActivation OrderKind = "subscription_activation"
)

// Valid reports whether k is a known order kind.
func (k OrderKind) Valid() bool {
	return k == KindCreditTopup || k == KindSubscriptionActivation
}

// Order is an immutable snapshot of a priced purchase, produced by the
// pricing resolver immediately before intent creation.
//
// The snapshot fields are authoritative for settlement: the credits
// eventually granted are computed from ExchangeRateSnapshot captured here,
// never from a rate fetched later. A rate change between intent creation
// and settlement must not change what a completed payment yields.
type Order struct {
	// Kind determines which of CreditAmount / TierID is meaningful.
	Kind OrderKind

	// AccountID attributes the purchase to an authenticated identity.
	AccountID string

	// CreditAmount is the number of credits requested (credit_topup only).
	CreditAmount int64

	// TierID names the subscription tier (subscription_activation only).
	TierID string

	// ChargeAmount is what the payer is charged, in currency units.
	ChargeAmount decimal.Decimal

	// FeeAmount is the processing fee included in ChargeAmount.
	FeeAmount decimal.Decimal

	// ExchangeRateSnapshot is the credits-per-currency-unit rate at
	// pricing time.
	ExchangeRateSnapshot decimal.Decimal

	// Currency is the ISO 4217 code the charge is denominated in.
	Currency string

	CreatedAt time.Time
}

// Free reports whether the order requires no payment at all.
// Zero-cost subscription tiers settle directly without a payment intent.
func (o Order) Free() bool {
	return o.ChargeAmount.IsZero()
}

// ChargeCents returns the charge amount in the smallest currency unit,
// which is what the payment processor expects.
func (o Order) ChargeCents() int64 {
	return o.ChargeAmount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Snapshot extracts the settlement-relevant fields of the order.
func (o Order) Snapshot() OrderSnapshot {
	return OrderSnapshot{
		Kind:                 o.Kind,
		AccountID:            o.AccountID,
		CreditAmount:         o.CreditAmount,
		TierID:               o.TierID,
		ChargeAmount:         o.ChargeAmount,
		FeeAmount:            o.FeeAmount,
		ExchangeRateSnapshot: o.ExchangeRateSnapshot,
		Currency:             o.Currency,
	}
}

// OrderSnapshot is the portion of an Order that both settlement paths carry
// to the ledger. The ledger rejects settlement attempts whose snapshot does
// not match the first one recorded for an intent.
type OrderSnapshot struct {
	Kind                 OrderKind       `json:"kind"`
	AccountID            string          `json:"account_id"`
	CreditAmount         int64           `json:"credit_amount,omitempty"`
	TierID               string          `json:"tier_id,omitempty"`
	ChargeAmount         decimal.Decimal `json:"charge_amount"`
	FeeAmount            decimal.Decimal `json:"fee_amount"`
	ExchangeRateSnapshot decimal.Decimal `json:"exchange_rate_snapshot"`
	Currency             string          `json:"currency"`
}

// Equal reports whether two snapshots describe the same settlement payload.
// Decimal fields compare by value, not representation (10 == 10.00).
func (s OrderSnapshot) Equal(other OrderSnapshot) bool {
	return s.Kind == other.Kind &&
		s.AccountID == other.AccountID &&
		s.CreditAmount == other.CreditAmount &&
		s.TierID == other.TierID &&
		s.Currency == other.Currency &&
		s.ChargeAmount.Equal(other.ChargeAmount) &&
		s.FeeAmount.Equal(other.FeeAmount) &&
		s.ExchangeRateSnapshot.Equal(other.ExchangeRateSnapshot)
}

// Validate checks the structural invariants of a snapshot before it is
// accepted by the ledger.
func (s OrderSnapshot) Validate() error {
	if !s.Kind.Valid() {
		return Invalid("order.validate", "unknown order kind")
	}
	if s.AccountID == "" {
		return Invalid("order.validate", "account id is required")
	}
	if s.ChargeAmount.IsNegative() || s.FeeAmount.IsNegative() {
		return Invalid("order.validate", "amounts must not be negative")
	}
	switch s.Kind {
	case KindCreditTopup:
		if s.CreditAmount <= 0 {
			return Invalid("order.validate", "credit amount must be positive")
		}
		if !s.ExchangeRateSnapshot.IsPositive() {
			return Invalid("order.validate", "exchange rate snapshot must be positive")
		}
	case KindSubscriptionActivation:
		if s.TierID == "" {
			return Invalid("order.validate", "tier id is required")
		}
	}
	return nil
}
