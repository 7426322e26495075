// Package ledger records settlements and grants what a completed payment
// purchased. Settlement is idempotent: the first attempt for an intent id
// wins and applies the grant, every later attempt observes the existing
// record and applies nothing.
package ledger

import (
	"context"
	"time"

	"github.com/njordpay/njord/internal/domain"
)

// SettlementPath identifies which delivery path attempted a settlement.
type SettlementPath string

const (
	// PathClient is the synchronous path driven by the checkout flow.
	PathClient SettlementPath = "client"

	// PathWebhook is the asynchronous path driven by processor
	// notifications.
	PathWebhook SettlementPath = "webhook"
)

// SettleParams describes one settlement attempt for a payment intent.
type SettleParams struct {
	IntentID string
	Snapshot domain.OrderSnapshot
	Path     SettlementPath
}

// SettlementRecord is the durable record of a settled intent.
type SettlementRecord struct {
	IntentID       string
	Snapshot       domain.OrderSnapshot
	Path           SettlementPath
	CreditsGranted int64
	SettledAt      time.Time
}

// SettlementResult reports what a settlement attempt did.
type SettlementResult struct {
	// AlreadySettled is true when a prior attempt won and this one
	// applied nothing.
	AlreadySettled bool

	Record *SettlementRecord
}

// Ledger applies and queries settlements.
type Ledger interface {
	// Settle records a completed payment and applies its grant exactly
	// once. A repeat call with the same intent id succeeds without
	// re-applying; a repeat call with a different snapshot for the same
	// intent id fails with ECONFLICT.
	Settle(ctx context.Context, params SettleParams) (*SettlementResult, error)

	// Record returns the settlement record for an intent id, or
	// ENOTFOUND if the intent never settled.
	Record(ctx context.Context, intentID string) (*SettlementRecord, error)

	// CreditBalance returns an account's current credit balance.
	CreditBalance(ctx context.Context, accountID string) (int64, error)

	// Entitlement returns the subscription tier an account is entitled
	// to, or ENOTFOUND if no subscription ever activated.
	Entitlement(ctx context.Context, accountID string) (string, error)
}

// CreditsGranted returns the number of credits a settled snapshot yields.
// Subscription activations grant entitlement, not credits.
func CreditsGranted(snap domain.OrderSnapshot) int64 {
	if snap.Kind == domain.KindCreditTopup {
		return snap.CreditAmount
	}
	return 0
}
