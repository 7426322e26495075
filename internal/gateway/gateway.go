package gateway

import (
	"context"
	"time"

	"github.com/njordpay/njord/internal/domain"
)

// Provider defines the interface to the external payment processor.
// Implementations can use Stripe, or a mock for tests and local dev.
type Provider interface {
	// PublicKey returns the publishable key the payment-collection UI
	// needs. Fails with ErrGatewayUnconfigured if the operator never set
	// one; there is no point retrying that.
	PublicKey() (string, error)

	// CreateIntent creates a payment intent for a priced order.
	// Returns the intent id and the session-scoped client secret.
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)

	// Confirm submits collected payment details for the intent identified
	// by its client secret. The returned status is the processor's verdict:
	// succeeded, failed (with a decline reason), or requires_action.
	Confirm(ctx context.Context, params ConfirmParams) (*ConfirmResult, error)

	// VerifyWebhookSignature verifies that a notification request is
	// authentic before the webhook handler trusts its payload.
	VerifyWebhookSignature(payload []byte, signature string, secret string) error
}

// CreateIntentParams carries a priced order into intent creation.
type CreateIntentParams struct {
	// Order is the immutable pricing snapshot. Its settlement-relevant
	// fields travel with the intent (processor metadata) so the
	// notification path can settle without access to the checkout session.
	Order domain.Order

	// IdempotencyKey prevents duplicate intents for one checkout attempt.
	IdempotencyKey string
}

// Intent is the processor's handle for one payment attempt.
type Intent struct {
	// IntentID is the processor-issued identifier (pi_... for Stripe).
	IntentID string

	// ClientSecret is used by the payment-collection UI to confirm payment.
	// Never persisted beyond the checkout session.
	ClientSecret string

	// ChargeCents echoes the amount the processor will collect.
	ChargeCents int64

	Currency  string
	CreatedAt time.Time
}

// ConfirmParams carries client-collected payment details to confirmation.
type ConfirmParams struct {
	// ClientSecret identifies the intent being confirmed.
	ClientSecret string

	// PaymentMethodID is the processor token for the collected payment
	// details (pm_... for Stripe). Raw card data never reaches this
	// service.
	PaymentMethodID string
}

// ConfirmStatus is the processor's verdict on a confirmation attempt.
type ConfirmStatus string

const (
	StatusSucceeded      ConfirmStatus = "succeeded"
	StatusFailed         ConfirmStatus = "failed"
	StatusRequiresAction ConfirmStatus = "requires_action"
)

// ConfirmResult reports the outcome of a confirmation attempt.
type ConfirmResult struct {
	IntentID string
	Status   ConfirmStatus

	// DeclineReason is the processor's human-readable reason when Status
	// is failed. Surfaced to the UI verbatim.
	DeclineReason string
}
