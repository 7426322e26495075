package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/njordpay/njord/internal/domain"
)

// StripeProvider implements Provider using the Stripe API.
type StripeProvider struct {
	config StripeConfig
	client *client.API
}

// NewStripeProvider creates a new Stripe gateway provider.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnconfigured, err)
	}

	if config.MaxNetworkRetries == 0 {
		config.MaxNetworkRetries = 2
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(int64(config.MaxNetworkRetries)),
	})

	sc := &client.API{}
	sc.Init(config.APIKey, &stripe.Backends{API: backend})

	return &StripeProvider{
		config: config,
		client: sc,
	}, nil
}

// PublicKey returns the publishable key for the payment-collection UI.
func (s *StripeProvider) PublicKey() (string, error) {
	if s.config.PublishableKey == "" {
		return "", ErrGatewayUnconfigured
	}
	return s.config.PublishableKey, nil
}

// CreateIntent creates a Stripe PaymentIntent for a priced order.
// The order snapshot rides along as intent metadata so the webhook path can
// settle the ledger without access to the checkout session.
func (s *StripeProvider) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	piParams := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(params.Order.ChargeCents()),
		Currency: stripe.String(params.Order.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	piParams.Context = ctx
	if params.IdempotencyKey != "" {
		piParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	for k, v := range MetadataFromSnapshot(params.Order.Snapshot()) {
		piParams.AddMetadata(k, v)
	}

	pi, err := s.client.PaymentIntents.New(piParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntentCreation, err)
	}

	return &Intent{
		IntentID:     pi.ID,
		ClientSecret: pi.ClientSecret,
		ChargeCents:  pi.Amount,
		Currency:     string(pi.Currency),
		CreatedAt:    time.Unix(pi.Created, 0).UTC(),
	}, nil
}

// Confirm submits a payment method for the intent and maps Stripe's verdict
// onto the gateway's three-way status. Card declines are an outcome here,
// not an error: the decline reason goes back to the UI verbatim.
func (s *StripeProvider) Confirm(ctx context.Context, params ConfirmParams) (*ConfirmResult, error) {
	intentID, err := IntentIDFromClientSecret(params.ClientSecret)
	if err != nil {
		return nil, err
	}

	confirmParams := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(params.PaymentMethodID),
	}
	confirmParams.Context = ctx

	pi, err := s.client.PaymentIntents.Confirm(intentID, confirmParams)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeCardDeclined {
			return &ConfirmResult{
				IntentID:      intentID,
				Status:        StatusFailed,
				DeclineReason: declineReason(stripeErr),
			}, nil
		}
		return nil, fmt.Errorf("stripe confirm failed for %s: %w", intentID, err)
	}

	result := &ConfirmResult{IntentID: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Status = StatusSucceeded
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		result.Status = StatusRequiresAction
	default:
		result.Status = StatusFailed
		if pi.LastPaymentError != nil {
			result.DeclineReason = declineReason(pi.LastPaymentError)
		}
	}
	return result, nil
}

// VerifyWebhookSignature verifies that a notification came from Stripe.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	if err := webhook.ValidatePayload(payload, signature, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}
	return nil
}

// IntentIDFromClientSecret extracts the intent id from a client secret of
// the form pi_xxx_secret_yyy.
func IntentIDFromClientSecret(clientSecret string) (string, error) {
	id, _, found := strings.Cut(clientSecret, "_secret")
	if !found || !strings.HasPrefix(id, "pi_") {
		return "", ErrInvalidClientSecret
	}
	return id, nil
}

func declineReason(e *stripe.Error) string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.DeclineCode != "" {
		return string(e.DeclineCode)
	}
	return string(e.Code)
}

// Metadata keys carrying the order snapshot on the processor intent.
const (
	metaKind         = "order_kind"
	metaAccountID    = "account_id"
	metaCreditAmount = "credit_amount"
	metaTierID       = "tier_id"
	metaChargeAmount = "charge_amount"
	metaFeeAmount    = "fee_amount"
	metaExchangeRate = "exchange_rate_snapshot"
	metaCurrency     = "currency"
)

// MetadataFromSnapshot flattens an order snapshot into intent metadata.
func MetadataFromSnapshot(s domain.OrderSnapshot) map[string]string {
	md := map[string]string{
		metaKind:         string(s.Kind),
		metaAccountID:    s.AccountID,
		metaChargeAmount: s.ChargeAmount.String(),
		metaFeeAmount:    s.FeeAmount.String(),
		metaExchangeRate: s.ExchangeRateSnapshot.String(),
		metaCurrency:     s.Currency,
	}
	switch s.Kind {
	case domain.KindCreditTopup:
		md[metaCreditAmount] = strconv.FormatInt(s.CreditAmount, 10)
	case domain.KindSubscriptionActivation:
		md[metaTierID] = s.TierID
	}
	return md
}

// SnapshotFromMetadata reconstructs the order snapshot from intent metadata.
// The webhook path settles from this, so a malformed snapshot is an error,
// not a default.
func SnapshotFromMetadata(md map[string]string) (domain.OrderSnapshot, error) {
	var snap domain.OrderSnapshot

	snap.Kind = domain.OrderKind(md[metaKind])
	snap.AccountID = md[metaAccountID]
	snap.TierID = md[metaTierID]
	snap.Currency = md[metaCurrency]

	var err error
	if snap.ChargeAmount, err = decimal.NewFromString(md[metaChargeAmount]); err != nil {
		return snap, fmt.Errorf("invalid charge_amount metadata: %w", err)
	}
	if snap.FeeAmount, err = decimal.NewFromString(md[metaFeeAmount]); err != nil {
		return snap, fmt.Errorf("invalid fee_amount metadata: %w", err)
	}
	if snap.ExchangeRateSnapshot, err = decimal.NewFromString(md[metaExchangeRate]); err != nil {
		return snap, fmt.Errorf("invalid exchange_rate_snapshot metadata: %w", err)
	}
	if raw, ok := md[metaCreditAmount]; ok {
		if snap.CreditAmount, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return snap, fmt.Errorf("invalid credit_amount metadata: %w", err)
		}
	}

	if err := snap.Validate(); err != nil {
		return snap, err
	}
	return snap, nil
}
