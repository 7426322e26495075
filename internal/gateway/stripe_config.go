package gateway

import (
	"errors"
	"strings"
)

// StripeConfig contains configuration for the Stripe provider.
type StripeConfig struct {
	// APIKey is the Stripe secret key (sk_test_... or sk_live_...)
	APIKey string

	// PublishableKey is handed to the payment-collection UI (pk_...)
	PublishableKey string

	// WebhookSecret is the webhook signing secret (whsec_...)
	// Used to verify notification signatures from Stripe
	WebhookSecret string

	// MaxNetworkRetries is passed to the Stripe SDK for transient failures
	// Default: 2
	MaxNetworkRetries int
}

// Validate checks that required configuration is present.
func (c *StripeConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("stripe: API key is required")
	}
	if !strings.HasPrefix(c.APIKey, "sk_") {
		return errors.New("stripe: API key must be a secret key (sk_...)")
	}
	if c.PublishableKey == "" {
		return errors.New("stripe: publishable key is required")
	}
	if c.WebhookSecret == "" {
		return errors.New("stripe: webhook secret is required")
	}
	return nil
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_")
}
