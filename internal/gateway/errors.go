package gateway

import "errors"

var (
	// ErrGatewayUnconfigured is returned when no processor credentials are
	// set. Operator misconfiguration: fatal, no retry.
	ErrGatewayUnconfigured = errors.New("gateway: payment processor not configured")

	// ErrIntentCreation is returned when the processor could not produce an
	// intent for an order. Fatal per attempt; the order must be re-priced
	// before trying again.
	ErrIntentCreation = errors.New("gateway: payment intent creation failed")

	// ErrIntentNotFound is returned when a client secret does not resolve
	// to a known intent.
	ErrIntentNotFound = errors.New("gateway: payment intent not found")

	// ErrInvalidClientSecret is returned when a client secret is malformed.
	ErrInvalidClientSecret = errors.New("gateway: invalid client secret")

	// ErrInvalidWebhookSignature is returned when webhook signature
	// verification fails.
	ErrInvalidWebhookSignature = errors.New("gateway: invalid webhook signature")
)
