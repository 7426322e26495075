// Package webhook handles processor notifications: the asynchronous half of
// dual-path settlement. A payment_intent.succeeded notification settles the
// ledger independently of the checkout flow, so a crashed or disconnected
// client still gets its grant.
package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"

	"github.com/njordpay/njord/internal/alert"
	"github.com/njordpay/njord/internal/domain"
	"github.com/njordpay/njord/internal/gateway"
	"github.com/njordpay/njord/internal/ledger"
	"github.com/njordpay/njord/internal/telemetry"
)

// maxBodyBytes bounds webhook payload size, matching Stripe's guidance.
const maxBodyBytes = 65536

// StripeHandlerConfig wires a StripeHandler.
type StripeHandlerConfig struct {
	Gateway       gateway.Provider
	WebhookSecret string
	Ledger        ledger.Ledger
	Alerts        alert.Publisher
	Metrics       *telemetry.BusinessMetrics
	Logger        zerolog.Logger
}

// StripeHandler processes Stripe webhook notifications.
type StripeHandler struct {
	gateway gateway.Provider
	secret  string
	ledger  ledger.Ledger
	alerts  alert.Publisher
	metrics *telemetry.BusinessMetrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewStripeHandler creates a webhook handler.
func NewStripeHandler(cfg StripeHandlerConfig) *StripeHandler {
	if cfg.Alerts == nil {
		cfg.Alerts = alert.NoopPublisher{}
	}
	return &StripeHandler{
		gateway: cfg.Gateway,
		secret:  cfg.WebhookSecret,
		ledger:  cfg.Ledger,
		alerts:  cfg.Alerts,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "webhook").Logger(),
		now:     time.Now,
	}
}

// Handle verifies and dispatches one notification.
//
// The response code is the contract with the processor: 2xx acknowledges
// the event, anything else asks for redelivery. A failed ledger write is
// therefore a 500, never a swallowed error.
func (h *StripeHandler) Handle(c echo.Context) error {
	start := h.now()
	defer func() {
		h.metrics.WebhookDuration.Observe(h.now().Sub(start).Seconds())
	}()

	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxBodyBytes)
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read webhook payload")
		return c.NoContent(http.StatusBadRequest)
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if err := h.gateway.VerifyWebhookSignature(payload, signature, h.secret); err != nil {
		h.logger.Warn().Err(err).Msg("webhook signature verification failed")
		return c.NoContent(http.StatusBadRequest)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error().Err(err).Msg("failed to parse webhook event")
		return c.NoContent(http.StatusBadRequest)
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		return h.handleIntentSucceeded(c, event)
	case stripe.EventTypePaymentIntentPaymentFailed:
		return h.handleIntentFailed(c, event)
	default:
		h.metrics.WebhookEvents.WithLabelValues(string(event.Type), "ignored").Inc()
		h.logger.Debug().Str("type", string(event.Type)).Msg("ignoring webhook event")
		return c.NoContent(http.StatusOK)
	}
}

func (h *StripeHandler) handleIntentSucceeded(c echo.Context, event stripe.Event) error {
	eventType := string(event.Type)

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		h.metrics.WebhookEvents.WithLabelValues(eventType, "malformed").Inc()
		h.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to parse payment intent")
		return c.NoContent(http.StatusBadRequest)
	}

	snapshot, err := gateway.SnapshotFromMetadata(pi.Metadata)
	if err != nil {
		// Not one of ours, or metadata was tampered with. Redelivery
		// cannot fix either, so acknowledge and move on.
		h.metrics.WebhookEvents.WithLabelValues(eventType, "skipped").Inc()
		h.logger.Warn().Err(err).
			Str("intent_id", pi.ID).
			Msg("payment intent carries no usable order snapshot")
		return c.NoContent(http.StatusOK)
	}

	result, err := h.ledger.Settle(c.Request().Context(), ledger.SettleParams{
		IntentID: pi.ID,
		Snapshot: snapshot,
		Path:     ledger.PathWebhook,
	})
	if err != nil {
		if domain.IsCode(err, domain.ECONFLICT) {
			// The intent settled before with a different snapshot.
			// Redelivery cannot fix it and re-granting would be worse.
			h.metrics.WebhookEvents.WithLabelValues(eventType, "conflict").Inc()
			h.logger.Error().Err(err).
				Str("intent_id", pi.ID).
				Msg("webhook snapshot conflicts with recorded settlement")
			return c.NoContent(http.StatusOK)
		}

		h.metrics.WebhookEvents.WithLabelValues(eventType, "failed").Inc()
		h.metrics.SettlementDegraded.WithLabelValues(string(ledger.PathWebhook)).Inc()
		h.logger.Error().Err(err).
			Str("intent_id", pi.ID).
			Msg("webhook-path settlement failed, requesting redelivery")

		if alertErr := h.alerts.PublishSettlementDegraded(c.Request().Context(), alert.SettlementDegraded{
			IntentID:  pi.ID,
			AccountID: snapshot.AccountID,
			Path:      string(ledger.PathWebhook),
			Reason:    err.Error(),
		}); alertErr != nil {
			h.logger.Error().Err(alertErr).Msg("failed to publish alert")
		}
		return c.NoContent(http.StatusInternalServerError)
	}

	if result.AlreadySettled {
		h.metrics.DuplicateSettlements.WithLabelValues(string(ledger.PathWebhook)).Inc()
		h.metrics.WebhookEvents.WithLabelValues(eventType, "duplicate").Inc()
		h.logger.Debug().
			Str("intent_id", pi.ID).
			Str("winning_path", string(result.Record.Path)).
			Msg("intent already settled")
		return c.NoContent(http.StatusOK)
	}

	h.metrics.WebhookEvents.WithLabelValues(eventType, "settled").Inc()
	h.logger.Info().
		Str("intent_id", pi.ID).
		Str("account_id", snapshot.AccountID).
		Int64("credits_granted", result.Record.CreditsGranted).
		Msg("settled via webhook path")
	return c.NoContent(http.StatusOK)
}

func (h *StripeHandler) handleIntentFailed(c echo.Context, event stripe.Event) error {
	eventType := string(event.Type)

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		h.metrics.WebhookEvents.WithLabelValues(eventType, "malformed").Inc()
		return c.NoContent(http.StatusBadRequest)
	}

	// The checkout flow already observed the decline synchronously;
	// this is bookkeeping only.
	h.metrics.WebhookEvents.WithLabelValues(eventType, "recorded").Inc()
	logEvent := h.logger.Info().Str("intent_id", pi.ID)
	if pi.LastPaymentError != nil {
		logEvent = logEvent.Str("reason", pi.LastPaymentError.Msg)
	}
	logEvent.Msg("payment failed at processor")
	return c.NoContent(http.StatusOK)
}
