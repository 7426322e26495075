// Package service implements the checkout reconciler: the synchronous half
// of dual-path settlement. It owns checkout sessions, drives the payment
// intent state machine, and attempts client-path settlement after the
// processor confirms a payment. The webhook handler is the other half.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/njordpay/njord/internal/alert"
	"github.com/njordpay/njord/internal/domain"
	"github.com/njordpay/njord/internal/gateway"
	"github.com/njordpay/njord/internal/ledger"
	"github.com/njordpay/njord/internal/pricing"
	"github.com/njordpay/njord/internal/telemetry"
)

const (
	defaultSessionTTL        = time.Hour
	defaultMaxActionAttempts = 3
)

// CheckoutSession is the client-visible view of one checkout.
type CheckoutSession struct {
	ID    string
	State domain.IntentState

	// Order is the priced purchase for the current intent. Retrying a
	// failed payment re-prices, so the order can change across retries.
	Order domain.Order

	IntentID     string
	ClientSecret string

	// DeclineReason carries the processor's message when State is failed.
	DeclineReason string

	ActionAttempts int

	// Settled is true once the ledger holds a record for the intent,
	// regardless of which path put it there.
	Settled bool

	// SettlementPending is true when the payment completed but the
	// client-path ledger write failed. The re-drive worker and the
	// webhook path both recover these.
	SettlementPending bool

	CreditsGranted int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

type session struct {
	CheckoutSession
	request pricing.PurchaseRequest
}

// CheckoutConfig wires a CheckoutService.
type CheckoutConfig struct {
	Pricing *pricing.Resolver
	Gateway gateway.Provider
	Ledger  ledger.Ledger
	Alerts  alert.Publisher
	Metrics *telemetry.BusinessMetrics
	Logger  zerolog.Logger

	// SessionTTL bounds how long an unfinished session is kept.
	SessionTTL time.Duration

	// MaxActionAttempts bounds requires_action round-trips per intent.
	MaxActionAttempts int
}

// CheckoutService reconciles checkout sessions against the payment
// processor and the ledger.
type CheckoutService struct {
	pricing *pricing.Resolver
	gateway gateway.Provider
	ledger  ledger.Ledger
	alerts  alert.Publisher
	metrics *telemetry.BusinessMetrics
	logger  zerolog.Logger

	sessionTTL        time.Duration
	maxActionAttempts int
	now               func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewCheckoutService creates a checkout service.
func NewCheckoutService(cfg CheckoutConfig) *CheckoutService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.MaxActionAttempts <= 0 {
		cfg.MaxActionAttempts = defaultMaxActionAttempts
	}
	if cfg.Alerts == nil {
		cfg.Alerts = alert.NoopPublisher{}
	}

	return &CheckoutService{
		pricing:           cfg.Pricing,
		gateway:           cfg.Gateway,
		ledger:            cfg.Ledger,
		alerts:            cfg.Alerts,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger.With().Str("component", "checkout").Logger(),
		sessionTTL:        cfg.SessionTTL,
		maxActionAttempts: cfg.MaxActionAttempts,
		now:               time.Now,
		sessions:          make(map[string]*session),
	}
}

// PublishableKey returns the gateway key the payment-collection UI needs.
func (s *CheckoutService) PublishableKey() (string, error) {
	key, err := s.gateway.PublicKey()
	if err != nil {
		return "", domain.WrapError(err, domain.EINTERNAL, "checkout.publishable_key", "payment gateway is not configured")
	}
	return key, nil
}

// BeginCheckout prices a purchase and opens a checkout session. For paid
// orders it creates a payment intent and returns its client secret; orders
// that cost nothing settle synchronously and come back already succeeded.
func (s *CheckoutService) BeginCheckout(ctx context.Context, req pricing.PurchaseRequest) (*CheckoutSession, error) {
	const op = "checkout.begin"

	order, err := s.pricing.Price(ctx, req)
	if err != nil {
		return nil, err
	}
	s.metrics.CheckoutsStarted.WithLabelValues(string(order.Kind)).Inc()

	now := s.now()
	sess := &session{
		CheckoutSession: CheckoutSession{
			ID:        uuid.NewString(),
			State:     domain.IntentCreated,
			Order:     *order,
			CreatedAt: now,
			UpdatedAt: now,
		},
		request: req,
	}

	if order.Free() {
		// No payment to collect, so there is no second path: the ledger
		// write must succeed here or the checkout fails outright.
		sess.IntentID = "free_" + uuid.NewString()
		result, err := s.settle(ctx, sess.IntentID, order.Snapshot(), ledger.PathClient)
		if err != nil {
			return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to activate free order")
		}
		sess.State = domain.IntentSucceeded
		sess.Settled = true
		sess.CreditsGranted = result.Record.CreditsGranted
		s.store(sess)
		view := sess.CheckoutSession
		return &view, nil
	}

	intent, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentParams{
		Order:          *order,
		IdempotencyKey: sess.ID,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", req.AccountID).Msg("intent creation failed")
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to start payment, please try again")
	}

	sess.IntentID = intent.IntentID
	sess.ClientSecret = intent.ClientSecret
	sess.State = domain.IntentAwaitingPayment
	s.store(sess)

	s.logger.Info().
		Str("session_id", sess.ID).
		Str("intent_id", sess.IntentID).
		Str("kind", string(order.Kind)).
		Msg("checkout started")

	view := sess.CheckoutSession
	return &view, nil
}

// SubmitPayment confirms a payment method against the session's intent and
// reconciles the outcome. On success the client path attempts settlement;
// a failed ledger write is absorbed, because the webhook path and the
// re-drive worker will recover it.
func (s *CheckoutService) SubmitPayment(ctx context.Context, sessionID, paymentMethodID string) (*CheckoutSession, error) {
	const op = "checkout.submit_payment"

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.NotFound(op, "checkout session not found")
	}

	switch sess.State {
	case domain.IntentSucceeded:
		s.mu.Unlock()
		return nil, domain.Conflict(op, "payment already completed")
	case domain.IntentFailed:
		s.mu.Unlock()
		return nil, domain.Conflict(op, "payment failed, retry the checkout to get a new payment intent")
	case domain.IntentProcessing:
		s.mu.Unlock()
		return nil, domain.Conflict(op, "a payment attempt is already in progress")
	}

	if sess.State == domain.IntentRequiresAction {
		sess.State = domain.IntentAwaitingPayment
	}
	if !sess.State.CanTransition(domain.IntentProcessing) {
		s.mu.Unlock()
		return nil, domain.Conflict(op, "session is not ready for payment")
	}
	sess.State = domain.IntentProcessing
	sess.UpdatedAt = s.now()
	clientSecret := sess.ClientSecret
	s.mu.Unlock()

	result, err := s.gateway.Confirm(ctx, gateway.ConfirmParams{
		ClientSecret:    clientSecret,
		PaymentMethodID: paymentMethodID,
	})

	s.mu.Lock()

	if err != nil {
		// No verdict reached the processor's state machine, so the
		// attempt is reopenable.
		sess.State = domain.IntentAwaitingPayment
		sess.UpdatedAt = s.now()
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("payment confirmation failed")
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to reach payment processor")
	}

	s.metrics.PaymentsConfirmed.WithLabelValues(string(result.Status)).Inc()

	switch result.Status {
	case gateway.StatusSucceeded:
		sess.State = domain.IntentSucceeded
		sess.DeclineReason = ""
		sess.UpdatedAt = s.now()
		intentID := sess.IntentID
		accountID := sess.Order.AccountID
		snapshot := sess.Order.Snapshot()
		s.mu.Unlock()

		// The ledger write happens without the lock so a slow
		// settlement does not stall unrelated sessions.
		s.settleClientPath(ctx, sessionID, intentID, accountID, snapshot)

		s.mu.Lock()
		view := sess.CheckoutSession
		s.mu.Unlock()
		return &view, nil

	case gateway.StatusRequiresAction:
		sess.ActionAttempts++
		sess.UpdatedAt = s.now()
		if sess.ActionAttempts >= s.maxActionAttempts {
			sess.State = domain.IntentFailed
			sess.DeclineReason = "too many verification attempts"
			view := sess.CheckoutSession
			s.mu.Unlock()
			return &view, domain.Errorf(domain.EPAYMENT, op, "too many verification attempts, start a new payment")
		}
		sess.State = domain.IntentRequiresAction
		view := sess.CheckoutSession
		s.mu.Unlock()
		return &view, nil

	default:
		sess.State = domain.IntentFailed
		sess.DeclineReason = result.DeclineReason
		if sess.DeclineReason == "" {
			sess.DeclineReason = "payment was declined"
		}
		sess.UpdatedAt = s.now()
		view := sess.CheckoutSession
		s.mu.Unlock()
		return &view, domain.Errorf(domain.EPAYMENT, op, "%s", sess.DeclineReason)
	}
}

// RetryPayment replaces a failed session's intent with a fresh one. The
// purchase is re-priced, so the new intent captures current rates; the old
// intent and its client secret are abandoned.
func (s *CheckoutService) RetryPayment(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	const op = "checkout.retry_payment"

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.NotFound(op, "checkout session not found")
	}
	if sess.State != domain.IntentFailed {
		s.mu.Unlock()
		return nil, domain.Conflict(op, "only a failed payment can be retried")
	}
	req := sess.request
	s.mu.Unlock()

	order, err := s.pricing.Price(ctx, req)
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentParams{
		Order:          *order,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("intent creation failed on retry")
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to start payment, please try again")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess.Order = *order
	sess.IntentID = intent.IntentID
	sess.ClientSecret = intent.ClientSecret
	sess.State = domain.IntentAwaitingPayment
	sess.DeclineReason = ""
	sess.ActionAttempts = 0
	sess.UpdatedAt = s.now()

	s.logger.Info().
		Str("session_id", sess.ID).
		Str("intent_id", sess.IntentID).
		Msg("payment retried with fresh intent")

	view := sess.CheckoutSession
	return &view, nil
}

// GetSession returns the current view of a session. When the client-path
// settlement was absorbed earlier, the ledger is consulted so the client
// sees webhook-path recovery as soon as it lands.
func (s *CheckoutService) GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	const op = "checkout.get_session"

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.NotFound(op, "checkout session not found")
	}

	if sess.SettlementPending {
		intentID := sess.IntentID
		s.mu.Unlock()

		record, err := s.ledger.Record(ctx, intentID)

		s.mu.Lock()
		if err == nil && sess.SettlementPending {
			sess.Settled = true
			sess.SettlementPending = false
			sess.CreditsGranted = record.CreditsGranted
		}
	}

	view := sess.CheckoutSession
	s.mu.Unlock()
	return &view, nil
}

// RedriveSettlements retries the ledger write for sessions whose payment
// completed without a settlement record. Called periodically by the
// settlement worker. Returns how many sessions were recovered.
func (s *CheckoutService) RedriveSettlements(ctx context.Context) (int, error) {
	type pending struct {
		sessionID string
		intentID  string
		snapshot  domain.OrderSnapshot
	}

	s.mu.Lock()
	var todo []pending
	for _, sess := range s.sessions {
		if sess.SettlementPending {
			todo = append(todo, pending{sess.ID, sess.IntentID, sess.Order.Snapshot()})
		}
	}
	s.mu.Unlock()

	var (
		recovered int
		firstErr  error
	)
	for _, p := range todo {
		result, err := s.settle(ctx, p.intentID, p.snapshot, ledger.PathClient)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		s.mu.Lock()
		if sess, ok := s.sessions[p.sessionID]; ok && sess.SettlementPending {
			sess.Settled = true
			sess.SettlementPending = false
			sess.CreditsGranted = result.Record.CreditsGranted
			sess.UpdatedAt = s.now()
		}
		s.mu.Unlock()

		recovered++
		s.logger.Info().
			Str("intent_id", p.intentID).
			Msg("pending settlement recovered")
	}
	return recovered, firstErr
}

// ExpireSessions drops sessions older than the TTL. Sessions with a
// pending settlement are kept so the re-drive worker can finish them.
// Returns how many sessions were removed.
func (s *CheckoutService) ExpireSessions() int {
	cutoff := s.now().Add(-s.sessionTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.SettlementPending {
			continue
		}
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return removed
}

func (s *CheckoutService) store(sess *session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()
}

// settleClientPath attempts client-path settlement for a succeeded payment.
// Runs without the session lock held, the same way RedriveSettlements does,
// and re-takes it only to record the outcome. A session already marked
// settled by a concurrent recovery is left alone. Ledger failure is
// absorbed: the payment DID complete, the user sees success, and recovery
// is handed to the webhook path and the re-drive worker.
func (s *CheckoutService) settleClientPath(ctx context.Context, sessionID, intentID, accountID string, snap domain.OrderSnapshot) {
	result, err := s.settle(ctx, intentID, snap, ledger.PathClient)

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if err != nil {
		if ok && !sess.Settled {
			sess.SettlementPending = true
		}
		s.mu.Unlock()

		s.metrics.SettlementDegraded.WithLabelValues(string(ledger.PathClient)).Inc()
		s.logger.Error().Err(err).
			Str("session_id", sessionID).
			Str("intent_id", intentID).
			Msg("client-path settlement failed, deferring to webhook path")

		if alertErr := s.alerts.PublishSettlementDegraded(ctx, alert.SettlementDegraded{
			IntentID:  intentID,
			AccountID: accountID,
			Path:      string(ledger.PathClient),
			Reason:    err.Error(),
		}); alertErr != nil {
			s.logger.Error().Err(alertErr).Msg("failed to publish alert")
		}
		return
	}

	if ok {
		sess.Settled = true
		sess.SettlementPending = false
		sess.CreditsGranted = result.Record.CreditsGranted
	}
	s.mu.Unlock()

	if result.AlreadySettled {
		s.metrics.DuplicateSettlements.WithLabelValues(string(ledger.PathClient)).Inc()
	}
}

// settle performs one ledger settlement with a single immediate retry for
// transient failures. Conflicts and validation errors are not retried.
func (s *CheckoutService) settle(ctx context.Context, intentID string, snap domain.OrderSnapshot, path ledger.SettlementPath) (*ledger.SettlementResult, error) {
	var result *ledger.SettlementResult

	backoff := retry.WithMaxRetries(1, retry.NewConstant(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := s.ledger.Settle(ctx, ledger.SettleParams{
			IntentID: intentID,
			Snapshot: snap,
			Path:     path,
		})
		if err != nil {
			if domain.IsCode(err, domain.ECONFLICT) {
				s.metrics.SettlementConflicts.Inc()
				return err
			}
			if domain.IsCode(err, domain.EINVALID) {
				return err
			}
			return retry.RetryableError(err)
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadySettled {
		s.metrics.Settlements.WithLabelValues(string(snap.Kind), string(path)).Inc()
		if credits := result.Record.CreditsGranted; credits > 0 {
			s.metrics.CreditsGranted.Add(float64(credits))
		}
	}
	return result, nil
}
