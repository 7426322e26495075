// Package alert publishes operational alerts to the ops message bus.
// Alerts are for operators, never for end users.
package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// SubjectSettlementDegraded is the bus subject for settlement alerts.
const SubjectSettlementDegraded = "njord.alerts.settlement.degraded"

// SettlementDegraded signals that a payment completed at the processor but
// the ledger could not be updated on one path. The other delivery path or
// the re-drive worker is expected to recover it.
type SettlementDegraded struct {
	IntentID   string    `json:"intent_id"`
	AccountID  string    `json:"account_id"`
	Path       string    `json:"path"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers alerts.
type Publisher interface {
	PublishSettlementDegraded(ctx context.Context, alert SettlementDegraded) error
}

// NATSPublisher publishes alerts to NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a publisher on an existing NATS connection.
func NewNATSPublisher(conn *nats.Conn, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		logger: logger.With().Str("component", "alert").Logger(),
	}
}

func (p *NATSPublisher) PublishSettlementDegraded(ctx context.Context, alert SettlementDegraded) error {
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(SubjectSettlementDegraded, data); err != nil {
		p.logger.Error().Err(err).
			Str("intent_id", alert.IntentID).
			Msg("failed to publish settlement degraded alert")
		return err
	}

	p.logger.Warn().
		Str("intent_id", alert.IntentID).
		Str("path", alert.Path).
		Str("reason", alert.Reason).
		Msg("settlement degraded")
	return nil
}

// NoopPublisher drops alerts. Used when no bus is configured.
type NoopPublisher struct{}

var _ Publisher = NoopPublisher{}

func (NoopPublisher) PublishSettlementDegraded(ctx context.Context, alert SettlementDegraded) error {
	return nil
}
