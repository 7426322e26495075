// Package worker runs the background maintenance loops: settlement
// re-drive for payments whose ledger write was deferred, and expiry of
// stale checkout sessions.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/njordpay/njord/internal/service"
)

// Config controls the worker's cadence.
type Config struct {
	// WorkerID labels log lines when several instances run.
	WorkerID string

	// PollInterval is how often pending settlements are re-driven.
	PollInterval time.Duration

	// SweepInterval is how often expired sessions are dropped.
	SweepInterval time.Duration
}

// SettlementWorker periodically re-drives deferred settlements and sweeps
// expired sessions.
type SettlementWorker struct {
	checkout *service.CheckoutService
	config   Config
	logger   zerolog.Logger
}

// New creates a settlement worker.
func New(checkout *service.CheckoutService, config Config, logger zerolog.Logger) *SettlementWorker {
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 5 * time.Minute
	}
	if config.WorkerID == "" {
		config.WorkerID = "settlement-worker"
	}

	return &SettlementWorker{
		checkout: checkout,
		config:   config,
		logger:   logger.With().Str("component", "worker").Str("worker_id", config.WorkerID).Logger(),
	}
}

// Run blocks until the context is cancelled.
func (w *SettlementWorker) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("poll_interval", w.config.PollInterval).
		Dur("sweep_interval", w.config.SweepInterval).
		Msg("worker started")

	redrive := time.NewTicker(w.config.PollInterval)
	defer redrive.Stop()
	sweep := time.NewTicker(w.config.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopped")
			return ctx.Err()

		case <-redrive.C:
			recovered, err := w.checkout.RedriveSettlements(ctx)
			if err != nil {
				w.logger.Error().Err(err).Msg("settlement re-drive incomplete")
			}
			if recovered > 0 {
				w.logger.Info().Int("recovered", recovered).Msg("re-drove pending settlements")
			}

		case <-sweep.C:
			if removed := w.checkout.ExpireSessions(); removed > 0 {
				w.logger.Info().Int("removed", removed).Msg("expired stale sessions")
			}
		}
	}
}
