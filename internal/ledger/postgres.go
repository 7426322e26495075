package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/njordpay/njord/internal/domain"
)

// PostgresLedger is the durable Ledger backed by Postgres.
//
// Exactly-once is enforced by the primary key on settlement_records:
// the insert and the grant run in one transaction, and a concurrent
// attempt for the same intent id resolves to ON CONFLICT DO NOTHING.
type PostgresLedger struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates a ledger on an existing connection pool.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{
		pool: pool,
		now:  time.Now,
	}
}

func (l *PostgresLedger) Settle(ctx context.Context, params SettleParams) (*SettlementResult, error) {
	const op = "ledger.settle"

	if params.IntentID == "" {
		return nil, domain.Invalid(op, "intent id is required")
	}
	if err := params.Snapshot.Validate(); err != nil {
		return nil, err
	}

	snapshotJSON, err := json.Marshal(params.Snapshot)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode snapshot")
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	record := &SettlementRecord{
		IntentID:       params.IntentID,
		Snapshot:       params.Snapshot,
		Path:           params.Path,
		CreditsGranted: CreditsGranted(params.Snapshot),
		SettledAt:      l.now().UTC(),
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO settlement_records (intent_id, account_id, kind, snapshot, path, credits_granted, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (intent_id) DO NOTHING`,
		record.IntentID,
		params.Snapshot.AccountID,
		string(params.Snapshot.Kind),
		snapshotJSON,
		string(params.Path),
		record.CreditsGranted,
		record.SettledAt,
	)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to record settlement")
	}

	if tag.RowsAffected() == 0 {
		// A prior attempt won. Read it inside the same transaction so a
		// concurrent winner's row is visible.
		existing, err := scanRecord(tx.QueryRow(ctx, `
			SELECT intent_id, snapshot, path, credits_granted, settled_at
			FROM settlement_records
			WHERE intent_id = $1`,
			params.IntentID,
		))
		if err != nil {
			return nil, domain.Internal(err, op, "failed to load existing settlement")
		}
		if !existing.Snapshot.Equal(params.Snapshot) {
			return nil, domain.Conflict(op, "settlement snapshot does not match the recorded one")
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, domain.Internal(err, op, "failed to commit")
		}
		return &SettlementResult{AlreadySettled: true, Record: existing}, nil
	}

	switch params.Snapshot.Kind {
	case domain.KindCreditTopup:
		_, err = tx.Exec(ctx, `
			INSERT INTO credit_balances (account_id, balance, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (account_id) DO UPDATE
			SET balance = credit_balances.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at`,
			params.Snapshot.AccountID, record.CreditsGranted, record.SettledAt,
		)
	case domain.KindSubscriptionActivation:
		_, err = tx.Exec(ctx, `
			INSERT INTO subscription_entitlements (account_id, tier_id, intent_id, activated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_id) DO UPDATE
			SET tier_id = EXCLUDED.tier_id, intent_id = EXCLUDED.intent_id, activated_at = EXCLUDED.activated_at`,
			params.Snapshot.AccountID, params.Snapshot.TierID, record.IntentID, record.SettledAt,
		)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to apply grant")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.Internal(err, op, "failed to commit")
	}
	return &SettlementResult{Record: record}, nil
}

func (l *PostgresLedger) Record(ctx context.Context, intentID string) (*SettlementRecord, error) {
	const op = "ledger.record"

	record, err := scanRecord(l.pool.QueryRow(ctx, `
		SELECT intent_id, snapshot, path, credits_granted, settled_at
		FROM settlement_records
		WHERE intent_id = $1`,
		intentID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(op, "no settlement recorded for intent")
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load settlement")
	}
	return record, nil
}

func (l *PostgresLedger) CreditBalance(ctx context.Context, accountID string) (int64, error) {
	const op = "ledger.balance"

	var balance int64
	err := l.pool.QueryRow(ctx,
		`SELECT balance FROM credit_balances WHERE account_id = $1`,
		accountID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.Internal(err, op, "failed to load balance")
	}
	return balance, nil
}

func (l *PostgresLedger) Entitlement(ctx context.Context, accountID string) (string, error) {
	const op = "ledger.entitlement"

	var tierID string
	err := l.pool.QueryRow(ctx,
		`SELECT tier_id FROM subscription_entitlements WHERE account_id = $1`,
		accountID,
	).Scan(&tierID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.NotFound(op, "no subscription recorded for account")
	}
	if err != nil {
		return "", domain.Internal(err, op, "failed to load entitlement")
	}
	return tierID, nil
}

func scanRecord(row pgx.Row) (*SettlementRecord, error) {
	var (
		record       SettlementRecord
		snapshotJSON []byte
		path         string
	)
	if err := row.Scan(&record.IntentID, &snapshotJSON, &path, &record.CreditsGranted, &record.SettledAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshotJSON, &record.Snapshot); err != nil {
		return nil, err
	}
	record.Path = SettlementPath(path)
	return &record, nil
}
