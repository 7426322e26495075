package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/njordpay/njord/internal/domain"
)

// MemoryLedger is an in-memory Ledger for tests and local development.
type MemoryLedger struct {
	mu           sync.Mutex
	records      map[string]*SettlementRecord
	balances     map[string]int64
	entitlements map[string]string
	now          func() time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records:      make(map[string]*SettlementRecord),
		balances:     make(map[string]int64),
		entitlements: make(map[string]string),
		now:          time.Now,
	}
}

func (l *MemoryLedger) Settle(ctx context.Context, params SettleParams) (*SettlementResult, error) {
	const op = "ledger.settle"

	if params.IntentID == "" {
		return nil, domain.Invalid(op, "intent id is required")
	}
	if err := params.Snapshot.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.records[params.IntentID]; ok {
		if !existing.Snapshot.Equal(params.Snapshot) {
			return nil, domain.Conflict(op, "settlement snapshot does not match the recorded one")
		}
		return &SettlementResult{AlreadySettled: true, Record: existing}, nil
	}

	record := &SettlementRecord{
		IntentID:       params.IntentID,
		Snapshot:       params.Snapshot,
		Path:           params.Path,
		CreditsGranted: CreditsGranted(params.Snapshot),
		SettledAt:      l.now().UTC(),
	}
	l.records[params.IntentID] = record

	switch params.Snapshot.Kind {
	case domain.KindCreditTopup:
		l.balances[params.Snapshot.AccountID] += record.CreditsGranted
	case domain.KindSubscriptionActivation:
		l.entitlements[params.Snapshot.AccountID] = params.Snapshot.TierID
	}

	return &SettlementResult{Record: record}, nil
}

func (l *MemoryLedger) Record(ctx context.Context, intentID string) (*SettlementRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[intentID]
	if !ok {
		return nil, domain.NotFound("ledger.record", "no settlement recorded for intent")
	}
	return record, nil
}

func (l *MemoryLedger) CreditBalance(ctx context.Context, accountID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountID], nil
}

func (l *MemoryLedger) Entitlement(ctx context.Context, accountID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tier, ok := l.entitlements[accountID]
	if !ok {
		return "", domain.NotFound("ledger.entitlement", "no subscription recorded for account")
	}
	return tier, nil
}
