package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a configurable in-memory Provider for tests and local
// development. Zero value behaves like a healthy gateway that approves
// every confirmation.
type MockProvider struct {
	// PublicKeyFunc overrides PublicKey when set.
	PublicKeyFunc func() (string, error)

	// CreateIntentFunc overrides CreateIntent when set.
	CreateIntentFunc func(ctx context.Context, params CreateIntentParams) (*Intent, error)

	// ConfirmFunc overrides Confirm when set.
	ConfirmFunc func(ctx context.Context, params ConfirmParams) (*ConfirmResult, error)

	// VerifySignatureFunc overrides VerifyWebhookSignature when set.
	VerifySignatureFunc func(payload []byte, signature string, secret string) error

	mu      sync.Mutex
	calls   []string
	intents map[string]*Intent
}

var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) PublicKey() (string, error) {
	m.record("PublicKey")
	if m.PublicKeyFunc != nil {
		return m.PublicKeyFunc()
	}
	return "pk_test_mock", nil
}

func (m *MockProvider) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	m.record("CreateIntent")
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, params)
	}

	id := "pi_" + uuid.NewString()
	intent := &Intent{
		IntentID:     id,
		ClientSecret: fmt.Sprintf("%s_secret_%s", id, uuid.NewString()),
		ChargeCents:  params.Order.ChargeCents(),
		Currency:     params.Order.Currency,
		CreatedAt:    time.Now().UTC(),
	}

	m.mu.Lock()
	if m.intents == nil {
		m.intents = make(map[string]*Intent)
	}
	m.intents[id] = intent
	m.mu.Unlock()

	return intent, nil
}

func (m *MockProvider) Confirm(ctx context.Context, params ConfirmParams) (*ConfirmResult, error) {
	m.record("Confirm")
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, params)
	}

	intentID, err := IntentIDFromClientSecret(params.ClientSecret)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	_, known := m.intents[intentID]
	m.mu.Unlock()
	if !known {
		return nil, ErrIntentNotFound
	}

	return &ConfirmResult{IntentID: intentID, Status: StatusSucceeded}, nil
}

func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	m.record("VerifyWebhookSignature")
	if m.VerifySignatureFunc != nil {
		return m.VerifySignatureFunc(payload, signature, secret)
	}
	return nil
}

// Calls returns the method names invoked on the mock, in order.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Intent returns a previously created intent by id, or nil.
func (m *MockProvider) Intent(id string) *Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intents[id]
}

func (m *MockProvider) record(method string) {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	m.mu.Unlock()
}
