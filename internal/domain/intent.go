package domain

import "time"

// IntentState is the reconciler-side state of a payment intent.
//
// State machine:
//
//	created → awaiting_payment_method → processing → succeeded | failed | requires_action
//
// requires_action loops back to awaiting_payment_method a bounded number of
// times; succeeded and failed are terminal on the processor side. Ledger
// settlement is tracked separately (see CheckoutSession.Settled) because a
// succeeded intent may still be waiting on the notification path.
type IntentState string

const (
	IntentCreated         IntentState = "created"
	IntentAwaitingPayment IntentState = "awaiting_payment_method"
	IntentProcessing      IntentState = "processing"
	IntentSucceeded       IntentState = "succeeded"
	IntentFailed          IntentState = "failed"
	IntentRequiresAction  IntentState = "requires_action"
)

// Terminal reports whether the processor can no longer move the intent.
func (s IntentState) Terminal() bool {
	return s == IntentSucceeded || s == IntentFailed
}

// validTransitions enumerates every reachable edge of the state machine.
// Keeping this as data (rather than ad hoc flags) makes the reachable set
// testable.
var validTransitions = map[IntentState][]IntentState{
	IntentCreated:         {IntentAwaitingPayment, IntentSucceeded},
	IntentAwaitingPayment: {IntentProcessing},
	IntentProcessing:      {IntentSucceeded, IntentFailed, IntentRequiresAction},
	IntentRequiresAction:  {IntentAwaitingPayment, IntentFailed},
}

// CanTransition reports whether the edge s → to exists.
// created → succeeded covers zero-cost orders that never carry a payment.
func (s IntentState) CanTransition(to IntentState) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentIntent is one attempt to pay for one Order. A failed intent is
// never reused: retrying payment prices a new order and creates a fresh
// intent with a fresh client secret.
type PaymentIntent struct {
	// IntentID is the processor-issued identifier, globally unique.
	IntentID string

	// Order is the priced purchase this intent pays for (1:1).
	Order Order

	// ClientSecret scopes payment collection to this intent. It lives only
	// for the checkout session and is never persisted.
	ClientSecret string

	State IntentState

	// ActionAttempts counts requires_action round-trips; bounded by the
	// reconciler.
	ActionAttempts int

	CreatedAt time.Time
}
