// Package breaker wraps sony/gobreaker around VenueAdapter reconnect
// attempts so a venue stuck flapping its WebSocket stops hammering the
// endpoint and gets a cooldown window instead.
//
// Grounded verbatim on infra/breakers/breakers.go, repurposed from guarding
// HTTP provider calls to guarding reconnect attempts.
package breaker

import (
	"time"

	cb "github.com/sony/gobreaker"
)

// Breaker trips after 3 consecutive failures, or a >5% failure rate once at
// least 20 attempts have been made, and stays open for 60s before allowing a
// half-open probe.
type Breaker struct {
	cb *cb.CircuitBreaker
}

// New builds a named Breaker, e.g. one per (venue,symbol) or one per venue.
func New(name string) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker. fn is typically a VenueAdapter
// reconnect attempt; a non-nil error counts as a failure toward the trip
// thresholds above.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State exposes the breaker's current state for health reporting.
func (b *Breaker) State() cb.State {
	return b.cb.State()
}
