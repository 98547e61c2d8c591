// Package bus implements PublishBus: a typed, in-process, at-most-once
// fire-and-forget pub/sub fan-out (spec §4.6).
//
// Grounded on the Start/Stop/Publish/Subscribe/Health shape of
// internal/stream/bus.go and the in-memory delivery loop of
// internal/stream/stub_bus.go, with one deliberate departure: the teacher's
// StubBus delivers synchronously inside Publish, which lets a slow
// subscriber stall the producer. This bus instead hands each subscriber its
// own goroutine per publish so a stuck handler can never block Publish or
// re-enter an engine synchronously (spec §4.6 invariant).
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Handler receives one published payload. Handlers run on their own
// goroutine and must not panic across the call boundary — a panicking
// handler is recovered and logged, never propagated to the publisher.
type Handler func(ctx context.Context, channel string, payload interface{})

// HealthStatus mirrors the teacher's lightweight health shape, trimmed to
// what an in-process bus can actually report.
type HealthStatus struct {
	Healthy         bool
	ActiveChannels  int
	ActiveHandlers  int
	LastPublishedAt time.Time
}

// Bus is the PublishBus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	started  bool

	lastPublished time.Time
}

// New builds a PublishBus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Start marks the bus ready to accept subscriptions and publishes. Present
// for parity with the teacher's EventBus lifecycle contract even though the
// in-process implementation has no connection to establish.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	return nil
}

// Stop marks the bus stopped. In-flight delivery goroutines are not
// cancelled — at-most-once means a publish already underway completes.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
	return nil
}

// Subscribe registers a handler for a channel. Channel names follow the
// pipeline's dotted convention (e.g. "orderbook.H.BTC", "candles.H.BTC.1m").
func (b *Bus) Subscribe(channel string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], h)
}

// Publish fans a payload out to every subscriber of channel. Each handler
// runs on its own goroutine; Publish never blocks on delivery and never
// returns an error — a channel with no subscribers is a silent no-op, and a
// handler that panics is recovered and logged, matching the at-most-once,
// fire-and-forget contract (spec §4.6).
func (b *Bus) Publish(ctx context.Context, channel string, payload interface{}) {
	b.mu.RLock()
	handlers := b.handlers[channel]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	b.mu.Lock()
	b.lastPublished = time.Now()
	b.mu.Unlock()

	for _, h := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("channel", channel).Msg("bus: subscriber panicked, dropping delivery")
				}
			}()
			h(ctx, channel, payload)
		}(h)
	}
}

// Health reports the bus's current subscription counts.
func (b *Bus) Health() HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlerCount := 0
	for _, hs := range b.handlers {
		handlerCount += len(hs)
	}
	return HealthStatus{
		Healthy:         b.started,
		ActiveChannels:  len(b.handlers),
		ActiveHandlers:  handlerCount,
		LastPublishedAt: b.lastPublished,
	}
}
