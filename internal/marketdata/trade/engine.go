// Package trade implements TradeEngine (spec §4.3): a bounded recent-trades
// ring per (venue, symbol) with filtered queries and rolling window metrics.
//
// Grounded on internal/marketdata/orderbook/engine.go's per-key mutex state
// map, write-through cache loop, and Publisher/CacheStore seams, adapted
// from a map-of-price-levels to a bounded append-only ring.
package trade

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// CacheStore is the subset of the cache surface the engine write-throughs to.
type CacheStore interface {
	SetRecentTrades(ctx context.Context, venue model.Venue, symbol string, trades []model.Trade, ttl time.Duration) error
}

// Publisher is the subset of the PublishBus the engine emits through.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{})
}

const (
	maxRingSize   = 1000
	cacheTTL      = 60 * time.Second
	pruneInterval = 60 * time.Second
)

// RollingWindows are the six fixed lookback windows TradeEngine reports
// metrics over (spec §4.3).
var RollingWindows = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

type tradeKey struct {
	venue  model.Venue
	symbol string
}

// ring is a bounded, chronologically ordered trade buffer for one
// (venue,symbol). Oldest entries are dropped once the cap is exceeded.
type ring struct {
	mu    sync.RWMutex
	items []model.Trade
}

func (r *ring) push(t model.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, t)
	if len(r.items) > maxRingSize {
		r.items = append([]model.Trade(nil), r.items[len(r.items)-maxRingSize:]...)
	}
}

// newestFirst returns a defensive copy ordered newest-to-oldest.
func (r *ring) newestFirst() []model.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Trade, len(r.items))
	n := len(r.items)
	for i, t := range r.items {
		out[n-1-i] = t
	}
	return out
}

func (r *ring) pruneOlderThan(cutoff time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.items[:0]
	for _, t := range r.items {
		if t.Timestamp.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.items = kept
}

// Filter narrows a query over a ring's contents. Zero-value fields are
// unconstrained.
type Filter struct {
	Side     model.Side
	MinSize  float64
	MaxSize  float64 // 0 = unbounded
	MinPrice float64
	MaxPrice float64 // 0 = unbounded
	Since    time.Time
	Until    time.Time // zero = unbounded
}

func (f Filter) matches(t model.Trade, price, size float64) bool {
	if f.Side != "" && t.Side != f.Side {
		return false
	}
	if size < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && size > f.MaxSize {
		return false
	}
	if price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && price > f.MaxPrice {
		return false
	}
	if !f.Since.IsZero() && t.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && t.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// WindowMetrics summarizes a ring's trades over one rolling window.
type WindowMetrics struct {
	Window             time.Duration
	LastPrice          float64
	PriceChange        float64
	PriceChangePercent float64
	Volume             float64
	QuoteVolume        float64
	High               float64
	Low                float64
	Count              int64
}

// Engine is the TradeEngine: single-writer per (venue,symbol) via the
// ring's own mutex (spec §5).
type Engine struct {
	mu    sync.RWMutex
	rings map[tradeKey]*ring
	cache CacheStore
	bus   Publisher

	retention time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a TradeEngine. retentionMultiplier scales the 1-day rolling
// window to produce the prune cutoff (spec §4.3); 0 uses the default of 2x.
func New(cache CacheStore, bus Publisher, retentionMultiplier int) *Engine {
	if retentionMultiplier <= 0 {
		retentionMultiplier = 2
	}
	return &Engine{
		rings:     make(map[tradeKey]*ring),
		cache:     cache,
		bus:       bus,
		retention: time.Duration(retentionMultiplier) * 24 * time.Hour,
		stopCh:    make(chan struct{}),
	}
}

func (e *Engine) ringFor(key tradeKey) *ring {
	e.mu.RLock()
	r, ok := e.rings[key]
	e.mu.RUnlock()
	if ok {
		return r
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok = e.rings[key]; ok {
		return r
	}
	r = &ring{}
	e.rings[key] = r
	return r
}

// ProcessTrades appends each trade to its (venue,symbol) ring and publishes
// it individually on trades.<venue>.<symbol> (spec §4.6).
func (e *Engine) ProcessTrades(ctx context.Context, trades []model.Trade) {
	for _, t := range trades {
		key := tradeKey{venue: t.Venue, symbol: t.Symbol}
		e.ringFor(key).push(t)
		if e.bus != nil {
			e.bus.Publish(ctx, "trades."+string(t.Venue)+"."+t.Symbol, t)
		}
	}
}

// RecentTrades returns up to limit trades for (venue,symbol), newest first,
// matching filter. limit<=0 returns all matches.
func (e *Engine) RecentTrades(venue model.Venue, symbol string, filter Filter, limit int) []model.Trade {
	r := e.ringFor(tradeKey{venue: venue, symbol: symbol})
	all := r.newestFirst()

	out := make([]model.Trade, 0, len(all))
	for _, t := range all {
		price, okP := model.ParsePrice(t.Price)
		size, okS := model.ParsePrice(t.Size)
		if !okP || !okS || !filter.matches(t, price, size) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// WindowMetrics computes last/change/%change/volume/quoteVolume/high/low/
// count over each of RollingWindows for (venue,symbol) as of now.
func (e *Engine) WindowMetrics(venue model.Venue, symbol string, now time.Time) []WindowMetrics {
	r := e.ringFor(tradeKey{venue: venue, symbol: symbol})
	trades := r.newestFirst() // newest first

	results := make([]WindowMetrics, 0, len(RollingWindows))
	for _, window := range RollingWindows {
		cutoff := now.Add(-window)
		m := WindowMetrics{Window: window}
		first := true
		var openPrice float64
		for _, t := range trades {
			if t.Timestamp.Before(cutoff) {
				break // newest-first: once we're past the window, the rest are too
			}
			price, okP := model.ParsePrice(t.Price)
			size, okS := model.ParsePrice(t.Size)
			if !okP || !okS {
				continue
			}
			if first {
				m.LastPrice = price
				m.High = price
				m.Low = price
				first = false
			}
			if price > m.High {
				m.High = price
			}
			if price < m.Low {
				m.Low = price
			}
			m.Volume += size
			m.QuoteVolume += size * price
			m.Count++
			openPrice = price // last iterated (oldest-in-window, since trades is newest-first)
		}
		if m.Count > 0 && openPrice != 0 {
			m.PriceChange = m.LastPrice - openPrice
			m.PriceChangePercent = m.PriceChange / openPrice * 100
		}
		results = append(results, m)
	}
	return results
}

// StartMaintenance launches the periodic ring prune and cache write-through.
func (e *Engine) StartMaintenance(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.maintain(ctx)
			}
		}
	}()
}

func (e *Engine) maintain(ctx context.Context) {
	e.mu.RLock()
	keys := make([]tradeKey, 0, len(e.rings))
	rings := make([]*ring, 0, len(e.rings))
	for k, r := range e.rings {
		keys = append(keys, k)
		rings = append(rings, r)
	}
	e.mu.RUnlock()

	cutoff := time.Now().Add(-e.retention)
	for i, key := range keys {
		rings[i].pruneOlderThan(cutoff)
		if e.cache == nil {
			continue
		}
		if err := e.cache.SetRecentTrades(ctx, key.venue, key.symbol, rings[i].newestFirst(), cacheTTL); err != nil {
			log.Warn().Err(model.NewCacheError("recent trades write-through failed", err)).
				Str("venue", string(key.venue)).Str("symbol", key.symbol).Msg("cache write-through failed")
		}
	}
}

// Stop halts the maintenance loop.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}
