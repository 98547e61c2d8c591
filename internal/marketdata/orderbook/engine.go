// Package orderbook maintains authoritative per-(venue,symbol) order-book
// state from Snapshot/Delta events and projects it into the sorted,
// spread/impact-annotated Orderbook value type on every change.
//
// Grounded on internal/data/venue/binance/orderbook.go's depth/spread math
// and TTL cache idiom, generalized from a single-venue HTTP+cache client to
// a multi-venue in-memory state engine fed by streaming deltas.
package orderbook

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// CacheStore is the subset of the cache/KV surface (spec §6) the engine
// write-throughs to. Implementations must not block the caller for long;
// a CacheError is logged and otherwise ignored (spec §7: in-memory state
// remains authoritative).
type CacheStore interface {
	SetOrderbook(ctx context.Context, venue model.Venue, symbol string, book model.Orderbook, ttl time.Duration) error
}

// Publisher is the subset of the PublishBus the engine emits through.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{})
}

const (
	maxProjectionLevels = 1000
	snapshotTTL         = 30 * time.Second
	writeThroughPeriod  = 30 * time.Second
)

type bookKey struct {
	venue  model.Venue
	symbol string
}

// bookState is the authoritative per-(venue,symbol) state: price-keyed maps
// of resting levels, mutated in place by ProcessSnapshot/ProcessUpdate.
type bookState struct {
	mu         sync.RWMutex
	bids       map[string]model.PriceLevel // price string -> level
	asks       map[string]model.PriceLevel
	sequence   int64
	lastUpdate time.Time
}

// Engine is the OrderbookEngine: single-writer per (venue,symbol), all
// mutation serialized behind that key's own mutex (spec §5).
type Engine struct {
	mu     sync.RWMutex
	books  map[bookKey]*bookState
	cache  CacheStore
	bus    Publisher

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds an OrderbookEngine. cache and bus may be nil (cache writes and
// publishes are then skipped, which is a valid deployment per spec §1).
func New(cache CacheStore, bus Publisher) *Engine {
	return &Engine{
		books:  make(map[bookKey]*bookState),
		cache:  cache,
		bus:    bus,
		stopCh: make(chan struct{}),
	}
}

func (e *Engine) stateFor(key bookKey, createIfMissing bool) *bookState {
	e.mu.RLock()
	st, ok := e.books[key]
	e.mu.RUnlock()
	if ok {
		return st
	}
	if !createIfMissing {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.books[key]; ok {
		return st
	}
	st = &bookState{bids: make(map[string]model.PriceLevel), asks: make(map[string]model.PriceLevel)}
	e.books[key] = st
	return st
}

// ProcessSnapshot replaces the bid/ask maps wholesale (spec §4.2).
func (e *Engine) ProcessSnapshot(ctx context.Context, snap model.Snapshot) {
	key := bookKey{venue: snap.Venue, symbol: snap.Symbol}
	st := e.stateFor(key, true)

	bids := make(map[string]model.PriceLevel, len(snap.Bids))
	for _, lvl := range snap.Bids {
		if model.IsZeroSize(lvl.Size) {
			continue
		}
		bids[lvl.Price] = model.PriceLevel{Price: lvl.Price, Size: lvl.Size, Timestamp: snap.Timestamp}
	}
	asks := make(map[string]model.PriceLevel, len(snap.Asks))
	for _, lvl := range snap.Asks {
		if model.IsZeroSize(lvl.Size) {
			continue
		}
		asks[lvl.Price] = model.PriceLevel{Price: lvl.Price, Size: lvl.Size, Timestamp: snap.Timestamp}
	}
	// A price quoted on both sides is malformed; it is dropped from both so
	// no price ever appears in bids and asks at once.
	for price := range asks {
		if _, crossed := bids[price]; crossed {
			delete(bids, price)
			delete(asks, price)
			log.Warn().Err(model.NewStateError(snap.Venue, snap.Symbol, "price "+price+" on both sides")).
				Msg("orderbook snapshot level dropped")
		}
	}

	st.mu.Lock()
	st.bids = bids
	st.asks = asks
	st.sequence = snap.Sequence
	st.lastUpdate = snap.Timestamp
	st.mu.Unlock()

	e.emit(ctx, key)
}

// ProcessUpdate applies a Delta's (price,size,ts) upserts/removals (spec
// §4.2). A delta for an unknown (venue,symbol) is dropped with a warning —
// no state is created from a delta alone.
func (e *Engine) ProcessUpdate(ctx context.Context, delta model.Delta) {
	key := bookKey{venue: delta.Venue, symbol: delta.Symbol}
	st := e.stateFor(key, false)
	if st == nil {
		log.Warn().
			Str("venue", string(delta.Venue)).
			Str("symbol", delta.Symbol).
			Msg("orderbook delta for unknown book dropped")
		return
	}

	st.mu.Lock()
	applySide(st.bids, delta.Bids, delta.Timestamp)
	applySide(st.asks, delta.Asks, delta.Timestamp)
	st.sequence = delta.Sequence
	st.lastUpdate = delta.Timestamp
	st.mu.Unlock()

	e.emit(ctx, key)
}

func applySide(side map[string]model.PriceLevel, levels []model.WireLevel, ts time.Time) {
	for _, lvl := range levels {
		if model.IsZeroSize(lvl.Size) {
			delete(side, lvl.Price)
			continue
		}
		side[lvl.Price] = model.PriceLevel{Price: lvl.Price, Size: lvl.Size, Timestamp: ts}
	}
}

// Orderbook returns the live, sorted projection for (venue, symbol). The
// second return is false if no book has been created yet.
func (e *Engine) Orderbook(venue model.Venue, symbol string) (model.Orderbook, bool) {
	st := e.stateFor(bookKey{venue: venue, symbol: symbol}, false)
	if st == nil {
		return model.Orderbook{}, false
	}
	return project(venue, symbol, st), true
}

func project(venue model.Venue, symbol string, st *bookState) model.Orderbook {
	st.mu.RLock()
	defer st.mu.RUnlock()

	bids := sortedLevels(st.bids, true)
	asks := sortedLevels(st.asks, false)
	if len(bids) > maxProjectionLevels {
		bids = bids[:maxProjectionLevels]
	}
	if len(asks) > maxProjectionLevels {
		asks = asks[:maxProjectionLevels]
	}

	var totalBid, totalAsk float64
	for _, l := range bids {
		totalBid += l.SizeFloat()
	}
	for _, l := range asks {
		totalAsk += l.SizeFloat()
	}

	ob := model.Orderbook{
		Venue:         venue,
		Symbol:        symbol,
		Bids:          bids,
		Asks:          asks,
		TotalBidSize:  totalBid,
		TotalAskSize:  totalAsk,
		Sequence:      st.sequence,
		LastUpdate:    st.lastUpdate,
		TimestampMono: time.Now(),
	}

	if len(bids) > 0 && len(asks) > 0 {
		bestBid, bestAsk := bids[0].PriceFloat(), asks[0].PriceFloat()
		ob.Spread = bestAsk - bestBid
		if bestBid != 0 {
			ob.SpreadPercent = ob.Spread / bestBid * 100
		}
		ob.MidPrice = (bestBid + bestAsk) / 2
	}

	return ob
}

// sortedLevels converts a price-keyed map into a sorted slice: bids
// descending, asks ascending, ties broken by price equality alone (spec
// §4.2, no secondary sort key).
func sortedLevels(side map[string]model.PriceLevel, descending bool) []model.Level {
	out := make([]model.Level, 0, len(side))
	for _, lvl := range side {
		price, okP := model.ParsePrice(lvl.Price)
		size, okS := model.ParsePrice(lvl.Size)
		if !okP || !okS {
			continue
		}
		out = append(out, model.NewLevel(lvl.Price, lvl.Size, price, size))
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].PriceFloat() > out[j].PriceFloat()
		}
		return out[i].PriceFloat() < out[j].PriceFloat()
	})
	return out
}

// CalculateSpread is a pure read over live state (spec §4.2).
func (e *Engine) CalculateSpread(venue model.Venue, symbol string) (spread, spreadPercent float64, ok bool) {
	ob, found := e.Orderbook(venue, symbol)
	if !found || len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 0, 0, false
	}
	return ob.Spread, ob.SpreadPercent, true
}

// CalculatePriceImpact walks the sorted book to exactly fill size, reporting
// the average fill price vs. midpoint as a signed percent: buy impact is
// positive when paying above mid, sell impact positive when receiving below
// mid (spec §4.2).
func (e *Engine) CalculatePriceImpact(venue model.Venue, symbol string, side model.Side, size float64) (model.PriceImpact, bool) {
	ob, found := e.Orderbook(venue, symbol)
	if !found || ob.MidPrice == 0 {
		return model.PriceImpact{}, false
	}

	var levels []model.Level
	if side == model.SideBuy {
		levels = ob.Asks
	} else {
		levels = ob.Bids
	}

	remaining := size
	var notional float64
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.SizeFloat()
		if take > remaining {
			take = remaining
		}
		notional += take * lvl.PriceFloat()
		remaining -= take
	}

	filled := size - remaining
	impact := model.PriceImpact{
		Side:          side,
		RequestedSize: size,
		FilledSize:    filled,
		MidPrice:      ob.MidPrice,
		FullyFilled:   remaining <= 0,
	}
	if filled > 0 {
		impact.AverageFill = notional / filled
		if side == model.SideBuy {
			impact.ImpactPercent = (impact.AverageFill - ob.MidPrice) / ob.MidPrice * 100
		} else {
			impact.ImpactPercent = (ob.MidPrice - impact.AverageFill) / ob.MidPrice * 100
		}
	}
	return impact, true
}

// publishDepth is the top-of-book size the orderbook.<venue>.<symbol>
// channel carries (spec §4.6); the full maxProjectionLevels projection is
// still used internally for price-impact walks and the aggregation feed.
const publishDepth = 20

func (e *Engine) emit(ctx context.Context, key bookKey) {
	st := e.stateFor(key, false)
	if st == nil {
		return
	}
	ob := project(key.venue, key.symbol, st)

	if e.bus != nil {
		e.bus.Publish(ctx, "orderbook."+string(key.venue)+"."+key.symbol, trimDepth(ob, publishDepth))
	}
}

func trimDepth(ob model.Orderbook, depth int) model.Orderbook {
	if len(ob.Bids) > depth {
		ob.Bids = ob.Bids[:depth]
	}
	if len(ob.Asks) > depth {
		ob.Asks = ob.Asks[:depth]
	}
	return ob
}

// StartWriteThrough launches the 30s periodic re-snapshot of every live
// book's projection into the cache, bounding staleness (spec §4.2).
func (e *Engine) StartWriteThrough(ctx context.Context) {
	if e.cache == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(writeThroughPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.writeThroughAll(ctx)
			}
		}
	}()
}

func (e *Engine) writeThroughAll(ctx context.Context) {
	e.mu.RLock()
	keys := make([]bookKey, 0, len(e.books))
	for k := range e.books {
		keys = append(keys, k)
	}
	e.mu.RUnlock()

	for _, key := range keys {
		ob, ok := e.Orderbook(key.venue, key.symbol)
		if !ok {
			continue
		}
		if err := e.cache.SetOrderbook(ctx, key.venue, key.symbol, ob, snapshotTTL); err != nil {
			log.Warn().Err(model.NewCacheError("orderbook write-through failed", err)).
				Str("venue", string(key.venue)).Str("symbol", key.symbol).Msg("cache write-through failed")
		}
	}
}

// Stop halts the write-through loop.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}
