// Package aggregation merges per-venue order books onto a normalized price
// grid, computes smart-order-routing recommendations, and publishes the
// consolidated book with throttling.
//
// Grounded on the label-cardinality idiom of internal/interfaces/http/metrics.go
// (per-venue, per-symbol dimensions) and the cross-venue merge shape found in
// the pack's aggregator.go (007b646f_RohanRaikwar-algo-sys-v1).
package aggregation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// venueOrder is the deterministic insertion order for per-price sources
// (spec §4.5 step 2: "H, A, L, V").
var venueOrder = []model.Venue{model.VenueHyperliquid, model.VenueAster, model.VenueLighter, model.VenueAvantis}

const (
	defaultThrottleInterval = 50 * time.Millisecond
	maxLevelsPerSide        = 50
	venueTopDepth           = 20
)

// Publisher is the subset of the PublishBus the engine emits through.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{})
}

// CacheStore is the read-through cache for consolidated books/routing
// (spec §6: agg.book.<symbol> TTL 60s, agg.routing.<symbol> TTL 1s).
type CacheStore interface {
	SetAggregatedBook(ctx context.Context, symbol string, book model.AggregatedBook, ttl time.Duration) error
	SetRouting(ctx context.Context, symbol string, buy, sell model.Routing, ttl time.Duration) error
}

type symbolState struct {
	mu           sync.Mutex
	venueBooks   map[model.Venue]model.Orderbook
	lastPublish  time.Time
}

// Engine is the AggregationEngine.
type Engine struct {
	mu      sync.RWMutex
	symbols map[string]*symbolState

	bus   Publisher
	cache CacheStore

	throttleInterval time.Duration
	now              func() time.Time // overridable for deterministic throttle tests
}

// New builds an AggregationEngine. bus and cache may be nil. throttle
// implements the §6 agg_throttle_ms config option; zero/negative falls back
// to the spec default of 50ms.
func New(bus Publisher, cache CacheStore, throttle time.Duration) *Engine {
	if throttle <= 0 {
		throttle = defaultThrottleInterval
	}
	return &Engine{
		symbols:          make(map[string]*symbolState),
		bus:              bus,
		cache:            cache,
		throttleInterval: throttle,
		now:              time.Now,
	}
}

func (e *Engine) stateFor(symbol string) *symbolState {
	e.mu.RLock()
	st, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if ok {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.symbols[symbol]; ok {
		return st
	}
	st = &symbolState{venueBooks: make(map[model.Venue]model.Orderbook)}
	e.symbols[symbol] = st
	return st
}

// ProcessOrderbookUpdate stores the incoming per-venue book and triggers
// aggregateAndPublish, throttled to one publish per symbol per 50ms (spec
// §4.5). An update arriving inside the throttle window is dropped, not
// queued — the next eligible update carries the fresh state.
func (e *Engine) ProcessOrderbookUpdate(ctx context.Context, ob model.Orderbook) {
	st := e.stateFor(ob.Symbol)

	st.mu.Lock()
	st.venueBooks[ob.Venue] = ob
	now := e.now()
	elapsed := now.Sub(st.lastPublish)
	if !st.lastPublish.IsZero() && elapsed < e.throttleInterval {
		st.mu.Unlock()
		return
	}
	st.lastPublish = now
	books := make(map[model.Venue]model.Orderbook, len(st.venueBooks))
	for v, b := range st.venueBooks {
		books[v] = b
	}
	st.mu.Unlock()

	agg := merge(ob.Symbol, books)
	e.publish(ctx, ob.Symbol, agg)
}

func merge(symbol string, books map[model.Venue]model.Orderbook) model.AggregatedBook {
	bidAgg := make(map[float64]*model.AggregatedLevel)
	askAgg := make(map[float64]*model.AggregatedLevel)
	var venueTops []model.VenueBookTop

	for _, venue := range venueOrder {
		ob, ok := books[venue]
		if !ok {
			continue
		}
		accumulate(bidAgg, venue, ob.Bids)
		accumulate(askAgg, venue, ob.Asks)
		venueTops = append(venueTops, model.VenueBookTop{
			Venue: venue,
			Bids:  topN(ob.Bids, venueTopDepth),
			Asks:  topN(ob.Asks, venueTopDepth),
		})
	}

	bids := sortAggLevels(bidAgg, true)
	asks := sortAggLevels(askAgg, false)
	if len(bids) > maxLevelsPerSide {
		bids = bids[:maxLevelsPerSide]
	}
	if len(asks) > maxLevelsPerSide {
		asks = asks[:maxLevelsPerSide]
	}

	agg := model.AggregatedBook{
		Symbol:     symbol,
		Timestamp:  time.Now(),
		Bids:       bids,
		Asks:       asks,
		VenueBooks: venueTops,
	}

	if len(bids) > 0 {
		b := bids[0]
		agg.BestBid = &b
	}
	if len(asks) > 0 {
		a := asks[0]
		agg.BestAsk = &a
	}
	if agg.BestBid != nil && agg.BestAsk != nil {
		agg.Spread = agg.BestAsk.Price - agg.BestBid.Price
	}

	agg.RoutingBuy = routeBuy(books)
	agg.RoutingSell = routeSell(books)

	return agg
}

func accumulate(dst map[float64]*model.AggregatedLevel, venue model.Venue, levels []model.Level) {
	for _, lvl := range levels {
		price := model.RoundHalfUp2(lvl.PriceFloat())
		entry, ok := dst[price]
		if !ok {
			entry = &model.AggregatedLevel{Price: price}
			dst[price] = entry
		}
		entry.Sources = append(entry.Sources, model.AggregatedSource{Venue: venue, Size: lvl.SizeFloat()})
		entry.TotalSize += lvl.SizeFloat()
	}
}

func sortAggLevels(m map[float64]*model.AggregatedLevel, descending bool) []model.AggregatedLevel {
	out := make([]model.AggregatedLevel, 0, len(m))
	for _, v := range m {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

func topN(levels []model.Level, n int) []model.Level {
	if len(levels) <= n {
		return levels
	}
	return levels[:n]
}

// routeBuy picks the venue with the lowest top-of-ask (spec §4.5 Routing).
// If all venues are missing an ask, defaults to H with price=0 — the spec
// freezes this "savings" formula even when venues are missing (§9 open
// question); it is intentionally naive, not a best-effort fallback.
func routeBuy(books map[model.Venue]model.Orderbook) model.Routing {
	tops := topAsks(books)
	chosenVenue, chosenPrice, ok := minVenuePrice(tops)
	if !ok {
		return model.Routing{Venue: model.VenueHyperliquid, Price: 0}
	}
	savings, savingsPct := savingsOverOthers(tops, chosenVenue, chosenPrice)
	return model.Routing{Venue: chosenVenue, Price: chosenPrice, Savings: savings, SavingsPercent: savingsPct}
}

// routeSell is symmetric with top-of-bid, maximum wins.
func routeSell(books map[model.Venue]model.Orderbook) model.Routing {
	tops := topBids(books)
	chosenVenue, chosenPrice, ok := maxVenuePrice(tops)
	if !ok {
		return model.Routing{Venue: model.VenueHyperliquid, Price: 0}
	}
	savings, savingsPct := savingsOverOthers(tops, chosenVenue, chosenPrice)
	return model.Routing{Venue: chosenVenue, Price: chosenPrice, Savings: savings, SavingsPercent: savingsPct}
}

func topAsks(books map[model.Venue]model.Orderbook) map[model.Venue]float64 {
	out := make(map[model.Venue]float64)
	for _, venue := range venueOrder {
		ob, ok := books[venue]
		if !ok || len(ob.Asks) == 0 {
			continue
		}
		out[venue] = ob.Asks[0].PriceFloat()
	}
	return out
}

func topBids(books map[model.Venue]model.Orderbook) map[model.Venue]float64 {
	out := make(map[model.Venue]float64)
	for _, venue := range venueOrder {
		ob, ok := books[venue]
		if !ok || len(ob.Bids) == 0 {
			continue
		}
		out[venue] = ob.Bids[0].PriceFloat()
	}
	return out
}

func minVenuePrice(tops map[model.Venue]float64) (model.Venue, float64, bool) {
	var (
		best    model.Venue
		bestVal float64
		found   bool
	)
	for _, venue := range venueOrder {
		p, ok := tops[venue]
		if !ok {
			continue
		}
		if !found || p < bestVal {
			best, bestVal, found = venue, p, true
		}
	}
	return best, bestVal, found
}

func maxVenuePrice(tops map[model.Venue]float64) (model.Venue, float64, bool) {
	var (
		best    model.Venue
		bestVal float64
		found   bool
	)
	for _, venue := range venueOrder {
		p, ok := tops[venue]
		if !ok {
			continue
		}
		if !found || p > bestVal {
			best, bestVal, found = venue, p, true
		}
	}
	return best, bestVal, found
}

// savingsOverOthers computes |sum(otherTops)/3 − chosenPrice| exactly as the spec's
// frozen (possibly-buggy) source behavior states (§9): the divisor is
// always 3 — the venue count minus the chosen one — even when one or more
// of those three are missing and therefore contribute 0 to the sum.
func savingsOverOthers(tops map[model.Venue]float64, chosen model.Venue, chosenPrice float64) (savings, savingsPercent float64) {
	var sum float64
	for _, venue := range venueOrder {
		if venue == chosen {
			continue
		}
		sum += tops[venue] // missing venues contribute 0, per spec §9
	}
	mean := sum / 3
	savings = mean - chosenPrice
	if savings < 0 {
		savings = -savings
	}
	if chosenPrice != 0 {
		savingsPercent = savings / chosenPrice * 100
	}
	return savings, savingsPercent
}

func (e *Engine) publish(ctx context.Context, symbol string, agg model.AggregatedBook) {
	if e.bus != nil {
		e.bus.Publish(ctx, "aggregated.book."+symbol, agg)
		e.bus.Publish(ctx, "agg.routing."+symbol, struct {
			Buy  model.Routing `json:"buy"`
			Sell model.Routing `json:"sell"`
		}{Buy: agg.RoutingBuy, Sell: agg.RoutingSell})
	}
	if e.cache != nil {
		_ = e.cache.SetAggregatedBook(ctx, symbol, agg, 60*time.Second)
		_ = e.cache.SetRouting(ctx, symbol, agg.RoutingBuy, agg.RoutingSell, 1*time.Second)
	}
}

// LatestAggregatedBook recomputes and returns the aggregated book for a
// symbol without consulting or mutating the throttle state (used by
// read-only consumers that need freshness outside the publish cadence).
func (e *Engine) LatestAggregatedBook(symbol string) (model.AggregatedBook, bool) {
	e.mu.RLock()
	st, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if !ok {
		return model.AggregatedBook{}, false
	}
	st.mu.Lock()
	books := make(map[model.Venue]model.Orderbook, len(st.venueBooks))
	for v, b := range st.venueBooks {
		books[v] = b
	}
	st.mu.Unlock()
	return merge(symbol, books), true
}
