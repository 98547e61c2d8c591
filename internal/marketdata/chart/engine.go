// Package chart folds TickData (real trades and synthetic order-book
// midpoints) into in-flight OHLCV candles across the fixed seven-timeframe
// set, emitting CandleUpdated on every fold and CandleCompleted on bucket
// boundary crossings.
//
// Grounded on the teacher's batch-buffer-then-drain idiom described for
// candle persistence (spec §9) and its per-timeframe map-of-builders shape,
// generalized from cryptorun's regime/momentum bucket handling.
package chart

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// Publisher is the subset of the PublishBus the engine emits through.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{})
}

// ColdStore receives batches of completed candles for optional durable
// storage (spec §4.4's batch buffer).
type ColdStore interface {
	WriteCandles(ctx context.Context, venue model.Venue, symbol string, timeframe model.Timeframe, candles []model.Candle) error
}

const (
	defaultBatchSize          = 100
	defaultBatchDrainInterval = 10 * time.Second
	maxBatchRetries           = 3
)

type builderKey struct {
	venue     model.Venue
	symbol    string
	timeframe model.Timeframe
}

// builder is the in-flight CandleBuilder for one (venue,symbol,timeframe).
type builder struct {
	bucketStart time.Time
	open        float64
	high        float64
	low         float64
	close       float64
	volume      float64
	quoteVolume float64
	tradeCount  int64
}

func newBuilder(bucketStart time.Time, price, size float64, isSynthetic bool) *builder {
	b := &builder{
		bucketStart: bucketStart,
		open:        price,
		high:        price,
		low:         price,
		close:       price,
		volume:      size,
		quoteVolume: price * size,
	}
	if !isSynthetic {
		b.tradeCount = 1
	}
	return b
}

func (b *builder) fold(price, size float64, isSynthetic bool) {
	if price > b.high {
		b.high = price
	}
	if price < b.low {
		b.low = price
	}
	b.close = price
	if !isSynthetic {
		b.volume += size
		b.quoteVolume += price * size
		b.tradeCount++
	}
}

func (b *builder) vwap() float64 {
	if b.volume > 0 {
		return b.quoteVolume / b.volume
	}
	return b.open
}

func (b *builder) toCandle(venue model.Venue, symbol string, tf model.Timeframe) model.Candle {
	priceChange := b.close - b.open
	var priceChangePercent float64
	if b.open != 0 {
		priceChangePercent = priceChange / b.open * 100
	}
	return model.Candle{
		Venue:              venue,
		Symbol:             symbol,
		Timeframe:          tf,
		Timestamp:          b.bucketStart,
		Open:               formatFloat(b.open),
		High:               formatFloat(b.high),
		Low:                formatFloat(b.low),
		Close:              formatFloat(b.close),
		Volume:             formatFloat(b.volume),
		QuoteVolume:        formatFloat(b.quoteVolume),
		TradeCount:         b.tradeCount,
		VWAP:               formatFloat(b.vwap()),
		PriceChange:        formatFloat(priceChange),
		PriceChangePercent: formatFloat(priceChangePercent),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Engine is the ChartEngine. Single-writer per (venue,symbol,timeframe),
// guarded by one mutex over the whole builder map (spec §5) — the pack's
// symbol counts don't justify per-key sharding.
type Engine struct {
	mu       sync.Mutex
	builders map[builderKey]*builder

	bus   Publisher
	store ColdStore

	batch      []model.Candle
	batchKeys  []batchTarget
	batchMu    sync.Mutex

	batchSize          int
	batchDrainInterval time.Duration

	// OnCandleEvent, if set, receives every candle fold in-process
	// alongside the bus publish — AggregatedChartEngine subscribes this
	// way since the bus only supports exact-channel subscription, not the
	// candles.*.*.* wildcard a cross-venue merge needs.
	OnCandleEvent func(model.Venue, model.CandleEvent)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type batchTarget struct {
	venue  model.Venue
	symbol string
	tf     model.Timeframe
}

// New builds a ChartEngine. bus and store may be nil. batchSize and
// batchDrainInterval implement the §6 candle_batch_size/candle_batch_interval_ms
// config options; zero/negative values fall back to the spec defaults.
func New(bus Publisher, store ColdStore, batchSize int, batchDrainInterval time.Duration) *Engine {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if batchDrainInterval <= 0 {
		batchDrainInterval = defaultBatchDrainInterval
	}
	return &Engine{
		builders:           make(map[builderKey]*builder),
		bus:                bus,
		store:              store,
		batchSize:          batchSize,
		batchDrainInterval: batchDrainInterval,
		stopCh:             make(chan struct{}),
	}
}

// ProcessTickData folds a tick into every timeframe's builder (spec §4.4).
func (e *Engine) ProcessTickData(ctx context.Context, tick model.TickData) {
	price, okP := model.ParsePrice(tick.Price)
	if !okP {
		log.Warn().Str("symbol", tick.Symbol).Str("price", tick.Price).Msg("chart: unparsable tick price dropped")
		return
	}
	size, okS := model.ParsePrice(tick.Size)
	if !okS {
		log.Warn().Str("symbol", tick.Symbol).Str("size", tick.Size).Msg("chart: unparsable tick size dropped")
		return
	}
	isSynthetic := model.IsZeroSize(tick.Size)

	for _, tf := range model.Timeframes {
		e.foldOne(ctx, tick.Venue, tick.Symbol, tf, tick.Timestamp, price, size, isSynthetic)
	}
}

func bucketStart(ts time.Time, tf model.Timeframe) time.Time {
	tfSecs := int64(tf)
	unix := ts.Unix()
	bucket := (unix / tfSecs) * tfSecs
	return time.Unix(bucket, 0).UTC()
}

func (e *Engine) foldOne(ctx context.Context, venue model.Venue, symbol string, tf model.Timeframe, ts time.Time, price, size float64, isSynthetic bool) {
	key := builderKey{venue: venue, symbol: symbol, timeframe: tf}
	bStart := bucketStart(ts, tf)

	e.mu.Lock()
	b, exists := e.builders[key]
	var completed *model.Candle
	if exists && !b.bucketStart.Equal(bStart) {
		c := b.toCandle(venue, symbol, tf)
		completed = &c
		b = nil
		exists = false
	}
	if !exists {
		b = newBuilder(bStart, price, size, isSynthetic)
		e.builders[key] = b
	} else {
		b.fold(price, size, isSynthetic)
	}
	updated := b.toCandle(venue, symbol, tf)
	e.mu.Unlock()

	if completed != nil {
		e.publish(ctx, venue, symbol, tf, *completed, model.CandleEventNew)
		e.enqueueBatch(venue, symbol, tf, *completed)
	}
	e.publish(ctx, venue, symbol, tf, updated, model.CandleEventUpdate)
}

func (e *Engine) publish(ctx context.Context, venue model.Venue, symbol string, tf model.Timeframe, candle model.Candle, evt model.CandleEventType) {
	event := model.CandleEvent{Candle: candle, Type: evt}
	if e.OnCandleEvent != nil {
		e.OnCandleEvent(venue, event)
	}
	if e.bus == nil {
		return
	}
	channel := "candles." + string(venue) + "." + symbol + "." + tf.String()
	e.bus.Publish(ctx, channel, event)
}

func (e *Engine) enqueueBatch(venue model.Venue, symbol string, tf model.Timeframe, candle model.Candle) {
	e.batchMu.Lock()
	defer e.batchMu.Unlock()
	e.batch = append(e.batch, candle)
	e.batchKeys = append(e.batchKeys, batchTarget{venue: venue, symbol: symbol, tf: tf})
	if len(e.batch) > e.batchSize {
		e.batch = e.batch[len(e.batch)-e.batchSize:]
		e.batchKeys = e.batchKeys[len(e.batchKeys)-e.batchSize:]
	}
}

// ForceCompleteAllCandles flushes every in-flight builder as a completed
// candle, used on shutdown (spec §4.4).
func (e *Engine) ForceCompleteAllCandles(ctx context.Context) {
	e.mu.Lock()
	type pending struct {
		key    builderKey
		candle model.Candle
	}
	var toFlush []pending
	for key, b := range e.builders {
		toFlush = append(toFlush, pending{key: key, candle: b.toCandle(key.venue, key.symbol, key.timeframe)})
	}
	e.builders = make(map[builderKey]*builder)
	e.mu.Unlock()

	for _, p := range toFlush {
		e.publish(ctx, p.key.venue, p.key.symbol, p.key.timeframe, p.candle, model.CandleEventNew)
		e.enqueueBatch(p.key.venue, p.key.symbol, p.key.timeframe, p.candle)
	}
}

// StartBatchDrain launches the 10s batch-buffer drain loop (spec §4.4): on
// store failure the batch is re-queued at the head, bounded-retry not
// infinite.
func (e *Engine) StartBatchDrain(ctx context.Context) {
	if e.store == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.batchDrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.drainBatch(ctx)
			}
		}
	}()
}

func (e *Engine) drainBatch(ctx context.Context) {
	e.batchMu.Lock()
	if len(e.batch) == 0 {
		e.batchMu.Unlock()
		return
	}
	candles := e.batch
	targets := e.batchKeys
	e.batch = nil
	e.batchKeys = nil
	e.batchMu.Unlock()

	grouped := make(map[batchTarget][]model.Candle)
	for i, c := range candles {
		grouped[targets[i]] = append(grouped[targets[i]], c)
	}

	for target, group := range grouped {
		var err error
		for attempt := 0; attempt < maxBatchRetries; attempt++ {
			if err = e.store.WriteCandles(ctx, target.venue, target.symbol, target.tf, group); err == nil {
				break
			}
			log.Warn().Err(model.NewCacheError("candle batch write failed", err)).
				Str("venue", string(target.venue)).Str("symbol", target.symbol).Int("attempt", attempt+1).
				Msg("retrying candle batch write")
		}
		if err != nil {
			e.batchMu.Lock()
			e.batch = append(group, e.batch...)
			newTargets := make([]batchTarget, len(group))
			for i := range newTargets {
				newTargets[i] = target
			}
			e.batchKeys = append(newTargets, e.batchKeys...)
			e.batchMu.Unlock()
		}
	}
}

// Stop halts the batch-drain loop.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}
