package aggregation

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// ChartPublisher is the subset of the PublishBus AggregatedChartEngine
// emits through.
type ChartPublisher interface {
	Publish(ctx context.Context, channel string, payload interface{})
}

type candleKey struct {
	symbol    string
	timeframe model.Timeframe
}

// ChartEngine is the AggregatedChartEngine (spec overview item 9): it
// merges the latest per-venue candle for each (symbol,timeframe) into one
// consolidated candle, reusing the same per-symbol cache-and-merge shape as
// AggregationEngine.
type ChartEngine struct {
	mu      sync.Mutex
	byVenue map[candleKey]map[model.Venue]model.Candle

	bus ChartPublisher
}

// NewChartEngine builds an AggregatedChartEngine. bus may be nil.
func NewChartEngine(bus ChartPublisher) *ChartEngine {
	return &ChartEngine{
		byVenue: make(map[candleKey]map[model.Venue]model.Candle),
		bus:     bus,
	}
}

// ProcessCandleEvent folds one venue's candle into the consolidated view and
// emits an updated AggregatedCandle.
func (c *ChartEngine) ProcessCandleEvent(ctx context.Context, venue model.Venue, evt model.CandleEvent) {
	key := candleKey{symbol: evt.Candle.Symbol, timeframe: evt.Candle.Timeframe}

	c.mu.Lock()
	perVenue, ok := c.byVenue[key]
	if !ok {
		perVenue = make(map[model.Venue]model.Candle)
		c.byVenue[key] = perVenue
	}
	perVenue[venue] = evt.Candle
	merged := mergeCandles(key, perVenue)
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(ctx, "agg.candles."+key.symbol+"."+key.timeframe.String(), merged)
	}
}

func mergeCandles(key candleKey, perVenue map[model.Venue]model.Candle) model.AggregatedCandle {
	out := model.AggregatedCandle{Symbol: key.symbol, Timeframe: key.timeframe}

	var (
		earliestOpenTs time.Time
		latestCloseTs  time.Time
		high, low      float64
		haveHighLow    bool
		volume, quote  float64
	)

	for _, venue := range venueOrder {
		candle, ok := perVenue[venue]
		if !ok {
			continue
		}
		out.Venues = append(out.Venues, venue)

		if earliestOpenTs.IsZero() || candle.Timestamp.Before(earliestOpenTs) {
			earliestOpenTs = candle.Timestamp
			out.Open = candle.Open
		}
		if latestCloseTs.IsZero() || !candle.Timestamp.Before(latestCloseTs) {
			latestCloseTs = candle.Timestamp
			out.Close = candle.Close
			out.Timestamp = candle.Timestamp
		}

		h, _ := strconv.ParseFloat(candle.High, 64)
		l, _ := strconv.ParseFloat(candle.Low, 64)
		if !haveHighLow || h > high {
			high = h
		}
		if !haveHighLow || l < low {
			low = l
		}
		haveHighLow = true

		v, _ := strconv.ParseFloat(candle.Volume, 64)
		q, _ := strconv.ParseFloat(candle.QuoteVolume, 64)
		volume += v
		quote += q
	}

	out.High = strconv.FormatFloat(high, 'f', -1, 64)
	out.Low = strconv.FormatFloat(low, 'f', -1, 64)
	out.Volume = strconv.FormatFloat(volume, 'f', -1, 64)
	out.QuoteVolume = strconv.FormatFloat(quote, 'f', -1, 64)
	return out
}
