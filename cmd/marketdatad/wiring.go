package main

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/venuefeed/internal/config"
	"github.com/sawpanic/venuefeed/internal/marketdata/aggregation"
	"github.com/sawpanic/venuefeed/internal/marketdata/chart"
	"github.com/sawpanic/venuefeed/internal/marketdata/metrics"
	"github.com/sawpanic/venuefeed/internal/marketdata/model"
	"github.com/sawpanic/venuefeed/internal/marketdata/orderbook"
	"github.com/sawpanic/venuefeed/internal/marketdata/trade"
	"github.com/sawpanic/venuefeed/internal/marketdata/venue"
)

// pipeline bundles the engines every venue adapter feeds into, plus the
// connectivity flags the /healthz endpoint reports.
type pipeline struct {
	orderbookEngine       *orderbook.Engine
	tradeEngine           *trade.Engine
	chartEngine           *chart.Engine
	aggregationEngine     *aggregation.Engine
	aggregatedChartEngine *aggregation.ChartEngine
	metrics               *metrics.Registry

	connected map[model.Venue]*atomic.Bool
}

func buildVenueAdapter(v model.Venue, cfg config.Config, p *pipeline) *venue.Adapter {
	connected := &atomic.Bool{}
	p.connected[v] = connected

	handlers := venue.EventHandlers{
		OnConnected: func() {
			connected.Store(true)
			log.Info().Str("venue", string(v)).Msg("venue connected")
			p.metrics.RecordReconnect(string(v), "success")
		},
		OnDisconnected: func(reason string) {
			connected.Store(false)
			log.Warn().Str("venue", string(v)).Str("reason", reason).Msg("venue disconnected")
		},
		OnError: func(kind, detail string) {
			p.metrics.RecordPipelineError("venue_"+string(v), kind)
			log.Warn().Str("venue", string(v)).Str("kind", kind).Str("detail", detail).Msg("venue error")
		},
		OnSnapshot: func(snap model.Snapshot) {
			ctx := context.Background()
			p.orderbookEngine.ProcessSnapshot(ctx, snap)
			p.metrics.RecordOrderbookUpdate(string(v), snap.Symbol, "snapshot")
			p.feedDerived(ctx, v, snap.Symbol)
		},
		OnDelta: func(delta model.Delta) {
			ctx := context.Background()
			p.orderbookEngine.ProcessUpdate(ctx, delta)
			p.metrics.RecordOrderbookUpdate(string(v), delta.Symbol, "delta")
			p.feedDerived(ctx, v, delta.Symbol)
		},
		OnTrades: func(trades []model.Trade) {
			ctx := context.Background()
			p.tradeEngine.ProcessTrades(ctx, trades)
			for _, t := range trades {
				p.chartEngine.ProcessTickData(ctx, model.TickData{
					Symbol: t.Symbol, Venue: t.Venue, Price: t.Price, Size: t.Size,
					Side: t.Side, Timestamp: t.Timestamp, TradeID: t.ID,
				})
			}
		},
	}

	var adapter *venue.Adapter
	switch v {
	case model.VenueHyperliquid:
		adapter = venue.NewHyperliquid(handlers, cfg)
	case model.VenueAster:
		adapter = venue.NewAster(handlers, cfg)
	case model.VenueLighter:
		adapter = venue.NewLighter(handlers, cfg)
	case model.VenueAvantis:
		adapter = venue.NewAvantis(handlers, cfg)
	}
	return adapter
}

// feedDerived pushes the updated book's synthetic midpoint tick into
// ChartEngine and the latest per-venue book into AggregationEngine (spec
// §4.4, §4.5). Both are plain in-process calls rather than a bus round
// trip: they must see the write that just happened, not a throttled copy.
func (p *pipeline) feedDerived(ctx context.Context, v model.Venue, symbol string) {
	ob, ok := p.orderbookEngine.Orderbook(v, symbol)
	if !ok {
		return
	}
	p.aggregationEngine.ProcessOrderbookUpdate(ctx, ob)

	if ob.MidPrice <= 0 {
		return
	}
	ts := ob.LastUpdate
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	p.chartEngine.ProcessTickData(ctx, model.TickData{
		Symbol: symbol, Venue: v,
		Price:     strconv.FormatFloat(ob.MidPrice, 'f', -1, 64),
		Size:      "0",
		Timestamp: ts,
	})
}
