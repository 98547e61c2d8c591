package trade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

type recordingBus struct {
	mu    sync.Mutex
	count int
}

func (b *recordingBus) Publish(ctx context.Context, channel string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
}

func TestProcessTradesPublishesIndividually(t *testing.T) {
	bus := &recordingBus{}
	e := New(nil, bus, 0)

	now := time.Now()
	trades := []model.Trade{
		{ID: "1", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "100", Size: "1", Side: model.SideBuy, Timestamp: now},
		{ID: "2", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "101", Size: "2", Side: model.SideSell, Timestamp: now},
	}
	e.ProcessTrades(context.Background(), trades)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.count != 2 {
		t.Fatalf("expected 2 individual publishes, got %d", bus.count)
	}
}

func TestRecentTradesOrderedNewestFirst(t *testing.T) {
	e := New(nil, nil, 0)
	now := time.Now()
	trades := []model.Trade{
		{ID: "1", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "100", Size: "1", Side: model.SideBuy, Timestamp: now.Add(-2 * time.Second)},
		{ID: "2", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "101", Size: "1", Side: model.SideBuy, Timestamp: now.Add(-1 * time.Second)},
		{ID: "3", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "102", Size: "1", Side: model.SideBuy, Timestamp: now},
	}
	e.ProcessTrades(context.Background(), trades)

	got := e.RecentTrades(model.VenueHyperliquid, "BTC", Filter{}, 0)
	if len(got) != 3 || got[0].ID != "3" || got[2].ID != "1" {
		t.Fatalf("expected newest-first order, got %+v", got)
	}
}

func TestRecentTradesRingIsBounded(t *testing.T) {
	e := New(nil, nil, 0)
	now := time.Now()
	for i := 0; i < maxRingSize+50; i++ {
		e.ProcessTrades(context.Background(), []model.Trade{{
			ID: "x", Venue: model.VenueHyperliquid, Symbol: "BTC",
			Price: "100", Size: "1", Side: model.SideBuy, Timestamp: now.Add(time.Duration(i) * time.Millisecond),
		}})
	}
	got := e.RecentTrades(model.VenueHyperliquid, "BTC", Filter{}, 0)
	if len(got) != maxRingSize {
		t.Fatalf("expected ring bounded to %d, got %d", maxRingSize, len(got))
	}
}

func TestRecentTradesFilterBySideAndPrice(t *testing.T) {
	e := New(nil, nil, 0)
	now := time.Now()
	e.ProcessTrades(context.Background(), []model.Trade{
		{ID: "1", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "100", Size: "1", Side: model.SideBuy, Timestamp: now},
		{ID: "2", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "200", Size: "1", Side: model.SideSell, Timestamp: now},
	})

	buys := e.RecentTrades(model.VenueHyperliquid, "BTC", Filter{Side: model.SideBuy}, 0)
	if len(buys) != 1 || buys[0].ID != "1" {
		t.Fatalf("expected only the buy trade, got %+v", buys)
	}

	highPrice := e.RecentTrades(model.VenueHyperliquid, "BTC", Filter{MinPrice: 150}, 0)
	if len(highPrice) != 1 || highPrice[0].ID != "2" {
		t.Fatalf("expected only the high-price trade, got %+v", highPrice)
	}
}

func TestWindowMetricsComputesLastHighLowAndChange(t *testing.T) {
	e := New(nil, nil, 0)
	now := time.Now()
	e.ProcessTrades(context.Background(), []model.Trade{
		{ID: "1", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "100", Size: "1", Side: model.SideBuy, Timestamp: now.Add(-30 * time.Second)},
		{ID: "2", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "110", Size: "2", Side: model.SideBuy, Timestamp: now.Add(-20 * time.Second)},
		{ID: "3", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "90", Size: "1", Side: model.SideSell, Timestamp: now},
	})

	metrics := e.WindowMetrics(model.VenueHyperliquid, "BTC", now)
	var oneMin *WindowMetrics
	for i := range metrics {
		if metrics[i].Window == time.Minute {
			oneMin = &metrics[i]
		}
	}
	if oneMin == nil {
		t.Fatal("expected a 1m window result")
	}
	if oneMin.Count != 3 || oneMin.High != 110 || oneMin.Low != 90 || oneMin.LastPrice != 90 {
		t.Fatalf("got %+v", oneMin)
	}
	if oneMin.PriceChange != -10 {
		t.Fatalf("expected price change of -10 from open 100 to last 90, got %v", oneMin.PriceChange)
	}
}

func TestWindowMetricsExcludesTradesOutsideWindow(t *testing.T) {
	e := New(nil, nil, 0)
	now := time.Now()
	e.ProcessTrades(context.Background(), []model.Trade{
		{ID: "old", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "50", Size: "1", Side: model.SideBuy, Timestamp: now.Add(-2 * time.Hour)},
		{ID: "new", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "100", Size: "1", Side: model.SideBuy, Timestamp: now},
	})

	metrics := e.WindowMetrics(model.VenueHyperliquid, "BTC", now)
	for _, m := range metrics {
		if m.Window == time.Minute && m.Count != 1 {
			t.Fatalf("expected the 1m window to see only the recent trade, got count=%d", m.Count)
		}
	}
}

func TestMaintainPrunesBeyondRetention(t *testing.T) {
	e := New(nil, nil, 1) // retention = 1 day
	now := time.Now()
	e.ProcessTrades(context.Background(), []model.Trade{
		{ID: "ancient", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "100", Size: "1", Side: model.SideBuy, Timestamp: now.Add(-48 * time.Hour)},
		{ID: "recent", Venue: model.VenueHyperliquid, Symbol: "BTC", Price: "100", Size: "1", Side: model.SideBuy, Timestamp: now},
	})

	e.maintain(context.Background())

	got := e.RecentTrades(model.VenueHyperliquid, "BTC", Filter{}, 0)
	if len(got) != 1 || got[0].ID != "recent" {
		t.Fatalf("expected only the recent trade to survive pruning, got %+v", got)
	}
}
