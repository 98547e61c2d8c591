package orderbook

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

func lvl(price, size string) model.WireLevel {
	return model.WireLevel{Price: price, Size: size}
}

func TestProcessSnapshotThenDeltaRemoval(t *testing.T) {
	// S2 — Delta removal.
	e := New(nil, nil)
	ctx := context.Background()

	e.ProcessSnapshot(ctx, model.Snapshot{
		Venue:  model.VenueHyperliquid,
		Symbol: "BTC",
		Bids:   []model.WireLevel{lvl("100", "1"), lvl("99", "2")},
		Asks:   []model.WireLevel{lvl("101", "1")},
	})

	e.ProcessUpdate(ctx, model.Delta{
		Venue:  model.VenueHyperliquid,
		Symbol: "BTC",
		Bids:   []model.WireLevel{lvl("99", "0")},
	})

	ob, ok := e.Orderbook(model.VenueHyperliquid, "BTC")
	if !ok {
		t.Fatal("expected book to exist")
	}
	if len(ob.Bids) != 1 || ob.Bids[0].Price != "100" {
		t.Fatalf("expected single bid at 100, got %+v", ob.Bids)
	}
	if len(ob.Asks) != 1 || ob.Asks[0].Price != "101" {
		t.Fatalf("expected asks unchanged, got %+v", ob.Asks)
	}
	if ob.Spread != 1 {
		t.Fatalf("expected spread 1, got %v", ob.Spread)
	}
}

func TestSnapshotIdempotence(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()
	snap := model.Snapshot{
		Venue:  model.VenueAster,
		Symbol: "ETH",
		Bids:   []model.WireLevel{lvl("10", "1")},
		Asks:   []model.WireLevel{lvl("11", "1")},
	}
	e.ProcessSnapshot(ctx, snap)
	first, _ := e.Orderbook(model.VenueAster, "ETH")
	e.ProcessSnapshot(ctx, snap)
	second, _ := e.Orderbook(model.VenueAster, "ETH")

	if len(first.Bids) != len(second.Bids) || first.Bids[0].Price != second.Bids[0].Price {
		t.Fatalf("snapshot replay changed state: %+v vs %+v", first, second)
	}
}

func TestDeltaForUnknownBookIsNoop(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()
	e.ProcessUpdate(ctx, model.Delta{Venue: model.VenueLighter, Symbol: "SOL", Bids: []model.WireLevel{lvl("1", "1")}})
	if _, ok := e.Orderbook(model.VenueLighter, "SOL"); ok {
		t.Fatal("delta for unknown book must not create state")
	}
}

func TestDeltaRemovalOfNonexistentPriceIsNoop(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()
	e.ProcessSnapshot(ctx, model.Snapshot{
		Venue: model.VenueAvantis, Symbol: "AVAX",
		Bids: []model.WireLevel{lvl("5", "1")},
		Asks: []model.WireLevel{lvl("6", "1")},
	})
	e.ProcessUpdate(ctx, model.Delta{Venue: model.VenueAvantis, Symbol: "AVAX", Bids: []model.WireLevel{lvl("999", "0")}})

	ob, _ := e.Orderbook(model.VenueAvantis, "AVAX")
	if len(ob.Bids) != 1 {
		t.Fatalf("removing a nonexistent price must be a no-op, got %+v", ob.Bids)
	}
}

func TestNoPriceAppearsInBothSides(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()
	e.ProcessSnapshot(ctx, model.Snapshot{
		Venue: model.VenueHyperliquid, Symbol: "BTC",
		Bids: []model.WireLevel{lvl("100", "1")},
		Asks: []model.WireLevel{lvl("100", "1")}, // malformed upstream, still must not collide
	})
	ob, _ := e.Orderbook(model.VenueHyperliquid, "BTC")
	bidPrices := map[string]bool{}
	for _, b := range ob.Bids {
		bidPrices[b.Price] = true
	}
	for _, a := range ob.Asks {
		if bidPrices[a.Price] {
			t.Fatalf("price %s present on both sides", a.Price)
		}
	}
}

func TestBestBidBelowBestAsk(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()
	e.ProcessSnapshot(ctx, model.Snapshot{
		Venue: model.VenueHyperliquid, Symbol: "BTC",
		Bids: []model.WireLevel{lvl("100", "1"), lvl("98", "1")},
		Asks: []model.WireLevel{lvl("102", "1"), lvl("103", "1")},
	})
	ob, _ := e.Orderbook(model.VenueHyperliquid, "BTC")
	if !(ob.Bids[0].PriceFloat() < ob.Asks[0].PriceFloat()) {
		t.Fatalf("expected bids[0] < asks[0], got %v >= %v", ob.Bids[0].PriceFloat(), ob.Asks[0].PriceFloat())
	}
}

func TestCalculatePriceImpactBuy(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()
	e.ProcessSnapshot(ctx, model.Snapshot{
		Venue: model.VenueHyperliquid, Symbol: "BTC",
		Bids: []model.WireLevel{lvl("100", "5")},
		Asks: []model.WireLevel{lvl("101", "1"), lvl("102", "5")},
	})

	impact, ok := e.CalculatePriceImpact(model.VenueHyperliquid, "BTC", model.SideBuy, 3)
	if !ok {
		t.Fatal("expected impact calculation to succeed")
	}
	// mid = (100+101)/2 = 100.5; fill 1@101 + 2@102 = 305; avg = 101.666...
	wantAvg := (101.0 + 2*102.0) / 3.0
	if diff := impact.AverageFill - wantAvg; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected avg fill %v, got %v", wantAvg, impact.AverageFill)
	}
	if impact.ImpactPercent <= 0 {
		t.Fatalf("buy impact paying above mid should be positive, got %v", impact.ImpactPercent)
	}
	if !impact.FullyFilled {
		t.Fatal("expected fully filled")
	}
}

func TestCalculatePriceImpactSell(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()
	e.ProcessSnapshot(ctx, model.Snapshot{
		Venue: model.VenueHyperliquid, Symbol: "BTC",
		Bids: []model.WireLevel{lvl("100", "1"), lvl("99", "5")},
		Asks: []model.WireLevel{lvl("101", "5")},
	})

	impact, ok := e.CalculatePriceImpact(model.VenueHyperliquid, "BTC", model.SideSell, 3)
	if !ok {
		t.Fatal("expected impact calculation to succeed")
	}
	if impact.ImpactPercent <= 0 {
		t.Fatalf("sell impact receiving below mid should be positive, got %v", impact.ImpactPercent)
	}
}

func TestPartialFill(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()
	e.ProcessSnapshot(ctx, model.Snapshot{
		Venue: model.VenueHyperliquid, Symbol: "BTC",
		Bids: []model.WireLevel{lvl("100", "1")},
		Asks: []model.WireLevel{lvl("101", "1")},
	})
	impact, ok := e.CalculatePriceImpact(model.VenueHyperliquid, "BTC", model.SideBuy, 10)
	if !ok {
		t.Fatal("expected impact calculation to succeed")
	}
	if impact.FullyFilled {
		t.Fatal("expected partial fill")
	}
	if impact.FilledSize != 1 {
		t.Fatalf("expected filled size 1, got %v", impact.FilledSize)
	}
}

type stubCache struct{ calls int }

func (s *stubCache) SetOrderbook(ctx context.Context, venue model.Venue, symbol string, book model.Orderbook, ttl time.Duration) error {
	s.calls++
	return nil
}

func TestWriteThroughPeriodic(t *testing.T) {
	cache := &stubCache{}
	e := New(cache, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.ProcessSnapshot(ctx, model.Snapshot{
		Venue: model.VenueHyperliquid, Symbol: "BTC",
		Bids: []model.WireLevel{lvl("100", "1")},
		Asks: []model.WireLevel{lvl("101", "1")},
	})

	e.writeThroughAll(ctx)
	if cache.calls != 1 {
		t.Fatalf("expected one write-through call, got %d", cache.calls)
	}
}
