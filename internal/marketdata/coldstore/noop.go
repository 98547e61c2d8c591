package coldstore

import (
	"context"
	"time"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// Noop satisfies ColdStore without touching any durable storage, for
// deployments that only need the in-memory/cache view of candles (spec §9
// open question: "implementers may either preserve this or wire a real cold
// store" — this is the preserved side of that choice).
type Noop struct{}

func (Noop) WriteCandles(ctx context.Context, venue model.Venue, symbol string, timeframe model.Timeframe, candles []model.Candle) error {
	return nil
}

func (Noop) ReadCandles(ctx context.Context, venue model.Venue, symbol string, timeframe model.Timeframe, from, to time.Time) ([]model.Candle, error) {
	return nil, nil
}

func (Noop) Health(ctx context.Context) error { return nil }
