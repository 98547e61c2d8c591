// Package coldstore provides the ChartEngine's optional durable candle
// persistence (spec §4.3/§4.4), grounded on the sqlx + lib/pq query and
// timeout idiom of internal/persistence/postgres/trades_repo.go.
package coldstore

import (
	"context"
	"time"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// ColdStore is the interface ChartEngine drains its batch buffer into.
type ColdStore interface {
	WriteCandles(ctx context.Context, venue model.Venue, symbol string, timeframe model.Timeframe, candles []model.Candle) error
	ReadCandles(ctx context.Context, venue model.Venue, symbol string, timeframe model.Timeframe, from, to time.Time) ([]model.Candle, error)
	Health(ctx context.Context) error
}
