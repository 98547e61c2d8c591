package coldstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// Postgres is the durable ColdStore implementation, grounded on
// trades_repo.go's per-call context timeout and prepared-batch-insert idiom.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgres wraps an already-open sqlx connection. Schema migration is out
// of scope here; the `candles` table is assumed to exist with columns
// matching candleRow below.
func NewPostgres(db *sqlx.DB, timeout time.Duration) *Postgres {
	return &Postgres{db: db, timeout: timeout}
}

type candleRow struct {
	Venue              string    `db:"venue"`
	Symbol             string    `db:"symbol"`
	Timeframe          int64     `db:"timeframe"`
	Timestamp          time.Time `db:"ts"`
	Open               string    `db:"open"`
	High               string    `db:"high"`
	Low                string    `db:"low"`
	Close              string    `db:"close"`
	Volume             string    `db:"volume"`
	QuoteVolume        string    `db:"quote_volume"`
	TradeCount         int64     `db:"trade_count"`
	VWAP               string    `db:"vwap"`
	PriceChange        string    `db:"price_change"`
	PriceChangePercent string    `db:"price_change_percent"`
}

// WriteCandles inserts a batch of completed candles inside one transaction,
// upserting on (venue,symbol,timeframe,ts) conflict so a re-queued retry
// after a partial failure doesn't duplicate rows.
func (p *Postgres) WriteCandles(ctx context.Context, venue model.Venue, symbol string, timeframe model.Timeframe, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candle batch tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (venue, symbol, timeframe, ts, open, high, low, close, volume, quote_volume, trade_count, vwap, price_change, price_change_percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (venue, symbol, timeframe, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close,
			volume = EXCLUDED.volume, quote_volume = EXCLUDED.quote_volume, trade_count = EXCLUDED.trade_count,
			vwap = EXCLUDED.vwap, price_change = EXCLUDED.price_change, price_change_percent = EXCLUDED.price_change_percent`)
	if err != nil {
		return fmt.Errorf("prepare candle batch insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx,
			string(venue), symbol, int64(timeframe), c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume, c.QuoteVolume,
			c.TradeCount, c.VWAP, c.PriceChange, c.PriceChangePercent)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok {
				return fmt.Errorf("insert candle (code %s): %w", pqErr.Code, err)
			}
			return fmt.Errorf("insert candle: %w", err)
		}
	}

	return tx.Commit()
}

// ReadCandles returns persisted candles for a (venue,symbol,timeframe)
// within [from,to], ordered oldest first.
func (p *Postgres) ReadCandles(ctx context.Context, venue model.Venue, symbol string, timeframe model.Timeframe, from, to time.Time) ([]model.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := `
		SELECT venue, symbol, timeframe, ts, open, high, low, close, volume, quote_volume, trade_count, vwap, price_change, price_change_percent
		FROM candles
		WHERE venue = $1 AND symbol = $2 AND timeframe = $3 AND ts >= $4 AND ts <= $5
		ORDER BY ts ASC`

	rows, err := p.db.QueryxContext(ctx, query, string(venue), symbol, int64(timeframe), from, to)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var row candleRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		out = append(out, model.Candle{
			Venue:              model.Venue(row.Venue),
			Symbol:             row.Symbol,
			Timeframe:          model.Timeframe(row.Timeframe),
			Timestamp:          row.Timestamp,
			Open:               row.Open,
			High:               row.High,
			Low:                row.Low,
			Close:              row.Close,
			Volume:             row.Volume,
			QuoteVolume:        row.QuoteVolume,
			TradeCount:         row.TradeCount,
			VWAP:               row.VWAP,
			PriceChange:        row.PriceChange,
			PriceChangePercent: row.PriceChangePercent,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return out, nil
}

// Health runs a trivial round-trip query to confirm the connection is alive.
func (p *Postgres) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	var one int
	if err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("coldstore health check: %w", err)
	}
	return nil
}
