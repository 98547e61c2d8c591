// Package model holds the value types shared across the ingestion and
// aggregation pipeline: venue wire events, normalized order-book state, and
// the candle/trade/aggregated-book shapes emitted downstream.
package model

import "time"

// Venue identifies one of the four supported perpetual-futures venues.
type Venue string

const (
	VenueHyperliquid Venue = "H"
	VenueAster       Venue = "A"
	VenueLighter     Venue = "L"
	VenueAvantis     Venue = "V"
)

// Side is the trade/quote direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Timeframe is one of the seven fixed candle bucket widths, in seconds.
type Timeframe int64

const (
	TF1s  Timeframe = 1
	TF1m  Timeframe = 60
	TF5m  Timeframe = 5 * 60
	TF15m Timeframe = 15 * 60
	TF1h  Timeframe = 60 * 60
	TF4h  Timeframe = 4 * 60 * 60
	TF1d  Timeframe = 24 * 60 * 60
)

// Timeframes is the fixed set folded by ChartEngine, in ascending order.
var Timeframes = []Timeframe{TF1s, TF1m, TF5m, TF15m, TF1h, TF4h, TF1d}

// String renders a timeframe the way downstream channel names expect it.
func (tf Timeframe) String() string {
	switch tf {
	case TF1s:
		return "1s"
	case TF1m:
		return "1m"
	case TF5m:
		return "5m"
	case TF15m:
		return "15m"
	case TF1h:
		return "1h"
	case TF4h:
		return "4h"
	case TF1d:
		return "1d"
	default:
		return "unknown"
	}
}

// WireLevel is a single raw (price, size) pair in the venue's native string
// precision, before any decimal parsing. Adapters coerce both wire shapes
// documented in spec §4.1 ({px,sz} objects and [price,size] tuples) into this.
type WireLevel struct {
	Price string
	Size  string
}

// Snapshot is a full order-book replacement event emitted by a VenueAdapter.
type Snapshot struct {
	Venue     Venue
	Symbol    string
	Bids      []WireLevel
	Asks      []WireLevel
	Sequence  int64
	Timestamp time.Time
}

// Delta is an incremental price-level update. A level with Size=="0" (or
// "0.0") removes that price.
type Delta struct {
	Venue     Venue
	Symbol    string
	Bids      []WireLevel
	Asks      []WireLevel
	Sequence  int64
	Timestamp time.Time
}

// Trade is a single normalized fill reported by a venue's trade stream.
type Trade struct {
	ID        string
	Venue     Venue
	Symbol    string
	Price     string
	Size      string
	Side      Side
	Timestamp time.Time
}

// TickData feeds ChartEngine — either a real trade or a synthetic midpoint
// observation (Size=="0") derived from the order book.
type TickData struct {
	Symbol    string
	Venue     Venue
	Price     string
	Size      string
	Side      Side
	Timestamp time.Time
	TradeID   string
}

// PriceLevel is one resting price level inside OrderbookState.
type PriceLevel struct {
	Price     string
	Size      string
	Timestamp time.Time
}

// Level is a sorted, numeric projection of a price level for the emitted
// Orderbook value type.
type Level struct {
	Price string  `json:"price"`
	Size  string  `json:"size"`
	price float64 // unexported, cached for re-sort avoidance
	size  float64
}

// NewLevel builds a Level and remembers its parsed floats for downstream math.
func NewLevel(priceStr, sizeStr string, price, size float64) Level {
	return Level{Price: priceStr, Size: sizeStr, price: price, size: size}
}

// PriceFloat returns the parsed price.
func (l Level) PriceFloat() float64 { return l.price }

// SizeFloat returns the parsed size.
func (l Level) SizeFloat() float64 { return l.size }

// Orderbook is the value type produced by OrderbookEngine on every change.
type Orderbook struct {
	Venue          Venue     `json:"venue"`
	Symbol         string    `json:"symbol"`
	Bids           []Level   `json:"bids"`
	Asks           []Level   `json:"asks"`
	TotalBidSize   float64   `json:"total_bid_size"`
	TotalAskSize   float64   `json:"total_ask_size"`
	Spread         float64   `json:"spread"`
	SpreadPercent  float64   `json:"spread_percent"`
	MidPrice       float64   `json:"mid_price"`
	Sequence       int64     `json:"sequence"`
	LastUpdate     time.Time `json:"last_update"`
	TimestampMono  time.Time `json:"timestamp_mono"`
}

// PriceImpact is the result of walking the book to fill a requested size.
type PriceImpact struct {
	Side           Side    `json:"side"`
	RequestedSize  float64 `json:"requested_size"`
	FilledSize     float64 `json:"filled_size"`
	AverageFill    float64 `json:"average_fill_price"`
	MidPrice       float64 `json:"mid_price"`
	ImpactPercent  float64 `json:"impact_percent"`
	FullyFilled    bool    `json:"fully_filled"`
}

// Candle is the value type emitted by ChartEngine.
type Candle struct {
	Venue               Venue     `json:"venue"`
	Symbol              string    `json:"symbol"`
	Timeframe           Timeframe `json:"timeframe"`
	Timestamp           time.Time `json:"timestamp"`
	Open                string    `json:"open"`
	High                string    `json:"high"`
	Low                 string    `json:"low"`
	Close               string    `json:"close"`
	Volume              string    `json:"volume"`
	QuoteVolume         string    `json:"quote_volume"`
	TradeCount          int64     `json:"trade_count"`
	VWAP                string    `json:"vwap"`
	PriceChange         string    `json:"price_change"`
	PriceChangePercent  string    `json:"price_change_percent"`
}

// CandleEventType distinguishes an in-flight fold from a completed bucket.
type CandleEventType string

const (
	CandleEventUpdate CandleEventType = "update"
	CandleEventNew    CandleEventType = "new"
)

// CandleEvent wraps a Candle with its emission kind.
type CandleEvent struct {
	Candle Candle
	Type   CandleEventType
}

// AggregatedSource is one venue's contribution to an AggregatedLevel.
type AggregatedSource struct {
	Venue Venue   `json:"platform"`
	Size  float64 `json:"size"`
}

// AggregatedLevel is one normalized-price level merged across venues.
type AggregatedLevel struct {
	Price     float64            `json:"price"`
	TotalSize float64            `json:"total_size"`
	Sources   []AggregatedSource `json:"sources"`
}

// Routing carries the smart-order-routing recommendation for one side.
type Routing struct {
	Venue           Venue   `json:"platform"`
	Price           float64 `json:"price"`
	Savings         float64 `json:"savings"`
	SavingsPercent  float64 `json:"savings_percent"`
}

// VenueBookTop is the per-venue top-20 snapshot carried alongside the
// consolidated book.
type VenueBookTop struct {
	Venue Venue   `json:"venue"`
	Bids  []Level `json:"bids"`
	Asks  []Level `json:"asks"`
}

// AggregatedBook is the value type produced by AggregationEngine.
type AggregatedBook struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`

	Bids     []AggregatedLevel `json:"bids"`
	Asks     []AggregatedLevel `json:"asks"`
	Spread   float64           `json:"spread"`
	BestBid  *AggregatedLevel  `json:"best_bid,omitempty"`
	BestAsk  *AggregatedLevel  `json:"best_ask,omitempty"`

	VenueBooks []VenueBookTop `json:"venue_books"`

	RoutingBuy  Routing `json:"routing_buy"`
	RoutingSell Routing `json:"routing_sell"`
}

// AggregatedCandle is the value type produced by AggregatedChartEngine.
type AggregatedCandle struct {
	Symbol      string    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	Timestamp   time.Time `json:"timestamp"`
	Open        string    `json:"open"`
	High        string    `json:"high"`
	Low         string    `json:"low"`
	Close       string    `json:"close"`
	Volume      string    `json:"volume"`
	QuoteVolume string    `json:"quote_volume"`
	Venues      []Venue   `json:"venues"`
}
