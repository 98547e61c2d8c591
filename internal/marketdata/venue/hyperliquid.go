package venue

import (
	"encoding/json"
	"fmt"

	"github.com/sawpanic/venuefeed/internal/config"
	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// HyperliquidURL is the default perpetuals WebSocket endpoint.
const HyperliquidURL = "wss://api.hyperliquid.xyz/ws"

// hyperliquidDecoder speaks Hyperliquid's l2Book/trades channels: full
// snapshots only (no incremental deltas) using the `[price,size]` tuple
// level shape.
type hyperliquidDecoder struct{}

type hyperliquidSubscribe struct {
	Method      string                 `json:"method"`
	Subscription map[string]string     `json:"subscription"`
}

func (hyperliquidDecoder) SubscribePayloads(symbols []string) [][]byte {
	out := make([][]byte, 0, len(symbols)*2)
	for _, sym := range symbols {
		for _, channel := range []string{"l2Book", "trades"} {
			payload, _ := json.Marshal(hyperliquidSubscribe{
				Method: "subscribe",
				Subscription: map[string]string{
					"type": channel,
					"coin": sym,
				},
			})
			out = append(out, payload)
		}
	}
	return out
}

type hyperliquidEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type hyperliquidBookData struct {
	Symbol string            `json:"symbol"`
	Bids   []json.RawMessage `json:"bids"`
	Asks   []json.RawMessage `json:"asks"`
	Seq    int64             `json:"seq"`
}

type hyperliquidTradesData struct {
	Symbol string               `json:"symbol"`
	Trades []hyperliquidTradeRow `json:"trades"`
}

type hyperliquidTradeRow struct {
	ID   string `json:"id"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Side string `json:"side"`
	Time int64  `json:"time"`
}

func (hyperliquidDecoder) Decode(raw []byte) (DecodedMessage, error) {
	var env hyperliquidEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return DecodedMessage{}, fmt.Errorf("hyperliquid: envelope: %w", err)
	}

	switch env.Channel {
	case "l2Book":
		var data hyperliquidBookData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return DecodedMessage{}, fmt.Errorf("hyperliquid: l2Book: %w", err)
		}
		bids, err := coerceLevels(data.Bids)
		if err != nil {
			return DecodedMessage{}, fmt.Errorf("hyperliquid: bids: %w", err)
		}
		asks, err := coerceLevels(data.Asks)
		if err != nil {
			return DecodedMessage{}, fmt.Errorf("hyperliquid: asks: %w", err)
		}
		return DecodedMessage{Snapshot: &model.Snapshot{
			Symbol: data.Symbol, Bids: bids, Asks: asks, Sequence: data.Seq,
		}}, nil

	case "trades":
		var data hyperliquidTradesData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return DecodedMessage{}, fmt.Errorf("hyperliquid: trades: %w", err)
		}
		trades := make([]model.Trade, 0, len(data.Trades))
		for _, row := range data.Trades {
			trades = append(trades, model.Trade{
				ID:     row.ID,
				Symbol: data.Symbol,
				Price:  row.Px,
				Size:   row.Sz,
				Side:   model.Side(row.Side),
			})
		}
		return DecodedMessage{Trades: trades}, nil

	default:
		return DecodedMessage{}, fmt.Errorf("hyperliquid: unknown channel %q", env.Channel)
	}
}

// NewHyperliquid builds the Hyperliquid VenueAdapter.
func NewHyperliquid(handlers EventHandlers, cfg config.Config) *Adapter {
	return New(model.VenueHyperliquid, HyperliquidURL, hyperliquidDecoder{}, handlers, cfg)
}
