package venue

import (
	"encoding/json"
	"fmt"

	"github.com/sawpanic/venuefeed/internal/config"
	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// LighterURL is the default perpetuals WebSocket endpoint.
const LighterURL = "wss://mainnet.zklighter.elliot.ai/stream"

// lighterDecoder speaks Lighter's book_delta/trade events: incremental
// deltas using the `[price,size]` tuple level shape.
type lighterDecoder struct{}

type lighterSubscribe struct {
	E string   `json:"e"`
	S []string `json:"s"`
}

func (lighterDecoder) SubscribePayloads(symbols []string) [][]byte {
	payload, _ := json.Marshal(lighterSubscribe{E: "subscribe", S: symbols})
	return [][]byte{payload}
}

type lighterMessage struct {
	E   string            `json:"e"`
	S   string            `json:"s"`
	B   []json.RawMessage `json:"b"`
	A   []json.RawMessage `json:"a"`
	Seq int64             `json:"seq"`

	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Side string `json:"side"`
	Tid  string `json:"tid"`
	T    int64  `json:"t"`
}

func (lighterDecoder) Decode(raw []byte) (DecodedMessage, error) {
	var msg lighterMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return DecodedMessage{}, fmt.Errorf("lighter: %w", err)
	}

	switch msg.E {
	case "book_delta":
		bids, err := coerceLevels(msg.B)
		if err != nil {
			return DecodedMessage{}, fmt.Errorf("lighter: bids: %w", err)
		}
		asks, err := coerceLevels(msg.A)
		if err != nil {
			return DecodedMessage{}, fmt.Errorf("lighter: asks: %w", err)
		}
		return DecodedMessage{Delta: &model.Delta{
			Symbol: msg.S, Bids: bids, Asks: asks, Sequence: msg.Seq,
		}}, nil

	case "trade":
		return DecodedMessage{Trades: []model.Trade{{
			ID:     msg.Tid,
			Symbol: msg.S,
			Price:  msg.Px,
			Size:   msg.Sz,
			Side:   model.Side(msg.Side),
		}}}, nil

	default:
		return DecodedMessage{}, fmt.Errorf("lighter: unknown event %q", msg.E)
	}
}

// NewLighter builds the Lighter VenueAdapter.
func NewLighter(handlers EventHandlers, cfg config.Config) *Adapter {
	return New(model.VenueLighter, LighterURL, lighterDecoder{}, handlers, cfg)
}
