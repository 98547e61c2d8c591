package venue

import (
	"encoding/json"
	"fmt"

	"github.com/sawpanic/venuefeed/internal/config"
	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// AsterURL is the default perpetuals WebSocket endpoint.
const AsterURL = "wss://fstream.asterdex.com/ws"

// asterDecoder speaks Aster's depthUpdate/trade messages: incremental
// deltas using the `{px,sz}` object level shape.
type asterDecoder struct{}

type asterSubscribe struct {
	Type   string   `json:"type"`
	Symbol []string `json:"symbols"`
}

func (asterDecoder) SubscribePayloads(symbols []string) [][]byte {
	payload, _ := json.Marshal(asterSubscribe{Type: "subscribe", Symbol: symbols})
	return [][]byte{payload}
}

type asterMessage struct {
	Type   string            `json:"type"`
	Symbol string            `json:"symbol"`
	Bids   []json.RawMessage `json:"bids"`
	Asks   []json.RawMessage `json:"asks"`
	U      int64             `json:"u"`

	ID   string `json:"id"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Side string `json:"side"`
}

func (asterDecoder) Decode(raw []byte) (DecodedMessage, error) {
	var msg asterMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return DecodedMessage{}, fmt.Errorf("aster: %w", err)
	}

	switch msg.Type {
	case "depthUpdate":
		bids, err := coerceLevels(msg.Bids)
		if err != nil {
			return DecodedMessage{}, fmt.Errorf("aster: bids: %w", err)
		}
		asks, err := coerceLevels(msg.Asks)
		if err != nil {
			return DecodedMessage{}, fmt.Errorf("aster: asks: %w", err)
		}
		return DecodedMessage{Delta: &model.Delta{
			Symbol: msg.Symbol, Bids: bids, Asks: asks, Sequence: msg.U,
		}}, nil

	case "trade":
		return DecodedMessage{Trades: []model.Trade{{
			ID:     msg.ID,
			Symbol: msg.Symbol,
			Price:  msg.Px,
			Size:   msg.Sz,
			Side:   model.Side(msg.Side),
		}}}, nil

	default:
		return DecodedMessage{}, fmt.Errorf("aster: unknown message type %q", msg.Type)
	}
}

// NewAster builds the Aster VenueAdapter.
func NewAster(handlers EventHandlers, cfg config.Config) *Adapter {
	return New(model.VenueAster, AsterURL, asterDecoder{}, handlers, cfg)
}
