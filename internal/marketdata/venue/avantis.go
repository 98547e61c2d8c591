package venue

import (
	"encoding/json"
	"fmt"

	"github.com/sawpanic/venuefeed/internal/config"
	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// AvantisURL is the default perpetuals WebSocket endpoint.
const AvantisURL = "wss://api.avantisfi.com/ws"

// avantisDecoder speaks Avantis's book_snapshot/trade messages: full
// snapshots only using the `{px,sz}` object level shape, keyed by "pair"
// instead of "symbol".
type avantisDecoder struct{}

type avantisSubscribe struct {
	Msg   string   `json:"msg"`
	Pairs []string `json:"pairs"`
}

func (avantisDecoder) SubscribePayloads(symbols []string) [][]byte {
	payload, _ := json.Marshal(avantisSubscribe{Msg: "subscribe", Pairs: symbols})
	return [][]byte{payload}
}

type avantisMessage struct {
	Msg      string            `json:"msg"`
	Pair     string            `json:"pair"`
	Bids     []json.RawMessage `json:"bids"`
	Asks     []json.RawMessage `json:"asks"`
	Sequence int64             `json:"sequence"`

	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	TradeID string `json:"trade_id"`
}

func (avantisDecoder) Decode(raw []byte) (DecodedMessage, error) {
	var msg avantisMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return DecodedMessage{}, fmt.Errorf("avantis: %w", err)
	}

	switch msg.Msg {
	case "book_snapshot":
		bids, err := coerceLevels(msg.Bids)
		if err != nil {
			return DecodedMessage{}, fmt.Errorf("avantis: bids: %w", err)
		}
		asks, err := coerceLevels(msg.Asks)
		if err != nil {
			return DecodedMessage{}, fmt.Errorf("avantis: asks: %w", err)
		}
		return DecodedMessage{Snapshot: &model.Snapshot{
			Symbol: msg.Pair, Bids: bids, Asks: asks, Sequence: msg.Sequence,
		}}, nil

	case "trade":
		return DecodedMessage{Trades: []model.Trade{{
			ID:     msg.TradeID,
			Symbol: msg.Pair,
			Price:  msg.Px,
			Size:   msg.Sz,
			Side:   model.Side(msg.Side),
		}}}, nil

	default:
		return DecodedMessage{}, fmt.Errorf("avantis: unknown message %q", msg.Msg)
	}
}

// NewAvantis builds the Avantis VenueAdapter.
func NewAvantis(handlers EventHandlers, cfg config.Config) *Adapter {
	return New(model.VenueAvantis, AvantisURL, avantisDecoder{}, handlers, cfg)
}
