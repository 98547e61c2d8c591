// Package venue implements VenueAdapter: one persistent WebSocket client per
// perpetual-futures venue (Hyperliquid, Aster, Lighter, Avantis), each
// translating its own wire protocol into the shared Snapshot/Delta/Trade
// event shapes.
//
// Grounded on internal/providers/kraken/websocket.go's connect/ping-loop/
// reconnect-channel/handler-registration shape (gorilla/websocket,
// exponential-backoff reconnect, per-channel handler dispatch) and
// internal/data/ws/binance.go's Connect/Subscribe/Disconnect/IsConnected
// adapter contract.
package venue

import (
	"encoding/json"
	"fmt"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// DecodedMessage is the venue-agnostic result of decoding one wire frame.
// A frame yields at most one of Snapshot/Delta, plus zero or more Trades.
type DecodedMessage struct {
	Snapshot *model.Snapshot
	Delta    *model.Delta
	Trades   []model.Trade
}

// Decoder is implemented once per venue: it builds the venue's subscription
// payloads and decodes its native wire frames. All decimal values are kept
// as strings through this boundary (spec §3); no Decoder does float math.
type Decoder interface {
	SubscribePayloads(symbols []string) [][]byte
	Decode(raw []byte) (DecodedMessage, error)
}

// wireLevelObj is the `{px, sz}` object shape for a price level (spec §4.1).
type wireLevelObj struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

// coerceLevel accepts either the `[price,size]` tuple shape or the
// `{px,sz}` object shape and normalizes both into a WireLevel.
func coerceLevel(raw json.RawMessage) (model.WireLevel, error) {
	var tuple []string
	if err := json.Unmarshal(raw, &tuple); err == nil && len(tuple) == 2 {
		return model.WireLevel{Price: tuple[0], Size: tuple[1]}, nil
	}
	var obj wireLevelObj
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Px != "" {
		return model.WireLevel{Price: obj.Px, Size: obj.Sz}, nil
	}
	return model.WireLevel{}, fmt.Errorf("venue: unrecognized price level shape: %s", raw)
}

// coerceLevels maps coerceLevel across a slice of raw level entries.
func coerceLevels(raws []json.RawMessage) ([]model.WireLevel, error) {
	out := make([]model.WireLevel, 0, len(raws))
	for _, r := range raws {
		lvl, err := coerceLevel(r)
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

// EventHandlers are the adapter's observable events (spec §4.1): connected,
// disconnected{reason}, error{kind,detail}, orderbook(Snapshot/Delta),
// trades([]Trade). Any handler may be nil.
type EventHandlers struct {
	OnConnected    func()
	OnDisconnected func(reason string)
	OnError        func(kind, detail string)
	OnSnapshot     func(model.Snapshot)
	OnDelta        func(model.Delta)
	OnTrades       func([]model.Trade)
}
