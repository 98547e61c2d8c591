package venue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/venuefeed/internal/config"
	"github.com/sawpanic/venuefeed/internal/marketdata/breaker"
	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// wsConn is the subset of *websocket.Conn the Adapter needs; isolating it
// lets tests dial a fake connection instead of a real socket.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type dialFunc func(ctx context.Context, url string) (wsConn, error)

func defaultDial(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Adapter is the shared VenueAdapter core (spec §4.1): every venue differs
// only in its Decoder, URL and event kind-mix, not in connect/heartbeat/
// reconnect/sequencing mechanics.
//
// Grounded on internal/providers/kraken/websocket.go's WebSocketClient:
// gorilla/websocket dialer with a handshake timeout, a read-deadline-based
// dead-socket detector, a ticker-driven ping loop, and a reconnect path
// triggered out of the read loop rather than polled.
type Adapter struct {
	venue   model.Venue
	url     string
	decoder Decoder
	handlers EventHandlers
	br      *breaker.Breaker

	heartbeatInterval     time.Duration
	reconnectInitial      time.Duration
	reconnectMax          time.Duration
	maxReconnectAttempts  int

	dial dialFunc

	mu        sync.Mutex
	conn      wsConn
	connected bool
	symbols   map[string]struct{}

	localSeq          int64
	reconnectAttempts int32

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds an Adapter for one venue. cfg supplies the heartbeat/reconnect
// timing (spec §6); decoder supplies the venue's wire protocol.
func New(v model.Venue, url string, decoder Decoder, handlers EventHandlers, cfg config.Config) *Adapter {
	initial, max := cfg.ReconnectBackoff()
	return &Adapter{
		venue:                v,
		url:                  url,
		decoder:              decoder,
		handlers:             handlers,
		br:                   breaker.New("venue-" + string(v)),
		heartbeatInterval:    cfg.HeartbeatInterval(),
		reconnectInitial:     initial,
		reconnectMax:         max,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		dial:                 defaultDial,
		symbols:              make(map[string]struct{}),
	}
}

// Connect opens the socket, resubscribes to any remembered symbols, and
// starts the read and heartbeat loops. It returns once the initial
// handshake succeeds; reconnection after a later drop happens in the
// background and is reported through handlers, not a returned error.
func (a *Adapter) Connect(ctx context.Context) error {
	a.stopCh = make(chan struct{})
	return a.connectOnce(ctx)
}

func (a *Adapter) connectOnce(ctx context.Context) error {
	conn, err := a.dial(ctx, a.url)
	if err != nil {
		return model.NewTransportError(a.venue, "dial failed", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.connected = true
	a.mu.Unlock()

	if err := a.resubscribeLocked(); err != nil {
		conn.Close()
		a.mu.Lock()
		a.connected = false
		a.conn = nil
		a.mu.Unlock()
		return err
	}

	a.wg.Add(2)
	go a.readLoop(ctx)
	go a.heartbeatLoop(ctx)

	if a.handlers.OnConnected != nil {
		a.handlers.OnConnected()
	}
	return nil
}

// Subscribe adds symbols to the adapter's remembered set and, if already
// connected, sends the subscription immediately. Symbols persist across
// reconnects so the adapter re-subscribes before announcing itself
// connected again (spec §4.1).
func (a *Adapter) Subscribe(symbols []string) error {
	a.mu.Lock()
	for _, s := range symbols {
		a.symbols[s] = struct{}{}
	}
	conn := a.conn
	connected := a.connected
	a.mu.Unlock()

	if !connected {
		return nil
	}
	return a.sendSubscribe(conn, symbols)
}

func (a *Adapter) resubscribeLocked() error {
	a.mu.Lock()
	symbols := make([]string, 0, len(a.symbols))
	for s := range a.symbols {
		symbols = append(symbols, s)
	}
	conn := a.conn
	a.mu.Unlock()

	if len(symbols) == 0 {
		return nil
	}
	return a.sendSubscribe(conn, symbols)
}

func (a *Adapter) sendSubscribe(conn wsConn, symbols []string) error {
	for _, payload := range a.decoder.SubscribePayloads(symbols) {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return model.NewTransportError(a.venue, "subscribe write failed", err)
		}
	}
	return nil
}

// Disconnect closes the socket, stops both loops, and clears the remembered
// symbol set.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	a.symbols = make(map[string]struct{})
	if !a.connected {
		a.mu.Unlock()
		return nil
	}
	a.connected = false
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	close(a.stopCh)
	err := conn.Close()
	a.wg.Wait()

	if a.handlers.OnDisconnected != nil {
		a.handlers.OnDisconnected("disconnect requested")
	}
	return err
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer a.wg.Done()
	firstMessage := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		default:
		}

		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(2 * a.heartbeatInterval))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if a.handlers.OnError != nil {
				a.handlers.OnError(string(model.KindTransport), err.Error())
			}
			a.triggerReconnect(ctx, "read error: "+err.Error())
			return
		}

		msg, err := a.decoder.Decode(data)
		if err != nil {
			// Parse errors are logged and dropped; the socket stays up
			// (spec §4.1).
			log.Warn().Err(err).Str("venue", string(a.venue)).Msg("venue: dropped unparsable frame")
			if a.handlers.OnError != nil {
				a.handlers.OnError(string(model.KindProtocol), err.Error())
			}
			continue
		}

		if firstMessage {
			firstMessage = false
			atomic.StoreInt32(&a.reconnectAttempts, 0)
		}
		a.dispatch(msg)
	}
}

func (a *Adapter) dispatch(msg DecodedMessage) {
	now := time.Now().UTC()

	if msg.Snapshot != nil {
		snap := *msg.Snapshot
		snap.Venue = a.venue
		snap.Timestamp = now
		snap.Sequence = a.resolveSequence(snap.Sequence)
		if a.handlers.OnSnapshot != nil {
			a.handlers.OnSnapshot(snap)
		}
	}
	if msg.Delta != nil {
		d := *msg.Delta
		d.Venue = a.venue
		d.Timestamp = now
		d.Sequence = a.resolveSequence(d.Sequence)
		if a.handlers.OnDelta != nil {
			a.handlers.OnDelta(d)
		}
	}
	if len(msg.Trades) > 0 {
		trades := make([]model.Trade, len(msg.Trades))
		for i, t := range msg.Trades {
			t.Venue = a.venue
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			if t.Timestamp.IsZero() {
				t.Timestamp = now
			}
			trades[i] = t
		}
		if a.handlers.OnTrades != nil {
			a.handlers.OnTrades(trades)
		}
	}
}

// resolveSequence forwards the venue's own sequence number when present,
// otherwise assigns a locally monotonic one (spec §4.1).
func (a *Adapter) resolveSequence(venueSeq int64) int64 {
	if venueSeq != 0 {
		return venueSeq
	}
	return atomic.AddInt64(&a.localSeq, 1)
}

func (a *Adapter) heartbeatLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.mu.Lock()
			conn := a.conn
			a.mu.Unlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				a.triggerReconnect(ctx, "ping failed: "+err.Error())
				return
			}
		}
	}
}

// triggerReconnect tears down the current socket and starts the backoff
// loop. It is safe to call from either the read or heartbeat loop; only the
// first caller after a successful connect acts.
func (a *Adapter) triggerReconnect(ctx context.Context, reason string) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return
	}
	a.connected = false
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if a.handlers.OnDisconnected != nil {
		a.handlers.OnDisconnected(reason)
	}

	go a.reconnectLoop(ctx)
}

// reconnectLoop retries with exponential backoff from reconnectInitial up
// to reconnectMax, unlimited attempts unless maxReconnectAttempts > 0 (spec
// §4.1 and §6). Each attempt goes through the breaker so a venue stuck
// flapping gets a cooldown window instead of hammering the endpoint.
func (a *Adapter) reconnectLoop(ctx context.Context) {
	backoff := a.reconnectInitial
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		default:
		}

		attempt := atomic.AddInt32(&a.reconnectAttempts, 1)
		if a.maxReconnectAttempts > 0 && int(attempt) > a.maxReconnectAttempts {
			if a.handlers.OnError != nil {
				a.handlers.OnError(string(model.KindFatal), "reconnect attempts exhausted")
			}
			return
		}

		_, err := a.br.Execute(func() (any, error) {
			return nil, a.connectOnce(ctx)
		})
		if err == nil {
			return
		}
		if a.handlers.OnError != nil {
			a.handlers.OnError(string(model.KindTransport), "reconnect attempt failed: "+err.Error())
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		}

		backoff *= 2
		if backoff > a.reconnectMax {
			backoff = a.reconnectMax
		}
	}
}
