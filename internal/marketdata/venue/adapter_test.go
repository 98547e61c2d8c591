package venue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sawpanic/venuefeed/internal/config"
	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// fakeConn is an in-memory stand-in for *websocket.Conn driven entirely by
// an inbox channel, so tests never open a real socket.
type fakeConn struct {
	mu      sync.Mutex
	inbox   chan []byte
	closed  bool
	written [][]byte
	pings   int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16)}
}

func (c *fakeConn) push(data []byte) { c.inbox <- data }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.inbox
	if !ok {
		return 0, nil, errors.New("fakeConn: closed")
	}
	return 1, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	atomic.AddInt32(&c.pings, 1)
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetPongHandler(h func(string) error) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbox)
	}
	return nil
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.HeartbeatIntervalMs = 50
	cfg.ReconnectInitialMs = 1
	cfg.ReconnectMaxMs = 2
	return cfg
}

func drain[T any](t *testing.T, ch chan T, d time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(d):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func newTestAdapter(dial dialFunc) (*Adapter, chan struct{}, chan string, chan model.Trade, chan [2]string) {
	connected := make(chan struct{}, 8)
	disconnected := make(chan string, 8)
	trades := make(chan model.Trade, 8)
	errs := make(chan [2]string, 8)

	a := New(model.VenueAster, "wss://example.invalid", asterDecoder{}, EventHandlers{
		OnConnected:    func() { connected <- struct{}{} },
		OnDisconnected: func(reason string) { disconnected <- reason },
		OnTrades: func(ts []model.Trade) {
			for _, t := range ts {
				trades <- t
			}
		},
		OnError: func(kind, detail string) { errs <- [2]string{kind, detail} },
	}, testConfig())
	a.dial = dial
	return a, connected, disconnected, trades, errs
}

func TestAdapterConnectDispatchesTrade(t *testing.T) {
	conn := newFakeConn()
	dial := func(ctx context.Context, url string) (wsConn, error) { return conn, nil }
	a, connected, _, trades, _ := newTestAdapter(dial)

	if err := a.Subscribe([]string{"ETH"}); err != nil {
		t.Fatalf("subscribe before connect should just remember symbols: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	drain(t, connected, time.Second)

	conn.push([]byte(`{"type":"trade","symbol":"ETH","id":"t1","px":"100.5","sz":"0.2","side":"buy"}`))
	trade := drain(t, trades, time.Second)
	if trade.Symbol != "ETH" || trade.Venue != model.VenueAster || trade.ID != "t1" {
		t.Fatalf("got %+v", trade)
	}

	a.Disconnect()
}

func TestAdapterAssignsLocalSequenceWhenVenueOmitsIt(t *testing.T) {
	conn := newFakeConn()
	dial := func(ctx context.Context, url string) (wsConn, error) { return conn, nil }

	deltas := make(chan model.Delta, 8)
	a := New(model.VenueAster, "wss://example.invalid", asterDecoder{}, EventHandlers{
		OnDelta: func(d model.Delta) { deltas <- d },
	}, testConfig())
	a.dial = dial

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	// No "u" field, so the decoder reports Sequence 0 and the adapter must
	// assign a local one.
	conn.push([]byte(`{"type":"depthUpdate","symbol":"ETH","bids":[],"asks":[]}`))
	conn.push([]byte(`{"type":"depthUpdate","symbol":"ETH","bids":[],"asks":[]}`))

	first := drain(t, deltas, time.Second)
	second := drain(t, deltas, time.Second)
	if first.Sequence != 1 || second.Sequence != 2 {
		t.Fatalf("expected monotonic local sequence 1,2, got %d,%d", first.Sequence, second.Sequence)
	}

	a.Disconnect()
}

func TestAdapterDropsUnparsableFrameWithoutClosingSocket(t *testing.T) {
	conn := newFakeConn()
	dial := func(ctx context.Context, url string) (wsConn, error) { return conn, nil }
	a, _, _, trades, errs := newTestAdapter(dial)

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	conn.push([]byte(`not json`))
	kind := drain(t, errs, time.Second)
	if kind[0] != string(model.KindProtocol) {
		t.Fatalf("expected a protocol error, got %+v", kind)
	}

	// The socket must still be usable after a parse error.
	conn.push([]byte(`{"type":"trade","symbol":"ETH","id":"t2","px":"1","sz":"1","side":"sell"}`))
	trade := drain(t, trades, time.Second)
	if trade.ID != "t2" {
		t.Fatalf("got %+v", trade)
	}

	a.Disconnect()
}

func TestAdapterReconnectsAfterReadError(t *testing.T) {
	var dialCount int32
	conns := make(chan *fakeConn, 2)
	dial := func(ctx context.Context, url string) (wsConn, error) {
		atomic.AddInt32(&dialCount, 1)
		c := newFakeConn()
		conns <- c
		return c, nil
	}
	a, connected, disconnected, _, _ := newTestAdapter(dial)

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	drain(t, connected, time.Second)
	first := <-conns

	first.Close() // simulate a dropped socket
	drain(t, disconnected, time.Second)
	drain(t, connected, time.Second) // reconnectLoop should bring it back up

	if atomic.LoadInt32(&dialCount) < 2 {
		t.Fatalf("expected at least 2 dial attempts, got %d", dialCount)
	}

	a.Disconnect()
}

func TestAdapterResubscribesOnReconnect(t *testing.T) {
	var dialCount int32
	conns := make(chan *fakeConn, 2)
	dial := func(ctx context.Context, url string) (wsConn, error) {
		atomic.AddInt32(&dialCount, 1)
		c := newFakeConn()
		conns <- c
		return c, nil
	}
	a, connected, _, _, _ := newTestAdapter(dial)

	if err := a.Subscribe([]string{"ETH"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	drain(t, connected, time.Second)
	first := <-conns
	if len(first.written) == 0 {
		t.Fatal("expected a subscribe payload on first connect")
	}

	first.Close()
	drain(t, connected, time.Second)
	second := <-conns
	if len(second.written) == 0 {
		t.Fatal("expected the adapter to re-subscribe after reconnecting")
	}

	a.Disconnect()
}
