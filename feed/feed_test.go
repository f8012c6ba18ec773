package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/gorilla/websocket"

	"github.com/Matty-7/StockTradingSystem/exchange/engine"
)

func dec(t *testing.T, s string) math.LegacyDec {
	t.Helper()
	d, err := math.LegacyNewDecFromStr(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.QuoteInterval = 10 * time.Millisecond
	hub := NewHub(cfg, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *wsReader {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsReader{conn: conn}
}

// wsReader splits batched frames back into individual messages
type wsReader struct {
	conn  *websocket.Conn
	queue [][]byte
}

type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func (r *wsReader) next(t *testing.T) envelope {
	t.Helper()
	if len(r.queue) == 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		r.queue = bytes.Split(data, []byte{'\n'})
	}
	raw := r.queue[0]
	r.queue = r.queue[1:]

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return env
}

func (r *wsReader) send(t *testing.T, cmd clientCommand) {
	t.Helper()
	if err := r.conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// subscribe sends the request and waits for the confirmation, which
// the hub only emits after the registration took effect.
func (r *wsReader) subscribe(t *testing.T, channel string) {
	t.Helper()
	r.send(t, clientCommand{Action: "subscribe", Channel: channel})
	env := r.next(t)
	if env.Type != "subscribed" || env.Channel != channel {
		t.Fatalf("subscribe ack = %+v", env)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestValidChannel(t *testing.T) {
	valid := []string{"book:SPY", "executions:SPY", "book:a"}
	for _, ch := range valid {
		if !validChannel(ch) {
			t.Errorf("validChannel(%q) = false, want true", ch)
		}
	}
	invalid := []string{"", "book", "book:", "weather:SPY", ":SPY", "orders:1"}
	for _, ch := range invalid {
		if validChannel(ch) {
			t.Errorf("validChannel(%q) = true, want false", ch)
		}
	}
}

func TestHub_QuoteFlush(t *testing.T) {
	hub, srv := newTestHub(t)
	c := dial(t, srv)
	c.subscribe(t, "book:SPY")

	hub.BookChanged("SPY",
		&engine.Quote{Price: dec(t, "125"), Shares: dec(t, "300")},
		nil)

	env := c.next(t)
	if env.Type != "quote" || env.Channel != "book:SPY" {
		t.Fatalf("message = %+v", env)
	}
	var q QuoteUpdate
	if err := json.Unmarshal(env.Data, &q); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if q.Symbol != "SPY" {
		t.Errorf("symbol = %q", q.Symbol)
	}
	if q.Buy == nil || q.Buy.Price != "125" || q.Buy.Shares != "300" {
		t.Errorf("buy = %+v", q.Buy)
	}
	if q.Sell != nil {
		t.Errorf("sell = %+v, want nil", q.Sell)
	}
	if q.Timestamp == 0 {
		t.Error("timestamp missing")
	}
}

// A burst of book updates coalesces per flush interval; the stream
// converges on the latest state rather than replaying every change.
func TestHub_QuoteBurstDeliversLatest(t *testing.T) {
	hub, srv := newTestHub(t)
	c := dial(t, srv)
	c.subscribe(t, "book:SPY")

	for i := 1; i <= 5; i++ {
		hub.BookChanged("SPY", &engine.Quote{Price: dec(t, "100"), Shares: math.LegacyNewDec(int64(i))}, nil)
	}

	for {
		env := c.next(t)
		if env.Type != "quote" {
			t.Fatalf("message = %+v, want quote", env)
		}
		var q QuoteUpdate
		if err := json.Unmarshal(env.Data, &q); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
		if q.Buy != nil && q.Buy.Shares == "5" {
			break
		}
	}
}

func TestHub_ExecutionBroadcast(t *testing.T) {
	hub, srv := newTestHub(t)
	c := dial(t, srv)
	c.subscribe(t, "executions:SPY")

	other := dial(t, srv)
	other.subscribe(t, "executions:OTHER")

	at := time.Unix(1700000000, 0)
	hub.ExecutionCommitted("SPY", dec(t, "12.5"), dec(t, "99.5"), at)

	env := c.next(t)
	if env.Type != "execution" || env.Channel != "executions:SPY" {
		t.Fatalf("message = %+v", env)
	}
	var e ExecutionUpdate
	if err := json.Unmarshal(env.Data, &e); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if e.Shares != "12.5" || e.Price != "99.5" || e.Symbol != "SPY" {
		t.Errorf("execution = %+v", e)
	}
	if e.Timestamp != at.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", e.Timestamp, at.UnixMilli())
	}

	// the broadcast is synchronous, so anything destined for the other
	// client would already be queued ahead of this pong
	other.send(t, clientCommand{Action: "ping"})
	if env := other.next(t); env.Type != "pong" {
		t.Fatalf("other client got %+v, want pong only", env)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, srv := newTestHub(t)
	c := dial(t, srv)
	c.subscribe(t, "book:SPY")

	if n := hub.SubscriberCount("book:SPY"); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}

	c.send(t, clientCommand{Action: "unsubscribe", Channel: "book:SPY"})
	if env := c.next(t); env.Type != "unsubscribed" {
		t.Fatalf("unsubscribe ack = %+v", env)
	}
	if n := hub.SubscriberCount("book:SPY"); n != 0 {
		t.Fatalf("subscribers after unsubscribe = %d, want 0", n)
	}
}

func TestHub_RejectsBadCommands(t *testing.T) {
	_, srv := newTestHub(t)
	c := dial(t, srv)

	type errPayload struct {
		Code string `json:"code"`
	}
	check := func(wantCode string) {
		t.Helper()
		env := c.next(t)
		if env.Type != "error" {
			t.Fatalf("message = %+v, want error", env)
		}
		var p errPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
		if p.Code != wantCode {
			t.Errorf("code = %q, want %q", p.Code, wantCode)
		}
	}

	c.send(t, clientCommand{Action: "subscribe", Channel: "weather:SPY"})
	check("invalid_channel")

	c.send(t, clientCommand{Action: "subscribe", Channel: "book:"})
	check("invalid_channel")

	c.send(t, clientCommand{Action: "simulate"})
	check("unknown_action")

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	check("invalid_message")
}

func TestHub_ShutdownDisconnects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QuoteInterval = 10 * time.Millisecond
	hub := NewHub(cfg, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	c := dial(t, srv)
	c.subscribe(t, "book:SPY")
	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })

	cancel()
	waitFor(t, "client teardown", func() bool { return hub.ClientCount() == 0 })

	// the server sends a close frame; the next read fails cleanly
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
