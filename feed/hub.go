// Package feed streams market data to WebSocket subscribers.
//
// The hub fans events out by channel. Executions broadcast as they
// commit; top-of-book quotes coalesce in a buffer and flush on a fixed
// interval so a burst of fills costs one update per symbol. Channels
// are named "executions:SYM" and "book:SYM".
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"

	"github.com/Matty-7/StockTradingSystem/exchange/engine"
	"github.com/Matty-7/StockTradingSystem/exchange/types"
	"github.com/Matty-7/StockTradingSystem/metrics"
)

// Config contains hub configuration
type Config struct {
	// QuoteInterval is how often buffered book updates flush.
	QuoteInterval time.Duration

	// SendBuffer is the per-client outbound queue. A client that
	// cannot drain it starts losing messages.
	SendBuffer int

	// MaxSubscriptions caps channels per client.
	MaxSubscriptions int

	// MessageRateLimit caps inbound messages per second per client.
	MessageRateLimit int
}

// DefaultConfig returns default hub configuration
func DefaultConfig() Config {
	return Config{
		QuoteInterval:    100 * time.Millisecond,
		SendBuffer:       256,
		MaxSubscriptions: 50,
		MessageRateLimit: 100,
	}
}

// subscription pairs a client with a channel name
type subscription struct {
	client  *Client
	channel string
}

// Hub maintains the set of active clients and routes market data to
// channel subscribers. It implements engine.EventSink, so its event
// methods run under the engine's symbol lock and never block: book
// updates land in a buffer, execution broadcasts drop rather than
// wait on a slow client.
type Hub struct {
	clients  map[*Client]bool
	channels map[string]map[*Client]bool // channel -> subscribers

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription

	// Pending top-of-book updates, drained every QuoteInterval.
	quotes map[string]*QuoteUpdate

	mu sync.RWMutex

	done chan struct{}

	config  Config
	logger  log.Logger
	metrics *metrics.Collector
}

// NewHub creates a hub. Start Run before serving connections.
func NewHub(cfg Config, logger log.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		channels:    make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription, 256),
		unsubscribe: make(chan subscription, 256),
		quotes:      make(map[string]*QuoteUpdate),
		done:        make(chan struct{}),
		config:      cfg,
		logger:      logger.With("module", "feed"),
	}
}

// SetMetrics attaches a metrics collector. Call before Run.
func (h *Hub) SetMetrics(c *metrics.Collector) {
	h.metrics = c
}

// Run drives the hub until ctx is canceled, then disconnects every
// client and returns.
func (h *Hub) Run(ctx context.Context) {
	flush := time.NewTicker(h.config.QuoteInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case sub := <-h.subscribe:
			h.handleSubscribe(sub)

		case sub := <-h.unsubscribe:
			h.handleUnsubscribe(sub)

		case <-flush.C:
			h.flushQuotes()
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordFeedClient(1)
	}
	h.logger.Debug("client connected", "client_id", client.id)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for channel, clients := range h.channels {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
	// Signal rather than close the send channel: broadcasts from the
	// engine thread may still be enqueueing.
	close(client.done)

	if h.metrics != nil {
		h.metrics.RecordFeedClient(-1)
	}
	h.logger.Debug("client disconnected", "client_id", client.id)
}

// closeAll disconnects every client on shutdown
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.done)
		if h.metrics != nil {
			h.metrics.RecordFeedClient(-1)
		}
	}
	h.channels = make(map[string]map[*Client]bool)
}

func (h *Hub) handleSubscribe(sub subscription) {
	h.mu.Lock()
	if _, ok := h.channels[sub.channel]; !ok {
		h.channels[sub.channel] = make(map[*Client]bool)
	}
	h.channels[sub.channel][sub.client] = true
	h.mu.Unlock()

	sub.client.enqueue(&Message{Type: "subscribed", Channel: sub.channel})
}

func (h *Hub) handleUnsubscribe(sub subscription) {
	h.mu.Lock()
	if clients, ok := h.channels[sub.channel]; ok {
		delete(clients, sub.client)
		if len(clients) == 0 {
			delete(h.channels, sub.channel)
		}
	}
	h.mu.Unlock()

	sub.client.enqueue(&Message{Type: "unsubscribed", Channel: sub.channel})
}

// broadcast sends a message to every subscriber of a channel. Slow
// clients are skipped, not waited on.
func (h *Hub) broadcast(channel string, msg *Message) {
	h.mu.RLock()
	subscribers, ok := h.channels[channel]
	if !ok || len(subscribers) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(subscribers))
	for client := range subscribers {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal feed message", "channel", channel, "err", err)
		return
	}
	for _, client := range targets {
		select {
		case client.send <- data:
		default:
			// Client buffer is full, skip
		}
	}
	if h.metrics != nil {
		h.metrics.RecordFeedMessage(channel)
	}
}

// ============ Engine events ============

var _ engine.EventSink = (*Hub)(nil)

// ExecutionCommitted broadcasts a fill to "executions:SYM" subscribers.
func (h *Hub) ExecutionCommitted(symbol string, shares, price math.LegacyDec, at time.Time) {
	h.broadcast("executions:"+symbol, &Message{
		Type:    "execution",
		Channel: "executions:" + symbol,
		Data: &ExecutionUpdate{
			Symbol:    symbol,
			Shares:    types.FormatDec(shares),
			Price:     types.FormatDec(price),
			Timestamp: at.UnixMilli(),
		},
	})
}

// BookChanged buffers the new top of book for the next interval flush.
func (h *Hub) BookChanged(symbol string, bestBuy, bestSell *engine.Quote) {
	update := &QuoteUpdate{
		Symbol:    symbol,
		Buy:       priceLevelOf(bestBuy),
		Sell:      priceLevelOf(bestSell),
		Timestamp: time.Now().UnixMilli(),
	}
	h.mu.Lock()
	h.quotes[symbol] = update
	h.mu.Unlock()
}

// flushQuotes drains the quote buffer and broadcasts one update per
// symbol that changed since the last flush.
func (h *Hub) flushQuotes() {
	h.mu.Lock()
	if len(h.quotes) == 0 {
		h.mu.Unlock()
		return
	}
	pending := h.quotes
	h.quotes = make(map[string]*QuoteUpdate)
	h.mu.Unlock()

	for symbol, update := range pending {
		channel := "book:" + symbol
		h.broadcast(channel, &Message{Type: "quote", Channel: channel, Data: update})
	}
}

func priceLevelOf(q *engine.Quote) *PriceLevel {
	if q == nil {
		return nil
	}
	return &PriceLevel{
		Price:  types.FormatDec(q.Price),
		Shares: types.FormatDec(q.Shares),
	}
}

// ============ Message types ============

// Message is the envelope for every frame the hub sends
type Message struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// QuoteUpdate carries the top of book for one symbol. A nil side has
// no open orders.
type QuoteUpdate struct {
	Symbol    string      `json:"symbol"`
	Buy       *PriceLevel `json:"buy,omitempty"`
	Sell      *PriceLevel `json:"sell,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// PriceLevel is one side of the top of book
type PriceLevel struct {
	Price  string `json:"price"`
	Shares string `json:"shares"`
}

// ExecutionUpdate carries one fill
type ExecutionUpdate struct {
	Symbol    string `json:"symbol"`
	Shares    string `json:"shares"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// ============ Accessors ============

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients subscribed to a channel
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// validChannel reports whether a channel name is subscribable:
// "executions:SYM" or "book:SYM" with a non-empty symbol.
func validChannel(channel string) bool {
	kind, symbol, ok := strings.Cut(channel, ":")
	if !ok || symbol == "" {
		return false
	}
	return kind == "executions" || kind == "book"
}

// ServeWS upgrades an HTTP request to a WebSocket client connection
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
