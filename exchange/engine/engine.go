// Package engine places, matches, cancels and reports orders. It owns
// the coupling between the transactional store and the in-memory
// books: every mutation lands in a store scope first, and the book for
// a symbol changes only after that scope commits, under the symbol
// lock. A rolled back scope therefore never leaves a trace in a book.
package engine

import (
	"cosmossdk.io/log"

	"github.com/Matty-7/StockTradingSystem/exchange/book"
	"github.com/Matty-7/StockTradingSystem/exchange/store"
	"github.com/Matty-7/StockTradingSystem/metrics"
)

// Engine coordinates the store and the book registry. One engine
// serves the whole process; different symbols proceed in parallel.
type Engine struct {
	store   *store.Store
	books   *book.Registry
	logger  log.Logger
	metrics *metrics.Collector
	sink    EventSink
}

// New creates an engine over the given store and book registry
func New(st *store.Store, books *book.Registry, logger log.Logger) *Engine {
	return &Engine{
		store:  st,
		books:  books,
		logger: logger.With("module", "engine"),
	}
}

// SetMetrics attaches a metrics collector. Call before serving traffic.
func (e *Engine) SetMetrics(c *metrics.Collector) {
	e.metrics = c
}

// SetEventSink attaches a market data sink. Call before serving traffic.
func (e *Engine) SetEventSink(s EventSink) {
	e.sink = s
}

// Store returns the engine's backing store
func (e *Engine) Store() *store.Store {
	return e.store
}

// RebuildBooks reloads every book from the committed open orders.
// Runs once at startup, before the engine accepts requests.
func (e *Engine) RebuildBooks() error {
	orders, err := e.store.ListAllOpenOrders()
	if err != nil {
		return err
	}
	e.books.Rebuild(orders)
	e.logger.Info("order books rebuilt",
		"open_orders", len(orders),
		"symbols", len(e.books.Symbols()),
	)
	return nil
}
