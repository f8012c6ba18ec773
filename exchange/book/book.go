// Package book keeps the in-memory side of the exchange: one two-sided
// priority index of open orders per symbol. The index is a cache over
// the store and is rebuilt from it at startup; all mutation for a
// symbol happens under that symbol's lock, owned by the Registry.
package book

import (
	"fmt"
	"sort"
	"strings"

	"cosmossdk.io/math"
	"github.com/sasha-s/go-deadlock"

	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// Kind selects the data structure backing a book.
type Kind string

const (
	KindBTree    Kind = "btree"
	KindSkipList Kind = "skiplist"
)

// ParseKind parses a configured book kind. The empty string selects
// the default B-tree implementation.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindBTree:
		return KindBTree, nil
	case KindSkipList:
		return KindSkipList, nil
	default:
		return "", fmt.Errorf("unknown order book kind %q", s)
	}
}

// Book indexes the open orders of one symbol for best-price lookup.
// Buys rank highest price first, sells lowest price first; within a
// price level orders queue in placement order. Implementations are
// safe for concurrent readers; writers must hold the symbol lock.
type Book interface {
	Symbol() string

	// Insert adds an open order to its side of the book.
	Insert(order *types.Order)

	// PeekBest returns the order with the best price-time priority on
	// the given side, or nil if the side is empty.
	PeekBest(side types.Side) *types.Order

	// Remove drops an order from the book, returning the removed entry
	// or nil if it was not present. The argument only needs the
	// identifying fields (id, side, limit price).
	Remove(order *types.Order) *types.Order

	// UpdateQuantity refreshes the aggregate shares of the level
	// holding order after its open amount changed.
	UpdateQuantity(order *types.Order)

	// Iterate walks the price levels of one side in priority order
	// until fn returns false. The book must not be mutated from
	// inside fn.
	Iterate(side types.Side, fn func(level *Level) bool)

	// Levels returns up to n best levels of one side.
	Levels(side types.Side, n int) []*Level

	// BestLevels returns the top level of each side; nil for an empty side.
	BestLevels() (bestBuy, bestSell *Level)

	// Depth returns the number of price levels per side.
	Depth() (buyLevels, sellLevels int)
}

// Verify that both implementations satisfy the interface.
var (
	_ Book = (*BTreeBook)(nil)
	_ Book = (*SkipListBook)(nil)
)

// New creates an empty book for symbol backed by the given kind.
func New(kind Kind, symbol string) Book {
	if kind == KindSkipList {
		return NewSkipListBook(symbol)
	}
	return NewBTreeBook(symbol)
}

// Level is one price point on one side of a book: the queue of open
// orders resting at that price, oldest first, and their combined open
// shares.
type Level struct {
	Price  math.LegacyDec
	Shares math.LegacyDec
	Orders []*types.Order
}

// NewLevel creates an empty price level
func NewLevel(price math.LegacyDec) *Level {
	return &Level{
		Price:  price,
		Shares: math.LegacyZeroDec(),
		Orders: make([]*types.Order, 0),
	}
}

// AddOrder appends an order to the level queue
func (l *Level) AddOrder(o *types.Order) {
	l.Orders = append(l.Orders, o)
	l.Shares = l.Shares.Add(o.OpenShares())
}

// RemoveOrder removes the order with the given id from the level,
// returning it or nil if absent.
func (l *Level) RemoveOrder(id uint64) *types.Order {
	for i, o := range l.Orders {
		if o.ID == id {
			l.Orders = append(l.Orders[:i], l.Orders[i+1:]...)
			l.Shares = l.Shares.Sub(o.OpenShares())
			return o
		}
	}
	return nil
}

// UpdateShares recomputes the aggregate open shares of the level
func (l *Level) UpdateShares() {
	total := math.LegacyZeroDec()
	for _, o := range l.Orders {
		total = total.Add(o.OpenShares())
	}
	l.Shares = total
}

// IsEmpty reports whether no orders rest at this level
func (l *Level) IsEmpty() bool {
	return len(l.Orders) == 0
}

// First returns the oldest order at this level, or nil
func (l *Level) First() *types.Order {
	if len(l.Orders) == 0 {
		return nil
	}
	return l.Orders[0]
}

// SymbolBook pairs one symbol's book with the lock that serializes
// matching, cancellation and book mutation for that symbol. Different
// symbols proceed in parallel; everything touching one symbol's book
// runs under its lock.
type SymbolBook struct {
	Book
	mu deadlock.Mutex
}

// Lock acquires the symbol's serialization lock
func (sb *SymbolBook) Lock() {
	sb.mu.Lock()
}

// Unlock releases the symbol's serialization lock
func (sb *SymbolBook) Unlock() {
	sb.mu.Unlock()
}

// Registry owns every symbol's book. Books spring into existence on
// first use and live for the process lifetime.
type Registry struct {
	mu    deadlock.Mutex
	kind  Kind
	books map[string]*SymbolBook
}

// NewRegistry creates an empty registry producing books of the given kind
func NewRegistry(kind Kind) *Registry {
	return &Registry{
		kind:  kind,
		books: make(map[string]*SymbolBook),
	}
}

// Get returns the book for symbol, creating it if absent
func (r *Registry) Get(symbol string) *SymbolBook {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(symbol)
}

func (r *Registry) getLocked(symbol string) *SymbolBook {
	sb, ok := r.books[symbol]
	if !ok {
		sb = &SymbolBook{Book: New(r.kind, symbol)}
		r.books[symbol] = sb
	}
	return sb
}

// Lookup returns the book for symbol or nil if none exists yet
func (r *Registry) Lookup(symbol string) *SymbolBook {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.books[symbol]
}

// Symbols returns the known symbols in lexical order
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.books))
	for sym := range r.books {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Rebuild replaces every book with fresh ones built from the given
// open orders. Callers must pass orders in placement (ascending id)
// order per symbol and side so the level queues regain their time
// priority.
func (r *Registry) Rebuild(orders []*types.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books = make(map[string]*SymbolBook)
	for _, o := range orders {
		r.getLocked(o.Symbol).Insert(o)
	}
}
