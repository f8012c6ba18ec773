package book

import (
	"sync"

	"cosmossdk.io/math"
	"github.com/huandu/skiplist"

	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// priceAsc orders skiplist keys by ascending price (sell side)
type priceAsc struct{}

func (priceAsc) Compare(lhs, rhs interface{}) int {
	l, r := lhs.(math.LegacyDec), rhs.(math.LegacyDec)
	switch {
	case l.LT(r):
		return -1
	case l.GT(r):
		return 1
	default:
		return 0
	}
}

// CalcScore feeds the skiplist's fast path; exact ordering still
// falls back to Compare when scores collide.
func (priceAsc) CalcScore(key interface{}) float64 {
	f, _ := key.(math.LegacyDec).Float64()
	return f
}

// priceDesc orders skiplist keys by descending price (buy side)
type priceDesc struct{}

func (priceDesc) Compare(lhs, rhs interface{}) int {
	return priceAsc{}.Compare(rhs, lhs)
}

func (priceDesc) CalcScore(key interface{}) float64 {
	return -priceAsc{}.CalcScore(key)
}

// SkipListBook is the alternative Book implementation, backed by one
// skiplist per side keyed on price. Front of each list is the best
// level, so top-of-book reads are O(1).
type SkipListBook struct {
	mu     sync.RWMutex
	symbol string
	buys   *skiplist.SkipList
	sells  *skiplist.SkipList
}

// NewSkipListBook creates an empty skiplist-backed book for symbol
func NewSkipListBook(symbol string) *SkipListBook {
	return &SkipListBook{
		symbol: symbol,
		buys:   skiplist.New(priceDesc{}),
		sells:  skiplist.New(priceAsc{}),
	}
}

func (b *SkipListBook) Symbol() string {
	return b.symbol
}

func (b *SkipListBook) side(side types.Side) *skiplist.SkipList {
	if side == types.SideBuy {
		return b.buys
	}
	return b.sells
}

func (b *SkipListBook) Insert(order *types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.side(order.Side())
	el := list.Get(order.LimitPrice)
	if el == nil {
		lvl := NewLevel(order.LimitPrice)
		lvl.AddOrder(order)
		list.Set(order.LimitPrice, lvl)
		return
	}
	el.Value.(*Level).AddOrder(order)
}

func (b *SkipListBook) PeekBest(side types.Side) *types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	front := b.side(side).Front()
	if front == nil {
		return nil
	}
	return front.Value.(*Level).First()
}

func (b *SkipListBook) Remove(order *types.Order) *types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.side(order.Side())
	el := list.Get(order.LimitPrice)
	if el == nil {
		return nil
	}
	lvl := el.Value.(*Level)
	removed := lvl.RemoveOrder(order.ID)
	if lvl.IsEmpty() {
		list.Remove(order.LimitPrice)
	}
	return removed
}

func (b *SkipListBook) UpdateQuantity(order *types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if el := b.side(order.Side()).Get(order.LimitPrice); el != nil {
		el.Value.(*Level).UpdateShares()
	}
}

func (b *SkipListBook) Iterate(side types.Side, fn func(level *Level) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for el := b.side(side).Front(); el != nil; el = el.Next() {
		if !fn(el.Value.(*Level)) {
			return
		}
	}
}

func (b *SkipListBook) Levels(side types.Side, n int) []*Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Level, 0, n)
	for el := b.side(side).Front(); el != nil && len(out) < n; el = el.Next() {
		out = append(out, el.Value.(*Level))
	}
	return out
}

func (b *SkipListBook) BestLevels() (bestBuy, bestSell *Level) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if front := b.buys.Front(); front != nil {
		bestBuy = front.Value.(*Level)
	}
	if front := b.sells.Front(); front != nil {
		bestSell = front.Value.(*Level)
	}
	return bestBuy, bestSell
}

func (b *SkipListBook) Depth() (buyLevels, sellLevels int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buys.Len(), b.sells.Len()
}
