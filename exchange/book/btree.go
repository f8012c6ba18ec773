package book

import (
	"sync"

	"cosmossdk.io/math"
	"github.com/google/btree"

	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// btreeDegree balances node fanout against rebalancing cost for
// typical book depths.
const btreeDegree = 32

// levelItem wraps a price level for btree storage
type levelItem struct {
	price math.LegacyDec
	level *Level
}

// Less orders items by ascending price
func (it *levelItem) Less(than btree.Item) bool {
	return it.price.LT(than.(*levelItem).price)
}

// btreeSide holds one side of the book. desc marks the buy side,
// which iterates highest price first.
type btreeSide struct {
	tree *btree.BTree
	desc bool
}

func newBTreeSide(desc bool) *btreeSide {
	return &btreeSide{
		tree: btree.New(btreeDegree),
		desc: desc,
	}
}

func (s *btreeSide) get(price math.LegacyDec) *Level {
	it := s.tree.Get(&levelItem{price: price})
	if it == nil {
		return nil
	}
	return it.(*levelItem).level
}

func (s *btreeSide) getOrCreate(price math.LegacyDec) *Level {
	if lvl := s.get(price); lvl != nil {
		return lvl
	}
	lvl := NewLevel(price)
	s.tree.ReplaceOrInsert(&levelItem{price: price, level: lvl})
	return lvl
}

func (s *btreeSide) remove(price math.LegacyDec) {
	s.tree.Delete(&levelItem{price: price})
}

// best returns the top priority level: highest price for the buy
// side, lowest for the sell side.
func (s *btreeSide) best() *Level {
	var it btree.Item
	if s.desc {
		it = s.tree.Max()
	} else {
		it = s.tree.Min()
	}
	if it == nil {
		return nil
	}
	return it.(*levelItem).level
}

func (s *btreeSide) len() int {
	return s.tree.Len()
}

// iterate walks levels in priority order until fn returns false
func (s *btreeSide) iterate(fn func(*Level) bool) {
	wrap := func(it btree.Item) bool {
		return fn(it.(*levelItem).level)
	}
	if s.desc {
		s.tree.Descend(wrap)
	} else {
		s.tree.Ascend(wrap)
	}
}

// BTreeBook is the default Book implementation, backed by one
// google/btree per side. Lookups and best-level scans are O(log n) in
// the number of price levels.
type BTreeBook struct {
	mu     sync.RWMutex
	symbol string
	buys   *btreeSide
	sells  *btreeSide
}

// NewBTreeBook creates an empty btree-backed book for symbol
func NewBTreeBook(symbol string) *BTreeBook {
	return &BTreeBook{
		symbol: symbol,
		buys:   newBTreeSide(true),
		sells:  newBTreeSide(false),
	}
}

func (b *BTreeBook) Symbol() string {
	return b.symbol
}

func (b *BTreeBook) side(side types.Side) *btreeSide {
	if side == types.SideBuy {
		return b.buys
	}
	return b.sells
}

func (b *BTreeBook) Insert(order *types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.side(order.Side()).getOrCreate(order.LimitPrice).AddOrder(order)
}

func (b *BTreeBook) PeekBest(side types.Side) *types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lvl := b.side(side).best()
	if lvl == nil {
		return nil
	}
	return lvl.First()
}

func (b *BTreeBook) Remove(order *types.Order) *types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.side(order.Side())
	lvl := s.get(order.LimitPrice)
	if lvl == nil {
		return nil
	}
	removed := lvl.RemoveOrder(order.ID)
	if lvl.IsEmpty() {
		s.remove(order.LimitPrice)
	}
	return removed
}

func (b *BTreeBook) UpdateQuantity(order *types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if lvl := b.side(order.Side()).get(order.LimitPrice); lvl != nil {
		lvl.UpdateShares()
	}
}

func (b *BTreeBook) Iterate(side types.Side, fn func(level *Level) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.side(side).iterate(fn)
}

func (b *BTreeBook) Levels(side types.Side, n int) []*Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Level, 0, n)
	b.side(side).iterate(func(lvl *Level) bool {
		out = append(out, lvl)
		return len(out) < n
	})
	return out
}

func (b *BTreeBook) BestLevels() (bestBuy, bestSell *Level) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buys.best(), b.sells.best()
}

func (b *BTreeBook) Depth() (buyLevels, sellLevels int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buys.len(), b.sells.len()
}
