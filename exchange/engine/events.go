package engine

import (
	"time"

	"cosmossdk.io/math"

	"github.com/Matty-7/StockTradingSystem/exchange/book"
)

// Quote is one side of the top of book
type Quote struct {
	Price  math.LegacyDec
	Shares math.LegacyDec
}

// EventSink receives market events after their effects commit. Calls
// arrive under the per-symbol lock and must not block.
type EventSink interface {
	// ExecutionCommitted reports one fill.
	ExecutionCommitted(symbol string, shares, price math.LegacyDec, at time.Time)

	// BookChanged reports the top of book after it may have moved.
	// Either quote is nil when that side is empty.
	BookChanged(symbol string, bestBuy, bestSell *Quote)
}

func quoteOf(lvl *book.Level) *Quote {
	if lvl == nil {
		return nil
	}
	return &Quote{Price: lvl.Price, Shares: lvl.Shares}
}

// publishBook pushes the current top of book to the sink and refreshes
// the depth gauges.
func (e *Engine) publishBook(sb *book.SymbolBook) {
	buyLevels, sellLevels := sb.Depth()
	if e.metrics != nil {
		e.metrics.SetBookDepth(sb.Symbol(), buyLevels, sellLevels)
	}
	if e.sink == nil {
		return
	}
	bestBuy, bestSell := sb.BestLevels()
	e.sink.BookChanged(sb.Symbol(), quoteOf(bestBuy), quoteOf(bestSell))
}
