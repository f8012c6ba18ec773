package engine

import (
	"time"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"

	"github.com/Matty-7/StockTradingSystem/exchange/book"
	"github.com/Matty-7/StockTradingSystem/exchange/store"
	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// fill captures one match against a resting order. Fills are recorded
// in the scope during matching and applied to the book only after the
// scope commits.
type fill struct {
	maker  *types.Order   // the book's entry for the resting order
	open   math.LegacyDec // maker's open amount after the fill, signed
	shares math.LegacyDec
	price  math.LegacyDec
	at     time.Time
}

// crosses reports whether the incoming order trades at a resting
// level's price: buys cross at or below their limit, sells at or above.
func crosses(taker *types.Order, price math.LegacyDec) bool {
	if taker.IsBuy() {
		return taker.LimitPrice.GTE(price)
	}
	return price.GTE(taker.LimitPrice)
}

// executionPrice is the limit price of whichever order entered the
// market first; ties fall to the smaller id.
func executionPrice(maker, taker *types.Order) math.LegacyDec {
	if maker.Before(taker) {
		return maker.LimitPrice
	}
	return taker.LimitPrice
}

// match walks the opposite side best price first, oldest order first
// within a level, filling the taker until its limit stops crossing or
// its open amount reaches zero. Every effect lands in the scope; the
// book is read but never written here.
func (e *Engine) match(sc *store.Scope, bk book.Book, taker *types.Order) ([]fill, error) {
	var fills []fill
	var matchErr error

	bk.Iterate(taker.Side().Opposite(), func(level *book.Level) bool {
		if !taker.IsOpen() || !crosses(taker, level.Price) {
			return false
		}
		for _, maker := range level.Orders {
			if !taker.IsOpen() {
				break
			}
			row, err := sc.GetOrderForUpdate(maker.ID)
			if err != nil {
				matchErr = err
				return false
			}
			if row == nil || !row.IsOpen() {
				continue
			}

			shares := math.LegacyMinDec(taker.OpenShares(), row.OpenShares())
			price := executionPrice(row, taker)
			at := time.Now()

			if err := sc.UpdateOpenAmount(row, row.FillDelta(shares)); err != nil {
				matchErr = err
				return false
			}
			if err := sc.UpdateOpenAmount(taker, taker.FillDelta(shares)); err != nil {
				matchErr = err
				return false
			}
			if _, err := sc.AppendExecution(row.ID, shares, price, at); err != nil {
				matchErr = err
				return false
			}
			if _, err := sc.AppendExecution(taker.ID, shares, price, at); err != nil {
				matchErr = err
				return false
			}
			if err := e.settle(sc, taker, row, shares, price); err != nil {
				matchErr = err
				return false
			}

			fills = append(fills, fill{
				maker:  maker,
				open:   row.OpenAmount,
				shares: shares,
				price:  price,
				at:     at,
			})
		}
		return true
	})

	return fills, matchErr
}

// settle pays the seller and delivers shares to the buyer. The buyer's
// funds were already escrowed at reservation; when the execution price
// beats the buyer's limit the difference stays with the exchange.
func (e *Engine) settle(sc *store.Scope, taker, maker *types.Order, shares, price math.LegacyDec) error {
	buyer, seller := taker, maker
	if !taker.IsBuy() {
		buyer, seller = maker, taker
	}

	acct, err := sc.GetAccountForUpdate(seller.AccountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return errors.Wrapf(types.ErrStoreInternal, "seller account %s missing", seller.AccountID)
	}
	acct.Balance = acct.Balance.Add(shares.Mul(price))
	if err := sc.PutAccount(acct); err != nil {
		return err
	}

	pos, err := sc.GetPositionForUpdate(buyer.AccountID, buyer.Symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = &types.Position{
			AccountID: buyer.AccountID,
			Symbol:    buyer.Symbol,
			Amount:    math.LegacyZeroDec(),
		}
	}
	pos.Amount = pos.Amount.Add(shares)
	return sc.PutPosition(pos)
}

// applyFills mutates the book after the scope committed: maker levels
// shrink or empty out, and whatever remains of the taker starts
// resting. Runs under the symbol lock.
func (e *Engine) applyFills(sb *book.SymbolBook, taker *types.Order, fills []fill) {
	for _, f := range fills {
		f.maker.OpenAmount = f.open
		if f.maker.IsOpen() {
			sb.UpdateQuantity(f.maker)
		} else {
			sb.Remove(f.maker)
		}

		e.logger.Info("orders executed",
			"symbol", taker.Symbol,
			"taker_id", taker.ID,
			"maker_id", f.maker.ID,
			"shares", f.shares.String(),
			"price", f.price.String(),
		)
		if e.metrics != nil {
			shares, _ := f.shares.Float64()
			value, _ := f.shares.Mul(f.price).Float64()
			e.metrics.RecordExecution(taker.Symbol, shares, value)
		}
		if e.sink != nil {
			e.sink.ExecutionCommitted(taker.Symbol, f.shares, f.price, f.at)
		}
	}

	if taker.IsOpen() {
		sb.Insert(taker)
	}
}
