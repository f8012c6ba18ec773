package engine

import (
	"time"

	"cosmossdk.io/math"

	"github.com/Matty-7/StockTradingSystem/exchange/store"
	"github.com/Matty-7/StockTradingSystem/exchange/types"
	"github.com/Matty-7/StockTradingSystem/metrics"
)

// PlaceOrder validates, funds and matches a new limit order, returning
// its id. The order fills as far as resting prices allow; whatever
// remains open starts resting on the book. Rejections leave no state
// behind, but an accepted order keeps its id even if it never fills.
func (e *Engine) PlaceOrder(accountID, symbol string, amount, limit math.LegacyDec) (uint64, error) {
	if amount.IsZero() {
		return 0, types.ErrZeroAmount
	}
	if limit.IsNegative() {
		return 0, types.ErrNegativeLimit
	}

	timer := metrics.NewTimer()
	side := types.SideOf(amount)

	sb := e.books.Get(symbol)
	sb.Lock()
	defer sb.Unlock()

	sc := e.store.Begin()
	defer sc.Rollback()

	if err := e.reserve(sc, accountID, symbol, amount, limit); err != nil {
		e.recordOrder(symbol, side, "rejected")
		return 0, err
	}

	order := &types.Order{
		AccountID:  accountID,
		Symbol:     symbol,
		Amount:     amount,
		LimitPrice: limit,
		OpenAmount: amount,
		CreatedAt:  time.Now(),
	}
	if _, err := sc.InsertOrder(order); err != nil {
		return 0, err
	}

	fills, err := e.match(sc, sb, order)
	if err != nil {
		return 0, err
	}

	if err := sc.Commit(); err != nil {
		return 0, err
	}

	e.applyFills(sb, order, fills)
	e.publishBook(sb)

	e.logger.Info("order placed",
		"order_id", order.ID,
		"account", accountID,
		"symbol", symbol,
		"side", side.String(),
		"shares", order.OriginalShares().String(),
		"limit", limit.String(),
		"fills", len(fills),
		"open", order.OpenShares().String(),
	)
	e.recordOrder(symbol, side, "accepted")
	if e.metrics != nil {
		e.metrics.RecordOrderLatency(symbol, timer.ElapsedMs())
	}
	return order.ID, nil
}

// reserve debits what the order may owe up front: the full limit cost
// for buys, the shares for sells. The debit rolls back with the scope
// if anything later fails.
func (e *Engine) reserve(sc *store.Scope, accountID, symbol string, amount, limit math.LegacyDec) error {
	acct, err := sc.GetAccountForUpdate(accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return types.ErrAccountNotFound
	}

	if amount.IsPositive() {
		cost := amount.Mul(limit)
		if acct.Balance.LT(cost) {
			return types.ErrInsufficientFunds
		}
		acct.Balance = acct.Balance.Sub(cost)
		return sc.PutAccount(acct)
	}

	shares := amount.Abs()
	pos, err := sc.GetPositionForUpdate(accountID, symbol)
	if err != nil {
		return err
	}
	if pos == nil || pos.Amount.LT(shares) {
		return types.ErrInsufficientShare
	}
	pos.Amount = pos.Amount.Sub(shares)
	return sc.PutPosition(pos)
}

func (e *Engine) recordOrder(symbol string, side types.Side, result string) {
	if e.metrics != nil {
		e.metrics.RecordOrder(symbol, side.String(), result)
	}
}
