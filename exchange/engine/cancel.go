package engine

import (
	"time"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"

	"github.com/Matty-7/StockTradingSystem/exchange/store"
	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// Cancel closes the open remainder of an order and refunds whatever it
// still held in escrow. Executed fills stay on the record; the
// returned status reflects the order immediately after cancellation.
func (e *Engine) Cancel(orderID uint64, accountID string) (*OrderStatus, error) {
	committed, err := e.store.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if committed == nil {
		return nil, types.ErrOrderNotFound
	}
	if committed.AccountID != accountID {
		return nil, types.ErrPermissionDenied
	}

	sb := e.books.Get(committed.Symbol)
	sb.Lock()
	defer sb.Unlock()

	sc := e.store.Begin()
	defer sc.Rollback()

	// Re-read under the row lock: the order may have filled or been
	// canceled between the committed read and taking the symbol lock.
	order, err := sc.GetOrderForUpdate(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.ErrOrderNotFound
	}
	if !order.IsOpen() {
		return nil, types.ErrNoOpenShares
	}

	if err := e.refund(sc, order); err != nil {
		return nil, err
	}
	if err := sc.SetCanceled(order, time.Now()); err != nil {
		return nil, err
	}
	execs, err := sc.ListExecutions(orderID)
	if err != nil {
		return nil, err
	}
	if err := sc.Commit(); err != nil {
		return nil, err
	}

	sb.Remove(order)
	e.publishBook(sb)

	e.logger.Info("order canceled",
		"order_id", orderID,
		"account", accountID,
		"symbol", order.Symbol,
		"canceled_shares", order.CanceledShares(execs).String(),
	)
	if e.metrics != nil {
		e.metrics.RecordCancel(order.Symbol)
	}
	return composeStatus(order, execs), nil
}

// refund returns the open remainder to its owner: escrowed funds at
// the limit price for buys, shares for sells.
func (e *Engine) refund(sc *store.Scope, order *types.Order) error {
	open := order.OpenShares()
	if order.IsBuy() {
		acct, err := sc.GetAccountForUpdate(order.AccountID)
		if err != nil {
			return err
		}
		if acct == nil {
			return errors.Wrapf(types.ErrStoreInternal, "account %s missing for refund", order.AccountID)
		}
		acct.Balance = acct.Balance.Add(open.Mul(order.LimitPrice))
		return sc.PutAccount(acct)
	}

	pos, err := sc.GetPositionForUpdate(order.AccountID, order.Symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = &types.Position{
			AccountID: order.AccountID,
			Symbol:    order.Symbol,
			Amount:    math.LegacyZeroDec(),
		}
	}
	pos.Amount = pos.Amount.Add(open)
	return sc.PutPosition(pos)
}
