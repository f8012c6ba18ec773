package engine

import (
	"time"

	"cosmossdk.io/math"

	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// OpenPart is the still-working remainder of an order
type OpenPart struct {
	Shares math.LegacyDec
}

// CanceledPart is the remainder killed by cancellation
type CanceledPart struct {
	Shares math.LegacyDec
	At     time.Time
}

// ExecutedPart is one fill of an order
type ExecutedPart struct {
	Shares math.LegacyDec
	Price  math.LegacyDec
	At     time.Time
}

// OrderStatus is the composite state of one order: at most one open
// part, at most one canceled part (never both) and the fill history in
// execution order.
type OrderStatus struct {
	OrderID  uint64
	Open     *OpenPart
	Canceled *CanceledPart
	Executed []ExecutedPart
}

// Status reports the state of an order from a single committed
// snapshot, so a concurrently committing fill can never appear in the
// execution list without also being reflected in the open remainder.
func (e *Engine) Status(orderID uint64, accountID string) (*OrderStatus, error) {
	order, execs, err := e.store.OrderWithExecutions(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.ErrOrderNotFound
	}
	if order.AccountID != accountID {
		return nil, types.ErrPermissionDenied
	}
	return composeStatus(order, execs), nil
}

func composeStatus(order *types.Order, execs []*types.Execution) *OrderStatus {
	st := &OrderStatus{OrderID: order.ID}
	if order.IsOpen() {
		st.Open = &OpenPart{Shares: order.OpenShares()}
	}
	if order.IsCanceled() {
		st.Canceled = &CanceledPart{
			Shares: order.CanceledShares(execs),
			At:     order.CanceledAt,
		}
	}
	for _, ex := range execs {
		st.Executed = append(st.Executed, ExecutedPart{
			Shares: ex.Shares,
			Price:  ex.Price,
			At:     ex.ExecutedAt,
		})
	}
	return st
}
