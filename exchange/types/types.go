package types

import (
	"time"

	"cosmossdk.io/math"
)

// Side identifies which half of the book an order belongs to.
type Side int32

const (
	SideUnspecified Side = 0
	SideBuy         Side = 1
	SideSell        Side = 2
)

// String returns a human-readable side name
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unspecified"
	}
}

// Opposite returns the other side of the book
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideUnspecified
	}
}

// SideOf derives the side from a signed order amount (buy > 0, sell < 0)
func SideOf(amount math.LegacyDec) Side {
	if amount.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// OrderStatus represents the lifecycle state of an order
type OrderStatus int32

const (
	OrderStatusOpen            OrderStatus = 1
	OrderStatusPartiallyFilled OrderStatus = 2
	OrderStatusFilled          OrderStatus = 3
	OrderStatusCanceled        OrderStatus = 4
)

// String returns a human-readable status name
func (s OrderStatus) String() string {
	switch s {
	case OrderStatusOpen:
		return "open"
	case OrderStatusPartiallyFilled:
		return "partially_filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Account is a funded participant. The id is an immutable string of
// base-10 digits; the balance never goes negative.
type Account struct {
	ID      string         `json:"id"`
	Balance math.LegacyDec `json:"balance"`
}

// Symbol is a tradeable instrument, created implicitly by the first
// create-symbol request that references it.
type Symbol struct {
	Name string `json:"name"`
}

// Position is the per-account inventory of one symbol. Unique per
// (account, symbol); the amount never goes negative.
type Position struct {
	AccountID string         `json:"account_id"`
	Symbol    string         `json:"symbol"`
	Amount    math.LegacyDec `json:"amount"`
}

// Order is a standing request to buy or sell at no worse than a limit
// price. Amount and OpenAmount are signed: positive for buys, negative
// for sells. OpenAmount always carries the sign of Amount and shrinks
// toward zero as the order fills.
type Order struct {
	ID         uint64         `json:"id"`
	AccountID  string         `json:"account_id"`
	Symbol     string         `json:"symbol"`
	Amount     math.LegacyDec `json:"amount"`
	LimitPrice math.LegacyDec `json:"limit_price"`
	OpenAmount math.LegacyDec `json:"open_amount"`
	CreatedAt  time.Time      `json:"created_at"`
	CanceledAt time.Time      `json:"canceled_at"`
}

// Side returns the order side derived from the sign of the original amount
func (o *Order) Side() Side {
	return SideOf(o.Amount)
}

// IsBuy reports whether the order is a buy
func (o *Order) IsBuy() bool {
	return !o.Amount.IsNegative()
}

// OriginalShares returns |Amount|
func (o *Order) OriginalShares() math.LegacyDec {
	return o.Amount.Abs()
}

// OpenShares returns |OpenAmount|
func (o *Order) OpenShares() math.LegacyDec {
	return o.OpenAmount.Abs()
}

// IsCanceled reports whether the order has been canceled
func (o *Order) IsCanceled() bool {
	return !o.CanceledAt.IsZero()
}

// IsOpen reports whether the order still belongs in the book:
// open amount nonzero and never canceled.
func (o *Order) IsOpen() bool {
	return !o.OpenAmount.IsZero() && !o.IsCanceled()
}

// Status derives the lifecycle state from the order fields
func (o *Order) Status() OrderStatus {
	switch {
	case o.IsCanceled():
		return OrderStatusCanceled
	case o.OpenAmount.IsZero():
		return OrderStatusFilled
	case o.OpenAmount.Equal(o.Amount):
		return OrderStatusOpen
	default:
		return OrderStatusPartiallyFilled
	}
}

// FillDelta returns the signed change to OpenAmount that consumes
// the given (positive) share count: negative for buys, positive for
// sells, always moving OpenAmount toward zero.
func (o *Order) FillDelta(shares math.LegacyDec) math.LegacyDec {
	if o.Amount.IsNegative() {
		return shares
	}
	return shares.Neg()
}

// Before reports whether o has strict time priority over other:
// earlier creation instant, ties broken by the smaller order id.
func (o *Order) Before(other *Order) bool {
	if o.CreatedAt.Equal(other.CreatedAt) {
		return o.ID < other.ID
	}
	return o.CreatedAt.Before(other.CreatedAt)
}

// Execution is an immutable record of one fill leg. Every fill writes
// one execution per participating order, both at the same price and
// timestamp.
type Execution struct {
	ID         uint64         `json:"id"`
	OrderID    uint64         `json:"order_id"`
	Shares     math.LegacyDec `json:"shares"`
	Price      math.LegacyDec `json:"price"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// ExecutedShares sums the shares of the given executions
func ExecutedShares(execs []*Execution) math.LegacyDec {
	total := math.LegacyZeroDec()
	for _, e := range execs {
		total = total.Add(e.Shares)
	}
	return total
}

// CanceledShares returns the share count reported in a canceled status
// part: the original size minus everything that executed before the
// cancel landed.
func (o *Order) CanceledShares(execs []*Execution) math.LegacyDec {
	return o.OriginalShares().Sub(ExecutedShares(execs))
}
