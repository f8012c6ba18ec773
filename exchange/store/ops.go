package store

import (
	"encoding/binary"
	"time"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"

	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// CreateAccount inserts a new account row. The id must be base-10
// digits and the balance non-negative; an existing id is rejected.
func (sc *Scope) CreateAccount(id string, balance math.LegacyDec) error {
	if err := types.ValidateAccountID(id); err != nil {
		return err
	}
	if balance.IsNegative() {
		return types.ErrNegativeBalance
	}
	if err := sc.lockRow(accountLockKey(id)); err != nil {
		return err
	}
	if sc.cache.Has(AccountKey(id)) {
		return types.ErrAccountExists
	}
	setRow(sc.cache, AccountKey(id), &types.Account{ID: id, Balance: balance})
	return nil
}

// CreateSymbol ensures the symbol row exists and credits amount shares
// to the (account, symbol) position. The account must already exist and
// the amount must be positive.
func (sc *Scope) CreateSymbol(symbol, accountID string, amount math.LegacyDec) error {
	if !amount.IsPositive() {
		return types.ErrNonPositiveCredit
	}
	if err := sc.lockRow(accountLockKey(accountID)); err != nil {
		return err
	}
	if !sc.cache.Has(AccountKey(accountID)) {
		return errors.Wrap(types.ErrAccountNotExist, accountID)
	}
	if !sc.cache.Has(SymbolKey(symbol)) {
		setRow(sc.cache, SymbolKey(symbol), &types.Symbol{Name: symbol})
	}

	pos, err := sc.GetPositionForUpdate(accountID, symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = &types.Position{AccountID: accountID, Symbol: symbol, Amount: math.LegacyZeroDec()}
	}
	pos.Amount = pos.Amount.Add(amount)
	return sc.PutPosition(pos)
}

// GetAccountForUpdate returns the account row locked until this scope
// ends, or nil if the account does not exist.
func (sc *Scope) GetAccountForUpdate(id string) (*types.Account, error) {
	if err := sc.lockRow(accountLockKey(id)); err != nil {
		return nil, err
	}
	return getAccount(sc.cache, id)
}

// PutAccount writes an account row back
func (sc *Scope) PutAccount(a *types.Account) error {
	if sc.done {
		return types.ErrScopeClosed
	}
	if a.Balance.IsNegative() {
		return errors.Wrapf(types.ErrStoreInternal, "account %s balance would go negative", a.ID)
	}
	setRow(sc.cache, AccountKey(a.ID), a)
	return nil
}

// GetPositionForUpdate returns the position row locked until this scope
// ends, or nil if no position exists for (account, symbol).
func (sc *Scope) GetPositionForUpdate(accountID, symbol string) (*types.Position, error) {
	if err := sc.lockRow(positionLockKey(accountID, symbol)); err != nil {
		return nil, err
	}
	return getPosition(sc.cache, accountID, symbol)
}

// PutPosition writes a position row back
func (sc *Scope) PutPosition(p *types.Position) error {
	if sc.done {
		return types.ErrScopeClosed
	}
	if p.Amount.IsNegative() {
		return errors.Wrapf(types.ErrStoreInternal, "position %s/%s would go negative", p.AccountID, p.Symbol)
	}
	setRow(sc.cache, PositionKey(p.AccountID, p.Symbol), p)
	return nil
}

// GetOrderForUpdate returns the order row locked until this scope ends,
// or nil if the order does not exist.
func (sc *Scope) GetOrderForUpdate(id uint64) (*types.Order, error) {
	if err := sc.lockRow(orderLockKey(id)); err != nil {
		return nil, err
	}
	return getOrder(sc.cache, id)
}

// InsertOrder assigns the next monotonic order id, writes the row and
// registers it in the open-order index. The id is visible on the order
// before matching begins.
func (sc *Scope) InsertOrder(o *types.Order) (uint64, error) {
	if sc.done {
		return 0, types.ErrScopeClosed
	}
	if o.OpenAmount.IsZero() {
		return 0, errors.Wrap(types.ErrStoreInternal, "inserting order with no open amount")
	}
	o.ID = sc.store.nextOrderID()
	if err := sc.lockRow(orderLockKey(o.ID)); err != nil {
		return 0, err
	}
	setRow(sc.cache, OrderKey(o.ID), o)
	sc.setOpenIndex(o)
	return o.ID, nil
}

// UpdateOpenAmount applies a signed delta to the order's open amount
// and keeps the open-order index in step. The delta must keep the open
// amount on the original side of zero.
func (sc *Scope) UpdateOpenAmount(o *types.Order, delta math.LegacyDec) error {
	if err := sc.lockRow(orderLockKey(o.ID)); err != nil {
		return err
	}

	next := o.OpenAmount.Add(delta)
	if next.Abs().GT(o.OriginalShares()) {
		return errors.Wrapf(types.ErrStoreInternal, "order %d open amount out of range", o.ID)
	}
	if !next.IsZero() && next.IsNegative() != o.Amount.IsNegative() {
		return errors.Wrapf(types.ErrStoreInternal, "order %d open amount crossed zero", o.ID)
	}

	o.OpenAmount = next
	setRow(sc.cache, OrderKey(o.ID), o)
	if o.IsOpen() {
		sc.setOpenIndex(o)
	} else {
		sc.cache.Delete(OpenOrderKey(o.Symbol, o.Side(), o.ID))
	}
	return nil
}

// AppendExecution records one fill leg against an order
func (sc *Scope) AppendExecution(orderID uint64, shares, price math.LegacyDec, at time.Time) (*types.Execution, error) {
	if sc.done {
		return nil, types.ErrScopeClosed
	}
	e := &types.Execution{
		ID:         sc.store.nextExecutionID(),
		OrderID:    orderID,
		Shares:     shares,
		Price:      price,
		ExecutedAt: at,
	}
	setRow(sc.cache, ExecutionKey(orderID, e.ID), e)
	return e, nil
}

// SetCanceled zeroes the open amount, stamps the cancellation time and
// removes the order from the open-order index.
func (sc *Scope) SetCanceled(o *types.Order, at time.Time) error {
	if err := sc.lockRow(orderLockKey(o.ID)); err != nil {
		return err
	}
	sc.cache.Delete(OpenOrderKey(o.Symbol, o.Side(), o.ID))
	o.OpenAmount = math.LegacyZeroDec()
	o.CanceledAt = at
	setRow(sc.cache, OrderKey(o.ID), o)
	return nil
}

// ListExecutions returns the executions of an order as seen by this
// scope, oldest first.
func (sc *Scope) ListExecutions(orderID uint64) ([]*types.Execution, error) {
	if sc.done {
		return nil, types.ErrScopeClosed
	}
	return listExecutions(sc.cache, orderID)
}

// ListOpenOrders returns the open orders for one side of one symbol as
// seen by this scope, in placement order.
func (sc *Scope) ListOpenOrders(symbol string, side types.Side) ([]*types.Order, error) {
	if sc.done {
		return nil, types.ErrScopeClosed
	}
	return listOpenOrders(sc.cache, OpenOrderSidePrefix(symbol, side))
}

func (sc *Scope) setOpenIndex(o *types.Order) {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, o.ID)
	sc.cache.Set(OpenOrderKey(o.Symbol, o.Side(), o.ID), bz)
}
