package store

import (
	"encoding/binary"
	"encoding/json"

	"cosmossdk.io/errors"
	"cosmossdk.io/store/cachekv"
	storetypes "cosmossdk.io/store/types"

	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// Scope is one atomic unit of work: a cache branch over the committed
// state plus the row locks taken while working in it. Commit publishes
// the branch; Rollback drops it. Locks release either way, after the
// writes are visible, so a blocked locker always observes the outcome.
type Scope struct {
	store *Store
	cache *cachekv.Store
	held  map[string]*rowLock
	done  bool
}

func newScope(s *Store) *Scope {
	return &Scope{
		store: s,
		cache: cachekv.NewStore(s.root),
		held:  make(map[string]*rowLock),
	}
}

// Commit publishes every write in this scope. Readers of the store see
// either none or all of them.
func (sc *Scope) Commit() error {
	if sc.done {
		return types.ErrScopeClosed
	}
	sc.done = true

	sc.store.commitMu.Lock()
	sc.cache.Write()
	sc.store.commitMu.Unlock()

	sc.releaseLocks()
	return nil
}

// Rollback discards the scope. It is a no-op after Commit, so callers
// can defer it unconditionally.
func (sc *Scope) Rollback() {
	if sc.done {
		return
	}
	sc.done = true
	sc.releaseLocks()
}

// lockRow takes the row lock for key, re-entrant within this scope
func (sc *Scope) lockRow(key string) error {
	if sc.done {
		return types.ErrScopeClosed
	}
	if _, ok := sc.held[key]; ok {
		return nil
	}
	l, err := sc.store.locks.acquire(key, sc.store.cfg.LockTimeout)
	if err != nil {
		return err
	}
	sc.held[key] = l
	return nil
}

func (sc *Scope) releaseLocks() {
	for key, l := range sc.held {
		l.release()
		delete(sc.held, key)
	}
}

// Row codec: JSON rows under prefixed keys.

func setRow(kv storetypes.KVStore, key []byte, row any) {
	bz, _ := json.Marshal(row)
	kv.Set(key, bz)
}

func getRow(kv storetypes.KVStore, key []byte, row any) (bool, error) {
	bz := kv.Get(key)
	if bz == nil {
		return false, nil
	}
	if err := json.Unmarshal(bz, row); err != nil {
		return false, errors.Wrapf(types.ErrStoreInternal, "decode row %x: %v", key, err)
	}
	return true, nil
}

func getAccount(kv storetypes.KVStore, id string) (*types.Account, error) {
	var a types.Account
	ok, err := getRow(kv, AccountKey(id), &a)
	if !ok || err != nil {
		return nil, err
	}
	return &a, nil
}

func getPosition(kv storetypes.KVStore, accountID, symbol string) (*types.Position, error) {
	var p types.Position
	ok, err := getRow(kv, PositionKey(accountID, symbol), &p)
	if !ok || err != nil {
		return nil, err
	}
	return &p, nil
}

func getOrder(kv storetypes.KVStore, id uint64) (*types.Order, error) {
	var o types.Order
	ok, err := getRow(kv, OrderKey(id), &o)
	if !ok || err != nil {
		return nil, err
	}
	return &o, nil
}

func listExecutions(kv storetypes.KVStore, orderID uint64) ([]*types.Execution, error) {
	pfx := ExecutionOrderPrefix(orderID)
	it := kv.Iterator(pfx, storetypes.PrefixEndBytes(pfx))
	defer it.Close()

	var out []*types.Execution
	for ; it.Valid(); it.Next() {
		var e types.Execution
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, errors.Wrapf(types.ErrStoreInternal, "decode execution %x: %v", it.Key(), err)
		}
		out = append(out, &e)
	}
	return out, nil
}

func listOpenOrders(kv storetypes.KVStore, pfx []byte) ([]*types.Order, error) {
	it := kv.Iterator(pfx, storetypes.PrefixEndBytes(pfx))
	defer it.Close()

	var out []*types.Order
	for ; it.Valid(); it.Next() {
		id := binary.BigEndian.Uint64(it.Value())
		o, err := getOrder(kv, id)
		if err != nil {
			return nil, err
		}
		if o == nil {
			return nil, errors.Wrapf(types.ErrStoreInternal, "open-order index points at missing order %d", id)
		}
		out = append(out, o)
	}
	return out, nil
}
