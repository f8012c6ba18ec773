package store

import (
	"time"

	"cosmossdk.io/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// rowLock serializes mutations of one logical row across scopes. The
// buffered channel carries the lock token so acquisition can time out.
type rowLock struct {
	ch chan struct{}
}

func (l *rowLock) release() {
	<-l.ch
}

// lockTable hands out row locks by key. Locks are never deleted; the
// working set of rows is bounded by the data itself.
type lockTable struct {
	mu   deadlock.Mutex
	rows map[string]*rowLock
}

func newLockTable() *lockTable {
	return &lockTable{rows: make(map[string]*rowLock)}
}

func (t *lockTable) get(key string) *rowLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.rows[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		t.rows[key] = l
	}
	return l
}

// acquire blocks until the row lock is held or the timeout elapses.
// A timeout surfaces as ErrLockTimeout and aborts the caller's scope,
// which breaks any cross-account acquisition cycle.
func (t *lockTable) acquire(key string, timeout time.Duration) (*rowLock, error) {
	l := t.get(key)
	select {
	case l.ch <- struct{}{}:
		return l, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.ch <- struct{}{}:
		return l, nil
	case <-timer.C:
		return nil, errors.Wrap(types.ErrLockTimeout, key)
	}
}
