// Package store is the transactional state layer of the exchange:
// accounts, symbols, positions, orders and the execution log, kept as
// JSON rows under prefixed keys in a cosmos-db KV database. Mutations
// run inside scopes (cache branches with row locks) and become visible
// to readers atomically at commit.
package store

import (
	"encoding/binary"
	"sync"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/store/dbadapter"
	storetypes "cosmossdk.io/store/types"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/sasha-s/go-deadlock"

	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// Config holds store tuning parameters
type Config struct {
	// LockTimeout bounds row lock acquisition inside scopes
	LockTimeout time.Duration
}

// DefaultConfig returns the default store configuration
func DefaultConfig() Config {
	return Config{
		LockTimeout: 5 * time.Second,
	}
}

// Store owns the backing database, the row lock table and the id
// counters. It is safe for concurrent use.
type Store struct {
	db     dbm.DB
	root   storetypes.KVStore
	locks  *lockTable
	cfg    Config
	logger log.Logger

	// commitMu makes scope commits atomic with respect to the
	// snapshot readers below: commits take it exclusively, readers
	// take it shared.
	commitMu deadlock.RWMutex

	// seqMu serializes id counter allocation. Counters write through
	// to the database immediately, so aborted scopes leave gaps just
	// like a database sequence.
	seqMu sync.Mutex
}

// New creates a Store over the given database. Pass dbm.NewMemDB() for
// the standard in-process deployment.
func New(db dbm.DB, cfg Config, logger log.Logger) *Store {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	return &Store{
		db:     db,
		root:   dbadapter.Store{DB: db},
		locks:  newLockTable(),
		cfg:    cfg,
		logger: logger.With("module", "exchange/store"),
	}
}

// Begin opens a new scope. Every mutation must happen inside one.
func (s *Store) Begin() *Scope {
	return newScope(s)
}

func (s *Store) nextOrderID() uint64 {
	return s.nextID(OrderCounterKey)
}

func (s *Store) nextExecutionID() uint64 {
	return s.nextID(ExecutionCounterKey)
}

func (s *Store) nextID(counterKey []byte) uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	var counter uint64
	if bz := s.root.Get(counterKey); bz != nil {
		counter = binary.BigEndian.Uint64(bz)
	}
	counter++

	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, counter)
	s.root.Set(counterKey, bz)

	return counter
}

// GetAccount returns the committed account row, or nil if absent
func (s *Store) GetAccount(id string) (*types.Account, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	return getAccount(s.root, id)
}

// GetPosition returns the committed position row, or nil if absent
func (s *Store) GetPosition(accountID, symbol string) (*types.Position, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	return getPosition(s.root, accountID, symbol)
}

// GetOrder returns the committed order row, or nil if absent
func (s *Store) GetOrder(id uint64) (*types.Order, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	return getOrder(s.root, id)
}

// OrderWithExecutions returns an order and its execution log in one
// consistent snapshot, so a fill committing concurrently can never
// show up in only one of the two.
func (s *Store) OrderWithExecutions(id uint64) (*types.Order, []*types.Execution, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()

	ord, err := getOrder(s.root, id)
	if err != nil || ord == nil {
		return nil, nil, err
	}
	execs, err := listExecutions(s.root, id)
	if err != nil {
		return nil, nil, err
	}
	return ord, execs, nil
}

// ListOpenOrders returns the committed open orders for one side of one
// symbol in placement (order id) order.
func (s *Store) ListOpenOrders(symbol string, side types.Side) ([]*types.Order, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	return listOpenOrders(s.root, OpenOrderSidePrefix(symbol, side))
}

// ListAllOpenOrders returns every committed open order, grouped by
// symbol and side, ids ascending within each group. Used to rebuild
// the in-memory books at startup.
func (s *Store) ListAllOpenOrders() ([]*types.Order, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	return listOpenOrders(s.root, OpenOrderKeyPrefix)
}

// Logger returns the store logger
func (s *Store) Logger() log.Logger {
	return s.logger
}
