package store

import (
	"encoding/binary"
	"strconv"

	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// Store key prefixes
var (
	AccountKeyPrefix    = []byte{0x01}
	SymbolKeyPrefix     = []byte{0x02}
	PositionKeyPrefix   = []byte{0x03}
	OrderKeyPrefix      = []byte{0x04}
	ExecutionKeyPrefix  = []byte{0x05}
	OpenOrderKeyPrefix  = []byte{0x06}
	OrderCounterKey     = []byte{0x10}
	ExecutionCounterKey = []byte{0x11}
)

// keySeparator splits variable-length key segments. XML attribute
// values can never contain a NUL byte, so it is unambiguous.
const keySeparator = 0x00

// AccountKey returns the row key for an account
func AccountKey(id string) []byte {
	return append(AccountKeyPrefix, []byte(id)...)
}

// SymbolKey returns the row key for a symbol
func SymbolKey(name string) []byte {
	return append(SymbolKeyPrefix, []byte(name)...)
}

// PositionKey returns the row key for an (account, symbol) position
func PositionKey(accountID, symbol string) []byte {
	key := append(PositionKeyPrefix, []byte(accountID)...)
	key = append(key, keySeparator)
	return append(key, []byte(symbol)...)
}

// OrderKey returns the row key for an order
func OrderKey(id uint64) []byte {
	key := make([]byte, 0, len(OrderKeyPrefix)+8)
	key = append(key, OrderKeyPrefix...)
	return binary.BigEndian.AppendUint64(key, id)
}

// ExecutionKey returns the row key for one execution leg. Executions
// group under their order id so a prefix scan yields them in
// chronological (execution id) order.
func ExecutionKey(orderID, executionID uint64) []byte {
	key := ExecutionOrderPrefix(orderID)
	return binary.BigEndian.AppendUint64(key, executionID)
}

// ExecutionOrderPrefix returns the scan prefix for all executions of an order
func ExecutionOrderPrefix(orderID uint64) []byte {
	key := make([]byte, 0, len(ExecutionKeyPrefix)+16)
	key = append(key, ExecutionKeyPrefix...)
	return binary.BigEndian.AppendUint64(key, orderID)
}

// OpenOrderKey returns the open-order index key for (symbol, side, id).
// The index holds only orders that belong in the book; a scan over one
// (symbol, side) prefix yields order ids in placement order.
func OpenOrderKey(symbol string, side types.Side, orderID uint64) []byte {
	key := OpenOrderSidePrefix(symbol, side)
	return binary.BigEndian.AppendUint64(key, orderID)
}

// OpenOrderSidePrefix returns the scan prefix for one side of one symbol
func OpenOrderSidePrefix(symbol string, side types.Side) []byte {
	key := append(OpenOrderKeyPrefix, []byte(symbol)...)
	return append(key, keySeparator, byte(side))
}

// Row lock keys. One lock per logical row, shared by every scope that
// touches it.

func accountLockKey(id string) string {
	return "account/" + id
}

func positionLockKey(accountID, symbol string) string {
	return "position/" + accountID + "/" + symbol
}

func orderLockKey(id uint64) string {
	return "order/" + strconv.FormatUint(id, 10)
}
