package types

import (
	"cosmossdk.io/errors"
)

// Domain error codes. The messages double as the wire-visible error
// text, so they must not change without updating the protocol tests.
var (
	ErrAccountExists     = errors.Register("exchange", 1, "Account already exists")
	ErrInvalidAccountID  = errors.Register("exchange", 2, "Account ID must be a sequence of one or more base-10 digits")
	ErrNegativeBalance   = errors.Register("exchange", 3, "Initial balance cannot be negative")
	ErrAccountNotFound   = errors.Register("exchange", 4, "Account not found")
	ErrAccountNotExist   = errors.Register("exchange", 5, "Account does not exist")
	ErrInsufficientFunds = errors.Register("exchange", 6, "Insufficient funds")
	ErrInsufficientShare = errors.Register("exchange", 7, "Insufficient shares")
	ErrOrderNotFound     = errors.Register("exchange", 8, "Order not found")
	ErrPermissionDenied  = errors.Register("exchange", 9, "Permission denied")
	ErrNoOpenShares      = errors.Register("exchange", 10, "Order has no open shares to cancel")
	ErrZeroAmount        = errors.Register("exchange", 11, "Order amount cannot be zero")
	ErrNegativeLimit     = errors.Register("exchange", 12, "Limit price cannot be negative")
	ErrNonPositiveCredit = errors.Register("exchange", 13, "Position amount must be positive")
	ErrInvalidNumber     = errors.Register("exchange", 14, "invalid number")
	ErrLockTimeout       = errors.Register("exchange", 15, "row lock acquisition timed out")
	ErrStoreInternal     = errors.Register("exchange", 16, "internal store error")
	ErrScopeClosed       = errors.Register("exchange", 17, "scope already committed or rolled back")
)
