package port

import "errors"

// Sentinel errors adapters use to report guard failures. The service layer
// translates them into coded business errors; anything else is treated as an
// infrastructure failure.
var (
	// ErrDuplicateKey means an insert hit a unique constraint.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound means a referenced row disappeared between the service's
	// validation read and the adapter's write.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock means a conditional stock decrement matched no row.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientFunds means a balance debit would have gone negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrStatusConflict means a guarded status transition lost the race: the
	// order's persisted status no longer matched the expected value.
	ErrStatusConflict = errors.New("order status conflict")
)
