package domain

import "fmt"

// Error is a business failure with the stable numeric code the view layer
// returns to clients. Services return these instead of raw errors for every
// validation or resource-exhaustion failure.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return e.Message }

const (
	CodeOK                 = 200
	CodeAuthorizationFail  = 401
	CodeNonExistUser       = 511
	CodeExistUser          = 512
	CodeNonExistStore      = 513
	CodeExistStore         = 514
	CodeNonExistBook       = 515
	CodeExistBook          = 516
	CodeStockLevelLow      = 517
	CodeInvalidOrderID     = 518
	CodeNotSufficientFunds = 519
	CodeInvalidOrderStatus = 520
	CodeInternalError      = 530
)

func ErrNonExistUser(userID string) *Error {
	return &Error{CodeNonExistUser, fmt.Sprintf("user %q does not exist", userID)}
}

func ErrExistUser(userID string) *Error {
	return &Error{CodeExistUser, fmt.Sprintf("user %q already exists", userID)}
}

func ErrNonExistStore(storeID string) *Error {
	return &Error{CodeNonExistStore, fmt.Sprintf("store %q does not exist", storeID)}
}

func ErrExistStore(storeID string) *Error {
	return &Error{CodeExistStore, fmt.Sprintf("store %q already exists", storeID)}
}

func ErrNonExistBook(bookID string) *Error {
	return &Error{CodeNonExistBook, fmt.Sprintf("book %q does not exist", bookID)}
}

func ErrExistBook(bookID string) *Error {
	return &Error{CodeExistBook, fmt.Sprintf("book %q already exists", bookID)}
}

func ErrStockLevelLow(bookID string) *Error {
	return &Error{CodeStockLevelLow, fmt.Sprintf("stock level low for book %q", bookID)}
}

func ErrInvalidOrderID(orderID string) *Error {
	return &Error{CodeInvalidOrderID, fmt.Sprintf("invalid order id %q", orderID)}
}

func ErrNotSufficientFunds(orderID string) *Error {
	return &Error{CodeNotSufficientFunds, fmt.Sprintf("not sufficient funds for order %q", orderID)}
}

func ErrInvalidOrderStatus(orderID string) *Error {
	return &Error{CodeInvalidOrderStatus, fmt.Sprintf("invalid status for order %q", orderID)}
}

func ErrAuthorizationFail() *Error {
	return &Error{CodeAuthorizationFail, "authorization fail"}
}

// ErrInternal wraps an unexpected failure. The underlying message is kept
// for diagnostics; callers only ever see the code and message pair.
func ErrInternal(err error) *Error {
	return &Error{CodeInternalError, err.Error()}
}
