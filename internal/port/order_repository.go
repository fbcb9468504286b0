package port

import (
	"context"
	"time"

	"github.com/flippedyesyes/bookstore/internal/core/domain"
)

type OrderRepository interface {
	// CreateOrder persists the order and its items in one atomic write.
	CreateOrder(ctx context.Context, order domain.Order, items []domain.OrderItem) error

	// GetOrder returns nil without error when the order does not exist.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	GetOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)

	// UpdateOrderStatus applies a guarded transition: the write takes effect
	// only if the persisted status still equals expected. The adapter stamps
	// the timestamp matching the next status (payment, shipment, delivery or
	// cancellation time) along with updated_at. Returns false when the guard
	// did not match.
	UpdateOrderStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, at time.Time) (bool, error)

	// SettlePayment debits the buyer, credits the seller and transitions the
	// order pending->paid as one atomic unit. On any guard failure nothing is
	// applied: ErrInsufficientFunds when the buyer cannot cover amount,
	// ErrStatusConflict when the order left pending, ErrNotFound when a party
	// or the order is missing.
	SettlePayment(ctx context.Context, orderID, buyerID, sellerID string, amount int64, at time.Time) error

	// FindExpiredPending returns pending orders whose expiry deadline passed,
	// or legacy rows without a deadline created before cutoff.
	FindExpiredPending(ctx context.Context, now, cutoff time.Time) ([]domain.Order, error)

	// ListOrders returns the total match count and one page of a user's
	// orders sorted by updated_at descending. An empty status matches all.
	ListOrders(ctx context.Context, userID string, status domain.OrderStatus, page, pageSize int) (int, []domain.Order, error)
}
