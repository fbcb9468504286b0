package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "pending"
	OrderStatusPaid             OrderStatus = "paid"
	OrderStatusShipped          OrderStatus = "shipped"
	OrderStatusDelivered        OrderStatus = "delivered"
	OrderStatusCancelled        OrderStatus = "cancelled"
	OrderStatusCancelledTimeout OrderStatus = "cancelled_timeout"
)

// Terminal reports whether no further transition can leave the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusCancelledTimeout:
		return true
	}
	return false
}

type Order struct {
	OrderID      string
	UserID       string
	StoreID      string
	Status       OrderStatus
	TotalPrice   int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PaymentTime  *time.Time
	ShipmentTime *time.Time
	DeliveryTime *time.Time
	CancelledAt  *time.Time
	ExpiresAt    *time.Time
}

// OrderItem is a line of an order, fixed at creation. UnitPrice is the
// price snapshot taken when the order was placed.
type OrderItem struct {
	OrderID   string
	BookID    string
	Count     int
	UnitPrice int64
}

// OrderLine is a (book, count) pair in a new-order request or a stock
// adjustment.
type OrderLine struct {
	BookID string
	Count  int
}
