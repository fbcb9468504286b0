package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flippedyesyes/bookstore/internal/core/domain"
	"github.com/flippedyesyes/bookstore/internal/port"
)

// OrderService owns the order lifecycle: placing orders with stock
// reservation, payment settlement, shipping, receipt confirmation,
// cancellation and the lazy expiry sweep. All isolation is pushed into the
// storage adapters; the only concurrency control here is the guarded status
// transition they expose.
type OrderService struct {
	accounts       port.AccountRepository
	catalog        port.CatalogRepository
	orders         port.OrderRepository
	pendingTimeout time.Duration
	logger         *zap.Logger
}

func NewOrderService(
	accounts port.AccountRepository,
	catalog port.CatalogRepository,
	orders port.OrderRepository,
	pendingTimeout time.Duration,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		accounts:       accounts,
		catalog:        catalog,
		orders:         orders,
		pendingTimeout: pendingTimeout,
		logger:         logger,
	}
}

type OrderWithItems struct {
	Order domain.Order
	Items []domain.OrderItem
}

type OrderPage struct {
	Page     int
	PageSize int
	Total    int
	Orders   []OrderWithItems
}

// NewOrder reserves stock for every line and persists the order with its
// items. On failure nothing is left reserved and the returned order id is
// empty.
func (s *OrderService) NewOrder(ctx context.Context, userID, storeID string, lines []domain.OrderLine) (string, error) {
	buyer, err := s.accounts.GetUser(ctx, userID, false)
	if err != nil {
		return "", s.internal("new order: load user", err)
	}
	if buyer == nil {
		return "", domain.ErrNonExistUser(userID)
	}

	store, err := s.catalog.GetStore(ctx, storeID)
	if err != nil {
		return "", s.internal("new order: load store", err)
	}
	if store == nil {
		return "", domain.ErrNonExistStore(storeID)
	}

	var (
		items      []domain.OrderItem
		totalPrice int64
	)
	orderID := fmt.Sprintf("%s_%s_%s", userID, storeID, uuid.New())
	for _, line := range lines {
		inv, err := s.catalog.GetInventory(ctx, storeID, line.BookID)
		if err != nil {
			return "", s.internal("new order: load inventory", err)
		}
		if inv == nil {
			return "", domain.ErrNonExistBook(line.BookID)
		}
		if inv.StockLevel < line.Count {
			return "", domain.ErrStockLevelLow(line.BookID)
		}
		price := unitPrice(inv)
		items = append(items, domain.OrderItem{
			OrderID:   orderID,
			BookID:    line.BookID,
			Count:     line.Count,
			UnitPrice: price,
		})
		totalPrice += price * int64(line.Count)
	}

	ok, err := s.catalog.AdjustStock(ctx, storeID, lines, true)
	if err != nil {
		return "", s.internal("new order: reserve stock", err)
	}
	if !ok {
		return "", domain.ErrStockLevelLow(lines[0].BookID)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.pendingTimeout)
	order := domain.Order{
		OrderID:    orderID,
		UserID:     userID,
		StoreID:    storeID,
		Status:     domain.OrderStatusPending,
		TotalPrice: totalPrice,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  &expiresAt,
	}
	if err := s.orders.CreateOrder(ctx, order, items); err != nil {
		// The reservation must not outlive a failed order insert.
		if _, restoreErr := s.catalog.AdjustStock(ctx, storeID, lines, false); restoreErr != nil {
			s.logger.Error("stock restore after failed order insert",
				zap.String("order_id", orderID), zap.Error(restoreErr))
		}
		return "", s.internal("new order: persist order", err)
	}
	return orderID, nil
}

// Payment settles a pending order: the buyer debit, seller credit and the
// pending->paid transition are one atomic adapter operation, so a lost
// status race never moves money. Expired orders are swept first so they
// cannot be paid.
func (s *OrderService) Payment(ctx context.Context, userID, password, orderID string) error {
	if _, err := s.CancelExpiredOrders(ctx); err != nil {
		return err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return s.internal("payment: load order", err)
	}
	if order == nil {
		return domain.ErrInvalidOrderID(orderID)
	}
	if order.UserID != userID {
		return domain.ErrAuthorizationFail()
	}
	if order.Status != domain.OrderStatusPending {
		return domain.ErrInvalidOrderStatus(orderID)
	}

	buyer, err := s.accounts.GetUser(ctx, userID, false)
	if err != nil {
		return s.internal("payment: load buyer", err)
	}
	if buyer == nil {
		return domain.ErrNonExistUser(userID)
	}
	if buyer.Password != password {
		return domain.ErrAuthorizationFail()
	}

	store, err := s.catalog.GetStore(ctx, order.StoreID)
	if err != nil {
		return s.internal("payment: load store", err)
	}
	if store == nil {
		return domain.ErrNonExistStore(order.StoreID)
	}
	seller, err := s.accounts.GetUser(ctx, store.OwnerID, false)
	if err != nil {
		return s.internal("payment: load seller", err)
	}
	if seller == nil {
		return domain.ErrNonExistUser(store.OwnerID)
	}

	err = s.orders.SettlePayment(ctx, orderID, userID, store.OwnerID, order.TotalPrice, time.Now().UTC())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, port.ErrInsufficientFunds):
		return domain.ErrNotSufficientFunds(orderID)
	case errors.Is(err, port.ErrStatusConflict):
		return domain.ErrInvalidOrderStatus(orderID)
	case errors.Is(err, port.ErrNotFound):
		return domain.ErrInvalidOrderID(orderID)
	default:
		return s.internal("payment: settle", err)
	}
}

// AddFunds tops up the caller's balance after a password check.
func (s *OrderService) AddFunds(ctx context.Context, userID, password string, addValue int64) error {
	user, err := s.accounts.GetUser(ctx, userID, false)
	if err != nil {
		return s.internal("add funds: load user", err)
	}
	if user == nil || user.Password != password {
		return domain.ErrAuthorizationFail()
	}
	ok, err := s.accounts.ChangeBalance(ctx, userID, addValue)
	if err != nil {
		return s.internal("add funds: change balance", err)
	}
	if !ok {
		return domain.ErrNonExistUser(userID)
	}
	return nil
}

// ShipOrder transitions paid->shipped for an order belonging to the
// seller's store.
func (s *OrderService) ShipOrder(ctx context.Context, sellerID, storeID, orderID string) error {
	seller, err := s.accounts.GetUser(ctx, sellerID, false)
	if err != nil {
		return s.internal("ship order: load seller", err)
	}
	if seller == nil {
		return domain.ErrNonExistUser(sellerID)
	}
	store, err := s.catalog.GetStore(ctx, storeID)
	if err != nil {
		return s.internal("ship order: load store", err)
	}
	if store == nil {
		return domain.ErrNonExistStore(storeID)
	}
	if store.OwnerID != sellerID {
		return domain.ErrAuthorizationFail()
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return s.internal("ship order: load order", err)
	}
	if order == nil {
		return domain.ErrInvalidOrderID(orderID)
	}
	if order.StoreID != storeID {
		return domain.ErrAuthorizationFail()
	}
	if order.Status != domain.OrderStatusPaid {
		return domain.ErrInvalidOrderStatus(orderID)
	}

	ok, err := s.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPaid, domain.OrderStatusShipped, time.Now().UTC())
	if err != nil {
		return s.internal("ship order: transition", err)
	}
	if !ok {
		return domain.ErrInvalidOrderStatus(orderID)
	}
	return nil
}

// ConfirmReceipt transitions shipped->delivered for the buyer's own order.
func (s *OrderService) ConfirmReceipt(ctx context.Context, userID, orderID string) error {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return s.internal("confirm receipt: load order", err)
	}
	if order == nil {
		return domain.ErrInvalidOrderID(orderID)
	}
	if order.UserID != userID {
		return domain.ErrAuthorizationFail()
	}
	if order.Status != domain.OrderStatusShipped {
		return domain.ErrInvalidOrderStatus(orderID)
	}

	ok, err := s.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatusShipped, domain.OrderStatusDelivered, time.Now().UTC())
	if err != nil {
		return s.internal("confirm receipt: transition", err)
	}
	if !ok {
		return domain.ErrInvalidOrderStatus(orderID)
	}
	return nil
}

// CancelOrder cancels the buyer's own pending order and puts the reserved
// stock back. The password is optional; when supplied it must validate.
// The guarded transition happens before the restore so that a racing
// payment or sweep produces exactly one winner and stock is restored at
// most once.
func (s *OrderService) CancelOrder(ctx context.Context, userID, password, orderID string) error {
	if _, err := s.CancelExpiredOrders(ctx); err != nil {
		return err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return s.internal("cancel order: load order", err)
	}
	if order == nil {
		return domain.ErrInvalidOrderID(orderID)
	}
	if order.UserID != userID {
		return domain.ErrAuthorizationFail()
	}
	if order.Status != domain.OrderStatusPending {
		return domain.ErrInvalidOrderStatus(orderID)
	}
	if password != "" {
		user, err := s.accounts.GetUser(ctx, userID, false)
		if err != nil {
			return s.internal("cancel order: load user", err)
		}
		if user == nil || user.Password != password {
			return domain.ErrAuthorizationFail()
		}
	}

	ok, err := s.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusCancelled, time.Now().UTC())
	if err != nil {
		return s.internal("cancel order: transition", err)
	}
	if !ok {
		return domain.ErrInvalidOrderStatus(orderID)
	}
	if err := s.restoreOrderStock(ctx, order.StoreID, orderID); err != nil {
		return s.internal("cancel order: restore stock", err)
	}
	return nil
}

// CancelExpiredOrders sweeps pending orders past their deadline into
// cancelled_timeout and restores their stock. It is invoked as a prefix of
// payment, cancel and list rather than on a timer, and is safe to run
// redundantly from parallel requests: the guarded transition lets at most
// one caller flip a given order. Returns the number of orders this call
// actually cancelled.
func (s *OrderService) CancelExpiredOrders(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-s.pendingTimeout)
	expired, err := s.orders.FindExpiredPending(ctx, now, cutoff)
	if err != nil {
		return 0, s.internal("expiry sweep: find", err)
	}

	cancelled := 0
	for _, order := range expired {
		ok, err := s.orders.UpdateOrderStatus(ctx, order.OrderID, domain.OrderStatusPending, domain.OrderStatusCancelledTimeout, now)
		if err != nil {
			return cancelled, s.internal("expiry sweep: transition", err)
		}
		if !ok {
			// Lost the race to a payment or another sweeper.
			continue
		}
		if err := s.restoreOrderStock(ctx, order.StoreID, order.OrderID); err != nil {
			s.logger.Error("expiry sweep: stock restore",
				zap.String("order_id", order.OrderID), zap.Error(err))
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

// ListOrders returns one page of the user's orders with their items,
// newest activity first. Sweeps first so the page never shows a pending
// order that is already past its deadline.
func (s *OrderService) ListOrders(ctx context.Context, userID string, status domain.OrderStatus, page, pageSize int) (*OrderPage, error) {
	if _, err := s.CancelExpiredOrders(ctx); err != nil {
		return nil, err
	}

	user, err := s.accounts.GetUser(ctx, userID, false)
	if err != nil {
		return nil, s.internal("list orders: load user", err)
	}
	if user == nil {
		return nil, domain.ErrNonExistUser(userID)
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}

	total, orders, err := s.orders.ListOrders(ctx, userID, status, page, pageSize)
	if err != nil {
		return nil, s.internal("list orders: query", err)
	}

	result := &OrderPage{Page: page, PageSize: pageSize, Total: total}
	for _, order := range orders {
		items, err := s.orders.GetOrderItems(ctx, order.OrderID)
		if err != nil {
			return nil, s.internal("list orders: load items", err)
		}
		result.Orders = append(result.Orders, OrderWithItems{Order: order, Items: items})
	}
	return result, nil
}

func (s *OrderService) restoreOrderStock(ctx context.Context, storeID, orderID string) error {
	items, err := s.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	lines := make([]domain.OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.OrderLine{BookID: item.BookID, Count: item.Count})
	}
	if _, err := s.catalog.AdjustStock(ctx, storeID, lines, false); err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}
	return nil
}

func (s *OrderService) internal(op string, err error) error {
	s.logger.Error(op, zap.Error(err))
	return domain.ErrInternal(err)
}

// unitPrice resolves a line's price snapshot. Legacy inventory rows carry
// no price column; for those the price embedded in the serialized book-info
// blob is used, defaulting to zero. Compatibility shim, not a pricing rule.
func unitPrice(inv *domain.Inventory) int64 {
	if inv.Price != nil {
		return *inv.Price
	}
	var info struct {
		Price int64 `json:"price"`
	}
	if err := json.Unmarshal([]byte(inv.BookInfo), &info); err != nil {
		return 0
	}
	return info.Price
}
