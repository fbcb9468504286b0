package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flippedyesyes/bookstore/internal/core/domain"
	"github.com/flippedyesyes/bookstore/internal/port"
)

// memStore is an in-memory implementation of all three repository ports.
// Guards run under one mutex, which gives it the same atomicity the real
// adapters provide through transactions and scripts, so race tests against
// it are meaningful.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	stores    map[string]*domain.Store
	inventory map[string]*domain.Inventory
	orders    map[string]*domain.Order
	items     map[string][]domain.OrderItem

	failCreateOrder error
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*domain.User),
		stores:    make(map[string]*domain.Store),
		inventory: make(map[string]*domain.Inventory),
		orders:    make(map[string]*domain.Order),
		items:     make(map[string][]domain.OrderItem),
	}
}

func invID(storeID, bookID string) string { return storeID + "|" + bookID }

// ---- AccountRepository ----

func (m *memStore) CreateUser(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.UserID]; ok {
		return port.ErrDuplicateKey
	}
	user.Status = domain.UserStatusActive
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	m.users[user.UserID] = &user
	return nil
}

func (m *memStore) GetUser(_ context.Context, userID string, includeInactive bool) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	if !includeInactive && user.Status != domain.UserStatusActive {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (m *memStore) ReviveUser(_ context.Context, userID, password, token, terminal string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok || user.Status != domain.UserStatusDeleted {
		return false, nil
	}
	user.Password = password
	user.Balance = 0
	user.Token = token
	user.Terminal = terminal
	user.Status = domain.UserStatusActive
	user.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memStore) SoftDeleteUser(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok || user.Status != domain.UserStatusActive {
		return false, nil
	}
	user.Status = domain.UserStatusDeleted
	user.Token = ""
	user.Terminal = ""
	user.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memStore) UpdateToken(_ context.Context, userID, token, terminal string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok || user.Status != domain.UserStatusActive {
		return false, nil
	}
	user.Token = token
	user.Terminal = terminal
	return true, nil
}

func (m *memStore) UpdatePassword(_ context.Context, userID, password, token, terminal string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok || user.Status != domain.UserStatusActive {
		return false, nil
	}
	user.Password = password
	user.Token = token
	user.Terminal = terminal
	return true, nil
}

func (m *memStore) ChangeBalance(_ context.Context, userID string, delta int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok || user.Status != domain.UserStatusActive {
		return false, nil
	}
	if user.Balance+delta < 0 {
		return false, nil
	}
	user.Balance += delta
	return true, nil
}

// ---- CatalogRepository ----

func (m *memStore) CreateStore(_ context.Context, store domain.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[store.StoreID]; ok {
		return port.ErrDuplicateKey
	}
	store.CreatedAt = time.Now().UTC()
	m.stores[store.StoreID] = &store
	return nil
}

func (m *memStore) GetStore(_ context.Context, storeID string) (*domain.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	store, ok := m.stores[storeID]
	if !ok {
		return nil, nil
	}
	copied := *store
	return &copied, nil
}

func (m *memStore) AddInventory(_ context.Context, inv domain.Inventory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := invID(inv.StoreID, inv.BookID)
	if _, ok := m.inventory[key]; ok {
		return port.ErrDuplicateKey
	}
	m.inventory[key] = &inv
	return nil
}

func (m *memStore) GetInventory(_ context.Context, storeID, bookID string) (*domain.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.inventory[invID(storeID, bookID)]
	if !ok {
		return nil, nil
	}
	copied := *inv
	return &copied, nil
}

func (m *memStore) AdjustStock(_ context.Context, storeID string, lines []domain.OrderLine, decrease bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range lines {
		inv, ok := m.inventory[invID(storeID, line.BookID)]
		if !ok {
			return false, nil
		}
		if decrease && inv.StockLevel < line.Count {
			return false, nil
		}
	}
	for _, line := range lines {
		inv := m.inventory[invID(storeID, line.BookID)]
		if decrease {
			inv.StockLevel -= line.Count
		} else {
			inv.StockLevel += line.Count
		}
	}
	return true, nil
}

// ---- OrderRepository ----

func (m *memStore) CreateOrder(_ context.Context, order domain.Order, items []domain.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateOrder != nil {
		return m.failCreateOrder
	}
	if _, ok := m.orders[order.OrderID]; ok {
		return port.ErrDuplicateKey
	}
	m.orders[order.OrderID] = &order
	m.items[order.OrderID] = append([]domain.OrderItem(nil), items...)
	return nil
}

func (m *memStore) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (m *memStore) GetOrderItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OrderItem(nil), m.items[orderID]...), nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, orderID string, expected, next domain.OrderStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok || order.Status != expected {
		return false, nil
	}
	order.Status = next
	order.UpdatedAt = at
	stamp := at
	switch next {
	case domain.OrderStatusPaid:
		order.PaymentTime = &stamp
	case domain.OrderStatusShipped:
		order.ShipmentTime = &stamp
	case domain.OrderStatusDelivered:
		order.DeliveryTime = &stamp
	case domain.OrderStatusCancelled, domain.OrderStatusCancelledTimeout:
		order.CancelledAt = &stamp
	}
	return true, nil
}

func (m *memStore) SettlePayment(_ context.Context, orderID, buyerID, sellerID string, amount int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return port.ErrNotFound
	}
	buyer, ok := m.users[buyerID]
	if !ok || buyer.Status != domain.UserStatusActive {
		return port.ErrNotFound
	}
	seller, ok := m.users[sellerID]
	if !ok || seller.Status != domain.UserStatusActive {
		return port.ErrNotFound
	}
	if order.Status != domain.OrderStatusPending {
		return port.ErrStatusConflict
	}
	if buyer.Balance < amount {
		return port.ErrInsufficientFunds
	}
	buyer.Balance -= amount
	seller.Balance += amount
	order.Status = domain.OrderStatusPaid
	order.PaymentTime = &at
	order.UpdatedAt = at
	return nil
}

func (m *memStore) FindExpiredPending(_ context.Context, now, cutoff time.Time) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []domain.Order
	for _, order := range m.orders {
		if order.Status != domain.OrderStatusPending {
			continue
		}
		if order.ExpiresAt != nil {
			if !order.ExpiresAt.After(now) {
				expired = append(expired, *order)
			}
		} else if order.CreatedAt.Before(cutoff) {
			expired = append(expired, *order)
		}
	}
	return expired, nil
}

func (m *memStore) ListOrders(_ context.Context, userID string, status domain.OrderStatus, page, pageSize int) (int, []domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []domain.Order
	for _, order := range m.orders {
		if order.UserID != userID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		matched = append(matched, *order)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	total := len(matched)
	start := (page - 1) * pageSize
	if start >= total {
		return total, nil, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return total, matched[start:end], nil
}

// test helpers

func (m *memStore) setBalance(userID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID].Balance = balance
}

func (m *memStore) balance(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID].Balance
}

func (m *memStore) stock(storeID, bookID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inventory[invID(storeID, bookID)].StockLevel
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}
