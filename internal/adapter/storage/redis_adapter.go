package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flippedyesyes/bookstore/internal/core/domain"
	"github.com/flippedyesyes/bookstore/internal/port"
)

const (
	userKeyPrefix  = "user:"
	storeKeyPrefix = "store:"
	invKeyPrefix   = "inv:"
	orderKeyPrefix = "order:"

	pendingOrdersKey    = "orders:pending"
	userOrdersKeyPrefix = "orders:user:"
)

// createScript inserts a hash only if the key does not exist yet, which is
// the unique-constraint equivalent for the document backend.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// adjustStockScript applies one delta per inventory key, all or nothing.
// ARGV carries the per-key counts followed by the direction flag ('1' for
// decrease) and the updated_at stamp. The first pass verifies every key
// before the second pass mutates anything, so a failed call leaves stock
// exactly as it was.
var adjustStockScript = redis.NewScript(`
local n = #KEYS
local decrease = ARGV[n + 1] == '1'
for i = 1, n do
	if redis.call('EXISTS', KEYS[i]) == 0 then
		return 0
	end
	if decrease then
		local stock = tonumber(redis.call('HGET', KEYS[i], 'stock_level'))
		if stock == nil or stock < tonumber(ARGV[i]) then
			return 0
		end
	end
end
for i = 1, n do
	local delta = tonumber(ARGV[i])
	if decrease then
		delta = -delta
	end
	redis.call('HINCRBY', KEYS[i], 'stock_level', delta)
	redis.call('HSET', KEYS[i], 'updated_at', ARGV[n + 2])
end
return 1
`)

var changeBalanceScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'active' then
	return 0
end
local balance = tonumber(redis.call('HGET', KEYS[1], 'balance')) or 0
local delta = tonumber(ARGV[1])
if balance + delta < 0 then
	return 0
end
redis.call('HINCRBY', KEYS[1], 'balance', delta)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
return 1
`)

// casStatusScript is the guarded transition: the write happens only while
// the stored status still equals the expected one. It also maintains the
// pending-expiry and per-user activity indexes.
// KEYS: order hash, pending zset, user orders zset.
// ARGV: order id, expected, next, stamp field ('' for none), at-millis.
var casStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[3], 'updated_at', ARGV[5])
if ARGV[4] ~= '' then
	redis.call('HSET', KEYS[1], ARGV[4], ARGV[5])
end
if ARGV[2] == 'pending' then
	redis.call('ZREM', KEYS[2], ARGV[1])
end
redis.call('ZADD', KEYS[3], tonumber(ARGV[5]), ARGV[1])
return 1
`)

// settlePaymentScript makes the buyer debit, seller credit and the
// pending->paid transition one atomic unit. No partial effect survives a
// failed guard.
// KEYS: order hash, buyer hash, seller hash, pending zset, buyer orders zset.
// ARGV: order id, amount, at-millis.
var settlePaymentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0
	or redis.call('HGET', KEYS[2], 'status') ~= 'active'
	or redis.call('HGET', KEYS[3], 'status') ~= 'active' then
	return -2
end
if redis.call('HGET', KEYS[1], 'status') ~= 'pending' then
	return -1
end
local amount = tonumber(ARGV[2])
local balance = tonumber(redis.call('HGET', KEYS[2], 'balance')) or 0
if balance < amount then
	return 0
end
redis.call('HINCRBY', KEYS[2], 'balance', -amount)
redis.call('HINCRBY', KEYS[3], 'balance', amount)
redis.call('HSET', KEYS[1], 'status', 'paid', 'payment_time', ARGV[3], 'updated_at', ARGV[3])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('ZADD', KEYS[5], tonumber(ARGV[3]), ARGV[1])
return 1
`)

var guardedHSetScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then
	return 0
end
local args = {}
for i = 2, #ARGV do
	args[i - 1] = ARGV[i]
end
redis.call('HSET', KEYS[1], unpack(args))
return 1
`)

var softDeleteScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'active' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'deleted', 'updated_at', ARGV[1])
redis.call('HDEL', KEYS[1], 'token', 'terminal')
return 1
`)

// RedisAdapter implements the account, catalog and order repositories on a
// document-style store. Entities live in hashes; every multi-field guard
// runs inside a Lua script so it is atomic, and two sorted sets index
// pending orders by expiry and a user's orders by last activity.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func userKey(userID string) string   { return userKeyPrefix + userID }
func storeKey(storeID string) string { return storeKeyPrefix + storeID }
func orderKey(orderID string) string { return orderKeyPrefix + orderID }
func userOrdersKey(userID string) string {
	return userOrdersKeyPrefix + userID
}
func invKey(storeID, bookID string) string {
	return invKeyPrefix + storeID + ":" + bookID
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(value string) *time.Time {
	if value == "" {
		return nil
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// ---- AccountRepository ----

func (r *RedisAdapter) CreateUser(ctx context.Context, user domain.User) error {
	now := millis(time.Now().UTC())
	created, err := createScript.Run(ctx, r.client, []string{userKey(user.UserID)},
		"user_id", user.UserID,
		"password", user.Password,
		"balance", strconv.FormatInt(user.Balance, 10),
		"token", user.Token,
		"terminal", user.Terminal,
		"status", string(domain.UserStatusActive),
		"created_at", now,
		"updated_at", now,
	).Int()
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if created == 0 {
		return port.ErrDuplicateKey
	}
	return nil
}

func (r *RedisAdapter) GetUser(ctx context.Context, userID string, includeInactive bool) (*domain.User, error) {
	fields, err := r.client.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	balance, _ := strconv.ParseInt(fields["balance"], 10, 64)
	user := &domain.User{
		UserID:   userID,
		Password: fields["password"],
		Balance:  balance,
		Token:    fields["token"],
		Terminal: fields["terminal"],
		Status:   domain.UserStatus(fields["status"]),
	}
	if t := parseMillis(fields["created_at"]); t != nil {
		user.CreatedAt = *t
	}
	if t := parseMillis(fields["updated_at"]); t != nil {
		user.UpdatedAt = *t
	}
	if !includeInactive && user.Status != domain.UserStatusActive {
		return nil, nil
	}
	return user, nil
}

func (r *RedisAdapter) ReviveUser(ctx context.Context, userID, password, token, terminal string) (bool, error) {
	now := millis(time.Now().UTC())
	updated, err := guardedHSetScript.Run(ctx, r.client, []string{userKey(userID)},
		string(domain.UserStatusDeleted),
		"password", password,
		"balance", "0",
		"token", token,
		"terminal", terminal,
		"status", string(domain.UserStatusActive),
		"updated_at", now,
	).Int()
	if err != nil {
		return false, fmt.Errorf("revive user: %w", err)
	}
	return updated == 1, nil
}

func (r *RedisAdapter) SoftDeleteUser(ctx context.Context, userID string) (bool, error) {
	deleted, err := softDeleteScript.Run(ctx, r.client, []string{userKey(userID)},
		millis(time.Now().UTC())).Int()
	if err != nil {
		return false, fmt.Errorf("soft delete user: %w", err)
	}
	return deleted == 1, nil
}

func (r *RedisAdapter) UpdateToken(ctx context.Context, userID, token, terminal string) (bool, error) {
	updated, err := guardedHSetScript.Run(ctx, r.client, []string{userKey(userID)},
		string(domain.UserStatusActive),
		"token", token,
		"terminal", terminal,
		"updated_at", millis(time.Now().UTC()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("update token: %w", err)
	}
	return updated == 1, nil
}

func (r *RedisAdapter) UpdatePassword(ctx context.Context, userID, password, token, terminal string) (bool, error) {
	updated, err := guardedHSetScript.Run(ctx, r.client, []string{userKey(userID)},
		string(domain.UserStatusActive),
		"password", password,
		"token", token,
		"terminal", terminal,
		"updated_at", millis(time.Now().UTC()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("update password: %w", err)
	}
	return updated == 1, nil
}

func (r *RedisAdapter) ChangeBalance(ctx context.Context, userID string, delta int64) (bool, error) {
	applied, err := changeBalanceScript.Run(ctx, r.client, []string{userKey(userID)},
		strconv.FormatInt(delta, 10), millis(time.Now().UTC())).Int()
	if err != nil {
		return false, fmt.Errorf("change balance: %w", err)
	}
	return applied == 1, nil
}

// ---- CatalogRepository ----

func (r *RedisAdapter) CreateStore(ctx context.Context, store domain.Store) error {
	created, err := createScript.Run(ctx, r.client, []string{storeKey(store.StoreID)},
		"store_id", store.StoreID,
		"owner_id", store.OwnerID,
		"name", store.Name,
		"created_at", millis(time.Now().UTC()),
	).Int()
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	if created == 0 {
		return port.ErrDuplicateKey
	}
	return nil
}

func (r *RedisAdapter) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	fields, err := r.client.HGetAll(ctx, storeKey(storeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get store: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	store := &domain.Store{
		StoreID: storeID,
		OwnerID: fields["owner_id"],
		Name:    fields["name"],
	}
	if t := parseMillis(fields["created_at"]); t != nil {
		store.CreatedAt = *t
	}
	return store, nil
}

func (r *RedisAdapter) AddInventory(ctx context.Context, inv domain.Inventory) error {
	args := []any{
		"store_id", inv.StoreID,
		"book_id", inv.BookID,
		"book_info", inv.BookInfo,
		"stock_level", strconv.Itoa(inv.StockLevel),
		"search_text", inv.SearchText,
		"updated_at", millis(time.Now().UTC()),
	}
	// The price field stays absent for legacy rows without a structured price.
	if inv.Price != nil {
		args = append(args, "price", strconv.FormatInt(*inv.Price, 10))
	}
	created, err := createScript.Run(ctx, r.client,
		[]string{invKey(inv.StoreID, inv.BookID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("add inventory: %w", err)
	}
	if created == 0 {
		return port.ErrDuplicateKey
	}
	return nil
}

func (r *RedisAdapter) GetInventory(ctx context.Context, storeID, bookID string) (*domain.Inventory, error) {
	fields, err := r.client.HGetAll(ctx, invKey(storeID, bookID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get inventory: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	stock, _ := strconv.Atoi(fields["stock_level"])
	inv := &domain.Inventory{
		StoreID:    storeID,
		BookID:     bookID,
		BookInfo:   fields["book_info"],
		StockLevel: stock,
		SearchText: fields["search_text"],
	}
	if raw, ok := fields["price"]; ok {
		if price, err := strconv.ParseInt(raw, 10, 64); err == nil {
			inv.Price = &price
		}
	}
	if t := parseMillis(fields["updated_at"]); t != nil {
		inv.UpdatedAt = *t
	}
	return inv, nil
}

func (r *RedisAdapter) AdjustStock(ctx context.Context, storeID string, lines []domain.OrderLine, decrease bool) (bool, error) {
	if len(lines) == 0 {
		return true, nil
	}
	keys := make([]string, 0, len(lines))
	args := make([]any, 0, len(lines)+2)
	for _, line := range lines {
		keys = append(keys, invKey(storeID, line.BookID))
		args = append(args, strconv.Itoa(line.Count))
	}
	flag := "0"
	if decrease {
		flag = "1"
	}
	args = append(args, flag, millis(time.Now().UTC()))

	applied, err := adjustStockScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("adjust stock: %w", err)
	}
	return applied == 1, nil
}

// ---- OrderRepository ----

func (r *RedisAdapter) CreateOrder(ctx context.Context, order domain.Order, items []domain.OrderItem) error {
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	args := []any{
		"order_id", order.OrderID,
		"user_id", order.UserID,
		"store_id", order.StoreID,
		"status", string(order.Status),
		"total_price", strconv.FormatInt(order.TotalPrice, 10),
		"created_at", millis(order.CreatedAt),
		"updated_at", millis(order.UpdatedAt),
		"items", string(encoded),
	}
	if order.ExpiresAt != nil {
		args = append(args, "expires_at", millis(*order.ExpiresAt))
	}
	created, err := createScript.Run(ctx, r.client, []string{orderKey(order.OrderID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	if created == 0 {
		return port.ErrDuplicateKey
	}

	pipe := r.client.TxPipeline()
	if order.ExpiresAt != nil {
		pipe.ZAdd(ctx, pendingOrdersKey, redis.Z{
			Score:  float64(order.ExpiresAt.UnixMilli()),
			Member: order.OrderID,
		})
	}
	pipe.ZAdd(ctx, userOrdersKey(order.UserID), redis.Z{
		Score:  float64(order.UpdatedAt.UnixMilli()),
		Member: order.OrderID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index order: %w", err)
	}
	return nil
}

func (r *RedisAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	fields, err := r.client.HGetAll(ctx, orderKey(orderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return orderFromHash(orderID, fields), nil
}

func (r *RedisAdapter) GetOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	raw, err := r.client.HGet(ctx, orderKey(orderID), "items").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	var items []domain.OrderItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	return items, nil
}

func (r *RedisAdapter) UpdateOrderStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, at time.Time) (bool, error) {
	ownerID, err := r.client.HGet(ctx, orderKey(orderID), "user_id").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load order owner: %w", err)
	}
	result, err := casStatusScript.Run(ctx, r.client,
		[]string{orderKey(orderID), pendingOrdersKey, userOrdersKey(ownerID)},
		orderID, string(expected), string(next), statusStampField(next), millis(at),
	).Int()
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return result == 1, nil
}

func (r *RedisAdapter) SettlePayment(ctx context.Context, orderID, buyerID, sellerID string, amount int64, at time.Time) error {
	result, err := settlePaymentScript.Run(ctx, r.client,
		[]string{orderKey(orderID), userKey(buyerID), userKey(sellerID),
			pendingOrdersKey, userOrdersKey(buyerID)},
		orderID, strconv.FormatInt(amount, 10), millis(at),
	).Int()
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}
	switch result {
	case 1:
		return nil
	case 0:
		return port.ErrInsufficientFunds
	case -1:
		return port.ErrStatusConflict
	default:
		return port.ErrNotFound
	}
}

// FindExpiredPending reads the expiry index. Every order written by this
// adapter carries a deadline, so the legacy created-at cutoff has nothing
// to match here.
func (r *RedisAdapter) FindExpiredPending(ctx context.Context, now, _ time.Time) ([]domain.Order, error) {
	ids, err := r.client.ZRangeByScore(ctx, pendingOrdersKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan pending index: %w", err)
	}
	var orders []domain.Order
	for _, id := range ids {
		order, err := r.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if order == nil || order.Status != domain.OrderStatusPending {
			continue
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func (r *RedisAdapter) ListOrders(ctx context.Context, userID string, status domain.OrderStatus, page, pageSize int) (int, []domain.Order, error) {
	ids, err := r.client.ZRevRange(ctx, userOrdersKey(userID), 0, -1).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("scan user orders: %w", err)
	}
	var matched []domain.Order
	for _, id := range ids {
		order, err := r.GetOrder(ctx, id)
		if err != nil {
			return 0, nil, err
		}
		if order == nil {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		matched = append(matched, *order)
	}

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

func statusStampField(next domain.OrderStatus) string {
	switch next {
	case domain.OrderStatusPaid:
		return "payment_time"
	case domain.OrderStatusShipped:
		return "shipment_time"
	case domain.OrderStatusDelivered:
		return "delivery_time"
	case domain.OrderStatusCancelled, domain.OrderStatusCancelledTimeout:
		return "cancelled_at"
	}
	return ""
}

func orderFromHash(orderID string, fields map[string]string) *domain.Order {
	totalPrice, _ := strconv.ParseInt(fields["total_price"], 10, 64)
	order := &domain.Order{
		OrderID:    orderID,
		UserID:     fields["user_id"],
		StoreID:    fields["store_id"],
		Status:     domain.OrderStatus(fields["status"]),
		TotalPrice: totalPrice,
	}
	if t := parseMillis(fields["created_at"]); t != nil {
		order.CreatedAt = *t
	}
	if t := parseMillis(fields["updated_at"]); t != nil {
		order.UpdatedAt = *t
	}
	order.PaymentTime = parseMillis(fields["payment_time"])
	order.ShipmentTime = parseMillis(fields["shipment_time"])
	order.DeliveryTime = parseMillis(fields["delivery_time"])
	order.CancelledAt = parseMillis(fields["cancelled_at"])
	order.ExpiresAt = parseMillis(fields["expires_at"])
	return order
}
