package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/flippedyesyes/bookstore/internal/core/domain"
	"github.com/flippedyesyes/bookstore/internal/port"
)

const mysqlDuplicateEntry = 1062

// MySQLAdapter implements the account, catalog and order repositories on a
// relational store. Every mutating call is one transaction; guards are
// conditional UPDATEs whose rows-affected count decides the outcome, so no
// read-then-write crosses two round trips.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id    VARCHAR(128) PRIMARY KEY,
		password   VARCHAR(128) NOT NULL,
		balance    BIGINT       NOT NULL DEFAULT 0,
		token      VARCHAR(512) NULL,
		terminal   VARCHAR(128) NULL,
		status     VARCHAR(32)  NOT NULL DEFAULT 'active',
		created_at DATETIME(6)  NOT NULL,
		updated_at DATETIME(6)  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bookstores (
		store_id   VARCHAR(128) PRIMARY KEY,
		owner_id   VARCHAR(128) NOT NULL,
		name       VARCHAR(128) NOT NULL,
		created_at DATETIME(6)  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inventories (
		store_id    VARCHAR(128) NOT NULL,
		book_id     VARCHAR(64)  NOT NULL,
		book_info   TEXT         NULL,
		stock_level INT          NOT NULL DEFAULT 0,
		price       BIGINT       NULL,
		search_text TEXT         NULL,
		updated_at  DATETIME(6)  NOT NULL,
		PRIMARY KEY (store_id, book_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		order_id      VARCHAR(256) PRIMARY KEY,
		user_id       VARCHAR(128) NOT NULL,
		store_id      VARCHAR(128) NOT NULL,
		status        VARCHAR(32)  NOT NULL,
		total_price   BIGINT       NOT NULL,
		created_at    DATETIME(6)  NOT NULL,
		updated_at    DATETIME(6)  NOT NULL,
		payment_time  DATETIME(6)  NULL,
		shipment_time DATETIME(6)  NULL,
		delivery_time DATETIME(6)  NULL,
		cancelled_at  DATETIME(6)  NULL,
		expires_at    DATETIME(6)  NULL,
		INDEX idx_order_user_status (user_id, status),
		INDEX idx_order_status_updated (status, updated_at)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id         BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id   VARCHAR(256) NOT NULL,
		book_id    VARCHAR(64)  NOT NULL,
		count      INT          NOT NULL,
		unit_price BIGINT       NOT NULL,
		UNIQUE KEY uq_order_item (order_id, book_id),
		INDEX idx_order_items_order (order_id)
	)`,
}

// InitSchema creates the tables if they are missing.
func (m *MySQLAdapter) InitSchema(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// ---- AccountRepository ----

func (m *MySQLAdapter) CreateUser(ctx context.Context, user domain.User) error {
	now := time.Now().UTC()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO users (user_id, password, balance, token, terminal, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.UserID, user.Password, user.Balance, user.Token, user.Terminal,
		string(domain.UserStatusActive), now, now,
	)
	if isDuplicate(err) {
		return port.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetUser(ctx context.Context, userID string, includeInactive bool) (*domain.User, error) {
	var (
		user     domain.User
		token    sql.NullString
		terminal sql.NullString
		status   string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT user_id, password, balance, token, terminal, status, created_at, updated_at
		FROM users WHERE user_id = ?`, userID,
	).Scan(&user.UserID, &user.Password, &user.Balance, &token, &terminal,
		&status, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.Token = token.String
	user.Terminal = terminal.String
	user.Status = domain.UserStatus(status)
	if !includeInactive && user.Status != domain.UserStatusActive {
		return nil, nil
	}
	return &user, nil
}

func (m *MySQLAdapter) ReviveUser(ctx context.Context, userID, password, token, terminal string) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE users
		SET password = ?, balance = 0, token = ?, terminal = ?, status = ?, updated_at = ?
		WHERE user_id = ? AND status = ?`,
		password, token, terminal, string(domain.UserStatusActive), time.Now().UTC(),
		userID, string(domain.UserStatusDeleted),
	)
	if err != nil {
		return false, fmt.Errorf("revive user: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) SoftDeleteUser(ctx context.Context, userID string) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE users
		SET status = ?, token = NULL, terminal = NULL, updated_at = ?
		WHERE user_id = ? AND status = ?`,
		string(domain.UserStatusDeleted), time.Now().UTC(),
		userID, string(domain.UserStatusActive),
	)
	if err != nil {
		return false, fmt.Errorf("soft delete user: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) UpdateToken(ctx context.Context, userID, token, terminal string) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE users SET token = ?, terminal = ?, updated_at = ?
		WHERE user_id = ? AND status = ?`,
		token, terminal, time.Now().UTC(), userID, string(domain.UserStatusActive),
	)
	if err != nil {
		return false, fmt.Errorf("update token: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) UpdatePassword(ctx context.Context, userID, password, token, terminal string) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE users SET password = ?, token = ?, terminal = ?, updated_at = ?
		WHERE user_id = ? AND status = ?`,
		password, token, terminal, time.Now().UTC(), userID, string(domain.UserStatusActive),
	)
	if err != nil {
		return false, fmt.Errorf("update password: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) ChangeBalance(ctx context.Context, userID string, delta int64) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE users SET balance = balance + ?, updated_at = ?
		WHERE user_id = ? AND status = ? AND balance + ? >= 0`,
		delta, time.Now().UTC(), userID, string(domain.UserStatusActive), delta,
	)
	if err != nil {
		return false, fmt.Errorf("change balance: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ---- CatalogRepository ----

func (m *MySQLAdapter) CreateStore(ctx context.Context, store domain.Store) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO bookstores (store_id, owner_id, name, created_at)
		VALUES (?, ?, ?, ?)`,
		store.StoreID, store.OwnerID, store.Name, time.Now().UTC(),
	)
	if isDuplicate(err) {
		return port.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert store: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	var store domain.Store
	err := m.db.QueryRowContext(ctx, `
		SELECT store_id, owner_id, name, created_at
		FROM bookstores WHERE store_id = ?`, storeID,
	).Scan(&store.StoreID, &store.OwnerID, &store.Name, &store.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}
	return &store, nil
}

func (m *MySQLAdapter) AddInventory(ctx context.Context, inv domain.Inventory) error {
	var price sql.NullInt64
	if inv.Price != nil {
		price = sql.NullInt64{Int64: *inv.Price, Valid: true}
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventories (store_id, book_id, book_info, stock_level, price, search_text, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.StoreID, inv.BookID, inv.BookInfo, inv.StockLevel, price, inv.SearchText, time.Now().UTC(),
	)
	if isDuplicate(err) {
		return port.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetInventory(ctx context.Context, storeID, bookID string) (*domain.Inventory, error) {
	var (
		inv        domain.Inventory
		bookInfo   sql.NullString
		price      sql.NullInt64
		searchText sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT store_id, book_id, book_info, stock_level, price, search_text, updated_at
		FROM inventories WHERE store_id = ? AND book_id = ?`, storeID, bookID,
	).Scan(&inv.StoreID, &inv.BookID, &bookInfo, &inv.StockLevel, &price, &searchText, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	inv.BookInfo = bookInfo.String
	inv.SearchText = searchText.String
	if price.Valid {
		inv.Price = &price.Int64
	}
	return &inv, nil
}

func (m *MySQLAdapter) AdjustStock(ctx context.Context, storeID string, lines []domain.OrderLine, decrease bool) (bool, error) {
	if len(lines) == 0 {
		return true, nil
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, line := range lines {
		var result sql.Result
		if decrease {
			result, err = tx.ExecContext(ctx, `
				UPDATE inventories
				SET stock_level = stock_level - ?, updated_at = ?
				WHERE store_id = ? AND book_id = ? AND stock_level >= ?`,
				line.Count, now, storeID, line.BookID, line.Count,
			)
		} else {
			result, err = tx.ExecContext(ctx, `
				UPDATE inventories
				SET stock_level = stock_level + ?, updated_at = ?
				WHERE store_id = ? AND book_id = ?`,
				line.Count, now, storeID, line.BookID,
			)
		}
		if err != nil {
			return false, fmt.Errorf("adjust stock %s: %w", line.BookID, err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			// One short line aborts the whole transaction: committing nothing
			// is what keeps stock equivalent to "no call happened".
			return false, nil
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit stock adjust: %w", err)
	}
	return true, nil
}

// ---- OrderRepository ----

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order, items []domain.OrderItem) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (order_id, user_id, store_id, status, total_price, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		order.OrderID, order.UserID, order.StoreID, string(order.Status),
		order.TotalPrice, order.CreatedAt, order.UpdatedAt, nullTime(order.ExpiresAt),
	)
	if isDuplicate(err) {
		return port.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	for _, item := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, book_id, count, unit_price)
			VALUES (?, ?, ?, ?)`,
			item.OrderID, item.BookID, item.Count, item.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order item %s: %w", item.BookID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

const orderColumns = `order_id, user_id, store_id, status, total_price, created_at, updated_at,
	payment_time, shipment_time, delivery_time, cancelled_at, expires_at`

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

func (m *MySQLAdapter) GetOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT order_id, book_id, count, unit_price
		FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.OrderID, &item.BookID, &item.Count, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// statusStampColumn maps a target status to the timestamp column recording
// when the order entered it.
func statusStampColumn(next domain.OrderStatus) string {
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

func (m *MySQLAdapter) UpdateOrderStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, at time.Time) (bool, error) {
	query := `UPDATE orders SET status = ?, updated_at = ?`
	args := []any{string(next), at}
	if column := statusStampColumn(next); column != "" {
		query += `, ` + column + ` = ?`
		args = append(args, at)
	}
	query += ` WHERE order_id = ? AND status = ?`
	args = append(args, orderID, string(expected))

	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) SettlePayment(ctx context.Context, orderID, buyerID, sellerID string, amount int64, at time.Time) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance - ?, updated_at = ?
		WHERE user_id = ? AND status = ? AND balance >= ?`,
		amount, at, buyerID, string(domain.UserStatusActive), amount,
	)
	if err != nil {
		return fmt.Errorf("debit buyer: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return port.ErrInsufficientFunds
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE users SET balance = balance + ?, updated_at = ?
		WHERE user_id = ? AND status = ?`,
		amount, at, sellerID, string(domain.UserStatusActive),
	)
	if err != nil {
		return fmt.Errorf("credit seller: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return port.ErrNotFound
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, payment_time = ?, updated_at = ?
		WHERE order_id = ? AND status = ?`,
		string(domain.OrderStatusPaid), at, at, orderID, string(domain.OrderStatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return port.ErrStatusConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payment: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) FindExpiredPending(ctx context.Context, now, cutoff time.Time) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = ?
		  AND ((expires_at IS NOT NULL AND expires_at <= ?)
		    OR (expires_at IS NULL AND created_at < ?))`,
		string(domain.OrderStatusPending), now, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, userID string, status domain.OrderStatus, page, pageSize int) (int, []domain.Order, error) {
	where := `WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, string(status))
	}

	var total int
	if err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count orders: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders `+where+
			` ORDER BY updated_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return 0, nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return total, orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order  domain.Order
		status string
		stamps [5]sql.NullTime
	)
	err := row.Scan(&order.OrderID, &order.UserID, &order.StoreID, &status,
		&order.TotalPrice, &order.CreatedAt, &order.UpdatedAt,
		&stamps[0], &stamps[1], &stamps[2], &stamps[3], &stamps[4])
	if err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentTime = timePtr(stamps[0])
	order.ShipmentTime = timePtr(stamps[1])
	order.DeliveryTime = timePtr(stamps[2])
	order.CancelledAt = timePtr(stamps[3])
	order.ExpiresAt = timePtr(stamps[4])
	return &order, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}
