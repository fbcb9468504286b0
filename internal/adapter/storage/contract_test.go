package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flippedyesyes/bookstore/internal/core/domain"
	"github.com/flippedyesyes/bookstore/internal/port"
)

// repositories is what both adapters implement; the contract suite below is
// run against each backend so they stay behaviourally interchangeable.
type repositories interface {
	port.AccountRepository
	port.CatalogRepository
	port.OrderRepository
}

func testID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func int64Ptr(v int64) *int64 { return &v }

func runRepositoryContract(t *testing.T, repo repositories) {
	ctx := context.Background()

	t.Run("accounts", func(t *testing.T) {
		userID := testID("user")

		require.NoError(t, repo.CreateUser(ctx, domain.User{UserID: userID, Password: "pw"}))
		require.ErrorIs(t, repo.CreateUser(ctx, domain.User{UserID: userID, Password: "pw"}), port.ErrDuplicateKey)

		user, err := repo.GetUser(ctx, userID, false)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "pw", user.Password)
		assert.Equal(t, int64(0), user.Balance)
		assert.Equal(t, domain.UserStatusActive, user.Status)

		missing, err := repo.GetUser(ctx, testID("nobody"), false)
		require.NoError(t, err)
		assert.Nil(t, missing)

		ok, err := repo.ChangeBalance(ctx, userID, 100)
		require.NoError(t, err)
		require.True(t, ok)

		// Balance never goes negative.
		ok, err = repo.ChangeBalance(ctx, userID, -150)
		require.NoError(t, err)
		assert.False(t, ok)

		user, err = repo.GetUser(ctx, userID, false)
		require.NoError(t, err)
		assert.Equal(t, int64(100), user.Balance)

		ok, err = repo.UpdateToken(ctx, userID, "token-1", "terminal-1")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = repo.UpdatePassword(ctx, userID, "pw2", "token-2", "terminal-2")
		require.NoError(t, err)
		require.True(t, ok)

		user, err = repo.GetUser(ctx, userID, false)
		require.NoError(t, err)
		assert.Equal(t, "pw2", user.Password)
		assert.Equal(t, "token-2", user.Token)

		ok, err = repo.SoftDeleteUser(ctx, userID)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = repo.SoftDeleteUser(ctx, userID)
		require.NoError(t, err)
		assert.False(t, ok)

		// Gone for normal reads, still visible to lifecycle reads.
		user, err = repo.GetUser(ctx, userID, false)
		require.NoError(t, err)
		assert.Nil(t, user)
		user, err = repo.GetUser(ctx, userID, true)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, domain.UserStatusDeleted, user.Status)

		// Deleted users take no balance changes or logins.
		ok, err = repo.ChangeBalance(ctx, userID, 10)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = repo.UpdateToken(ctx, userID, "t", "term")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.ReviveUser(ctx, userID, "pw3", "token-3", "terminal-3")
		require.NoError(t, err)
		require.True(t, ok)

		user, err = repo.GetUser(ctx, userID, false)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "pw3", user.Password)
		assert.Equal(t, int64(0), user.Balance)

		// Revive only works on deleted accounts.
		ok, err = repo.ReviveUser(ctx, userID, "pw4", "t", "term")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("catalog", func(t *testing.T) {
		ownerID := testID("owner")
		storeID := testID("store")
		bookID := testID("book")

		require.NoError(t, repo.CreateUser(ctx, domain.User{UserID: ownerID, Password: "pw"}))
		require.NoError(t, repo.CreateStore(ctx, domain.Store{StoreID: storeID, OwnerID: ownerID, Name: storeID}))
		require.ErrorIs(t, repo.CreateStore(ctx, domain.Store{StoreID: storeID, OwnerID: ownerID, Name: storeID}), port.ErrDuplicateKey)

		store, err := repo.GetStore(ctx, storeID)
		require.NoError(t, err)
		require.NotNil(t, store)
		assert.Equal(t, ownerID, store.OwnerID)

		inv := domain.Inventory{
			StoreID: storeID, BookID: bookID,
			BookInfo: `{"id":"` + bookID + `","title":"T","price":100}`,
			StockLevel: 10, Price: int64Ptr(100), SearchText: "T",
		}
		require.NoError(t, repo.AddInventory(ctx, inv))
		require.ErrorIs(t, repo.AddInventory(ctx, inv), port.ErrDuplicateKey)

		got, err := repo.GetInventory(ctx, storeID, bookID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 10, got.StockLevel)
		require.NotNil(t, got.Price)
		assert.Equal(t, int64(100), *got.Price)

		ok, err := repo.AdjustStock(ctx, storeID, []domain.OrderLine{{BookID: bookID, Count: 4}}, true)
		require.NoError(t, err)
		require.True(t, ok)

		// A short line must leave every counter untouched.
		otherBook := testID("book")
		require.NoError(t, repo.AddInventory(ctx, domain.Inventory{
			StoreID: storeID, BookID: otherBook, BookInfo: "{}", StockLevel: 1,
		}))
		ok, err = repo.AdjustStock(ctx, storeID, []domain.OrderLine{
			{BookID: bookID, Count: 2},
			{BookID: otherBook, Count: 5},
		}, true)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err = repo.GetInventory(ctx, storeID, bookID)
		require.NoError(t, err)
		assert.Equal(t, 6, got.StockLevel)
		got, err = repo.GetInventory(ctx, storeID, otherBook)
		require.NoError(t, err)
		assert.Equal(t, 1, got.StockLevel)

		// Unknown book fails the whole adjustment.
		ok, err = repo.AdjustStock(ctx, storeID, []domain.OrderLine{{BookID: testID("book"), Count: 1}}, true)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.AdjustStock(ctx, storeID, []domain.OrderLine{{BookID: bookID, Count: 4}}, false)
		require.NoError(t, err)
		require.True(t, ok)
		got, err = repo.GetInventory(ctx, storeID, bookID)
		require.NoError(t, err)
		assert.Equal(t, 10, got.StockLevel)
	})

	t.Run("orders", func(t *testing.T) {
		buyerID := testID("buyer")
		sellerID := testID("seller")
		storeID := testID("store")

		require.NoError(t, repo.CreateUser(ctx, domain.User{UserID: buyerID, Password: "pw"}))
		require.NoError(t, repo.CreateUser(ctx, domain.User{UserID: sellerID, Password: "pw"}))
		require.NoError(t, repo.CreateStore(ctx, domain.Store{StoreID: storeID, OwnerID: sellerID, Name: storeID}))

		now := time.Now().UTC().Truncate(time.Millisecond)
		expires := now.Add(time.Hour)
		orderID := testID("order")
		order := domain.Order{
			OrderID: orderID, UserID: buyerID, StoreID: storeID,
			Status: domain.OrderStatusPending, TotalPrice: 300,
			CreatedAt: now, UpdatedAt: now, ExpiresAt: &expires,
		}
		items := []domain.OrderItem{
			{OrderID: orderID, BookID: "b1", Count: 2, UnitPrice: 100},
			{OrderID: orderID, BookID: "b2", Count: 1, UnitPrice: 100},
		}
		require.NoError(t, repo.CreateOrder(ctx, order, items))
		require.ErrorIs(t, repo.CreateOrder(ctx, order, items), port.ErrDuplicateKey)

		got, err := repo.GetOrder(ctx, orderID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.OrderStatusPending, got.Status)
		assert.Equal(t, int64(300), got.TotalPrice)
		require.NotNil(t, got.ExpiresAt)

		gotItems, err := repo.GetOrderItems(ctx, orderID)
		require.NoError(t, err)
		require.Len(t, gotItems, 2)

		// Settlement needs funds.
		err = repo.SettlePayment(ctx, orderID, buyerID, sellerID, 300, time.Now().UTC())
		require.ErrorIs(t, err, port.ErrInsufficientFunds)

		ok, err := repo.ChangeBalance(ctx, buyerID, 1000)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, repo.SettlePayment(ctx, orderID, buyerID, sellerID, 300, time.Now().UTC()))

		buyer, err := repo.GetUser(ctx, buyerID, false)
		require.NoError(t, err)
		assert.Equal(t, int64(700), buyer.Balance)
		seller, err := repo.GetUser(ctx, sellerID, false)
		require.NoError(t, err)
		assert.Equal(t, int64(300), seller.Balance)

		got, err = repo.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPaid, got.Status)
		assert.NotNil(t, got.PaymentTime)

		// Settling again conflicts and moves nothing.
		err = repo.SettlePayment(ctx, orderID, buyerID, sellerID, 300, time.Now().UTC())
		require.ErrorIs(t, err, port.ErrStatusConflict)
		buyer, err = repo.GetUser(ctx, buyerID, false)
		require.NoError(t, err)
		assert.Equal(t, int64(700), buyer.Balance)

		// Guarded transitions: only the expected status flips.
		ok, err = repo.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusCancelled, time.Now().UTC())
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = repo.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPaid, domain.OrderStatusShipped, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = repo.UpdateOrderStatus(ctx, orderID, domain.OrderStatusShipped, domain.OrderStatusDelivered, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, ok)

		got, err = repo.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusDelivered, got.Status)
		assert.NotNil(t, got.ShipmentTime)
		assert.NotNil(t, got.DeliveryTime)
	})

	t.Run("expiry", func(t *testing.T) {
		buyerID := testID("buyer")
		storeID := testID("store")
		require.NoError(t, repo.CreateUser(ctx, domain.User{UserID: buyerID, Password: "pw"}))

		now := time.Now().UTC().Truncate(time.Millisecond)
		stale := now.Add(-time.Minute)
		fresh := now.Add(time.Hour)

		expiredID := testID("order")
		require.NoError(t, repo.CreateOrder(ctx, domain.Order{
			OrderID: expiredID, UserID: buyerID, StoreID: storeID,
			Status: domain.OrderStatusPending, TotalPrice: 100,
			CreatedAt: stale, UpdatedAt: stale, ExpiresAt: &stale,
		}, nil))
		freshID := testID("order")
		require.NoError(t, repo.CreateOrder(ctx, domain.Order{
			OrderID: freshID, UserID: buyerID, StoreID: storeID,
			Status: domain.OrderStatusPending, TotalPrice: 100,
			CreatedAt: now, UpdatedAt: now, ExpiresAt: &fresh,
		}, nil))

		expired, err := repo.FindExpiredPending(ctx, time.Now().UTC(), now.Add(-30*time.Minute))
		require.NoError(t, err)

		found := map[string]bool{}
		for _, order := range expired {
			found[order.OrderID] = true
		}
		assert.True(t, found[expiredID])
		assert.False(t, found[freshID])

		// Once flipped it stops showing up.
		ok, err := repo.UpdateOrderStatus(ctx, expiredID, domain.OrderStatusPending, domain.OrderStatusCancelledTimeout, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, ok)

		expired, err = repo.FindExpiredPending(ctx, time.Now().UTC(), now.Add(-30*time.Minute))
		require.NoError(t, err)
		for _, order := range expired {
			assert.NotEqual(t, expiredID, order.OrderID)
		}
	})

	t.Run("listing", func(t *testing.T) {
		buyerID := testID("buyer")
		storeID := testID("store")
		require.NoError(t, repo.CreateUser(ctx, domain.User{UserID: buyerID, Password: "pw"}))

		base := time.Now().UTC().Truncate(time.Millisecond)
		var orderIDs []string
		for i := 0; i < 3; i++ {
			orderID := testID("order")
			orderIDs = append(orderIDs, orderID)
			stamp := base.Add(time.Duration(i) * time.Second)
			expires := stamp.Add(time.Hour)
			status := domain.OrderStatusPending
			if i == 0 {
				status = domain.OrderStatusDelivered
			}
			require.NoError(t, repo.CreateOrder(ctx, domain.Order{
				OrderID: orderID, UserID: buyerID, StoreID: storeID,
				Status: status, TotalPrice: 100,
				CreatedAt: stamp, UpdatedAt: stamp, ExpiresAt: &expires,
			}, []domain.OrderItem{{OrderID: orderID, BookID: "b1", Count: 1, UnitPrice: 100}}))
		}

		total, orders, err := repo.ListOrders(ctx, buyerID, "", 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, orders, 2)
		assert.Equal(t, orderIDs[2], orders[0].OrderID)
		assert.Equal(t, orderIDs[1], orders[1].OrderID)

		total, orders, err = repo.ListOrders(ctx, buyerID, "", 2, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, orders, 1)
		assert.Equal(t, orderIDs[0], orders[0].OrderID)

		total, orders, err = repo.ListOrders(ctx, buyerID, domain.OrderStatusDelivered, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, orders, 1)
		assert.Equal(t, orderIDs[0], orders[0].OrderID)

		total, orders, err = repo.ListOrders(ctx, testID("nobody"), "", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, total)
		assert.Empty(t, orders)
	})
}
