package port

import (
	"context"

	"github.com/flippedyesyes/bookstore/internal/core/domain"
)

type CatalogRepository interface {
	// CreateStore inserts a new store. Returns ErrDuplicateKey if the id is taken.
	CreateStore(ctx context.Context, store domain.Store) error

	// GetStore returns nil without error when the store does not exist.
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)

	// AddInventory lists a book in a store. Returns ErrDuplicateKey if the
	// (store, book) pair is already listed.
	AddInventory(ctx context.Context, inv domain.Inventory) error

	// GetInventory returns nil without error when the pair is not listed.
	GetInventory(ctx context.Context, storeID, bookID string) (*domain.Inventory, error)

	// AdjustStock decrements (decrease=true) or increments stock for every
	// line. A decrease commits only if every line has sufficient stock;
	// otherwise it returns false and leaves stock exactly as if the call never
	// happened. An increase only fails when a line is not listed.
	AdjustStock(ctx context.Context, storeID string, lines []domain.OrderLine, decrease bool) (bool, error)
}
