package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/flippedyesyes/bookstore/internal/core/domain"
	"github.com/flippedyesyes/bookstore/internal/port"
)

// CatalogService covers the seller side of the catalog: stores, book
// listings and restocking. Order-related seller actions (shipping) live on
// the OrderService because they are part of the status machine.
type CatalogService struct {
	accounts port.AccountRepository
	catalog  port.CatalogRepository
	logger   *zap.Logger
}

func NewCatalogService(accounts port.AccountRepository, catalog port.CatalogRepository, logger *zap.Logger) *CatalogService {
	return &CatalogService{accounts: accounts, catalog: catalog, logger: logger}
}

func (s *CatalogService) CreateStore(ctx context.Context, userID, storeID string) error {
	user, err := s.accounts.GetUser(ctx, userID, false)
	if err != nil {
		return s.internal("create store: load user", err)
	}
	if user == nil {
		return domain.ErrNonExistUser(userID)
	}
	store := domain.Store{StoreID: storeID, OwnerID: userID, Name: storeID}
	err = s.catalog.CreateStore(ctx, store)
	if errors.Is(err, port.ErrDuplicateKey) {
		return domain.ErrExistStore(storeID)
	}
	if err != nil {
		return s.internal("create store: insert", err)
	}
	return nil
}

// AddBook lists a book in a store with an initial stock level. The book
// metadata arrives as a serialized JSON blob; the structured price and a
// flat search-text string are extracted from it at listing time.
func (s *CatalogService) AddBook(ctx context.Context, userID, storeID, bookID, bookInfo string, stockLevel int) error {
	user, err := s.accounts.GetUser(ctx, userID, false)
	if err != nil {
		return s.internal("add book: load user", err)
	}
	if user == nil {
		return domain.ErrNonExistUser(userID)
	}
	store, err := s.catalog.GetStore(ctx, storeID)
	if err != nil {
		return s.internal("add book: load store", err)
	}
	if store == nil {
		return domain.ErrNonExistStore(storeID)
	}
	existing, err := s.catalog.GetInventory(ctx, storeID, bookID)
	if err != nil {
		return s.internal("add book: load inventory", err)
	}
	if existing != nil {
		return domain.ErrExistBook(bookID)
	}

	inv := domain.Inventory{
		StoreID:    storeID,
		BookID:     bookID,
		BookInfo:   bookInfo,
		StockLevel: stockLevel,
		Price:      extractPrice(bookInfo),
		SearchText: extractSearchText(bookInfo),
	}
	err = s.catalog.AddInventory(ctx, inv)
	if errors.Is(err, port.ErrDuplicateKey) {
		return domain.ErrExistBook(bookID)
	}
	if err != nil {
		return s.internal("add book: insert", err)
	}
	return nil
}

// AddStockLevel restocks a listed book. Increases are unbounded.
func (s *CatalogService) AddStockLevel(ctx context.Context, userID, storeID, bookID string, addStockLevel int) error {
	user, err := s.accounts.GetUser(ctx, userID, false)
	if err != nil {
		return s.internal("add stock: load user", err)
	}
	if user == nil {
		return domain.ErrNonExistUser(userID)
	}
	store, err := s.catalog.GetStore(ctx, storeID)
	if err != nil {
		return s.internal("add stock: load store", err)
	}
	if store == nil {
		return domain.ErrNonExistStore(storeID)
	}

	lines := []domain.OrderLine{{BookID: bookID, Count: addStockLevel}}
	ok, err := s.catalog.AdjustStock(ctx, storeID, lines, false)
	if err != nil {
		return s.internal("add stock: adjust", err)
	}
	if !ok {
		return domain.ErrNonExistBook(bookID)
	}
	return nil
}

func (s *CatalogService) internal(op string, err error) error {
	s.logger.Error(op, zap.Error(err))
	return domain.ErrInternal(err)
}

func extractPrice(bookInfo string) *int64 {
	var info struct {
		Price *int64 `json:"price"`
	}
	if err := json.Unmarshal([]byte(bookInfo), &info); err != nil {
		return nil
	}
	return info.Price
}

// extractSearchText flattens the textual fields of the book blob into one
// string stored alongside the inventory row for the search collaborator.
func extractSearchText(bookInfo string) string {
	var info map[string]any
	if err := json.Unmarshal([]byte(bookInfo), &info); err != nil {
		return ""
	}
	var pieces []string
	for _, key := range []string{
		"title", "sub_title", "author", "publisher", "translator",
		"book_intro", "author_intro", "content", "catalog",
	} {
		if value, ok := info[key].(string); ok && value != "" {
			pieces = append(pieces, value)
		}
	}
	switch tags := info["tags"].(type) {
	case string:
		if tags != "" {
			pieces = append(pieces, tags)
		}
	case []any:
		for _, tag := range tags {
			if text, ok := tag.(string); ok && text != "" {
				pieces = append(pieces, text)
			}
		}
	}
	return strings.Join(pieces, " ")
}
