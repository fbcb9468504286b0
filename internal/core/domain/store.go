package domain

import "time"

type Store struct {
	StoreID   string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

// Inventory is addressed by (StoreID, BookID). Price is nil for legacy
// rows whose price only lives inside the serialized BookInfo blob.
type Inventory struct {
	StoreID    string
	BookID     string
	BookInfo   string
	StockLevel int
	Price      *int64
	SearchText string
	UpdatedAt  time.Time
}
