package domain

import "time"

type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User balances are kept in the smallest currency unit and must never go
// negative. Unregistering soft-deletes the row; it is never removed while
// orders reference it.
type User struct {
	UserID    string
	Password  string
	Balance   int64
	Token     string
	Terminal  string
	Status    UserStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
