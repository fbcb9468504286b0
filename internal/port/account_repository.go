package port

import (
	"context"

	"github.com/flippedyesyes/bookstore/internal/core/domain"
)

type AccountRepository interface {
	// CreateUser inserts a new user. Returns ErrDuplicateKey if the id is taken.
	CreateUser(ctx context.Context, user domain.User) error

	// GetUser returns nil without error when the user does not exist or,
	// unless includeInactive is set, when it has been soft-deleted.
	GetUser(ctx context.Context, userID string, includeInactive bool) (*domain.User, error)

	// ReviveUser reactivates a soft-deleted user with fresh credentials and a
	// zeroed balance.
	ReviveUser(ctx context.Context, userID, password, token, terminal string) (bool, error)

	// SoftDeleteUser flips the user to deleted and clears its credentials.
	SoftDeleteUser(ctx context.Context, userID string) (bool, error)

	UpdateToken(ctx context.Context, userID, token, terminal string) (bool, error)

	UpdatePassword(ctx context.Context, userID, password, token, terminal string) (bool, error)

	// ChangeBalance atomically applies balance += delta. Returns false with no
	// mutation when the user is missing or the result would be negative. The
	// read-modify-write must be isolated against concurrent callers.
	ChangeBalance(ctx context.Context, userID string, delta int64) (bool, error)
}
