package repository

import (
	"context"
	"errors"

	"proposal/internal/domain"
)

var (
	// ErrAccountNotFound is returned when no account matches the lookup.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when the identifier is already registered.
	ErrAccountExists = errors.New("account already exists")
	// ErrUnavailable wraps any storage failure that is neither of the above.
	ErrUnavailable = errors.New("credential store unavailable")
)

// AccountRepository defines persistence operations for Account entities.
// Identifiers are expected in canonical form; uniqueness is enforced by the store.
type AccountRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, identifier, secretHash string) (*domain.Account, error)
	FindByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
	Close() error
}
