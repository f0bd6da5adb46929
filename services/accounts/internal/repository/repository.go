package repository

import (
	"context"
	"time"

	"github.com/aloauto/marketplace/services/accounts/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user. A duplicate username or email yields an
	// AlreadyExists error.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByUsername retrieves a user by their username.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// Update modifies an existing user in the store.
	Update(ctx context.Context, user *domain.User) error

	// List returns one page of users ordered by creation time and the total count.
	List(ctx context.Context, limit, offset int) ([]domain.User, int, error)

	// Delete removes a user together with their addresses and refresh tokens.
	Delete(ctx context.Context, id string) error
}

// RefreshTokenRepository defines the interface for refresh token persistence operations.
type RefreshTokenRepository interface {
	// Create stores a new refresh token hash.
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error

	// GetByHash retrieves a refresh token record by its hash.
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)

	// RevokeByUserID revokes all refresh tokens for the given user.
	RevokeByUserID(ctx context.Context, userID string) error

	// Revoke revokes a specific refresh token by its hash. It reports false
	// when the token was already revoked, which callers treat as reuse.
	Revoke(ctx context.Context, tokenHash string) (bool, error)
}

// AddressStore is the address persistence boundary. Every write goes through
// WithinOwnerTx so that all writes for one owner are serialized.
type AddressStore interface {
	// WithinOwnerTx opens a transaction, locks the owner's user row and runs
	// fn. The transaction commits when fn returns nil and rolls back
	// otherwise. A missing owner yields NotFound; begin or commit failures
	// yield StorageUnavailable.
	WithinOwnerTx(ctx context.Context, ownerID string, fn func(tx AddressTx) error) error

	// GetByID retrieves an address by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Address, error)

	// ListByUserID returns one page of the user's addresses, defaults first
	// and newest first, together with the total count.
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]domain.Address, int, error)

	// Defaults returns the user's current default shipping and billing addresses.
	Defaults(ctx context.Context, userID string) (*domain.AddressDefaults, error)
}

// AddressTx is the set of address writes available inside WithinOwnerTx.
type AddressTx interface {
	// GetByIDForUpdate loads and row-locks an address.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Address, error)

	// ClearDefaults unsets the given default flags on every address of
	// ownerID except exceptID. An empty exceptID excludes nothing.
	ClearDefaults(ctx context.Context, ownerID string, kinds []domain.DefaultKind, exceptID string) error

	// Insert stores a new address.
	Insert(ctx context.Context, address *domain.Address) error

	// Update writes every mutable field of an existing address.
	Update(ctx context.Context, address *domain.Address) error

	// Delete removes an address.
	Delete(ctx context.Context, id string) error
}
