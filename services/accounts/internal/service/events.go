package service

import (
	"context"

	"github.com/aloauto/marketplace/services/accounts/internal/domain"
)

// AddressEvents is implemented by event.Producer.
type AddressEvents interface {
	PublishAddressCreated(ctx context.Context, a *domain.Address) error
	PublishAddressUpdated(ctx context.Context, a *domain.Address) error
	PublishDefaultChanged(ctx context.Context, a *domain.Address, kinds []domain.DefaultKind) error
	PublishAddressDeleted(ctx context.Context, a *domain.Address) error
}

// AccountEvents is implemented by event.Producer.
type AccountEvents interface {
	PublishUserRegistered(ctx context.Context, u *domain.User) error
	PublishUserDeleted(ctx context.Context, u *domain.User) error
}
