package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/aloauto/marketplace/pkg/errors"
	"github.com/aloauto/marketplace/pkg/pagination"
	"github.com/aloauto/marketplace/pkg/validator"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
	"github.com/aloauto/marketplace/services/accounts/internal/repository"
)

// AddressInput holds every field of an address. It is the body of create
// and full-replace requests.
type AddressInput struct {
	Street            string `json:"street" validate:"required,notblank,nonul,max=255"`
	City              string `json:"city" validate:"required,notblank,nonul,max=100"`
	State             string `json:"state" validate:"nonul,max=100"`
	PostalCode        string `json:"postal_code" validate:"required,notblank,nonul,max=20"`
	Country           string `json:"country" validate:"required,notblank,nonul,max=100"`
	IsDefaultShipping bool   `json:"is_default_shipping"`
	IsDefaultBilling  bool   `json:"is_default_billing"`
}

// Patch turns a full input into a patch that sets every field.
func (in AddressInput) Patch() AddressPatch {
	return AddressPatch{
		Street:            &in.Street,
		City:              &in.City,
		State:             &in.State,
		PostalCode:        &in.PostalCode,
		Country:           &in.Country,
		IsDefaultShipping: &in.IsDefaultShipping,
		IsDefaultBilling:  &in.IsDefaultBilling,
	}
}

// AddressPatch is a partial update; nil fields are left unchanged.
type AddressPatch struct {
	Street            *string `json:"street" validate:"omitnil,notblank,nonul,max=255"`
	City              *string `json:"city" validate:"omitnil,notblank,nonul,max=100"`
	State             *string `json:"state" validate:"omitnil,nonul,max=100"`
	PostalCode        *string `json:"postal_code" validate:"omitnil,notblank,nonul,max=20"`
	Country           *string `json:"country" validate:"omitnil,notblank,nonul,max=100"`
	IsDefaultShipping *bool   `json:"is_default_shipping"`
	IsDefaultBilling  *bool   `json:"is_default_billing"`
}

func (p AddressPatch) applyTo(a *domain.Address) {
	if p.Street != nil {
		a.Street = *p.Street
	}
	if p.City != nil {
		a.City = *p.City
	}
	if p.State != nil {
		a.State = *p.State
	}
	if p.PostalCode != nil {
		a.PostalCode = *p.PostalCode
	}
	if p.Country != nil {
		a.Country = *p.Country
	}
	if p.IsDefaultShipping != nil {
		a.IsDefaultShipping = *p.IsDefaultShipping
	}
	if p.IsDefaultBilling != nil {
		a.IsDefaultBilling = *p.IsDefaultBilling
	}
}

// AddressService manages user addresses and keeps each user's default
// shipping and default billing address unique.
//
// Every write runs inside AddressStore.WithinOwnerTx, which holds a lock on
// the owner's user row, so two writers for the same user never interleave.
// When an address gains a default flag, the flag is cleared on all sibling
// addresses before the address itself is written; the partial unique
// indexes in storage would reject the reverse order.
type AddressService struct {
	store  repository.AddressStore
	events AddressEvents
	logger *slog.Logger
	now    func() time.Time
}

// NewAddressService creates a new address service.
func NewAddressService(store repository.AddressStore, events AddressEvents, logger *slog.Logger) *AddressService {
	return &AddressService{
		store:  store,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateAddress stores a new address for ownerID. If it is flagged as a
// default, the owner's previous default of that kind loses the flag in the
// same transaction.
func (s *AddressService) CreateAddress(ctx context.Context, actor domain.Actor, ownerID string, input AddressInput) (*domain.Address, error) {
	if err := validator.Validate(input); err != nil {
		return nil, err
	}
	if err := authorize(actor, ownerID); err != nil {
		return nil, err
	}

	now := s.now()
	addr := &domain.Address{
		ID:                uuid.New().String(),
		UserID:            ownerID,
		Street:            input.Street,
		City:              input.City,
		State:             input.State,
		PostalCode:        input.PostalCode,
		Country:           input.Country,
		IsDefaultShipping: input.IsDefaultShipping,
		IsDefaultBilling:  input.IsDefaultBilling,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.store.WithinOwnerTx(ctx, ownerID, func(tx repository.AddressTx) error {
		if kinds := addr.Defaults(); len(kinds) > 0 {
			if err := tx.ClearDefaults(ctx, ownerID, kinds, ""); err != nil {
				return err
			}
		}
		return tx.Insert(ctx, addr)
	})
	if err != nil {
		return nil, s.writeFailed(ctx, "create", err)
	}

	for _, k := range addr.Defaults() {
		addressDefaultChanges.WithLabelValues(string(k)).Inc()
	}
	if err := s.events.PublishAddressCreated(ctx, addr); err != nil {
		s.logPublishFailure(ctx, "address.created", addr.ID, err)
	}
	if kinds := addr.Defaults(); len(kinds) > 0 {
		if err := s.events.PublishDefaultChanged(ctx, addr, kinds); err != nil {
			s.logPublishFailure(ctx, "address.default_changed", addr.ID, err)
		}
	}

	s.logger.InfoContext(ctx, "address created",
		slog.String("address_id", addr.ID),
		slog.String("owner_id", ownerID),
		slog.Bool("default_shipping", addr.IsDefaultShipping),
		slog.Bool("default_billing", addr.IsDefaultBilling),
	)
	return addr, nil
}

// UpdateAddress applies patch to addressID. An address that belongs to a
// different user than ownerID is Forbidden and nothing is written. Clearing
// a default flag never promotes another address.
func (s *AddressService) UpdateAddress(ctx context.Context, actor domain.Actor, ownerID, addressID string, patch AddressPatch) (*domain.Address, error) {
	if err := validator.Validate(patch); err != nil {
		return nil, err
	}
	if err := authorize(actor, ownerID); err != nil {
		return nil, err
	}

	var updated *domain.Address
	var promoted []domain.DefaultKind

	err := s.store.WithinOwnerTx(ctx, ownerID, func(tx repository.AddressTx) error {
		current, err := tx.GetByIDForUpdate(ctx, addressID)
		if err != nil {
			return err
		}
		if current.UserID != ownerID {
			return apperrors.Forbidden("address does not belong to this user")
		}

		next := *current
		patch.applyTo(&next)
		next.UpdatedAt = s.now()

		if kinds := next.Defaults(); len(kinds) > 0 {
			if err := tx.ClearDefaults(ctx, ownerID, kinds, next.ID); err != nil {
				return err
			}
		}
		if err := tx.Update(ctx, &next); err != nil {
			return err
		}

		updated = &next
		promoted = domain.Promoted(current, &next)
		return nil
	})
	if err != nil {
		return nil, s.writeFailed(ctx, "update", err)
	}

	for _, k := range promoted {
		addressDefaultChanges.WithLabelValues(string(k)).Inc()
	}
	if err := s.events.PublishAddressUpdated(ctx, updated); err != nil {
		s.logPublishFailure(ctx, "address.updated", updated.ID, err)
	}
	if len(promoted) > 0 {
		if err := s.events.PublishDefaultChanged(ctx, updated, promoted); err != nil {
			s.logPublishFailure(ctx, "address.default_changed", updated.ID, err)
		}
	}

	s.logger.InfoContext(ctx, "address updated",
		slog.String("address_id", updated.ID),
		slog.String("owner_id", ownerID),
		slog.Bool("default_shipping", updated.IsDefaultShipping),
		slog.Bool("default_billing", updated.IsDefaultBilling),
	)
	return updated, nil
}

// DeleteAddress removes an address. Deleting a default leaves the owner
// without a default of that kind.
func (s *AddressService) DeleteAddress(ctx context.Context, actor domain.Actor, ownerID, addressID string) error {
	if err := authorize(actor, ownerID); err != nil {
		return err
	}

	var deleted *domain.Address
	err := s.store.WithinOwnerTx(ctx, ownerID, func(tx repository.AddressTx) error {
		current, err := tx.GetByIDForUpdate(ctx, addressID)
		if err != nil {
			return err
		}
		if current.UserID != ownerID {
			return apperrors.Forbidden("address does not belong to this user")
		}
		deleted = current
		return tx.Delete(ctx, addressID)
	})
	if err != nil {
		return s.writeFailed(ctx, "delete", err)
	}

	if err := s.events.PublishAddressDeleted(ctx, deleted); err != nil {
		s.logPublishFailure(ctx, "address.deleted", deleted.ID, err)
	}

	s.logger.InfoContext(ctx, "address deleted",
		slog.String("address_id", addressID),
		slog.String("owner_id", ownerID),
	)
	return nil
}

// GetAddress returns one of ownerID's addresses.
func (s *AddressService) GetAddress(ctx context.Context, actor domain.Actor, ownerID, addressID string) (*domain.Address, error) {
	if err := authorize(actor, ownerID); err != nil {
		return nil, err
	}
	addr, err := s.store.GetByID(ctx, addressID)
	if err != nil {
		return nil, fmt.Errorf("get address: %w", err)
	}
	if addr.UserID != ownerID {
		return nil, apperrors.Forbidden("address does not belong to this user")
	}
	return addr, nil
}

// ListAddresses returns one page of ownerID's addresses, defaults first.
func (s *AddressService) ListAddresses(ctx context.Context, actor domain.Actor, ownerID string, params pagination.Params) ([]domain.Address, int, error) {
	if err := authorize(actor, ownerID); err != nil {
		return nil, 0, err
	}
	addrs, total, err := s.store.ListByUserID(ctx, ownerID, params.PerPage, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list addresses: %w", err)
	}
	return addrs, total, nil
}

// DefaultAddresses returns ownerID's current default shipping and billing
// addresses. Either may be nil.
func (s *AddressService) DefaultAddresses(ctx context.Context, actor domain.Actor, ownerID string) (*domain.AddressDefaults, error) {
	if err := authorize(actor, ownerID); err != nil {
		return nil, err
	}
	defaults, err := s.store.Defaults(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get default addresses: %w", err)
	}
	return defaults, nil
}

func authorize(actor domain.Actor, ownerID string) error {
	if !actor.CanActFor(ownerID) {
		return apperrors.Forbidden("not allowed to manage this user's addresses")
	}
	return nil
}

// writeFailed counts and logs storage-level rejections before handing the
// error back unchanged.
func (s *AddressService) writeFailed(ctx context.Context, op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && (errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrServiceUnavail)) {
		addressWriteFailures.WithLabelValues(op, appErr.Code).Inc()
		s.logger.WarnContext(ctx, "address write rejected",
			slog.String("operation", op),
			slog.String("code", appErr.Code),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func (s *AddressService) logPublishFailure(ctx context.Context, eventType, addressID string, err error) {
	s.logger.ErrorContext(ctx, "failed to publish "+eventType+" event",
		slog.String("address_id", addressID),
		slog.String("error", err.Error()),
	)
}
