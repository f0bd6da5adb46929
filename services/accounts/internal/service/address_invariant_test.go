package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/aloauto/marketplace/pkg/database"
	apperrors "github.com/aloauto/marketplace/pkg/errors"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
	"github.com/aloauto/marketplace/services/accounts/internal/repository"
	"github.com/aloauto/marketplace/services/accounts/internal/repository/sqlite"
)

// These tests run AddressService against the embedded store so the partial
// unique indexes and transaction rollback take part.

func openStore(t *testing.T) (*gorm.DB, *sqlite.AddressStore) {
	t.Helper()
	db, err := sqlite.Open(database.SQLiteConfig{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db, sqlite.NewAddressStore(db)
}

func createUser(t *testing.T, db *gorm.DB, username string) domain.Actor {
	t.Helper()
	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		Role:         domain.RoleBuyer,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, sqlite.NewUserStore(db).Create(context.Background(), u))
	return domain.Actor{UserID: u.ID, Role: u.Role}
}

func allAddresses(t *testing.T, store repository.AddressStore, userID string) []domain.Address {
	t.Helper()
	addrs, _, err := store.ListByUserID(context.Background(), userID, 100, 0)
	require.NoError(t, err)
	return addrs
}

func assertAtMostOneDefault(t *testing.T, store repository.AddressStore, userID string) {
	t.Helper()
	var shipping, billing int
	for _, a := range allAddresses(t, store, userID) {
		if a.IsDefaultShipping {
			shipping++
		}
		if a.IsDefaultBilling {
			billing++
		}
	}
	assert.LessOrEqual(t, shipping, 1, "default shipping addresses")
	assert.LessOrEqual(t, billing, 1, "default billing addresses")
}

func byID(addrs []domain.Address) map[string]domain.Address {
	m := make(map[string]domain.Address, len(addrs))
	for _, a := range addrs {
		m[a.ID] = a
	}
	return m
}

func TestAddressDefaults_PromotionMovesFlag(t *testing.T) {
	db, store := openStore(t)
	svc := NewAddressService(store, &fakeEvents{}, newTestLogger())
	ctx := context.Background()
	u := createUser(t, db, "alice")

	in := validInput()
	in.IsDefaultShipping = true
	in.IsDefaultBilling = true
	a1, err := svc.CreateAddress(ctx, u, u.UserID, in)
	require.NoError(t, err)

	a2, err := svc.CreateAddress(ctx, u, u.UserID, validInput())
	require.NoError(t, err)

	_, err = svc.UpdateAddress(ctx, u, u.UserID, a2.ID, AddressPatch{IsDefaultShipping: boolPtr(true)})
	require.NoError(t, err)

	got := byID(allAddresses(t, store, u.UserID))
	assert.False(t, got[a1.ID].IsDefaultShipping)
	assert.True(t, got[a1.ID].IsDefaultBilling, "billing is independent of shipping")
	assert.True(t, got[a2.ID].IsDefaultShipping)
	assert.False(t, got[a2.ID].IsDefaultBilling)

	defaults, err := svc.DefaultAddresses(ctx, u, u.UserID)
	require.NoError(t, err)
	require.NotNil(t, defaults.Shipping)
	require.NotNil(t, defaults.Billing)
	assert.Equal(t, a2.ID, defaults.Shipping.ID)
	assert.Equal(t, a1.ID, defaults.Billing.ID)
}

func TestAddressDefaults_CreateWithDefaultDemotesPrevious(t *testing.T) {
	db, store := openStore(t)
	svc := NewAddressService(store, &fakeEvents{}, newTestLogger())
	ctx := context.Background()
	u := createUser(t, db, "bob")

	in := validInput()
	in.IsDefaultBilling = true
	first, err := svc.CreateAddress(ctx, u, u.UserID, in)
	require.NoError(t, err)
	second, err := svc.CreateAddress(ctx, u, u.UserID, in)
	require.NoError(t, err)

	got := byID(allAddresses(t, store, u.UserID))
	assert.False(t, got[first.ID].IsDefaultBilling)
	assert.True(t, got[second.ID].IsDefaultBilling)
}

func TestAddressDefaults_UnsetLeavesNoDefault(t *testing.T) {
	db, store := openStore(t)
	svc := NewAddressService(store, &fakeEvents{}, newTestLogger())
	ctx := context.Background()
	u := createUser(t, db, "carol")

	in := validInput()
	in.IsDefaultShipping = true
	a1, err := svc.CreateAddress(ctx, u, u.UserID, in)
	require.NoError(t, err)
	_, err = svc.CreateAddress(ctx, u, u.UserID, validInput())
	require.NoError(t, err)

	_, err = svc.UpdateAddress(ctx, u, u.UserID, a1.ID, AddressPatch{IsDefaultShipping: boolPtr(false)})
	require.NoError(t, err)

	defaults, err := svc.DefaultAddresses(ctx, u, u.UserID)
	require.NoError(t, err)
	assert.Nil(t, defaults.Shipping, "no other address is promoted")
}

func TestAddressDefaults_DeleteDefaultLeavesNoDefault(t *testing.T) {
	db, store := openStore(t)
	svc := NewAddressService(store, &fakeEvents{}, newTestLogger())
	ctx := context.Background()
	u := createUser(t, db, "dave")

	in := validInput()
	in.IsDefaultShipping = true
	a1, err := svc.CreateAddress(ctx, u, u.UserID, in)
	require.NoError(t, err)
	_, err = svc.CreateAddress(ctx, u, u.UserID, validInput())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAddress(ctx, u, u.UserID, a1.ID))

	defaults, err := svc.DefaultAddresses(ctx, u, u.UserID)
	require.NoError(t, err)
	assert.Nil(t, defaults.Shipping)
	assert.Len(t, allAddresses(t, store, u.UserID), 1)
}

func TestAddressDefaults_UsersAreIsolated(t *testing.T) {
	db, store := openStore(t)
	svc := NewAddressService(store, &fakeEvents{}, newTestLogger())
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	in := validInput()
	in.IsDefaultShipping = true
	bobs, err := svc.CreateAddress(ctx, bob, bob.UserID, in)
	require.NoError(t, err)
	_, err = svc.CreateAddress(ctx, alice, alice.UserID, in)
	require.NoError(t, err)

	got := byID(allAddresses(t, store, bob.UserID))
	assert.True(t, got[bobs.ID].IsDefaultShipping, "another user's default is untouched")
}

func TestAddressDefaults_ForeignAddressUnchanged(t *testing.T) {
	db, store := openStore(t)
	svc := NewAddressService(store, &fakeEvents{}, newTestLogger())
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	in := validInput()
	in.IsDefaultShipping = true
	alicesDefault, err := svc.CreateAddress(ctx, alice, alice.UserID, in)
	require.NoError(t, err)
	bobs, err := svc.CreateAddress(ctx, bob, bob.UserID, validInput())
	require.NoError(t, err)

	// Alice targets Bob's address through her own address book.
	_, err = svc.UpdateAddress(ctx, alice, alice.UserID, bobs.ID, AddressPatch{IsDefaultShipping: boolPtr(true)})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	assert.True(t, byID(allAddresses(t, store, alice.UserID))[alicesDefault.ID].IsDefaultShipping,
		"the rejected update must not clear the caller's default")
	assert.False(t, byID(allAddresses(t, store, bob.UserID))[bobs.ID].IsDefaultShipping)
}

// failingTx fails the final write after ClearDefaults has already run.
type failingTx struct {
	repository.AddressTx
}

var errDiskFull = errors.New("disk full")

func (f failingTx) Insert(context.Context, *domain.Address) error {
	return apperrors.StorageUnavailable("insert address", errDiskFull)
}

func (f failingTx) Update(context.Context, *domain.Address) error {
	return apperrors.StorageUnavailable("update address", errDiskFull)
}

type failingStore struct {
	repository.AddressStore
}

func (s failingStore) WithinOwnerTx(ctx context.Context, ownerID string, fn func(tx repository.AddressTx) error) error {
	return s.AddressStore.WithinOwnerTx(ctx, ownerID, func(tx repository.AddressTx) error {
		return fn(failingTx{AddressTx: tx})
	})
}

func TestAddressDefaults_FailedWriteRollsBackClear(t *testing.T) {
	db, store := openStore(t)
	ctx := context.Background()
	u := createUser(t, db, "erin")

	in := validInput()
	in.IsDefaultShipping = true
	a1, err := NewAddressService(store, &fakeEvents{}, newTestLogger()).CreateAddress(ctx, u, u.UserID, in)
	require.NoError(t, err)
	a2, err := NewAddressService(store, &fakeEvents{}, newTestLogger()).CreateAddress(ctx, u, u.UserID, validInput())
	require.NoError(t, err)

	events := &fakeEvents{}
	broken := NewAddressService(failingStore{AddressStore: store}, events, newTestLogger())

	_, err = broken.CreateAddress(ctx, u, u.UserID, in)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)

	_, err = broken.UpdateAddress(ctx, u, u.UserID, a2.ID, AddressPatch{IsDefaultShipping: boolPtr(true)})
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)

	got := byID(allAddresses(t, store, u.UserID))
	assert.Len(t, got, 2)
	assert.True(t, got[a1.ID].IsDefaultShipping, "cleared flag is restored by rollback")
	assert.False(t, got[a2.ID].IsDefaultShipping)
	assert.Empty(t, events.kinds(), "nothing is published for a failed write")
}

func TestAddressDefaults_ConcurrentCreates(t *testing.T) {
	db, store := openStore(t)
	svc := NewAddressService(store, &fakeEvents{}, newTestLogger())
	ctx := context.Background()
	u := createUser(t, db, "frank")

	in := validInput()
	in.IsDefaultShipping = true
	in.IsDefaultBilling = true

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateAddress(ctx, u, u.UserID, in)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, apperrors.ErrConflict)
		}
	}
	assertAtMostOneDefault(t, store, u.UserID)

	defaults, err := svc.DefaultAddresses(ctx, u, u.UserID)
	require.NoError(t, err)
	assert.NotNil(t, defaults.Shipping)
	assert.NotNil(t, defaults.Billing)
}

func TestAddressDefaults_RandomSequencesKeepInvariant(t *testing.T) {
	db, store := openStore(t)
	svc := NewAddressService(store, &fakeEvents{}, newTestLogger())
	ctx := context.Background()
	users := []domain.Actor{createUser(t, db, "gina"), createUser(t, db, "hank")}

	rng := rand.New(rand.NewSource(42))
	ids := map[string][]string{}

	for step := 0; step < 200; step++ {
		u := users[rng.Intn(len(users))]
		owned := ids[u.UserID]

		switch op := rng.Intn(10); {
		case op < 4 || len(owned) == 0:
			in := validInput()
			in.IsDefaultShipping = rng.Intn(2) == 0
			in.IsDefaultBilling = rng.Intn(3) == 0
			a, err := svc.CreateAddress(ctx, u, u.UserID, in)
			require.NoError(t, err)
			ids[u.UserID] = append(owned, a.ID)

		case op < 9:
			target := owned[rng.Intn(len(owned))]
			var patch AddressPatch
			if rng.Intn(2) == 0 {
				patch.IsDefaultShipping = boolPtr(rng.Intn(3) != 0)
			}
			if rng.Intn(2) == 0 {
				patch.IsDefaultBilling = boolPtr(rng.Intn(3) != 0)
			}
			updated, err := svc.UpdateAddress(ctx, u, u.UserID, target, patch)
			require.NoError(t, err)
			if patch.IsDefaultShipping != nil {
				assert.Equal(t, *patch.IsDefaultShipping, updated.IsDefaultShipping)
			}

		default:
			i := rng.Intn(len(owned))
			require.NoError(t, svc.DeleteAddress(ctx, u, u.UserID, owned[i]))
			ids[u.UserID] = append(owned[:i:i], owned[i+1:]...)
		}

		assertAtMostOneDefault(t, store, u.UserID)
	}

	for _, u := range users {
		assert.Len(t, allAddresses(t, store, u.UserID), len(ids[u.UserID]))
	}
}
