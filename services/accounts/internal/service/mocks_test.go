package service

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/aloauto/marketplace/services/accounts/internal/domain"
	"github.com/aloauto/marketplace/services/accounts/internal/repository"
)

// --- Mock Address Store ---

type mockAddressStore struct {
	mock.Mock
	tx *mockAddressTx
}

func (m *mockAddressStore) WithinOwnerTx(ctx context.Context, ownerID string, fn func(tx repository.AddressTx) error) error {
	args := m.Called(ctx, ownerID)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m.tx)
}

func (m *mockAddressStore) GetByID(ctx context.Context, id string) (*domain.Address, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Address), args.Error(1)
}

func (m *mockAddressStore) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]domain.Address, int, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]domain.Address), args.Int(1), args.Error(2)
}

func (m *mockAddressStore) Defaults(ctx context.Context, userID string) (*domain.AddressDefaults, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AddressDefaults), args.Error(1)
}

type mockAddressTx struct {
	mock.Mock
}

func (m *mockAddressTx) GetByIDForUpdate(ctx context.Context, id string) (*domain.Address, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	// Hand out a copy so the service cannot mutate the fixture.
	a := *args.Get(0).(*domain.Address)
	return &a, args.Error(1)
}

func (m *mockAddressTx) ClearDefaults(ctx context.Context, ownerID string, kinds []domain.DefaultKind, exceptID string) error {
	return m.Called(ctx, ownerID, kinds, exceptID).Error(0)
}

func (m *mockAddressTx) Insert(ctx context.Context, a *domain.Address) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockAddressTx) Update(ctx context.Context, a *domain.Address) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockAddressTx) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return m.userResult(m.Called(ctx, id))
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return m.userResult(m.Called(ctx, email))
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return m.userResult(m.Called(ctx, username))
}

func (m *mockUserRepository) Update(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserRepository) List(ctx context.Context, limit, offset int) ([]domain.User, int, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]domain.User), args.Int(1), args.Error(2)
}

func (m *mockUserRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUserRepository) userResult(args mock.Arguments) (*domain.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// --- Mock Refresh Token Repository ---

type mockRefreshTokenRepository struct {
	mock.Mock
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	return m.Called(ctx, userID, tokenHash, expiresAt).Error(0)
}

func (m *mockRefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *mockRefreshTokenRepository) RevokeByUserID(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockRefreshTokenRepository) Revoke(ctx context.Context, tokenHash string) (bool, error) {
	args := m.Called(ctx, tokenHash)
	return args.Bool(0), args.Error(1)
}

// --- Event recorder ---

type recordedEvent struct {
	kind      string
	addressID string
	kinds     []domain.DefaultKind
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (f *fakeEvents) record(e recordedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *fakeEvents) PublishAddressCreated(_ context.Context, a *domain.Address) error {
	return f.record(recordedEvent{kind: "address.created", addressID: a.ID})
}

func (f *fakeEvents) PublishAddressUpdated(_ context.Context, a *domain.Address) error {
	return f.record(recordedEvent{kind: "address.updated", addressID: a.ID})
}

func (f *fakeEvents) PublishDefaultChanged(_ context.Context, a *domain.Address, kinds []domain.DefaultKind) error {
	return f.record(recordedEvent{kind: "address.default_changed", addressID: a.ID, kinds: kinds})
}

func (f *fakeEvents) PublishAddressDeleted(_ context.Context, a *domain.Address) error {
	return f.record(recordedEvent{kind: "address.deleted", addressID: a.ID})
}

func (f *fakeEvents) PublishUserRegistered(_ context.Context, u *domain.User) error {
	return f.record(recordedEvent{kind: "user.registered", addressID: u.ID})
}

func (f *fakeEvents) PublishUserDeleted(_ context.Context, u *domain.User) error {
	return f.record(recordedEvent{kind: "user.deleted", addressID: u.ID})
}

func (f *fakeEvents) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.kind)
	}
	return out
}

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
