package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/aloauto/marketplace/pkg/errors"
	"github.com/aloauto/marketplace/pkg/pagination"
	"github.com/aloauto/marketplace/pkg/validator"
	"github.com/aloauto/marketplace/services/accounts/internal/auth"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
	"github.com/aloauto/marketplace/services/accounts/internal/repository"
)

// DefaultBcryptCost is the cost factor for bcrypt password hashing.
const DefaultBcryptCost = 12

// RegisterInput holds the parameters for creating an account.
type RegisterInput struct {
	Username  string `json:"username" validate:"required,min=3,max=150,alphanum"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=72,password"`
	FirstName string `json:"first_name" validate:"nonul,max=150"`
	LastName  string `json:"last_name" validate:"nonul,max=150"`
	Phone     string `json:"phone" validate:"omitempty,nonul,max=32"`
	Role      string `json:"role" validate:"omitempty,oneof=buyer vendor admin"`
}

// LoginInput holds the parameters for user login. Login is a username or an email.
type LoginInput struct {
	Login    string `json:"login" validate:"required,notblank,nonul"`
	Password string `json:"password" validate:"required"`
}

// UpdateProfileInput holds the parameters for updating a user's profile.
type UpdateProfileInput struct {
	Email     *string `json:"email" validate:"omitnil,email,max=254"`
	FirstName *string `json:"first_name" validate:"omitnil,nonul,max=150"`
	LastName  *string `json:"last_name" validate:"omitnil,nonul,max=150"`
	Phone     *string `json:"phone" validate:"omitnil,nonul,max=32"`
}

// AdminUpdateUserInput holds the fields an administrator may change on any
// account. A new password signs the user out everywhere.
type AdminUpdateUserInput struct {
	Email     *string `json:"email" validate:"omitnil,email,max=254"`
	FirstName *string `json:"first_name" validate:"omitnil,nonul,max=150"`
	LastName  *string `json:"last_name" validate:"omitnil,nonul,max=150"`
	Phone     *string `json:"phone" validate:"omitnil,nonul,max=32"`
	Role      *string `json:"role" validate:"omitnil,oneof=buyer vendor admin"`
	IsActive  *bool   `json:"is_active"`
	Password  *string `json:"password" validate:"omitnil,min=8,max=72,password"`
}

// ChangePasswordInput holds the parameters for a password change.
type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72,password,nefield=CurrentPassword"`
}

// AccountOption configures an AccountService.
type AccountOption func(*AccountService)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) AccountOption {
	return func(s *AccountService) { s.bcryptCost = cost }
}

// AccountService implements registration, authentication and profile management.
type AccountService struct {
	users      repository.UserRepository
	tokens     repository.RefreshTokenRepository
	jwtManager *auth.JWTManager
	events     AccountEvents
	logger     *slog.Logger
	bcryptCost int
}

// NewAccountService creates a new account service.
func NewAccountService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	jwtManager *auth.JWTManager,
	events AccountEvents,
	logger *slog.Logger,
	opts ...AccountOption,
) *AccountService {
	s := &AccountService{
		users:      users,
		tokens:     tokens,
		jwtManager: jwtManager,
		events:     events,
		logger:     logger,
		bcryptCost: DefaultBcryptCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a buyer or vendor account and signs the user in.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*domain.User, *domain.TokenPair, error) {
	if input.Role == "" {
		input.Role = domain.RoleBuyer
	}
	if err := validator.Validate(input); err != nil {
		return nil, nil, err
	}
	if !domain.IsSelfRegisterable(input.Role) {
		return nil, nil, apperrors.Forbidden("admin accounts cannot be self-registered")
	}

	user, err := s.Provision(ctx, input)
	if err != nil {
		return nil, nil, err
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}
	return user, tokens, nil
}

// Provision creates an account with any valid role without issuing tokens.
// It backs Register and the seed command.
func (s *AccountService) Provision(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if input.Role == "" {
		input.Role = domain.RoleBuyer
	}
	if err := validator.Validate(input); err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     input.Username,
		Email:        strings.TrimSpace(input.Email),
		PasswordHash: string(hashed),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Phone:        input.Phone,
		Role:         input.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
		slog.String("role", user.Role),
	)
	return user, nil
}

// Login authenticates by username or email and password.
func (s *AccountService) Login(ctx context.Context, input LoginInput) (*domain.User, *domain.TokenPair, error) {
	if err := validator.Validate(input); err != nil {
		return nil, nil, err
	}

	var (
		user *domain.User
		err  error
	)
	if strings.Contains(input.Login, "@") {
		user, err = s.users.GetByEmail(ctx, input.Login)
	} else {
		user, err = s.users.GetByUsername(ctx, input.Login)
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.Unauthorized("invalid credentials")
		}
		return nil, nil, fmt.Errorf("look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, nil, apperrors.Unauthorized("invalid credentials")
	}
	if !user.IsActive {
		return nil, nil, apperrors.Unauthorized("account is deactivated")
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))
	return user, tokens, nil
}

// RefreshToken exchanges a refresh token for a new pair. The presented token
// is revoked; presenting an already revoked token revokes every session of
// that user.
func (s *AccountService) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.InvalidInput("refresh token is required")
	}

	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired refresh token")
	}

	tokenHash := hashToken(refreshToken)
	stored, err := s.tokens.GetByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("invalid or expired refresh token")
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}

	if stored.RevokedAt != nil {
		s.revokeAll(ctx, stored.UserID, "refresh token reuse detected")
		return nil, apperrors.Unauthorized("refresh token has been revoked")
	}
	if !stored.Usable(time.Now().UTC()) {
		return nil, apperrors.Unauthorized("refresh token has expired")
	}

	revoked, err := s.tokens.Revoke(ctx, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !revoked {
		// Lost a race with another exchange of the same token.
		s.revokeAll(ctx, stored.UserID, "concurrent refresh token reuse")
		return nil, apperrors.Unauthorized("refresh token has been revoked")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user for token refresh: %w", err)
	}
	if !user.IsActive {
		return nil, apperrors.Unauthorized("account is deactivated")
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.logger.InfoContext(ctx, "tokens refreshed", slog.String("user_id", user.ID))
	return tokens, nil
}

// ChangePassword verifies the current password, stores the new one and
// signs the user out everywhere.
func (s *AccountService) ChangePassword(ctx context.Context, userID string, input ChangePasswordInput) error {
	if err := validator.Validate(input); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for password change: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.CurrentPassword)); err != nil {
		return apperrors.Unauthorized("current password is incorrect")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}
	user.PasswordHash = string(hashed)
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update user password: %w", err)
	}

	s.revokeAll(ctx, user.ID, "password changed")
	s.logger.InfoContext(ctx, "password changed", slog.String("user_id", user.ID))
	return nil
}

// GetProfile retrieves a user by their ID.
func (s *AccountService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return user, nil
}

// UpdateProfile updates the caller's own profile fields.
func (s *AccountService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*domain.User, error) {
	if err := validator.Validate(input); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for update: %w", err)
	}

	if input.Email != nil {
		user.Email = strings.TrimSpace(*input.Email)
	}
	if input.FirstName != nil {
		user.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		user.LastName = *input.LastName
	}
	if input.Phone != nil {
		user.Phone = *input.Phone
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.logger.InfoContext(ctx, "user profile updated", slog.String("user_id", user.ID))
	return user, nil
}

// ListUsers returns one page of accounts. Admin only.
func (s *AccountService) ListUsers(ctx context.Context, actor domain.Actor, params pagination.Params) ([]domain.User, int, error) {
	if !actor.IsAdmin() {
		return nil, 0, apperrors.Forbidden("admin role required")
	}
	users, total, err := s.users.List(ctx, params.PerPage, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// GetUser returns any account to an admin, or the caller's own account.
func (s *AccountService) GetUser(ctx context.Context, actor domain.Actor, userID string) (*domain.User, error) {
	if !actor.CanActFor(userID) {
		return nil, apperrors.Forbidden("not allowed to view this account")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// UpdateUser applies an administrator's changes to any account. Role,
// activation and password changes revoke the user's refresh tokens.
func (s *AccountService) UpdateUser(ctx context.Context, actor domain.Actor, userID string, input AdminUpdateUserInput) (*domain.User, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("admin role required")
	}
	if err := validator.Validate(input); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for admin update: %w", err)
	}

	revoke := false
	if input.Email != nil {
		user.Email = strings.TrimSpace(*input.Email)
	}
	if input.FirstName != nil {
		user.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		user.LastName = *input.LastName
	}
	if input.Phone != nil {
		user.Phone = *input.Phone
	}
	if input.Role != nil && *input.Role != user.Role {
		user.Role = *input.Role
		revoke = true
	}
	if input.IsActive != nil && *input.IsActive != user.IsActive {
		user.IsActive = *input.IsActive
		revoke = revoke || !user.IsActive
	}
	if input.Password != nil {
		hashed, err := bcrypt.GenerateFromPassword([]byte(*input.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = string(hashed)
		revoke = true
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if revoke {
		s.revokeAll(ctx, user.ID, "account changed by admin")
	}

	s.logger.InfoContext(ctx, "user updated by admin",
		slog.String("user_id", user.ID),
		slog.String("actor_id", actor.UserID),
	)
	return user, nil
}

// DeleteUser removes an account with its addresses and sessions. Users may
// delete themselves; admins may delete anyone.
func (s *AccountService) DeleteUser(ctx context.Context, actor domain.Actor, userID string) error {
	if !actor.CanActFor(userID) {
		return apperrors.Forbidden("not allowed to delete this account")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for delete: %w", err)
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if err := s.events.PublishUserDeleted(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.deleted event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user deleted",
		slog.String("user_id", user.ID),
		slog.String("actor_id", actor.UserID),
	)
	return nil
}

// generateTokenPair creates an access/refresh token pair and stores the refresh token hash.
func (s *AccountService) generateTokenPair(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	accessToken, err := s.jwtManager.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, expiresAt, err := s.jwtManager.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	if err := s.tokens.Create(ctx, user.ID, hashToken(refreshToken), expiresAt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}, nil
}

func (s *AccountService) revokeAll(ctx context.Context, userID, reason string) {
	if err := s.tokens.RevokeByUserID(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke refresh tokens",
			slog.String("user_id", userID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.WarnContext(ctx, "refresh tokens revoked",
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
}

// hashToken returns the SHA256 hex digest of the given token string.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
