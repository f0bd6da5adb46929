package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aloauto/marketplace/pkg/database"
	apperrors "github.com/aloauto/marketplace/pkg/errors"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
)

// UserStore implements repository.UserRepository with gorm.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, u *domain.User) error {
	if err := s.db.WithContext(ctx).Create(toUserModel(u)).Error; err != nil {
		return userWriteError(err, u)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getOne(ctx, "id = ?", id)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getOne(ctx, "email = ? COLLATE NOCASE", email)
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.getOne(ctx, "username = ?", username)
}

func (s *UserStore) Update(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", u.ID).Updates(map[string]any{
		"username":      u.Username,
		"email":         u.Email,
		"password_hash": u.PasswordHash,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"phone":         u.Phone,
		"role":          u.Role,
		"is_active":     u.IsActive,
		"updated_at":    u.UpdatedAt,
	})
	if res.Error != nil {
		return userWriteError(res.Error, u)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("user", u.ID)
	}
	return nil
}

// Delete removes the user, their addresses and refresh tokens in one
// transaction.
func (s *UserStore) Delete(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "DeleteUser", "DELETE users WHERE id = ?")
	defer func() { end(err) }()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&addressModel{}).Error; err != nil {
			return fmt.Errorf("delete user addresses: %w", err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&refreshTokenModel{}).Error; err != nil {
			return fmt.Errorf("delete user refresh tokens: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&userModel{})
		if res.Error != nil {
			return fmt.Errorf("delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFound("user", id)
		}
		return nil
	})
}

func (s *UserStore) List(ctx context.Context, limit, offset int) ([]domain.User, int, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&userModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	var rows []userModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	users := make([]domain.User, 0, len(rows))
	for i := range rows {
		users = append(users, *rows[i].toDomain())
	}
	return users, int(total), nil
}

func (s *UserStore) getOne(ctx context.Context, where string, arg string) (_ *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "GetUser", "SELECT users WHERE "+where)
	defer func() { end(err) }()

	var m userModel
	if err = s.db.WithContext(ctx).Where(where, arg).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("user", arg)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return m.toDomain(), nil
}

func userWriteError(err error, u *domain.User) error {
	if constraint, ok := database.UniqueViolation(err); ok {
		if strings.Contains(constraint, "username") {
			return apperrors.AlreadyExists("user", "username", u.Username)
		}
		return apperrors.AlreadyExists("user", "email", u.Email)
	}
	return fmt.Errorf("write user: %w", err)
}

// RefreshTokenStore implements repository.RefreshTokenRepository with gorm.
type RefreshTokenStore struct {
	db *gorm.DB
}

func NewRefreshTokenStore(db *gorm.DB) *RefreshTokenStore {
	return &RefreshTokenStore{db: db}
}

func (s *RefreshTokenStore) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	m := &refreshTokenModel{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (s *RefreshTokenStore) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var m refreshTokenModel
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("refresh token", "(hidden)")
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return &domain.RefreshToken{
		ID:        m.ID,
		UserID:    m.UserID,
		TokenHash: m.TokenHash,
		ExpiresAt: m.ExpiresAt.UTC(),
		CreatedAt: m.CreatedAt.UTC(),
		RevokedAt: m.RevokedAt,
	}, nil
}

func (s *RefreshTokenStore) RevokeByUserID(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Model(&refreshTokenModel{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("revoke refresh tokens by user: %w", err)
	}
	return nil
}

func (s *RefreshTokenStore) Revoke(ctx context.Context, tokenHash string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&refreshTokenModel{}).
		Where("token_hash = ? AND revoked_at IS NULL", tokenHash).
		Update("revoked_at", time.Now().UTC())
	if res.Error != nil {
		return false, fmt.Errorf("revoke refresh token: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
