package sqlite

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/aloauto/marketplace/pkg/database"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
)

type userModel struct {
	ID           string    `gorm:"primaryKey;type:text"`
	Username     string    `gorm:"type:text;not null;uniqueIndex:users_username_key"`
	Email        string    `gorm:"type:text;not null;uniqueIndex:users_email_key,collate:nocase"`
	PasswordHash string    `gorm:"type:text;not null"`
	FirstName    string    `gorm:"type:text;not null"`
	LastName     string    `gorm:"type:text;not null"`
	Phone        string    `gorm:"type:text;not null"`
	Role         string    `gorm:"type:text;not null"`
	IsActive     bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (userModel) TableName() string { return "users" }

type refreshTokenModel struct {
	ID        string    `gorm:"primaryKey;type:text"`
	UserID    string    `gorm:"type:text;not null;index"`
	TokenHash string    `gorm:"type:text;not null;uniqueIndex:refresh_tokens_token_hash_key"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
	RevokedAt *time.Time
}

func (refreshTokenModel) TableName() string { return "refresh_tokens" }

type addressModel struct {
	ID                string    `gorm:"primaryKey;type:text"`
	UserID            string    `gorm:"type:text;not null;index:idx_addresses_user_id"`
	Street            string    `gorm:"type:varchar(255);not null"`
	City              string    `gorm:"type:varchar(100);not null"`
	State             string    `gorm:"type:varchar(100);not null"`
	PostalCode        string    `gorm:"type:varchar(20);not null"`
	Country           string    `gorm:"type:varchar(100);not null"`
	IsDefaultShipping bool      `gorm:"not null"`
	IsDefaultBilling  bool      `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt         time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (addressModel) TableName() string { return "addresses" }

// partialIndexes mirror the PostgreSQL backstop for one default per kind.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS addresses_one_default_shipping ON addresses (user_id) WHERE is_default_shipping`,
	`CREATE UNIQUE INDEX IF NOT EXISTS addresses_one_default_billing ON addresses (user_id) WHERE is_default_billing`,
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&userModel{}, &refreshTokenModel{}, &addressModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range partialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create partial index: %w", err)
		}
	}
	return nil
}

func toUserModel(u *domain.User) *userModel {
	return &userModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Phone:        u.Phone,
		Role:         u.Role,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (m *userModel) toDomain() *domain.User {
	return &domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		Phone:        m.Phone,
		Role:         m.Role,
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func toAddressModel(a *domain.Address) *addressModel {
	return &addressModel{
		ID:                a.ID,
		UserID:            a.UserID,
		Street:            a.Street,
		City:              a.City,
		State:             a.State,
		PostalCode:        a.PostalCode,
		Country:           a.Country,
		IsDefaultShipping: a.IsDefaultShipping,
		IsDefaultBilling:  a.IsDefaultBilling,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func (m *addressModel) toDomain() *domain.Address {
	return &domain.Address{
		ID:                m.ID,
		UserID:            m.UserID,
		Street:            m.Street,
		City:              m.City,
		State:             m.State,
		PostalCode:        m.PostalCode,
		Country:           m.Country,
		IsDefaultShipping: m.IsDefaultShipping,
		IsDefaultBilling:  m.IsDefaultBilling,
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
}

// Open connects to SQLite and brings the schema up to date.
func Open(cfg database.SQLiteConfig, logger *slog.Logger) (*gorm.DB, error) {
	db, err := database.NewSQLite(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
