package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aloauto/marketplace/pkg/database"
	apperrors "github.com/aloauto/marketplace/pkg/errors"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
	"github.com/aloauto/marketplace/services/accounts/internal/repository"
)

var defaultColumns = map[domain.DefaultKind]string{
	domain.DefaultShipping: "is_default_shipping",
	domain.DefaultBilling:  "is_default_billing",
}

// AddressStore implements repository.AddressStore with gorm. On SQLite the
// single write connection serializes transactions, so the owner lock is an
// existence check there; other dialects take a row lock.
type AddressStore struct {
	db *gorm.DB
}

func NewAddressStore(db *gorm.DB) *AddressStore {
	return &AddressStore{db: db}
}

func (s *AddressStore) WithinOwnerTx(ctx context.Context, ownerID string, fn func(tx repository.AddressTx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOwner(ctx, tx, ownerID); err != nil {
			return err
		}
		return fn(&addressTx{db: tx})
	})
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	// Only begin and commit failures reach here; statement errors are mapped above.
	return apperrors.StorageUnavailable("address transaction", err)
}

func (s *AddressStore) GetByID(ctx context.Context, id string) (_ *domain.Address, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "GetAddress", "SELECT addresses by id")
	defer func() { end(err) }()

	var m addressModel
	if err = s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("address", id)
		}
		return nil, fmt.Errorf("get address: %w", err)
	}
	return m.toDomain(), nil
}

func (s *AddressStore) ListByUserID(ctx context.Context, userID string, limit, offset int) (_ []domain.Address, _ int, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "ListAddresses", "SELECT addresses by user_id")
	defer func() { end(err) }()

	byOwner := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&addressModel{}).Where("user_id = ?", userID)
	}

	var total int64
	if err = byOwner().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count addresses: %w", err)
	}

	var rows []addressModel
	err = byOwner().Order("is_default_shipping DESC").
		Order("is_default_billing DESC").
		Order("created_at DESC").
		Order("id").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list addresses: %w", err)
	}

	out := make([]domain.Address, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, int(total), nil
}

func (s *AddressStore) Defaults(ctx context.Context, userID string) (_ *domain.AddressDefaults, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "DefaultAddresses", "SELECT default addresses")
	defer func() { end(err) }()

	var rows []addressModel
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND (is_default_shipping OR is_default_billing)", userID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query default addresses: %w", err)
	}

	defaults := &domain.AddressDefaults{}
	for i := range rows {
		a := rows[i].toDomain()
		if a.IsDefaultShipping {
			defaults.Shipping = a
		}
		if a.IsDefaultBilling {
			defaults.Billing = a
		}
	}
	return defaults, nil
}

func lockOwner(ctx context.Context, tx *gorm.DB, ownerID string) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "LockOwner", "SELECT users by id for update")
	defer func() { end(err) }()

	var owner userModel
	err = forUpdate(tx.WithContext(ctx)).Select("id").Where("id = ?", ownerID).Take(&owner).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("user", ownerID)
		}
		return txError("lock owner", err)
	}
	return nil
}

type addressTx struct {
	db *gorm.DB
}

func (t *addressTx) GetByIDForUpdate(ctx context.Context, id string) (_ *domain.Address, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "GetAddressForUpdate", "SELECT addresses by id for update")
	defer func() { end(err) }()

	var m addressModel
	err = forUpdate(t.db.WithContext(ctx)).Where("id = ?", id).Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("address", id)
		}
		return nil, txError("load address", err)
	}
	return m.toDomain(), nil
}

func (t *addressTx) ClearDefaults(ctx context.Context, ownerID string, kinds []domain.DefaultKind, exceptID string) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "ClearDefaults", "UPDATE addresses clear default flags")
	defer func() { end(err) }()

	for _, kind := range kinds {
		column, ok := defaultColumns[kind]
		if !ok {
			return fmt.Errorf("unknown default kind %q", kind)
		}
		q := t.db.WithContext(ctx).Model(&addressModel{}).
			Where("user_id = ?", ownerID).
			Where(column+" = ?", true)
		if exceptID != "" {
			q = q.Where("id <> ?", exceptID)
		}
		if err = q.Updates(map[string]any{column: false, "updated_at": t.db.NowFunc()}).Error; err != nil {
			return txError("clear default "+column, err)
		}
	}
	return nil
}

func (t *addressTx) Insert(ctx context.Context, a *domain.Address) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "InsertAddress", "INSERT addresses")
	defer func() { end(err) }()

	if err = t.db.WithContext(ctx).Create(toAddressModel(a)).Error; err != nil {
		return txError("insert address", err)
	}
	return nil
}

func (t *addressTx) Update(ctx context.Context, a *domain.Address) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "UpdateAddress", "UPDATE addresses by id")
	defer func() { end(err) }()

	res := t.db.WithContext(ctx).Model(&addressModel{}).Where("id = ?", a.ID).Updates(map[string]any{
		"street":              a.Street,
		"city":                a.City,
		"state":               a.State,
		"postal_code":         a.PostalCode,
		"country":             a.Country,
		"is_default_shipping": a.IsDefaultShipping,
		"is_default_billing":  a.IsDefaultBilling,
		"updated_at":          a.UpdatedAt,
	})
	if res.Error != nil {
		return txError("update address", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("address", a.ID)
	}
	return nil
}

func (t *addressTx) Delete(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "DeleteAddress", "DELETE addresses by id")
	defer func() { end(err) }()

	res := t.db.WithContext(ctx).Where("id = ?", id).Delete(&addressModel{})
	if res.Error != nil {
		return txError("delete address", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("address", id)
	}
	return nil
}

// forUpdate adds FOR UPDATE where the dialect supports it.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func txError(op string, err error) error {
	if _, ok := database.UniqueViolation(err); ok {
		return apperrors.Conflict("default address changed concurrently, please retry")
	}
	return apperrors.StorageUnavailable(op, err)
}
