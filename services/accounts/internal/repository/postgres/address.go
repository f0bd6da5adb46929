package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aloauto/marketplace/pkg/database"
	apperrors "github.com/aloauto/marketplace/pkg/errors"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
	"github.com/aloauto/marketplace/services/accounts/internal/repository"
)

const addressColumns = `id, user_id, street, city, state, postal_code, country, is_default_shipping, is_default_billing, created_at, updated_at`

// defaultColumns maps each default slot to its flag column.
var defaultColumns = map[domain.DefaultKind]string{
	domain.DefaultShipping: "is_default_shipping",
	domain.DefaultBilling:  "is_default_billing",
}

// AddressRepository implements repository.AddressStore using PostgreSQL.
type AddressRepository struct {
	db database.DBTX
}

// NewAddressRepository creates a new PostgreSQL-backed address repository.
func NewAddressRepository(db database.DBTX) *AddressRepository {
	return &AddressRepository{db: db}
}

// WithinOwnerTx runs fn in a read-committed transaction that holds
// FOR UPDATE on the owner's users row. Concurrent writers for the same owner
// queue on that lock.
func (r *AddressRepository) WithinOwnerTx(ctx context.Context, ownerID string, fn func(tx repository.AddressTx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return apperrors.StorageUnavailable("begin address transaction", err)
	}
	defer func() {
		if err != nil {
			// The request context may already be done; rollback must still reach the server.
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = lockOwner(ctx, tx, ownerID); err != nil {
		return err
	}
	if err = fn(&addressTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return apperrors.StorageUnavailable("commit address transaction", err)
	}
	return nil
}

func lockOwner(ctx context.Context, tx pgx.Tx, ownerID string) (err error) {
	query := `SELECT id FROM users WHERE id = $1 FOR UPDATE`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "LockOwner", query)
	defer func() { end(err) }()

	var id string
	err = tx.QueryRow(ctx, query, ownerID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("user", ownerID)
		}
		return txError("lock owner", err)
	}
	return nil
}

// GetByID retrieves an address by its ID.
func (r *AddressRepository) GetByID(ctx context.Context, id string) (_ *domain.Address, err error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "GetAddress", query)
	defer func() { end(err) }()

	a, err := scanAddress(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("address", id)
		}
		return nil, fmt.Errorf("get address: %w", err)
	}
	return a, nil
}

// ListByUserID returns one page of the user's addresses, defaults first.
func (r *AddressRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) (addrs []domain.Address, total int, err error) {
	query := `
		SELECT ` + addressColumns + `
		FROM addresses
		WHERE user_id = $1
		ORDER BY is_default_shipping DESC, is_default_billing DESC, created_at DESC, id
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "ListAddresses", query)
	defer func() { end(err) }()

	// Count and page share one snapshot so total_count matches the rows.
	err = database.ReadSnapshot(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM addresses WHERE user_id = $1`, userID).Scan(&total); err != nil {
			return fmt.Errorf("count addresses: %w", err)
		}
		addrs = make([]domain.Address, 0, min(limit, total))
		if total == 0 {
			return nil
		}

		rows, err := tx.Query(ctx, query, userID, limit, offset)
		if err != nil {
			return fmt.Errorf("list addresses: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			a, err := scanAddress(rows)
			if err != nil {
				return fmt.Errorf("scan address: %w", err)
			}
			addrs = append(addrs, *a)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate addresses: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return addrs, total, nil
}

// Defaults returns the user's default shipping and billing addresses.
func (r *AddressRepository) Defaults(ctx context.Context, userID string) (_ *domain.AddressDefaults, err error) {
	query := `
		SELECT ` + addressColumns + `
		FROM addresses
		WHERE user_id = $1 AND (is_default_shipping OR is_default_billing)`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "DefaultAddresses", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query default addresses: %w", err)
	}
	defer rows.Close()

	defaults := &domain.AddressDefaults{}
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		if a.IsDefaultShipping {
			defaults.Shipping = a
		}
		if a.IsDefaultBilling {
			defaults.Billing = a
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate default addresses: %w", err)
	}
	return defaults, nil
}

// addressTx implements repository.AddressTx on a pgx transaction.
type addressTx struct {
	tx pgx.Tx
}

func (t *addressTx) GetByIDForUpdate(ctx context.Context, id string) (_ *domain.Address, err error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1 FOR UPDATE`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "GetAddressForUpdate", query)
	defer func() { end(err) }()

	a, err := scanAddress(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("address", id)
		}
		return nil, txError("load address", err)
	}
	return a, nil
}

func (t *addressTx) ClearDefaults(ctx context.Context, ownerID string, kinds []domain.DefaultKind, exceptID string) error {
	for _, kind := range kinds {
		column, ok := defaultColumns[kind]
		if !ok {
			return fmt.Errorf("unknown default kind %q", kind)
		}
		if err := t.clearDefault(ctx, column, ownerID, exceptID); err != nil {
			return err
		}
	}
	return nil
}

func (t *addressTx) clearDefault(ctx context.Context, column, ownerID, exceptID string) (err error) {
	query := `UPDATE addresses SET ` + column + ` = FALSE, updated_at = NOW() WHERE user_id = $1 AND ` + column
	args := []any{ownerID}
	if exceptID != "" {
		query += ` AND id <> $2`
		args = append(args, exceptID)
	}

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "ClearDefaults", query)
	defer func() { end(err) }()

	if _, err = t.tx.Exec(ctx, query, args...); err != nil {
		return txError("clear default "+column, err)
	}
	return nil
}

func (t *addressTx) Insert(ctx context.Context, a *domain.Address) (err error) {
	query := `
		INSERT INTO addresses (` + addressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "InsertAddress", query)
	defer func() { end(err) }()

	_, err = t.tx.Exec(ctx, query,
		a.ID,
		a.UserID,
		a.Street,
		a.City,
		a.State,
		a.PostalCode,
		a.Country,
		a.IsDefaultShipping,
		a.IsDefaultBilling,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return txError("insert address", err)
	}
	return nil
}

func (t *addressTx) Update(ctx context.Context, a *domain.Address) (err error) {
	query := `
		UPDATE addresses
		SET street = $1, city = $2, state = $3, postal_code = $4, country = $5,
		    is_default_shipping = $6, is_default_billing = $7, updated_at = $8
		WHERE id = $9`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "UpdateAddress", query)
	defer func() { end(err) }()

	ct, err := t.tx.Exec(ctx, query,
		a.Street,
		a.City,
		a.State,
		a.PostalCode,
		a.Country,
		a.IsDefaultShipping,
		a.IsDefaultBilling,
		a.UpdatedAt,
		a.ID,
	)
	if err != nil {
		return txError("update address", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("address", a.ID)
	}
	return nil
}

func (t *addressTx) Delete(ctx context.Context, id string) (err error) {
	query := `DELETE FROM addresses WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "DeleteAddress", query)
	defer func() { end(err) }()

	ct, err := t.tx.Exec(ctx, query, id)
	if err != nil {
		return txError("delete address", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("address", id)
	}
	return nil
}

// txError maps a statement failure inside an address transaction. Losing a
// race against the partial unique indexes is a retryable Conflict and a value
// Postgres refuses to store is InvalidInput. Anything else aborts the
// transaction and is reported as StorageUnavailable.
func txError(op string, err error) error {
	if _, ok := database.UniqueViolation(err); ok {
		return apperrors.Conflict("default address changed concurrently, please retry")
	}
	if database.DataException(err) {
		return apperrors.InvalidInput("address contains a value that cannot be stored")
	}
	return apperrors.StorageUnavailable(op, err)
}

func scanAddress(row pgx.Row) (*domain.Address, error) {
	var a domain.Address
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Street,
		&a.City,
		&a.State,
		&a.PostalCode,
		&a.Country,
		&a.IsDefaultShipping,
		&a.IsDefaultBilling,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
