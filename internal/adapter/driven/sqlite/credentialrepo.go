package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/juju/clock"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Each field is its own row so an update writes only the fields it was given;
// a record row per key carries the timestamps and anchors the cascade delete.
type CredentialRepo struct {
	db    *DB
	clock clock.Clock
}

// NewCredentialRepo creates a new CredentialRepo. clk stamps created_at and
// updated_at; pass clock.WallClock outside tests.
func NewCredentialRepo(db *DB, clk clock.Clock) *CredentialRepo {
	return &CredentialRepo{db: db, clock: clk}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Get returns the stored record for key, or (nil, nil) if none exists.
// The record and its fields are read in one statement so a concurrent update
// is observed either entirely or not at all.
func (r *CredentialRepo) Get(ctx context.Context, key model.CredentialKey) (*model.StoredCredential, error) {
	return getCredential(ctx, r.db.Reader, key)
}

func getCredential(ctx context.Context, q queryer, key model.CredentialKey) (*model.StoredCredential, error) {
	const query = `
		SELECT r.updated_at, f.field, f.value
		FROM credential_records r
		LEFT JOIN credential_fields f
			ON f.vendor_id = r.vendor_id AND f.scope_kind = r.scope_kind AND f.tenant_id = r.tenant_id
		WHERE r.vendor_id = ? AND r.scope_kind = ? AND r.tenant_id = ?
		ORDER BY f.field
	`

	rows, err := q.QueryContext(ctx, query, key.VendorID, string(key.Scope.Kind), key.Scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", key, err)
	}
	defer rows.Close()

	var cred *model.StoredCredential
	for rows.Next() {
		var updatedAt string
		var field, value sql.NullString
		if err := rows.Scan(&updatedAt, &field, &value); err != nil {
			return nil, fmt.Errorf("scan credential %s: %w", key, err)
		}

		if cred == nil {
			ts, err := parseTime(updatedAt)
			if err != nil {
				return nil, fmt.Errorf("parse updated_at for credential %s: %w", key, err)
			}
			cred = &model.StoredCredential{
				Key:       key,
				Fields:    make(map[string]string),
				UpdatedAt: ts,
			}
		}
		if field.Valid {
			cred.Fields[field.String] = value.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential %s: %w", key, err)
	}

	return cred, nil
}

// Update reads the current fields, runs merge, and writes the returned fields
// inside one writer transaction. The writer pool holds a single connection,
// so two updates never interleave.
func (r *CredentialRepo) Update(ctx context.Context, key model.CredentialKey, merge driven.MergeFunc) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	current := make(map[string]string)
	existing, err := getCredential(ctx, tx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		current = existing.Fields
	}

	set, err := merge(current)
	if err != nil {
		return err
	}
	if len(set) == 0 {
		return nil
	}

	now := formatTime(r.clock.Now())

	const recordQuery = `
		INSERT INTO credential_records (vendor_id, scope_kind, tenant_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(vendor_id, scope_kind, tenant_id) DO UPDATE SET
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, recordQuery,
		key.VendorID, string(key.Scope.Kind), key.Scope.TenantID, now, now,
	); err != nil {
		return fmt.Errorf("upsert credential record %s: %w", key, err)
	}

	const fieldQuery = `
		INSERT INTO credential_fields (vendor_id, scope_kind, tenant_id, field, value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(vendor_id, scope_kind, tenant_id, field) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	for field, value := range set {
		if _, err := tx.ExecContext(ctx, fieldQuery,
			key.VendorID, string(key.Scope.Kind), key.Scope.TenantID, field, value, now,
		); err != nil {
			return fmt.Errorf("set field %q on credential %s: %w", field, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credential %s: %w", key, err)
	}
	return nil
}

// Delete removes the record for key and, by cascade, all of its fields.
func (r *CredentialRepo) Delete(ctx context.Context, key model.CredentialKey) (bool, error) {
	const query = `DELETE FROM credential_records WHERE vendor_id = ? AND scope_kind = ? AND tenant_id = ?`
	res, err := r.db.Writer.ExecContext(ctx, query, key.VendorID, string(key.Scope.Kind), key.Scope.TenantID)
	if err != nil {
		return false, fmt.Errorf("delete credential %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for credential %s: %w", key, err)
	}
	return n > 0, nil
}

// ListByScope returns every record stored at exactly the given scope, ordered
// by vendor id.
func (r *CredentialRepo) ListByScope(ctx context.Context, scope model.Scope) ([]model.StoredCredential, error) {
	const query = `
		SELECT r.vendor_id, r.updated_at, f.field, f.value
		FROM credential_records r
		LEFT JOIN credential_fields f
			ON f.vendor_id = r.vendor_id AND f.scope_kind = r.scope_kind AND f.tenant_id = r.tenant_id
		WHERE r.scope_kind = ? AND r.tenant_id = ?
		ORDER BY r.vendor_id, f.field
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, string(scope.Kind), scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list credentials for %s: %w", scope, err)
	}
	defer rows.Close()

	var creds []model.StoredCredential
	for rows.Next() {
		var vendorID, updatedAt string
		var field, value sql.NullString
		if err := rows.Scan(&vendorID, &updatedAt, &field, &value); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}

		if len(creds) == 0 || creds[len(creds)-1].Key.VendorID != vendorID {
			ts, err := parseTime(updatedAt)
			if err != nil {
				return nil, fmt.Errorf("parse updated_at for credential %s: %w", vendorID, err)
			}
			creds = append(creds, model.StoredCredential{
				Key:       model.CredentialKey{VendorID: vendorID, Scope: scope},
				Fields:    make(map[string]string),
				UpdatedAt: ts,
			})
		}
		if field.Valid {
			creds[len(creds)-1].Fields[field.String] = value.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}
