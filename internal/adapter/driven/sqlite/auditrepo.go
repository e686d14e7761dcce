package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditStore = (*AuditRepo)(nil)

// defaultAuditLimit caps List when the filter does not set a limit.
const defaultAuditLimit = 100

// AuditRepo is the SQLite implementation of the AuditStore port interface.
// The audit_log table rejects UPDATE and DELETE via triggers.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new AuditRepo backed by the given DB.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append inserts one audit entry.
func (r *AuditRepo) Append(ctx context.Context, entry model.AuditEntry) error {
	const query = `
		INSERT INTO audit_log (id, occurred_at, actor, vendor_id, scope_kind, tenant_id, action, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Writer.ExecContext(ctx, query,
		entry.ID,
		formatTime(entry.Timestamp),
		entry.Actor,
		entry.VendorID,
		string(entry.Scope.Kind),
		entry.Scope.TenantID,
		string(entry.Action),
		string(entry.Outcome),
		entry.Detail,
	)
	if err != nil {
		return fmt.Errorf("append audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// List returns entries matching filter, newest first. Entry ids are ULIDs so
// ordering by id breaks timestamp ties in insertion order.
func (r *AuditRepo) List(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.VendorID != "" {
		where = append(where, "vendor_id = ?")
		args = append(args, filter.VendorID)
	}
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	query := `SELECT id, occurred_at, actor, vendor_id, scope_kind, tenant_id, action, outcome, detail FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			e          model.AuditEntry
			occurredAt string
			scopeKind  string
			action     string
			outcome    string
		)
		if err := rows.Scan(&e.ID, &occurredAt, &e.Actor, &e.VendorID, &scopeKind, &e.Scope.TenantID, &action, &outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		e.Timestamp, err = parseTime(occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at for audit entry %s: %w", e.ID, err)
		}
		e.Scope.Kind = model.ScopeKind(scopeKind)
		e.Action = model.AuditAction(action)
		e.Outcome = model.AuditOutcome(outcome)

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, nil
}
