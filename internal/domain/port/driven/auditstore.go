package driven

import (
	"context"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

// AuditSink receives append-only audit entries.
type AuditSink interface {
	Append(ctx context.Context, entry model.AuditEntry) error
}

// AuditStore is an AuditSink that can also be queried.
type AuditStore interface {
	AuditSink

	// List returns entries matching filter, newest first.
	List(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error)
}
