// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

// MergeFunc receives the fields currently stored for a key (empty map when
// no record exists) and returns the fields to set. Returning an error aborts
// the update without writing anything.
type MergeFunc func(current map[string]string) (map[string]string, error)

// CredentialStore defines the driven port for credential record persistence.
// Values cross this boundary in their stored form: sensitive values are
// already encoded envelopes. Encryption is the caller's concern.
type CredentialStore interface {
	// Get returns the stored record for key, or (nil, nil) if none exists.
	Get(ctx context.Context, key model.CredentialKey) (*model.StoredCredential, error)

	// Update runs merge and writes the fields it returns as a single
	// transaction. Only the returned fields are written; other stored fields
	// for the key are left untouched. Concurrent updates to the same key are
	// serialized as whole operations.
	Update(ctx context.Context, key model.CredentialKey, merge MergeFunc) error

	// Delete removes the record for key. It reports whether a record existed.
	Delete(ctx context.Context, key model.CredentialKey) (bool, error)

	// ListByScope returns every record stored at exactly the given scope.
	ListByScope(ctx context.Context, scope model.Scope) ([]model.StoredCredential, error)
}
