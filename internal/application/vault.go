package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/im7mortal/kmutex"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

// RedactedValue replaces every sensitive value in display output.
const RedactedValue = "••••••••"

// Vault stores and retrieves vendor credentials at admin and tenant scope.
// It normalizes field names against the vendor schema, encrypts sensitive
// fields, merges partial saves, and verifies every write by reading it back.
type Vault struct {
	schema *SchemaRegistry
	store  driven.CredentialStore
	cipher driven.Cipher
	audit  *AuditRecorder
	logger *slog.Logger

	// locks serializes save-and-verify per credential key so the read-back
	// observes this save rather than a concurrent one.
	locks *kmutex.Kmutex
}

// NewVault creates a Vault with all required dependencies.
func NewVault(
	schema *SchemaRegistry,
	store driven.CredentialStore,
	cipher driven.Cipher,
	audit *AuditRecorder,
	logger *slog.Logger,
) *Vault {
	return &Vault{
		schema: schema,
		store:  store,
		cipher: cipher,
		audit:  audit,
		logger: logger,
		locks:  kmutex.New(),
	}
}

// Schema returns the schema registry the vault validates against.
func (v *Vault) Schema() *SchemaRegistry {
	return v.schema
}

// Save merges fields into the record for (vendorID, scope). Fields absent
// from the input keep their stored values. The merged record must satisfy
// the vendor's required fields for the scope. After the write, every supplied
// field is read back and compared; any mismatch fails the save with
// model.ErrPersistenceVerificationFailed.
func (v *Vault) Save(ctx context.Context, vendorID string, scope model.Scope, fields map[string]string, actor string) error {
	written, err := v.save(ctx, vendorID, scope, fields)

	detail := "fields: " + strings.Join(written, ", ")
	if err != nil {
		detail = err.Error()
		v.logger.Warn("credential save failed", "vendor_id", vendorID, "scope", scope.String(), "error", err)
	}
	v.audit.Record(ctx, model.AuditEntry{
		Actor:    actor,
		VendorID: vendorID,
		Scope:    scope,
		Action:   model.AuditActionWrite,
		Outcome:  outcomeFor(err),
		Detail:   detail,
	})

	return err
}

func (v *Vault) save(ctx context.Context, vendorID string, scope model.Scope, fields map[string]string) ([]string, error) {
	def, err := v.schema.Vendor(vendorID)
	if err != nil {
		return nil, err
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	supplied, err := v.schema.Normalize(vendorID, fields)
	if err != nil {
		return nil, err
	}
	if len(supplied) == 0 {
		return nil, &model.ValidationError{VendorID: vendorID, Reason: "no credential fields supplied"}
	}
	names := slices.Sorted(maps.Keys(supplied))

	stored := make(map[string]string, len(supplied))
	for _, name := range names {
		spec, _ := def.Field(name)
		if !spec.Sensitive {
			stored[name] = supplied[name]
			continue
		}
		env, err := v.cipher.Encrypt(supplied[name])
		if err != nil {
			return nil, fmt.Errorf("encrypt field %q: %w", name, err)
		}
		stored[name] = env.Encode()
	}

	key := model.CredentialKey{VendorID: vendorID, Scope: scope}
	v.locks.Lock(key.String())
	defer v.locks.Unlock(key.String())

	err = v.store.Update(ctx, key, func(current map[string]string) (map[string]string, error) {
		merged := maps.Clone(current)
		if merged == nil {
			merged = make(map[string]string, len(stored))
		}
		maps.Copy(merged, stored)

		if missing := def.MissingRequired(scope.Kind, merged); len(missing) > 0 {
			return nil, &model.ValidationError{VendorID: vendorID, Missing: missing}
		}
		return stored, nil
	})
	if err != nil {
		return nil, fmt.Errorf("save credential %s: %w", key, err)
	}

	if err := v.verify(ctx, key, def, supplied); err != nil {
		return nil, err
	}

	v.logger.Info("credential saved", "vendor_id", vendorID, "scope", scope.String(), "fields", names)
	return names, nil
}

// verify re-reads key and checks every supplied field round-trips to its
// plaintext value.
func (v *Vault) verify(ctx context.Context, key model.CredentialKey, def model.VendorDefinition, supplied map[string]string) error {
	rec, err := v.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %s: read back: %w", model.ErrPersistenceVerificationFailed, key, err)
	}
	if rec == nil {
		return fmt.Errorf("%w: %s: record missing after write", model.ErrPersistenceVerificationFailed, key)
	}

	var mismatched []string
	for _, name := range slices.Sorted(maps.Keys(supplied)) {
		got, err := v.reveal(def, name, rec.Fields[name])
		if err != nil || got == "" || got != supplied[name] {
			mismatched = append(mismatched, name)
		}
	}
	if len(mismatched) > 0 {
		return fmt.Errorf("%w: %s: fields [%s]", model.ErrPersistenceVerificationFailed, key, strings.Join(mismatched, ", "))
	}
	return nil
}

// reveal returns the plaintext of a stored field value.
func (v *Vault) reveal(def model.VendorDefinition, name, stored string) (string, error) {
	spec, ok := def.Field(name)
	if !ok || !spec.Sensitive {
		return stored, nil
	}
	if !model.IsEnvelope(stored) {
		return "", fmt.Errorf("%w: field %q is not an encrypted envelope", model.ErrDecrypt, name)
	}
	env, err := model.ParseEnvelope(stored)
	if err != nil {
		return "", fmt.Errorf("field %q: %w", name, err)
	}
	plaintext, err := v.cipher.Decrypt(env)
	if err != nil {
		return "", fmt.Errorf("field %q: %w", name, err)
	}
	return plaintext, nil
}

// Load returns the decrypted credential for (vendorID, scope), or (nil, nil)
// when none is configured. A tenant lookup for a shared vendor falls back to
// the admin record, with any tenant fields layered on top; for every other
// vendor the scopes never substitute for each other. A record that exists but
// cannot be decrypted wraps model.ErrDecrypt.
func (v *Vault) Load(ctx context.Context, vendorID string, scope model.Scope, actor string) (*model.CredentialRecord, error) {
	rec, err := v.load(ctx, vendorID, scope)
	v.recordRead(ctx, vendorID, scope, actor, rec, err, "")
	return rec, err
}

// Resolve returns the credential a tenant would actually use for vendorID:
// its own record, or for a shared vendor the admin record beneath it. The
// returned record's Scope names the record the tenant fields came from.
func (v *Vault) Resolve(ctx context.Context, vendorID, tenantID, actor string) (*model.CredentialRecord, error) {
	return v.Load(ctx, vendorID, model.TenantScope(tenantID), actor)
}

func (v *Vault) load(ctx context.Context, vendorID string, scope model.Scope) (*model.CredentialRecord, error) {
	def, stored, err := v.lookup(ctx, vendorID, scope)
	if err != nil || stored == nil {
		return nil, err
	}

	fields := make(map[string]string, len(stored.Fields))
	for name, value := range stored.Fields {
		if _, known := def.Field(name); !known {
			continue
		}
		plaintext, err := v.reveal(def, name, value)
		if err != nil {
			return nil, fmt.Errorf("load credential %s: %w", stored.Key, err)
		}
		fields[name] = plaintext
	}

	return &model.CredentialRecord{
		VendorID:  vendorID,
		Scope:     stored.Key.Scope,
		Fields:    fields,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

// LoadRedacted is Load for display: sensitive values are replaced by
// RedactedValue and non-sensitive values pass through. A sensitive value that
// cannot be decrypted fails with model.ErrDecrypt, exactly as Load does.
// Returns (nil, nil) when nothing is configured.
func (v *Vault) LoadRedacted(ctx context.Context, vendorID string, scope model.Scope, actor string) (*model.CredentialRecord, error) {
	rec, err := v.loadRedacted(ctx, vendorID, scope)
	v.recordRead(ctx, vendorID, scope, actor, rec, err, "redacted")
	return rec, err
}

func (v *Vault) loadRedacted(ctx context.Context, vendorID string, scope model.Scope) (*model.CredentialRecord, error) {
	def, stored, err := v.lookup(ctx, vendorID, scope)
	if err != nil || stored == nil {
		return nil, err
	}

	fields := make(map[string]string, len(stored.Fields))
	for name, value := range stored.Fields {
		spec, known := def.Field(name)
		switch {
		case !known:
			continue
		case spec.Sensitive:
			// Decrypted only to prove it is readable; the plaintext is dropped.
			if _, err := v.reveal(def, name, value); err != nil {
				return nil, err
			}
			fields[name] = RedactedValue
		default:
			fields[name] = value
		}
	}

	return &model.CredentialRecord{
		VendorID:  vendorID,
		Scope:     stored.Key.Scope,
		Fields:    fields,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

func (v *Vault) recordRead(ctx context.Context, vendorID string, scope model.Scope, actor string, rec *model.CredentialRecord, err error, detail string) {
	outcome := outcomeFor(err)
	switch {
	case err != nil:
		detail = err.Error()
	case rec == nil:
		outcome = model.AuditOutcomeNotFound
	case rec.Scope != scope:
		detail = strings.TrimSpace(detail + " source=" + rec.Scope.String())
	}

	v.audit.Record(ctx, model.AuditEntry{
		Actor:    actor,
		VendorID: vendorID,
		Scope:    scope,
		Action:   model.AuditActionRead,
		Outcome:  outcome,
		Detail:   detail,
	})
}

// lookup finds the stored record for a scope. For a shared vendor a tenant
// lookup falls back to the admin record, or layers the tenant record over it
// when both exist.
func (v *Vault) lookup(ctx context.Context, vendorID string, scope model.Scope) (model.VendorDefinition, *model.StoredCredential, error) {
	def, err := v.schema.Vendor(vendorID)
	if err != nil {
		return model.VendorDefinition{}, nil, err
	}
	if err := scope.Validate(); err != nil {
		return model.VendorDefinition{}, nil, err
	}

	stored, err := v.store.Get(ctx, model.CredentialKey{VendorID: vendorID, Scope: scope})
	if err != nil {
		return model.VendorDefinition{}, nil, err
	}
	if def.Shared && !scope.IsAdmin() {
		admin, err := v.store.Get(ctx, model.CredentialKey{VendorID: vendorID, Scope: model.AdminScope()})
		if err != nil {
			return model.VendorDefinition{}, nil, err
		}
		switch {
		case stored == nil:
			stored = admin
		case admin != nil:
			// Tenant fields win; admin-only fields such as a marketplace
			// developer key are filled in from the platform record.
			merged := maps.Clone(admin.Fields)
			maps.Copy(merged, stored.Fields)
			stored.Fields = merged
		}
	}

	return def, stored, nil
}

// Delete removes the record stored at exactly (vendorID, scope). Deleting a
// tenant record never touches the admin record and vice versa. Deleting a
// missing record is not an error.
func (v *Vault) Delete(ctx context.Context, vendorID string, scope model.Scope, actor string) error {
	existed, err := v.delete(ctx, vendorID, scope)

	outcome := outcomeFor(err)
	var detail string
	if err != nil {
		detail = err.Error()
	} else if !existed {
		outcome = model.AuditOutcomeNotFound
	}
	v.audit.Record(ctx, model.AuditEntry{
		Actor:    actor,
		VendorID: vendorID,
		Scope:    scope,
		Action:   model.AuditActionDelete,
		Outcome:  outcome,
		Detail:   detail,
	})

	return err
}

func (v *Vault) delete(ctx context.Context, vendorID string, scope model.Scope) (bool, error) {
	if strings.TrimSpace(vendorID) == "" {
		return false, fmt.Errorf("%w: empty vendor id", model.ErrUnknownVendor)
	}
	if err := scope.Validate(); err != nil {
		return false, err
	}

	key := model.CredentialKey{VendorID: vendorID, Scope: scope}
	v.locks.Lock(key.String())
	defer v.locks.Unlock(key.String())

	existed, err := v.store.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	if existed {
		v.logger.Info("credential deleted", "vendor_id", vendorID, "scope", scope.String())
	}
	return existed, nil
}

// Overlay merges unsaved input over the stored credential for a connection
// test of not-yet-saved values. Nothing is persisted. The merged set must
// satisfy the vendor's required fields for the scope.
func (v *Vault) Overlay(ctx context.Context, vendorID string, scope model.Scope, fields map[string]string) (map[string]string, error) {
	def, err := v.schema.Vendor(vendorID)
	if err != nil {
		return nil, err
	}
	supplied, err := v.schema.Normalize(vendorID, fields)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]string, len(def.Fields))
	rec, err := v.load(ctx, vendorID, scope)
	switch {
	case errors.Is(err, model.ErrDecrypt):
		// Unreadable stored values are replaced wholesale by the input;
		// the required-field check below reports anything left missing.
	case err != nil:
		return nil, err
	case rec != nil:
		maps.Copy(merged, rec.Fields)
	}
	maps.Copy(merged, supplied)

	kind := scope.Kind
	if rec != nil {
		kind = rec.Scope.Kind
	}
	if missing := def.MissingRequired(kind, merged); len(missing) > 0 {
		return nil, &model.ValidationError{VendorID: vendorID, Missing: missing}
	}
	return merged, nil
}

// Status lists every catalog vendor with whether it is configured for scope,
// without reading any credential values.
func (v *Vault) Status(ctx context.Context, scope model.Scope) ([]model.VendorStatus, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	own, err := v.store.ListByScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	byVendor := make(map[string]model.StoredCredential, len(own))
	for _, rec := range own {
		byVendor[rec.Key.VendorID] = rec
	}

	adminByVendor := byVendor
	if !scope.IsAdmin() {
		admin, err := v.store.ListByScope(ctx, model.AdminScope())
		if err != nil {
			return nil, err
		}
		adminByVendor = make(map[string]model.StoredCredential, len(admin))
		for _, rec := range admin {
			adminByVendor[rec.Key.VendorID] = rec
		}
	}

	defs, err := v.schema.Vendors()
	if err != nil {
		return nil, err
	}

	statuses := make([]model.VendorStatus, 0, len(defs))
	for _, def := range defs {
		st := model.VendorStatus{
			VendorID:    def.ID,
			DisplayName: def.DisplayName,
			Shared:      def.Shared,
		}

		rec, ok := byVendor[def.ID]
		if !ok && def.Shared {
			rec, ok = adminByVendor[def.ID]
		}
		if ok {
			st.Configured = true
			st.Source = rec.Key.Scope
			st.UpdatedAt = rec.UpdatedAt
			st.Missing = def.MissingRequired(rec.Key.Scope.Kind, rec.Fields)
			st.Complete = len(st.Missing) == 0
		}
		statuses = append(statuses, st)
	}

	return statuses, nil
}
