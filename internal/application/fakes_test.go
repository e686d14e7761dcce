package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/vendorvault/internal/adapter/driven/aesgcm"
	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- memStore: in-memory CredentialStore ---

type memStore struct {
	mu      sync.Mutex
	records map[model.CredentialKey]*model.StoredCredential
	now     func() time.Time

	// corrupt, when set, rewrites values on their way into the store.
	corrupt func(field, value string) string
	// getErr, when set, is returned by Get.
	getErr error
}

var _ driven.CredentialStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		records: make(map[model.CredentialKey]*model.StoredCredential),
		now:     func() time.Time { return testNow },
	}
}

func (s *memStore) Get(_ context.Context, key model.CredentialKey) (*model.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.Fields = maps.Clone(rec.Fields)
	return &cp, nil
}

func (s *memStore) Update(_ context.Context, key model.CredentialKey, merge driven.MergeFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := map[string]string{}
	if rec, ok := s.records[key]; ok {
		current = maps.Clone(rec.Fields)
	}
	set, err := merge(current)
	if err != nil {
		return err
	}
	if len(set) == 0 {
		return nil
	}

	rec, ok := s.records[key]
	if !ok {
		rec = &model.StoredCredential{Key: key, Fields: map[string]string{}}
		s.records[key] = rec
	}
	for field, value := range set {
		if s.corrupt != nil {
			value = s.corrupt(field, value)
		}
		rec.Fields[field] = value
	}
	rec.UpdatedAt = s.now()
	return nil
}

func (s *memStore) Delete(_ context.Context, key model.CredentialKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	delete(s.records, key)
	return ok, nil
}

func (s *memStore) ListByScope(_ context.Context, scope model.Scope) ([]model.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.StoredCredential
	for key, rec := range s.records {
		if key.Scope != scope {
			continue
		}
		cp := *rec
		cp.Fields = maps.Clone(rec.Fields)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.VendorID < out[j].Key.VendorID })
	return out, nil
}

// raw returns the stored value without decryption.
func (s *memStore) raw(key model.CredentialKey, field string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		return rec.Fields[field]
	}
	return ""
}

// --- memAudit: in-memory AuditSink ---

type memAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	err     error
}

func (a *memAudit) Append(_ context.Context, entry model.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memAudit) all() []model.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.AuditEntry(nil), a.entries...)
}

func (a *memAudit) last(t *testing.T) model.AuditEntry {
	t.Helper()
	entries := a.all()
	require.NotEmpty(t, entries)
	return entries[len(entries)-1]
}

// --- stub handlers ---

type stubHandler struct {
	mu     sync.Mutex
	result model.ConnectionResult
	calls  []map[string]string
}

func (h *stubHandler) TestConnection(_ context.Context, fields map[string]string) model.ConnectionResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, maps.Clone(fields))
	return h.result
}

func (h *stubHandler) lastCall(t *testing.T) map[string]string {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.calls)
	return h.calls[len(h.calls)-1]
}

type stubCatalogHandler struct {
	stubHandler
	listing model.CatalogListing
	err     error
}

func (h *stubCatalogHandler) FetchCatalog(_ context.Context, _ map[string]string) (model.CatalogListing, error) {
	return h.listing, h.err
}

var errStub = errors.New("stub failure")

// --- test catalog ---

func testDefinitions() []model.VendorDefinition {
	return []model.VendorDefinition{
		{
			ID:           "bill-hicks",
			DisplayName:  "Bill Hicks & Co.",
			Handler:      "ftp",
			Capabilities: []model.Capability{model.CapabilityConnectionTest, model.CapabilityCatalogFetch},
			Fields: []model.CredentialFieldSpec{
				{Name: "ftp_server", Kind: model.FieldKindText, Required: true, Aliases: []string{"ftpServer", "ftp_host"}},
				{Name: "ftp_username", Kind: model.FieldKindText, Required: true, Aliases: []string{"ftpUsername", "username"}},
				{Name: "ftp_password", Kind: model.FieldKindSecret, Sensitive: true, Required: true, Aliases: []string{"ftpPassword", "password"}},
				{Name: "ftp_path", Kind: model.FieldKindText},
			},
		},
		{
			ID:           "chattanooga",
			DisplayName:  "Chattanooga Shooting Supplies",
			Handler:      "rest",
			Capabilities: []model.Capability{model.CapabilityConnectionTest},
			Fields: []model.CredentialFieldSpec{
				{Name: "api_sid", Kind: model.FieldKindText, Required: true, Aliases: []string{"sid"}},
				{Name: "api_token", Kind: model.FieldKindSecret, Sensitive: true, Required: true, Aliases: []string{"token"}},
			},
		},
		{
			ID:           "gunbroker",
			DisplayName:  "GunBroker",
			Handler:      "rest",
			Shared:       true,
			Capabilities: []model.Capability{model.CapabilityConnectionTest},
			Fields: []model.CredentialFieldSpec{
				{Name: "dev_key", Kind: model.FieldKindSecret, Sensitive: true, Required: true,
					RequiredScopes: []model.ScopeKind{model.ScopeAdmin}},
				{Name: "username", Kind: model.FieldKindText, Required: true,
					RequiredScopes: []model.ScopeKind{model.ScopeTenant}},
				{Name: "environment", Kind: model.FieldKindChoice, Choices: []string{"sandbox", "production"}},
			},
		},
	}
}

// testCipher derives the key once; scrypt is slow on purpose.
var testCipher = sync.OnceValues(func() (*aesgcm.Cipher, error) {
	return aesgcm.New("test-secret", aesgcm.DefaultSalt)
})

type vaultFixture struct {
	vault *Vault
	store *memStore
	audit *memAudit
	clock *testclock.Clock
}

func newVaultFixture(t *testing.T) *vaultFixture {
	t.Helper()

	schema, err := NewSchemaRegistry(testDefinitions())
	require.NoError(t, err)

	cipher, err := testCipher()
	require.NoError(t, err)

	clk := testclock.NewClock(testNow)
	store := newMemStore()
	sink := &memAudit{}
	recorder := NewAuditRecorder(clk, discardLogger(), sink)

	return &vaultFixture{
		vault: NewVault(schema, store, cipher, recorder, discardLogger()),
		store: store,
		audit: sink,
		clock: clk,
	}
}
