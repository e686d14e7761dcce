package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

type connectionFixture struct {
	*vaultFixture
	registry *HandlerRegistry
	svc      *ConnectionService
}

func newConnectionFixture(t *testing.T) *connectionFixture {
	t.Helper()
	vf := newVaultFixture(t)
	registry := NewHandlerRegistry(discardLogger())
	queue := newTestQueue(t, 2)
	recorder := NewAuditRecorder(vf.clock, discardLogger(), vf.audit)

	return &connectionFixture{
		vaultFixture: vf,
		registry:     registry,
		svc:          NewConnectionService(vf.vault, registry, queue, recorder, discardLogger()),
	}
}

func (f *connectionFixture) saveBillHicks(t *testing.T, scope model.Scope) {
	t.Helper()
	require.NoError(t, f.vault.Save(context.Background(), "bill-hicks", scope, map[string]string{
		"ftp_server": "ftp.example.com", "ftp_username": "u", "ftp_password": "p",
	}, "alice"))
}

func TestConnectionService_HandlerFailureReturnedVerbatim(t *testing.T) {
	f := newConnectionFixture(t)
	scope := model.TenantScope("T")
	f.saveBillHicks(t, scope)

	h := &stubHandler{result: model.ConnectionResult{Success: false, Message: "bad creds"}}
	f.registry.Register("bill-hicks", h)

	got, err := f.svc.TestConnection(context.Background(), "bill-hicks", scope, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionResult{Success: false, Message: "bad creds"}, got)

	entry := f.audit.last(t)
	assert.Equal(t, model.AuditActionTest, entry.Action)
	assert.Equal(t, model.AuditOutcomeFailure, entry.Outcome)
	assert.Contains(t, entry.Detail, "bad creds")
}

func TestConnectionService_PassesDecryptedFields(t *testing.T) {
	f := newConnectionFixture(t)
	scope := model.TenantScope("T")
	f.saveBillHicks(t, scope)

	h := &stubHandler{result: model.ConnectionResult{Success: true, Message: "connected"}}
	f.registry.Register("bill-hicks", h)

	got, err := f.svc.TestConnection(context.Background(), "bill-hicks", scope, "alice")
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, map[string]string{
		"ftp_server": "ftp.example.com", "ftp_username": "u", "ftp_password": "p",
	}, h.lastCall(t))
	assert.Equal(t, model.AuditOutcomeSuccess, f.audit.last(t).Outcome)
}

func TestConnectionService_NotConfigured(t *testing.T) {
	f := newConnectionFixture(t)
	h := &stubHandler{result: model.ConnectionResult{Success: true}}
	f.registry.Register("bill-hicks", h)

	_, err := f.svc.TestConnection(context.Background(), "bill-hicks", model.TenantScope("T"), "alice")
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, h.calls)
	assert.Equal(t, model.AuditOutcomeNotFound, f.audit.last(t).Outcome)
}

func TestConnectionService_VendorNotRegistered(t *testing.T) {
	f := newConnectionFixture(t)
	f.saveBillHicks(t, model.TenantScope("T"))

	_, err := f.svc.TestConnection(context.Background(), "bill-hicks", model.TenantScope("T"), "alice")
	require.ErrorIs(t, err, model.ErrVendorNotRegistered)
	assert.Equal(t, uint64(0), f.svc.QueueStats().Completed, "misconfiguration never occupies a slot")
}

func TestConnectionService_UnknownVendor(t *testing.T) {
	f := newConnectionFixture(t)

	_, err := f.svc.TestConnection(context.Background(), "nope", model.TenantScope("T"), "alice")
	require.ErrorIs(t, err, model.ErrUnknownVendor)
}

func TestConnectionService_TestFieldsDoesNotPersist(t *testing.T) {
	f := newConnectionFixture(t)
	scope := model.TenantScope("T")
	f.saveBillHicks(t, scope)

	h := &stubHandler{result: model.ConnectionResult{Success: true}}
	f.registry.Register("bill-hicks", h)

	_, err := f.svc.TestFields(context.Background(), "bill-hicks", scope, map[string]string{"ftpPassword": "candidate"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "candidate", h.lastCall(t)["ftp_password"])
	assert.Equal(t, "ftp.example.com", h.lastCall(t)["ftp_server"])

	rec, err := f.vault.Load(context.Background(), "bill-hicks", scope, "alice")
	require.NoError(t, err)
	assert.Equal(t, "p", rec.Fields["ftp_password"])
}

func TestConnectionService_TestFieldsValidation(t *testing.T) {
	f := newConnectionFixture(t)
	f.registry.Register("bill-hicks", &stubHandler{})

	_, err := f.svc.TestFields(context.Background(), "bill-hicks", model.TenantScope("T"), map[string]string{"bogus": "x"}, "alice")
	assert.True(t, model.IsValidation(err))
}

func TestConnectionService_SharedVendorUsesAdminCredential(t *testing.T) {
	f := newConnectionFixture(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Save(ctx, "gunbroker", model.AdminScope(), map[string]string{"dev_key": "dk"}, "root"))

	h := &stubHandler{result: model.ConnectionResult{Success: true}}
	f.registry.Register("gunbroker", h)

	_, err := f.svc.TestConnection(ctx, "gunbroker", model.TenantScope("T"), "alice")
	require.NoError(t, err)
	assert.Equal(t, "dk", h.lastCall(t)["dev_key"])
}

func TestConnectionService_FetchCatalog(t *testing.T) {
	f := newConnectionFixture(t)
	scope := model.TenantScope("T")
	f.saveBillHicks(t, scope)

	want := model.CatalogListing{Source: "ftp://ftp.example.com/", Entries: []string{"inventory.csv"}}
	f.registry.Register("bill-hicks", &stubCatalogHandler{listing: want})

	got, err := f.svc.FetchCatalog(context.Background(), "bill-hicks", scope, "alice")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entry := f.audit.last(t)
	assert.Equal(t, model.AuditActionUse, entry.Action)
	assert.Equal(t, model.AuditOutcomeSuccess, entry.Outcome)
}

func TestConnectionService_CapabilityNotSupported(t *testing.T) {
	f := newConnectionFixture(t)
	f.saveBillHicks(t, model.TenantScope("T"))
	f.registry.Register("bill-hicks", &stubHandler{})

	_, err := f.svc.FetchCatalog(context.Background(), "bill-hicks", model.TenantScope("T"), "alice")
	require.ErrorIs(t, err, model.ErrCapabilityNotSupported)

	_, err = f.svc.SubmitOrder(context.Background(), "bill-hicks", model.TenantScope("T"), model.Order{Reference: "PO-1"}, "alice")
	require.ErrorIs(t, err, model.ErrCapabilityNotSupported)
}
