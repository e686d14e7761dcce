package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

func TestHandlerRegistry_RegisterAndResolve(t *testing.T) {
	r := NewHandlerRegistry(discardLogger())
	h := &stubHandler{}

	caps := r.Register("chattanooga", h)
	assert.Equal(t, []model.Capability{model.CapabilityConnectionTest}, caps)

	got, err := r.Resolve("chattanooga")
	require.NoError(t, err)
	assert.Same(t, h, got)

	_, err = r.Resolve("Chattanooga Shooting Supplies")
	require.ErrorIs(t, err, model.ErrVendorNotRegistered)

	_, err = r.Resolve("CHATTANOOGA")
	require.ErrorIs(t, err, model.ErrVendorNotRegistered)
}

func TestHandlerRegistry_RecordsImplementedCapabilities(t *testing.T) {
	r := NewHandlerRegistry(discardLogger())
	r.Register("bill-hicks", &stubCatalogHandler{})

	assert.True(t, r.Supports("bill-hicks", model.CapabilityConnectionTest))
	assert.True(t, r.Supports("bill-hicks", model.CapabilityCatalogFetch))
	assert.False(t, r.Supports("bill-hicks", model.CapabilityOrderSubmit))
	assert.False(t, r.Supports("unknown", model.CapabilityConnectionTest))

	_, err := r.Capabilities("unknown")
	require.ErrorIs(t, err, model.ErrVendorNotRegistered)
}

func TestHandlerRegistry_Discover(t *testing.T) {
	r := NewHandlerRegistry(discardLogger())

	var built []string
	r.RegisterFactory("ftp", func(def model.VendorDefinition) (driven.VendorHandler, error) {
		built = append(built, def.ID)
		return &stubCatalogHandler{}, nil
	})
	r.RegisterFactory("rest", func(def model.VendorDefinition) (driven.VendorHandler, error) {
		built = append(built, def.ID)
		if def.ID == "gunbroker" {
			return nil, errStub
		}
		// Implements catalog fetch, but chattanooga does not declare it.
		return &stubCatalogHandler{}, nil
	})

	err := r.Discover(testDefinitions())
	require.ErrorIs(t, err, errStub)

	assert.Equal(t, []string{"bill-hicks", "chattanooga", "gunbroker"}, built)
	assert.Equal(t, []string{"bill-hicks", "chattanooga"}, r.Registered())

	caps, err := r.Capabilities("bill-hicks")
	require.NoError(t, err)
	assert.Equal(t, []model.Capability{model.CapabilityConnectionTest, model.CapabilityCatalogFetch}, caps)

	caps, err = r.Capabilities("chattanooga")
	require.NoError(t, err)
	assert.Equal(t, []model.Capability{model.CapabilityConnectionTest}, caps)
}

func TestHandlerRegistry_DiscoverSkipsUnknownKind(t *testing.T) {
	r := NewHandlerRegistry(discardLogger())

	err := r.Discover([]model.VendorDefinition{{ID: "v", Handler: "carrier-pigeon"}})
	require.NoError(t, err)
	assert.Empty(t, r.Registered())
}
