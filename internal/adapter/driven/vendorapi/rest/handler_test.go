package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

func vendorDef(baseURL string, opts map[string]string) model.VendorDefinition {
	options := map[string]string{
		"base_url":          baseURL,
		"test_path":         "/ping",
		"catalog_path":      "/feed",
		"order_path":        "/orders",
		"auth_scheme":       "basic",
		"auth_user_field":   "api_sid",
		"auth_secret_field": "api_token",
	}
	for k, v := range opts {
		options[k] = v
	}
	return model.VendorDefinition{
		ID:      "acme",
		Handler: Kind,
		Fields: []model.CredentialFieldSpec{
			{Name: "api_sid", Required: true},
			{Name: "api_token", Sensitive: true, Required: true},
			{Name: "environment", Kind: model.FieldKindChoice, Choices: []string{"production", "sandbox"}},
		},
		Options: options,
	}
}

var creds = map[string]string{"api_sid": "sid-123", "api_token": "tok-secret"}

func TestTestConnection_BasicAuthSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/ping", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sid-123", user)
		assert.Equal(t, "tok-secret", pass)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, err := New(vendorDef(srv.URL+"/v5/", nil), Config{})
	require.NoError(t, err)

	got := h.TestConnection(context.Background(), creds)
	assert.True(t, got.Success)
	assert.Contains(t, got.Message, "HTTP 200")
}

func TestTestConnection_RejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "<html><body><h1>Invalid   token</h1><script>alert(1)</script> tok-secret</body></html>")
	}))
	defer srv.Close()

	h, err := New(vendorDef(srv.URL, nil), Config{})
	require.NoError(t, err)

	got := h.TestConnection(context.Background(), creds)
	assert.False(t, got.Success)
	assert.Equal(t, "authentication rejected (HTTP 401): Invalid token [redacted]", got.Message)
}

func TestTestConnection_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h, err := New(vendorDef(srv.URL, nil), Config{})
	require.NoError(t, err)

	got := h.TestConnection(context.Background(), creds)
	assert.False(t, got.Success)
	assert.Equal(t, "vendor error (HTTP 502)", got.Message)
}

func TestTestConnection_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h, err := New(vendorDef(url, nil), Config{})
	require.NoError(t, err)

	got := h.TestConnection(context.Background(), creds)
	assert.False(t, got.Success)
	assert.True(t, strings.HasPrefix(got.Message, "request failed: "))
}

func TestTestConnection_MissingCredentialField(t *testing.T) {
	h, err := New(vendorDef("https://vendor.invalid", nil), Config{})
	require.NoError(t, err)

	got := h.TestConnection(context.Background(), map[string]string{"api_sid": "sid"})
	assert.False(t, got.Success)
	assert.Contains(t, got.Message, `"api_token"`)
}

func TestTestConnection_AuthSchemes(t *testing.T) {
	tests := []struct {
		name  string
		opts  map[string]string
		check func(t *testing.T, r *http.Request)
	}{
		{
			name: "bearer",
			opts: map[string]string{"auth_scheme": "bearer", "auth_user_field": ""},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "Bearer tok-secret", r.Header.Get("Authorization"))
			},
		},
		{
			name: "header",
			opts: map[string]string{"auth_scheme": "header", "auth_header": "X-DevKey", "auth_user_field": ""},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "tok-secret", r.Header.Get("X-DevKey"))
			},
		},
		{
			name: "query",
			opts: map[string]string{
				"auth_scheme": "query", "auth_user_param": "UserName", "auth_secret_param": "Password",
				"test_path": "/ping?LastItem=-1",
			},
			check: func(t *testing.T, r *http.Request) {
				q := r.URL.Query()
				assert.Equal(t, "sid-123", q.Get("UserName"))
				assert.Equal(t, "tok-secret", q.Get("Password"))
				assert.Equal(t, "-1", q.Get("LastItem"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.check(t, r)
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			h, err := New(vendorDef(srv.URL, tt.opts), Config{})
			require.NoError(t, err)
			got := h.TestConnection(context.Background(), creds)
			assert.True(t, got.Success, got.Message)
		})
	}
}

func TestTestConnection_SandboxEnvironment(t *testing.T) {
	var prodHits, sandboxHits atomic.Int32
	prod := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { prodHits.Add(1) }))
	defer prod.Close()
	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { sandboxHits.Add(1) }))
	defer sandbox.Close()

	h, err := New(vendorDef(prod.URL, map[string]string{"sandbox_base_url": sandbox.URL}), Config{})
	require.NoError(t, err)

	fields := map[string]string{"api_sid": "s", "api_token": "t", "environment": "sandbox"}
	assert.True(t, h.TestConnection(context.Background(), fields).Success)
	assert.True(t, h.TestConnection(context.Background(), creds).Success)
	assert.Equal(t, int32(1), sandboxHits.Load())
	assert.Equal(t, int32(1), prodHits.Load())
}

func TestNew_RejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts map[string]string
	}{
		{name: "missing base url", opts: map[string]string{"base_url": ""}},
		{name: "ftp base url", opts: map[string]string{"base_url": "ftp://vendor.example"}},
		{name: "unknown scheme", opts: map[string]string{"auth_scheme": "kerberos"}},
		{name: "undeclared field", opts: map[string]string{"auth_secret_field": "nope"}},
		{name: "header without name", opts: map[string]string{"auth_scheme": "header"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(vendorDef("https://vendor.example", tt.opts), Config{})
			assert.Error(t, err)
		})
	}
}

func TestFetchCatalog(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "item_number,upc,\"description\",qty\nA1,0001,Widget,4\n")
	}))
	defer srv.Close()

	h, err := New(vendorDef(srv.URL, nil), Config{})
	require.NoError(t, err)

	first, err := h.FetchCatalog(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, []string{"item_number", "upc", "description", "qty"}, first.Entries)
	assert.Equal(t, srv.URL+"/feed", first.Source)
	assert.False(t, first.FromCache)
	assert.Positive(t, first.Bytes)

	second, err := h.FetchCatalog(context.Background(), creds)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchCatalog_CacheIsPerCredential(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		user, pass, _ := r.BasicAuth()
		if user != "sid-123" || pass != "tok-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Cache-Control", "max-age=3600")
		_, _ = io.WriteString(w, "item_number,qty\nA1,4\n")
	}))
	defer srv.Close()

	h, err := New(vendorDef(srv.URL, nil), Config{})
	require.NoError(t, err)

	_, err = h.FetchCatalog(context.Background(), creds)
	require.NoError(t, err)

	other := map[string]string{"api_sid": "tenant2", "api_token": "wrong-token"}
	_, err = h.FetchCatalog(context.Background(), other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
	assert.Equal(t, int32(2), hits.Load())

	again, err := h.FetchCatalog(context.Background(), creds)
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchCatalog_QueryAuthKeepsSecretsOutOfSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"items":[],"updated":"today"}`)
	}))
	defer srv.Close()

	h, err := New(vendorDef(srv.URL, map[string]string{
		"auth_scheme": "query", "auth_user_param": "u", "auth_secret_param": "p",
	}), Config{})
	require.NoError(t, err)

	got, err := h.FetchCatalog(context.Background(), creds)
	require.NoError(t, err)
	assert.NotContains(t, got.Source, "tok-secret")
	assert.Equal(t, []string{"items", "updated"}, got.Entries)
}

func TestFetchCatalog_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "feed offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h, err := New(vendorDef(srv.URL, nil), Config{})
	require.NoError(t, err)

	_, err = h.FetchCatalog(context.Background(), creds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
	assert.Contains(t, err.Error(), "feed offline")
}

func TestFetchCatalog_NoPath(t *testing.T) {
	h, err := New(vendorDef("https://vendor.example", map[string]string{"catalog_path": ""}), Config{})
	require.NoError(t, err)

	_, err = h.FetchCatalog(context.Background(), creds)
	require.ErrorIs(t, err, model.ErrCapabilityNotSupported)
}

func TestSubmitOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got orderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "PO-7", got.Reference)
		assert.Equal(t, []orderLine{{SKU: "A1", Quantity: 2}}, got.Lines)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"orderId": 98765, "message": "<b>queued</b>"}`)
	}))
	defer srv.Close()

	h, err := New(vendorDef(srv.URL, nil), Config{})
	require.NoError(t, err)

	receipt, err := h.SubmitOrder(context.Background(), creds, model.Order{
		Reference: "PO-7",
		Lines:     []model.OrderLine{{SKU: "A1", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "98765", receipt.VendorReference)
	assert.Equal(t, "queued", receipt.Message)
}

func TestSubmitOrder_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown sku", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	h, err := New(vendorDef(srv.URL, nil), Config{})
	require.NoError(t, err)

	_, err = h.SubmitOrder(context.Background(), creds, model.Order{
		Reference: "PO-8",
		Lines:     []model.OrderLine{{SKU: "ZZ", Quantity: 1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sku")
}
