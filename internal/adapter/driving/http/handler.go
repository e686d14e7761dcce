package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/vendorvault/internal/application"
	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

const (
	// actorHeader names the caller recorded in the audit log.
	actorHeader  = "X-Actor"
	defaultActor = "anonymous"

	maxBodyBytes = 1 << 20
	maxAuditRows = 1000
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	vault    *application.Vault
	conn     *application.ConnectionService
	registry *application.HandlerRegistry
	audit    driven.AuditStore
	logger   *slog.Logger

	// callTimeout bounds a vendor call including its time in the queue.
	// Zero leaves the request context as the only limit.
	callTimeout time.Duration
}

// HandlerOption configures optional Handler behaviour.
type HandlerOption func(*Handler)

// WithCallTimeout bounds every vendor call made on behalf of a request. A
// call that does not finish in d is answered with 504.
func WithCallTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.callTimeout = d }
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	vault *application.Vault,
	conn *application.ConnectionService,
	registry *application.HandlerRegistry,
	audit driven.AuditStore,
	logger *slog.Logger,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		vault:    vault,
		conn:     conn,
		registry: registry,
		audit:    audit,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// callContext derives the context for a vendor call from r.
func (h *Handler) callContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.callTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.callTimeout)
}

// credentialPrefixes are the two scope families of the credential API. The
// tenant family carries the tenant id in the path.
var credentialPrefixes = []string{
	"/api/v1/admin/credentials",
	"/api/v1/tenants/{tenantID}/credentials",
}

// RegisterAPIRoutes registers all JSON API routes on mux.
func RegisterAPIRoutes(mux *http.ServeMux, h *Handler) {
	for _, prefix := range credentialPrefixes {
		mux.HandleFunc("GET "+prefix, h.ListCredentials)
		mux.HandleFunc("GET "+prefix+"/{$}", h.ListCredentials)
		mux.HandleFunc("GET "+prefix+"/{vendorID}", h.GetCredential)
		mux.HandleFunc("POST "+prefix+"/{vendorID}", h.SaveCredential)
		mux.HandleFunc("DELETE "+prefix+"/{vendorID}", h.DeleteCredential)
		mux.HandleFunc("POST "+prefix+"/{vendorID}/test", h.TestCredential)
		mux.HandleFunc("POST "+prefix+"/{vendorID}/test-fields", h.TestFields)
		mux.HandleFunc("POST "+prefix+"/{vendorID}/catalog", h.FetchCatalog)
		mux.HandleFunc("POST "+prefix+"/{vendorID}/orders", h.SubmitOrder)
	}

	mux.HandleFunc("GET /api/v1/vendors", h.ListVendors)
	mux.HandleFunc("GET /api/v1/vendors/{vendorID}", h.GetVendor)
	mux.HandleFunc("GET /api/v1/audit", h.ListAudit)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request id, logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	RegisterAPIRoutes(mux, h)
	return ApplyMiddleware(mux, logger)
}

// scopeOf returns the credential scope addressed by the request path.
func scopeOf(r *http.Request) model.Scope {
	if strings.HasPrefix(r.URL.Path, "/api/v1/admin/") {
		return model.AdminScope()
	}
	return model.TenantScope(r.PathValue("tenantID"))
}

// actorOf returns the caller named in the X-Actor header.
func actorOf(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(actorHeader)); a != "" {
		return a
	}
	return defaultActor
}

// writeServiceError maps an application error onto an HTTP status.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   ve.Error(),
			Unknown: ve.Unknown,
			Missing: ve.Missing,
			Invalid: ve.Invalid,
		})
	case errors.Is(err, model.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrUnknownVendor):
		writeError(w, http.StatusNotFound, "unknown vendor")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "credential not configured")
	case errors.Is(err, model.ErrCapabilityNotSupported), errors.Is(err, model.ErrVendorNotRegistered):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, model.ErrDecrypt):
		writeError(w, http.StatusConflict, "credential present but unreadable")
	case errors.Is(err, model.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "service shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timed out waiting for the vendor call")
	default:
		h.logger.Error("request failed",
			"op", op,
			"vendor_id", r.PathValue("vendorID"),
			"request_id", RequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeFields reads a flat JSON object of credential fields. Numbers and
// booleans are accepted and rendered as strings; null means "not supplied".
func decodeFields(r *http.Request) (map[string]string, error) {
	var raw map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.New("invalid request body: expected a JSON object of credential fields")
	}

	fields := make(map[string]string, len(raw))
	for name, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			fields[name] = val
		case json.Number:
			fields[name] = val.String()
		case bool:
			fields[name] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("invalid request body: field %q must be a string", name)
		}
	}
	return fields, nil
}

// ListCredentials returns the configuration status of every catalog vendor
// for the addressed scope. No credential values are included.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.vault.Status(r.Context(), scopeOf(r))
	if err != nil {
		h.writeServiceError(w, r, "list credentials", err)
		return
	}

	resp := make([]VendorStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		resp = append(resp, toVendorStatusResponse(st))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetCredential returns the credential for one vendor with sensitive values
// redacted.
func (h *Handler) GetCredential(w http.ResponseWriter, r *http.Request) {
	vendorID := r.PathValue("vendorID")

	rec, err := h.vault.LoadRedacted(r.Context(), vendorID, scopeOf(r), actorOf(r))
	if err != nil {
		h.writeServiceError(w, r, "get credential", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "credential not configured")
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(rec))
}

// SaveCredential merges the posted fields into the stored credential and
// returns the redacted result.
func (h *Handler) SaveCredential(w http.ResponseWriter, r *http.Request) {
	vendorID := r.PathValue("vendorID")
	scope := scopeOf(r)
	actor := actorOf(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	fields, err := decodeFields(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.vault.Save(r.Context(), vendorID, scope, fields, actor); err != nil {
		h.writeServiceError(w, r, "save credential", err)
		return
	}

	rec, err := h.vault.LoadRedacted(r.Context(), vendorID, scope, actor)
	if err != nil || rec == nil {
		// The save itself succeeded and was verified.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toCredentialResponse(rec))
}

// DeleteCredential removes the credential for one vendor at the addressed
// scope. Deleting an absent credential succeeds.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.Delete(r.Context(), r.PathValue("vendorID"), scopeOf(r), actorOf(r)); err != nil {
		h.writeServiceError(w, r, "delete credential", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TestCredential runs a connection test with the stored credential. A vendor
// rejecting the credential is a 200 with success false.
func (h *Handler) TestCredential(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.callContext(r)
	defer cancel()

	result, err := h.conn.TestConnection(ctx, r.PathValue("vendorID"), scopeOf(r), actorOf(r))
	if err != nil {
		h.writeServiceError(w, r, "test credential", err)
		return
	}

	writeJSON(w, http.StatusOK, ConnectionResultResponse{Success: result.Success, Message: result.Message})
}

// TestFields runs a connection test with the posted fields merged over the
// stored credential. Nothing is saved.
func (h *Handler) TestFields(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	fields, err := decodeFields(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := h.callContext(r)
	defer cancel()

	result, err := h.conn.TestFields(ctx, r.PathValue("vendorID"), scopeOf(r), fields, actorOf(r))
	if err != nil {
		h.writeServiceError(w, r, "test fields", err)
		return
	}

	writeJSON(w, http.StatusOK, ConnectionResultResponse{Success: result.Success, Message: result.Message})
}

// FetchCatalog lists the vendor's catalog with the stored credential.
func (h *Handler) FetchCatalog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.callContext(r)
	defer cancel()

	listing, err := h.conn.FetchCatalog(ctx, r.PathValue("vendorID"), scopeOf(r), actorOf(r))
	if err != nil {
		if isVendorFailure(err) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		h.writeServiceError(w, r, "fetch catalog", err)
		return
	}

	writeJSON(w, http.StatusOK, toCatalogResponse(listing))
}

// SubmitOrder places an order with the vendor using the stored credential.
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Reference) == "" || len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "order needs a reference and at least one line")
		return
	}

	order := model.Order{Reference: req.Reference, Lines: make([]model.OrderLine, 0, len(req.Lines))}
	for _, l := range req.Lines {
		if l.SKU == "" || l.Quantity < 1 {
			writeError(w, http.StatusBadRequest, "every order line needs a sku and a positive quantity")
			return
		}
		order.Lines = append(order.Lines, model.OrderLine{SKU: l.SKU, Quantity: l.Quantity})
	}

	ctx, cancel := h.callContext(r)
	defer cancel()

	receipt, err := h.conn.SubmitOrder(ctx, r.PathValue("vendorID"), scopeOf(r), order, actorOf(r))
	if err != nil {
		if isVendorFailure(err) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		h.writeServiceError(w, r, "submit order", err)
		return
	}

	writeJSON(w, http.StatusCreated, OrderReceiptResponse{VendorReference: receipt.VendorReference, Message: receipt.Message})
}

// isVendorFailure reports whether err came from the vendor call itself rather
// than from a known application condition.
func isVendorFailure(err error) bool {
	for _, known := range []error{
		model.ErrUnknownVendor, model.ErrNotFound, model.ErrDecrypt, model.ErrInvalidScope,
		model.ErrCapabilityNotSupported, model.ErrVendorNotRegistered, model.ErrQueueClosed,
		context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return false
		}
	}
	return !model.IsValidation(err)
}

// ListVendors returns the vendor catalog without any credential data.
func (h *Handler) ListVendors(w http.ResponseWriter, r *http.Request) {
	defs, err := h.vault.Schema().Vendors()
	if err != nil {
		h.writeServiceError(w, r, "list vendors", err)
		return
	}

	resp := make([]VendorResponse, 0, len(defs))
	for _, def := range defs {
		resp = append(resp, h.vendorResponse(def))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetVendor returns one catalog entry.
func (h *Handler) GetVendor(w http.ResponseWriter, r *http.Request) {
	def, err := h.vault.Schema().Vendor(r.PathValue("vendorID"))
	if err != nil {
		h.writeServiceError(w, r, "get vendor", err)
		return
	}

	writeJSON(w, http.StatusOK, h.vendorResponse(def))
}

func (h *Handler) vendorResponse(def model.VendorDefinition) VendorResponse {
	caps, err := h.registry.Capabilities(def.ID)
	return toVendorResponse(def, caps, err == nil)
}

// ListAudit returns audit entries, newest first, filtered by the vendor,
// tenant and limit query parameters.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.AuditFilter{
		VendorID: q.Get("vendor"),
		TenantID: q.Get("tenant"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAuditRows {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxAuditRows))
			return
		}
		filter.Limit = n
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "list audit", err)
		return
	}

	resp := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toAuditEntryResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health reports liveness together with connection test queue occupancy.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	stats := h.conn.QueueStats()
	status, code := "ok", http.StatusOK
	if stats.Closed {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}

	writeJSON(w, code, HealthResponse{
		Status:   status,
		Time:     time.Now().UTC().Format(time.RFC3339),
		Queue:    stats,
		Handlers: len(h.registry.Registered()),
	})
}
