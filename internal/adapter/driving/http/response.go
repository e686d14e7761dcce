package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/vendorvault/internal/application"
	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body. The field lists are
// only set for validation failures.
type errorResponse struct {
	Error   string   `json:"error"`
	Unknown []string `json:"unknown_fields,omitempty"`
	Missing []string `json:"missing_fields,omitempty"`
	Invalid []string `json:"invalid_fields,omitempty"`
}

// formatTime renders t as RFC 3339 UTC, or "" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// CredentialResponse is a credential record with sensitive values redacted.
type CredentialResponse struct {
	VendorID  string            `json:"vendor_id"`
	Scope     string            `json:"scope"`
	Fields    map[string]string `json:"fields"`
	UpdatedAt string            `json:"updated_at"`
}

// VendorStatusResponse summarises one vendor's configuration for a scope.
type VendorStatusResponse struct {
	VendorID    string   `json:"vendor_id"`
	DisplayName string   `json:"display_name"`
	Shared      bool     `json:"shared"`
	Configured  bool     `json:"configured"`
	Complete    bool     `json:"complete"`
	Source      string   `json:"source,omitempty"`
	Missing     []string `json:"missing"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// FieldResponse describes one credential field of a vendor.
type FieldResponse struct {
	Name           string   `json:"name"`
	Label          string   `json:"label,omitempty"`
	Kind           string   `json:"kind"`
	Sensitive      bool     `json:"sensitive"`
	Required       bool     `json:"required"`
	RequiredScopes []string `json:"required_scopes,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
	Choices        []string `json:"choices,omitempty"`
}

// VendorResponse is the catalog entry for a vendor. Available lists the
// capabilities the registered handler actually serves.
type VendorResponse struct {
	ID           string          `json:"id"`
	DisplayName  string          `json:"display_name"`
	Handler      string          `json:"handler"`
	Shared       bool            `json:"shared"`
	Capabilities []string        `json:"capabilities"`
	Registered   bool            `json:"registered"`
	Available    []string        `json:"available"`
	Fields       []FieldResponse `json:"fields"`
}

// ConnectionResultResponse is the outcome of a connection test.
type ConnectionResultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CatalogResponse summarises a vendor catalog fetch.
type CatalogResponse struct {
	Source    string   `json:"source"`
	Entries   []string `json:"entries"`
	Bytes     int64    `json:"bytes"`
	FromCache bool     `json:"from_cache"`
	FetchedAt string   `json:"fetched_at"`
}

// OrderLineRequest is one line of an order submission.
type OrderLineRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// OrderRequest is the JSON body for the order submission endpoint.
type OrderRequest struct {
	Reference string             `json:"reference"`
	Lines     []OrderLineRequest `json:"lines"`
}

// OrderReceiptResponse is the vendor's acknowledgement of an order.
type OrderReceiptResponse struct {
	VendorReference string `json:"vendor_reference"`
	Message         string `json:"message"`
}

// AuditEntryResponse is the JSON representation of one audit record.
type AuditEntryResponse struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Actor     string `json:"actor"`
	VendorID  string `json:"vendor_id"`
	Scope     string `json:"scope"`
	Action    string `json:"action"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Time     string                 `json:"time"`
	Queue    application.QueueStats `json:"queue"`
	Handlers int                    `json:"handlers"`
}

func toCredentialResponse(rec *model.CredentialRecord) CredentialResponse {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	return CredentialResponse{
		VendorID:  rec.VendorID,
		Scope:     rec.Scope.String(),
		Fields:    fields,
		UpdatedAt: formatTime(rec.UpdatedAt),
	}
}

func toVendorStatusResponse(st model.VendorStatus) VendorStatusResponse {
	missing := st.Missing
	if missing == nil {
		missing = []string{}
	}
	resp := VendorStatusResponse{
		VendorID:    st.VendorID,
		DisplayName: st.DisplayName,
		Shared:      st.Shared,
		Configured:  st.Configured,
		Complete:    st.Complete,
		Missing:     missing,
		UpdatedAt:   formatTime(st.UpdatedAt),
	}
	if st.Configured {
		resp.Source = st.Source.String()
	}
	return resp
}

func toVendorResponse(def model.VendorDefinition, available []model.Capability, registered bool) VendorResponse {
	fields := make([]FieldResponse, 0, len(def.Fields))
	for _, f := range def.Fields {
		var scopes []string
		for _, s := range f.RequiredScopes {
			scopes = append(scopes, string(s))
		}
		fields = append(fields, FieldResponse{
			Name:           f.Name,
			Label:          f.Label,
			Kind:           string(f.Kind),
			Sensitive:      f.Sensitive,
			Required:       f.Required,
			RequiredScopes: scopes,
			Aliases:        f.Aliases,
			Choices:        f.Choices,
		})
	}

	return VendorResponse{
		ID:           def.ID,
		DisplayName:  def.DisplayName,
		Handler:      def.Handler,
		Shared:       def.Shared,
		Capabilities: capabilityNames(def.Capabilities),
		Registered:   registered,
		Available:    capabilityNames(available),
		Fields:       fields,
	}
}

func capabilityNames(caps []model.Capability) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		out = append(out, string(c))
	}
	return out
}

func toCatalogResponse(l model.CatalogListing) CatalogResponse {
	entries := l.Entries
	if entries == nil {
		entries = []string{}
	}
	return CatalogResponse{
		Source:    l.Source,
		Entries:   entries,
		Bytes:     l.Bytes,
		FromCache: l.FromCache,
		FetchedAt: formatTime(l.FetchedAt),
	}
}

func toAuditEntryResponse(e model.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:        e.ID,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:     e.Actor,
		VendorID:  e.VendorID,
		Scope:     e.Scope.String(),
		Action:    string(e.Action),
		Outcome:   string(e.Outcome),
		Detail:    e.Detail,
	}
}
