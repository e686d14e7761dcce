// Package rest implements vendor handlers for HTTP APIs authenticated with
// basic auth, a bearer token, an API key header, or query parameters.
package rest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

// Kind is the handler kind named in the vendor catalog.
const Kind = "rest"

const (
	schemeBasic  = "basic"
	schemeBearer = "bearer"
	schemeHeader = "header"
	schemeQuery  = "query"
	schemeNone   = "none"

	// maxBody bounds how much of a vendor response is read.
	maxBody = 8 << 20
	// maxMessage bounds vendor text copied into results.
	maxMessage = 200
	// maxCatalogCaches bounds the per-credential catalog caches kept by one
	// handler. The set is dropped and rebuilt when it fills up.
	maxCatalogCaches = 64
)

// Compile-time interface satisfaction checks.
var (
	_ driven.VendorHandler  = (*Handler)(nil)
	_ driven.CatalogFetcher = (*Handler)(nil)
	_ driven.OrderSubmitter = (*Handler)(nil)
)

// Config holds settings shared by every REST handler.
type Config struct {
	// Timeout bounds each vendor request. Zero means 30 seconds.
	Timeout time.Duration
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
	// UserAgent is sent with every request.
	UserAgent string
}

// Handler talks to one vendor's REST API.
type Handler struct {
	vendorID   string
	baseURL    *url.URL
	sandboxURL *url.URL
	testPath   string
	catalog    string
	orderPath  string

	scheme      string
	userField   string
	secretField string
	header      string
	userParam   string
	secretParam string

	client    *http.Client
	timeout   time.Duration
	transport http.RoundTripper
	userAgent string

	// catalogClients holds one caching client per credential fingerprint.
	// httpcache keys entries by URL alone, so a shared cache would hand one
	// tenant's feed to another tenant without the vendor checking auth.
	catalogMu      sync.Mutex
	catalogClients map[string]*http.Client

	sanitizer     *bluemonday.Policy
}

// NewFactory returns a HandlerFactory building REST handlers with cfg.
func NewFactory(cfg Config) driven.HandlerFactory {
	return func(def model.VendorDefinition) (driven.VendorHandler, error) {
		return New(def, cfg)
	}
}

// New builds a handler from the vendor definition's options.
func New(def model.VendorDefinition, cfg Config) (*Handler, error) {
	opts := def.Options

	base, err := parseBase(opts["base_url"])
	if err != nil {
		return nil, fmt.Errorf("vendor %q base_url: %w", def.ID, err)
	}
	var sandbox *url.URL
	if raw := opts["sandbox_base_url"]; raw != "" {
		if sandbox, err = parseBase(raw); err != nil {
			return nil, fmt.Errorf("vendor %q sandbox_base_url: %w", def.ID, err)
		}
	}

	h := &Handler{
		vendorID:    def.ID,
		baseURL:     base,
		sandboxURL:  sandbox,
		testPath:    opts["test_path"],
		catalog:     opts["catalog_path"],
		orderPath:   opts["order_path"],
		scheme:      strings.ToLower(opts["auth_scheme"]),
		userField:   opts["auth_user_field"],
		secretField: opts["auth_secret_field"],
		header:      opts["auth_header"],
		userParam:   opts["auth_user_param"],
		secretParam: opts["auth_secret_param"],
		userAgent:   cfg.UserAgent,
		sanitizer:   bluemonday.StrictPolicy(),
	}
	if h.scheme == "" {
		h.scheme = schemeNone
	}
	if err := h.checkAuth(def); err != nil {
		return nil, fmt.Errorf("vendor %q: %w", def.ID, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	h.timeout = timeout
	h.transport = transport
	h.client = &http.Client{Timeout: timeout, Transport: transport}
	h.catalogClients = make(map[string]*http.Client)

	return h, nil
}

// catalogClientFor returns the caching client for the credential in fields.
// Catalog feeds are large and change rarely; conditional requests let the
// vendor answer 304 when nothing changed.
func (h *Handler) catalogClientFor(fields map[string]string) *http.Client {
	key := h.fingerprint(fields)

	h.catalogMu.Lock()
	defer h.catalogMu.Unlock()

	if c, ok := h.catalogClients[key]; ok {
		return c
	}
	if len(h.catalogClients) >= maxCatalogCaches {
		clear(h.catalogClients)
	}
	cache := httpcache.NewMemoryCacheTransport()
	cache.Transport = h.transport
	c := &http.Client{Timeout: h.timeout, Transport: cache}
	h.catalogClients[key] = c
	return c
}

// fingerprint identifies the credential and environment a request is made
// with, without keeping the secret itself.
func (h *Handler) fingerprint(fields map[string]string) string {
	sum := sha256.New()
	for _, v := range []string{h.scheme, fields["environment"], fields[h.userField], fields[h.secretField]} {
		sum.Write([]byte(v))
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

func parseBase(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// checkAuth validates the auth options against the vendor's declared fields.
func (h *Handler) checkAuth(def model.VendorDefinition) error {
	declared := func(name string) error {
		if name == "" {
			return nil
		}
		if _, ok := def.Field(name); !ok {
			return fmt.Errorf("auth option names undeclared field %q", name)
		}
		return nil
	}

	switch h.scheme {
	case schemeNone:
		return nil
	case schemeBasic:
		if h.userField == "" || h.secretField == "" {
			return errors.New("basic auth needs auth_user_field and auth_secret_field")
		}
	case schemeBearer:
		if h.secretField == "" {
			return errors.New("bearer auth needs auth_secret_field")
		}
	case schemeHeader:
		if h.header == "" || h.secretField == "" {
			return errors.New("header auth needs auth_header and auth_secret_field")
		}
	case schemeQuery:
		if h.secretField == "" || h.secretParam == "" {
			return errors.New("query auth needs auth_secret_field and auth_secret_param")
		}
		if h.userField != "" && h.userParam == "" {
			return errors.New("query auth with auth_user_field needs auth_user_param")
		}
	default:
		return fmt.Errorf("unknown auth_scheme %q", h.scheme)
	}

	return errors.Join(declared(h.userField), declared(h.secretField))
}

// endpoint resolves path against the base URL for the selected environment.
func (h *Handler) endpoint(fields map[string]string, path string) *url.URL {
	base := h.baseURL
	if h.sandboxURL != nil && fields["environment"] == "sandbox" {
		base = h.sandboxURL
	}

	u := *base
	p, query, _ := strings.Cut(path, "?")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u.Path += p
	u.RawQuery = query
	return &u
}

// newRequest builds an authenticated request. The returned display string is
// the URL without credentials.
func (h *Handler) newRequest(ctx context.Context, method string, u *url.URL, body io.Reader, fields map[string]string) (*http.Request, string, error) {
	display := u.String()

	value := func(name string) (string, error) {
		v := fields[name]
		if v == "" {
			return "", fmt.Errorf("credential field %q is not set", name)
		}
		return v, nil
	}

	if h.scheme == schemeQuery {
		q := u.Query()
		secret, err := value(h.secretField)
		if err != nil {
			return nil, display, err
		}
		q.Set(h.secretParam, secret)
		if h.userField != "" {
			user, err := value(h.userField)
			if err != nil {
				return nil, display, err
			}
			q.Set(h.userParam, user)
		}
		authed := *u
		authed.RawQuery = q.Encode()
		u = &authed
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, display, err
	}
	req.Header.Set("Accept", "application/json, text/csv;q=0.9, */*;q=0.5")
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	switch h.scheme {
	case schemeBasic:
		user, err := value(h.userField)
		if err != nil {
			return nil, display, err
		}
		secret, err := value(h.secretField)
		if err != nil {
			return nil, display, err
		}
		req.SetBasicAuth(user, secret)
	case schemeBearer:
		secret, err := value(h.secretField)
		if err != nil {
			return nil, display, err
		}
		req.Header.Set("Authorization", "Bearer "+secret)
	case schemeHeader:
		secret, err := value(h.secretField)
		if err != nil {
			return nil, display, err
		}
		req.Header.Set(h.header, secret)
	}

	return req, display, nil
}

// TestConnection calls the vendor's test endpoint. Any 2xx answer counts as
// success.
func (h *Handler) TestConnection(ctx context.Context, fields map[string]string) model.ConnectionResult {
	req, display, err := h.newRequest(ctx, http.MethodGet, h.endpoint(fields, h.testPath), nil, fields)
	if err != nil {
		return model.ConnectionResult{Message: err.Error()}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return model.ConnectionResult{Message: "request failed: " + h.scrub(err.Error(), fields)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return model.ConnectionResult{Success: true, Message: fmt.Sprintf("connected to %s (HTTP %d)", hostOf(display), resp.StatusCode)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return model.ConnectionResult{Message: h.describe("authentication rejected", resp.StatusCode, body, fields)}
	default:
		return model.ConnectionResult{Message: h.describe("vendor error", resp.StatusCode, body, fields)}
	}
}

// FetchCatalog downloads the catalog feed and summarizes it. JSON objects
// list their top-level keys, JSON arrays report their length, and anything
// else is treated as delimited text and lists its header columns.
func (h *Handler) FetchCatalog(ctx context.Context, fields map[string]string) (model.CatalogListing, error) {
	if h.catalog == "" {
		return model.CatalogListing{}, fmt.Errorf("%w: vendor %q has no catalog_path", model.ErrCapabilityNotSupported, h.vendorID)
	}

	req, display, err := h.newRequest(ctx, http.MethodGet, h.endpoint(fields, h.catalog), nil, fields)
	if err != nil {
		return model.CatalogListing{}, err
	}

	resp, err := h.catalogClientFor(fields).Do(req)
	if err != nil {
		return model.CatalogListing{}, fmt.Errorf("fetch catalog from %s: %s", display, h.scrub(err.Error(), fields))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return model.CatalogListing{}, fmt.Errorf("read catalog from %s: %w", display, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.CatalogListing{}, errors.New(h.describe("catalog fetch failed", resp.StatusCode, body, fields))
	}

	return model.CatalogListing{
		Source:    display,
		Entries:   summarize(body),
		Bytes:     int64(len(body)),
		FromCache: resp.Header.Get(httpcache.XFromCache) != "",
		FetchedAt: time.Now().UTC(),
	}, nil
}

type orderLine struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type orderRequest struct {
	Reference string      `json:"reference"`
	Lines     []orderLine `json:"lines"`
}

type orderResponse struct {
	ID        json.RawMessage `json:"id"`
	OrderID   json.RawMessage `json:"orderId"`
	Reference string          `json:"reference"`
	Message   string          `json:"message"`
}

// SubmitOrder posts order as JSON to the vendor's order endpoint.
func (h *Handler) SubmitOrder(ctx context.Context, fields map[string]string, order model.Order) (model.OrderReceipt, error) {
	if h.orderPath == "" {
		return model.OrderReceipt{}, fmt.Errorf("%w: vendor %q has no order_path", model.ErrCapabilityNotSupported, h.vendorID)
	}
	if len(order.Lines) == 0 {
		return model.OrderReceipt{}, fmt.Errorf("order %q has no lines", order.Reference)
	}

	payload := orderRequest{Reference: order.Reference, Lines: make([]orderLine, 0, len(order.Lines))}
	for _, l := range order.Lines {
		payload.Lines = append(payload.Lines, orderLine{SKU: l.SKU, Quantity: l.Quantity})
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return model.OrderReceipt{}, fmt.Errorf("encode order: %w", err)
	}

	req, display, err := h.newRequest(ctx, http.MethodPost, h.endpoint(fields, h.orderPath), bytes.NewReader(buf), fields)
	if err != nil {
		return model.OrderReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return model.OrderReceipt{}, fmt.Errorf("submit order to %s: %s", display, h.scrub(err.Error(), fields))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.OrderReceipt{}, errors.New(h.describe("order rejected", resp.StatusCode, body, fields))
	}

	var out orderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return model.OrderReceipt{Message: fmt.Sprintf("accepted (HTTP %d)", resp.StatusCode)}, nil
	}

	ref := out.Reference
	for _, raw := range []json.RawMessage{out.OrderID, out.ID} {
		if ref == "" && len(raw) > 0 {
			ref = strings.Trim(string(raw), `"`)
		}
	}
	return model.OrderReceipt{VendorReference: ref, Message: h.clean(out.Message, fields)}, nil
}

// describe renders a failed response for display.
func (h *Handler) describe(prefix string, status int, body []byte, fields map[string]string) string {
	msg := fmt.Sprintf("%s (HTTP %d)", prefix, status)
	if text := h.clean(string(body), fields); text != "" {
		msg += ": " + text
	}
	return msg
}

// clean strips markup from vendor text, collapses whitespace, drops any
// credential value the vendor echoed back, and truncates the result.
func (h *Handler) clean(text string, fields map[string]string) string {
	text = h.sanitizer.Sanitize(text)
	text = strings.Join(strings.Fields(text), " ")
	text = h.scrub(text, fields)
	if r := []rune(text); len(r) > maxMessage {
		text = string(r[:maxMessage]) + "…"
	}
	return text
}

// scrub replaces credential values in s.
func (h *Handler) scrub(s string, fields map[string]string) string {
	for _, name := range []string{h.secretField, h.userField} {
		if v := fields[name]; name != "" && len(v) >= 3 {
			s = strings.ReplaceAll(s, v, "[redacted]")
			s = strings.ReplaceAll(s, url.QueryEscape(v), "[redacted]")
		}
	}
	return s
}

func hostOf(display string) string {
	if u, err := url.Parse(display); err == nil && u.Host != "" {
		return u.Host
	}
	return display
}

func summarize(body []byte) []string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			keys := make([]string, 0, len(obj))
			for k := range obj {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			return keys
		}
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err == nil {
			return []string{fmt.Sprintf("items[%d]", len(arr))}
		}
	case '<':
		return []string{"xml document"}
	}

	header, _, _ := bytes.Cut(trimmed, []byte("\n"))
	sep := ","
	if bytes.Count(header, []byte("\t")) > bytes.Count(header, []byte(",")) {
		sep = "\t"
	} else if bytes.Count(header, []byte("|")) > bytes.Count(header, []byte(",")) {
		sep = "|"
	}
	var cols []string
	for _, c := range strings.Split(strings.TrimSpace(string(header)), sep) {
		if c = strings.Trim(strings.TrimSpace(c), `"`); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}
