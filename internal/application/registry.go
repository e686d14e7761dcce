package application

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

type registeredHandler struct {
	handler      driven.VendorHandler
	capabilities []model.Capability
}

// HandlerRegistry maps canonical vendor ids to live handler instances. It
// holds a mutex-protected table so handlers can be replaced at runtime, for
// example after the vendor catalog is reloaded.
type HandlerRegistry struct {
	mu        sync.RWMutex
	factories map[string]driven.HandlerFactory
	handlers  map[string]registeredHandler
	logger    *slog.Logger
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry(logger *slog.Logger) *HandlerRegistry {
	return &HandlerRegistry{
		factories: make(map[string]driven.HandlerFactory),
		handlers:  make(map[string]registeredHandler),
		logger:    logger,
	}
}

// RegisterFactory makes a handler implementation kind ("ftp", "rest", ...)
// available to Discover.
func (r *HandlerRegistry) RegisterFactory(kind string, factory driven.HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Register binds handler to vendorID, replacing any previous handler, and
// returns the capabilities the handler implements.
func (r *HandlerRegistry) Register(vendorID string, handler driven.VendorHandler) []model.Capability {
	caps := implemented(handler)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[vendorID] = registeredHandler{handler: handler, capabilities: caps}
	return slices.Clone(caps)
}

// implemented reports which capabilities a handler actually provides.
func implemented(handler driven.VendorHandler) []model.Capability {
	caps := []model.Capability{model.CapabilityConnectionTest}
	if _, ok := handler.(driven.CatalogFetcher); ok {
		caps = append(caps, model.CapabilityCatalogFetch)
	}
	if _, ok := handler.(driven.OrderSubmitter); ok {
		caps = append(caps, model.CapabilityOrderSubmit)
	}
	return caps
}

// Discover builds and registers a handler for every vendor definition using
// the factory named by its Handler kind. A vendor is only credited with the
// capabilities that it declares and that its handler implements. A vendor
// whose kind has no factory is skipped and stays unregistered; factory
// failures are collected and returned together after all vendors are tried.
func (r *HandlerRegistry) Discover(defs []model.VendorDefinition) error {
	var errs []error
	for _, def := range defs {
		r.mu.RLock()
		factory, ok := r.factories[def.Handler]
		r.mu.RUnlock()
		if !ok {
			r.logger.Warn("no handler implementation for vendor", "vendor_id", def.ID, "handler", def.Handler)
			continue
		}

		handler, err := factory(def)
		if err != nil {
			errs = append(errs, fmt.Errorf("build handler for vendor %q: %w", def.ID, err))
			continue
		}

		impl := implemented(handler)
		caps := make([]model.Capability, 0, len(impl))
		for _, c := range impl {
			if c == model.CapabilityConnectionTest || def.HasCapability(c) {
				caps = append(caps, c)
			}
		}
		for _, c := range def.Capabilities {
			if !slices.Contains(impl, c) {
				r.logger.Warn("vendor declares capability its handler lacks",
					"vendor_id", def.ID, "handler", def.Handler, "capability", c)
			}
		}

		r.mu.Lock()
		r.handlers[def.ID] = registeredHandler{handler: handler, capabilities: caps}
		r.mu.Unlock()

		r.logger.Debug("vendor handler registered", "vendor_id", def.ID, "handler", def.Handler, "capabilities", caps)
	}
	return errors.Join(errs...)
}

// Resolve returns the handler bound to the canonical vendorID. Lookup is by
// exact id only.
func (r *HandlerRegistry) Resolve(vendorID string) (driven.VendorHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.handlers[vendorID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrVendorNotRegistered, vendorID)
	}
	return entry.handler, nil
}

// Capabilities returns the capabilities recorded for vendorID.
func (r *HandlerRegistry) Capabilities(vendorID string) ([]model.Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.handlers[vendorID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrVendorNotRegistered, vendorID)
	}
	return slices.Clone(entry.capabilities), nil
}

// Supports reports whether vendorID is registered with capability c.
func (r *HandlerRegistry) Supports(vendorID string, c model.Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.handlers[vendorID]
	return ok && slices.Contains(entry.capabilities, c)
}

// Registered returns the registered vendor ids in sorted order.
func (r *HandlerRegistry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.handlers))
}
