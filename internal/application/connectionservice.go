package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

// ConnectionService runs vendor handler calls with vault credentials under the
// shared TestQueue. A handler reporting failure is a normal result and is
// returned verbatim; only configuration and storage problems are errors.
type ConnectionService struct {
	vault    *Vault
	registry *HandlerRegistry
	queue    *TestQueue
	audit    *AuditRecorder
	logger   *slog.Logger
}

// NewConnectionService creates a ConnectionService with all required
// dependencies.
func NewConnectionService(
	vault *Vault,
	registry *HandlerRegistry,
	queue *TestQueue,
	audit *AuditRecorder,
	logger *slog.Logger,
) *ConnectionService {
	return &ConnectionService{
		vault:    vault,
		registry: registry,
		queue:    queue,
		audit:    audit,
		logger:   logger,
	}
}

// TestConnection tests the credential stored for (vendorID, scope). The
// credential is loaded once a queue slot is granted so the test always uses
// the latest saved values.
func (s *ConnectionService) TestConnection(ctx context.Context, vendorID string, scope model.Scope, actor string) (model.ConnectionResult, error) {
	handler, err := s.handlerFor(vendorID, model.CapabilityConnectionTest)
	if err != nil {
		s.recordTest(ctx, vendorID, scope, actor, model.ConnectionResult{}, err)
		return model.ConnectionResult{}, err
	}

	result, err := run(ctx, s, func(ctx context.Context) (model.ConnectionResult, error) {
		fields, err := s.storedFields(ctx, vendorID, scope)
		if err != nil {
			return model.ConnectionResult{}, err
		}
		return handler.TestConnection(ctx, fields), nil
	})

	s.recordTest(ctx, vendorID, scope, actor, result, err)
	return result, err
}

// TestFields tests unsaved input merged over the stored credential. Nothing
// is persisted.
func (s *ConnectionService) TestFields(ctx context.Context, vendorID string, scope model.Scope, fields map[string]string, actor string) (model.ConnectionResult, error) {
	handler, err := s.handlerFor(vendorID, model.CapabilityConnectionTest)
	if err != nil {
		s.recordTest(ctx, vendorID, scope, actor, model.ConnectionResult{}, err)
		return model.ConnectionResult{}, err
	}

	merged, err := s.vault.Overlay(ctx, vendorID, scope, fields)
	if err != nil {
		s.recordTest(ctx, vendorID, scope, actor, model.ConnectionResult{}, err)
		return model.ConnectionResult{}, err
	}

	result, err := run(ctx, s, func(ctx context.Context) (model.ConnectionResult, error) {
		return handler.TestConnection(ctx, merged), nil
	})

	s.recordTest(ctx, vendorID, scope, actor, result, err)
	return result, err
}

// FetchCatalog lists the vendor's catalog with the stored credential. It
// fails fast with model.ErrCapabilityNotSupported when the vendor's handler
// cannot fetch catalogs.
func (s *ConnectionService) FetchCatalog(ctx context.Context, vendorID string, scope model.Scope, actor string) (model.CatalogListing, error) {
	handler, err := s.handlerFor(vendorID, model.CapabilityCatalogFetch)
	if err != nil {
		s.recordUse(ctx, vendorID, scope, actor, model.CapabilityCatalogFetch, err)
		return model.CatalogListing{}, err
	}
	fetcher := handler.(driven.CatalogFetcher)

	listing, err := run(ctx, s, func(ctx context.Context) (model.CatalogListing, error) {
		fields, err := s.storedFields(ctx, vendorID, scope)
		if err != nil {
			return model.CatalogListing{}, err
		}
		return fetcher.FetchCatalog(ctx, fields)
	})

	s.recordUse(ctx, vendorID, scope, actor, model.CapabilityCatalogFetch, err)
	return listing, err
}

// SubmitOrder places order with the vendor using the stored credential.
func (s *ConnectionService) SubmitOrder(ctx context.Context, vendorID string, scope model.Scope, order model.Order, actor string) (model.OrderReceipt, error) {
	handler, err := s.handlerFor(vendorID, model.CapabilityOrderSubmit)
	if err != nil {
		s.recordUse(ctx, vendorID, scope, actor, model.CapabilityOrderSubmit, err)
		return model.OrderReceipt{}, err
	}
	submitter := handler.(driven.OrderSubmitter)

	receipt, err := run(ctx, s, func(ctx context.Context) (model.OrderReceipt, error) {
		fields, err := s.storedFields(ctx, vendorID, scope)
		if err != nil {
			return model.OrderReceipt{}, err
		}
		return submitter.SubmitOrder(ctx, fields, order)
	})

	s.recordUse(ctx, vendorID, scope, actor, model.CapabilityOrderSubmit, err)
	return receipt, err
}

// QueueStats reports the shared queue occupancy.
func (s *ConnectionService) QueueStats() QueueStats {
	return s.queue.Stats()
}

// handlerFor resolves the vendor's handler and checks the capability before
// anything is queued, so misconfiguration never occupies a slot.
func (s *ConnectionService) handlerFor(vendorID string, capability model.Capability) (driven.VendorHandler, error) {
	if _, err := s.vault.Schema().Vendor(vendorID); err != nil {
		return nil, err
	}
	handler, err := s.registry.Resolve(vendorID)
	if err != nil {
		return nil, err
	}
	if !s.registry.Supports(vendorID, capability) {
		return nil, fmt.Errorf("%w: %s for vendor %q", model.ErrCapabilityNotSupported, capability, vendorID)
	}
	return handler, nil
}

// storedFields loads the live credential for a queued call.
func (s *ConnectionService) storedFields(ctx context.Context, vendorID string, scope model.Scope) (map[string]string, error) {
	rec, err := s.vault.load(ctx, vendorID, scope)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: vendor %q at %s", model.ErrNotFound, vendorID, scope)
	}
	def, err := s.vault.Schema().Vendor(vendorID)
	if err != nil {
		return nil, err
	}
	if missing := def.MissingRequired(rec.Scope.Kind, rec.Fields); len(missing) > 0 {
		return nil, &model.ValidationError{VendorID: vendorID, Missing: missing}
	}
	return rec.Fields, nil
}

// run submits task to the queue and waits for its result.
func run[T any](ctx context.Context, s *ConnectionService, task func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	future, err := Submit(ctx, s.queue, task)
	if err != nil {
		return zero, err
	}
	return future.Wait(ctx)
}

func (s *ConnectionService) recordTest(ctx context.Context, vendorID string, scope model.Scope, actor string, result model.ConnectionResult, err error) {
	entry := model.AuditEntry{
		Actor:    actor,
		VendorID: vendorID,
		Scope:    scope,
		Action:   model.AuditActionTest,
	}
	switch {
	case errors.Is(err, model.ErrNotFound):
		entry.Outcome = model.AuditOutcomeNotFound
		entry.Detail = err.Error()
	case err != nil:
		entry.Outcome = model.AuditOutcomeFailure
		entry.Detail = err.Error()
	case result.Success:
		entry.Outcome = model.AuditOutcomeSuccess
		entry.Detail = result.Message
	default:
		entry.Outcome = model.AuditOutcomeFailure
		entry.Detail = "vendor rejected: " + result.Message
	}

	if err != nil {
		s.logger.Warn("connection test error", "vendor_id", vendorID, "scope", scope.String(), "error", err)
	} else {
		s.logger.Info("connection test finished", "vendor_id", vendorID, "scope", scope.String(), "success", result.Success)
	}
	s.audit.Record(ctx, entry)
}

func (s *ConnectionService) recordUse(ctx context.Context, vendorID string, scope model.Scope, actor string, capability model.Capability, err error) {
	detail := string(capability)
	if err != nil {
		detail += ": " + err.Error()
		s.logger.Warn("vendor call failed", "vendor_id", vendorID, "capability", capability, "error", err)
	}
	s.audit.Record(ctx, model.AuditEntry{
		Actor:    actor,
		VendorID: vendorID,
		Scope:    scope,
		Action:   model.AuditActionUse,
		Outcome:  outcomeFor(err),
		Detail:   detail,
	})
}
