package driven

import (
	"context"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

// VendorHandler is the driven port implemented by every vendor integration.
// fields holds decrypted credential values keyed by canonical field name.
// Failures to reach or authenticate with the vendor are reported in the
// result, never as a Go error.
type VendorHandler interface {
	TestConnection(ctx context.Context, fields map[string]string) model.ConnectionResult
}

// CatalogFetcher is an optional capability for handlers that can list the
// vendor's product catalog.
type CatalogFetcher interface {
	FetchCatalog(ctx context.Context, fields map[string]string) (model.CatalogListing, error)
}

// OrderSubmitter is an optional capability for handlers that can place
// purchase orders with the vendor.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, fields map[string]string, order model.Order) (model.OrderReceipt, error)
}

// HandlerFactory builds a handler bound to one vendor definition.
type HandlerFactory func(def model.VendorDefinition) (VendorHandler, error)
