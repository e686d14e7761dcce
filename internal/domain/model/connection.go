package model

import "time"

// ConnectionResult is what a vendor handler reports for a connectivity check.
// Success false is an expected outcome, not a system fault.
type ConnectionResult struct {
	Success bool
	Message string
}

// CatalogListing is the summary returned by a catalog fetch: the entries the
// vendor exposes (file names or feed sections) and where they came from.
type CatalogListing struct {
	Source    string
	Entries   []string
	Bytes     int64
	FromCache bool
	FetchedAt time.Time
}

// Order is a minimal purchase order handed to an order-submit capable handler.
type Order struct {
	Reference string
	Lines     []OrderLine
}

// OrderLine is one item of an Order.
type OrderLine struct {
	SKU      string
	Quantity int
}

// OrderReceipt is the vendor's acknowledgement of a submitted order.
type OrderReceipt struct {
	VendorReference string
	Message         string
}
