package model

import (
	"errors"
	"strings"
)

var (
	// ErrUnknownVendor is returned when a vendor id is not in the catalog.
	ErrUnknownVendor = errors.New("unknown vendor")

	// ErrUnknownField is returned when an input field name matches no
	// canonical field or alias of the vendor.
	ErrUnknownField = errors.New("unknown credential field")

	// ErrInvalidScope is returned for malformed scopes.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrNotFound is returned when no credential is configured for a scope.
	ErrNotFound = errors.New("credential not configured")

	// ErrDecrypt means a credential is present but could not be decrypted
	// under any supported algorithm version.
	ErrDecrypt = errors.New("credential present but unreadable")

	// ErrPersistenceVerificationFailed means the post-write read-back did not
	// match what was written.
	ErrPersistenceVerificationFailed = errors.New("credential persistence verification failed")

	// ErrVendorNotRegistered means no handler is registered for the vendor.
	ErrVendorNotRegistered = errors.New("vendor handler not registered")

	// ErrCapabilityNotSupported means the vendor handler does not implement
	// the requested operation.
	ErrCapabilityNotSupported = errors.New("operation not supported for vendor")

	// ErrQueueClosed is returned when a task is submitted after shutdown or
	// was still waiting when the queue shut down.
	ErrQueueClosed = errors.New("connection test queue closed")
)

// ValidationError reports credential input that violates the vendor schema.
// It is always the caller's fault and is never retried.
type ValidationError struct {
	VendorID string
	Unknown  []string // input names that matched no field or alias
	Missing  []string // required canonical fields absent after merge
	Invalid  []string // fields whose value was rejected
	Reason   string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid credentials for vendor ")
	b.WriteString(e.VendorID)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Unknown) > 0 {
		b.WriteString(": unknown fields [")
		b.WriteString(strings.Join(e.Unknown, ", "))
		b.WriteString("]")
	}
	if len(e.Missing) > 0 {
		b.WriteString(": missing required fields [")
		b.WriteString(strings.Join(e.Missing, ", "))
		b.WriteString("]")
	}
	if len(e.Invalid) > 0 {
		b.WriteString(": invalid values for [")
		b.WriteString(strings.Join(e.Invalid, ", "))
		b.WriteString("]")
	}
	return b.String()
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
