package model

import "time"

// AuditAction is the kind of credential access being recorded.
type AuditAction string

const (
	AuditActionRead   AuditAction = "read"
	AuditActionWrite  AuditAction = "write"
	AuditActionDelete AuditAction = "delete"
	AuditActionTest   AuditAction = "test"
	// AuditActionUse records a capability call (catalog fetch, order submit)
	// made with a stored credential.
	AuditActionUse AuditAction = "use"
)

// AuditOutcome is the result of an audited action.
type AuditOutcome string

const (
	AuditOutcomeSuccess  AuditOutcome = "success"
	AuditOutcomeFailure  AuditOutcome = "failure"
	AuditOutcomeNotFound AuditOutcome = "not_found"
)

// AuditEntry is one append-only audit record. Detail never contains
// plaintext sensitive values.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	Actor     string
	VendorID  string
	Scope     Scope
	Action    AuditAction
	Outcome   AuditOutcome
	Detail    string
}

// AuditFilter narrows an audit query. Zero values match everything.
type AuditFilter struct {
	VendorID string
	TenantID string
	Limit    int
}
