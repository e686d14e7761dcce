package model

import (
	"fmt"
	"strings"
)

// ScopeKind distinguishes the shared platform credential from per-tenant ones.
type ScopeKind string

const (
	ScopeAdmin  ScopeKind = "admin"
	ScopeTenant ScopeKind = "tenant"
)

// Scope identifies who owns a credential record. TenantID is empty for the
// admin scope.
type Scope struct {
	Kind     ScopeKind
	TenantID string
}

// AdminScope returns the singleton platform scope.
func AdminScope() Scope {
	return Scope{Kind: ScopeAdmin}
}

// TenantScope returns the scope for a single tenant.
func TenantScope(tenantID string) Scope {
	return Scope{Kind: ScopeTenant, TenantID: tenantID}
}

// IsAdmin reports whether s is the admin scope.
func (s Scope) IsAdmin() bool {
	return s.Kind == ScopeAdmin
}

// Validate checks that the scope is well formed.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeAdmin:
		if s.TenantID != "" {
			return fmt.Errorf("%w: admin scope must not carry a tenant id", ErrInvalidScope)
		}
	case ScopeTenant:
		if strings.TrimSpace(s.TenantID) == "" {
			return fmt.Errorf("%w: tenant scope requires a tenant id", ErrInvalidScope)
		}
	default:
		return fmt.Errorf("%w: unknown scope kind %q", ErrInvalidScope, s.Kind)
	}
	return nil
}

// String renders the scope as "admin" or "tenant:<id>".
func (s Scope) String() string {
	if s.Kind == ScopeTenant {
		return string(ScopeTenant) + ":" + s.TenantID
	}
	return string(s.Kind)
}
