package model

import "slices"

// FieldKind describes how a credential field is entered and displayed.
type FieldKind string

const (
	FieldKindText   FieldKind = "text"
	FieldKindSecret FieldKind = "secret"
	FieldKindChoice FieldKind = "choice"
)

// Capability names an operation a vendor handler may implement.
type Capability string

const (
	CapabilityConnectionTest Capability = "connection-test"
	CapabilityCatalogFetch   Capability = "catalog-fetch"
	CapabilityOrderSubmit    Capability = "order-submit"
)

// CredentialFieldSpec declares one expected credential field for a vendor.
// Name is canonical; Aliases are alternate names accepted from producers.
type CredentialFieldSpec struct {
	Name      string    `yaml:"name" json:"name"`
	Label     string    `yaml:"label" json:"label,omitempty"`
	Kind      FieldKind `yaml:"kind" json:"kind"`
	Sensitive bool      `yaml:"sensitive" json:"sensitive"`
	Required  bool      `yaml:"required" json:"required"`
	// RequiredScopes narrows Required to the listed scope kinds. Empty means
	// the field is required at every scope.
	RequiredScopes []ScopeKind `yaml:"required_scopes" json:"required_scopes,omitempty"`
	Aliases        []string    `yaml:"aliases" json:"aliases,omitempty"`
	Choices        []string    `yaml:"choices" json:"choices,omitempty"`
}

// RequiredFor reports whether the field must be present in a record stored
// at the given scope kind.
func (f CredentialFieldSpec) RequiredFor(kind ScopeKind) bool {
	if !f.Required {
		return false
	}
	if len(f.RequiredScopes) == 0 {
		return true
	}
	return slices.Contains(f.RequiredScopes, kind)
}

// VendorDefinition is the static description of an external integration
// partner. ID is immutable and is the only key used for routing and storage;
// DisplayName is for presentation only.
type VendorDefinition struct {
	ID          string `yaml:"id" json:"id"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	// Handler names the handler implementation kind ("ftp", "sftp", "rest").
	Handler string `yaml:"handler" json:"handler"`
	// Shared marks marketplace vendors whose admin credential is usable by
	// every tenant.
	Shared       bool                  `yaml:"shared" json:"shared"`
	Capabilities []Capability          `yaml:"capabilities" json:"capabilities"`
	Fields       []CredentialFieldSpec `yaml:"fields" json:"fields"`
	// Options carries handler settings that are not credentials, such as a
	// default port or API base URL.
	Options map[string]string `yaml:"options" json:"options,omitempty"`
}

// Field returns the spec for the canonical field name.
func (v VendorDefinition) Field(name string) (CredentialFieldSpec, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return CredentialFieldSpec{}, false
}

// HasCapability reports whether the vendor declares the capability.
func (v VendorDefinition) HasCapability(c Capability) bool {
	return slices.Contains(v.Capabilities, c)
}

// MissingRequired returns the canonical names of required fields (for the
// scope kind) that have no value in fields, in declaration order.
func (v VendorDefinition) MissingRequired(kind ScopeKind, fields map[string]string) []string {
	var missing []string
	for _, f := range v.Fields {
		if !f.RequiredFor(kind) {
			continue
		}
		if fields[f.Name] == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}
