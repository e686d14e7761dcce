// Package application contains the credential vault and the services that
// run vendor calls with its credentials.
package application

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/mitchellh/copystructure"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

// vendorSchema holds the three field-name resolution tables for one vendor.
type vendorSchema struct {
	def       model.VendorDefinition
	canonical map[string]string // canonical name -> canonical name
	aliases   map[string]string // declared alias -> canonical name
	loose     map[string]string // looseKey(name or alias) -> canonical name
}

// SchemaRegistry is the static, per-vendor description of expected
// credential fields. It is built once from the vendor catalog and is safe for
// concurrent use because it is never mutated afterwards.
type SchemaRegistry struct {
	vendors map[string]*vendorSchema
	order   []string
}

// NewSchemaRegistry validates defs and builds the resolution tables.
// Vendor ids must be unique; within a vendor, no two fields may claim the same
// name or alias, even after case and separator folding.
func NewSchemaRegistry(defs []model.VendorDefinition) (*SchemaRegistry, error) {
	r := &SchemaRegistry{vendors: make(map[string]*vendorSchema, len(defs))}

	var errs []error
	for _, def := range defs {
		s, err := buildVendorSchema(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := r.vendors[def.ID]; dup {
			errs = append(errs, fmt.Errorf("vendor %q: duplicate vendor id", def.ID))
			continue
		}
		r.vendors[def.ID] = s
		r.order = append(r.order, def.ID)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid vendor catalog: %w", errors.Join(errs...))
	}

	return r, nil
}

func buildVendorSchema(def model.VendorDefinition) (*vendorSchema, error) {
	if def.ID == "" || strings.TrimSpace(def.ID) != def.ID {
		return nil, fmt.Errorf("vendor %q: id must be non-empty without surrounding spaces", def.ID)
	}
	if def.Handler == "" {
		return nil, fmt.Errorf("vendor %q: handler kind is required", def.ID)
	}
	for _, c := range def.Capabilities {
		switch c {
		case model.CapabilityConnectionTest, model.CapabilityCatalogFetch, model.CapabilityOrderSubmit:
		default:
			return nil, fmt.Errorf("vendor %q: unknown capability %q", def.ID, c)
		}
	}

	s := &vendorSchema{
		def:       def,
		canonical: make(map[string]string, len(def.Fields)),
		aliases:   make(map[string]string),
		loose:     make(map[string]string),
	}

	claim := func(table map[string]string, key, field string) error {
		if owner, ok := table[key]; ok && owner != field {
			return fmt.Errorf("vendor %q: %q is claimed by both %q and %q", def.ID, key, owner, field)
		}
		table[key] = field
		return nil
	}

	for _, f := range def.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("vendor %q: field name is required", def.ID)
		}
		if _, dup := s.canonical[f.Name]; dup {
			return nil, fmt.Errorf("vendor %q: duplicate field %q", def.ID, f.Name)
		}
		switch f.Kind {
		case model.FieldKindText, model.FieldKindSecret, "":
		case model.FieldKindChoice:
			if len(f.Choices) == 0 {
				return nil, fmt.Errorf("vendor %q: choice field %q declares no choices", def.ID, f.Name)
			}
		default:
			return nil, fmt.Errorf("vendor %q: field %q has unknown kind %q", def.ID, f.Name, f.Kind)
		}
		s.canonical[f.Name] = f.Name
	}

	for _, f := range def.Fields {
		if err := claim(s.loose, looseKey(f.Name), f.Name); err != nil {
			return nil, err
		}
		for _, alias := range f.Aliases {
			if owner, ok := s.canonical[alias]; ok && owner != f.Name {
				return nil, fmt.Errorf("vendor %q: alias %q of %q shadows field %q", def.ID, alias, f.Name, owner)
			}
			if err := claim(s.aliases, alias, f.Name); err != nil {
				return nil, err
			}
			if err := claim(s.loose, looseKey(alias), f.Name); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

// looseKey folds case and drops separators so "FTP-Server", "ftp_server" and
// "ftpServer" compare equal.
func looseKey(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func (r *SchemaRegistry) schema(vendorID string) (*vendorSchema, error) {
	s, ok := r.vendors[vendorID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownVendor, vendorID)
	}
	return s, nil
}

// Vendor returns a copy of the definition for vendorID.
func (r *SchemaRegistry) Vendor(vendorID string) (model.VendorDefinition, error) {
	s, err := r.schema(vendorID)
	if err != nil {
		return model.VendorDefinition{}, err
	}
	return copyDefinition(s.def)
}

// Vendors returns copies of every definition in catalog order.
func (r *SchemaRegistry) Vendors() ([]model.VendorDefinition, error) {
	defs := make([]model.VendorDefinition, 0, len(r.order))
	for _, id := range r.order {
		def, err := copyDefinition(r.vendors[id].def)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// IDs returns the vendor ids in catalog order.
func (r *SchemaRegistry) IDs() []string {
	return slices.Clone(r.order)
}

func copyDefinition(def model.VendorDefinition) (model.VendorDefinition, error) {
	cp, err := copystructure.Copy(def)
	if err != nil {
		return model.VendorDefinition{}, fmt.Errorf("copy vendor %q: %w", def.ID, err)
	}
	return cp.(model.VendorDefinition), nil
}

// ResolveFieldName maps an input field name onto the vendor's canonical name.
// Resolution order: exact canonical name, exact declared alias, then a case
// and separator insensitive match against names and aliases. Anything else
// wraps model.ErrUnknownField.
func (r *SchemaRegistry) ResolveFieldName(vendorID, input string) (string, error) {
	s, err := r.schema(vendorID)
	if err != nil {
		return "", err
	}
	return s.resolve(input)
}

func (s *vendorSchema) resolve(input string) (string, error) {
	if name, ok := s.canonical[input]; ok {
		return name, nil
	}
	if name, ok := s.aliases[input]; ok {
		return name, nil
	}
	if key := looseKey(input); key != "" {
		if name, ok := s.loose[key]; ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %q for vendor %q", model.ErrUnknownField, input, s.def.ID)
}

// Normalize resolves every input key to its canonical field and cleans the
// values. Blank values are dropped, since settings forms submit an empty
// secret input to mean "keep the stored value". Non-sensitive values are
// trimmed; sensitive values are kept byte for byte. Unknown names, two inputs
// naming the same field with different values, and values outside a choice
// list all fail with a *model.ValidationError.
func (r *SchemaRegistry) Normalize(vendorID string, input map[string]string) (map[string]string, error) {
	s, err := r.schema(vendorID)
	if err != nil {
		return nil, err
	}

	verr := &model.ValidationError{VendorID: vendorID}
	out := make(map[string]string, len(input))
	sources := make(map[string]string, len(input))

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, inputName := range keys {
		name, err := s.resolve(inputName)
		if err != nil {
			verr.Unknown = append(verr.Unknown, inputName)
			continue
		}

		spec, _ := s.def.Field(name)
		value := input[inputName]
		if strings.TrimSpace(value) == "" {
			continue
		}
		if !spec.Sensitive {
			value = strings.TrimSpace(value)
		}

		if prev, seen := out[name]; seen && prev != value {
			verr.Invalid = append(verr.Invalid, name)
			verr.Reason = fmt.Sprintf("%q and %q both set %q", sources[name], inputName, name)
			continue
		}
		if spec.Kind == model.FieldKindChoice && !slices.Contains(spec.Choices, value) {
			verr.Invalid = append(verr.Invalid, name)
			continue
		}

		out[name] = value
		sources[name] = inputName
	}

	if len(verr.Unknown) > 0 || len(verr.Invalid) > 0 {
		return nil, verr
	}
	return out, nil
}
