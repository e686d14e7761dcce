// Package catalog loads vendor definitions from YAML. The default catalog is
// embedded in the binary; operators can supply a replacement file.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

//go:embed vendors.yaml
var embeddedCatalog []byte

// document is the top-level shape of a catalog file.
type document struct {
	Vendors []model.VendorDefinition `yaml:"vendors"`
}

// Embedded returns the vendor definitions compiled into the binary.
func Embedded() ([]model.VendorDefinition, error) {
	return Parse(bytes.NewReader(embeddedCatalog))
}

// LoadFile reads vendor definitions from path.
func LoadFile(path string) ([]model.VendorDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vendor catalog: %w", err)
	}
	defer f.Close()

	defs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("vendor catalog %s: %w", path, err)
	}
	return defs, nil
}

// Load returns the catalog at path, or the embedded catalog when path is empty.
func Load(path string) ([]model.VendorDefinition, error) {
	if path == "" {
		return Embedded()
	}
	return LoadFile(path)
}

// Parse decodes a catalog document. Unknown keys are rejected so a typo in a
// field attribute cannot silently drop it. Kind defaults to text, or secret
// for sensitive fields.
func Parse(r io.Reader) ([]model.VendorDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty vendor catalog")
		}
		return nil, fmt.Errorf("decode vendor catalog: %w", err)
	}

	for i := range doc.Vendors {
		for j := range doc.Vendors[i].Fields {
			f := &doc.Vendors[i].Fields[j]
			if f.Kind == "" {
				f.Kind = model.FieldKindText
				if f.Sensitive {
					f.Kind = model.FieldKindSecret
				}
			}
		}
	}

	return doc.Vendors, nil
}
