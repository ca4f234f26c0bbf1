package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

//go:embed catalog.schema.json
var catalogSchemaJSON string

const catalogSchemaURL = "https://testgov.schemas.local/catalog.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func catalogSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(catalogSchemaURL, bytes.NewReader([]byte(catalogSchemaJSON))); err != nil {
			schemaErr = fmt.Errorf("catalog schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(catalogSchemaURL)
	})
	return schema, schemaErr
}

type catalogDoc struct {
	Version   string         `yaml:"version"`
	Contracts []catalogEntry `yaml:"contracts"`
}

type catalogEntry struct {
	Name               string   `yaml:"name"`
	RequiredModules    []string `yaml:"required_modules"`
	RequiredInvariants []string `yaml:"required_invariants"`
	ThermalClass       string   `yaml:"thermal_class"`
}

// LoadCatalog reads and parses the catalog file at path.
func LoadCatalog(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &InvalidCatalogError{Source: path, Err: err}
	}
	return parseCatalog(path, data)
}

// ParseCatalog builds a registry from a YAML (or JSON) catalog document.
func ParseCatalog(data []byte) (*Registry, error) {
	return parseCatalog("<inline>", data)
}

func parseCatalog(source string, data []byte) (*Registry, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, &InvalidCatalogError{Source: source, Err: err}
	}
	// The schema validator expects JSON-shaped values.
	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, &InvalidCatalogError{Source: source, Err: err}
	}
	var inst any
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, &InvalidCatalogError{Source: source, Err: err}
	}
	s, err := catalogSchema()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(inst); err != nil {
		return nil, &InvalidCatalogError{Source: source, Err: err}
	}

	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &InvalidCatalogError{Source: source, Err: err}
	}
	v, err := semver.NewVersion(doc.Version)
	if err != nil {
		return nil, &InvalidCatalogError{Source: source, Err: fmt.Errorf("version %q: %w", doc.Version, err)}
	}

	cs := make([]contracts.TestContract, 0, len(doc.Contracts))
	for _, e := range doc.Contracts {
		class, err := contracts.ParseThermalClass(e.ThermalClass)
		if err != nil {
			return nil, &InvalidCatalogError{Source: source, Err: err}
		}
		cs = append(cs, contracts.TestContract{
			Name:               e.Name,
			RequiredModules:    e.RequiredModules,
			RequiredInvariants: e.RequiredInvariants,
			ThermalClass:       class,
		})
	}
	return build(v.String(), cs)
}
