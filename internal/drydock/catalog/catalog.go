// Package catalog provides the static resource catalog: the resource tiers,
// container flavors and addons a sandbox can be created with.
//
// The catalog is loaded once at startup from an embedded YAML document and is
// read-only afterwards, so lookups are safe for concurrent use without
// locking.  Creation requests are validated against it before any container
// or repository side effect happens.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

//go:embed schema.json
var catalogSchemaJSON string

// ResourceTier is a named bundle of CPU/memory limits.
type ResourceTier struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	CPUCores float64 `yaml:"cpu_cores"`
	MemoryGB float64 `yaml:"memory_gb"`
	Default  bool    `yaml:"default"`
}

// Flavor is a named base-image/language preset.
type Flavor struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Languages []string `yaml:"languages"`
	Image     string   `yaml:"image"`
	Default   bool     `yaml:"default"`
}

// Addon is an optional capability attachable to a sandbox.
type Addon struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type document struct {
	ResourceTiers []ResourceTier `yaml:"resource_tiers"`
	Flavors       []Flavor       `yaml:"flavors"`
	Addons        []Addon        `yaml:"addons"`
}

// Catalog holds the parsed catalog entries.  Immutable after Parse.
type Catalog struct {
	tiers         map[string]ResourceTier
	flavors       map[string]Flavor
	addons        map[string]Addon
	addonOrder    []string
	defaultTier   string
	defaultFlavor string
}

// Load parses the embedded default catalog.
func Load() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// Parse decodes and validates a catalog YAML document.
//
// The document is first checked against the embedded JSON schema, then against
// the structural rules the schema cannot express: unique IDs and exactly one
// default tier and one default flavor.
func Parse(data []byte) (*Catalog, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog parse: %w", err)
	}

	c := &Catalog{
		tiers:   make(map[string]ResourceTier, len(doc.ResourceTiers)),
		flavors: make(map[string]Flavor, len(doc.Flavors)),
		addons:  make(map[string]Addon, len(doc.Addons)),
	}

	for _, tier := range doc.ResourceTiers {
		if _, dup := c.tiers[tier.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate resource tier %q", tier.ID)
		}
		c.tiers[tier.ID] = tier
		if tier.Default {
			if c.defaultTier != "" {
				return nil, fmt.Errorf("catalog: multiple default resource tiers (%q and %q)", c.defaultTier, tier.ID)
			}
			c.defaultTier = tier.ID
		}
	}
	if c.defaultTier == "" {
		return nil, fmt.Errorf("catalog: no default resource tier")
	}

	for _, flavor := range doc.Flavors {
		if _, dup := c.flavors[flavor.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate flavor %q", flavor.ID)
		}
		c.flavors[flavor.ID] = flavor
		if flavor.Default {
			if c.defaultFlavor != "" {
				return nil, fmt.Errorf("catalog: multiple default flavors (%q and %q)", c.defaultFlavor, flavor.ID)
			}
			c.defaultFlavor = flavor.ID
		}
	}
	if c.defaultFlavor == "" {
		return nil, fmt.Errorf("catalog: no default flavor")
	}

	for _, addon := range doc.Addons {
		if _, dup := c.addons[addon.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate addon %q", addon.ID)
		}
		c.addons[addon.ID] = addon
		c.addonOrder = append(c.addonOrder, addon.ID)
	}

	return c, nil
}

// validateSchema checks the raw YAML document against the catalog JSON schema.
func validateSchema(data []byte) error {
	schema, err := jsonschema.CompileString("catalog.schema.json", catalogSchemaJSON)
	if err != nil {
		return fmt.Errorf("catalog schema compile: %w", err)
	}

	// The schema validator wants JSON-shaped values, so round-trip the YAML
	// through an interface{} and re-decode as JSON types.
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("catalog parse: %w", err)
	}
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("catalog schema check: %w", err)
	}
	var v interface{}
	if err := json.Unmarshal(jsonBytes, &v); err != nil {
		return fmt.Errorf("catalog schema check: %w", err)
	}

	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("catalog schema: %w", err)
	}
	return nil
}

// Tier returns the resource tier with the given ID.
func (c *Catalog) Tier(id string) (ResourceTier, bool) {
	t, ok := c.tiers[id]
	return t, ok
}

// DefaultTier returns the catalog's default resource tier.
func (c *Catalog) DefaultTier() ResourceTier {
	return c.tiers[c.defaultTier]
}

// Flavor returns the container flavor with the given ID.
func (c *Catalog) Flavor(id string) (Flavor, bool) {
	f, ok := c.flavors[id]
	return f, ok
}

// DefaultFlavor returns the catalog's default container flavor.
func (c *Catalog) DefaultFlavor() Flavor {
	return c.flavors[c.defaultFlavor]
}

// Addon returns the addon with the given ID.
func (c *Catalog) Addon(id string) (Addon, bool) {
	a, ok := c.addons[id]
	return a, ok
}

// Addons returns all addons in document order.
func (c *Catalog) Addons() []Addon {
	out := make([]Addon, 0, len(c.addonOrder))
	for _, id := range c.addonOrder {
		out = append(out, c.addons[id])
	}
	return out
}
