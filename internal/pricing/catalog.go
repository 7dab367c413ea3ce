// Package pricing computes quotes over a static phase/component catalog and
// renders downloadable proposal documents.
package pricing

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// ErrInvalidCatalog is returned when a catalog fails validation.
var ErrInvalidCatalog = errors.New("invalid pricing catalog")

// Phase is a package of components sold at a bundle price.
type Phase struct {
	Number     int      `yaml:"number" json:"number"`
	Name       string   `yaml:"name" json:"name"`
	Summary    string   `yaml:"summary" json:"summary,omitempty"`
	Price      int64    `yaml:"price" json:"price"`
	Components []string `yaml:"components" json:"components"`
}

// Component is an individually purchasable part of a phase.
type Component struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	Price       int64  `yaml:"price" json:"price"`
	Phase       int    `yaml:"phase" json:"phase"`
}

// Catalog is the full price table. It is read-only after loading.
type Catalog struct {
	Brand      string      `yaml:"brand" json:"brand"`
	Currency   string      `yaml:"currency" json:"currency"`
	Phases     []Phase     `yaml:"phases" json:"phases"`
	Components []Component `yaml:"components" json:"components"`

	phaseIndex     map[int]int
	componentIndex map[string]int
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from a YAML file. An empty path loads the embedded default.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks cross-references and builds the lookup indexes.
func (c *Catalog) Validate() error {
	if c.Brand == "" {
		return fmt.Errorf("%w: brand is required", ErrInvalidCatalog)
	}
	c.phaseIndex = make(map[int]int, len(c.Phases))
	for i, p := range c.Phases {
		if _, dup := c.phaseIndex[p.Number]; dup {
			return fmt.Errorf("%w: duplicate phase %d", ErrInvalidCatalog, p.Number)
		}
		if p.Price < 0 {
			return fmt.Errorf("%w: phase %d has a negative price", ErrInvalidCatalog, p.Number)
		}
		c.phaseIndex[p.Number] = i
	}

	c.componentIndex = make(map[string]int, len(c.Components))
	for i, comp := range c.Components {
		if comp.ID == "" {
			return fmt.Errorf("%w: component %d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := c.componentIndex[comp.ID]; dup {
			return fmt.Errorf("%w: duplicate component %q", ErrInvalidCatalog, comp.ID)
		}
		if comp.Price < 0 {
			return fmt.Errorf("%w: component %q has a negative price", ErrInvalidCatalog, comp.ID)
		}
		if _, ok := c.phaseIndex[comp.Phase]; !ok {
			return fmt.Errorf("%w: component %q references unknown phase %d", ErrInvalidCatalog, comp.ID, comp.Phase)
		}
		c.componentIndex[comp.ID] = i
	}

	for _, p := range c.Phases {
		for _, id := range p.Components {
			idx, ok := c.componentIndex[id]
			if !ok {
				return fmt.Errorf("%w: phase %d lists unknown component %q", ErrInvalidCatalog, p.Number, id)
			}
			if c.Components[idx].Phase != p.Number {
				return fmt.Errorf("%w: component %q is listed in phase %d but belongs to phase %d", ErrInvalidCatalog, id, p.Number, c.Components[idx].Phase)
			}
		}
	}
	return nil
}

// Phase looks up a phase by number.
func (c *Catalog) Phase(number int) (Phase, bool) {
	i, ok := c.phaseIndex[number]
	if !ok {
		return Phase{}, false
	}
	return c.Phases[i], true
}

// Component looks up a component by id.
func (c *Catalog) Component(id string) (Component, bool) {
	i, ok := c.componentIndex[id]
	if !ok {
		return Component{}, false
	}
	return c.Components[i], true
}
