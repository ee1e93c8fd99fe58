package pv

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPanelName is the panel selected when nothing else is configured.
const DefaultPanelName = "Standard 300W"

var builtinPanels = []PanelSpec{
	{Name: DefaultPanelName, Pmax: 300, Voc: 45, Isc: 9, Vmp: 37, TempCoeffV: -0.0035, TempCoeffI: 0.0005},
	{Name: "Mono PERC 400W", Pmax: 400, Voc: 49.5, Isc: 10.4, Vmp: 41.5, TempCoeffV: -0.0027, TempCoeffI: 0.00048},
	{Name: "Poly 250W", Pmax: 250, Voc: 37.6, Isc: 8.55, Vmp: 30.4, TempCoeffV: -0.0032, TempCoeffI: 0.0006},
}

// Catalog is a set of named panels. Safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	panels []PanelSpec
}

// DefaultCatalog returns a catalog holding the built-in presets.
func DefaultCatalog() *Catalog {
	return &Catalog{panels: slices.Clone(builtinPanels)}
}

type catalogFile struct {
	Panels []PanelSpec `yaml:"panels"`
}

// LoadCatalog reads a YAML panel list and adds it on top of the built-in presets.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read panel catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse panel catalog %s: %w", path, err)
	}
	c := DefaultCatalog()
	for _, p := range f.Panels {
		if err := c.Add(p); err != nil {
			return nil, fmt.Errorf("panel catalog %s: %q: %w", path, p.Name, err)
		}
	}
	return c, nil
}

// Add validates p and appends it. Names are matched case-insensitively.
func (c *Catalog) Add(p PanelSpec) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(p.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicatePanel, p.Name)
	}
	c.panels = append(c.panels, p)
	return nil
}

func (c *Catalog) Lookup(name string) (PanelSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.indexLocked(name)
	if i < 0 {
		return PanelSpec{}, fmt.Errorf("%w: %q", ErrUnknownPanel, name)
	}
	return c.panels[i], nil
}

func (c *Catalog) List() []PanelSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.panels)
}

func (c *Catalog) indexLocked(name string) int {
	name = strings.TrimSpace(name)
	return slices.IndexFunc(c.panels, func(p PanelSpec) bool {
		return strings.EqualFold(p.Name, name)
	})
}
