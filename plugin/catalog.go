package plugin

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Factory builds a plugin bound to bot from its settings section.
type Factory func(bot Bot, settings map[string]any) (Plugin, error)

// Catalog maps plugin names to factories so plugins can be loaded by name
// from configuration or the admin API.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a name twice replaces the factory.
func (c *Catalog) Register(name string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = f
}

// New builds the named plugin.
func (c *Catalog) New(name string, bot Bot, settings map[string]any) (Plugin, error) {
	c.mu.RLock()
	f, ok := c.factories[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	p, err := f(bot, settings)
	if err != nil {
		return nil, fmt.Errorf("create plugin %s: %w", name, err)
	}
	return p, nil
}

// Names lists registered factories, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for n := range c.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DecodeSettings merges raw over the values already in dst. Keys absent from
// raw keep dst's defaults; dst's yaml tags name the keys.
func DecodeSettings(raw map[string]any, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	b, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := yaml.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}
