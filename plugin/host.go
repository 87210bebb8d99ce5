package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/onnwee/twitcher/registry"
	"github.com/onnwee/twitcher/telemetry"
)

type installed struct {
	plugin    Plugin
	bindings  []*registry.Binding
	listeners []*registry.Listener
}

// Host tracks loaded plugins and what each installed into the registry.
type Host struct {
	reg    *registry.Registry
	logger *slog.Logger

	mu        sync.Mutex
	plugins   map[string]*installed
	loadOrder []string
}

// NewHost creates a host installing into reg.
func NewHost(reg *registry.Registry, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		reg:     reg,
		logger:  logger.With(slog.String("component", "plugin")),
		plugins: make(map[string]*installed),
	}
}

// Load installs every binding then every listener of p. If any registration
// fails, everything installed so far is removed and the error is returned.
func (h *Host) Load(p Plugin) error {
	if p == nil || p.Name() == "" {
		return ErrInvalidPlugin
	}
	name := p.Name()

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.plugins[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLoad, name)
	}

	inst := &installed{plugin: p}
	for _, b := range p.Bindings() {
		if err := h.reg.AddBinding(b); err != nil {
			h.uninstall(inst)
			return fmt.Errorf("load %s: binding %s: %w", name, bindingName(b), err)
		}
		inst.bindings = append(inst.bindings, b)
	}
	for _, l := range p.Listeners() {
		if err := h.reg.AddListener(l); err != nil {
			h.uninstall(inst)
			return fmt.Errorf("load %s: listener: %w", name, err)
		}
		inst.listeners = append(inst.listeners, l)
	}

	h.plugins[name] = inst
	h.loadOrder = append(h.loadOrder, name)
	telemetry.SetPluginsLoaded(len(h.plugins))
	h.logger.Info("plugin loaded", slog.String("plugin", name),
		slog.Int("bindings", len(inst.bindings)), slog.Int("listeners", len(inst.listeners)))
	return nil
}

func bindingName(b *registry.Binding) string {
	if b == nil {
		return "<nil>"
	}
	return b.Name()
}

func (h *Host) uninstall(inst *installed) {
	for _, b := range inst.bindings {
		h.reg.RemoveBinding(b)
	}
	for _, l := range inst.listeners {
		h.reg.RemoveListener(l)
	}
}

// Unload removes everything the named plugin installed, then runs its
// Unloader hook if it has one.
func (h *Host) Unload(ctx context.Context, name string) error {
	h.mu.Lock()
	inst, ok := h.plugins[name]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	h.uninstall(inst)
	delete(h.plugins, name)
	h.loadOrder = slices.DeleteFunc(h.loadOrder, func(n string) bool { return n == name })
	telemetry.SetPluginsLoaded(len(h.plugins))
	h.mu.Unlock()

	h.logger.Info("plugin unloaded", slog.String("plugin", name))
	if u, ok := inst.plugin.(Unloader); ok {
		if err := u.Unload(ctx); err != nil {
			return fmt.Errorf("unload %s: %w", name, err)
		}
	}
	return nil
}

// Reload unloads the named plugin and loads the same instance again.
func (h *Host) Reload(ctx context.Context, name string) error {
	h.mu.Lock()
	inst, ok := h.plugins[name]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	if err := h.Unload(ctx, name); err != nil {
		return err
	}
	return h.Load(inst.plugin)
}

// UnloadAll unloads every plugin in reverse load order.
func (h *Host) UnloadAll(ctx context.Context) error {
	var errs []error
	names := h.Loaded()
	for i := len(names) - 1; i >= 0; i-- {
		if err := h.Unload(ctx, names[i]); err != nil && !errors.Is(err, ErrNotLoaded) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Loaded returns the names of loaded plugins in load order.
func (h *Host) Loaded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.loadOrder)
}

// Get returns the loaded plugin with name.
func (h *Host) Get(name string) (Plugin, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, ok := h.plugins[name]
	if !ok {
		return nil, false
	}
	return inst.plugin, true
}
