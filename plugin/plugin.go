// Package plugin loads and unloads units of pattern bindings and listeners
// as a group.
//
// A plugin declares everything it contributes up front through Bindings and
// Listeners. The host installs exactly that set and records it, so unloading
// removes the same set regardless of what the plugin would return later.
package plugin

import (
	"context"
	"errors"

	"github.com/onnwee/twitcher/queue"
	"github.com/onnwee/twitcher/registry"
)

// Plugin host errors.
var (
	// ErrDuplicateLoad is returned when a plugin with the same name is already loaded.
	ErrDuplicateLoad = errors.New("plugin is already loaded")

	// ErrNotLoaded is returned when unloading or reloading a plugin that is not loaded.
	ErrNotLoaded = errors.New("plugin is not loaded")

	// ErrUnknownPlugin is returned when the catalog has no factory for a name.
	ErrUnknownPlugin = errors.New("unknown plugin")

	// ErrInvalidPlugin is returned for a nil plugin or one without a name.
	ErrInvalidPlugin = errors.New("invalid plugin")
)

// Plugin is a named unit of bindings and listeners.
type Plugin interface {
	Name() string
	Bindings() []*registry.Binding
	Listeners() []*registry.Listener
}

// Unloader is implemented by plugins that hold resources. Unload runs after
// the plugin's bindings and listeners were removed.
type Unloader interface {
	Unload(ctx context.Context) error
}

// Bot is the surface plugins use to talk back to the runtime.
type Bot interface {
	// Send queues a raw line.
	Send(line string) *queue.Send
	Say(channel, text string) *queue.Send
	Join(channel string) *queue.Send
	Part(channel string) *queue.Send
	Whisper(user, text string) *queue.Send

	// Reconnect drops the current connection and dials again immediately.
	Reconnect()
	// Notify emits a lifecycle notification to listeners.
	Notify(ctx context.Context, event string, args ...any) error

	Registry() *registry.Registry
	Nick() string
	Channels() []string
}
