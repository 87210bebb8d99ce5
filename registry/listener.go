package registry

import (
	"context"
	"fmt"
	"strings"
)

// Lifecycle notifications emitted by the runtime.
const (
	EventConnectionAttempted = "connection_attempted"
	EventConnectionLost      = "connection_lost"
	EventStop                = "stop"
)

// ListenerFunc receives the payload of a notification.
type ListenerFunc func(ctx context.Context, args ...any) error

// Listener is a callback bound to an internal notification.
type Listener struct {
	event string
	kind  Kind
	fn    ListenerFunc
}

// On builds an async listener, the on_<event> form.
func On(event string, fn ListenerFunc) *Listener {
	return &Listener{event: event, kind: Async, fn: fn}
}

// Handle builds a sync listener, the handle_<event> form.
func Handle(event string, fn ListenerFunc) *Listener {
	return &Listener{event: event, kind: Sync, fn: fn}
}

// NewListener builds a listener from a conventional name such as "on_message"
// or "handle_stop".
func NewListener(name string, fn ListenerFunc) (*Listener, error) {
	event, kind, err := ParseListenerName(name)
	if err != nil {
		return nil, err
	}
	return &Listener{event: event, kind: kind, fn: fn}, nil
}

// ParseListenerName splits a conventional listener name into its event and kind.
func ParseListenerName(name string) (string, Kind, error) {
	if event, ok := strings.CutPrefix(name, "on_"); ok && event != "" {
		return event, Async, nil
	}
	if event, ok := strings.CutPrefix(name, "handle_"); ok && event != "" {
		return event, Sync, nil
	}
	return "", 0, fmt.Errorf("%w: %q does not start with on_ or handle_", ErrInvalidListener, name)
}

// Event returns the notification name.
func (l *Listener) Event() string { return l.event }

// Kind returns the listener kind.
func (l *Listener) Kind() Kind { return l.kind }

// Call invokes the callback.
func (l *Listener) Call(ctx context.Context, args ...any) error {
	return l.fn(ctx, args...)
}
