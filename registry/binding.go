package registry

import (
	"context"

	"github.com/onnwee/twitcher/irc"
)

// Kind is the concurrency kind of a handler.
type Kind int

const (
	// Async handlers are scheduled on their own task and never block the caller.
	Async Kind = iota
	// Sync handlers run inline on the notifying goroutine.
	Sync
)

func (k Kind) String() string {
	switch k {
	case Async:
		return "async"
	case Sync:
		return "sync"
	default:
		return "unknown"
	}
}

// HandlerFunc is the type-erased form of a pattern handler.
type HandlerFunc func(ctx context.Context, m irc.Match) error

// Binding ties a handler to a pattern. Bindings are compared by identity, so
// the value returned by Bind is what must be passed to RemoveBinding.
type Binding struct {
	name     string
	expr     string
	kind     Kind
	priority bool
	handler  HandlerFunc
}

// BindOption configures a binding.
type BindOption func(*Binding)

// Priority places the binding, and its matcher when it is the first for the
// pattern, ahead of existing ones.
func Priority() BindOption {
	return func(b *Binding) { b.priority = true }
}

// WithKind overrides the handler kind. Pattern handlers must stay Async; any
// other kind is rejected by AddBinding.
func WithKind(k Kind) BindOption {
	return func(b *Binding) { b.kind = k }
}

// Bind builds a binding whose handler receives the pattern's decoded record.
// The handler parameter type is the pattern's record type, so a handler can
// only be bound to a pattern that produces the captures it expects.
func Bind[T any](p irc.Pattern[T], fn func(context.Context, T) error, opts ...BindOption) *Binding {
	b := &Binding{name: p.Name, expr: p.Expr, kind: Async}
	if fn != nil {
		b.handler = func(ctx context.Context, m irc.Match) error {
			return fn(ctx, p.Decode(m))
		}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the pattern name.
func (b *Binding) Name() string { return b.name }

// Key returns the pattern identity the binding is grouped under.
func (b *Binding) Key() string { return b.expr }

// Kind returns the handler kind.
func (b *Binding) Kind() Kind { return b.kind }

// IsPriority reports whether the binding was created with Priority.
func (b *Binding) IsPriority() bool { return b.priority }

// Call invokes the handler with a raw match.
func (b *Binding) Call(ctx context.Context, m irc.Match) error {
	return b.handler(ctx, m)
}
