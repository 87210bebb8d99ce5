package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/onnwee/twitcher/irc"
)

type entry struct {
	name     string
	expr     string
	matcher  *irc.Matcher
	bindings []*Binding
}

// Result is one matched pattern for a line and the bindings active for it
// at match time.
type Result struct {
	Name     string
	Match    irc.Match
	Bindings []*Binding
}

// PatternInfo describes an active matcher.
type PatternInfo struct {
	Name     string
	Expr     string
	Bindings int
}

// Registry holds the active pattern matchers in match order, the bindings for
// each pattern and the listener table. It is safe for concurrent use; Match
// works on a copy so concurrent add/remove never disturbs a scan in progress.
type Registry struct {
	mu        sync.RWMutex
	snap      irc.Snapshot
	order     []*entry
	byKey     map[string]*entry
	listeners map[string][]*Listener
}

// New creates an empty registry compiling patterns against snap.
func New(snap irc.Snapshot) *Registry {
	return &Registry{
		snap:      snap,
		byKey:     make(map[string]*entry),
		listeners: make(map[string][]*Listener),
	}
}

// Snapshot returns the snapshot patterns are currently compiled against.
func (r *Registry) Snapshot() irc.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// AddBinding installs b. The pattern is compiled on its first binding only.
func (r *Registry) AddBinding(b *Binding) error {
	if b == nil || b.handler == nil || b.kind != Async {
		return ErrInvalidHandlerKind
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byKey[b.Key()]
	if !ok {
		m, err := irc.Compile(b.expr, r.snap)
		if err != nil {
			return &CompileError{Name: b.name, Expr: b.expr, Err: err}
		}
		e = &entry{name: b.name, expr: b.expr, matcher: m}
		r.byKey[b.Key()] = e
		if b.priority {
			r.order = slices.Insert(r.order, 0, e)
		} else {
			r.order = append(r.order, e)
		}
	}

	if slices.Contains(e.bindings, b) {
		return fmt.Errorf("%w: binding for %s", ErrAlreadyBound, b.name)
	}
	if b.priority {
		e.bindings = slices.Insert(e.bindings, 0, b)
	} else {
		e.bindings = append(e.bindings, b)
	}
	return nil
}

// RemoveBinding uninstalls b. Removing the last binding of a pattern drops its
// matcher. Removing a binding that is not installed is a no-op.
func (r *Registry) RemoveBinding(b *Binding) {
	if b == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byKey[b.Key()]
	if !ok {
		return
	}
	i := slices.Index(e.bindings, b)
	if i < 0 {
		return
	}
	e.bindings = slices.Delete(slices.Clone(e.bindings), i, i+1)
	if len(e.bindings) > 0 {
		return
	}
	delete(r.byKey, b.Key())
	if j := slices.Index(r.order, e); j >= 0 {
		r.order = slices.Delete(slices.Clone(r.order), j, j+1)
	}
}

// Match tests line against every active matcher in order. A line can match
// several patterns; each one contributes a result.
func (r *Registry) Match(line string) []Result {
	type scan struct {
		name     string
		matcher  *irc.Matcher
		bindings []*Binding
	}

	r.mu.RLock()
	entries := make([]scan, len(r.order))
	for i, e := range r.order {
		entries[i] = scan{name: e.name, matcher: e.matcher, bindings: slices.Clone(e.bindings)}
	}
	r.mu.RUnlock()

	var results []Result
	for _, e := range entries {
		m, ok := e.matcher.Match(line)
		if !ok {
			continue
		}
		results = append(results, Result{Name: e.name, Match: m, Bindings: e.bindings})
	}
	return results
}

// Recompile compiles every active pattern against snap. Either all matchers
// are replaced or, on the first failure, none are. Order and bindings are kept.
func (r *Registry) Recompile(snap irc.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	compiled := make([]*irc.Matcher, len(r.order))
	for i, e := range r.order {
		m, err := irc.Compile(e.expr, snap)
		if err != nil {
			return &CompileError{Name: e.name, Expr: e.expr, Err: err}
		}
		compiled[i] = m
	}
	for i, e := range r.order {
		e.matcher = compiled[i]
	}
	r.snap = snap
	return nil
}

// Patterns lists the active matchers in match order.
func (r *Registry) Patterns() []PatternInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PatternInfo, len(r.order))
	for i, e := range r.order {
		out[i] = PatternInfo{Name: e.name, Expr: e.expr, Bindings: len(e.bindings)}
	}
	return out
}

// BindingCount returns the number of installed bindings.
func (r *Registry) BindingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.order {
		n += len(e.bindings)
	}
	return n
}

// AddListener installs l for its event.
func (r *Registry) AddListener(l *Listener) error {
	if l == nil || l.fn == nil || l.event == "" {
		return ErrInvalidListener
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if slices.Contains(r.listeners[l.event], l) {
		return fmt.Errorf("%w: listener for %s", ErrAlreadyBound, l.event)
	}
	r.listeners[l.event] = append(r.listeners[l.event], l)
	return nil
}

// RemoveListener uninstalls l. Absent listeners are ignored.
func (r *Registry) RemoveListener(l *Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ls := r.listeners[l.event]
	i := slices.Index(ls, l)
	if i < 0 {
		return
	}
	ls = slices.Delete(slices.Clone(ls), i, i+1)
	if len(ls) == 0 {
		delete(r.listeners, l.event)
		return
	}
	r.listeners[l.event] = ls
}

// Listeners returns a copy of the listeners for event in registration order.
func (r *Registry) Listeners(event string) []*Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.listeners[event])
}

// ListenerCount returns the number of installed listeners across all events.
func (r *Registry) ListenerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, ls := range r.listeners {
		n += len(ls)
	}
	return n
}
