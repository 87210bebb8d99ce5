package irc

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// ErrUnresolvedPlaceholder is returned when an expression references a
// {placeholder} the snapshot does not define.
var ErrUnresolvedPlaceholder = errors.New("unresolved pattern placeholder")

var placeholderRe = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

// Snapshot is an immutable set of configuration values that pattern
// expressions may reference as {name}. Values are inserted literally (quoted).
type Snapshot struct {
	values map[string]string
}

// NewSnapshot copies values into a new Snapshot.
func NewSnapshot(values map[string]string) Snapshot {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Snapshot{values: cp}
}

// Get returns the value for key.
func (s Snapshot) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the snapshot keys in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Matcher is the compiled form of a pattern expression against one snapshot.
type Matcher struct {
	expr string
	re   *regexp.Regexp
}

// Compile resolves placeholders in expr and compiles it. The expression must
// match the whole line.
func Compile(expr string, snap Snapshot) (*Matcher, error) {
	var missing []string
	resolved := placeholderRe.ReplaceAllStringFunc(expr, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := snap.Get(key)
		if !ok {
			missing = append(missing, key)
			return m
		}
		return regexp.QuoteMeta(v)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvedPlaceholder, missing)
	}
	re, err := regexp.Compile(`^(?:` + resolved + `)$`)
	if err != nil {
		return nil, err
	}
	return &Matcher{expr: expr, re: re}, nil
}

// Expr returns the unresolved expression the matcher was compiled from.
func (m *Matcher) Expr() string { return m.expr }

// Match tests line and returns its named captures.
func (m *Matcher) Match(line string) (Match, bool) {
	sub := m.re.FindStringSubmatch(line)
	if sub == nil {
		return Match{}, false
	}
	fields := make(map[string]string)
	for i, name := range m.re.SubexpNames() {
		if name == "" || i >= len(sub) {
			continue
		}
		fields[name] = sub[i]
	}
	return Match{Line: line, fields: fields}, true
}

// Match is the raw result of matching a line: the line itself and its named captures.
type Match struct {
	Line   string
	fields map[string]string
}

// NewMatch builds a Match by hand, mostly for tests and synthetic events.
func NewMatch(line string, fields map[string]string) Match {
	return Match{Line: line, fields: fields}
}

// Get returns a named capture; groups that did not participate return "".
func (m Match) Get(name string) string { return m.fields[name] }

// Fields returns a copy of all named captures.
func (m Match) Fields() map[string]string {
	cp := make(map[string]string, len(m.fields))
	for k, v := range m.fields {
		cp[k] = v
	}
	return cp
}

// Pattern is a named expression whose matches decode into the record type T.
// Patterns with the same expression share one compiled matcher in a registry.
type Pattern[T any] struct {
	Name   string
	Expr   string
	decode func(Match) T
}

// NewPattern builds a pattern decoding matches with decode.
func NewPattern[T any](name, expr string, decode func(Match) T) Pattern[T] {
	return Pattern[T]{Name: name, Expr: expr, decode: decode}
}

// Raw builds a pattern whose record is the raw Match.
func Raw(name, expr string) Pattern[Match] {
	return NewPattern(name, expr, func(m Match) Match { return m })
}

// Key is the pattern identity used to share matchers.
func (p Pattern[T]) Key() string { return p.Expr }

// Decode converts a raw match into the pattern's record.
func (p Pattern[T]) Decode(m Match) T {
	if p.decode == nil {
		var zero T
		return zero
	}
	return p.decode(m)
}
