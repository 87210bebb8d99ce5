// Package registry keeps the active inbound pattern bindings and lifecycle
// listeners.
//
// Matchers are kept in first-registration order, with priority bindings placed
// first, and a matcher exists only while at least one binding uses its
// pattern. Several bindings (for example from different plugins) share one
// compiled matcher.
package registry
