// Package dispatch runs pattern handlers and lifecycle listeners.
//
// Every async invocation is a task owned by a Supervisor, so shutdown can
// cancel and await them. Failures, panics included, are routed to a single
// error hook; the default hook logs them.
package dispatch
