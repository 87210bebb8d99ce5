package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrHandlerPanic is matched by every *PanicError.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrShutdown is returned when work is submitted after the supervisor stopped.
	ErrShutdown = errors.New("dispatcher is shut down")
)

// HandlerError wraps a failure returned by a pattern handler or listener.
type HandlerError struct {
	// Kind is "binding" or "listener".
	Kind string
	// Source is the pattern name or the notification name.
	Source string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Source, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// PanicError carries a recovered panic value and the stack at the time of the panic.
type PanicError struct {
	Kind   string
	Source string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s %s panicked: %v", e.Kind, e.Source, e.Value)
}

// Is makes errors.Is(err, ErrHandlerPanic) true for any PanicError.
func (e *PanicError) Is(target error) bool { return target == ErrHandlerPanic }
