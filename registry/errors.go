package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors for registration.
var (
	// ErrInvalidHandlerKind is returned when a pattern binding is not an async handler
	// or has no handler at all.
	ErrInvalidHandlerKind = errors.New("invalid handler kind")

	// ErrAlreadyBound is returned when the same binding or listener is registered twice.
	ErrAlreadyBound = errors.New("already registered")

	// ErrPatternCompile is matched by every *CompileError.
	ErrPatternCompile = errors.New("pattern compilation failed")

	// ErrInvalidListener is returned for listeners without an event, a callback,
	// or a conventional name.
	ErrInvalidListener = errors.New("invalid listener")
)

// CompileError reports a pattern that could not be compiled against the
// current snapshot.
type CompileError struct {
	Name string
	Expr string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile pattern %s (%q): %v", e.Name, e.Expr, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPatternCompile) true for any CompileError.
func (e *CompileError) Is(target error) bool { return target == ErrPatternCompile }
