package queue

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	// ErrCancelled resolves a send that was cancelled before it was written.
	ErrCancelled = errors.New("send cancelled")

	// ErrClosed resolves sends still queued when the consumer stops.
	ErrClosed = errors.New("flood queue closed")
)

const (
	statePending int32 = iota
	stateCancelled
	stateWriting
	stateDone
)

// Send is the pending-completion handle of one queued line. It resolves once
// the line has been handed to the transport (or was dropped). There is no
// delivery acknowledgement beyond the write.
type Send struct {
	text  string
	state atomic.Int32
	done  chan struct{}
	err   error
}

func newSend(text string) *Send {
	return &Send{text: text, done: make(chan struct{})}
}

// Resolved returns an already completed handle carrying err.
func Resolved(text string, err error) *Send {
	s := newSend(text)
	s.state.Store(stateDone)
	s.err = err
	close(s.done)
	return s
}

// Text returns the queued line.
func (s *Send) Text() string { return s.text }

// Done is closed when the send resolves.
func (s *Send) Done() <-chan struct{} { return s.done }

// Err returns the outcome once Done is closed, nil before.
func (s *Send) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the send resolves or ctx ends.
func (s *Send) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel prevents the line from being written if the consumer has not taken
// it yet. It reports whether the cancellation won.
func (s *Send) Cancel() bool {
	if !s.state.CompareAndSwap(statePending, stateCancelled) {
		return false
	}
	s.err = ErrCancelled
	close(s.done)
	return true
}

func (s *Send) claim() bool {
	return s.state.CompareAndSwap(statePending, stateWriting)
}

func (s *Send) resolve(err error) {
	if s.state.CompareAndSwap(statePending, stateDone) || s.state.CompareAndSwap(stateWriting, stateDone) {
		s.err = err
		close(s.done)
	}
}
