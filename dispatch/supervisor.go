package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Supervisor owns every task spawned for handlers and listeners so shutdown
// can cancel them and wait for them to return.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	group  errgroup.Group
	active atomic.Int64
}

// NewSupervisor creates a supervisor whose tasks see a context derived from parent.
func NewSupervisor(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel}
}

// Go runs fn on its own goroutine. It returns ErrShutdown once Shutdown has started.
// Task failures are the caller's to report; fn returning does not affect siblings.
func (s *Supervisor) Go(fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	s.active.Add(1)
	s.group.Go(func() error {
		defer s.active.Add(-1)
		fn(s.ctx)
		return nil
	})
	return nil
}

// Active reports how many tasks are running.
func (s *Supervisor) Active() int { return int(s.active.Load()) }

// Context returns the context handed to tasks.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Shutdown stops accepting tasks, cancels the running ones and waits for them
// until ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
