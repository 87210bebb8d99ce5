// Package queue paces outbound lines so the bot stays under the server's
// flood limit.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/twitcher/telemetry"
)

// ErrAlreadyRunning is returned when Run is called while a consumer is active.
var ErrAlreadyRunning = errors.New("flood queue consumer already running")

// Writer hands one line to the transport.
type Writer interface {
	WriteLine(ctx context.Context, line string) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, line string) error

// WriteLine calls f.
func (f WriterFunc) WriteLine(ctx context.Context, line string) error { return f(ctx, line) }

// Interval derives the pause between writes from the flood window and the
// number of messages allowed in it.
func Interval(floodDelay time.Duration, rate int) time.Duration {
	if rate <= 0 {
		return floodDelay
	}
	return floodDelay / time.Duration(rate)
}

// FloodQueue is an unbounded FIFO drained by a single consumer that writes one
// line at a time and waits the interval before taking the next.
type FloodQueue struct {
	w      Writer
	logger *slog.Logger

	mu       sync.Mutex
	items    []*Send
	interval time.Duration
	signal   chan struct{}
	closed   bool
	running  atomic.Bool
}

// New creates a queue writing through w and pausing interval between writes.
func New(w Writer, interval time.Duration, logger *slog.Logger) *FloodQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &FloodQueue{
		w:        w,
		logger:   logger.With(slog.String("component", "queue")),
		interval: interval,
		signal:   make(chan struct{}, 1),
	}
}

// Submit enqueues text and returns immediately. Once a consumer has stopped,
// the handle is already resolved with ErrClosed.
func (q *FloodQueue) Submit(text string) *Send {
	s := newSend(text)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Resolved(text, ErrClosed)
	}
	q.items = append(q.items, s)
	n := len(q.items)
	q.mu.Unlock()
	telemetry.SetQueueDepth(n)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return s
}

// Len returns the number of queued, not yet drained sends.
func (q *FloodQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// SetInterval changes the pause applied after the next write.
func (q *FloodQueue) SetInterval(d time.Duration) {
	q.mu.Lock()
	q.interval = d
	q.mu.Unlock()
}

// Interval returns the current pause between writes.
func (q *FloodQueue) Interval() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.interval
}

func (q *FloodQueue) pop() (*Send, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, q.interval
	}
	s := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	telemetry.SetQueueDepth(len(q.items))
	return s, q.interval
}

// Run drains the queue until ctx ends. Sends left in the queue, and any
// submitted until the next Run, are then resolved with ErrClosed.
func (q *FloodQueue) Run(ctx context.Context) error {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
	if !q.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer q.running.Store(false)
	defer q.closeRemaining()

	for {
		s, interval := q.pop()
		if s == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-q.signal:
				continue
			}
		}
		if !s.claim() {
			// cancelled while queued
			continue
		}

		err := q.w.WriteLine(ctx, s.text)
		s.resolve(err)
		if err != nil {
			q.logger.Warn("send failed", slog.Any("err", err))
		} else {
			telemetry.Inc(telemetry.LinesSent)
		}

		if interval <= 0 {
			continue
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (q *FloodQueue) closeRemaining() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.closed = true
	q.mu.Unlock()
	telemetry.SetQueueDepth(0)
	for _, s := range items {
		s.resolve(ErrClosed)
	}
}
