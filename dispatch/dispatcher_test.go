package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/twitcher/irc"
	"github.com/onnwee/twitcher/registry"
)

type hookRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (h *hookRecorder) hook(_ context.Context, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *hookRecorder) snapshot() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func newDispatcher(t *testing.T) (*Dispatcher, *hookRecorder) {
	t.Helper()
	sup := NewSupervisor(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	rec := &hookRecorder{}
	return New(registry.New(irc.NewSnapshot(nil)), sup, WithErrorHook(rec.hook)), rec
}

func waitIdle(t *testing.T, d *Dispatcher) {
	t.Helper()
	require.Eventually(t, func() bool { return d.Supervisor().Active() == 0 }, time.Second, time.Millisecond)
}

func TestFailingHandlerDoesNotStopSiblings(t *testing.T) {
	d, rec := newDispatcher(t)
	var ran atomic.Int32

	boom := registry.Bind(irc.PingPattern, func(context.Context, irc.Ping) error {
		panic("boom")
	})
	failing := registry.Bind(irc.PingPattern, func(context.Context, irc.Ping) error {
		return errors.New("nope")
	})
	ok := registry.Bind(irc.PingPattern, func(_ context.Context, p irc.Ping) error {
		if p.Data == "tmi.twitch.tv" {
			ran.Add(1)
		}
		return nil
	})
	for _, b := range []*registry.Binding{boom, failing, ok} {
		require.NoError(t, d.Registry().AddBinding(b))
	}

	n := d.DispatchInbound(context.Background(), "PING :tmi.twitch.tv")
	assert.Equal(t, 3, n)
	waitIdle(t, d)

	assert.Equal(t, int32(1), ran.Load())
	errs := rec.snapshot()
	require.Len(t, errs, 2)

	var sawPanic, sawHandler bool
	for _, err := range errs {
		var he *HandlerError
		switch {
		case errors.Is(err, ErrHandlerPanic):
			sawPanic = true
		case errors.As(err, &he):
			sawHandler = he.Source == "PING" && he.Kind == "binding"
		}
	}
	assert.True(t, sawPanic)
	assert.True(t, sawHandler)
}

func TestDispatchInboundNoMatch(t *testing.T) {
	d, _ := newDispatcher(t)
	require.NoError(t, d.Registry().AddBinding(registry.Bind(irc.PingPattern, func(context.Context, irc.Ping) error { return nil })))

	assert.Zero(t, d.DispatchInbound(context.Background(), ":tmi.twitch.tv 372 bot :hello"))
}

func TestHandlersGetCorrelationID(t *testing.T) {
	d, _ := newDispatcher(t)
	got := make(chan irc.Match, 1)
	require.NoError(t, d.Registry().AddBinding(registry.Bind(irc.Raw("ANY", `.*`), func(_ context.Context, m irc.Match) error {
		got <- m
		return nil
	})))

	d.DispatchInbound(context.Background(), "anything")
	select {
	case m := <-got:
		assert.Equal(t, "anything", m.Line)
	case <-time.After(time.Second):
		t.Fatal("handler did not run")
	}
}

func TestNotifySyncInOrderAndErrorsReturned(t *testing.T) {
	d, rec := newDispatcher(t)
	var order []string
	first := registry.Handle("stop", func(context.Context, ...any) error {
		order = append(order, "first")
		return errors.New("first failed")
	})
	second := registry.Handle("stop", func(_ context.Context, args ...any) error {
		order = append(order, "second")
		require.Equal(t, []any{"bye"}, args)
		return nil
	})
	require.NoError(t, d.Registry().AddListener(first))
	require.NoError(t, d.Registry().AddListener(second))

	err := d.Notify(context.Background(), "stop", "bye")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Len(t, rec.snapshot(), 1)
}

func TestNotifyAsyncFailuresGoToHook(t *testing.T) {
	d, rec := newDispatcher(t)
	var ran atomic.Int32
	require.NoError(t, d.Registry().AddListener(registry.On("connection_lost", func(context.Context, ...any) error {
		panic("listener exploded")
	})))
	require.NoError(t, d.Registry().AddListener(registry.On("connection_lost", func(context.Context, ...any) error {
		ran.Add(1)
		return nil
	})))

	require.NoError(t, d.Notify(context.Background(), "connection_lost"))
	waitIdle(t, d)

	assert.Equal(t, int32(1), ran.Load())
	errs := rec.snapshot()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrHandlerPanic)
}

func TestSetErrorHookNilRestoresDefault(t *testing.T) {
	d, rec := newDispatcher(t)
	d.SetErrorHook(nil)
	require.NoError(t, d.Registry().AddListener(registry.Handle("x", func(context.Context, ...any) error {
		return errors.New("logged, not recorded")
	})))

	require.Error(t, d.Notify(context.Background(), "x"))
	assert.Empty(t, rec.snapshot())
}
