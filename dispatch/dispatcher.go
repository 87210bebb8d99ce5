package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/twitcher/irc"
	"github.com/onnwee/twitcher/registry"
	"github.com/onnwee/twitcher/telemetry"
)

const (
	kindBinding  = "binding"
	kindListener = "listener"
)

// ErrorHook receives every handler and listener failure, panics included.
type ErrorHook func(ctx context.Context, err error)

// Dispatcher fans inbound lines out to pattern bindings and notifications out
// to listeners. Async work runs on the Supervisor; failures never reach the
// read loop and never affect sibling handlers.
type Dispatcher struct {
	reg    *registry.Registry
	sup    *Supervisor
	logger *slog.Logger

	hookMu sync.RWMutex
	hook   ErrorHook
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used by the default error hook.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithErrorHook installs hook instead of the default logging hook.
func WithErrorHook(hook ErrorHook) Option {
	return func(d *Dispatcher) { d.hook = hook }
}

// New creates a dispatcher over reg that schedules async work on sup.
func New(reg *registry.Registry, sup *Supervisor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:    reg,
		sup:    sup,
		logger: slog.Default().With(slog.String("component", "dispatch")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetErrorHook replaces the error hook. nil restores the default.
func (d *Dispatcher) SetErrorHook(hook ErrorHook) {
	d.hookMu.Lock()
	d.hook = hook
	d.hookMu.Unlock()
}

func (d *Dispatcher) report(ctx context.Context, kind string, err error) {
	telemetry.IncKind(telemetry.HandlerErrors, kind)

	d.hookMu.RLock()
	hook := d.hook
	d.hookMu.RUnlock()
	if hook != nil {
		hook(ctx, err)
		return
	}
	logger := d.logger
	if corr := telemetry.GetCorrelation(ctx); corr != "" {
		logger = logger.With(slog.String("corr", corr))
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		logger.Error("handler panicked", slog.String("source", pe.Source), slog.Any("panic", pe.Value), slog.String("stack", pe.Stack))
		return
	}
	logger.Error("handler failed", slog.Any("err", err))
}

// invoke runs fn, converting a panic or returned error into a typed error.
func invoke(kind, source string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Kind: kind, Source: source, Value: r, Stack: string(debug.Stack())}
		}
	}()
	if ferr := fn(); ferr != nil {
		return &HandlerError{Kind: kind, Source: source, Err: ferr}
	}
	return nil
}

// DispatchInbound matches line and schedules every binding of every matching
// pattern. It returns how many handler tasks were scheduled.
func (d *Dispatcher) DispatchInbound(ctx context.Context, line string) int {
	start := time.Now()
	corr := uuid.NewString()
	ctx = telemetry.WithCorrelation(ctx, corr)
	ctx, span := telemetry.StartSpan(ctx, "dispatch.inbound")
	defer span.End()

	scheduled := 0
	for _, res := range d.reg.Match(line) {
		for _, b := range res.Bindings {
			if d.schedule(span.SpanContext(), corr, res.Name, b, res.Match) {
				scheduled++
			}
		}
	}
	if telemetry.DispatchDuration != nil {
		telemetry.DispatchDuration.Observe(time.Since(start).Seconds())
	}
	telemetry.SetSpanSuccess(span)
	return scheduled
}

func (d *Dispatcher) schedule(sc trace.SpanContext, corr, name string, b *registry.Binding, m irc.Match) bool {
	err := d.sup.Go(func(ctx context.Context) {
		ctx = trace.ContextWithSpanContext(telemetry.WithCorrelation(ctx, corr), sc)
		ctx, span := telemetry.StartSpan(ctx, "dispatch.binding", telemetry.PatternAttr(name))
		defer span.End()

		telemetry.IncKind(telemetry.HandlersDispatched, kindBinding)
		if err := invoke(kindBinding, name, func() error { return b.Call(ctx, m) }); err != nil {
			telemetry.RecordError(span, err)
			d.report(ctx, kindBinding, err)
		}
	})
	if err != nil {
		d.logger.Debug("binding not scheduled", slog.String("pattern", name), slog.Any("err", err))
		return false
	}
	return true
}

// Notify emits a lifecycle notification. Sync listeners run inline in
// registration order; async listeners are scheduled on the supervisor. Every
// failure goes to the error hook, and sync failures are also returned joined
// so the triggering site can act on them.
func (d *Dispatcher) Notify(ctx context.Context, event string, args ...any) error {
	var errs []error
	for _, l := range d.reg.Listeners(event) {
		if l.Kind() == registry.Sync {
			telemetry.IncKind(telemetry.HandlersDispatched, kindListener)
			if err := invoke(kindListener, event, func() error { return l.Call(ctx, args...) }); err != nil {
				d.report(ctx, kindListener, err)
				errs = append(errs, err)
			}
			continue
		}
		d.scheduleListener(ctx, event, l, args)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) scheduleListener(parent context.Context, event string, l *registry.Listener, args []any) {
	corr := telemetry.GetCorrelation(parent)
	sc := trace.SpanContextFromContext(parent)
	err := d.sup.Go(func(ctx context.Context) {
		if corr != "" {
			ctx = telemetry.WithCorrelation(ctx, corr)
		}
		ctx = trace.ContextWithSpanContext(ctx, sc)
		ctx, span := telemetry.StartSpan(ctx, "dispatch.listener", telemetry.EventAttr(event))
		defer span.End()

		telemetry.IncKind(telemetry.HandlersDispatched, kindListener)
		if err := invoke(kindListener, event, func() error { return l.Call(ctx, args...) }); err != nil {
			telemetry.RecordError(span, err)
			d.report(ctx, kindListener, err)
		}
	})
	if err != nil {
		d.logger.Debug("listener not scheduled", slog.String("event", event), slog.Any("err", err))
	}
}

// Registry returns the registry the dispatcher matches against.
func (d *Dispatcher) Registry() *registry.Registry { return d.reg }

// Supervisor returns the supervisor running async work.
func (d *Dispatcher) Supervisor() *Supervisor { return d.sup }
