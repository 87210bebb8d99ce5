package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/onnwee/twitcher/config"
	"github.com/onnwee/twitcher/dispatch"
	"github.com/onnwee/twitcher/irc"
	"github.com/onnwee/twitcher/plugin"
	"github.com/onnwee/twitcher/queue"
	"github.com/onnwee/twitcher/registry"
	"github.com/onnwee/twitcher/telemetry"
	"github.com/onnwee/twitcher/transport"
)

var (
	// ErrNotConnected resolves sends attempted while no transport is open.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed is returned by Run when the client was already shut down.
	ErrClosed = errors.New("client closed")

	// ErrInvalidLine resolves sends whose text would split into several
	// protocol lines.
	ErrInvalidLine = errors.New("line contains CR, LF or NUL")
)

var _ plugin.Bot = (*Client)(nil)

// errReconnectRequested ends a read loop when Reconnect was called.
var errReconnectRequested = errors.New("reconnect requested")

// PasswordSource provides stored chat credentials for a nick when none are configured.
type PasswordSource interface {
	ChatPassword(ctx context.Context, nick string) (string, error)
}

// Options are the collaborators of a Client. Zero values get defaults.
type Options struct {
	Dialer    transport.Dialer
	Passwords PasswordSource
	Logger    *slog.Logger
	// ShutdownTimeout bounds how long Run waits for handler tasks on exit.
	ShutdownTimeout time.Duration
}

// Client owns the single chat connection and drives it through
// connect, handshake, active, lost and reconnect until its context ends.
type Client struct {
	cfg    atomic.Pointer[config.Config]
	codec  atomic.Pointer[irc.Codec]
	dialer transport.Dialer
	pw     PasswordSource
	logger *slog.Logger

	reg     *registry.Registry
	sup     *dispatch.Supervisor
	disp    *dispatch.Dispatcher
	queue   *queue.FloodQueue
	plugins *plugin.Host

	state    atomic.Int32
	closed   atomic.Bool
	shutdown time.Duration

	mu        sync.Mutex
	conn      io.ReadWriteCloser
	nick      string
	reconnect bool

	wmu sync.Mutex
}

// New builds a client from cfg. The configuration must already be valid.
func New(cfg *config.Config, opts Options) (*Client, error) {
	codec, err := irc.NewCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer, err = transport.New(transport.Options{
			Kind: cfg.Transport,
			TLS:  cfg.SSL,
			Host: cfg.Host,
			Port: cfg.Port,
			URL:  cfg.WebSocketURL,
		})
		if err != nil {
			return nil, err
		}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	c := &Client{
		dialer:   dialer,
		pw:       opts.Passwords,
		logger:   logger.With(slog.String("component", "chat")),
		shutdown: opts.ShutdownTimeout,
	}
	c.cfg.Store(cfg)
	c.codec.Store(codec)
	c.reg = registry.New(cfg.Snapshot())
	c.sup = dispatch.NewSupervisor(context.Background())
	c.disp = dispatch.New(c.reg, c.sup, dispatch.WithLogger(logger))
	c.queue = queue.New(queue.WriterFunc(c.WriteLine), cfg.FloodInterval(), logger)
	c.plugins = plugin.NewHost(c.reg, logger)
	return c, nil
}

// Run connects and keeps the connection alive until ctx is cancelled, then
// notifies "stop" and waits for handler tasks. A client runs once.
func (c *Client) Run(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.queue.Run(ctx); err != nil {
			c.logger.Error("flood queue stopped", slog.Any("err", err))
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		c.dropConn()
	}()

	for ctx.Err() == nil {
		conn, err := c.connect(ctx)
		if err != nil {
			break
		}
		c.establish(ctx, conn)

		err = c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, errReconnectRequested) {
			c.logger.Info("reconnecting on request")
			c.lost(ctx, conn, err)
			continue
		}
		c.lost(ctx, conn, err)
		if !sleep(ctx, c.config().ReconnectInterval()) {
			break
		}
	}

	cancel()
	wg.Wait()
	c.stop()
	return nil
}

// connect dials until it succeeds, waiting the fixed retry delay between
// failures, with no cap on attempts.
func (c *Client) connect(ctx context.Context) (io.ReadWriteCloser, error) {
	c.setState(StateConnecting)
	return backoff.Retry(ctx, func() (io.ReadWriteCloser, error) {
		telemetry.Inc(telemetry.ConnectAttempts)
		conn, err := c.dialer.Dial(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return conn, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.config().RetryInterval())),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("connect failed; retrying",
				slog.String("addr", c.dialer.Address()), slog.Duration("retry_in", next), slog.Any("err", err))
		}),
	)
}

// establish makes conn the current transport, closing any previous one, and
// performs the handshake.
func (c *Client) establish(ctx context.Context, conn io.ReadWriteCloser) {
	c.mu.Lock()
	prev := c.conn
	c.conn = conn
	c.reconnect = false
	c.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	if ctx.Err() != nil {
		_ = conn.Close()
		return
	}

	c.setState(StateHandshaking)
	c.logger.Info("connected", slog.String("addr", c.dialer.Address()))
	if err := c.handshake(ctx); err != nil {
		// the read loop sees the broken transport and the loss path redials
		c.logger.Warn("handshake write failed", slog.Any("err", err))
	}
	_ = c.disp.Notify(ctx, registry.EventConnectionAttempted)
}

func (c *Client) readLoop(ctx context.Context, conn io.ReadWriteCloser) error {
	cfg := c.config()
	dec := irc.NewLineDecoder(c.codec.Load(), cfg.LegacyDropPartial)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.SetCodec(c.codec.Load())
			for _, line := range dec.Feed(buf[:n]) {
				if c.State() == StateHandshaking {
					c.setState(StateActive)
				}
				telemetry.Inc(telemetry.LinesReceived)
				c.logger.Debug("recv", slog.String("line", line))
				c.disp.DispatchInbound(ctx, line)
			}
		}
		if err != nil {
			c.mu.Lock()
			requested := c.reconnect && c.conn == conn
			c.mu.Unlock()
			if requested {
				return errReconnectRequested
			}
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}

// lost tears down a connection that ended, unexpectedly or on request.
func (c *Client) lost(ctx context.Context, conn io.ReadWriteCloser, cause error) {
	c.setState(StateLost)
	telemetry.Inc(telemetry.ConnectionsLost)
	c.logger.Warn("connection lost", slog.Any("err", cause))
	_ = c.disp.Notify(ctx, registry.EventConnectionLost, cause)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) stop() {
	c.closed.Store(true)
	c.setState(StateClosed)

	ctx, cancel := context.WithTimeout(context.Background(), c.shutdown)
	defer cancel()
	_ = c.disp.Notify(ctx, registry.EventStop)
	if err := c.plugins.UnloadAll(ctx); err != nil {
		c.logger.Warn("plugin unload failed", slog.Any("err", err))
	}
	if err := c.sup.Shutdown(ctx); err != nil {
		c.logger.Warn("handler tasks did not finish before shutdown deadline", slog.Int("active", c.sup.Active()))
	}
	c.logger.Info("client stopped")
}

// Reconnect drops the current connection and dials again without waiting.
func (c *Client) Reconnect() {
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.reconnect = true
	}
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) dropConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// WriteLine encodes line and writes it to the current transport. Without a
// connection the line is dropped and ErrNotConnected returned.
func (c *Client) WriteLine(_ context.Context, line string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		telemetry.Inc(telemetry.SendsDropped)
		c.logger.Warn("dropping line: not connected", slog.String("line", redact(line)))
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := conn.Write(c.codec.Load().Encode(line)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.logger.Debug("sent", slog.String("line", redact(line)))
	return nil
}

// ApplyConfig switches to cfg: patterns are recompiled against its snapshot,
// the flood interval takes effect at once, the encoding with the next line
// written or read, identity on the next connection.
func (c *Client) ApplyConfig(cfg *config.Config) error {
	codec, err := irc.NewCodec(cfg.Encoding)
	if err != nil {
		return err
	}
	snap := cfg.Snapshot()
	if nick := c.Nick(); nick != "" {
		snap = nickSnapshot(snap, nick)
	}
	if err := c.reg.Recompile(snap); err != nil {
		return err
	}
	c.codec.Store(codec)
	c.queue.SetInterval(cfg.FloodInterval())
	c.cfg.Store(cfg)
	c.logger.Info("configuration applied", slog.Duration("flood_interval", cfg.FloodInterval()))
	return nil
}

func (c *Client) config() *config.Config { return c.cfg.Load() }

// Config returns the configuration in effect.
func (c *Client) Config() *config.Config { return c.cfg.Load() }

// Registry returns the pattern and listener registry.
func (c *Client) Registry() *registry.Registry { return c.reg }

// Dispatcher returns the dispatcher.
func (c *Client) Dispatcher() *dispatch.Dispatcher { return c.disp }

// Plugins returns the plugin host.
func (c *Client) Plugins() *plugin.Host { return c.plugins }

// Queue returns the outbound flood queue.
func (c *Client) Queue() *queue.FloodQueue { return c.queue }

// Notify emits a lifecycle notification.
func (c *Client) Notify(ctx context.Context, event string, args ...any) error {
	return c.disp.Notify(ctx, event, args...)
}

// Nick returns the nick used on the current or last connection.
func (c *Client) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// Channels returns the configured channels.
func (c *Client) Channels() []string {
	return append([]string(nil), c.config().Channels...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
