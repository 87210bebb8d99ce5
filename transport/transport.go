// Package transport opens the single chat connection, over TCP (optionally
// TLS) or WebSocket.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// Twitch chat endpoints.
const (
	DefaultHost    = "irc.chat.twitch.tv"
	PortTLS        = 443
	PortPlain      = 6667
	WebSocketTLS   = "wss://irc-ws.chat.twitch.tv:443"
	WebSocketPlain = "ws://irc-ws.chat.twitch.tv:80"
)

// ErrUnknownKind is returned for a transport kind other than tcp or websocket.
var ErrUnknownKind = errors.New("unknown transport kind")

// Dialer opens a fresh connection to the chat server.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	Address() string
}

// Options selects the endpoint.
type Options struct {
	// Kind is "tcp" (default) or "websocket".
	Kind string
	// TLS selects the secure port or scheme.
	TLS bool
	// Host and Port override the TCP endpoint; URL overrides the WebSocket one.
	Host string
	Port int
	URL  string
	// Timeout bounds connection establishment.
	Timeout time.Duration
}

// New builds the dialer described by opts.
func New(opts Options) (Dialer, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	switch opts.Kind {
	case "", "tcp":
		d := &TCPDialer{Host: opts.Host, Port: opts.Port, TLS: opts.TLS, Timeout: opts.Timeout}
		if d.Host == "" {
			d.Host = DefaultHost
		}
		if d.Port == 0 {
			d.Port = PortPlain
			if opts.TLS {
				d.Port = PortTLS
			}
		}
		return d, nil
	case "websocket", "ws":
		u := opts.URL
		if u == "" {
			u = WebSocketPlain
			if opts.TLS {
				u = WebSocketTLS
			}
		}
		return NewWebSocketDialer(u, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}
}

// TCPDialer connects over plain TCP or TLS.
type TCPDialer struct {
	Host      string
	Port      int
	TLS       bool
	TLSConfig *tls.Config
	Timeout   time.Duration
}

// Address returns host:port.
func (d *TCPDialer) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Dial opens the connection.
func (d *TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	nd := &net.Dialer{Timeout: d.Timeout, KeepAlive: 30 * time.Second}
	if !d.TLS {
		return nd.DialContext(ctx, "tcp", d.Address())
	}
	cfg := d.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{ServerName: d.Host, MinVersion: tls.VersionTLS12}
	}
	td := &tls.Dialer{NetDialer: nd, Config: cfg}
	return td.DialContext(ctx, "tcp", d.Address())
}
