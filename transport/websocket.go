package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer connects to the chat server's WebSocket gateway. Each
// outbound write becomes one text frame; inbound frames are concatenated into
// a byte stream for the line decoder.
type WebSocketDialer struct {
	URL    string
	dialer *websocket.Dialer
}

// NewWebSocketDialer returns a dialer for url.
func NewWebSocketDialer(url string, timeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{
		URL:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

// Address returns the gateway URL.
func (d *WebSocketDialer) Address() string { return d.URL }

// Dial performs the WebSocket handshake.
func (d *WebSocketDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", d.URL, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
	r  io.Reader

	wmu       sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}
