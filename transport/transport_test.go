package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		addr string
	}{
		{name: "tls", opts: Options{TLS: true}, addr: "irc.chat.twitch.tv:443"},
		{name: "plain", opts: Options{}, addr: "irc.chat.twitch.tv:6667"},
		{name: "ws tls", opts: Options{Kind: "websocket", TLS: true}, addr: WebSocketTLS},
		{name: "ws plain", opts: Options{Kind: "websocket"}, addr: WebSocketPlain},
		{name: "override", opts: Options{Host: "127.0.0.1", Port: 7000}, addr: "127.0.0.1:7000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.addr, d.Address())
		})
	}

	_, err := New(Options{Kind: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestTCPDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		line, _ := bufio.NewReader(c).ReadString('\n')
		got <- line
	}()

	addr := ln.Addr().(*net.TCPAddr)
	d, err := New(Options{Host: "127.0.0.1", Port: addr.Port})
	require.NoError(t, err)
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("NICK justinfan1\r\n"))
	require.NoError(t, err)
	select {
	case line := <-got:
		assert.Equal(t, "NICK justinfan1\r\n", line)
	case <-time.After(time.Second):
		t.Fatal("server did not receive line")
	}
}

func TestWebSocketDialer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		// echo back split across two frames
		_ = ws.WriteMessage(websocket.TextMessage, msg[:3])
		_ = ws.WriteMessage(websocket.TextMessage, msg[3:])
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	d := NewWebSocketDialer("ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("PING :x\r\n"))
	require.NoError(t, err)

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "PING :x\r\n", string(data))
}
