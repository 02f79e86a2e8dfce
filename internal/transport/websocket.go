package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 30 * time.Second

	// How long Close waits for the peer to echo the close frame.
	closeGracePeriod = 5 * time.Second
)

// WebSocketOption configures a WebSocketDialer.
type WebSocketOption func(*websocket.Dialer)

// WithHandshakeTimeout bounds the opening handshake.
func WithHandshakeTimeout(d time.Duration) WebSocketOption {
	return func(wd *websocket.Dialer) {
		if d > 0 {
			wd.HandshakeTimeout = d
		}
	}
}

// WithReadBufferSize sets the connection read buffer size. Zero keeps the
// library default.
func WithReadBufferSize(n int) WebSocketOption {
	return func(wd *websocket.Dialer) {
		if n > 0 {
			wd.ReadBufferSize = n
		}
	}
}

// WebSocketDialer dials realtime endpoints with gorilla/websocket.
type WebSocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer honoring proxy environment variables.
func NewWebSocketDialer(opts ...WebSocketOption) *WebSocketDialer {
	wd := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(wd)
	}
	return &WebSocketDialer{dialer: wd}
}

// Dial opens a websocket connection to rawURL.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to dial websocket (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn    *websocket.Conn
	closing atomic.Bool
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.conn.Close()
			if c.isNormalClose(err) {
				return nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	// The peer never echoed our close frame before the read deadline.
	return c.closing.Load()
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) error {
	c.closing.Store(true)
	deadline := time.Now().Add(closeGracePeriod)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to write close frame: %w", err)
	}
	return c.conn.SetReadDeadline(deadline)
}
