// Package transport provides the message-oriented connection the realtime
// relay runs over.
package transport

import (
	"context"
	"errors"
	"net/http"
)

// ErrClosed is returned by ReadMessage once the connection has been closed
// normally by either side.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a bidirectional text-frame connection. ReadMessage is called from
// a single goroutine; WriteMessage and Close are serialized by the caller.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, rawURL string, header http.Header) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	return f(ctx, rawURL, header)
}
