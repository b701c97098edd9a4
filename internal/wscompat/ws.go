// Package wscompat wraps gorilla/websocket's server side behind a small
// context-aware API so the daemons' push endpoints read and write the
// same way the panel's nhooyr-based client does.
package wscompat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	StatusNormalClosure = websocket.CloseNormalClosure
	StatusGoingAway     = websocket.CloseGoingAway
	StatusInternalError = websocket.CloseInternalServerErr
)

const (
	MessageText   = websocket.TextMessage
	MessageBinary = websocket.BinaryMessage
)

// readIdle bounds how long a Read waits before the peer counts as
// gone. Any frame resets it, and so does a pong, so a peer that only
// answers the server's pings (a browser, for instance) stays connected.
const readIdle = 60 * time.Second

type Conn struct {
	*websocket.Conn
	idle time.Duration
}

type AcceptOptions struct {
	EnableCompression bool
	// ReadIdle overrides the 60s idle window. Zero keeps the default.
	ReadIdle time.Duration
}

// Accept upgrades an HTTP request to a websocket.
func Accept(w http.ResponseWriter, r *http.Request, opts *AcceptOptions) (*Conn, error) {
	up := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	up.EnableCompression = opts != nil && opts.EnableCompression
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if up.EnableCompression {
		conn.EnableWriteCompression(true)
	}
	idle := readIdle
	if opts != nil && opts.ReadIdle > 0 {
		idle = opts.ReadIdle
	}
	// Pongs arrive while a Read is blocked; pushing the deadline out
	// here keeps an otherwise-idle peer alive as long as it answers
	// our pings.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	return &Conn{Conn: conn, idle: idle}, nil
}

// Ping sends a control ping, honoring the context deadline.
func (c *Conn) Ping(ctx context.Context) error {
	if c == nil {
		return net.ErrClosed
	}
	deadline, ok := ctx.Deadline()
	if ok {
		_ = c.SetWriteDeadline(deadline)
		defer c.SetWriteDeadline(time.Time{})
	}
	return c.WriteControl(websocket.PingMessage, nil, deadline)
}

// Read returns the next frame, bounded by the idle window.
func (c *Conn) Read(ctx context.Context) (int, []byte, error) {
	if c == nil {
		return 0, nil, net.ErrClosed
	}
	idle := c.idle
	if idle <= 0 {
		idle = readIdle
	}
	_ = c.SetReadDeadline(time.Now().Add(idle))
	mt, data, err := c.ReadMessage()
	return mt, data, err
}

// Write sends one frame, honoring the context deadline.
func (c *Conn) Write(ctx context.Context, msgType int, data []byte) error {
	if c == nil {
		return net.ErrClosed
	}
	deadline, ok := ctx.Deadline()
	if ok {
		_ = c.SetWriteDeadline(deadline)
		defer c.SetWriteDeadline(time.Time{})
	}
	return c.WriteMessage(msgType, data)
}

// CloseStatus sends a close frame with the given status before dropping
// the underlying connection.
func (c *Conn) CloseStatus(code int, reason string) error {
	if c == nil {
		return net.ErrClosed
	}
	_ = c.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(5*time.Second),
	)
	return c.Conn.Close()
}
