// Package statusws maintains the long-lived websocket that streams
// status snapshots from the controller, with keep-alives and an
// infinite fixed-delay reconnect loop.
package statusws

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/status"
)

// State of the push connection as surfaced to the panel.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

const (
	defaultRetryDelay = 5 * time.Second
	defaultKeepAlive  = 25 * time.Second
	defaultHandshake  = 10 * time.Second
)

// Options tune the channel. Zero values pick the defaults above;
// tests shrink the intervals.
type Options struct {
	RetryDelay    time.Duration
	KeepAliveEach time.Duration
	Handshake     time.Duration

	// OnSnapshot receives every valid snapshot from the currently
	// open connection. OnStateChange receives transitions; the error
	// is non-nil only for StateClosed after a failure.
	OnSnapshot    func(status.SystemStatus)
	OnStateChange func(State, error)
}

// Channel owns the websocket to /ws/status. Once started it retries
// forever until Close.
type Channel struct {
	url  string
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	dialEnd context.CancelFunc
	closed  bool
}

// StatusURL derives the push endpoint from the controller base URL by
// swapping the http scheme prefix for its websocket equivalent.
func StatusURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/status"
}

// New prepares a channel for the controller at baseURL. Call Start to
// begin connecting.
func New(baseURL string, opts Options) *Channel {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.KeepAliveEach <= 0 {
		opts.KeepAliveEach = defaultKeepAlive
	}
	if opts.Handshake <= 0 {
		opts.Handshake = defaultHandshake
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		url:    StatusURL(baseURL),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		kick:   make(chan struct{}, 1),
	}
}

// Start launches the connect/read/retry loop.
func (c *Channel) Start() {
	go c.run()
}

// Reconnect drops the current connection, or aborts an in-progress
// dial, and retries immediately instead of waiting out the delay.
func (c *Channel) Reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.dialEnd != nil {
		c.dialEnd()
	}
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusGoingAway, "reconnect")
	}
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Close tears the channel down. No callback or timer fires afterwards.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	c.cancel()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "panel closed")
	}
}

func (c *Channel) run() {
	for {
		if c.ctx.Err() != nil {
			return
		}
		c.notify(StateConnecting, nil)

		conn, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.notify(StateClosed, err)
			if !c.pause() {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "panel closed")
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.notify(StateOpen, nil)

		kaCtx, kaStop := context.WithCancel(c.ctx)
		go c.keepAlive(kaCtx, conn)
		err = c.readLoop(conn)
		kaStop()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		closed := c.closed
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		if closed || c.ctx.Err() != nil {
			return
		}
		c.notify(StateClosed, err)
		if !c.pause() {
			return
		}
	}
}

func (c *Channel) dial() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(c.ctx, c.opts.Handshake)
	c.mu.Lock()
	c.dialEnd = cancel
	c.mu.Unlock()
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	c.mu.Lock()
	c.dialEnd = nil
	c.mu.Unlock()
	cancel()
	return conn, err
}

// pause waits out the retry delay. A manual reconnect skips it; a
// close aborts the loop entirely.
func (c *Channel) pause() bool {
	t := time.NewTimer(c.opts.RetryDelay)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-c.kick:
		return true
	case <-t.C:
		return true
	}
}

func (c *Channel) keepAlive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(c.opts.KeepAliveEach)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.Write(ctx, websocket.MessageText, []byte(status.KeepAliveToken)); err != nil {
				return
			}
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return err
		}
		c.handleMessage(conn, data)
	}
}

// handleMessage decodes one tagged frame. Malformed or unknown frames
// are logged and dropped; they are a resilience concern, not an error
// the panel should show.
func (c *Channel) handleMessage(conn *websocket.Conn, data []byte) {
	var env status.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("statusws: undecodable frame: %v", err)
		return
	}
	switch env.Type {
	case status.MsgStatus:
		var snap status.SystemStatus
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			log.Printf("statusws: bad status payload: %v", err)
			return
		}
		// A frame from a superseded connection must never be applied
		// after a newer connection has opened.
		c.mu.Lock()
		current := c.conn == conn
		c.mu.Unlock()
		if !current {
			return
		}
		if c.opts.OnSnapshot != nil {
			c.opts.OnSnapshot(snap)
		}
	default:
	}
}

func (c *Channel) notify(s State, err error) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s, err)
	}
}
