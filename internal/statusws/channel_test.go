package statusws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/status"
	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/wscompat"
)

// wsServer runs onConn for every websocket accepted on /ws/status.
func wsServer(t *testing.T, onConn func(*wscompat.Conn)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/status", func(w http.ResponseWriter, r *http.Request) {
		c, err := wscompat.Accept(w, r, nil)
		if err != nil {
			return
		}
		onConn(c)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func sendSnapshot(t *testing.T, c *wscompat.Conn, snap status.SystemStatus) {
	t.Helper()
	frame, err := status.StatusEnvelope(snap)
	if err != nil {
		t.Error(err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, wscompat.MessageText, frame); err != nil {
		t.Logf("snapshot write: %v", err)
	}
}

func TestStatusURL(t *testing.T) {
	cases := map[string]string{
		"http://panel.internal:8080": "ws://panel.internal:8080/ws/status",
		"https://panel.internal/":    "wss://panel.internal/ws/status",
		"http://127.0.0.1:9000":      "ws://127.0.0.1:9000/ws/status",
	}
	for in, want := range cases {
		if got := StatusURL(in); got != want {
			t.Errorf("StatusURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSnapshotAndKeepAlive(t *testing.T) {
	tokens := make(chan string, 16)
	srv := wsServer(t, func(c *wscompat.Conn) {
		sendSnapshot(t, c, status.SystemStatus{WG0: status.TunnelState{Active: true}})
		for {
			_, data, err := c.Read(context.Background())
			if err != nil {
				return
			}
			tokens <- string(data)
		}
	})

	snaps := make(chan status.SystemStatus, 16)
	ch := New(srv.URL, Options{
		KeepAliveEach: 30 * time.Millisecond,
		RetryDelay:    50 * time.Millisecond,
		OnSnapshot:    func(s status.SystemStatus) { snaps <- s },
	})
	ch.Start()
	defer ch.Close()

	select {
	case s := <-snaps:
		if !s.WG0.Active {
			t.Fatalf("snapshot = %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
	select {
	case tok := <-tokens:
		if tok != status.KeepAliveToken {
			t.Fatalf("keep-alive token = %q", tok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive sent while connection open")
	}
}

func TestReconnectAfterServerClose(t *testing.T) {
	var connects int32
	srv := wsServer(t, func(c *wscompat.Conn) {
		n := atomic.AddInt32(&connects, 1)
		sendSnapshot(t, c, status.SystemStatus{SS: status.TunnelState{Active: n > 1}})
		_ = c.CloseStatus(wscompat.StatusGoingAway, "rolling restart")
	})

	snaps := make(chan status.SystemStatus, 16)
	var opens int32
	ch := New(srv.URL, Options{
		RetryDelay:    30 * time.Millisecond,
		KeepAliveEach: time.Hour,
		OnSnapshot:    func(s status.SystemStatus) { snaps <- s },
		OnStateChange: func(s State, err error) {
			if s == StateOpen {
				atomic.AddInt32(&opens, 1)
			}
		},
	})
	ch.Start()
	defer ch.Close()

	deadline := time.After(3 * time.Second)
	got := 0
	for got < 2 {
		select {
		case <-snaps:
			got++
		case <-deadline:
			t.Fatalf("only %d snapshots after repeated closes", got)
		}
	}
	if atomic.LoadInt32(&opens) < 2 {
		t.Fatalf("opens = %d, want reconnects", opens)
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	srv := wsServer(t, func(c *wscompat.Conn) {
		ctx := context.Background()
		_ = c.Write(ctx, wscompat.MessageText, []byte("not json"))
		_ = c.Write(ctx, wscompat.MessageText, []byte(`{"type":"weather","data":{}}`))
		_ = c.Write(ctx, wscompat.MessageText, []byte(`{"type":"status","data":"nope"}`))
		sendSnapshot(t, c, status.SystemStatus{WG0: status.TunnelState{Active: true}})
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	})

	snaps := make(chan status.SystemStatus, 16)
	ch := New(srv.URL, Options{
		KeepAliveEach: time.Hour,
		OnSnapshot:    func(s status.SystemStatus) { snaps <- s },
	})
	ch.Start()
	defer ch.Close()

	select {
	case s := <-snaps:
		if !s.WG0.Active {
			t.Fatalf("wrong snapshot survived the junk: %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid snapshot after malformed frames never arrived")
	}
	select {
	case s := <-snaps:
		t.Fatalf("malformed frame produced a snapshot: %+v", s)
	default:
	}
}

func TestManualReconnectSkipsDelay(t *testing.T) {
	var connects int32
	srv := wsServer(t, func(c *wscompat.Conn) {
		atomic.AddInt32(&connects, 1)
		for {
			if _, _, err := c.Read(context.Background()); err != nil {
				return
			}
		}
	})

	opened := make(chan struct{}, 8)
	ch := New(srv.URL, Options{
		// Deliberately huge: a reconnect that waits out the delay
		// would blow the test deadline.
		RetryDelay:    time.Hour,
		KeepAliveEach: time.Hour,
		OnStateChange: func(s State, err error) {
			if s == StateOpen {
				opened <- struct{}{}
			}
		},
	})
	ch.Start()
	defer ch.Close()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("never connected")
	}
	ch.Reconnect()
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("manual reconnect did not bypass the retry delay")
	}
	if atomic.LoadInt32(&connects) < 2 {
		t.Fatalf("connects = %d", connects)
	}
}

func TestCloseStopsCallbacks(t *testing.T) {
	block := make(chan struct{})
	srv := wsServer(t, func(c *wscompat.Conn) {
		<-block
		_ = c.Close()
	})
	defer close(block)

	states := make(chan State, 16)
	ch := New(srv.URL, Options{
		RetryDelay:    10 * time.Millisecond,
		KeepAliveEach: time.Hour,
		OnStateChange: func(s State, err error) { states <- s },
	})
	ch.Start()

	waitOpen := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == StateOpen {
				goto opened
			}
		case <-waitOpen:
			t.Fatal("never opened")
		}
	}
opened:
	ch.Close()
	// Drain whatever was in flight, then confirm silence: no timer or
	// callback may fire after teardown.
	time.Sleep(50 * time.Millisecond)
	for len(states) > 0 {
		<-states
	}
	time.Sleep(100 * time.Millisecond)
	if n := len(states); n != 0 {
		t.Fatalf("%d state changes after Close", n)
	}
}

// During a reconnect a frame can still be attributed to the connection
// that was just replaced. Its snapshot must be discarded; only frames
// from the live connection reach the callback.
func TestSupersededConnectionSnapshotsAreDiscarded(t *testing.T) {
	srv := wsServer(t, func(c *wscompat.Conn) {
		<-make(chan struct{})
	})

	snaps := make(chan status.SystemStatus, 8)
	states := make(chan State, 8)
	ch := New(srv.URL, Options{
		RetryDelay:    10 * time.Millisecond,
		KeepAliveEach: time.Hour,
		OnSnapshot:    func(s status.SystemStatus) { snaps <- s },
		OnStateChange: func(s State, err error) { states <- s },
	})
	ch.Start()
	defer ch.Close()

	waitOpen := time.After(2 * time.Second)
	for open := false; !open; {
		select {
		case s := <-states:
			open = s == StateOpen
		case <-waitOpen:
			t.Fatal("never opened")
		}
	}

	// A separate dial stands in for the connection the channel held
	// before its current one.
	dialCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	old, _, err := websocket.Dial(dialCtx, StatusURL(srv.URL), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer old.Close(websocket.StatusNormalClosure, "")

	frame, err := status.StatusEnvelope(status.SystemStatus{
		WG0: status.TunnelState{Active: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	ch.handleMessage(old, frame)
	select {
	case s := <-snaps:
		t.Fatalf("snapshot from replaced connection applied: %+v", s)
	case <-time.After(100 * time.Millisecond):
	}

	ch.mu.Lock()
	cur := ch.conn
	ch.mu.Unlock()
	ch.handleMessage(cur, frame)
	select {
	case s := <-snaps:
		if !s.WG0.Active {
			t.Fatalf("unexpected snapshot: %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot from live connection never applied")
	}
}
