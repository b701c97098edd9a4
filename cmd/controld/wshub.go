package main

import (
	"context"
	"sync"
	"time"

	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/wscompat"
)

// wsHub tracks connected panels so every applied change can be pushed
// to all of them.
type wsHub struct {
	mu    sync.Mutex
	conns map[*wscompat.Conn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{conns: make(map[*wscompat.Conn]struct{})}
}

func (h *wsHub) register(c *wscompat.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *wsHub) unregister(c *wscompat.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// broadcast sends one frame to every panel. A connection that cannot
// take the write is dropped; its own read loop handles cleanup.
func (h *wsHub) broadcast(data []byte) {
	h.mu.Lock()
	conns := make([]*wscompat.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Write(ctx, wscompat.MessageText, data); err != nil {
			h.unregister(c)
			_ = c.Close()
		}
		cancel()
	}
}
