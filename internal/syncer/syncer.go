// Package syncer mediates between user intent, optimistic local state,
// and server-confirmed state. It owns the panel's view of the two
// tunnels: snapshots from the push channel replace it, toggles mutate
// it optimistically before the controller confirms, and per-tunnel
// coalescing queues guarantee the last user intent is what reaches the
// controller under rapid clicking.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/status"
)

// Tunnel names the two controlled tunnels.
type Tunnel string

const (
	TunnelPrimary Tunnel = "wg0"
	TunnelSecure  Tunnel = "ss"
)

// ParseTunnel validates a tunnel name from the panel API.
func ParseTunnel(raw string) (Tunnel, bool) {
	t := Tunnel(raw)
	return t, t == TunnelPrimary || t == TunnelSecure
}

// Transport is the slice of the controller client the syncer needs.
type Transport interface {
	FetchStatus(ctx context.Context) (status.SystemStatus, error)
	Apply(ctx context.Context, in status.ApplyIntent) (status.SystemStatus, error)
}

// ErrBusy is returned when an ApplyAll is already outstanding.
var ErrBusy = errors.New("apply already in progress")

// View is the snapshot-consistent state handed to renderers. A
// subscriber never observes a half-updated status.
type View struct {
	Have           bool                `json:"have"`
	Status         status.SystemStatus `json:"status"`
	PendingProfile status.Profile      `json:"pending_profile,omitempty"`
	Applying       bool                `json:"applying"`
	ConnState      string              `json:"conn_state"`
	ConnError      string              `json:"conn_error,omitempty"`
	LastError      string              `json:"last_error,omitempty"`
}

// toggleQueue coalesces rapid toggles of one tunnel: the sender
// goroutine always submits the latest desired value, never a stale one.
type toggleQueue struct {
	desired bool
	dirty   bool
	running bool
}

// Syncer is safe for concurrent use.
type Syncer struct {
	tr      Transport
	timeout time.Duration

	mu        sync.Mutex
	view      View
	confirmed status.SystemStatus // last state the controller acknowledged
	queues    map[Tunnel]*toggleQueue
	subs      map[chan View]struct{}
	closed    bool
}

// New builds a syncer over tr. timeout bounds every apply call; a
// non-positive value means 15s.
func New(tr Transport, timeout time.Duration) *Syncer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Syncer{
		tr:      tr,
		timeout: timeout,
		view:    View{ConnState: "connecting"},
		queues: map[Tunnel]*toggleQueue{
			TunnelPrimary: {},
			TunnelSecure:  {},
		},
		subs: make(map[chan View]struct{}),
	}
}

// View returns the current consistent view.
func (s *Syncer) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Subscribe returns a channel carrying view updates. The channel holds
// only the latest view; slow readers skip intermediates, never block
// the syncer. Cancel with Unsubscribe.
func (s *Syncer) Subscribe() chan View {
	ch := make(chan View, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch
	}
	s.subs[ch] = struct{}{}
	ch <- s.view
	return ch
}

// Unsubscribe detaches a channel obtained from Subscribe.
func (s *Syncer) Unsubscribe(ch chan View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// Close detaches the syncer. Responses from still-in-flight requests
// are discarded without touching state.
func (s *Syncer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

// ApplySnapshot installs a pushed snapshot as the authoritative state.
// A tunnel whose toggle queue is mid-flight keeps its optimistic value;
// the queue's own completion reconciles it. The pending profile
// selector follows the snapshot only when the pushed value is one of
// the known profiles.
func (s *Syncer) ApplySnapshot(snap status.SystemStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.confirmed = snap
	s.view.Have = true
	s.reconcileLocked(snap)
	s.publishLocked()
}

// SetConnState mirrors the push channel state into the view. Errors
// clear when the channel reopens.
func (s *Syncer) SetConnState(state string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.view.ConnState = state
	if err != nil {
		s.view.ConnError = err.Error()
	} else if state == "open" {
		s.view.ConnError = ""
	}
	s.publishLocked()
}

// StageProfile records the user's in-progress profile choice without
// touching the live tunnel.
func (s *Syncer) StageProfile(p status.Profile) error {
	if !p.Known() {
		return fmt.Errorf("unknown profile %q", string(p))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("syncer closed")
	}
	s.view.PendingProfile = p
	s.publishLocked()
	return nil
}

// Toggle flips the named tunnel optimistically and queues the change
// for the controller. It returns immediately; failures surface through
// the view's LastError.
func (s *Syncer) Toggle(t Tunnel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	q := s.queues[t]
	if q == nil {
		return
	}
	next := !s.activeLocked(t)
	s.setActiveLocked(t, next)
	q.desired = next
	q.dirty = true
	if !q.running {
		q.running = true
		go s.drain(t, q)
	}
	s.publishLocked()
}

// drain is the single sender for one tunnel. It loops while the user
// keeps changing their mind, always submitting the latest desired
// value, and reconciles or reverts when the queue settles.
func (s *Syncer) drain(t Tunnel, q *toggleQueue) {
	for {
		s.mu.Lock()
		if s.closed || !q.dirty {
			q.running = false
			s.mu.Unlock()
			return
		}
		want := q.desired
		q.dirty = false
		s.mu.Unlock()

		in := status.ApplyIntent{}
		switch t {
		case TunnelPrimary:
			in.WG0Enabled = &want
		case TunnelSecure:
			in.SSEnabled = &want
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		resp, err := s.tr.Apply(ctx, in)
		cancel()

		s.mu.Lock()
		if s.closed {
			q.running = false
			s.mu.Unlock()
			return
		}
		if err != nil {
			log.Printf("syncer: toggle %s failed: %v", t, err)
			s.view.LastError = err.Error()
			if !q.dirty {
				// Revert to the last confirmed value rather than
				// keep claiming a state the controller never took.
				s.setActiveLocked(t, s.confirmedActiveLocked(t))
			}
		} else {
			s.confirmed = resp
			s.view.LastError = ""
			if !q.dirty {
				s.reconcileLocked(resp)
			}
		}
		s.publishLocked()
		s.mu.Unlock()
	}
}

// ApplyAll submits both toggle states plus the staged profile in one
// atomic request. Only one manual apply may be outstanding at a time;
// toggles stay independent.
func (s *Syncer) ApplyAll(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("syncer closed")
	}
	if s.view.Applying {
		s.mu.Unlock()
		return ErrBusy
	}
	s.view.Applying = true
	wg0 := s.view.Status.WG0.Active
	ss := s.view.Status.SS.Active
	in := status.ApplyIntent{WG0Enabled: &wg0, SSEnabled: &ss}
	if p := s.view.PendingProfile; p.Known() {
		in.SSProfile = &p
	}
	s.publishLocked()
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	resp, err := s.tr.Apply(callCtx, in)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return err
	}
	s.view.Applying = false
	if err != nil {
		log.Printf("syncer: apply failed: %v", err)
		s.view.LastError = err.Error()
		s.publishLocked()
		return err
	}
	s.confirmed = resp
	s.view.LastError = ""
	s.reconcileLocked(resp)
	s.publishLocked()
	return nil
}

// ClearError drops the surfaced request error after the user dismisses
// or retries it.
func (s *Syncer) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.view.LastError = ""
	s.publishLocked()
}

// reconcileLocked folds an authoritative status into the view, leaving
// alone any tunnel with a fresher local intent still in flight.
func (s *Syncer) reconcileLocked(auth status.SystemStatus) {
	s.view.Status.WG0.Profile = auth.WG0.Profile
	s.view.Status.SS.Profile = auth.SS.Profile
	if q := s.queues[TunnelPrimary]; !q.running && !q.dirty {
		s.view.Status.WG0.Active = auth.WG0.Active
	}
	if q := s.queues[TunnelSecure]; !q.running && !q.dirty {
		s.view.Status.SS.Active = auth.SS.Active
	}
	if p, ok := status.ParseProfile(auth.SS.Profile); ok {
		s.view.PendingProfile = p
	}
}

func (s *Syncer) activeLocked(t Tunnel) bool {
	if t == TunnelPrimary {
		return s.view.Status.WG0.Active
	}
	return s.view.Status.SS.Active
}

func (s *Syncer) confirmedActiveLocked(t Tunnel) bool {
	if t == TunnelPrimary {
		return s.confirmed.WG0.Active
	}
	return s.confirmed.SS.Active
}

func (s *Syncer) setActiveLocked(t Tunnel, v bool) {
	if t == TunnelPrimary {
		s.view.Status.WG0.Active = v
	} else {
		s.view.Status.SS.Active = v
	}
}

// publishLocked fans the current view out to subscribers. Buffers hold
// only the latest view: a full buffer is drained before the send so a
// stalled reader sees the newest state when it wakes.
func (s *Syncer) publishLocked() {
	for ch := range s.subs {
		select {
		case ch <- s.view:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s.view
		}
	}
}
