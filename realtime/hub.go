package realtime

import (
	"errors"
	"sync"

	"github.com/aboutevan/prello/domain"
)

// ErrConnectionGone reports a send to a connection that is no longer
// attached to the hub.
var ErrConnectionGone = errors.New("connection gone")

const sendBuffer = 16

// Hub owns the per-connection delivery channels shared by the SSE and
// WebSocket transports. Send never blocks the publisher: a slow
// consumer's full buffer drops the event rather than stalling fan-out.
type Hub struct {
	mu    sync.Mutex
	conns map[string]chan domain.Event
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]chan domain.Event)}
}

// Attach registers a connection and returns the channel its transport
// drains.
func (h *Hub) Attach(connID string) <-chan domain.Event {
	ch := make(chan domain.Event, sendBuffer)
	h.mu.Lock()
	h.conns[connID] = ch
	h.mu.Unlock()
	return ch
}

// Detach removes a connection. Subsequent sends to it return
// ErrConnectionGone.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	delete(h.conns, connID)
	h.mu.Unlock()
}

// Connected reports whether the connection is currently attached.
func (h *Hub) Connected(connID string) bool {
	h.mu.Lock()
	_, ok := h.conns[connID]
	h.mu.Unlock()
	return ok
}

// Send hands the event to the connection's transport without blocking.
func (h *Hub) Send(connID string, ev domain.Event) error {
	h.mu.Lock()
	ch, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return ErrConnectionGone
	}
	select {
	case ch <- ev:
	default:
	}
	return nil
}
