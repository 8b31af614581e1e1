// Package relay fans call events out to observer WebSocket connections.
//
// Observers attach keyed by session id and receive a session-state snapshot
// immediately, then every broadcast for that session in order. Delivery is
// best-effort: a slow or dead observer is dropped without affecting the call
// or the other observers.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// writeConn is the subset of *websocket.Conn the hub uses, abstracted for
// tests.
type writeConn interface {
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

var _ writeConn = (*websocket.Conn)(nil)

// observerBuffer is how many undelivered messages an observer may lag before
// it is dropped.
const observerBuffer = 64

// Observer is one attached observer connection. Its writer goroutine drains
// the send queue so broadcasts never block on a slow socket.
type Observer struct {
	hub       *Hub
	sessionID string
	conn      writeConn
	done      chan struct{}

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// Done is closed when the observer's writer goroutine has exited.
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// enqueue queues data for delivery. Reports false when the observer is
// closed or its queue is full.
func (o *Observer) enqueue(data []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.send <- data:
		return true
	default:
		return false
	}
}

// Close detaches the observer and closes its connection. Safe to call
// multiple times.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.send)
	o.mu.Unlock()
	o.hub.detach(o)
}

// writeLoop drains the send queue onto the socket until the queue closes or
// a write fails.
func (o *Observer) writeLoop() {
	defer close(o.done)
	defer o.conn.Close(websocket.StatusNormalClosure, "done")

	for msg := range o.send {
		if err := o.conn.Write(context.Background(), websocket.MessageText, msg); err != nil {
			o.hub.log.Debug("observer write failed, dropping",
				"session_id", o.sessionID, "error", err)
			o.Close()
			return
		}
	}
}

// Hub is the process-wide observer registry. Safe for concurrent use.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string][]*Observer
}

// NewHub creates an empty hub. A nil logger falls back to slog.Default().
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		sessions: make(map[string][]*Observer),
	}
}

// Attach registers conn as an observer of sessionID and queues snapshot as
// its first message. The returned Observer must be closed by the caller when
// the connection ends.
func (h *Hub) Attach(sessionID string, conn writeConn, snapshot any) (*Observer, error) {
	first, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("relay: marshal snapshot: %w", err)
	}

	o := &Observer{
		hub:       h,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, observerBuffer),
		done:      make(chan struct{}),
	}
	o.enqueue(first)

	h.mu.Lock()
	h.sessions[sessionID] = append(h.sessions[sessionID], o)
	count := len(h.sessions[sessionID])
	h.mu.Unlock()

	go o.writeLoop()

	h.log.Debug("observer attached", "session_id", sessionID, "observers", count)
	return o, nil
}

// detach removes o from its session's observer list.
func (h *Hub) detach(o *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obs := h.sessions[o.sessionID]
	for i, cur := range obs {
		if cur == o {
			h.sessions[o.sessionID] = append(obs[:i], obs[i+1:]...)
			break
		}
	}
	if len(h.sessions[o.sessionID]) == 0 {
		delete(h.sessions, o.sessionID)
	}
}

// Broadcast sends msg to every observer of sessionID, in attach order. An
// observer whose queue is full is dropped rather than blocking the call.
func (h *Hub) Broadcast(sessionID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("relay: marshal broadcast", "session_id", sessionID, "error", err)
		return
	}

	h.mu.RLock()
	obs := make([]*Observer, len(h.sessions[sessionID]))
	copy(obs, h.sessions[sessionID])
	h.mu.RUnlock()

	for _, o := range obs {
		if !o.enqueue(data) {
			h.log.Warn("observer queue full or closed, dropping",
				"session_id", sessionID)
			o.Close()
		}
	}
}

// Count returns the number of attached observers for sessionID.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// CloseSession detaches and closes every observer of sessionID, typically
// after the call-ended message has been queued.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.RLock()
	obs := make([]*Observer, len(h.sessions[sessionID]))
	copy(obs, h.sessions[sessionID])
	h.mu.RUnlock()

	for _, o := range obs {
		o.Close()
	}
}
