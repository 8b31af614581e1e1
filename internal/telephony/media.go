package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// EventKind discriminates the events the carrier sends over the media stream.
type EventKind string

const (
	// EventConnected is the first message after the WebSocket opens.
	EventConnected EventKind = "connected"

	// EventStart carries the carrier-assigned stream id. Duplicates are
	// possible; consumers must treat them idempotently.
	EventStart EventKind = "start"

	// EventMedia carries one 20 ms µ-law frame of inbound caller audio.
	EventMedia EventKind = "media"

	// EventStop signals the carrier has torn the stream down.
	EventStop EventKind = "stop"
)

// Event is one parsed message from the carrier's media stream.
type Event struct {
	Kind EventKind

	// StreamSID is set on EventStart.
	StreamSID string

	// Frame holds the decoded µ-law bytes on EventMedia.
	Frame []byte
}

// envelope is the carrier's JSON framing, both directions.
type envelope struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
}

type startPayload struct {
	StreamSid string `json:"streamSid"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// wireConn is the subset of *websocket.Conn the media channel uses,
// abstracted for tests.
type wireConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

var _ wireConn = (*websocket.Conn)(nil)

// MediaChannel is the per-call bidirectional audio stream. Inbound carrier
// events are surfaced on [MediaChannel.Events]; outbound frames are sent with
// [MediaChannel.SendFrame], paced so the carrier is never flooded.
//
// SendFrame and ClearPlayback must be called from a single goroutine (the
// session's sender); Events may be consumed concurrently.
type MediaChannel struct {
	conn    wireConn
	limiter *rate.Limiter
	events  chan Event
	done    chan struct{}

	mu        sync.RWMutex
	streamSID string

	closeOnce sync.Once
}

// frameRate paces outbound audio at real time: 50 frames (1 s of audio) of
// burst, then one frame per 20 ms.
const frameRate = 50

// NewMediaChannel wraps an accepted media WebSocket and starts its read loop.
func NewMediaChannel(conn wireConn) *MediaChannel {
	m := &MediaChannel{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(frameRate), frameRate),
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
	go m.readLoop()
	return m
}

// Events returns the inbound event stream. The channel is closed when the
// carrier disconnects or [MediaChannel.Close] is called.
func (m *MediaChannel) Events() <-chan Event {
	return m.events
}

// Done is closed when the read loop has terminated.
func (m *MediaChannel) Done() <-chan struct{} {
	return m.done
}

// StreamSID returns the carrier-assigned stream id, or "" before the start
// event has arrived.
func (m *MediaChannel) StreamSID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streamSID
}

// SendFrame pushes one µ-law frame to the carrier. It blocks on the pacing
// limiter so that at most ~1 second of audio is in flight ahead of real time.
func (m *MediaChannel) SendFrame(ctx context.Context, frame []byte) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telephony: frame pacing: %w", err)
	}
	msg, err := buildMediaMessage(m.StreamSID(), frame)
	if err != nil {
		return err
	}
	if err := m.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("telephony: send frame: %w", err)
	}
	return nil
}

// ClearPlayback tells the carrier to drop any frames still queued for
// playback. Used on barge-in so the assistant stops speaking immediately.
func (m *MediaChannel) ClearPlayback(ctx context.Context) error {
	msg, err := buildClearMessage(m.StreamSID())
	if err != nil {
		return err
	}
	if err := m.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("telephony: clear playback: %w", err)
	}
	return nil
}

// Close terminates the WebSocket. Safe to call multiple times.
func (m *MediaChannel) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.conn.Close(websocket.StatusNormalClosure, "done")
	})
	return err
}

// readLoop parses carrier envelopes until the connection drops.
func (m *MediaChannel) readLoop() {
	defer close(m.done)
	defer close(m.events)

	ctx := context.Background()
	for {
		_, data, err := m.conn.Read(ctx)
		if err != nil {
			return
		}
		ev, ok := parseMediaEvent(data)
		if !ok {
			continue
		}
		if ev.Kind == EventStart && ev.StreamSID != "" {
			m.mu.Lock()
			m.streamSID = ev.StreamSID
			m.mu.Unlock()
		}
		m.events <- ev
	}
}

// parseMediaEvent decodes one inbound envelope. Returns ok=false for
// unknown event types or undecodable payloads.
func parseMediaEvent(data []byte) (Event, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, false
	}
	switch EventKind(env.Event) {
	case EventConnected:
		return Event{Kind: EventConnected}, true
	case EventStart:
		ev := Event{Kind: EventStart}
		if env.Start != nil {
			ev.StreamSID = env.Start.StreamSid
		}
		return ev, true
	case EventMedia:
		if env.Media == nil {
			return Event{}, false
		}
		frame, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return Event{}, false
		}
		return Event{Kind: EventMedia, Frame: frame}, true
	case EventStop:
		return Event{Kind: EventStop}, true
	default:
		return Event{}, false
	}
}

// buildMediaMessage constructs the outbound media envelope for one frame.
func buildMediaMessage(streamSID string, frame []byte) ([]byte, error) {
	msg, err := json.Marshal(envelope{
		Event:     string(EventMedia),
		StreamSid: streamSID,
		Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
	if err != nil {
		return nil, fmt.Errorf("telephony: marshal media message: %w", err)
	}
	return msg, nil
}

// buildClearMessage constructs the outbound clear envelope.
func buildClearMessage(streamSID string) ([]byte, error) {
	msg, err := json.Marshal(envelope{
		Event:     "clear",
		StreamSid: streamSID,
	})
	if err != nil {
		return nil, fmt.Errorf("telephony: marshal clear message: %w", err)
	}
	return msg, nil
}
