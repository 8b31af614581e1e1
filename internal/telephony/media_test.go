package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeConn is a scripted wireConn: Read serves queued inbound messages and
// then blocks until closed; Write records outbound messages.
type fakeConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	written  [][]byte
	writeErr error
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg, ok := <-f.inbound:
		if !ok {
			return 0, nil, context.Canceled
		}
		return websocket.MessageText, msg, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, _ websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeConn) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeConn) writtenMessages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

// ---- parseMediaEvent ----

func TestParseMediaEvent(t *testing.T) {
	t.Parallel()

	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = 0xFF
	}
	payload := base64.StdEncoding.EncodeToString(frame)

	tests := []struct {
		name     string
		raw      string
		wantOK   bool
		wantKind EventKind
	}{
		{"connected", `{"event":"connected"}`, true, EventConnected},
		{"start", `{"event":"start","start":{"streamSid":"MZ9"}}`, true, EventStart},
		{"media", `{"event":"media","media":{"payload":"` + payload + `"}}`, true, EventMedia},
		{"stop", `{"event":"stop"}`, true, EventStop},
		{"unknown event", `{"event":"mark"}`, false, ""},
		{"invalid json", `{event}`, false, ""},
		{"media without payload", `{"event":"media"}`, false, ""},
		{"media bad base64", `{"event":"media","media":{"payload":"!!!"}}`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := parseMediaEvent([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.Kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q", ev.Kind, tt.wantKind)
			}
			if tt.wantKind == EventStart && ev.StreamSID != "MZ9" {
				t.Fatalf("streamSID = %q, want MZ9", ev.StreamSID)
			}
			if tt.wantKind == EventMedia && len(ev.Frame) != 160 {
				t.Fatalf("frame length = %d, want 160", len(ev.Frame))
			}
		})
	}
}

// ---- outbound message builders ----

func TestBuildMediaMessage(t *testing.T) {
	t.Parallel()

	frame := []byte{0x00, 0x7F, 0xFF}
	msg, err := buildMediaMessage("MZ9", frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Event != "media" {
		t.Fatalf("event = %q, want media", env.Event)
	}
	if env.StreamSid != "MZ9" {
		t.Fatalf("streamSid = %q, want MZ9", env.StreamSid)
	}
	if env.Media == nil {
		t.Fatal("missing media payload")
	}
	decoded, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(decoded) != string(frame) {
		t.Fatalf("payload round-trip mismatch")
	}
}

func TestBuildClearMessage(t *testing.T) {
	t.Parallel()

	msg, err := buildClearMessage("MZ9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Event != "clear" {
		t.Fatalf("event = %q, want clear", env.Event)
	}
	if env.StreamSid != "MZ9" {
		t.Fatalf("streamSid = %q, want MZ9", env.StreamSid)
	}
	if env.Media != nil {
		t.Fatal("clear message must not carry media")
	}
}

// ---- MediaChannel ----

func TestMediaChannel_EventFlowAndStreamSID(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.inbound <- []byte(`{"event":"connected"}`)
	conn.inbound <- []byte(`{"event":"start","start":{"streamSid":"MZ9"}}`)
	conn.inbound <- []byte(`{"event":"media","media":{"payload":"` +
		base64.StdEncoding.EncodeToString(make([]byte, 160)) + `"}}`)
	conn.inbound <- []byte(`{"event":"stop"}`)

	m := NewMediaChannel(conn)
	defer m.Close()

	wantKinds := []EventKind{EventConnected, EventStart, EventMedia, EventStop}
	for i, want := range wantKinds {
		select {
		case ev := <-m.Events():
			if ev.Kind != want {
				t.Fatalf("event[%d].Kind = %q, want %q", i, ev.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d (%q)", i, want)
		}
	}
	if m.StreamSID() != "MZ9" {
		t.Fatalf("StreamSID = %q, want MZ9", m.StreamSID())
	}
}

func TestMediaChannel_SendFrameUsesStreamSID(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.inbound <- []byte(`{"event":"start","start":{"streamSid":"MZ1"}}`)

	m := NewMediaChannel(conn)
	defer m.Close()

	// Wait for the start event so the stream id is captured.
	select {
	case <-m.Events():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for start event")
	}

	frame := make([]byte, 160)
	if err := m.SendFrame(context.Background(), frame); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if err := m.ClearPlayback(context.Background()); err != nil {
		t.Fatalf("ClearPlayback: %v", err)
	}

	msgs := conn.writtenMessages()
	if len(msgs) != 2 {
		t.Fatalf("got %d written messages, want 2", len(msgs))
	}
	var media, clear envelope
	if err := json.Unmarshal(msgs[0], &media); err != nil {
		t.Fatalf("unmarshal media: %v", err)
	}
	if err := json.Unmarshal(msgs[1], &clear); err != nil {
		t.Fatalf("unmarshal clear: %v", err)
	}
	if media.Event != "media" || media.StreamSid != "MZ1" {
		t.Fatalf("media envelope = %+v", media)
	}
	if clear.Event != "clear" || clear.StreamSid != "MZ1" {
		t.Fatalf("clear envelope = %+v", clear)
	}
}

func TestMediaChannel_BurstWithinPacingBudget(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	m := NewMediaChannel(conn)
	defer m.Close()

	// The limiter allows a full second of audio (50 frames) as an initial
	// burst without blocking for long.
	start := time.Now()
	frame := make([]byte, 160)
	for i := 0; i < frameRate; i++ {
		if err := m.SendFrame(context.Background(), frame); err != nil {
			t.Fatalf("SendFrame %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("burst of %d frames took %v, expected near-instant", frameRate, elapsed)
	}
	if got := len(conn.writtenMessages()); got != frameRate {
		t.Fatalf("wrote %d frames, want %d", got, frameRate)
	}
}

func TestMediaChannel_SendFrameCancelled(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	m := NewMediaChannel(conn)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	frame := make([]byte, 160)

	// Exhaust the burst, then a cancelled context must abort the wait.
	for i := 0; i < frameRate; i++ {
		if err := m.SendFrame(ctx, frame); err != nil {
			t.Fatalf("SendFrame %d: %v", i, err)
		}
	}
	cancel()
	if err := m.SendFrame(ctx, frame); err == nil {
		t.Fatal("expected error after context cancellation")
	}
}

func TestMediaChannel_CloseEndsEventStream(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	m := NewMediaChannel(conn)

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-m.Events():
		if ok {
			t.Fatal("expected closed events channel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for events channel to close")
	}
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Done")
	}
	// Double close is safe.
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
