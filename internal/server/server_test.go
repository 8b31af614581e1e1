package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dialflow-ai/dialflow/internal/dnc"
	"github.com/dialflow-ai/dialflow/internal/health"
	"github.com/dialflow-ai/dialflow/internal/orchestrator"
	"github.com/dialflow-ai/dialflow/internal/relay"
	"github.com/dialflow-ai/dialflow/internal/session"
	"github.com/dialflow-ai/dialflow/internal/telephony"
)

const testToken = "test-secret"

// ---- fakes ----

type statusNote struct {
	status   session.Status
	duration int
}

type fakeEngine struct {
	mu       sync.Mutex
	media    orchestrator.MediaStream
	statuses []statusNote
	amd      []string
}

func (e *fakeEngine) AttachMedia(ms orchestrator.MediaStream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.media = ms
}

func (e *fakeEngine) NotifyAMD(answeredBy string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.amd = append(e.amd, answeredBy)
}

func (e *fakeEngine) NotifyStatus(st session.Status, duration int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = append(e.statuses, statusNote{status: st, duration: duration})
}

func (e *fakeEngine) attachedMedia() orchestrator.MediaStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.media
}

type fakeManager struct {
	store *session.Store

	mu       sync.Mutex
	engines  map[string]*fakeEngine
	startErr error
	started  []session.Inputs
}

func (m *fakeManager) StartCall(_ context.Context, in session.Inputs) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, in)
	if m.startErr != nil {
		return nil, m.startErr
	}
	sess := session.New("sess-new", in)
	sess.SetCallSID("CA-new")
	sess.SetStatus(session.StatusInitiating)
	m.store.Put(sess)
	m.engines["sess-new"] = &fakeEngine{}
	return sess, nil
}

func (m *fakeManager) Engine(sessionID string) (CallEngine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[sessionID]
	return e, ok
}

func (m *fakeManager) startedCalls() []session.Inputs {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session.Inputs, len(m.started))
	copy(out, m.started)
	return out
}

type fakePreviewer struct {
	data []byte
	err  error
}

func (p *fakePreviewer) Preview(context.Context, int) ([]byte, error) {
	return p.data, p.err
}

// ---- fixture ----

type fixture struct {
	srv     *httptest.Server
	store   *session.Store
	hub     *relay.Hub
	manager *fakeManager
	voice   *fakePreviewer
	dncList *dnc.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore(time.Minute)
	f := &fixture{
		store:   store,
		hub:     relay.NewHub(logger),
		manager: &fakeManager{store: store, engines: make(map[string]*fakeEngine)},
		voice:   &fakePreviewer{data: []byte{0xFF, 0x7F, 0xFF}},
		dncList: dnc.NewMemoryStore(),
	}

	s := New(Config{PublicHost: "calls.example.com", AuthToken: testToken}, Deps{
		Manager: f.manager,
		Store:   f.store,
		Hub:     f.hub,
		Voice:   f.voice,
		DNC:     f.dncList,
		Health:  health.New(),
	}, WithLogger(logger))

	f.srv = httptest.NewServer(s.Router())
	t.Cleanup(f.srv.Close)
	return f
}

// seedSession registers a session and a running fake engine for it.
func (f *fixture) seedSession(id string) (*session.Session, *fakeEngine) {
	sess := session.New(id, session.Inputs{
		FirstName: "Dana", Phone: "+15550001111",
		Company: "Acme", Selling: "analytics",
	})
	sess.SetCallSID("CA123")
	f.store.Put(sess)
	eng := &fakeEngine{}
	f.manager.mu.Lock()
	f.manager.engines[id] = eng
	f.manager.mu.Unlock()
	return sess, eng
}

func (f *fixture) do(t *testing.T, method, path string, body string, authed bool) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	} else if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m
}

const validInitiate = `{
	"firstName": "Dana",
	"phone": "+15550001111",
	"company": "Acme Analytics",
	"selling": "a lead-scoring platform"
}`

// ---- tests ----

func TestInitiate_PlacesCall(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/call/initiate", validInitiate, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["sessionId"] != "sess-new" {
		t.Errorf("sessionId = %v", body["sessionId"])
	}
	if body["callSid"] != "CA-new" {
		t.Errorf("callSid = %v", body["callSid"])
	}
	if body["status"] != "initiating" {
		t.Errorf("status = %v", body["status"])
	}
	if started := f.manager.startedCalls(); len(started) != 1 || started[0].FirstName != "Dana" {
		t.Errorf("manager.started = %+v", started)
	}
}

func TestInitiate_RequiresAuth(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/call/initiate", validInitiate, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if len(f.manager.startedCalls()) != 0 {
		t.Error("unauthorized request reached the manager")
	}
}

// Reads are capability-addressed by session id; only call initiation is
// gated by the bearer token.
func TestReadEndpoints_OpenWithoutToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedSession("sess-1")

	if resp := f.do(t, http.MethodGet, "/call/session/sess-1", "", false); resp.StatusCode != http.StatusOK {
		t.Errorf("snapshot status = %d, want 200 without token", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/voice/preview?index=0", "", false); resp.StatusCode != http.StatusOK {
		t.Errorf("preview status = %d, want 200 without token", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(f.srv.URL, "/call/transcript/sess-1"), nil)
	if err != nil {
		t.Fatalf("transcript dial without token: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	// Initiation stays gated.
	if resp := f.do(t, http.MethodPost, "/call/initiate", validInitiate, false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("initiate status = %d, want 401 without token", resp.StatusCode)
	}
}

func TestInitiate_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing first name", `{"phone":"+15550001111","company":"Acme","selling":"x"}`},
		{"missing company", `{"firstName":"Dana","phone":"+15550001111","selling":"x"}`},
		{"missing selling", `{"firstName":"Dana","phone":"+15550001111","company":"Acme"}`},
		{"missing phone", `{"firstName":"Dana","company":"Acme","selling":"x"}`},
		{"malformed phone", `{"firstName":"Dana","phone":"555-1234","company":"Acme","selling":"x"}`},
		{"not json", `hello`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/call/initiate", tc.body, true)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestInitiate_BlockedByDoNotCall(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.dncList.Add(context.Background(), "+15550001111", "opted out"); err != nil {
		t.Fatalf("dnc add: %v", err)
	}
	resp := f.do(t, http.MethodPost, "/call/initiate", validInitiate, true)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["error"]; got != "number has opted out" {
		t.Errorf("error = %v", got)
	}
	if len(f.manager.startedCalls()) != 0 {
		t.Error("blocked number reached the manager")
	}
}

func TestInitiate_PlacementFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.manager.startErr = errors.New("carrier returned 500")
	resp := f.do(t, http.MethodPost, "/call/initiate", validInitiate, true)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestAnswerWebhook(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedSession("sess-1")

	resp := f.do(t, http.MethodPost, "/call/webhook/sess-1", "x=1", false)
	data, _ := io.ReadAll(resp.Body)
	body := string(data)
	if !strings.Contains(body, "wss://calls.example.com/call/media/sess-1") {
		t.Errorf("directive missing media stream URL:\n%s", body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("Content-Type = %q", ct)
	}

	resp = f.do(t, http.MethodPost, "/call/webhook/sess-unknown", "x=1", false)
	data, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "<Hangup") {
		t.Errorf("unknown session directive should hang up:\n%s", data)
	}
}

func TestStatusCallback_NotifiesEngine(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, eng := f.seedSession("sess-1")

	form := url.Values{"CallStatus": {"completed"}, "CallDuration": {"42"}}.Encode()
	resp := f.do(t, http.MethodPost, "/call/status/sess-1", form, false)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.statuses) != 1 {
		t.Fatalf("engine notifications = %d, want 1", len(eng.statuses))
	}
	if got := eng.statuses[0]; got.status != session.StatusCompleted || got.duration != 42 {
		t.Errorf("notification = %+v", got)
	}
}

func TestStatusCallback_LateCallbackAfterEngineGone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, _ := f.seedSession("sess-1")
	f.manager.mu.Lock()
	delete(f.manager.engines, "sess-1")
	f.manager.mu.Unlock()

	form := url.Values{"CallStatus": {"failed"}}.Encode()
	resp := f.do(t, http.MethodPost, "/call/status/sess-1", form, false)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if sess.Status() != session.StatusFailed {
		t.Errorf("session status = %q, want failed", sess.Status())
	}
}

func TestStatusCallback_UnknownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	form := url.Values{"CallStatus": {"completed"}}.Encode()
	resp := f.do(t, http.MethodPost, "/call/status/sess-ghost", form, false)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAMDCallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, eng := f.seedSession("sess-1")

	form := url.Values{"AnsweredBy": {"machine_end_beep"}}.Encode()
	resp := f.do(t, http.MethodPost, "/call/amd/sess-1", form, false)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.amd) != 1 || eng.amd[0] != "machine_end_beep" {
		t.Errorf("amd notifications = %v", eng.amd)
	}
}

func TestSessionSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, _ := f.seedSession("sess-1")
	sess.AppendAssistant("Hi Dana, quick question for you.")

	resp := f.do(t, http.MethodGet, "/call/session/sess-1", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["sessionId"] != "sess-1" {
		t.Errorf("sessionId = %v", body["sessionId"])
	}
	if body["messageCount"] != float64(1) {
		t.Errorf("messageCount = %v, want 1", body["messageCount"])
	}

	resp = f.do(t, http.MethodGet, "/call/session/sess-ghost", "", false)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}
}

func TestVoicePreview(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/voice/preview?index=0", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/basic" {
		t.Errorf("Content-Type = %q, want audio/basic", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(data, f.voice.data) {
		t.Errorf("body = %v, want %v", data, f.voice.data)
	}

	if resp := f.do(t, http.MethodGet, "/voice/preview?index=999", "", false); resp.StatusCode != http.StatusNotFound {
		t.Errorf("out-of-range status = %d, want 404", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/voice/preview?index=abc", "", false); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-integer status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if resp := f.do(t, http.MethodGet, "/healthz", "", false); resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/readyz", "", false); resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/", "", false); resp.StatusCode != http.StatusOK {
		t.Errorf("/ status = %d, want 200", resp.StatusCode)
	}
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestTranscriptSocket_SnapshotThenBroadcasts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedSession("sess-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx,
		wsURL(f.srv.URL, "/call/transcript/sess-1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var first map[string]any
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if first["type"] != "session_state" {
		t.Fatalf("first message type = %v, want session_state", first["type"])
	}

	// Subsequent broadcasts arrive in order.
	deadline := time.Now().Add(3 * time.Second)
	for f.hub.Count("sess-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	f.hub.Broadcast("sess-1", relay.NewUserSpeech("hello there"))

	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	var second map[string]any
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if second["type"] != "user_speech" || second["text"] != "hello there" {
		t.Errorf("broadcast = %v", second)
	}
}

func TestTranscriptSocket_UnknownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/call/transcript/sess-ghost", "", false)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMediaSocket_AttachesEngine(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, eng := f.seedSession("sess-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(f.srv.URL, "/call/media/sess-1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	start := `{"event":"start","start":{"streamSid":"MS99"}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(start)); err != nil {
		t.Fatalf("write start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for eng.attachedMedia() == nil && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	ms := eng.attachedMedia()
	if ms == nil {
		t.Fatal("engine never received the media stream")
	}

	select {
	case ev := <-ms.Events():
		if ev.Kind != telephony.EventStart || ev.StreamSID != "MS99" {
			t.Errorf("event = %+v, want start MS99", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no media event received")
	}
}
