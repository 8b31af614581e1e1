package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dialflow-ai/dialflow/internal/app"
	"github.com/dialflow-ai/dialflow/internal/dnc"
	"github.com/dialflow-ai/dialflow/internal/relay"
	"github.com/dialflow-ai/dialflow/internal/session"
	"github.com/dialflow-ai/dialflow/internal/speech"
	"github.com/dialflow-ai/dialflow/internal/telephony"
	llmmock "github.com/dialflow-ai/dialflow/pkg/provider/llm/mock"
	sttmock "github.com/dialflow-ai/dialflow/pkg/provider/stt/mock"
	"github.com/dialflow-ai/dialflow/pkg/provider/tts"
	ttsmock "github.com/dialflow-ai/dialflow/pkg/provider/tts/mock"
)

// fakeTelephony records placed calls and hangups.
type fakeTelephony struct {
	mu         sync.Mutex
	placeCalls []telephony.PlaceCallParams
	placeErr   error
	hangups    []string
}

func (f *fakeTelephony) PlaceCall(_ context.Context, p telephony.PlaceCallParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.placeCalls = append(f.placeCalls, p)
	return "CA0123456789", nil
}

func (f *fakeTelephony) Hangup(_ context.Context, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, callSID)
	return nil
}

func (f *fakeTelephony) placed() []telephony.PlaceCallParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telephony.PlaceCallParams(nil), f.placeCalls...)
}

func newTestManager(t *testing.T, calls app.Telephony) (*app.SessionManager, *session.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore(time.Minute)
	t.Cleanup(store.Close)

	synth := speech.New(&ttsmock.Provider{}, tts.VoiceProfile{ID: "v1", Provider: "mock"})

	sm := app.NewSessionManager(app.SessionManagerConfig{
		PublicHost: "engine.example.com",
		Store:      store,
		Hub:        relay.NewHub(log),
		Calls:      calls,
		ASR:        &sttmock.Provider{},
		LLM:        &llmmock.Provider{},
		Speech:     synth,
		DNC:        dnc.NewMemoryStore(),
		Logger:     log,
	})
	return sm, store
}

func testInputs() session.Inputs {
	return session.Inputs{
		FirstName: "Jordan",
		Company:   "Acme Corp",
		Selling:   "warehouse automation software",
		Phone:     "+15550001234",
	}
}

func TestSessionManager_StartCall(t *testing.T) {
	t.Parallel()

	ft := &fakeTelephony{}
	sm, store := newTestManager(t, ft)
	defer sm.Shutdown(expiredContext())

	sess, err := sm.StartCall(context.Background(), testInputs())
	if err != nil {
		t.Fatalf("StartCall() error: %v", err)
	}

	if sess.CallSID() != "CA0123456789" {
		t.Errorf("CallSID = %q, want CA0123456789", sess.CallSID())
	}
	if got := sess.Status(); got != session.StatusInitiating {
		t.Errorf("Status = %q, want %q", got, session.StatusInitiating)
	}
	if _, err := store.Get(sess.ID); err != nil {
		t.Errorf("session not registered in store: %v", err)
	}
	if _, ok := sm.Engine(sess.ID); !ok {
		t.Error("expected a running engine for the new session")
	}

	placed := ft.placed()
	if len(placed) != 1 {
		t.Fatalf("expected 1 placed call, got %d", len(placed))
	}
	p := placed[0]
	if p.To != "+15550001234" {
		t.Errorf("To = %q", p.To)
	}
	wantAnswer := "https://engine.example.com/call/webhook/" + sess.ID
	if p.AnswerURL != wantAnswer {
		t.Errorf("AnswerURL = %q, want %q", p.AnswerURL, wantAnswer)
	}
	if !strings.Contains(p.StatusURL, "/call/status/"+sess.ID) {
		t.Errorf("StatusURL = %q missing session id", p.StatusURL)
	}
	if !strings.Contains(p.AMDURL, "/call/amd/"+sess.ID) {
		t.Errorf("AMDURL = %q missing session id", p.AMDURL)
	}
}

func TestSessionManager_StartCallPlaceError(t *testing.T) {
	t.Parallel()

	ft := &fakeTelephony{placeErr: errors.New("carrier unreachable")}
	sm, store := newTestManager(t, ft)
	defer sm.Shutdown(expiredContext())

	if _, err := sm.StartCall(context.Background(), testInputs()); err == nil {
		t.Fatal("expected error when the carrier rejects the call")
	}
	if store.Len() != 0 {
		t.Errorf("store should stay empty after a failed placement, got %d", store.Len())
	}
	if sm.ActiveCalls() != 0 {
		t.Errorf("no engine should be running, got %d", sm.ActiveCalls())
	}
}

func TestSessionManager_NoTelephony(t *testing.T) {
	t.Parallel()

	sm, _ := newTestManager(t, nil)
	defer sm.Shutdown(expiredContext())

	if _, err := sm.StartCall(context.Background(), testInputs()); err == nil {
		t.Fatal("expected error when telephony is not configured")
	}
}

func TestSessionManager_ShutdownRemovesEngines(t *testing.T) {
	t.Parallel()

	ft := &fakeTelephony{}
	sm, _ := newTestManager(t, ft)

	sess, err := sm.StartCall(context.Background(), testInputs())
	if err != nil {
		t.Fatalf("StartCall() error: %v", err)
	}
	if sm.ActiveCalls() != 1 {
		t.Fatalf("ActiveCalls = %d, want 1", sm.ActiveCalls())
	}

	// An already-cancelled context forces immediate engine cancellation;
	// Shutdown still waits for the loops to unwind.
	sm.Shutdown(expiredContext())

	if sm.ActiveCalls() != 0 {
		t.Errorf("ActiveCalls = %d after Shutdown, want 0", sm.ActiveCalls())
	}
	if _, ok := sm.Engine(sess.ID); ok {
		t.Error("engine should be removed after Shutdown")
	}
}

func TestSessionManager_RefusesCallsWhileShuttingDown(t *testing.T) {
	t.Parallel()

	ft := &fakeTelephony{}
	sm, _ := newTestManager(t, ft)
	sm.Shutdown(expiredContext())

	if _, err := sm.StartCall(context.Background(), testInputs()); err == nil {
		t.Fatal("expected StartCall to fail after Shutdown")
	}
}

// expiredContext returns a context that is already cancelled.
func expiredContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
