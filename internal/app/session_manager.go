package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/dialflow-ai/dialflow/internal/dnc"
	"github.com/dialflow-ai/dialflow/internal/observe"
	"github.com/dialflow-ai/dialflow/internal/orchestrator"
	"github.com/dialflow-ai/dialflow/internal/relay"
	"github.com/dialflow-ai/dialflow/internal/server"
	"github.com/dialflow-ai/dialflow/internal/session"
	"github.com/dialflow-ai/dialflow/internal/telephony"
	"github.com/dialflow-ai/dialflow/pkg/provider/llm"
	"github.com/dialflow-ai/dialflow/pkg/provider/stt"
)

// Telephony is the slice of the carrier client the manager uses. Satisfied by
// [telephony.Client]; tests substitute a fake.
type Telephony interface {
	PlaceCall(ctx context.Context, p telephony.PlaceCallParams) (string, error)
	Hangup(ctx context.Context, callSID string) error
}

var _ Telephony = (*telephony.Client)(nil)

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// PublicHost is the externally reachable hostname the carrier calls
	// back on (webhook, status, AMD URLs).
	PublicHost string

	Store  *session.Store
	Hub    *relay.Hub
	Calls  Telephony
	ASR    stt.Provider
	LLM    llm.Provider
	Speech orchestrator.Synthesizer
	DNC    dnc.Store

	// Timers overrides the engine scheduling delays. Zero fields keep the
	// production defaults.
	Timers orchestrator.Timers

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// SessionManager owns the lifecycle of every call: it mints session ids,
// places the outbound call, runs one engine goroutine per call, and keeps
// the id → engine index the HTTP layer resolves callbacks through.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig
	log *slog.Logger

	// base is the parent context of every engine loop; cancelling it (via
	// Shutdown) forces any still-running call to finalize.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	engines map[string]*orchestrator.Engine
	wg      sync.WaitGroup
	closed  bool
}

// Compile-time check: the manager is the server's call manager.
var _ server.CallManager = (*SessionManager)(nil)

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		cfg:     cfg,
		log:     log,
		base:    base,
		cancel:  cancel,
		engines: make(map[string]*orchestrator.Engine),
	}
}

// StartCall creates a session, places the outbound call with the carrier, and
// starts the session's engine loop. The returned session carries the carrier
// call SID and is already registered in the store.
func (sm *SessionManager) StartCall(ctx context.Context, in session.Inputs) (*session.Session, error) {
	if sm.cfg.Calls == nil {
		return nil, fmt.Errorf("app: start call: telephony is not configured")
	}
	if sm.cfg.Speech == nil {
		return nil, fmt.Errorf("app: start call: tts is not configured")
	}

	id := uuid.NewString()
	sess := session.New(id, in)

	ctx, span := observe.StartSpan(ctx, "call.place",
		trace.WithAttributes(observe.SessionAttr(id)))
	defer span.End()

	base := "https://" + sm.cfg.PublicHost
	callSID, err := sm.cfg.Calls.PlaceCall(ctx, telephony.PlaceCallParams{
		To:        in.Phone,
		AnswerURL: base + "/call/webhook/" + id,
		StatusURL: base + "/call/status/" + id,
		AMDURL:    base + "/call/amd/" + id,
	})
	if err != nil {
		return nil, fmt.Errorf("app: place call: %w", err)
	}
	sess.SetCallSID(callSID)
	sess.SetStatus(session.StatusInitiating)

	eng := orchestrator.New(sess, orchestrator.Deps{
		ASR:    sm.cfg.ASR,
		LLM:    sm.cfg.LLM,
		Speech: sm.cfg.Speech,
		Calls:  sm.callControl(),
		Hub:    sm.cfg.Hub,
		DNC:    sm.cfg.DNC,
	},
		orchestrator.WithTimers(sm.cfg.Timers),
		orchestrator.WithLogger(sm.log),
	)

	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return nil, fmt.Errorf("app: start call: manager is shutting down")
	}
	sm.cfg.Store.Put(sess)
	sm.engines[id] = eng
	sm.wg.Add(1)
	sm.mu.Unlock()

	go sm.runEngine(eng, sess)

	sm.log.Info("call placed",
		"session_id", id, "call_sid", callSID, "to", in.Phone)
	return sess, nil
}

// runEngine drives one engine loop to completion. A panic in the loop
// abandons that session but never takes down the process.
func (sm *SessionManager) runEngine(eng *orchestrator.Engine, sess *session.Session) {
	defer sm.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			sm.log.Error("session task panicked, abandoning session",
				"session_id", sess.ID, "panic", r)
			sess.SetEndReason("internal_error")
			sess.SetStatus(session.StatusFailed)
		}
		sm.mu.Lock()
		delete(sm.engines, sess.ID)
		sm.mu.Unlock()
		sm.cfg.Store.SchedulePurge(sess.ID)
	}()

	eng.Run(sm.base)
}

// Engine returns the running engine for a session id.
func (sm *SessionManager) Engine(sessionID string) (server.CallEngine, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	eng, ok := sm.engines[sessionID]
	if !ok {
		return nil, false
	}
	return eng, true
}

// ActiveCalls returns the number of engines currently running.
func (sm *SessionManager) ActiveCalls() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.engines)
}

// Shutdown lets in-flight calls finish until ctx expires, then cancels the
// remaining engines and waits for them to unwind. New calls are refused from
// the moment Shutdown is entered.
func (sm *SessionManager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	sm.closed = true
	remaining := len(sm.engines)
	sm.mu.Unlock()

	if remaining > 0 {
		sm.log.Info("waiting for in-flight calls", "count", remaining)
	}

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.log.Warn("shutdown deadline reached, cancelling remaining calls",
			"count", sm.ActiveCalls())
	}

	// Cancelling the base context makes every engine finalize promptly.
	sm.cancel()
	<-done
}

// callControl adapts the optional Telephony dependency to the engine's
// hangup-only interface.
func (sm *SessionManager) callControl() orchestrator.CallControl {
	if sm.cfg.Calls == nil {
		return nil
	}
	return hangupOnly{sm.cfg.Calls}
}

type hangupOnly struct{ t Telephony }

func (h hangupOnly) Hangup(ctx context.Context, callSID string) error {
	return h.t.Hangup(ctx, callSID)
}
