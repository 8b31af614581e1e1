// Package app wires all Dialflow subsystems into a running process.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and the heartbeat until ctx is cancelled, and
// Shutdown tears everything down in order, giving in-flight calls a grace
// period to finish.
//
// For testing, inject doubles via functional options (WithDNCStore,
// WithTelephony, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dialflow-ai/dialflow/internal/config"
	"github.com/dialflow-ai/dialflow/internal/dnc"
	"github.com/dialflow-ai/dialflow/internal/health"
	"github.com/dialflow-ai/dialflow/internal/orchestrator"
	"github.com/dialflow-ai/dialflow/internal/relay"
	"github.com/dialflow-ai/dialflow/internal/server"
	"github.com/dialflow-ai/dialflow/internal/session"
	"github.com/dialflow-ai/dialflow/internal/speech"
	"github.com/dialflow-ai/dialflow/internal/telephony"
	"github.com/dialflow-ai/dialflow/pkg/provider/llm"
	"github.com/dialflow-ai/dialflow/pkg/provider/stt"
	"github.com/dialflow-ai/dialflow/pkg/provider/tts"
)

// heartbeatInterval is how often the supervisor logs a liveness line with
// process stats.
const heartbeatInterval = 5 * time.Minute

// defaultShutdownGrace bounds how long in-flight calls may finish after a
// shutdown signal when the config leaves shutdown_grace unset.
const defaultShutdownGrace = 15 * time.Second

// Providers holds one interface value per pipeline stage. Populated by
// main.go via the config registry. Nil means the stage is not configured;
// calls cannot be placed without all three.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// App owns all subsystem lifetimes: the session store, observer hub,
// do-not-call registry, speech synthesizer, telephony client, session
// manager, and the HTTP control plane.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	store   *session.Store
	hub     *relay.Hub
	dncReg  dnc.Store
	synth   *speech.Synthesizer
	calls   Telephony
	manager *SessionManager
	httpSrv *http.Server

	// metricsHandler is the Prometheus exposition handler, injected by
	// main.go. Nil leaves /metrics unregistered.
	metricsHandler http.Handler

	timers orchestrator.Timers
	start  time.Time

	// closers are called in order during Shutdown.
	closers []func() error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) {
		if log != nil {
			a.log = log
		}
	}
}

// WithDNCStore injects a do-not-call store instead of creating one from
// config.
func WithDNCStore(s dnc.Store) Option {
	return func(a *App) { a.dncReg = s }
}

// WithTelephony injects a carrier client instead of creating one from config.
func WithTelephony(t Telephony) Option {
	return func(a *App) { a.calls = t }
}

// WithMetricsHandler mounts the given handler at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithEngineTimers overrides the per-call scheduling delays, mainly to speed
// up integration tests.
func WithEngineTimers(t orchestrator.Timers) Option {
	return func(a *App) { a.timers = t }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		start:     time.Now(),
	}
	for _, o := range opts {
		o(a)
	}

	a.store = session.NewStore(cfg.Session.Retention)
	a.closers = append(a.closers, func() error {
		a.store.Close()
		return nil
	})

	a.hub = relay.NewHub(a.log)

	if err := a.initDNC(ctx); err != nil {
		return nil, fmt.Errorf("app: init dnc: %w", err)
	}
	a.initSpeech(ctx)
	if err := a.initTelephony(); err != nil {
		return nil, fmt.Errorf("app: init telephony: %w", err)
	}

	smc := SessionManagerConfig{
		PublicHost: cfg.Server.PublicHost,
		Store:      a.store,
		Hub:        a.hub,
		Calls:      a.calls,
		ASR:        providers.STT,
		LLM:        providers.LLM,
		DNC:        a.dncReg,
		Timers:     a.timers,
		Logger:     a.log,
	}
	// Assign only a live synthesizer so the interface stays nil when TTS is
	// not configured.
	if a.synth != nil {
		smc.Speech = a.synth
	}
	a.manager = NewSessionManager(smc)

	deps := server.Deps{
		Manager: a.manager,
		Store:   a.store,
		Hub:     a.hub,
		DNC:     a.dncReg,
		Health:  health.New(a.healthCheckers()...),
		Metrics: a.metricsHandler,
	}
	if a.synth != nil {
		deps.Voice = a.synth
	}
	srv := server.New(
		server.Config{
			PublicHost: cfg.Server.PublicHost,
			AuthToken:  cfg.Server.AuthToken,
		},
		deps,
		server.WithLogger(a.log),
	)
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Manager exposes the session manager, for tests and the watcher callback.
func (a *App) Manager() *SessionManager { return a.manager }

// Store exposes the session store.
func (a *App) Store() *session.Store { return a.store }

// initDNC connects the do-not-call registry: PostgreSQL when a DSN is
// configured, otherwise an in-memory store that lives and dies with the
// process.
func (a *App) initDNC(ctx context.Context) error {
	if a.dncReg != nil {
		return nil
	}
	if dsn := a.cfg.DNC.PostgresDSN; dsn != "" {
		store, err := dnc.NewPostgresStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.dncReg = store
		a.closers = append(a.closers, store.Close)
		a.log.Info("do-not-call registry connected", "backend", "postgres")
		return nil
	}
	a.dncReg = dnc.NewMemoryStore()
	a.log.Warn("do-not-call registry is in-memory, opt-outs are lost on restart")
	return nil
}

// initSpeech builds the shared synthesizer and pre-warms the response cache
// so the first call does not pay vendor latency for stock phrases.
func (a *App) initSpeech(ctx context.Context) {
	if a.providers.TTS == nil {
		return
	}
	voice := tts.VoiceProfile{
		ID:       a.cfg.Voice.VoiceID,
		Name:     a.cfg.Voice.Name,
		Provider: a.cfg.Voice.Provider,
	}
	a.synth = speech.New(a.providers.TTS, voice, speech.WithLogger(a.log))
	a.synth.Warm(ctx)
}

// initTelephony creates the carrier client when credentials are configured.
// Without one, calls cannot be placed but the control plane still serves
// reads, which keeps local development usable.
func (a *App) initTelephony() error {
	if a.calls != nil {
		return nil
	}
	tc := a.cfg.Telephony
	if tc.AccountSID == "" {
		a.log.Warn("telephony is not configured, outbound calls disabled")
		return nil
	}
	var opts []telephony.Option
	if tc.BaseURL != "" {
		opts = append(opts, telephony.WithBaseURL(tc.BaseURL))
	}
	client, err := telephony.NewClient(tc.AccountSID, tc.AuthToken, tc.FromNumber, opts...)
	if err != nil {
		return err
	}
	a.calls = client
	return nil
}

// healthCheckers builds the readiness probes for /readyz.
func (a *App) healthCheckers() []health.Checker {
	checkers := []health.Checker{
		{
			Name: "providers",
			Check: func(context.Context) error {
				switch {
				case a.providers.LLM == nil:
					return errors.New("llm provider not configured")
				case a.providers.STT == nil:
					return errors.New("stt provider not configured")
				case a.providers.TTS == nil:
					return errors.New("tts provider not configured")
				}
				return nil
			},
		},
		{
			Name: "telephony",
			Check: func(context.Context) error {
				if a.calls == nil {
					return errors.New("telephony not configured")
				}
				return nil
			},
		},
	}
	if a.synth != nil {
		checkers = append(checkers, health.Checker{
			Name: "tts",
			Check: func(context.Context) error {
				return a.synth.Healthy()
			},
		})
	}
	if a.cfg.DNC.PostgresDSN != "" {
		checkers = append(checkers, health.Checker{
			Name: "dnc",
			Check: func(ctx context.Context) error {
				_, err := a.dncReg.Contains(ctx, "+15005550000")
				return err
			},
		})
	}
	return checkers
}

// Run serves HTTP and the heartbeat until ctx is cancelled, then drains
// in-flight calls within the configured grace period. A listener that cannot
// bind surfaces immediately as an error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	g.Go(func() error {
		a.heartbeat(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		// Stop accepting new requests; in-flight calls drain below.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.grace())
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	a.log.Info("dialflow running",
		"addr", a.cfg.Server.ListenAddr,
		"public_host", a.cfg.Server.PublicHost,
		"tls", a.cfg.Server.TLS != nil,
	)

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), a.grace())
	defer cancel()
	a.manager.Shutdown(drainCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// heartbeat logs a periodic liveness line with process stats so operators
// can spot leaks and stalls from the logs alone.
func (a *App) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			a.log.Info("heartbeat",
				"pid", os.Getpid(),
				"uptime", time.Since(a.start).Round(time.Second).String(),
				"heap_mb", ms.HeapAlloc/(1<<20),
				"goroutines", runtime.NumGoroutine(),
				"active_calls", a.manager.ActiveCalls(),
				"sessions", a.store.Len(),
			)
		}
	}
}

// grace returns the configured shutdown grace period.
func (a *App) grace() time.Duration {
	if a.cfg.Server.ShutdownGrace > 0 {
		return a.cfg.Server.ShutdownGrace
	}
	return defaultShutdownGrace
}

// Shutdown tears down remaining subsystems after Run has returned: the
// session store's purge timers, the DNC connection, and any other closers in
// registration order.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
