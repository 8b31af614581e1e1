// Package server exposes the operator control plane and the carrier-facing
// webhooks over HTTP.
//
// Initiating a call is bearer-authenticated. Reads — session snapshots, the
// live transcript WebSocket, the voice preview — are open: session ids are
// unguessable UUIDs minted at initiation, and holding one is the capability
// to observe that call. Carrier endpoints (answer webhook, status and AMD
// callbacks, the media WebSocket) are addressed per session id too, which the
// carrier echoes back on every request.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/dialflow-ai/dialflow/internal/dnc"
	"github.com/dialflow-ai/dialflow/internal/health"
	"github.com/dialflow-ai/dialflow/internal/observe"
	"github.com/dialflow-ai/dialflow/internal/orchestrator"
	"github.com/dialflow-ai/dialflow/internal/relay"
	"github.com/dialflow-ai/dialflow/internal/session"
	"github.com/dialflow-ai/dialflow/internal/speech"
)

// CallEngine is the slice of the per-call engine the HTTP layer drives.
type CallEngine interface {
	AttachMedia(ms orchestrator.MediaStream)
	NotifyAMD(answeredBy string)
	NotifyStatus(st session.Status, durationSeconds int)
}

var _ CallEngine = (*orchestrator.Engine)(nil)

// CallManager owns session and engine lifecycles. Implemented by the app's
// session manager.
type CallManager interface {
	// StartCall creates a session, places the outbound call, and starts its
	// engine. The returned session already carries the carrier call SID.
	StartCall(ctx context.Context, in session.Inputs) (*session.Session, error)

	// Engine returns the running engine for a session id.
	Engine(sessionID string) (CallEngine, bool)
}

// VoicePreviewer synthesizes a stock phrase for the voice preview endpoint.
type VoicePreviewer interface {
	Preview(ctx context.Context, index int) ([]byte, error)
}

var _ VoicePreviewer = (*speech.Synthesizer)(nil)

// Config is the static server configuration.
type Config struct {
	// PublicHost is the externally reachable host (no scheme) used to build
	// the media-stream directive returned from the answer webhook.
	PublicHost string

	// AuthToken protects the operator endpoints. Empty disables auth, for
	// local development only.
	AuthToken string
}

// Deps are the server's collaborators.
type Deps struct {
	Manager CallManager
	Store   *session.Store
	Hub     *relay.Hub
	Voice   VoicePreviewer
	DNC     dnc.Store
	Health  *health.Handler

	// Metrics is the Prometheus exposition handler mounted at /metrics.
	// Nil leaves the route unregistered.
	Metrics http.Handler
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics overrides the metric instruments, for test isolation.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Server is the HTTP control plane. Construct with [New], mount via
// [Server.Router].
type Server struct {
	cfg     Config
	deps    Deps
	log     *slog.Logger
	metrics *observe.Metrics
}

// New creates a Server.
func New(cfg Config, deps Deps, opts ...Option) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Router builds the route table. The WebSocket endpoints bypass the observe
// middleware because its response wrapper would break the connection hijack;
// everything else is traced and measured.
func (s *Server) Router() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /{$}", s.handleRoot)
	if s.deps.Health != nil {
		s.deps.Health.Register(api)
	}
	if s.deps.Metrics != nil {
		api.Handle("GET /metrics", s.deps.Metrics)
	}
	api.HandleFunc("POST /call/initiate", s.auth(s.handleInitiate))
	api.HandleFunc("POST /call/webhook/{sessionID}", s.handleAnswerWebhook)
	api.HandleFunc("POST /call/status/{sessionID}", s.handleStatusCallback)
	api.HandleFunc("POST /call/amd/{sessionID}", s.handleAMDCallback)
	api.HandleFunc("GET /call/session/{sessionID}", s.handleSessionSnapshot)
	api.HandleFunc("GET /voice/preview", s.handleVoicePreview)
	wrapped := observe.Middleware(s.metrics)(api)

	root := http.NewServeMux()
	root.HandleFunc("GET /call/media/{sessionID}", s.handleMediaSocket)
	root.HandleFunc("GET /call/transcript/{sessionID}", s.handleTranscriptSocket)
	root.Handle("/", wrapped)
	return root
}

// auth enforces the bearer token in constant time. Clients that cannot set
// headers may pass the token as a query parameter instead.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// phoneRe accepts E.164 numbers.
var phoneRe = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// validateInputs checks the operator-supplied call inputs.
func validateInputs(in session.Inputs) string {
	switch {
	case strings.TrimSpace(in.FirstName) == "":
		return "firstName is required"
	case strings.TrimSpace(in.Company) == "":
		return "company is required"
	case strings.TrimSpace(in.Selling) == "":
		return "selling is required"
	case strings.TrimSpace(in.Phone) == "":
		return "phone is required"
	case !phoneRe.MatchString(in.Phone):
		return "phone must be in E.164 format"
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
