// Command dialflow is the main entry point for the Dialflow call engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialflow-ai/dialflow/internal/app"
	"github.com/dialflow-ai/dialflow/internal/config"
	"github.com/dialflow-ai/dialflow/internal/observe"
	"github.com/dialflow-ai/dialflow/internal/resilience"
	"github.com/dialflow-ai/dialflow/pkg/provider/llm"
	"github.com/dialflow-ai/dialflow/pkg/provider/llm/anyllm"
	"github.com/dialflow-ai/dialflow/pkg/provider/llm/openai"
	"github.com/dialflow-ai/dialflow/pkg/provider/stt"
	"github.com/dialflow-ai/dialflow/pkg/provider/stt/deepgram"
	"github.com/dialflow-ai/dialflow/pkg/provider/tts"
	"github.com/dialflow-ai/dialflow/pkg/provider/tts/elevenlabs"
)

// version is stamped by the build via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Secrets may live in a .env file during development; absence is fine.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dialflow: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dialflow: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can change it at
	// runtime without restarting.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("dialflow starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "dialflow",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithMetricsHandler(promhttp.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff) {
		applyReload(level, d)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload applies the hot-reloadable subset of a config change. Fields
// that need a restart are reported instead of silently ignored.
func applyReload(level *slog.LevelVar, d config.ConfigDiff) {
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged {
		slog.Warn("voice change detected, applies after restart",
			"voice_id", d.NewVoice.VoiceID)
	}
	if d.RetentionChanged {
		slog.Warn("session retention change detected, applies after restart",
			"retention", d.NewRetention.Retention)
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai goes through the official SDK; the rest share the any-llm
	// gateway pattern: optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry.
// Each stage with configured fallbacks is wrapped in a failover group so a
// dead vendor degrades to the next one instead of killing calls.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	llmChain := cfg.Providers.LLM
	primary, err := reg.CreateLLM(llmChain.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", llmChain.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", llmChain.Name)

	if len(llmChain.Fallbacks) > 0 {
		group := resilience.NewLLMFallback(primary, llmChain.Name, resilience.FallbackConfig{})
		for _, entry := range llmChain.Fallbacks {
			fb, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, fb)
		}
		slog.Info("failover chain assembled", "kind", "llm", "backends", group.Backends())
		ps.LLM = group
	} else {
		ps.LLM = primary
	}

	if chain := cfg.Providers.STT; chain.Name != "" {
		p, err := reg.CreateSTT(chain.ProviderEntry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", chain.Name, err)
		}
		slog.Info("provider created", "kind", "stt", "name", chain.Name)

		if len(chain.Fallbacks) > 0 {
			group := resilience.NewSTTFallback(p, chain.Name, resilience.FallbackConfig{})
			for _, entry := range chain.Fallbacks {
				fb, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, fb)
			}
			slog.Info("failover chain assembled", "kind", "stt", "backends", group.Backends())
			ps.STT = group
		} else {
			ps.STT = p
		}
	}

	if chain := cfg.Providers.TTS; chain.Name != "" {
		p, err := reg.CreateTTS(chain.ProviderEntry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", chain.Name, err)
		}
		slog.Info("provider created", "kind", "tts", "name", chain.Name)

		if len(chain.Fallbacks) > 0 {
			group := resilience.NewTTSFallback(p, chain.Name, resilience.FallbackConfig{})
			for _, entry := range chain.Fallbacks {
				fb, err := reg.CreateTTS(entry)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, fb)
			}
			slog.Info("failover chain assembled", "kind", "tts", "backends", group.Backends())
			ps.TTS = group
		} else {
			ps.TTS = p
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Dialflow — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("LLM", providerLabel(cfg.Providers.LLM.Name, cfg.Providers.LLM.Model))
	printEntry("LLM fallbacks", fmt.Sprintf("%d", len(cfg.Providers.LLM.Fallbacks)))
	printEntry("STT", providerLabel(cfg.Providers.STT.Name, cfg.Providers.STT.Model))
	printEntry("TTS", providerLabel(cfg.Providers.TTS.Name, cfg.Providers.TTS.Model))
	printEntry("Voice", cfg.Voice.Name)
	if cfg.Telephony.AccountSID != "" {
		printEntry("Telephony", "configured")
	} else {
		printEntry("Telephony", "(disabled)")
	}
	if cfg.DNC.PostgresDSN != "" {
		printEntry("DNC registry", "postgres")
	} else {
		printEntry("DNC registry", "in-memory")
	}
	printEntry("Listen addr", cfg.Server.ListenAddr)
	printEntry("Public host", cfg.Server.PublicHost)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model != "" {
		return name + " / " + model
	}
	return name
}

func printEntry(kind, value string) {
	if value == "" {
		value = "—"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
