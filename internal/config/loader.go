package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides maps environment variables onto config fields. Secrets are
// conventionally supplied this way rather than committed to the YAML file.
// An environment variable wins over the file value only when set and
// non-empty.
var envOverrides = []struct {
	name  string
	apply func(cfg *Config, v string)
}{
	{"PORT", func(c *Config, v string) { c.Server.ListenAddr = ":" + v }},
	{"DIALFLOW_PUBLIC_HOST", func(c *Config, v string) { c.Server.PublicHost = v }},
	{"DIALFLOW_AUTH_TOKEN", func(c *Config, v string) { c.Server.AuthToken = v }},
	{"TWILIO_ACCOUNT_SID", func(c *Config, v string) { c.Telephony.AccountSID = v }},
	{"TWILIO_AUTH_TOKEN", func(c *Config, v string) { c.Telephony.AuthToken = v }},
	{"TWILIO_PHONE_NUMBER", func(c *Config, v string) { c.Telephony.FromNumber = v }},
	{"OPENAI_API_KEY", func(c *Config, v string) { c.Providers.LLM.APIKey = v }},
	{"DEEPGRAM_API_KEY", func(c *Config, v string) { c.Providers.STT.APIKey = v }},
	{"ELEVENLABS_API_KEY", func(c *Config, v string) { c.Providers.TTS.APIKey = v }},
	{"ELEVENLABS_VOICE_ID", func(c *Config, v string) { c.Voice.VoiceID = v }},
	{"DIALFLOW_DNC_DSN", func(c *Config, v string) { c.DNC.PostgresDSN = v }},
}

// ApplyEnv overwrites cfg fields from the conventional environment variables.
// Called automatically by [Load] and [LoadFromReader].
func ApplyEnv(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_grace must not be negative"))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}
	if cfg.Server.AuthToken == "" {
		slog.Warn("server.auth_token is empty; operator endpoints are unauthenticated")
	}
	if cfg.Server.PublicHost == "" {
		slog.Warn("server.public_host is empty; carrier webhooks cannot reach this process")
	}

	// Telephony credentials are all-or-nothing: a partial set is a config
	// mistake, a fully absent set is a deliberate offline/test setup.
	tel := cfg.Telephony
	set := 0
	for _, v := range []string{tel.AccountSID, tel.AuthToken, tel.FromNumber} {
		if v != "" {
			set++
		}
	}
	switch set {
	case 0:
		slog.Warn("telephony credentials are not configured; calls cannot be placed")
	case 3:
	default:
		errs = append(errs, fmt.Errorf("telephony requires account_sid, auth_token and from_number together"))
	}

	// Provider name validation — warn for unknown provider names.
	chains := []struct {
		kind  string
		chain ProviderChain
	}{
		{"llm", cfg.Providers.LLM},
		{"stt", cfg.Providers.STT},
		{"tts", cfg.Providers.TTS},
	}
	for _, c := range chains {
		validateProviderName(c.kind, c.chain.Name)
		for i, fb := range c.chain.Fallbacks {
			validateProviderName(c.kind, fb.Name)
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", c.kind, i))
			}
		}
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm.name is required; the agent cannot converse without an LLM"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; calls will be one-way")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; the agent will be mute")
	}

	// Voice ↔ TTS provider cross-validation.
	if cfg.Voice.Provider != "" && cfg.Providers.TTS.Name != "" && cfg.Voice.Provider != cfg.Providers.TTS.Name {
		slog.Warn("voice provider does not match configured TTS provider",
			"voice_provider", cfg.Voice.Provider,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}
	if cfg.Providers.TTS.Name != "" && cfg.Voice.VoiceID == "" {
		errs = append(errs, fmt.Errorf("voice.voice_id is required when providers.tts is configured"))
	}

	if cfg.Session.Retention < 0 {
		errs = append(errs, fmt.Errorf("session.retention must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
