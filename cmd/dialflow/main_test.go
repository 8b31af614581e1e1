package main

import (
	"testing"

	"github.com/dialflow-ai/dialflow/internal/config"
	"github.com/dialflow-ai/dialflow/internal/resilience"
	"github.com/dialflow-ai/dialflow/pkg/provider/llm"
	llmmock "github.com/dialflow-ai/dialflow/pkg/provider/llm/mock"
	"github.com/dialflow-ai/dialflow/pkg/provider/stt"
	sttmock "github.com/dialflow-ai/dialflow/pkg/provider/stt/mock"
	"github.com/dialflow-ai/dialflow/pkg/provider/tts"
	ttsmock "github.com/dialflow-ai/dialflow/pkg/provider/tts/mock"
)

// stubRegistry registers mock factories under the names the tests reference.
func stubRegistry() *config.Registry {
	reg := config.NewRegistry()
	for _, name := range []string{"openai", "groq"} {
		reg.RegisterLLM(name, func(config.ProviderEntry) (llm.Provider, error) {
			return &llmmock.Provider{}, nil
		})
	}
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	reg.RegisterTTS("elevenlabs", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	return reg
}

func TestBuildProviders_NoFallbacks(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.LLM.Name = "openai"
	cfg.Providers.STT.Name = "deepgram"
	cfg.Providers.TTS.Name = "elevenlabs"

	ps, err := buildProviders(cfg, stubRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}

	if _, ok := ps.LLM.(*llmmock.Provider); !ok {
		t.Errorf("LLM = %T, want the bare provider when no fallbacks are configured", ps.LLM)
	}
	if _, ok := ps.STT.(*sttmock.Provider); !ok {
		t.Errorf("STT = %T, want the bare provider", ps.STT)
	}
	if _, ok := ps.TTS.(*ttsmock.Provider); !ok {
		t.Errorf("TTS = %T, want the bare provider", ps.TTS)
	}
}

func TestBuildProviders_AssemblesFailoverChains(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.LLM.Name = "openai"
	cfg.Providers.LLM.Fallbacks = []config.ProviderEntry{{Name: "groq"}}
	cfg.Providers.STT.Name = "deepgram"
	cfg.Providers.STT.Fallbacks = []config.ProviderEntry{{Name: "deepgram"}}
	cfg.Providers.TTS.Name = "elevenlabs"
	cfg.Providers.TTS.Fallbacks = []config.ProviderEntry{{Name: "elevenlabs"}}

	ps, err := buildProviders(cfg, stubRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}

	lg, ok := ps.LLM.(*resilience.LLMFallback)
	if !ok {
		t.Fatalf("LLM = %T, want a failover group", ps.LLM)
	}
	if got := lg.Backends(); len(got) != 2 || got[0] != "openai" || got[1] != "groq" {
		t.Errorf("LLM backends = %v, want [openai groq]", got)
	}

	sg, ok := ps.STT.(*resilience.STTFallback)
	if !ok {
		t.Fatalf("STT = %T, want a failover group", ps.STT)
	}
	if got := sg.Backends(); len(got) != 2 {
		t.Errorf("STT backends = %v, want 2 entries", got)
	}

	tg, ok := ps.TTS.(*resilience.TTSFallback)
	if !ok {
		t.Fatalf("TTS = %T, want a failover group", ps.TTS)
	}
	if got := tg.Backends(); len(got) != 2 {
		t.Errorf("TTS backends = %v, want 2 entries", got)
	}
}

func TestBuildProviders_UnknownProviderFails(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.LLM.Name = "not-registered"

	if _, err := buildProviders(cfg, stubRegistry()); err == nil {
		t.Fatal("expected error for unregistered provider name")
	}
}
