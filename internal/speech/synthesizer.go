// Package speech turns response text into telephony wire frames.
//
// The [Synthesizer] sits between the call engine and the TTS vendor: it checks
// the response cache first, otherwise streams the text through the configured
// [tts.Provider], transcodes the returned PCM to 8 kHz µ-law, and splits the
// result into 160-byte frames ready for the media stream. A circuit breaker
// guards the vendor so a degraded TTS backend fails fast instead of stalling
// every active call.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dialflow-ai/dialflow/internal/resilience"
	"github.com/dialflow-ai/dialflow/internal/ttscache"
	"github.com/dialflow-ai/dialflow/pkg/audio"
	"github.com/dialflow-ai/dialflow/pkg/provider/tts"
)

// DefaultTimeout bounds a single synthesis round trip. A response that takes
// longer than this is worthless for a live call anyway.
const DefaultTimeout = 10 * time.Second

// Option is a functional option for configuring a [Synthesizer].
type Option func(*Synthesizer)

// WithTimeout overrides the per-synthesis timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCache supplies a shared response cache. Default: a fresh cache with
// package defaults.
func WithCache(c *ttscache.Cache) Option {
	return func(s *Synthesizer) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithBreaker supplies a pre-configured circuit breaker for the TTS vendor.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Synthesizer) {
		if cb != nil {
			s.breaker = cb
		}
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Synthesizer) {
		if log != nil {
			s.log = log
		}
	}
}

// Synthesizer converts text into µ-law wire frames via a TTS provider.
// It is safe for concurrent use; one Synthesizer is shared by all sessions
// that speak with the same voice.
type Synthesizer struct {
	provider tts.Provider
	voice    tts.VoiceProfile
	cache    *ttscache.Cache
	breaker  *resilience.CircuitBreaker
	timeout  time.Duration
	log      *slog.Logger

	warmOnce sync.Once
}

// New creates a Synthesizer speaking with the given voice.
func New(provider tts.Provider, voice tts.VoiceProfile, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		provider: provider,
		voice:    voice,
		cache:    ttscache.New(),
		timeout:  DefaultTimeout,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.breaker == nil {
		log := s.log
		s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "tts:" + voice.Provider,
			OnStateChange: func(name string, from, to resilience.State) {
				log.Info("tts vendor breaker state changed",
					"vendor", name, "from", from, "to", to)
			},
		})
	}
	return s
}

// Healthy reports whether the TTS vendor is currently usable. An open breaker
// means recent synthesis calls failed; readiness checks surface this.
func (s *Synthesizer) Healthy() error {
	if st := s.breaker.State(); st == resilience.StateOpen {
		return fmt.Errorf("tts breaker %s", st)
	}
	return nil
}

// Cache exposes the underlying response cache (shared with the voice preview
// endpoint).
func (s *Synthesizer) Cache() *ttscache.Cache {
	return s.cache
}

// Synthesize converts text into a sequence of 160-byte µ-law frames.
//
// Empty or whitespace-only text returns (nil, nil) without touching the
// vendor. Cache hits return the stored frames directly. On vendor failure the
// frames are nil and the error describes the failure; callers treat this as
// "skip playback", not as a session-fatal condition.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	if frames, ok := s.cache.Get(text); ok {
		return frames, nil
	}

	var frames [][]byte
	err := s.breaker.Execute(func() error {
		var execErr error
		frames, execErr = s.synthesizeOnce(ctx, text)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("speech: synthesize: %w", err)
	}

	s.cache.Put(text, frames)
	return frames, nil
}

// synthesizeOnce performs one vendor round trip and transcodes the result.
func (s *Synthesizer) synthesizeOnce(ctx context.Context, text string) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := s.provider.SynthesizeStream(ctx, textCh, s.voice)
	if err != nil {
		return nil, err
	}

	var pcm []byte
collect:
	for {
		select {
		case chunk, ok := <-audioCh:
			if !ok {
				break collect
			}
			pcm = append(pcm, chunk...)
		case <-ctx.Done():
			// Leave a goroutine behind to consume whatever the vendor
			// still pushes; blocking here would stall the call.
			go audio.Drain(audioCh)
			return nil, ctx.Err()
		}
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("no audio returned for %d-char text", len(text))
	}

	return audio.Transcode(pcm), nil
}

// Warm synthesizes the stock acknowledgement phrases in the background so
// that the first real call hits the cache. Runs at most once per Synthesizer;
// failures are logged and skipped.
func (s *Synthesizer) Warm(ctx context.Context) {
	s.warmOnce.Do(func() {
		go func() {
			for _, phrase := range ttscache.WarmPhrases {
				if ctx.Err() != nil {
					return
				}
				if _, ok := s.cache.Get(phrase); ok {
					continue
				}
				if _, err := s.Synthesize(ctx, phrase); err != nil {
					s.log.Warn("cache warm phrase failed",
						"phrase", phrase, "error", err)
					continue
				}
			}
			s.log.Info("tts cache warmed", "entries", s.cache.Len())
		}()
	})
}

// Preview returns the wire audio for warm phrase index (0-based),
// synthesizing it on demand when not cached. Used by the voice preview
// endpoint. Returns the frames concatenated into a single buffer.
func (s *Synthesizer) Preview(ctx context.Context, index int) ([]byte, error) {
	if index < 0 || index >= len(ttscache.WarmPhrases) {
		return nil, fmt.Errorf("speech: preview index %d out of range [0,%d)", index, len(ttscache.WarmPhrases))
	}
	frames, err := s.Synthesize(ctx, ttscache.WarmPhrases[index])
	if err != nil {
		return nil, err
	}
	var buf []byte
	for _, f := range frames {
		buf = append(buf, f...)
	}
	return buf, nil
}
