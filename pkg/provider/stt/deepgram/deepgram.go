// Package deepgram provides a Deepgram-backed STT provider using the
// Deepgram streaming WebSocket API. It implements the stt.Provider
// interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/dialflow-ai/dialflow/pkg/provider/stt"
	"github.com/dialflow-ai/dialflow/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-2"
	defaultLanguage  = "en"

	// Silence thresholds for the telephony turn-taking contract: an
	// utterance-end event after 1.2 s of silence, endpointing finals after
	// 400 ms.
	utteranceEndMs = "1200"
	endpointingMs  = "400"
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2", "nova-3").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

var _ stt.Provider = (*Provider)(nil)

// StartStream opens a streaming transcription session with Deepgram.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:          conn,
		partials:      make(chan types.Transcript, 64),
		finals:        make(chan types.Transcript, 64),
		utteranceEnds: make(chan struct{}, 8),
		audio:         make(chan []byte, 256),
		done:          make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given
// config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = 8000
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", utteranceEndMs)
	q.Set("endpointing", endpointingMs)
	q.Set("filler_words", "true")

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost.
		q.Add("keywords", kw+":5")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ── session ──

// deepgramResponse is the JSON structure of a Deepgram streaming message.
// Results messages carry transcripts; UtteranceEnd messages mark silence
// boundaries.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
		DetectedLanguage string `json:"detected_language"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements
// stt.SessionHandle.
type session struct {
	conn          *websocket.Conn
	partials      chan types.Transcript
	finals        chan types.Transcript
	utteranceEnds chan struct{}
	audio         chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*session)(nil)

// SendAudio queues an audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan types.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan types.Transcript { return s.finals }

// UtteranceEnds returns the channel of silence-boundary signals.
func (s *session) UtteranceEnds() <-chan struct{} { return s.utteranceEnds }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Send a close message to Deepgram to flush pending audio.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to
// Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// event channels.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)
	defer close(s.utteranceEnds)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation — exit gracefully.
			return
		}

		t, utteranceEnd, ok := parseResponse(msg)
		if !ok {
			continue
		}
		if utteranceEnd {
			select {
			case s.utteranceEnds <- struct{}{}:
			case <-s.done:
			default:
				// An unconsumed boundary is stale; drop rather than block.
			}
			continue
		}

		if t.IsFinal {
			select {
			case s.finals <- t:
			case <-s.done:
			}
		} else {
			select {
			case s.partials <- t:
			case <-s.done:
			}
		}
	}
}

// parseResponse parses a raw Deepgram WebSocket message. Final transcripts
// get the local end-of-turn classification attached.
func parseResponse(data []byte) (t types.Transcript, utteranceEnd, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, false, false
	}
	switch resp.Type {
	case "UtteranceEnd":
		return types.Transcript{}, true, true
	case "Results":
	default:
		return types.Transcript{}, false, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return types.Transcript{}, false, false
	}

	alt := resp.Channel.Alternatives[0]
	t = types.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Language:   resp.Channel.DetectedLanguage,
	}
	if t.IsFinal {
		t.Turn = stt.ClassifyTurn(t.Text)
	}
	return t, false, true
}
