// Package orchestrator drives one outbound call as an event loop.
//
// The engine owns turn-taking for its session: it schedules the opening,
// accumulates ASR finals into semantic turns, runs the intent detectors,
// requests LLM responses, and streams synthesized audio back through the
// media channel. Every external callback — media events, ASR results, the
// AMD verdict, carrier status updates — is enqueued as a typed event and
// drained by a single goroutine, so all session mutation is serialized
// without coarse locks.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dialflow-ai/dialflow/internal/detect"
	"github.com/dialflow-ai/dialflow/internal/dnc"
	"github.com/dialflow-ai/dialflow/internal/observe"
	"github.com/dialflow-ai/dialflow/internal/prompt"
	"github.com/dialflow-ai/dialflow/internal/relay"
	"github.com/dialflow-ai/dialflow/internal/session"
	"github.com/dialflow-ai/dialflow/internal/speech"
	"github.com/dialflow-ai/dialflow/internal/telephony"
	"github.com/dialflow-ai/dialflow/pkg/audio"
	"github.com/dialflow-ai/dialflow/pkg/provider/llm"
	"github.com/dialflow-ai/dialflow/pkg/provider/stt"
	"github.com/dialflow-ai/dialflow/pkg/types"
)

type sttHandle = stt.SessionHandle

// MediaStream is the slice of the telephony media channel the engine uses.
type MediaStream interface {
	Events() <-chan telephony.Event
	SendFrame(ctx context.Context, frame []byte) error
	ClearPlayback(ctx context.Context) error
	Close() error
}

var _ MediaStream = (*telephony.MediaChannel)(nil)

// CallControl ends the live call at the carrier.
type CallControl interface {
	Hangup(ctx context.Context, callSID string) error
}

var _ CallControl = (*telephony.Client)(nil)

// Synthesizer converts response text into wire frames.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([][]byte, error)
}

var _ Synthesizer = (*speech.Synthesizer)(nil)

// Generation parameters for conversational responses.
const (
	genTemperature = 0.85
	genMaxTokens   = 200
)

// maxPreConnectFrames bounds the audio buffered while the ASR session is
// still connecting (250 frames = 5 s). Oldest frames are dropped first.
const maxPreConnectFrames = 250

// Fixed utterances for the short-circuit branches.
const (
	optOutAck = "Understood, I'll take you off our list right away. Sorry to have bothered you, and have a great day."

	languageApology = "I'm sorry, I only speak English. I apologize for the inconvenience, we'll try to reach you another time. Goodbye."
)

// genKind tags a generation pipeline so the loop knows what to do with the
// resulting text and audio.
type genKind int

const (
	genOpening genKind = iota
	genReply
	genClosing
	genVoicemail
	genOptOut
	genApology
)

// consecutive stable non-English finals required before short-circuiting.
const nonEnglishThreshold = 2

// Deps are the engine's external collaborators. ASR, Calls and DNC may be
// nil: a nil ASR leaves the call one-way, a nil Calls skips carrier hangups,
// a nil DNC skips opt-out recording.
type Deps struct {
	ASR    stt.Provider
	LLM    llm.Provider
	Speech Synthesizer
	Calls  CallControl
	Hub    *relay.Hub
	DNC    dnc.Store
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithTimers overrides the scheduling delays. Zero fields keep defaults.
func WithTimers(t Timers) Option {
	return func(e *Engine) {
		e.timers = t.withDefaults()
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics overrides the metric instruments, for test isolation.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithPromptBuilder overrides the prompt builder (deterministic clock in
// tests).
func WithPromptBuilder(b *prompt.Builder) Option {
	return func(e *Engine) {
		if b != nil {
			e.prompts = b
		}
	}
}

// Engine is the per-call event loop. Construct with [New], start with [Run]
// on its own goroutine, and feed it through AttachMedia / NotifyAMD /
// NotifyStatus / RequestHangup. All exported methods are safe for concurrent
// use.
type Engine struct {
	sess    *session.Session
	deps    Deps
	prompts *prompt.Builder
	names   *detect.NameMatcher
	timers  Timers
	log     *slog.Logger
	metrics *observe.Metrics

	events chan any
	done   chan struct{}

	// Loop-owned state. Only the Run goroutine touches these.
	runCtx          context.Context
	media           MediaStream
	asr             sttHandle
	asrReconnected  bool
	mediaStopped    bool
	preConnect      [][]byte
	turn            turnBuffer
	turnGen         int
	turnTimer       *time.Timer
	generating      bool
	pendingResponse bool
	voicemailQueued bool
	speakGen        int
	speakCancel     context.CancelFunc
	turnStarted     time.Time
	nonEnglishLang  string
	nonEnglishRun   int
}

// New creates an engine for the given session.
func New(sess *session.Session, deps Deps, opts ...Option) *Engine {
	e := &Engine{
		sess:    sess,
		deps:    deps,
		prompts: prompt.NewBuilder(),
		names:   detect.NewNameMatcher(),
		timers:  DefaultTimers(),
		log:     slog.Default(),
		events:  make(chan any, 512),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.log = e.log.With("session_id", sess.ID)
	return e
}

// Done is closed when the engine loop has exited and the session is final.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// AttachMedia hands the accepted media channel to the engine and starts
// forwarding its events into the loop.
func (e *Engine) AttachMedia(ms MediaStream) {
	e.post(evMediaAttached{media: ms})
	go func() {
		for ev := range ms.Events() {
			switch ev.Kind {
			case telephony.EventStart:
				e.post(evMediaStart{streamSID: ev.StreamSID})
			case telephony.EventMedia:
				e.post(evMediaFrame{frame: ev.Frame})
			case telephony.EventStop:
				e.post(evMediaStop{})
			}
		}
	}()
}

// NotifyAMD enqueues the carrier's answering-machine-detection verdict.
func (e *Engine) NotifyAMD(answeredBy string) {
	e.post(evAMD{answeredBy: answeredBy})
}

// NotifyStatus enqueues a carrier status-callback update. Terminal statuses
// end the engine loop.
func (e *Engine) NotifyStatus(st session.Status, durationSeconds int) {
	e.post(evStatus{status: st, duration: durationSeconds})
}

// RequestHangup asks the engine to end the call with the given reason.
func (e *Engine) RequestHangup(reason string) {
	e.post(evHangup{reason: reason})
}

// post enqueues an event, dropping it if the loop already exited.
func (e *Engine) post(ev any) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// Run drains the event loop until the session reaches a terminal status or
// ctx is cancelled. Call it on a dedicated goroutine.
func (e *Engine) Run(ctx context.Context) {
	e.runCtx = ctx
	e.metrics.ActiveSessions.Add(ctx, 1)
	defer e.metrics.ActiveSessions.Add(context.Background(), -1)
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			e.finalize("shutdown")
			return
		case ev := <-e.events:
			if e.handle(ev) {
				e.finalize(e.sess.EndReason())
				return
			}
		}
	}
}

// handle processes one event. Returns true when the loop should finalize.
func (e *Engine) handle(ev any) bool {
	switch ev := ev.(type) {
	case evMediaAttached:
		e.media = ev.media
	case evMediaStart:
		e.handleMediaStart(ev.streamSID)
	case evMediaFrame:
		e.handleMediaFrame(ev.frame)
	case evMediaStop:
		e.handleMediaStop()
	case evASRReady:
		e.handleASRReady(ev)
	case evASRClosed:
		e.handleASRClosed()
	case evInterim:
		e.handleInterim(ev.text)
	case evFinal:
		e.handleFinal(ev.transcript)
	case evUtteranceEnd:
		e.handleUtteranceEnd()
	case evTurnTimeout:
		if ev.gen == e.turnGen && !e.turn.empty() {
			e.dispatchTurn()
		}
	case evOpeningDue:
		e.generate(genOpening, e.openingInstruction())
	case evCooldownTimeout:
		if e.sess.ClearOpeningCooldown() {
			e.log.Info("opening cooldown cleared", "source", ev.source)
		}
	case evAssistantText:
		e.handleAssistantText(ev)
	case evGenFailed:
		e.handleGenFailed(ev)
	case evAudioReady:
		e.handleAudioReady(ev)
	case evSpeechDone:
		e.handleSpeechDone(ev.gen)
	case evClosingDue:
		e.generate(genClosing, e.closingInstruction())
	case evAMD:
		e.handleAMD(ev.answeredBy)
	case evStatus:
		if ev.duration > 0 {
			e.sess.SetDuration(ev.duration)
		}
		e.sess.SetStatus(ev.status)
		if ev.status.Terminal() {
			return true
		}
	case evHangup:
		e.hangup(ev.reason)
	}
	return false
}

// ---- media ----

func (e *Engine) handleMediaStart(streamSID string) {
	if !e.sess.MarkOpeningSent() {
		e.log.Warn("duplicate media start ignored", "stream_sid", streamSID)
		return
	}
	e.sess.SetStreamSID(streamSID)
	e.sess.SetStatus(session.StatusConnected)
	e.sess.SetOpeningCooldown()
	e.broadcast(relay.NewStatus("connected"))
	e.log.Info("media stream started", "stream_sid", streamSID)

	e.connectASR(false)
	e.after(e.timers.OpeningDelay, evOpeningDue{})
	e.after(e.timers.OpeningSafety, evCooldownTimeout{source: "safety"})
}

func (e *Engine) handleMediaFrame(frame []byte) {
	if e.asr != nil {
		if err := e.asr.SendAudio(frame); err != nil {
			e.log.Debug("asr send failed", "error", err)
		}
		return
	}
	// ASR not connected yet: keep the most recent audio, bounded.
	if len(e.preConnect) >= maxPreConnectFrames {
		e.preConnect = e.preConnect[1:]
	}
	e.preConnect = append(e.preConnect, frame)
}

func (e *Engine) handleMediaStop() {
	e.log.Info("media stream stopped")
	e.mediaStopped = true
	e.stopSpeaking()
	if e.asr != nil {
		_ = e.asr.Close()
	}
}

// ---- ASR ----

// connectASR opens the streaming recognition session on a worker goroutine.
func (e *Engine) connectASR(reconnect bool) {
	if e.deps.ASR == nil {
		e.log.Warn("no asr provider configured, call is one-way")
		return
	}
	cfg := stt.StreamConfig{
		SampleRate: audio.WireSampleRate,
		Encoding:   "mulaw",
		Language:   "en",
		Keywords:   []string{e.sess.Inputs.FirstName},
	}
	ctx := e.runCtx
	go func() {
		handle, err := e.deps.ASR.StartStream(ctx, cfg)
		e.post(evASRReady{handle: handle, err: err, reconnect: reconnect})
	}()
}

func (e *Engine) handleASRReady(ev evASRReady) {
	if ev.err != nil {
		e.log.Error("asr connect failed, continuing degraded",
			"reconnect", ev.reconnect, "error", ev.err)
		e.metrics.RecordProviderError(e.runCtx, "asr", "connect")
		return
	}
	e.asr = ev.handle
	for _, frame := range e.preConnect {
		if err := e.asr.SendAudio(frame); err != nil {
			break
		}
	}
	e.preConnect = nil
	e.pumpASR(ev.handle)
	e.log.Info("asr session ready", "reconnect", ev.reconnect)
}

// pumpASR forwards the session's three event streams into the loop until
// they close.
func (e *Engine) pumpASR(h sttHandle) {
	go func() {
		partials, finals, ends := h.Partials(), h.Finals(), h.UtteranceEnds()
		for partials != nil || finals != nil || ends != nil {
			select {
			case t, ok := <-partials:
				if !ok {
					partials = nil
					continue
				}
				e.post(evInterim{text: t.Text})
			case t, ok := <-finals:
				if !ok {
					finals = nil
					continue
				}
				e.post(evFinal{transcript: t})
			case _, ok := <-ends:
				if !ok {
					ends = nil
					continue
				}
				e.post(evUtteranceEnd{})
			}
		}
		e.post(evASRClosed{})
	}()
}

func (e *Engine) handleASRClosed() {
	e.asr = nil
	if e.mediaStopped || e.sess.Terminal() {
		return
	}
	if e.asrReconnected {
		e.log.Error("asr connection lost again, call is one-way")
		return
	}
	e.asrReconnected = true
	e.log.Warn("asr connection lost, attempting reconnect")
	e.connectASR(true)
}

// ---- transcripts and turns ----

func (e *Engine) handleInterim(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	e.maybeBargeIn()
	e.broadcast(relay.NewUserSpeechInterim(text))
}

func (e *Engine) handleFinal(tr types.Transcript) {
	if e.sess.Flags().NonEnglish {
		return
	}
	e.trackLanguage(tr.Language)
	if e.sess.Flags().NonEnglish {
		return
	}
	if !e.turn.add(tr.Text) {
		return
	}
	e.maybeBargeIn()
	if e.turn.empty() {
		return
	}
	e.turnGen++
	gen := e.turnGen
	if e.turnTimer != nil {
		e.turnTimer.Stop()
	}
	e.turnTimer = time.AfterFunc(e.timers.turnWait(tr.Turn), func() {
		e.post(evTurnTimeout{gen: gen})
	})
}

func (e *Engine) handleUtteranceEnd() {
	if e.turn.empty() {
		return
	}
	if e.turnTimer != nil {
		e.turnTimer.Stop()
	}
	e.turnGen++
	e.dispatchTurn()
}

// trackLanguage watches for a stable run of non-English finals and
// short-circuits the call with an apology once the threshold is reached.
func (e *Engine) trackLanguage(lang string) {
	if lang == "" || lang == "en" || strings.HasPrefix(lang, "en-") {
		e.nonEnglishRun = 0
		e.nonEnglishLang = ""
		return
	}
	if lang != e.nonEnglishLang {
		e.nonEnglishLang = lang
		e.nonEnglishRun = 1
		return
	}
	e.nonEnglishRun++
	if e.nonEnglishRun < nonEnglishThreshold {
		return
	}
	if !e.sess.MarkNonEnglish(lang) {
		return
	}
	e.log.Info("non-english prospect detected", "language", lang)
	e.broadcast(relay.NewLanguageDetected(lang))
	e.stopSpeaking()
	e.speakFixed(genApology, languageApology)
}

// dispatchTurn flushes the turn buffer as a single user turn and runs the
// detector chain over it.
func (e *Engine) dispatchTurn() {
	text := e.turn.flush()
	if text == "" {
		return
	}
	e.turnStarted = time.Now()
	e.sess.AppendUser(text)
	e.broadcast(relay.NewUserSpeech(text))

	if detect.IsOptOut(text) {
		e.handleOptOut()
		return
	}

	flags := e.sess.Flags()
	switch {
	case !flags.Gatekeeper && detect.IsGatekeeper(text):
		if e.sess.MarkGatekeeper() {
			e.broadcast(relay.NewGatekeeperDetected())
		}
	case flags.Gatekeeper && !flags.GatekeeperNavigated &&
		e.names.GatekeeperNavigated(text, e.sess.Inputs.FirstName):
		if e.sess.MarkGatekeeperNavigated() {
			e.broadcast(relay.NewGatekeeperNavigated())
		}
	}

	if requested, anchor := detect.CallbackRequest(text); requested {
		if e.sess.MarkCallbackRequested(anchor) {
			e.broadcast(relay.NewCallbackRequested())
		}
	}

	score, label := e.sess.UpdateSentiment(text)
	e.broadcast(relay.NewSentimentUpdate(score, label))

	if detect.IsObjection(text) {
		e.sess.RecordObjection()
	}
	e.sess.MergeBANT(detect.DetectBANT(text))

	if a, u, ok := e.sess.LastExchange(); ok && !flags.MeetingBooked && detect.MeetingBooked(a, u) {
		e.handleMeetingBooked()
		return
	}

	flags = e.sess.Flags()
	if flags.OpeningCooldown || flags.Voicemail || flags.OptOut ||
		flags.MeetingBooked || flags.NonEnglish {
		return
	}
	if e.generating {
		e.pendingResponse = true
		return
	}
	e.generate(genReply, "")
}

// ---- branches ----

func (e *Engine) handleOptOut() {
	if !e.sess.MarkOptOut() {
		return
	}
	e.log.Info("opt-out detected")
	e.sess.SetEndReason("opt_out")
	e.broadcast(relay.NewOptOutDetected())
	e.metrics.OptOuts.Add(e.runCtx, 1)

	if e.deps.DNC != nil {
		number := e.sess.Inputs.Phone
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.deps.DNC.Add(ctx, number, "prospect opt-out"); err != nil {
				e.log.Error("dnc record failed", "error", err)
			}
		}()
	}

	e.stopSpeaking()
	e.speakFixed(genOptOut, optOutAck)
}

func (e *Engine) handleMeetingBooked() {
	if !e.sess.MarkMeetingBooked() {
		return
	}
	e.log.Info("meeting booked")
	e.sess.SetEndReason("meeting_booked")
	e.broadcast(relay.NewMeetingBooked("Meeting confirmed, wrapping up the call."))
	e.metrics.MeetingsBooked.Add(e.runCtx, 1)
	e.after(e.timers.MeetingGrace, evClosingDue{})
}

func (e *Engine) handleAMD(answeredBy string) {
	switch {
	case strings.HasPrefix(answeredBy, "machine"):
		if !e.sess.MarkVoicemail() {
			return
		}
		e.log.Info("voicemail detected", "answered_by", answeredBy)
		e.sess.SetEndReason("voicemail")
		e.broadcast(relay.NewVoicemailDetected(answeredBy))
		e.metrics.Voicemails.Add(e.runCtx, 1)
		e.stopSpeaking()
		if e.generating {
			// A response cycle is in flight; its output is dropped by the
			// voicemail flag and the message is generated afterwards.
			e.voicemailQueued = true
			return
		}
		e.generate(genVoicemail, e.voicemailInstruction())
	case answeredBy == "fax":
		e.log.Info("fax machine detected, hanging up")
		e.sess.SetEndReason("fax")
		e.hangup("fax")
	default:
		// Human or unknown: the conversation proceeds normally.
	}
}

// ---- generation pipeline ----

// generate runs the LLM + TTS pipeline on a worker goroutine. instruction,
// when non-empty, is appended as a one-off user message that never enters
// history.
func (e *Engine) generate(kind genKind, instruction string) {
	if e.generating {
		return
	}
	e.generating = true
	e.broadcast(relay.NewStatus("thinking"))

	_, label := e.sess.Sentiment()
	system := e.prompts.System(e.sess.Inputs) + e.prompts.Augmentation(label, e.sess.BargeIns())
	messages := e.sess.History()
	if instruction != "" {
		messages = append(messages, types.Message{Role: "user", Content: instruction})
	}
	req := llm.CompletionRequest{
		Messages:     messages,
		Temperature:  genTemperature,
		MaxTokens:    genMaxTokens,
		SystemPrompt: system,
	}

	ctx := e.runCtx
	go func() {
		start := time.Now()
		resp, err := e.deps.LLM.Complete(ctx, req)
		e.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			e.post(evGenFailed{kind: kind, err: err})
			return
		}
		text := ""
		if resp != nil {
			text = strings.TrimSpace(resp.Content)
		}
		if text == "" {
			e.post(evGenFailed{kind: kind})
			return
		}
		e.post(evAssistantText{kind: kind, text: text})

		ttsStart := time.Now()
		frames, synthErr := e.deps.Speech.Synthesize(ctx, text)
		e.metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
		e.post(evAudioReady{kind: kind, frames: frames, err: synthErr})
	}()
}

// speakFixed synthesizes a canned utterance, bypassing the LLM. The text is
// appended as an assistant turn.
func (e *Engine) speakFixed(kind genKind, text string) {
	e.generating = true
	e.sess.AppendAssistant(text)
	e.broadcast(relay.NewMichaelSpeech(text))
	ctx := e.runCtx
	go func() {
		frames, err := e.deps.Speech.Synthesize(ctx, text)
		e.post(evAudioReady{kind: kind, frames: frames, err: err})
	}()
}

func (e *Engine) handleAssistantText(ev evAssistantText) {
	voicemail := e.sess.Flags().Voicemail
	switch {
	case ev.kind == genVoicemail:
		if !e.sess.MarkVoicemailHandled() {
			return
		}
		e.sess.AppendVoicemail(ev.text)
		e.broadcast(relay.NewMichaelSpeech(ev.text))
	case voicemail || e.sess.Flags().OptOut:
		// A stale response finished after a short-circuit branch fired.
	default:
		e.sess.AppendAssistant(ev.text)
		e.broadcast(relay.NewMichaelSpeech(ev.text))
	}
}

func (e *Engine) handleGenFailed(ev evGenFailed) {
	e.generating = false
	if ev.err != nil {
		e.log.Error("response generation failed", "error", ev.err)
		e.metrics.RecordProviderError(e.runCtx, "llm", "completion")
	} else {
		e.log.Warn("response generation returned no text")
	}
	e.broadcast(relay.NewError("response generation failed"))
	e.broadcast(relay.NewStatus("listening"))
	switch ev.kind {
	case genOpening:
		e.after(e.timers.NoAudioCooldown, evCooldownTimeout{source: "no_audio"})
	case genClosing:
		// The meeting is booked even if the sign-off line never renders;
		// hang up as if it had played.
		e.after(e.timers.MeetingHangupDelay, evHangup{reason: "meeting_booked"})
	case genVoicemail:
		// Nothing to leave on the machine, end the call instead of
		// letting it run until the carrier gives up.
		e.after(e.timers.VoicemailPadding, evHangup{reason: "voicemail"})
	}
	e.afterGeneration()
}

func (e *Engine) handleAudioReady(ev evAudioReady) {
	e.generating = false

	stale := (e.sess.Flags().Voicemail && ev.kind != genVoicemail) ||
		(e.sess.Flags().OptOut && ev.kind != genOptOut)
	if stale {
		e.afterGeneration()
		return
	}

	if ev.err != nil {
		e.log.Error("synthesis failed, skipping playback", "error", ev.err)
		e.metrics.RecordProviderError(e.runCtx, "tts", "synthesize")
	}

	playback := audio.PlaybackEstimate(len(ev.frames))
	switch ev.kind {
	case genOpening:
		if len(ev.frames) == 0 {
			e.after(e.timers.NoAudioCooldown, evCooldownTimeout{source: "no_audio"})
		} else {
			e.after(playback+e.timers.CooldownPadding, evCooldownTimeout{source: "estimate"})
		}
	case genClosing:
		e.after(e.timers.MeetingHangupDelay, evHangup{reason: "meeting_booked"})
	case genVoicemail:
		e.after(playback+e.timers.VoicemailPadding, evHangup{reason: "voicemail"})
	case genOptOut:
		e.after(e.timers.OptOutHangupDelay, evHangup{reason: "opt_out"})
	case genApology:
		e.after(playback+e.timers.VoicemailPadding, evHangup{reason: "language_barrier"})
	}

	if len(ev.frames) == 0 {
		e.broadcast(relay.NewStatus("listening"))
		e.afterGeneration()
		return
	}

	if ev.kind == genReply && !e.turnStarted.IsZero() {
		e.metrics.TurnDuration.Record(e.runCtx, time.Since(e.turnStarted).Seconds())
		e.turnStarted = time.Time{}
	}
	e.startSpeaking(ev.frames)
}

// afterGeneration resumes a response deferred while a generation was in
// flight.
func (e *Engine) afterGeneration() {
	if e.voicemailQueued {
		e.voicemailQueued = false
		e.generate(genVoicemail, e.voicemailInstruction())
		return
	}
	flags := e.sess.Flags()
	blocked := flags.OpeningCooldown || flags.Voicemail || flags.OptOut ||
		flags.MeetingBooked || flags.NonEnglish
	if e.pendingResponse && !blocked {
		e.pendingResponse = false
		e.generate(genReply, "")
		return
	}
	e.pendingResponse = false
}

// ---- playback ----

// startSpeaking streams frames to the media channel on a worker goroutine
// tied to a cancel token.
func (e *Engine) startSpeaking(frames [][]byte) {
	if e.media == nil {
		e.log.Warn("no media channel, dropping audio", "frames", len(frames))
		e.broadcast(relay.NewStatus("listening"))
		e.afterGeneration()
		return
	}
	e.speakGen++
	gen := e.speakGen
	ctx, cancel := context.WithCancel(e.runCtx)
	e.speakCancel = cancel
	e.sess.SetSpeaking(true)
	e.broadcast(relay.NewStatus("speaking"))

	media := e.media
	go func() {
		defer cancel()
		for _, f := range frames {
			if err := media.SendFrame(ctx, f); err != nil {
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		e.post(evSpeechDone{gen: gen})
	}()
}

func (e *Engine) handleSpeechDone(gen int) {
	if gen != e.speakGen {
		return
	}
	e.speakCancel = nil
	e.sess.SetSpeaking(false)
	e.broadcast(relay.NewStatus("listening"))
	e.afterGeneration()
}

// stopSpeaking cancels the active audio send, if any, without emitting a
// barge-in.
func (e *Engine) stopSpeaking() {
	if e.speakCancel == nil {
		return
	}
	e.speakCancel()
	e.speakCancel = nil
	e.speakGen++
	e.sess.SetSpeaking(false)
	if e.media != nil {
		if err := e.media.ClearPlayback(e.runCtx); err != nil {
			e.log.Debug("clear playback failed", "error", err)
		}
	}
}

// maybeBargeIn handles the prospect talking over active playback.
func (e *Engine) maybeBargeIn() {
	if !e.sess.Speaking() {
		return
	}
	e.stopSpeaking()
	count := e.sess.RecordBargeIn()
	e.metrics.BargeIns.Add(e.runCtx, 1)
	e.log.Info("barge-in", "count", count)
	e.broadcast(relay.NewBargeIn(count))
	e.broadcast(relay.NewStatus("listening"))
}

// ---- shutdown ----

// hangup asks the carrier to end the call. The terminal status callback
// finishes the session.
func (e *Engine) hangup(reason string) {
	e.sess.SetEndReason(reason)
	e.stopSpeaking()
	callSID := e.sess.CallSID()
	if e.deps.Calls == nil || callSID == "" {
		return
	}
	calls := e.deps.Calls
	log := e.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := calls.Hangup(ctx, callSID); err != nil {
			log.Error("carrier hangup failed", "call_sid", callSID, "error", err)
		}
	}()
}

// finalize releases resources and emits the terminal broadcast. Runs once,
// on the loop goroutine, as the last thing before Run returns.
func (e *Engine) finalize(reason string) {
	if reason == "" {
		reason = string(e.sess.Status())
	}
	e.sess.SetEndReason(reason)
	reason = e.sess.EndReason()

	e.stopSpeaking()
	if e.turnTimer != nil {
		e.turnTimer.Stop()
	}
	if e.asr != nil {
		_ = e.asr.Close()
		e.asr = nil
	}
	if e.media != nil {
		_ = e.media.Close()
	}

	duration := time.Duration(e.sess.Duration()) * time.Second
	e.broadcast(relay.NewCallEnded(reason, e.sess.Transcript(), duration, e.sess.Analytics()))
	if e.deps.Hub != nil {
		e.deps.Hub.CloseSession(e.sess.ID)
	}
	e.metrics.RecordCallOutcome(context.Background(), reason)
	e.log.Info("call ended", "reason", reason, "duration", duration,
		"messages", len(e.sess.History()))
}

// ---- helpers ----

// after schedules ev for delivery once d elapses.
func (e *Engine) after(d time.Duration, ev any) {
	time.AfterFunc(d, func() {
		e.post(ev)
	})
}

func (e *Engine) broadcast(msg any) {
	if e.deps.Hub == nil {
		return
	}
	e.deps.Hub.Broadcast(e.sess.ID, msg)
}

// One-off instructions appended to the request only, never to history.

func (e *Engine) openingInstruction() string {
	return "The call has just connected. Deliver your opening now: greet " +
		e.sess.Inputs.FirstName + " by name, introduce yourself and include a brief " +
		"disclosure that you are an AI assistant, and give one concise reason for " +
		"the call. Keep it to 1-3 sentences of plain speakable text."
}

func (e *Engine) closingInstruction() string {
	return "The prospect just confirmed the meeting. Deliver a warm closing of " +
		"2-3 sentences: confirm that you will send a calendar invite, thank them, " +
		"and say goodbye."
}

func (e *Engine) voicemailInstruction() string {
	return "The call went to voicemail. Leave a message of at most 3 sentences: " +
		"say who you are including the AI disclosure, give a one-line reason for the " +
		"call on behalf of " + e.sess.Inputs.Company + ", and suggest a callback. " +
		"Output only the message."
}
