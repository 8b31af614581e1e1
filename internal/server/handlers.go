package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/coder/websocket"

	"github.com/dialflow-ai/dialflow/internal/relay"
	"github.com/dialflow-ai/dialflow/internal/session"
	"github.com/dialflow-ai/dialflow/internal/telephony"
	"github.com/dialflow-ai/dialflow/internal/ttscache"
)

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "dialflow",
		"status":  "ok",
	})
}

// initiateResponse is the 201 body for a placed call.
type initiateResponse struct {
	SessionID string `json:"sessionId"`
	CallSID   string `json:"callSid"`
	Status    string `json:"status"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var in session.Inputs
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := validateInputs(in); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if s.deps.DNC != nil {
		blocked, err := s.deps.DNC.Contains(r.Context(), in.Phone)
		if err != nil {
			s.log.Error("dnc lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "do-not-call lookup failed")
			return
		}
		if blocked {
			writeError(w, http.StatusForbidden, "number has opted out")
			return
		}
	}

	sess, err := s.deps.Manager.StartCall(r.Context(), in)
	if err != nil {
		s.log.Error("call initiation failed", "error", err)
		s.metrics.RecordCallPlaced(r.Context(), "error")
		writeError(w, http.StatusBadGateway, "call placement failed")
		return
	}
	s.metrics.RecordCallPlaced(r.Context(), "ok")
	s.log.Info("call initiated",
		"session_id", sess.ID, "call_sid", sess.CallSID(), "to", in.Phone)

	writeJSON(w, http.StatusCreated, initiateResponse{
		SessionID: sess.ID,
		CallSID:   sess.CallSID(),
		Status:    string(sess.Status()),
	})
}

// handleAnswerWebhook returns the media-stream directive for a known session,
// or the spoken error directive when the session cannot be resolved.
func (s *Server) handleAnswerWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionID")
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")

	if _, err := s.deps.Store.Get(id); err != nil {
		s.log.Warn("answer webhook for unknown session", "session_id", id)
		_, _ = w.Write([]byte(telephony.ErrorDirective()))
		return
	}
	_, _ = w.Write([]byte(telephony.MediaStreamDirective(s.cfg.PublicHost, id)))
}

// statusFromCarrier maps carrier callback statuses onto session statuses.
func statusFromCarrier(s string) (session.Status, bool) {
	switch s {
	case "queued", "initiated":
		return session.StatusInitiating, true
	case "ringing":
		return session.StatusRinging, true
	case "in-progress", "answered":
		return session.StatusConnected, true
	case "completed":
		return session.StatusCompleted, true
	case "busy":
		return session.StatusBusy, true
	case "no-answer":
		return session.StatusNoAnswer, true
	case "canceled":
		return session.StatusCanceled, true
	case "failed":
		return session.StatusFailed, true
	}
	return "", false
}

func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionID")
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	raw := r.PostFormValue("CallStatus")
	st, ok := statusFromCarrier(raw)
	if !ok {
		s.log.Debug("ignoring unknown call status", "session_id", id, "status", raw)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))

	if eng, found := s.deps.Manager.Engine(id); found {
		eng.NotifyStatus(st, duration)
	} else if sess, err := s.deps.Store.Get(id); err == nil {
		// Late callback after the engine exited; keep the record consistent.
		if duration > 0 {
			sess.SetDuration(duration)
		}
		sess.SetStatus(st)
	} else {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if st.Terminal() {
		s.deps.Store.SchedulePurge(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAMDCallback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionID")
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	answeredBy := r.PostFormValue("AnsweredBy")
	eng, found := s.deps.Manager.Engine(id)
	if !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	eng.NotifyAMD(answeredBy)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Store.Get(r.PathValue("sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleVoicePreview(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voice == nil {
		writeError(w, http.StatusServiceUnavailable, "voice synthesis not configured")
		return
	}
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	if index < 0 || index >= len(ttscache.WarmPhrases) {
		writeError(w, http.StatusNotFound, "unknown preview index")
		return
	}
	audio, err := s.deps.Voice.Preview(r.Context(), index)
	if err != nil {
		s.log.Error("voice preview failed", "index", index, "error", err)
		writeError(w, http.StatusBadGateway, "synthesis failed")
		return
	}
	// Raw µ-law at 8 kHz.
	w.Header().Set("Content-Type", "audio/basic")
	_, _ = w.Write(audio)
}

// handleMediaSocket accepts the carrier's media stream and hands it to the
// session's engine. The handler blocks until the stream ends so the
// connection stays hijacked for the duration of the call.
func (s *Server) handleMediaSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionID")
	eng, found := s.deps.Manager.Engine(id)
	if !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error("media socket accept failed", "session_id", id, "error", err)
		return
	}
	mc := telephony.NewMediaChannel(conn)
	eng.AttachMedia(mc)
	s.log.Info("media stream attached", "session_id", id)

	<-mc.Done()
	_ = mc.Close()
}

// handleTranscriptSocket attaches an observer WebSocket to the session's
// relay hub. The first message is the session-state snapshot.
func (s *Server) handleTranscriptSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionID")
	sess, err := s.deps.Store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error("transcript socket accept failed", "session_id", id, "error", err)
		return
	}

	obs, err := s.deps.Hub.Attach(id, conn, relay.NewSessionState(sess.Snapshot()))
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "attach failed")
		return
	}
	defer obs.Close()

	s.metrics.ActiveObservers.Add(r.Context(), 1)
	defer s.metrics.ActiveObservers.Add(r.Context(), -1)

	// Observers never send application messages; CloseRead surfaces the
	// client going away.
	readCtx := conn.CloseRead(r.Context())
	select {
	case <-readCtx.Done():
	case <-obs.Done():
	}
}
