package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/voicerelay/logging"
	"github.com/room4-2/voicerelay/messages"
	"github.com/room4-2/voicerelay/recall"
	"github.com/room4-2/voicerelay/session"
)

const maxBotRequestSize = 64 * 1024

type errorBody struct {
	Error any `json:"error"`
}

type healthBody struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeRawJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{Status: "ok", Sessions: s.sessionManager.GetActiveSessionCount()})
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBotRequestSize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read request body"})
		return
	}

	var req recall.BotRequest
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
			return
		}
	}
	if req.MeetingURL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Meeting URL is required"})
		return
	}

	data, err := s.bots.CreateBot(r.Context(), req)
	if err != nil {
		var apiErr *recall.APIError
		switch {
		case errors.As(err, &apiErr):
			log.Warn().Int("status", apiErr.StatusCode).Msg("bot provider rejected request")
			writeJSON(w, apiErr.StatusCode, errorBody{Error: providerError(apiErr.Body)})
		case errors.Is(err, recall.ErrNotConfigured):
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		default:
			log.Error().Err(err).Msg("error creating bot")
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to create bot"})
		}
		return
	}

	writeRawJSON(w, http.StatusOK, data)
}

// providerError keeps a JSON error body as JSON, anything else as text
func providerError(body []byte) any {
	if sonic.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

// handleNotFound closes websocket connections on any path but the relay path
// right after accepting them. Plain HTTP gets a 404.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	log.Warn().Str("path", r.URL.Path).Msg("invalid relay path, closing connection")
	_ = conn.Close()
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn)
	if err != nil {
		code := messages.ErrCodeSessionFailed
		if errors.Is(err, session.ErrMaxSessions) {
			code = messages.ErrCodeSessionLimit
		}
		log.Warn().Err(err).Msg("rejecting connection")
		rejectConnection(conn, code, err.Error())
		return
	}

	log.Info().Str("session", logging.ShortID(clientSession.ID)).Str("remote", r.RemoteAddr).Msg("new session")

	clientSession.Start()
	<-clientSession.CloseChan

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	s.sessionManager.RemoveSession(ctx, clientSession.ID)
}

// rejectConnection sends one error event and closes an accepted connection
func rejectConnection(conn *websocket.Conn, code, message string) {
	defer conn.Close()

	ev, err := messages.New(messages.NewErrorEvent(code, message))
	if err != nil {
		return
	}
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.TextMessage, ev.Raw)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, code), deadline)
}
