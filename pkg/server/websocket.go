package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/memkeep/memkeep/pkg/agent"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type commandFrame struct {
	Command string `json:"command"`
}

// handleInteract opens an interactive session over WebSocket. Worker events
// stream out as JSON frames; inbound frames carry control commands.
func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	session, err := s.service.OpenSession(r.Context(), agentID)
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "agent", agentID, "error", err)
		drainAndClose(session)
		return
	}
	defer conn.Close()

	// Inbound commands until the peer disconnects.
	go func() {
		for {
			var frame commandFrame
			if err := conn.ReadJSON(&frame); err != nil {
				drainAndClose(session)
				return
			}
			if frame.Command != "" {
				session.Send(agent.Command(frame.Command))
			}
		}
	}()

	for event := range session.Events() {
		frame, err := event.MarshalFrame()
		if err != nil {
			slog.Error("failed to marshal event frame", "agent", agentID, "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			slog.Debug("websocket write failed, closing session", "agent", agentID, "error", err)
			drainAndClose(session)
			return
		}
	}

	<-session.Done()
}

// drainAndClose keeps the worker from blocking on its event channel while
// the session winds down.
func drainAndClose(session *agent.Session) {
	go func() {
		for range session.Events() {
		}
	}()
	session.Close()
}
