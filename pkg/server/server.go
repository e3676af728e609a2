// Package server exposes the agent lifecycle over a JSON HTTP API and live
// agent sessions over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/memkeep/memkeep/pkg/agent"
	"github.com/memkeep/memkeep/pkg/config"
	"github.com/memkeep/memkeep/pkg/llms"
	"github.com/memkeep/memkeep/pkg/memory"
	"github.com/memkeep/memkeep/pkg/protocol"
	"github.com/memkeep/memkeep/pkg/store"
	"github.com/memkeep/memkeep/pkg/tool"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP facade over the agent service.
type Server struct {
	service  *agent.Service
	provider llms.Provider
	cfg      *config.Config

	httpSrv *http.Server
}

// New wires the HTTP facade.
func New(service *agent.Service, provider llms.Provider, cfg *config.Config) *Server {
	return &Server{
		service:  service,
		provider: provider,
		cfg:      cfg,
	}
}

// Router builds the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/optional-tool-sets", s.handleOptionalToolSets)
		r.Post("/persona-generator", s.handleGeneratePersona)

		r.Route("/agents", func(r chi.Router) {
			r.Post("/", s.handleCreateAgent)
			r.Get("/", s.handleListAgents)

			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/", s.handleGetAgent)
				r.Delete("/", s.handleDeleteAgent)
				r.Post("/send-message", s.handleSendMessage)
				r.Post("/query", s.handleQuery)
				r.Get("/interact", s.handleInteract)
			})
		})
	})

	return r
}

// Start serves the API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.cfg.Server.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("http server shutting down")
	return s.httpSrv.Shutdown(shutCtx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

type createAgentRequest struct {
	AgentPersona     string   `json:"agent_persona"`
	UserPersona      string   `json:"user_persona"`
	OptionalToolSets []string `json:"optional_tool_sets"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	id, err := s.service.Create(r.Context(), req.AgentPersona, req.UserPersona, req.OptionalToolSets)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	infos, err := s.service.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.GetInfo(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), chi.URLParam(r, "agentID")); err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	MessageType string `json:"message_type"`
	Message     string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	kind, err := protocol.ParseKind(req.MessageType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.service.SendInput(r.Context(), chi.URLParam(r, "agentID"), kind, req.Message); err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQuery runs one offline agent turn to completion without streaming,
// for callers that only want the side effects.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RunHeartbeat(r.Context(), chi.URLParam(r, "agentID")); err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOptionalToolSets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tool.OptionalSetNames())
}

type personaGeneratorRequest struct {
	Goals string `json:"goals"`
}

func (s *Server) handleGeneratePersona(w http.ResponseWriter, r *http.Request) {
	var req personaGeneratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	persona, err := agent.GeneratePersona(r.Context(), s.provider, req.Goals,
		s.cfg.Memory.PersonaMaxWords, s.cfg.LLM.MaxRetries)
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"persona": persona})
}

// statusFor maps service errors to HTTP statuses, using fallback for
// anything unrecognized.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, store.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrAgentBusy):
		return http.StatusConflict
	case errors.Is(err, memory.ErrPersonaTooLong):
		return http.StatusBadRequest
	default:
		return fallback
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
