// Package agent implements the agent runtime: the lifecycle service, the
// heartbeat worker and the session supervisor that connects a live user to
// a run.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memkeep/memkeep/pkg/config"
	"github.com/memkeep/memkeep/pkg/llms"
	"github.com/memkeep/memkeep/pkg/memory"
	"github.com/memkeep/memkeep/pkg/protocol"
	"github.com/memkeep/memkeep/pkg/store"
	"github.com/memkeep/memkeep/pkg/tokenizer"
	"github.com/memkeep/memkeep/pkg/tool"
	"github.com/memkeep/memkeep/pkg/vector"
)

// ErrAgentBusy reports that a worker already holds the agent's lock.
var ErrAgentBusy = errors.New("agent already has an active worker")

// Info is the lifecycle view of one agent.
type Info struct {
	ID                        string    `json:"id"`
	CreatedAt                 time.Time `json:"created_at"`
	OptionalToolSets          []string  `json:"optional_tool_sets"`
	RecursiveSummary          string    `json:"recursive_summary"`
	RecursiveSummaryUpdatedAt time.Time `json:"recursive_summary_updated_at"`
	LastUserExitAt            time.Time `json:"last_user_exit_at,omitempty"`
	AgentPersona              string    `json:"agent_persona"`
	UserPersona               string    `json:"user_persona"`
	Tasks                     []string  `json:"tasks"`
}

// Service exposes the agent lifecycle operations and serializes access so
// that at most one worker runs per agent.
type Service struct {
	store    store.Store
	vectors  vector.Provider
	counter  tokenizer.Counter
	provider llms.Provider
	cfg      *config.Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires the lifecycle service.
func NewService(s store.Store, vp vector.Provider, counter tokenizer.Counter, provider llms.Provider, cfg *config.Config) *Service {
	return &Service{
		store:    s,
		vectors:  vp,
		counter:  counter,
		provider: provider,
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-agent mutex, creating it on first use.
func (s *Service) lockFor(agentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agentID] = l
	}
	return l
}

func (s *Service) newMemory(agentID string) *memory.Memory {
	return memory.New(s.store, s.vectors, s.counter, &s.cfg.Memory, agentID)
}

// Create provisions a new agent: the database rows and the vector
// collection are created together.
func (s *Service) Create(ctx context.Context, personaAgent, personaUser string, optionalToolSets []string) (string, error) {
	if strings.TrimSpace(personaAgent) == "" {
		return "", fmt.Errorf("agent persona is required")
	}
	if n := len(strings.Fields(personaAgent)); n > s.cfg.Memory.PersonaMaxWords {
		return "", fmt.Errorf("%w: %d words, limit %d", memory.ErrPersonaTooLong, n, s.cfg.Memory.PersonaMaxWords)
	}
	if n := len(strings.Fields(personaUser)); n > s.cfg.Memory.PersonaMaxWords {
		return "", fmt.Errorf("%w: %d words, limit %d", memory.ErrPersonaTooLong, n, s.cfg.Memory.PersonaMaxWords)
	}
	for _, set := range optionalToolSets {
		if _, err := tool.OptionalSet(set, tool.Deps{Provider: s.provider}); err != nil {
			return "", err
		}
	}

	id := uuid.NewString()
	now := time.Now()

	err := s.store.CreateAgent(ctx,
		store.AgentRecord{
			ID:                        id,
			OptionalToolSets:          optionalToolSets,
			CreatedAt:                 now,
			RecursiveSummary:          "The conversation has just begun.",
			RecursiveSummaryUpdatedAt: now,
		},
		store.WorkingContextRecord{
			AgentPersona: personaAgent,
			UserPersona:  personaUser,
			Tasks:        []string{},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to create agent: %w", err)
	}

	if err := s.vectors.CreateCollection(ctx, memory.CollectionName(id)); err != nil {
		if delErr := s.store.DeleteAgent(ctx, id); delErr != nil {
			slog.Error("failed to roll back agent row", "agent", id, "error", delErr)
		}
		return "", fmt.Errorf("failed to create vector collection: %w", err)
	}

	slog.Info("created agent", "agent", id, "optional_tool_sets", optionalToolSets)
	return id, nil
}

// Delete removes an agent's rows and vector collection.
func (s *Service) Delete(ctx context.Context, agentID string) error {
	lock := s.lockFor(agentID)
	if !lock.TryLock() {
		return ErrAgentBusy
	}
	defer lock.Unlock()

	if err := s.store.DeleteAgent(ctx, agentID); err != nil {
		return err
	}
	if err := s.vectors.DeleteCollection(ctx, memory.CollectionName(agentID)); err != nil {
		slog.Warn("failed to delete vector collection", "agent", agentID, "error", err)
	}

	slog.Info("deleted agent", "agent", agentID)
	return nil
}

// List returns the lifecycle view of every agent.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(agents))
	for _, a := range agents {
		info, err := s.info(ctx, a)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// GetInfo returns the lifecycle view of one agent.
func (s *Service) GetInfo(ctx context.Context, agentID string) (*Info, error) {
	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return s.info(ctx, *a)
}

func (s *Service) info(ctx context.Context, a store.AgentRecord) (*Info, error) {
	wc, err := s.store.GetWorkingContext(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return &Info{
		ID:                        a.ID,
		CreatedAt:                 a.CreatedAt,
		OptionalToolSets:          a.OptionalToolSets,
		RecursiveSummary:          a.RecursiveSummary,
		RecursiveSummaryUpdatedAt: a.RecursiveSummaryUpdatedAt,
		LastUserExitAt:            a.LastUserExitAt,
		AgentPersona:              wc.AgentPersona,
		UserPersona:               wc.UserPersona,
		Tasks:                     wc.Tasks,
	}, nil
}

// SendInput pushes a user or system message into an agent's memory through
// the facade, under the agent lock.
func (s *Service) SendInput(ctx context.Context, agentID string, kind protocol.Kind, text string) error {
	if kind != protocol.KindUser && kind != protocol.KindSystem {
		return fmt.Errorf("input kind must be user or system, got %q", kind)
	}
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return err
	}

	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	return s.newMemory(agentID).PushMessage(ctx, protocol.NewText(kind, text))
}

// OpenSession starts a worker for the agent and returns the live session.
// Fails with ErrAgentBusy if a worker already runs for this agent.
func (s *Service) OpenSession(ctx context.Context, agentID string) (*Session, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	lock := s.lockFor(agentID)
	if !lock.TryLock() {
		return nil, ErrAgentBusy
	}

	worker, err := s.buildWorker(agentID, agent.OptionalToolSets, true)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	session := &Session{
		worker: worker,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go session.run(runCtx, func() {
		if err := s.store.UpdateLastUserExit(context.Background(), agentID, time.Now()); err != nil {
			slog.Warn("failed to record user exit", "agent", agentID, "error", err)
		}
		cancel()
		lock.Unlock()
	})

	return session, nil
}

// RunHeartbeat executes one offline run for the agent, draining events
// internally. Used by the timed heartbeat scheduler.
func (s *Service) RunHeartbeat(ctx context.Context, agentID string) error {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}

	lock := s.lockFor(agentID)
	if !lock.TryLock() {
		return ErrAgentBusy
	}
	defer lock.Unlock()

	worker, err := s.buildWorker(agentID, agent.OptionalToolSets, false)
	if err != nil {
		return err
	}

	go worker.Run(ctx)

	for event := range worker.Events() {
		if event.Type == EventError {
			return fmt.Errorf("heartbeat run failed: %v", event.Payload)
		}
	}
	return nil
}

func (s *Service) buildWorker(agentID string, optionalToolSets []string, inConvo bool) (*Worker, error) {
	registry, err := tool.ForAgent(optionalToolSets, tool.Deps{Provider: s.provider})
	if err != nil {
		return nil, err
	}

	mem := s.newMemory(agentID)
	mem.SetInConvo(inConvo)

	return NewWorker(mem, registry, s.provider, s.cfg.LLM.MaxRetries)
}
