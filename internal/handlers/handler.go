package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

// Handler executes one job type for one agent. From the engine's point of
// view a handler is opaque: it receives the payload and reports back token
// and cost usage, or an error.
type Handler interface {
	AgentName() string
	JobType() string
	Execute(ctx context.Context, payload json.RawMessage) (domain.Outcome, error)
}

func key(agent, jobType string) string { return agent + "/" + jobType }

// Registry maps (agent, job type) pairs to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	agents   map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		agents:   make(map[string]struct{}),
	}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key(h.AgentName(), h.JobType())] = h
	r.agents[h.AgentName()] = struct{}{}
}

// Get returns the handler for the given pair.
// Returns HandlerNotFoundError if not registered.
func (r *Registry) Get(agent, jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[key(agent, jobType)]
	if !ok {
		return nil, &domain.HandlerNotFoundError{AgentName: agent, JobType: jobType}
	}
	return h, nil
}

// Agents returns the distinct agent names with at least one handler.
func (r *Registry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for a := range r.agents {
		out = append(out, a)
	}
	return out
}
