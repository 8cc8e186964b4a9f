package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nidhogg/nuka-arena/internal/world"
	"go.uber.org/zap"
)

// ErrAgentNotFound is returned when an agent name doesn't exist.
var ErrAgentNotFound = errors.New("agent not found")

// Engine is the registry of agents taking part in a run.
type Engine struct {
	agents map[string]*Agent
	order  []string
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewEngine creates an empty engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		agents: make(map[string]*Agent),
		logger: logger,
	}
}

// Register adds an agent. A later agent with the same name replaces the
// earlier one but keeps its position.
func (e *Engine) Register(a *Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.agents[a.Name()]; !ok {
		e.order = append(e.order, a.Name())
	}
	e.agents[a.Name()] = a
	e.logger.Info("registered agent", zap.String("name", a.Name()))
}

// Get returns an agent by name.
func (e *Engine) Get(name string) (*Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[name]
	return a, ok
}

// List returns all agents in registration order.
func (e *Engine) List() []*Agent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	result := make([]*Agent, 0, len(e.order))
	for _, n := range e.order {
		result = append(result, e.agents[n])
	}
	return result
}

// Step runs one decision for the named agent.
func (e *Engine) Step(ctx context.Context, name string, now time.Time, obs world.Observation) (*Decision, error) {
	a, ok := e.Get(name)
	if !ok {
		return nil, ErrAgentNotFound
	}
	return a.Step(ctx, now, obs)
}
