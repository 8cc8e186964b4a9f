package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-arena/internal/agent"
	"github.com/nidhogg/nuka-arena/internal/events"
	"github.com/nidhogg/nuka-arena/internal/memory"
	"github.com/nidhogg/nuka-arena/internal/world"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorldSender is the sender of non-player events written into memories.
const WorldSender = "world"

var (
	// ErrDone is returned when stepping a finished run.
	ErrDone = errors.New("simulation finished")
	// ErrRunning is returned while the run is already stepping on its own.
	ErrRunning = errors.New("simulation already running")
)

// TurnLog persists completed turns.
type TurnLog interface {
	AppendTurn(ctx context.Context, ev *events.TurnEvent) error
}

// Snapshotter persists agent state and memories.
type Snapshotter interface {
	SaveAgent(ctx context.Context, runID string, info agent.Info) error
	SaveMemories(ctx context.Context, runID, agentName string, els []memory.Element) error
}

// InteractionRecorder tracks who acted on whom.
type InteractionRecorder interface {
	RecordInteraction(ctx context.Context, runID, from, to, kind, summary string, at time.Time) error
}

// Config tunes a Runner.
type Config struct {
	RunID string
	// MaxParallel bounds concurrent agent decisions; 0 means unbounded.
	MaxParallel int
	// TurnTimeout bounds the agent phase of one turn; 0 disables it.
	TurnTimeout time.Duration
	// History is how many turn events are kept in memory.
	History int
}

// Status is the externally visible state of a run.
type Status struct {
	RunID     string         `json:"run_id"`
	Turn      int            `json:"turn"`
	MaxTurns  int            `json:"max_turns"`
	WorldTime time.Time      `json:"world_time"`
	Running   bool           `json:"running"`
	Done      bool           `json:"done"`
	World     world.Snapshot `json:"world"`
}

// Runner drives an environment and its agents turn by turn.
type Runner struct {
	cfg    Config
	env    world.Environment
	engine *agent.Engine
	clock  *world.Clock

	publishers   []events.Publisher
	turnLog      TurnLog
	snapshots    Snapshotter
	interactions InteractionRecorder

	// mu serialises turns; env is not safe for concurrent use.
	mu      sync.Mutex
	history []*events.TurnEvent

	runMu   sync.Mutex
	running bool

	logger *zap.Logger
}

// NewRunner creates a runner over env. Every agent the environment
// controls must be registered in engine.
func NewRunner(env world.Environment, engine *agent.Engine, clock *world.Clock, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	if cfg.History <= 0 {
		cfg.History = 200
	}
	return &Runner{
		cfg:    cfg,
		env:    env,
		engine: engine,
		clock:  clock,
		logger: logger.With(zap.String("run", cfg.RunID)),
	}
}

// AddPublisher registers a sink for completed turns.
func (r *Runner) AddPublisher(p events.Publisher) { r.publishers = append(r.publishers, p) }

// SetTurnLog sets where completed turns are persisted.
func (r *Runner) SetTurnLog(l TurnLog) { r.turnLog = l }

// SetSnapshotter sets where agent memories are checkpointed.
func (r *Runner) SetSnapshotter(s Snapshotter) { r.snapshots = s }

// SetInteractions sets where successful attacks and hunts are recorded.
func (r *Runner) SetInteractions(ir InteractionRecorder) { r.interactions = ir }

func (r *Runner) RunID() string          { return r.cfg.RunID }
func (r *Runner) Engine() *agent.Engine  { return r.engine }
func (r *Runner) Clock() *world.Clock    { return r.clock }
func (r *Runner) Env() world.Environment { return r.env }

// Init seeds every agent with its day plan. Agents missing from the engine
// are an error.
func (r *Runner) Init(ctx context.Context) error {
	now := r.clock.WorldTime()
	for _, name := range r.env.Agents() {
		a, ok := r.engine.Get(name)
		if !ok {
			return fmt.Errorf("init %s: %w", name, agent.ErrAgentNotFound)
		}
		if err := a.Init(ctx, now); err != nil {
			return fmt.Errorf("init %s: %w", name, err)
		}
	}
	return nil
}

// Reset puts the environment back to its opening position, rewinds the
// clock and resets every agent. Whether the agents' importance
// accumulators survive depends on how their memories were configured.
func (r *Runner) Reset(ctx context.Context) error {
	r.runMu.Lock()
	running := r.running
	r.runMu.Unlock()
	if running {
		return ErrRunning
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.env.Reset()
	r.clock.Reset()
	r.history = nil

	now := r.clock.WorldTime()
	for _, name := range r.env.Agents() {
		a, ok := r.engine.Get(name)
		if !ok {
			return fmt.Errorf("reset %s: %w", name, agent.ErrAgentNotFound)
		}
		if err := a.Reset(ctx, now); err != nil {
			return fmt.Errorf("reset %s: %w", name, err)
		}
	}
	r.logger.Info("simulation reset", zap.String("env", r.env.Name()))
	return nil
}

// Run steps until the environment is done or ctx is cancelled, then
// checkpoints every agent.
func (r *Runner) Run(ctx context.Context) error {
	if !r.setRunning(true) {
		return ErrRunning
	}
	defer r.setRunning(false)

	r.logger.Info("simulation started", zap.String("env", r.env.Name()), zap.Int("max_turns", r.env.MaxTurns()))
	for {
		_, err := r.StepOnce(ctx)
		if errors.Is(err, ErrDone) {
			break
		}
		if err != nil {
			return err
		}
	}
	r.logger.Info("simulation finished", zap.Int("turns", r.env.Turn()))
	return r.SaveSnapshots(ctx)
}

// Start runs the simulation in the background, one turn per interval of
// wall time. It returns immediately.
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		go func() {
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("simulation stopped", zap.Error(err))
			}
		}()
		return
	}
	if !r.setRunning(true) {
		return
	}
	go func() {
		defer r.setRunning(false)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, err := r.StepOnce(ctx)
				if errors.Is(err, ErrDone) {
					if err := r.SaveSnapshots(ctx); err != nil {
						r.logger.Warn("final checkpoint failed", zap.Error(err))
					}
					return
				}
				if err != nil {
					r.logger.Error("turn failed", zap.Error(err))
					return
				}
			}
		}
	}()
}

func (r *Runner) setRunning(v bool) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if v && r.running {
		return false
	}
	r.running = v
	return true
}

// StepOnce plays a single turn.
func (r *Runner) StepOnce(ctx context.Context) (*events.TurnEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.env.Done() {
		return nil, ErrDone
	}
	turn := r.env.Turn()
	now := r.clock.WorldTime()
	log := r.logger.With(zap.Int("turn", turn))

	var (
		names []string
		obs   []world.Observation
	)
	for _, name := range r.env.Agents() {
		if !r.env.Alive(name) {
			continue
		}
		o, err := r.env.Observe(name)
		if err != nil {
			return nil, fmt.Errorf("observe %s: %w", name, err)
		}
		names = append(names, name)
		obs = append(obs, o)
	}

	decisions, err := r.decide(ctx, names, obs, now)
	if err != nil {
		return nil, err
	}

	ev := &events.TurnEvent{
		ID:        uuid.New().String(),
		RunID:     r.cfg.RunID,
		Turn:      turn,
		WorldTime: now,
	}

	// Actions resolve in roster order regardless of which decision
	// finished first.
	var msgs []memory.Message
	for i, name := range names {
		dec := decisions[i]
		out, err := r.env.Apply(name, dec.Action)
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", name, err)
		}
		ev.Actions = append(ev.Actions, events.ActionLog{
			Agent:    name,
			Action:   dec.Action.String(),
			Thought:  dec.Thought,
			Outcome:  out.Text,
			Valid:    out.Valid,
			Fallback: dec.Fallback,
		})
		content := out.Text
		if dec.Fallback {
			content = agent.FallbackMessage + " " + out.Text
		}
		msgs = append(msgs, memory.Message{Sender: name, Content: content})
		r.recordInteraction(ctx, name, out, now)

		if dec.Reflection != nil {
			for _, in := range dec.Reflection.Insights {
				ev.Insights = append(ev.Insights, events.InsightLog{
					Agent:    name,
					Text:     in.Content,
					Evidence: in.Evidence,
				})
			}
		}
	}

	for _, e := range r.env.Advance(ctx) {
		ev.Events = append(ev.Events, e.Text)
		msgs = append(msgs, memory.Message{Sender: WorldSender, Content: e.Text})
	}

	for _, name := range r.env.Agents() {
		if r.env.Alive(name) {
			continue
		}
		if a, ok := r.engine.Get(name); ok {
			a.MarkDead()
		}
	}

	r.broadcast(ctx, msgs, now)
	r.clock.Advance()
	ev.Done = r.env.Done()
	ev.Timestamp = time.Now()

	r.history = append(r.history, ev)
	if len(r.history) > r.cfg.History {
		r.history = r.history[len(r.history)-r.cfg.History:]
	}
	r.publish(ctx, ev)

	log.Info("turn complete",
		zap.Int("actions", len(ev.Actions)),
		zap.Int("events", len(ev.Events)),
		zap.Int("insights", len(ev.Insights)),
		zap.Bool("done", ev.Done))
	return ev, nil
}

// decide runs the agent phase concurrently. An agent that times out stays
// in place; cancellation of ctx aborts the turn.
func (r *Runner) decide(ctx context.Context, names []string, obs []world.Observation, now time.Time) ([]*agent.Decision, error) {
	phaseCtx := ctx
	if r.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, r.cfg.TurnTimeout)
		defer cancel()
	}

	decisions := make([]*agent.Decision, len(names))
	g, gctx := errgroup.WithContext(phaseCtx)
	if r.cfg.MaxParallel > 0 {
		g.SetLimit(r.cfg.MaxParallel)
	}
	for i, name := range names {
		g.Go(func() error {
			dec, err := r.engine.Step(gctx, name, now, obs[i])
			if errors.Is(err, agent.ErrAgentNotFound) {
				return fmt.Errorf("step %s: %w", name, err)
			}
			if err != nil {
				r.logger.Warn("agent step aborted", zap.String("agent", name), zap.Error(err))
				return nil
			}
			decisions[i] = dec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, name := range names {
		if decisions[i] == nil {
			decisions[i] = &agent.Decision{
				Agent:    name,
				Action:   world.Stay,
				Message:  agent.FallbackMessage,
				Fallback: true,
			}
		}
	}
	return decisions, nil
}

// broadcast writes every message of the turn into each living agent's
// memory. Agents are updated in parallel, messages in order.
func (r *Runner) broadcast(ctx context.Context, msgs []memory.Message, now time.Time) {
	if len(msgs) == 0 {
		return
	}
	var g errgroup.Group
	if r.cfg.MaxParallel > 0 {
		g.SetLimit(r.cfg.MaxParallel)
	}
	for _, name := range r.env.Agents() {
		if !r.env.Alive(name) {
			continue
		}
		a, ok := r.engine.Get(name)
		if !ok {
			continue
		}
		g.Go(func() error {
			for _, m := range msgs {
				if err := a.Observe(ctx, m, now); err != nil {
					r.logger.Warn("failed to record message",
						zap.String("agent", name), zap.Error(err))
				}
			}
			return nil
		})
	}
	g.Wait()
}

func (r *Runner) recordInteraction(ctx context.Context, from string, out world.Outcome, now time.Time) {
	if r.interactions == nil || !out.Valid {
		return
	}
	if out.Action.Kind != world.ActAttack && out.Action.Kind != world.ActHunt {
		return
	}
	err := r.interactions.RecordInteraction(ctx, r.cfg.RunID, from, out.Action.Arg,
		string(out.Action.Kind), out.Text, now)
	if err != nil {
		r.logger.Warn("failed to record interaction", zap.String("agent", from), zap.Error(err))
	}
}

func (r *Runner) publish(ctx context.Context, ev *events.TurnEvent) {
	if r.turnLog != nil {
		if err := r.turnLog.AppendTurn(ctx, ev); err != nil {
			r.logger.Warn("failed to persist turn", zap.Int("turn", ev.Turn), zap.Error(err))
		}
	}
	for _, p := range r.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			r.logger.Warn("failed to publish turn", zap.Int("turn", ev.Turn), zap.Error(err))
		}
	}
}

// SaveSnapshot checkpoints one agent.
func (r *Runner) SaveSnapshot(ctx context.Context, name string) error {
	if r.snapshots == nil {
		return nil
	}
	a, ok := r.engine.Get(name)
	if !ok {
		return agent.ErrAgentNotFound
	}
	if err := r.snapshots.SaveAgent(ctx, r.cfg.RunID, a.Info()); err != nil {
		return fmt.Errorf("save agent %s: %w", name, err)
	}
	if err := r.snapshots.SaveMemories(ctx, r.cfg.RunID, name, a.Memories()); err != nil {
		return fmt.Errorf("save memories %s: %w", name, err)
	}
	return nil
}

// SaveSnapshots checkpoints every agent.
func (r *Runner) SaveSnapshots(ctx context.Context) error {
	var errs []error
	for _, a := range r.engine.List() {
		if err := r.SaveSnapshot(ctx, a.Name()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status reports where the run is.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runMu.Lock()
	running := r.running
	r.runMu.Unlock()

	snap := r.env.Snapshot()
	snap.Done = r.env.Done()
	return Status{
		RunID:     r.cfg.RunID,
		Turn:      r.env.Turn(),
		MaxTurns:  r.env.MaxTurns(),
		WorldTime: r.clock.WorldTime(),
		Running:   running,
		Done:      snap.Done,
		World:     snap,
	}
}

// History returns up to limit of the most recent turns, oldest first.
func (r *Runner) History(limit int) []*events.TurnEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := 0
	if limit > 0 && len(r.history) > limit {
		start = len(r.history) - limit
	}
	out := make([]*events.TurnEvent, len(r.history)-start)
	copy(out, r.history[start:])
	return out
}
