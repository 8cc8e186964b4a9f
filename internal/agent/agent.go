package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nidhogg/nuka-arena/internal/memory"
	"github.com/nidhogg/nuka-arena/internal/world"
	"go.uber.org/zap"
)

// FallbackMessage is what an agent says when no valid action could be
// obtained from its model.
const FallbackMessage = "I don't know what to do, so I stay here and wait."

// Options tunes an agent's decision loop.
type Options struct {
	// ReflectionInterval triggers a reflection every n steps; 0 disables it.
	ReflectionInterval int
	MaxRetry           int
	// ContextSize is how many memories are retrieved into the prompt.
	ContextSize  int
	NMSThreshold float64
	// ChatHistory is how many recent memories are shown verbatim.
	ChatHistory    int
	EnvDescription string
	NewBackOff     func() backoff.BackOff
}

func (o Options) withDefaults() Options {
	if o.ReflectionInterval < 0 {
		o.ReflectionInterval = 0
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = 3
	}
	if o.ContextSize <= 0 {
		o.ContextSize = 5
	}
	if o.NMSThreshold <= 0 {
		o.NMSThreshold = memory.DefaultNMSThreshold
	}
	if o.ChatHistory <= 0 {
		o.ChatHistory = 10
	}
	if o.NewBackOff == nil {
		o.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	return o
}

// Agent is a model-driven participant of a simulation, backed by its own
// reflective memory.
type Agent struct {
	persona    Persona
	providerID string
	model      string
	mem        *memory.Store
	llm        memory.Completer
	opts       Options
	logger     *zap.Logger

	// memMu serialises access to mem, which is single-threaded.
	memMu sync.Mutex

	mu        sync.Mutex
	status    Status
	steps     int
	updatedAt time.Time
}

// New creates an agent. llm answers the decision prompts; mem must already
// be bound to the agent's name.
func New(p Persona, mem *memory.Store, llm memory.Completer, opts Options, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		persona:   p,
		mem:       mem,
		llm:       llm,
		opts:      opts.withDefaults(),
		logger:    logger.With(zap.String("agent", p.Name)),
		status:    StatusIdle,
		updatedAt: time.Now(),
	}
}

// Bind records which provider and model serve this agent.
func (a *Agent) Bind(providerID, model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providerID, a.model = providerID, model
}

func (a *Agent) Name() string     { return a.persona.Name }
func (a *Agent) Persona() Persona { return a.persona }

// Memory exposes the underlying store for wiring hooks. It must not be used
// while the agent is stepping.
func (a *Agent) Memory() *memory.Store { return a.mem }

// Init seeds the agent's memory with its day plan, if it has one.
func (a *Agent) Init(ctx context.Context, now time.Time) error {
	if a.persona.DayPlan == "" {
		return nil
	}
	a.memMu.Lock()
	defer a.memMu.Unlock()
	if err := a.mem.AddPlan(ctx, a.persona.DayPlan, now); err != nil {
		return fmt.Errorf("seed day plan for %s: %w", a.persona.Name, err)
	}
	return nil
}

// Observe records a message the agent perceived.
func (a *Agent) Observe(ctx context.Context, msg memory.Message, now time.Time) error {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	return a.mem.AddMessage(ctx, msg, now)
}

// Query retrieves the k memories most relevant to texts.
func (a *Agent) Query(ctx context.Context, texts []string, k int, now time.Time, nms float64) ([]string, error) {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	return a.mem.Query(ctx, texts, k, now, nms)
}

// Explain scores every memory against text without touching them.
func (a *Agent) Explain(ctx context.Context, text string, now time.Time) ([]memory.Breakdown, error) {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	return a.mem.Explain(ctx, text, now)
}

// Memories returns a copy of every stored element.
func (a *Agent) Memories() []memory.Element {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	return a.mem.Elements()
}

// Restore replaces the agent's memory with a saved snapshot.
func (a *Agent) Restore(els []memory.Element) {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	a.mem.Restore(els)
}

// Reset forgets everything the agent remembers, revives it and seeds the
// day plan again at now.
func (a *Agent) Reset(ctx context.Context, now time.Time) error {
	a.memMu.Lock()
	a.mem.Reset()
	a.memMu.Unlock()

	a.mu.Lock()
	a.steps = 0
	a.status = StatusIdle
	a.updatedAt = time.Now()
	a.mu.Unlock()

	return a.Init(ctx, now)
}

// Step decides the agent's next action. Model failures never fail the
// step: after MaxRetry attempts the agent stays in place. Only context
// cancellation is returned as an error.
func (a *Agent) Step(ctx context.Context, now time.Time, obs world.Observation) (*Decision, error) {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	a.setStatus(StatusThinking)
	defer a.setStatus(StatusIdle)

	chain := &ThinkingChain{
		ID:        uuid.New().String(),
		AgentID:   a.persona.Name,
		Turn:      obs.Turn,
		StartedAt: time.Now(),
	}

	memories, err := a.mem.Query(ctx, a.queryTexts(obs), a.opts.ContextSize, now, a.opts.NMSThreshold)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("memory recall failed", zap.Error(err))
	}
	chain.add(StepMemoryRecall, fmt.Sprintf("Recalled %d memories", len(memories)), memories)

	var history string
	for _, el := range a.mem.Recent(a.opts.ChatHistory) {
		history += el.Content + "\n"
	}
	prompt := promptVars{
		persona:     a.persona,
		envDesc:     a.opts.EnvDescription,
		obs:         obs,
		memories:    memories,
		chatHistory: history,
		now:         now,
	}.fill(a.persona.PromptTemplate)
	chain.add(StepPrompt, prompt, nil)

	dec := &Decision{Agent: a.persona.Name, Chain: chain}
	reply, attempts, err := a.decide(ctx, prompt, chain)
	dec.Attempts = attempts
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Error("failed to generate valid response",
			zap.Int("attempts", attempts), zap.Error(err))
		dec.Action = world.Stay
		dec.Message = FallbackMessage
		dec.Fallback = true
		chain.add(StepFallback, FallbackMessage, err.Error())
	} else {
		dec.Action = reply.Action
		dec.Thought = reply.Thought
		dec.Message = reply.Action.String()
	}

	a.mu.Lock()
	a.steps++
	steps := a.steps
	a.mu.Unlock()

	if a.opts.ReflectionInterval > 0 && steps%a.opts.ReflectionInterval == 0 {
		res, err := a.reflect(ctx, now)
		if err != nil {
			a.logger.Warn("reflection failed", zap.Error(err))
		} else {
			dec.Reflection = res
			chain.add(StepReflection, fmt.Sprintf("Reflected into %d insights", len(res.Insights)), res.InsightTexts())
		}
	}

	chain.Duration = time.Since(chain.StartedAt)
	return dec, nil
}

// Reflect asks the agent's memory to synthesise insights now.
func (a *Agent) Reflect(ctx context.Context, now time.Time) (*memory.ReflectResult, error) {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	defer a.setStatus(StatusIdle)
	return a.reflect(ctx, now)
}

func (a *Agent) reflect(ctx context.Context, now time.Time) (*memory.ReflectResult, error) {
	a.setStatus(StatusReflecting)
	defer a.setStatus(StatusThinking)

	res, err := a.mem.Reflect(ctx, now)
	if err != nil {
		return nil, err
	}
	if res.Rejected {
		a.logger.Debug("reflection rejected", zap.String("reason", res.Reason))
	} else {
		a.logger.Info("reflected",
			zap.Int("questions", len(res.Questions)),
			zap.Int("insights", len(res.Insights)))
	}
	return res, nil
}

// MarkDead retires the agent; it keeps its memory for inspection.
func (a *Agent) MarkDead() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusDead
	a.updatedAt = time.Now()
}

// Info returns a snapshot of the agent's state.
func (a *Agent) Info() Info {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	return Info{
		Persona:     a.persona,
		Status:      a.status,
		ProviderID:  a.providerID,
		Model:       a.model,
		Steps:       a.steps,
		Memories:    a.mem.Len(),
		Accumulated: a.mem.AccumulatedImportance(),
		UpdatedAt:   a.updatedAt,
	}
}

// decide queries the model until it returns a parsable reply, backing off
// between attempts.
func (a *Agent) decide(ctx context.Context, prompt string, chain *ThinkingChain) (world.Reply, int, error) {
	var (
		reply    world.Reply
		attempts int
	)
	op := func() error {
		attempts++
		text, err := a.llm.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		chain.add(StepResponse, text, nil)
		r, err := world.ParseReply(text)
		if err != nil {
			return err
		}
		reply = r
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(a.opts.NewBackOff(), uint64(a.opts.MaxRetry-1)), ctx)
	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		a.logger.Warn("retrying", zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))
		chain.add(StepRetry, err.Error(), wait.String())
	})
	return reply, attempts, err
}

func (a *Agent) queryTexts(obs world.Observation) []string {
	if obs.Description != "" {
		return []string{obs.Description}
	}
	return []string{a.persona.Name}
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == StatusDead {
		return
	}
	a.status = s
	a.updatedAt = time.Now()
}
