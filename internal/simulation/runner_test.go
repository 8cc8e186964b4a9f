package simulation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nidhogg/nuka-arena/internal/agent"
	"github.com/nidhogg/nuka-arena/internal/embedding"
	"github.com/nidhogg/nuka-arena/internal/events"
	"github.com/nidhogg/nuka-arena/internal/memory"
	"github.com/nidhogg/nuka-arena/internal/world"
	"go.uber.org/zap"
)

var t0 = time.Date(2023, 4, 1, 7, 0, 0, 0, time.UTC)

// duel is a two-agent environment where an attack kills outright.
type duel struct {
	turn, max int
	alive     map[string]bool
	applied   []string
}

func newDuel(max int) *duel {
	d := &duel{max: max}
	d.Reset()
	return d
}

func (d *duel) Name() string     { return "duel" }
func (d *duel) Turn() int        { return d.turn }
func (d *duel) MaxTurns() int    { return d.max }
func (d *duel) Agents() []string { return []string{"a", "b"} }
func (d *duel) Alive(n string) bool {
	return d.alive[n]
}

func (d *duel) Observe(n string) (world.Observation, error) {
	if _, ok := d.alive[n]; !ok {
		return world.Observation{}, world.ErrUnknownAgent
	}
	return world.Observation{Agent: n, Turn: d.turn, Alive: d.alive[n], Description: "a duel"}, nil
}

func (d *duel) Apply(n string, act world.Action) (world.Outcome, error) {
	d.applied = append(d.applied, n)
	out := world.Outcome{Agent: n, Action: act, Valid: true, Text: n + " stays."}
	if !d.alive[n] {
		return world.Outcome{Agent: n, Action: act, Text: n + " is dead."}, nil
	}
	if act.Kind == world.ActAttack {
		d.alive[act.Arg] = false
		out.Text, out.Killed = n+" killed "+act.Arg+".", act.Arg
	}
	return out, nil
}

func (d *duel) Advance(context.Context) []world.Event {
	ev := world.Event{Turn: d.turn, Text: "the bell rings"}
	d.turn++
	return []world.Event{ev}
}

func (d *duel) Done() bool {
	return d.turn >= d.max || !d.alive["a"] || !d.alive["b"]
}

func (d *duel) Reset() {
	d.turn = 0
	d.alive = map[string]bool{"a": true, "b": true}
}

func (d *duel) Snapshot() world.Snapshot {
	return world.Snapshot{Name: "duel", Turn: d.turn, MaxTurns: d.max}
}

type recorder struct {
	mu           sync.Mutex
	turns        []*events.TurnEvent
	published    []*events.TurnEvent
	agents       map[string]agent.Info
	memories     map[string][]memory.Element
	interactions []string
}

func newRecorder() *recorder {
	return &recorder{agents: map[string]agent.Info{}, memories: map[string][]memory.Element{}}
}

func (r *recorder) AppendTurn(_ context.Context, ev *events.TurnEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, ev)
	return nil
}

func (r *recorder) Publish(_ context.Context, ev *events.TurnEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, ev)
	return errors.New("feed offline")
}

func (r *recorder) SaveAgent(_ context.Context, _ string, info agent.Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[info.Persona.Name] = info
	return nil
}

func (r *recorder) SaveMemories(_ context.Context, _ string, name string, els []memory.Element) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memories[name] = els
	return nil
}

func (r *recorder) RecordInteraction(_ context.Context, runID, from, to, kind, _ string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interactions = append(r.interactions, runID+":"+from+"-"+kind+"->"+to)
	return nil
}

// newAgent builds an agent whose model answers with reply.
func newAgent(name string, reply memory.CompleterFunc) *agent.Agent {
	mem := memory.NewStore(memory.Deps{
		Embedder:   embedding.NewStatic(32),
		Importance: memory.FixedJudge(3),
		Immediacy:  memory.FixedJudge(3),
		LLM:        reply,
	}, memory.Options{Subject: name}, zap.NewNop())
	return agent.New(agent.Persona{
		Name:           name,
		PromptTemplate: "You are ${agent_name}. ${env_description}",
		DayPlan:        "win the " + name + " match",
	}, mem, reply, agent.Options{
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}, zap.NewNop())
}

func answer(text string) memory.CompleterFunc {
	return func(context.Context, string) (string, error) { return text, nil }
}

func newRunner(t *testing.T, env world.Environment, cfg Config, agents ...*agent.Agent) *Runner {
	t.Helper()
	engine := agent.NewEngine(zap.NewNop())
	for _, a := range agents {
		engine.Register(a)
	}
	r := NewRunner(env, engine, world.NewClock(t0, time.Minute, zap.NewNop()), cfg, zap.NewNop())
	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return r
}

func TestStepOnce_ResolvesInRosterOrder(t *testing.T) {
	slow := func(ctx context.Context, _ string) (string, error) {
		time.Sleep(30 * time.Millisecond)
		return "Action: stay()", nil
	}
	env := newDuel(5)
	r := newRunner(t, env, Config{RunID: "run-1", MaxParallel: 2},
		newAgent("a", slow), newAgent("b", answer("Action: stay()")))

	ev, err := r.StepOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(env.applied, ",") != "a,b" {
		t.Errorf("applied %v, want roster order", env.applied)
	}
	if len(ev.Actions) != 2 || ev.Actions[0].Agent != "a" || ev.Actions[1].Agent != "b" {
		t.Errorf("actions = %+v", ev.Actions)
	}
	if ev.RunID != "run-1" || ev.Turn != 0 || !ev.WorldTime.Equal(t0) {
		t.Errorf("event header = %+v", ev)
	}
	if len(ev.Events) != 1 || ev.Events[0] != "the bell rings" {
		t.Errorf("events = %v", ev.Events)
	}
	if got := r.Clock().WorldTime(); !got.Equal(t0.Add(time.Minute)) {
		t.Errorf("world time = %v, want one step later", got)
	}
}

func TestStepOnce_BroadcastsOutcomesToLivingAgents(t *testing.T) {
	env := newDuel(5)
	a := newAgent("a", answer("Action: stay()"))
	b := newAgent("b", answer("Action: stay()"))
	r := newRunner(t, env, Config{}, a, b)

	if _, err := r.StepOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, ag := range []*agent.Agent{a, b} {
		var contents []string
		for _, el := range ag.Memories() {
			contents = append(contents, el.Content)
		}
		// day plan, two outcomes, one world event
		want := []string{"win the " + ag.Name() + " match", "a: a stays.", "b: b stays.", "world: the bell rings"}
		if strings.Join(contents, "|") != strings.Join(want, "|") {
			t.Errorf("%s memories = %q, want %q", ag.Name(), contents, want)
		}
	}
}

func TestStepOnce_KillRecordsInteractionAndMarksDead(t *testing.T) {
	env := newDuel(5)
	rec := newRecorder()
	a := newAgent("a", answer("Thought: strike first.\nAction: attack(b)"))
	b := newAgent("b", answer("Action: stay()"))
	r := newRunner(t, env, Config{RunID: "run-2"}, a, b)
	r.SetInteractions(rec)
	r.SetTurnLog(rec)
	r.AddPublisher(rec)

	ev, err := r.StepOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.Done {
		t.Error("duel should be over")
	}
	if ev.Actions[0].Thought != "strike first." || ev.Actions[0].Outcome != "a killed b." {
		t.Errorf("first action = %+v", ev.Actions[0])
	}
	if len(rec.interactions) != 1 || rec.interactions[0] != "run-2:a-attack->b" {
		t.Errorf("interactions = %v", rec.interactions)
	}
	if b.Info().Status != agent.StatusDead {
		t.Errorf("b status = %s, want dead", b.Info().Status)
	}
	// b died this turn, so it hears nothing more.
	if n := len(b.Memories()); n != 1 {
		t.Errorf("dead agent got %d memories, want only its plan", n)
	}
	// Publisher errors are logged, not returned.
	if len(rec.turns) != 1 || len(rec.published) != 1 {
		t.Errorf("turn log %d, published %d", len(rec.turns), len(rec.published))
	}

	if _, err := r.StepOnce(context.Background()); !errors.Is(err, ErrDone) {
		t.Errorf("got %v, want ErrDone", err)
	}
}

func TestStepOnce_ModelFailureFallsBackToStay(t *testing.T) {
	broken := func(context.Context, string) (string, error) { return "", errors.New("model unavailable") }
	env := newDuel(5)
	a := newAgent("a", broken)
	r := newRunner(t, env, Config{}, a, newAgent("b", answer("Action: stay()")))

	ev, err := r.StepOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.Actions[0].Fallback || ev.Actions[0].Action != world.Stay.String() {
		t.Errorf("action = %+v, want fallback stay", ev.Actions[0])
	}
	want := "a: " + agent.FallbackMessage + " a stays."
	found := false
	for _, el := range a.Memories() {
		if el.Content == want {
			found = true
		}
	}
	if !found {
		t.Errorf("fallback message %q not broadcast", want)
	}
}

func TestStepOnce_TurnTimeoutFallsBack(t *testing.T) {
	hang := func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	env := newDuel(5)
	r := newRunner(t, env, Config{TurnTimeout: 50 * time.Millisecond},
		newAgent("a", hang), newAgent("b", answer("Action: stay()")))

	ev, err := r.StepOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.Actions[0].Fallback || ev.Actions[1].Fallback {
		t.Errorf("actions = %+v", ev.Actions)
	}
}

func TestStepOnce_CancelledContextAbortsTurn(t *testing.T) {
	env := newDuel(5)
	r := newRunner(t, env, Config{}, newAgent("a", answer("Action: stay()")), newAgent("b", answer("Action: stay()")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.StepOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if env.Turn() != 0 || len(env.applied) != 0 {
		t.Errorf("cancelled turn mutated the world: turn %d, applied %v", env.Turn(), env.applied)
	}
}

func TestInit_MissingAgent(t *testing.T) {
	engine := agent.NewEngine(zap.NewNop())
	engine.Register(newAgent("a", answer("Action: stay()")))
	r := NewRunner(newDuel(1), engine, world.NewClock(t0, time.Minute, nil), Config{}, nil)
	if err := r.Init(context.Background()); !errors.Is(err, agent.ErrAgentNotFound) {
		t.Fatalf("got %v, want ErrAgentNotFound", err)
	}
}

func TestRun_CombatToCompletion(t *testing.T) {
	env := world.NewCombat(3)
	rec := newRecorder()
	var agents []*agent.Agent
	for _, name := range env.Agents() {
		agents = append(agents, newAgent(name, answer("Thought: wait.\nAction: stay()")))
	}
	r := newRunner(t, env, Config{RunID: "combat-1", MaxParallel: 2}, agents...)
	r.SetSnapshotter(rec)
	r.AddPublisher(rec)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.published) != 3 || !rec.published[2].Done {
		t.Fatalf("published %d turns", len(rec.published))
	}
	for i, ev := range rec.published {
		if ev.Turn != i || len(ev.Actions) != 5 {
			t.Errorf("turn %d: %+v", i, ev)
		}
	}
	if len(rec.agents) != 5 || len(rec.memories) != 5 {
		t.Fatalf("checkpointed %d agents, %d memory sets", len(rec.agents), len(rec.memories))
	}
	// plan + 3 turns of 5 outcomes and 1 enemy event
	if n := len(rec.memories["bot_1"]); n != 19 {
		t.Errorf("bot_1 has %d memories, want 19", n)
	}

	st := r.Status()
	if !st.Done || st.Turn != 3 || st.Running || st.RunID != "combat-1" {
		t.Errorf("status = %+v", st)
	}
	if !st.WorldTime.Equal(t0.Add(3 * time.Minute)) {
		t.Errorf("world time = %v", st.WorldTime)
	}
	if h := r.History(2); len(h) != 2 || h[1].Turn != 2 {
		t.Errorf("history = %+v", h)
	}
}

func TestReset_RestoresOpeningState(t *testing.T) {
	tests := []struct {
		name     string
		resetAcc bool
	}{
		{"keep accumulator", false},
		{"reset accumulator", true},
	}
	for _, tt := range tests {
		resetAcc := tt.resetAcc
		t.Run(tt.name, func(t *testing.T) {
			build := func(name string, reply memory.CompleterFunc) *agent.Agent {
				mem := memory.NewStore(memory.Deps{
					Embedder:   embedding.NewStatic(32),
					Importance: memory.FixedJudge(3),
					Immediacy:  memory.FixedJudge(3),
					LLM:        reply,
				}, memory.Options{Subject: name, ResetAccumulator: resetAcc}, zap.NewNop())
				return agent.New(agent.Persona{
					Name:           name,
					PromptTemplate: "You are ${agent_name}.",
					DayPlan:        "win the " + name + " match",
				}, mem, reply, agent.Options{
					NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
				}, zap.NewNop())
			}
			env := newDuel(5)
			a := build("a", answer("Action: attack(b)"))
			b := build("b", answer("Action: stay()"))
			r := newRunner(t, env, Config{}, a, b)
			ctx := context.Background()

			if _, err := r.StepOnce(ctx); err != nil {
				t.Fatalf("step: %v", err)
			}
			if !env.Done() || b.Info().Status != agent.StatusDead {
				t.Fatalf("setup: b should be dead and the duel over")
			}
			before := map[string]int{"a": a.Info().Accumulated, "b": b.Info().Accumulated}

			if err := r.Reset(ctx); err != nil {
				t.Fatalf("reset: %v", err)
			}

			st := r.Status()
			if st.Turn != 0 || st.Done || !st.WorldTime.Equal(t0) {
				t.Errorf("status after reset = %+v", st)
			}
			if len(r.History(0)) != 0 {
				t.Errorf("history survived reset")
			}
			for _, ag := range []*agent.Agent{a, b} {
				info := ag.Info()
				if info.Status != agent.StatusIdle || info.Steps != 0 {
					t.Errorf("%s info = %+v", ag.Name(), info)
				}
				els := ag.Memories()
				if len(els) != 1 || els[0].Content != "win the "+ag.Name()+" match" || !els[0].CreateTime.Equal(t0) {
					t.Errorf("%s memories = %+v, want only the day plan", ag.Name(), els)
				}
				want := before[ag.Name()] + 3
				if resetAcc {
					want = 3
				}
				if info.Accumulated != want {
					t.Errorf("%s accumulated = %d, want %d", ag.Name(), info.Accumulated, want)
				}
			}

			if _, err := r.StepOnce(ctx); err != nil {
				t.Errorf("step after reset: %v", err)
			}
		})
	}
}

func TestReset_RefusesWhileRunning(t *testing.T) {
	r := newRunner(t, newDuel(5), Config{}, newAgent("a", answer("Action: stay()")), newAgent("b", answer("Action: stay()")))
	r.setRunning(true)
	defer r.setRunning(false)
	if err := r.Reset(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("got %v, want ErrRunning", err)
	}
}
