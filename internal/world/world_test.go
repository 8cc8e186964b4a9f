package world

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

// teleport moves an entity regardless of game rules.
func teleport(t *testing.T, a *arena, name string, to Point) {
	t.Helper()
	e := a.entities[name]
	if err := a.grid.Move(e.Pos, to); err != nil {
		t.Fatalf("teleport %s: %v", name, err)
	}
	e.Pos = to
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want Action
		err  bool
	}{
		{"move(up)", Action{Kind: ActMove, Arg: "up"}, false},
		{" Move( LEFT ) ", Action{Kind: ActMove, Arg: "left"}, false},
		{"attack(enemy_2)", Action{Kind: ActAttack, Arg: "enemy_2"}, false},
		{"hunt(prey_1)", Action{Kind: ActHunt, Arg: "prey_1"}, false},
		{"stay()", Stay, false},
		{"`stay()`", Stay, false},
		{"move(sideways)", Action{}, true},
		{"attack()", Action{}, true},
		{"dance()", Action{}, true},
		{"I will wait", Action{}, true},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if tt.err {
			if !errors.Is(err, ErrUnknownAction) {
				t.Errorf("ParseAction(%q) err = %v, want ErrUnknownAction", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseAction(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestParseReply(t *testing.T) {
	r, err := ParseReply("Thought: enemy_1 is close.\n\n\nAction: attack(enemy_1)\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Thought != "enemy_1 is close." || r.Action != (Action{Kind: ActAttack, Arg: "enemy_1"}) {
		t.Errorf("got %+v", r)
	}

	if _, err := ParseReply("Thought: hmm"); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("missing action: got %v", err)
	}
	if _, err := ParseReply("Action: fly(away)"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("bad action: got %v", err)
	}
}

func TestGrid(t *testing.T) {
	g := NewGrid(5)
	if g.Walkable(Point{0, 2}) || g.Walkable(Point{4, 2}) || !g.Walkable(Point{1, 1}) || !g.Walkable(Point{3, 3}) {
		t.Fatal("wall ring misplaced")
	}
	if err := g.Place("a", Point{0, 0}); err == nil {
		t.Error("placing on a wall should fail")
	}
	if err := g.Place("a", Point{1, 1}); err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := g.Place("b", Point{1, 1}); err == nil {
		t.Error("placing on an occupied cell should fail")
	}
	g.Place("b", Point{2, 2})
	if n := g.Neighbours(Point{1, 1}); len(n) != 1 || n[0] != "b" {
		t.Errorf("neighbours = %v", n)
	}
	if err := g.Move(Point{1, 1}, Point{1, 2}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, ok := g.At(Point{1, 1}); ok {
		t.Error("old cell still occupied")
	}
	board := g.Render()
	if !strings.HasPrefix(board, "#####\n#.A.#\n#.B.#\n") {
		t.Errorf("unexpected board:\n%s", board)
	}
}

func TestCombat_OpeningObservation(t *testing.T) {
	c := NewCombat(0)
	if c.MaxTurns() != 10 {
		t.Errorf("max turns = %d, want 10", c.MaxTurns())
	}
	agents := c.Agents()
	if len(agents) != 5 || agents[0] != "bot_1" || agents[4] != "bot_5" {
		t.Fatalf("agents = %v", agents)
	}
	obs, err := c.Observe("bot_1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if obs.Position != (Point{2, 3}) || obs.HP != 3 || len(obs.Allies) != 4 || len(obs.Opponents) != 5 {
		t.Errorf("unexpected observation %+v", obs)
	}
	if !strings.Contains(obs.Description, "enemy_1: [2, 10]") {
		t.Errorf("description lacks enemy position:\n%s", obs.Description)
	}
	if _, err := c.Observe("enemy_1"); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("enemies are not agents, got %v", err)
	}
}

func TestCombat_Movement(t *testing.T) {
	c := NewCombat(10)
	up := Action{Kind: ActMove, Arg: "up"}

	out, _ := c.Apply("bot_1", up)
	if !out.Valid {
		t.Fatalf("first move should succeed: %s", out.Text)
	}
	out, _ = c.Apply("bot_1", up)
	if out.Valid || !strings.Contains(out.Text, "out of range") {
		t.Errorf("moving into the wall: %+v", out)
	}
	teleport(t, c.arena, "bot_2", Point{2, 3})
	out, _ = c.Apply("bot_2", up)
	if out.Valid || !strings.Contains(out.Text, "bot_1") {
		t.Errorf("moving onto bot_1: %+v", out)
	}
	if obs, _ := c.Observe("bot_1"); obs.Position != (Point{1, 3}) {
		t.Errorf("bot_1 at %v, want [1, 3]", obs.Position)
	}
}

func TestCombat_AttackUntilDead(t *testing.T) {
	c := NewCombat(10)
	teleport(t, c.arena, "bot_1", Point{2, 9})
	attack := Action{Kind: ActAttack, Arg: "enemy_1"}

	for i := 0; i < 2; i++ {
		out, _ := c.Apply("bot_1", attack)
		if !out.Valid {
			t.Fatalf("attack %d: %s", i, out.Text)
		}
		again, _ := c.Apply("bot_1", attack)
		if again.Valid {
			t.Fatalf("attacking twice in a row should fail")
		}
		c.Apply("bot_1", Stay)
	}
	out, _ := c.Apply("bot_1", attack)
	if !out.Valid || out.Killed != "enemy_1" {
		t.Fatalf("third hit should kill: %+v", out)
	}
	if _, ok := c.grid.At(Point{2, 10}); ok {
		t.Error("dead enemy still on the board")
	}
	obs, _ := c.Observe("bot_2")
	if obs.Opponents[0].Status != "Dead" {
		t.Errorf("enemy_1 status = %q, want Dead", obs.Opponents[0].Status)
	}

	c.Apply("bot_1", Stay)
	out, _ = c.Apply("bot_1", Action{Kind: ActAttack, Arg: "enemy_3"})
	if out.Valid {
		t.Error("attack out of range should fail")
	}
}

func TestCombat_EnemyScript(t *testing.T) {
	c := NewCombat(20)
	ctx := context.Background()

	events := c.Advance(ctx)
	if len(events) != 1 || events[0].Text != "enemy_1 move(up) to [1, 10]" {
		t.Fatalf("turn 0 events = %+v", events)
	}
	if c.Turn() != 1 {
		t.Fatalf("turn = %d, want 1", c.Turn())
	}

	teleport(t, c.arena, "bot_2", Point{5, 12})
	events = c.Advance(ctx)
	if len(events) != 1 || !strings.HasPrefix(events[0].Text, "enemy_2 attack(bot_2)") {
		t.Fatalf("turn 1 events = %+v", events)
	}
	if obs, _ := c.Observe("bot_2"); obs.HP != 2 {
		t.Errorf("bot_2 hp = %d, want 2", obs.HP)
	}

	// enemy_3 moves down, enemy_4 has nobody in range.
	c.Advance(ctx)
	events = c.Advance(ctx)
	if events[0].Text != "enemy_4 stay()" {
		t.Errorf("turn 3 events = %+v", events)
	}
}

func TestCombat_EnemyKillsBot(t *testing.T) {
	c := NewCombat(20)
	c.entities["bot_2"].HP = 1
	teleport(t, c.arena, "bot_2", Point{5, 12})
	c.Advance(context.Background())
	events := c.Advance(context.Background())
	if len(events) != 2 || events[1].Text != "bot_2 is dead!" {
		t.Fatalf("events = %+v", events)
	}
	if c.Alive("bot_2") {
		t.Error("bot_2 should be dead")
	}
	out, _ := c.Apply("bot_2", Stay)
	if out.Valid {
		t.Error("dead bots cannot act")
	}
}

func TestCombat_Done(t *testing.T) {
	c := NewCombat(2)
	if c.Done() {
		t.Fatal("fresh game is done")
	}
	c.Advance(context.Background())
	c.Advance(context.Background())
	if !c.Done() || !c.Snapshot().Done {
		t.Error("game should end at the turn limit")
	}

	c.Reset()
	if c.Turn() != 0 || c.Done() {
		t.Fatal("reset should restart the game")
	}
	for i := 1; i <= 5; i++ {
		c.kill(c.entities["enemy_"+string(rune('0'+i))])
	}
	if !c.Done() {
		t.Error("game should end when all enemies are dead")
	}
}

func TestHunting(t *testing.T) {
	h := NewHunting(10)
	if got := h.Agents(); len(got) != 6 {
		t.Fatalf("agents = %v", got)
	}

	out, _ := h.Apply("prey_1", Action{Kind: ActHunt, Arg: "predator_1"})
	if out.Valid {
		t.Error("prey cannot hunt")
	}
	out, _ = h.Apply("predator_1", Action{Kind: ActHunt, Arg: "predator_2"})
	if out.Valid {
		t.Error("predators cannot hunt each other")
	}
	out, _ = h.Apply("predator_1", Action{Kind: ActHunt, Arg: "prey_1"})
	if out.Valid {
		t.Error("prey_1 is out of range")
	}

	teleport(t, h.arena, "prey_1", Point{3, 3})
	out, _ = h.Apply("predator_1", Action{Kind: ActAttack, Arg: "prey_1"})
	if !out.Valid || out.Killed != "prey_1" {
		t.Fatalf("hunt should succeed: %+v", out)
	}
	if h.Alive("prey_1") || h.Done() {
		t.Fatal("prey_1 should be caught, game still running")
	}
	h.kill(h.entities["prey_2"])
	h.kill(h.entities["prey_3"])
	if !h.Done() {
		t.Error("game should end when all prey is caught")
	}

	obs, err := h.Observe("predator_2")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if !strings.Contains(obs.Description, "hunt(<prey>)") {
		t.Errorf("predators should be told they can hunt:\n%s", obs.Description)
	}
	if events := h.Advance(context.Background()); events != nil || h.Turn() != 1 {
		t.Errorf("advance: %v, turn %d", events, h.Turn())
	}
}

func TestNewEnvironment(t *testing.T) {
	for _, kind := range []string{"combat", "hunting"} {
		env, err := New(kind, 5)
		if err != nil || env.Name() != kind || env.MaxTurns() != 5 {
			t.Errorf("New(%q) = %v, %v", kind, env, err)
		}
	}
	if _, err := New("chess", 5); err == nil {
		t.Error("expected error for unknown kind")
	}
}

type tickRecorder struct{ turns []int }

func (r *tickRecorder) OnTick(turn int, _ time.Time) { r.turns = append(r.turns, turn) }

func TestClock(t *testing.T) {
	start := time.Date(2023, 4, 1, 8, 0, 0, 0, time.UTC)
	c := NewClock(start, 10*time.Minute, zap.NewNop())
	rec := &tickRecorder{}
	c.AddListener(rec)

	c.Advance()
	wt := c.Advance()
	if !wt.Equal(start.Add(20*time.Minute)) || c.Turn() != 2 {
		t.Errorf("world time %v, turn %d", wt, c.Turn())
	}
	if len(rec.turns) != 2 || rec.turns[1] != 2 {
		t.Errorf("listener saw %v", rec.turns)
	}
	c.Reset()
	if !c.WorldTime().Equal(start) || c.Turn() != 0 {
		t.Error("reset did not rewind")
	}
}

func TestHeartbeat_FiresOncePerInterval(t *testing.T) {
	var beats []string
	hb := NewHeartbeat(10*time.Minute, func(_ context.Context, name string) error {
		beats = append(beats, name)
		if name == "bot_2" {
			return errors.New("disk full")
		}
		return nil
	}, func() []string { return []string{"bot_1", "bot_2"} }, zap.NewNop())

	start := time.Date(2023, 4, 1, 7, 0, 0, 0, time.UTC)
	clock := NewClock(start, 5*time.Minute, zap.NewNop())
	clock.AddListener(hb)

	clock.Advance() // first tick only arms the heartbeat
	clock.Advance() // 5 minutes later
	if len(beats) != 0 {
		t.Fatalf("fired too early: %v", beats)
	}
	clock.Advance()
	if len(beats) != 2 {
		t.Fatalf("got beats %v, want one per agent", beats)
	}

	if n := hb.FireNow(context.Background()); n != 1 {
		t.Errorf("FireNow succeeded %d times, want 1", n)
	}
}
