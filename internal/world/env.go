package world

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAgent is returned when an environment is asked about a name it
// does not control.
var ErrUnknownAgent = errors.New("unknown agent")

// Environment is a turn-based world shared by a roster of agents.
// Implementations are not safe for concurrent use.
type Environment interface {
	Name() string
	Turn() int
	MaxTurns() int
	// Agents lists the controllable agents in their fixed acting order.
	Agents() []string
	Alive(agent string) bool
	Observe(agent string) (Observation, error)
	// Apply performs one agent's action. An illegal action is reported in
	// the outcome and leaves the agent in place.
	Apply(agent string, a Action) (Outcome, error)
	// Advance runs the scripted non-player phase and ends the turn.
	Advance(ctx context.Context) []Event
	Done() bool
	Reset()
	Snapshot() Snapshot
}

// Sighting is what an agent knows about another entity.
type Sighting struct {
	Name   string `json:"name"`
	Status string `json:"status"` // a coordinate, "Dead" or "Not Known"
}

// Observation is an agent's view of the world at the start of its turn.
type Observation struct {
	Agent       string     `json:"agent"`
	Turn        int        `json:"turn"`
	Position    Point      `json:"position"`
	HP          int        `json:"hp"`
	Alive       bool       `json:"alive"`
	Allies      []Sighting `json:"allies"`
	Opponents   []Sighting `json:"opponents"`
	Description string     `json:"description"`
}

// Outcome reports the effect of one applied action.
type Outcome struct {
	Agent  string `json:"agent"`
	Action Action `json:"action"`
	Valid  bool   `json:"valid"`
	Text   string `json:"text"`
	// Killed names an entity removed by this action.
	Killed string `json:"killed,omitempty"`
}

// Event is something that happened outside any agent's own action.
type Event struct {
	Turn int    `json:"turn"`
	Text string `json:"text"`
}

// Entity is anything standing on the board.
type Entity struct {
	Name        string `json:"name"`
	Team        string `json:"team"`
	Pos         Point  `json:"position"`
	HP          int    `json:"hp"`
	Alive       bool   `json:"alive"`
	AttackReady bool   `json:"attack_ready"`
	// NPC entities act from a script instead of a model.
	NPC bool `json:"npc"`
}

// Snapshot is a read-only copy of an environment's state.
type Snapshot struct {
	Name     string   `json:"name"`
	Turn     int      `json:"turn"`
	MaxTurns int      `json:"max_turns"`
	Done     bool     `json:"done"`
	Entities []Entity `json:"entities"`
	Board    string   `json:"board"`
}

// New builds an environment by kind ("combat" or "hunting").
func New(kind string, maxTurns int) (Environment, error) {
	switch kind {
	case "combat":
		return NewCombat(maxTurns), nil
	case "hunting":
		return NewHunting(maxTurns), nil
	default:
		return nil, fmt.Errorf("unknown environment %q", kind)
	}
}

// arena is the board state shared by the grid games.
type arena struct {
	name     string
	grid     *Grid
	entities map[string]*Entity
	order    []string
	turn     int
	maxTurns int
}

func newArena(name string, dim, maxTurns int) *arena {
	return &arena{
		name:     name,
		grid:     NewGrid(dim),
		entities: make(map[string]*Entity),
		maxTurns: maxTurns,
	}
}

func (a *arena) spawn(e Entity) {
	e.Alive = true
	e.AttackReady = true
	ent := e
	a.entities[e.Name] = &ent
	a.order = append(a.order, e.Name)
	if err := a.grid.Place(e.Name, e.Pos); err != nil {
		panic(err)
	}
}

func (a *arena) clear() {
	a.grid = NewGrid(a.grid.Dim())
	a.entities = make(map[string]*Entity)
	a.order = nil
	a.turn = 0
}

func (a *arena) Name() string  { return a.name }
func (a *arena) Turn() int     { return a.turn }
func (a *arena) MaxTurns() int { return a.maxTurns }

func (a *arena) Agents() []string {
	var out []string
	for _, n := range a.order {
		if !a.entities[n].NPC {
			out = append(out, n)
		}
	}
	return out
}

func (a *arena) Alive(name string) bool {
	e, ok := a.entities[name]
	return ok && e.Alive
}

func (a *arena) agent(name string) (*Entity, error) {
	e, ok := a.entities[name]
	if !ok || e.NPC {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return e, nil
}

func (a *arena) sightings(self *Entity, sameTeam bool) []Sighting {
	var out []Sighting
	for _, n := range a.order {
		e := a.entities[n]
		if e.Name == self.Name || (e.Team == self.Team) != sameTeam {
			continue
		}
		s := Sighting{Name: e.Name, Status: e.Pos.String()}
		if !e.Alive {
			s.Status = "Dead"
		}
		out = append(out, s)
	}
	return out
}

func (a *arena) kill(e *Entity) {
	e.Alive = false
	e.HP = 0
	a.grid.Remove(e.Pos)
}

// move shifts e one cell. It fails on walls and occupied cells.
func (a *arena) move(e *Entity, act Action) (bool, string) {
	d, _ := act.Delta()
	to := e.Pos.Add(d)
	if other, ok := a.grid.At(to); ok {
		return false, fmt.Sprintf("%s made a wrong move: %s is already at %s, so %s has to stay().", e.Name, other, to, e.Name)
	}
	if !a.grid.Walkable(to) {
		return false, fmt.Sprintf("%s made a wrong move: %s is out of range, so %s has to stay().", e.Name, to, e.Name)
	}
	if err := a.grid.Move(e.Pos, to); err != nil {
		return false, err.Error()
	}
	e.Pos = to
	return true, fmt.Sprintf("%s moved %s to %s.", e.Name, act.Arg, to)
}

func (a *arena) Done() bool { return a.turn >= a.maxTurns }

func (a *arena) Snapshot() Snapshot {
	s := Snapshot{
		Name:     a.name,
		Turn:     a.turn,
		MaxTurns: a.maxTurns,
		Board:    a.grid.Render(),
	}
	for _, n := range a.order {
		s.Entities = append(s.Entities, *a.entities[n])
	}
	return s
}

// FormatSightings renders sightings as "name: status, ...".
func FormatSightings(ss []Sighting) string {
	if len(ss) == 0 {
		return "none"
	}
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = s.Name + ": " + s.Status
	}
	return strings.Join(parts, ", ")
}

func (a *arena) teamAlive(team string) int {
	n := 0
	for _, e := range a.entities {
		if e.Team == team && e.Alive {
			n++
		}
	}
	return n
}
