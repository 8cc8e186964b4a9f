package world

import (
	"context"
	"fmt"
)

// Hunting teams.
const (
	TeamPredators = "predators"
	TeamPrey      = "prey"
)

const huntingDim = 12

// Hunting has three predators chase three prey on a 10x10 board. Every
// creature is model-driven.
type Hunting struct {
	*arena
}

// NewHunting creates a hunting game ending after maxTurns turns.
func NewHunting(maxTurns int) *Hunting {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	h := &Hunting{arena: newArena("hunting", huntingDim, maxTurns)}
	h.Reset()
	return h
}

// Reset restores the opening position.
func (h *Hunting) Reset() {
	h.clear()
	for i, p := range []Point{{3, 2}, {6, 4}, {8, 2}} {
		h.spawn(Entity{Name: fmt.Sprintf("predator_%d", i+1), Team: TeamPredators, Pos: p, HP: 1})
	}
	for i, p := range []Point{{3, 7}, {6, 9}, {8, 7}} {
		h.spawn(Entity{Name: fmt.Sprintf("prey_%d", i+1), Team: TeamPrey, Pos: p, HP: 1})
	}
}

// Observe describes the board from one creature's point of view.
func (h *Hunting) Observe(name string) (Observation, error) {
	e, err := h.agent(name)
	if err != nil {
		return Observation{}, err
	}
	obs := Observation{
		Agent:     name,
		Turn:      h.turn,
		Position:  e.Pos,
		HP:        e.HP,
		Alive:     e.Alive,
		Allies:    h.sightings(e, true),
		Opponents: h.sightings(e, false),
	}
	actions := "move(up|down|left|right), stay()"
	if e.Team == TeamPredators {
		actions = "move(up|down|left|right), hunt(<prey>) against prey in the 3x3 square around you, stay()"
	}
	obs.Description = fmt.Sprintf(
		"Turn %d of %d. You are %s, one of the %s, at %s.\n"+
			"Same side: %s\nOther side: %s\nAvailable actions: %s.",
		h.turn+1, h.maxTurns, name, e.Team, e.Pos,
		FormatSightings(obs.Allies), FormatSightings(obs.Opponents), actions)
	return obs, nil
}

// Apply performs a creature's action. attack() is accepted as hunt().
func (h *Hunting) Apply(name string, act Action) (Outcome, error) {
	e, err := h.agent(name)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Agent: name, Action: act}
	if !e.Alive {
		out.Text = name + " has been caught and cannot act."
		return out, nil
	}

	switch act.Kind {
	case ActMove:
		out.Valid, out.Text = h.move(e, act)
	case ActHunt, ActAttack:
		out.Valid, out.Text, out.Killed = h.hunt(e, act.Arg)
	case ActStay:
		out.Valid, out.Text = true, name+" stays."
	default:
		out.Text = fmt.Sprintf("%s cannot %s, so %s has to stay().", name, act.Kind, name)
	}
	return out, nil
}

func (h *Hunting) hunt(e *Entity, target string) (bool, string, string) {
	if e.Team == TeamPrey {
		return false, fmt.Sprintf("%s cannot hunt as prey, so %s has to stay().", e.Name, e.Name), ""
	}
	t, ok := h.entities[target]
	if !ok || !t.Alive {
		return false, fmt.Sprintf("%s made a wrong hunt: %s is not on the board, so %s has to stay().", e.Name, target, e.Name), ""
	}
	if t.Team == TeamPredators {
		return false, fmt.Sprintf("%s made a wrong hunt: %s is a predator, so %s has to stay().", e.Name, target, e.Name), ""
	}
	if !e.Pos.Near(t.Pos) {
		return false, fmt.Sprintf("%s made a wrong hunt: %s is out of hunting range, so %s has to stay().", e.Name, target, e.Name), ""
	}
	h.kill(t)
	return true, fmt.Sprintf("%s caught %s!", e.Name, target), target
}

// Advance ends the turn. Hunting has no scripted creatures.
func (h *Hunting) Advance(_ context.Context) []Event {
	h.turn++
	return nil
}

// Done reports whether all prey is caught or the turn limit is hit.
func (h *Hunting) Done() bool {
	return h.teamAlive(TeamPrey) == 0 || h.turn >= h.maxTurns
}

func (h *Hunting) Snapshot() Snapshot {
	s := h.arena.Snapshot()
	s.Done = h.Done()
	return s
}
