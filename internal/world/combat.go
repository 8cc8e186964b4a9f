package world

import (
	"context"
	"fmt"
)

// Combat teams.
const (
	TeamBots    = "bots"
	TeamEnemies = "enemies"
)

const (
	combatDim       = 17
	combatHP        = 3
	defaultMaxTurns = 10
)

type scriptStep struct {
	enemy  string
	action Action
}

// enemyScript is replayed every ten turns: one enemy acts per turn,
// alternating moves and attacks.
var enemyScript = [10]scriptStep{
	{"enemy_1", Action{Kind: ActMove, Arg: "up"}},
	{"enemy_2", Action{Kind: ActAttack}},
	{"enemy_3", Action{Kind: ActMove, Arg: "down"}},
	{"enemy_4", Action{Kind: ActAttack}},
	{"enemy_5", Action{Kind: ActMove, Arg: "left"}},
	{"enemy_1", Action{Kind: ActAttack}},
	{"enemy_2", Action{Kind: ActMove, Arg: "right"}},
	{"enemy_3", Action{Kind: ActAttack}},
	{"enemy_4", Action{Kind: ActMove, Arg: "up"}},
	{"enemy_5", Action{Kind: ActAttack}},
}

// Combat pits five model-driven bots against five scripted enemies on a
// 15x15 board.
type Combat struct {
	*arena
}

// NewCombat creates a combat game ending after maxTurns turns.
func NewCombat(maxTurns int) *Combat {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	c := &Combat{arena: newArena("combat", combatDim, maxTurns)}
	c.Reset()
	return c
}

// Reset restores the opening position.
func (c *Combat) Reset() {
	c.clear()
	for i, p := range []Point{{2, 3}, {5, 6}, {8, 3}, {11, 6}, {14, 3}} {
		c.spawn(Entity{Name: fmt.Sprintf("bot_%d", i+1), Team: TeamBots, Pos: p, HP: combatHP})
	}
	for i, p := range []Point{{2, 10}, {5, 13}, {8, 10}, {11, 13}, {14, 10}} {
		c.spawn(Entity{Name: fmt.Sprintf("enemy_%d", i+1), Team: TeamEnemies, Pos: p, HP: combatHP, NPC: true})
	}
}

// Observe describes the board from one bot's point of view.
func (c *Combat) Observe(name string) (Observation, error) {
	e, err := c.agent(name)
	if err != nil {
		return Observation{}, err
	}
	obs := Observation{
		Agent:     name,
		Turn:      c.turn,
		Position:  e.Pos,
		HP:        e.HP,
		Alive:     e.Alive,
		Allies:    c.sightings(e, true),
		Opponents: c.sightings(e, false),
	}
	ready := "Your weapon is ready."
	if !e.AttackReady {
		ready = "You attacked last turn and must move or stay() before attacking again."
	}
	obs.Description = fmt.Sprintf(
		"Turn %d of %d. You are %s at %s with %d HP. %s\n"+
			"Allies: %s\nEnemies: %s\n"+
			"Available actions: move(up|down|left|right), attack(<enemy>) against an enemy in the 3x3 square around you, stay().",
		c.turn+1, c.maxTurns, name, e.Pos, e.HP, ready,
		FormatSightings(obs.Allies), FormatSightings(obs.Opponents))
	return obs, nil
}

// Apply performs a bot's action.
func (c *Combat) Apply(name string, act Action) (Outcome, error) {
	e, err := c.agent(name)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Agent: name, Action: act}
	if !e.Alive {
		out.Text = name + " is dead and cannot act."
		return out, nil
	}

	switch act.Kind {
	case ActMove:
		e.AttackReady = true
		out.Valid, out.Text = c.move(e, act)
	case ActAttack:
		out.Valid, out.Text, out.Killed = c.attack(e, act.Arg)
	case ActStay:
		e.AttackReady = true
		out.Valid, out.Text = true, name+" stays."
	default:
		out.Text = fmt.Sprintf("%s cannot %s in combat, so %s has to stay().", name, act.Kind, name)
	}
	return out, nil
}

func (c *Combat) attack(e *Entity, target string) (bool, string, string) {
	if !e.AttackReady {
		return false, fmt.Sprintf("%s attacked last turn and has to stay().", e.Name), ""
	}
	e.AttackReady = false
	t, ok := c.entities[target]
	if !ok || !t.Alive || t.Team == e.Team || !e.Pos.Near(t.Pos) {
		return false, fmt.Sprintf("%s made a wrong attack: %s is out of firing range, so %s has to stay().", e.Name, target, e.Name), ""
	}
	t.HP--
	if t.HP == 0 {
		c.kill(t)
		return true, fmt.Sprintf("%s attacked %s. %s is dead!", e.Name, target, target), target
	}
	return true, fmt.Sprintf("%s attacked %s, %d HP left.", e.Name, target, t.HP), ""
}

// Advance lets the scripted enemy of this turn act, then ends the turn.
func (c *Combat) Advance(_ context.Context) []Event {
	step := enemyScript[c.turn%len(enemyScript)]
	var events []Event
	emit := func(format string, args ...any) {
		events = append(events, Event{Turn: c.turn, Text: fmt.Sprintf(format, args...)})
	}

	if en, ok := c.entities[step.enemy]; ok && en.Alive {
		switch step.action.Kind {
		case ActMove:
			if ok, _ := c.move(en, step.action); ok {
				emit("%s move(%s) to %s", en.Name, step.action.Arg, en.Pos)
			} else {
				emit("%s stay()", en.Name)
			}
		case ActAttack:
			hit := false
			for _, n := range c.grid.Neighbours(en.Pos) {
				bot := c.entities[n]
				if bot.Team != TeamBots || !bot.Alive {
					continue
				}
				bot.HP--
				hit = true
				emit("%s attack(%s), %d HP left", en.Name, bot.Name, bot.HP)
				if bot.HP == 0 {
					c.kill(bot)
					emit("%s is dead!", bot.Name)
				}
				break
			}
			if !hit {
				emit("%s stay()", en.Name)
			}
		}
	}
	c.turn++
	return events
}

// Done reports whether either side is wiped out or the turn limit is hit.
func (c *Combat) Done() bool {
	return c.teamAlive(TeamBots) == 0 || c.teamAlive(TeamEnemies) == 0 || c.turn >= c.maxTurns
}

func (c *Combat) Snapshot() Snapshot {
	s := c.arena.Snapshot()
	s.Done = c.Done()
	return s
}
