package world

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrUnknownAction is returned for text that names no known action.
	ErrUnknownAction = errors.New("unknown action")
	// ErrMalformedResponse is returned when a reply lacks an "Action:" line.
	ErrMalformedResponse = errors.New("malformed response")
)

// ActionKind names what an agent wants to do this turn.
type ActionKind string

const (
	ActMove   ActionKind = "move"
	ActAttack ActionKind = "attack"
	ActHunt   ActionKind = "hunt"
	ActStay   ActionKind = "stay"
)

var directions = map[string]Point{
	"up":    {-1, 0},
	"down":  {1, 0},
	"left":  {0, -1},
	"right": {0, 1},
}

// Action is a parsed command such as move(up) or attack(enemy_2).
type Action struct {
	Kind ActionKind `json:"kind"`
	// Arg is the direction for moves and the target name for attacks and hunts.
	Arg string `json:"arg,omitempty"`
}

// Stay is the no-op action.
var Stay = Action{Kind: ActStay}

func (a Action) String() string { return fmt.Sprintf("%s(%s)", a.Kind, a.Arg) }

// Delta returns the offset of a move action.
func (a Action) Delta() (Point, bool) {
	d, ok := directions[a.Arg]
	return d, ok && a.Kind == ActMove
}

var actionRe = regexp.MustCompile(`^\s*(\w+)\s*\(\s*([\w\-]*)\s*\)`)

// ParseAction parses "move(up)", "attack(enemy_1)", "hunt(prey_2)" or "stay()".
func ParseAction(s string) (Action, error) {
	m := actionRe.FindStringSubmatch(strings.TrimSpace(strings.Trim(s, "`'\"")))
	if m == nil {
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	a := Action{Kind: ActionKind(strings.ToLower(m[1])), Arg: m[2]}
	switch a.Kind {
	case ActMove:
		a.Arg = strings.ToLower(a.Arg)
		if _, ok := directions[a.Arg]; !ok {
			return Action{}, fmt.Errorf("%w: bad direction %q", ErrUnknownAction, m[2])
		}
	case ActAttack, ActHunt:
		if a.Arg == "" {
			return Action{}, fmt.Errorf("%w: %s needs a target", ErrUnknownAction, a.Kind)
		}
	case ActStay:
		a.Arg = ""
	default:
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownAction, m[1])
	}
	return a, nil
}

// Reply is a model answer split into its reasoning and action.
type Reply struct {
	Thought string `json:"thought"`
	Action  Action `json:"action"`
	Raw     string `json:"raw"`
}

// ParseReply reads the "Thought: ...\nAction: ..." format agents answer in.
// The Thought line is optional; the Action line is not.
func ParseReply(text string) (Reply, error) {
	r := Reply{Raw: strings.TrimSpace(text)}
	var actionLine string
	found := false
	for _, line := range strings.Split(r.Raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Thought:"):
			r.Thought = strings.TrimSpace(strings.TrimPrefix(line, "Thought:"))
		case strings.HasPrefix(line, "Action:") && !found:
			actionLine = strings.TrimSpace(strings.TrimPrefix(line, "Action:"))
			found = true
		}
	}
	if !found {
		return Reply{}, fmt.Errorf("%w: no Action line in %q", ErrMalformedResponse, r.Raw)
	}
	a, err := ParseAction(actionLine)
	if err != nil {
		return Reply{}, err
	}
	r.Action = a
	return r, nil
}
