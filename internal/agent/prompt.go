package agent

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nidhogg/nuka-arena/internal/world"
)

// TimeLayout is how current_time is rendered into prompts.
const TimeLayout = "2006-01-02 15:04:05"

const combatTemplate = `You are ${agent_name}, a bot fighting alongside your allies against scripted enemy bots.
${role_description}

${env_description}

Your coordinate: ${coordinate}. HP: ${hp}.
Your allies' coordinates: ${others_coordinates}
Enemy coordinates: ${enemys_coordinates}

It is now ${current_time}.
What you remember that matters right now:
${memories}

Recent messages:
${chat_history}

Choose exactly one action. Answer in this format:
Thought: <your reasoning>
Action: <move(up|down|left|right) | attack(enemy_name) | stay()>`

const huntingTemplate = `You are ${agent_name} in a hunting game on a small grid.
${role_description}

${env_description}

Your coordinate: ${coordinate}.
Your team: ${others_coordinates}
The other side: ${enemys_coordinates}

It is now ${current_time}.
What you remember that matters right now:
${memories}

Recent messages:
${chat_history}

Choose exactly one action. Answer in this format:
Thought: <your reasoning>
Action: <move(up|down|left|right) | hunt(name) | stay()>`

// DefaultTemplate returns the built-in prompt for an environment kind.
func DefaultTemplate(env string) string {
	if env == "hunting" {
		return huntingTemplate
	}
	return combatTemplate
}

// promptVars are the placeholders a template may reference.
type promptVars struct {
	persona     Persona
	envDesc     string
	obs         world.Observation
	memories    []string
	chatHistory string
	now         time.Time
}

// fill substitutes ${var} placeholders. Unknown names are left untouched.
func (v promptVars) fill(tmpl string) string {
	return os.Expand(tmpl, func(key string) string {
		switch key {
		case "agent_name":
			return v.persona.Name
		case "role_description":
			return v.persona.RoleDescription
		case "day_plan":
			return v.persona.DayPlan
		case "env_description":
			if v.envDesc == "" {
				return v.obs.Description
			}
			return v.envDesc + "\n" + v.obs.Description
		case "coordinate":
			return v.obs.Position.String()
		case "hp":
			return strconv.Itoa(v.obs.HP)
		case "turn":
			return strconv.Itoa(v.obs.Turn + 1)
		case "others_coordinates", "allies":
			return world.FormatSightings(v.obs.Allies)
		case "enemys_coordinates", "enemies":
			return world.FormatSightings(v.obs.Opponents)
		case "memories":
			if len(v.memories) == 0 {
				return "(nothing yet)"
			}
			return "- " + strings.Join(v.memories, "\n- ")
		case "chat_history":
			if v.chatHistory == "" {
				return "(nothing yet)"
			}
			return strings.TrimRight(v.chatHistory, "\n")
		case "current_time":
			return v.now.Format(TimeLayout)
		}
		return "${" + key + "}"
	})
}
