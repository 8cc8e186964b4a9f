package agent

import (
	"time"

	"github.com/nidhogg/nuka-arena/internal/memory"
	"github.com/nidhogg/nuka-arena/internal/world"
)

// Persona defines who an agent is and how it is prompted.
type Persona struct {
	Name            string `json:"name"`
	RoleDescription string `json:"role_description"`
	// PromptTemplate holds ${var} placeholders filled on every step.
	PromptTemplate string `json:"prompt_template"`
	DayPlan        string `json:"day_plan,omitempty"`
}

// Status represents an agent's current state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusThinking   Status = "thinking"
	StatusReflecting Status = "reflecting"
	StatusDead       Status = "dead"
)

// Info is a read-only summary of an agent.
type Info struct {
	Persona     Persona   `json:"persona"`
	Status      Status    `json:"status"`
	ProviderID  string    `json:"provider_id"`
	Model       string    `json:"model"`
	Steps       int       `json:"steps"`
	Memories    int       `json:"memories"`
	Accumulated int       `json:"accumulated_importance"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Decision is what an agent chose to do on one step.
type Decision struct {
	Agent  string       `json:"agent"`
	Action world.Action `json:"action"`
	// Message is what other agents hear about this step.
	Message  string         `json:"message"`
	Thought  string         `json:"thought,omitempty"`
	Fallback bool           `json:"fallback"`
	Attempts int            `json:"attempts"`
	Chain    *ThinkingChain `json:"chain"`
	// Reflection is set when this step triggered a reflection.
	Reflection *memory.ReflectResult `json:"reflection,omitempty"`
}
