package agent

import (
	"time"
)

// StepType identifies the kind of thinking step.
type StepType string

const (
	StepMemoryRecall StepType = "memory_recall"
	StepPrompt       StepType = "prompt"
	StepRetry        StepType = "retry"
	StepResponse     StepType = "response"
	StepFallback     StepType = "fallback"
	StepReflection   StepType = "reflection"
)

// ThinkingChain records the cognitive trace of one agent step.
type ThinkingChain struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agent_id"`
	Turn      int           `json:"turn"`
	Steps     []ThinkStep   `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ThinkStep is a single step in the thinking chain.
type ThinkStep struct {
	Type      StepType    `json:"type"`
	Content   string      `json:"content"`
	Detail    interface{} `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (c *ThinkingChain) add(t StepType, content string, detail interface{}) {
	c.Steps = append(c.Steps, ThinkStep{Type: t, Content: content, Detail: detail, Timestamp: time.Now()})
}
