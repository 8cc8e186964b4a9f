package memory

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes raw experience from synthesised insight.
type Kind string

const (
	KindMemory     Kind = "memory"
	KindReflection Kind = "reflection"
)

// Element is a single entry in an agent's long-term memory.
type Element struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	Subject        string    `json:"subject"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"embedding,omitempty"`
	Importance     int       `json:"importance"`
	Immediacy      int       `json:"immediacy"`
	CreateTime     time.Time `json:"create_time"`
	LastAccessTime time.Time `json:"last_access_time"`
	// Evidence holds the IDs of the statements a reflection was derived from.
	Evidence []string `json:"evidence,omitempty"`
}

// NewElement builds an element whose last access time equals its creation
// time. Ratings are clamped into [1,10].
func NewElement(kind Kind, subject, content string, embedding []float32, importance, immediacy int, t time.Time) *Element {
	return &Element{
		ID:             uuid.New().String(),
		Kind:           kind,
		Subject:        subject,
		Content:        content,
		Embedding:      embedding,
		Importance:     clampRating(importance),
		Immediacy:      clampRating(immediacy),
		CreateTime:     t,
		LastAccessTime: t,
	}
}

// IsReflection reports whether the element was produced by reflection.
func (e *Element) IsReflection() bool { return e.Kind == KindReflection }

// touch refreshes the access time, never moving it before creation.
func (e *Element) touch(t time.Time) {
	if t.Before(e.CreateTime) {
		t = e.CreateTime
	}
	e.LastAccessTime = t
}

func (e *Element) clone() Element {
	c := *e
	if e.Embedding != nil {
		c.Embedding = append([]float32(nil), e.Embedding...)
	}
	if e.Evidence != nil {
		c.Evidence = append([]string(nil), e.Evidence...)
	}
	return c
}

// Message is an utterance or observation delivered to an agent.
type Message struct {
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content"`
}

// Text renders the message the way it is stored in memory.
func (m Message) Text() string {
	if m.Sender == "" {
		return m.Content
	}
	return m.Sender + ": " + m.Content
}

func clampRating(n int) int {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}
