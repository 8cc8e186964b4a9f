package feed

import (
	"context"
	"time"
)

// Publisher delivers spectator posts to one platform.
type Publisher interface {
	Platform() string
	Connect(ctx context.Context) error
	Publish(ctx context.Context, post *Post) error
	Close() error
}

// Kind categorizes feed posts.
type Kind string

const (
	KindRunStarted  Kind = "run_started"
	KindTurn        Kind = "turn"
	KindInsight     Kind = "insight"
	KindRunFinished Kind = "run_finished"
)

// Post is one spectator update.
type Post struct {
	Kind      Kind      `json:"kind"`
	RunID     string    `json:"run_id"`
	Turn      int       `json:"turn"`
	Agent     string    `json:"agent,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Status reports a publisher's connection state.
type Status struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}
