package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/nuka-arena/internal/events"
	"go.uber.org/zap"
)

// maxHistory bounds the in-memory post history.
const maxHistory = 500

// Record tracks a sent post for history.
type Record struct {
	Post    *Post     `json:"post"`
	SentAt  time.Time `json:"sent_at"`
	Targets []string  `json:"targets"`
}

// Broadcaster turns simulation turns into feed posts and keeps a history
// of everything sent.
type Broadcaster struct {
	feed    *Feed
	history []Record
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster backed by the given feed. feed may
// be nil, in which case posts are only kept in history.
func NewBroadcaster(f *Feed, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		feed:   f,
		logger: logger,
	}
}

// Send records post and pushes it to every publisher.
func (b *Broadcaster) Send(ctx context.Context, post *Post) error {
	if post.Kind == "" {
		return fmt.Errorf("post kind is required")
	}
	if post.Timestamp.IsZero() {
		post.Timestamp = time.Now()
	}

	b.logger.Debug("sending feed post",
		zap.String("kind", string(post.Kind)),
		zap.String("title", post.Title),
		zap.String("agent", post.Agent),
	)

	var targets []string
	var err error
	if b.feed != nil {
		targets = b.feed.Platforms()
		err = b.feed.Publish(ctx, post)
	}

	b.mu.Lock()
	b.history = append(b.history, Record{Post: post, SentAt: time.Now(), Targets: targets})
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
	b.mu.Unlock()
	return err
}

// Publish implements events.Publisher: one post summarising the turn, and
// one per insight produced in it.
func (b *Broadcaster) Publish(ctx context.Context, ev *events.TurnEvent) error {
	var errs []string
	if err := b.Send(ctx, TurnPost(ev)); err != nil {
		errs = append(errs, err.Error())
	}
	for _, in := range ev.Insights {
		post := &Post{
			Kind:    KindInsight,
			RunID:   ev.RunID,
			Turn:    ev.Turn,
			Agent:   in.Agent,
			Title:   fmt.Sprintf("%s reflects", in.Agent),
			Content: in.Text,
		}
		if err := b.Send(ctx, post); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("feed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// History returns the most recent records, oldest first.
func (b *Broadcaster) History(limit int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Record, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// TurnPost renders a turn as a single post.
func TurnPost(ev *events.TurnEvent) *Post {
	var sb strings.Builder
	for _, a := range ev.Actions {
		mark := ""
		if a.Fallback {
			mark = " (fallback)"
		}
		fmt.Fprintf(&sb, "%s: %s%s - %s\n", a.Agent, a.Action, mark, a.Outcome)
	}
	for _, e := range ev.Events {
		sb.WriteString(e)
		sb.WriteByte('\n')
	}
	title := fmt.Sprintf("Turn %d", ev.Turn+1)
	if ev.Done {
		title += " (final)"
	}
	return &Post{
		Kind:    KindTurn,
		RunID:   ev.RunID,
		Turn:    ev.Turn,
		Title:   title,
		Content: strings.TrimRight(sb.String(), "\n"),
	}
}
