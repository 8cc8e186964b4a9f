package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackPublisher posts the feed into one Slack channel.
type SlackPublisher struct {
	client  *slack.Client
	channel string

	mu          sync.RWMutex
	connected   bool
	connectedAt time.Time
	lastError   string
	logger      *zap.Logger
}

// NewSlackPublisher creates a publisher for channel using a bot token
// (xoxb-...). Extra client options, such as slack.OptionAPIURL, are passed
// through.
func NewSlackPublisher(botToken, channel string, logger *zap.Logger, opts ...slack.Option) *SlackPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlackPublisher{
		client:  slack.New(botToken, opts...),
		channel: channel,
		logger:  logger,
	}
}

func (p *SlackPublisher) Platform() string { return "slack" }

// Connect verifies the token.
func (p *SlackPublisher) Connect(ctx context.Context) error {
	resp, err := p.client.AuthTestContext(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastError = err.Error()
		return fmt.Errorf("slack auth: %w", err)
	}
	p.connected, p.connectedAt, p.lastError = true, time.Now(), ""
	p.logger.Info("slack feed connected", zap.String("team", resp.Team), zap.String("channel", p.channel))
	return nil
}

// Publish posts a formatted message, using the acting agent as the
// display name when there is one.
func (p *SlackPublisher) Publish(ctx context.Context, post *Post) error {
	text := fmt.Sprintf("*[%s] %s*\n%s", post.Kind, post.Title, post.Content)
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
	}
	if post.Agent != "" {
		opts = append(opts, slack.MsgOptionUsername(post.Agent), slack.MsgOptionIconEmoji(":robot_face:"))
	}

	_, _, err := p.client.PostMessageContext(ctx, p.channel, opts...)
	if err != nil {
		p.mu.Lock()
		p.lastError = err.Error()
		p.mu.Unlock()
		p.logger.Error("slack send failed",
			zap.String("channel", p.channel), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Close is a no-op; the client holds no connection.
func (p *SlackPublisher) Close() error {
	return nil
}

func (p *SlackPublisher) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := Status{Platform: "slack", Connected: p.connected, Error: p.lastError}
	if p.connected {
		t := p.connectedAt
		s.ConnectedAt = &t
	}
	return s
}
