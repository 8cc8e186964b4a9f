package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// discordLimit is the maximum message length Discord accepts.
const discordLimit = 2000

// DiscordPublisher posts the feed into one Discord channel.
type DiscordPublisher struct {
	token     string
	channelID string
	session   *discordgo.Session

	mu          sync.RWMutex
	connected   bool
	connectedAt time.Time
	lastError   string
	logger      *zap.Logger
}

// NewDiscordPublisher creates a publisher for a bot token and channel.
func NewDiscordPublisher(token, channelID string, logger *zap.Logger) *DiscordPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscordPublisher{
		token:     token,
		channelID: channelID,
		logger:    logger,
	}
}

func (p *DiscordPublisher) Platform() string { return "discord" }

// Connect creates a REST session and checks the channel is reachable.
func (p *DiscordPublisher) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + p.token)
	if err != nil {
		p.setError(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	ch, err := session.Channel(p.channelID)
	if err != nil {
		p.setError(fmt.Sprintf("channel lookup: %v", err))
		return fmt.Errorf("discord channel %s: %w", p.channelID, err)
	}

	p.mu.Lock()
	p.session = session
	p.connected, p.connectedAt, p.lastError = true, time.Now(), ""
	p.mu.Unlock()
	p.logger.Info("discord feed connected", zap.String("channel", ch.Name))
	return nil
}

// Publish sends a formatted message, truncated to Discord's limit.
func (p *DiscordPublisher) Publish(ctx context.Context, post *Post) error {
	p.mu.RLock()
	session := p.session
	p.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord: not connected")
	}

	_, err := session.ChannelMessageSend(p.channelID, discordContent(post), discordgo.WithContext(ctx))
	if err != nil {
		p.setError(err.Error())
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close drops the session.
func (p *DiscordPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = nil
	p.connected = false
	return nil
}

func (p *DiscordPublisher) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := Status{Platform: "discord", Connected: p.connected, Error: p.lastError}
	if p.connected {
		t := p.connectedAt
		s.ConnectedAt = &t
	}
	return s
}

func (p *DiscordPublisher) setError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastError = msg
}

func discordContent(post *Post) string {
	content := fmt.Sprintf("**[%s] %s**\n%s", post.Kind, post.Title, post.Content)
	if post.Agent != "" && post.Kind == KindInsight {
		content = fmt.Sprintf("**[%s]** %s", post.Agent, post.Content)
	}
	if r := []rune(content); len(r) > discordLimit {
		content = string(r[:discordLimit-1]) + "…"
	}
	return content
}
