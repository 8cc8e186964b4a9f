package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TurnEvent summarises one completed simulation turn.
type TurnEvent struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Turn      int          `json:"turn"`
	WorldTime time.Time    `json:"world_time"`
	Actions   []ActionLog  `json:"actions"`
	Events    []string     `json:"events,omitempty"`
	Insights  []InsightLog `json:"insights,omitempty"`
	Done      bool         `json:"done"`
	Timestamp time.Time    `json:"timestamp"`
}

// ActionLog is one agent's move in a turn.
type ActionLog struct {
	Agent    string `json:"agent"`
	Action   string `json:"action"`
	Thought  string `json:"thought,omitempty"`
	Outcome  string `json:"outcome"`
	Valid    bool   `json:"valid"`
	Fallback bool   `json:"fallback"`
}

// InsightLog is a reflection produced during a turn.
type InsightLog struct {
	Agent    string   `json:"agent"`
	Text     string   `json:"text"`
	Evidence []string `json:"evidence,omitempty"`
}

// Publisher receives completed turns.
type Publisher interface {
	Publish(ctx context.Context, ev *TurnEvent) error
}

// Bus streams turn events through Redis Streams, one stream per run.
type Bus struct {
	rdb *redis.Client
	// retry paces reads after a Redis failure.
	retry  func() backoff.BackOff
	logger *zap.Logger
}

// NewBus connects to Redis at redisURL.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewBusWithClient(rdb, logger), nil
}

// NewBusWithClient wraps an existing client.
func NewBusWithClient(rdb *redis.Client, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{rdb: rdb, retry: readBackOff, logger: logger}
}

func readBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

const streamPrefix = "arena:run:"

func stream(runID string) string { return streamPrefix + runID }

// Publish appends ev to its run's stream.
func (b *Bus) Publish(ctx context.Context, ev *TurnEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	key := stream(ev.RunID)
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", key, err)
	}

	b.logger.Debug("published turn",
		zap.String("run", ev.RunID),
		zap.Int("turn", ev.Turn))
	return nil
}

// Subscribe listens for new turns of a run. Cancel the context to stop.
func (b *Bus) Subscribe(ctx context.Context, runID string) <-chan *TurnEvent {
	ch := make(chan *TurnEvent, 16)
	key := stream(runID)

	go func() {
		defer close(ch)
		lastID := "$"
		bo := b.retry()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				wait := bo.NextBackOff()
				b.logger.Warn("xread failed", zap.String("stream", key), zap.Duration("retry_in", wait), zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				continue
			}
			bo.Reset()

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					ev, ok := decode(msg)
					if !ok {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Replay returns every turn recorded for a run, oldest first.
func (b *Bus) Replay(ctx context.Context, runID string) ([]*TurnEvent, error) {
	msgs, err := b.rdb.XRange(ctx, stream(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}
	out := make([]*TurnEvent, 0, len(msgs))
	for _, m := range msgs {
		if ev, ok := decode(m); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

func decode(msg redis.XMessage) (*TurnEvent, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, false
	}
	var ev TurnEvent
	if json.Unmarshal([]byte(data), &ev) != nil {
		return nil, false
	}
	return &ev, true
}
