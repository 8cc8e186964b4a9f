package world

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BeatFunc is called for one agent when a heartbeat fires.
type BeatFunc func(ctx context.Context, agent string) error

// ListAgentsFunc returns the agents that receive heartbeats.
type ListAgentsFunc func() []string

// Heartbeat is a ClockListener that fires a callback for every agent once
// per interval of world time. The arena uses it to checkpoint memories.
type Heartbeat struct {
	interval time.Duration // in world time
	timeout  time.Duration
	lastBeat time.Time
	beatFn   BeatFunc
	listFn   ListAgentsFunc
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewHeartbeat creates a heartbeat listener.
func NewHeartbeat(interval time.Duration, beatFn BeatFunc, listFn ListAgentsFunc, logger *zap.Logger) *Heartbeat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heartbeat{
		interval: interval,
		timeout:  30 * time.Second,
		beatFn:   beatFn,
		listFn:   listFn,
		logger:   logger,
	}
}

// FireNow forces an immediate heartbeat for all agents, bypassing the
// interval check. It returns how many beats succeeded.
func (h *Heartbeat) FireNow(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	fired := 0
	for _, name := range h.listFn() {
		if err := h.beatFn(ctx, name); err != nil {
			h.logger.Warn("forced heartbeat failed",
				zap.String("agent", name),
				zap.Error(err))
			continue
		}
		fired++
	}
	return fired
}

// OnTick implements ClockListener.
func (h *Heartbeat) OnTick(turn int, worldTime time.Time) {
	h.mu.Lock()
	if h.lastBeat.IsZero() {
		h.lastBeat = worldTime
		h.mu.Unlock()
		return
	}
	if worldTime.Sub(h.lastBeat) < h.interval {
		h.mu.Unlock()
		return
	}
	h.lastBeat = worldTime
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	for _, name := range h.listFn() {
		if err := h.beatFn(ctx, name); err != nil {
			h.logger.Warn("heartbeat failed",
				zap.String("agent", name),
				zap.Error(err))
		} else {
			h.logger.Debug("heartbeat fired",
				zap.String("agent", name),
				zap.Int("turn", turn),
				zap.Time("world_time", worldTime))
		}
	}
}
