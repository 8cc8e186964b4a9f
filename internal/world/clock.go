package world

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ClockListener is notified every time the clock advances.
type ClockListener interface {
	OnTick(turn int, worldTime time.Time)
}

// Clock keeps simulated time. Each turn moves world time forward by a
// fixed step.
type Clock struct {
	start     time.Time
	step      time.Duration
	turn      int
	worldTime time.Time
	listeners []ClockListener
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewClock creates a clock at start that advances by step per turn.
func NewClock(start time.Time, step time.Duration, logger *zap.Logger) *Clock {
	if logger == nil {
		logger = zap.NewNop()
	}
	if step <= 0 {
		step = time.Minute
	}
	return &Clock{start: start, step: step, worldTime: start, logger: logger}
}

// AddListener registers a tick listener.
func (c *Clock) AddListener(l ClockListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// WorldTime returns the current simulated time.
func (c *Clock) WorldTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.worldTime
}

// Turn returns how many times the clock has advanced.
func (c *Clock) Turn() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.turn
}

// Step returns the simulated duration of one turn.
func (c *Clock) Step() time.Duration { return c.step }

// Advance moves to the next turn and notifies listeners.
func (c *Clock) Advance() time.Time {
	c.mu.Lock()
	c.turn++
	c.worldTime = c.worldTime.Add(c.step)
	turn, wt := c.turn, c.worldTime
	listeners := make([]ClockListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	c.logger.Debug("clock advanced", zap.Int("turn", turn), zap.Time("world_time", wt))
	for _, l := range listeners {
		l.OnTick(turn, wt)
	}
	return wt
}

// Reset rewinds the clock to its start time.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turn = 0
	c.worldTime = c.start
}
