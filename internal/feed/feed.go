package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Feed fans posts out to every registered publisher.
type Feed struct {
	publishers map[string]Publisher
	mu         sync.RWMutex
	logger     *zap.Logger
}

// New creates an empty feed.
func New(logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		publishers: make(map[string]Publisher),
		logger:     logger,
	}
}

// Register adds a publisher, replacing any with the same platform.
func (f *Feed) Register(p Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishers[p.Platform()] = p
	f.logger.Info("registered feed publisher", zap.String("platform", p.Platform()))
}

// ConnectAll connects every publisher. A publisher that fails to connect
// is dropped so the rest of the feed keeps working.
func (f *Feed) ConnectAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var failed []string
	for platform, p := range f.publishers {
		if err := p.Connect(ctx); err != nil {
			f.logger.Warn("feed publisher connect failed, disabling",
				zap.String("platform", platform), zap.Error(err))
			delete(f.publishers, platform)
			failed = append(failed, platform)
			continue
		}
		f.logger.Info("feed publisher connected", zap.String("platform", platform))
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("connect failed for %v", failed)
	}
	return nil
}

// Publish sends post to every publisher.
func (f *Feed) Publish(ctx context.Context, post *Post) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var errs []error
	for platform, p := range f.publishers {
		if err := p.Publish(ctx, post); err != nil {
			f.logger.Error("feed publish failed",
				zap.String("platform", platform), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish failed on %d platform(s)", len(errs))
	}
	return nil
}

// Close shuts down all publishers.
func (f *Feed) Close() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for platform, p := range f.publishers {
		if err := p.Close(); err != nil {
			f.logger.Error("feed publisher close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// Platforms returns the registered platform names in order.
func (f *Feed) Platforms() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.publishers))
	for p := range f.publishers {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

// Statuses reports the state of every publisher that tracks one.
func (f *Feed) Statuses() []Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Status
	for _, p := range f.publishers {
		if s, ok := p.(interface{ Status() Status }); ok {
			out = append(out, s.Status())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}
