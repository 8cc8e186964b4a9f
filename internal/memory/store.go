package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer sends a single prompt to a language model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Hook is notified after an element has been appended.
type Hook interface {
	MemoryAdded(ctx context.Context, el Element) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, el Element) error

func (f HookFunc) MemoryAdded(ctx context.Context, el Element) error { return f(ctx, el) }

// Options configures a Store.
type Options struct {
	// Subject is the owning agent's ID, stamped on every element.
	Subject             string      `json:"subject"`
	ImportanceThreshold int         `json:"importance_threshold"`
	NMSThreshold        float64     `json:"nms_threshold"`
	Score               ScoreConfig `json:"score"`
	// ResetAccumulator makes Reset also zero the importance accumulator.
	ResetAccumulator bool `json:"reset_accumulator"`
}

// DefaultImportanceThreshold is the accumulated importance that arms reflection.
const DefaultImportanceThreshold = 100

// Deps are the external collaborators of a Store.
type Deps struct {
	Embedder   Embedder
	Importance Judge
	Immediacy  Judge
	LLM        Completer
}

// Store is one agent's long-term memory. It is not safe for concurrent use.
type Store struct {
	opts     Options
	deps     Deps
	memories []*Element
	// accumulated importance since the last reflection
	accumulated int
	hooks       []Hook
	logger      *zap.Logger
}

// NewStore creates an empty store.
func NewStore(deps Deps, opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ImportanceThreshold <= 0 {
		opts.ImportanceThreshold = DefaultImportanceThreshold
	}
	if opts.NMSThreshold <= 0 || opts.NMSThreshold > 1 {
		opts.NMSThreshold = DefaultNMSThreshold
	}
	opts.Score = opts.Score.withDefaults()
	return &Store{
		opts:   opts,
		deps:   deps,
		logger: logger.With(zap.String("subject", opts.Subject)),
	}
}

// AddHook registers h to be called after every append.
func (s *Store) AddHook(h Hook) {
	s.hooks = append(s.hooks, h)
}

// AddMessage records a dialogue or observation message at time t.
func (s *Store) AddMessage(ctx context.Context, msg Message, t time.Time) error {
	el, err := s.create(ctx, KindMemory, msg.Text(), t)
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	s.AddMemory(ctx, el)
	return nil
}

// AddPlan records a free-text plan at time t.
func (s *Store) AddPlan(ctx context.Context, plan string, t time.Time) error {
	el, err := s.create(ctx, KindMemory, plan, t)
	if err != nil {
		return fmt.Errorf("add plan: %w", err)
	}
	s.AddMemory(ctx, el)
	return nil
}

// AddMemory appends el. A reflection resets the accumulator, anything else
// adds its importance to it.
func (s *Store) AddMemory(ctx context.Context, el *Element) {
	if el.Subject == "" {
		el.Subject = s.opts.Subject
	}
	s.memories = append(s.memories, el)
	switch el.Kind {
	case KindReflection:
		s.accumulated = 0
	default:
		s.accumulated += el.Importance
	}
	for _, h := range s.hooks {
		if err := h.MemoryAdded(ctx, el.clone()); err != nil {
			s.logger.Warn("memory hook failed", zap.String("id", el.ID), zap.Error(err))
		}
	}
}

// Reset drops every memory. The accumulator survives unless the store was
// configured with ResetAccumulator.
func (s *Store) Reset() {
	s.memories = nil
	if s.opts.ResetAccumulator {
		s.accumulated = 0
	}
}

// Restore replaces the contents with els and re-derives the accumulator
// from the memories added since the most recent reflection.
func (s *Store) Restore(els []Element) {
	s.memories = make([]*Element, 0, len(els))
	for i := range els {
		el := els[i].clone()
		if el.Subject == "" {
			el.Subject = s.opts.Subject
		}
		if el.LastAccessTime.Before(el.CreateTime) {
			el.LastAccessTime = el.CreateTime
		}
		s.memories = append(s.memories, &el)
	}
	s.accumulated = 0
	for i := len(s.memories) - 1; i >= 0; i-- {
		if s.memories[i].IsReflection() {
			break
		}
		s.accumulated += s.memories[i].Importance
	}
}

// Len returns the number of stored elements.
func (s *Store) Len() int { return len(s.memories) }

// Subject returns the owning agent ID.
func (s *Store) Subject() string { return s.opts.Subject }

// AccumulatedImportance returns the importance gathered since the last reflection.
func (s *Store) AccumulatedImportance() int { return s.accumulated }

// Threshold returns the accumulated importance needed before reflecting.
func (s *Store) Threshold() int { return s.opts.ImportanceThreshold }

// Elements returns copies of all elements in insertion order.
func (s *Store) Elements() []Element {
	out := make([]Element, len(s.memories))
	for i, m := range s.memories {
		out[i] = m.clone()
	}
	return out
}

// Recent returns copies of the last n elements in insertion order.
func (s *Store) Recent(n int) []Element {
	if n > len(s.memories) {
		n = len(s.memories)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Element, 0, n)
	for _, m := range s.memories[len(s.memories)-n:] {
		out = append(out, m.clone())
	}
	return out
}

// String renders every element's content, one per line.
func (s *Store) String() string {
	var sb strings.Builder
	for _, m := range s.memories {
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (s *Store) create(ctx context.Context, kind Kind, content string, t time.Time) (*Element, error) {
	if s.deps.Embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	vecs, err := s.deps.Embedder.Embed(ctx, []string{content})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed: expected 1 vector, got %d", len(vecs))
	}
	importance, err := rate(ctx, s.deps.Importance, content)
	if err != nil {
		return nil, fmt.Errorf("rate importance: %w", err)
	}
	immediacy, err := rate(ctx, s.deps.Immediacy, content)
	if err != nil {
		return nil, fmt.Errorf("rate immediacy: %w", err)
	}
	return NewElement(kind, s.opts.Subject, content, vecs[0], importance, immediacy, t), nil
}

func rate(ctx context.Context, j Judge, text string) (int, error) {
	if j == nil {
		return DefaultRating, nil
	}
	return j.Rate(ctx, text)
}
