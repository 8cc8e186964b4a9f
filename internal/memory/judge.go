package memory

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

// DefaultRating is used when no judge is configured or its answer is unusable.
const DefaultRating = 5

// Judge rates a memory text on a 1..10 scale.
type Judge interface {
	Rate(ctx context.Context, text string) (int, error)
}

// JudgeFunc adapts a function to Judge.
type JudgeFunc func(ctx context.Context, text string) (int, error)

func (f JudgeFunc) Rate(ctx context.Context, text string) (int, error) { return f(ctx, text) }

// FixedJudge always returns the same rating.
type FixedJudge int

func (f FixedJudge) Rate(context.Context, string) (int, error) { return clampRating(int(f)), nil }

// LLMJudge asks a language model for a rating.
type LLMJudge struct {
	llm      Completer
	prompt   string
	fallback int
	logger   *zap.Logger
}

// NewImportanceJudge rates how poignant a memory is.
func NewImportanceJudge(llm Completer, logger *zap.Logger) *LLMJudge {
	return newLLMJudge(llm, importancePrompt, "importance", logger)
}

// NewImmediacyJudge rates how urgently a memory needs attention.
func NewImmediacyJudge(llm Completer, logger *zap.Logger) *LLMJudge {
	return newLLMJudge(llm, immediacyPrompt, "immediacy", logger)
}

func newLLMJudge(llm Completer, prompt, name string, logger *zap.Logger) *LLMJudge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMJudge{llm: llm, prompt: prompt, fallback: DefaultRating, logger: logger.With(zap.String("judge", name))}
}

// WithFallback sets the rating used when the model's answer has no number.
func (j *LLMJudge) WithFallback(n int) *LLMJudge {
	j.fallback = clampRating(n)
	return j
}

// Rate returns the first integer in the model's answer, clamped to [1,10].
// Transport errors are returned; unparsable answers fall back.
func (j *LLMJudge) Rate(ctx context.Context, text string) (int, error) {
	out, err := j.llm.Complete(ctx, fmt.Sprintf(j.prompt, text))
	if err != nil {
		return 0, err
	}
	n, ok := parseRating(out)
	if !ok {
		j.logger.Warn("unparsable rating, using fallback",
			zap.String("output", out), zap.Int("fallback", j.fallback))
		return j.fallback, nil
	}
	return clampRating(n), nil
}

var ratingRe = regexp.MustCompile(`-?\d+`)

func parseRating(s string) (int, bool) {
	m := ratingRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}
