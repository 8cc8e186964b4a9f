package memory

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

var t0 = time.Date(2023, 4, 1, 8, 0, 0, 0, time.UTC)

// mapEmbedder returns fixed vectors per text and def for anything unknown.
type mapEmbedder struct {
	vecs  map[string][]float32
	def   []float32
	calls int
}

func (m *mapEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.vecs[t]; ok {
			out[i] = v
			continue
		}
		out[i] = m.def
	}
	return out, nil
}

// unit returns a 2-d unit vector whose cosine with (1,0) is c.
func unit(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

// scriptedLLM answers the question and insight prompts with canned text.
func scriptedLLM(questions, insights string) CompleterFunc {
	return func(_ context.Context, prompt string) (string, error) {
		switch {
		case strings.HasSuffix(prompt, questionPrompt):
			return questions, nil
		case strings.HasSuffix(prompt, insightPrompt):
			return insights, nil
		}
		return "5", nil
	}
}

func newTestStore(t *testing.T, emb Embedder, llm Completer, opts Options) *Store {
	t.Helper()
	if opts.Subject == "" {
		opts.Subject = "bot_1"
	}
	return NewStore(Deps{
		Embedder:   emb,
		Importance: FixedJudge(5),
		Immediacy:  FixedJudge(1),
		LLM:        llm,
	}, opts, zap.NewNop())
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }
