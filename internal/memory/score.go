package memory

import (
	"errors"
	"math"
	"time"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

// ScoreConfig holds the decay bases used by the scorer.
type ScoreConfig struct {
	// RecencyBase decays per whole hour since last access.
	RecencyBase float64 `json:"recency_base"`
	// InstancyBase decays per whole minute since creation.
	InstancyBase float64 `json:"instancy_base"`
}

// DefaultScoreConfig returns the standard 0.99 / 0.90 decay bases.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{RecencyBase: 0.99, InstancyBase: 0.90}
}

func (c ScoreConfig) withDefaults() ScoreConfig {
	d := DefaultScoreConfig()
	if c.RecencyBase <= 0 || c.RecencyBase > 1 {
		c.RecencyBase = d.RecencyBase
	}
	if c.InstancyBase <= 0 || c.InstancyBase > 1 {
		c.InstancyBase = d.InstancyBase
	}
	return c
}

// Breakdown exposes every factor that went into a score.
type Breakdown struct {
	Relevance float64 `json:"relevance"`
	Recency   float64 `json:"recency"`
	Instancy  float64 `json:"instancy"`
	LongTerm  float64 `json:"long_term"`
	ShortTerm float64 `json:"short_term"`
	Score     float64 `json:"score"`
}

// Recency returns RecencyBase^floor(hours since last access).
func (c ScoreConfig) Recency(lastAccess, now time.Time) float64 {
	return math.Pow(c.RecencyBase, float64(wholeUnits(now.Sub(lastAccess), time.Hour)))
}

// Instancy returns InstancyBase^floor(minutes since creation).
func (c ScoreConfig) Instancy(created, now time.Time) float64 {
	return math.Pow(c.InstancyBase, float64(wholeUnits(now.Sub(created), time.Minute)))
}

// Explain scores el against the query vector q at time now.
func (c ScoreConfig) Explain(q []float32, el *Element, now time.Time) (Breakdown, error) {
	rel, err := Cosine(q, el.Embedding)
	if err != nil {
		return Breakdown{}, err
	}
	b := Breakdown{
		Relevance: rel,
		Recency:   c.Recency(el.LastAccessTime, now),
		Instancy:  c.Instancy(el.CreateTime, now),
	}
	b.LongTerm = b.Recency * float64(el.Importance) / 10
	b.ShortTerm = b.Instancy * float64(el.Immediacy) / 10
	b.Score = b.Relevance * math.Max(b.LongTerm, b.ShortTerm)
	return b, nil
}

// Score is Explain reduced to the final value.
func (c ScoreConfig) Score(q []float32, el *Element, now time.Time) (float64, error) {
	b, err := c.Explain(q, el, now)
	return b.Score, err
}

// Cosine returns the cosine similarity of a and b. A zero vector has
// similarity 0 with everything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// wholeUnits floors d to a count of unit. Negative durations count as zero.
func wholeUnits(d, unit time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / unit)
}
