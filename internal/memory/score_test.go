package memory

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-2, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !approx(got, tt.want) {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosine_DimensionMismatch(t *testing.T) {
	_, err := Cosine([]float32{1, 2}, []float32{1, 2, 3})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestRecency_FloorsWholeHours(t *testing.T) {
	c := DefaultScoreConfig()
	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 1},
		{59 * time.Minute, 1},
		{time.Hour, 0.99},
		{119 * time.Minute, 0.99},
		{2 * time.Hour, 0.99 * 0.99},
		{-3 * time.Hour, 1},
	}
	for _, tt := range tests {
		if got := c.Recency(t0, t0.Add(tt.elapsed)); !approx(got, tt.want) {
			t.Errorf("Recency(%v) = %f, want %f", tt.elapsed, got, tt.want)
		}
	}
}

func TestInstancy_FloorsWholeMinutes(t *testing.T) {
	c := DefaultScoreConfig()
	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 1},
		{59 * time.Second, 1},
		{time.Minute, 0.9},
		{3*time.Minute + 30*time.Second, 0.9 * 0.9 * 0.9},
	}
	for _, tt := range tests {
		if got := c.Instancy(t0, t0.Add(tt.elapsed)); !approx(got, tt.want) {
			t.Errorf("Instancy(%v) = %f, want %f", tt.elapsed, got, tt.want)
		}
	}
}

func TestDecay_StrictlyDecreasingAcrossUnits(t *testing.T) {
	c := DefaultScoreConfig()
	prevR, prevI := 2.0, 2.0
	for i := 0; i < 50; i++ {
		r := c.Recency(t0, t0.Add(time.Duration(i)*time.Hour))
		in := c.Instancy(t0, t0.Add(time.Duration(i)*time.Minute))
		if r >= prevR || in >= prevI {
			t.Fatalf("step %d: recency %f (prev %f), instancy %f (prev %f)", i, r, prevR, in, prevI)
		}
		prevR, prevI = r, in
	}
}

func TestExplain(t *testing.T) {
	c := DefaultScoreConfig()
	el := NewElement(KindMemory, "bot_1", "x", []float32{1, 0}, 8, 2, t0)

	b, err := c.Explain([]float32{1, 0}, el, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(b.Recency, 1) || !approx(b.Instancy, 1) {
		t.Errorf("queried at creation: recency %f, instancy %f, want 1 and 1", b.Recency, b.Instancy)
	}
	if !approx(b.LongTerm, 0.8) || !approx(b.ShortTerm, 0.2) || !approx(b.Score, 0.8) {
		t.Errorf("got %+v", b)
	}

	// Immediacy dominates for a fresh, urgent, unimportant memory.
	urgent := NewElement(KindMemory, "bot_1", "y", []float32{1, 0}, 1, 9, t0)
	sc, _ := c.Score([]float32{0.5, 0}, urgent, t0)
	if !approx(sc, 0.9) {
		t.Errorf("got %f, want 0.9", sc)
	}
}

func TestScore_Bounded(t *testing.T) {
	c := DefaultScoreConfig()
	rng := rand.New(rand.NewSource(7))
	vec := func() []float32 {
		v := make([]float32, 8)
		for i := range v {
			v[i] = float32(rng.NormFloat64())
		}
		return v
	}
	for i := 0; i < 500; i++ {
		el := NewElement(KindMemory, "s", "x", vec(), rng.Intn(12)-1, rng.Intn(12)-1, t0)
		sc, err := c.Score(vec(), el, t0.Add(time.Duration(rng.Intn(10000))*time.Minute))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(sc) > 1+1e-9 {
			t.Fatalf("score %f out of [-1,1]", sc)
		}
	}
}
