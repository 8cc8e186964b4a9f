package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultNMSThreshold is the similarity above which already-selected
// memories start suppressing their neighbours.
const DefaultNMSThreshold = 0.99

var (
	// ErrEmptyQuery is returned when Query is called without any query text.
	ErrEmptyQuery = errors.New("memory: empty query")
	// ErrInvalidNMSThreshold is returned for thresholds outside [0,1].
	ErrInvalidNMSThreshold = errors.New("memory: nms threshold must be within [0,1]")
)

// Query returns the contents of up to k memories most relevant to texts,
// ordered by creation time. nms == 1 disables diversity suppression.
func (s *Store) Query(ctx context.Context, texts []string, k int, now time.Time, nms float64) ([]string, error) {
	els, err := s.QueryElements(ctx, texts, k, now, nms)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(els))
	for i, el := range els {
		out[i] = el.Content
	}
	return out, nil
}

// GetMemory queries with a single text.
func (s *Store) GetMemory(ctx context.Context, content string, now time.Time, k int) ([]string, error) {
	if k <= 0 {
		k = 1
	}
	return s.Query(ctx, []string{content}, k, now, s.opts.NMSThreshold)
}

// QueryElements is Query returning copies of the selected elements.
func (s *Store) QueryElements(ctx context.Context, texts []string, k int, now time.Time, nms float64) ([]Element, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyQuery
	}
	if nms < 0 || nms > 1 {
		return nil, ErrInvalidNMSThreshold
	}
	if k > len(s.memories) {
		k = len(s.memories)
	}
	if k <= 0 {
		return []Element{}, nil
	}

	scores, err := s.scoreAll(ctx, texts, now)
	if err != nil {
		return nil, err
	}

	var picked []int
	if nms == 1 {
		picked = topK(scores, k)
	} else {
		vecs := make([][]float32, len(s.memories))
		for i, m := range s.memories {
			vecs[i] = m.Embedding
		}
		picked, err = softNMS(scores, vecs, k, nms)
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(picked, func(a, b int) bool {
		ta, tb := s.memories[picked[a]].CreateTime, s.memories[picked[b]].CreateTime
		if ta.Equal(tb) {
			return picked[a] < picked[b]
		}
		return ta.Before(tb)
	})

	out := make([]Element, len(picked))
	for i, idx := range picked {
		m := s.memories[idx]
		m.touch(now)
		out[i] = m.clone()
	}
	return out, nil
}

// Explain returns the per-factor score of every memory against text,
// without touching access times.
func (s *Store) Explain(ctx context.Context, text string, now time.Time) ([]Breakdown, error) {
	if text == "" {
		return nil, ErrEmptyQuery
	}
	vecs, err := s.embedQueries(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	out := make([]Breakdown, len(s.memories))
	for i, m := range s.memories {
		b, err := s.opts.Score.Explain(vecs[0], m, now)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", m.ID, err)
		}
		out[i] = b
	}
	return out, nil
}

func (s *Store) embedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	if s.deps.Embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	vecs, err := s.deps.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed query: expected %d vectors, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// scoreAll computes each memory's score as the maximum over all query texts.
func (s *Store) scoreAll(ctx context.Context, texts []string, now time.Time) ([]float64, error) {
	vecs, err := s.embedQueries(ctx, texts)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(s.memories))
	for qi, q := range vecs {
		for i, m := range s.memories {
			sc, err := s.opts.Score.Score(q, m, now)
			if err != nil {
				return nil, fmt.Errorf("score %s: %w", m.ID, err)
			}
			if qi == 0 || sc > scores[i] {
				scores[i] = sc
			}
		}
	}
	return scores, nil
}

// topK returns the indices of the k highest scores. Ties keep index order.
func topK(scores []float64, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	return idx[:k]
}

// softNMS greedily selects k indices. After each pick, every unpicked
// element whose embedding similarity to the pick reaches threshold has its
// score scaled by 1-(sim-threshold)/(1-threshold). scores is not modified.
func softNMS(scores []float64, vecs [][]float32, k int, threshold float64) ([]int, error) {
	work := append([]float64(nil), scores...)
	taken := make([]bool, len(work))
	picked := make([]int, 0, k)
	for len(picked) < k {
		best := -1
		for i, sc := range work {
			if taken[i] {
				continue
			}
			if best < 0 || sc > work[best] {
				best = i
			}
		}
		if best < 0 {
			break
		}
		taken[best] = true
		picked = append(picked, best)

		for j := range work {
			if taken[j] {
				continue
			}
			sim, err := Cosine(vecs[best], vecs[j])
			if err != nil {
				return nil, err
			}
			if sim >= threshold {
				work[j] *= max(0, 1-(sim-threshold)/(1-threshold))
			}
		}
	}
	return picked, nil
}
