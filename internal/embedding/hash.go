package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultStaticDimension = 256

// Static is a deterministic bag-of-words embedder using signed feature
// hashing. Texts sharing words get similar vectors; no network is needed.
type Static struct {
	dim int
}

// NewStatic returns a Static embedder producing vectors of length dim.
func NewStatic(dim int) *Static {
	if dim <= 0 {
		dim = defaultStaticDimension
	}
	return &Static{dim: dim}
}

// Embed hashes every token of every text into a unit vector.
func (s *Static) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vector(t)
	}
	return out, nil
}

func (s *Static) Dimension() int { return s.dim }

func (s *Static) vector(text string) []float32 {
	v := make([]float32, s.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(s.dim))
		if sum>>63 == 1 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
