package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

// seed adds one memory per content with the given relevance to the query
// "q", one minute apart.
func seed(t *testing.T, s *Store, emb *mapEmbedder, contents []string, rel []float64) {
	t.Helper()
	for i, c := range contents {
		emb.vecs[c] = unit(rel[i])
		el := NewElement(KindMemory, "bot_1", c, unit(rel[i]), 10, 1, t0.Add(time.Duration(i)*time.Minute))
		s.AddMemory(context.Background(), el)
	}
}

func TestQuery_ExactTopKOrderedByCreateTime(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string][]float32{"q": {1, 0}}, def: []float32{1, 0}}
	s := newTestStore(t, emb, nil, Options{})
	seed(t, s, emb, []string{"a", "b", "c", "d", "e"}, []float64{0.2, 0.8, 0.1, 0.9, 0.7})

	got, err := s.Query(context.Background(), []string{"q"}, 2, t0.Add(10*time.Minute), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// d scores highest but was created after b.
	if want := []string{"b", "d"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestQuery_KLargerThanStore(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string][]float32{"q": {1, 0}}, def: []float32{1, 0}}
	s := newTestStore(t, emb, nil, Options{})
	seed(t, s, emb, []string{"a", "b", "c"}, []float64{0.5, 0.6, 0.7})

	got, err := s.Query(context.Background(), []string{"q"}, 10, t0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestQuery_TiesKeepInsertionOrder(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string][]float32{"q": {1, 0}}, def: []float32{1, 0}}
	s := newTestStore(t, emb, nil, Options{})
	for _, c := range []string{"x", "y", "z"} {
		s.AddMemory(context.Background(), NewElement(KindMemory, "bot_1", c, []float32{1, 0}, 5, 1, t0))
	}
	got, err := s.Query(context.Background(), []string{"q"}, 2, t0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"x", "y"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestQuery_MultiTextTakesMax(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string][]float32{
		"q1": {1, 0},
		"q2": {0, 1},
		"a":  {1, 0},
		"b":  {0, 1},
		"c":  unit(0.5),
	}}
	s := newTestStore(t, emb, nil, Options{})
	for i, c := range []string{"a", "b", "c"} {
		s.AddMemory(context.Background(), NewElement(KindMemory, "bot_1", c, emb.vecs[c], 10, 1, t0.Add(time.Duration(i)*time.Second)))
	}

	got, err := s.Query(context.Background(), []string{"q1", "q2"}, 2, t0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestQuery_UpdatesLastAccessOfSelectedOnly(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string][]float32{"q": {1, 0}}, def: []float32{1, 0}}
	s := newTestStore(t, emb, nil, Options{})
	seed(t, s, emb, []string{"a", "b"}, []float64{0.9, 0.1})

	now := t0.Add(5 * time.Hour)
	if _, err := s.Query(context.Background(), []string{"q"}, 1, now, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	els := s.Elements()
	if !els[0].LastAccessTime.Equal(now) {
		t.Errorf("selected element last access = %v, want %v", els[0].LastAccessTime, now)
	}
	if !els[1].LastAccessTime.Equal(els[1].CreateTime) {
		t.Errorf("unselected element was touched: %v", els[1].LastAccessTime)
	}
}

func TestQuery_AccessTimeNeverBeforeCreation(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string][]float32{}, def: []float32{1, 0}}
	s := newTestStore(t, emb, nil, Options{})
	s.AddMemory(context.Background(), NewElement(KindMemory, "bot_1", "a", []float32{1, 0}, 5, 1, t0))

	if _, err := s.Query(context.Background(), []string{"q"}, 1, t0.Add(-time.Hour), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	el := s.Elements()[0]
	if el.LastAccessTime.Before(el.CreateTime) {
		t.Errorf("last access %v before creation %v", el.LastAccessTime, el.CreateTime)
	}
}

func TestQuery_Errors(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string][]float32{"q3": {1, 0, 0}}, def: []float32{1, 0}}
	s := newTestStore(t, emb, nil, Options{})
	s.AddMemory(context.Background(), NewElement(KindMemory, "bot_1", "a", []float32{1, 0}, 5, 1, t0))

	if _, err := s.Query(context.Background(), nil, 1, t0, 1); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("empty texts: got %v, want ErrEmptyQuery", err)
	}
	if _, err := s.Query(context.Background(), []string{"q"}, 1, t0, 1.5); !errors.Is(err, ErrInvalidNMSThreshold) {
		t.Errorf("bad threshold: got %v, want ErrInvalidNMSThreshold", err)
	}
	if _, err := s.Query(context.Background(), []string{"q3"}, 1, t0, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("mismatched query: got %v, want ErrDimensionMismatch", err)
	}
}

func TestQuery_EmptyStore(t *testing.T) {
	emb := &mapEmbedder{def: []float32{1, 0}}
	s := newTestStore(t, emb, nil, Options{})
	got, err := s.Query(context.Background(), []string{"q"}, 3, t0, DefaultNMSThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestQuery_SoftNMSPrefersDiverseResults(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string][]float32{"q": {1, 0}}}
	s := newTestStore(t, emb, nil, Options{})
	// a and b are near duplicates; c is less relevant but different.
	for i, c := range []struct {
		text string
		vec  []float32
	}{
		{"a", []float32{1, 0}},
		{"b", []float32{1, 0.001}},
		{"c", unit(0.6)},
	} {
		s.AddMemory(context.Background(), NewElement(KindMemory, "bot_1", c.text, c.vec, 10, 1, t0.Add(time.Duration(i)*time.Second)))
	}

	exact, err := s.Query(context.Background(), []string{"q"}, 2, t0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(exact, want) {
		t.Errorf("exact: got %v, want %v", exact, want)
	}

	diverse, err := s.Query(context.Background(), []string{"q"}, 2, t0, 0.9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"a", "c"}; !reflect.DeepEqual(diverse, want) {
		t.Errorf("soft-nms: got %v, want %v", diverse, want)
	}
}

func TestSoftNMS(t *testing.T) {
	scores := []float64{0.9, 0.85, 0.5}
	orig := append([]float64(nil), scores...)

	t.Run("similar neighbour is suppressed", func(t *testing.T) {
		vecs := [][]float32{{1, 0}, {1, 0}, {0, 1}}
		got, err := softNMS(scores, vecs, 2, 0.9)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []int{0, 2}; !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("dissimilar neighbour is unaffected", func(t *testing.T) {
		vecs := [][]float32{{1, 0}, {0, 1}, {0, 1}}
		got, err := softNMS(scores, vecs, 2, 0.9)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []int{0, 1}; !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("partial suppression", func(t *testing.T) {
		// sim(0,1) = 0.95 with threshold 0.9 halves 0.85 to 0.425 < 0.5.
		vecs := [][]float32{{1, 0}, unit(0.95), {0, 1}}
		got, err := softNMS(scores, vecs, 2, 0.9)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []int{0, 2}; !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	if !reflect.DeepEqual(scores, orig) {
		t.Errorf("input scores mutated: %v", scores)
	}
}

func TestTopK(t *testing.T) {
	got := topK([]float64{0.1, 0.5, 0.5, 0.9}, 3)
	if want := []int{3, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGetMemory(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string][]float32{"q": {1, 0}}, def: []float32{1, 0}}
	s := newTestStore(t, emb, nil, Options{})
	seed(t, s, emb, []string{"a", "b"}, []float64{0.3, 0.8})

	got, err := s.GetMemory(context.Background(), "q", t0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
