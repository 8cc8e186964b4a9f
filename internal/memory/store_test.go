package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAddMessage_InitialisesElement(t *testing.T) {
	emb := &mapEmbedder{def: []float32{0.3, 0.4}}
	s := newTestStore(t, emb, nil, Options{})

	if err := s.AddMessage(context.Background(), Message{Sender: "bot_2", Content: "enemy_1 is at (3, 4)"}, t0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	els := s.Elements()
	if len(els) != 1 {
		t.Fatalf("got %d elements, want 1", len(els))
	}
	el := els[0]
	if el.Content != "bot_2: enemy_1 is at (3, 4)" {
		t.Errorf("content = %q", el.Content)
	}
	if !el.LastAccessTime.Equal(el.CreateTime) || !el.CreateTime.Equal(t0) {
		t.Errorf("create %v, last access %v, want both %v", el.CreateTime, el.LastAccessTime, t0)
	}
	if el.Kind != KindMemory || el.Subject != "bot_1" || el.ID == "" {
		t.Errorf("unexpected element %+v", el)
	}
	if el.Importance != 5 || el.Immediacy != 1 {
		t.Errorf("importance %d, immediacy %d, want 5 and 1", el.Importance, el.Immediacy)
	}
	if s.AccumulatedImportance() != 5 {
		t.Errorf("accumulated = %d, want 5", s.AccumulatedImportance())
	}
}

func TestAddMessage_PropagatesJudgeError(t *testing.T) {
	boom := errors.New("llm down")
	s := NewStore(Deps{
		Embedder:   &mapEmbedder{def: []float32{1}},
		Importance: JudgeFunc(func(context.Context, string) (int, error) { return 0, boom }),
	}, Options{}, nil)

	err := s.AddPlan(context.Background(), "guard the gate", t0)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped %v", err, boom)
	}
	if s.Len() != 0 {
		t.Errorf("failed add left %d elements", s.Len())
	}
}

func TestAddMemory_Accumulator(t *testing.T) {
	s := newTestStore(t, &mapEmbedder{def: []float32{1}}, nil, Options{})
	ctx := context.Background()

	s.AddMemory(ctx, NewElement(KindMemory, "", "a", []float32{1}, 7, 1, t0))
	s.AddMemory(ctx, NewElement(KindMemory, "", "b", []float32{1}, 4, 1, t0))
	if got := s.AccumulatedImportance(); got != 11 {
		t.Fatalf("accumulated = %d, want 11", got)
	}
	s.AddMemory(ctx, NewElement(KindReflection, "", "insight", []float32{1}, 9, 1, t0))
	if got := s.AccumulatedImportance(); got != 0 {
		t.Fatalf("after reflection accumulated = %d, want 0", got)
	}
	s.AddMemory(ctx, NewElement(KindMemory, "", "c", []float32{1}, 3, 1, t0))
	if got := s.AccumulatedImportance(); got != 3 {
		t.Fatalf("accumulated = %d, want 3", got)
	}
	if got := s.Elements()[0].Subject; got != "bot_1" {
		t.Errorf("subject = %q, want store subject", got)
	}
}

func TestReset(t *testing.T) {
	for _, tt := range []struct {
		name  string
		reset bool
		want  int
	}{
		{"keeps accumulator by default", false, 12},
		{"clears accumulator when configured", true, 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, &mapEmbedder{def: []float32{1}}, nil, Options{ResetAccumulator: tt.reset})
			s.AddMemory(context.Background(), NewElement(KindMemory, "", "a", []float32{1}, 12, 1, t0))
			s.Reset()
			if s.Len() != 0 {
				t.Errorf("len = %d, want 0", s.Len())
			}
			if got := s.AccumulatedImportance(); got != tt.want {
				t.Errorf("accumulated = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRestore_DerivesAccumulatorSinceLastReflection(t *testing.T) {
	s := newTestStore(t, &mapEmbedder{def: []float32{1}}, nil, Options{})
	els := []Element{
		*NewElement(KindMemory, "bot_1", "a", []float32{1}, 10, 1, t0),
		*NewElement(KindReflection, "bot_1", "r", []float32{1}, 10, 1, t0),
		*NewElement(KindMemory, "bot_1", "b", []float32{1}, 4, 1, t0),
		*NewElement(KindMemory, "bot_1", "c", []float32{1}, 6, 1, t0),
	}
	s.Restore(els)
	if s.Len() != 4 {
		t.Fatalf("len = %d, want 4", s.Len())
	}
	if got := s.AccumulatedImportance(); got != 10 {
		t.Errorf("accumulated = %d, want 10", got)
	}

	s.Restore(els[:1])
	if got := s.AccumulatedImportance(); got != 10 {
		t.Errorf("no reflection: accumulated = %d, want 10", got)
	}
}

func TestHooksSeeEveryAppend(t *testing.T) {
	s := newTestStore(t, &mapEmbedder{def: []float32{1}}, nil, Options{})
	var seen []string
	s.AddHook(HookFunc(func(_ context.Context, el Element) error {
		seen = append(seen, el.Content)
		return nil
	}))
	s.AddHook(HookFunc(func(context.Context, Element) error { return errors.New("ignored") }))

	if err := s.AddPlan(context.Background(), "patrol the north", t0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.AddMemory(context.Background(), NewElement(KindMemory, "", "x", []float32{1}, 1, 1, t0.Add(time.Minute)))
	if len(seen) != 2 || seen[0] != "patrol the north" || seen[1] != "x" {
		t.Errorf("hook saw %v", seen)
	}
}

func TestRecentAndString(t *testing.T) {
	s := newTestStore(t, &mapEmbedder{def: []float32{1}}, nil, Options{})
	for _, c := range []string{"a", "b", "c"} {
		s.AddMemory(context.Background(), NewElement(KindMemory, "", c, []float32{1}, 1, 1, t0))
	}
	r := s.Recent(2)
	if len(r) != 2 || r[0].Content != "b" || r[1].Content != "c" {
		t.Errorf("Recent(2) = %+v", r)
	}
	if len(s.Recent(10)) != 3 {
		t.Errorf("Recent(10) should return everything")
	}
	if got := s.String(); got != "a\nb\nc\n" {
		t.Errorf("String() = %q", got)
	}
}

func TestElementsAreCopies(t *testing.T) {
	s := newTestStore(t, &mapEmbedder{def: []float32{1}}, nil, Options{})
	s.AddMemory(context.Background(), NewElement(KindMemory, "", "a", []float32{1, 2}, 1, 1, t0))
	els := s.Elements()
	els[0].Content = "changed"
	els[0].Embedding[0] = 99
	if again := s.Elements()[0]; again.Content != "a" || again.Embedding[0] != 1 {
		t.Errorf("store mutated through copy: %+v", again)
	}
}

func TestLLMJudge(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   int
	}{
		{"plain number", "7", 7},
		{"number in prose", "Rating: 8 because it matters", 8},
		{"clamped high", "42", 10},
		{"clamped low", "0", 1},
		{"unparsable falls back", "no idea", DefaultRating},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewImportanceJudge(CompleterFunc(func(context.Context, string) (string, error) {
				return tt.answer, nil
			}), nil)
			got, err := j.Rate(context.Background(), "enemy_3 attacked bot_1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLLMJudge_FallbackAndError(t *testing.T) {
	j := NewImmediacyJudge(CompleterFunc(func(context.Context, string) (string, error) {
		return "", nil
	}), nil).WithFallback(2)
	if got, _ := j.Rate(context.Background(), "x"); got != 2 {
		t.Errorf("got %d, want fallback 2", got)
	}

	boom := errors.New("timeout")
	j = NewImmediacyJudge(CompleterFunc(func(context.Context, string) (string, error) {
		return "", boom
	}), nil)
	if _, err := j.Rate(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
}
