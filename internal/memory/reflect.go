package memory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// RejectBelowThreshold is reported when too little has happened since the last reflection.
	RejectBelowThreshold = "reflection reject: prevent duplicate reflecting result"
	// RejectEmpty is reported when there is nothing to reflect on.
	RejectEmpty = "reflection reject: empty memories"

	reflectWindow         = 100
	maxQuestions          = 3
	statementsPerQuestion = 10
	maxInsights           = 5
)

// ErrNoQuestions is returned when the model produced no usable question.
var ErrNoQuestions = errors.New("memory: reflection produced no questions")

// ReflectResult describes one reflection attempt.
type ReflectResult struct {
	Rejected bool   `json:"rejected"`
	Reason   string `json:"reason,omitempty"`
	// Questions are the focal points the statements were retrieved for.
	Questions []string  `json:"questions,omitempty"`
	Insights  []Element `json:"insights,omitempty"`
}

// InsightTexts returns the content of every generated insight.
func (r *ReflectResult) InsightTexts() []string {
	out := make([]string, len(r.Insights))
	for i, el := range r.Insights {
		out[i] = el.Content
	}
	return out
}

// Reflect synthesises insights from recent memories once enough importance
// has accumulated. A rejection is reported in the result, not as an error.
func (s *Store) Reflect(ctx context.Context, now time.Time) (*ReflectResult, error) {
	if s.accumulated < s.opts.ImportanceThreshold {
		s.logger.Debug("reflection rejected",
			zap.Int("accumulated", s.accumulated), zap.Int("threshold", s.opts.ImportanceThreshold))
		return &ReflectResult{Rejected: true, Reason: RejectBelowThreshold}, nil
	}
	if len(s.memories) == 0 {
		s.logger.Debug("reflection rejected, store empty")
		return &ReflectResult{Rejected: true, Reason: RejectEmpty}, nil
	}
	if s.deps.LLM == nil {
		return nil, fmt.Errorf("reflect: no language model configured")
	}

	recent := s.memories
	if len(recent) > reflectWindow {
		recent = recent[len(recent)-reflectWindow:]
	}
	texts := make([]string, len(recent))
	for i, m := range recent {
		texts[i] = m.Content
	}

	questions, err := s.questions(ctx, texts)
	if err != nil {
		return nil, err
	}

	statements, err := s.QueryElements(ctx, questions, statementsPerQuestion*len(questions), now, s.opts.NMSThreshold)
	if err != nil {
		return nil, fmt.Errorf("reflect: retrieve statements: %w", err)
	}

	drafts, err := s.insights(ctx, statements)
	if err != nil {
		return nil, err
	}

	res := &ReflectResult{Questions: questions}
	for _, d := range drafts {
		el, err := s.create(ctx, KindReflection, d.text, now)
		if err != nil {
			return nil, fmt.Errorf("reflect: %w", err)
		}
		el.Evidence = d.evidence
		s.AddMemory(ctx, el)
		res.Insights = append(res.Insights, el.clone())
	}
	// The insight step ran, so the accumulated importance is spent even
	// when every line was unusable.
	s.accumulated = 0

	s.logger.Info("reflection complete",
		zap.Int("questions", len(questions)),
		zap.Int("statements", len(statements)),
		zap.Strings("insights", res.InsightTexts()))
	return res, nil
}

func (s *Store) questions(ctx context.Context, texts []string) ([]string, error) {
	prompt := strings.Join(texts, "\n") + "\n" + questionPrompt
	out, err := s.deps.LLM.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("reflect: generate questions: %w", err)
	}
	qs := nonEmptyLines(out, maxQuestions)
	if len(qs) == 0 {
		return nil, ErrNoQuestions
	}
	return qs, nil
}

type insightDraft struct {
	text     string
	evidence []string
}

func (s *Store) insights(ctx context.Context, statements []Element) ([]insightDraft, error) {
	var sb strings.Builder
	for i, st := range statements {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, st.Content)
	}
	sb.WriteString(insightPrompt)

	out, err := s.deps.LLM.Complete(ctx, sb.String())
	if err != nil {
		return nil, fmt.Errorf("reflect: generate insights: %w", err)
	}

	var drafts []insightDraft
	for _, line := range nonEmptyLines(out, maxInsights) {
		text, refs := parseInsight(line)
		if text == "" {
			continue
		}
		d := insightDraft{text: text}
		for _, n := range refs {
			if n >= 1 && n <= len(statements) {
				d.evidence = appendUnique(d.evidence, statements[n-1].ID)
			}
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

var (
	listPrefixRe = regexp.MustCompile(`^\s*(?:\d+\s*[.)]|[-*•])\s*`)
	citationRe   = regexp.MustCompile(`\s*\(([^()]*)\)[\s.;:!]*$`)
	numberRe     = regexp.MustCompile(`\d+`)
)

// parseInsight strips a list marker and a trailing "(because of 1, 5)"
// citation, returning the bare text and the cited statement numbers.
// Everything from the last "(because of" on is the citation, whatever
// follows it; otherwise a final parenthesised group counts.
func parseInsight(line string) (string, []int) {
	text := listPrefixRe.ReplaceAllString(line, "")
	var cite string
	if i := strings.LastIndex(strings.ToLower(text), "(because"); i >= 0 {
		text, cite = text[:i], text[i:]
	} else if m := citationRe.FindStringSubmatchIndex(text); m != nil {
		text, cite = text[:m[0]], text[m[2]:m[3]]
	}
	var refs []int
	for _, num := range numberRe.FindAllString(cite, -1) {
		if n, err := strconv.Atoi(num); err == nil {
			refs = append(refs, n)
		}
	}
	return strings.TrimSpace(text), refs
}

func nonEmptyLines(s string, limit int) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(line))
		if len(out) == limit {
			break
		}
	}
	return out
}

func appendUnique(xs []string, x string) []string {
	for _, v := range xs {
		if v == x {
			return xs
		}
	}
	return append(xs, x)
}
