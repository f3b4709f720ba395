package analysis

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumemate/backend/internal/llm"
	"github.com/resumemate/backend/internal/models"
	"github.com/resumemate/backend/internal/retrieval"
	"github.com/resumemate/backend/pkg/config"
)

type stubSearcher struct {
	outcome retrieval.Outcome
	err     error
	queries []string
}

func (s *stubSearcher) Retrieve(_ context.Context, query string, _ int) (retrieval.Outcome, error) {
	s.queries = append(s.queries, query)
	return s.outcome, s.err
}

type stubDrafter struct {
	out      llm.DraftOutput
	err      error
	requests []llm.DraftRequest
}

func (s *stubDrafter) Draft(_ context.Context, req llm.DraftRequest) (llm.DraftOutput, error) {
	s.requests = append(s.requests, req)
	return s.out, s.err
}

func results(scores ...float64) []models.SearchResult {
	out := make([]models.SearchResult, len(scores))
	for i, s := range scores {
		out[i] = models.SearchResult{DocID: string(rune('a' + i)), Score: s, Excerpt: "passage"}
	}
	return out
}

func question(text string) models.Question {
	return models.NewQuestion(text, "zh-TW", nil, "", 3)
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 0.77, Confidence([]float64{0.8, 0.7, 0.6}), 1e-9)
	assert.InDelta(t, 0.30, Confidence([]float64{0.5}), 1e-9)
	assert.InDelta(t, 0.8*(0.9*0.7+0.7*0.3), Confidence([]float64{0.9, 0.5}), 1e-9)
	assert.Zero(t, Confidence(nil))

	t.Run("Should not depend on result order", func(t *testing.T) {
		scores := []float64{0.62, 0.47, 0.92, 0.88, 0.11}
		want := Confidence(scores)
		r := rand.New(rand.NewSource(7))
		for i := 0; i < 20; i++ {
			shuffled := append([]float64(nil), scores...)
			r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
			assert.Equal(t, want, Confidence(shuffled))
		}
	})

	t.Run("Should give one value for every ordering near the escalation threshold", func(t *testing.T) {
		orders := [][]float64{
			{0.3, 0.3, 0.29, 0.43},
			{0.43, 0.3, 0.3, 0.29},
			{0.29, 0.43, 0.3, 0.3},
			{0.3, 0.43, 0.29, 0.3},
		}
		want := Confidence(orders[0])
		for _, scores := range orders[1:] {
			assert.Equal(t, want, Confidence(scores), "scores %v", scores)
		}
	})

	t.Run("Should leave the caller's slice untouched", func(t *testing.T) {
		scores := []float64{0.9, 0.1, 0.5}
		_ = Confidence(scores)
		assert.Equal(t, []float64{0.9, 0.1, 0.5}, scores)
	})
}

func TestSourceIDs(t *testing.T) {
	rs := []models.SearchResult{{DocID: "a"}, {DocID: "b"}, {DocID: "a"}, {DocID: ""}, {DocID: "c"}}
	assert.Equal(t, []string{"a", "b", "c"}, SourceIDs(rs, 5))
	assert.Equal(t, []string{"a", "b"}, SourceIDs(rs, 2))
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()

	t.Run("Should draft with computed confidence and sources", func(t *testing.T) {
		searcher := &stubSearcher{outcome: retrieval.Outcome{Results: results(0.8, 0.7, 0.6)}}
		drafter := &stubDrafter{out: llm.DraftOutput{DraftAnswer: " 我擅長 Go。 ", Sources: []string{"a", "zzz"}, Confidence: 0.9}}
		a := NewAnalyzer(searcher, drafter, Options{})

		got := a.Analyze(ctx, question("你有什麼技能？"))
		assert.Equal(t, models.CategorySkill, got.Category)
		assert.Equal(t, models.DecisionRetrieve, got.Decision)
		assert.InDelta(t, 0.77, got.Confidence, 1e-9)
		assert.Equal(t, []string{"a", "b", "c"}, got.Sources())
		assert.Equal(t, "我擅長 Go。", got.DraftAnswer)
		assert.Equal(t, []string{"a"}, got.Metadata["cited_sources"])
		require.Len(t, drafter.requests, 1)
		assert.Len(t, drafter.requests[0].Passages, 3)
		assert.Equal(t, []string{"你有什麼技能？"}, searcher.queries)
	})

	t.Run("Should use the fixed lookup for contact questions", func(t *testing.T) {
		searcher := &stubSearcher{}
		a := NewAnalyzer(searcher, &stubDrafter{}, Options{Owner: config.OwnerConfig{Email: "me@example.com"}})

		got := a.Analyze(ctx, question("如何聯絡你？"))
		assert.True(t, got.ContactLookup)
		assert.Equal(t, models.DecisionLookup, got.Decision)
		assert.Equal(t, 1.0, got.Confidence)
		assert.Contains(t, got.DraftAnswer, "me@example.com")
		assert.Equal(t, "contact_lookup", got.Metadata[models.MetaSource])
		assert.Empty(t, searcher.queries)
	})

	t.Run("Should route fact questions out of scope without searching", func(t *testing.T) {
		searcher := &stubSearcher{}
		got := NewAnalyzer(searcher, &stubDrafter{}, Options{}).Analyze(ctx, question("今天天氣如何？"))
		assert.Equal(t, models.DecisionOutOfScope, got.Decision)
		assert.Empty(t, searcher.queries)
	})

	t.Run("Should route insufficient retrieval out of scope", func(t *testing.T) {
		searcher := &stubSearcher{outcome: retrieval.Outcome{Results: results(0.25, 0.2)}}
		drafter := &stubDrafter{}
		got := NewAnalyzer(searcher, drafter, Options{}).Analyze(ctx, question("Tell me about your projects"))
		assert.Equal(t, models.DecisionOutOfScope, got.Decision)
		assert.Equal(t, 0.1, got.Confidence)
		assert.Empty(t, drafter.requests)
	})

	t.Run("Should mark degraded retrieval", func(t *testing.T) {
		searcher := &stubSearcher{outcome: retrieval.Outcome{Degraded: true}}
		got := NewAnalyzer(searcher, &stubDrafter{}, Options{}).Analyze(ctx, question("Tell me about your projects"))
		assert.True(t, got.Degraded)
	})

	t.Run("Should zero confidence and keep raw output on malformed drafts", func(t *testing.T) {
		searcher := &stubSearcher{outcome: retrieval.Outcome{Results: results(0.9, 0.9, 0.9)}}
		drafter := &stubDrafter{err: &llm.MalformedOutputError{Stage: "draft", Raw: "oops", Reason: "not a JSON object"}}
		got := NewAnalyzer(searcher, drafter, Options{}).Analyze(ctx, question("你有什麼技能？"))
		assert.Zero(t, got.Confidence)
		assert.Equal(t, "oops", got.Metadata[models.MetaRawOutput])
		assert.False(t, got.Degraded)
	})

	t.Run("Should mark draft transport failures as degraded", func(t *testing.T) {
		searcher := &stubSearcher{outcome: retrieval.Outcome{Results: results(0.9, 0.9, 0.9)}}
		drafter := &stubDrafter{err: errors.New("timeout")}
		got := NewAnalyzer(searcher, drafter, Options{}).Analyze(ctx, question("你有什麼技能？"))
		assert.True(t, got.Degraded)
		assert.Empty(t, got.DraftAnswer)
	})
}

func TestRevise(t *testing.T) {
	ctx := context.Background()
	searcher := &stubSearcher{outcome: retrieval.Outcome{Results: results(0.8, 0.7, 0.6)}}
	drafter := &stubDrafter{out: llm.DraftOutput{DraftAnswer: "first"}}
	a := NewAnalyzer(searcher, drafter, Options{})
	q := question("你有什麼技能？")

	first := a.Analyze(ctx, q)
	drafter.out = llm.DraftOutput{DraftAnswer: "second"}
	revised := a.Revise(ctx, q, first, []string{"too long"})

	assert.Equal(t, "second", revised.DraftAnswer)
	assert.Equal(t, 1, revised.Revision)
	assert.Equal(t, first.Confidence, revised.Confidence)
	assert.Equal(t, first.Sources(), revised.Sources())
	assert.Equal(t, "first", first.DraftAnswer)
	require.Len(t, drafter.requests, 2)
	assert.Equal(t, "first", drafter.requests[1].PreviousDraft)
	assert.Equal(t, []string{"too long"}, drafter.requests[1].Suggestions)
	assert.Len(t, searcher.queries, 1)
}
