package evaluation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumemate/backend/internal/llm"
	"github.com/resumemate/backend/internal/models"
)

type stubReviewer struct {
	out   llm.ReviewOutput
	err   error
	calls int
}

func (s *stubReviewer) Review(_ context.Context, _ llm.ReviewRequest) (llm.ReviewOutput, error) {
	s.calls++
	return s.out, s.err
}

func question(text string) models.Question {
	return models.NewQuestion(text, "zh-TW", nil, "", 3)
}

func analysis(confidence float64, sources []string, draft string) models.AnalysisResult {
	return models.AnalysisResult{
		Category:    models.CategorySkill,
		Decision:    models.DecisionRetrieve,
		Confidence:  confidence,
		DraftAnswer: draft,
		Metadata:    map[string]any{models.MetaSources: sources},
	}
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	q := question("你有什麼技能？")
	ev := NewEvaluator(nil, Options{})

	t.Run("Should deliver a confident grounded draft", func(t *testing.T) {
		res := ev.Evaluate(ctx, q, analysis(0.77, []string{"a", "b"}, "我擅長 Go 與 Kubernetes。"))
		assert.Equal(t, models.StatusOK, res.Status)
		assert.Equal(t, "我擅長 Go 與 Kubernetes。", res.FinalAnswer)
		assert.Equal(t, []string{"a", "b"}, res.Sources)
		assert.InDelta(t, 0.77, res.Confidence, 1e-9)
		assert.Equal(t, q.Text, res.Metadata[models.MetaOriginalQuestion])
		assert.InDelta(t, 0.77, res.Metadata[models.MetaAnalysisConfidence], 1e-9)
	})

	t.Run("Should escalate low confidence and keep it", func(t *testing.T) {
		res := ev.Evaluate(ctx, q, analysis(0.30, []string{"a"}, "我會 Go。"))
		assert.Equal(t, models.StatusEscalate, res.Status)
		assert.InDelta(t, 0.30, res.Confidence, 1e-9)
		assert.Equal(t, EscalationMessage(models.LanguageZhTW), res.FinalAnswer)
	})

	t.Run("Should escalate without sources", func(t *testing.T) {
		res := ev.Evaluate(ctx, q, analysis(0.9, nil, "我會 Go。"))
		assert.Equal(t, models.StatusEscalate, res.Status)
		assert.Equal(t, "no_sources", res.Metadata[models.MetaReason])
		assert.NotNil(t, res.Sources)
	})

	t.Run("Should ask for clarification on partial evidence", func(t *testing.T) {
		res := ev.Evaluate(ctx, q, analysis(0.55, []string{"a"}, "我會 Go。"))
		assert.Equal(t, models.StatusNeedsClarification, res.Status)
		assert.Equal(t, []string{"technology", "usage_context"}, res.Metadata[models.MetaMissingFields])
		assert.Contains(t, res.FinalAnswer, "哪一項技術或工具")
	})

	t.Run("Should treat the thresholds as half-open", func(t *testing.T) {
		assert.Equal(t, models.StatusNeedsClarification, ev.Evaluate(ctx, q, analysis(0.4, []string{"a"}, "我會 Go。")).Status)
		assert.Equal(t, models.StatusOK, ev.Evaluate(ctx, q, analysis(0.7, []string{"a"}, "我會 Go。")).Status)
	})

	t.Run("Should request edits for objective phrasing", func(t *testing.T) {
		res := ev.Evaluate(ctx, q, analysis(0.9, []string{"a"}, "根據履歷，他會 Go。"))
		assert.Equal(t, models.StatusNeedsEdit, res.Status)
		require.Len(t, res.Suggestions, 1)
		assert.Contains(t, res.Suggestions[0], "根據履歷")
	})

	t.Run("Should request edits for an empty draft", func(t *testing.T) {
		res := ev.Evaluate(ctx, q, analysis(0.9, []string{"a"}, "  "))
		assert.Equal(t, models.StatusNeedsEdit, res.Status)
		assert.NotEmpty(t, res.Suggestions)
	})

	t.Run("Should deliver contact lookups without sources", func(t *testing.T) {
		a := models.AnalysisResult{
			Category:      models.CategoryContact,
			Decision:      models.DecisionLookup,
			Confidence:    1.0,
			ContactLookup: true,
			DraftAnswer:   "你可以透過 me@example.com 與我聯絡。",
			Metadata:      map[string]any{models.MetaSources: []string{}},
		}
		res := ev.Evaluate(ctx, question("如何聯絡你？"), a)
		assert.Equal(t, models.StatusOK, res.Status)
		assert.Empty(t, res.Sources)
		assert.Equal(t, "contact_lookup", res.Metadata[models.MetaSource])
	})

	t.Run("Should escalate degraded analysis with its confidence", func(t *testing.T) {
		a := analysis(0.8, []string{"a"}, "")
		a.Degraded = true
		a.Metadata[models.MetaReason] = "draft_unavailable"
		res := ev.Evaluate(ctx, q, a)
		assert.Equal(t, models.StatusEscalate, res.Status)
		assert.InDelta(t, 0.8, res.Confidence, 1e-9)
		assert.Equal(t, "draft_unavailable", res.Metadata[models.MetaReason])
	})

	t.Run("Should escalate malformed drafts and keep the payload", func(t *testing.T) {
		a := analysis(0, []string{"a"}, "")
		a.Metadata[models.MetaRawOutput] = "{not json"
		res := ev.Evaluate(ctx, q, a)
		assert.Equal(t, models.StatusEscalate, res.Status)
		assert.Zero(t, res.Confidence)
		assert.Equal(t, "{not json", res.Metadata[models.MetaRawOutput])
	})
}

func TestEvaluateWithReviewer(t *testing.T) {
	ctx := context.Background()
	q := question("你有什麼技能？")
	a := analysis(0.85, []string{"a", "b"}, "我擅長 Go。")

	t.Run("Should adopt the polished answer", func(t *testing.T) {
		r := &stubReviewer{out: llm.ReviewOutput{FinalAnswer: "我最擅長的是 Go。", Sources: []string{"a", "x"}, Status: models.StatusOK, Confidence: 0.9}}
		res := NewEvaluator(r, Options{}).Evaluate(ctx, q, a)
		assert.Equal(t, models.StatusOK, res.Status)
		assert.Equal(t, "我最擅長的是 Go。", res.FinalAnswer)
		assert.Equal(t, []string{"a"}, res.Metadata["cited_sources"])
		assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	})

	t.Run("Should adopt a stricter reviewer status", func(t *testing.T) {
		r := &stubReviewer{out: llm.ReviewOutput{Status: models.StatusNeedsEdit}}
		res := NewEvaluator(r, Options{}).Evaluate(ctx, q, a)
		assert.Equal(t, models.StatusNeedsEdit, res.Status)
		assert.Equal(t, []string{"cite at least one retrieved source for the key facts"}, res.Suggestions)
	})

	t.Run("Should escalate malformed reviewer output with zero confidence", func(t *testing.T) {
		r := &stubReviewer{err: &llm.MalformedOutputError{Stage: "review", Raw: "garbage", Reason: "not a JSON object"}}
		res := NewEvaluator(r, Options{}).Evaluate(ctx, q, a)
		assert.Equal(t, models.StatusEscalate, res.Status)
		assert.Zero(t, res.Confidence)
		assert.Equal(t, "garbage", res.Metadata[models.MetaRawOutput])
	})

	t.Run("Should escalate when the reviewer is unavailable", func(t *testing.T) {
		r := &stubReviewer{err: errors.New("connection reset")}
		res := NewEvaluator(r, Options{}).Evaluate(ctx, q, a)
		assert.Equal(t, models.StatusEscalate, res.Status)
		assert.InDelta(t, 0.85, res.Confidence, 1e-9)
		assert.NotContains(t, res.FinalAnswer, "connection reset")
	})

	t.Run("Should not call the reviewer for rejected drafts", func(t *testing.T) {
		r := &stubReviewer{}
		NewEvaluator(r, Options{}).Evaluate(ctx, q, analysis(0.2, []string{"a"}, "x"))
		assert.Zero(t, r.calls)
	})
}

func TestTerminalRoutes(t *testing.T) {
	ev := NewEvaluator(nil, Options{})
	q := models.NewQuestion("What is the capital of France?", "en", nil, "", 3)

	t.Run("Should build out of scope results", func(t *testing.T) {
		a := models.AnalysisResult{Category: models.CategoryFact, Decision: models.DecisionOutOfScope, Confidence: 0.1, Metadata: map[string]any{}}
		res := ev.EvaluateOutOfScope(q, a)
		assert.Equal(t, models.StatusOutOfScope, res.Status)
		assert.Equal(t, OutOfScopeMessage(models.LanguageEN), res.FinalAnswer)
		assert.Equal(t, "not_in_knowledge_base", res.Metadata[models.MetaReason])
		assert.InDelta(t, 0.1, res.Metadata[models.MetaAnalysisConfidence], 1e-9)
	})

	t.Run("Should build clarification results", func(t *testing.T) {
		a := models.AnalysisResult{Category: models.CategoryOther, Decision: models.DecisionClarify, Metadata: map[string]any{}}
		res := ev.EvaluateClarify(q, a)
		assert.Equal(t, models.StatusNeedsClarification, res.Status)
		assert.Equal(t, []string{"topic"}, res.Metadata[models.MetaMissingFields])
		assert.True(t, strings.HasPrefix(res.FinalAnswer, "Could you"))
	})
}

func TestCheckDraft(t *testing.T) {
	assert.Empty(t, CheckDraft("我擅長 Go。", 600))
	assert.Len(t, CheckDraft(strings.Repeat("字", 11), 10), 1)
	assert.Empty(t, CheckDraft(strings.Repeat("字", 10), 10))
	assert.Len(t, CheckDraft("According to the resume, I know Go.", 600), 1)
}
