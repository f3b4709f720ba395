package evaluation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/llm"
	"github.com/resumemate/backend/internal/models"
	"github.com/resumemate/backend/pkg/logger"
	"github.com/resumemate/backend/pkg/utils"
)

const (
	EscalateBelow      = 0.4
	OKAtOrAbove        = 0.7
	ContactLookupAbove = 0.8
)

// Reviewer polishes an accepted draft. A nil Reviewer skips the review.
type Reviewer interface {
	Review(ctx context.Context, req llm.ReviewRequest) (llm.ReviewOutput, error)
}

type Options struct {
	MaxDraftRunes int
	OwnerName     string
}

type Evaluator struct {
	reviewer Reviewer
	opts     Options
}

func NewEvaluator(reviewer Reviewer, opts Options) *Evaluator {
	if opts.MaxDraftRunes <= 0 {
		opts.MaxDraftRunes = DefaultMaxDraftRunes
	}
	return &Evaluator{reviewer: reviewer, opts: opts}
}

// Evaluate applies the delivery rules to a retrieve or lookup analysis.
// The first matching rule decides the status.
func (e *Evaluator) Evaluate(ctx context.Context, q models.Question, a models.AnalysisResult) models.EvaluationResult {
	hash := utils.ShortHash(utils.NormalizeText(q.Text))
	sources := sourcesOf(a)

	switch {
	case a.Degraded:
		reason, _ := a.Metadata[models.MetaReason].(string)
		if reason == "" {
			reason = "upstream_unavailable"
		}
		return e.Escalate(q, a, reason)

	case a.ContactLookup || (a.Category == models.CategoryContact && a.Confidence > ContactLookupAbove):
		res := e.result(q, a, models.StatusOK, "contact_lookup")
		res.FinalAnswer = a.DraftAnswer
		res.Sources = sources
		res.Metadata[models.MetaSource] = "contact_lookup"
		return res

	case a.Confidence < EscalateBelow || len(sources) == 0:
		reason := "low_confidence"
		if len(sources) == 0 {
			reason = "no_sources"
		}
		if _, malformed := a.Metadata[models.MetaRawOutput]; malformed {
			reason = "malformed_output"
		}
		return e.Escalate(q, a, reason)

	case a.Confidence < OKAtOrAbove:
		return e.clarify(q, a, "partial_evidence")
	}

	if suggestions := CheckDraft(a.DraftAnswer, e.opts.MaxDraftRunes); len(suggestions) > 0 {
		logger.Debug("Draft needs edit",
			zap.String("question_hash", hash),
			zap.Strings("suggestions", suggestions),
		)
		res := e.result(q, a, models.StatusNeedsEdit, "draft_quality")
		res.FinalAnswer = a.DraftAnswer
		res.Sources = sources
		res.Suggestions = suggestions
		return res
	}

	res := e.result(q, a, models.StatusOK, "grounded_answer")
	res.FinalAnswer = strings.TrimSpace(a.DraftAnswer)
	res.Sources = sources
	if e.reviewer == nil {
		return res
	}
	return e.review(ctx, q, a, res)
}

func (e *Evaluator) review(ctx context.Context, q models.Question, a models.AnalysisResult, accepted models.EvaluationResult) models.EvaluationResult {
	hash := utils.ShortHash(utils.NormalizeText(q.Text))

	passages := make([]llm.Passage, 0, len(a.Retrievals))
	for _, r := range a.Retrievals {
		passages = append(passages, llm.Passage{ID: r.DocID, Text: r.Excerpt})
	}

	out, err := e.reviewer.Review(ctx, llm.ReviewRequest{
		OwnerName:          e.opts.OwnerName,
		Question:           q.Text,
		Language:           q.Language,
		Category:           a.Category,
		DraftAnswer:        accepted.FinalAnswer,
		Sources:            accepted.Sources,
		AnalysisConfidence: a.Confidence,
		Passages:           passages,
	})
	if err != nil {
		if m, ok := llm.AsMalformed(err); ok {
			res := e.Escalate(q, a, "malformed_review")
			res.Confidence = 0
			res.Metadata[models.MetaRawOutput] = m.Raw
			return res
		}
		logger.Error("Review failed",
			zap.String("question_hash", hash),
			zap.String("stage", "review"),
			zap.Error(err),
		)
		return e.Escalate(q, a, "review_unavailable")
	}

	status := models.Stricter(models.StatusOK, out.Status)
	switch status {
	case models.StatusOK:
		if text := strings.TrimSpace(out.FinalAnswer); text != "" {
			accepted.FinalAnswer = text
		}
		if cited := keepKnown(out.Sources, accepted.Sources); len(cited) > 0 {
			accepted.Metadata["cited_sources"] = cited
		}
		accepted.Metadata["review_confidence"] = out.Confidence
		return accepted
	case models.StatusNeedsEdit:
		res := e.result(q, a, models.StatusNeedsEdit, "review_requested_edit")
		res.FinalAnswer = accepted.FinalAnswer
		res.Sources = accepted.Sources
		res.Suggestions = reviewSuggestions(out)
		return res
	case models.StatusNeedsClarification:
		return e.clarify(q, a, "review_requested_clarification")
	case models.StatusOutOfScope:
		return e.EvaluateOutOfScope(q, a)
	default:
		return e.Escalate(q, a, "review_escalated")
	}
}

// EvaluateOutOfScope builds the terminal result for questions the
// knowledge base does not cover.
func (e *Evaluator) EvaluateOutOfScope(q models.Question, a models.AnalysisResult) models.EvaluationResult {
	reason, _ := a.Metadata[models.MetaReason].(string)
	if reason == "" {
		reason = "not_in_knowledge_base"
	}
	res := e.result(q, a, models.StatusOutOfScope, reason)
	res.FinalAnswer = OutOfScopeMessage(q.Language)
	return res
}

// EvaluateClarify builds the terminal result for questions too vague to
// search.
func (e *Evaluator) EvaluateClarify(q models.Question, a models.AnalysisResult) models.EvaluationResult {
	reason, _ := a.Metadata[models.MetaReason].(string)
	if reason == "" {
		reason = "vague_question"
	}
	return e.clarify(q, a, reason)
}

// Escalate hands the turn to the owner. Confidence is the analysis
// confidence.
func (e *Evaluator) Escalate(q models.Question, a models.AnalysisResult, reason string) models.EvaluationResult {
	logger.Info("Escalating to human",
		zap.String("question_hash", utils.ShortHash(utils.NormalizeText(q.Text))),
		zap.String("reason", reason),
		zap.Float64("confidence", a.Confidence),
	)
	res := e.result(q, a, models.StatusEscalate, reason)
	res.FinalAnswer = EscalationMessage(q.Language)
	res.Sources = sourcesOf(a)
	if raw, ok := a.Metadata[models.MetaRawOutput]; ok {
		res.Metadata[models.MetaRawOutput] = raw
	}
	return res
}

func (e *Evaluator) clarify(q models.Question, a models.AnalysisResult, reason string) models.EvaluationResult {
	fields := MissingFields(a.Category)
	res := e.result(q, a, models.StatusNeedsClarification, reason)
	res.FinalAnswer = ClarificationMessage(q.Language, fields)
	res.Sources = sourcesOf(a)
	res.Metadata[models.MetaMissingFields] = fields
	return res
}

func (e *Evaluator) result(q models.Question, a models.AnalysisResult, status models.Status, reason string) models.EvaluationResult {
	return models.EvaluationResult{
		Sources:    []string{},
		Confidence: a.Confidence,
		Status:     status,
		Metadata: map[string]any{
			models.MetaOriginalQuestion:   q.Text,
			models.MetaAnalysisConfidence: a.Confidence,
			models.MetaReason:             reason,
			models.MetaCategory:           string(a.Category),
		},
	}
}

func sourcesOf(a models.AnalysisResult) []string {
	if s := a.Sources(); s != nil {
		return s
	}
	return []string{}
}

func reviewSuggestions(out llm.ReviewOutput) []string {
	suggestions := models.StringList(out.Metadata["suggestions"])
	if len(suggestions) == 0 && len(out.Sources) == 0 {
		suggestions = []string{"cite at least one retrieved source for the key facts"}
	}
	if len(suggestions) == 0 {
		suggestions = []string{"tighten the answer so every statement is backed by the cited passages"}
	}
	return suggestions
}

func keepKnown(ids, known []string) []string {
	allowed := make(map[string]struct{}, len(known))
	for _, id := range known {
		allowed[id] = struct{}{}
	}
	var out []string
	for _, id := range ids {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
