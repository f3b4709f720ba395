package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/llm"
	"github.com/resumemate/backend/internal/models"
	"github.com/resumemate/backend/internal/retrieval"
	"github.com/resumemate/backend/pkg/config"
	"github.com/resumemate/backend/pkg/logger"
	"github.com/resumemate/backend/pkg/utils"
)

const (
	DefaultTopK                 = 5
	DefaultSufficiencyThreshold = 0.3
	DefaultMaxSources           = 5

	insufficientConfidence = 0.1
)

type Searcher interface {
	Retrieve(ctx context.Context, query string, topK int) (retrieval.Outcome, error)
}

type Drafter interface {
	Draft(ctx context.Context, req llm.DraftRequest) (llm.DraftOutput, error)
}

type Options struct {
	TopK                 int
	SufficiencyThreshold float64
	MaxSources           int
	Owner                config.OwnerConfig
}

type Analyzer struct {
	searcher Searcher
	drafter  Drafter
	opts     Options
}

func NewAnalyzer(searcher Searcher, drafter Drafter, opts Options) *Analyzer {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.SufficiencyThreshold <= 0 {
		opts.SufficiencyThreshold = DefaultSufficiencyThreshold
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = DefaultMaxSources
	}
	return &Analyzer{searcher: searcher, drafter: drafter, opts: opts}
}

// Confidence combines the best and mean similarity and scales the result
// down when fewer than three passages support it. Scores are summed in
// ascending order so any permutation of the same scores gives the same
// value bit for bit.
func Confidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}
	best := math.Max(sorted[len(sorted)-1], 0)
	avg := sum / float64(len(sorted))
	raw := models.Clamp01(best*0.7 + avg*0.3)

	switch len(scores) {
	case 1:
		return raw * 0.6
	case 2:
		return raw * 0.8
	default:
		return raw
	}
}

// SourceIDs returns distinct result ids in rank order, capped at max.
func SourceIDs(results []models.SearchResult, max int) []string {
	seen := make(map[string]struct{}, len(results))
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.DocID == "" {
			continue
		}
		if _, ok := seen[r.DocID]; ok {
			continue
		}
		seen[r.DocID] = struct{}{}
		ids = append(ids, r.DocID)
		if len(ids) == max {
			break
		}
	}
	return ids
}

func (a *Analyzer) Analyze(ctx context.Context, q models.Question) models.AnalysisResult {
	category, decision := Classify(q.Text)
	result := models.AnalysisResult{
		Query:    GenerateQuery(q.Text, category),
		Category: category,
		Decision: decision,
		Metadata: map[string]any{},
	}

	switch decision {
	case models.DecisionLookup:
		return a.contactLookup(q, result)
	case models.DecisionOutOfScope:
		result.Metadata[models.MetaReason] = "not_in_knowledge_base"
		return result
	case models.DecisionClarify:
		result.Metadata[models.MetaReason] = "vague_question"
		return result
	}

	return a.retrieveAndDraft(ctx, q, result)
}

func (a *Analyzer) contactLookup(q models.Question, result models.AnalysisResult) models.AnalysisResult {
	result.ContactLookup = true
	result.Confidence = 1.0
	result.DraftAnswer = ownerContactAnswer(a.opts.Owner, q.Language)
	result.Metadata[models.MetaSource] = "contact_lookup"
	result.Metadata[models.MetaSources] = []string{}
	return result
}

func (a *Analyzer) retrieveAndDraft(ctx context.Context, q models.Question, result models.AnalysisResult) models.AnalysisResult {
	hash := utils.ShortHash(utils.NormalizeText(q.Text))

	outcome, err := a.searcher.Retrieve(ctx, result.Query, a.opts.TopK)
	if err != nil {
		// Only input errors reach here; the query was empty after rewriting.
		result.Decision = models.DecisionClarify
		result.Metadata[models.MetaReason] = "empty_query"
		return result
	}
	if outcome.Degraded {
		result.Degraded = true
		result.Metadata[models.MetaReason] = "retrieval_unavailable"
		result.Metadata[models.MetaSources] = []string{}
		return result
	}

	result.Retrievals = outcome.Results
	scores := make([]float64, len(outcome.Results))
	var best float64
	for i, r := range outcome.Results {
		scores[i] = r.Score
		if r.Score > best {
			best = r.Score
		}
	}

	if len(scores) == 0 || best < a.opts.SufficiencyThreshold {
		result.Decision = models.DecisionOutOfScope
		result.Confidence = insufficientConfidence
		result.Metadata[models.MetaReason] = "insufficient_retrieval"
		result.Metadata[models.MetaSources] = []string{}
		logger.Debug("Retrieval insufficient",
			zap.String("question_hash", hash),
			zap.Int("results", len(outcome.Results)),
		)
		return result
	}

	result.Confidence = Confidence(scores)
	result.Metadata[models.MetaSources] = SourceIDs(outcome.Results, a.opts.MaxSources)
	result.Metadata["best_score"] = best

	return a.draft(ctx, q, result, "", nil)
}

// Revise redrafts once with the evaluator's suggestions. Retrievals,
// sources and confidence are kept so the second evaluation judges the
// same evidence.
func (a *Analyzer) Revise(ctx context.Context, q models.Question, prev models.AnalysisResult, suggestions []string) models.AnalysisResult {
	next := prev
	next.Metadata = models.CloneMetadata(prev.Metadata)
	next.Revision = prev.Revision + 1
	delete(next.Metadata, models.MetaRawOutput)

	if prev.Decision != models.DecisionRetrieve || prev.Degraded {
		return next
	}
	return a.draft(ctx, q, next, prev.DraftAnswer, suggestions)
}

func (a *Analyzer) draft(ctx context.Context, q models.Question, result models.AnalysisResult, previous string, suggestions []string) models.AnalysisResult {
	hash := utils.ShortHash(utils.NormalizeText(q.Text))

	passages := make([]llm.Passage, 0, len(result.Retrievals))
	for _, r := range result.Retrievals {
		passages = append(passages, llm.Passage{ID: r.DocID, Text: r.Excerpt})
	}

	out, err := a.drafter.Draft(ctx, llm.DraftRequest{
		OwnerName:     a.opts.Owner.Name,
		Question:      q.Text,
		Language:      q.Language,
		Context:       q.Context,
		Category:      result.Category,
		Passages:      passages,
		PreviousDraft: previous,
		Suggestions:   suggestions,
	})
	if err != nil {
		if m, ok := llm.AsMalformed(err); ok {
			result.Confidence = 0
			result.DraftAnswer = ""
			result.Metadata[models.MetaRawOutput] = m.Raw
			result.Metadata[models.MetaReason] = "malformed_draft"
			logger.Warn("Draft output malformed",
				zap.String("question_hash", hash),
				zap.String("stage", "draft"),
				zap.String("reason", m.Reason),
			)
			return result
		}
		result.Degraded = true
		result.DraftAnswer = ""
		result.Metadata[models.MetaReason] = "draft_unavailable"
		logger.Error("Draft failed",
			zap.String("question_hash", hash),
			zap.String("stage", "draft"),
			zap.Error(err),
		)
		return result
	}

	result.DraftAnswer = strings.TrimSpace(out.DraftAnswer)
	result.Metadata["cited_sources"] = citedSources(out.Sources, result.Sources())
	result.Metadata["model_confidence"] = out.Confidence
	result.Metadata["model_decision"] = string(out.Decision)
	if len(out.Metadata) > 0 {
		result.Metadata["draft"] = out.Metadata
	}
	return result
}

// citedSources keeps only the model citations that were actually
// retrieved.
func citedSources(cited, retrieved []string) []string {
	allowed := make(map[string]struct{}, len(retrieved))
	for _, id := range retrieved {
		allowed[id] = struct{}{}
	}
	out := make([]string, 0, len(cited))
	for _, id := range cited {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func ownerContactAnswer(owner config.OwnerConfig, lang models.Language) string {
	var channels []string
	if owner.Email != "" {
		channels = append(channels, owner.Email)
	}
	if owner.LinkedIn != "" {
		channels = append(channels, owner.LinkedIn)
	}
	if owner.GitHub != "" {
		channels = append(channels, owner.GitHub)
	}

	if lang == models.LanguageEN {
		if len(channels) == 0 {
			return "Please leave your name and a way to reach you, and I will get back to you."
		}
		return fmt.Sprintf("You can reach me at %s.", strings.Join(channels, " or "))
	}
	if len(channels) == 0 {
		return "歡迎留下您的稱呼與聯絡方式，我會盡快回覆您。"
	}
	return fmt.Sprintf("你可以透過 %s 與我聯絡。", strings.Join(channels, " 或 "))
}
