// Package retrieval turns a question into ranked resume passages.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/cache"
	"github.com/resumemate/backend/internal/metrics"
	"github.com/resumemate/backend/internal/models"
	"github.com/resumemate/backend/internal/vector"
	"github.com/resumemate/backend/pkg/logger"
	"github.com/resumemate/backend/pkg/utils"
)

var (
	ErrEmptyQuery  = errors.New("query is empty")
	ErrInvalidTopK = errors.New("topK must be positive")
)

const (
	similarityWeight = 0.7
	overlapWeight    = 0.3
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	MaxTopK             int
	SimilarityThreshold float64
	Rerank              bool
}

type Retriever struct {
	embedder   Embedder
	store      vector.Store
	embeddings *cache.Loader[[]float32]
	results    *cache.Loader[[]models.SearchResult]
	opts       Options
}

func New(embedder Embedder, store vector.Store, embeddings *cache.Loader[[]float32], results *cache.Loader[[]models.SearchResult], opts Options) *Retriever {
	return &Retriever{
		embedder:   embedder,
		store:      store,
		embeddings: embeddings,
		results:    results,
		opts:       opts,
	}
}

// Similarity maps a cosine distance in [0,2] onto [0,1].
func Similarity(distance float64) float64 {
	return models.Clamp01((2 - distance) / 2)
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }

func (e *stageError) Unwrap() error { return e.err }

// Outcome is a search result plus whether it was degraded by an upstream
// failure.
type Outcome struct {
	Results  []models.SearchResult
	Degraded bool
	Cached   bool
}

// Search returns at most topK results ordered by relevance. Empty input is
// rejected; upstream failures are logged and yield an empty, uncached
// result.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	outcome, err := r.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return outcome.Results, nil
}

// Retrieve is Search reporting degradation instead of hiding it.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) (Outcome, error) {
	if strings.TrimSpace(query) == "" {
		return Outcome{}, ErrEmptyQuery
	}
	if topK <= 0 {
		return Outcome{}, ErrInvalidTopK
	}

	normalized := utils.NormalizeText(query)
	results, cached, err := r.results.Get(ctx, cache.ResultKey(normalized, topK), func(ctx context.Context) ([]models.SearchResult, error) {
		return r.search(ctx, normalized, topK)
	})
	if err != nil {
		stage := "result_cache"
		var se *stageError
		if errors.As(err, &se) {
			stage = se.stage
		}
		metrics.RetrievalFailures.WithLabelValues(stage).Inc()
		logger.Warn("Retrieval failed",
			zap.String("question_hash", utils.ShortHash(normalized)),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return Outcome{Results: []models.SearchResult{}, Degraded: true}, nil
	}

	metrics.RetrievalResultsCount.Observe(float64(len(results)))
	return Outcome{Results: results, Cached: cached}, nil
}

func (r *Retriever) search(ctx context.Context, normalized string, topK int) ([]models.SearchResult, error) {
	vec, _, err := r.embeddings.Get(ctx, cache.EmbeddingKey(normalized), func(ctx context.Context) ([]float32, error) {
		vecs, err := r.embedder.Embed(ctx, []string{normalized})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return nil, fmt.Errorf("expected one embedding, got %d", len(vecs))
		}
		return vecs[0], nil
	})
	if err != nil {
		return nil, &stageError{stage: "embed", err: err}
	}

	matches, err := r.store.Query(ctx, vec, r.candidates(topK))
	if err != nil {
		return nil, &stageError{stage: "vector_query", err: err}
	}

	type ranked struct {
		result models.SearchResult
		order  float64
	}
	candidates := make([]ranked, 0, len(matches))
	for _, m := range matches {
		sim := Similarity(m.Distance)
		if sim < r.opts.SimilarityThreshold {
			continue
		}

		meta := make(map[string]any, len(m.Metadata)+3)
		for k, v := range m.Metadata {
			meta[k] = v
		}
		meta["distance"] = m.Distance

		score := sim
		if r.opts.Rerank {
			overlap := KeywordOverlap(normalized, m.Text)
			score = similarityWeight*sim + overlapWeight*overlap
			meta["keyword_overlap"] = overlap
			meta["rerank_score"] = score
		}

		candidates = append(candidates, ranked{
			result: models.SearchResult{
				DocID:    m.ID,
				Score:    sim,
				Excerpt:  m.Text,
				Metadata: meta,
			},
			order: score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].order == candidates[j].order {
			return candidates[i].result.DocID < candidates[j].result.DocID
		}
		return candidates[i].order > candidates[j].order
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]models.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = c.result
	}

	logger.Debug("Search completed",
		zap.String("question_hash", utils.ShortHash(normalized)),
		zap.Int("candidates", len(matches)),
		zap.Int("results", len(results)),
	)
	return results, nil
}

func (r *Retriever) candidates(topK int) int {
	if !r.opts.Rerank {
		return topK
	}
	n := 2 * topK
	if r.opts.MaxTopK > 0 && n > r.opts.MaxTopK {
		n = r.opts.MaxTopK
	}
	if n < topK {
		n = topK
	}
	return n
}
