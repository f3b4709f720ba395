package query

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumemate/backend/internal/cache"
	"github.com/resumemate/backend/internal/contact"
	"github.com/resumemate/backend/internal/evaluation"
	"github.com/resumemate/backend/internal/models"
	storemodels "github.com/resumemate/backend/internal/storage/models"
)

type stubAnalyzer struct {
	analyze  func(ctx context.Context, q models.Question) models.AnalysisResult
	revise   func(prev models.AnalysisResult) models.AnalysisResult
	analyzed atomic.Int32
	revised  atomic.Int32
}

func (s *stubAnalyzer) Analyze(ctx context.Context, q models.Question) models.AnalysisResult {
	s.analyzed.Add(1)
	return s.analyze(ctx, q)
}

func (s *stubAnalyzer) Revise(_ context.Context, _ models.Question, prev models.AnalysisResult, _ []string) models.AnalysisResult {
	s.revised.Add(1)
	next := prev
	next.Metadata = models.CloneMetadata(prev.Metadata)
	next.Revision++
	if s.revise != nil {
		return s.revise(next)
	}
	return next
}

func grounded(draft string) func(context.Context, models.Question) models.AnalysisResult {
	return func(_ context.Context, q models.Question) models.AnalysisResult {
		return models.AnalysisResult{
			Query:       q.Text,
			Category:    models.CategorySkill,
			Decision:    models.DecisionRetrieve,
			Confidence:  0.77,
			DraftAnswer: draft,
			Metadata:    map[string]any{models.MetaSources: []string{"a", "b", "c"}},
		}
	}
}

type memAudit struct {
	mu      sync.Mutex
	records []storemodels.TurnRecord
}

func (m *memAudit) InsertTurn(_ context.Context, r *storemodels.TurnRecord, _ []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *r)
	return nil
}

type memSink struct {
	mu   sync.Mutex
	subs []models.ContactSubmission
	// stall makes SaveContact wait for its context to end.
	stall       bool
	hadDeadline bool
}

func (m *memSink) SaveContact(ctx context.Context, sub *models.ContactSubmission) error {
	if m.stall {
		_, m.hadDeadline = ctx.Deadline()
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.ID = int64(len(m.subs) + 1)
	m.subs = append(m.subs, *sub)
	return nil
}

type fixture struct {
	engine    *Engine
	analyzer  *stubAnalyzer
	responses *cache.Cache[models.SystemResponse]
	pending   *cache.Cache[string]
	audit     *memAudit
	sink      *memSink
}

func newFixture(analyzer *stubAnalyzer, opts Options) *fixture {
	f := &fixture{
		analyzer:  analyzer,
		responses: cache.New[models.SystemResponse](cache.Options{Name: "response", TTL: time.Minute, Capacity: 16}),
		pending:   cache.New[string](cache.Options{Name: "pending", TTL: time.Minute, Capacity: 16}),
		audit:     &memAudit{},
		sink:      &memSink{},
	}
	f.engine = NewEngine(Deps{
		Analyzer:  analyzer,
		Evaluator: evaluation.NewEvaluator(nil, evaluation.Options{}),
		Contacts:  contact.NewManager(f.sink),
		Audit:     f.audit,
		Responses: f.responses,
		Pending:   f.pending,
	}, opts)
	return f
}

func ask(text, session string) models.Question {
	return models.NewQuestion(text, "zh-TW", nil, session, 3)
}

func TestHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("Should reject empty questions", func(t *testing.T) {
		f := newFixture(&stubAnalyzer{analyze: grounded("x")}, Options{})
		_, err := f.engine.Handle(ctx, ask("   ", ""))
		assert.ErrorIs(t, err, ErrEmptyQuestion)
		assert.Zero(t, f.analyzer.analyzed.Load())
	})

	t.Run("Should deliver and cache a grounded answer", func(t *testing.T) {
		f := newFixture(&stubAnalyzer{analyze: grounded("我擅長 Go 與 Kubernetes。")}, Options{})

		resp, err := f.engine.Handle(ctx, ask("你有什麼技能？", ""))
		require.NoError(t, err)
		assert.Equal(t, "我擅長 Go 與 Kubernetes。", resp.Answer)
		assert.InDelta(t, 0.77, resp.Confidence, 1e-9)
		assert.Equal(t, []string{"a", "b", "c"}, resp.Sources)
		assert.Equal(t, models.ActionNone, resp.Action)
		assert.Equal(t, models.StatusOK, resp.Status())
		for _, key := range []string{models.MetaStatus, models.MetaCategory, models.MetaLatencyMS, models.MetaTurnID, models.MetaQuestionHash} {
			assert.Contains(t, resp.Metadata, key)
		}

		again, err := f.engine.Handle(ctx, ask("  你有什麼技能？ ", ""))
		require.NoError(t, err)
		assert.Equal(t, resp.Answer, again.Answer)
		assert.Equal(t, true, again.Metadata[models.MetaCached])
		assert.NotEqual(t, resp.Metadata[models.MetaTurnID], again.Metadata[models.MetaTurnID])
		assert.Equal(t, int32(1), f.analyzer.analyzed.Load())
		assert.Len(t, f.audit.records, 2)
	})

	t.Run("Should revise once and then deliver", func(t *testing.T) {
		analyzer := &stubAnalyzer{
			analyze: grounded("根據履歷，他會 Go。"),
			revise: func(next models.AnalysisResult) models.AnalysisResult {
				next.DraftAnswer = "我會 Go。"
				return next
			},
		}
		f := newFixture(analyzer, Options{})

		resp, err := f.engine.Handle(ctx, ask("你有什麼技能？", ""))
		require.NoError(t, err)
		assert.Equal(t, models.StatusOK, resp.Status())
		assert.Equal(t, "我會 Go。", resp.Answer)
		assert.Equal(t, 1, resp.Metadata[models.MetaRevisions])
		assert.Equal(t, int32(1), analyzer.revised.Load())
	})

	t.Run("Should escalate after a second needs_edit", func(t *testing.T) {
		analyzer := &stubAnalyzer{analyze: grounded("根據履歷，他會 Go。")}
		f := newFixture(analyzer, Options{})

		resp, err := f.engine.Handle(ctx, ask("你有什麼技能？", "s1"))
		require.NoError(t, err)
		assert.Equal(t, models.StatusEscalate, resp.Status())
		assert.Equal(t, models.ActionRequestContactForm, resp.Action)
		assert.InDelta(t, 0.77, resp.Confidence, 1e-9)
		assert.Equal(t, "revision_limit", resp.Metadata[models.MetaReason])
		assert.Equal(t, int32(1), analyzer.revised.Load())
		assert.Zero(t, f.responses.Len())

		original, ok := f.pending.Get("s1")
		require.True(t, ok)
		assert.Equal(t, "你有什麼技能？", original)
	})

	t.Run("Should map clarification and out of scope routes", func(t *testing.T) {
		f := newFixture(&stubAnalyzer{analyze: func(_ context.Context, q models.Question) models.AnalysisResult {
			return models.AnalysisResult{Query: q.Text, Category: models.CategoryFact, Decision: models.DecisionOutOfScope, Confidence: 0.1, Metadata: map[string]any{}}
		}}, Options{})
		resp, err := f.engine.Handle(ctx, ask("今天天氣如何？", ""))
		require.NoError(t, err)
		assert.Equal(t, models.StatusOutOfScope, resp.Status())
		assert.Equal(t, models.ActionRequestContactForm, resp.Action)
		assert.Equal(t, 1, f.responses.Len())

		f = newFixture(&stubAnalyzer{analyze: func(_ context.Context, q models.Question) models.AnalysisResult {
			return models.AnalysisResult{Query: q.Text, Category: models.CategoryOther, Decision: models.DecisionClarify, Metadata: map[string]any{}}
		}}, Options{})
		resp, err = f.engine.Handle(ctx, ask("嗎？", ""))
		require.NoError(t, err)
		assert.Equal(t, models.StatusNeedsClarification, resp.Status())
		assert.Equal(t, models.ActionRequestMoreInfo, resp.Action)
	})
}

func TestHandleDeadline(t *testing.T) {
	analyzer := &stubAnalyzer{analyze: func(ctx context.Context, q models.Question) models.AnalysisResult {
		<-ctx.Done()
		return grounded("too late")(ctx, q)
	}}
	f := newFixture(analyzer, Options{TurnTimeout: 50 * time.Millisecond})

	resp, err := f.engine.Handle(context.Background(), ask("你有什麼技能？", ""))
	require.NoError(t, err)
	assert.Equal(t, evaluation.TimeoutMessage(models.LanguageZhTW), resp.Answer)
	assert.Zero(t, resp.Confidence)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, "turn_timeout", resp.Metadata[models.MetaReason])

	// Give the abandoned pipeline time to finish before checking the cache.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.responses.Len())

	t.Run("Should free the slot as soon as the timeout response returns", func(t *testing.T) {
		stuck := make(chan struct{})
		defer close(stuck)
		var calls atomic.Int32
		analyzer := &stubAnalyzer{analyze: func(ctx context.Context, q models.Question) models.AnalysisResult {
			if calls.Add(1) == 1 {
				<-stuck
			}
			return grounded("我會 Go。")(ctx, q)
		}}
		f := newFixture(analyzer, Options{MaxConcurrent: 1, TurnTimeout: 50 * time.Millisecond})

		resp, err := f.engine.Handle(context.Background(), ask("你有什麼技能？", ""))
		require.NoError(t, err)
		require.Equal(t, "turn_timeout", resp.Metadata[models.MetaReason])

		resp, err = f.engine.Handle(context.Background(), ask("Tell me about your projects", ""))
		require.NoError(t, err)
		assert.NotEqual(t, models.ActionRetryLater, resp.Action)
		assert.Equal(t, "我會 Go。", resp.Answer)
	})
}

func TestHandleCallerCancel(t *testing.T) {
	analyzer := &stubAnalyzer{analyze: func(ctx context.Context, q models.Question) models.AnalysisResult {
		<-ctx.Done()
		return grounded("x")(ctx, q)
	}}
	f := newFixture(analyzer, Options{TurnTimeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.engine.Handle(ctx, ask("你有什麼技能？", ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdmissionGate(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	analyzer := &stubAnalyzer{analyze: func(ctx context.Context, q models.Question) models.AnalysisResult {
		once.Do(func() { close(entered) })
		<-unblock
		return grounded("我會 Go。")(ctx, q)
	}}
	f := newFixture(analyzer, Options{MaxConcurrent: 1, QueueTimeout: 10 * time.Millisecond})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.engine.Handle(context.Background(), ask("你有什麼技能？", ""))
	}()
	<-entered

	resp, err := f.engine.Handle(context.Background(), ask("Tell me about your projects", ""))
	require.NoError(t, err)
	assert.Equal(t, models.ActionRetryLater, resp.Action)
	assert.Equal(t, "capacity", resp.Metadata[models.MetaReason])

	close(unblock)
	wg.Wait()

	resp, err = f.engine.Handle(context.Background(), ask("Tell me about your projects", ""))
	require.NoError(t, err)
	assert.NotEqual(t, models.ActionRetryLater, resp.Action)
}

func TestContactFollowUp(t *testing.T) {
	ctx := context.Background()
	analyzer := &stubAnalyzer{analyze: func(_ context.Context, q models.Question) models.AnalysisResult {
		return models.AnalysisResult{
			Query:      q.Text,
			Category:   models.CategoryOther,
			Decision:   models.DecisionRetrieve,
			Confidence: 0.2,
			Metadata:   map[string]any{models.MetaSources: []string{"a"}},
		}
	}}
	f := newFixture(analyzer, Options{})

	resp, err := f.engine.Handle(ctx, ask("你的薪水多少？", "s1"))
	require.NoError(t, err)
	require.Equal(t, models.ActionRequestContactForm, resp.Action)

	t.Run("Should ask again when no channel is given", func(t *testing.T) {
		resp, err := f.engine.Handle(ctx, ask("我叫張三", "s1"))
		require.NoError(t, err)
		assert.Equal(t, models.ActionRequestContactForm, resp.Action)
		assert.Empty(t, f.sink.subs)
	})

	t.Run("Should store the contact with the original question", func(t *testing.T) {
		resp, err := f.engine.Handle(ctx, ask("我叫張三，Email 是 a@b.com", "s1"))
		require.NoError(t, err)
		assert.Equal(t, models.StatusOK, resp.Status())
		assert.Contains(t, resp.Answer, "a@b.com")
		require.Len(t, f.sink.subs, 1)
		assert.Equal(t, "你的薪水多少？", f.sink.subs[0].OriginalQuestion)

		_, pending := f.pending.Get("s1")
		assert.False(t, pending)
	})

	t.Run("Should only take the contact path for sessions with a pending request", func(t *testing.T) {
		before := analyzer.analyzed.Load()
		_, err := f.engine.Handle(ctx, ask("a@b.com", "other"))
		require.NoError(t, err)
		assert.Equal(t, before+1, analyzer.analyzed.Load())
	})

	t.Run("Should bound the contact submission by the turn deadline", func(t *testing.T) {
		f := newFixture(analyzer, Options{TurnTimeout: 50 * time.Millisecond})
		f.sink.stall = true
		f.pending.Set("s2", "你的薪水多少？")

		resp, err := f.engine.Handle(ctx, ask("我叫張三，Email 是 a@b.com", "s2"))
		require.NoError(t, err)
		assert.True(t, f.sink.hadDeadline)
		assert.Equal(t, "turn_timeout", resp.Metadata[models.MetaReason])
		assert.Equal(t, evaluation.TimeoutMessage(models.LanguageZhTW), resp.Answer)
	})
}
