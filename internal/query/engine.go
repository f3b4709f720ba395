// Package query runs one question through analysis, evaluation and at most
// one revision, and shapes the result into a SystemResponse.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/resumemate/backend/internal/cache"
	"github.com/resumemate/backend/internal/contact"
	"github.com/resumemate/backend/internal/evaluation"
	"github.com/resumemate/backend/internal/metrics"
	"github.com/resumemate/backend/internal/models"
	storemodels "github.com/resumemate/backend/internal/storage/models"
	"github.com/resumemate/backend/pkg/logger"
	"github.com/resumemate/backend/pkg/utils"
)

var ErrEmptyQuestion = errors.New("question is empty")

const auditTimeout = 2 * time.Second

type Analyzer interface {
	Analyze(ctx context.Context, q models.Question) models.AnalysisResult
	Revise(ctx context.Context, q models.Question, prev models.AnalysisResult, suggestions []string) models.AnalysisResult
}

type Evaluator interface {
	Evaluate(ctx context.Context, q models.Question, a models.AnalysisResult) models.EvaluationResult
	EvaluateOutOfScope(q models.Question, a models.AnalysisResult) models.EvaluationResult
	EvaluateClarify(q models.Question, a models.AnalysisResult) models.EvaluationResult
	Escalate(q models.Question, a models.AnalysisResult, reason string) models.EvaluationResult
}

type ContactSubmitter interface {
	Submit(ctx context.Context, sessionID, originalQuestion, text string, lang models.Language) (contact.Result, error)
}

type AuditLog interface {
	InsertTurn(ctx context.Context, record *storemodels.TurnRecord, sources []string) error
}

type Options struct {
	MaxConcurrent int
	QueueTimeout  time.Duration
	TurnTimeout   time.Duration
}

type Engine struct {
	analyzer  Analyzer
	evaluator Evaluator
	contacts  ContactSubmitter
	audit     AuditLog
	responses *cache.Cache[models.SystemResponse]
	pending   *cache.Cache[string]
	gate      *semaphore.Weighted
	opts      Options
}

// Deps groups the collaborators of an Engine. Contacts, Audit, Responses
// and Pending may be nil.
type Deps struct {
	Analyzer  Analyzer
	Evaluator Evaluator
	Contacts  ContactSubmitter
	Audit     AuditLog
	Responses *cache.Cache[models.SystemResponse]
	Pending   *cache.Cache[string]
}

func NewEngine(deps Deps, opts Options) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 45 * time.Second
	}
	return &Engine{
		analyzer:  deps.Analyzer,
		evaluator: deps.Evaluator,
		contacts:  deps.Contacts,
		audit:     deps.Audit,
		responses: deps.Responses,
		pending:   deps.Pending,
		gate:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		opts:      opts,
	}
}

type turn struct {
	id        string
	hash      string
	question  models.Question
	startedAt time.Time
}

// Handle answers one question. Only an empty question or a cancelled
// caller context produce an error; every other outcome is a response.
func (e *Engine) Handle(ctx context.Context, q models.Question) (*models.SystemResponse, error) {
	if q.Text == "" {
		return nil, ErrEmptyQuestion
	}

	t := turn{
		id:        uuid.New().String(),
		hash:      utils.ShortHash(utils.NormalizeText(q.Text)),
		question:  q,
		startedAt: time.Now(),
	}

	if !e.admit(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		metrics.GateRejections.Inc()
		logger.Warn("Turn rejected at admission gate", zap.String("question_hash", t.hash))
		return e.systemResponse(t, evaluation.RetryLaterMessage(q.Language), "capacity"), nil
	}

	// The slot is freed when Handle returns, including on timeout while an
	// abandoned pipeline is still unwinding.
	metrics.InFlightTurns.Inc()
	defer func() {
		metrics.InFlightTurns.Dec()
		e.gate.Release(1)
	}()

	turnCtx, cancel := context.WithTimeout(ctx, e.opts.TurnTimeout)
	defer cancel()

	if resp, ok := e.contactTurn(turnCtx, t); ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if turnCtx.Err() != nil && resp.Action == models.ActionRetryLater {
			return e.timeout(t), nil
		}
		return resp, nil
	}

	if resp, ok := e.cachedResponse(t); ok {
		return resp, nil
	}

	type outcome struct {
		analysis   models.AnalysisResult
		evaluation models.EvaluationResult
	}
	done := make(chan outcome, 1)
	go func() {
		a, ev := e.pipeline(turnCtx, q)
		done <- outcome{analysis: a, evaluation: ev}
	}()

	select {
	case out := <-done:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return e.finish(t, out.analysis, out.evaluation), nil
	case <-turnCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return e.timeout(t), nil
	}
}

func (e *Engine) admit(ctx context.Context) bool {
	if e.gate.TryAcquire(1) {
		return true
	}
	if e.opts.QueueTimeout <= 0 {
		return false
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.QueueTimeout)
	defer cancel()
	return e.gate.Acquire(waitCtx, 1) == nil
}

// pipeline classifies, evaluates and revises at most once.
func (e *Engine) pipeline(ctx context.Context, q models.Question) (models.AnalysisResult, models.EvaluationResult) {
	a := e.analyzer.Analyze(ctx, q)

	var ev models.EvaluationResult
	switch a.Decision {
	case models.DecisionOutOfScope:
		ev = e.evaluator.EvaluateOutOfScope(q, a)
	case models.DecisionClarify:
		ev = e.evaluator.EvaluateClarify(q, a)
	default:
		ev = e.evaluator.Evaluate(ctx, q, a)
	}

	if ev.Status != models.StatusNeedsEdit {
		return a, ev
	}

	a = e.analyzer.Revise(ctx, q, a, ev.Suggestions)
	ev = e.evaluator.Evaluate(ctx, q, a)
	if ev.Status == models.StatusNeedsEdit {
		ev = e.evaluator.Escalate(q, a, "revision_limit")
	}
	metrics.Revisions.WithLabelValues(string(ev.Status)).Inc()
	return a, ev
}

func (e *Engine) finish(t turn, a models.AnalysisResult, ev models.EvaluationResult) *models.SystemResponse {
	status := ev.Status
	latency := time.Since(t.startedAt)

	meta := models.CloneMetadata(ev.Metadata)
	meta[models.MetaStatus] = string(status)
	meta[models.MetaCategory] = string(a.Category)
	meta[models.MetaRevisions] = a.Revision
	meta[models.MetaTurnID] = t.id
	meta[models.MetaQuestionHash] = t.hash
	meta[models.MetaLatencyMS] = latency.Milliseconds()

	sources := ev.Sources
	if sources == nil {
		sources = []string{}
	}
	resp := &models.SystemResponse{
		Answer:     ev.FinalAnswer,
		Sources:    sources,
		Confidence: ev.Confidence,
		Action:     models.ActionFor(status),
		Metadata:   meta,
	}

	if resp.Action == models.ActionRequestContactForm {
		e.markPending(t.question)
	}
	if cacheable(status) && e.responses != nil {
		e.responses.Set(cache.ResponseKey(t.question.Text), *cloneResponse(resp))
	}

	metrics.TurnDuration.WithLabelValues(string(a.Category)).Observe(latency.Seconds())
	metrics.TurnTotal.WithLabelValues(string(status)).Inc()
	metrics.ConfidenceScore.Observe(resp.Confidence)

	logger.Info("Turn completed",
		zap.String("turn_id", t.id),
		zap.String("question_hash", t.hash),
		zap.String("status", string(status)),
		zap.String("category", string(a.Category)),
		zap.Float64("confidence", resp.Confidence),
		zap.Int("revisions", a.Revision),
		zap.Int64("latency_ms", latency.Milliseconds()),
	)

	e.record(t, resp, string(status), string(a.Category), a.Revision, false)
	return resp
}

func (e *Engine) timeout(t turn) *models.SystemResponse {
	metrics.TurnTimeouts.Inc()
	metrics.TurnTotal.WithLabelValues("timeout").Inc()
	logger.Warn("Turn deadline exceeded",
		zap.String("turn_id", t.id),
		zap.String("question_hash", t.hash),
		zap.Duration("timeout", e.opts.TurnTimeout),
	)
	resp := e.systemResponse(t, evaluation.TimeoutMessage(t.question.Language), "turn_timeout")
	e.record(t, resp, "timeout", "", 0, false)
	return resp
}

// systemResponse builds the fixed replies that do not come from the
// pipeline. They carry no status and ask the client to retry.
func (e *Engine) systemResponse(t turn, answer, reason string) *models.SystemResponse {
	return &models.SystemResponse{
		Answer:     answer,
		Sources:    []string{},
		Confidence: 0,
		Action:     models.ActionRetryLater,
		Metadata: map[string]any{
			models.MetaReason:       reason,
			models.MetaTurnID:       t.id,
			models.MetaQuestionHash: t.hash,
			models.MetaLatencyMS:    time.Since(t.startedAt).Milliseconds(),
		},
	}
}

func (e *Engine) cachedResponse(t turn) (*models.SystemResponse, bool) {
	if e.responses == nil {
		return nil, false
	}
	cached, ok := e.responses.Get(cache.ResponseKey(t.question.Text))
	if !ok {
		return nil, false
	}

	resp := cloneResponse(&cached)
	resp.Metadata[models.MetaTurnID] = t.id
	resp.Metadata[models.MetaCached] = true
	resp.Metadata[models.MetaLatencyMS] = time.Since(t.startedAt).Milliseconds()
	if resp.Action == models.ActionRequestContactForm {
		e.markPending(t.question)
	}

	status := resp.Status()
	metrics.TurnTotal.WithLabelValues(string(status)).Inc()
	logger.Debug("Response served from cache",
		zap.String("turn_id", t.id),
		zap.String("question_hash", t.hash),
	)
	category, _ := resp.Metadata[models.MetaCategory].(string)
	e.record(t, resp, string(status), category, 0, true)
	return resp, true
}

// contactTurn handles a reply to an earlier contact-form request. It never
// runs the pipeline and its responses are never cached.
func (e *Engine) contactTurn(ctx context.Context, t turn) (*models.SystemResponse, bool) {
	q := t.question
	if e.contacts == nil || e.pending == nil || q.SessionID == "" {
		return nil, false
	}
	original, ok := e.pending.Get(q.SessionID)
	if !ok || !contact.IsContactInput(q.Text) {
		return nil, false
	}

	res, err := e.contacts.Submit(ctx, q.SessionID, original, q.Text, q.Language)

	status := models.StatusOK
	confidence := 1.0
	action := models.ActionNone
	switch {
	case err != nil:
		status = models.StatusEscalate
		confidence = 0
		action = models.ActionRetryLater
	case !res.Accepted:
		status = models.StatusNeedsClarification
		confidence = 0
		action = models.ActionRequestContactForm
	default:
		e.pending.Delete(q.SessionID)
	}

	metrics.TurnTotal.WithLabelValues("contact_" + string(status)).Inc()
	return &models.SystemResponse{
		Answer:     res.Message,
		Sources:    []string{},
		Confidence: confidence,
		Action:     action,
		Metadata: map[string]any{
			models.MetaStatus:       string(status),
			models.MetaCategory:     string(models.CategoryContact),
			models.MetaSource:       "contact_submission",
			models.MetaTurnID:       t.id,
			models.MetaQuestionHash: t.hash,
			models.MetaLatencyMS:    time.Since(t.startedAt).Milliseconds(),
		},
	}, true
}

func (e *Engine) markPending(q models.Question) {
	if e.pending == nil || q.SessionID == "" {
		return
	}
	e.pending.Set(q.SessionID, q.Text)
}

func (e *Engine) record(t turn, resp *models.SystemResponse, status, category string, revisions int, cached bool) {
	if e.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	err := e.audit.InsertTurn(ctx, &storemodels.TurnRecord{
		ID:           t.id,
		SessionID:    t.question.SessionID,
		QuestionHash: t.hash,
		QuestionText: t.question.Text,
		Language:     string(t.question.Language),
		Answer:       resp.Answer,
		Status:       status,
		Category:     category,
		Action:       string(resp.Action),
		Confidence:   resp.Confidence,
		Revisions:    revisions,
		Cached:       cached,
		LatencyMS:    time.Since(t.startedAt).Milliseconds(),
		CreatedAt:    t.startedAt,
	}, resp.Sources)
	if err != nil {
		logger.Error("Failed to record turn",
			zap.String("turn_id", t.id),
			zap.String("stage", "audit"),
			zap.Error(err),
		)
	}
}

func cacheable(s models.Status) bool {
	return s == models.StatusOK || s == models.StatusNeedsClarification || s == models.StatusOutOfScope
}

func cloneResponse(r *models.SystemResponse) *models.SystemResponse {
	out := *r
	out.Sources = append([]string{}, r.Sources...)
	out.Metadata = models.CloneMetadata(r.Metadata)
	return &out
}
