package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/metrics"
	"github.com/resumemate/backend/pkg/logger"
)

// Draft asks the chat model for a first-person answer grounded on the
// request passages. A response that fails strict decoding is returned as
// a *MalformedOutputError.
func (c *Client) Draft(ctx context.Context, req DraftRequest) (DraftOutput, error) {
	system, user := draftPrompts(req, c.responseLength)
	resp, err := c.Complete(ctx, CompletionRequest{
		Model:        c.model,
		SystemPrompt: system,
		UserPrompt:   user,
		JSON:         true,
	})
	if err != nil {
		return DraftOutput{}, err
	}

	out, err := DecodeDraft(resp.Content)
	if err != nil {
		metrics.MalformedOutputs.WithLabelValues("draft").Inc()
		logger.Warn("Draft output rejected", zap.Error(err))
		return DraftOutput{}, err
	}
	return out, nil
}

// Review asks the review model to check and polish a draft.
func (c *Client) Review(ctx context.Context, req ReviewRequest) (ReviewOutput, error) {
	system, user := reviewPrompts(req)
	resp, err := c.Complete(ctx, CompletionRequest{
		Model:        c.reviewModel,
		SystemPrompt: system,
		UserPrompt:   user,
		Temperature:  0.1,
		JSON:         true,
	})
	if err != nil {
		return ReviewOutput{}, err
	}

	out, err := DecodeReview(resp.Content)
	if err != nil {
		metrics.MalformedOutputs.WithLabelValues("review").Inc()
		logger.Warn("Review output rejected", zap.Error(err))
		return ReviewOutput{}, err
	}
	return out, nil
}
