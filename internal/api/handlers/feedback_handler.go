package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/middleware/validation"
	storemodels "github.com/resumemate/backend/internal/storage/models"
	"github.com/resumemate/backend/internal/storage/sqlite"
	"github.com/resumemate/backend/pkg/logger"
)

type FeedbackStore interface {
	StoreFeedback(ctx context.Context, feedback *storemodels.Feedback) error
}

type FeedbackHandler struct {
	store FeedbackStore
}

func NewFeedbackHandler(store FeedbackStore) *FeedbackHandler {
	return &FeedbackHandler{store: store}
}

func (h *FeedbackHandler) SubmitFeedback(c *fiber.Ctx) error {
	req, ok := c.Locals(validation.LocalsFeedback).(validation.FeedbackRequest)
	if !ok || req.Helpful == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	fb := &storemodels.Feedback{
		TurnID:  req.TurnID,
		Helpful: *req.Helpful,
		Comment: req.Comment,
	}
	err := h.store.StoreFeedback(c.UserContext(), fb)
	if errors.Is(err, sqlite.ErrUnknownTurn) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown turn",
		})
	}
	if err != nil {
		logger.Error("Failed to store feedback", zap.String("turn_id", req.TurnID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store feedback",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      fb.ID,
		"turn_id": fb.TurnID,
	})
}
