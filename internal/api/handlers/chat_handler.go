package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/middleware/validation"
	"github.com/resumemate/backend/internal/models"
	"github.com/resumemate/backend/internal/query"
	storemodels "github.com/resumemate/backend/internal/storage/models"
	"github.com/resumemate/backend/pkg/logger"
)

const historyLimit = 20

type TurnHandler interface {
	Handle(ctx context.Context, q models.Question) (*models.SystemResponse, error)
}

type HistoryStore interface {
	GetSessionTurns(ctx context.Context, sessionID string, limit int) ([]storemodels.TurnRecord, error)
}

type ChatHandler struct {
	engine     TurnHandler
	history    HistoryStore
	maxContext int
}

func NewChatHandler(engine TurnHandler, history HistoryStore, maxContext int) *ChatHandler {
	return &ChatHandler{
		engine:     engine,
		history:    history,
		maxContext: maxContext,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	req, ok := c.Locals(validation.LocalsChat).(validation.ChatRequest)
	if !ok {
		if err := c.BodyParser(&req); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if err := validation.ValidateChat(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	q := models.NewQuestion(req.Text, req.Language, req.Context, req.SessionID, h.maxContext)
	resp, err := h.engine.Handle(c.UserContext(), q)
	if err != nil {
		return h.turnError(c, err)
	}

	return c.Status(statusCode(resp)).JSON(resp)
}

func (h *ChatHandler) turnError(c *fiber.Ctx, err error) error {
	if errors.Is(err, query.ErrEmptyQuestion) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text is required",
		})
	}
	logger.Warn("Turn aborted", zap.Error(err))
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "Request cancelled",
	})
}

func (h *ChatHandler) GetSessionHistory(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session id is required",
		})
	}

	turns, err := h.history.GetSessionTurns(c.UserContext(), sessionID, historyLimit)
	if err != nil {
		logger.Error("Failed to load session history", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	history := make([]fiber.Map, 0, len(turns))
	for _, t := range turns {
		history = append(history, fiber.Map{
			"turn_id":    t.ID,
			"question":   t.QuestionText,
			"answer":     t.Answer,
			"status":     t.Status,
			"confidence": t.Confidence,
			"created_at": t.CreatedAt.Unix(),
		})
	}
	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"history":    history,
	})
}

// statusCode is 503 only when the admission gate turned the request away.
func statusCode(resp *models.SystemResponse) int {
	if resp.Action == models.ActionRetryLater && resp.Metadata[models.MetaReason] == "capacity" {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusOK
}
