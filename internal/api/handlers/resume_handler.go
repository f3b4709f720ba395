package handlers

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/ingestion"
	"github.com/resumemate/backend/pkg/logger"
)

const maxSections = 200

type ResumeIngester interface {
	Ingest(ctx context.Context, sections []ingestion.Section) (int, error)
}

// ResumeHandler lets the owner replace resume sections without a restart.
type ResumeHandler struct {
	ingester ResumeIngester
	token    string
}

func NewResumeHandler(ingester ResumeIngester, token string) *ResumeHandler {
	return &ResumeHandler{
		ingester: ingester,
		token:    token,
	}
}

func (h *ResumeHandler) RequireToken(c *fiber.Ctx) error {
	got := c.Get("X-Admin-Token")
	if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}
	return c.Next()
}

func (h *ResumeHandler) UploadSections(c *fiber.Ctx) error {
	var req struct {
		Sections []ingestion.Section `json:"sections"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Sections) == 0 || len(req.Sections) > maxSections {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "sections must hold between 1 and 200 entries",
		})
	}

	n, err := h.ingester.Ingest(c.UserContext(), req.Sections)
	if errors.Is(err, ingestion.ErrNoSections) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "sections have no text",
		})
	}
	if err != nil {
		logger.Error("Failed to ingest resume sections", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest sections",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Sections indexed",
		"chunks":  n,
	})
}
