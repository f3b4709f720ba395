package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/cache"
	storemodels "github.com/resumemate/backend/internal/storage/models"
	"github.com/resumemate/backend/pkg/logger"
)

const readyTimeout = 3 * time.Second

// Version is overridden at link time.
var Version = "dev"

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

type StatsSource interface {
	Stats(ctx context.Context) (storemodels.Stats, error)
}

type SystemInfo struct {
	Model      string
	Collection string
	Owner      string
}

type SystemHandler struct {
	probes map[string]Probe
	stats  StatsSource
	caches []func() cache.Stats
	info   SystemInfo
}

func NewSystemHandler(stats StatsSource, info SystemInfo) *SystemHandler {
	return &SystemHandler{
		probes: make(map[string]Probe),
		stats:  stats,
		info:   info,
	}
}

// AddProbe registers a readiness check. Not safe after routes are served.
func (h *SystemHandler) AddProbe(name string, p Probe) {
	h.probes[name] = p
}

func (h *SystemHandler) AddCache(stats func() cache.Stats) {
	h.caches = append(h.caches, stats)
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "resumemate",
	})
}

func (h *SystemHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readyTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.probes))
	ready := true
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			logger.Warn("Readiness probe failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := fiber.StatusOK
	state := "ready"
	if !ready {
		status = fiber.StatusServiceUnavailable
		state = "not_ready"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": checks,
	})
}

func (h *SystemHandler) Info(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":     "running",
		"version":    Version,
		"model":      h.info.Model,
		"collection": h.info.Collection,
		"owner":      h.info.Owner,
	}

	if h.stats != nil {
		stats, err := h.stats.Stats(c.UserContext())
		if err != nil {
			logger.Warn("Failed to read stats", zap.Error(err))
		} else {
			resp["stats"] = stats
		}
	}

	caches := make([]cache.Stats, 0, len(h.caches))
	for _, s := range h.caches {
		caches = append(caches, s())
	}
	resp["caches"] = caches

	return c.JSON(resp)
}
