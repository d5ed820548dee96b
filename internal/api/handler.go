package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bobby-s-dev/heat-guard/internal/models"
	"github.com/bobby-s-dev/heat-guard/internal/scheduler"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ToolRouter interface {
	Definitions() []models.ToolDefinition
	Invoke(ctx context.Context, inv models.ToolInvocation) models.ToolResult
}

type HeatWatch interface {
	GetStatus() scheduler.Status
	RunNow(ctx context.Context) []scheduler.WatchResult
}

type Handler struct {
	router    ToolRouter
	watch     HeatWatch
	logger    *zap.Logger
	startTime time.Time
}

// NewHandler builds the HTTP handlers. watch may be nil when the heat watch
// is disabled.
func NewHandler(router ToolRouter, watch HeatWatch, logger *zap.Logger) *Handler {
	return &Handler{
		router:    router,
		watch:     watch,
		logger:    logger,
		startTime: time.Now(),
	}
}

// ListTools handles GET /api/v1/tools
func (h *Handler) ListTools(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"tools": h.router.Definitions(),
	})
}

// CallTool handles POST /api/v1/tools/call. Tool failures are reported in
// the result body with a 200; only a malformed request is a 400.
func (h *Handler) CallTool(c *fiber.Ctx) error {
	var inv models.ToolInvocation
	if err := c.BodyParser(&inv); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Request body must be a JSON object with name and arguments",
			"details": err.Error(),
		})
	}

	inv.Name = strings.TrimSpace(inv.Name)
	if inv.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Tool name is required",
		})
	}

	h.logger.Debug("Calling tool",
		zap.String("tool", inv.Name),
		zap.Any("request_id", c.Locals("requestid")))

	result := h.router.Invoke(c.UserContext(), inv)
	return c.JSON(result)
}

// GetHealth handles GET /api/v1/health
func (h *Handler) GetHealth(c *fiber.Ctx) error {
	body := fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
		"tools":     len(h.router.Definitions()),
	}
	if h.watch != nil {
		body["heat_watch_last_run"] = h.watch.GetStatus().LastRun
	}
	return c.JSON(body)
}

// GetWatchStatus handles GET /api/v1/watch
func (h *Handler) GetWatchStatus(c *fiber.Ctx) error {
	if h.watch == nil {
		return fiber.NewError(fiber.StatusNotFound, "Heat watch is disabled")
	}
	return c.JSON(h.watch.GetStatus())
}

// RunWatch handles POST /api/v1/watch/run
func (h *Handler) RunWatch(c *fiber.Ctx) error {
	if h.watch == nil {
		return fiber.NewError(fiber.StatusNotFound, "Heat watch is disabled")
	}

	h.logger.Info("Manually triggering heat watch")
	results := h.watch.RunNow(c.UserContext())
	return c.JSON(fiber.Map{
		"results": results,
	})
}

// ErrorHandler renders errors returned by handlers as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	if code >= fiber.StatusInternalServerError {
		zap.L().Error("HTTP error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   err.Error(),
		"success": false,
	})
}
