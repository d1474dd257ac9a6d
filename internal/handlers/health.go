package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jasondsmith72/CWM-MCP/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	registry *services.ContextRegistry
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(registry *services.ContextRegistry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"contexts":  h.registry.Count(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
