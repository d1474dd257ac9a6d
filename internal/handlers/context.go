package handlers

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/jasondsmith72/CWM-MCP/internal/models"
	"github.com/jasondsmith72/CWM-MCP/internal/pwsh"
	"github.com/jasondsmith72/CWM-MCP/internal/services"
)

// CWMRunner is the slice of the CWM service the context handler needs.
type CWMRunner interface {
	Connect(ctx context.Context, overrides models.Credentials) (string, error)
	RunCommand(ctx context.Context, command string, params []pwsh.Param) (any, error)
	GetSystemInfo(ctx context.Context) (any, error)
	GetCompanies(ctx context.Context, conditions string) (any, error)
	GetTickets(ctx context.Context, conditions string) (any, error)
}

// ContextHandler handles the /context API
type ContextHandler struct {
	registry *services.ContextRegistry
	cwm      CWMRunner
}

// NewContextHandler creates a new context handler
func NewContextHandler(registry *services.ContextRegistry, cwm CWMRunner) *ContextHandler {
	return &ContextHandler{registry: registry, cwm: cwm}
}

// Create handles POST /context
func (h *ContextHandler) Create(c *fiber.Ctx) error {
	rec := h.registry.Create()
	return c.JSON(fiber.Map{
		"contextId": rec.ID,
		"status":    "created",
	})
}

// List handles GET /context
func (h *ContextHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"contexts": h.registry.List(),
	})
}

// Connect handles POST /context/:id/connect. Body fields override the
// pre-staged bundle and the ambient configuration for this call only.
func (h *ContextHandler) Connect(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.registry.Get(id); err != nil {
		return fail(c, err)
	}

	var req models.ConnectRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	message, err := h.cwm.Connect(c.UserContext(), req.Credentials)
	if err != nil {
		return fail(c, err)
	}

	h.registry.MarkConnected(id)
	h.registry.Touch(id)

	return c.JSON(fiber.Map{
		"status":  "connected",
		"message": message,
	})
}

// GetSystemInfo handles POST /context/:id/getSystemInfo
func (h *ContextHandler) GetSystemInfo(c *fiber.Ctx) error {
	return h.runForContext(c, func(ctx context.Context) (any, error) {
		return h.cwm.GetSystemInfo(ctx)
	})
}

// GetCompanies handles POST /context/:id/getCompanies
func (h *ContextHandler) GetCompanies(c *fiber.Ctx) error {
	conditions, ok := parseConditions(c)
	if !ok {
		return nil
	}
	return h.runForContext(c, func(ctx context.Context) (any, error) {
		return h.cwm.GetCompanies(ctx, conditions)
	})
}

// GetTickets handles POST /context/:id/getTickets
func (h *ContextHandler) GetTickets(c *fiber.Ctx) error {
	conditions, ok := parseConditions(c)
	if !ok {
		return nil
	}
	return h.runForContext(c, func(ctx context.Context) (any, error) {
		return h.cwm.GetTickets(ctx, conditions)
	})
}

// ExecuteCommand handles POST /context/:id/executeCommand
func (h *ContextHandler) ExecuteCommand(c *fiber.Ctx) error {
	var req models.ExecuteCommandRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Command == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "command is required",
		})
	}

	return h.runForContext(c, func(ctx context.Context) (any, error) {
		return h.cwm.RunCommand(ctx, req.Command, pwsh.ParamsFromMap(req.Params))
	})
}

// Delete handles DELETE /context/:id
func (h *ContextHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.registry.Delete(id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Context %s not found", id),
		})
	}

	return c.JSON(fiber.Map{
		"status":  "deleted",
		"message": fmt.Sprintf("Context %s deleted", id),
	})
}

// runForContext validates the context, lazily bootstraps the external session
// when the record is not yet connected, runs op and refreshes the access
// timestamp on success.
func (h *ContextHandler) runForContext(c *fiber.Ctx, op func(ctx context.Context) (any, error)) error {
	id := c.Params("id")
	rec, err := h.registry.Get(id)
	if err != nil {
		return fail(c, err)
	}

	if !rec.Connected {
		if _, err := h.cwm.Connect(c.UserContext(), models.Credentials{}); err != nil {
			return fail(c, err)
		}
		h.registry.MarkConnected(id)
	}

	result, err := op(c.UserContext())
	if err != nil {
		if services.IsSessionLoss(err) {
			h.registry.MarkDisconnected(id)
		}
		return fail(c, err)
	}

	h.registry.Touch(id)
	return c.JSON(result)
}

// parseConditions reads the optional {conditions} body. The second return is
// false when the body was present but unparseable; the 400 response has
// already been written in that case.
func parseConditions(c *fiber.Ctx) (string, bool) {
	if len(c.Body()) == 0 {
		return "", true
	}
	var req models.QueryRequest
	if err := c.BodyParser(&req); err != nil {
		c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
		return "", false
	}
	return req.Conditions, true
}

// fail converts any service-level failure into the flat 500 error body the
// API contract promises. Credential redaction already happened in the
// services layer; nothing secret reaches this point.
func fail(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
	})
}
