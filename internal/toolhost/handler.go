package toolhost

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ambitus/orchestrator/internal/domain"
)

// Handler exposes the registry over the tool-invocation protocol.
type Handler struct {
	registry *Registry
}

// NewHandler creates a handler for the given registry.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// NewServer creates the tool server for the given registry.
func NewServer(registry *Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	NewHandler(registry).RegisterRoutes(e)
	return e
}

// RegisterRoutes registers the tool server routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/tools", h.ListTools)
	e.POST("/tools/:tool_name/invoke", h.InvokeTool)
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// ListTools serves discovery: the tool_name -> capability descriptor mapping.
func (h *Handler) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, domain.DiscoverResponse{Tools: h.registry.Descriptors()})
}

// InvokeTool executes a registered tool within its declared timeout.
func (h *Handler) InvokeTool(c echo.Context) error {
	toolName := c.Param("tool_name")

	desc, ok := h.registry.Lookup(toolName)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "tool not found"})
	}

	var req domain.ToolInvokeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	if desc.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(desc.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	result, err := h.registry.Execute(ctx, toolName, req.Params)
	if err != nil {
		code := "execution_failed"
		if errors.Is(err, context.DeadlineExceeded) {
			code = "timeout"
		}
		return c.JSON(http.StatusOK, domain.ToolInvokeResponse{
			Error: &domain.ToolErrorBody{Code: code, Message: err.Error()},
		})
	}

	return c.JSON(http.StatusOK, domain.ToolInvokeResponse{Result: result})
}
