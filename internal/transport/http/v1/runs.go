package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ambitus/orchestrator/internal/domain"
	"github.com/ambitus/orchestrator/internal/service"
)

// StartRun starts a pipeline run for a company.
// POST /v1/runs
func (h *Handler) StartRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.CompanyName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "company_name is required"})
	}

	resp, err := h.service.StartRun(ctx, req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, resp)
}

// ListRuns lists recent runs, newest first.
// GET /v1/runs
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.service.ListRuns(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

// GetRun returns the current view of a run.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	ctx := c.Request().Context()

	view, err := h.service.GetRun(ctx, c.Param("run_id"))
	if err != nil {
		return runError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// SubmitSelection submits the human domain selection for a suspended run.
// POST /v1/runs/:run_id/selection
func (h *Handler) SubmitSelection(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.SelectionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.SubmitSelection(ctx, c.Param("run_id"), req.Domain)
	if err != nil {
		return runError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// CancelRun aborts a run.
// POST /v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	ctx := c.Request().Context()

	view, err := h.service.CancelRun(ctx, c.Param("run_id"))
	if err != nil {
		return runError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// GetRunEvents returns the run's trace events.
// GET /v1/runs/:run_id/events
func (h *Handler) GetRunEvents(c echo.Context) error {
	ctx := c.Request().Context()

	var afterTs int64
	if v := c.QueryParam("after_ts"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			afterTs = n
		}
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.service.GetRunEvents(ctx, c.Param("run_id"), afterTs, limit)
	if err != nil {
		return runError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

// GetReport returns the final report of a succeeded run.
// GET /v1/runs/:run_id/report
func (h *Handler) GetReport(c echo.Context) error {
	ctx := c.Request().Context()

	report, err := h.service.GetReport(ctx, c.Param("run_id"))
	if err != nil {
		return runError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// runError maps service errors to HTTP statuses: unknown run IDs to 404,
// selection conflicts to 409, everything else to 500.
func runError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrRunNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	var be *domain.BranchError
	if errors.As(err, &be) {
		return c.JSON(http.StatusConflict, map[string]string{
			"error": be.Message,
			"kind":  string(be.Kind),
		})
	}
	if errors.Is(err, service.ErrConflict) {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
