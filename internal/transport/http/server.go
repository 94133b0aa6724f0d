// Package http provides the HTTP server for the orchestrator API.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ambitus/orchestrator/internal/service"
	v1 "github.com/ambitus/orchestrator/internal/transport/http/v1"
)

// NewServer creates and configures the public API server: run lifecycle,
// selections, events and reports.
func NewServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(svc).RegisterRoutes(e)

	return e
}
