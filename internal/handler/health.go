package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"connector-gate/internal/config"
	"connector-gate/internal/gate"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	gate    *gate.Gate
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, g *gate.Gate, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, gate: g, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusResponse is the body of the /gate/status endpoint.
type statusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UpstreamURL   string `json:"upstream_url"`
	RoutePrefix   string `json:"route_prefix"`
	AllowedRoutes int    `json:"allowed_routes"`
}

// Status returns gate status information. Route names are not listed.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:        "ok",
		Version:       string(h.version),
		UpstreamURL:   h.cfg.Upstream.BaseURL,
		RoutePrefix:   h.cfg.Gate.RoutePrefix,
		AllowedRoutes: h.gate.Allowed().Len(),
	})
}
