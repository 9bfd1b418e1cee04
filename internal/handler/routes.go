// Package handler binds the gate and its support endpoints to Echo routes.
package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"connector-gate/internal/config"
	"connector-gate/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, gate *GateHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/gate/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	registerGate(e, cfg.Gate.RoutePrefix, gate)
}

// registerGate sends every request under prefix to the gate, whatever its
// method or shape. Any only covers the methods Echo knows, so each path also
// gets a RouteNotFound fallback, which Echo uses for unknown methods on a
// matched path. The catch-all keeps router misses under prefix answered by
// the gate with an empty 404 instead of Echo's JSON error.
func registerGate(e *echo.Echo, prefix string, gate *GateHandler) {
	paths := []string{
		prefix,
		prefix + "/",
		prefix + "/:" + routeParam,
		prefix + "/:" + routeParam + "/",
		prefix + "/:" + routeParam + "/:" + idParam,
	}
	for _, p := range paths {
		e.Any(p, gate.Handle)
		e.RouteNotFound(p, gate.Handle)
	}
	e.RouteNotFound(prefix+"/*", gate.Handle)
}
