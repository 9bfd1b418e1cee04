package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"connector-gate/internal/gate"
	"connector-gate/internal/model"
)

// Path parameter names bound by RegisterRoutes.
const (
	routeParam = "route"
	idParam    = "id"
)

// GateHandler adapts matched Echo requests to the gate.
type GateHandler struct {
	gate   *gate.Gate
	logger *slog.Logger
}

// NewGateHandler creates a GateHandler.
func NewGateHandler(g *gate.Gate, logger *slog.Logger) *GateHandler {
	return &GateHandler{
		gate:   g,
		logger: logger.With("component", "gate_handler"),
	}
}

// Handle runs the request through the gate and streams the backend response
// back unchanged in status and primary content type.
func (h *GateHandler) Handle(c echo.Context) error {
	req := c.Request()
	route := c.Param(routeParam)
	id := c.Param(idParam)

	in := &model.InboundRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Route:    route,
		HasRoute: route != "",
		ID:       id,
		HasID:    id != "",
		Query:    ParseQuery(req.URL.RawQuery),
	}
	if strings.EqualFold(req.Method, http.MethodPost) {
		in.Body = req.Body
	}

	reply := h.gate.Serve(in)
	if reply.Response == nil {
		return c.NoContent(reply.Status)
	}

	resp := reply.Response
	defer func() { _ = resp.Body.Close() }()

	c.Response().Header().Set(echo.HeaderContentType, resp.ContentType)
	c.Response().WriteHeader(resp.Status)

	// The status is already on the wire; a failure here leaves the client
	// with a truncated body, so it is only logged.
	if _, err := resp.Body.WriteTo(c.Response()); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// ParseQuery splits a raw query string into decoded key/value pairs, keeping
// their order and duplicates. Pairs with invalid escapes or a semicolon in the
// key are dropped, as url.ParseQuery does.
func ParseQuery(raw string) []model.QueryParam {
	var params []model.QueryParam
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if strings.Contains(key, ";") {
			continue
		}
		k, err := url.QueryUnescape(key)
		if err != nil {
			continue
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}
		params = append(params, model.QueryParam{Key: k, Value: v})
	}
	return params
}
