// Package gate decides whether an inbound request may reach the backend and,
// if so, forwards it and relays the answer.
package gate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"connector-gate/internal/allowlist"
	"connector-gate/internal/config"
	"connector-gate/internal/metrics"
	"connector-gate/internal/model"
	"connector-gate/internal/relay"
)

// Forwarder performs the outbound call for an accepted request.
type Forwarder interface {
	ForwardGet(ctx context.Context, target string) (*model.UpstreamResult, error)
	ForwardPost(ctx context.Context, target string, body io.Reader) (*model.UpstreamResult, error)
}

// Outcome is the terminal decision taken for a request.
type Outcome int

const (
	// OutcomeNotFound: route missing or not allow-listed.
	OutcomeNotFound Outcome = iota
	// OutcomeForbidden: unsafe route or id, or unsupported method.
	OutcomeForbidden
	// OutcomePreflight: OPTIONS on an accepted route; nothing is forwarded.
	OutcomePreflight
	// OutcomeForward: GET or POST on an accepted route.
	OutcomeForward
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomePreflight:
		return "preflight"
	case OutcomeForward:
		return "forward"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Reply is the gate's answer to one request. Response is only set for
// OutcomeForward; every other outcome is answered with Status and no body.
type Reply struct {
	Outcome  Outcome
	Status   int
	Response *relay.Response
}

// Gate validates inbound requests against the allow-list and forwards the
// accepted ones to a single backend. It is safe for concurrent use; its
// configuration never changes after New.
type Gate struct {
	allowed allowlist.Set
	base    *url.URL
	fwd     Forwarder
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Gate from the upstream base address and allow-list in cfg.
// logger and m are optional.
func New(cfg *config.Config, fwd Forwarder, logger *slog.Logger, m *metrics.Metrics) (*Gate, error) {
	base, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q is not an absolute URL", cfg.Upstream.BaseURL)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	g := &Gate{
		allowed: allowlist.Normalize(cfg.Gate.Allowlist),
		base:    base,
		fwd:     fwd,
		logger:  logger.With("component", "gate"),
		metrics: m,
	}
	g.logger.Info("allow-list loaded", "upstream", base.Redacted(), "routes", g.allowed.Names())
	return g, nil
}

// Allowed returns the normalized allow-list.
func (g *Gate) Allowed() allowlist.Set {
	return g.allowed
}

// Decide runs the validation steps for req without forwarding anything.
func (g *Gate) Decide(req *model.InboundRequest) Outcome {
	outcome, _ := g.decide(req)
	return outcome
}

// decide returns the outcome and, for rejections, the reason to log.
func (g *Gate) decide(req *model.InboundRequest) (Outcome, string) {
	if !req.HasRoute || !g.allowed.Contains(strings.ToLower(req.Route)) {
		return OutcomeNotFound, "route not allow-listed"
	}
	if !IsSafe(req.Route) || (req.HasID && !IsSafe(req.ID)) {
		return OutcomeForbidden, "unsafe route component"
	}

	switch strings.ToUpper(req.Method) {
	case http.MethodGet, http.MethodPost:
		return OutcomeForward, ""
	case http.MethodOptions:
		return OutcomePreflight, ""
	default:
		return OutcomeForbidden, "unsupported method"
	}
}

// Serve decides req and, when accepted, forwards it. The caller must drain
// or close Reply.Response.Body.
func (g *Gate) Serve(req *model.InboundRequest) *Reply {
	outcome, reason := g.decide(req)
	if g.metrics != nil {
		g.metrics.Decisions.WithLabelValues(outcome.String()).Inc()
	}

	switch outcome {
	case OutcomeNotFound:
		g.logger.Warn(reason, "route", req.Route, "method", req.Method)
		return &Reply{Outcome: outcome, Status: http.StatusNotFound}
	case OutcomeForbidden:
		g.logger.Warn(reason, "route", req.Route, "id", req.ID, "method", req.Method)
		return &Reply{Outcome: outcome, Status: http.StatusForbidden}
	case OutcomePreflight:
		return &Reply{Outcome: outcome, Status: http.StatusOK}
	}

	resp := relay.New(g.forward(req))
	return &Reply{Outcome: outcome, Status: resp.Status, Response: resp}
}

// forward calls the backend. A nil result means it could not be reached.
func (g *Gate) forward(req *model.InboundRequest) *model.UpstreamResult {
	ctx := req.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	target := BuildTarget(g.base, req.Route, req.ID, req.HasID, req.Query)

	var (
		result *model.UpstreamResult
		err    error
	)
	if strings.ToUpper(req.Method) == http.MethodPost {
		result, err = g.fwd.ForwardPost(ctx, target, req.Body)
	} else {
		result, err = g.fwd.ForwardGet(ctx, target)
	}
	if err != nil {
		g.logger.Debug("upstream unavailable", "route", req.Route, "err", err)
		return nil
	}
	return result
}
