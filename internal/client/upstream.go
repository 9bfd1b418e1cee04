// Package client provides the outbound HTTP client that forwards gate
// requests to the backend.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"connector-gate/internal/config"
	"connector-gate/internal/metrics"
	"connector-gate/internal/model"
	"connector-gate/internal/stream"
)

// ErrUpstreamUnavailable wraps every failure to get a response from the backend.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

const postContentType = "application/json"

// UpstreamClient performs the outbound GET and POST calls.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient. Keep-alives are disabled so
// every forwarded call uses its own connection. The metrics parameter is
// optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		DisableKeepAlives: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// ForwardGet issues a GET to target. The caller closes the result body.
func (c *UpstreamClient) ForwardGet(ctx context.Context, target string) (*model.UpstreamResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUpstreamUnavailable, err)
	}
	return c.do(req)
}

// ForwardPost issues a POST to target with an application/json content type,
// streaming body into the outbound request in stream.ChunkSize chunks. A
// backend error status is returned as a normal result. The caller closes the
// result body.
func (c *UpstreamClient) ForwardPost(ctx context.Context, target string, body io.Reader) (*model.UpstreamResult, error) {
	if body == nil {
		body = http.NoBody
	}

	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("%w: build request: %w", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", postContentType)

	go func() {
		n, err := stream.Copy(pw, body)
		// A nil err closes the pipe with io.EOF.
		_ = pw.CloseWithError(err)
		if err != nil {
			c.logger.Debug("request body copy stopped", "bytes", n, "err", err)
		}
	}()

	result, err := c.do(req)
	if err != nil {
		// Unblock the copier if the transport gave up before draining the pipe.
		_ = pr.CloseWithError(err)
		return nil, err
	}
	return result, nil
}

// do executes req and captures the response. Only transport failures are
// errors; any HTTP status is a result.
func (c *UpstreamClient) do(req *http.Request) (*model.UpstreamResult, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResult
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
			c.metrics.UpstreamFailures.WithLabelValues(method).Inc()
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.UpstreamResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}
