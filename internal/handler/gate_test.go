package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/labstack/echo/v4"

	"connector-gate/internal/client"
	"connector-gate/internal/config"
	"connector-gate/internal/gate"
	"connector-gate/internal/metrics"
	"connector-gate/internal/model"
	"connector-gate/internal/stream"
)

// newTestConfig returns a config forwarding to baseURL+"/backend".
func newTestConfig(baseURL, allow string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:        baseURL + "/backend",
			TimeoutSeconds: 10,
		},
		Gate: config.GateConfig{
			Allowlist:   allow,
			RoutePrefix: "/api",
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// newTestEcho wires the full stack the way main does, minus fx.
func newTestEcho(t *testing.T, cfg *config.Config) (*echo.Echo, *metrics.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	uc := client.NewUpstreamClient(cfg, logger, m)
	g, err := gate.New(cfg, uc, logger, m)
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	e := echo.New()
	RegisterRoutes(e, cfg, NewGateHandler(g, logger), NewHealthHandler(cfg, g, "test"), m)
	return e, m
}

func serve(e *echo.Echo, method, target string, body io.Reader) *httptest.ResponseRecorder {
	if body == nil {
		body = http.NoBody
	}
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGateHandler_GetForwardsAndRelays(t *testing.T) {
	var gotURI atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI.Store(r.URL.RequestURI())
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Backend-Secret", "internal")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("hello from backend"))
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, newTestConfig(upstream.URL, "Foo"))
	rec := serve(e, http.MethodGet, "/api/Foo/42?x=1", nil)

	if got, _ := gotURI.Load().(string); got != "/backend/Foo/42?x=1" {
		t.Errorf("upstream request URI = %q, want %q", got, "/backend/Foo/42?x=1")
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/plain" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/plain")
	}
	if rec.Body.String() != "hello from backend" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Backend-Secret") != "" {
		t.Error("upstream headers other than Content-Type should not be relayed")
	}
}

func TestGateHandler_TrailingSlashIsRouteWithoutID(t *testing.T) {
	var gotURI atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI.Store(r.URL.RequestURI())
		_, _ = w.Write([]byte("[]"))
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, newTestConfig(upstream.URL, "Foo"))
	rec := serve(e, http.MethodGet, "/api/Foo/?make=volvo", nil)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got, _ := gotURI.Load().(string); got != "/backend/Foo?make=volvo" {
		t.Errorf("upstream request URI = %q, want %q", got, "/backend/Foo?make=volvo")
	}
}

func TestGateHandler_DefaultsContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Suppress net/http's content sniffing.
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("{}"))
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, newTestConfig(upstream.URL, "foo"))
	rec := serve(e, http.MethodGet, "/api/foo", nil)

	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestGateHandler_QueryOrderAndDecoding(t *testing.T) {
	var gotQuery atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, newTestConfig(upstream.URL, "foo"))
	rec := serve(e, http.MethodGet, "/api/foo?b=2&a=1&b=3&path=a%2Fb", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got, _ := gotQuery.Load().(string); got != "b=2&a=1&b=3&path=a/b" {
		t.Errorf("upstream query = %q, want %q", got, "b=2&a=1&b=3&path=a/b")
	}
}

func TestGateHandler_PostBodySizes(t *testing.T) {
	sizes := []struct {
		name string
		size int
	}{
		{"smaller than chunk", 100},
		{"equal to chunk", stream.ChunkSize},
		{"larger than chunk", stream.ChunkSize*4 + 1},
	}

	for _, tt := range sizes {
		t.Run(tt.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte("x"), tt.size)
			received := make(chan []byte, 1)
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method = %q, want POST", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("upstream Content-Type = %q, want application/json", ct)
				}
				body, _ := io.ReadAll(r.Body)
				received <- body
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			defer upstream.Close()

			e, _ := newTestEcho(t, newTestConfig(upstream.URL, "InsertAutoModel"))
			rec := serve(e, http.MethodPost, "/api/InsertAutoModel", bytes.NewReader(payload))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if got := <-received; !bytes.Equal(got, payload) {
				t.Errorf("upstream received %d bytes, want %d identical bytes", len(got), len(payload))
			}
			if rec.Body.String() != `{"ok":true}` {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestGateHandler_PostErrorPassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"title":"invalid model"}`))
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, newTestConfig(upstream.URL, "InsertAutoModel"))
	rec := serve(e, http.MethodPost, "/api/InsertAutoModel", strings.NewReader(`{}`))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != `{"title":"invalid model"}` {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestGateHandler_UpstreamUnreachable(t *testing.T) {
	cfg := newTestConfig("http://127.0.0.1:1", "foo")
	cfg.Upstream.TimeoutSeconds = 2
	e, _ := newTestEcho(t, cfg)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			rec := serve(e, method, "/api/foo/1", strings.NewReader(`{}`))
			if rec.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("body = %q, want empty", rec.Body.String())
			}
		})
	}
}

func TestGateHandler_Rejections(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, newTestConfig(upstream.URL, "SelectAutoModels, InsertAutoModel"))

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{"not allow-listed GET", http.MethodGet, "/api/DeleteAutoModel", http.StatusNotFound},
		{"not allow-listed POST", http.MethodPost, "/api/DeleteAutoModel/1", http.StatusNotFound},
		{"not allow-listed OPTIONS", http.MethodOptions, "/api/DeleteAutoModel", http.StatusNotFound},
		{"not allow-listed DELETE", http.MethodDelete, "/api/DeleteAutoModel", http.StatusNotFound},
		{"unsafe id", http.MethodGet, "/api/SelectAutoModels/1.5", http.StatusForbidden},
		{"encoded traversal id", http.MethodGet, "/api/SelectAutoModels/%2e%2e", http.StatusForbidden},
		{"unsafe id on POST", http.MethodPost, "/api/InsertAutoModel/a-b", http.StatusForbidden},
		{"unsupported PUT", http.MethodPut, "/api/InsertAutoModel", http.StatusForbidden},
		{"unsupported DELETE", http.MethodDelete, "/api/SelectAutoModels/1", http.StatusForbidden},
		{"unsupported PATCH", http.MethodPatch, "/api/SelectAutoModels", http.StatusForbidden},
		{"preflight", http.MethodOptions, "/api/SelectAutoModels", http.StatusOK},
		{"preflight with id", http.MethodOptions, "/api/selectautomodels/9", http.StatusOK},
		{"unknown method", "XYZZY", "/api/InsertAutoModel", http.StatusForbidden},
		{"unknown method with id", "XYZZY", "/api/SelectAutoModels/7", http.StatusForbidden},
		{"unknown method not allow-listed", "XYZZY", "/api/DeleteAutoModel", http.StatusNotFound},
		{"WebDAV method", "PROPFIND", "/api/SelectAutoModels", http.StatusForbidden},
		{"missing route", http.MethodGet, "/api/", http.StatusNotFound},
		{"bare prefix", http.MethodGet, "/api", http.StatusNotFound},
		{"missing route unknown method", "XYZZY", "/api/", http.StatusNotFound},
		{"too many segments", http.MethodGet, "/api/SelectAutoModels/1/2", http.StatusNotFound},
		{"too many segments unknown method", "XYZZY", "/api/SelectAutoModels/1/2", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, tt.method, tt.target, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("body = %q, want empty", rec.Body.String())
			}
		})
	}

	if n := calls.Load(); n != 0 {
		t.Errorf("upstream called %d times, want 0", n)
	}
}

func TestGateHandler_CanceledContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, newTestConfig(upstream.URL, "foo"))

	req := httptest.NewRequest(http.MethodGet, "/api/foo", http.NoBody)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []model.QueryParam
	}{
		{name: "empty", raw: "", want: nil},
		{
			name: "order and duplicates",
			raw:  "b=2&a=1&b=3",
			want: []model.QueryParam{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}, {Key: "b", Value: "3"}},
		},
		{
			name: "decoding",
			raw:  "q=hello+world&p=a%2Fb&k%20ey=%26",
			want: []model.QueryParam{{Key: "q", Value: "hello world"}, {Key: "p", Value: "a/b"}, {Key: "k ey", Value: "&"}},
		},
		{
			name: "key without value",
			raw:  "flag&x=",
			want: []model.QueryParam{{Key: "flag", Value: ""}, {Key: "x", Value: ""}},
		},
		{
			name: "empty segments skipped",
			raw:  "&&x=1&",
			want: []model.QueryParam{{Key: "x", Value: "1"}},
		},
		{
			name: "invalid escapes and semicolons dropped",
			raw:  "bad=%zz&a;b=1&ok=1",
			want: []model.QueryParam{{Key: "ok", Value: "1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseQuery(tt.raw)); diff != "" {
				t.Errorf("ParseQuery(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}
