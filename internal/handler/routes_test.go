package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"exchanged/internal/client"
	"exchanged/internal/config"
	"exchanged/internal/metrics"
	"exchanged/internal/service"
	"exchanged/internal/transport"
)

// newTestRouter builds the full route table. An empty upstreamURL leaves
// forwarding disabled.
func newTestRouter(t *testing.T, upstreamURL string) *echo.Echo {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         upstreamURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Uploads: config.UploadsConfig{TempDir: t.TempDir()},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	fwd, err := service.NewForwardService(client.NewUpstreamClient(cfg, logger, m), cfg, logger)
	if err != nil {
		t.Fatalf("NewForwardService: %v", err)
	}

	e := echo.New()
	RegisterRoutes(e, cfg, m,
		transport.NewAdapter(cfg, logger, m),
		NewExchangeHandler(logger),
		NewForwardHandler(fwd, logger),
		NewHealthHandler(cfg, "test", fwd),
	)
	return e
}

func do(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	e := newTestRouter(t, upstream.URL)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /service/status", http.MethodGet, "/service/status", http.StatusOK},
		{"GET /inspect", http.MethodGet, "/inspect", http.StatusOK},
		{"DELETE /inspect/headers", http.MethodDelete, "/inspect/headers", http.StatusOK},
		{"PUT /status/202", http.MethodPut, "/status/202", http.StatusAccepted},
		{"GET /redirect", http.MethodGet, "/redirect?to=/inspect", http.StatusSeeOther},
		{"GET /cookies/set", http.MethodGet, "/cookies/set?a=1", http.StatusSeeOther},
		{"GET /cookies/delete", http.MethodGet, "/cookies/delete?a=", http.StatusSeeOther},
		{"GET /stream/2", http.MethodGet, "/stream/2", http.StatusOK},
		{"GET /forward/x", http.MethodGet, "/forward/x?query=test", http.StatusOK},
		{"POST /forward", http.MethodPost, "/forward", http.StatusOK},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"POST /redirect returns 405", http.MethodPost, "/redirect?to=/", http.StatusMethodNotAllowed},
		{"GET /unknown returns 404", http.MethodGet, "/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, httptest.NewRequest(tt.method, tt.path, http.NoBody))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRegisterRoutes_MetricsExposeRequests(t *testing.T) {
	e := newTestRouter(t, "")

	do(e, httptest.NewRequest(http.MethodGet, "/stream/1", http.NoBody))
	rec := do(e, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "exchanged_http_requests_in_flight") {
		t.Error("metrics output does not contain exchanged collectors")
	}
}

func TestRegisterRoutes_MetricsDisabled(t *testing.T) {
	cfg := &config.Config{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	fwd, err := service.NewForwardService(client.NewUpstreamClient(cfg, logger, m), cfg, logger)
	if err != nil {
		t.Fatalf("NewForwardService: %v", err)
	}

	e := echo.New()
	RegisterRoutes(e, cfg, m,
		transport.NewAdapter(cfg, logger, m),
		NewExchangeHandler(logger),
		NewForwardHandler(fwd, logger),
		NewHealthHandler(cfg, "test", fwd),
	)

	if rec := do(e, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 with metrics disabled", rec.Code)
	}
}
