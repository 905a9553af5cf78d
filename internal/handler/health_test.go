package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/labstack/echo/v4"

	"exchanged/internal/client"
	"exchanged/internal/config"
	"exchanged/internal/service"
)

func newTestForwardService(t *testing.T, cfg *config.Config) *service.ForwardService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.NewForwardService(client.NewUpstreamClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewForwardService: %v", err)
	}
	return svc
}

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cfg := &config.Config{}
	h := NewHealthHandler(cfg, "test", newTestForwardService(t, cfg))
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
		want ServiceStatus
	}{
		{
			name: "forwarding enabled",
			cfg: &config.Config{
				Upstream: config.UpstreamConfig{BaseURL: "https://api.example.com/v1?drop=1", TimeoutSeconds: 10},
				Proxy:    config.ProxyConfig{TrustForwardedFor: true, ClientIPHeaders: []string{"Cf-Connecting-Ip"}},
				Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
			},
			want: ServiceStatus{
				Status:          "ok",
				Version:         "1.2.3",
				UpstreamURL:     "https://api.example.com/v1",
				ForwardEnabled:  true,
				TrustProxy:      true,
				ClientIPHeaders: 1,
				MetricsEnabled:  true,
			},
		},
		{
			name: "standalone",
			cfg:  &config.Config{},
			want: ServiceStatus{Status: "ok", Version: "1.2.3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/service/status", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			h := NewHealthHandler(tt.cfg, "1.2.3", newTestForwardService(t, tt.cfg))
			if err := h.Status(c); err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}

			var got ServiceStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Status() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
