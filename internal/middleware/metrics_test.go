package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"

	"exchanged/internal/message"
	"exchanged/internal/metrics"
	"exchanged/internal/transport"
)

// findMetric returns the first sample of family name whose labels include want.
func findMetric(t *testing.T, m *metrics.Metrics, name string, want map[string]string) *dto.Metric {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			return metric
		}
	}
	return nil
}

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/inspect/headers", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/inspect/headers", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	metric := findMetric(t, m, "exchanged_http_requests_total", map[string]string{"path_prefix": "/inspect"})
	if metric == nil {
		t.Fatal("expected exchanged_http_requests_total with path_prefix=/inspect")
	}
	if v := metric.GetCounter().GetValue(); v != 1 {
		t.Errorf("counter value = %v, want 1", v)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	metric := findMetric(t, m, "exchanged_http_request_duration_seconds", map[string]string{"path_prefix": "/healthz"})
	if metric == nil || metric.GetHistogram().GetSampleCount() == 0 {
		t.Error("expected exchanged_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/status/:code", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})

	req := httptest.NewRequest(http.MethodGet, "/status/999", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	metric := findMetric(t, m, "exchanged_http_requests_total", map[string]string{"path_prefix": "/status"})
	if metric == nil {
		t.Fatal("expected exchanged_http_requests_total with path_prefix=/status")
	}
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == "status_code" && lp.GetValue() != "404" {
			t.Errorf("status_code = %q, want %q", lp.GetValue(), "404")
		}
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/inspect", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest("XYZZY", "/inspect", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if findMetric(t, m, "exchanged_http_requests_total", map[string]string{"path_prefix": "/inspect", "method": "other"}) == nil {
		t.Error("expected exchanged_http_requests_total with path_prefix=/inspect and method=other")
	}
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	want := map[string]string{"path_prefix": "other", "method": "GET", "status_code": "404"}
	if findMetric(t, m, "exchanged_http_requests_total", want) == nil {
		t.Error("expected exchanged_http_requests_total with path_prefix=other, method=GET, status_code=404")
	}
}

func TestMetricsMiddleware_MethodOverride(t *testing.T) {
	m := metrics.New()
	adapter := transport.NewAdapterWithOptions(transport.Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)), m)

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/inspect", adapter.Handle(func(context.Context, *message.Request, *message.Response) error {
		return nil
	}))

	req := httptest.NewRequest(http.MethodPost, "/inspect", http.NoBody)
	req.Header.Set("X-Http-Method-Override", "put")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	override := findMetric(t, m, "exchanged_method_overrides_total", map[string]string{"method": "PUT"})
	if override == nil || override.GetCounter().GetValue() != 1 {
		t.Errorf("method override counter = %v, want 1", override)
	}
	if findMetric(t, m, "exchanged_http_requests_total", map[string]string{"method": "PUT", "status_code": "200"}) == nil {
		t.Error("request counted under the wire method instead of the resolved one")
	}
}
