package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"exchanged/internal/metrics"
	"exchanged/internal/transport"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// When a handler returns an *echo.HTTPError the status is written
			// later by echo's error handler, so take the code from the error.
			statusCode := c.Response().Status
			if err != nil && !c.Response().Committed {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			wire := c.Request().Method
			resolved := wire
			if r, ok := transport.RequestFrom(c); ok {
				resolved = r.Method()
			}
			if resolved != wire {
				m.MethodOverrides.WithLabelValues(metrics.NormalizeMethod(resolved)).Inc()
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(resolved)
			path := metrics.NormalizePath(c.Request().URL.Path)
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(duration)

			return err
		}
	}
}
