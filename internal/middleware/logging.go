// Package middleware provides Echo middleware for logging, metrics and
// security headers.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"exchanged/internal/transport"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Routes served through a transport.Adapter log the resolved method and client
// IP; other routes fall back to what echo saw on the wire.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			method, clientIP := req.Method, c.RealIP()
			if r, ok := transport.RequestFrom(c); ok {
				method = r.Method()
				if ip := r.ClientIP(); ip != "" {
					clientIP = ip
				}
			}

			attrs := []any{
				"method", method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", clientIP,
				"bytes_out", res.Size,
			}
			if method != req.Method {
				attrs = append(attrs, "wire_method", req.Method)
			}
			if err != nil {
				attrs = append(attrs, "err", err)
			}
			logger.Info("request", attrs...)

			return err
		}
	}
}
