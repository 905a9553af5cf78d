package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"exchanged/internal/config"
	"exchanged/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	forward *service.ForwardService
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, fwd *service.ForwardService) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, forward: fwd}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// ServiceStatus is the body of the status endpoint.
type ServiceStatus struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	UpstreamURL     string `json:"upstream_url,omitempty"`
	ForwardEnabled  bool   `json:"forward_enabled"`
	TrustProxy      bool   `json:"trust_proxy"`
	ClientIPHeaders int    `json:"client_ip_headers"`
	MetricsEnabled  bool   `json:"metrics_enabled"`
}

// Status returns service status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, ServiceStatus{
		Status:          "ok",
		Version:         string(h.version),
		UpstreamURL:     h.forward.BaseURL(),
		ForwardEnabled:  h.forward.Enabled(),
		TrustProxy:      h.cfg.Proxy.TrustForwardedFor,
		ClientIPHeaders: len(h.cfg.Proxy.ClientIPHeaders),
		MetricsEnabled:  h.cfg.Metrics.Enabled,
	})
}
