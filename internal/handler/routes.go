package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exchanged/internal/config"
	"exchanged/internal/metrics"
	"exchanged/internal/transport"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	m *metrics.Metrics,
	adapter *transport.Adapter,
	exchange *ExchangeHandler,
	forward *ForwardHandler,
	health *HealthHandler,
) {
	e.GET("/healthz", health.Healthz)
	e.GET("/service/status", health.Status)

	e.Any("/inspect", adapter.Handle(exchange.Inspect))
	e.Any("/inspect/*", adapter.Handle(exchange.Inspect))
	e.Any("/status/:code", adapter.Handle(exchange.Status))
	e.GET("/redirect", adapter.Handle(exchange.Redirect))
	e.GET("/cookies/set", adapter.Handle(exchange.SetCookies))
	e.GET("/cookies/delete", adapter.Handle(exchange.DeleteCookies))
	e.GET("/stream/:n", adapter.Handle(exchange.Stream))

	e.Any("/forward", adapter.Handle(forward.Handle))
	e.Any("/forward/*", adapter.Handle(forward.Handle))

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
