// Package transport binds the transport-agnostic message layer to echo: it turns
// an inbound echo request into a message.Request and renders a message.Response
// back through the echo response writer.
package transport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"exchanged/internal/config"
	"exchanged/internal/message"
	"exchanged/internal/metrics"
)

const (
	// AttrRequestID is the request attribute holding the X-Request-ID value.
	AttrRequestID = "request_id"

	requestKey = "exchanged.request"
)

// Exchange handles one request/response pair. ctx is canceled when the client
// goes away. Returning without calling End is fine; the adapter ends the
// response. A returned error goes to echo's error handler unless the response
// was already sent.
type Exchange func(ctx context.Context, req *message.Request, res *message.Response) error

// Options configure the echo boundary.
type Options struct {
	TrustProxy      bool
	ClientIPHeaders []string
	TempDir         string
	MaxMemory       int64
}

// OptionsFromConfig derives the boundary options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TrustProxy:      cfg.Proxy.TrustForwardedFor,
		ClientIPHeaders: cfg.Proxy.ClientIPHeaders,
		TempDir:         cfg.Uploads.TempDir,
		MaxMemory:       cfg.Uploads.MaxMemoryBytes,
	}
}

// Adapter turns Exchange functions into echo handlers.
type Adapter struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAdapter creates an Adapter. The metrics parameter is optional.
func NewAdapter(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Adapter {
	return NewAdapterWithOptions(OptionsFromConfig(cfg), logger, m)
}

// NewAdapterWithOptions creates an Adapter from explicit options.
func NewAdapterWithOptions(opts Options, logger *slog.Logger, m *metrics.Metrics) *Adapter {
	if opts.MaxMemory <= 0 {
		opts.MaxMemory = 32 << 20
	}
	return &Adapter{
		opts:    opts,
		logger:  logger.With("component", "transport"),
		metrics: m,
	}
}

func (a *Adapter) requestOptions() []message.RequestOption {
	opts := []message.RequestOption{message.TrustProxy(a.opts.TrustProxy)}
	if len(a.opts.ClientIPHeaders) > 0 {
		opts = append(opts, message.IPExtractor(message.HeaderIPExtractor(a.opts.ClientIPHeaders...)))
	}
	return opts
}

// Handle wraps fn as an echo handler.
func (a *Adapter) Handle(fn Exchange) echo.HandlerFunc {
	return func(c echo.Context) error {
		snap, sp, err := a.snapshot(c)
		defer sp.cleanup()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
		}

		req, err := message.NewRequest(snap, a.requestOptions()...)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed request").SetInternal(err)
		}
		c.Set(requestKey, req)

		res, err := message.NewResponse(newEchoTransmitter(c.Response()), message.Encrypted(c.IsTLS()))
		if err != nil {
			return err
		}
		defer res.Release()

		if err := fn(c.Request().Context(), req, res); err != nil {
			return err
		}
		if err := res.End(); err != nil {
			a.logger.Warn("response emission failed",
				"err", err,
				"path", c.Request().URL.Path,
			)
		}
		return nil
	}
}

// RequestFrom returns the message.Request built for c, if the route went
// through an Adapter.
func RequestFrom(c echo.Context) (*message.Request, bool) {
	req, ok := c.Get(requestKey).(*message.Request)
	return req, ok
}
