package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"exchanged/internal/message"
	"exchanged/internal/service"
)

// ForwardHandler relays requests under /forward to the configured upstream.
type ForwardHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewForwardHandler creates a ForwardHandler.
func NewForwardHandler(svc *service.ForwardService, logger *slog.Logger) *ForwardHandler {
	return &ForwardHandler{
		service: svc,
		logger:  logger.With("component", "forward_handler"),
	}
}

// Handle forwards the resolved request and streams the upstream answer back
// through the response.
func (h *ForwardHandler) Handle(ctx context.Context, req *message.Request, res *message.Response) error {
	path := strings.TrimPrefix(req.URI().Path(), "/forward")

	resp, err := h.service.Forward(ctx, req, path)
	if err != nil {
		return h.mapError(req, res, err)
	}
	defer func() { _ = resp.Body.Close() }()

	res.WithStatus(resp.StatusCode)
	for key, vals := range resp.Header {
		res.WithHeader(key, vals...)
	}
	for _, c := range resp.Cookies {
		res.WithCookie(c.Name, c.Value, cookieOptions(c, time.Now())...)
	}
	res.WithBody(message.NewReadOnceStream(resp.Body))

	// Once the status is out a failed copy can only truncate the body, so
	// the error is logged rather than returned.
	if err := res.End(); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", path,
		)
	}
	return nil
}

// cookieOptions carries the attributes of an upstream cookie over to a
// response cookie. Max-Age wins over Expires.
func cookieOptions(c *http.Cookie, now time.Time) []message.CookieOption {
	opts := []message.CookieOption{
		message.CookiePath(c.Path),
		message.CookieSecure(c.Secure),
		message.CookieHTTPOnly(c.HttpOnly),
	}
	if c.Path == "" {
		opts[0] = message.CookiePath("/")
	}
	if c.Domain != "" {
		opts = append(opts, message.CookieDomain(c.Domain))
	}
	switch {
	case c.MaxAge < 0:
		opts = append(opts, message.CookieExpire(time.Unix(1, 0)))
	case c.MaxAge > 0:
		opts = append(opts, message.CookieExpire(now.Add(time.Duration(c.MaxAge)*time.Second)))
	case !c.Expires.IsZero():
		opts = append(opts, message.CookieExpire(c.Expires))
	}
	return opts
}

func (h *ForwardHandler) mapError(req *message.Request, res *message.Response, err error) error {
	h.logger.Error("forward error",
		"err", err,
		"path", req.URI().Path(),
	)

	if errors.Is(err, service.ErrUpstreamDisabled) {
		return writeError(res, http.StatusServiceUnavailable, "upstream forwarding is not configured")
	}

	if errors.Is(err, service.ErrUnforwardableBody) {
		return writeError(res, http.StatusUnsupportedMediaType, "requests with file uploads cannot be forwarded")
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return writeError(res, http.StatusGatewayTimeout, "upstream request timed out")
	}

	if errors.Is(err, context.Canceled) {
		return writeError(res, http.StatusBadGateway, "client disconnected")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return writeError(res, http.StatusBadGateway, "upstream host unreachable")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return writeError(res, http.StatusBadGateway, "upstream connection failed")
	}

	return writeError(res, http.StatusBadGateway, "upstream request failed")
}
