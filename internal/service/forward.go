// Package service implements forwarding of resolved requests to the upstream.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"exchanged/internal/client"
	"exchanged/internal/config"
	"exchanged/internal/message"
	"exchanged/internal/model"
	"exchanged/internal/uri"
)

var (
	// ErrUpstreamDisabled is returned when no upstream.base_url is configured.
	ErrUpstreamDisabled = errors.New("upstream forwarding is not configured")
	// ErrUnforwardableBody is returned for requests carrying uploaded files.
	ErrUnforwardableBody = errors.New("requests with file uploads cannot be forwarded")
)

// skippedRequestHeaders are rebuilt rather than copied: framing is recomputed,
// the override is already applied to the method and the forwarded-for chain
// gains the peer. Hop-by-hop headers are dropped by the client.
var skippedRequestHeaders = map[string]bool{
	"Host":                   true,
	"Content-Length":         true,
	"X-Http-Method-Override": true,
	"X-Forwarded-For":        true,
	"X-Forwarded-Host":       true,
	"X-Forwarded-Proto":      true,
}

const userAgent = "exchanged/1.0"

// ForwardService sends resolved requests to the configured upstream.
type ForwardService struct {
	client  *client.UpstreamClient
	logger  *slog.Logger
	baseURL uri.URI
	enabled bool
}

// NewForwardService creates a ForwardService. Without upstream.base_url the
// service is created disabled and Forward returns ErrUpstreamDisabled.
func NewForwardService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ForwardService, error) {
	s := &ForwardService{
		client: c,
		logger: logger.With("component", "forward_service"),
	}
	if !cfg.Upstream.Enabled() {
		return s, nil
	}

	u, err := uri.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	s.baseURL = u.WithoutQuery().WithoutFragment()
	s.enabled = true
	return s, nil
}

// Enabled reports whether an upstream is configured.
func (s *ForwardService) Enabled() bool { return s.enabled }

// BaseURL returns the upstream base, empty when disabled.
func (s *ForwardService) BaseURL() string {
	if !s.enabled {
		return ""
	}
	return s.baseURL.String()
}

// Forward sends req upstream under path, using the resolved method and the
// request's query. The caller is responsible for closing the response body.
func (s *ForwardService) Forward(ctx context.Context, req *message.Request, path string) (*model.UpstreamResponse, error) {
	if !s.enabled {
		return nil, ErrUpstreamDisabled
	}

	body, length, contentType, err := requestBody(req)
	if err != nil {
		return nil, err
	}

	out := client.Outbound{
		Method: req.Method(),
		URL:    s.buildUpstreamURL(path, req.URI().Query()),
		Header: s.requestHeaders(req),
		Body:   body,
		Length: length,
	}
	if contentType != "" {
		out.Header.Set("Content-Type", contentType)
	}

	s.logger.Debug("forwarding request",
		"method", out.Method,
		"path", path,
	)

	resp, err := s.client.Send(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, nil
}

func (s *ForwardService) buildUpstreamURL(path, rawQuery string) string {
	joined := strings.TrimSuffix(s.baseURL.Path(), "/") + "/" + strings.TrimPrefix(path, "/")
	return s.baseURL.WithPath(joined).WithQuery(rawQuery).String()
}

// requestHeaders copies the end-to-end headers of req and appends the peer to
// the forwarded-for chain.
func (s *ForwardService) requestHeaders(req *message.Request) http.Header {
	dst := make(http.Header)
	for name, values := range req.Headers() {
		key := http.CanonicalHeaderKey(name)
		if skippedRequestHeaders[key] || len(values) == 0 {
			continue
		}
		dst.Set(key, strings.Join(values, ", "))
	}

	chain := req.Header("x-forwarded-for")
	if peer, ok := req.ServerParam(message.ServerRemoteAddr); ok && peer != "" {
		chain = append(chain, peer)
	}
	if len(chain) > 0 {
		dst.Set("X-Forwarded-For", strings.Join(chain, ", "))
	}
	if host, ok := req.ServerParam(message.ServerHTTPHost); ok && host != "" {
		dst.Set("X-Forwarded-Host", host)
	}
	dst.Set("X-Forwarded-Proto", req.URI().Scheme())
	if ip := req.ClientIP(); ip != "" {
		dst.Set("X-Real-Ip", ip)
	}

	if dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", userAgent)
	}
	return dst
}

// requestBody picks what to send upstream. A parsed form is re-encoded without
// the method override field; otherwise the inbound stream is passed through
// when the request framed a body.
func requestBody(req *message.Request) (io.Reader, int64, string, error) {
	if len(req.FileEntries()) > 0 {
		return nil, 0, "", ErrUnforwardableBody
	}

	if form := req.FormParams(); len(form) > 0 {
		values := make(url.Values, len(form))
		for k, v := range form {
			if k == "_method" {
				continue
			}
			values.Set(k, v)
		}
		encoded := values.Encode()
		return strings.NewReader(encoded), int64(len(encoded)), "application/x-www-form-urlencoded", nil
	}

	if strings.Contains(strings.ToLower(req.HeaderLine("transfer-encoding")), "chunked") {
		return req.Body(), -1, "", nil
	}
	n, err := strconv.ParseInt(req.HeaderLine("content-length"), 10, 64)
	if err != nil || n <= 0 {
		return nil, 0, "", nil
	}
	return req.Body(), n, "", nil
}
