// Package client sends forwarded requests to the upstream server and applies
// the hop-by-hop and redirect policy of a relaying intermediary.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"exchanged/internal/config"
	"exchanged/internal/metrics"
	"exchanged/internal/model"
)

// hopByHop headers describe one connection and never cross the relay.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Outbound is one request for the upstream.
type Outbound struct {
	Method string
	URL    string
	Header http.Header
	Body   io.Reader
	// Length is the body size in bytes; -1 sends the body chunked.
	Length int64
}

// UpstreamClient relays requests to the configured upstream. Redirects are
// handed back to the caller, not followed.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient builds the pooled client. m may be nil.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		// Bodies are relayed as received.
		DisableCompression: true,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Send relays out and returns the upstream answer with hop-by-hop headers
// removed and Set-Cookie lines parsed into Cookies. The caller closes the body.
func (c *UpstreamClient) Send(ctx context.Context, out Outbound) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, out.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = stripHopByHop(out.Header.Clone())
	if out.Body != nil {
		req.ContentLength = out.Length
	}

	label := metrics.NormalizeMethod(req.Method)
	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed by the caller through UpstreamResponse
	c.observe(label, start, resp)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	c.logger.Debug("upstream answered",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
	)

	cookies := parseSetCookies(resp.Header.Values("Set-Cookie"))
	header := stripHopByHop(resp.Header)
	header.Del("Set-Cookie")
	// Framing is recomputed on the way back.
	header.Del("Content-Length")

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Cookies:    cookies,
		Body:       resp.Body,
	}, nil
}

func (c *UpstreamClient) observe(method string, start time.Time, resp *http.Response) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if resp != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}
}

// stripHopByHop removes the fixed hop-by-hop set and every header the
// Connection field names. h is modified and returned; nil yields an empty header.
func stripHopByHop(h http.Header) http.Header {
	if h == nil {
		return make(http.Header)
	}
	for _, line := range h.Values("Connection") {
		for token := range strings.SplitSeq(line, ",") {
			if name := textproto.TrimString(token); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHop {
		h.Del(name)
	}
	return h
}

// parseSetCookies keeps the well-formed Set-Cookie lines.
func parseSetCookies(lines []string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, line := range lines {
		c, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		cookies = append(cookies, c)
	}
	return cookies
}
