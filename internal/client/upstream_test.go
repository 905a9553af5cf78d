package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"exchanged/internal/config"
	"exchanged/internal/metrics"
)

func newTestClient(t *testing.T, timeout int, m *metrics.Metrics) *UpstreamClient {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  timeout,
			IdleConnections: 10,
		},
	}
	return NewUpstreamClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), m)
}

func TestUpstreamClient_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %q, want PUT", r.Method)
		}
		if r.ContentLength != 5 {
			t.Errorf("ContentLength = %d, want 5", r.ContentLength)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "hello" {
			t.Errorf("body = %q", body)
		}
		if r.Header.Get("X-Forwarded-For") != "203.0.113.7" {
			t.Errorf("X-Forwarded-For = %q", r.Header.Get("X-Forwarded-For"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	m := metrics.New()
	c := newTestClient(t, 10, m)

	resp, err := c.Send(context.Background(), Outbound{
		Method: http.MethodPut,
		URL:    srv.URL + "/test",
		Header: http.Header{"X-Forwarded-For": {"203.0.113.7"}},
		Body:   strings.NewReader("hello"),
		Length: 5,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.Header.Get("Content-Length") != "" {
		t.Errorf("Content-Length relayed: %q", resp.Header.Get("Content-Length"))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() != "exchanged_upstream_responses_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			if metric.GetCounter().GetValue() == 1 {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected exchanged_upstream_responses_total to be 1")
	}
}

func TestUpstreamClient_Send_StripsHopByHop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, name := range []string{"Keep-Alive", "X-Session-Hop", "Proxy-Authorization", "Upgrade"} {
			if v := r.Header.Get(name); v != "" {
				t.Errorf("request header %s = %q reached upstream", name, v)
			}
		}
		if r.Header.Get("Accept") != "text/plain" {
			t.Errorf("Accept = %q, want text/plain", r.Header.Get("Accept"))
		}
		w.Header().Set("Connection", "X-Upstream-Hop")
		w.Header().Set("X-Upstream-Hop", "1")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Header().Add("Set-Cookie", "a=1; Path=/; HttpOnly")
		w.Header().Add("Set-Cookie", "=broken")
		w.Header().Add("Set-Cookie", "b=2; Domain=example.com")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, 10, nil)
	header := http.Header{
		"Accept":              {"text/plain"},
		"Connection":          {"keep-alive, X-Session-Hop"},
		"Keep-Alive":          {"timeout=5"},
		"X-Session-Hop":       {"1"},
		"Proxy-Authorization": {"Basic Zm9v"},
		"Upgrade":             {"websocket"},
	}
	resp, err := c.Send(context.Background(), Outbound{Method: http.MethodGet, URL: srv.URL, Header: header})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if header.Get("X-Session-Hop") != "1" {
		t.Error("Send() modified the caller's header")
	}

	tests := []struct {
		key  string
		want string
	}{
		{"Cache-Control", "no-store"},
		{"Connection", ""},
		{"Keep-Alive", ""},
		{"X-Upstream-Hop", ""},
		{"Set-Cookie", ""},
	}
	for _, tt := range tests {
		if got := resp.Header.Get(tt.key); got != tt.want {
			t.Errorf("response %s = %q, want %q", tt.key, got, tt.want)
		}
	}

	if len(resp.Cookies) != 2 {
		t.Fatalf("parsed %d cookies, want 2", len(resp.Cookies))
	}
	if resp.Cookies[0].Name != "a" || !resp.Cookies[0].HttpOnly || resp.Cookies[1].Domain != "example.com" {
		t.Errorf("cookies = %+v, %+v", resp.Cookies[0], resp.Cookies[1])
	}
}

func TestUpstreamClient_Send_Chunked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength != -1 || len(r.TransferEncoding) == 0 || r.TransferEncoding[0] != "chunked" {
			t.Errorf("ContentLength = %d, TransferEncoding = %v; want chunked", r.ContentLength, r.TransferEncoding)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "streamed" {
			t.Errorf("body = %q", body)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, 10, nil)
	resp, err := c.Send(context.Background(), Outbound{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   io.MultiReader(strings.NewReader("stream"), strings.NewReader("ed")),
		Length: -1,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	_ = resp.Body.Close()
}

func TestUpstreamClient_RedirectNotFollowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	c := newTestClient(t, 10, nil)
	resp, err := c.Send(context.Background(), Outbound{Method: http.MethodGet, URL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/elsewhere" {
		t.Errorf("Location = %q, want /elsewhere", loc)
	}
}

func TestUpstreamClient_Send_Errors(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		out  Outbound
	}{
		{"unreachable host", context.Background(), Outbound{Method: http.MethodGet, URL: "http://127.0.0.1:1/nonexistent"}},
		{"invalid method", context.Background(), Outbound{Method: "BAD METHOD", URL: "http://127.0.0.1:1/"}},
		{"canceled context", canceled, Outbound{Method: http.MethodGet, URL: slow.URL + "/slow"}},
	}

	c := newTestClient(t, 30, metrics.New())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Send(tt.ctx, tt.out); err == nil {
				t.Fatal("Send() expected error, got nil")
			}
		})
	}
}

func TestStripHopByHop_Nil(t *testing.T) {
	if h := stripHopByHop(nil); h == nil || len(h) != 0 {
		t.Errorf("stripHopByHop(nil) = %v, want empty header", h)
	}
}
