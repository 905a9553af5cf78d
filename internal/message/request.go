package message

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/http/httpguts"

	"exchanged/internal/model"
	"exchanged/internal/uri"
)

// Server parameter names understood by Request. Lookups upper-case the name, so
// callers may use any casing.
const (
	ServerRequestMethod = "REQUEST_METHOD"
	ServerRequestURI    = "REQUEST_URI"
	ServerProtocol      = "SERVER_PROTOCOL"
	ServerHTTPS         = "HTTPS"
	ServerName          = "SERVER_NAME"
	ServerAddr          = "SERVER_ADDR"
	ServerPort          = "SERVER_PORT"
	ServerRemoteAddr    = "REMOTE_ADDR"
	ServerRemotePort    = "REMOTE_PORT"
	ServerAuthUser      = "AUTH_USER"
	ServerAuthPassword  = "AUTH_PW"
	ServerHTTPHost      = "HTTP_HOST"
	ServerForwardedFor  = "HTTP_X_FORWARDED_FOR"

	// HeaderParamPrefix marks server parameters that carry request headers.
	HeaderParamPrefix = "HTTP_"
)

// Credential keys as set by PHP-style CGI hosts; read when AUTH_USER is absent.
const (
	ServerPHPAuthUser     = "PHP_AUTH_USER"
	ServerPHPAuthPassword = "PHP_AUTH_PW"
)

const (
	methodOverrideHeader = "x-http-method-override"
	methodOverrideField  = "_method"
)

// Snapshot is everything the transport extracted from one inbound exchange.
// Request copies the maps; the caller may reuse them afterwards.
type Snapshot struct {
	Query      map[string]string
	Form       map[string]string
	Server     map[string]string
	Cookies    map[string]string
	Files      map[string]model.FileEntry
	Body       io.Reader
	Attributes map[string]any
}

// RequestOption configures a Request at construction.
type RequestOption func(*Request)

// TrustProxy controls whether forwarded-for addresses are considered by ClientIP.
func TrustProxy(trust bool) RequestOption {
	return func(r *Request) { r.trustProxy = trust }
}

// IPExtractor installs a client IP strategy evaluated before the built-in one.
func IPExtractor(fn ClientIPExtractor) RequestOption {
	return func(r *Request) { r.extractor = fn }
}

// Request is an inbound HTTP request. Snapshot maps are never modified after
// construction, so copies share them.
type Request struct {
	envelope

	query   map[string]string
	form    map[string]string
	server  map[string]string
	cookies map[string]string
	files   map[string]model.FileEntry

	mu         sync.Mutex
	trustProxy bool
	extractor  ClientIPExtractor
	method     string   // resolved method, "" until Method is called
	uri        *uri.URI // resolved URI, nil until URI is called
}

// NewRequest builds a Request from snap. It fails when the server snapshot names
// a method that is not an HTTP token or a request target that cannot be parsed.
func NewRequest(snap Snapshot, opts ...RequestOption) (*Request, error) {
	server := make(map[string]string, len(snap.Server))
	for k, v := range snap.Server {
		server[strings.ToUpper(k)] = v
	}

	if m, ok := server[ServerRequestMethod]; ok && !validMethod(m) {
		return nil, fmt.Errorf("%w: method %q is not a token", ErrInvalidSnapshot, m)
	}
	if target, ok := server[ServerRequestURI]; ok {
		if _, err := uri.Parse(target); err != nil {
			return nil, fmt.Errorf("%w: request target: %w", ErrInvalidSnapshot, err)
		}
	}

	r := &Request{
		envelope: envelope{
			protocol:   protocolFromServer(server[ServerProtocol]),
			headers:    headersFromServer(server),
			body:       NewReadOnceStream(snap.Body),
			attributes: maps.Clone(snap.Attributes),
		},
		query:   cloneStrings(snap.Query),
		form:    cloneStrings(snap.Form),
		server:  server,
		cookies: cloneStrings(snap.Cookies),
		files:   maps.Clone(snap.Files),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func validMethod(m string) bool {
	if m == "" {
		return false
	}
	return !strings.ContainsFunc(m, func(r rune) bool { return !httpguts.IsTokenRune(r) })
}

func protocolFromServer(v string) string {
	return strings.TrimPrefix(strings.ToUpper(v), "HTTP/")
}

// headersFromServer turns HTTP_ACCEPT_ENCODING style parameters into headers,
// splitting values on commas.
func headersFromServer(server map[string]string) HeaderBag {
	var h HeaderBag
	for _, key := range sortedKeys(server) {
		if !strings.HasPrefix(key, HeaderParamPrefix) {
			continue
		}
		name := strings.ToLower(strings.ReplaceAll(key[len(HeaderParamPrefix):], "_", "-"))
		if name == "" {
			continue
		}
		var values []string
		for v := range strings.SplitSeq(server[key], ",") {
			values = append(values, strings.TrimSpace(v))
		}
		h.Set(name, values...)
	}
	return h
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}

// clone returns a copy with cached derived values unresolved.
func (r *Request) clone() *Request {
	r.mu.Lock()
	trust, extractor := r.trustProxy, r.extractor
	r.mu.Unlock()

	return &Request{
		envelope:   r.envelope.clone(),
		query:      r.query,
		form:       r.form,
		server:     r.server,
		cookies:    r.cookies,
		files:      r.files,
		trustProxy: trust,
		extractor:  extractor,
	}
}

// Method returns the request method. A POST may be overridden by the
// X-HTTP-Method-Override header or, failing that, the _method form field.
func (r *Request) Method() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.method != "" {
		return r.method
	}

	method := "GET"
	if m := r.server[ServerRequestMethod]; m != "" {
		method = strings.ToUpper(m)
	}
	if method != "POST" {
		r.method = method
		return method
	}

	var override string
	if values := r.headers.Get(methodOverrideHeader); len(values) > 0 {
		override = values[0]
	} else {
		override = r.form[methodOverrideField]
	}
	if override != "" {
		method = override
	}

	r.method = strings.ToUpper(method)
	return r.method
}

// WithMethod returns a copy whose method is fixed to method.
func (r *Request) WithMethod(method string) *Request {
	c := r.clone()
	c.method = strings.ToUpper(method)
	return c
}

// RequestTarget returns the raw request target, "/" when absent.
func (r *Request) RequestTarget() string {
	if target, ok := r.server[ServerRequestURI]; ok && target != "" {
		return target
	}
	return "/"
}

// WithRequestTarget returns a copy with a different request target.
func (r *Request) WithRequestTarget(target string) *Request {
	c := r.clone()
	c.server = maps.Clone(r.server)
	c.server[ServerRequestURI] = target
	return c
}

// URI reconstructs the full request URI from the server snapshot. The result is
// memoized until the request is copied.
func (r *Request) URI() uri.URI {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.uri != nil {
		return *r.uri
	}

	scheme := "http"
	if isOn(r.server[ServerHTTPS]) {
		scheme = "https"
	}

	var (
		host string
		port int
	)
	if httpHost := r.server[ServerHTTPHost]; httpHost != "" {
		host, port = splitHostPort(httpHost)
	} else {
		host = firstNonEmpty(r.server[ServerName], r.server[ServerAddr], "127.0.0.1")
		port, _ = strconv.Atoi(r.server[ServerPort])
	}

	u, err := uri.Parse(r.RequestTarget())
	if err != nil {
		u = uri.URI{}
	}
	u = u.WithScheme(scheme).
		WithUserInfo(r.credentials()).
		WithHost(strings.ToLower(host))
	if port != 0 {
		u = u.WithPort(port)
	}

	r.uri = &u
	return u
}

// credentials returns the basic-auth pair, preferring the AUTH_* keys.
func (r *Request) credentials() (string, string) {
	if user, ok := r.server[ServerAuthUser]; ok {
		return user, r.server[ServerAuthPassword]
	}
	return r.server[ServerPHPAuthUser], r.server[ServerPHPAuthPassword]
}

// WithURI is not supported.
func (r *Request) WithURI(_ uri.URI, _ bool) (*Request, error) {
	return nil, fmt.Errorf("request: WithURI: %w", ErrNotImplemented)
}

// splitHostPort splits a Host header. A missing or unparsable port yields 0.
func splitHostPort(hostport string) (string, int) {
	if strings.HasPrefix(hostport, "[") {
		host, p, err := net.SplitHostPort(hostport)
		if err != nil {
			return strings.Trim(hostport, "[]"), 0
		}
		port, _ := strconv.Atoi(p)
		return host, port
	}
	host, p, found := strings.Cut(hostport, ":")
	if !found {
		return host, 0
	}
	port, _ := strconv.Atoi(p)
	return host, port
}

// isOn interprets an HTTPS server flag: empty, "0" and "off" mean plain HTTP.
func isOn(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "off", "false":
		return false
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ServerParam returns a server parameter; name is matched upper-cased.
func (r *Request) ServerParam(name string) (string, bool) {
	v, ok := r.server[strings.ToUpper(name)]
	return v, ok
}

// ServerParams returns a copy of the server snapshot.
func (r *Request) ServerParams() map[string]string { return maps.Clone(r.server) }

// QueryParam returns a query parameter.
func (r *Request) QueryParam(key string) (string, bool) {
	v, ok := r.query[key]
	return v, ok
}

// HasQuery reports whether key was sent in the query.
func (r *Request) HasQuery(key string) bool {
	_, ok := r.query[key]
	return ok
}

// QueryParams returns a copy of the query snapshot.
func (r *Request) QueryParams() map[string]string { return maps.Clone(r.query) }

// WithQueryParams returns a copy using query as the query snapshot.
func (r *Request) WithQueryParams(query map[string]string) *Request {
	c := r.clone()
	c.query = cloneStrings(query)
	return c
}

// FormValue returns a form field.
func (r *Request) FormValue(key string) (string, bool) {
	v, ok := r.form[key]
	return v, ok
}

// HasForm reports whether key was sent as a form field.
func (r *Request) HasForm(key string) bool {
	_, ok := r.form[key]
	return ok
}

// FormParams returns a copy of the form snapshot.
func (r *Request) FormParams() map[string]string { return maps.Clone(r.form) }

// Cookie returns a request cookie.
func (r *Request) Cookie(name string) (string, bool) {
	v, ok := r.cookies[name]
	return v, ok
}

// CookieParams returns a copy of the cookie snapshot.
func (r *Request) CookieParams() map[string]string { return maps.Clone(r.cookies) }

// WithCookieParams returns a copy using cookies as the cookie snapshot.
func (r *Request) WithCookieParams(cookies map[string]string) *Request {
	c := r.clone()
	c.cookies = cloneStrings(cookies)
	return c
}

// WithAttribute returns a copy with name set to value.
func (r *Request) WithAttribute(name string, value any) *Request {
	c := r.clone()
	c.setAttribute(name, value)
	return c
}

// WithoutAttribute returns a copy without name.
func (r *Request) WithoutAttribute(name string) *Request {
	c := r.clone()
	delete(c.attributes, name)
	return c
}

// WithHeader returns a copy where name holds exactly values.
func (r *Request) WithHeader(name string, values ...string) *Request {
	c := r.clone()
	c.headers.Set(name, values...)
	return c
}

// WithAddedHeader returns a copy with values appended to name.
func (r *Request) WithAddedHeader(name string, values ...string) *Request {
	c := r.clone()
	c.headers.Add(name, values...)
	return c
}

// WithoutHeader returns a copy without name.
func (r *Request) WithoutHeader(name string) *Request {
	c := r.clone()
	c.headers.Del(name)
	return c
}

// WithProtocolVersion returns a copy using version, e.g. "2".
func (r *Request) WithProtocolVersion(version string) *Request {
	c := r.clone()
	c.protocol = version
	return c
}

// WithBody returns a copy using body.
func (r *Request) WithBody(body Body) *Request {
	c := r.clone()
	c.body = body
	return c
}

// ParsedBody negotiates the body by content type. A form POST returns the form
// snapshot, an empty body returns nil, JSON is decoded and anything else is
// returned as a string. Inbound bodies are read once: a second call sees an
// empty body.
func (r *Request) ParsedBody() (any, error) {
	contentType := strings.ToLower(r.HeaderLine("content-type"))
	method := strings.ToUpper(r.server[ServerRequestMethod])

	if method == "POST" &&
		(strings.Contains(contentType, "application/x-www-form-urlencoded") ||
			strings.Contains(contentType, "multipart/form-data")) {
		return r.FormParams(), nil
	}

	if r.body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.body)
	if err != nil {
		return nil, fmt.Errorf("request: read body: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
		}
		return v, nil
	}

	return string(data), nil
}

// WithParsedBody is not supported.
func (r *Request) WithParsedBody(_ any) (*Request, error) {
	return nil, fmt.Errorf("request: WithParsedBody: %w", ErrNotImplemented)
}

// IsGet reports a GET or HEAD request.
func (r *Request) IsGet() bool {
	m := r.Method()
	return m == "GET" || m == "HEAD"
}

// IsPost reports a POST request.
func (r *Request) IsPost() bool { return r.Method() == "POST" }

// IsPut reports a PUT request.
func (r *Request) IsPut() bool { return r.Method() == "PUT" }

// IsDelete reports a DELETE request.
func (r *Request) IsDelete() bool { return r.Method() == "DELETE" }

// IsAjax reports whether X-Requested-With is XMLHttpRequest.
func (r *Request) IsAjax() bool {
	values := r.Header("x-requested-with")
	return len(values) > 0 && strings.EqualFold(values[0], "xmlhttprequest")
}
