package message

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"exchanged/internal/model"
)

// ResponseOption configures a Response at construction.
type ResponseOption func(*Response)

// Encrypted tells the response whether the exchange runs over TLS. It decides the
// Secure flag of cookies written without an explicit one.
func Encrypted(encrypted bool) ResponseOption {
	return func(r *Response) { r.encrypted = encrypted }
}

// CookieOption adjusts one cookie directive.
type CookieOption func(*cookieSettings)

type cookieSettings struct {
	cookie    model.Cookie
	secureSet bool
}

// CookieExpire sets the expiry. The zero time makes a session cookie.
func CookieExpire(t time.Time) CookieOption {
	return func(s *cookieSettings) { s.cookie.Expire = t }
}

// CookiePath sets the path, "/" by default.
func CookiePath(path string) CookieOption {
	return func(s *cookieSettings) { s.cookie.Path = path }
}

// CookieDomain sets the domain.
func CookieDomain(domain string) CookieOption {
	return func(s *cookieSettings) { s.cookie.Domain = domain }
}

// CookieSecure sets the Secure flag explicitly.
func CookieSecure(secure bool) CookieOption {
	return func(s *cookieSettings) {
		s.cookie.Secure = secure
		s.secureSet = true
	}
}

// CookieHTTPOnly sets the HttpOnly flag, true by default.
func CookieHTTPOnly(httpOnly bool) CookieOption {
	return func(s *cookieSettings) { s.cookie.HTTPOnly = httpOnly }
}

// Response accumulates an outbound message. Mutators change it in place and
// return it for chaining. End hands it to the transmitter once.
type Response struct {
	envelope

	tx        Transmitter
	encrypted bool

	code       int
	reason     string
	cookieKeys []model.CookieKey
	cookies    map[model.CookieKey]model.Cookie

	mu    sync.Mutex
	ended bool
}

// NewResponse returns an empty 200 response bound to tx.
func NewResponse(tx Transmitter, opts ...ResponseOption) (*Response, error) {
	if tx == nil {
		return nil, ErrNoTransmitter
	}
	r := &Response{tx: tx}
	r.Reset()
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reset clears status, headers, cookies, attributes and body, and re-arms End.
func (r *Response) Reset() {
	if b, ok := r.body.(*WritableBuffer); ok {
		b.Release()
	}
	r.envelope = envelope{body: NewWritableBuffer()}
	r.code = http.StatusOK
	r.reason = ""
	r.cookieKeys = nil
	r.cookies = make(map[model.CookieKey]model.Cookie)

	r.mu.Lock()
	r.ended = false
	r.mu.Unlock()
}

// StatusCode returns the status code, 200 by default.
func (r *Response) StatusCode() int { return r.code }

// WithStatus sets the status code and, optionally, an explicit reason phrase.
func (r *Response) WithStatus(code int, reason ...string) *Response {
	r.code = code
	r.reason = ""
	if len(reason) > 0 {
		r.reason = reason[0]
	}
	return r
}

// ReasonPhrase returns the explicit reason or the standard phrase for the code.
func (r *Response) ReasonPhrase() string {
	if r.reason != "" {
		return r.reason
	}
	return http.StatusText(r.code)
}

// WithCookie records a cookie write. Writes with the same name, domain and path
// replace each other. Without CookieSecure the flag follows the channel.
func (r *Response) WithCookie(name, value string, opts ...CookieOption) *Response {
	s := cookieSettings{cookie: model.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HTTPOnly: true,
	}}
	for _, opt := range opts {
		opt(&s)
	}
	if !s.secureSet {
		s.cookie.Secure = r.encrypted
	}

	key := s.cookie.Key()
	if _, ok := r.cookies[key]; !ok {
		r.cookieKeys = append(r.cookieKeys, key)
	}
	r.cookies[key] = s.cookie
	return r
}

// Cookies returns the cookie directives in first-write order.
func (r *Response) Cookies() []model.Cookie {
	out := make([]model.Cookie, 0, len(r.cookieKeys))
	for _, key := range r.cookieKeys {
		out = append(out, r.cookies[key])
	}
	return out
}

// Redirect sets the status (303 by default) and the Location header.
func (r *Response) Redirect(location string, status ...int) *Response {
	code := http.StatusSeeOther
	if len(status) > 0 {
		code = status[0]
	}
	return r.WithStatus(code).WithHeader("Location", location)
}

// WithHeader sets name to exactly values.
func (r *Response) WithHeader(name string, values ...string) *Response {
	r.headers.Set(name, values...)
	return r
}

// WithAddedHeader appends values to name.
func (r *Response) WithAddedHeader(name string, values ...string) *Response {
	r.headers.Add(name, values...)
	return r
}

// WithoutHeader removes name.
func (r *Response) WithoutHeader(name string) *Response {
	r.headers.Del(name)
	return r
}

// WithProtocolVersion sets the HTTP version used for the status line.
func (r *Response) WithProtocolVersion(version string) *Response {
	r.protocol = version
	return r
}

// WithBody replaces the body, e.g. with a ProducerBody.
func (r *Response) WithBody(body Body) *Response {
	r.body = body
	return r
}

// WithAttribute stores a pipeline-local value.
func (r *Response) WithAttribute(name string, value any) *Response {
	r.setAttribute(name, value)
	return r
}

// WithoutAttribute removes a pipeline-local value.
func (r *Response) WithoutAttribute(name string) *Response {
	delete(r.attributes, name)
	return r
}

// Write appends p to the body without sending anything.
func (r *Response) Write(p []byte) (int, error) {
	w, ok := r.body.(io.Writer)
	if !ok {
		return 0, ErrBodyNotWritable
	}
	return w.Write(p)
}

// WriteString appends s to the body without sending anything.
func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// Ended reports whether End has run.
func (r *Response) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// End appends data, then sends status, headers, cookies and body through the
// transmitter. Only the first successful call does anything. Data for a body
// that cannot take it is refused before anything is sent, leaving End re-armed.
func (r *Response) End(data ...string) error {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return nil
	}
	if _, ok := r.body.(io.Writer); !ok && len(data) > 0 {
		r.mu.Unlock()
		return fmt.Errorf("response: end: %w", ErrBodyNotWritable)
	}
	r.ended = true
	r.mu.Unlock()

	var werr error
	for _, d := range data {
		if _, err := r.WriteString(d); err != nil {
			werr = fmt.Errorf("response: end: %w", err)
			break
		}
	}
	return errors.Join(werr, r.send())
}

func (r *Response) send() error {
	code := r.code

	sent := false
	if rep, ok := r.tx.(HeaderSentReporter); ok {
		sent = rep.HeadersSent()
	}

	if !sent {
		version := r.ProtocolVersion()
		if code != http.StatusOK || version != defaultProtocolVersion {
			r.tx.SendStatus(version, code, r.ReasonPhrase())
		}
		for name, values := range r.headers.All() {
			r.tx.SendHeader(http.CanonicalHeaderKey(name), strings.Join(values, ","))
		}
		for _, c := range r.Cookies() {
			r.tx.SendCookie(c)
		}
	}

	var err error
	if code != http.StatusNoContent && code != http.StatusNotModified {
		err = r.sendBody()
	}

	if c, ok := r.tx.(Committer); ok {
		if cerr := c.Commit(); err == nil && cerr != nil {
			err = fmt.Errorf("response: commit: %w", cerr)
		}
	}
	return err
}

func (r *Response) sendBody() error {
	switch body := r.body.(type) {
	case nil:
		return nil
	case *ProducerBody:
		defer body.Close()
		for chunk := range body.Chunks() {
			if _, err := r.tx.Write(chunk); err != nil {
				return fmt.Errorf("response: stream body: %w", err)
			}
		}
		return nil
	case *WritableBuffer:
		if body.Len() == 0 {
			return nil
		}
		if _, err := r.tx.Write(body.Bytes()); err != nil {
			return fmt.Errorf("response: write body: %w", err)
		}
		return nil
	default:
		if _, err := io.Copy(r.tx, body); err != nil {
			return fmt.Errorf("response: copy body: %w", err)
		}
		return nil
	}
}

// Release returns a pooled body buffer. Call it once the response is no longer read.
func (r *Response) Release() {
	if b, ok := r.body.(*WritableBuffer); ok {
		b.Release()
	}
}
