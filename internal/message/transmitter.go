package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"exchanged/internal/model"
)

// Transmitter is the boundary through which a finished Response reaches the
// transport. The embedded io.Writer receives the body.
type Transmitter interface {
	SendStatus(version string, code int, reason string)
	SendHeader(name, value string)
	SendCookie(c model.Cookie)
	io.Writer
}

// Committer is implemented by transmitters that hold the status line back until
// the body starts. Commit is called once after the body has been written.
type Committer interface {
	Commit() error
}

// HeaderSentReporter is implemented by transmitters that can tell whether the
// header block already left. When it has, End only sends the body.
type HeaderSentReporter interface {
	HeadersSent() bool
}

// RecordedStatus is a status line captured by a Recorder.
type RecordedStatus struct {
	Version string
	Code    int
	Reason  string
}

// RecordedHeader is a header line captured by a Recorder.
type RecordedHeader struct {
	Name  string
	Value string
}

// Recorder is an in-memory Transmitter for tests and fixtures.
type Recorder struct {
	Statuses []RecordedStatus
	Headers  []RecordedHeader
	Cookies  []model.Cookie
	Body     bytes.Buffer
	Writes   int
	Commits  int

	// Sent makes HeadersSent report true, simulating an already flushed header block.
	Sent bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) SendStatus(version string, code int, reason string) {
	r.Statuses = append(r.Statuses, RecordedStatus{Version: version, Code: code, Reason: reason})
}

func (r *Recorder) SendHeader(name, value string) {
	r.Headers = append(r.Headers, RecordedHeader{Name: name, Value: value})
}

func (r *Recorder) SendCookie(c model.Cookie) {
	r.Cookies = append(r.Cookies, c)
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.Writes++
	return r.Body.Write(p)
}

// Commit counts commits.
func (r *Recorder) Commit() error {
	r.Commits++
	return nil
}

// HeadersSent reports the Sent flag.
func (r *Recorder) HeadersSent() bool { return r.Sent }

// Header returns the value of the first recorded header named name (exact case).
func (r *Recorder) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// String renders the capture roughly as it would appear on the wire.
func (r *Recorder) String() string {
	var b strings.Builder
	for _, s := range r.Statuses {
		fmt.Fprintf(&b, "HTTP/%s %d %s\r\n", s.Version, s.Code, s.Reason)
	}
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	for _, c := range r.Cookies {
		fmt.Fprintf(&b, "Set-Cookie: %s=%s\r\n", c.Name, c.Value)
	}
	b.WriteString("\r\n")
	b.Write(r.Body.Bytes())
	return b.String()
}
