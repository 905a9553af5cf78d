package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/http/httpguts"

	"exchanged/internal/model"
)

// ErrInvalidHeader reports a header or cookie the transport refused to emit.
var ErrInvalidHeader = errors.New("invalid header")

// echoTransmitter renders a message.Response onto an echo response. The status
// is held back until the first body write or Commit, so headers and cookies can
// still be added after SendStatus.
type echoTransmitter struct {
	res    *echo.Response
	status int
	now    func() time.Time
	errs   []error
}

func newEchoTransmitter(res *echo.Response) *echoTransmitter {
	return &echoTransmitter{res: res, status: http.StatusOK, now: time.Now}
}

// SendStatus records the code. net/http renders the version and reason itself.
func (t *echoTransmitter) SendStatus(_ string, code int, _ string) {
	t.status = code
}

func (t *echoTransmitter) SendHeader(name, value string) {
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		t.errs = append(t.errs, fmt.Errorf("%w: %q", ErrInvalidHeader, name))
		return
	}
	t.res.Header().Set(name, value)
}

func (t *echoTransmitter) SendCookie(c model.Cookie) {
	hc := c.HTTPCookie(t.now())
	if err := hc.Valid(); err != nil {
		t.errs = append(t.errs, fmt.Errorf("%w: cookie %q: %w", ErrInvalidHeader, c.Name, err))
		return
	}
	t.res.Header().Add(echo.HeaderSetCookie, hc.String())
}

func (t *echoTransmitter) Write(p []byte) (int, error) {
	t.writeHeader()
	n, err := t.res.Write(p)
	if err != nil {
		return n, err
	}
	// Streamed bodies reach the client chunk by chunk.
	_ = http.NewResponseController(t.res.Writer).Flush()
	return n, nil
}

// Commit sends the status line when no body was written and reports headers
// that were dropped.
func (t *echoTransmitter) Commit() error {
	t.writeHeader()
	return errors.Join(t.errs...)
}

// HeadersSent reports whether echo already wrote the header block.
func (t *echoTransmitter) HeadersSent() bool { return t.res.Committed }

func (t *echoTransmitter) writeHeader() {
	if !t.res.Committed {
		t.res.WriteHeader(t.status)
	}
}
