package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ua-parser/uap-go/uaparser"
	"gopkg.in/yaml.v3"

	"exchanged/internal/message"
	"exchanged/internal/model"
	"exchanged/internal/uri"
)

const maxStreamLines = 100

// uaParser compiles the bundled regex set on first use.
var uaParser = sync.OnceValue(uaparser.NewFromSaved)

// ExchangeHandler serves the routes that reflect a request back to the client.
type ExchangeHandler struct {
	logger *slog.Logger
}

// NewExchangeHandler creates an ExchangeHandler.
func NewExchangeHandler(logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{logger: logger.With("component", "exchange_handler")}
}

// UserAgent is the parsed User-Agent header.
type UserAgent struct {
	Raw     string `json:"raw" yaml:"raw"`
	Browser string `json:"browser" yaml:"browser"`
	OS      string `json:"os" yaml:"os"`
	Device  string `json:"device" yaml:"device"`
}

// Inspection is the resolved view of a request.
type Inspection struct {
	Method     string                          `json:"method" yaml:"method"`
	WireMethod string                          `json:"wire_method,omitempty" yaml:"wire_method,omitempty"`
	URI        string                          `json:"uri" yaml:"uri"`
	Target     string                          `json:"target" yaml:"target"`
	Protocol   string                          `json:"protocol" yaml:"protocol"`
	ClientIP   string                          `json:"client_ip" yaml:"client_ip"`
	Ajax       bool                            `json:"ajax" yaml:"ajax"`
	Headers    map[string][]string             `json:"headers" yaml:"headers"`
	Query      map[string]string               `json:"query" yaml:"query"`
	Cookies    map[string]string               `json:"cookies" yaml:"cookies"`
	Form       map[string]string               `json:"form" yaml:"form"`
	Body       any                             `json:"body" yaml:"body"`
	Uploads    map[string][]model.UploadedFile `json:"uploads" yaml:"uploads"`
	Attributes map[string]any                  `json:"attributes" yaml:"attributes"`
	UserAgent  *UserAgent                      `json:"user_agent,omitzero" yaml:"user_agent,omitempty"`
}

// inspectSections maps /inspect/<section> to the part of the view it renders.
var inspectSections = map[string]func(*Inspection) any{
	"headers":    func(v *Inspection) any { return v.Headers },
	"query":      func(v *Inspection) any { return v.Query },
	"cookies":    func(v *Inspection) any { return v.Cookies },
	"form":       func(v *Inspection) any { return v.Form },
	"body":       func(v *Inspection) any { return v.Body },
	"uploads":    func(v *Inspection) any { return v.Uploads },
	"attributes": func(v *Inspection) any { return v.Attributes },
	"user-agent": func(v *Inspection) any { return v.UserAgent },
	"ip":         func(v *Inspection) any { return map[string]string{"client_ip": v.ClientIP} },
}

// Inspect renders the resolved request. "?format=yaml" switches the encoding;
// a trailing path segment selects one section.
func (h *ExchangeHandler) Inspect(_ context.Context, req *message.Request, res *message.Response) error {
	section, _ := req.Attribute("*")
	name, _ := section.(string)
	name = strings.Trim(name, "/")

	var pick func(*Inspection) any
	if name != "" {
		var ok bool
		if pick, ok = inspectSections[name]; !ok {
			return writeError(res, http.StatusNotFound, fmt.Sprintf("unknown section %q", name))
		}
	}

	view, err := inspect(req)
	if err != nil {
		if errors.Is(err, message.ErrMalformedBody) {
			return writeError(res, http.StatusBadRequest, "malformed JSON body")
		}
		return err
	}

	var out any = view
	if pick != nil {
		out = pick(view)
	}

	format, _ := req.QueryParam("format")
	return render(res, http.StatusOK, format, out)
}

func inspect(req *message.Request) (*Inspection, error) {
	body, err := req.ParsedBody()
	if err != nil {
		return nil, err
	}

	view := &Inspection{
		Method:     req.Method(),
		URI:        req.URI().String(),
		Target:     req.RequestTarget(),
		Protocol:   req.ProtocolVersion(),
		ClientIP:   req.ClientIP(),
		Ajax:       req.IsAjax(),
		Headers:    req.Headers(),
		Query:      req.QueryParams(),
		Cookies:    req.CookieParams(),
		Form:       req.FormParams(),
		Body:       body,
		Uploads:    req.UploadedFiles(),
		Attributes: req.Attributes(),
	}
	if wire, ok := req.ServerParam(message.ServerRequestMethod); ok && !strings.EqualFold(wire, view.Method) {
		view.WireMethod = strings.ToUpper(wire)
	}
	// Header values are split on commas; a user agent needs them back.
	if raw := strings.Join(req.Header("user-agent"), ", "); raw != "" {
		view.UserAgent = parseUserAgent(raw)
	}
	return view, nil
}

func parseUserAgent(raw string) *UserAgent {
	client := uaParser().Parse(raw)
	return &UserAgent{
		Raw:     raw,
		Browser: client.UserAgent.ToString(),
		OS:      client.Os.ToString(),
		Device:  client.Device.Family,
	}
}

// Status answers with the status code named in the path. "?reason=" replaces
// the standard reason phrase.
func (h *ExchangeHandler) Status(_ context.Context, req *message.Request, res *message.Response) error {
	raw, _ := req.Attribute("code")
	s, _ := raw.(string)
	code, err := strconv.Atoi(s)
	if err != nil || code < 200 || code > 599 {
		return writeError(res, http.StatusBadRequest, "status code must be between 200 and 599")
	}

	if reason, ok := req.QueryParam("reason"); ok && reason != "" {
		res.WithStatus(code, reason)
	} else {
		res.WithStatus(code)
	}
	res.WithHeader("Content-Type", "text/plain; charset=utf-8")
	_, err = fmt.Fprintf(res, "%d %s\n", code, res.ReasonPhrase())
	return err
}

// Redirect sends the client to "?to=" with "?status=" (303 by default).
func (h *ExchangeHandler) Redirect(_ context.Context, req *message.Request, res *message.Response) error {
	to, _ := req.QueryParam("to")
	if to == "" {
		return writeError(res, http.StatusBadRequest, "missing redirect target")
	}
	if _, err := uri.Parse(to); err != nil {
		return writeError(res, http.StatusBadRequest, "invalid redirect target")
	}

	if raw, ok := req.QueryParam("status"); ok {
		code, err := strconv.Atoi(raw)
		if err != nil || code < 300 || code > 308 {
			return writeError(res, http.StatusBadRequest, "redirect status must be between 300 and 308")
		}
		res.Redirect(to, code)
		return nil
	}
	res.Redirect(to)
	return nil
}

// SetCookies writes one cookie per query pair and redirects to the cookie view.
func (h *ExchangeHandler) SetCookies(_ context.Context, req *message.Request, res *message.Response) error {
	for name, value := range req.QueryParams() {
		res.WithCookie(name, value)
	}
	res.Redirect("/inspect/cookies")
	return nil
}

// DeleteCookies expires every cookie named in the query.
func (h *ExchangeHandler) DeleteCookies(_ context.Context, req *message.Request, res *message.Response) error {
	for name := range req.QueryParams() {
		res.WithCookie(name, "", message.CookieExpire(time.Unix(1, 0)))
	}
	res.Redirect("/inspect/cookies")
	return nil
}

type streamLine struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	URI    string `json:"uri"`
}

// Stream emits n newline-delimited JSON lines, each flushed on its own.
func (h *ExchangeHandler) Stream(ctx context.Context, req *message.Request, res *message.Response) error {
	raw, _ := req.Attribute("n")
	s, _ := raw.(string)
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > maxStreamLines {
		return writeError(res, http.StatusBadRequest, fmt.Sprintf("n must be between 1 and %d", maxStreamLines))
	}

	method, target := req.Method(), req.URI().String()
	var lines iter.Seq[[]byte] = func(yield func([]byte) bool) {
		for i := range n {
			if ctx.Err() != nil {
				return
			}
			line, err := json.Marshal(streamLine{ID: i, Method: method, URI: target})
			if err != nil {
				h.logger.Error("encoding stream line", "err", err)
				return
			}
			if !yield(append(line, '\n')) {
				return
			}
		}
	}

	res.WithHeader("Content-Type", "application/x-ndjson")
	res.WithBody(message.NewProducerBody(lines))
	return nil
}

// render encodes v as JSON, or YAML when format says so.
func render(res *message.Response, code int, format string, v any) error {
	res.WithStatus(code)
	if strings.EqualFold(format, "yaml") {
		res.WithHeader("Content-Type", "application/yaml")
		enc := yaml.NewEncoder(res)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}

	res.WithHeader("Content-Type", "application/json")
	enc := json.NewEncoder(res)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// writeError replaces whatever was staged with a JSON error body.
func writeError(res *message.Response, code int, msg string) error {
	res.Reset()
	return render(res, code, "", map[string]string{"error": msg})
}
