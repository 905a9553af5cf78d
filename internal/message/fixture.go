package message

import (
	"fmt"
	"maps"
	"strings"

	"exchanged/internal/model"
	"exchanged/internal/uri"
)

// FixtureOptions describes a synthetic request. Zero fields take defaults:
// URI "/", method GET.
type FixtureOptions struct {
	URI     string
	Method  string
	Cookies map[string]string
	Headers map[string]string
	Query   map[string]string
	Form    map[string]string
	Files   map[string]model.FileEntry
	IP      string
	Server  map[string]string
	Body    string
}

// NewFixture builds a Request the way a transport would: the query string of URI
// is merged under opts.Query, form fields are dropped for GET, headers become
// HTTP_* server parameters and IP becomes REMOTE_ADDR.
func NewFixture(opts FixtureOptions, reqOpts ...RequestOption) (*Request, error) {
	target := opts.URI
	if target == "" {
		target = "/"
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = "GET"
	}

	server := make(map[string]string, len(opts.Server)+len(opts.Headers)+3)
	for k, v := range opts.Server {
		server[strings.ToUpper(k)] = v
	}
	server[ServerRequestMethod] = method
	server[ServerRequestURI] = target
	if opts.IP != "" {
		server[ServerRemoteAddr] = opts.IP
	}
	for name, value := range opts.Headers {
		server[HeaderParamPrefix+strings.ToUpper(strings.ReplaceAll(name, "-", "_"))] = value
	}

	u, err := uri.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	query := u.QueryParams()
	maps.Copy(query, opts.Query)

	form := opts.Form
	if method == "GET" {
		form = nil
	}

	return NewRequest(Snapshot{
		Query:   query,
		Form:    form,
		Server:  server,
		Cookies: opts.Cookies,
		Files:   opts.Files,
		Body:    strings.NewReader(opts.Body),
	}, reqOpts...)
}
