// Package uri implements an immutable URI value with a flat, ordered query map.
//
// Every With* method returns a modified copy; the receiver is never changed.
// Duplicate query keys collapse to the last value seen, keeping the position of
// the first occurrence.
package uri

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrInvalidArgument is returned when a mutator receives a value it cannot store.
var ErrInvalidArgument = errors.New("uri: invalid argument")

// standardPorts maps schemes to the port that is omitted from the authority.
var standardPorts = map[string]int{
	"ftp":   21,
	"ssh":   22,
	"smtp":  25,
	"http":  80,
	"pop3":  110,
	"https": 443,
}

// URI is a parsed URI. The zero value is an empty relative reference with path "/".
type URI struct {
	scheme   string
	host     string
	port     int // 0 means absent
	user     string
	password string
	path     string
	query    params
	fragment string
}

// Parse splits raw into its components. Malformed query entries are dropped.
func Parse(raw string) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, fmt.Errorf("uri: parse %q: %w", raw, err)
	}

	v := URI{
		scheme:   u.Scheme,
		host:     u.Hostname(),
		path:     u.EscapedPath(),
		query:    parseQuery(u.RawQuery),
		fragment: u.EscapedFragment(),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return URI{}, fmt.Errorf("uri: parse %q: invalid port %q", raw, p)
		}
		v.port = port
	}
	if u.User != nil {
		v.user = u.User.Username()
		v.password, _ = u.User.Password()
	}

	return v, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(raw string) URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// Scheme returns the scheme without the trailing ":".
func (u URI) Scheme() string { return u.scheme }

// Authority returns [user[:password]@]host[:port], or "" when there is no host.
func (u URI) Authority() string {
	if u.host == "" {
		return ""
	}

	authority := u.host
	if strings.Contains(authority, ":") {
		authority = "[" + authority + "]"
	}
	if info := u.UserInfo(); info != "" {
		authority = info + "@" + authority
	}
	if port := u.Port(); port != 0 {
		authority += ":" + strconv.Itoa(port)
	}
	return authority
}

// UserInfo returns user or user:password. The password is only shown with a user.
func (u URI) UserInfo() string {
	if u.user != "" && u.password != "" {
		return u.user + ":" + u.password
	}
	return u.user
}

// Host returns the host without port or brackets.
func (u URI) Host() string { return u.host }

// Port returns the port, or 0 when it is absent or the standard port of the scheme.
func (u URI) Port() int {
	if u.port == 0 {
		return 0
	}
	if std, ok := standardPorts[u.scheme]; ok && std == u.port {
		return 0
	}
	return u.port
}

// Path returns the escaped path, "/" when empty.
func (u URI) Path() string {
	if u.path == "" {
		return "/"
	}
	return u.path
}

// Extension returns the extension of the last path segment without the dot.
func (u URI) Extension() string {
	return strings.TrimPrefix(path.Ext(u.path), ".")
}

// Query returns the RFC 3986 encoded query without the leading "?".
func (u URI) Query() string { return u.query.encode() }

// QueryParams returns a copy of the query parameters.
func (u URI) QueryParams() map[string]string {
	m := make(map[string]string, len(u.query.keys))
	for _, k := range u.query.keys {
		m[k] = u.query.values[k]
	}
	return m
}

// QueryParam returns the value stored for key.
func (u URI) QueryParam(key string) (string, bool) {
	v, ok := u.query.values[key]
	return v, ok
}

// Fragment returns the escaped fragment without the leading "#".
func (u URI) Fragment() string { return u.fragment }

// WithScheme returns a copy using scheme.
func (u URI) WithScheme(scheme string) URI {
	u.scheme = scheme
	return u
}

// WithoutScheme returns a copy with no scheme.
func (u URI) WithoutScheme() URI { return u.WithScheme("") }

// WithUserInfo returns a copy with the given credentials.
func (u URI) WithUserInfo(user, password string) URI {
	u.user = user
	u.password = password
	return u
}

// WithoutUserInfo returns a copy with no credentials.
func (u URI) WithoutUserInfo() URI { return u.WithUserInfo("", "") }

// WithHost returns a copy using host.
func (u URI) WithHost(host string) URI {
	u.host = host
	return u
}

// WithoutHost returns a copy with no host.
func (u URI) WithoutHost() URI { return u.WithHost("") }

// WithPort returns a copy using port. Values outside 1..65535 clear the port.
func (u URI) WithPort(port int) URI {
	if port < 1 || port > 65535 {
		port = 0
	}
	u.port = port
	return u
}

// WithoutPort returns a copy with no port.
func (u URI) WithoutPort() URI { return u.WithPort(0) }

// WithPath returns a copy using p.
func (u URI) WithPath(p string) URI {
	u.path = p
	return u
}

// WithoutPath returns a copy with an empty path, rendered as "/".
func (u URI) WithoutPath() URI { return u.WithPath("") }

// WithQuery returns a copy whose query is parsed from raw.
func (u URI) WithQuery(raw string) URI {
	u.query = parseQuery(strings.TrimPrefix(raw, "?"))
	return u
}

// WithQueryParams returns a copy whose query is exactly m, keys in sorted order.
func (u URI) WithQueryParams(m map[string]string) URI {
	var q params
	for _, k := range sortedKeys(m) {
		q.set(k, m[k])
	}
	u.query = q
	return u
}

// AddQuery returns a copy with m merged into the query. Existing keys keep their
// position and take the new value; new keys are appended in sorted order.
func (u URI) AddQuery(m map[string]string) URI {
	q := u.query.clone()
	for _, k := range sortedKeys(m) {
		q.set(k, m[k])
	}
	u.query = q
	return u
}

// WithoutQuery returns a copy without the named keys, or without any query when
// no key is given.
func (u URI) WithoutQuery(keys ...string) URI {
	if len(keys) == 0 {
		u.query = params{}
		return u
	}
	q := u.query.clone()
	for _, k := range keys {
		q.del(k)
	}
	u.query = q
	return u
}

// WithFragment returns a copy using fragment, given as unescaped text and
// stored escaped like a parsed one. The fragment must be valid UTF-8 without
// control characters or "#".
func (u URI) WithFragment(fragment string) (URI, error) {
	if !utf8.ValidString(fragment) || strings.ContainsFunc(fragment, invalidFragmentRune) {
		return u, fmt.Errorf("%w: fragment %q", ErrInvalidArgument, fragment)
	}
	u.fragment = (&url.URL{Fragment: fragment}).EscapedFragment()
	return u, nil
}

// WithoutFragment returns a copy with no fragment.
func (u URI) WithoutFragment() URI {
	u.fragment = ""
	return u
}

// String renders the URI. The scheme is only rendered together with an authority.
func (u URI) String() string {
	var b strings.Builder

	if authority := u.Authority(); authority != "" {
		if u.scheme != "" {
			b.WriteString(u.scheme)
			b.WriteByte(':')
		}
		b.WriteString("//")
		b.WriteString(authority)
	}

	b.WriteString(u.Path())

	if q := u.Query(); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	if u.fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.fragment)
	}

	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (u URI) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func invalidFragmentRune(r rune) bool {
	return r == '#' || r < 0x20 || r == 0x7f
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
