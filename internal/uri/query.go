package uri

import (
	"net/url"
	"slices"
	"strings"
)

// params is an insertion-ordered string map. Values are shared between URI copies,
// so callers clone before calling set or del.
type params struct {
	keys   []string
	values map[string]string
}

func (p params) clone() params {
	c := params{
		keys:   slices.Clone(p.keys),
		values: make(map[string]string, len(p.values)),
	}
	for k, v := range p.values {
		c.values[k] = v
	}
	return c
}

func (p *params) set(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p *params) del(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	p.keys = slices.DeleteFunc(p.keys, func(k string) bool { return k == key })
}

// encode renders the parameters with RFC 3986 percent-encoding (space as %20).
func (p params) encode() string {
	if len(p.keys) == 0 {
		return ""
	}
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(k))
		b.WriteByte('=')
		b.WriteString(escape(p.values[k]))
	}
	return b.String()
}

// parseQuery flattens a raw query. Entries with an empty or undecodable key or an
// undecodable value are skipped.
func parseQuery(raw string) params {
	var p params
	for part := range strings.SplitSeq(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil || key == "" {
			continue
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		p.set(key, value)
	}
	return p
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
