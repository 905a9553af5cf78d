// Package message models an HTTP exchange as a Request/Response pair that never
// touches the transport directly.
//
// A Request is built from caller-supplied snapshots (query, form, server
// parameters, cookies, uploads and a body source) and is copy-on-write: every
// With* method returns a new Request whose cached method and URI are unresolved.
// A Response accumulates status, headers, cookies and body in place and hands
// them to a Transmitter exactly once, on End.
package message

import (
	"maps"
	"slices"
)

const defaultProtocolVersion = "1.1"

// envelope holds what requests and responses share: protocol version, headers,
// body and pipeline-local attributes.
type envelope struct {
	protocol   string
	headers    HeaderBag
	body       Body
	attributes map[string]any
}

// ProtocolVersion returns the HTTP version without the "HTTP/" prefix.
func (e *envelope) ProtocolVersion() string {
	if e.protocol == "" {
		return defaultProtocolVersion
	}
	return e.protocol
}

// Header returns the values stored for name, matched case-insensitively.
func (e *envelope) Header(name string) []string { return e.headers.Get(name) }

// HeaderLine returns the values for name joined with ",".
func (e *envelope) HeaderLine(name string) string { return e.headers.Line(name) }

// HasHeader reports whether name is present.
func (e *envelope) HasHeader(name string) bool { return e.headers.Has(name) }

// Headers returns a copy of all headers keyed by lower-cased name.
func (e *envelope) Headers() map[string][]string { return e.headers.Map() }

// Body returns the attached body; nil when none was set.
func (e *envelope) Body() Body { return e.body }

// Attribute returns a pipeline-local value.
func (e *envelope) Attribute(name string) (any, bool) {
	v, ok := e.attributes[name]
	return v, ok
}

// Attributes returns a copy of all attributes.
func (e *envelope) Attributes() map[string]any {
	if e.attributes == nil {
		return map[string]any{}
	}
	return maps.Clone(e.attributes)
}

func (e *envelope) setAttribute(name string, value any) {
	if e.attributes == nil {
		e.attributes = make(map[string]any)
	}
	e.attributes[name] = value
}

// clone copies headers and attributes. The body is shared.
func (e *envelope) clone() envelope {
	return envelope{
		protocol:   e.protocol,
		headers:    e.headers.Clone(),
		body:       e.body,
		attributes: maps.Clone(e.attributes),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := slices.Collect(maps.Keys(m))
	slices.Sort(keys)
	return keys
}
