package message

import (
	"iter"
	"slices"
	"strings"
)

// HeaderBag stores header values by lower-cased name. Name insertion order is kept
// so emission is deterministic. The zero value is empty and ready to use.
type HeaderBag struct {
	names  []string
	values map[string][]string
}

func headerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get returns a copy of the values for name; nil when absent.
func (h *HeaderBag) Get(name string) []string {
	return slices.Clone(h.values[headerKey(name)])
}

// Line returns the values for name joined with ",".
func (h *HeaderBag) Line(name string) string {
	return strings.Join(h.values[headerKey(name)], ",")
}

// Has reports whether name is present.
func (h *HeaderBag) Has(name string) bool {
	_, ok := h.values[headerKey(name)]
	return ok
}

// Set replaces all values for name.
func (h *HeaderBag) Set(name string, values ...string) {
	key := headerKey(name)
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	if _, ok := h.values[key]; !ok {
		h.names = append(h.names, key)
	}
	h.values[key] = slices.Clone(values)
}

// Add appends values to name, creating the entry when absent.
func (h *HeaderBag) Add(name string, values ...string) {
	key := headerKey(name)
	if existing, ok := h.values[key]; ok {
		h.values[key] = append(slices.Clip(existing), values...)
		return
	}
	h.Set(name, values...)
}

// Del removes name entirely.
func (h *HeaderBag) Del(name string) {
	key := headerKey(name)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	h.names = slices.DeleteFunc(h.names, func(n string) bool { return n == key })
}

// Len returns the number of distinct names.
func (h *HeaderBag) Len() int { return len(h.names) }

// Names returns the lower-cased names in insertion order.
func (h *HeaderBag) Names() []string { return slices.Clone(h.names) }

// All iterates names in insertion order.
func (h *HeaderBag) All() iter.Seq2[string, []string] {
	return func(yield func(string, []string) bool) {
		for _, name := range h.names {
			if !yield(name, h.values[name]) {
				return
			}
		}
	}
}

// Map returns a copy of the bag as a plain map.
func (h *HeaderBag) Map() map[string][]string {
	m := make(map[string][]string, len(h.names))
	for name, values := range h.All() {
		m[name] = slices.Clone(values)
	}
	return m
}

// Clone returns an independent copy.
func (h *HeaderBag) Clone() HeaderBag {
	c := HeaderBag{
		names:  slices.Clone(h.names),
		values: make(map[string][]string, len(h.values)),
	}
	for name, values := range h.values {
		c.values[name] = slices.Clone(values)
	}
	return c
}
