package rpccore

import (
	"net/http"
	"strings"

	"github.com/samber/lo"
)

// Headers is a case-insensitive, multi-valued metadata map. Lookup,
// insertion, and deletion are case-insensitive; iteration over Keys
// preserves the insertion order of the first occurrence of each key. This is
// the container every interceptor in this package reads and mutates before
// it is frozen and handed to the transport.
//
// Unlike net/http.Header, Headers does not canonicalize keys into
// Train-Case; the display form supplied by the first Set/Add call is
// preserved verbatim, which matters for protocols (gRPC-Web's trailer
// block) that round-trip raw header text.
type Headers struct {
	order  []string // display-form keys, in first-seen order
	lookup map[string]string
	values map[string][]string
}

// NewHeaders returns an empty Headers container.
func NewHeaders() *Headers {
	return &Headers{
		lookup: make(map[string]string),
		values: make(map[string][]string),
	}
}

func canonicalKey(key string) string {
	return strings.ToLower(key)
}

// Get returns the first value associated with key, or "" if absent.
func (h *Headers) Get(key string) string {
	values := h.Values(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Values returns all values associated with key, in insertion order.
func (h *Headers) Values(key string) []string {
	return h.values[canonicalKey(key)]
}

// Has reports whether key has at least one value.
func (h *Headers) Has(key string) bool {
	_, ok := h.values[canonicalKey(key)]
	return ok
}

// Set replaces any existing values for key with a single value.
func (h *Headers) Set(key, value string) {
	h.setValues(key, []string{value})
}

// Add appends value to any existing values for key.
func (h *Headers) Add(key, value string) {
	ck := canonicalKey(key)
	if _, ok := h.values[ck]; !ok {
		h.order = append(h.order, key)
		h.lookup[ck] = key
	}
	h.values[ck] = append(h.values[ck], value)
}

func (h *Headers) setValues(key string, values []string) {
	ck := canonicalKey(key)
	if _, ok := h.values[ck]; !ok {
		h.order = append(h.order, key)
		h.lookup[ck] = key
	}
	h.values[ck] = values
}

// Del removes all values for key.
func (h *Headers) Del(key string) {
	ck := canonicalKey(key)
	if _, ok := h.values[ck]; !ok {
		return
	}
	delete(h.values, ck)
	delete(h.lookup, ck)
	h.order = lo.Filter(h.order, func(k string, _ int) bool {
		return canonicalKey(k) != ck
	})
}

// Keys returns the display-form keys in insertion order.
func (h *Headers) Keys() []string {
	return append([]string(nil), h.order...)
}

// Clone returns a deep copy.
func (h *Headers) Clone() *Headers {
	out := NewHeaders()
	for _, key := range h.order {
		out.setValues(h.lookup[canonicalKey(key)], append([]string(nil), h.values[canonicalKey(key)]...))
	}
	return out
}

// Merge copies every key/value from other into h, appending to any existing
// values rather than replacing them.
func (h *Headers) Merge(other *Headers) {
	if other == nil {
		return
	}
	for _, key := range other.order {
		for _, value := range other.Values(key) {
			h.Add(key, value)
		}
	}
}

// ToHTTP renders h as a net/http.Header, suitable for handing to a
// Transport. Display keys are canonicalized by net/http's own textproto
// rules, which is a lossy but standard-compliant projection.
func (h *Headers) ToHTTP() http.Header {
	out := make(http.Header, len(h.order))
	for _, key := range h.order {
		out[http.CanonicalHeaderKey(key)] = append([]string(nil), h.Values(key)...)
	}
	return out
}

// HeadersFromHTTP builds a Headers container from a net/http.Header,
// preserving whatever display-case net/http already canonicalized to.
func HeadersFromHTTP(src http.Header) *Headers {
	out := NewHeaders()
	for key, values := range src {
		out.setValues(key, append([]string(nil), values...))
	}
	return out
}
