package abi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/http2/hpack"
)

// Header holds a single key/value header line.
// Multiple values for one key may arrive pre-joined as a comma-delimited value.
type Header struct {
	Key   Buffer
	Value Buffer
}

// Headers is an ordered header (or trailer, or metadata) block.
// Order reflects wire order and duplicate keys are repeated lines, never merged.
type Headers struct {
	Entries []Header
}

// NewHeaders builds a Headers block from alternating key/value strings, copying each one.
// A trailing key without a value gets an empty value.
func NewHeaders(kv ...string) Headers {
	if len(kv) == 0 {
		return Headers{}
	}
	h := Headers{Entries: make([]Header, 0, (len(kv)+1)/2)}
	for i := 0; i < len(kv); i += 2 {
		v := ""
		if i+1 < len(kv) {
			v = kv[i+1]
		}
		h.Add(kv[i], v)
	}
	return h
}

// Add appends a copied key/value pair.
func (h *Headers) Add(key, value string) {
	h.Entries = append(h.Entries, Header{
		Key:   CopyData(len(key), []byte(key)),
		Value: CopyData(len(value), []byte(value)),
	})
}

// Len returns the number of header lines.
func (h Headers) Len() int { return len(h.Entries) }

// Get returns the value of the first line whose key equals key (case-insensitive).
func (h Headers) Get(key string) (string, bool) {
	for _, e := range h.Entries {
		if strings.EqualFold(e.Key.String(), key) {
			return e.Value.String(), true
		}
	}
	return "", false
}

// Values returns every value for key, in wire order.
func (h Headers) Values(key string) []string {
	var out []string
	for _, e := range h.Entries {
		if strings.EqualFold(e.Key.String(), key) {
			out = append(out, e.Value.String())
		}
	}
	return out
}

// Each calls fn for every line in order.
func (h Headers) Each(fn func(key, value []byte)) {
	for _, e := range h.Entries {
		fn(e.Key.Bytes(), e.Value.Bytes())
	}
}

// CopyHeaders deep-copies every key and value of src. The copy is released
// independently of src.
func CopyHeaders(src Headers) Headers {
	if len(src.Entries) == 0 {
		return Headers{}
	}
	dst := Headers{Entries: make([]Header, len(src.Entries))}
	for i, e := range src.Entries {
		dst.Entries[i] = Header{
			Key:   CopyData(e.Key.Len(), e.Key.Bytes()),
			Value: CopyData(e.Value.Len(), e.Value.Bytes()),
		}
	}
	return dst
}

// Release releases every key and value, then drops the backing slice.
// A nil or empty block is a no-op.
func (h *Headers) Release() {
	for _, e := range h.Entries {
		e.Key.Release()
		e.Value.Release()
	}
	h.Entries = nil
}

// HeadersFromFields copies decoded HPACK fields into a Headers block.
func HeadersFromFields(fields []hpack.HeaderField) Headers {
	if len(fields) == 0 {
		return Headers{}
	}
	h := Headers{Entries: make([]Header, 0, len(fields))}
	for _, f := range fields {
		h.Add(f.Name, f.Value)
	}
	return h
}

// Fields converts the block into HPACK fields. Keys are emitted as stored.
func (h Headers) Fields() []hpack.HeaderField {
	if len(h.Entries) == 0 {
		return nil
	}
	fields := make([]hpack.HeaderField, 0, len(h.Entries))
	for _, e := range h.Entries {
		fields = append(fields, hpack.HeaderField{Name: e.Key.String(), Value: e.Value.String()})
	}
	return fields
}

// HeadersFromHTTP builds a response header block from a net/http header map.
// A positive status is emitted first as ":status". Since http.Header has no
// wire order, keys are sorted and lowercased; multiple values are joined with ", ".
func HeadersFromHTTP(status int, hdr http.Header) Headers {
	var h Headers
	if status > 0 {
		h.Add(":status", strconv.Itoa(status))
	}
	keys := make([]string, 0, len(hdr))
	for k := range hdr {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Add(strings.ToLower(k), strings.Join(hdr[k], ", "))
	}
	return h
}
