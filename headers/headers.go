// SPDX-License-Identifier: ice License 1.0

package headers

import (
	"net/http"
	"net/textproto"
	"sort"
)

func Normalize(raw []Field) Headers {
	entries := make([]entry, 0, len(raw))
	for _, field := range raw {
		name := textproto.CanonicalMIMEHeaderKey(field.Name)
		switch value := field.Value.(type) {
		case string:
			entries = append(entries, entry{name: name, value: value})
		case []string:
			for _, v := range value {
				entries = append(entries, entry{name: name, value: v})
			}
		}
	}

	return Headers{entries: entries}
}

// FromHTTP lists the header map as raw fields sorted by name, since the map itself carries no order.
func FromHTTP(header http.Header) []Field {
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, Field{Name: name, Value: header[name]})
	}

	return fields
}

func (h Headers) Len() int {
	return len(h.entries)
}

func (h Headers) Get(name string) string {
	name = textproto.CanonicalMIMEHeaderKey(name)
	for _, e := range h.entries {
		if e.name == name {
			return e.value
		}
	}

	return ""
}

func (h Headers) Values(name string) []string {
	name = textproto.CanonicalMIMEHeaderKey(name)
	var values []string
	for _, e := range h.entries {
		if e.name == name {
			values = append(values, e.value)
		}
	}

	return values
}

func (h Headers) Each(fn func(name, value string)) {
	for _, e := range h.entries {
		fn(e.name, e.value)
	}
}

// HTTPHeader returns a fresh http.Header; per-name value order follows entry order.
func (h Headers) HTTPHeader() http.Header {
	header := make(http.Header, len(h.entries))
	for _, e := range h.entries {
		header[e.name] = append(header[e.name], e.value)
	}

	return header
}
