// SPDX-License-Identifier: ice License 1.0

// Package headers turns raw, possibly multi-valued header collections into an ordered,
// immutable list of (name, value) entries.
package headers

type (
	// Field is one raw header as the hosting server exposes it.
	// Value is expected to be a string or a []string; anything else is ignored.
	Field struct {
		Value any
		Name  string
	}
	// Headers is immutable; accessors return copies.
	Headers struct {
		entries []entry
	}
	entry struct {
		name  string
		value string
	}
)
