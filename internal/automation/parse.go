// Copyright 2025 Joseph Cumines
//
// Best-effort parsing of scripting output into records

package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Fields is one group of key/value pairs recovered from scripting output.
type Fields map[string]string

// ParseLevel records which parser produced a result.
type ParseLevel int

const (
	// ParseNone means no records were produced.
	ParseNone ParseLevel = iota
	// ParseStructured means the output was a JSON literal.
	ParseStructured
	// ParseGrouped means records came from brace-delimited groups.
	ParseGrouped
	// ParseRaw means a single diagnostic record carries the raw output.
	ParseRaw
	// ParseObjectModel means the object-model dialect returned JSON.
	ParseObjectModel
)

func (l ParseLevel) String() string {
	switch l {
	case ParseStructured:
		return "structured"
	case ParseGrouped:
		return "grouped"
	case ParseRaw:
		return "raw"
	case ParseObjectModel:
		return "object-model"
	default:
		return "none"
	}
}

// Field declares one domain field of a record type.
type Field struct {
	// Name is the key as it appears in scripting output.
	Name string
	// Placeholder replaces a missing or empty value.
	Placeholder string
	// MaxLen, when positive, bounds the value in runes (see Truncate).
	MaxLen int
}

// Schema describes how groups of fields become records of type T.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Schema[T any] struct {
	// Build converts a completed group (every declared field present) to T.
	Build func(Fields) T
	// Diagnostic builds the fields of the synthetic record emitted when output
	// mentions known field names but nothing could be parsed. Nil disables the
	// raw fallback.
	Diagnostic func(raw string) Fields
	// Fields lists every domain field, in declaration order.
	Fields []Field
	// Identifying lists the fields of which at least one must be present for a
	// group to count as a record.
	Identifying []string
}

// Complete returns a copy of f restricted to the declared fields, with
// placeholders substituted and length bounds applied.
func (s Schema[T]) Complete(f Fields) Fields {
	out := make(Fields, len(s.Fields))
	for _, fd := range s.Fields {
		v := strings.TrimSpace(f[fd.Name])
		if v == "" {
			v = fd.Placeholder
		}
		if fd.MaxLen > 0 {
			v = Truncate(v, fd.MaxLen)
		}
		out[fd.Name] = v
	}
	return out
}

// Identifies reports whether f carries at least one identifying field.
func (s Schema[T]) Identifies(f Fields) bool {
	for _, name := range s.Identifying {
		if strings.TrimSpace(f[name]) != "" {
			return true
		}
	}
	return false
}

// Mentions reports whether raw contains any declared field name used as a key.
func (s Schema[T]) Mentions(raw string) bool {
	for _, fd := range s.Fields {
		if strings.Contains(raw, fd.Name+":") || strings.Contains(raw, `"`+fd.Name+`":`) {
			return true
		}
	}
	return false
}

// Records builds a record for every group that Identifies accepts.
func (s Schema[T]) Records(groups []Fields) []T {
	var out []T
	for _, g := range groups {
		if !s.Identifies(g) {
			continue
		}
		out = append(out, s.Build(s.Complete(g)))
	}
	return out
}

// ParseOutput interprets procedural-dialect output, trying in order: a
// strict JSON parse (only when the output opens with '{' or '['), grouped
// parsing, and finally the raw fallback. It never panics on malformed input.
func ParseOutput[T any](raw string, schema Schema[T]) ([]T, ParseLevel) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ParseNone
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		if groups, ok := parseJSONGroups(trimmed); ok {
			if recs := schema.Records(groups); len(recs) > 0 {
				return recs, ParseStructured
			}
		}
	}

	if recs := schema.Records(ParseGroups(trimmed)); len(recs) > 0 {
		return recs, ParseGrouped
	}

	if schema.Diagnostic != nil && schema.Mentions(trimmed) {
		return []T{schema.Build(schema.Complete(schema.Diagnostic(trimmed)))}, ParseRaw
	}

	return nil, ParseNone
}

// ParseGroups splits text into brace-delimited groups of key:value pairs.
//
// Each depth-zero group is split on top-level commas. A group whose pieces
// are all themselves groups is treated as a list and flattened; otherwise
// each piece is split on its first colon into a key and a value. Commas and
// braces inside double-quoted strings, and commas inside nested braces, are
// not separators. Values are trimmed and unquoted; AppleScript's
// "missing value" is treated as absent. Unterminated groups are dropped.
func ParseGroups(text string) []Fields {
	var out []Fields
	for _, body := range topLevelGroups(text) {
		out = appendGroup(out, body)
	}
	return out
}

func appendGroup(out []Fields, body string) []Fields {
	pieces := splitTopLevel(body)
	if isList(pieces) {
		for _, p := range pieces {
			p = strings.TrimSpace(p)
			out = appendGroup(out, p[1:len(p)-1])
		}
		return out
	}

	f := make(Fields)
	for _, p := range pieces {
		key, value, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		key = strings.Trim(strings.TrimSpace(key), `|"`)
		if key == "" {
			continue
		}
		v, present := normalizeValue(value)
		if !present {
			continue
		}
		f[key] = v
	}
	if len(f) == 0 {
		return out
	}
	return append(out, f)
}

func isList(pieces []string) bool {
	if len(pieces) == 0 {
		return false
	}
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if len(p) < 2 || p[0] != '{' || p[len(p)-1] != '}' {
			return false
		}
	}
	return true
}

// topLevelGroups returns the bodies, without braces, of each depth-zero group.
func topLevelGroups(text string) []string {
	var groups []string
	depth, start := 0, 0
	inQuote, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inQuote {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
		case '{':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				groups = append(groups, text[start:i])
			}
		}
	}
	return groups
}

// splitTopLevel splits s on commas outside quotes and nested braces.
func splitTopLevel(s string) []string {
	var pieces []string
	depth, start := 0, 0
	inQuote, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				pieces = append(pieces, s[start:i])
				start = i + 1
			}
		}
	}
	return append(pieces, s[start:])
}

func normalizeValue(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "missing value" {
		return "", false
	}
	if strings.HasPrefix(v, `date "`) {
		v = v[len("date "):]
	}
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = unquoteAppleScript(v[1 : len(v)-1])
	}
	return strings.TrimSpace(v), true
}

func unquoteAppleScript(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// UnquoteScalar strips one level of AppleScript string quoting from a
// source-form scalar result such as "success".
func UnquoteScalar(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return unquoteAppleScript(s[1 : len(s)-1])
	}
	return s
}

// ParseList interprets a scalar list result, either an AppleScript list in
// source form ({"a", "b"}) or a JSON array of strings. Empty and missing
// items are dropped. Output that is neither is treated as a single item.
func ParseList(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "{}" || trimmed == "[]" {
		return nil
	}
	if trimmed[0] == '[' {
		var items []any
		if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
			var out []string
			for _, item := range items {
				if s := strings.TrimSpace(fmt.Sprint(item)); item != nil && s != "" {
					out = append(out, s)
				}
			}
			return out
		}
	}
	if trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}' {
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	var out []string
	for _, piece := range splitTopLevel(trimmed) {
		if v, ok := normalizeValue(piece); ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseJSONGroups decodes a JSON object or array of objects into groups.
func parseJSONGroups(s string) ([]Fields, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v := v.(type) {
	case map[string]any:
		return []Fields{jsonFields(v)}, true
	case []any:
		out := make([]Fields, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, jsonFields(m))
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func jsonFields(m map[string]any) Fields {
	f := make(Fields, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case nil:
		case string:
			f[k] = v
		case bool:
			f[k] = strconv.FormatBool(v)
		case float64:
			f[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			if b, err := json.Marshal(v); err == nil {
				f[k] = string(b)
			}
		}
	}
	return f
}

// TruncationMarker is appended to values cut by Truncate.
const TruncationMarker = "..."

// Truncate bounds s to n runes. A longer s is cut so that, with
// TruncationMarker appended, the result is exactly n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	m := len([]rune(TruncationMarker))
	if n <= m {
		return string(r[:n])
	}
	return string(r[:n-m]) + TruncationMarker
}
