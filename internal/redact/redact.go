package redact

import "strings"

// Mask is written in place of a redacted value.
const Mask = "***"

// DefaultPHIKeys are masked in audit payloads unless configured otherwise.
var DefaultPHIKeys = []string{"name", "dob", "date_of_birth"}

// DefaultTextKeys hold free text that is scanned rather than masked whole.
var DefaultTextKeys = []string{"text"}

// MaskValue replaces a value with Mask. Numbers, bools and nil are preserved
// so the shape of the record survives.
func MaskValue(v any) any {
	switch v.(type) {
	case int, int64, float64, bool, nil:
		return v
	default:
		return Mask
	}
}

// Keys is a case-insensitive set of keys.
type Keys map[string]bool

// NewKeys builds a key set. Empty input yields an empty (no-op) set.
func NewKeys(keys []string) Keys {
	set := make(Keys, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			set[strings.ToLower(k)] = true
		}
	}
	return set
}

// Map returns a copy of data with matching keys masked.
func (k Keys) Map(data map[string]any) map[string]any {
	return Redactor{keys: k}.Map(data)
}

// Value redacts any structured value.
func (k Keys) Value(v any) any {
	return Redactor{keys: k}.Value(v)
}

// Redactor masks PHI keys outright and scans string values under text keys.
type Redactor struct {
	keys    Keys
	text    Keys
	scanner *Scanner
}

// New builds a Redactor. names feeds the free-text scanner.
func New(keys, textKeys, names []string) Redactor {
	return Redactor{
		keys:    NewKeys(keys),
		text:    NewKeys(textKeys),
		scanner: NewScanner(names),
	}
}

func (r Redactor) empty() bool {
	return len(r.keys) == 0 && (len(r.text) == 0 || r.scanner == nil)
}

// Map returns a copy of data with matching keys masked, recursing into
// nested maps and slices. The input is never modified.
func (r Redactor) Map(data map[string]any) map[string]any {
	if data == nil || r.empty() {
		return data
	}
	out := make(map[string]any, len(data))
	for key, v := range data {
		lower := strings.ToLower(key)
		switch {
		case r.keys[lower]:
			out[key] = MaskValue(v)
		case r.text[lower] && r.scanner != nil:
			if s, ok := v.(string); ok {
				out[key] = r.scanner.Mask(s)
			} else {
				out[key] = r.Value(v)
			}
		default:
			out[key] = r.Value(v)
		}
	}
	return out
}

// Value redacts any structured value: maps, slices of maps, or scalars (returned as is).
func (r Redactor) Value(v any) any {
	if r.empty() {
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		return r.Map(t)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, m := range t {
			out[i] = r.Map(m)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.Value(item)
		}
		return out
	default:
		return v
	}
}
