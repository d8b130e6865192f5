package proxy

import "strings"

// ToSnakeCase converts a camelCase key to snake_case. Keys starting with an
// underscore are left alone.
func ToSnakeCase(s string) string {
	if s == "" || s[0] == '_' {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteByte(c + ('a' - 'A'))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ToCamelCase converts a snake_case key to camelCase. Keys starting with an
// underscore, and keys without one, are left alone.
func ToCamelCase(s string) string {
	if s == "" || s[0] == '_' || strings.IndexByte(s, '_') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	upper := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		b.WriteByte(c)
	}
	return b.String()
}

// ConvertKeys returns a copy of a decoded JSON value with every object key
// renamed. overrides maps exact keys to their replacement and wins over conv.
// Values are never changed.
func ConvertKeys(v any, conv func(string) string, overrides map[string]string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			name, ok := overrides[k]
			if !ok {
				name = conv(k)
			}
			out[name] = ConvertKeys(val, conv, overrides)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = ConvertKeys(val, conv, overrides)
		}
		return out
	}
	return v
}
