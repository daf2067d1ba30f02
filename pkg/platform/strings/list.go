// Package strings normalizes comma separated settings and small string lists.
package strings

import (
	"strings"
)

// SplitList splits a comma separated value into trimmed, unique, non-empty
// items in their original order.
func SplitList(raw string) []string {
	return Normalize(strings.Split(raw, ","), nil)
}

// Normalize trims each value, applies fold when given, and drops empty and
// repeated values. Order is preserved. A nil input yields nil.
func Normalize(values []string, fold func(string) string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if fold != nil {
			v = fold(v)
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// LanguageTags normalizes language codes case-insensitively ("EN", "en " -> "en").
func LanguageTags(values []string) []string {
	return Normalize(values, strings.ToLower)
}
