package utils

import (
	"strings"
)

// Dedup trims each entry and keeps the first occurrence of every non-empty value, preserving order.
func Dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
