package resource

import (
	"strings"

	"golang.org/x/text/cases"
)

// Search returns the items for which any of fields(item) contains query,
// compared case-insensitively with Unicode case folding. A blank query
// returns items unchanged.
func Search[T any](items []T, query string, fields func(T) []string) []T {
	query = strings.TrimSpace(query)
	if query == "" {
		return items
	}
	folder := cases.Fold()
	needle := folder.String(query)

	out := make([]T, 0, len(items))
	for _, item := range items {
		for _, f := range fields(item) {
			if strings.Contains(folder.String(f), needle) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// Filter returns the items matching keep, preserving order.
func Filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}
