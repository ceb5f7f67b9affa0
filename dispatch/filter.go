package dispatch

import "strings"

// ParseFilter normalizes a client-supplied filter string into the event
// type it matches, applying the historical alias "update" -> "dataUpdate"
// (spec.md §4.4 "Filter predicate").
func ParseFilter(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(trimmed, "update") {
		return "dataUpdate"
	}
	return trimmed
}

// Accepts reports whether a client with the given (already-parsed) filter
// accepts an event of type t. A client with no filter accepts every event
// type. A client with filter f accepts an event of type t iff t ==
// "connected" or f case-insensitively equals t (spec.md §4.4).
func Accepts(filter, t string) bool {
	if filter == "" {
		return true
	}
	if t == "connected" {
		return true
	}
	return strings.EqualFold(filter, t)
}
