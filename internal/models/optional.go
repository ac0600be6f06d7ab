package models

import "strings"

// OptionalString returns nil for blank input, else a pointer to the trimmed value.
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// TimestampPtr returns a pointer to ts.
func TimestampPtr(ts Timestamp) *Timestamp {
	return &ts
}
