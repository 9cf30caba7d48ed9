// Package eventname validates the structured event labels used across
// logs, audit entries, and progress callbacks: UPPER_SNAKE_CASE,
// at least two components, a canonical past-participle terminator.
package eventname

import (
	"regexp"
	"strings"
)

const maxLength = 50

var namePattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[A-Z0-9]+)+$`)

// terminators is the canonical past-participle vocabulary a valid event
// name's final component must belong to. Drift in this set is a
// deliberate vocabulary edit, not a bug fix.
var terminators = map[string]struct{}{
	"INITIALIZED": {},
	"APPENDED":    {},
	"VALIDATED":   {},
	"ROUTED":      {},
	"BLOCKED":     {},
	"FAILED":      {},
	"ADDED":       {},
	"COMPLETED":   {},
	"STARTED":     {},
	"CANCELLED":   {},
	"DETECTED":    {},
	"VERIFIED":    {},
	"SKIPPED":     {},
	"ENQUEUED":    {},
	"DISPATCHED":  {},
	"THROTTLED":   {},
	"RESUMED":     {},
	"TRANSITIONED": {},
	"REJECTED":    {},
	"TIMED_OUT":   {}, // two-word terminator; handled specially below
}

// lastComponent returns the final underscore-delimited segment of name.
func lastComponent(name string) string {
	parts := strings.Split(name, "_")
	return parts[len(parts)-1]
}

func lastTwoComponents(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2] + "_" + parts[len(parts)-1]
}

// Validate reports whether name satisfies invariant 7: the regex, the
// length bound, and a canonical past-participle terminator.
func Validate(name string) bool {
	if len(name) > maxLength {
		return false
	}
	if !namePattern.MatchString(name) {
		return false
	}
	if _, ok := terminators[lastComponent(name)]; ok {
		return true
	}
	if _, ok := terminators[lastTwoComponents(name)]; ok {
		return true
	}
	return false
}

// Canonical returns the approved terminator vocabulary.
func Canonical() []string {
	names := make([]string, 0, len(terminators))
	for t := range terminators {
		names = append(names, t)
	}
	return names
}
