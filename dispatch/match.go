package dispatch

import "strings"

// Match checks if an event type matches a consumer claim pattern.
//
// Supported patterns:
//
//	"note.create.validated"  → exact match
//	"note.*.validated"       → any action on note at the validated phase
//	"*.*.requested"          → any requested-phase event
//	"*"                      → matches everything
func Match(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}

	if pattern == eventType {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	eventParts := strings.Split(eventType, ".")

	if len(patternParts) != len(eventParts) {
		return false
	}

	for i, pp := range patternParts {
		if pp == "*" {
			continue
		}
		if pp != eventParts[i] {
			return false
		}
	}

	return true
}
