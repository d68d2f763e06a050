// Package util provides small helpers shared across SlotChat components.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewSessionID returns a random version-4 UUID string for a new chat session.
func NewSessionID() string {
	return uuid.NewString()
}

// GenerateRandomID returns prefix followed by 32 random hex characters.
func GenerateRandomID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsSessionID reports whether id looks like an id this service could have
// issued or accepted: 1 to 128 characters of letters, digits, '-', '_', ':' or '.'.
func IsSessionID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == ':', r == '.':
		default:
			return false
		}
	}
	return true
}
