package address

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewGUID returns a fresh session GUID: 32 lowercase hex digits, unique
// for the broker's lifetime.
func NewGUID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// ValidGUID reports whether s is syntactically a session GUID.
func ValidGUID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
