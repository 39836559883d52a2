package chat

import (
	"fmt"
	"strings"
)

// NormalizeUsername performs case-insensitive canonicalization. Lookups and
// uniqueness both run on the normalized form.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateUsername enforces the registration policy on an already-normalized
// username: 3..32 chars from [a-z0-9_.-], starting with a letter or digit.
func ValidateUsername(s string) error {
	if len(s) < 3 || len(s) > 32 {
		return fmt.Errorf("username length: %w", ErrInvalidInput)
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '.' || r == '-':
			if i == 0 {
				return fmt.Errorf("username start: %w", ErrInvalidInput)
			}
		default:
			return fmt.Errorf("username charset: %w", ErrInvalidInput)
		}
	}
	return nil
}
