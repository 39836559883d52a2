package chat

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate")
)

// IsNotFound reports whether err represents a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicate reports whether err represents a uniqueness conflict.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }
