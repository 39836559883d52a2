package password

import "errors"

// Policy failures are sentinel errors so the API layer can map each one to
// its own response code.
var (
	ErrPasswordTooShort = errors.New("password is too short")
	ErrPasswordTooLong  = errors.New("password is too long")
	ErrWeakPassword     = errors.New("password is too easy to guess")
)

// ErrInvalidHash covers malformed, unsupported, and out-of-bounds hashes.
var ErrInvalidHash = errors.New("malformed password hash")
