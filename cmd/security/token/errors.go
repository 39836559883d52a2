package token

import "errors"

// Sentinels callers match with errors.Is. The key errors surface at startup,
// the token errors during verification.
var (
	ErrKeyMissing     = errors.New("signing key not configured")
	ErrKeyTooShort    = errors.New("signing key below minimum length")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
)
