package app

import (
	"errors"
	"fmt"

	"parley/cmd/security/token"
)

// ValidateSecurityConfig enforces the token-signing policy at startup.
//
// Fail-fast: a deployment that asked for signed access tokens must not come
// up with an unsigned fallback. The check goes through the same package that
// mints and verifies tokens (security/token) so policy and behavior agree.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireAuthTokens {
		return nil
	}

	// The key is used as raw bytes, so the minimum is measured in bytes.
	if _, err := token.KeyFromEnv(); err != nil {
		switch {
		case errors.Is(err, token.ErrKeyMissing):
			return errors.New("PARLEY_REQUIRE_AUTH_TOKENS is on but PARLEY_TOKEN_HMAC_KEY is not set")
		case errors.Is(err, token.ErrKeyTooShort):
			return fmt.Errorf("PARLEY_REQUIRE_AUTH_TOKENS is on but PARLEY_TOKEN_HMAC_KEY is shorter than %d bytes", token.MinKeyBytes)
		default:
			return err
		}
	}

	return nil
}
