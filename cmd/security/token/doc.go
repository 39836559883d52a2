// Package token provides access-token minting and verification for Parley.
//
// Tokens are self-contained: subject and expiry are signed with
// HMAC-SHA256, so verification needs no store lookup. The hub and the HTTP
// API share one key.
//
// Design goals:
// - One compact format: base64url(subject).unixExpiry.hexSignature.
// - Constant-time signature checks.
// - Stable sentinel errors so callers can branch on expiry vs tampering.
//
// Environment:
//   - PARLEY_TOKEN_HMAC_KEY: signing key, 32 bytes minimum.
//   - PARLEY_TOKEN_TTL: mint lifetime (default 12h).
package token
