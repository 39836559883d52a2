// Package password hashes and verifies user passwords with Argon2id.
//
// Hashes travel in the PHC string format
// ($argon2id$v=19$m=..,t=..,p=..$<salt>$<key>) so cost parameters are stored
// alongside the derived key and can be raised over time; NeedsRehash flags
// hashes minted under weaker settings for transparent upgrades at login.
//
// Verify treats the encoded hash as untrusted input: parsing is strict, and
// cost parameters far above the configured ones are refused before any key
// derivation runs. Costs and the length policy load from PARLEY_* variables.
package password
