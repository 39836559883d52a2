package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Hash derives an Argon2id key from password and returns it in PHC form:
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt_b64>$<key_b64>
//
// The password must satisfy the configured policy first.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt,
		c.Params.Iterations, c.Params.MemoryKiB, c.Params.Parallelism, c.Params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		c.Params.MemoryKiB, c.Params.Iterations, c.Params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash. A mismatch is
// (false, nil); only unusable hashes return an error. The stored hash counts
// as untrusted input: cost parameters far above the configured ones are
// refused before any key derivation runs.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	params, salt, want, err := decode(encodedHash)
	if err != nil {
		return false, err
	}
	if !verifiableBounds(params, c.Params) {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey([]byte(password), salt,
		params.Iterations, params.MemoryKiB, params.Parallelism,
		uint32(len(want))) // #nosec G115 -- key length is range-checked in verifiableBounds.

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// NeedsRehash reports whether encodedHash was minted with weaker parameters
// than the current config. Login flows call it after a successful Verify to
// upgrade stored hashes in place. Unparseable hashes count as stale.
func (c Config) NeedsRehash(encodedHash string) bool {
	params, _, _, err := decode(encodedHash)
	if err != nil {
		return true
	}
	return params.MemoryKiB < c.Params.MemoryKiB ||
		params.Iterations < c.Params.Iterations ||
		params.KeyLength < c.Params.KeyLength
}

// verifiableBounds accepts hashes minted with older, smaller settings but
// refuses anything far above the configured costs, plus degenerate salt or
// key sizes.
func verifiableBounds(got, limit Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limit.MemoryKiB*2,
		got.Iterations > limit.Iterations*2,
		got.Parallelism > limit.Parallelism*2,
		got.SaltLength < 8,
		got.SaltLength > 64,
		got.KeyLength < 16,
		got.KeyLength > 128:
		return false
	}
	return true
}

// decode parses a PHC Argon2id string into cost parameters, salt, and key.
func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	fail := func() (Argon2idParams, []byte, []byte, error) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return fail()
	}

	ver, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return fail()
	}
	if n, err := strconv.Atoi(ver); err != nil || n != argon2.Version {
		return fail()
	}

	mem, iters, lanes, err := parseCosts(parts[3])
	if err != nil {
		return fail()
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fail()
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return fail()
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  iters,
		Parallelism: lanes,
		SaltLength:  uint32(len(salt)), // #nosec G115 -- bounds enforced by verifiableBounds.
		KeyLength:   uint32(len(key)),  // #nosec G115 -- same.
	}, salt, key, nil
}

// parseCosts reads the "m=..,t=..,p=.." section. Field order is fixed and
// every field is mandatory; nothing extra is tolerated.
func parseCosts(s string) (mem, iters uint32, lanes uint8, err error) {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return 0, 0, 0, ErrInvalidHash
	}

	var vals [3]uint64
	for i, prefix := range []string{"m=", "t=", "p="} {
		raw, ok := strings.CutPrefix(fields[i], prefix)
		if !ok {
			return 0, 0, 0, ErrInvalidHash
		}
		v, perr := strconv.ParseUint(raw, 10, 32)
		if perr != nil || v == 0 {
			return 0, 0, 0, ErrInvalidHash
		}
		vals[i] = v
	}
	if vals[2] > 255 {
		return 0, 0, 0, ErrInvalidHash
	}

	return uint32(vals[0]), uint32(vals[1]), uint8(vals[2]), nil
}
