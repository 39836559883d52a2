package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams are the cost knobs handed to argon2.IDKey. Memory is
// expressed in KiB because that is the unit the kdf takes.
type Argon2idParams struct {
	MemoryKiB   uint32 // m
	Iterations  uint32 // t
	Parallelism uint8  // p

	SaltLength uint32
	KeyLength  uint32
}

// Policy bounds what users may pick as a password. MaxLength doubles as a
// request-size limit, since argon2 cost scales with input length.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak additionally screens out breach-list staples.
	RejectVeryWeak bool
}

// Config carries everything this package needs: kdf cost plus the password
// policy applied before hashing.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns a baseline tuned for interactive chat logins.
// Values can be overridden via env.
func DefaultConfig() Config {
	// Parallelism follows the host CPU count, clamped to [1..4] so memory
	// and thread usage stay predictable in containers.
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- threads is clamped to [1..4].

			SaltLength: 16,
			KeyLength:  32,
		},
		Policy: Policy{
			RejectVeryWeak: true,
			MinLength:      8,
			MaxLength:      256,
		},
	}
}

// FromEnv starts from DefaultConfig and applies any overrides present in the
// environment.
//
// Env surface:
// - PARLEY_PASSWORD_MIN_LEN
// - PARLEY_PASSWORD_MAX_LEN
// - PARLEY_PASSWORD_REJECT_VERY_WEAK (true/false)
// - PARLEY_ARGON2_MEMORY_KIB
// - PARLEY_ARGON2_ITERATIONS
// - PARLEY_ARGON2_PARALLELISM
// - PARLEY_ARGON2_SALT_LEN
// - PARLEY_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	intVars := []struct {
		name     string
		dst      *int
		min, max int
	}{
		{"PARLEY_PASSWORD_MIN_LEN", &cfg.Policy.MinLength, 1, 1024},
		{"PARLEY_PASSWORD_MAX_LEN", &cfg.Policy.MaxLength, 1, 4096},
	}
	for _, v := range intVars {
		raw, ok := os.LookupEnv(v.name)
		if !ok {
			continue
		}
		n, err := parseRangedInt(raw, v.min, v.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", v.name, err)
		}
		*v.dst = n
	}

	if raw, ok := os.LookupEnv("PARLEY_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := parseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	u32Vars := []struct {
		name     string
		dst      *uint32
		min, max uint32
	}{
		{"PARLEY_ARGON2_MEMORY_KIB", &cfg.Params.MemoryKiB, 8 * 1024, 1024 * 1024}, // 8 MiB .. 1 GiB
		{"PARLEY_ARGON2_ITERATIONS", &cfg.Params.Iterations, 1, 20},
		{"PARLEY_ARGON2_SALT_LEN", &cfg.Params.SaltLength, 8, 64},
		{"PARLEY_ARGON2_KEY_LEN", &cfg.Params.KeyLength, 16, 64},
	}
	for _, v := range u32Vars {
		raw, ok := os.LookupEnv(v.name)
		if !ok {
			continue
		}
		u, err := parseRangedUint32(raw, v.min, v.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", v.name, err)
		}
		*v.dst = u
	}

	// Parallelism is uint8 in argon2.IDKey, so it gets its own conversion.
	if raw, ok := os.LookupEnv("PARLEY_ARGON2_PARALLELISM"); ok {
		u, err := parseRangedUint32(raw, 1, 64)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- range-checked to [1..64] above.
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min length %d exceeds max %d",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}

	return cfg, nil
}

func parseRangedInt(s string, minVal, maxVal int) (int, error) {
	i64, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if i64 < int64(minVal) || i64 > int64(maxVal) {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return int(i64), nil
}

func parseRangedUint32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	if u64 < uint64(minVal) || u64 > uint64(maxVal) {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return uint32(u64), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean")
}
