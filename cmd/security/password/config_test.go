package password

import (
	"os"
	"strings"
	"testing"
)

var passwordEnvKeys = []string{
	"PARLEY_PASSWORD_MIN_LEN",
	"PARLEY_PASSWORD_MAX_LEN",
	"PARLEY_PASSWORD_REJECT_VERY_WEAK",
	"PARLEY_ARGON2_MEMORY_KIB",
	"PARLEY_ARGON2_ITERATIONS",
	"PARLEY_ARGON2_PARALLELISM",
	"PARLEY_ARGON2_SALT_LEN",
	"PARLEY_ARGON2_KEY_LEN",
}

func TestFromEnv_Defaults(t *testing.T) {
	// t.Setenv registers the restore; the unset makes the variable truly
	// absent for this test rather than empty.
	for _, k := range passwordEnvKeys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("defaults drifted: %+v", cfg)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PARLEY_PASSWORD_MIN_LEN", "10")
	t.Setenv("PARLEY_PASSWORD_MAX_LEN", "200")
	t.Setenv("PARLEY_PASSWORD_REJECT_VERY_WEAK", "no")
	t.Setenv("PARLEY_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("PARLEY_ARGON2_ITERATIONS", "4")
	t.Setenv("PARLEY_ARGON2_PARALLELISM", "2")
	t.Setenv("PARLEY_ARGON2_SALT_LEN", "24")
	t.Setenv("PARLEY_ARGON2_KEY_LEN", "48")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	want := Config{
		Params: Argon2idParams{
			MemoryKiB:   32768,
			Iterations:  4,
			Parallelism: 2,
			SaltLength:  24,
			KeyLength:   48,
		},
		Policy: Policy{MinLength: 10, MaxLength: 200, RejectVeryWeak: false},
	}
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestFromEnv_InvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		value   string
		errPart string
	}{
		{"min not a number", "PARLEY_PASSWORD_MIN_LEN", "ten", "not an integer"},
		{"min out of range", "PARLEY_PASSWORD_MIN_LEN", "0", "out of range"},
		{"max too large", "PARLEY_PASSWORD_MAX_LEN", "9999", "out of range"},
		{"weak flag garbage", "PARLEY_PASSWORD_REJECT_VERY_WEAK", "maybe", "invalid boolean"},
		{"memory below floor", "PARLEY_ARGON2_MEMORY_KIB", "1024", "out of range"},
		{"iterations negative", "PARLEY_ARGON2_ITERATIONS", "-1", "not an unsigned integer"},
		{"parallelism too high", "PARLEY_ARGON2_PARALLELISM", "65", "out of range"},
		{"key length too short", "PARLEY_ARGON2_KEY_LEN", "8", "out of range"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)

			_, err := FromEnv()
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if !strings.Contains(err.Error(), tc.key) || !strings.Contains(err.Error(), tc.errPart) {
				t.Fatalf("error should name %s and say %q, got %v", tc.key, tc.errPart, err)
			}
		})
	}
}

func TestFromEnv_MinAboveMax(t *testing.T) {
	// Default max is 256; only raise the floor past it.
	t.Setenv("PARLEY_PASSWORD_MIN_LEN", "300")

	_, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), "policy invalid") {
		t.Fatalf("want policy error, got %v", err)
	}
}
