package chatapi

import (
	"os"
	"strconv"
	"strings"
)

const (
	defaultMaxBodyBytes    = 1 << 20 // 1 MiB
	defaultMaxMessageChars = 4096
	defaultMaxNameChars    = 128
	defaultMaxEmojiChars   = 32
)

// Config controls chat API behavior.
type Config struct {
	// RequireAuth rejects requests without a valid bearer token. Off by
	// default so local setups can identify via the X-User-ID header, same
	// switch philosophy as the websocket gateway.
	RequireAuth bool

	MaxBodyBytes    int64
	MaxMessageChars int
	MaxNameChars    int
	MaxEmojiChars   int
}

// LoadConfigFromEnv loads chat API config from environment variables. The
// readers fall back to the defaults on unset or unusable values, and
// NewHandler normalizes whatever it receives, so a loaded Config is always
// serviceable.
func LoadConfigFromEnv() Config {
	return Config{
		RequireAuth:     envBool("PARLEY_API_REQUIRE_AUTH", false),
		MaxBodyBytes:    envInt64("PARLEY_API_MAX_BODY_BYTES", defaultMaxBodyBytes),
		MaxMessageChars: envInt("PARLEY_API_MAX_MESSAGE_CHARS", defaultMaxMessageChars),
		MaxNameChars:    envInt("PARLEY_API_MAX_NAME_CHARS", defaultMaxNameChars),
		MaxEmojiChars:   envInt("PARLEY_API_MAX_EMOJI_CHARS", defaultMaxEmojiChars),
	}
}

func envRaw(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func envBool(key string, def bool) bool {
	if v, ok := envRaw(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := envRaw(key); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v, ok := envRaw(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}
