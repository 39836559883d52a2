package realtime

import (
	"os"
	"strings"

	v1 "parley/shared/contracts/signal/v1"
)

const defaultSTUNURL = "stun:stun.l.google.com:19302"

// ICEServersFromEnv builds the STUN/TURN list advertised to peers in welcome
// events. The hub never dials these itself; they are configuration handed to
// endpoints for their peer connections.
//
// Env vars:
//   - PARLEY_STUN_URLS: comma-separated STUN URLs (default: Google STUN)
//   - PARLEY_TURN_URLS: comma-separated TURN URLs (optional)
//   - PARLEY_TURN_USERNAME / PARLEY_TURN_PASSWORD: TURN credentials
func ICEServersFromEnv() []v1.ICEServer {
	var servers []v1.ICEServer

	stun := splitCSV(os.Getenv("PARLEY_STUN_URLS"))
	if len(stun) == 0 {
		stun = []string{defaultSTUNURL}
	}
	servers = append(servers, v1.ICEServer{URLs: stun})

	if turn := splitCSV(os.Getenv("PARLEY_TURN_URLS")); len(turn) > 0 {
		servers = append(servers, v1.ICEServer{
			URLs:       turn,
			Username:   strings.TrimSpace(os.Getenv("PARLEY_TURN_USERNAME")),
			Credential: strings.TrimSpace(os.Getenv("PARLEY_TURN_PASSWORD")),
		})
	}

	return servers
}

// splitCSV trims each comma-separated element and drops the empties. A blank
// or all-whitespace input yields nil.
func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
