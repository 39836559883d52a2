package realtime

import "time"

// frameReadLimit caps one inbound websocket frame. Signaling payloads are
// small; anything larger is a client bug or abuse. Unlike the tunables
// below it cannot be raised through the environment.
const frameReadLimit = 64 << 10

// Defaults for the PARLEY_WS_* tunables read in gateway.go. Origin checks
// start locked down to localhost so a fresh checkout is not open to the
// wider network until someone configures an allowlist.
const (
	defaultSendQueue = 256
	minSendQueue     = 32

	defaultWriteTimeout    = 5 * time.Second
	defaultReadIdleTimeout = 2 * time.Minute

	defaultHeartbeatEvery = 25 * time.Second
	defaultHeartbeatWait  = 5 * time.Second

	defaultRateEvents = 120
	defaultRateWindow = 10 * time.Second

	defaultOriginRequired = true
	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Fixed knobs with no env override.
const (
	maxPingFailures = 3
	closeGrace      = time.Second
)

// offlineTimeout bounds the presence flip to offline during teardown, which
// runs on a background context after the socket is gone.
const offlineTimeout = 5 * time.Second
