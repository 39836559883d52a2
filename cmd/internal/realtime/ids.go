package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a ULID used as the websocket session id.
// ULIDs sort by time, which keeps session ids traceable in logs.
func NewSessionID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	if err != nil {
		return randomHex(16)
	}
	return id.String()
}

// randomHex backs NewSessionID when the entropy read for the ULID fails.
// An empty return means crypto/rand itself failed; the blank id surfaces in
// logs rather than panicking the accept path.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
