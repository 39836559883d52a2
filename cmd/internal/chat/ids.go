package chat

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID returns a UUIDv4 string used for user, conversation, and call ids.
func NewID() string {
	return uuid.NewString()
}

// NewMessageID returns a ULID string (26 chars). ULIDs sort by creation time,
// which keeps history paging a plain lexicographic comparison.
func NewMessageID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
