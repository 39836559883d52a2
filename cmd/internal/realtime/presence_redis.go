package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"parley/cmd/internal/chat"
)

// RedisPresence is a PresenceStore backed by Redis, for deployments that keep
// presence churn out of the SQL store. Online identities live in a set,
// last-seen stamps in a hash, typing flags in one hash per conversation.
// It stores presence state only; fan-out stays in-process.
type RedisPresence struct {
	rdb         *redis.Client
	keyOnline   string
	keyLastSeen string
	typingPref  string
}

// NewRedisPresence builds a Redis-backed PresenceStore. Prefix is optional
// (default "parley").
func NewRedisPresence(rdb *redis.Client, prefix string) *RedisPresence {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "parley"
	}
	return &RedisPresence{
		rdb:         rdb,
		keyOnline:   fmt.Sprintf("%s:online", p),
		keyLastSeen: fmt.Sprintf("%s:last_seen", p),
		typingPref:  fmt.Sprintf("%s:typing:", p),
	}
}

// SetUserStatus updates the online set and the last-seen stamp in one
// transactional pipeline.
func (s *RedisPresence) SetUserStatus(ctx context.Context, userID string, status chat.UserStatus, at time.Time) error {
	if userID == "" {
		return fmt.Errorf("set user status: %w", chat.ErrInvalidInput)
	}

	pipe := s.rdb.TxPipeline()
	if status == chat.StatusOnline {
		_ = pipe.SAdd(ctx, s.keyOnline, userID)
	} else {
		_ = pipe.SRem(ctx, s.keyOnline, userID)
	}
	_ = pipe.HSet(ctx, s.keyLastSeen, userID, at.UTC().Format(time.RFC3339Nano))
	_, err := pipe.Exec(ctx)
	return err
}

// SetTyping records or clears the typing flag for (conversation, user).
func (s *RedisPresence) SetTyping(ctx context.Context, t chat.TypingState) error {
	if t.ConversationID == "" || t.UserID == "" {
		return fmt.Errorf("set typing: %w", chat.ErrInvalidInput)
	}

	key := s.typingPref + t.ConversationID
	if !t.IsTyping {
		return s.rdb.HDel(ctx, key, t.UserID).Err()
	}
	return s.rdb.HSet(ctx, key, t.UserID, t.UpdatedAt.UTC().Format(time.RFC3339Nano)).Err()
}
