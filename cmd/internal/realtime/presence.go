package realtime

import (
	"context"
	"log/slog"
	"time"

	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/signal/v1"
)

// PresenceStore persists presence state. The durable chat store satisfies it;
// RedisPresence is the drop-in alternative when a Redis address is configured.
type PresenceStore interface {
	SetUserStatus(ctx context.Context, userID string, status chat.UserStatus, at time.Time) error
	SetTyping(ctx context.Context, t chat.TypingState) error
}

// Roster answers membership questions for fan-out target computation.
type Roster interface {
	// ContactIDs is the union of co-participants across every conversation
	// userID belongs to, excluding userID.
	ContactIDs(ctx context.Context, userID string) ([]string, error)
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
}

// Presence derives online/offline/typing broadcasts from bind, unbind, and
// typing events. Everything here is best-effort: a failed persist is logged
// and the broadcast still goes out.
type Presence struct {
	log      *slog.Logger
	store    PresenceStore
	roster   Roster
	registry *Registry
}

// NewPresence constructs the presence tracker.
func NewPresence(log *slog.Logger, store PresenceStore, roster Roster, registry *Registry) *Presence {
	return &Presence{log: log, store: store, roster: roster, registry: registry}
}

// Online marks userID online and tells their contacts.
func (p *Presence) Online(ctx context.Context, userID string) {
	p.setStatus(ctx, userID, chat.StatusOnline)
}

// Offline mirrors Online with status offline; called on connection teardown.
func (p *Presence) Offline(ctx context.Context, userID string) {
	p.setStatus(ctx, userID, chat.StatusOffline)
}

func (p *Presence) setStatus(ctx context.Context, userID string, status chat.UserStatus) {
	now := time.Now().UTC()

	if err := p.store.SetUserStatus(ctx, userID, status, now); err != nil {
		p.log.Warn("presence.persist.fail", "user_id", userID, "status", status, "err", err)
	}

	contacts, err := p.roster.ContactIDs(ctx, userID)
	if err != nil {
		p.log.Warn("presence.contacts.fail", "user_id", userID, "err", err)
		return
	}

	p.registry.Broadcast(contacts, v1.EventUserStatusChanged, v1.UserStatusChangedPayload{
		UserID:     userID,
		Status:     string(status),
		LastSeenAt: now,
	})
}

// Typing persists the typing flag and relays it to the rest of the
// conversation, excluding the sender. No server-side debounce or expiry:
// clearing is the client's job via isTyping=false.
func (p *Presence) Typing(ctx context.Context, userID, conversationID string, isTyping bool) {
	now := time.Now().UTC()

	if err := p.store.SetTyping(ctx, chat.TypingState{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		UpdatedAt:      now,
	}); err != nil {
		p.log.Warn("presence.typing.persist.fail", "conversation_id", conversationID, "user_id", userID, "err", err)
	}

	members, err := p.roster.ParticipantIDs(ctx, conversationID)
	if err != nil {
		p.log.Warn("presence.typing.members.fail", "conversation_id", conversationID, "err", err)
		return
	}

	payload := v1.TypingStatusPayload{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	}
	// Both event names go out; deployed clients listen for either.
	p.registry.BroadcastExcept(members, userID, v1.EventTypingStatus, payload)
	p.registry.BroadcastExcept(members, userID, v1.EventUserTyping, payload)
}
