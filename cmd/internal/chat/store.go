package chat

import (
	"context"
	"time"
)

// Store is the durable boundary consumed by the realtime core and the HTTP
// API.
//
// Requirements:
//   - Every operation is atomic and return-on-completion; callers never see
//     partial failure beyond the returned error.
//   - Missing records come back as ErrNotFound, uniqueness conflicts as
//     ErrDuplicate, both matchable with errors.Is.
//   - Message deletion is a soft delete: the row keeps its slot in history
//     with content blanked and Deleted set.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u User) error
	UserByID(ctx context.Context, id string) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	SetUserStatus(ctx context.Context, userID string, status UserStatus, at time.Time) error
	UpdateUserPasswordHash(ctx context.Context, userID, passwordHash string) error

	// Conversations. CreateConversation persists the conversation and its
	// initial participant set in one step.
	CreateConversation(ctx context.Context, c Conversation, participants []Participant) error
	ConversationByID(ctx context.Context, id string) (Conversation, error)
	RenameConversation(ctx context.Context, id, name string, at time.Time) (Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ConversationsForUser(ctx context.Context, userID string) ([]Conversation, error)

	// Participants.
	AddParticipant(ctx context.Context, p Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	SetParticipantRole(ctx context.Context, conversationID, userID string, role ParticipantRole) error
	Participants(ctx context.Context, conversationID string) ([]Participant, error)
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	SetLastRead(ctx context.Context, conversationID, userID, messageID string) error
	// ContactIDs returns the union of co-participants across every
	// conversation userID belongs to, excluding userID itself.
	ContactIDs(ctx context.Context, userID string) ([]string, error)

	// Messages.
	CreateMessage(ctx context.Context, m Message) error
	MessageByID(ctx context.Context, id string) (Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, at time.Time) (Message, error)
	DeleteMessage(ctx context.Context, id string, at time.Time) error
	SetMessagePinned(ctx context.Context, id string, pinned bool, pinnedBy string, at time.Time) error
	Messages(ctx context.Context, in MessageWindow) (MessageWindowResult, error)
	// AddReaction is idempotent per (message, user, emoji); RemoveReaction of
	// an absent reaction is a no-op.
	AddReaction(ctx context.Context, r Reaction) error
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
	Reactions(ctx context.Context, messageID string) ([]Reaction, error)
	// ReactionsForMessages batches Reactions over a history page; message ids
	// without reactions are absent from the result.
	ReactionsForMessages(ctx context.Context, messageIDs []string) (map[string][]Reaction, error)

	// Calls.
	CreateCall(ctx context.Context, c Call) error
	CallByID(ctx context.Context, id string) (Call, error)
	UpdateCall(ctx context.Context, c Call) error
	AddCallParticipant(ctx context.Context, p CallParticipant) error
	UpdateCallParticipant(ctx context.Context, p CallParticipant) error
	CallParticipants(ctx context.Context, callID string) ([]CallParticipant, error)
	CallsForConversation(ctx context.Context, conversationID string, limit int) ([]Call, error)

	// Typing.
	SetTyping(ctx context.Context, t TypingState) error

	Close() error
}

// MessageWindow describes a history query. AfterID pages forward from a
// message id exclusive; empty starts at the beginning.
type MessageWindow struct {
	ConversationID string
	AfterID        string
	Limit          int
}

// MessageWindowResult is one history page ordered by id ASC.
type MessageWindowResult struct {
	Messages []Message
	HasMore  bool
}
