// Package chat holds Parley's durable domain records and the Store contract
// the realtime core and the HTTP API consume. Two implementations exist: an
// in-memory store for dev and tests, and a PostgreSQL store for production.
package chat

import "time"

// UserStatus is the presence state persisted for a user.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
)

// User is a registered identity.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	AvatarURL    string
	PasswordHash string
	Status       UserStatus
	LastSeenAt   time.Time
	CreatedAt    time.Time
}

// ConversationKind distinguishes 2-party chats from named groups.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Conversation is a messaging context.
type Conversation struct {
	ID        string
	Kind      ConversationKind
	Name      string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParticipantRole gates conversation administration.
type ParticipantRole string

const (
	RoleMember ParticipantRole = "member"
	RoleAdmin  ParticipantRole = "admin"
)

// Participant is one user's membership in a conversation.
type Participant struct {
	ConversationID    string
	UserID            string
	Role              ParticipantRole
	JoinedAt          time.Time
	LastReadMessageID string
}

// ContentType classifies message bodies.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentFile  ContentType = "file"
)

// Message is a persisted chat message. IDs are ULIDs, so lexicographic order
// matches creation order and drives history paging.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	ContentType    ContentType
	ReplyToID      string
	Pinned         bool
	PinnedBy       string
	Edited         bool
	Deleted        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Reaction is one user's emoji reaction to a message. A user may react with
// several distinct emoji; (MessageID, UserID, Emoji) is unique.
type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

// CallType selects the media profile requested at call start.
type CallType string

const (
	CallVoice CallType = "voice"
	CallVideo CallType = "video"
)

// CallStatus is the call state machine's persisted state. Valid orderings are
// initiated -> ringing -> active -> ended, with declined and missed as
// alternate terminals reachable before active.
type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallRinging   CallStatus = "ringing"
	CallActive    CallStatus = "active"
	CallEnded     CallStatus = "ended"
	CallMissed    CallStatus = "missed"
	CallDeclined  CallStatus = "declined"
)

// Terminal reports whether s admits no further transitions.
func (s CallStatus) Terminal() bool {
	return s == CallEnded || s == CallMissed || s == CallDeclined
}

// Call is a voice/video session record. ConversationID is empty for ad hoc
// calls assembled from an explicit participant list.
type Call struct {
	ID              string
	ConversationID  string
	InitiatorID     string
	Type            CallType
	Status          CallStatus
	CreatedAt       time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds int64
}

// CallParticipant tracks one identity's media flags inside a call. LeftAt is
// stamped rather than deleting the row, so call history survives.
type CallParticipant struct {
	CallID        string
	UserID        string
	Muted         bool
	VideoOff      bool
	ScreenSharing bool
	JoinedAt      time.Time
	LeftAt        *time.Time
}

// TypingState is the per-(conversation, user) typing flag. Transient in
// nature; persisted for simplicity and never expired server-side.
type TypingState struct {
	ConversationID string
	UserID         string
	IsTyping       bool
	UpdatedAt      time.Time
}
