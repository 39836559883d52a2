package v1

import "time"

// ---- Client -> server payloads ----

// UserOnlinePayload binds the connection to a user. Token is required only
// when the hub runs with authentication enabled; it must then verify against
// UserID.
type UserOnlinePayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// TypingPayload reports a typing state change. Clearing is client-driven:
// the server relays IsTyping exactly as given and never expires it.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// StartCallPayload opens a call. Either ConversationID (conversation-scoped,
// invitees are the other participants) or ParticipantIDs (ad hoc) selects the
// invitee set.
type StartCallPayload struct {
	ConversationID string   `json:"conversationId,omitempty"`
	CallType       string   `json:"callType"`
	ParticipantIDs []string `json:"participantIds,omitempty"`
}

type AcceptCallPayload struct {
	CallID string `json:"callId"`
}

type DeclineCallPayload struct {
	CallID string `json:"callId"`
}

type EndCallPayload struct {
	CallID string `json:"callId"`
}

// Media toggle payloads carry explicit target states rather than flips, so
// replays and duplicates are harmless.
type ToggleMutePayload struct {
	CallID string `json:"callId"`
	Muted  bool   `json:"muted"`
}

type ToggleVideoPayload struct {
	CallID   string `json:"callId"`
	VideoOff bool   `json:"videoOff"`
}

type ToggleScreenSharePayload struct {
	CallID        string `json:"callId"`
	ScreenSharing bool   `json:"screenSharing"`
}

// Relay payloads (webrtc-offer, webrtc-answer, ice-candidate) are not typed
// here: the hub treats them as opaque objects, reads targetUserId and the
// optional callId, stamps fromUserId, and forwards the rest untouched.

// ---- Server -> client payloads ----

// ICEServer is one STUN/TURN entry handed to peers at connection setup.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// WelcomePayload acknowledges a successful user-online bind.
type WelcomePayload struct {
	UserID     string      `json:"userId"`
	SessionID  string      `json:"sessionId"`
	ICEServers []ICEServer `json:"iceServers"`
}

type UserStatusChangedPayload struct {
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// TypingStatusPayload is shared by typing-status and user-typing.
type TypingStatusPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// UserSummary is the public slice of a user carried inside events.
type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// CallInfo is the wire view of a call record.
type CallInfo struct {
	ID              string     `json:"id"`
	ConversationID  string     `json:"conversationId,omitempty"`
	InitiatorID     string     `json:"initiatorId"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int64      `json:"duration"`
}

// CallParticipantInfo is the wire view of one participant's call state.
type CallParticipantInfo struct {
	UserID        string     `json:"userId"`
	Muted         bool       `json:"muted"`
	VideoOff      bool       `json:"videoOff"`
	ScreenSharing bool       `json:"screenSharing"`
	JoinedAt      time.Time  `json:"joinedAt"`
	LeftAt        *time.Time `json:"leftAt,omitempty"`
}

type IncomingCallPayload struct {
	Call      CallInfo    `json:"call"`
	Initiator UserSummary `json:"initiator"`
}

// CallStartedPayload confirms start-call to the initiator.
type CallStartedPayload struct {
	Call CallInfo `json:"call"`
}

type CallAcceptedPayload struct {
	CallID string   `json:"callId"`
	UserID string   `json:"userId"`
	Call   CallInfo `json:"call"`
}

type CallDeclinedPayload struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

type CallEndedPayload struct {
	CallID          string `json:"callId"`
	EndedBy         string `json:"endedBy"`
	DurationSeconds int64  `json:"duration"`
}

type ParticipantMediaChangedPayload struct {
	CallID        string `json:"callId"`
	UserID        string `json:"userId"`
	Muted         bool   `json:"muted"`
	VideoOff      bool   `json:"videoOff"`
	ScreenSharing bool   `json:"screenSharing"`
}

// ReactionInfo is one user's emoji reaction to a message.
type ReactionInfo struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// MessageInfo is the wire view of a message record.
type MessageInfo struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Content        string         `json:"content"`
	ContentType    string         `json:"contentType"`
	ReplyToID      string         `json:"replyToId,omitempty"`
	Pinned         bool           `json:"pinned"`
	PinnedBy       string         `json:"pinnedBy,omitempty"`
	Edited         bool           `json:"edited"`
	Deleted        bool           `json:"deleted"`
	Reactions      []ReactionInfo `json:"reactions,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

type NewMessagePayload struct {
	Message MessageInfo `json:"message"`
}

type MessageUpdatedPayload struct {
	Message MessageInfo `json:"message"`
}

type MessageDeletedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// MessagePinStatePayload is shared by message-pinned and message-unpinned;
// UserID is the actor.
type MessagePinStatePayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
}

type MessageReactionsUpdatedPayload struct {
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId"`
	Reactions      []ReactionInfo `json:"reactions"`
}

// MessageReadPayload reports the reader's new read cursor.
type MessageReadPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
}

// ConversationInfo is the wire view of a conversation record.
type ConversationInfo struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Name           string    `json:"name,omitempty"`
	CreatedBy      string    `json:"createdBy"`
	ParticipantIDs []string  `json:"participantIds,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type NewConversationPayload struct {
	Conversation ConversationInfo `json:"conversation"`
}

type ConversationUpdatedPayload struct {
	Conversation ConversationInfo `json:"conversation"`
}

type ConversationDeletedPayload struct {
	ConversationID string `json:"conversationId"`
}

type NewParticipantPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Role           string `json:"role"`
	AddedBy        string `json:"addedBy"`
}

type ParticipantKickedPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	KickedBy       string `json:"kickedBy"`
}

type ParticipantRoleChangedPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Role           string `json:"role"`
}

type ParticipantLeftPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}
