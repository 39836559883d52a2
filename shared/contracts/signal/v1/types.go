// Package v1 defines the Parley signaling protocol contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Subprotocol is the WebSocket subprotocol token negotiated during upgrade.
const Subprotocol = "parley.signal.v1"

// EventType names one kind of signaling event. The protocol set is closed;
// the hub ignores unknown types on the wire instead of rejecting them.
type EventType string

// Client -> server events.
const (
	// EventUserOnline binds the connection to an identity. Must be the first
	// event on a fresh connection; everything else is ignored until it lands.
	EventUserOnline EventType = "user-online"
	// EventTyping reports the sender's typing state for one conversation.
	EventTyping EventType = "typing"

	EventStartCall         EventType = "start-call"
	EventAcceptCall        EventType = "accept-call"
	EventDeclineCall       EventType = "decline-call"
	EventEndCall           EventType = "end-call"
	EventToggleMute        EventType = "toggle-mute"
	EventToggleVideo       EventType = "toggle-video"
	EventToggleScreenShare EventType = "toggle-screen-share"
)

// Peer negotiation events, relayed in both directions. The hub never
// interprets SDP or candidate content; it only stamps fromUserId and
// forwards to targetUserId.
const (
	EventWebRTCOffer  EventType = "webrtc-offer"
	EventWebRTCAnswer EventType = "webrtc-answer"
	EventICECandidate EventType = "ice-candidate"
)

// Server -> client events.
const (
	// EventWelcome acknowledges a successful bind and carries the ICE server list.
	EventWelcome EventType = "welcome"

	EventUserStatusChanged EventType = "user-status-changed"
	// EventTypingStatus and EventUserTyping carry the same payload; both names
	// are emitted for every typing change because deployed clients listen for
	// either one.
	EventTypingStatus EventType = "typing-status"
	EventUserTyping   EventType = "user-typing"

	EventIncomingCall            EventType = "incoming-call"
	EventCallStarted             EventType = "call-started"
	EventCallAccepted            EventType = "call-accepted"
	EventCallDeclined            EventType = "call-declined"
	EventCallEnded               EventType = "call-ended"
	EventParticipantMediaChanged EventType = "participant-media-changed"

	EventNewMessage              EventType = "new-message"
	EventMessageUpdated          EventType = "message-updated"
	EventMessageDeleted          EventType = "message-deleted"
	EventMessagePinned           EventType = "message-pinned"
	EventMessageUnpinned         EventType = "message-unpinned"
	EventMessageReactionsUpdated EventType = "message-reactions-updated"
	EventMessageRead             EventType = "message-read"

	EventNewConversation        EventType = "new-conversation"
	EventConversationUpdated    EventType = "conversation-updated"
	EventConversationDeleted    EventType = "conversation-deleted"
	EventNewParticipant         EventType = "new-participant"
	EventParticipantKicked      EventType = "participant-kicked"
	EventParticipantRoleChanged EventType = "participant-role-changed"
	EventParticipantLeft        EventType = "participant-left"
)

// Known reports whether t belongs to the closed protocol set.
func (t EventType) Known() bool {
	switch t {
	case EventUserOnline, EventTyping,
		EventStartCall, EventAcceptCall, EventDeclineCall, EventEndCall,
		EventToggleMute, EventToggleVideo, EventToggleScreenShare,
		EventWebRTCOffer, EventWebRTCAnswer, EventICECandidate,
		EventWelcome, EventUserStatusChanged, EventTypingStatus, EventUserTyping,
		EventIncomingCall, EventCallStarted, EventCallAccepted, EventCallDeclined,
		EventCallEnded, EventParticipantMediaChanged,
		EventNewMessage, EventMessageUpdated, EventMessageDeleted,
		EventMessagePinned, EventMessageUnpinned, EventMessageReactionsUpdated,
		EventMessageRead,
		EventNewConversation, EventConversationUpdated, EventConversationDeleted,
		EventNewParticipant, EventParticipantKicked, EventParticipantRoleChanged,
		EventParticipantLeft:
		return true
	default:
		return false
	}
}

// Envelope is the canonical wire wrapper. Delivery is best-effort and
// at-most-once per live connection; there are no sequence numbers or acks.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation only. Unknown event types pass:
// dropping them is the hub's call, not a protocol error.
func (e Envelope) Validate() error {
	if strings.TrimSpace(string(e.Type)) == "" {
		return errors.New("missing field: type")
	}
	if len(e.Payload) == 0 {
		return errors.New("missing field: payload")
	}
	return nil
}

// NewEnvelope marshals payload and wraps it under the given type.
func NewEnvelope(t EventType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}
