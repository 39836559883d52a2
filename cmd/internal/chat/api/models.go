package chatapi

import (
	"time"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/realtime"
	v1 "parley/shared/contracts/signal/v1"
)

// ---- requests ----

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createConversationRequest struct {
	Kind           string   `json:"kind"`
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participantIds"`
}

type renameConversationRequest struct {
	Name string `json:"name"`
}

type addParticipantRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type sendMessageRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	ReplyToID   string `json:"replyToId"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

type forwardMessageRequest struct {
	ConversationID string `json:"conversationId"`
}

type readRequest struct {
	MessageID string `json:"messageId"`
}

// ---- responses ----

// userResponse is the public view of a user; the password hash never leaves
// the store boundary.
type userResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	Status      string    `json:"status"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

type authResponse struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token,omitempty"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type participantResponse struct {
	UserID            string    `json:"userId"`
	Role              string    `json:"role"`
	JoinedAt          time.Time `json:"joinedAt"`
	LastReadMessageID string    `json:"lastReadMessageId,omitempty"`
}

type conversationResponse struct {
	Conversation v1.ConversationInfo   `json:"conversation"`
	Participants []participantResponse `json:"participants,omitempty"`
}

type conversationListResponse struct {
	Conversations []v1.ConversationInfo `json:"conversations"`
}

type messageResponse struct {
	Message v1.MessageInfo `json:"message"`
}

type historyResponse struct {
	Messages []v1.MessageInfo `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

type reactionsResponse struct {
	MessageID string            `json:"messageId"`
	Reactions []v1.ReactionInfo `json:"reactions"`
}

type peerLinkResponse struct {
	From              string     `json:"from"`
	To                string     `json:"to"`
	OfferAt           *time.Time `json:"offerAt,omitempty"`
	AnswerAt          *time.Time `json:"answerAt,omitempty"`
	CandidatesRelayed int        `json:"candidatesRelayed"`
}

type callResponse struct {
	Call         v1.CallInfo              `json:"call"`
	Participants []v1.CallParticipantInfo `json:"participants,omitempty"`
	Links        []peerLinkResponse       `json:"links,omitempty"`
	Live         bool                     `json:"live"`
}

type callListResponse struct {
	Calls []v1.CallInfo `json:"calls"`
}

// ---- converters ----

func toUserResponse(u chat.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Status:      string(u.Status),
		LastSeenAt:  u.LastSeenAt,
		CreatedAt:   u.CreatedAt,
	}
}

func toConversationInfo(c chat.Conversation, participantIDs []string) v1.ConversationInfo {
	return v1.ConversationInfo{
		ID:             c.ID,
		Kind:           string(c.Kind),
		Name:           c.Name,
		CreatedBy:      c.CreatedBy,
		ParticipantIDs: participantIDs,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func toParticipantResponse(p chat.Participant) participantResponse {
	return participantResponse{
		UserID:            p.UserID,
		Role:              string(p.Role),
		JoinedAt:          p.JoinedAt,
		LastReadMessageID: p.LastReadMessageID,
	}
}

func toParticipantResponses(ps []chat.Participant) []participantResponse {
	if len(ps) == 0 {
		return nil
	}
	out := make([]participantResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toParticipantResponse(p))
	}
	return out
}

func toReactionInfos(rs []chat.Reaction) []v1.ReactionInfo {
	if len(rs) == 0 {
		return nil
	}
	out := make([]v1.ReactionInfo, 0, len(rs))
	for _, r := range rs {
		out = append(out, v1.ReactionInfo{UserID: r.UserID, Emoji: r.Emoji})
	}
	return out
}

func toMessageInfo(m chat.Message, reactions []chat.Reaction) v1.MessageInfo {
	return v1.MessageInfo{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		ContentType:    string(m.ContentType),
		ReplyToID:      m.ReplyToID,
		Pinned:         m.Pinned,
		PinnedBy:       m.PinnedBy,
		Edited:         m.Edited,
		Deleted:        m.Deleted,
		Reactions:      toReactionInfos(reactions),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toPeerLinkResponse(l realtime.PeerLink) peerLinkResponse {
	out := peerLinkResponse{From: l.From, To: l.To, CandidatesRelayed: l.CandidatesRelayed}
	if !l.OfferAt.IsZero() {
		t := l.OfferAt
		out.OfferAt = &t
	}
	if !l.AnswerAt.IsZero() {
		t := l.AnswerAt
		out.AnswerAt = &t
	}
	return out
}
