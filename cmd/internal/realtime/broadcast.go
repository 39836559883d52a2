package realtime

import (
	"context"
	"log/slog"

	v1 "parley/shared/contracts/signal/v1"
)

// Notifier pushes chat mutations to the connected participants of a
// conversation. Callers invoke it after the durable write succeeded; from
// there delivery is fire-and-forget, failures only log, and offline
// participants catch up over HTTP.
type Notifier struct {
	log      *slog.Logger
	registry *Registry
	roster   Roster
}

// NewNotifier constructs a notifier over the given registry and roster.
func NewNotifier(log *slog.Logger, registry *Registry, roster Roster) *Notifier {
	return &Notifier{log: log, registry: registry, roster: roster}
}

// ConversationCreated announces a new conversation to its initial members.
// The payload already names them, so no roster read happens here.
func (n *Notifier) ConversationCreated(conv v1.ConversationInfo) {
	n.registry.Broadcast(conv.ParticipantIDs, v1.EventNewConversation, v1.NewConversationPayload{Conversation: conv})
}

// ConversationUpdated announces a rename or metadata change.
func (n *Notifier) ConversationUpdated(ctx context.Context, conv v1.ConversationInfo) {
	recipients := conv.ParticipantIDs
	if len(recipients) == 0 {
		recipients = n.members(ctx, conv.ID, v1.EventConversationUpdated)
	}
	n.registry.Broadcast(recipients, v1.EventConversationUpdated, v1.ConversationUpdatedPayload{Conversation: conv})
}

// ConversationDeleted announces a deletion. The caller captures the member
// list before the delete; afterwards the roster has nothing left to say.
func (n *Notifier) ConversationDeleted(conversationID string, recipients []string) {
	n.registry.Broadcast(recipients, v1.EventConversationDeleted, v1.ConversationDeletedPayload{ConversationID: conversationID})
}

// ParticipantAdded announces a new member to everyone now in the
// conversation, the newcomer included.
func (n *Notifier) ParticipantAdded(ctx context.Context, conversationID, userID, role, addedBy string) {
	recipients := n.members(ctx, conversationID, v1.EventNewParticipant)
	recipients = appendUnique(recipients, userID)
	n.registry.Broadcast(recipients, v1.EventNewParticipant, v1.NewParticipantPayload{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		AddedBy:        addedBy,
	})
}

// ParticipantKicked announces a removal to the remaining members and to the
// removed user, who needs to learn they are out.
func (n *Notifier) ParticipantKicked(ctx context.Context, conversationID, userID, kickedBy string) {
	recipients := n.members(ctx, conversationID, v1.EventParticipantKicked)
	recipients = appendUnique(recipients, userID)
	n.registry.Broadcast(recipients, v1.EventParticipantKicked, v1.ParticipantKickedPayload{
		ConversationID: conversationID,
		UserID:         userID,
		KickedBy:       kickedBy,
	})
}

// ParticipantRoleChanged announces a role grant or revocation.
func (n *Notifier) ParticipantRoleChanged(ctx context.Context, conversationID, userID, role string) {
	recipients := n.members(ctx, conversationID, v1.EventParticipantRoleChanged)
	n.registry.Broadcast(recipients, v1.EventParticipantRoleChanged, v1.ParticipantRoleChangedPayload{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
	})
}

// ParticipantLeft announces a voluntary exit to the remaining members and
// echoes it to the leaver.
func (n *Notifier) ParticipantLeft(ctx context.Context, conversationID, userID string) {
	recipients := n.members(ctx, conversationID, v1.EventParticipantLeft)
	recipients = appendUnique(recipients, userID)
	n.registry.Broadcast(recipients, v1.EventParticipantLeft, v1.ParticipantLeftPayload{
		ConversationID: conversationID,
		UserID:         userID,
	})
}

// MessageCreated fans a stored message out to the conversation, the sender
// included so multi-device sessions converge.
func (n *Notifier) MessageCreated(ctx context.Context, msg v1.MessageInfo) {
	recipients := n.members(ctx, msg.ConversationID, v1.EventNewMessage)
	n.registry.Broadcast(recipients, v1.EventNewMessage, v1.NewMessagePayload{Message: msg})
}

// MessageUpdated fans out an edit with the full updated record.
func (n *Notifier) MessageUpdated(ctx context.Context, msg v1.MessageInfo) {
	recipients := n.members(ctx, msg.ConversationID, v1.EventMessageUpdated)
	n.registry.Broadcast(recipients, v1.EventMessageUpdated, v1.MessageUpdatedPayload{Message: msg})
}

// MessageDeleted fans out a soft delete by id alone.
func (n *Notifier) MessageDeleted(ctx context.Context, conversationID, messageID string) {
	recipients := n.members(ctx, conversationID, v1.EventMessageDeleted)
	n.registry.Broadcast(recipients, v1.EventMessageDeleted, v1.MessageDeletedPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
}

// MessagePinned fans out a pin with the acting user.
func (n *Notifier) MessagePinned(ctx context.Context, conversationID, messageID, actorID string) {
	recipients := n.members(ctx, conversationID, v1.EventMessagePinned)
	n.registry.Broadcast(recipients, v1.EventMessagePinned, v1.MessagePinStatePayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         actorID,
	})
}

// MessageUnpinned fans out an unpin with the acting user.
func (n *Notifier) MessageUnpinned(ctx context.Context, conversationID, messageID, actorID string) {
	recipients := n.members(ctx, conversationID, v1.EventMessageUnpinned)
	n.registry.Broadcast(recipients, v1.EventMessageUnpinned, v1.MessagePinStatePayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         actorID,
	})
}

// ReactionsUpdated fans out the complete reaction set after an add or
// remove, so receivers replace rather than merge.
func (n *Notifier) ReactionsUpdated(ctx context.Context, conversationID, messageID string, reactions []v1.ReactionInfo) {
	recipients := n.members(ctx, conversationID, v1.EventMessageReactionsUpdated)
	n.registry.Broadcast(recipients, v1.EventMessageReactionsUpdated, v1.MessageReactionsUpdatedPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		Reactions:      reactions,
	})
}

// MessageRead fans a read-cursor advance out to everyone except the reader,
// whose own client already knows.
func (n *Notifier) MessageRead(ctx context.Context, conversationID, messageID, readerID string) {
	recipients := n.members(ctx, conversationID, v1.EventMessageRead)
	n.registry.BroadcastExcept(recipients, readerID, v1.EventMessageRead, v1.MessageReadPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         readerID,
	})
}

func (n *Notifier) members(ctx context.Context, conversationID string, event v1.EventType) []string {
	ids, err := n.roster.ParticipantIDs(ctx, conversationID)
	if err != nil {
		n.log.Error("notify.roster.fail", "conversation_id", conversationID, "event", event, "err", err)
		return nil
	}
	return ids
}

func appendUnique(ids []string, id string) []string {
	if id == "" {
		return ids
	}
	for _, have := range ids {
		if have == id {
			return ids
		}
	}
	return append(ids, id)
}
