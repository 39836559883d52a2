package chatapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/signal/v1"
)

const (
	historyDefaultLimit = 50
	historyMaxLimit     = 200
)

func (h *Handler) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	conversationID := r.PathValue("conversationID")
	if _, ok := h.requireMember(w, r, conversationID, actorID); !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	if utf8.RuneCountInString(content) > h.cfg.MaxMessageChars {
		writeError(w, http.StatusBadRequest, "invalid_request", "content too long")
		return
	}
	contentType, ok := parseContentType(req.ContentType)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "contentType must be text, image or file")
		return
	}

	ctx := r.Context()
	replyToID := strings.TrimSpace(req.ReplyToID)
	if replyToID != "" {
		parent, err := h.store.MessageByID(ctx, replyToID)
		if err != nil || parent.ConversationID != conversationID {
			writeError(w, http.StatusBadRequest, "invalid_request", "replyToId does not reference a message in this conversation")
			return
		}
	}

	now := time.Now().UTC()
	id, err := chat.NewMessageID(now)
	if err != nil {
		h.log.Error("chat.api.message.id.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	m := chat.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       actorID,
		Content:        content,
		ContentType:    contentType,
		ReplyToID:      replyToID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.store.CreateMessage(ctx, m); err != nil {
		h.log.Error("chat.api.message.send.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	info := toMessageInfo(m, nil)
	writeJSON(w, http.StatusCreated, messageResponse{Message: info})
	if h.notify != nil {
		h.notify.MessageCreated(r.Context(), info)
	}
}

func (h *Handler) handleMessageHistory(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	conversationID := r.PathValue("conversationID")
	if _, ok := h.requireMember(w, r, conversationID, actorID); !ok {
		return
	}

	limit := historyDefaultLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > historyMaxLimit {
			n = historyMaxLimit
		}
		limit = n
	}

	ctx := r.Context()
	page, err := h.store.Messages(ctx, chat.MessageWindow{
		ConversationID: conversationID,
		AfterID:        strings.TrimSpace(r.URL.Query().Get("after")),
		Limit:          limit,
	})
	if err != nil {
		h.log.Error("chat.api.message.history.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// One batched read for the whole page instead of a lookup per message.
	ids := make([]string, 0, len(page.Messages))
	for _, m := range page.Messages {
		ids = append(ids, m.ID)
	}
	reactions, err := h.store.ReactionsForMessages(ctx, ids)
	if err != nil {
		h.log.Error("chat.api.message.history.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	infos := make([]v1.MessageInfo, 0, len(page.Messages))
	for _, m := range page.Messages {
		infos = append(infos, toMessageInfo(m, reactions[m.ID]))
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: infos, HasMore: page.HasMore})
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	conversationID := r.PathValue("conversationID")
	if _, ok := h.requireMember(w, r, conversationID, actorID); !ok {
		return
	}

	var req readRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	messageID := strings.TrimSpace(req.MessageID)
	if messageID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "messageId is required")
		return
	}

	ctx := r.Context()
	msg, err := h.store.MessageByID(ctx, messageID)
	if err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "message not found")
			return
		}
		h.log.Error("chat.api.read.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if msg.ConversationID != conversationID {
		writeError(w, http.StatusBadRequest, "invalid_request", "message belongs to another conversation")
		return
	}

	if err := h.store.SetLastRead(ctx, conversationID, actorID, messageID); err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "not a participant")
			return
		}
		h.log.Error("chat.api.read.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
	if h.notify != nil {
		h.notify.MessageRead(r.Context(), conversationID, messageID, actorID)
	}
}

// loadMessageForActor fetches the message and verifies the actor belongs to
// its conversation. Shared by the mutation endpoints keyed on message id.
func (h *Handler) loadMessageForActor(w http.ResponseWriter, r *http.Request, actorID string) (chat.Message, bool) {
	messageID := r.PathValue("messageID")
	msg, err := h.store.MessageByID(r.Context(), messageID)
	if err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "message not found")
			return chat.Message{}, false
		}
		h.log.Error("chat.api.message.load.fail", "err", err, "message_id", messageID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return chat.Message{}, false
	}
	if _, ok := h.requireMember(w, r, msg.ConversationID, actorID); !ok {
		return chat.Message{}, false
	}
	return msg, true
}

func (h *Handler) handleMessageEdit(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	msg, ok := h.loadMessageForActor(w, r, actorID)
	if !ok {
		return
	}
	if msg.SenderID != actorID {
		writeError(w, http.StatusForbidden, "forbidden", "only the sender can edit a message")
		return
	}
	if msg.Deleted {
		writeError(w, http.StatusConflict, "conflict", "message was deleted")
		return
	}

	var req editMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	if utf8.RuneCountInString(content) > h.cfg.MaxMessageChars {
		writeError(w, http.StatusBadRequest, "invalid_request", "content too long")
		return
	}

	ctx := r.Context()
	updated, err := h.store.UpdateMessageContent(ctx, msg.ID, content, time.Now().UTC())
	if err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "message not found")
			return
		}
		h.log.Error("chat.api.message.edit.fail", "err", err, "message_id", msg.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	reactions, err := h.store.Reactions(ctx, updated.ID)
	if err != nil {
		reactions = nil
	}
	info := toMessageInfo(updated, reactions)
	writeJSON(w, http.StatusOK, messageResponse{Message: info})
	if h.notify != nil {
		h.notify.MessageUpdated(r.Context(), info)
	}
}

func (h *Handler) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	msg, ok := h.loadMessageForActor(w, r, actorID)
	if !ok {
		return
	}
	if msg.SenderID != actorID {
		role, found, err := h.actorRole(r.Context(), msg.ConversationID, actorID)
		if err != nil {
			h.log.Error("chat.api.message.delete.fail", "err", err, "message_id", msg.ID)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		if !found || role != chat.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "only the sender or an admin can delete a message")
			return
		}
	}

	if err := h.store.DeleteMessage(r.Context(), msg.ID, time.Now().UTC()); err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "message not found")
			return
		}
		h.log.Error("chat.api.message.delete.fail", "err", err, "message_id", msg.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
	if h.notify != nil {
		h.notify.MessageDeleted(r.Context(), msg.ConversationID, msg.ID)
	}
}

func (h *Handler) handleMessagePin(w http.ResponseWriter, r *http.Request) {
	h.setPinned(w, r, true)
}

func (h *Handler) handleMessageUnpin(w http.ResponseWriter, r *http.Request) {
	h.setPinned(w, r, false)
}

func (h *Handler) setPinned(w http.ResponseWriter, r *http.Request, pinned bool) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	msg, ok := h.loadMessageForActor(w, r, actorID)
	if !ok {
		return
	}
	if msg.Deleted {
		writeError(w, http.StatusConflict, "conflict", "message was deleted")
		return
	}

	pinnedBy := ""
	if pinned {
		pinnedBy = actorID
	}
	if err := h.store.SetMessagePinned(r.Context(), msg.ID, pinned, pinnedBy, time.Now().UTC()); err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "message not found")
			return
		}
		h.log.Error("chat.api.message.pin.fail", "err", err, "message_id", msg.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
	if h.notify == nil {
		return
	}
	if pinned {
		h.notify.MessagePinned(r.Context(), msg.ConversationID, msg.ID, actorID)
	} else {
		h.notify.MessageUnpinned(r.Context(), msg.ConversationID, msg.ID, actorID)
	}
}

func (h *Handler) handleReactionAdd(w http.ResponseWriter, r *http.Request) {
	h.mutateReaction(w, r, true)
}

func (h *Handler) handleReactionRemove(w http.ResponseWriter, r *http.Request) {
	h.mutateReaction(w, r, false)
}

// mutateReaction adds or removes one (user, emoji) pair and answers with the
// message's full reaction set so clients replace rather than merge.
func (h *Handler) mutateReaction(w http.ResponseWriter, r *http.Request, add bool) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	msg, ok := h.loadMessageForActor(w, r, actorID)
	if !ok {
		return
	}
	if msg.Deleted {
		writeError(w, http.StatusConflict, "conflict", "message was deleted")
		return
	}

	var req reactionRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "emoji is required")
		return
	}
	if utf8.RuneCountInString(emoji) > h.cfg.MaxEmojiChars {
		writeError(w, http.StatusBadRequest, "invalid_request", "emoji too long")
		return
	}

	ctx := r.Context()
	var err error
	if add {
		err = h.store.AddReaction(ctx, chat.Reaction{
			MessageID: msg.ID,
			UserID:    actorID,
			Emoji:     emoji,
			CreatedAt: time.Now().UTC(),
		})
	} else {
		err = h.store.RemoveReaction(ctx, msg.ID, actorID, emoji)
	}
	if err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "message not found")
			return
		}
		h.log.Error("chat.api.reaction.fail", "err", err, "message_id", msg.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	all, err := h.store.Reactions(ctx, msg.ID)
	if err != nil {
		h.log.Error("chat.api.reaction.fail", "err", err, "message_id", msg.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	infos := toReactionInfos(all)
	writeJSON(w, http.StatusOK, reactionsResponse{MessageID: msg.ID, Reactions: infos})
	if h.notify != nil {
		h.notify.ReactionsUpdated(r.Context(), msg.ConversationID, msg.ID, infos)
	}
}

func (h *Handler) handleMessageForward(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	msg, ok := h.loadMessageForActor(w, r, actorID)
	if !ok {
		return
	}
	if msg.Deleted {
		writeError(w, http.StatusConflict, "conflict", "message was deleted")
		return
	}

	var req forwardMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	targetID := strings.TrimSpace(req.ConversationID)
	if targetID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "conversationId is required")
		return
	}
	if _, ok := h.requireMember(w, r, targetID, actorID); !ok {
		return
	}

	// A forward is a fresh message in the target conversation: same body, no
	// reply thread, no pin, no reactions.
	now := time.Now().UTC()
	id, err := chat.NewMessageID(now)
	if err != nil {
		h.log.Error("chat.api.message.id.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	fwd := chat.Message{
		ID:             id,
		ConversationID: targetID,
		SenderID:       actorID,
		Content:        msg.Content,
		ContentType:    msg.ContentType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.store.CreateMessage(r.Context(), fwd); err != nil {
		h.log.Error("chat.api.message.forward.fail", "err", err, "message_id", msg.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	info := toMessageInfo(fwd, nil)
	writeJSON(w, http.StatusCreated, messageResponse{Message: info})
	if h.notify != nil {
		h.notify.MessageCreated(r.Context(), info)
	}
}

func parseContentType(raw string) (chat.ContentType, bool) {
	switch strings.TrimSpace(raw) {
	case "":
		return chat.ContentText, true
	case string(chat.ContentText):
		return chat.ContentText, true
	case string(chat.ContentImage):
		return chat.ContentImage, true
	case string(chat.ContentFile):
		return chat.ContentFile, true
	default:
		return "", false
	}
}
