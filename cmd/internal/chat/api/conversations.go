package chatapi

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/signal/v1"
)

func (h *Handler) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req createConversationRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	kind := chat.ConversationKind(strings.TrimSpace(req.Kind))
	if kind != chat.ConversationDirect && kind != chat.ConversationGroup {
		writeError(w, http.StatusBadRequest, "invalid_request", "kind must be direct or group")
		return
	}

	// The creator always belongs; dedup the rest preserving order.
	ids := []string{actorID}
	seen := map[string]struct{}{actorID: {}}
	for _, id := range req.ParticipantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	name := strings.TrimSpace(req.Name)
	switch kind {
	case chat.ConversationDirect:
		if len(ids) != 2 {
			writeError(w, http.StatusBadRequest, "invalid_request", "direct conversations have exactly two participants")
			return
		}
		if name != "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "direct conversations are unnamed")
			return
		}
	case chat.ConversationGroup:
		if name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "group conversations need a name")
			return
		}
		if utf8.RuneCountInString(name) > h.cfg.MaxNameChars {
			writeError(w, http.StatusBadRequest, "invalid_request", "name too long")
			return
		}
		if len(ids) < 2 {
			writeError(w, http.StatusBadRequest, "invalid_request", "group conversations need at least one other participant")
			return
		}
	}

	ctx := r.Context()
	for _, id := range ids[1:] {
		if _, err := h.store.UserByID(ctx, id); err != nil {
			if chat.IsNotFound(err) {
				writeError(w, http.StatusBadRequest, "invalid_request", "unknown participant: "+id)
				return
			}
			h.log.Error("chat.api.conversation.create.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
	}

	now := time.Now().UTC()
	conv := chat.Conversation{
		ID:        chat.NewID(),
		Kind:      kind,
		Name:      name,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	parts := make([]chat.Participant, 0, len(ids))
	for _, id := range ids {
		// Direct chats have no admin hierarchy; both sides hold equal power.
		role := chat.RoleMember
		if id == actorID || kind == chat.ConversationDirect {
			role = chat.RoleAdmin
		}
		parts = append(parts, chat.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           role,
			JoinedAt:       now,
		})
	}
	if err := h.store.CreateConversation(ctx, conv, parts); err != nil {
		h.log.Error("chat.api.conversation.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("chat.api.conversation.create", "conversation_id", conv.ID, "kind", string(kind), "participants", len(ids))

	info := toConversationInfo(conv, ids)
	writeJSON(w, http.StatusCreated, conversationResponse{
		Conversation: info,
		Participants: toParticipantResponses(parts),
	})
	if h.notify != nil {
		h.notify.ConversationCreated(info)
	}
}

func (h *Handler) handleConversationList(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	convs, err := h.store.ConversationsForUser(r.Context(), actorID)
	if err != nil {
		h.log.Error("chat.api.conversation.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	infos := make([]v1.ConversationInfo, 0, len(convs))
	for _, c := range convs {
		infos = append(infos, toConversationInfo(c, nil))
	}
	writeJSON(w, http.StatusOK, conversationListResponse{Conversations: infos})
}

func (h *Handler) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	conversationID := r.PathValue("conversationID")
	conv, ok := h.requireMember(w, r, conversationID, actorID)
	if !ok {
		return
	}
	parts, err := h.store.Participants(r.Context(), conversationID)
	if err != nil {
		h.log.Error("chat.api.conversation.get.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.UserID)
	}
	writeJSON(w, http.StatusOK, conversationResponse{
		Conversation: toConversationInfo(conv, ids),
		Participants: toParticipantResponses(parts),
	})
}

func (h *Handler) handleConversationRename(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	conversationID := r.PathValue("conversationID")
	conv, ok := h.requireAdmin(w, r, conversationID, actorID)
	if !ok {
		return
	}
	if conv.Kind != chat.ConversationGroup {
		writeError(w, http.StatusBadRequest, "invalid_request", "direct conversations are unnamed")
		return
	}

	var req renameConversationRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if utf8.RuneCountInString(name) > h.cfg.MaxNameChars {
		writeError(w, http.StatusBadRequest, "invalid_request", "name too long")
		return
	}

	updated, err := h.store.RenameConversation(r.Context(), conversationID, name, time.Now().UTC())
	if err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		h.log.Error("chat.api.conversation.rename.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	info := toConversationInfo(updated, nil)
	writeJSON(w, http.StatusOK, conversationResponse{Conversation: info})
	if h.notify != nil {
		h.notify.ConversationUpdated(r.Context(), info)
	}
}

func (h *Handler) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	conversationID := r.PathValue("conversationID")
	if _, ok := h.requireAdmin(w, r, conversationID, actorID); !ok {
		return
	}

	ctx := r.Context()
	// Capture recipients before the rows go away.
	recipients, err := h.store.ParticipantIDs(ctx, conversationID)
	if err != nil {
		h.log.Error("chat.api.conversation.delete.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err := h.store.DeleteConversation(ctx, conversationID); err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		h.log.Error("chat.api.conversation.delete.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("chat.api.conversation.delete", "conversation_id", conversationID, "by", actorID)
	w.WriteHeader(http.StatusNoContent)
	if h.notify != nil {
		h.notify.ConversationDeleted(conversationID, recipients)
	}
}

// ---- participants ----

func (h *Handler) handleParticipantAdd(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	conversationID := r.PathValue("conversationID")
	conv, ok := h.requireAdmin(w, r, conversationID, actorID)
	if !ok {
		return
	}
	if conv.Kind != chat.ConversationGroup {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot add participants to a direct conversation")
		return
	}

	var req addParticipantRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "userId is required")
		return
	}
	role, ok := parseRole(req.Role, chat.RoleMember)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "role must be member or admin")
		return
	}

	ctx := r.Context()
	if _, err := h.store.UserByID(ctx, userID); err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown user: "+userID)
			return
		}
		h.log.Error("chat.api.participant.add.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	p := chat.Participant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       time.Now().UTC(),
	}
	if err := h.store.AddParticipant(ctx, p); err != nil {
		if chat.IsDuplicate(err) {
			writeError(w, http.StatusConflict, "conflict", "already a participant")
			return
		}
		h.log.Error("chat.api.participant.add.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("chat.api.participant.add", "conversation_id", conversationID, "user_id", userID, "by", actorID)
	writeJSON(w, http.StatusCreated, toParticipantResponse(p))
	if h.notify != nil {
		h.notify.ParticipantAdded(r.Context(), conversationID, userID, string(role), actorID)
	}
}

// handleParticipantRemove covers both kick (actor removes someone else, admin
// only) and leave (actor removes themselves, always allowed).
func (h *Handler) handleParticipantRemove(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	conversationID := r.PathValue("conversationID")
	targetID := r.PathValue("userID")

	leaving := targetID == actorID
	var conv chat.Conversation
	if leaving {
		conv, ok = h.requireMember(w, r, conversationID, actorID)
	} else {
		conv, ok = h.requireAdmin(w, r, conversationID, actorID)
	}
	if !ok {
		return
	}
	if !leaving && conv.Kind != chat.ConversationGroup {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot kick from a direct conversation")
		return
	}

	if err := h.store.RemoveParticipant(r.Context(), conversationID, targetID); err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "not a participant")
			return
		}
		h.log.Error("chat.api.participant.remove.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
	if h.notify == nil {
		return
	}
	if leaving {
		h.notify.ParticipantLeft(r.Context(), conversationID, targetID)
	} else {
		h.notify.ParticipantKicked(r.Context(), conversationID, targetID, actorID)
	}
}

func (h *Handler) handleParticipantRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	conversationID := r.PathValue("conversationID")
	targetID := r.PathValue("userID")
	conv, ok := h.requireAdmin(w, r, conversationID, actorID)
	if !ok {
		return
	}
	if conv.Kind != chat.ConversationGroup {
		writeError(w, http.StatusBadRequest, "invalid_request", "direct conversations have no roles")
		return
	}

	var req changeRoleRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	role, ok := parseRole(req.Role, "")
	if !ok || role == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "role must be member or admin")
		return
	}

	if err := h.store.SetParticipantRole(r.Context(), conversationID, targetID, role); err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "not a participant")
			return
		}
		h.log.Error("chat.api.participant.role.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
	if h.notify != nil {
		h.notify.ParticipantRoleChanged(r.Context(), conversationID, targetID, string(role))
	}
}

func parseRole(raw string, def chat.ParticipantRole) (chat.ParticipantRole, bool) {
	switch strings.TrimSpace(raw) {
	case "":
		return def, true
	case string(chat.RoleMember):
		return chat.RoleMember, true
	case string(chat.RoleAdmin):
		return chat.RoleAdmin, true
	default:
		return "", false
	}
}
