package chatapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/realtime"
	v1 "parley/shared/contracts/signal/v1"
)

const (
	callListDefaultLimit = 50
	callListMaxLimit     = 200
)

func (h *Handler) handleCallList(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	conversationID := r.PathValue("conversationID")
	if _, ok := h.requireMember(w, r, conversationID, actorID); !ok {
		return
	}

	limit := callListDefaultLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > callListMaxLimit {
			n = callListMaxLimit
		}
		limit = n
	}

	calls, err := h.store.CallsForConversation(r.Context(), conversationID, limit)
	if err != nil {
		h.log.Error("chat.api.call.list.fail", "err", err, "conversation_id", conversationID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	infos := make([]v1.CallInfo, 0, len(calls))
	for _, c := range calls {
		infos = append(infos, realtime.CallInfoOf(c))
	}
	writeJSON(w, http.StatusOK, callListResponse{Calls: infos})
}

func (h *Handler) handleCallGet(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	callID := r.PathValue("callID")
	ctx := r.Context()

	// Live calls answer from the coordinator, with signaling link detail no
	// durable row carries.
	if h.calls != nil {
		if snap, live := h.calls.Snapshot(callID); live {
			allowed, err := h.mayViewCall(ctx, snap.Call, snap.Participants, actorID)
			if err != nil {
				h.log.Error("chat.api.call.get.fail", "err", err, "call_id", callID)
				writeError(w, http.StatusInternalServerError, "server_error", "internal error")
				return
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "forbidden", "not a call participant")
				return
			}
			writeJSON(w, http.StatusOK, callResponse{
				Call:         realtime.CallInfoOf(snap.Call),
				Participants: toCallParticipantInfos(snap.Participants),
				Links:        toPeerLinkResponses(snap.Links),
				Live:         true,
			})
			return
		}
	}

	call, err := h.store.CallByID(ctx, callID)
	if err != nil {
		if chat.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "call not found")
			return
		}
		h.log.Error("chat.api.call.get.fail", "err", err, "call_id", callID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	parts, err := h.store.CallParticipants(ctx, callID)
	if err != nil {
		h.log.Error("chat.api.call.get.fail", "err", err, "call_id", callID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	allowed, err := h.mayViewCall(ctx, call, parts, actorID)
	if err != nil {
		h.log.Error("chat.api.call.get.fail", "err", err, "call_id", callID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden", "not a call participant")
		return
	}

	writeJSON(w, http.StatusOK, callResponse{
		Call:         realtime.CallInfoOf(call),
		Participants: toCallParticipantInfos(parts),
	})
}

// handleCallEnd force-ends a call: the initiator or a conversation admin can
// tear it down regardless of who joined. Already-finished calls answer 204.
func (h *Handler) handleCallEnd(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	callID := r.PathValue("callID")
	ctx := r.Context()

	call, live := h.liveOrStoredCall(ctx, callID)
	if call.ID == "" {
		writeError(w, http.StatusNotFound, "not_found", "call not found")
		return
	}

	allowed, err := h.mayEndCall(ctx, call, actorID)
	if err != nil {
		h.log.Error("chat.api.call.end.fail", "err", err, "call_id", callID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden", "only the initiator or a conversation admin can end the call")
		return
	}

	switch {
	case live:
		h.calls.ForceEnd(ctx, actorID, callID)
	case call.Status.Terminal():
		// Nothing to do.
	default:
		// A non-terminal row with no live state is a leftover from an
		// interrupted run; settle it in place.
		h.repairStaleCall(ctx, call)
	}

	h.log.Info("chat.api.call.end", "call_id", callID, "by", actorID)
	w.WriteHeader(http.StatusNoContent)
}

// liveOrStoredCall prefers coordinator state and falls back to the durable
// row. A zero-ID call means not found.
func (h *Handler) liveOrStoredCall(ctx context.Context, callID string) (chat.Call, bool) {
	if h.calls != nil {
		if snap, live := h.calls.Snapshot(callID); live {
			return snap.Call, true
		}
	}
	call, err := h.store.CallByID(ctx, callID)
	if err != nil {
		return chat.Call{}, false
	}
	return call, false
}

// mayViewCall grants access to call participants, the initiator, and for
// conversation-backed calls every conversation member.
func (h *Handler) mayViewCall(ctx context.Context, call chat.Call, parts []chat.CallParticipant, actorID string) (bool, error) {
	if call.InitiatorID == actorID {
		return true, nil
	}
	for _, p := range parts {
		if p.UserID == actorID {
			return true, nil
		}
	}
	if call.ConversationID != "" {
		return h.store.IsParticipant(ctx, call.ConversationID, actorID)
	}
	return false, nil
}

func (h *Handler) mayEndCall(ctx context.Context, call chat.Call, actorID string) (bool, error) {
	if call.InitiatorID == actorID {
		return true, nil
	}
	if call.ConversationID == "" {
		return false, nil
	}
	role, found, err := h.actorRole(ctx, call.ConversationID, actorID)
	if err != nil {
		return false, err
	}
	return found && role == chat.RoleAdmin, nil
}

func (h *Handler) repairStaleCall(ctx context.Context, call chat.Call) {
	now := time.Now().UTC()
	call.EndedAt = &now
	if call.StartedAt != nil {
		call.Status = chat.CallEnded
		if d := int64(now.Sub(*call.StartedAt) / time.Second); d > 0 {
			call.DurationSeconds = d
		}
	} else {
		call.Status = chat.CallMissed
	}
	if err := h.store.UpdateCall(ctx, call); err != nil {
		h.log.Warn("chat.api.call.repair.fail", "err", err, "call_id", call.ID)
		return
	}
	h.log.Info("chat.api.call.repair", "call_id", call.ID, "status", string(call.Status))
}

func toCallParticipantInfos(ps []chat.CallParticipant) []v1.CallParticipantInfo {
	if len(ps) == 0 {
		return nil
	}
	out := make([]v1.CallParticipantInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, realtime.CallParticipantInfoOf(p))
	}
	return out
}

func toPeerLinkResponses(links []realtime.PeerLink) []peerLinkResponse {
	if len(links) == 0 {
		return nil
	}
	out := make([]peerLinkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, toPeerLinkResponse(l))
	}
	return out
}
