package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func seedUser(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	if err := s.CreateUser(context.Background(), User{ID: id, Username: id, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
}

func seedConversation(t *testing.T, s *MemoryStore, convID string, memberIDs ...string) {
	t.Helper()
	now := time.Now().UTC()
	conv := Conversation{ID: convID, Kind: ConversationGroup, Name: convID, CreatedBy: memberIDs[0], CreatedAt: now, UpdatedAt: now}
	parts := make([]Participant, 0, len(memberIDs))
	for _, id := range memberIDs {
		parts = append(parts, Participant{ConversationID: convID, UserID: id, Role: RoleMember, JoinedAt: now})
	}
	if err := s.CreateConversation(context.Background(), conv, parts); err != nil {
		t.Fatalf("create conversation %s: %v", convID, err)
	}
}

func seedMessage(t *testing.T, s *MemoryStore, id, convID, senderID, content string) {
	t.Helper()
	now := time.Now().UTC()
	m := Message{ID: id, ConversationID: convID, SenderID: senderID, Content: content, ContentType: ContentText, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("create message %s: %v", id, err)
	}
}

func TestMemoryStore_UserUniqueness(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateUser(ctx, User{ID: "u1", Username: "ada"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateUser(ctx, User{ID: "u1", Username: "other"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate id: err=%v want ErrDuplicate", err)
	}
	if err := s.CreateUser(ctx, User{ID: "u2", Username: "ada"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate username: err=%v want ErrDuplicate", err)
	}
	if err := s.CreateUser(ctx, User{ID: "", Username: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank id: err=%v want ErrInvalidInput", err)
	}

	u, err := s.UserByUsername(ctx, "ada")
	if err != nil || u.ID != "u1" {
		t.Fatalf("lookup by username: %+v, %v", u, err)
	}
	if _, err := s.UserByID(ctx, "ghost"); !IsNotFound(err) {
		t.Fatalf("missing user: err=%v want ErrNotFound", err)
	}
}

func TestMemoryStore_UserStatusAndPassword(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1")

	at := time.Now().UTC()
	if err := s.SetUserStatus(ctx, "u1", StatusOnline, at); err != nil {
		t.Fatalf("set status: %v", err)
	}
	u, _ := s.UserByID(ctx, "u1")
	if u.Status != StatusOnline || !u.LastSeenAt.Equal(at) {
		t.Fatalf("status not persisted: %+v", u)
	}
	if err := s.SetUserStatus(ctx, "ghost", StatusOnline, at); !IsNotFound(err) {
		t.Fatalf("missing user: err=%v want ErrNotFound", err)
	}

	if err := s.UpdateUserPasswordHash(ctx, "u1", "new-hash"); err != nil {
		t.Fatalf("update hash: %v", err)
	}
	u, _ = s.UserByID(ctx, "u1")
	if u.PasswordHash != "new-hash" {
		t.Fatalf("hash not persisted")
	}
	if err := s.UpdateUserPasswordHash(ctx, "u1", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank hash: err=%v want ErrInvalidInput", err)
	}
}

func TestMemoryStore_ConversationLifecycle(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "u1", "u2")

	if _, err := s.ConversationByID(ctx, "c1"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := s.CreateConversation(ctx, Conversation{ID: "c1", Kind: ConversationDirect}, nil); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate: err=%v want ErrDuplicate", err)
	}

	renamed, err := s.RenameConversation(ctx, "c1", "war room", time.Now().UTC())
	if err != nil || renamed.Name != "war room" {
		t.Fatalf("rename: %+v, %v", renamed, err)
	}

	ids, err := s.ParticipantIDs(ctx, "c1")
	if err != nil {
		t.Fatalf("participant ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
		t.Fatalf("participant ids %v want sorted [u1 u2]", ids)
	}

	ok, err := s.IsParticipant(ctx, "c1", "u2")
	if err != nil || !ok {
		t.Fatalf("is participant: %v %v", ok, err)
	}
	ok, err = s.IsParticipant(ctx, "c1", "outsider")
	if err != nil || ok {
		t.Fatalf("outsider reported as participant")
	}
	// Missing conversation answers false, not an error.
	ok, err = s.IsParticipant(ctx, "ghost", "u1")
	if err != nil || ok {
		t.Fatalf("missing conversation: ok=%v err=%v", ok, err)
	}
}

func TestMemoryStore_ParticipantManagement(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "u1", "u2")

	if err := s.AddParticipant(ctx, Participant{ConversationID: "c1", UserID: "u3", Role: RoleMember, JoinedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddParticipant(ctx, Participant{ConversationID: "c1", UserID: "u3"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("re-add: err=%v want ErrDuplicate", err)
	}
	if err := s.AddParticipant(ctx, Participant{ConversationID: "ghost", UserID: "u9"}); !IsNotFound(err) {
		t.Fatalf("missing conversation: err=%v want ErrNotFound", err)
	}

	if err := s.SetParticipantRole(ctx, "c1", "u3", RoleAdmin); err != nil {
		t.Fatalf("set role: %v", err)
	}
	parts, err := s.Participants(ctx, "c1")
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	var u3 Participant
	for _, p := range parts {
		if p.UserID == "u3" {
			u3 = p
		}
	}
	if u3.Role != RoleAdmin {
		t.Fatalf("role not persisted: %+v", u3)
	}

	if err := s.SetLastRead(ctx, "c1", "u2", "m-42"); err != nil {
		t.Fatalf("set last read: %v", err)
	}
	parts, _ = s.Participants(ctx, "c1")
	for _, p := range parts {
		if p.UserID == "u2" && p.LastReadMessageID != "m-42" {
			t.Fatalf("last read not persisted: %+v", p)
		}
	}

	if err := s.RemoveParticipant(ctx, "c1", "u3"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveParticipant(ctx, "c1", "u3"); !IsNotFound(err) {
		t.Fatalf("re-remove: err=%v want ErrNotFound", err)
	}
}

func TestMemoryStore_ContactIDsUnion(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "u1", "u2")
	seedConversation(t, s, "c2", "u1", "u3")
	seedConversation(t, s, "c3", "u2", "u3") // u1 not a member

	got, err := s.ContactIDs(ctx, "u1")
	if err != nil {
		t.Fatalf("contact ids: %v", err)
	}
	if len(got) != 2 || got[0] != "u2" || got[1] != "u3" {
		t.Fatalf("contacts %v want sorted [u2 u3]", got)
	}

	// No memberships means no contacts, not an error.
	got, err = s.ContactIDs(ctx, "hermit")
	if err != nil || len(got) != 0 {
		t.Fatalf("hermit contacts %v, %v", got, err)
	}
}

func TestMemoryStore_ConversationsForUserSorted(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"c-b", "c-a", "c-c"} {
		conv := Conversation{ID: id, Kind: ConversationGroup, CreatedBy: "u1", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.CreateConversation(ctx, conv, []Participant{{UserID: "u1"}}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	convs, err := s.ConversationsForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 3 {
		t.Fatalf("got %d conversations, want 3", len(convs))
	}
	// Ordered by creation time, not id.
	if convs[0].ID != "c-b" || convs[1].ID != "c-a" || convs[2].ID != "c-c" {
		t.Fatalf("order %s %s %s", convs[0].ID, convs[1].ID, convs[2].ID)
	}
}

func TestMemoryStore_MessageWindowPaging(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "u1", "u2")

	for i := 1; i <= 7; i++ {
		seedMessage(t, s, fmt.Sprintf("m-%02d", i), "c1", "u1", fmt.Sprintf("msg %d", i))
	}

	// First page.
	page, err := s.Messages(ctx, MessageWindow{ConversationID: "c1", Limit: 3})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page.Messages) != 3 || !page.HasMore {
		t.Fatalf("page 1: %d messages hasMore=%v", len(page.Messages), page.HasMore)
	}
	if page.Messages[0].ID != "m-01" || page.Messages[2].ID != "m-03" {
		t.Fatalf("page 1 ids %s..%s", page.Messages[0].ID, page.Messages[2].ID)
	}

	// Middle page, AfterID exclusive.
	page, err = s.Messages(ctx, MessageWindow{ConversationID: "c1", AfterID: "m-03", Limit: 3})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page.Messages) != 3 || !page.HasMore {
		t.Fatalf("page 2: %d messages hasMore=%v", len(page.Messages), page.HasMore)
	}
	if page.Messages[0].ID != "m-04" {
		t.Fatalf("page 2 starts at %s", page.Messages[0].ID)
	}

	// Final page.
	page, err = s.Messages(ctx, MessageWindow{ConversationID: "c1", AfterID: "m-06", Limit: 3})
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page.Messages) != 1 || page.HasMore {
		t.Fatalf("page 3: %d messages hasMore=%v", len(page.Messages), page.HasMore)
	}

	// Past the end.
	page, err = s.Messages(ctx, MessageWindow{ConversationID: "c1", AfterID: "m-99", Limit: 3})
	if err != nil || len(page.Messages) != 0 || page.HasMore {
		t.Fatalf("past end: %+v, %v", page, err)
	}

	// Exactly consumed window must not claim more.
	page, err = s.Messages(ctx, MessageWindow{ConversationID: "c1", Limit: 7})
	if err != nil || len(page.Messages) != 7 || page.HasMore {
		t.Fatalf("exact window: %d hasMore=%v err=%v", len(page.Messages), page.HasMore, err)
	}

	if _, err := s.Messages(ctx, MessageWindow{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank conversation: err=%v want ErrInvalidInput", err)
	}
}

func TestMemoryStore_MessageEditAndSoftDelete(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "u1", "u2")
	seedMessage(t, s, "m-01", "c1", "u1", "first draft")

	edited, err := s.UpdateMessageContent(ctx, "m-01", "final", time.Now().UTC())
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Content != "final" || !edited.Edited {
		t.Fatalf("edit not applied: %+v", edited)
	}

	if err := s.SetMessagePinned(ctx, "m-01", true, "u2", time.Now().UTC()); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if err := s.AddReaction(ctx, Reaction{MessageID: "m-01", UserID: "u2", Emoji: "🔥"}); err != nil {
		t.Fatalf("react: %v", err)
	}

	// Soft delete: the row keeps its slot, but content, pin, and reactions go.
	if err := s.DeleteMessage(ctx, "m-01", time.Now().UTC()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	m, err := s.MessageByID(ctx, "m-01")
	if err != nil {
		t.Fatalf("deleted row vanished: %v", err)
	}
	if !m.Deleted || m.Content != "" || m.Pinned || m.PinnedBy != "" {
		t.Fatalf("soft delete incomplete: %+v", m)
	}
	rs, _ := s.Reactions(ctx, "m-01")
	if len(rs) != 0 {
		t.Fatalf("reactions survived delete: %v", rs)
	}

	page, err := s.Messages(ctx, MessageWindow{ConversationID: "c1"})
	if err != nil || len(page.Messages) != 1 {
		t.Fatalf("deleted message lost its history slot: %+v, %v", page, err)
	}

	// Deleted rows reject further edits and pins.
	if _, err := s.UpdateMessageContent(ctx, "m-01", "zombie", time.Now().UTC()); !IsNotFound(err) {
		t.Fatalf("edit after delete: err=%v want ErrNotFound", err)
	}
	if err := s.SetMessagePinned(ctx, "m-01", true, "u1", time.Now().UTC()); !IsNotFound(err) {
		t.Fatalf("pin after delete: err=%v want ErrNotFound", err)
	}
	if err := s.AddReaction(ctx, Reaction{MessageID: "m-01", UserID: "u1", Emoji: "👀"}); !IsNotFound(err) {
		t.Fatalf("react after delete: err=%v want ErrNotFound", err)
	}
}

func TestMemoryStore_ReactionsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "u1", "u2")
	seedMessage(t, s, "m-01", "c1", "u1", "hello")

	r := Reaction{MessageID: "m-01", UserID: "u2", Emoji: "👍", CreatedAt: time.Now().UTC()}
	if err := s.AddReaction(ctx, r); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddReaction(ctx, r); err != nil {
		t.Fatalf("repeat add must be a no-op: %v", err)
	}
	// Same user, different emoji is a distinct reaction.
	if err := s.AddReaction(ctx, Reaction{MessageID: "m-01", UserID: "u2", Emoji: "🎉"}); err != nil {
		t.Fatalf("second emoji: %v", err)
	}

	rs, err := s.Reactions(ctx, "m-01")
	if err != nil || len(rs) != 2 {
		t.Fatalf("reactions %v, %v", rs, err)
	}

	if err := s.RemoveReaction(ctx, "m-01", "u2", "👍"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveReaction(ctx, "m-01", "u2", "👍"); err != nil {
		t.Fatalf("re-remove must be a no-op: %v", err)
	}
	rs, _ = s.Reactions(ctx, "m-01")
	if len(rs) != 1 || rs[0].Emoji != "🎉" {
		t.Fatalf("after remove: %v", rs)
	}

	byMsg, err := s.ReactionsForMessages(ctx, []string{"m-01", "m-none"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(byMsg) != 1 || len(byMsg["m-01"]) != 1 {
		t.Fatalf("batch result %v", byMsg)
	}
	if _, ok := byMsg["m-none"]; ok {
		t.Fatalf("empty message present in batch result")
	}
}

func TestMemoryStore_DeleteConversationCascades(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "u1", "u2")
	seedMessage(t, s, "m-01", "c1", "u1", "hello")
	if err := s.AddReaction(ctx, Reaction{MessageID: "m-01", UserID: "u2", Emoji: "👍"}); err != nil {
		t.Fatalf("react: %v", err)
	}
	if err := s.SetTyping(ctx, TypingState{ConversationID: "c1", UserID: "u1", IsTyping: true, UpdatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("typing: %v", err)
	}
	call := Call{ID: "call-1", ConversationID: "c1", InitiatorID: "u1", Type: CallVoice, Status: CallEnded, CreatedAt: time.Now().UTC()}
	if err := s.CreateCall(ctx, call); err != nil {
		t.Fatalf("call: %v", err)
	}

	if err := s.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteConversation(ctx, "c1"); !IsNotFound(err) {
		t.Fatalf("re-delete: err=%v want ErrNotFound", err)
	}

	if _, err := s.MessageByID(ctx, "m-01"); !IsNotFound(err) {
		t.Fatalf("message survived cascade: %v", err)
	}
	if _, err := s.ConversationByID(ctx, "c1"); !IsNotFound(err) {
		t.Fatalf("conversation survived delete: %v", err)
	}

	// Call history outlives the conversation.
	if _, err := s.CallByID(ctx, "call-1"); err != nil {
		t.Fatalf("call history lost: %v", err)
	}
}

func TestMemoryStore_CallRecords(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		c := Call{
			ID:             fmt.Sprintf("call-%d", i),
			ConversationID: "c1",
			InitiatorID:    "u1",
			Type:           CallVideo,
			Status:         CallEnded,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateCall(ctx, c); err != nil {
			t.Fatalf("create call %d: %v", i, err)
		}
	}
	if err := s.CreateCall(ctx, Call{ID: "call-0", InitiatorID: "u1"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate call: err=%v want ErrDuplicate", err)
	}

	// Newest first, limited.
	calls, err := s.CallsForConversation(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("calls: %v", err)
	}
	if len(calls) != 2 || calls[0].ID != "call-2" || calls[1].ID != "call-1" {
		t.Fatalf("call order %+v", calls)
	}

	if err := s.AddCallParticipant(ctx, CallParticipant{CallID: "call-0", UserID: "u1", JoinedAt: base}); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if err := s.AddCallParticipant(ctx, CallParticipant{CallID: "call-0", UserID: "u1"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate participant: err=%v want ErrDuplicate", err)
	}

	left := base.Add(time.Minute)
	if err := s.UpdateCallParticipant(ctx, CallParticipant{CallID: "call-0", UserID: "u1", Muted: true, JoinedAt: base, LeftAt: &left}); err != nil {
		t.Fatalf("update participant: %v", err)
	}
	parts, err := s.CallParticipants(ctx, "call-0")
	if err != nil || len(parts) != 1 {
		t.Fatalf("participants %v, %v", parts, err)
	}
	if !parts[0].Muted || parts[0].LeftAt == nil {
		t.Fatalf("update not persisted: %+v", parts[0])
	}

	if err := s.UpdateCallParticipant(ctx, CallParticipant{CallID: "call-0", UserID: "ghost"}); !IsNotFound(err) {
		t.Fatalf("missing participant: err=%v want ErrNotFound", err)
	}
}
