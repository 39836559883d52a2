package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	defaultWindowLimit = 50
	maxWindowLimit     = 200
)

// MemoryStore is the in-memory Store used when no database is configured and
// as the substitutable fake in tests. All state lives behind one mutex.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]User
	usernames map[string]string // username -> user id
	convs     map[string]Conversation
	parts     map[string]map[string]Participant // conversation id -> user id
	msgs      map[string]Message
	convMsgs  map[string][]string // conversation id -> message ids, id ASC
	reactions map[string]map[reactionKey]Reaction
	calls     map[string]Call
	callParts map[string]map[string]CallParticipant // call id -> user id
	typing    map[typingKey]TypingState
}

type reactionKey struct {
	UserID string
	Emoji  string
}

type typingKey struct {
	ConversationID string
	UserID         string
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]User),
		usernames: make(map[string]string),
		convs:     make(map[string]Conversation),
		parts:     make(map[string]map[string]Participant),
		msgs:      make(map[string]Message),
		convMsgs:  make(map[string][]string),
		reactions: make(map[string]map[reactionKey]Reaction),
		calls:     make(map[string]Call),
		callParts: make(map[string]map[string]CallParticipant),
		typing:    make(map[typingKey]TypingState),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// ---- Users ----

func (s *MemoryStore) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" || u.Username == "" {
		return fmt.Errorf("create user: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("create user id: %w", ErrDuplicate)
	}
	if _, ok := s.usernames[u.Username]; ok {
		return fmt.Errorf("create user username: %w", ErrDuplicate)
	}
	s.users[u.ID] = u
	s.usernames[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) UserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (s *MemoryStore) UserByUsername(ctx context.Context, username string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return s.users[id], nil
}

func (s *MemoryStore) SetUserStatus(ctx context.Context, userID string, status UserStatus, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.Status = status
	u.LastSeenAt = at
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) UpdateUserPasswordHash(ctx context.Context, userID, passwordHash string) error {
	if passwordHash == "" {
		return fmt.Errorf("update password hash: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.PasswordHash = passwordHash
	s.users[userID] = u
	return nil
}

// ---- Conversations ----

func (s *MemoryStore) CreateConversation(ctx context.Context, c Conversation, participants []Participant) error {
	if c.ID == "" || c.Kind == "" {
		return fmt.Errorf("create conversation: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[c.ID]; ok {
		return fmt.Errorf("conversation %s: %w", c.ID, ErrDuplicate)
	}
	s.convs[c.ID] = c
	members := make(map[string]Participant, len(participants))
	for _, p := range participants {
		p.ConversationID = c.ID
		members[p.UserID] = p
	}
	s.parts[c.ID] = members
	return nil
}

func (s *MemoryStore) ConversationByID(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) RenameConversation(ctx context.Context, id, name string, at time.Time) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	c.Name = name
	c.UpdatedAt = at
	s.convs[id] = c
	return c, nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	delete(s.convs, id)
	delete(s.parts, id)
	for _, msgID := range s.convMsgs[id] {
		delete(s.msgs, msgID)
		delete(s.reactions, msgID)
	}
	delete(s.convMsgs, id)
	for k := range s.typing {
		if k.ConversationID == id {
			delete(s.typing, k)
		}
	}
	// Call records survive conversation deletion for history.
	return nil
}

func (s *MemoryStore) ConversationsForUser(ctx context.Context, userID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Conversation
	for convID, members := range s.parts {
		if _, ok := members[userID]; ok {
			out = append(out, s.convs[convID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- Participants ----

func (s *MemoryStore) AddParticipant(ctx context.Context, p Participant) error {
	if p.ConversationID == "" || p.UserID == "" {
		return fmt.Errorf("add participant: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.parts[p.ConversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", p.ConversationID, ErrNotFound)
	}
	if _, ok := members[p.UserID]; ok {
		return fmt.Errorf("participant %s: %w", p.UserID, ErrDuplicate)
	}
	members[p.UserID] = p
	return nil
}

func (s *MemoryStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.parts[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if _, ok := members[userID]; !ok {
		return fmt.Errorf("participant %s: %w", userID, ErrNotFound)
	}
	delete(members, userID)
	delete(s.typing, typingKey{ConversationID: conversationID, UserID: userID})
	return nil
}

func (s *MemoryStore) SetParticipantRole(ctx context.Context, conversationID, userID string, role ParticipantRole) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.parts[conversationID]
	p, ok := members[userID]
	if !ok {
		return fmt.Errorf("participant %s: %w", userID, ErrNotFound)
	}
	p.Role = role
	members[userID] = p
	return nil
}

func (s *MemoryStore) Participants(ctx context.Context, conversationID string) ([]Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.parts[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	out := make([]Participant, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *MemoryStore) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.parts[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.parts[conversationID]
	if !ok {
		return false, nil
	}
	_, ok = members[userID]
	return ok, nil
}

func (s *MemoryStore) SetLastRead(ctx context.Context, conversationID, userID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.parts[conversationID]
	p, ok := members[userID]
	if !ok {
		return fmt.Errorf("participant %s: %w", userID, ErrNotFound)
	}
	p.LastReadMessageID = messageID
	members[userID] = p
	return nil
}

func (s *MemoryStore) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	for _, members := range s.parts {
		if _, ok := members[userID]; !ok {
			continue
		}
		for id := range members {
			if id != userID {
				set[id] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ---- Messages ----

func (s *MemoryStore) CreateMessage(ctx context.Context, m Message) error {
	if m.ID == "" || m.ConversationID == "" || m.SenderID == "" {
		return fmt.Errorf("create message: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[m.ConversationID]; !ok {
		return fmt.Errorf("conversation %s: %w", m.ConversationID, ErrNotFound)
	}
	if _, ok := s.msgs[m.ID]; ok {
		return fmt.Errorf("message %s: %w", m.ID, ErrDuplicate)
	}
	s.msgs[m.ID] = m
	s.convMsgs[m.ConversationID] = append(s.convMsgs[m.ConversationID], m.ID)
	return nil
}

func (s *MemoryStore) MessageByID(ctx context.Context, id string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.msgs[id]
	if !ok {
		return Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return m, nil
}

func (s *MemoryStore) UpdateMessageContent(ctx context.Context, id, content string, at time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if !ok || m.Deleted {
		return Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	m.Content = content
	m.Edited = true
	m.UpdatedAt = at
	s.msgs[id] = m
	return m, nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	m.Deleted = true
	m.Content = ""
	m.Pinned = false
	m.PinnedBy = ""
	m.UpdatedAt = at
	s.msgs[id] = m
	delete(s.reactions, id)
	return nil
}

func (s *MemoryStore) SetMessagePinned(ctx context.Context, id string, pinned bool, pinnedBy string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if !ok || m.Deleted {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	m.Pinned = pinned
	if pinned {
		m.PinnedBy = pinnedBy
	} else {
		m.PinnedBy = ""
	}
	m.UpdatedAt = at
	s.msgs[id] = m
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, in MessageWindow) (MessageWindowResult, error) {
	if in.ConversationID == "" {
		return MessageWindowResult{}, fmt.Errorf("messages: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return MessageWindowResult{}, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultWindowLimit
	}
	if limit > maxWindowLimit {
		limit = maxWindowLimit
	}
	fetch := limit + 1

	s.mu.RLock()
	ids := append([]string(nil), s.convMsgs[in.ConversationID]...)
	snap := make([]Message, 0, len(ids))
	for _, id := range ids {
		snap = append(snap, s.msgs[id])
	}
	s.mu.RUnlock()

	// The window math below assumes ascending ids. Ids minted in the same
	// millisecond carry random entropy, so insertion order may not agree.
	sort.Slice(snap, func(i, j int) bool { return snap[i].ID < snap[j].ID })

	start := 0
	if in.AfterID != "" {
		start = sort.Search(len(snap), func(i int) bool { return snap[i].ID > in.AfterID })
	}
	if start >= len(snap) {
		return MessageWindowResult{}, nil
	}

	end := start + fetch
	if end > len(snap) {
		end = len(snap)
	}
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return MessageWindowResult{Messages: out, HasMore: hasMore}, nil
}

func (s *MemoryStore) AddReaction(ctx context.Context, r Reaction) error {
	if r.MessageID == "" || r.UserID == "" || r.Emoji == "" {
		return fmt.Errorf("add reaction: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[r.MessageID]
	if !ok || m.Deleted {
		return fmt.Errorf("message %s: %w", r.MessageID, ErrNotFound)
	}
	set := s.reactions[r.MessageID]
	if set == nil {
		set = make(map[reactionKey]Reaction)
		s.reactions[r.MessageID] = set
	}
	key := reactionKey{UserID: r.UserID, Emoji: r.Emoji}
	if _, ok := set[key]; ok {
		return nil
	}
	set[key] = r
	return nil
}

func (s *MemoryStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.msgs[messageID]; !ok {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	delete(s.reactions[messageID], reactionKey{UserID: userID, Emoji: emoji})
	return nil
}

func (s *MemoryStore) Reactions(ctx context.Context, messageID string) ([]Reaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.reactionsLocked(messageID), nil
}

func (s *MemoryStore) ReactionsForMessages(ctx context.Context, messageIDs []string) (map[string][]Reaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]Reaction)
	for _, id := range messageIDs {
		if rs := s.reactionsLocked(id); len(rs) > 0 {
			out[id] = rs
		}
	}
	return out, nil
}

func (s *MemoryStore) reactionsLocked(messageID string) []Reaction {
	set := s.reactions[messageID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Reaction, 0, len(set))
	for _, r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out
}

// ---- Calls ----

func (s *MemoryStore) CreateCall(ctx context.Context, c Call) error {
	if c.ID == "" || c.InitiatorID == "" {
		return fmt.Errorf("create call: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[c.ID]; ok {
		return fmt.Errorf("call %s: %w", c.ID, ErrDuplicate)
	}
	s.calls[c.ID] = c
	s.callParts[c.ID] = make(map[string]CallParticipant)
	return nil
}

func (s *MemoryStore) CallByID(ctx context.Context, id string) (Call, error) {
	if err := ctx.Err(); err != nil {
		return Call{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.calls[id]
	if !ok {
		return Call{}, fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) UpdateCall(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[c.ID]; !ok {
		return fmt.Errorf("call %s: %w", c.ID, ErrNotFound)
	}
	s.calls[c.ID] = c
	return nil
}

func (s *MemoryStore) AddCallParticipant(ctx context.Context, p CallParticipant) error {
	if p.CallID == "" || p.UserID == "" {
		return fmt.Errorf("add call participant: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.callParts[p.CallID]
	if !ok {
		return fmt.Errorf("call %s: %w", p.CallID, ErrNotFound)
	}
	if _, ok := members[p.UserID]; ok {
		return fmt.Errorf("call participant %s: %w", p.UserID, ErrDuplicate)
	}
	members[p.UserID] = p
	return nil
}

func (s *MemoryStore) UpdateCallParticipant(ctx context.Context, p CallParticipant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.callParts[p.CallID]
	if _, ok := members[p.UserID]; !ok {
		return fmt.Errorf("call participant %s: %w", p.UserID, ErrNotFound)
	}
	members[p.UserID] = p
	return nil
}

func (s *MemoryStore) CallParticipants(ctx context.Context, callID string) ([]CallParticipant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.callParts[callID]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	out := make([]CallParticipant, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *MemoryStore) CallsForConversation(ctx context.Context, conversationID string, limit int) ([]Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultWindowLimit
	}
	if limit > maxWindowLimit {
		limit = maxWindowLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Call
	for _, c := range s.calls {
		if c.ConversationID == conversationID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- Typing ----

func (s *MemoryStore) SetTyping(ctx context.Context, t TypingState) error {
	if t.ConversationID == "" || t.UserID == "" {
		return fmt.Errorf("set typing: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.typing[typingKey{ConversationID: t.ConversationID, UserID: t.UserID}] = t
	return nil
}
