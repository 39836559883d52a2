package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/realtime"
	"parley/cmd/security/password"
	"parley/cmd/security/token"
	v1 "parley/shared/contracts/signal/v1"
)

const testPassword = "Very-Strong-Password-1!"

type chatTestEnv struct {
	ts       *httptest.Server
	store    *chat.MemoryStore
	registry *realtime.Registry
	coord    *realtime.Coordinator
}

func testChatConfig() Config {
	return Config{
		MaxBodyBytes:    1 << 20,
		MaxMessageChars: 4096,
		MaxNameChars:    128,
		MaxEmojiChars:   32,
	}
}

// fastPasswords trades hashing cost for test speed; the policy stays real.
func fastPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 16 * 1024
	cfg.Params.Iterations = 1
	return cfg
}

func newChatTestServer(t *testing.T, cfg Config, tokens *token.Provider) *chatTestEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := chat.NewMemoryStore()
	registry := realtime.NewRegistry(log, nil)
	coord := realtime.NewCoordinator(log, registry, store, store, store, nil)
	notify := realtime.NewNotifier(log, registry, store)

	opts := []HandlerOption{WithNotifier(notify), WithCalls(coord)}
	if tokens != nil {
		opts = append(opts, WithTokens(tokens))
	}
	h, err := NewHandler(log, cfg, store, fastPasswords(), opts...)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return &chatTestEnv{ts: httptest.NewServer(mux), store: store, registry: registry, coord: coord}
}

func doJSON(t *testing.T, client *http.Client, method, url string, payload any, headers map[string]string) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("json.Marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("http.NewRequest: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("client.Do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("io.ReadAll: %v", err)
	}
	return resp.StatusCode, b
}

func asUser(id string) map[string]string {
	return map[string]string{"X-User-ID": id}
}

func errCode(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error response: %v (body=%s)", err, string(body))
	}
	return e.Error.Code
}

func registerChatUser(t *testing.T, client *http.Client, baseURL, username string) userResponse {
	t.Helper()
	status, body := doJSON(t, client, http.MethodPost, baseURL+"/api/register", registerRequest{
		Username: username,
		Password: testPassword,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("register %s: status=%d body=%s", username, status, string(body))
	}
	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.User
}

func createGroup(t *testing.T, client *http.Client, baseURL, actorID, name string, memberIDs ...string) conversationResponse {
	t.Helper()
	status, body := doJSON(t, client, http.MethodPost, baseURL+"/api/conversations", createConversationRequest{
		Kind:           "group",
		Name:           name,
		ParticipantIDs: memberIDs,
	}, asUser(actorID))
	if status != http.StatusCreated {
		t.Fatalf("create group %s: status=%d body=%s", name, status, string(body))
	}
	var resp conversationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode conversation response: %v", err)
	}
	return resp
}

func sendChatMessage(t *testing.T, client *http.Client, baseURL, actorID, conversationID, content string) v1.MessageInfo {
	t.Helper()
	status, body := doJSON(t, client, http.MethodPost, baseURL+"/api/conversations/"+conversationID+"/messages",
		sendMessageRequest{Content: content}, asUser(actorID))
	if status != http.StatusCreated {
		t.Fatalf("send message: status=%d body=%s", status, string(body))
	}
	var resp messageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode message response: %v", err)
	}
	return resp.Message
}

func TestChatAPI_RegisterLoginAndMe(t *testing.T) {
	env := newChatTestServer(t, testChatConfig(), nil)
	defer env.ts.Close()
	client := env.ts.Client()

	status, body := doJSON(t, client, http.MethodPost, env.ts.URL+"/api/register", registerRequest{
		Username: "  Ada.Lovelace ",
		Password: testPassword,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", status, string(body))
	}
	var created authResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	if created.User.Username != "ada.lovelace" {
		t.Fatalf("username not normalized: %q", created.User.Username)
	}
	if created.User.DisplayName != "ada.lovelace" {
		t.Fatalf("displayName should default to the username, got %q", created.User.DisplayName)
	}
	if created.Token != "" {
		t.Fatalf("no token provider configured, got token %q", created.Token)
	}

	// Any casing of a taken name conflicts after normalization.
	status, body = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/register", registerRequest{
		Username: "ADA.LOVELACE",
		Password: testPassword,
	}, nil)
	if status != http.StatusConflict {
		t.Fatalf("duplicate register: status=%d body=%s", status, string(body))
	}
	if code := errCode(t, body); code != "conflict" {
		t.Fatalf("duplicate register code=%q", code)
	}

	status, body = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/register", registerRequest{
		Username: "ab",
		Password: testPassword,
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("short username: status=%d body=%s", status, string(body))
	}

	status, body = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/register", registerRequest{
		Username: "grace",
		Password: "password",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("weak password: status=%d body=%s", status, string(body))
	}
	if code := errCode(t, body); code != "weak_password" {
		t.Fatalf("weak password code=%q", code)
	}

	// Unknown user and wrong password answer identically.
	statusA, bodyA := doJSON(t, client, http.MethodPost, env.ts.URL+"/api/login", loginRequest{
		Username: "nobody.here",
		Password: testPassword,
	}, nil)
	statusB, bodyB := doJSON(t, client, http.MethodPost, env.ts.URL+"/api/login", loginRequest{
		Username: "ada.lovelace",
		Password: "Wrong-Password-1!",
	}, nil)
	if statusA != http.StatusUnauthorized || statusB != http.StatusUnauthorized {
		t.Fatalf("login failures: status=%d/%d", statusA, statusB)
	}
	if errCode(t, bodyA) != "invalid_credentials" || errCode(t, bodyB) != "invalid_credentials" {
		t.Fatalf("expected uniform invalid_credentials errors")
	}

	status, body = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/login", loginRequest{
		Username: "Ada.Lovelace",
		Password: testPassword,
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("login status=%d body=%s", status, string(body))
	}
	var loggedIn authResponse
	if err := json.Unmarshal(body, &loggedIn); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if loggedIn.User.ID != created.User.ID {
		t.Fatalf("login returned a different user: %q vs %q", loggedIn.User.ID, created.User.ID)
	}

	status, body = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/me", nil, asUser(created.User.ID))
	if status != http.StatusOK {
		t.Fatalf("me status=%d body=%s", status, string(body))
	}
	var me meResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.User.Username != "ada.lovelace" {
		t.Fatalf("me user=%q", me.User.Username)
	}

	status, _ = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/me", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("me without identity: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/me", nil, asUser("ghost"))
	if status != http.StatusUnauthorized {
		t.Fatalf("me with unknown user: status=%d", status)
	}
}

func TestChatAPI_BearerTokenAuth(t *testing.T) {
	prov, err := token.NewProvider([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	if err != nil {
		t.Fatalf("token.NewProvider: %v", err)
	}
	cfg := testChatConfig()
	cfg.RequireAuth = true
	env := newChatTestServer(t, cfg, prov)
	defer env.ts.Close()
	client := env.ts.Client()

	status, body := doJSON(t, client, http.MethodPost, env.ts.URL+"/api/register", registerRequest{
		Username: "grace",
		Password: testPassword,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", status, string(body))
	}
	var created authResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	if created.Token == "" || created.ExpiresAt == nil {
		t.Fatalf("expected a minted token on register, got %+v", created)
	}

	status, body = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/me", nil, map[string]string{
		"Authorization": "Bearer " + created.Token,
	})
	if status != http.StatusOK {
		t.Fatalf("me with bearer: status=%d body=%s", status, string(body))
	}
	var me meResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.User.ID != created.User.ID {
		t.Fatalf("bearer resolved wrong user: %q", me.User.ID)
	}

	// RequireAuth closes the dev header fallback.
	status, _ = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/me", nil, asUser(created.User.ID))
	if status != http.StatusUnauthorized {
		t.Fatalf("X-User-ID accepted despite RequireAuth: status=%d", status)
	}

	status, _ = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("garbage bearer accepted: status=%d", status)
	}
}

func TestChatAPI_ConversationCreateValidation(t *testing.T) {
	env := newChatTestServer(t, testChatConfig(), nil)
	defer env.ts.Close()
	client := env.ts.Client()

	ada := registerChatUser(t, client, env.ts.URL, "ada")
	grace := registerChatUser(t, client, env.ts.URL, "grace")

	bad := []struct {
		name string
		req  createConversationRequest
	}{
		{"unknown kind", createConversationRequest{Kind: "broadcast", ParticipantIDs: []string{grace.ID}}},
		{"direct needs a peer", createConversationRequest{Kind: "direct"}},
		{"direct is unnamed", createConversationRequest{Kind: "direct", Name: "x", ParticipantIDs: []string{grace.ID}}},
		{"group needs a name", createConversationRequest{Kind: "group", ParticipantIDs: []string{grace.ID}}},
		{"group needs members", createConversationRequest{Kind: "group", Name: "ops"}},
		{"unknown participant", createConversationRequest{Kind: "group", Name: "ops", ParticipantIDs: []string{"ghost"}}},
	}
	for _, tc := range bad {
		status, body := doJSON(t, client, http.MethodPost, env.ts.URL+"/api/conversations", tc.req, asUser(ada.ID))
		if status != http.StatusBadRequest {
			t.Fatalf("%s: status=%d body=%s", tc.name, status, string(body))
		}
		if code := errCode(t, body); code != "invalid_request" {
			t.Fatalf("%s: code=%q", tc.name, code)
		}
	}

	roleOf := func(resp conversationResponse, userID string) string {
		for _, p := range resp.Participants {
			if p.UserID == userID {
				return p.Role
			}
		}
		return ""
	}

	// Duplicate and self references collapse; a direct chat has no hierarchy.
	status, body := doJSON(t, client, http.MethodPost, env.ts.URL+"/api/conversations", createConversationRequest{
		Kind:           "direct",
		ParticipantIDs: []string{grace.ID, grace.ID, ada.ID},
	}, asUser(ada.ID))
	if status != http.StatusCreated {
		t.Fatalf("direct create: status=%d body=%s", status, string(body))
	}
	var direct conversationResponse
	if err := json.Unmarshal(body, &direct); err != nil {
		t.Fatalf("decode direct: %v", err)
	}
	if direct.Conversation.Kind != "direct" || len(direct.Conversation.ParticipantIDs) != 2 {
		t.Fatalf("direct conversation: %+v", direct.Conversation)
	}
	if roleOf(direct, ada.ID) != "admin" || roleOf(direct, grace.ID) != "admin" {
		t.Fatalf("direct roles: %+v", direct.Participants)
	}

	group := createGroup(t, client, env.ts.URL, ada.ID, "ops", grace.ID)
	if group.Conversation.Name != "ops" || group.Conversation.CreatedBy != ada.ID {
		t.Fatalf("group conversation: %+v", group.Conversation)
	}
	if roleOf(group, ada.ID) != "admin" || roleOf(group, grace.ID) != "member" {
		t.Fatalf("group roles: %+v", group.Participants)
	}

	// Direct conversations reject membership and naming changes outright.
	directID := direct.Conversation.ID
	status, _ = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/conversations/"+directID+"/participants",
		addParticipantRequest{UserID: grace.ID}, asUser(ada.ID))
	if status != http.StatusBadRequest {
		t.Fatalf("add to direct: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodPatch, env.ts.URL+"/api/conversations/"+directID,
		renameConversationRequest{Name: "pair"}, asUser(ada.ID))
	if status != http.StatusBadRequest {
		t.Fatalf("rename direct: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodDelete, env.ts.URL+"/api/conversations/"+directID+"/participants/"+grace.ID,
		nil, asUser(ada.ID))
	if status != http.StatusBadRequest {
		t.Fatalf("kick from direct: status=%d", status)
	}
}

func TestChatAPI_ConversationAdminAndMembership(t *testing.T) {
	env := newChatTestServer(t, testChatConfig(), nil)
	defer env.ts.Close()
	client := env.ts.Client()

	ada := registerChatUser(t, client, env.ts.URL, "ada")
	grace := registerChatUser(t, client, env.ts.URL, "grace")
	mallory := registerChatUser(t, client, env.ts.URL, "mallory")

	group := createGroup(t, client, env.ts.URL, ada.ID, "ops", grace.ID)
	convID := group.Conversation.ID

	// Listing follows membership.
	status, body := doJSON(t, client, http.MethodGet, env.ts.URL+"/api/conversations", nil, asUser(grace.ID))
	if status != http.StatusOK {
		t.Fatalf("list as grace: status=%d", status)
	}
	var listed conversationListResponse
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Conversations) != 1 || listed.Conversations[0].ID != convID {
		t.Fatalf("grace sees %+v", listed.Conversations)
	}
	status, body = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/conversations", nil, asUser(mallory.ID))
	if status != http.StatusOK {
		t.Fatalf("list as mallory: status=%d", status)
	}
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Conversations) != 0 {
		t.Fatalf("mallory sees %+v", listed.Conversations)
	}

	status, _ = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/conversations/"+convID, nil, asUser(mallory.ID))
	if status != http.StatusForbidden {
		t.Fatalf("outsider get: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/conversations/nope", nil, asUser(ada.ID))
	if status != http.StatusNotFound {
		t.Fatalf("unknown conversation: status=%d", status)
	}

	// Rename is admin-gated.
	status, _ = doJSON(t, client, http.MethodPatch, env.ts.URL+"/api/conversations/"+convID,
		renameConversationRequest{Name: "war room"}, asUser(grace.ID))
	if status != http.StatusForbidden {
		t.Fatalf("member rename: status=%d", status)
	}
	status, body = doJSON(t, client, http.MethodPatch, env.ts.URL+"/api/conversations/"+convID,
		renameConversationRequest{Name: "war room"}, asUser(ada.ID))
	if status != http.StatusOK {
		t.Fatalf("admin rename: status=%d body=%s", status, string(body))
	}
	var renamed conversationResponse
	if err := json.Unmarshal(body, &renamed); err != nil {
		t.Fatalf("decode rename: %v", err)
	}
	if renamed.Conversation.Name != "war room" {
		t.Fatalf("rename not applied: %+v", renamed.Conversation)
	}
	status, _ = doJSON(t, client, http.MethodPatch, env.ts.URL+"/api/conversations/"+convID,
		renameConversationRequest{Name: "   "}, asUser(ada.ID))
	if status != http.StatusBadRequest {
		t.Fatalf("blank rename: status=%d", status)
	}

	// Adding members is admin-gated and validated.
	status, _ = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/conversations/"+convID+"/participants",
		addParticipantRequest{UserID: mallory.ID}, asUser(grace.ID))
	if status != http.StatusForbidden {
		t.Fatalf("member adds member: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/conversations/"+convID+"/participants",
		addParticipantRequest{UserID: "ghost"}, asUser(ada.ID))
	if status != http.StatusBadRequest {
		t.Fatalf("add unknown user: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/conversations/"+convID+"/participants",
		addParticipantRequest{UserID: mallory.ID, Role: "owner"}, asUser(ada.ID))
	if status != http.StatusBadRequest {
		t.Fatalf("bogus role: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/conversations/"+convID+"/participants",
		addParticipantRequest{UserID: mallory.ID}, asUser(ada.ID))
	if status != http.StatusCreated {
		t.Fatalf("add mallory: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/conversations/"+convID+"/participants",
		addParticipantRequest{UserID: mallory.ID}, asUser(ada.ID))
	if status != http.StatusConflict {
		t.Fatalf("re-add mallory: status=%d", status)
	}

	// Promotion unlocks admin actions for grace.
	status, _ = doJSON(t, client, http.MethodPatch, env.ts.URL+"/api/conversations/"+convID+"/participants/"+grace.ID,
		changeRoleRequest{Role: "bogus"}, asUser(ada.ID))
	if status != http.StatusBadRequest {
		t.Fatalf("bogus role change: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodPatch, env.ts.URL+"/api/conversations/"+convID+"/participants/"+grace.ID,
		changeRoleRequest{Role: "admin"}, asUser(ada.ID))
	if status != http.StatusNoContent {
		t.Fatalf("promote grace: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodPatch, env.ts.URL+"/api/conversations/"+convID,
		renameConversationRequest{Name: "ops floor"}, asUser(grace.ID))
	if status != http.StatusOK {
		t.Fatalf("rename after promotion: status=%d", status)
	}

	// Kick, then leave.
	status, _ = doJSON(t, client, http.MethodDelete, env.ts.URL+"/api/conversations/"+convID+"/participants/"+mallory.ID,
		nil, asUser(ada.ID))
	if status != http.StatusNoContent {
		t.Fatalf("kick mallory: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodDelete, env.ts.URL+"/api/conversations/"+convID+"/participants/"+mallory.ID,
		nil, asUser(ada.ID))
	if status != http.StatusNotFound {
		t.Fatalf("re-kick mallory: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodDelete, env.ts.URL+"/api/conversations/"+convID+"/participants/"+grace.ID,
		nil, asUser(grace.ID))
	if status != http.StatusNoContent {
		t.Fatalf("grace leaves: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/conversations/"+convID, nil, asUser(grace.ID))
	if status != http.StatusForbidden {
		t.Fatalf("grace still sees conversation: status=%d", status)
	}

	status, _ = doJSON(t, client, http.MethodDelete, env.ts.URL+"/api/conversations/"+convID, nil, asUser(ada.ID))
	if status != http.StatusNoContent {
		t.Fatalf("delete conversation: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/conversations/"+convID, nil, asUser(ada.ID))
	if status != http.StatusNotFound {
		t.Fatalf("deleted conversation still answers: status=%d", status)
	}
}

func TestChatAPI_MessageLifecycle(t *testing.T) {
	env := newChatTestServer(t, testChatConfig(), nil)
	defer env.ts.Close()
	client := env.ts.Client()

	ada := registerChatUser(t, client, env.ts.URL, "ada")
	grace := registerChatUser(t, client, env.ts.URL, "grace")
	mallory := registerChatUser(t, client, env.ts.URL, "mallory")

	group := createGroup(t, client, env.ts.URL, ada.ID, "ops", grace.ID)
	convID := group.Conversation.ID
	msgURL := env.ts.URL + "/api/conversations/" + convID + "/messages"

	bad := []struct {
		name string
		req  sendMessageRequest
	}{
		{"empty content", sendMessageRequest{Content: "   "}},
		{"unknown content type", sendMessageRequest{Content: "hi", ContentType: "video"}},
		{"dangling reply", sendMessageRequest{Content: "hi", ReplyToID: "nope"}},
		{"content too long", sendMessageRequest{Content: strings.Repeat("x", 4097)}},
	}
	for _, tc := range bad {
		status, body := doJSON(t, client, http.MethodPost, msgURL, tc.req, asUser(ada.ID))
		if status != http.StatusBadRequest {
			t.Fatalf("%s: status=%d body=%s", tc.name, status, string(body))
		}
	}

	first := sendChatMessage(t, client, env.ts.URL, ada.ID, convID, "hello grace")
	if first.SenderID != ada.ID || first.ContentType != "text" || len(first.ID) != 26 {
		t.Fatalf("first message: %+v", first)
	}

	status, body := doJSON(t, client, http.MethodPost, msgURL,
		sendMessageRequest{Content: "hi back", ReplyToID: first.ID}, asUser(grace.ID))
	if status != http.StatusCreated {
		t.Fatalf("reply: status=%d body=%s", status, string(body))
	}
	var replyResp messageResponse
	if err := json.Unmarshal(body, &replyResp); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	reply := replyResp.Message
	if reply.ReplyToID != first.ID {
		t.Fatalf("reply thread not recorded: %+v", reply)
	}

	// History is member-only, validated, and pages oldest-first.
	status, _ = doJSON(t, client, http.MethodGet, msgURL, nil, asUser(mallory.ID))
	if status != http.StatusForbidden {
		t.Fatalf("outsider history: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodGet, msgURL+"?limit=abc", nil, asUser(ada.ID))
	if status != http.StatusBadRequest {
		t.Fatalf("bad limit: status=%d", status)
	}

	status, body = doJSON(t, client, http.MethodGet, msgURL+"?limit=1", nil, asUser(ada.ID))
	if status != http.StatusOK {
		t.Fatalf("history limit=1: status=%d", status)
	}
	var page historyResponse
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(page.Messages) != 1 || !page.HasMore || page.Messages[0].ID != first.ID {
		t.Fatalf("history limit=1: %+v", page)
	}

	status, body = doJSON(t, client, http.MethodGet, msgURL+"?after="+first.ID, nil, asUser(ada.ID))
	if status != http.StatusOK {
		t.Fatalf("history after: status=%d", status)
	}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(page.Messages) != 1 || page.HasMore || page.Messages[0].ID != reply.ID {
		t.Fatalf("history after first: %+v", page)
	}

	// Edits are sender-only.
	status, _ = doJSON(t, client, http.MethodPatch, env.ts.URL+"/api/messages/"+first.ID,
		editMessageRequest{Content: "hijack"}, asUser(grace.ID))
	if status != http.StatusForbidden {
		t.Fatalf("non-sender edit: status=%d", status)
	}
	status, body = doJSON(t, client, http.MethodPatch, env.ts.URL+"/api/messages/"+first.ID,
		editMessageRequest{Content: "hello again"}, asUser(ada.ID))
	if status != http.StatusOK {
		t.Fatalf("sender edit: status=%d body=%s", status, string(body))
	}
	var edited messageResponse
	if err := json.Unmarshal(body, &edited); err != nil {
		t.Fatalf("decode edit: %v", err)
	}
	if edited.Message.Content != "hello again" || !edited.Message.Edited {
		t.Fatalf("edit not applied: %+v", edited.Message)
	}

	// Any member can pin.
	status, _ = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/messages/"+first.ID+"/pin", nil, asUser(grace.ID))
	if status != http.StatusNoContent {
		t.Fatalf("pin: status=%d", status)
	}

	// Reactions are idempotent and answer with the full set.
	reactURL := env.ts.URL + "/api/messages/" + first.ID + "/reactions"
	status, _ = doJSON(t, client, http.MethodPut, reactURL, reactionRequest{Emoji: "  "}, asUser(grace.ID))
	if status != http.StatusBadRequest {
		t.Fatalf("blank emoji: status=%d", status)
	}
	for i := 0; i < 2; i++ {
		status, body = doJSON(t, client, http.MethodPut, reactURL, reactionRequest{Emoji: "👍"}, asUser(grace.ID))
		if status != http.StatusOK {
			t.Fatalf("react attempt %d: status=%d body=%s", i, status, string(body))
		}
	}
	var reacts reactionsResponse
	if err := json.Unmarshal(body, &reacts); err != nil {
		t.Fatalf("decode reactions: %v", err)
	}
	if len(reacts.Reactions) != 1 {
		t.Fatalf("repeat reaction duplicated: %+v", reacts.Reactions)
	}
	status, body = doJSON(t, client, http.MethodPut, reactURL, reactionRequest{Emoji: "🎉"}, asUser(ada.ID))
	if status != http.StatusOK {
		t.Fatalf("second reaction: status=%d", status)
	}
	if err := json.Unmarshal(body, &reacts); err != nil {
		t.Fatalf("decode reactions: %v", err)
	}
	if len(reacts.Reactions) != 2 {
		t.Fatalf("reaction set: %+v", reacts.Reactions)
	}
	status, body = doJSON(t, client, http.MethodDelete, reactURL, reactionRequest{Emoji: "👍"}, asUser(grace.ID))
	if status != http.StatusOK {
		t.Fatalf("remove reaction: status=%d", status)
	}
	if err := json.Unmarshal(body, &reacts); err != nil {
		t.Fatalf("decode reactions: %v", err)
	}
	if len(reacts.Reactions) != 1 || reacts.Reactions[0].Emoji != "🎉" {
		t.Fatalf("reaction set after remove: %+v", reacts.Reactions)
	}

	// Read receipts land on the participant row.
	status, _ = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/conversations/"+convID+"/read",
		readRequest{MessageID: "nope"}, asUser(grace.ID))
	if status != http.StatusNotFound {
		t.Fatalf("read unknown message: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/conversations/"+convID+"/read",
		readRequest{MessageID: reply.ID}, asUser(grace.ID))
	if status != http.StatusNoContent {
		t.Fatalf("read: status=%d", status)
	}
	status, body = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/conversations/"+convID, nil, asUser(ada.ID))
	if status != http.StatusOK {
		t.Fatalf("get conversation: status=%d", status)
	}
	var conv conversationResponse
	if err := json.Unmarshal(body, &conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	var graceRow participantResponse
	for _, p := range conv.Participants {
		if p.UserID == grace.ID {
			graceRow = p
		}
	}
	if graceRow.LastReadMessageID != reply.ID {
		t.Fatalf("read cursor not persisted: %+v", graceRow)
	}

	// Delete is sender-or-admin; afterwards the row stays but rejects mutation.
	status, _ = doJSON(t, client, http.MethodDelete, env.ts.URL+"/api/messages/"+first.ID, nil, asUser(grace.ID))
	if status != http.StatusForbidden {
		t.Fatalf("member delete of another's message: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodDelete, env.ts.URL+"/api/messages/"+first.ID, nil, asUser(ada.ID))
	if status != http.StatusNoContent {
		t.Fatalf("sender delete: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodPatch, env.ts.URL+"/api/messages/"+first.ID,
		editMessageRequest{Content: "zombie"}, asUser(ada.ID))
	if status != http.StatusConflict {
		t.Fatalf("edit after delete: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodPost, env.ts.URL+"/api/messages/"+first.ID+"/pin", nil, asUser(ada.ID))
	if status != http.StatusConflict {
		t.Fatalf("pin after delete: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodPut, reactURL, reactionRequest{Emoji: "👀"}, asUser(ada.ID))
	if status != http.StatusConflict {
		t.Fatalf("react after delete: status=%d", status)
	}

	status, body = doJSON(t, client, http.MethodGet, msgURL, nil, asUser(ada.ID))
	if status != http.StatusOK {
		t.Fatalf("history after delete: status=%d", status)
	}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("deleted message lost its history slot: %+v", page.Messages)
	}
	if got := page.Messages[0]; !got.Deleted || got.Content != "" || got.Pinned {
		t.Fatalf("soft delete incomplete on the wire: %+v", got)
	}
}

func TestChatAPI_MessageForward(t *testing.T) {
	env := newChatTestServer(t, testChatConfig(), nil)
	defer env.ts.Close()
	client := env.ts.Client()

	ada := registerChatUser(t, client, env.ts.URL, "ada")
	grace := registerChatUser(t, client, env.ts.URL, "grace")
	mallory := registerChatUser(t, client, env.ts.URL, "mallory")

	convA := createGroup(t, client, env.ts.URL, ada.ID, "alpha", grace.ID).Conversation.ID
	convB := createGroup(t, client, env.ts.URL, ada.ID, "beta", mallory.ID).Conversation.ID
	convC := createGroup(t, client, env.ts.URL, grace.ID, "gamma", mallory.ID).Conversation.ID

	src := sendChatMessage(t, client, env.ts.URL, ada.ID, convA, "forward me")
	fwdURL := env.ts.URL + "/api/messages/" + src.ID + "/forward"

	status, _ := doJSON(t, client, http.MethodPost, fwdURL, forwardMessageRequest{}, asUser(ada.ID))
	if status != http.StatusBadRequest {
		t.Fatalf("blank target: status=%d", status)
	}

	// The forwarder must belong to the target conversation.
	status, _ = doJSON(t, client, http.MethodPost, fwdURL, forwardMessageRequest{ConversationID: convC}, asUser(ada.ID))
	if status != http.StatusForbidden {
		t.Fatalf("forward into foreign conversation: status=%d", status)
	}
	// And to the source conversation.
	status, _ = doJSON(t, client, http.MethodPost, fwdURL, forwardMessageRequest{ConversationID: convB}, asUser(mallory.ID))
	if status != http.StatusForbidden {
		t.Fatalf("outsider forwards from alpha: status=%d", status)
	}

	status, body := doJSON(t, client, http.MethodPost, fwdURL, forwardMessageRequest{ConversationID: convB}, asUser(ada.ID))
	if status != http.StatusCreated {
		t.Fatalf("forward: status=%d body=%s", status, string(body))
	}
	var fwd messageResponse
	if err := json.Unmarshal(body, &fwd); err != nil {
		t.Fatalf("decode forward: %v", err)
	}
	if fwd.Message.ConversationID != convB || fwd.Message.Content != "forward me" {
		t.Fatalf("forward landed wrong: %+v", fwd.Message)
	}
	if fwd.Message.ID == src.ID || fwd.Message.ReplyToID != "" {
		t.Fatalf("forward must be a fresh unthreaded message: %+v", fwd.Message)
	}

	// Forwarding someone else's message reattributes it to the forwarder.
	status, body = doJSON(t, client, http.MethodPost, fwdURL, forwardMessageRequest{ConversationID: convC}, asUser(grace.ID))
	if status != http.StatusCreated {
		t.Fatalf("grace forwards: status=%d body=%s", status, string(body))
	}
	if err := json.Unmarshal(body, &fwd); err != nil {
		t.Fatalf("decode forward: %v", err)
	}
	if fwd.Message.SenderID != grace.ID {
		t.Fatalf("forward sender: %+v", fwd.Message)
	}
}

func TestChatAPI_CallEndpoints(t *testing.T) {
	env := newChatTestServer(t, testChatConfig(), nil)
	defer env.ts.Close()
	client := env.ts.Client()
	ctx := context.Background()

	ada := registerChatUser(t, client, env.ts.URL, "ada")
	grace := registerChatUser(t, client, env.ts.URL, "grace")
	mallory := registerChatUser(t, client, env.ts.URL, "mallory")

	convID := createGroup(t, client, env.ts.URL, ada.ID, "ops", grace.ID).Conversation.ID

	live, err := env.coord.Start(ctx, ada.ID, v1.StartCallPayload{ConversationID: convID, CallType: "video"})
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	callURL := env.ts.URL + "/api/calls/" + live.ID

	// Conversation members may watch a live call; outsiders may not.
	status, body := doJSON(t, client, http.MethodGet, callURL, nil, asUser(grace.ID))
	if status != http.StatusOK {
		t.Fatalf("get live call: status=%d body=%s", status, string(body))
	}
	var got callResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if !got.Live || got.Call.ID != live.ID || got.Call.Type != "video" {
		t.Fatalf("live call view: %+v", got)
	}
	status, _ = doJSON(t, client, http.MethodGet, callURL, nil, asUser(mallory.ID))
	if status != http.StatusForbidden {
		t.Fatalf("outsider call view: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/calls/nope", nil, asUser(ada.ID))
	if status != http.StatusNotFound {
		t.Fatalf("unknown call: status=%d", status)
	}

	// Only the initiator or a conversation admin can force-end.
	status, _ = doJSON(t, client, http.MethodDelete, callURL, nil, asUser(grace.ID))
	if status != http.StatusForbidden {
		t.Fatalf("member force-end: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodDelete, callURL, nil, asUser(ada.ID))
	if status != http.StatusNoContent {
		t.Fatalf("initiator force-end: status=%d", status)
	}
	if _, stillLive := env.coord.Snapshot(live.ID); stillLive {
		t.Fatalf("call still live after force-end")
	}

	// The durable row remains readable; never-active calls settle as missed.
	status, body = doJSON(t, client, http.MethodGet, callURL, nil, asUser(grace.ID))
	if status != http.StatusOK {
		t.Fatalf("get ended call: status=%d body=%s", status, string(body))
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if got.Live || got.Call.Status != "missed" {
		t.Fatalf("ended call view: %+v", got)
	}
	status, _ = doJSON(t, client, http.MethodDelete, callURL, nil, asUser(ada.ID))
	if status != http.StatusNoContent {
		t.Fatalf("force-end of settled call: status=%d", status)
	}

	// Conversation call history.
	status, body = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/conversations/"+convID+"/calls", nil, asUser(grace.ID))
	if status != http.StatusOK {
		t.Fatalf("call list: status=%d", status)
	}
	var list callListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode call list: %v", err)
	}
	if len(list.Calls) != 1 || list.Calls[0].ID != live.ID {
		t.Fatalf("call list: %+v", list.Calls)
	}
	status, _ = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/conversations/"+convID+"/calls", nil, asUser(mallory.ID))
	if status != http.StatusForbidden {
		t.Fatalf("outsider call list: status=%d", status)
	}
	status, _ = doJSON(t, client, http.MethodGet, env.ts.URL+"/api/conversations/"+convID+"/calls?limit=abc", nil, asUser(ada.ID))
	if status != http.StatusBadRequest {
		t.Fatalf("bad call list limit: status=%d", status)
	}

	// A non-terminal row without live state is a crash leftover; force-end
	// settles it in place.
	now := time.Now().UTC()
	started := now.Add(-90 * time.Second)
	stale := chat.Call{
		ID:             chat.NewID(),
		ConversationID: convID,
		InitiatorID:    ada.ID,
		Type:           chat.CallVoice,
		Status:         chat.CallActive,
		CreatedAt:      started,
		StartedAt:      &started,
	}
	if err := env.store.CreateCall(ctx, stale); err != nil {
		t.Fatalf("seed stale call: %v", err)
	}
	status, _ = doJSON(t, client, http.MethodDelete, env.ts.URL+"/api/calls/"+stale.ID, nil, asUser(ada.ID))
	if status != http.StatusNoContent {
		t.Fatalf("repair stale call: status=%d", status)
	}
	repaired, err := env.store.CallByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("load repaired call: %v", err)
	}
	if repaired.Status != chat.CallEnded || repaired.EndedAt == nil || repaired.DurationSeconds <= 0 {
		t.Fatalf("stale active call not settled: %+v", repaired)
	}

	ringing := chat.Call{
		ID:             chat.NewID(),
		ConversationID: convID,
		InitiatorID:    ada.ID,
		Type:           chat.CallVoice,
		Status:         chat.CallRinging,
		CreatedAt:      now,
	}
	if err := env.store.CreateCall(ctx, ringing); err != nil {
		t.Fatalf("seed ringing call: %v", err)
	}
	status, _ = doJSON(t, client, http.MethodDelete, env.ts.URL+"/api/calls/"+ringing.ID, nil, asUser(ada.ID))
	if status != http.StatusNoContent {
		t.Fatalf("repair ringing call: status=%d", status)
	}
	repaired, err = env.store.CallByID(ctx, ringing.ID)
	if err != nil {
		t.Fatalf("load repaired call: %v", err)
	}
	if repaired.Status != chat.CallMissed {
		t.Fatalf("stale ringing call not settled as missed: %+v", repaired)
	}
}

func TestChatAPI_RealtimeFanout(t *testing.T) {
	env := newChatTestServer(t, testChatConfig(), nil)
	defer env.ts.Close()
	client := env.ts.Client()

	ada := registerChatUser(t, client, env.ts.URL, "ada")
	grace := registerChatUser(t, client, env.ts.URL, "grace")
	convID := createGroup(t, client, env.ts.URL, ada.ID, "ops", grace.ID).Conversation.ID

	c := realtime.NewClient("sess-grace", 16)
	if !c.Bind(grace.ID) {
		t.Fatalf("bind client")
	}
	if prev := env.registry.Register(grace.ID, c); prev != nil {
		t.Fatalf("unexpected displaced client")
	}

	sent := sendChatMessage(t, client, env.ts.URL, ada.ID, convID, "hello over the wire")

	envlp := waitEnvelope(t, c)
	if envlp.Type != v1.EventNewMessage {
		t.Fatalf("first event: %s", envlp.Type)
	}
	var msgPayload v1.NewMessagePayload
	if err := json.Unmarshal(envlp.Payload, &msgPayload); err != nil {
		t.Fatalf("decode new-message payload: %v", err)
	}
	if msgPayload.Message.ID != sent.ID || msgPayload.Message.SenderID != ada.ID {
		t.Fatalf("fanout payload: %+v", msgPayload.Message)
	}

	status, _ := doJSON(t, client, http.MethodDelete, env.ts.URL+"/api/conversations/"+convID, nil, asUser(ada.ID))
	if status != http.StatusNoContent {
		t.Fatalf("delete conversation: status=%d", status)
	}
	envlp = waitEnvelope(t, c)
	if envlp.Type != v1.EventConversationDeleted {
		t.Fatalf("second event: %s", envlp.Type)
	}
	var delPayload v1.ConversationDeletedPayload
	if err := json.Unmarshal(envlp.Payload, &delPayload); err != nil {
		t.Fatalf("decode conversation-deleted payload: %v", err)
	}
	if delPayload.ConversationID != convID {
		t.Fatalf("deletion payload: %+v", delPayload)
	}
}

// waitEnvelope reads one queued envelope. The HTTP response can land before
// the handler's notify call runs, so a short wait is part of the contract.
func waitEnvelope(t *testing.T, c *realtime.Client) v1.Envelope {
	t.Helper()
	select {
	case env := <-c.Send:
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("no realtime event arrived")
		return v1.Envelope{}
	}
}
