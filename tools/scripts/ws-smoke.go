// Package main provides a CI-friendly smoke test for the Parley signaling hub.
//
// It provisions two users and a direct conversation over the REST API, then
// validates the realtime path end to end:
//   - handshake + parley.signal.v1 subprotocol selection
//   - user-online bind -> welcome with session id and ICE servers
//   - typing fanout to the peer (typing-status and user-typing)
//   - start-call -> call-started / incoming-call
//   - accept-call -> call-accepted with the call active
//   - webrtc-offer relay with fromUserId stamping
//   - end-call -> call-ended
//   - REST message send -> new-message fanout
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "parley/shared/contracts/signal/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

var verbose bool

type smokeClient struct {
	name   string
	userID string
	token  string
	conn   *websocket.Conn

	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type authReply struct {
	User  apiUser `json:"user"`
	Token string  `json:"token"`
}

type conversationReply struct {
	Conversation struct {
		ID string `json:"id"`
	} `json:"conversation"`
}

type messageReply struct {
	Message v1.MessageInfo `json:"message"`
}

func main() {
	var (
		apiURL   = flag.String("api", "http://127.0.0.1:8080", "REST API base URL")
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		callType = flag.String("call", "voice", "Call type to start (voice|video)")
		text     = flag.String("text", "hello parley 👋", "Message text to send over REST")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
	)
	flag.BoolVar(&verbose, "v", false, "Verbose output")
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *callType != "voice" && *callType != "video" {
		fatalf("invalid -call: %q", *callType)
	}

	root := context.Background()
	httpc := &http.Client{Timeout: *timeout}

	// Fresh identities per run so reruns never collide on usernames.
	suffix := time.Now().UnixNano()
	a := mustRegister(httpc, *apiURL, fmt.Sprintf("smoke-a-%d", suffix))
	b := mustRegister(httpc, *apiURL, fmt.Sprintf("smoke-b-%d", suffix))
	convID := mustCreateDirect(httpc, *apiURL, a, b)

	if verbose {
		fmt.Printf("provisioned: a=%s b=%s conv=%s\n", a.userID, b.userID, convID)
	}

	mustConnectAndBind(root, a, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	mustConnectAndBind(root, b, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	// Typing fans out to the peer under both event names, sender excluded.
	a.mustWrite(root, v1.EventTyping, v1.TypingPayload{ConversationID: convID, IsTyping: true}, *timeout)
	var typed v1.TypingStatusPayload
	mustDecode(b.mustReadUntil(root, v1.EventTypingStatus, *timeout), &typed)
	if typed.ConversationID != convID || typed.UserID != a.userID || !typed.IsTyping {
		fatalf("typing-status payload: %+v", typed)
	}
	mustDecode(b.mustReadUntil(root, v1.EventUserTyping, *timeout), &typed)
	if typed.UserID != a.userID {
		fatalf("user-typing payload: %+v", typed)
	}

	// Call lifecycle: start -> ring -> accept -> offer relay -> end.
	a.mustWrite(root, v1.EventStartCall, v1.StartCallPayload{ConversationID: convID, CallType: *callType}, *timeout)

	var started v1.CallStartedPayload
	mustDecode(a.mustReadUntil(root, v1.EventCallStarted, *timeout), &started)
	callID := started.Call.ID
	if callID == "" || started.Call.InitiatorID != a.userID {
		fatalf("call-started payload: %+v", started.Call)
	}

	var incoming v1.IncomingCallPayload
	mustDecode(b.mustReadUntil(root, v1.EventIncomingCall, *timeout), &incoming)
	if incoming.Call.ID != callID || incoming.Initiator.ID != a.userID {
		fatalf("incoming-call payload: call=%+v initiator=%+v", incoming.Call, incoming.Initiator)
	}

	b.mustWrite(root, v1.EventAcceptCall, v1.AcceptCallPayload{CallID: callID}, *timeout)
	var accepted v1.CallAcceptedPayload
	mustDecode(a.mustReadUntil(root, v1.EventCallAccepted, *timeout), &accepted)
	if accepted.UserID != b.userID || accepted.Call.Status != "active" {
		fatalf("call-accepted payload: %+v", accepted)
	}
	mustDecode(b.mustReadUntil(root, v1.EventCallAccepted, *timeout), &accepted)

	// The relay must stamp the authenticated sender and keep the rest intact.
	a.mustWrite(root, v1.EventWebRTCOffer, map[string]any{
		"targetUserId": b.userID,
		"callId":       callID,
		"sdp":          "smoke-sdp",
	}, *timeout)
	offer := b.mustReadUntil(root, v1.EventWebRTCOffer, *timeout)
	var relayed map[string]json.RawMessage
	if err := json.Unmarshal(offer.Payload, &relayed); err != nil {
		fatalf("unmarshal relayed offer (%s): %v", b.name, err)
	}
	assertJSONString(relayed, "fromUserId", a.userID)
	assertJSONString(relayed, "sdp", "smoke-sdp")

	b.mustWrite(root, v1.EventEndCall, v1.EndCallPayload{CallID: callID}, *timeout)
	var ended v1.CallEndedPayload
	mustDecode(a.mustReadUntil(root, v1.EventCallEnded, *timeout), &ended)
	if ended.CallID != callID || ended.EndedBy != b.userID {
		fatalf("call-ended payload: %+v", ended)
	}
	mustDecode(b.mustReadUntil(root, v1.EventCallEnded, *timeout), &ended)

	// A REST mutation must fan out to connected participants.
	msg := mustSendMessage(httpc, *apiURL, a, convID, *text)
	var fresh v1.NewMessagePayload
	mustDecode(b.mustReadUntil(root, v1.EventNewMessage, *timeout), &fresh)
	if fresh.Message.ID != msg.ID || fresh.Message.Content != *text || fresh.Message.SenderID != a.userID {
		fatalf("new-message payload: %+v", fresh.Message)
	}

	fmt.Printf("OK: a=%s b=%s conv=%s call=%s sessions=%s/%s\n",
		a.userID, b.userID, convID, callID, a.sessionID, b.sessionID)
}

// ---- REST provisioning ----

func mustRegister(httpc *http.Client, apiURL, username string) *smokeClient {
	var reply authReply
	mustPostJSON(httpc, apiURL+"/api/register", map[string]string{
		"username": username,
		"password": "Parley-Smoke-Pass-1!",
	}, nil, http.StatusCreated, &reply)
	if reply.User.ID == "" {
		fatalf("register %s: empty user id", username)
	}
	return &smokeClient{
		name:   username,
		userID: reply.User.ID,
		token:  reply.Token,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
}

func mustCreateDirect(httpc *http.Client, apiURL string, a, b *smokeClient) string {
	var reply conversationReply
	mustPostJSON(httpc, apiURL+"/api/conversations", map[string]any{
		"kind":           "direct",
		"participantIds": []string{b.userID},
	}, a, http.StatusCreated, &reply)
	if reply.Conversation.ID == "" {
		fatalf("create conversation: empty id")
	}
	return reply.Conversation.ID
}

func mustSendMessage(httpc *http.Client, apiURL string, actor *smokeClient, convID, text string) v1.MessageInfo {
	var reply messageReply
	mustPostJSON(httpc, apiURL+"/api/conversations/"+convID+"/messages", map[string]string{
		"content": text,
	}, actor, http.StatusCreated, &reply)
	return reply.Message
}

func mustPostJSON(httpc *http.Client, url string, payload any, actor *smokeClient, wantStatus int, out any) {
	body, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		if actor.token != "" {
			req.Header.Set("Authorization", "Bearer "+actor.token)
		} else {
			req.Header.Set("X-User-ID", actor.userID)
		}
	}

	resp, err := httpc.Do(req)
	if err != nil {
		fatalf("POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		var raw bytes.Buffer
		_, _ = raw.ReadFrom(resp.Body)
		fatalf("POST %s: status=%d want=%d body=%s", url, resp.StatusCode, wantStatus, raw.String())
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatalf("decode response of POST %s: %v", url, err)
		}
	}
}

// ---- WebSocket plumbing ----

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch {
	case u.Scheme != "ws" && u.Scheme != "wss":
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	case strings.TrimSpace(u.Host) == "":
		return errors.New("missing host")
	case strings.TrimSpace(u.Path) == "":
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	case strings.TrimSpace(u.Host) == "":
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnectAndBind(parent context.Context, c *smokeClient, wsURL, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", c.name, err)
	}
	assertSubprotocol(resp, v1.Subprotocol)
	conn.SetReadLimit(maxReadBytes)

	c.conn = conn
	c.startReadLoop()

	c.mustWrite(parent, v1.EventUserOnline, v1.UserOnlinePayload{UserID: c.userID, Token: c.token}, stepTimeout)

	var welcome v1.WelcomePayload
	mustDecode(c.mustReadUntil(parent, v1.EventWelcome, stepTimeout), &welcome)
	if welcome.UserID != c.userID {
		fatalf("welcome user mismatch (%s): got=%q want=%q", c.name, welcome.UserID, c.userID)
	}
	if strings.TrimSpace(welcome.SessionID) == "" {
		fatalf("welcome missing sessionId (%s)", c.name)
	}
	c.sessionID = welcome.SessionID

	if verbose {
		fmt.Printf("bound: %s session=%s iceServers=%d\n", c.name, c.sessionID, len(welcome.ICEServers))
	}
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

// fail parks the first error for the main goroutine; later ones are dropped.
func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			env, err := c.readOne()
			if err != nil {
				c.fail(err)
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) readOne() (v1.Envelope, error) {
	mt, data, err := c.conn.Read(context.Background())
	if err != nil {
		return v1.Envelope{}, err
	}

	switch mt {
	case websocket.MessageText, websocket.MessageBinary:
	default:
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}

	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("bad json: %w", err)
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, fmt.Errorf("bad envelope: %w", err)
	}
	return env, nil
}

func (c *smokeClient) mustWrite(parent context.Context, t v1.EventType, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	env := v1.Envelope{Type: t, Payload: mustJSON(payload)}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal %s envelope: %v", t, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s (%s): %v", t, c.name, err)
	}
}

// mustReadUntil consumes the inbox until wantType arrives. Anything else is
// expected noise (presence churn, the peer's copy of a broadcast) and gets
// skipped; delivery here is fire-and-forget, so there is no error event to
// watch for.
func (c *smokeClient) mustReadUntil(parent context.Context, wantType v1.EventType, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if verbose {
				fmt.Printf("skip: %s <- %s\n", c.name, env.Type)
			}
		}
	}
}

func mustDecode(env v1.Envelope, out any) {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		fatalf("unmarshal %s payload: %v", env.Type, err)
	}
}

func assertJSONString(fields map[string]json.RawMessage, key, want string) {
	raw, ok := fields[key]
	if !ok {
		fatalf("relayed payload missing %q", key)
	}
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		fatalf("relayed payload %q: %v", key, err)
	}
	if got != want {
		fatalf("relayed payload %q: got=%q want=%q", key, got, want)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
