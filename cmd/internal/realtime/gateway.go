package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "parley/shared/contracts/signal/v1"
)

// MembershipChecker gates conversation-scoped events to actual participants.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// TokenVerifier checks an access token and returns its subject user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// GatewayDeps wires the gateway to the rest of the hub. Membership and
// Tokens may be nil, which disables the respective gate regardless of env.
type GatewayDeps struct {
	Registry   *Registry
	Presence   *Presence
	Calls      *Coordinator
	Membership MembershipChecker
	Tokens     TokenVerifier
	Metrics    *Metrics
	ICEServers []v1.ICEServer
}

// Gateway is the WebSocket entrypoint.
//
// It enforces origin policy, subprotocol selection, rate limits, and
// heartbeats, then routes validated envelopes to presence, the call
// coordinator, or the peer-to-peer relay. There is no error event in the
// protocol: malformed or unauthorized traffic is logged and dropped, and
// only rate-limit or bind violations close the socket.
type Gateway struct {
	log  *slog.Logger
	deps GatewayDeps

	requireAuth       bool
	requireMembership bool

	// Origin policy. originPatterns carries the bare host patterns that
	// websocket.Accept wants, derived from originAllowlist.
	originRequired  bool
	originAllowlist []string
	originPatterns  []string
	devInsecure     bool

	// Per-connection tuning, resolved once at construction.
	sendQueueSize    int
	writeTimeout     time.Duration
	readIdleTimeout  time.Duration
	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
	rateEvents       int
	rateWindow       time.Duration
}

// NewGateway constructs a gateway with secure defaults, reading tuning knobs
// from PARLEY_WS_* environment variables.
func NewGateway(log *slog.Logger, deps GatewayDeps) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry(log, deps.Metrics)
	}

	g := &Gateway{log: log, deps: deps}

	g.requireAuth = wsEnvBool("PARLEY_WS_REQUIRE_AUTH", false)
	g.requireMembership = wsEnvBool("PARLEY_WS_REQUIRE_MEMBERSHIP", true)

	// Dev-only: skips Accept's builtin origin verification. enforceOrigin
	// still runs first, so the explicit allowlist keeps the final say.
	g.devInsecure = wsEnvBool("PARLEY_WS_DEV_INSECURE", false)

	g.originRequired = wsEnvBool("PARLEY_WS_ORIGIN_REQUIRED", defaultOriginRequired)
	g.originAllowlist = wsEnvCSV("PARLEY_WS_ALLOWED_ORIGINS", defaultAllowedOrigins)

	// Accept runs its own origin check on top of enforceOrigin: same-host
	// passes, cross-origin needs OriginPatterns. Feed it the same allowlist
	// so the two layers cannot disagree.
	g.originPatterns = originPatternsFor(g.originAllowlist)

	g.writeTimeout = wsEnvDuration("PARLEY_WS_WRITE_TIMEOUT", defaultWriteTimeout)
	g.readIdleTimeout = wsEnvDuration("PARLEY_WS_READ_IDLE_TIMEOUT", defaultReadIdleTimeout)

	g.sendQueueSize = wsEnvInt("PARLEY_WS_SEND_QUEUE", defaultSendQueue)
	if g.sendQueueSize < minSendQueue {
		g.sendQueueSize = minSendQueue
	}

	g.heartbeatEvery = wsEnvDuration("PARLEY_WS_HEARTBEAT_INTERVAL", defaultHeartbeatEvery)
	g.heartbeatTimeout = wsEnvDuration("PARLEY_WS_HEARTBEAT_TIMEOUT", defaultHeartbeatWait)

	g.rateEvents = wsEnvInt("PARLEY_WS_RATE_EVENTS", defaultRateEvents)
	g.rateWindow = wsEnvDuration("PARLEY_WS_RATE_WINDOW", defaultRateWindow)

	return g
}

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the
// signaling loop until the peer leaves or violates policy.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.origin.denied",
			"origin", r.Header.Get("Origin"),
			"remote", r.RemoteAddr,
			"err", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	opts := &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		g.log.Error("ws.upgrade.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	if got := conn.Subprotocol(); got != v1.Subprotocol {
		g.log.Info("ws.subprotocol.denied", "got", got, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(frameReadLimit)

	sessionID := NewSessionID()
	client := NewClient(sessionID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.deps.Metrics.ConnOpened()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Identity release happens first so a displaced session tearing down late
	// cannot evict its replacement, and Offline only fires when this client
	// still owned the registry slot.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if userID := client.UserID(); userID != "" {
				if g.deps.Registry.Release(userID, client) {
					offCtx, offCancel := context.WithTimeout(context.Background(), offlineTimeout)
					g.deps.Presence.Offline(offCtx, userID)
					offCancel()
				}
			}

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			g.deps.Metrics.ConnClosed()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go g.writePump(ctx, conn, client, sessionID, writerDone, shutdown)

	heartbeatDone := make(chan struct{})
	go g.pingPump(ctx, conn, client, sessionID, heartbeatDone, shutdown)

readLoop:
	for {
		env, err := g.nextEnvelope(ctx, conn)
		if err != nil {
			verdict := judgeReadErr(err)
			if verdict == readSkipFrame {
				g.log.Info("ws.read.badjson", "session_id", sessionID, "err", err)
				continue
			}
			if verdict == readFatal {
				g.log.Info("ws.read.error", "session_id", sessionID, "err", err)
			}
			shutdown(closeForVerdict(verdict))
			break
		}

		if !rl.Allow(time.Now().UTC()) {
			g.log.Info("ws.rate.limit", "session_id", sessionID, "user_id", client.UserID())
			shutdown(websocket.StatusPolicyViolation, "rate limit exceeded")
			break
		}

		if err := env.Validate(); err != nil {
			g.log.Debug("ws.envelope.invalid", "session_id", sessionID, "err", err)
			continue readLoop
		}

		g.deps.Metrics.Event(env.Type)

		// Everything except the bind itself needs a bound identity.
		userID := client.UserID()
		if userID == "" && env.Type != v1.EventUserOnline {
			g.log.Debug("ws.event.unbound", "session_id", sessionID, "type", env.Type)
			continue readLoop
		}

		switch env.Type {
		case v1.EventUserOnline:
			if err := g.onUserOnline(ctx, client, env); err != nil {
				g.log.Info("ws.bind.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusPolicyViolation, "bind failed")
				break readLoop
			}

		case v1.EventTyping:
			g.onTyping(ctx, userID, env)

		case v1.EventStartCall:
			g.onStartCall(ctx, userID, env)

		case v1.EventAcceptCall:
			var p v1.AcceptCallPayload
			if g.decode(env, &p, sessionID) {
				g.deps.Calls.Accept(ctx, userID, p.CallID)
			}

		case v1.EventDeclineCall:
			var p v1.DeclineCallPayload
			if g.decode(env, &p, sessionID) {
				g.deps.Calls.Decline(ctx, userID, p.CallID)
			}

		case v1.EventEndCall:
			var p v1.EndCallPayload
			if g.decode(env, &p, sessionID) {
				g.deps.Calls.End(ctx, userID, p.CallID)
			}

		case v1.EventToggleMute:
			var p v1.ToggleMutePayload
			if g.decode(env, &p, sessionID) {
				g.deps.Calls.SetMuted(ctx, userID, p.CallID, p.Muted)
			}

		case v1.EventToggleVideo:
			var p v1.ToggleVideoPayload
			if g.decode(env, &p, sessionID) {
				g.deps.Calls.SetVideoOff(ctx, userID, p.CallID, p.VideoOff)
			}

		case v1.EventToggleScreenShare:
			var p v1.ToggleScreenSharePayload
			if g.decode(env, &p, sessionID) {
				g.deps.Calls.SetScreenSharing(ctx, userID, p.CallID, p.ScreenSharing)
			}

		case v1.EventWebRTCOffer, v1.EventWebRTCAnswer, v1.EventICECandidate:
			g.relay(userID, env)

		default:
			// Unknown types are ignored so clients can ship ahead of the hub.
			g.log.Debug("ws.event.ignored", "session_id", sessionID, "type", env.Type)
		}
	}

	shutdown(websocket.StatusNormalClosure, "done")
	<-writerDone

	// The ping loop may be mid round trip; give it a beat, then go.
	select {
	case <-time.After(closeGrace):
	case <-heartbeatDone:
	}
}

// writePump drains the client queue onto the socket. It is the only
// goroutine that calls conn.Write for envelopes, which keeps frames whole.
func (g *Gateway) writePump(ctx context.Context, conn *websocket.Conn, client *Client, sessionID string, done chan<- struct{}, shutdown func(websocket.StatusCode, string)) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case env := <-client.Send:
			if err := g.sendEnvelope(ctx, conn, env); err != nil {
				g.log.Info("ws.send.fail", "session_id", sessionID, "status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "send failed")
				return
			}
		}
	}
}

// pingPump drives the liveness check. Pings bypass the send queue, so a
// stalled consumer still gets detected once maxPingFailures accrue.
func (g *Gateway) pingPump(ctx context.Context, conn *websocket.Conn, client *Client, sessionID string, done chan<- struct{}, shutdown func(websocket.StatusCode, string)) {
	defer close(done)

	t := time.NewTicker(g.heartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, g.heartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()

			if err == nil {
				failures = 0
				continue
			}

			failures++
			g.log.Info("ws.heartbeat.fail", "session_id", sessionID, "failures", failures, "err", err)
			if failures >= maxPingFailures {
				shutdown(websocket.StatusGoingAway, "no heartbeat")
				return
			}
		}
	}
}

// ---- handlers ----

func (g *Gateway) onUserOnline(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.UserOnlinePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return errors.New("missing userId")
	}

	if g.requireAuth {
		if g.deps.Tokens == nil {
			return errors.New("auth required but no verifier configured")
		}
		subject, err := g.deps.Tokens.Verify(p.Token)
		if err != nil {
			return fmt.Errorf("verify token: %w", err)
		}
		if subject != userID {
			return errors.New("token subject mismatch")
		}
	}

	if !client.Bind(userID) {
		if client.UserID() == userID {
			// Repeating the same bind is harmless.
			return nil
		}
		return errors.New("session already bound to another user")
	}

	// A displaced socket is orphaned, not closed: it stops receiving, and its
	// eventual teardown cannot touch this session's slot.
	g.deps.Registry.Register(userID, client)

	g.deps.Presence.Online(ctx, userID)

	welcome, err := v1.NewEnvelope(v1.EventWelcome, v1.WelcomePayload{
		UserID:     userID,
		SessionID:  client.SessionID,
		ICEServers: g.deps.ICEServers,
	})
	if err == nil {
		enqueue(client, welcome)
	}

	g.log.Info("ws.bind", "session_id", client.SessionID, "user_id", userID)
	return nil
}

func (g *Gateway) onTyping(ctx context.Context, userID string, env v1.Envelope) {
	var p v1.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.log.Debug("ws.payload.invalid", "type", env.Type, "err", err)
		return
	}
	if strings.TrimSpace(p.ConversationID) == "" {
		return
	}
	if !g.allowConversation(ctx, p.ConversationID, userID, env.Type) {
		return
	}
	g.deps.Presence.Typing(ctx, userID, p.ConversationID, p.IsTyping)
}

func (g *Gateway) onStartCall(ctx context.Context, userID string, env v1.Envelope) {
	var p v1.StartCallPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.log.Debug("ws.payload.invalid", "type", env.Type, "err", err)
		return
	}
	if p.ConversationID != "" && !g.allowConversation(ctx, p.ConversationID, userID, env.Type) {
		return
	}
	if _, err := g.deps.Calls.Start(ctx, userID, p); err != nil {
		g.log.Info("call.start.fail", "user_id", userID, "err", err)
	}
}

// relay forwards a signaling payload to its target verbatim, stamping the
// authenticated sender over whatever fromUserId the client claimed. The
// payload stays opaque beyond the fields read here; negotiation state lives
// at the endpoints.
func (g *Gateway) relay(fromUserID string, env v1.Envelope) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Payload, &fields); err != nil || fields == nil {
		g.log.Debug("ws.relay.badpayload", "type", env.Type, "from", fromUserID, "err", err)
		return
	}

	var target string
	if raw, ok := fields["targetUserId"]; ok {
		_ = json.Unmarshal(raw, &target)
	}
	if target == "" {
		g.log.Debug("ws.relay.notarget", "type", env.Type, "from", fromUserID)
		return
	}

	from, err := json.Marshal(fromUserID)
	if err != nil {
		return
	}
	fields["fromUserId"] = from

	payload, err := json.Marshal(fields)
	if err != nil {
		g.log.Error("ws.relay.marshal.fail", "type", env.Type, "err", err)
		return
	}

	if !g.deps.Registry.SendEnvelope(target, v1.Envelope{Type: env.Type, Payload: payload}) {
		g.log.Debug("ws.relay.offline", "type", env.Type, "from", fromUserID, "to", target)
	}
	g.deps.Metrics.Relayed(env.Type)

	var callID string
	if raw, ok := fields["callId"]; ok {
		_ = json.Unmarshal(raw, &callID)
	}
	if callID != "" && g.deps.Calls != nil {
		g.deps.Calls.NoteRelay(fromUserID, target, env.Type, callID)
	}
}

// allowConversation applies the membership gate. A denied or failed check
// drops the event; nothing is reported to the sender.
func (g *Gateway) allowConversation(ctx context.Context, conversationID, userID string, event v1.EventType) bool {
	if !g.requireMembership || g.deps.Membership == nil {
		return true
	}
	ok, err := g.deps.Membership.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		g.log.Error("ws.membership.fail", "conversation_id", conversationID, "user_id", userID, "err", err)
		return false
	}
	if !ok {
		g.log.Info("ws.membership.deny", "conversation_id", conversationID, "user_id", userID, "event", event)
		return false
	}
	return true
}

func (g *Gateway) decode(env v1.Envelope, dst any, sessionID string) bool {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		g.log.Debug("ws.payload.invalid", "session_id", sessionID, "type", env.Type, "err", err)
		return false
	}
	return true
}

// ---- envelope IO ----

// nextEnvelope reads one frame under the idle deadline and decodes it. Text
// and binary frames are both accepted; the payload is JSON either way.
func (g *Gateway) nextEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	readCtx, cancel := context.WithTimeout(ctx, g.readIdleTimeout)
	defer cancel()

	mt, data, err := conn.Read(readCtx)
	if err != nil {
		return v1.Envelope{}, err
	}

	switch mt {
	case websocket.MessageText, websocket.MessageBinary:
	default:
		return v1.Envelope{}, fmt.Errorf("unexpected frame type %v", mt)
	}

	var env v1.Envelope
	err = json.Unmarshal(data, &env)
	return env, err
}

// sendEnvelope marshals env and writes it as a single text frame under the
// write deadline.
func (g *Gateway) sendEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

// Read failures split into buckets the loop treats differently: clean closes
// end the session quietly, decode noise is tolerated, everything else tears
// the connection down.
type readVerdict uint8

const (
	readFatal readVerdict = iota
	readPeerClosed
	readCtxOver
	readSocketDead
	readSkipFrame
)

func judgeReadErr(err error) readVerdict {
	switch {
	case websocket.CloseStatus(err) != -1:
		return readPeerClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readCtxOver
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return readSocketDead
	}

	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return readSkipFrame
	}
	// Decode errors that crossed a string boundary lose their type.
	if s := err.Error(); strings.Contains(s, "invalid character") || strings.Contains(s, "unexpected end of JSON input") {
		return readSkipFrame
	}
	return readFatal
}

// closeForVerdict maps a fatal read verdict to its close handshake. Skip
// verdicts never reach here; the read loop retries those.
func closeForVerdict(v readVerdict) (websocket.StatusCode, string) {
	switch v {
	case readPeerClosed:
		return websocket.StatusNormalClosure, "peer left"
	case readCtxOver:
		return websocket.StatusNormalClosure, "server stopping"
	case readSocketDead:
		return websocket.StatusAbnormalClosure, "socket gone"
	default:
		return websocket.StatusAbnormalClosure, "read error"
	}
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	switch {
	case origin == "":
		if !g.originRequired {
			return nil
		}
		return errors.New("origin header required")
	case len(g.originAllowlist) == 0:
		return errors.New("origin allowlist is empty")
	}

	host := originHost(origin)

	for _, allowed := range g.originAllowlist {
		allowed = strings.TrimSpace(allowed)
		switch {
		case allowed == "":
			continue
		case allowed == "*":
			// Wildcard must be configured explicitly.
			return nil
		case allowed == origin:
			// Exact origin match, scheme and port included.
			return nil
		case host != "" && host == originHost(allowed):
			// Host alone matches; scheme and port are forgiven.
			return nil
		}
	}

	return fmt.Errorf("origin %q not in allowlist", origin)
}

// originHost reduces a full origin or a bare host[:port] to the lowercased
// host, or "" when the input cannot be parsed.
func originHost(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
	}
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.ToLower(s)
}

// originPatternsFor turns the origin allowlist into host patterns for
// websocket.Accept, which matches them with filepath.Match semantics.
// Only hosts that appear in the allowlist make it through.
func originPatternsFor(allowed []string) []string {
	hosts := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if h := originHost(a); h != "" && h != "*" {
			hosts[h] = struct{}{}
		}
	}

	patterns := make([]string, 0, len(hosts))
	for h := range hosts {
		patterns = append(patterns, h)
	}
	sort.Strings(patterns)
	return patterns
}

// ---- env helpers ----

// Local copies of the env readers. The app config layer has richer ones, but
// importing it from this package would be a cycle.

func wsEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func wsEnvBool(key string, def bool) bool {
	if v, ok := wsEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func wsEnvInt(key string, def int) int {
	if v, ok := wsEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func wsEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := wsEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func wsEnvCSV(key string, def string) []string {
	raw, ok := wsEnv(key)
	if !ok {
		raw = def
	}
	return splitCSV(raw)
}
