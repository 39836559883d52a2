package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/signal/v1"
)

// CallStore is the durable slice of the store the coordinator writes through.
// Every write is logged-and-continue: the in-memory table drives routing, the
// store keeps history.
type CallStore interface {
	CreateCall(ctx context.Context, c chat.Call) error
	UpdateCall(ctx context.Context, c chat.Call) error
	AddCallParticipant(ctx context.Context, p chat.CallParticipant) error
	UpdateCallParticipant(ctx context.Context, p chat.CallParticipant) error
}

// UserDirectory resolves identities for event payloads.
type UserDirectory interface {
	UserByID(ctx context.Context, id string) (chat.User, error)
}

// PeerLink is the ephemeral bookkeeping for one ordered offer/answer pair.
// Purely observational: the relay path never consults it, negotiation state
// lives at the endpoints, and links die with the call.
type PeerLink struct {
	From              string
	To                string
	OfferAt           time.Time
	AnswerAt          time.Time
	CandidatesRelayed int
}

// CallSnapshot is a point-in-time copy of an active call for introspection.
type CallSnapshot struct {
	Call         chat.Call
	Participants []chat.CallParticipant
	Links        []PeerLink
}

type peerKey struct {
	from string
	to   string
}

type activeCall struct {
	call         chat.Call
	invitees     map[string]struct{}
	participants map[string]*chat.CallParticipant
	links        map[peerKey]*PeerLink
}

func (a *activeCall) link(from, to string) *PeerLink {
	k := peerKey{from: from, to: to}
	l, ok := a.links[k]
	if !ok {
		l = &PeerLink{From: from, To: to}
		a.links[k] = l
	}
	return l
}

// scope is every identity that hears call lifecycle events: the initiator,
// all invitees, and anyone joined.
func (a *activeCall) scope() []string {
	seen := make(map[string]struct{}, len(a.invitees)+len(a.participants)+1)
	out := make([]string, 0, len(a.invitees)+len(a.participants)+1)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(a.call.InitiatorID)
	for id := range a.invitees {
		add(id)
	}
	for id := range a.participants {
		add(id)
	}
	return out
}

// Coordinator runs the per-call state machine:
//
//	initiated -> ringing -> active -> ended
//
// with declined and missed as alternate terminals reachable before active.
// Invalid transitions are silent no-ops; nothing here surfaces hard failures
// to the wire beyond the absence of expected events.
//
// Active calls live in memory for routing; the durable store holds the
// historical record and is updated on every transition. A call that never
// reaches a terminal state stays ringing until somebody ends or declines it.
type Coordinator struct {
	log      *slog.Logger
	registry *Registry
	store    CallStore
	roster   Roster
	users    UserDirectory
	metrics  *Metrics

	mu     sync.Mutex
	active map[string]*activeCall
}

// NewCoordinator constructs the call coordinator.
func NewCoordinator(log *slog.Logger, registry *Registry, store CallStore, roster Roster, users UserDirectory, metrics *Metrics) *Coordinator {
	return &Coordinator{
		log:      log,
		registry: registry,
		store:    store,
		roster:   roster,
		users:    users,
		metrics:  metrics,
		active:   make(map[string]*activeCall),
	}
}

// Start creates a call, adds the initiator as its first participant, and
// rings everyone else. The call moves initiated -> ringing only when at
// least one invitee was reachable.
func (c *Coordinator) Start(ctx context.Context, initiatorID string, req v1.StartCallPayload) (chat.Call, error) {
	callType := chat.CallType(req.CallType)
	if callType != chat.CallVoice && callType != chat.CallVideo {
		return chat.Call{}, fmt.Errorf("start call: bad type %q: %w", req.CallType, chat.ErrInvalidInput)
	}

	invitees, err := c.resolveInvitees(ctx, initiatorID, req)
	if err != nil {
		return chat.Call{}, err
	}

	now := time.Now().UTC()
	call := chat.Call{
		ID:             chat.NewID(),
		ConversationID: req.ConversationID,
		InitiatorID:    initiatorID,
		Type:           callType,
		Status:         chat.CallInitiated,
		CreatedAt:      now,
	}
	if err := c.store.CreateCall(ctx, call); err != nil {
		return chat.Call{}, fmt.Errorf("persist call: %w", err)
	}

	self := chat.CallParticipant{CallID: call.ID, UserID: initiatorID, JoinedAt: now}
	if err := c.store.AddCallParticipant(ctx, self); err != nil {
		c.log.Error("call.participant.persist.fail", "call_id", call.ID, "user_id", initiatorID, "err", err)
	}

	ac := &activeCall{
		call:         call,
		invitees:     make(map[string]struct{}, len(invitees)),
		participants: map[string]*chat.CallParticipant{initiatorID: &self},
		links:        make(map[peerKey]*PeerLink),
	}
	for _, id := range invitees {
		ac.invitees[id] = struct{}{}
	}

	c.mu.Lock()
	c.active[call.ID] = ac
	c.mu.Unlock()
	c.metrics.CallStarted()

	delivered := c.registry.Broadcast(invitees, v1.EventIncomingCall, v1.IncomingCallPayload{
		Call:      CallInfoOf(call),
		Initiator: c.userSummary(ctx, initiatorID),
	})

	// Only stamp ringing if nobody raced the state forward meanwhile.
	ringed := false
	c.mu.Lock()
	if delivered > 0 && ac.call.Status == chat.CallInitiated {
		ac.call.Status = chat.CallRinging
		ringed = true
	}
	snapshot := ac.call
	c.mu.Unlock()

	if ringed {
		if err := c.store.UpdateCall(ctx, snapshot); err != nil {
			c.log.Error("call.persist.fail", "call_id", call.ID, "status", snapshot.Status, "err", err)
		}
	}

	c.registry.Send(initiatorID, v1.EventCallStarted, v1.CallStartedPayload{Call: CallInfoOf(snapshot)})
	c.log.Info("call.start", "call_id", call.ID, "initiator", initiatorID, "type", callType,
		"invited", len(invitees), "reachable", delivered)
	return snapshot, nil
}

func (c *Coordinator) resolveInvitees(ctx context.Context, initiatorID string, req v1.StartCallPayload) ([]string, error) {
	if req.ConversationID != "" {
		members, err := c.roster.ParticipantIDs(ctx, req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("resolve invitees: %w", err)
		}
		out := make([]string, 0, len(members))
		for _, id := range members {
			if id != initiatorID {
				out = append(out, id)
			}
		}
		return out, nil
	}

	// Ad hoc call: the client names the invitees directly.
	seen := make(map[string]struct{}, len(req.ParticipantIDs))
	out := make([]string, 0, len(req.ParticipantIDs))
	for _, id := range req.ParticipantIDs {
		if id == "" || id == initiatorID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Accept joins an invited identity. The first accept flips the call active
// and stamps StartedAt; later accepts join without re-stamping. Accepting a
// terminal or unknown call, or one the identity was never invited to, is a
// no-op.
func (c *Coordinator) Accept(ctx context.Context, userID, callID string) {
	now := time.Now().UTC()

	c.mu.Lock()
	ac, ok := c.active[callID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("call.accept.unknown", "call_id", callID, "user_id", userID)
		return
	}
	if ac.call.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	if _, invited := ac.invitees[userID]; !invited {
		c.mu.Unlock()
		c.log.Debug("call.accept.notinvited", "call_id", callID, "user_id", userID)
		return
	}
	if _, joined := ac.participants[userID]; joined {
		c.mu.Unlock()
		return
	}

	part := &chat.CallParticipant{CallID: callID, UserID: userID, JoinedAt: now}
	ac.participants[userID] = part

	first := false
	if ac.call.Status == chat.CallInitiated || ac.call.Status == chat.CallRinging {
		ac.call.Status = chat.CallActive
		ac.call.StartedAt = &now
		first = true
	}
	partCopy := *part
	call := ac.call
	scope := ac.scope()
	c.mu.Unlock()

	if err := c.store.AddCallParticipant(ctx, partCopy); err != nil {
		c.log.Error("call.participant.persist.fail", "call_id", callID, "user_id", userID, "err", err)
	}
	if first {
		if err := c.store.UpdateCall(ctx, call); err != nil {
			c.log.Error("call.persist.fail", "call_id", callID, "status", call.Status, "err", err)
		}
	}

	c.registry.Broadcast(scope, v1.EventCallAccepted, v1.CallAcceptedPayload{
		CallID: callID,
		UserID: userID,
		Call:   CallInfoOf(call),
	})
	c.log.Info("call.accept", "call_id", callID, "user_id", userID, "first", first)
}

// Decline terminates a not-yet-active call. Only an invited identity that
// has not joined can decline, and only while initiated/ringing; anything
// else is a strict no-op with no duplicate broadcast.
func (c *Coordinator) Decline(ctx context.Context, userID, callID string) {
	now := time.Now().UTC()

	c.mu.Lock()
	ac, ok := c.active[callID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("call.decline.unknown", "call_id", callID, "user_id", userID)
		return
	}
	if st := ac.call.Status; st != chat.CallInitiated && st != chat.CallRinging {
		c.mu.Unlock()
		c.log.Debug("call.decline.ignored", "call_id", callID, "user_id", userID, "status", st)
		return
	}
	if _, invited := ac.invitees[userID]; !invited {
		c.mu.Unlock()
		c.log.Debug("call.decline.notinvited", "call_id", callID, "user_id", userID)
		return
	}
	if _, joined := ac.participants[userID]; joined {
		c.mu.Unlock()
		return
	}

	ac.call.Status = chat.CallDeclined
	ac.call.EndedAt = &now
	call := ac.call
	scope := ac.scope()
	delete(c.active, callID)
	c.mu.Unlock()

	c.metrics.CallFinished(chat.CallDeclined)
	if err := c.store.UpdateCall(ctx, call); err != nil {
		c.log.Error("call.persist.fail", "call_id", callID, "status", call.Status, "err", err)
	}

	c.registry.Broadcast(scope, v1.EventCallDeclined, v1.CallDeclinedPayload{CallID: callID, UserID: userID})
	c.log.Info("call.decline", "call_id", callID, "user_id", userID)
}

// End terminates a call from any joined participant (or the initiator, who
// may cancel before anyone answers). An active call ends as ended with its
// duration in whole seconds; a call that never went active ends as missed
// with duration 0.
func (c *Coordinator) End(ctx context.Context, userID, callID string) {
	c.end(ctx, userID, callID, false)
}

// ForceEnd is End without the membership check, for administrative
// termination. The HTTP layer owns the authorization decision.
func (c *Coordinator) ForceEnd(ctx context.Context, endedBy, callID string) {
	c.end(ctx, endedBy, callID, true)
}

func (c *Coordinator) end(ctx context.Context, userID, callID string, force bool) {
	now := time.Now().UTC()

	c.mu.Lock()
	ac, ok := c.active[callID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("call.end.unknown", "call_id", callID, "user_id", userID)
		return
	}
	if ac.call.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	if !force {
		_, joined := ac.participants[userID]
		if !joined && ac.call.InitiatorID != userID {
			c.mu.Unlock()
			c.log.Debug("call.end.notmember", "call_id", callID, "user_id", userID)
			return
		}
	}

	outcome := chat.CallMissed
	if ac.call.Status == chat.CallActive {
		outcome = chat.CallEnded
		if ac.call.StartedAt != nil {
			d := int64(now.Sub(*ac.call.StartedAt) / time.Second)
			if d < 0 {
				d = 0
			}
			ac.call.DurationSeconds = d
		}
	}
	ac.call.Status = outcome
	ac.call.EndedAt = &now

	leavers := make([]chat.CallParticipant, 0, len(ac.participants))
	for _, p := range ac.participants {
		if p.LeftAt == nil {
			p.LeftAt = &now
			leavers = append(leavers, *p)
		}
	}
	call := ac.call
	scope := ac.scope()
	delete(c.active, callID)
	c.mu.Unlock()

	c.metrics.CallFinished(outcome)
	if err := c.store.UpdateCall(ctx, call); err != nil {
		c.log.Error("call.persist.fail", "call_id", callID, "status", call.Status, "err", err)
	}
	for _, p := range leavers {
		if err := c.store.UpdateCallParticipant(ctx, p); err != nil {
			c.log.Error("call.participant.persist.fail", "call_id", callID, "user_id", p.UserID, "err", err)
		}
	}

	c.registry.Broadcast(scope, v1.EventCallEnded, v1.CallEndedPayload{
		CallID:          callID,
		EndedBy:         userID,
		DurationSeconds: call.DurationSeconds,
	})
	c.log.Info("call.end", "call_id", callID, "ended_by", userID, "outcome", outcome, "duration_s", call.DurationSeconds)
}

// SetMuted, SetVideoOff, and SetScreenSharing update one participant's media
// flags and tell everyone else. Explicit target states, so duplicates are
// harmless; call status never changes.
func (c *Coordinator) SetMuted(ctx context.Context, userID, callID string, muted bool) {
	c.setMedia(ctx, userID, callID, func(p *chat.CallParticipant) { p.Muted = muted })
}

func (c *Coordinator) SetVideoOff(ctx context.Context, userID, callID string, videoOff bool) {
	c.setMedia(ctx, userID, callID, func(p *chat.CallParticipant) { p.VideoOff = videoOff })
}

func (c *Coordinator) SetScreenSharing(ctx context.Context, userID, callID string, sharing bool) {
	c.setMedia(ctx, userID, callID, func(p *chat.CallParticipant) { p.ScreenSharing = sharing })
}

func (c *Coordinator) setMedia(ctx context.Context, userID, callID string, apply func(*chat.CallParticipant)) {
	c.mu.Lock()
	ac, ok := c.active[callID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("call.media.unknown", "call_id", callID, "user_id", userID)
		return
	}
	if ac.call.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	p, joined := ac.participants[userID]
	if !joined || p.LeftAt != nil {
		c.mu.Unlock()
		c.log.Debug("call.media.notmember", "call_id", callID, "user_id", userID)
		return
	}
	apply(p)
	cp := *p
	scope := ac.scope()
	c.mu.Unlock()

	if err := c.store.UpdateCallParticipant(ctx, cp); err != nil {
		c.log.Error("call.participant.persist.fail", "call_id", callID, "user_id", userID, "err", err)
	}

	c.registry.BroadcastExcept(scope, userID, v1.EventParticipantMediaChanged, v1.ParticipantMediaChangedPayload{
		CallID:        callID,
		UserID:        userID,
		Muted:         cp.Muted,
		VideoOff:      cp.VideoOff,
		ScreenSharing: cp.ScreenSharing,
	})
}

// NoteRelay records PeerLink bookkeeping when a relayed payload names a call.
// Offers key the (from, to) pair, answers complete the reverse pair, and
// candidates count against whichever orientation exists.
func (c *Coordinator) NoteRelay(fromUserID, toUserID string, event v1.EventType, callID string) {
	if callID == "" || fromUserID == "" || toUserID == "" {
		return
	}
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	ac, ok := c.active[callID]
	if !ok {
		return
	}

	switch event {
	case v1.EventWebRTCOffer:
		l := ac.link(fromUserID, toUserID)
		if l.OfferAt.IsZero() {
			l.OfferAt = now
		}
	case v1.EventWebRTCAnswer:
		l := ac.link(toUserID, fromUserID)
		if l.AnswerAt.IsZero() {
			l.AnswerAt = now
		}
	case v1.EventICECandidate:
		if l, ok := ac.links[peerKey{from: fromUserID, to: toUserID}]; ok {
			l.CandidatesRelayed++
		} else if l, ok := ac.links[peerKey{from: toUserID, to: fromUserID}]; ok {
			l.CandidatesRelayed++
		} else {
			ac.link(fromUserID, toUserID).CandidatesRelayed = 1
		}
	}
}

// Snapshot returns a copy of an active call's routing state, or false when
// the call is unknown or already finished.
func (c *Coordinator) Snapshot(callID string) (CallSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac, ok := c.active[callID]
	if !ok {
		return CallSnapshot{}, false
	}

	snap := CallSnapshot{Call: ac.call}
	for _, p := range ac.participants {
		snap.Participants = append(snap.Participants, *p)
	}
	sort.Slice(snap.Participants, func(i, j int) bool {
		if !snap.Participants[i].JoinedAt.Equal(snap.Participants[j].JoinedAt) {
			return snap.Participants[i].JoinedAt.Before(snap.Participants[j].JoinedAt)
		}
		return snap.Participants[i].UserID < snap.Participants[j].UserID
	})
	for _, l := range ac.links {
		snap.Links = append(snap.Links, *l)
	}
	sort.Slice(snap.Links, func(i, j int) bool {
		if snap.Links[i].From != snap.Links[j].From {
			return snap.Links[i].From < snap.Links[j].From
		}
		return snap.Links[i].To < snap.Links[j].To
	})
	return snap, true
}

func (c *Coordinator) userSummary(ctx context.Context, userID string) v1.UserSummary {
	u, err := c.users.UserByID(ctx, userID)
	if err != nil {
		c.log.Warn("call.user.lookup.fail", "user_id", userID, "err", err)
		return v1.UserSummary{ID: userID}
	}
	return v1.UserSummary{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}

// CallInfoOf converts a call record to its wire view.
func CallInfoOf(c chat.Call) v1.CallInfo {
	return v1.CallInfo{
		ID:              c.ID,
		ConversationID:  c.ConversationID,
		InitiatorID:     c.InitiatorID,
		Type:            string(c.Type),
		Status:          string(c.Status),
		CreatedAt:       c.CreatedAt,
		StartedAt:       c.StartedAt,
		EndedAt:         c.EndedAt,
		DurationSeconds: c.DurationSeconds,
	}
}

// CallParticipantInfoOf converts a participant record to its wire view.
func CallParticipantInfoOf(p chat.CallParticipant) v1.CallParticipantInfo {
	return v1.CallParticipantInfo{
		UserID:        p.UserID,
		Muted:         p.Muted,
		VideoOff:      p.VideoOff,
		ScreenSharing: p.ScreenSharing,
		JoinedAt:      p.JoinedAt,
		LeftAt:        p.LeftAt,
	}
}
