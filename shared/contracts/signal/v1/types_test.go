package v1

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEnvelope_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     Envelope
		wantErr string
	}{
		{
			name: "known type with payload",
			env:  Envelope{Type: EventTyping, Payload: json.RawMessage(`{"conversationId":"c1","isTyping":true}`)},
		},
		{
			name: "unknown type still passes structural validation",
			env:  Envelope{Type: "future-event", Payload: json.RawMessage(`{}`)},
		},
		{
			name:    "missing type",
			env:     Envelope{Payload: json.RawMessage(`{}`)},
			wantErr: "type",
		},
		{
			name:    "blank type",
			env:     Envelope{Type: "   ", Payload: json.RawMessage(`{}`)},
			wantErr: "type",
		},
		{
			name:    "missing payload",
			env:     Envelope{Type: EventUserOnline},
			wantErr: "payload",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() = %q, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestEventType_Known(t *testing.T) {
	t.Parallel()

	known := []EventType{
		EventUserOnline, EventTyping,
		EventStartCall, EventAcceptCall, EventDeclineCall, EventEndCall,
		EventToggleMute, EventToggleVideo, EventToggleScreenShare,
		EventWebRTCOffer, EventWebRTCAnswer, EventICECandidate,
		EventWelcome, EventUserStatusChanged, EventTypingStatus, EventUserTyping,
		EventIncomingCall, EventCallStarted, EventCallAccepted, EventCallDeclined,
		EventCallEnded, EventParticipantMediaChanged,
		EventNewMessage, EventMessageUpdated, EventMessageDeleted,
		EventMessagePinned, EventMessageUnpinned, EventMessageReactionsUpdated,
		EventMessageRead,
		EventNewConversation, EventConversationUpdated, EventConversationDeleted,
		EventNewParticipant, EventParticipantKicked, EventParticipantRoleChanged,
		EventParticipantLeft,
	}
	for _, et := range known {
		if !et.Known() {
			t.Errorf("%q reported unknown", et)
		}
	}

	for _, et := range []EventType{"", "user_online", "USER-ONLINE", "sync-state"} {
		if et.Known() {
			t.Errorf("%q reported known", et)
		}
	}
}

func TestNewEnvelope_RoundTrip(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope(EventCallEnded, CallEndedPayload{
		CallID:          "call-1",
		EndedBy:         "user-1",
		DurationSeconds: 42,
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Type != EventCallEnded {
		t.Fatalf("type=%q want %q", env.Type, EventCallEnded)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("built envelope failed validation: %v", err)
	}

	wire, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(wire, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	var p CallEndedPayload
	if err := json.Unmarshal(decoded.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.CallID != "call-1" || p.EndedBy != "user-1" || p.DurationSeconds != 42 {
		t.Fatalf("payload round-trip mismatch: %+v", p)
	}
}

func TestNewEnvelope_MarshalError(t *testing.T) {
	t.Parallel()

	if _, err := NewEnvelope(EventNewMessage, func() {}); err == nil {
		t.Fatalf("expected marshal error for unmarshalable payload")
	}
}

func TestCallEndedPayload_WireFieldNames(t *testing.T) {
	t.Parallel()

	// Clients key off "duration"; a rename breaks deployed apps silently.
	raw, err := json.Marshal(CallEndedPayload{CallID: "c", EndedBy: "u", DurationSeconds: 7})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"callId", "endedBy", "duration"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing wire key %q in %s", key, raw)
		}
	}
}
