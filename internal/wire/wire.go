// Package wire defines the realtime protocol spoken between the server's
// TCP endpoint and clients: a closed set of tagged signal kinds with typed
// payloads, carried in length-framed CBOR envelopes.
//
// Every inbound request may carry a correlation id; the matching ack echoes
// it so the client can resolve exactly one pending request per reply.
// Unsolicited events (fan-out, presence broadcasts) carry id 0.
package wire

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Kind tags a signal. The set is closed: envelopes with an unknown kind are
// rejected at the boundary before any handler sees them.
type Kind string

// Signals accepted from a connection.
const (
	KindAuthenticate     Kind = "authenticate"
	KindJoin             Kind = "join" // legacy unverified attach
	KindGetOnlineUsers   Kind = "get_online_users"
	KindPrivateMessage   Kind = "private_message"
	KindTyping           Kind = "typing"
	KindMarkRead         Kind = "mark_read"
	KindCallOffer        Kind = "call_offer"
	KindCallAnswer       Kind = "call_answer"
	KindCallICECandidate Kind = "call_ice_candidate"
	KindCallEnd          Kind = "call_end"
	KindCallDecline      Kind = "call_decline"
)

// Signals emitted to connections. KindPrivateMessage, KindTyping and
// KindCallICECandidate are emitted under their inbound names.
const (
	KindAck                   Kind = "ack"
	KindUserOnline            Kind = "user_online"
	KindUserOffline           Kind = "user_offline"
	KindMessagesRead          Kind = "messages_read"
	KindReceiptRead           Kind = "receipt_read"
	KindIncomingCall          Kind = "incoming_call"
	KindOutgoingCall          Kind = "outgoing_call"
	KindCallAnswered          Kind = "call_answered"
	KindCallAnsweredElsewhere Kind = "call_answered_elsewhere"
	KindCallDeclined          Kind = "call_declined"
	KindCallDeclinedElsewhere Kind = "call_declined_elsewhere"
	KindCallEnded             Kind = "call_ended"
	KindCallError             Kind = "call_error"
	KindErrorMessage          Kind = "error_message"
	KindAuthError             Kind = "auth_error"
	KindTokenExpired          Kind = "token_expired"
	KindDeviceConnected       Kind = "device_connected"
	KindDeviceDisconnected    Kind = "device_disconnected"
)

// Auth error codes carried by AuthErrorPayload so clients can decide
// between refreshing the token and forcing a logout.
const (
	AuthCodeTokenExpired   = "TOKEN_EXPIRED"
	AuthCodeTokenInvalid   = "TOKEN_INVALID"
	AuthCodeSessionRevoked = "SESSION_REVOKED"
)

// Call error codes carried by CallErrorPayload.
const (
	CallCodeUserOffline  = "USER_OFFLINE"
	CallCodeNotFound     = "CALL_NOT_FOUND"
	CallCodeUnauthorized = "CALL_UNAUTHORIZED"
	CallCodeEnded        = "CALL_ALREADY_ENDED"
	CallCodeInternal     = "CALL_INTERNAL"
)

// Envelope is the unit framed onto the connection.
type Envelope struct {
	Kind    Kind            `cbor:"kind"`
	ID      uint64          `cbor:"id,omitempty"`
	Payload cbor.RawMessage `cbor:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it with kind and correlation id.
// A nil payload produces an envelope with no payload bytes.
func NewEnvelope(kind Kind, id uint64, payload any) (*Envelope, error) {
	env := &Envelope{Kind: kind, ID: id}
	if payload != nil {
		b, err := cbor.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		env.Payload = b
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into T, rejecting empty and
// malformed payloads so handlers never see a partially-filled shape.
func DecodePayload[T any](env *Envelope) (*T, error) {
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%s: missing payload", env.Kind)
	}
	var p T
	if err := cbor.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%s: malformed payload: %w", env.Kind, err)
	}
	return &p, nil
}

// --- client → server payloads ---

type AuthenticatePayload struct {
	Token  string `cbor:"token"`
	Device string `cbor:"device,omitempty"`
}

// JoinPayload is the legacy unverified attach: the client asserts an
// identity and the server takes it at face value.
type JoinPayload struct {
	UserID string `cbor:"user_id"`
	Device string `cbor:"device,omitempty"`
}

type PrivateMessagePayload struct {
	Sender   string `cbor:"sender"`
	Receiver string `cbor:"receiver"`
	Content  string `cbor:"content"`
	// ClientMessageID is the sender's temporary id, echoed on the ack so
	// the client can swap it for the persisted id.
	ClientMessageID string `cbor:"client_message_id,omitempty"`
}

type TypingPayload struct {
	Sender   string `cbor:"sender"`
	Receiver string `cbor:"receiver"`
}

type MarkReadPayload struct {
	UserID      string `cbor:"user_id"`
	OtherUserID string `cbor:"other_user_id"`
}

type CallOfferPayload struct {
	CallID   string          `cbor:"call_id"`
	CalleeID string          `cbor:"callee_id"`
	Offer    cbor.RawMessage `cbor:"offer"`
}

type CallAnswerPayload struct {
	CallID string          `cbor:"call_id"`
	Answer cbor.RawMessage `cbor:"answer"`
}

type CallICECandidatePayload struct {
	CallID    string          `cbor:"call_id"`
	Candidate cbor.RawMessage `cbor:"candidate"`
}

type CallEndPayload struct {
	CallID string `cbor:"call_id"`
}

type CallDeclinePayload struct {
	CallID string `cbor:"call_id"`
}

// --- server → client payloads ---

// AuthAckPayload answers an authenticate or join request.
type AuthAckPayload struct {
	Success bool   `cbor:"success"`
	UserID  string `cbor:"user_id,omitempty"`
	Error   string `cbor:"error,omitempty"`
}

// OnlineUsersPayload answers get_online_users.
type OnlineUsersPayload struct {
	Users []string `cbor:"users"`
}

// MessagePayload carries one persisted chat message: fan-out events to the
// receiver and to the sender's other devices both use it.
type MessagePayload struct {
	ID        string              `cbor:"id"`
	Sender    string              `cbor:"sender"`
	Receiver  string              `cbor:"receiver"`
	Content   string              `cbor:"content"`
	Read      bool                `cbor:"read"`
	Kind      string              `cbor:"kind"`
	Call      *CallOutcomePayload `cbor:"call,omitempty"`
	CreatedAt time.Time           `cbor:"created_at"`
}

// CallOutcomePayload is the structured body of a call-history message.
type CallOutcomePayload struct {
	Status    string    `cbor:"status"`
	Duration  int64     `cbor:"duration"` // seconds
	StartedAt time.Time `cbor:"started_at"`
	EndedAt   time.Time `cbor:"ended_at"`
}

// MessageAckPayload is the direct reply to the originating connection,
// carrying the authoritative persisted id.
type MessageAckPayload struct {
	ID              string    `cbor:"id"`
	ClientMessageID string    `cbor:"client_message_id,omitempty"`
	CreatedAt       time.Time `cbor:"created_at"`
}

type TypingEventPayload struct {
	Sender string `cbor:"sender"`
}

// MarkReadAckPayload answers mark_read with the number of rows flipped.
type MarkReadAckPayload struct {
	Updated int64 `cbor:"updated"`
}

// MessagesReadPayload tells the reader's other devices that a conversation
// was read there.
type MessagesReadPayload struct {
	UserID      string `cbor:"user_id"`
	OtherUserID string `cbor:"other_user_id"`
}

// ReceiptReadPayload tells the original sender that the counterpart read
// their messages.
type ReceiptReadPayload struct {
	ReaderID string `cbor:"reader_id"`
}

type UserOnlinePayload struct {
	UserID string `cbor:"user_id"`
}

type UserOfflinePayload struct {
	UserID string `cbor:"user_id"`
}

type DeviceConnectedPayload struct {
	Device string `cbor:"device"`
}

type DeviceDisconnectedPayload struct {
	Device string `cbor:"device"`
}

type IncomingCallPayload struct {
	CallID   string          `cbor:"call_id"`
	CallerID string          `cbor:"caller_id"`
	Offer    cbor.RawMessage `cbor:"offer"`
}

// OutgoingCallPayload notifies the caller's other devices of a call placed
// elsewhere.
type OutgoingCallPayload struct {
	CallID   string `cbor:"call_id"`
	CalleeID string `cbor:"callee_id"`
}

type CallAnsweredPayload struct {
	CallID string          `cbor:"call_id"`
	Answer cbor.RawMessage `cbor:"answer"`
}

type CallAnsweredElsewherePayload struct {
	CallID string `cbor:"call_id"`
}

type CallDeclinedPayload struct {
	CallID string `cbor:"call_id"`
}

type CallDeclinedElsewherePayload struct {
	CallID string `cbor:"call_id"`
}

type CallEndedPayload struct {
	CallID   string `cbor:"call_id"`
	Duration int64  `cbor:"duration"` // seconds
}

// CallAckPayload answers call_offer/call_answer/call_end/call_decline.
type CallAckPayload struct {
	CallID  string `cbor:"call_id"`
	Status  string `cbor:"status"`
	Success bool   `cbor:"success"`
	Error   string `cbor:"error,omitempty"`
}

type CallErrorPayload struct {
	CallID string `cbor:"call_id,omitempty"`
	Code   string `cbor:"code"`
	Error  string `cbor:"error"`
}

type ErrorPayload struct {
	Error string `cbor:"error"`
}

type AuthErrorPayload struct {
	Code  string `cbor:"code"`
	Error string `cbor:"error"`
}

// TokenExpiredPayload precedes a forced disconnect so clients can tell it
// apart from a network-level drop.
type TokenExpiredPayload struct {
	Reason string `cbor:"reason"`
}
