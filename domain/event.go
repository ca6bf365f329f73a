package domain

import (
	"encoding/json"
	"time"
)

// EventName is the name of a frame exchanged with clients.
type EventName string

// Client to server.
const (
	EventRegister     EventName = "register"
	EventCallRequest  EventName = "call-request"
	EventAcceptCall   EventName = "accept-call"
	EventRejectCall   EventName = "call-reject"
	EventCallOffer    EventName = EventName(SignalOffer)
	EventCallAnswer   EventName = EventName(SignalAnswer)
	EventIceCandidate EventName = EventName(SignalIceCandidate)
	EventMediaReady   EventName = EventName(SignalMediaReady)
	EventMediaError   EventName = EventName(SignalMediaError)
	EventEndCall      EventName = "end-call"
)

// Server to client.
const (
	EventAck                    EventName = "ack"
	EventError                  EventName = "error"
	EventRegistrationSuccess    EventName = "registration-success"
	EventRegistrationError      EventName = "registration-error"
	EventIncomingCallRequest    EventName = "incoming-call-request"
	EventCallAccepted           EventName = "call-accepted"
	EventCallRejected           EventName = "call-rejected"
	EventCallActive             EventName = "call-active"
	EventCallEnded              EventName = "call-ended"
	EventCallError              EventName = "call-error"
	EventCallFailed             EventName = "call-failed"
	EventCallRequestTimeout     EventName = "call-request-timeout"
	EventCallNegotiationTimeout EventName = "call-negotiation-timeout"
	EventUserOnline             EventName = "user-online"
	EventUserOffline            EventName = "user-offline"
)

// ReasonDisconnected is the call-ended reason when a member's connection dropped.
const ReasonDisconnected = "disconnected"

// Event is an outbound frame for a single connection. ID is only set on
// acknowledgements and echoes the id of the client frame.
type Event struct {
	Name EventName
	ID   *int64
	Data any
}

// AckPayload answers a client frame that carried an id.
type AckPayload struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// ErrorPayload reports a frame the server could not process.
type ErrorPayload struct {
	Error string    `json:"error"`
	Code  string    `json:"code,omitempty"`
	Event EventName `json:"event,omitempty"`
}

// RegistrationPayload follows a register frame.
type RegistrationPayload struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

type IncomingCallPayload struct {
	From       string      `json:"from"`
	SessionID  string      `json:"sessionId"`
	IceServers []IceServer `json:"iceServers,omitempty"`
}

type CallAcceptedPayload struct {
	From       string      `json:"from"`
	SessionID  string      `json:"sessionId"`
	IceServers []IceServer `json:"iceServers,omitempty"`
}

type CallRejectedPayload struct {
	From      string `json:"from"`
	SessionID string `json:"sessionId"`
}

type CallActivePayload struct {
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
}

type CallEndedPayload struct {
	From      string `json:"from,omitempty"`
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
	Duration  *int64 `json:"duration,omitempty"` // seconds
}

type CallErrorPayload struct {
	From      string          `json:"from"`
	SessionID string          `json:"sessionId"`
	Error     json.RawMessage `json:"error,omitempty"`
}

type CallFailedPayload struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

type TimeoutPayload struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId,omitempty"`
}

// SignalPayload is what the receiving peer gets for a relayed message. The
// negotiation body is carried verbatim.
type SignalPayload struct {
	From      string          `json:"from"`
	SessionID string          `json:"sessionId"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}
