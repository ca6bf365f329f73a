package domain

import "encoding/json"

type SignalKind string

const (
	SignalOffer        SignalKind = "call-offer"
	SignalAnswer       SignalKind = "call-answer"
	SignalIceCandidate SignalKind = "ice-candidate"
	SignalMediaReady   SignalKind = "media-ready"
	SignalMediaError   SignalKind = "media-error"
)

// IsNegotiation reports whether the signal is one of the opaque WebRTC
// negotiation messages forwarded to the peer untouched.
func (k SignalKind) IsNegotiation() bool {
	return k == SignalOffer || k == SignalAnswer || k == SignalIceCandidate
}

// SessionRef designates a session either explicitly or through the sender's
// current session and peer.
type SessionRef struct {
	SessionID string
	TargetID  string
}

// Signal is a relay request. Payload is never interpreted.
type Signal struct {
	Kind SignalKind
	SessionRef
	Payload json.RawMessage
}
