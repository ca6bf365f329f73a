package errors

import (
	"errors"
	"fmt"
)

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrCoordinatorStopped = fmt.Errorf("coordinator stopped")

	ErrInvalidRole        = fmt.Errorf("invalid role")
	ErrUnregistered       = fmt.Errorf("connection is not registered")
	ErrInvalidTarget      = fmt.Errorf("invalid call target")
	ErrAlreadyInCall      = fmt.Errorf("participant already in call")
	ErrInvalidSession     = fmt.Errorf("invalid session")
	ErrPeerUnreachable    = fmt.Errorf("peer unreachable")
	ErrRequestTimeout     = fmt.Errorf("call request timeout")
	ErrNegotiationTimeout = fmt.Errorf("call negotiation timeout")
	ErrMediaError         = fmt.Errorf("media error")
	ErrPersistenceFailure = fmt.Errorf("persistence failure")

	ErrInvalidPayload    = fmt.Errorf("invalid payload")
	ErrUnknownEvent      = fmt.Errorf("unknown event")
	ErrUnauthenticated   = fmt.Errorf("unauthenticated")
	ErrConnectionClosed  = fmt.Errorf("connection closed")
	ErrSlowConsumer      = fmt.Errorf("connection send buffer full")
	ErrCallLogNotFound   = fmt.Errorf("call log not found")
	ErrInvalidIceServers = fmt.Errorf("invalid ice servers configuration")
)

// Wire codes sent back to clients in acks and error events.
const (
	CodeInvalidRole     = "INVALID_ROLE"
	CodeUnregistered    = "UNREGISTERED"
	CodeInvalidTarget   = "INVALID_TARGET"
	CodeAlreadyInCall   = "ALREADY_IN_CALL"
	CodeInvalidSession  = "INVALID_SESSION"
	CodePeerUnreachable = "PEER_UNREACHABLE"
	CodeInvalidPayload  = "INVALID_PAYLOAD"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeUnknownEvent    = "UNKNOWN_EVENT"
	CodeUnavailable     = "UNAVAILABLE"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidRole, CodeInvalidRole},
	{ErrUnregistered, CodeUnregistered},
	{ErrInvalidTarget, CodeInvalidTarget},
	{ErrAlreadyInCall, CodeAlreadyInCall},
	{ErrInvalidSession, CodeInvalidSession},
	{ErrPeerUnreachable, CodePeerUnreachable},
	{ErrInvalidPayload, CodeInvalidPayload},
	{ErrUnauthenticated, CodeUnauthenticated},
	{ErrUnknownEvent, CodeUnknownEvent},
}

// Code maps an error to its wire code. Anything outside the protocol taxonomy
// (stopped coordinator, expired context...) is reported as UNAVAILABLE.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnavailable
}
