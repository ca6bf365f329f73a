package runtime

import (
	"care-signal/domain"
	"care-signal/errors"
	"care-signal/observability"
	"fmt"
	"log/slog"
)

// Relay forwards negotiation messages between the two members of a session.
// It never looks inside SDP or ICE payloads.
type Relay struct {
	log        *slog.Logger
	registry   *Registry
	sessions   *SessionManager
	monitoring *observability.MonitoringManager
}

func NewRelay(log *slog.Logger, registry *Registry, sessions *SessionManager, monitoring *observability.MonitoringManager) *Relay {
	return &Relay{log: log, registry: registry, sessions: sessions, monitoring: monitoring}
}

// Handle routes a signal from an already resolved sender. Media readiness and
// media errors drive the session state, the rest is forwarded verbatim.
func (r *Relay) Handle(sender domain.Participant, signal domain.Signal) error {
	switch {
	case signal.Kind.IsNegotiation():
		return r.forward(sender, signal)
	case signal.Kind == domain.SignalMediaReady:
		return r.sessions.MediaReady(sender, signal.SessionRef)
	case signal.Kind == domain.SignalMediaError:
		return r.sessions.MediaError(sender, signal.SessionRef, signal.Payload)
	default:
		return fmt.Errorf("%w: %s", errors.ErrUnknownEvent, signal.Kind)
	}
}

func (r *Relay) forward(sender domain.Participant, signal domain.Signal) error {
	session, err := r.sessions.lookup(sender.UserID, signal.SessionRef)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusNegotiating && session.Status != domain.StatusActive {
		return fmt.Errorf("%w: %s not allowed in %s", errors.ErrInvalidSession, signal.Kind, session.Status)
	}
	targetID, _ := session.PeerOf(sender.UserID)

	conn, ok := r.registry.Connection(targetID)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrPeerUnreachable, targetID)
	}

	payload := domain.SignalPayload{From: sender.UserID, SessionID: session.ID}
	if signal.Kind == domain.SignalIceCandidate {
		payload.Candidate = signal.Payload
	} else {
		payload.SDP = signal.Payload
	}
	if err := conn.Send(domain.Event{Name: domain.EventName(signal.Kind), Data: payload}); err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrPeerUnreachable, targetID, err)
	}

	r.monitoring.IncrRelayed()
	r.log.Debug("Signal relayed",
		"kind", signal.Kind, "session_id", session.ID, "from", sender.UserID, "to", targetID)
	return nil
}
