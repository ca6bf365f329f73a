package services

import (
	"care-signal/contract"
	"care-signal/domain"
	"care-signal/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// Frame is a client message: {"event": ..., "id"?: ..., "data"?: {...}}.
type Frame struct {
	Event domain.EventName `json:"event"`
	ID    *int64           `json:"id,omitempty"`
	Data  json.RawMessage  `json:"data,omitempty"`
}

type registerPayload struct {
	UserID string      `json:"userId" validate:"required,max=256,excludes=:"`
	Role   domain.Role `json:"role" validate:"required"`
}

type callRequestPayload struct {
	TargetID string `json:"targetId" validate:"required,max=256"`
}

type sessionRefPayload struct {
	TargetID  string `json:"targetId" validate:"max=256"`
	SessionID string `json:"sessionId" validate:"max=256"`
}

type sdpPayload struct {
	sessionRefPayload
	SDP json.RawMessage `json:"sdp" validate:"required"`
}

type icePayload struct {
	sessionRefPayload
	Candidate json.RawMessage `json:"candidate" validate:"required"`
}

type mediaErrorPayload struct {
	sessionRefPayload
	Error json.RawMessage `json:"error"`
}

// SignalingService turns client frames into coordinator calls and answers
// them with acks or error events.
type SignalingService struct {
	log            *slog.Logger
	coordinator    contract.ICoordinator
	validator      *validator.Validate
	commandTimeout time.Duration
}

func NewSignalingService(log *slog.Logger, coordinator contract.ICoordinator, commandTimeout time.Duration) *SignalingService {
	return &SignalingService{
		log:            log,
		coordinator:    coordinator,
		validator:      validator.New(),
		commandTimeout: commandTimeout,
	}
}

func (s *SignalingService) HandleFrame(ctx context.Context, conn contract.Connection, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		s.send(conn, domain.Event{Name: domain.EventError, Data: domain.ErrorPayload{
			Error: "invalid frame",
			Code:  errors.CodeInvalidPayload,
		}})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	sessionID, err := s.dispatch(ctx, conn, frame)
	if err != nil {
		s.log.Debug("Frame refused", "handle", conn.Handle(), "event", frame.Event, "error", err)
	}
	s.answer(conn, frame, sessionID, err)
}

// HandleClose reports the closed connection to the coordinator.
func (s *SignalingService) HandleClose(ctx context.Context, conn contract.Connection) {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()
	if err := s.coordinator.Disconnect(ctx, conn.Handle()); err != nil {
		s.log.Warn("Disconnect not processed", "handle", conn.Handle(), "error", err)
	}
}

func (s *SignalingService) dispatch(ctx context.Context, conn contract.Connection, frame Frame) (string, error) {
	handle := conn.Handle()
	switch frame.Event {
	case domain.EventRegister:
		var p registerPayload
		err := s.decode(frame, &p)
		if err == nil {
			err = s.register(ctx, conn, p)
		}
		s.sendRegistration(conn, p, err)
		return "", err

	case domain.EventCallRequest:
		var p callRequestPayload
		if err := s.decode(frame, &p); err != nil {
			return "", err
		}
		return s.coordinator.RequestCall(ctx, handle, p.TargetID)

	case domain.EventAcceptCall, domain.EventRejectCall, domain.EventEndCall:
		var p sessionRefPayload
		if err := s.decode(frame, &p); err != nil {
			return "", err
		}
		ref := p.ref()
		switch frame.Event {
		case domain.EventAcceptCall:
			return ref.SessionID, s.coordinator.AcceptCall(ctx, handle, ref)
		case domain.EventRejectCall:
			return ref.SessionID, s.coordinator.RejectCall(ctx, handle, ref)
		default:
			return ref.SessionID, s.coordinator.EndCall(ctx, handle, ref)
		}

	case domain.EventCallOffer, domain.EventCallAnswer:
		var p sdpPayload
		if err := s.decode(frame, &p); err != nil {
			return "", err
		}
		return "", s.relay(ctx, handle, domain.SignalKind(frame.Event), p.ref(), p.SDP)

	case domain.EventIceCandidate:
		var p icePayload
		if err := s.decode(frame, &p); err != nil {
			return "", err
		}
		return "", s.relay(ctx, handle, domain.SignalIceCandidate, p.ref(), p.Candidate)

	case domain.EventMediaReady:
		var p sessionRefPayload
		if err := s.decode(frame, &p); err != nil {
			return "", err
		}
		return "", s.relay(ctx, handle, domain.SignalMediaReady, p.ref(), nil)

	case domain.EventMediaError:
		var p mediaErrorPayload
		if err := s.decode(frame, &p); err != nil {
			return "", err
		}
		return "", s.relay(ctx, handle, domain.SignalMediaError, p.ref(), p.Error)

	default:
		return "", fmt.Errorf("%w: %s", errors.ErrUnknownEvent, frame.Event)
	}
}

func (s *SignalingService) register(ctx context.Context, conn contract.Connection, p registerPayload) error {
	if identity := conn.Identity(); identity != nil && !identity.Allows(p.UserID, p.Role) {
		return fmt.Errorf("%w: token does not grant %s as %s", errors.ErrUnauthenticated, p.UserID, p.Role)
	}
	return s.coordinator.Register(ctx, conn, p.UserID, p.Role)
}

func (s *SignalingService) relay(ctx context.Context, handle domain.ConnectionHandle,
	kind domain.SignalKind, ref domain.SessionRef, payload json.RawMessage) error {
	return s.coordinator.Relay(ctx, handle, domain.Signal{Kind: kind, SessionRef: ref, Payload: payload})
}

// decode reads the frame data into p and validates it. An absent data
// object is treated as empty.
func (s *SignalingService) decode(frame Frame, p any) error {
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, p); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
		}
	}
	if err := s.validator.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return nil
}

// answer acknowledges frames that carried an id. Without an id, failures are
// reported as a call-failed for call requests and an error event otherwise.
func (s *SignalingService) answer(conn contract.Connection, frame Frame, sessionID string, err error) {
	if frame.ID != nil {
		ack := domain.AckPayload{Success: err == nil, SessionID: sessionID}
		if err != nil {
			ack.Error = err.Error()
			ack.Code = errors.Code(err)
		}
		s.send(conn, domain.Event{Name: domain.EventAck, ID: frame.ID, Data: ack})
	}
	if err == nil {
		return
	}

	switch frame.Event {
	case domain.EventCallRequest:
		var p callRequestPayload
		_ = json.Unmarshal(frame.Data, &p)
		s.send(conn, domain.Event{Name: domain.EventCallFailed, Data: domain.CallFailedPayload{
			Error:    err.Error(),
			Code:     errors.Code(err),
			TargetID: p.TargetID,
		}})
	case domain.EventRegister:
		// registration-error already sent
	default:
		if frame.ID == nil {
			s.send(conn, domain.Event{Name: domain.EventError, Data: domain.ErrorPayload{
				Error: err.Error(),
				Code:  errors.Code(err),
				Event: frame.Event,
			}})
		}
	}
}

func (s *SignalingService) sendRegistration(conn contract.Connection, p registerPayload, err error) {
	payload := domain.RegistrationPayload{UserID: p.UserID, Role: p.Role}
	name := domain.EventRegistrationSuccess
	if err != nil {
		name = domain.EventRegistrationError
		payload.Error = err.Error()
		payload.Code = errors.Code(err)
	}
	s.send(conn, domain.Event{Name: name, Data: payload})
}

func (s *SignalingService) send(conn contract.Connection, evt domain.Event) {
	if err := conn.Send(evt); err != nil {
		s.log.Debug("Reply not delivered", "handle", conn.Handle(), "event", evt.Name, "error", err)
	}
}

func (p sessionRefPayload) ref() domain.SessionRef {
	return domain.SessionRef{SessionID: p.SessionID, TargetID: p.TargetID}
}
