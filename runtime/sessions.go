package runtime

import (
	"care-signal/contract"
	"care-signal/domain"
	"care-signal/errors"
	"care-signal/observability"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// timeoutFired is enqueued by a session timer. armedFor is the status the
// session had when the timer was armed.
type timeoutFired struct {
	sessionID string
	armedFor  domain.SessionStatus
}

// transition carries who or what caused a status change.
type transition struct {
	actor  string
	reason string
	cause  json.RawMessage
}

type liveSession struct {
	session *domain.CallSession
	timer   *clock.Timer
}

// SessionManager owns the call session life cycle. It is not safe for
// concurrent use: only the coordinator loop calls it.
type SessionManager struct {
	log                *slog.Logger
	clock              clock.Clock
	registry           *Registry
	callLogs           contract.CallLogQueue
	monitoring         *observability.MonitoringManager
	requestTimeout     time.Duration
	negotiationTimeout time.Duration
	iceServers         []domain.IceServer
	fire               func(timeoutFired)
	live               map[string]*liveSession // map session -> live session
	byUser             map[string]string       // map user -> session
}

func NewSessionManager(log *slog.Logger, clk clock.Clock, registry *Registry,
	callLogs contract.CallLogQueue, monitoring *observability.MonitoringManager,
	requestTimeout, negotiationTimeout time.Duration, iceServers []domain.IceServer) *SessionManager {
	return &SessionManager{
		log:                log,
		clock:              clk,
		registry:           registry,
		callLogs:           callLogs,
		monitoring:         monitoring,
		requestTimeout:     requestTimeout,
		negotiationTimeout: negotiationTimeout,
		iceServers:         iceServers,
		fire:               func(timeoutFired) {},
		live:               make(map[string]*liveSession),
		byUser:             make(map[string]string),
	}
}

// Create opens a session between a caretaker and a live patient.
func (sm *SessionManager) Create(caretaker domain.Participant, targetID string) (*domain.CallSession, error) {
	if caretaker.Role != domain.RoleCaretaker {
		return nil, fmt.Errorf("%w: only a caretaker can request a call", errors.ErrInvalidRole)
	}
	target, ok := sm.registry.Resolve(targetID)
	if !ok || target.Role != domain.RolePatient || target.UserID == caretaker.UserID {
		return nil, fmt.Errorf("%w: %q is not a reachable patient", errors.ErrInvalidTarget, targetID)
	}
	if _, busy := sm.byUser[caretaker.UserID]; busy {
		return nil, fmt.Errorf("%w: %s", errors.ErrAlreadyInCall, caretaker.UserID)
	}
	if _, busy := sm.byUser[target.UserID]; busy {
		return nil, fmt.Errorf("%w: %s", errors.ErrAlreadyInCall, target.UserID)
	}

	session := domain.NewCallSession(uuid.NewString(), caretaker.UserID, target.UserID, sm.clock.Now().UTC())
	sm.live[session.ID] = &liveSession{session: session}
	sm.byUser[session.CaretakerID] = session.ID
	sm.byUser[session.PatientID] = session.ID
	sm.monitoring.IncrSessionsCreated()

	sm.updateStatus(session.ID, domain.StatusRequested, transition{actor: caretaker.UserID})
	return session, nil
}

// Accept moves a ringing session to negotiation. Only the callee accepts.
func (sm *SessionManager) Accept(patient domain.Participant, ref domain.SessionRef) error {
	session, err := sm.lookup(patient.UserID, ref)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusRequested || session.PatientID != patient.UserID {
		return fmt.Errorf("%w: cannot accept session %s in %s", errors.ErrInvalidSession, session.ID, session.Status)
	}
	sm.updateStatus(session.ID, domain.StatusNegotiating, transition{actor: patient.UserID})
	return nil
}

func (sm *SessionManager) Reject(patient domain.Participant, ref domain.SessionRef) error {
	session, err := sm.lookup(patient.UserID, ref)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusRequested || session.PatientID != patient.UserID {
		return fmt.Errorf("%w: cannot reject session %s in %s", errors.ErrInvalidSession, session.ID, session.Status)
	}
	sm.updateStatus(session.ID, domain.StatusRejected, transition{actor: patient.UserID})
	return nil
}

// End terminates the session at the request of either member.
func (sm *SessionManager) End(member domain.Participant, ref domain.SessionRef) error {
	session, err := sm.lookup(member.UserID, ref)
	if err != nil {
		return err
	}
	sm.updateStatus(session.ID, domain.StatusEnded, transition{actor: member.UserID})
	return nil
}

// MediaReady records a member's media readiness and forwards it to the peer.
// The session becomes ACTIVE once both members are ready.
func (sm *SessionManager) MediaReady(member domain.Participant, ref domain.SessionRef) error {
	session, err := sm.lookup(member.UserID, ref)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusNegotiating && session.Status != domain.StatusActive {
		return fmt.Errorf("%w: media-ready in %s", errors.ErrInvalidSession, session.Status)
	}
	peer, _ := session.PeerOf(member.UserID)
	sm.notify(peer, domain.Event{
		Name: domain.EventMediaReady,
		Data: domain.SignalPayload{From: member.UserID, SessionID: session.ID},
	})
	if session.MarkMediaReady(member.UserID) && session.Status == domain.StatusNegotiating {
		sm.updateStatus(session.ID, domain.StatusActive, transition{actor: member.UserID})
	}
	return nil
}

// MediaError fails the session on a reported device or transport error.
func (sm *SessionManager) MediaError(member domain.Participant, ref domain.SessionRef, cause json.RawMessage) error {
	session, err := sm.lookup(member.UserID, ref)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusNegotiating && session.Status != domain.StatusActive {
		return fmt.Errorf("%w: media-error in %s", errors.ErrInvalidSession, session.Status)
	}
	sm.updateStatus(session.ID, domain.StatusFailed, transition{
		actor:  member.UserID,
		reason: failureReason(cause),
		cause:  cause,
	})
	return nil
}

// TerminateForUser ends the session the user belongs to, if any.
func (sm *SessionManager) TerminateForUser(userID, reason string) bool {
	sessionID, ok := sm.byUser[userID]
	if !ok {
		return false
	}
	return sm.updateStatus(sessionID, domain.StatusEnded, transition{actor: userID, reason: reason})
}

// OnTimeout handles a fired timer. A timer for a session that is gone or has
// moved past the status it was armed for is ignored.
func (sm *SessionManager) OnTimeout(evt timeoutFired) bool {
	ls, ok := sm.live[evt.sessionID]
	if !ok || ls.session.Status != evt.armedFor {
		sm.log.Debug("Stale timeout ignored", "session_id", evt.sessionID, "armed_for", evt.armedFor)
		return false
	}
	reason := errors.ErrRequestTimeout.Error()
	if evt.armedFor == domain.StatusNegotiating {
		reason = errors.ErrNegotiationTimeout.Error()
	}
	return sm.updateStatus(evt.sessionID, domain.StatusTimedOut, transition{reason: reason})
}

// Get returns the live session with the given id.
func (sm *SessionManager) Get(sessionID string) (*domain.CallSession, bool) {
	ls, ok := sm.live[sessionID]
	if !ok {
		return nil, false
	}
	return ls.session, true
}

// SessionOf returns the live session userID belongs to.
func (sm *SessionManager) SessionOf(userID string) (*domain.CallSession, bool) {
	sessionID, ok := sm.byUser[userID]
	if !ok {
		return nil, false
	}
	return sm.Get(sessionID)
}

// Sessions copies the live sessions, oldest first.
func (sm *SessionManager) Sessions() []domain.CallSession {
	res := lo.MapToSlice(sm.live, func(_ string, ls *liveSession) domain.CallSession {
		return *ls.session
	})
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res
}

// StopAll cancels every pending timer, used when the coordinator shuts down.
func (sm *SessionManager) StopAll() {
	for _, ls := range sm.live {
		sm.cancelTimer(ls)
	}
}

// lookup resolves the session designated by ref for userID. An explicit
// session id wins, else the user's current session is used. A target, when
// given, must be the other member.
func (sm *SessionManager) lookup(userID string, ref domain.SessionRef) (*domain.CallSession, error) {
	var session *domain.CallSession
	var ok bool
	if ref.SessionID != "" {
		session, ok = sm.Get(ref.SessionID)
	} else {
		session, ok = sm.SessionOf(userID)
	}
	if !ok || !session.HasMember(userID) {
		return nil, fmt.Errorf("%w: no live session for %s", errors.ErrInvalidSession, userID)
	}
	if ref.TargetID != "" {
		if peer, _ := session.PeerOf(userID); peer != ref.TargetID {
			return nil, fmt.Errorf("%w: %s is not a member of %s", errors.ErrInvalidSession, ref.TargetID, session.ID)
		}
	}
	return session, nil
}

// updateStatus is the only place a session status changes. It arms or
// cancels timers, emits the transition notifications and the call-log job,
// and destroys the session on a terminal status. It reports whether the
// transition happened.
func (sm *SessionManager) updateStatus(sessionID string, next domain.SessionStatus, t transition) bool {
	ls, ok := sm.live[sessionID]
	if !ok {
		return false
	}
	session := ls.session
	previous := session.Status
	if previous == next || previous.IsTerminal() {
		return false
	}
	now := sm.clock.Now().UTC()
	session.Status = next

	switch next {
	case domain.StatusRequested:
		sm.arm(ls, sm.requestTimeout)
	case domain.StatusNegotiating:
		sm.arm(ls, sm.negotiationTimeout)
	case domain.StatusActive:
		sm.cancelTimer(ls)
		session.StartedAt = &now
	default:
		session.EndedAt = &now
		session.FailureReason = t.reason
		sm.destroy(ls)
	}

	sm.log.Info("Session status changed",
		"session_id", session.ID, "from", previous, "status", next, "actor", t.actor)
	sm.emit(session, previous, t)
	sm.persist(session)
	return true
}

func (sm *SessionManager) emit(session *domain.CallSession, previous domain.SessionStatus, t transition) {
	switch session.Status {
	case domain.StatusRequested:
		sm.notify(session.PatientID, domain.Event{
			Name: domain.EventIncomingCallRequest,
			Data: domain.IncomingCallPayload{From: session.CaretakerID, SessionID: session.ID, IceServers: sm.iceServers},
		})
	case domain.StatusNegotiating:
		sm.notify(session.CaretakerID, domain.Event{
			Name: domain.EventCallAccepted,
			Data: domain.CallAcceptedPayload{From: session.PatientID, SessionID: session.ID, IceServers: sm.iceServers},
		})
	case domain.StatusActive:
		sm.notifyBoth(session, domain.Event{
			Name: domain.EventCallActive,
			Data: domain.CallActivePayload{SessionID: session.ID, StartedAt: *session.StartedAt},
		})
	case domain.StatusRejected:
		sm.notify(session.CaretakerID, domain.Event{
			Name: domain.EventCallRejected,
			Data: domain.CallRejectedPayload{From: t.actor, SessionID: session.ID},
		})
	case domain.StatusTimedOut:
		if previous == domain.StatusRequested {
			sm.notify(session.CaretakerID, domain.Event{
				Name: domain.EventCallRequestTimeout,
				Data: domain.TimeoutPayload{SessionID: session.ID, TargetID: session.PatientID},
			})
			return
		}
		sm.notifyBoth(session, domain.Event{
			Name: domain.EventCallNegotiationTimeout,
			Data: domain.TimeoutPayload{SessionID: session.ID},
		})
	case domain.StatusFailed:
		sm.notifyBoth(session, domain.Event{
			Name: domain.EventCallError,
			Data: domain.CallErrorPayload{From: t.actor, SessionID: session.ID, Error: t.cause},
		})
	case domain.StatusEnded:
		payload := domain.CallEndedPayload{From: t.actor, SessionID: session.ID, Reason: t.reason}
		if d, ok := session.Duration(); ok {
			seconds := int64(d.Seconds())
			payload.Duration = &seconds
		}
		peer, _ := session.PeerOf(t.actor)
		sm.notify(peer, domain.Event{Name: domain.EventCallEnded, Data: payload})
	}
}

func (sm *SessionManager) persist(session *domain.CallSession) {
	if session.Status == domain.StatusRequested {
		sm.callLogs.Enqueue(domain.CallLogJob{Create: &domain.CallLog{
			ID:          session.ID,
			CaretakerID: session.CaretakerID,
			PatientID:   session.PatientID,
			StartTime:   session.CreatedAt,
			Status:      domain.CallLogInitiated,
		}})
		return
	}

	status := domain.CallLogStatusFor(session.Status)
	update := domain.CallLogUpdate{Status: &status}
	if session.Status.IsTerminal() {
		update.EndTime = session.EndedAt
		if d, ok := session.Duration(); ok {
			update.Duration = &d
		}
		if session.FailureReason != "" {
			reason := session.FailureReason
			update.FailureReason = &reason
		}
	}
	sm.callLogs.Enqueue(domain.CallLogJob{ID: session.ID, Update: &update})
}

// destroy removes the session from the live set and cancels its timer. It is
// safe to call more than once.
func (sm *SessionManager) destroy(ls *liveSession) {
	sm.cancelTimer(ls)
	session := ls.session
	if _, ok := sm.live[session.ID]; !ok {
		return
	}
	delete(sm.live, session.ID)
	for _, userID := range []string{session.CaretakerID, session.PatientID} {
		if sm.byUser[userID] == session.ID {
			delete(sm.byUser, userID)
		}
	}
	sm.monitoring.IncrOutcome(session.Status)
}

func (sm *SessionManager) arm(ls *liveSession, d time.Duration) {
	sm.cancelTimer(ls)
	evt := timeoutFired{sessionID: ls.session.ID, armedFor: ls.session.Status}
	ls.timer = sm.clock.AfterFunc(d, func() { sm.fire(evt) })
}

func (sm *SessionManager) cancelTimer(ls *liveSession) {
	if ls.timer != nil {
		ls.timer.Stop()
		ls.timer = nil
	}
}

func (sm *SessionManager) notifyBoth(session *domain.CallSession, evt domain.Event) {
	sm.notify(session.CaretakerID, evt)
	sm.notify(session.PatientID, evt)
}

func (sm *SessionManager) notify(userID string, evt domain.Event) {
	conn, ok := sm.registry.Connection(userID)
	if !ok {
		sm.log.Debug("Recipient offline, notification dropped", "user_id", userID, "event", evt.Name)
		return
	}
	if err := conn.Send(evt); err != nil {
		sm.log.Warn("Notification not delivered", "user_id", userID, "event", evt.Name, "error", err)
	}
}

// failureReason extracts a readable reason from a media-error payload, which
// is either a JSON string or an object with a message.
func failureReason(cause json.RawMessage) string {
	if len(cause) == 0 {
		return errors.ErrMediaError.Error()
	}
	var text string
	if err := json.Unmarshal(cause, &text); err == nil && text != "" {
		return text
	}
	var obj struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(cause, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Name != "" {
			return obj.Name
		}
	}
	return string(cause)
}
