package runtime

import (
	"care-signal/domain"
	"care-signal/errors"
	"care-signal/observability"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type sessionFixture struct {
	sm        *SessionManager
	clock     *clock.Mock
	queue     *recordingQueue
	fired     chan timeoutFired
	caretaker domain.Participant
	patient   domain.Participant
	ctConn    *fakeConn
	ptConn    *fakeConn
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	log := testLogger()
	registry := NewRegistry()
	clk := clock.NewMock()
	queue := &recordingQueue{}
	sm := NewSessionManager(log, clk, registry, queue, observability.NewMonitoringManager(log),
		requestTimeout, negotiationTimeout, nil)
	fired := make(chan timeoutFired, 8)
	sm.fire = func(evt timeoutFired) { fired <- evt }

	ctConn, ptConn := newFakeConn(), newFakeConn()
	_, err := registry.Register(ctConn, "caretaker-1", domain.RoleCaretaker)
	require.NoError(t, err)
	_, err = registry.Register(ptConn, "patient-1", domain.RolePatient)
	require.NoError(t, err)
	caretaker, _ := registry.Resolve("caretaker-1")
	patient, _ := registry.Resolve("patient-1")

	return &sessionFixture{sm: sm, clock: clk, queue: queue, fired: fired,
		caretaker: caretaker, patient: patient, ctConn: ctConn, ptConn: ptConn}
}

func TestSessionManager_Create_Validations(t *testing.T) {
	f := newSessionFixture(t)
	req := require.New(t)

	// A patient cannot originate a call
	_, err := f.sm.Create(f.patient, f.caretaker.UserID)
	req.ErrorIs(err, errors.ErrInvalidRole)

	// Unknown targets and non patients are refused
	_, err = f.sm.Create(f.caretaker, "nobody")
	req.ErrorIs(err, errors.ErrInvalidTarget)
	_, err = f.sm.Create(f.caretaker, f.caretaker.UserID)
	req.ErrorIs(err, errors.ErrInvalidTarget)

	// A second call while the first one is live is refused
	_, err = f.sm.Create(f.caretaker, f.patient.UserID)
	req.NoError(err)
	_, err = f.sm.Create(f.caretaker, f.patient.UserID)
	req.ErrorIs(err, errors.ErrAlreadyInCall)
	req.Len(f.sm.Sessions(), 1)
}

func TestSessionManager_Lifecycle_Emits_Call_Logs(t *testing.T) {
	f := newSessionFixture(t)
	req := require.New(t)

	// Given a requested call
	session, err := f.sm.Create(f.caretaker, f.patient.UserID)
	req.NoError(err)
	req.Equal(domain.StatusRequested, session.Status)
	req.Len(f.ptConn.Named(domain.EventIncomingCallRequest), 1)

	// When it is accepted, both sides are ready, and 90s later the caretaker hangs up
	req.NoError(f.sm.Accept(f.patient, domain.SessionRef{}))
	req.Len(f.ctConn.Named(domain.EventCallAccepted), 1)
	req.NoError(f.sm.MediaReady(f.caretaker, domain.SessionRef{SessionID: session.ID}))
	req.Equal(domain.StatusNegotiating, session.Status)
	req.NoError(f.sm.MediaReady(f.patient, domain.SessionRef{SessionID: session.ID}))
	req.Equal(domain.StatusActive, session.Status)
	f.clock.Add(90 * time.Second)
	req.NoError(f.sm.End(f.caretaker, domain.SessionRef{}))

	// Then the call log went INITIATED, CONNECTING, CONNECTED, ENDED
	jobs := f.queue.Jobs()
	req.Len(jobs, 4)
	req.NotNil(jobs[0].Create)
	req.Equal(domain.CallLogInitiated, jobs[0].Create.Status)
	req.Equal(session.ID, jobs[0].Create.ID)
	req.Equal(domain.CallLogConnecting, *jobs[1].Update.Status)
	req.Equal(domain.CallLogConnected, *jobs[2].Update.Status)
	last := jobs[3]
	req.Equal(session.ID, last.ID)
	req.Equal(domain.CallLogEnded, *last.Update.Status)
	req.NotNil(last.Update.EndTime)
	req.NotNil(last.Update.Duration)
	req.Equal(90*time.Second, *last.Update.Duration)

	// And the patient got a single call-ended with the duration
	ended := f.ptConn.Named(domain.EventCallEnded)
	req.Len(ended, 1)
	payload := ended[0].Data.(domain.CallEndedPayload)
	req.Equal(f.caretaker.UserID, payload.From)
	req.Equal(int64(90), *payload.Duration)
	req.Empty(f.sm.Sessions())
}

func TestSessionManager_Destroy_Is_Idempotent(t *testing.T) {
	f := newSessionFixture(t)
	req := require.New(t)
	session, err := f.sm.Create(f.caretaker, f.patient.UserID)
	req.NoError(err)

	// When the session is ended, then a disconnect and a late timer arrive
	req.NoError(f.sm.End(f.caretaker, domain.SessionRef{SessionID: session.ID}))
	req.ErrorIs(f.sm.End(f.patient, domain.SessionRef{SessionID: session.ID}), errors.ErrInvalidSession)
	req.False(f.sm.TerminateForUser(f.patient.UserID, domain.ReasonDisconnected))
	req.False(f.sm.OnTimeout(timeoutFired{sessionID: session.ID, armedFor: domain.StatusRequested}))

	// Then the patient was told exactly once
	req.Len(f.ptConn.Named(domain.EventCallEnded), 1)
	req.Empty(f.ctConn.Named(domain.EventCallEnded))

	// And the request timer was cancelled
	f.clock.Add(requestTimeout + time.Second)
	select {
	case evt := <-f.fired:
		req.Failf("timer fired after destroy", "%+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionManager_Stale_Timeout_Is_Ignored(t *testing.T) {
	f := newSessionFixture(t)
	req := require.New(t)
	session, err := f.sm.Create(f.caretaker, f.patient.UserID)
	req.NoError(err)
	req.NoError(f.sm.Accept(f.patient, domain.SessionRef{SessionID: session.ID}))

	// A request timeout that raced the accept finds the session negotiating
	req.False(f.sm.OnTimeout(timeoutFired{sessionID: session.ID, armedFor: domain.StatusRequested}))
	req.Equal(domain.StatusNegotiating, session.Status)

	// The negotiation timeout is honoured
	req.True(f.sm.OnTimeout(timeoutFired{sessionID: session.ID, armedFor: domain.StatusNegotiating}))
	req.Equal(domain.StatusTimedOut, session.Status)
	req.Len(f.ctConn.Named(domain.EventCallNegotiationTimeout), 1)
	req.Len(f.ptConn.Named(domain.EventCallNegotiationTimeout), 1)
	req.Equal(errors.ErrNegotiationTimeout.Error(), session.FailureReason)
}

func TestSessionManager_Accept_And_Reject_Rules(t *testing.T) {
	f := newSessionFixture(t)
	req := require.New(t)
	session, err := f.sm.Create(f.caretaker, f.patient.UserID)
	req.NoError(err)

	// The caller cannot accept or reject its own call
	req.ErrorIs(f.sm.Accept(f.caretaker, domain.SessionRef{}), errors.ErrInvalidSession)
	req.ErrorIs(f.sm.Reject(f.caretaker, domain.SessionRef{}), errors.ErrInvalidSession)
	// A target that is not the peer is refused
	req.ErrorIs(f.sm.Accept(f.patient, domain.SessionRef{TargetID: "someone-else"}), errors.ErrInvalidSession)
	// Media cannot fail before the call was accepted
	req.ErrorIs(f.sm.MediaError(f.patient, domain.SessionRef{}, nil), errors.ErrInvalidSession)

	req.NoError(f.sm.Reject(f.patient, domain.SessionRef{TargetID: f.caretaker.UserID}))

	req.Equal(domain.StatusRejected, session.Status)
	rejected := f.ctConn.Named(domain.EventCallRejected)
	req.Len(rejected, 1)
	req.Equal(domain.CallRejectedPayload{From: f.patient.UserID, SessionID: session.ID}, rejected[0].Data)
	req.Empty(f.ptConn.Named(domain.EventCallRejected))
}

func TestSessionManager_Media_Error_Fails_Negotiation(t *testing.T) {
	f := newSessionFixture(t)
	req := require.New(t)
	session, err := f.sm.Create(f.caretaker, f.patient.UserID)
	req.NoError(err)
	req.NoError(f.sm.Accept(f.patient, domain.SessionRef{}))

	cause := json.RawMessage(`{"name":"NotAllowedError","message":"camera denied"}`)
	req.NoError(f.sm.MediaError(f.patient, domain.SessionRef{}, cause))

	req.Equal(domain.StatusFailed, session.Status)
	req.Equal("camera denied", session.FailureReason)
	for _, conn := range []*fakeConn{f.ctConn, f.ptConn} {
		events := conn.Named(domain.EventCallError)
		req.Len(events, 1)
		req.JSONEq(string(cause), string(events[0].Data.(domain.CallErrorPayload).Error))
	}
	jobs := f.queue.Jobs()
	last := jobs[len(jobs)-1]
	req.Equal(domain.CallLogFailed, *last.Update.Status)
	req.Equal("camera denied", *last.Update.FailureReason)
	req.Nil(last.Update.Duration)
}

func TestFailureReason(t *testing.T) {
	req := require.New(t)
	req.Equal(errors.ErrMediaError.Error(), failureReason(nil))
	req.Equal("no device", failureReason(json.RawMessage(`"no device"`)))
	req.Equal("AbortError", failureReason(json.RawMessage(`{"name":"AbortError"}`)))
	req.Equal("42", failureReason(json.RawMessage(`42`)))
}
