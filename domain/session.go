package domain

import (
	"time"
)

type SessionStatus string

const (
	StatusRequested   SessionStatus = "REQUESTED"
	StatusNegotiating SessionStatus = "NEGOTIATING"
	StatusActive      SessionStatus = "ACTIVE"
	StatusEnded       SessionStatus = "ENDED"
	StatusTimedOut    SessionStatus = "TIMED_OUT"
	StatusRejected    SessionStatus = "REJECTED"
	StatusFailed      SessionStatus = "FAILED"
)

func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusTimedOut, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// CallSession pairs one caretaker with one patient for the lifetime of a call.
// It references participants by identity only, their connections may rotate.
type CallSession struct {
	ID            string
	CaretakerID   string
	PatientID     string
	Status        SessionStatus
	CreatedAt     time.Time
	StartedAt     *time.Time
	EndedAt       *time.Time
	FailureReason string
	mediaReady    map[string]struct{}
}

func NewCallSession(id, caretakerID, patientID string, createdAt time.Time) *CallSession {
	return &CallSession{
		ID:          id,
		CaretakerID: caretakerID,
		PatientID:   patientID,
		CreatedAt:   createdAt,
		mediaReady:  make(map[string]struct{}, 2),
	}
}

func (s *CallSession) HasMember(userID string) bool {
	return userID != "" && (userID == s.CaretakerID || userID == s.PatientID)
}

// PeerOf returns the other member of the session.
func (s *CallSession) PeerOf(userID string) (string, bool) {
	switch userID {
	case s.CaretakerID:
		return s.PatientID, true
	case s.PatientID:
		return s.CaretakerID, true
	default:
		return "", false
	}
}

// MarkMediaReady records that userID has its media path up and reports whether
// both members are now ready.
func (s *CallSession) MarkMediaReady(userID string) bool {
	if s.mediaReady == nil {
		s.mediaReady = make(map[string]struct{}, 2)
	}
	s.mediaReady[userID] = struct{}{}
	_, caretaker := s.mediaReady[s.CaretakerID]
	_, patient := s.mediaReady[s.PatientID]
	return caretaker && patient
}

// Duration is only defined for calls that reached ACTIVE and then terminated.
func (s *CallSession) Duration() (time.Duration, bool) {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0, false
	}
	return s.EndedAt.Sub(*s.StartedAt), true
}

// Snapshot is a point-in-time, copy-only view of presence and live sessions.
type Snapshot struct {
	Online   []Participant
	Sessions []CallSession
}
