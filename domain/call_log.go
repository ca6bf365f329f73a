package domain

import "time"

// CallLogStatus mirrors the statuses the call history has always used.
type CallLogStatus string

const (
	CallLogInitiated  CallLogStatus = "INITIATED"
	CallLogConnecting CallLogStatus = "CONNECTING"
	CallLogConnected  CallLogStatus = "CONNECTED"
	CallLogEnded      CallLogStatus = "ENDED"
	CallLogTimeout    CallLogStatus = "TIMEOUT"
	CallLogRejected   CallLogStatus = "REJECTED"
	CallLogFailed     CallLogStatus = "FAILED"
)

func CallLogStatusFor(status SessionStatus) CallLogStatus {
	switch status {
	case StatusNegotiating:
		return CallLogConnecting
	case StatusActive:
		return CallLogConnected
	case StatusEnded:
		return CallLogEnded
	case StatusTimedOut:
		return CallLogTimeout
	case StatusRejected:
		return CallLogRejected
	case StatusFailed:
		return CallLogFailed
	default:
		return CallLogInitiated
	}
}

// CallLog is the persisted trace of a session. Its ID is the session ID.
type CallLog struct {
	ID            string
	CaretakerID   string
	PatientID     string
	StartTime     time.Time
	EndTime       *time.Time
	Duration      *time.Duration
	Status        CallLogStatus
	FailureReason string
}

type CallLogUpdate struct {
	EndTime       *time.Time
	Duration      *time.Duration
	Status        *CallLogStatus
	FailureReason *string
}

func (c *CallLog) Apply(u CallLogUpdate) {
	if u.EndTime != nil {
		c.EndTime = u.EndTime
	}
	if u.Duration != nil {
		c.Duration = u.Duration
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.FailureReason != nil {
		c.FailureReason = *u.FailureReason
	}
}

// CallLogJob is one fire-and-forget write. Exactly one of Create or Update is set.
type CallLogJob struct {
	Create *CallLog
	ID     string
	Update *CallLogUpdate
}
