// Package domain contains core concepts of the call-signaling system.
// This file defines Participant entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"slices"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCaretaker Role = "caretaker"
	RolePatient   Role = "patient"
)

func (r Role) Valid() bool {
	return r == RoleCaretaker || r == RolePatient
}

// ConnectionHandle is the opaque identifier the gateway assigns to a live connection.
type ConnectionHandle string

func NewConnectionHandle() ConnectionHandle {
	return ConnectionHandle(uuid.NewString())
}

// Participant binds a user identity to the connection currently reaching it.
type Participant struct {
	UserID string
	Handle ConnectionHandle
	Role   Role
}

// Identity is what an authenticated connection proved about its owner.
type Identity struct {
	UserID string
	Roles  []Role
}

func (i Identity) Allows(userID string, role Role) bool {
	return i.UserID == userID && slices.Contains(i.Roles, role)
}
