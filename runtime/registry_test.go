package runtime

import (
	"care-signal/domain"
	"care-signal/errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Register_And_Resolve(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	conn := newFakeConn()

	// Given nobody is online
	req.Empty(registry.Online())

	// When a patient registers
	evicted, err := registry.Register(conn, "patient-1", domain.RolePatient)

	// Then the identity resolves to the connection
	req.NoError(err)
	req.Nil(evicted)
	p, ok := registry.Resolve("patient-1")
	req.True(ok)
	req.Equal(conn.Handle(), p.Handle)
	req.Equal(domain.RolePatient, p.Role)

	byHandle, ok := registry.ResolveHandle(conn.Handle())
	req.True(ok)
	req.Equal("patient-1", byHandle.UserID)
	req.Len(registry.Online(), 1)
}

func TestRegistry_Register_Invalid_Role(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	_, err := registry.Register(newFakeConn(), "someone", domain.Role("doctor"))

	req.ErrorIs(err, errors.ErrInvalidRole)
	req.Empty(registry.Online())
}

func TestRegistry_Newest_Registration_Wins(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	first := newFakeConn()
	second := newFakeConn()

	// Given a caretaker registered on a first connection
	_, err := registry.Register(first, "caretaker-1", domain.RoleCaretaker)
	req.NoError(err)

	// When the same caretaker registers from a second connection
	evicted, err := registry.Register(second, "caretaker-1", domain.RoleCaretaker)
	req.NoError(err)

	// Then the first connection is closed and no longer owns the identity
	req.Equal(first, evicted)
	req.True(first.IsClosed())
	_, ok := registry.ResolveHandle(first.Handle())
	req.False(ok)

	p, ok := registry.Resolve("caretaker-1")
	req.True(ok)
	req.Equal(second.Handle(), p.Handle)
	req.Len(registry.Online(), 1)
}

func TestRegistry_Stale_Unregister_Keeps_Newer_Registration(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	first := newFakeConn()
	second := newFakeConn()

	_, err := registry.Register(first, "patient-1", domain.RolePatient)
	req.NoError(err)
	_, err = registry.Register(second, "patient-1", domain.RolePatient)
	req.NoError(err)

	// When the superseded connection finally disconnects
	_, removed := registry.Unregister(first.Handle())

	// Then the newer registration is untouched
	req.False(removed)
	p, ok := registry.Resolve("patient-1")
	req.True(ok)
	req.Equal(second.Handle(), p.Handle)

	// When the current connection disconnects
	left, removed := registry.Unregister(second.Handle())

	// Then the user is offline
	req.True(removed)
	req.Equal("patient-1", left.UserID)
	_, ok = registry.Resolve("patient-1")
	req.False(ok)
	req.False(second.IsClosed())
}

func TestRegistry_Connections_Skips_Sender(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	caretaker := newFakeConn()
	patient := newFakeConn()
	_, _ = registry.Register(caretaker, "caretaker-1", domain.RoleCaretaker)
	_, _ = registry.Register(patient, "patient-1", domain.RolePatient)

	conns := registry.Connections("caretaker-1")

	req.Len(conns, 1)
	req.Equal(patient.Handle(), conns[0].Handle())
}
