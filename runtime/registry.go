package runtime

import (
	"care-signal/contract"
	"care-signal/domain"
	"care-signal/errors"
	"sync"

	"github.com/samber/lo"
)

type presence struct {
	participant domain.Participant
	conn        contract.Connection
}

// Registry is the presence registry: the single source of truth for which
// connection currently reaches a user. Mutations are only issued by the
// coordinator loop; the lock lets debug readers take snapshots concurrently.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]presence                 // map user -> live connection
	handles  map[domain.ConnectionHandle]string // map connection -> user
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]presence),
		handles:  make(map[domain.ConnectionHandle]string),
	}
}

// Register binds userID to conn. A previous connection for the same identity
// is evicted and closed before the new mapping is installed, so two live
// connections never both believe they own the identity. The evicted
// connection, if any, is returned.
func (r *Registry) Register(conn contract.Connection, userID string, role domain.Role) (contract.Connection, error) {
	if !role.Valid() {
		return nil, errors.ErrInvalidRole
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// A connection owns a single identity at a time.
	if owner, ok := r.handles[conn.Handle()]; ok && owner != userID {
		delete(r.sessions, owner)
	}

	var evicted contract.Connection
	if previous, ok := r.sessions[userID]; ok && previous.participant.Handle != conn.Handle() {
		delete(r.handles, previous.participant.Handle)
		delete(r.sessions, userID)
		previous.conn.Close()
		evicted = previous.conn
	}

	r.sessions[userID] = presence{
		participant: domain.Participant{UserID: userID, Handle: conn.Handle(), Role: role},
		conn:        conn,
	}
	r.handles[conn.Handle()] = userID
	return evicted, nil
}

// Unregister removes the mapping owned by handle. A handle that lost a race
// against a newer registration finds nothing to remove and evicts nobody.
func (r *Registry) Unregister(handle domain.ConnectionHandle) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.handles[handle]
	if !ok {
		return domain.Participant{}, false
	}
	delete(r.handles, handle)

	current, ok := r.sessions[userID]
	if !ok || current.participant.Handle != handle {
		return domain.Participant{}, false
	}
	delete(r.sessions, userID)
	return current.participant, true
}

func (r *Registry) Resolve(userID string) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.sessions[userID]
	return p.participant, ok
}

// ResolveHandle identifies the sender behind a connection handle.
func (r *Registry) ResolveHandle(handle domain.ConnectionHandle) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.handles[handle]
	if !ok {
		return domain.Participant{}, false
	}
	p, ok := r.sessions[userID]
	if !ok || p.participant.Handle != handle {
		return domain.Participant{}, false
	}
	return p.participant, true
}

// Connection returns the live connection reaching userID.
func (r *Registry) Connection(userID string) (contract.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.sessions[userID]
	if !ok {
		return nil, false
	}
	return p.conn, true
}

// Online lists every reachable participant.
func (r *Registry) Online() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.MapToSlice(r.sessions, func(_ string, p presence) domain.Participant {
		return p.participant
	})
}

// Connections returns the live connections except the one owned by skip.
func (r *Registry) Connections(skip string) []contract.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []contract.Connection
	for userID, p := range r.sessions {
		if userID != skip {
			res = append(res, p.conn)
		}
	}
	return res
}
