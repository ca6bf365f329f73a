// Package runtime owns the signaling state: presence, call sessions and the
// relay, all driven by a single coordinator loop.
package runtime

import (
	"care-signal/contract"
	"care-signal/domain"
	"care-signal/errors"
	"care-signal/observability"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// takenGrace bounds the wait for a command the loop already took when its
// caller's context ends.
const takenGrace = time.Second

// Coordinator is the single owner of the registry and the session manager.
// Every client message, disconnect and timer fire becomes a command processed
// one at a time by Run, so no two operations ever interleave.
type Coordinator struct {
	log        *slog.Logger
	registry   *Registry
	sessions   *SessionManager
	relay      *Relay
	monitoring *observability.MonitoringManager
	commands   chan command
	stopped    chan struct{}
	stopOnce   sync.Once
}

func NewCoordinator(log *slog.Logger, clk clock.Clock, callLogs contract.CallLogQueue,
	monitoring *observability.MonitoringManager, bufferSize int,
	requestTimeout, negotiationTimeout time.Duration, iceServers []domain.IceServer) *Coordinator {
	registry := NewRegistry()
	sessions := NewSessionManager(log, clk, registry, callLogs, monitoring,
		requestTimeout, negotiationTimeout, iceServers)
	c := &Coordinator{
		log:        log,
		registry:   registry,
		sessions:   sessions,
		relay:      NewRelay(log, registry, sessions, monitoring),
		monitoring: monitoring,
		commands:   make(chan command, bufferSize),
		stopped:    make(chan struct{}),
	}
	sessions.fire = c.enqueueTimeout
	return c
}

// Run processes commands until ctx is cancelled. State survives a restart
// after a panic, only a cancelled context stops the coordinator for good.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case cmd := <-c.commands:
			c.handle(cmd)
		}
	}
}

func (c *Coordinator) Register(ctx context.Context, conn contract.Connection, userID string, role domain.Role) error {
	reply := make(chan error, 1)
	return awaitErr(ctx, c, registerCommand{claim: newClaim(), conn: conn, userID: userID, role: role, reply: reply}, reply)
}

func (c *Coordinator) Disconnect(ctx context.Context, handle domain.ConnectionHandle) error {
	reply := make(chan error, 1)
	return awaitErr(ctx, c, disconnectCommand{handle: handle, reply: reply}, reply)
}

func (c *Coordinator) RequestCall(ctx context.Context, handle domain.ConnectionHandle, targetID string) (string, error) {
	reply := make(chan callRequestResult, 1)
	res, err := await(ctx, c, callRequestCommand{claim: newClaim(), handle: handle, targetID: targetID, reply: reply}, reply)
	if err != nil {
		return "", err
	}
	return res.sessionID, res.err
}

func (c *Coordinator) AcceptCall(ctx context.Context, handle domain.ConnectionHandle, ref domain.SessionRef) error {
	reply := make(chan error, 1)
	return awaitErr(ctx, c, acceptCommand{claim: newClaim(), handle: handle, ref: ref, reply: reply}, reply)
}

func (c *Coordinator) RejectCall(ctx context.Context, handle domain.ConnectionHandle, ref domain.SessionRef) error {
	reply := make(chan error, 1)
	return awaitErr(ctx, c, rejectCommand{claim: newClaim(), handle: handle, ref: ref, reply: reply}, reply)
}

func (c *Coordinator) Relay(ctx context.Context, handle domain.ConnectionHandle, signal domain.Signal) error {
	reply := make(chan error, 1)
	return awaitErr(ctx, c, relayCommand{claim: newClaim(), handle: handle, signal: signal, reply: reply}, reply)
}

func (c *Coordinator) EndCall(ctx context.Context, handle domain.ConnectionHandle, ref domain.SessionRef) error {
	reply := make(chan error, 1)
	return awaitErr(ctx, c, endCallCommand{claim: newClaim(), handle: handle, ref: ref, reply: reply}, reply)
}

// QueueDepth reports the fill level of the command queue.
func (c *Coordinator) QueueDepth() (int, int) {
	return len(c.commands), cap(c.commands)
}

func (c *Coordinator) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	reply := make(chan domain.Snapshot, 1)
	return await(ctx, c, snapshotCommand{claim: newClaim(), reply: reply}, reply)
}

func (c *Coordinator) handle(cmd command) {
	if r, ok := cmd.(claimable); ok && !r.take() {
		c.log.Debug("Abandoned command skipped", "command", fmt.Sprintf("%T", cmd))
		return
	}
	switch cmd := cmd.(type) {
	case registerCommand:
		cmd.reply <- c.register(cmd)
	case disconnectCommand:
		c.leave(cmd.handle)
		cmd.reply <- nil
	case callRequestCommand:
		sessionID, err := c.requestCall(cmd)
		cmd.reply <- callRequestResult{sessionID: sessionID, err: err}
	case acceptCommand:
		cmd.reply <- c.withSender(cmd.handle, func(p domain.Participant) error {
			return c.sessions.Accept(p, cmd.ref)
		})
	case rejectCommand:
		cmd.reply <- c.withSender(cmd.handle, func(p domain.Participant) error {
			return c.sessions.Reject(p, cmd.ref)
		})
	case relayCommand:
		cmd.reply <- c.withSender(cmd.handle, func(p domain.Participant) error {
			return c.relay.Handle(p, cmd.signal)
		})
	case endCallCommand:
		cmd.reply <- c.withSender(cmd.handle, func(p domain.Participant) error {
			return c.sessions.End(p, cmd.ref)
		})
	case snapshotCommand:
		cmd.reply <- c.snapshot()
	case timeoutFired:
		c.sessions.OnTimeout(cmd)
	default:
		c.log.Warn(fmt.Sprintf("Unknown command %T", cmd))
	}
}

func (c *Coordinator) register(cmd registerCommand) error {
	if !cmd.role.Valid() {
		return fmt.Errorf("%w: %q", errors.ErrInvalidRole, cmd.role)
	}
	handle := cmd.conn.Handle()
	// A connection switching identity first leaves as its previous identity.
	if current, ok := c.registry.ResolveHandle(handle); ok && current.UserID != cmd.userID {
		c.leave(handle)
	}

	evicted, err := c.registry.Register(cmd.conn, cmd.userID, cmd.role)
	if err != nil {
		return err
	}
	c.monitoring.IncrRegistrations()
	if evicted != nil {
		c.monitoring.IncrEvictions()
		c.log.Info("Previous connection evicted", "user_id", cmd.userID, "handle", evicted.Handle())
	}
	c.log.Info("User registered", "user_id", cmd.userID, "role", cmd.role, "handle", handle)
	c.broadcast(cmd.userID, domain.Event{
		Name: domain.EventUserOnline,
		Data: domain.PresencePayload{UserID: cmd.userID, Role: cmd.role},
	})
	return nil
}

// leave unregisters handle. A stale handle, already superseded by a newer
// registration, changes nothing.
func (c *Coordinator) leave(handle domain.ConnectionHandle) {
	participant, ok := c.registry.Unregister(handle)
	if !ok {
		return
	}
	c.monitoring.IncrDisconnects()
	c.log.Info("User left", "user_id", participant.UserID, "handle", handle)
	c.sessions.TerminateForUser(participant.UserID, domain.ReasonDisconnected)
	c.broadcast(participant.UserID, domain.Event{
		Name: domain.EventUserOffline,
		Data: domain.PresencePayload{UserID: participant.UserID, Role: participant.Role},
	})
}

func (c *Coordinator) requestCall(cmd callRequestCommand) (string, error) {
	sender, err := c.sender(cmd.handle)
	if err != nil {
		return "", err
	}
	session, err := c.sessions.Create(sender, cmd.targetID)
	if err != nil {
		c.monitoring.IncrRejected()
		return "", err
	}
	return session.ID, nil
}

func (c *Coordinator) withSender(handle domain.ConnectionHandle, fn func(domain.Participant) error) error {
	sender, err := c.sender(handle)
	if err != nil {
		return err
	}
	if err := fn(sender); err != nil {
		c.monitoring.IncrRejected()
		return err
	}
	return nil
}

func (c *Coordinator) sender(handle domain.ConnectionHandle) (domain.Participant, error) {
	p, ok := c.registry.ResolveHandle(handle)
	if !ok {
		c.monitoring.IncrRejected()
		return domain.Participant{}, errors.ErrUnregistered
	}
	return p, nil
}

func (c *Coordinator) snapshot() domain.Snapshot {
	online := c.registry.Online()
	sort.Slice(online, func(i, j int) bool { return online[i].UserID < online[j].UserID })
	return domain.Snapshot{Online: online, Sessions: c.sessions.Sessions()}
}

func (c *Coordinator) broadcast(skip string, evt domain.Event) {
	for _, conn := range c.registry.Connections(skip) {
		if err := conn.Send(evt); err != nil {
			c.log.Debug("Presence not delivered", "handle", conn.Handle(), "event", evt.Name, "error", err)
		}
	}
}

// enqueueTimeout runs on a timer goroutine.
func (c *Coordinator) enqueueTimeout(evt timeoutFired) {
	select {
	case c.commands <- evt:
	case <-c.stopped:
	}
}

func (c *Coordinator) shutdown() {
	c.stopOnce.Do(func() {
		c.sessions.StopAll()
		close(c.stopped)
		c.log.Info("Coordinator stopped")
	})
}

// await enqueues cmd and waits for its reply. A caller whose context ends
// before the loop picks the command up abandons it, so a reported failure
// never turns into a late success. Once the loop has taken the command the
// caller waits for the real outcome, bounded by takenGrace.
func await[T any](ctx context.Context, c *Coordinator, cmd command, reply <-chan T) (T, error) {
	var zero T
	select {
	case c.commands <- cmd:
	case <-c.stopped:
		return zero, errors.ErrCoordinatorStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-c.stopped:
		return zero, errors.ErrCoordinatorStopped
	case <-ctx.Done():
	}

	r, ok := cmd.(claimable)
	if !ok || r.abandon() {
		return zero, ctx.Err()
	}
	// A panic in the loop leaves the reply unsent.
	grace := time.NewTimer(takenGrace)
	defer grace.Stop()
	select {
	case res := <-reply:
		return res, nil
	case <-c.stopped:
		return zero, errors.ErrCoordinatorStopped
	case <-grace.C:
		return zero, ctx.Err()
	}
}

func awaitErr(ctx context.Context, c *Coordinator, cmd command, reply <-chan error) error {
	err, waitErr := await(ctx, c, cmd, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}
