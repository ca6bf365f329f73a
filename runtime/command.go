package runtime

import (
	"care-signal/contract"
	"care-signal/domain"
	"sync/atomic"
)

// command is anything the coordinator loop processes. Request/response
// commands carry a reply channel of size one so the loop never blocks on it.
type command interface {
	isCommand()
}

const (
	claimPending int32 = iota
	claimTaken
	claimAbandoned
)

// claim settles the race between the loop picking a command up and its caller
// giving up on it. Exactly one side wins.
type claim struct {
	state atomic.Int32
}

func newClaim() *claim { return &claim{} }

// take is called by the loop. False means the caller already left.
func (c *claim) take() bool { return c.state.CompareAndSwap(claimPending, claimTaken) }

// abandon is called by a caller whose context ended. False means the loop is
// already running the command.
func (c *claim) abandon() bool { return c.state.CompareAndSwap(claimPending, claimAbandoned) }

// claimable commands are skipped once their caller has given up. Disconnects
// and timer fires are not claimable and always run.
type claimable interface {
	command
	take() bool
	abandon() bool
}

type registerCommand struct {
	*claim
	conn   contract.Connection
	userID string
	role   domain.Role
	reply  chan error
}

type disconnectCommand struct {
	handle domain.ConnectionHandle
	reply  chan error
}

type callRequestResult struct {
	sessionID string
	err       error
}

type callRequestCommand struct {
	*claim
	handle   domain.ConnectionHandle
	targetID string
	reply    chan callRequestResult
}

type acceptCommand struct {
	*claim
	handle domain.ConnectionHandle
	ref    domain.SessionRef
	reply  chan error
}

type rejectCommand struct {
	*claim
	handle domain.ConnectionHandle
	ref    domain.SessionRef
	reply  chan error
}

type relayCommand struct {
	*claim
	handle domain.ConnectionHandle
	signal domain.Signal
	reply  chan error
}

type endCallCommand struct {
	*claim
	handle domain.ConnectionHandle
	ref    domain.SessionRef
	reply  chan error
}

type snapshotCommand struct {
	*claim
	reply chan domain.Snapshot
}

func (registerCommand) isCommand()    {}
func (disconnectCommand) isCommand()  {}
func (callRequestCommand) isCommand() {}
func (acceptCommand) isCommand()      {}
func (rejectCommand) isCommand()      {}
func (relayCommand) isCommand()       {}
func (endCallCommand) isCommand()     {}
func (snapshotCommand) isCommand()    {}
func (timeoutFired) isCommand()       {}
