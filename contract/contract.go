//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"care-signal/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Connection is the outbound side of one live client connection.
// Send must never block: implementations buffer or fail fast.
type Connection interface {
	Handle() domain.ConnectionHandle
	Identity() *domain.Identity
	Send(evt domain.Event) error
	Close()
}

// CallLogStore is the persistence collaborator for call history.
type CallLogStore interface {
	CreateCallLog(ctx context.Context, log domain.CallLog) error
	UpdateCallLog(ctx context.Context, id string, update domain.CallLogUpdate) error
	GetCallLog(id string) (domain.CallLog, error)
	ListCallLogs(patientID string, limit int) ([]domain.CallLog, error)
}

// CallLogQueue accepts persistence jobs without blocking the caller.
type CallLogQueue interface {
	Enqueue(job domain.CallLogJob)
}

// ICoordinator is the serialized entry point for every signaling operation.
type ICoordinator interface {
	Register(ctx context.Context, conn Connection, userID string, role domain.Role) error
	Disconnect(ctx context.Context, handle domain.ConnectionHandle) error
	RequestCall(ctx context.Context, handle domain.ConnectionHandle, targetID string) (string, error)
	AcceptCall(ctx context.Context, handle domain.ConnectionHandle, ref domain.SessionRef) error
	RejectCall(ctx context.Context, handle domain.ConnectionHandle, ref domain.SessionRef) error
	Relay(ctx context.Context, handle domain.ConnectionHandle, signal domain.Signal) error
	EndCall(ctx context.Context, handle domain.ConnectionHandle, ref domain.SessionRef) error
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}
