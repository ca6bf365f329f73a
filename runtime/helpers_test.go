package runtime

import (
	"care-signal/domain"
	"care-signal/errors"
	"care-signal/observability"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mama165/sdk-go/logs"
)

const (
	requestTimeout     = 30 * time.Second
	negotiationTimeout = 10 * time.Second
)

// fakeConn records every event it is sent. A gated fakeConn holds every Send
// until the gate is closed.
type fakeConn struct {
	handle  domain.ConnectionHandle
	gate    chan struct{}
	waiting chan struct{}
	mu      sync.Mutex
	events  []domain.Event
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{handle: domain.NewConnectionHandle()}
}

func newGatedConn() *fakeConn {
	return &fakeConn{
		handle:  domain.NewConnectionHandle(),
		gate:    make(chan struct{}),
		waiting: make(chan struct{}, 1),
	}
}

func (f *fakeConn) Handle() domain.ConnectionHandle { return f.handle }

func (f *fakeConn) Identity() *domain.Identity { return nil }

func (f *fakeConn) Send(evt domain.Event) error {
	if f.gate != nil {
		select {
		case f.waiting <- struct{}{}:
		default:
		}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.ErrConnectionClosed
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Named returns the events with the given name, in delivery order.
func (f *fakeConn) Named(name domain.EventName) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []domain.Event
	for _, evt := range f.events {
		if evt.Name == name {
			res = append(res, evt)
		}
	}
	return res
}

// recordingQueue keeps the call-log jobs instead of writing them.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []domain.CallLogJob
}

func (q *recordingQueue) Enqueue(job domain.CallLogJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

func (q *recordingQueue) Jobs() []domain.CallLogJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.CallLogJob(nil), q.jobs...)
}

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

// startCoordinator runs a coordinator on a mock clock until the test ends.
func startCoordinator(t *testing.T) (*Coordinator, *clock.Mock, *recordingQueue) {
	t.Helper()
	log := testLogger()
	clk := clock.NewMock()
	queue := &recordingQueue{}
	c := NewCoordinator(log, clk, queue, observability.NewMonitoringManager(log), 64,
		requestTimeout, negotiationTimeout, []domain.IceServer{{URLs: []string{"stun:stun.l.google.com:19302"}}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, clk, queue
}
