package workers

import (
	"care-signal/contract"
	"care-signal/domain"
	"care-signal/errors"
	"care-signal/observability"
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CallLogWriter persists call-log jobs off the coordinator loop.
// Enqueue never blocks: a full buffer drops the job.
type CallLogWriter struct {
	log        *slog.Logger
	store      contract.CallLogStore
	monitoring *observability.MonitoringManager
	jobs       chan domain.CallLogJob
	timeout    time.Duration
}

func NewCallLogWriter(log *slog.Logger, store contract.CallLogStore,
	monitoring *observability.MonitoringManager, bufferSize int, timeout time.Duration) *CallLogWriter {
	return &CallLogWriter{
		log:        log,
		store:      store,
		monitoring: monitoring,
		jobs:       make(chan domain.CallLogJob, bufferSize),
		timeout:    timeout,
	}
}

func (w *CallLogWriter) QueueDepth() (int, int) {
	return len(w.jobs), cap(w.jobs)
}

func (w *CallLogWriter) Enqueue(job domain.CallLogJob) {
	select {
	case w.jobs <- job:
	default:
		w.monitoring.IncrCallLogDropped()
		w.log.Warn("Call log queue full, job dropped", "session_id", jobID(job))
	}
}

func (w *CallLogWriter) Run(ctx context.Context) error {
	w.log.Info("Starting call log writer")
	for {
		select {
		case <-ctx.Done():
			w.drain(ctx)
			return ctx.Err()
		case job := <-w.jobs:
			w.write(ctx, job)
		}
	}
}

// drain flushes what is already queued once the worker is asked to stop.
func (w *CallLogWriter) drain(ctx context.Context) {
	detached := context.WithoutCancel(ctx)
	for {
		select {
		case job := <-w.jobs:
			w.write(detached, job)
		default:
			return
		}
	}
}

func (w *CallLogWriter) write(ctx context.Context, job domain.CallLogJob) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var err error
	switch {
	case job.Create != nil:
		err = w.store.CreateCallLog(ctx, *job.Create)
	case job.Update != nil:
		err = w.store.UpdateCallLog(ctx, job.ID, *job.Update)
	default:
		return
	}
	if err != nil {
		w.monitoring.IncrCallLogFailures()
		w.log.Error("Call log not persisted",
			"session_id", jobID(job), "error", fmt.Errorf("%w: %w", errors.ErrPersistenceFailure, err))
		return
	}
	w.monitoring.IncrCallLogWrites()
}

func jobID(job domain.CallLogJob) string {
	if job.Create != nil {
		return job.Create.ID
	}
	return job.ID
}
