package workers

import (
	"context"
	"log/slog"
	"time"
)

const queueWarnRatio = 0.8

// NamedQueue exposes the fill level of one buffered channel.
type NamedQueue struct {
	Name  string
	Depth func() (length, capacity int)
}

// QueueMonitorWorker periodically samples queue fill levels. Reading len and
// cap of a channel never blocks, so sampling does not disturb the owners.
type QueueMonitorWorker struct {
	log            *slog.Logger
	queues         []NamedQueue
	metricInterval time.Duration
}

func NewQueueMonitorWorker(log *slog.Logger, queues []NamedQueue, metricInterval time.Duration) *QueueMonitorWorker {
	return &QueueMonitorWorker{log: log, queues: queues, metricInterval: metricInterval}
}

func (w *QueueMonitorWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sample()
		}
	}
}

func (w *QueueMonitorWorker) sample() {
	for _, q := range w.queues {
		length, capacity := q.Depth()
		if capacity > 0 && float64(length) >= queueWarnRatio*float64(capacity) {
			w.log.Warn("Queue under pressure", "queue", q.Name, "length", length, "capacity", capacity)
			continue
		}
		w.log.Debug("Queue depth", "queue", q.Name, "length", length, "capacity", capacity)
	}
}
