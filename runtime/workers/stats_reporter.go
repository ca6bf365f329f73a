package workers

import (
	"care-signal/contract"
	"care-signal/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// StatsReporter periodically logs presence, session and process figures.
type StatsReporter struct {
	log         *slog.Logger
	coordinator contract.ICoordinator
	monitoring  *observability.MonitoringManager
	interval    time.Duration
}

func NewStatsReporter(log *slog.Logger, coordinator contract.ICoordinator,
	monitoring *observability.MonitoringManager, interval time.Duration) *StatsReporter {
	return &StatsReporter{log: log, coordinator: coordinator, monitoring: monitoring, interval: interval}
}

func (w *StatsReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.report(ctx, p)
		}
	}
}

func (w *StatsReporter) report(ctx context.Context, p *process.Process) {
	snapshotCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()
	snapshot, err := w.coordinator.Snapshot(snapshotCtx)
	if err != nil {
		w.log.Warn("Snapshot unavailable", "error", err)
		return
	}

	stats := w.monitoring.GetLatest()
	attrs := []any{
		"online", len(snapshot.Online),
		"live_sessions", len(snapshot.Sessions),
		"sessions_created", stats.SessionsCreated,
		"relayed", stats.Relayed,
		"rejected", stats.Rejected,
		"call_log_dropped", stats.CallLogDropped,
		"call_log_failures", stats.CallLogFailures,
	}
	for status, n := range stats.SessionsByStatus {
		attrs = append(attrs, "outcome_"+string(status), n)
	}

	rss, cpu, err := selfStats(p)
	if err != nil {
		w.log.Error("Failed to collect self stats", "error", err)
	} else {
		attrs = append(attrs, "rss_bytes", rss, "cpu_percent", cpu)
	}
	w.log.Info("Signaling stats", attrs...)
}

// selfStats reads memory and CPU usage of the running process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
