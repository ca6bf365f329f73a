package workers

import (
	"care-signal/domain"
	"care-signal/mocks"
	"care-signal/observability"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestStatsReporter_Reports_Snapshots(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	coordinator := mocks.NewMockICoordinator(ctrl)

	reported := make(chan struct{}, 16)
	coordinator.EXPECT().
		Snapshot(gomock.Any()).
		DoAndReturn(func(context.Context) (domain.Snapshot, error) {
			reported <- struct{}{}
			return domain.Snapshot{
				Online: []domain.Participant{{UserID: "patient-1", Role: domain.RolePatient}},
			}, nil
		}).
		MinTimes(2)

	reporter := NewStatsReporter(log, coordinator, observability.NewMonitoringManager(log), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reporter.Run(ctx) }()

	for range 2 {
		select {
		case <-reported:
		case <-time.After(time.Second):
			req.Fail("stats were never reported")
		}
	}
	cancel()
	req.ErrorIs(<-done, context.Canceled)
}
