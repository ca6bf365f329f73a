package workers

import (
	"care-signal/domain"
	"care-signal/mocks"
	"care-signal/observability"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCallLogWriter_Writes_Jobs_In_Order(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockCallLogStore(ctrl)
	monitoring := observability.NewMonitoringManager(log)

	created := domain.CallLog{ID: "session-1", CaretakerID: "caretaker-1", PatientID: "patient-1",
		StartTime: time.Now().UTC(), Status: domain.CallLogInitiated}
	update := domain.CallLogUpdate{Status: lo.ToPtr(domain.CallLogConnecting)}
	written := make(chan struct{})

	// Given a create followed by an update
	gomock.InOrder(
		store.EXPECT().CreateCallLog(gomock.Any(), created).Return(nil),
		store.EXPECT().UpdateCallLog(gomock.Any(), "session-1", update).
			DoAndReturn(func(context.Context, string, domain.CallLogUpdate) error {
				close(written)
				return nil
			}),
	)

	writer := NewCallLogWriter(log, store, monitoring, 8, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = writer.Run(ctx)
		close(done)
	}()

	writer.Enqueue(domain.CallLogJob{Create: &created})
	writer.Enqueue(domain.CallLogJob{ID: "session-1", Update: &update})

	select {
	case <-written:
	case <-time.After(time.Second):
		req.Fail("update was never written")
	}
	cancel()
	<-done
	req.Equal(uint64(2), monitoring.GetLatest().CallLogWrites)
}

func TestCallLogWriter_Failure_Is_Logged_Not_Fatal(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockCallLogStore(ctrl)
	monitoring := observability.NewMonitoringManager(log)

	store.EXPECT().UpdateCallLog(gomock.Any(), "session-1", gomock.Any()).Return(fmt.Errorf("disk full"))
	store.EXPECT().UpdateCallLog(gomock.Any(), "session-2", gomock.Any()).Return(nil)

	writer := NewCallLogWriter(log, store, monitoring, 8, time.Second)
	writer.Enqueue(domain.CallLogJob{ID: "session-1", Update: &domain.CallLogUpdate{}})
	writer.Enqueue(domain.CallLogJob{ID: "session-2", Update: &domain.CallLogUpdate{}})

	// When the worker is stopped, queued jobs are still flushed
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req.ErrorIs(writer.Run(ctx), context.Canceled)

	stats := monitoring.GetLatest()
	req.Equal(uint64(1), stats.CallLogFailures)
	req.Equal(uint64(1), stats.CallLogWrites)
}

func TestCallLogWriter_Full_Queue_Drops(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockCallLogStore(ctrl)
	monitoring := observability.NewMonitoringManager(log)

	// Given a writer that is not running, with room for a single job
	writer := NewCallLogWriter(log, store, monitoring, 1, time.Second)

	// When two jobs are enqueued, the second one does not block
	writer.Enqueue(domain.CallLogJob{ID: "session-1", Update: &domain.CallLogUpdate{}})
	writer.Enqueue(domain.CallLogJob{ID: "session-2", Update: &domain.CallLogUpdate{}})

	req.Equal(uint64(1), monitoring.GetLatest().CallLogDropped)
	req.Len(writer.jobs, 1)
}
