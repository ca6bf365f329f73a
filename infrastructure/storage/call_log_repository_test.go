package storage

import (
	"care-signal/domain"
	"care-signal/errors"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newCallLog(patientID string, start time.Time) domain.CallLog {
	return domain.CallLog{
		ID:          uuid.NewString(),
		CaretakerID: "caretaker-1",
		PatientID:   patientID,
		StartTime:   start,
		Status:      domain.CallLogInitiated,
	}
}

func TestCallLogRepository_Create_Then_Update(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewCallLogRepository(openTestDB(t), logs.GetLoggerFromLevel(slog.LevelDebug))
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Given an initiated call
	callLog := newCallLog("patient-1", start)
	req.NoError(repo.CreateCallLog(ctx, callLog))

	// When it connects then ends after five minutes
	req.NoError(repo.UpdateCallLog(ctx, callLog.ID, domain.CallLogUpdate{Status: lo.ToPtr(domain.CallLogConnected)}))
	end := start.Add(5 * time.Minute)
	req.NoError(repo.UpdateCallLog(ctx, callLog.ID, domain.CallLogUpdate{
		Status:   lo.ToPtr(domain.CallLogEnded),
		EndTime:  &end,
		Duration: lo.ToPtr(5 * time.Minute),
	}))

	// Then the stored log carries the final state
	stored, err := repo.GetCallLog(callLog.ID)
	req.NoError(err)
	req.Equal(domain.CallLogEnded, stored.Status)
	req.True(start.Equal(stored.StartTime))
	req.NotNil(stored.EndTime)
	req.True(end.Equal(*stored.EndTime))
	req.Equal(5*time.Minute, *stored.Duration)
	req.Empty(stored.FailureReason)
}

func TestCallLogRepository_Failure_Reason(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewCallLogRepository(openTestDB(t), logs.GetLoggerFromLevel(slog.LevelDebug))
	callLog := newCallLog("patient-1", time.Now().UTC())
	req.NoError(repo.CreateCallLog(ctx, callLog))

	req.NoError(repo.UpdateCallLog(ctx, callLog.ID, domain.CallLogUpdate{
		Status:        lo.ToPtr(domain.CallLogFailed),
		FailureReason: lo.ToPtr("camera denied"),
	}))

	stored, err := repo.GetCallLog(callLog.ID)
	req.NoError(err)
	req.Equal(domain.CallLogFailed, stored.Status)
	req.Equal("camera denied", stored.FailureReason)
	req.Nil(stored.Duration)
}

func TestCallLogRepository_Update_Unknown(t *testing.T) {
	req := require.New(t)
	repo := NewCallLogRepository(openTestDB(t), logs.GetLoggerFromLevel(slog.LevelDebug))

	err := repo.UpdateCallLog(context.Background(), "missing", domain.CallLogUpdate{})
	req.ErrorIs(err, errors.ErrCallLogNotFound)

	_, err = repo.GetCallLog("missing")
	req.ErrorIs(err, errors.ErrCallLogNotFound)
}

func TestCallLogRepository_List_Most_Recent_First(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewCallLogRepository(openTestDB(t), logs.GetLoggerFromLevel(slog.LevelDebug))
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := newCallLog("patient-1", start)
	second := newCallLog("patient-1", start.Add(time.Hour))
	third := newCallLog("patient-1", start.Add(2*time.Hour))
	other := newCallLog("patient-2", start.Add(30*time.Minute))
	for _, c := range []domain.CallLog{second, other, third, first} {
		req.NoError(repo.CreateCallLog(ctx, c))
	}

	// When listing a patient's two latest calls
	res, err := repo.ListCallLogs("patient-1", 2)
	req.NoError(err)
	req.Equal([]string{third.ID, second.ID}, lo.Map(res, func(c domain.CallLog, _ int) string { return c.ID }))

	// When listing every call
	all, err := repo.ListCallLogs("", 0)
	req.NoError(err)
	req.Equal([]string{third.ID, second.ID, other.ID, first.ID},
		lo.Map(all, func(c domain.CallLog, _ int) string { return c.ID }))
}

func TestCallLogRepository_Cancelled_Context(t *testing.T) {
	req := require.New(t)
	repo := NewCallLogRepository(openTestDB(t), logs.GetLoggerFromLevel(slog.LevelDebug))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req.ErrorIs(repo.CreateCallLog(ctx, newCallLog("patient-1", time.Now())), context.Canceled)
}

func TestCallLogRepository_List_Patient_Id_With_Separator(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewCallLogRepository(openTestDB(t), logs.GetLoggerFromLevel(slog.LevelDebug))
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Given a patient whose id extends another's with a ':'
	mine := newCallLog("a", start)
	theirs := newCallLog("a:b", start.Add(time.Hour))
	req.NoError(repo.CreateCallLog(ctx, mine))
	req.NoError(repo.CreateCallLog(ctx, theirs))

	// When listing the shorter id
	res, err := repo.ListCallLogs("a", 0)
	req.NoError(err)

	// Then only its own call is returned
	req.Equal([]string{mine.ID}, lo.Map(res, func(c domain.CallLog, _ int) string { return c.ID }))

	res, err = repo.ListCallLogs("a:b", 0)
	req.NoError(err)
	req.Equal([]string{theirs.ID}, lo.Map(res, func(c domain.CallLog, _ int) string { return c.ID }))
}
