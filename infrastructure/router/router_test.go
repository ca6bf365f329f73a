package router

import (
	"care-signal/domain"
	"care-signal/errors"
	"care-signal/mocks"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func serve(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func noWebsocket(c *gin.Context) { c.Status(http.StatusTeapot) }

func TestRouter_Up_And_Ice_Servers(t *testing.T) {
	req := require.New(t)
	coordinator := mocks.NewMockICoordinator(gomock.NewController(t))
	servers := []domain.IceServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	handler := New(logs.GetLoggerFromLevel(slog.LevelDebug), coordinator, noWebsocket, Options{IceServers: servers})

	req.Equal(http.StatusOK, serve(handler, "/up").Code)
	req.Equal(http.StatusTeapot, serve(handler, "/ws").Code)

	rec := serve(handler, "/ice-servers")
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`{"iceServers":[{"urls":["stun:stun.l.google.com:19302"]}]}`, rec.Body.String())

	// Debug routes stay hidden unless asked for
	req.Equal(http.StatusNotFound, serve(handler, "/debug/presence").Code)
}

func TestRouter_Presence(t *testing.T) {
	req := require.New(t)
	coordinator := mocks.NewMockICoordinator(gomock.NewController(t))
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	coordinator.EXPECT().Snapshot(gomock.Any()).Return(domain.Snapshot{
		Online: []domain.Participant{
			{UserID: "caretaker-1", Handle: "h1", Role: domain.RoleCaretaker},
			{UserID: "patient-1", Handle: "h2", Role: domain.RolePatient},
		},
		Sessions: []domain.CallSession{{
			ID: "session-1", CaretakerID: "caretaker-1", PatientID: "patient-1",
			Status: domain.StatusRequested, CreatedAt: createdAt,
		}},
	}, nil)

	handler := New(logs.GetLoggerFromLevel(slog.LevelDebug), coordinator, noWebsocket,
		Options{CommandTimeout: time.Second, ExposeDebug: true})

	rec := serve(handler, "/debug/presence")

	req.Equal(http.StatusOK, rec.Code)
	var body struct {
		Online   []presenceView `json:"online"`
		Sessions []sessionView  `json:"sessions"`
	}
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	req.Len(body.Online, 2)
	req.Equal(presenceView{UserID: "patient-1", Role: domain.RolePatient}, body.Online[1])
	req.Equal("session-1", body.Sessions[0].ID)
	req.Equal(domain.StatusRequested, body.Sessions[0].Status)
}

func TestRouter_Presence_Coordinator_Stopped(t *testing.T) {
	req := require.New(t)
	coordinator := mocks.NewMockICoordinator(gomock.NewController(t))
	coordinator.EXPECT().Snapshot(gomock.Any()).Return(domain.Snapshot{}, errors.ErrCoordinatorStopped)

	handler := New(logs.GetLoggerFromLevel(slog.LevelDebug), coordinator, noWebsocket, Options{ExposeDebug: true})

	rec := serve(handler, "/debug/presence")

	req.Equal(http.StatusServiceUnavailable, rec.Code)
	req.Contains(rec.Body.String(), errors.CodeUnavailable)
}
