package router

import (
	"care-signal/contract"
	"care-signal/domain"
	"care-signal/errors"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type Options struct {
	IceServers     []domain.IceServer
	CommandTimeout time.Duration
	// ExposeDebug mounts /debug/presence.
	ExposeDebug bool
}

type presenceView struct {
	UserID string      `json:"userId"`
	Role   domain.Role `json:"role"`
}

type sessionView struct {
	ID          string               `json:"sessionId"`
	CaretakerID string               `json:"caretakerId"`
	PatientID   string               `json:"patientId"`
	Status      domain.SessionStatus `json:"status"`
	CreatedAt   time.Time            `json:"createdAt"`
	StartedAt   *time.Time           `json:"startedAt,omitempty"`
}

type handlers struct {
	log         *slog.Logger
	coordinator contract.ICoordinator
	options     Options
}

// New builds the HTTP router: the websocket endpoint plus the small REST surface.
func New(log *slog.Logger, coordinator contract.ICoordinator, ws gin.HandlerFunc, options Options) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	h := handlers{log: log, coordinator: coordinator, options: options}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", ws)
	r.GET("/up", h.up)
	r.GET("/ice-servers", h.iceServers)
	if options.ExposeDebug {
		r.GET("/debug/presence", h.presence)
	}
	return r
}

func (h handlers) up(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
}

func (h handlers) iceServers(c *gin.Context) {
	servers := h.options.IceServers
	if servers == nil {
		servers = []domain.IceServer{}
	}
	c.JSON(http.StatusOK, gin.H{"iceServers": servers})
}

func (h handlers) presence(c *gin.Context) {
	ctx := c.Request.Context()
	if h.options.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.options.CommandTimeout)
		defer cancel()
	}

	snapshot, err := h.coordinator.Snapshot(ctx)
	if err != nil {
		h.log.Warn("Presence snapshot failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": errors.Code(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"online": lo.Map(snapshot.Online, func(p domain.Participant, _ int) presenceView {
			return presenceView{UserID: p.UserID, Role: p.Role}
		}),
		"sessions": lo.Map(snapshot.Sessions, func(s domain.CallSession, _ int) sessionView {
			return sessionView{
				ID:          s.ID,
				CaretakerID: s.CaretakerID,
				PatientID:   s.PatientID,
				Status:      s.Status,
				CreatedAt:   s.CreatedAt,
				StartedAt:   s.StartedAt,
			}
		}),
	})
}
