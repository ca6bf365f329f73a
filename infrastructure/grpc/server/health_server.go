package server

import (
	"log/slog"
	"net"

	grpc3 "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// SignalingService is the name probes can ask about besides the overall "" status.
const SignalingService = "care-signal.Signaling"

// HealthServer exposes grpc.health.v1 for orchestrators. It starts NOT_SERVING
// and flips once the coordinator is running.
type HealthServer struct {
	log    *slog.Logger
	server *grpc.Server
	health *health.Server
}

func NewHealthServer(log *slog.Logger) *HealthServer {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc3.UnaryLoggingInterceptor(log)))
	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, h)

	hs := &HealthServer{log: log, server: s, health: h}
	hs.SetServing(false)
	return hs
}

func (hs *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	hs.health.SetServingStatus("", status)
	hs.health.SetServingStatus(SignalingService, status)
	hs.log.Debug("Health status changed", "status", status.String())
}

// Serve blocks until the listener fails or Shutdown is called.
func (hs *HealthServer) Serve(listener net.Listener) error {
	return hs.server.Serve(listener)
}

// Shutdown reports NOT_SERVING to every watcher, then drains in-flight checks.
func (hs *HealthServer) Shutdown() {
	hs.health.Shutdown()
	hs.server.GracefulStop()
}
