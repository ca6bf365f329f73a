package main

import (
	"care-signal/auth"
	"care-signal/infrastructure/grpc/server"
	"care-signal/infrastructure/router"
	"care-signal/infrastructure/storage"
	"care-signal/infrastructure/websocket"
	"care-signal/internal"
	"care-signal/observability"
	"care-signal/runtime"
	"care-signal/runtime/workers"
	"care-signal/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 10 * time.Second

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Signaling terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Returning instead of exiting lets the deferred cleanups run.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("invalid config: %w", err)
	}
	iceServers, err := config.IceServers()
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()
	debug := logger.Enabled(ctx, slog.LevelDebug)

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, debug))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// The gRPC port is claimed before any worker starts.
	grpcAddress := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}

	// 3. Core: call-log writer, coordinator, supervision
	monitoring := observability.NewMonitoringManager(logger)
	callLogRepository := storage.NewCallLogRepository(db, logger)
	callLogWriter := workers.NewCallLogWriter(logger, callLogRepository, monitoring,
		config.CallLogBufferSize, config.PersistenceTimeout)
	coordinator := runtime.NewCoordinator(logger, clock.New(), callLogWriter, monitoring,
		config.CommandBufferSize, config.RequestTimeout, config.NegotiationTimeout, iceServers)
	statsReporter := workers.NewStatsReporter(logger, coordinator, monitoring, config.MetricInterval)

	sup := workers.NewSupervisor(logger, config.RestartInterval)
	queueMonitor := workers.NewQueueMonitorWorker(logger, []workers.NamedQueue{
		{Name: "coordinator_commands", Depth: coordinator.QueueDepth},
		{Name: "call_log_jobs", Depth: callLogWriter.QueueDepth},
	}, config.MetricInterval)
	sup.Add(coordinator, callLogWriter, statsReporter, queueMonitor)

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		logger.Info("Starting workers...")
		sup.Run(ctx)
	}()

	// 5. WebSocket gateway & HTTP router
	var tokens *auth.TokenManager
	if config.AuthRequired {
		tokens = auth.NewTokenManager(config.AuthSecret)
	}
	signalingService := services.NewSignalingService(logger, coordinator, config.CommandTimeout)
	gateway := websocket.NewGateway(logger, signalingService, tokens,
		config.ConnectionBufferSize, config.KeepAliveInterval, config.MaxMessageSize)
	httpServer := &http.Server{
		Addr: fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler: router.New(logger, coordinator, gateway.ServeWS, router.Options{
			IceServers:     iceServers,
			CommandTimeout: config.CommandTimeout,
			ExposeDebug:    debug,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 3)
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 6. gRPC health
	healthServer := server.NewHealthServer(logger)
	go func() {
		logger.Info("Starting gRPC health server", "address", grpcAddress)
		if err := healthServer.Serve(listener); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	healthServer.SetServing(true)

	// 7. Debug inspector
	var debugServer *http.Server
	if debug {
		debugServer = internal.NewDebugServer(db, fmt.Sprintf("0.0.0.0:%d", config.DebugPort), "/inspect",
			internal.CallLogMapper, monitoring.AsMap)
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d/inspect", config.DebugPort))
		go func() {
			if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("debug server error: %w", err)
			}
		}()
	}

	// 8. Wait for Stop or Error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		logger.Error("Server failure", "error", runErr)
	}

	// 9. Graceful shutdown: stop accepting, then let the workers drain.
	logger.Info("Shutting down gracefully...")
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if debugServer != nil {
		_ = debugServer.Shutdown(shutdownCtx)
	}
	stop()
	<-supervisorDone

	if runErr != nil {
		return exitRuntime, runErr
	}
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, debug bool) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if debug {
		return options.WithLoggingLevel(badger.DEBUG)
	}
	return options.WithLoggingLevel(badger.WARNING)
}
