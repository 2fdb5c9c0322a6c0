package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"speech-capture-service/internal/app"
	httpapi "speech-capture-service/internal/http"
	"speech-capture-service/internal/observability"
)

const healthService = "speech.capture.SessionService"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API, metrics endpoint and gRPC health service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		application := app.New(cfg)
		if err := application.Start(ctx); err != nil {
			application.Logger.Error().Err(err).Msg("Application start failed")
			return err
		}
		logger := application.Logger.With().Str("method", "serve").Logger()

		metricsServer := observability.NewServer(":"+cfg.Observability.MetricsPort, application.Registry, application.ReadinessChecks()...)
		metricsServer.Start()

		lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		grpcServer := grpc.NewServer(
			grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(application.Metrics)),
			grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(application.Metrics)),
		)

		// Register gRPC health check service
		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)

		// Enable gRPC reflection for debugging tools like grpcurl
		reflection.Register(grpcServer)

		go func() {
			logger.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health service started")
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("gRPC serve failed")
			}
		}()

		httpServer := &http.Server{
			Addr:              ":" + cfg.Service.HTTPPort,
			Handler:           httpapi.NewRouter(application),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("port", cfg.Service.HTTPPort).Msg("HTTP control API started")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("HTTP serve failed")
				cancel()
			}
		}()

		<-ctx.Done()

		logger.Info().Msg("Shutting down servers")
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown failed")
		}
		grpcServer.GracefulStop()
		application.Shutdown(shutdownCtx)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
		return nil
	},
}
