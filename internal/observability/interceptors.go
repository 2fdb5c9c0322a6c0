// Package observability provides gRPC interceptors and the metrics and
// health HTTP server.
package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"speech-capture-service/internal/observability/metrics"
)

// Health probes arrive every few seconds; they are only logged at trace level.
const healthPrefix = "/grpc.health.v1.Health/"

// observe records one finished RPC.
func observe(m *metrics.Metrics, method, kind string, start time.Time, err error) {
	elapsed := time.Since(start)
	code := status.Code(err).String()
	m.RecordRPC(method, code, elapsed.Seconds())

	level := zerolog.DebugLevel
	switch {
	case err != nil:
		level = zerolog.WarnLevel
	case strings.HasPrefix(method, healthPrefix):
		level = zerolog.TraceLevel
	}
	log.WithLevel(level).
		Str("method", method).
		Str("kind", kind).
		Str("code", code).
		Dur("duration", elapsed).
		Err(err).
		Msg("gRPC call finished")
}

// UnaryServerInterceptor records latency and status code of unary calls.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(m, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor records latency and status code of streams,
// including health Watch streams.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(m, info.FullMethod, "stream", start, err)
		return err
	}
}
