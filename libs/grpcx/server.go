package grpcx

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
	"github.com/md-rashed-zaman/slotkeeper/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
)

// RequestIDMetadataKey is the key used for request id propagation over gRPC metadata.
const RequestIDMetadataKey = "x-request-id"

// NewServer builds a traced gRPC server with the standard health service
// registered. The returned health server starts NOT_SERVING until
// ReportHealth flips it.
func NewServer(extra ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryServerRequestIDInterceptor()),
	}
	opts = append(opts, extra...)

	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}

// ReportHealth runs checks on every tick and mirrors the result into the
// overall health status and the named service. It returns when ctx is done,
// after marking everything NOT_SERVING.
func ReportHealth(ctx context.Context, hs *health.Server, service string, interval time.Duration, logger *slog.Logger, checks ...runtime.ReadyCheck) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	set := func(status healthpb.HealthCheckResponse_ServingStatus) {
		hs.SetServingStatus("", status)
		if service != "" {
			hs.SetServingStatus(service, status)
		}
	}

	last := healthpb.HealthCheckResponse_UNKNOWN
	probe := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if failed := runtime.RunChecks(ctx, checks); len(failed) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if last != status && logger != nil {
				logger.Warn("grpc health degraded", "failed", failed)
			}
		}
		last = status
		set(status)
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			probe()
		}
	}
}

// UnaryServerRequestIDInterceptor reads the request id from incoming metadata,
// stores it where httpx.RequestIDFromContext finds it and echoes it back.
func UnaryServerRequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
				id = vals[0]
			}
		}
		if id == "" {
			id = httpx.NewRequestID()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, id))
		return handler(httpx.ContextWithRequestID(ctx, id), req)
	}
}
