package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/slotkeeper/libs/auth"
	"github.com/md-rashed-zaman/slotkeeper/libs/grpcx"
	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
	otelx "github.com/md-rashed-zaman/slotkeeper/libs/otel"
	"github.com/md-rashed-zaman/slotkeeper/libs/runtime"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/handlers"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/settings"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/storage"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/sweeper"
)

func newServeCmd(envFile *string) *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC health endpoint and the hold sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(*envFile)
			if err != nil {
				return err
			}
			logger := runtime.NewLogger(serviceName)

			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(serviceName))
			if err != nil {
				logger.Error("otel setup failed", "err", err)
			} else {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = otelShutdown(shutdownCtx)
				}()
			}

			a, err := newApp(ctx, s, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrateUp && a.pool != nil {
				if err := storage.Migrate(ctx, a.pool); err != nil {
					return err
				}
				logger.Info("schema applied")
			}

			go sweeper.NewWorker(a.manager, logger, sweeper.WorkerConfig{Interval: s.SweepInterval}).Run(ctx)

			grpcSrv, health := grpcx.NewServer()
			lis, err := net.Listen("tcp", ":"+s.GRPCPort)
			if err != nil {
				return err
			}
			go grpcx.ReportHealth(ctx, health, serviceName, 5*time.Second, logger, a.checks...)
			go func() {
				logger.Info("grpc server starting", "addr", lis.Addr().String())
				if err := grpcSrv.Serve(lis); err != nil {
					logger.Error("grpc server error", "err", err)
				}
			}()

			srv := &http.Server{
				Addr:              ":" + s.Port,
				Handler:           httpHandler(a, s),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				logger.Info("http server starting", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", "err", err)
					stop()
				}
			}()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "err", err)
			}
			grpcSrv.GracefulStop()
			logger.Info("servers stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "apply the schema on startup when DATABASE_URL is set")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

func httpHandler(a *app, s settings.Settings) http.Handler {
	authn := &auth.Authenticator{Secret: s.JWTSecret}
	if s.JWKSURL != "" {
		authn.JWKS = auth.NewJWKSClient(s.JWKSURL, 5*time.Minute, nil)
	}

	mux := runtime.NewBaseMuxWithReady(a.checks...)
	handlers.New(a.manager, a.logger, handlers.Config{
		Venue:                  s.Venue(),
		Cache:                  a.cache,
		StripeWebhookSecret:    s.StripeWebhookSecret,
		StripeWebhookTolerance: s.StripeWebhookTolerance,
	}).Register(mux, authn.Require)

	var rateLimit httpx.Middleware
	if s.RateLimitPerMinute > 0 {
		rateLimit = httpx.NewRateLimiter(a.cache, s.RateLimitPerMinute, time.Minute, "rl").Middleware(a.logger, s.RateLimitFailOpen)
	}

	h := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: s.CORSOrigins(),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader, "Idempotency-Key"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(a.logger),
		httpx.WithBodyLimit(s.MaxBodyBytes),
		httpx.WithTimeout(s.RequestTimeout),
		rateLimit,
	)
	return otelhttp.NewHandler(h, serviceName)
}
