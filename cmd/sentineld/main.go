// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command sentineld is the control-plane launcher: a
// single `serve` subcommand that wires every collaborator in
// services/orchestrator together and runs the HTTP/websocket external
// surface until its context is cancelled.
//
// # Environment Variables
//
//   - STORE_BACKEND: memory or influx (default: memory)
//   - STORE_URL, STORE_TOKEN, STORE_ORG, STORE_BUCKET: InfluxDB connection, required when STORE_BACKEND=influx
//   - OTEL_ENDPOINT: OTLP/gRPC collector address (optional; tracing is a no-op exporter when unset)
//   - CACHE_DIR: path to the local JSON snapshot file (default: /var/lib/sentinel/cache.json)
//   - INGEST_API_KEY: the X-API-KEY ingest callers must present; auto-generated and cached on first boot if unset
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_JSON: true/false (default: false; auto-detected from stderr's terminal-ness when flag absent)
//
// # Usage
//
//	sentineld serve --duration=1h
//	sentineld serve --port=8080
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/wardenai/sentinel/pkg/config"
	"github.com/wardenai/sentinel/pkg/logging"
	"github.com/wardenai/sentinel/services/cache"
	"github.com/wardenai/sentinel/services/enforcement"
	"github.com/wardenai/sentinel/services/executor"
	"github.com/wardenai/sentinel/services/orchestrator"
	"github.com/wardenai/sentinel/services/orchestrator/middleware"
	"github.com/wardenai/sentinel/services/orchestrator/observability"
	"github.com/wardenai/sentinel/services/orchestrator/routes"
	"github.com/wardenai/sentinel/services/store"
)

var (
	version = "dev"

	servePort     int
	serveDuration time.Duration
)

func main() {
	root := &cobra.Command{
		Use:     "sentineld",
		Short:   "Control plane for autonomous AI agents",
		Version: version,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the ingest/detection/healing control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	serve.Flags().IntVar(&servePort, "port", 8080, "HTTP listen port")
	serve.Flags().DurationVar(&serveDuration, "duration", 0, "run for this long then exit cleanly (0 = run until signal)")

	root.AddCommand(serve)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("sentineld exited with error", "error", err)
		os.Exit(1)
	}
}

// runServe wires every collaborator together, then blocks
// until ctx is cancelled (by a signal or, if --duration was set, by a
// timer), flushing the cache and shutting the HTTP server down cleanly.
func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var logger *logging.Logger
	if os.Getenv("LOG_JSON") != "" {
		logger = logging.New(logging.Config{Level: levelFromString(cfg.LogLevel), Service: "sentineld", JSON: cfg.LogJSON})
	} else {
		logger = logging.NewAuto(levelFromString(cfg.LogLevel), "sentineld", "")
	}
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if serveDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, serveDuration)
		defer cancel()
	}

	shutdownTracer, err := initTracer(ctx, cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	localCache, err := cache.Open(cfg.CacheDir)
	if err != nil {
		// Cache-directory failures are degraded-mode, not fatal:
		// "cache directory unwritable AND no Store" is the only
		// unrecoverable condition, and even that only logs and proceeds
		// in-memory. A single Open failure here still leaves the Store
		// path available.
		slog.Warn("cache unavailable, proceeding without local snapshot", "error", err, "path", cfg.CacheDir)
		localCache = nil
	} else {
		defer localCache.Close()
	}

	runID := uuid.NewString()
	if localCache != nil {
		localCache.PutRunID(runID)
	}

	apiKey := resolveAPIKey(cfg, localCache)

	backing, err := openStore(ctx, cfg)
	if err != nil {
		slog.Warn("store unavailable, running in degraded in-memory mode", "error", err)
		backing = nil
	} else {
		defer backing.Close()
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	o := orchestrator.New(runID, backing, localCache, enforcement.NoOp{}, executor.NewSimulated(), cfg)
	o.SetMetrics(metrics)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	routes.SetupRoutes(router, o, routes.Options{
		KeySource:   middleware.KeySource{ConfigKey: cfg.IngestAPIKey, Cache: localCache},
		RateLimiter: middleware.NewRateLimiter(50, 100),
		Metrics:     metrics,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", servePort),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := o.Run(ctx); err != nil {
			errCh <- fmt.Errorf("orchestrator loop: %w", err)
			return
		}
		errCh <- nil
	}()

	go func() {
		slog.Info("sentineld listening", "addr", srv.Addr, "run_id", runID, "api_key_configured", apiKey != "")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down", "reason", ctx.Err())
	case runErr = <-errCh:
		// A loop or the HTTP server failed before any shutdown signal; this
		// is a fatal start-up error, not a graceful
		// stop, so it still proceeds through the same shutdown sequence
		// but returns the error to produce a nonzero exit code.
		slog.Error("a server loop failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "error", err)
	}

	if localCache != nil {
		if err := localCache.Save(); err != nil {
			slog.Warn("final cache flush failed", "error", err)
		}
	}

	return runErr
}

// resolveAPIKey resolves the ingest key: explicit config wins; else the
// cached key (if any); else mint and cache a fresh one. When a cached key
// already exists it stays in the cache and the placeholder "<cached>" is
// returned instead of the key itself; "" means no key is configured.
func resolveAPIKey(cfg *config.Config, localCache *cache.Cache) string {
	if cfg.IngestAPIKey != "" {
		return cfg.IngestAPIKey
	}
	if localCache == nil {
		return ""
	}
	if localCache.HasAPIKey() {
		return "<cached>"
	}
	key := uuid.NewString()
	localCache.PutAPIKey(key)
	slog.Info("generated new ingest API key on first boot")
	return key
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendInflux:
		return store.NewInfluxStore(store.InfluxConfig{
			URL:    cfg.StoreURL,
			Token:  cfg.StoreToken,
			Org:    cfg.StoreOrg,
			Bucket: cfg.StoreBucket,
		})
	default:
		return store.NewMemoryStore()
	}
}

// initTracer sets up the OTLP/gRPC tracer provider. A blank endpoint
// skips exporter construction entirely rather than dialing a collector
// that was never configured.
func initTracer(ctx context.Context, endpoint string) (func(context.Context), error) {
	noop := func(context.Context) {}
	if endpoint == "" {
		return noop, nil
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return noop, fmt.Errorf("dial otel collector: %w", err)
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return noop, fmt.Errorf("new otlp exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("sentineld")))
	if err != nil {
		return noop, fmt.Errorf("build otel resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func(shutdownCtx context.Context) {
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down OTLP exporter", "error", err)
		}
	}, nil
}

func levelFromString(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
