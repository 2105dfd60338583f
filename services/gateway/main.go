// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sitechat-ai/sitechat/services/gateway/config"
	"github.com/sitechat-ai/sitechat/services/gateway/handlers"
	"github.com/sitechat-ai/sitechat/services/gateway/middleware"
	"github.com/sitechat-ai/sitechat/services/gateway/observability"
	"github.com/sitechat-ai/sitechat/services/gateway/routes"
	"github.com/sitechat-ai/sitechat/services/gateway/scrape"
	"github.com/sitechat-ai/sitechat/services/gateway/session"
	"github.com/sitechat-ai/sitechat/services/gateway/store"
	"github.com/sitechat-ai/sitechat/services/llm"
)

const serviceName = "sitechat-gateway"

// initTracer sets up OTLP trace export to the collector at endpoint.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newModelClient builds the configured backend. A missing API key is not
// fatal: the gateway starts in degraded mode and chat turns fail with a
// clear error instead of the process refusing to boot.
func newModelClient(backendType string) llm.Client {
	var client llm.Client
	var err error

	switch backendType {
	case config.BackendOpenAI:
		client, err = llm.NewOpenAIClient()
		slog.Info("using OpenAI model backend")
	default:
		client, err = llm.NewGeminiClient()
		slog.Info("using Gemini model backend")
	}
	if err != nil {
		slog.Warn("model backend unavailable, starting in degraded mode",
			"backend", backendType, "error", err)
		return nil
	}
	return client
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded configuration from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	observability.InitMetrics()

	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			log.Fatalf("failed to set up the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
	}

	st, err := store.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open chat store: %v", err)
	}
	defer st.Close()
	slog.Info("chat store ready", "path", cfg.DatabasePath)

	model := newModelClient(cfg.BackendType)

	extractor := scrape.NewExtractor(cfg.ScrapeTimeout())
	aggregator := scrape.NewAggregator(extractor)
	cache := session.NewMemoryCache()
	reconciler := session.NewReconciler(st, model, aggregator, cache)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigin))

	routes.Setup(router, routes.Deps{
		Chat:      handlers.NewChatHandler(reconciler),
		Store:     st,
		Forgetter: reconciler,
		Model:     model,
		Fetcher:   extractor,
	})

	slog.Info("starting gateway", "addr", cfg.Addr(), "backend", cfg.BackendType)
	if err := router.Run(cfg.Addr()); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
