package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	mcpGoServer "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/i2y/storagemcp/configs"
	"github.com/i2y/storagemcp/internal/adapter/inbound/mcphttp"
	"github.com/i2y/storagemcp/internal/adapter/outbound/httpinvoker"
	"github.com/i2y/storagemcp/internal/adapter/outbound/memrepo"
	"github.com/i2y/storagemcp/internal/adapter/outbound/metrics"
	"github.com/i2y/storagemcp/internal/adapter/outbound/openapi"
	"github.com/i2y/storagemcp/internal/usecase"
)

const serviceName = "storagemcp"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "storagemcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// === Command Line Flags ===
	var transport string
	flag.StringVar(&transport, "transport", "stdio", "Transport mode: stdio or sse")
	flag.Parse()
	if transport != "stdio" && transport != "sse" {
		return fmt.Errorf("invalid transport mode %q (want stdio or sse)", transport)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Configuration ===
	cfg, err := configs.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// === Logging ===
	logger, closeLog, err := newLogger(cfg, transport)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)
	logger.Info("Logger initialized.",
		slog.String("level", cfg.ParsedLogLevel().String()),
		slog.String("transport", transport),
		slog.String("version", version))

	// === OpenTelemetry Initialization ===
	shutdownOtel, err := initOtelProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry TracerProvider.", slog.Any("error", err))
		}
	}()

	// === MCP Server (mark3labs/mcp-go) ===
	mcpSrv := mcpGoServer.NewMCPServer(
		serviceName,
		version,
		mcpGoServer.WithToolCapabilities(false),
		mcpGoServer.WithRecovery(),
	)

	// === Dependency Injection ===
	convention, err := openapi.ConventionByName(cfg.QueryStyle)
	if err != nil {
		return err
	}
	collector := metrics.NewCollector(serviceName, logger)
	repo := memrepo.NewInMemoryToolRepository(logger)
	loader := openapi.NewSchemaLoader(logger)
	generator := openapi.NewToolGenerator(openapi.GeneratorConfig{
		AllowedMethods: cfg.AllowedHTTPMethods,
		APIRoot:        cfg.APIRoot,
		Convention:     convention,
	}, logger)
	gateway := httpinvoker.New(httpinvoker.Config{
		Timeout:      cfg.RequestTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		TLSVerify:    cfg.TLSVerify,
		ExtraHeaders: cfg.ExtraHeaders,
	}, logger)
	invokeUC := usecase.NewInvokeToolUseCase(repo, gateway, logger, usecase.WithMetrics(collector))
	serveUC := usecase.NewServeToolsUseCase(repo, logger)
	syncUC := usecase.NewSyncSchemaUseCase(loader, generator, repo, mcpSrv, invokeUC, collector, logger)

	// === Catalog ===
	// The catalog is complete before any transport accepts a request.
	count, err := syncUC.Execute(ctx, cfg.SpecPath)
	if err != nil {
		return err
	}
	if count == 0 {
		logger.Warn("No tools were generated; check allowed HTTP methods and the OpenAPI document.")
	}

	switch transport {
	case "stdio":
		logger.Info("Starting in STDIO mode", slog.Int("tools", count))
		stdioServer := mcpGoServer.NewStdioServer(mcpSrv)
		stdioServer.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
		if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio server error: %w", err)
		}
		return nil

	default:
		return serveSSE(ctx, cfg, mcpSrv, serveUC, collector, logger)
	}
}

func serveSSE(
	ctx context.Context,
	cfg *configs.Config,
	mcpSrv *mcpGoServer.MCPServer,
	catalog mcphttp.Catalog,
	collector *metrics.Collector,
	logger *slog.Logger,
) error {
	sseServer := mcpGoServer.NewSSEServer(mcpSrv, mcpGoServer.WithBaseURL("http://"+cfg.ListenAddr))

	handlers := mcphttp.NewHandlers(catalog, collector, mcphttp.ServerInfo{
		Version:   version,
		Mode:      "credential-free",
		Transport: "SSE",
	}, logger)
	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)
	handlers.MountMCP(mux, sseServer.SSEHandler(), sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handlers.Wrap(mux),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server starting.", slog.String("address", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := sseServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("MCP SSE server graceful shutdown failed.", slog.Any("error", err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server graceful shutdown failed: %w", err)
		}
		logger.Info("Servers shut down gracefully.")
		return nil
	})
	return g.Wait()
}

// newLogger builds the process logger. In stdio mode stdout carries the protocol,
// so logs go to LOG_FILE or are discarded.
func newLogger(cfg *configs.Config, transport string) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.LogFile, err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	case transport == "stdio":
		out = io.Discard
	}

	opts := &slog.HandlerOptions{Level: cfg.ParsedLogLevel()}
	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler), closeFn, nil
}

// initOtelProvider initializes the OpenTelemetry SDK and sets up the OTLP trace exporter.
// It returns a shutdown function to be called on application exit.
func initOtelProvider(cfg *configs.Config) (func(context.Context) error, error) {
	ctx := context.Background()

	if cfg.OtelExporterOtlpEndpoint == "" {
		slog.Info("STORAGEMCP_OTEL_EXPORTER_OTLP_ENDPOINT not set, OpenTelemetry tracing disabled.")
		return func(context.Context) error { return nil }, nil
	}

	slog.Info("Initializing OTLP exporter.", slog.String("endpoint", cfg.OtelExporterOtlpEndpoint))

	grpcOpts := []grpc.DialOption{}
	if cfg.OtelExporterOtlpInsecure {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure connection for OTLP exporter.")
	}

	conn, err := grpc.NewClient(cfg.OtelExporterOtlpEndpoint, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to OTLP endpoint: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	slog.Info("OpenTelemetry TracerProvider configured.")

	return func(ctx context.Context) error {
		providerErr := tp.Shutdown(ctx)
		connErr := conn.Close()
		return errors.Join(providerErr, connErr)
	}, nil
}
