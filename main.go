package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"

	"github.com/multistock/meli-bridge/internal/audit"
	"github.com/multistock/meli-bridge/internal/config"
	"github.com/multistock/meli-bridge/internal/credential"
	"github.com/multistock/meli-bridge/internal/meli"
	"github.com/multistock/meli-bridge/internal/observe"
	"github.com/multistock/meli-bridge/internal/preset"
	"github.com/multistock/meli-bridge/internal/report"
	"github.com/multistock/meli-bridge/internal/server"
	"github.com/multistock/meli-bridge/internal/warehouse"
	"github.com/multistock/meli-bridge/internal/woo"
)

func configureServerRoutes(ctx context.Context, cfg config.Config, store *credential.PostgresStore, presets *preset.Store, hooks *server.ShutdownHooks) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// configure middleware
	auditor := audit.Middleware()

	// Report requests carry no body; the limit only guards against abuse.
	// Spreadsheet uploads get a larger allowance.
	requestLimiter := maxRequestSize(20 << 10) // 20 KB
	uploadLimiter := maxRequestSize(10 << 20)  // 10 MB

	standardRouteMiddleware := alice.New(requestLimiter, auditor)
	uploadRouteMiddleware := alice.New(uploadLimiter, auditor)

	// setup report dependencies
	client, err := meli.New(cfg.Meli)
	if err != nil {
		return nil, fmt.Errorf("mercadolibre client configuration failed: %w", err)
	}

	tokens, err := meli.NewTokenSource(cfg.Meli, store)
	if err != nil {
		return nil, fmt.Errorf("token source configuration failed: %w", err)
	}

	credentials, err := credential.NewCache(store)
	if err != nil {
		return nil, fmt.Errorf("credential cache configuration failed: %w", err)
	}
	hooks.Add("credential cache", credentials.Close)

	aggregator := report.New(credentials, tokens, client, store)

	mux.Handle("GET /reports/cancelled-orders", standardRouteMiddleware.Then(handleCancelledOrders(aggregator)))
	mux.Handle("GET /reports/refunds-by-category/{tenant}", standardRouteMiddleware.Then(handleRefundsByCategory(aggregator, presets)))
	mux.Handle("GET /reports/upcoming-shipments/{tenant}", standardRouteMiddleware.Then(handleUpcomingShipments(aggregator)))
	mux.Handle("GET /reports/dispatch-limit/{tenant}", standardRouteMiddleware.Then(handleDispatchLimit(aggregator)))

	// setup warehouse dependencies
	wooClient := woo.NewClient(0)
	stores := storeResolver{stores: woo.NewPostgresStores(store.Pool())}
	if cfg.Woo.Enabled() {
		stores.fallback = &woo.Store{
			URL:            cfg.Woo.BaseURL,
			ConsumerKey:    cfg.Woo.ConsumerKey,
			ConsumerSecret: cfg.Woo.ConsumerSecret,
			Active:         true,
		}
	}

	assignments := warehouse.NewPostgresStore(store.Pool())
	bulk := warehouse.NewService(assignments, wooClient)

	mux.Handle("GET /warehouses/{warehouse}/products", standardRouteMiddleware.Then(handleWarehouseProducts(assignments, stores)))
	mux.Handle("POST /warehouses/{warehouse}/assignments", uploadRouteMiddleware.Then(handleImportAssignments(bulk, stores)))
	mux.Handle("GET /warehouses/unassigned-products", standardRouteMiddleware.Then(handleExportUnassigned(bulk, stores)))

	// healthchecks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /healthcheck", alice.New(requestLimiter).Then(handleHealthCheck()))

	return mux, nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	hooks := &server.ShutdownHooks{}

	store, err := credential.NewPostgresStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("database configuration failed: %w", err)
	}
	hooks.AddClose("database pool", store)

	// Start the preset file watcher when a preset file is configured.
	presets := preset.NewStore()
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if cfg.Presets.Path != "" {
		go func() {
			if err := preset.Watch(watchCtx, presets, cfg.Presets.Path); err != nil {
				log.Warn().Err(err).Msg("preset watcher failed")
			}
		}()
	}

	// setup routing and dependencies
	handler, err := configureServerRoutes(ctx, cfg, store, presets, hooks)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	// start the server
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	httpServer.RegisterOnShutdown(func() {
		log.Info().Msg("telemetry: shutting down")
		if err := shutdownTelemetry(ctx); err != nil {
			log.Warn().Err(err).Msg("telemetry: shutdown failed")
		} else {
			log.Info().Msg("telemetry: shutdown complete")
		}
	})

	err = serveHTTP(ctx, cfg.Server, httpServer, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// serveHTTP runs the server until interrupted, then shuts down gracefully
// within the configured timeout and runs the shutdown hooks.
func serveHTTP(ctx context.Context, cfg config.ServerConfig, httpServer *http.Server, hooks *server.ShutdownHooks) error {
	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveResult := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("server starting")
		serveResult <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveResult:
		return err
	case <-signalCtx.Done():
	}

	log.Info().Msg("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown incomplete")
	}

	hooks.Execute(shutdownCtx)

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
