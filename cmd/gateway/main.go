// Package main wires the EMEDX imaging gateway executable entry point and
// lifecycle management.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/emedx/imaging-gateway/pkg/config"
	"github.com/emedx/imaging-gateway/pkg/identity"
	"github.com/emedx/imaging-gateway/pkg/logging"
	"github.com/emedx/imaging-gateway/pkg/mailer"
	"github.com/emedx/imaging-gateway/pkg/proxy"
	"github.com/emedx/imaging-gateway/pkg/telemetry"
)

const (
	defaultConfigPath        = "gateway.yaml"
	serviceName              = "imaging-gateway"
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	configPath := flag.String("config-path", defaultConfigPath, "Path to the configuration file")
	listenAddr := flag.String("listen", "", "HTTP listen address for the gateway")
	adminAddr := flag.String("admin-listen", "", "HTTP listen address for the admin endpoints")
	upstreamURL := flag.String("upstream", "", "Upstream imaging origin URL")
	otelEndpoint := flag.String("otel-endpoint", "", "OTLP endpoint")
	logLevel := flag.String("log-level", "", "Log level")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("configuration load failed: %v", err)
	}

	// Apply flag overrides
	if *listenAddr != "" {
		cfg.Server.ListenAddress = *listenAddr
	}
	if *adminAddr != "" {
		cfg.Server.AdminAddress = *adminAddr
	}
	if *upstreamURL != "" {
		cfg.Upstream.Origin = *upstreamURL
		if err := cfg.Upstream.Validate(); err != nil {
			log.Fatalf("invalid upstream flag: %v", err)
		}
	}
	if *otelEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = *otelEndpoint
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("application failed: %v", err)
	}
}

// run orchestrates the application lifecycle.
func run(ctx context.Context, cfg *config.Config) error {
	logging.SetupLogger(logging.Config{Level: cfg.Logging.Level})
	logger := logging.NewSlog(cfg.Logging.Level)

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Environment: os.Getenv("GATEWAY_ENVIRONMENT"),
	})
	if err != nil {
		return err
	}
	defer shutdownTelemetry(telemetryShutdown)

	// Branding asset is loaded once; absence downgrades logo rules to no-ops.
	asset := proxy.LoadBrandingAsset(cfg.Branding.AssetPath, logger)
	rewriter := proxy.NewRewriter(asset, cfg.Branding.ProductName, logger)

	engine := proxy.NewEngine(proxy.EngineConfig{
		Origin:          cfg.Upstream.OriginURL(),
		Rewriter:        rewriter,
		ConnectTimeout:  cfg.Upstream.ConnectTimeout,
		IdleReadTimeout: cfg.Upstream.IdleReadTimeout,
		Logger:          logger,
	})

	store := identity.NewMemoryStore()
	smtp := mailer.New(mailer.Config{
		Host:        cfg.Mail.Host,
		Port:        cfg.Mail.Port,
		Username:    cfg.Mail.Username,
		Password:    cfg.Mail.Password,
		FromName:    cfg.Mail.FromName,
		FromAddress: cfg.Mail.FromAddress,
		BaseURL:     cfg.Frontend.BaseURL,
	}, logger)

	svc := identity.NewService(identity.ServiceConfig{
		Store:                store,
		Tokens:               identity.NewTokenIssuer(cfg.Auth.TokenSecret, identity.SessionTokenTTL),
		Mailer:               smtp,
		RequireVerifiedEmail: config.RequireVerifiedEmail,
		Logger:               logger,
	})

	localMux := chi.NewRouter()
	localMux.Mount(cfg.Auth.LocalPrefix, identity.NewHandler(svc, logger).Routes())

	classifier := proxy.NewClassifier(cfg.Auth.LocalPrefix)
	gateway := proxy.NewGateway(classifier, localMux, engine, logger)

	adminSrv := startAdminServer(cfg, logger)
	defer shutdownServer(adminSrv, logger, "admin")

	dataSrv, err := startDataServer(cfg, gateway, logger)
	if err != nil {
		return err
	}
	defer shutdownServer(dataSrv, logger, "gateway")

	logger.Info("gateway active",
		"listen", cfg.Server.ListenAddress,
		"upstream", cfg.Upstream.Origin,
		"local_prefix", cfg.Auth.LocalPrefix,
	)

	awaitShutdownSignal(logger)
	return nil
}

// startDataServer initializes and starts the gateway data-plane server.
// A failure to bind the listen port is fatal; everything after startup is
// per-request and never exits the process.
func startDataServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) (*http.Server, error) {
	server := &http.Server{
		Addr: cfg.Server.ListenAddress,
		// No WriteTimeout: large imaging transfers may legitimately stream
		// for a long time; upstream stalls are bounded by the engine's
		// idle-read timeout instead.
		Handler:           otelhttp.NewHandler(handler, "gateway.data"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Server.ListenAddress)
	if err != nil {
		return nil, err
	}
	logger.Info("gateway server listening", "addr", ln.Addr().String())

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway server error", "error", err)
		}
	}()

	return server, nil
}

// startAdminServer initializes and starts the admin server.
func startAdminServer(cfg *config.Config, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ln, err := net.Listen("tcp", cfg.Server.AdminAddress)
		if err != nil {
			logger.Error("admin server listen error", "error", err)
			return
		}
		logger.Info("admin server listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", "error", err)
		}
	}()

	return server
}

// shutdownServer performs graceful shutdown of an HTTP server.
func shutdownServer(server *http.Server, logger *slog.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "server", name, "error", err)
	}
}

// shutdownTelemetry gracefully shuts down the telemetry provider.
func shutdownTelemetry(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Printf("telemetry shutdown error: %v", err)
	}
}

// awaitShutdownSignal blocks until a shutdown signal occurs.
func awaitShutdownSignal(logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
}
