package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jennylee1996/speech-to-text-service/internal/batch"
	"github.com/jennylee1996/speech-to-text-service/internal/config"
	"github.com/jennylee1996/speech-to-text-service/internal/link"
	"github.com/jennylee1996/speech-to-text-service/internal/metrics"
	"github.com/jennylee1996/speech-to-text-service/internal/server"
	"github.com/jennylee1996/speech-to-text-service/internal/session"
	"github.com/jennylee1996/speech-to-text-service/internal/token"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "speech-to-text-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("bind_address", cfg.HTTP.Address),
		slog.String("remote_url", cfg.Remote.URL),
		slog.Int("sample_rate", cfg.Remote.SampleRate),
		slog.Bool("use_temp_token", cfg.Remote.UseTempToken),
		slog.Bool("lazy_start", cfg.Session.LazyStart),
		slog.String("batch_endpoint", cfg.Batch.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Build the dialer for remote transcription links. With temporary
	// tokens enabled, each dial fetches a fresh token and authenticates
	// through the URL; otherwise the API key rides the handshake header.
	dialer, err := buildDialer(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize link dialer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize session registry
	registry, err := session.NewRegistry(logger, dialer, appMetrics, session.Config{
		SampleRate:      cfg.Remote.SampleRate,
		PendingEvents:   cfg.Session.PendingEvents,
		CloseGrace:      cfg.Remote.GetCloseGrace(),
		IdleTimeout:     cfg.Session.GetIdleTimeout(),
		CleanupInterval: cfg.Session.GetCleanupInterval(),
		LazyStart:       cfg.Session.LazyStart,
	})
	if err != nil {
		logger.Error("Failed to create session registry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session registry initialized",
		slog.Duration("idle_timeout", cfg.Session.GetIdleTimeout()),
		slog.Bool("lazy_start", cfg.Session.LazyStart),
	)

	// Initialize batch transcription client
	batchClient, err := batch.NewClient(batch.Config{
		Endpoint:      cfg.Batch.Endpoint,
		APIKey:        cfg.Remote.APIKey,
		Timeout:       cfg.Batch.GetTimeout(),
		PollInterval:  cfg.Batch.GetPollInterval(),
		MaxRetries:    cfg.Batch.MaxRetries,
		MaxConcurrent: cfg.Batch.MaxConcurrent,
	}, logger)
	if err != nil {
		logger.Error("Failed to create batch client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Batch transcription client initialized",
		slog.String("endpoint", cfg.Batch.Endpoint),
	)

	// Initialize HTTP API server
	httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, registry, batchClient, appMetrics)
	logger.Info("HTTP API server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Close all active sessions
	registry.ShutdownAll(shutdownCtx)

	// Wait for in-flight batch requests
	if err := batchClient.Close(); err != nil {
		logger.Error("Error closing batch client", slog.String("error", err.Error()))
	}

	stats := registry.Stats()
	logger.Info("Final session statistics",
		slog.Uint64("sessions_created", stats.SessionsCreated),
		slog.Uint64("sessions_closed", stats.SessionsClosed),
	)

	logger.Info("Service stopped")
}

// buildDialer wires the remote link dialer from configuration
func buildDialer(cfg *config.Config, logger *slog.Logger) (session.Dialer, error) {
	var tokenClient *token.Client
	if cfg.Remote.UseTempToken {
		var err error
		tokenClient, err = token.NewClient(cfg.Remote.TokenURL, cfg.Remote.APIKey,
			cfg.Remote.GetConnectTimeout(), logger)
		if err != nil {
			return nil, err
		}
	}

	return session.DialFunc(func(ctx context.Context, sessionID string) (session.RemoteLink, error) {
		opts := link.Options{
			HandshakeTimeout: cfg.Remote.GetConnectTimeout(),
		}

		var tempToken string
		if tokenClient != nil {
			var err error
			tempToken, err = tokenClient.IssueTemporaryToken(ctx)
			if err != nil {
				return nil, err
			}
		} else {
			opts.Authorization = cfg.Remote.APIKey
		}

		endpoint, err := link.BuildURL(cfg.Remote.URL, cfg.Remote.SampleRate, tempToken)
		if err != nil {
			return nil, err
		}

		return link.Dial(ctx, endpoint, opts, logger)
	}), nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
