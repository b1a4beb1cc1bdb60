package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentwatch/agentwatch/internal/api"
	"github.com/agentwatch/agentwatch/internal/config"
	"github.com/agentwatch/agentwatch/internal/export"
	"github.com/agentwatch/agentwatch/internal/gateway"
	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/realtime"
	"github.com/agentwatch/agentwatch/internal/service/alert"
	"github.com/agentwatch/agentwatch/internal/service/cost"
	"github.com/agentwatch/agentwatch/internal/service/dashboard"
	"github.com/agentwatch/agentwatch/internal/service/errtrack"
	"github.com/agentwatch/agentwatch/internal/storage"
)

func main() {
	// Load configuration. A config file, when given, is also watched for
	// budget changes.
	configPath := os.Getenv("AGENTWATCH_CONFIG")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize logging
	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logger.Info("starting agentwatch server",
		slog.String("version", "0.1.0"),
		slog.Int("port", cfg.Server.Port),
		slog.String("gateway", cfg.Gateway.URL))

	// Initialize database
	db, err := storage.New(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sealer, err := storage.NewSealer(cfg.Database.EncryptionKey)
	if err != nil {
		logger.Error("failed to initialize storage encryption", slog.String("error", err.Error()))
		os.Exit(1)
	}

	monthlyBudget, err := cfg.Budget.Monthly()
	if err != nil {
		logger.Error("invalid monthly budget", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize stores
	sampleStore := storage.NewSampleStore(db, sealer)
	errorStore := storage.NewErrorRecordStore(db, sealer)

	// Gateway client and its last-known-value source
	gatewayClient := gateway.NewHTTPClient(cfg.Gateway.URL, cfg.Gateway.Token,
		gateway.WithTimeout(cfg.Gateway.Timeout),
		gateway.WithRateLimit(cfg.Gateway.RequestsPerSecond))

	source, err := gateway.NewSource(gatewayClient,
		gateway.WithLogger(logger),
		gateway.WithLastKnownTTL(cfg.Gateway.LastKnownTTL),
		gateway.WithMaxConcurrency(cfg.Gateway.MaxConcurrency))
	if err != nil {
		logger.Error("failed to initialize gateway source", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer source.Close()

	// Initialize services
	costTracker := cost.New(sampleStore, source,
		cost.WithLogger(logger),
		cost.WithPollInterval(cfg.Gateway.PollInterval),
		cost.WithImmediatePoll(false),
		cost.WithMonthlyBudget(monthlyBudget))

	errorTracker := errtrack.New(errorStore, errtrack.WithLogger(logger))

	alertEngine := alert.New(
		alert.WithLogger(logger),
		alert.WithDedupWindow(cfg.Alerts.DedupWindow))

	sweeper, err := alert.NewSweeper(alertEngine, cfg.Alerts.SweepSchedule, cfg.Alerts.RetentionMaxAge, logger)
	if err != nil {
		logger.Error("failed to initialize alert sweeper", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dash := dashboard.New(costTracker, errorTracker, alertEngine, source,
		dashboard.WithLogger(logger),
		dashboard.WithErrorSpikeThreshold(cfg.Alerts.ErrorSpikeThreshold))

	broadcaster := realtime.New(realtime.NewHub(logger), dash,
		realtime.WithLogger(logger),
		realtime.WithIntervals(cfg.Realtime.CostInterval, cfg.Realtime.ResourceInterval, cfg.Realtime.AlertInterval),
		realtime.WithClientConfig(realtime.ClientConfig{
			SendQueueSize:     cfg.Realtime.SendQueueSize,
			WriteTimeout:      cfg.Realtime.WriteTimeout,
			PingInterval:      cfg.Realtime.PingInterval,
			InboundPerSecond:  cfg.Realtime.InboundPerSecond,
			MaxInboundMessage: cfg.Realtime.MaxInboundMessage,
		}))

	var exporter *export.Exporter
	if cfg.Export.Enabled {
		exporter, err = newExporter(cfg.Export, costTracker, logger)
		if err != nil {
			logger.Error("failed to initialize cost report export", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Initialize API server (not ready yet)
	server := api.New(dash, errorTracker, alertEngine,
		api.WithLogger(logger),
		api.WithHost(cfg.Server.Host),
		api.WithPort(cfg.Server.Port),
		api.WithBroadcaster(broadcaster))

	// Pull once before accepting traffic so the first requests see data; the
	// poll loop then waits a full interval before its next pull
	pollCtx, pollCancel := context.WithTimeout(ctx, cfg.Gateway.Timeout+5*time.Second)
	stored := costTracker.Poll(pollCtx)
	pollCancel()
	logger.Info("initial cost poll complete", slog.Int("new_samples", stored))

	// Mark server as ready
	server.SetReady(true)

	// Start background services
	if err := costTracker.Start(ctx); err != nil {
		logger.Error("failed to start cost tracker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := sweeper.Start(); err != nil {
		logger.Error("failed to start alert sweeper", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := broadcaster.Start(ctx); err != nil {
		logger.Error("failed to start live-update broadcaster", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if exporter != nil {
		if err := exporter.Start(); err != nil {
			logger.Error("failed to start cost report export", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if configPath != "" {
		err := config.Watch(configPath, logger, func(next *config.Config) {
			budget, err := next.Budget.Monthly()
			if err != nil {
				logger.Warn("ignoring monthly budget change", slog.String("error", err.Error()))
				return
			}
			costTracker.SetMonthlyBudget(budget)
		})
		if err != nil {
			logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
		}
	}

	// Handle shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")

		// Mark server as not ready to stop accepting new requests
		server.SetReady(false)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		// Close live connections first; Shutdown does not wait for hijacked ones
		broadcaster.Stop()
		if exporter != nil {
			exporter.Stop()
		}
		sweeper.Stop()
		costTracker.Stop()

		// Shutdown HTTP server
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}
		cancel()
	}()

	// Start server
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	<-shutdownDone
	logger.Info("shutdown complete")
}

func newExporter(cfg config.ExportConfig, costs export.CostReader, logger *slog.Logger) (*export.Exporter, error) {
	key, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	var opts []export.SFTPOption
	if cfg.KnownHostsPath != "" {
		opt, err := export.WithKnownHosts(cfg.KnownHostsPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	} else {
		logger.Warn("export host key verification disabled: no known_hosts_path configured")
	}

	uploader, err := export.NewSFTPUploader(export.Credentials{
		Host:       cfg.Host,
		Port:       cfg.Port,
		User:       cfg.User,
		PrivateKey: key,
	}, opts...)
	if err != nil {
		return nil, err
	}

	return export.New(costs, uploader,
		export.WithLogger(logger),
		export.WithSchedule(cfg.Schedule),
		export.WithRemoteDir(cfg.RemoteDir))
}
