package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/config"
	"github.com/willianmendesf/whatsapp-sender/internal/constants"
	"github.com/willianmendesf/whatsapp-sender/internal/database"
	"github.com/willianmendesf/whatsapp-sender/internal/logfile"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/retry"
	"github.com/willianmendesf/whatsapp-sender/internal/service"
	"github.com/willianmendesf/whatsapp-sender/internal/tracing"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

const (
	appName        = "whatsapp-sender"
	appDescription = "Paced WhatsApp message delivery with fallback recipients"

	dbInitAttempts     = 5
	dbInitInitialDelay = 500 * time.Millisecond
	dbInitMaxDelay     = 5 * time.Second
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file (JSON or YAML)")
	envFile    = flag.String("env-file", ".env", "Optional .env file loaded before the configuration")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s %s\nBuild Time: %s\nGit Commit: %s\n", appName, Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := config.LoadDotEnv(*envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logWriter, err := logfile.NewWriter(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if logWriter != nil {
		defer logWriter.Close()
	}
	logger.SetOutput(logfile.Output(os.Stdout, logWriter))
	applyLogLevel(logger, cfg.LogLevel, *verbose)

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting whatsapp-sender")

	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = Version
	}
	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	clientConfig := types.ClientConfig{
		BaseURL:     cfg.WhatsApp.APIBaseURL,
		APIKey:      cfg.WhatsApp.APIKey,
		SessionName: cfg.WhatsApp.SessionName,
		Timeout:     time.Duration(cfg.WhatsApp.TimeoutMs) * time.Millisecond,
		RetryCount:  cfg.WhatsApp.RetryCount,
	}
	waClient := whatsapp.NewClient(clientConfig)

	ctx = service.WithVerbose(ctx, *verbose)

	conn := service.NewConnectionManager(waClient, logger, service.DefaultReconnectPolicy())
	gateway := service.NewGateway(ctx, conn, waClient, service.NewPendingBuffer(logger), logger)
	mediaResolver := service.NewMediaResolver(cfg.Media, logger)
	fallback := service.NewFallbackResolver(gateway, cfg.Fallback.Mode, logger)
	pacing := service.DefaultPacingConfig()
	delivery := service.NewDeliveryService(gateway, mediaResolver, fallback, db, pacing, logger)
	dispatcher := service.NewDispatcher(ctx, delivery.Process, pacing, logger)

	watcher := config.NewConfigWatcher(*configPath, cfg, logger)
	watcher.OnConfigChange(func(updated *models.Config) {
		applyLogLevel(logger, updated.LogLevel, *verbose)
		fallback.SetMode(updated.Fallback.Mode)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration hot reload disabled")
		}
	}()

	scheduler := service.NewScheduler(db, cfg.RetentionDays, cfg.Server.CleanupSchedule, logger)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cleanup scheduler: %w", err)
	}
	defer scheduler.Stop()

	var webhooks WebhookProcessor
	if cfg.WhatsApp.EventSource == constants.EventSourceWebhook {
		webhooks = service.NewWebhookHandler(conn, waClient.SessionName(), logger)
		logger.Info("Receiving session events through the WhatsApp webhook")
	} else {
		stream := whatsapp.NewEventStream(clientConfig, logger)
		go func() {
			if err := stream.Run(ctx, conn.HandleEvent); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("WhatsApp event stream stopped")
			}
		}()
	}

	poller := service.NewStatusPoller(conn, time.Duration(cfg.WhatsApp.StatusPollSec)*time.Second, logger)
	go poller.Start(ctx)

	conn.Start(ctx)

	server := NewServer(cfg, ServerDeps{
		Queue:      dispatcher,
		Pending:    gateway,
		Connection: conn,
		QR:         waClient,
		Deliveries: db,
		Webhooks:   webhooks,
		Fallback:   fallback,
	}, logger, *verbose)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	notifySystemd(logger, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	notifySystemd(logger, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// openDatabase retries the open with exponential backoff, since the data
// volume may be mounted after the process starts.
func openDatabase(ctx context.Context, cfg models.DatabaseConfig, logger *logrus.Logger) (*database.Database, error) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: dbInitInitialDelay,
		MaxDelay:     dbInitMaxDelay,
		Multiplier:   2.0,
		MaxAttempts:  dbInitAttempts,
		Jitter:       true,
	})

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Path, cfg.EncryptionSecret)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}

	if db.EncryptionEnabled() {
		logger.Info("Delivery log encryption enabled")
	}
	return db, nil
}

// applyLogLevel sets the configured level. Levels more verbose than info
// require the --verbose flag.
func applyLogLevel(logger *logrus.Logger, level string, verboseFlag bool) {
	if verboseFlag {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
		return
	}
	if level == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	if parsed > logrus.InfoLevel {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

func notifySystemd(logger *logrus.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.WithError(err).Warn("Failed to notify systemd")
		return
	}
	if sent {
		logger.WithField("state", state).Debug("Notified systemd")
	}
}
