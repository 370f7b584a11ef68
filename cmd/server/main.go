package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/approval"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/config"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/erp"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/notification"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/repository"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/risk"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/server"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/worker"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/pkg/database"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/pkg/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(logging.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting procurement approval middleware",
		zap.String("version", "1.0.0"),
		zap.String("erp_mode", cfg.ERP.Mode),
		zap.Int("port", cfg.Server.Port))

	// Initialize database
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal("Failed to create data directory", zap.Error(err))
		}
	}

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	migrator := database.NewMigrator(db, logger)
	if err := migrator.Run(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Initialize repositories
	decisionRepo := repository.NewDecisionRepository(db.DB, logger)
	requisitionRepo := repository.NewRequisitionRepository(db.DB, logger)
	notificationRepo := repository.NewNotificationRepository(db.DB, logger)

	// Initialize ERP connector manager
	factory := erp.NewFactory(erp.SAPConfig{
		BaseURL:       cfg.ERP.SAP.BaseURL,
		ServicePrefix: cfg.ERP.SAP.ServicePrefix,
		APIKey:        cfg.ERP.SAP.APIKey,
		Username:      cfg.ERP.SAP.Username,
		Password:      cfg.ERP.SAP.Password,
		Timeout:       cfg.ERP.SAP.Timeout,
	}, requisitionRepo, logger)

	connectors, err := erp.NewManager(factory, cfg.ERP.Mode, logger)
	if err != nil {
		logger.Fatal("Failed to initialize ERP connector", zap.Error(err))
	}
	defer connectors.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := connectors.Connect(ctx); err != nil {
		// Connector failures are recoverable: the worker reconnects per
		// pass and /health surfaces the state.
		logger.Error("Initial ERP connect failed", zap.Error(err))
	}

	// Initialize notification channels
	var larkChannel *notification.LarkChannel
	if cfg.Notify.LarkEnabled {
		larkChannel = notification.NewLarkChannel(notification.LarkConfig{
			AppID:     cfg.Notify.LarkAppID,
			AppSecret: cfg.Notify.LarkAppSecret,
			ReceiveID: cfg.Notify.LarkReceiveID,
		}, logger)
	}
	notifier := notification.NewNotifier(notificationRepo, larkChannel, logger)

	// Initialize approval pipeline
	orchestrator := approval.NewOrchestrator(
		approval.Config{
			GracePeriod:       cfg.Approval.GracePeriod,
			AutoCommitEnabled: cfg.Approval.AutoCommitEnabled,
		},
		db,
		decisionRepo,
		risk.NewEngine(),
		connectors,
		notifier,
		logger,
	)

	// Initialize background workers
	workers := worker.NewManager(logger)
	workers.Register(worker.NewCommitWorker(
		db,
		decisionRepo,
		connectors,
		notifier,
		cfg.Scheduler.CommitInterval,
		logger,
	))

	if err := workers.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	// Initialize HTTP server
	srv := server.NewServer(cfg.Server, orchestrator, connectors, notificationRepo, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	var srvErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		// Stop workers before the server so in-flight commits finish
		// against a live database.
		workers.StopAll()
		srvErr = <-errCh
	case srvErr = <-errCh:
		workers.StopAll()
	}
	if srvErr != nil {
		logger.Error("HTTP server error", zap.Error(srvErr))
	}

	logger.Info("Server exited successfully")
}
