package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
	"github.com/ternarybob/fleetsync/internal/services/auth"
	"github.com/ternarybob/fleetsync/internal/services/credentials"
	"github.com/ternarybob/fleetsync/internal/services/directory"
	"github.com/ternarybob/fleetsync/internal/services/events"
	"github.com/ternarybob/fleetsync/internal/services/extractor"
	"github.com/ternarybob/fleetsync/internal/services/otp"
	"github.com/ternarybob/fleetsync/internal/services/parser"
	"github.com/ternarybob/fleetsync/internal/services/platforms"
	"github.com/ternarybob/fleetsync/internal/services/reconcile"
	"github.com/ternarybob/fleetsync/internal/services/scheduler"
	"github.com/ternarybob/fleetsync/internal/services/session"
	"github.com/ternarybob/fleetsync/internal/services/syncer"
	"github.com/ternarybob/fleetsync/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService
	Scheduler      interfaces.SchedulerService

	Sessions     *session.Store
	AuthService  *auth.Service
	Registry     *platforms.Registry
	Orchestrator *syncer.Orchestrator
}

// logNotifier is the default delivery channel when no external one is
// wired: completed-sync notifications land in the structured log
type logNotifier struct {
	logger arbor.ILogger
}

func (n *logNotifier) Deliver(ctx context.Context, notification *models.Notification) error {
	evt := n.logger.Info().
		Str("execution_id", notification.ExecutionID).
		Str("tenant", notification.Tenant).
		Str("status", string(notification.Status))
	for platform, outcome := range notification.Summary {
		evt = evt.Str("platform_"+platform, outcome)
	}
	evt.Msg("Sync notification")
	return nil
}

// New initializes the application: storage, platform registry, browser
// session store, and the sync pipeline around them
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := badger.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	registry, err := platforms.Load(cfg.Platforms.Dir, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to load platform profiles: %w", err)
	}
	a.Registry = registry

	a.EventService = events.NewService(logger)
	a.Scheduler = scheduler.NewService(logger)

	a.Sessions = session.NewStore(cfg, storageManager.SessionMetaStorage(), logger)

	var otpSource interfaces.OTPSource
	if cfg.OTP.Enabled {
		otpSource = otp.NewSource(cfg.OTP, logger)
		logger.Info().Str("server", cfg.OTP.Server).Msg("Mailbox OTP source enabled")
	}

	machine := auth.NewMachine(cfg, logger, otpSource)
	a.AuthService = auth.NewService(machine, logger)

	driver := extractor.NewDriver(cfg, logger)
	fileParser := parser.NewService(logger)

	directorySvc := directory.NewService(cfg.Directory.Dir, logger)
	reconciler := reconcile.NewService(storageManager.LedgerStorage(), directorySvc, logger)

	credentialSvc := credentials.NewService(cfg.Credentials.Dir, logger)

	a.Orchestrator = syncer.NewOrchestrator(
		cfg,
		a.Sessions,
		a.AuthService,
		driver,
		fileParser,
		reconciler,
		credentialSvc,
		registry,
		storageManager.SyncLogStorage(),
		storageManager.KeyValueStorage(),
		a.EventService,
		&logNotifier{logger: logger},
		logger,
	)

	if err := a.Orchestrator.RecoverOrphans(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Orphaned execution recovery failed")
	}

	if cfg.Scheduler.Enabled {
		if err := a.registerScheduledSyncs(); err != nil {
			storageManager.Close()
			return nil, err
		}
	}

	return a, nil
}

// registerScheduledSyncs wires each configured recurring sync into the
// scheduler and starts it
func (a *App) registerScheduledSyncs() error {
	for _, sync := range a.Config.Scheduler.Syncs {
		sync := sync
		name := fmt.Sprintf("sync-%s", sync.Tenant)
		rangeDays := sync.RangeDays
		if rangeDays <= 0 {
			rangeDays = 7
		}

		err := a.Scheduler.RegisterJob(name, sync.Schedule, func() error {
			ctx := context.Background()
			// Stretch the window back to the last clean sync so downtime
			// between schedules never leaves a gap
			dateRange := a.Orchestrator.RangeSinceLastSuccess(ctx, sync.Tenant, rangeDays)
			_, err := a.Orchestrator.RunSync(ctx, sync.Tenant, sync.Platforms, dateRange)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to register scheduled sync for %s: %w", sync.Tenant, err)
		}
	}

	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close releases every component in reverse initialization order
func (a *App) Close() error {
	if a.Scheduler != nil && a.Scheduler.IsRunning() {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler stop failed")
		}
	}

	if a.Sessions != nil {
		if err := a.Sessions.Shutdown(); err != nil {
			a.Logger.Warn().Err(err).Msg("Session store shutdown failed")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Event service close failed")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
			return err
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
