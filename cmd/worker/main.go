package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"mailflow/internal/engine/automations"
	"mailflow/internal/pkg/logger"
	"mailflow/internal/platform/config"
	"mailflow/internal/platform/database"
	"mailflow/internal/platform/repositories"
	"mailflow/internal/workers"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)
	workerLog := logger.Component("worker")

	globalDB, err := database.NewGlobalDB(cfg.Database.Global)
	if err != nil {
		log.Fatalf("Failed to connect to global DB: %v", err)
	}
	defer globalDB.Close()

	tenantDBPool := database.NewTenantDBPool(cfg.Database.Tenant)
	defer tenantDBPool.CloseAll()

	workspaceRepo := repositories.NewWorkspaceRepository(globalDB)
	cronLogRepo := repositories.NewCronLogRepository(globalDB)

	actionClient := &http.Client{Timeout: cfg.Actions.RequestTimeout}
	registry := automations.DefaultRegistry(actionClient)
	dispatcher := automations.NewDispatcher(registry, logger.Component("dispatcher"))

	sweeper := workers.NewSweeper(workspaceRepo, cronLogRepo, tenantDBPool, dispatcher,
		cfg.Webhooks, logger.Component("sweeper"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()
	schedules := map[string]string{
		workers.JobProcessWebhooks: cfg.Cron.WebhookSchedule,
		workers.JobProcessSync:     cfg.Cron.SyncSchedule,
		workers.JobCleanup:         cfg.Cron.CleanupSchedule,
		workers.JobHealthCheck:     cfg.Cron.HealthSchedule,
	}
	for job, spec := range schedules {
		job := job
		if _, err := scheduler.AddFunc(spec, func() {
			// Run logs its own outcome to cron_logs; an error here means the
			// entry itself could not be recorded.
			if _, err := sweeper.Run(ctx, job); err != nil {
				workerLog.Error().Err(err).Str("job", job).Msg("sweep run failed")
			}
		}); err != nil {
			log.Fatalf("Invalid schedule for %s (%q): %v", job, spec, err)
		}
	}

	workerLog.Info().Msg("worker started")
	scheduler.Start()

	<-ctx.Done()
	workerLog.Info().Msg("shutting down, waiting for running jobs")
	<-scheduler.Stop().Done()
}
