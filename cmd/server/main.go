package main

import (
	"fmt"
	"log"
	"net/http"

	"mailflow/internal/api"
	"mailflow/internal/api/handlers"
	"mailflow/internal/api/middleware"
	"mailflow/internal/engine/automations"
	"mailflow/internal/engine/webhooks"
	"mailflow/internal/pkg/logger"
	"mailflow/internal/platform/auth"
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

	// Database connections
	globalDB, err := database.NewGlobalDB(cfg.Database.Global)
	if err != nil {
		log.Fatalf("Failed to connect to global DB: %v", err)
	}
	defer globalDB.Close()

	globalDBWrapper := database.NewGlobalDBWrapper(globalDB)

	tenantDBPool := database.NewTenantDBPool(cfg.Database.Tenant)
	defer tenantDBPool.CloseAll()

	// Repositories (global DB)
	workspaceRepo := repositories.NewWorkspaceRepository(globalDB)
	userRepo := repositories.NewUserRepository(globalDB)
	signingKeyRepo := repositories.NewSigningKeyRepository(globalDB)
	cronLogRepo := repositories.NewCronLogRepository(globalDB)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)

	validator, err := webhooks.NewValidator()
	if err != nil {
		log.Fatalf("Failed to compile webhook schemas: %v", err)
	}
	normalizer := webhooks.NewNormalizer(logger.Component("normalizer"))

	actionClient := &http.Client{Timeout: cfg.Actions.RequestTimeout}
	registry := automations.DefaultRegistry(actionClient)
	dispatcher := automations.NewDispatcher(registry, logger.Component("dispatcher"))

	sweeper := workers.NewSweeper(workspaceRepo, cronLogRepo, tenantDBPool, dispatcher,
		cfg.Webhooks, logger.Component("sweeper"))

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, tokenSvc)
	webhookHandler := handlers.NewWebhookHandler(workspaceRepo, signingKeyRepo, tenantDBPool,
		validator, normalizer, logger.Component("webhooks"))
	triggerHandler := handlers.NewTriggerHandler(dispatcher)
	cronHandler := handlers.NewCronHandler(sweeper)
	automationHandler := handlers.NewAutomationHandler()
	connectionHandler := handlers.NewConnectionHandler()
	signingKeyHandler := handlers.NewSigningKeyHandler(signingKeyRepo)
	healthHandler := handlers.NewHealthHandler(globalDBWrapper)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenSvc)
	tenantMiddleware := middleware.NewTenantMiddleware(workspaceRepo, tenantDBPool)
	cronMiddleware := middleware.NewCronAuthMiddleware(cfg.Cron.InternalAPIKey)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)

	// Router
	deps := &api.Dependencies{
		AuthHandler:       authHandler,
		WebhookHandler:    webhookHandler,
		TriggerHandler:    triggerHandler,
		CronHandler:       cronHandler,
		AutomationHandler: automationHandler,
		ConnectionHandler: connectionHandler,
		SigningKeyHandler: signingKeyHandler,
		HealthHandler:     healthHandler,
		AuthMiddleware:    authMiddleware,
		TenantMiddleware:  tenantMiddleware,
		CronMiddleware:    cronMiddleware,
		RateLimiter:       rateLimiter,
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Printf("Server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
