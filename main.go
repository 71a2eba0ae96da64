package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MartinGrube/SoloStore/app/controllers"
	affiliatespkg "github.com/MartinGrube/SoloStore/internal/pkg/affiliates"
	"github.com/MartinGrube/SoloStore/internal/pkg/cache"
	"github.com/MartinGrube/SoloStore/internal/pkg/checkout"
	"github.com/MartinGrube/SoloStore/internal/pkg/database"
	"github.com/MartinGrube/SoloStore/internal/pkg/discounts"
	"github.com/MartinGrube/SoloStore/internal/pkg/env"
	"github.com/MartinGrube/SoloStore/internal/pkg/events"
	"github.com/MartinGrube/SoloStore/internal/pkg/github"
	"github.com/MartinGrube/SoloStore/internal/pkg/jobqueue"
	"github.com/MartinGrube/SoloStore/internal/pkg/licensing"
	"github.com/MartinGrube/SoloStore/internal/pkg/payments"
	"github.com/MartinGrube/SoloStore/internal/pkg/router"
	"github.com/MartinGrube/SoloStore/internal/pkg/storage"
	"github.com/MartinGrube/SoloStore/internal/pkg/webhooks"
)

func main() {
	app, manager := NewApplication()

	manager.Start()
	defer manager.Stop()

	// Graceful shutdown: stop claiming new jobs, finish in-flight ones, then
	// close the listener.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("[App] Shutdown signal received")
		manager.Stop()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires the full engine: database, cache, services, the job
// manager with its executors and sweeps, and the HTTP surface.
func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()

	leaseMinutes, _ := strconv.Atoi(env.GetEnv("JOB_LEASE_MINUTES", "10"))
	ledger := jobqueue.NewLedgerWithLease(db, time.Duration(leaseMinutes)*time.Minute)

	guard := discounts.NewGuard(db)
	affiliateService := affiliatespkg.NewServiceFromDB(db)
	licenseService := licensing.NewServiceFromDB(db)
	eventService := events.NewService(db, ledger)
	dispatcher := webhooks.NewDispatcher(db)
	checkoutService := checkout.NewService(db, payments.NewClientFromEnv(), guard, affiliateService)

	workers, _ := strconv.Atoi(env.GetEnv("JOB_WORKERS", "4"))
	manager := jobqueue.NewManager(ledger, workers)

	jobqueue.NewFulfillmentProcessor(db, licenseService, github.NewClientFromEnv()).RegisterWith(manager)
	jobqueue.NewReverseProcessor(db, licenseService, ledger).RegisterWith(manager)
	affiliateProcessor := jobqueue.NewAffiliateProcessor(affiliateService)
	affiliateProcessor.RegisterWith(manager)
	webhookProcessor := jobqueue.NewWebhookProcessor(dispatcher)
	webhookProcessor.RegisterWith(manager)

	staleDays, _ := strconv.Atoi(env.GetEnv("LICENSE_STALE_DAYS", "90"))
	manager.RegisterSweep("webhook-due-scan", 30*time.Second, webhookProcessor.RunDueSweep)
	manager.RegisterSweep("commission-maturation", 15*time.Minute, affiliateProcessor.MatureSweep)
	manager.RegisterSweep("event-replay", 5*time.Minute, func(ctx context.Context) error {
		return eventService.ReplaySweep(ctx, 5*time.Minute)
	})
	manager.RegisterSweep("attempt-expiry", time.Hour, checkoutService.ExpireStale)
	manager.RegisterSweep("license-pruning", 24*time.Hour, func(ctx context.Context) error {
		_, err := licenseService.PruneStale(ctx, time.Duration(staleDays)*24*time.Hour)
		return err
	})

	var artifactStore *storage.Client
	if cfg, err := storage.LoadConfig(); err != nil {
		log.Warnf("[App] Artifact storage disabled: %v", err)
	} else if artifactStore, err = storage.NewClient(cfg); err != nil {
		log.Warnf("[App] Artifact storage disabled: %v", err)
	}

	controllers.InitializeWebhookController(eventService)
	controllers.InitializeCheckoutController(checkoutService)
	controllers.InitializeLicenseController(licenseService)
	controllers.InitializeDownloadController(db, artifactStore)
	controllers.InitializeAdminController(db, ledger, eventService)

	app := fiber.New(fiber.Config{
		AppName:   "SoloStore",
		BodyLimit: 1 * 1024 * 1024,
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	router.InstallRouter(app)

	return app, manager
}
