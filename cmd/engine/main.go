package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outreach_cadence_engine/internal/app"
	"outreach_cadence_engine/internal/infra/bus"
	infraChannel "outreach_cadence_engine/internal/infra/channel"
	"outreach_cadence_engine/internal/infra/config"
	idb "outreach_cadence_engine/internal/infra/database"
	"outreach_cadence_engine/internal/infra/httpapi"
	"outreach_cadence_engine/internal/infra/logger"
	"outreach_cadence_engine/internal/infra/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithField("environment", cfg.Environment).Info("Cadence execution engine starting")

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	mainLogger.Info("Database connection established")

	cadenceRepo := idb.NewPostgresCadenceRepository(db)
	runRepo := idb.NewPostgresRunRepository(db)

	enrollment := app.NewEnrollmentService(cadenceRepo, runRepo, logger.Component("enrollment"))

	gateway := infraChannel.NewHTTPGatewayClient(cfg.ChannelGatewayBaseURL, cfg.ChannelGatewayTimeout)
	dispatcher := app.NewDispatchService(
		runRepo,
		gateway,
		enrollment,
		logger.Component("dispatcher"),
		cfg.DispatchWorkers,
		cfg.DispatchBatchSize,
		cfg.DispatchTimeout,
		cfg.ClaimAbandonAfter,
	)

	monitor := app.NewStopMonitor(cadenceRepo, runRepo, enrollment, logger.Component("monitor"))

	eventBus := bus.NewInMemoryBus(logger.Component("bus"), 256)
	eventBus.SubscribeStopSignal(monitor.HandleStopSignal)
	eventBus.SubscribeLeadAssigned(monitor.HandleLeadAssigned)
	mainLogger.Info("Stop-condition monitor subscribed to event bus")

	dispatchScheduler := scheduler.NewDispatchScheduler(
		dispatcher,
		logger.Component("scheduler"),
		cfg.CronSpecDispatch,
		cfg.CronSpecReclaim,
	)
	dispatchScheduler.Start()

	mux := http.NewServeMux()
	httpapi.RegisterHandlers(mux, enrollment, eventBus, logger.Component("httpapi"))
	server := &http.Server{
		Addr:    cfg.HTTPListenAddr,
		Handler: mux,
	}
	go func() {
		mainLogger.WithField("addr", cfg.HTTPListenAddr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mainLogger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLogger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Error("HTTP server shutdown failed")
	}
	dispatchScheduler.Stop()
	eventBus.Close()
	mainLogger.Info("Shut down gracefully")
}
