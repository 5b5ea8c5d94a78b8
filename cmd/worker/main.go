package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sos-notifications-worker/internal/api"
	"sos-notifications-worker/internal/config"
	"sos-notifications-worker/internal/connections"
	"sos-notifications-worker/internal/directory"
	"sos-notifications-worker/internal/dispatcher"
	"sos-notifications-worker/internal/integrations"
	"sos-notifications-worker/internal/services"
	"sos-notifications-worker/internal/trigger"
	"sos-notifications-worker/internal/worker"
)

func main() {
	logger, err := services.NewLogger(config.LogLevel, config.LogFormat)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("Worker failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.Validate(); err != nil {
		return err
	}
	logger = logger.With(zap.String("worker_id", config.WorkerId))
	logger.Info("Worker starting", zap.Bool("env_file", config.EnvFileLoaded))

	metrics := services.NewMetrics()
	callTimeout := time.Duration(config.PlatformCallTimeoutSeconds) * time.Second

	// Connect to Firebase
	fb, err := connections.InitFirebase(ctx, config.FirebaseCredentialsFile, config.FirebaseProjectId)
	if err != nil {
		return err
	}
	defer fb.Close()
	logger.Info("Firebase connected")

	fanOut := dispatcher.NewDispatcher(integrations.NewFcmPusher(fb.Messaging), logger, dispatcher.Options{
		BatchSize:   config.PushBatchSize,
		Workers:     config.PushBatchWorkers,
		RateLimit:   config.PushRateLimit,
		CallTimeout: callTimeout,
	})
	recipients := integrations.NewFirestoreDirectory(fb.Firestore, config.UsersCollection)

	deps := trigger.Deps{
		Broadcaster: fanOut,
		Devices:     fanOut,
		Directory:   directory.NewClient(recipients, logger, callTimeout),
		Incidents:   integrations.NewFirestoreIncidents(fb.Firestore, config.IncidentsCollection),
		Metrics:     metrics,
	}

	// Connect to Db (optional dispatch journal)
	if config.SqlConnString != "" {
		db, err := connections.InitDB(ctx, config.SqlConnString, connections.PoolSettings{
			MaxOpenConns:    config.DbMaxOpenConns,
			MaxIdleConns:    config.DbMaxIdleConns,
			ConnMaxLifetime: time.Duration(config.DbConnMaxLifetimeMinutes) * time.Minute,
			ConnMaxIdleTime: time.Duration(config.DbConnMaxIdleTimeMinutes) * time.Minute,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		deps.Journal = integrations.NewSqlJournal(db, logger)
		logger.Info("Dispatch journal connected")
	}

	controller := trigger.NewController(logger, trigger.Options{
		Topic:        config.SecurityTopic,
		WorkerId:     config.WorkerId,
		StoreTimeout: callTimeout,
	}, deps)

	var wg sync.WaitGroup

	// Start metrics logger
	wg.Add(1)
	go func() {
		defer wg.Done()
		services.LogMetricsPeriodically(ctx, logger, metrics,
			time.Duration(config.MetricsLogIntervalSeconds)*time.Second)
	}()

	// Start incident listener and workers
	if config.ListenerEnabled {
		pool := worker.NewPool(logger, controller, worker.Options{
			Workers:   config.ListenerWorkerPoolSize,
			QueueSize: config.ListenerQueueSize,
			RateLimit: config.IncidentRateLimit,
		})
		feed := integrations.NewFirestoreIncidentFeed(fb.Firestore, config.IncidentsCollection,
			time.Duration(config.ListenerReplayWindowSecs)*time.Second, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx, feed)
		}()
	}

	// Start HTTP server
	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              ":" + config.HttpPort,
		Handler:           api.NewRouter(controller, metrics, config.WorkerId, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	logger.Info("Worker started")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
		stop()
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}

	wg.Wait()
	logger.Info("Shut down complete")
	return nil
}
