package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"taskcycle/internal/config"
	"taskcycle/internal/handler"
	"taskcycle/internal/httpserver"
	"taskcycle/internal/lock"
	"taskcycle/internal/mqhandler"
	"taskcycle/internal/repository"
	"taskcycle/internal/service"
	"taskcycle/pkg/db"
	"taskcycle/pkg/logger"
	"taskcycle/pkg/mq"
	"taskcycle/pkg/outbox"
	"taskcycle/pkg/redis"
	"taskcycle/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting taskcycle...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.Bool("advance_on_completion", cfg.Recurrence.AdvanceOnCompletion),
		zap.Bool("advance_on_schedule", cfg.Recurrence.AdvanceOnSchedule),
	)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	if err := repository.Migrate(context.Background(), dbConn, log); err != nil {
		log.Fatal("Failed to apply migrations", zap.Error(err))
	}

	// Redis: series leases + MQ retry bookkeeping.
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	lockOpts := lock.Options{
		TTL:            cfg.Recurrence.LockTTL(),
		AcquireTimeout: cfg.Recurrence.LockTimeout(),
	}
	var locker lock.Locker
	if cfg.Recurrence.UseMemoryLock {
		log.Info("Using in-process series locks")
		locker = lock.NewMemoryLocker(lockOpts)
	} else {
		locker = lock.NewRedisLocker(rdb, lockOpts, log)
	}

	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// MQ
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	if err := declareDLQ(cfg.MQ.URL); err != nil {
		log.Fatal("Failed to declare DLQ", zap.Error(err))
	}

	// Repositories
	seriesRepo := repository.NewSeriesRepository(dbConn, log)
	taskRepo := repository.NewTaskRepository(dbConn, log)
	outboxRepo := outbox.NewRepository(dbConn)
	occurrenceRepo := repository.NewOccurrenceRepository(dbConn, outboxRepo, log)

	// Engine
	materializer := service.NewMaterializer(taskRepo, occurrenceRepo, log)
	processor := service.NewProcessor(
		seriesRepo,
		taskRepo,
		materializer,
		locker,
		publisher,
		cfg.Recurrence,
		log,
	)

	// Outbox dispatcher
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	defer dispatcherCancel()
	go dispatcher.Start(dispatcherCtx)

	// MQ trigger: task.completed events.
	consumer, err := mq.NewConsumer(cfg.MQ.URL, "taskcycle.completion", "task.completed", log)
	if err != nil {
		log.Fatal("Failed to init MQ consumer", zap.Error(err))
	}
	defer consumer.Close()

	completedHandler := mqhandler.NewTaskCompletedHandler(processor, retryCounter, publisher, log)
	consumer.SetHandler(completedHandler.Handle)
	go func() {
		if err := consumer.StartConsuming(); err != nil {
			log.Error("Consumer stopped", zap.Error(err))
		}
	}()

	// Scheduled tick trigger.
	scheduler := service.NewScheduler(time.UTC)
	if cfg.Recurrence.AdvanceOnSchedule {
		tickInterval := time.Duration(cfg.Recurrence.TickIntervalSeconds) * time.Second
		_, err := scheduler.ScheduleInterval(tickInterval, func() {
			ctx, cancel := context.WithTimeout(context.Background(), tickInterval)
			defer cancel()
			if _, err := processor.ProcessScheduledTick(ctx, processor.Now()); err != nil {
				log.Error("Scheduled tick failed", zap.Error(err))
			}
		})
		if err != nil {
			log.Fatal("Failed to schedule tick", zap.Error(err))
		}
		log.Info("Scheduled tick registered",
			zap.Duration("interval", tickInterval),
		)
	}
	scheduler.Start()

	// HTTP
	seriesHandler := handler.NewSeriesHandler(seriesRepo, log)
	taskHandler := handler.NewTaskHandler(taskRepo, processor, log)
	router := httpserver.NewRouter(seriesHandler, taskHandler, log, dbConn)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("taskcycle is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down taskcycle gracefully...")

	scheduler.Stop()
	dispatcherCancel()
	consumer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("taskcycle shutdown complete")
}

func declareDLQ(url string) error {
	conn, err := mq.NewConnection(url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := mq.DeclareDLQExchange(ch); err != nil {
		return err
	}
	_, err = mq.DeclareDLQQueue(ch, "task.completed")
	return err
}
