package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"liveclass/internal/classroom"
	"liveclass/internal/config"
	"liveclass/internal/jobs"
	"liveclass/internal/logging"
	"liveclass/internal/observability"
	"liveclass/internal/queue"
	"liveclass/internal/store"
	"liveclass/internal/videoroom"
)

// Worker records lifecycle events into the audit table and reconciles sessions with the rooms
// the video service is actually running.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}
	cfg := config.Load()

	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer lg.Closer()
	logger := lg.Base.Named("worker")

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, os.Getenv("RELEASE"))
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	db, err := store.NewDB(startCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	repo := store.NewRepository(db.Client)

	var events classroom.EventPublisher
	if cfg.QueueBackend != "memory" {
		events = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	runner := jobs.New(ctx, logger)
	if cfg.LiveKitConfigured() {
		rooms := videoroom.New(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
		classes := classroom.NewService(repo, rooms, events, classroom.RoomConfig{
			MaxParticipants: cfg.RoomMaxParticipants,
			EmptyTimeout:    cfg.RoomEmptyTimeout,
			TokenTTL:        cfg.LiveKitTokenTTL,
		}, logger.Named("reconcile"))
		runner.Every(cfg.ReconcileInterval, "reconcile_rooms", func(ctx context.Context) error {
			res, err := classes.Reconcile(ctx)
			if err != nil {
				observability.CaptureErr("reconcile_rooms", err)
				return err
			}
			if res.Completed > 0 || res.OrphansDeleted > 0 || res.Failures > 0 {
				logger.Info("reconciled rooms",
					zap.Int("completed", res.Completed),
					zap.Int("orphans_deleted", res.OrphansDeleted),
					zap.Int("failures", res.Failures))
			}
			return nil
		})
	} else {
		logger.Warn("livekit not configured; room reconciliation disabled")
	}

	if cfg.QueueBackend == "memory" {
		logger.Warn("QUEUE_BACKEND=memory: events are recorded by the API process, worker only reconciles")
		<-ctx.Done()
	} else {
		rec := &classroom.EventRecorder{Store: repo, Logger: logger.Named("events")}
		logger.Info("worker started, waiting for events")
		if err := rec.Run(ctx, queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event recorder stopped", zap.Error(err))
		}
	}

	runner.Wait()
	logger.Info("worker stopped")
}
