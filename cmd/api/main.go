package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"liveclass/internal/account"
	"liveclass/internal/auth"
	"liveclass/internal/classroom"
	"liveclass/internal/cloudinary"
	"liveclass/internal/config"
	"liveclass/internal/handler"
	"liveclass/internal/httpmiddleware"
	"liveclass/internal/logging"
	"liveclass/internal/metrics"
	"liveclass/internal/observability"
	"liveclass/internal/queue"
	"liveclass/internal/store"
	"liveclass/internal/videoroom"
)

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

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, os.Getenv("RELEASE"))
	if err != nil {
		lg.Base.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, lg.Base); err != nil {
		lg.Base.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	db, err := store.NewDB(startCtx, cfg.DatabaseURL)
	cancel()
	if db == nil {
		return err
	}
	if err != nil {
		logger.Warn("db not reachable", zap.Error(err))
	} else if cfg.MigrateOnStart {
		if err := store.Migrate(db.Client); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	repo := store.NewRepository(db.Client)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		q = mem
		rec := &classroom.EventRecorder{Store: repo, Logger: logger.Named("events")}
		go func() {
			if err := rec.Run(ctx, mem); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event recorder stopped", zap.Error(err))
			}
		}()
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	var rooms classroom.RoomService
	if cfg.LiveKitConfigured() {
		rooms = videoroom.New(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
		logger.Info("livekit configured", zap.String("url", cfg.LiveKitURL))
	} else {
		logger.Warn("livekit not configured (LIVEKIT_URL / LIVEKIT_API_KEY / LIVEKIT_API_SECRET); room and token endpoints disabled")
	}

	var avatars account.AvatarUploader
	if cfg.CloudinaryConfigured() {
		avatars = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Warn("cloudinary not configured; avatar uploads disabled")
	}

	classes := classroom.NewService(repo, rooms, q, classroom.RoomConfig{
		MaxParticipants: cfg.RoomMaxParticipants,
		EmptyTimeout:    cfg.RoomEmptyTimeout,
		TokenTTL:        cfg.LiveKitTokenTTL,
	}, logger.Named("classroom"))
	accounts := account.NewService(repo, avatars, account.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		TTL:        cfg.AccessTTL,
	}, logger.Named("account"))

	var limiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger.Named("http"), "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: !containsWildcard(cfg.CORSOrigins),
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(metrics.GinMiddleware())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", handler.Health(map[string]handler.Checker{"db": db, "redis": redisClient}))

	api := r.Group("", httpmiddleware.RateLimit(limiter, logger))
	h := handler.New(classes, accounts, logger.Named("handler"))
	h.Register(api, auth.Authenticate(cfg.JWTSigningKey, cfg.JWTIssuer, repo, logger.Named("auth")))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
