package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Shauryam-singh/Advance-Attendance/internal/attendance"
	"github.com/Shauryam-singh/Advance-Attendance/internal/cloudinary"
	"github.com/Shauryam-singh/Advance-Attendance/internal/config"
	"github.com/Shauryam-singh/Advance-Attendance/internal/handler"
	"github.com/Shauryam-singh/Advance-Attendance/internal/httpmiddleware"
	"github.com/Shauryam-singh/Advance-Attendance/internal/issuance"
	"github.com/Shauryam-singh/Advance-Attendance/internal/logging"
	"github.com/Shauryam-singh/Advance-Attendance/internal/metrics"
	"github.com/Shauryam-singh/Advance-Attendance/internal/queue"
	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
	"github.com/Shauryam-singh/Advance-Attendance/internal/store"
	"github.com/Shauryam-singh/Advance-Attendance/internal/tokenstore"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return err
	}
	defer db.Close()

	checks := map[string]handler.Health{"db": db.Healthy}

	inProcess := cfg.QueueBackend == "memory"
	var redisClient *store.Redis
	if !inProcess {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		checks["redis"] = redisClient.Healthy
	}

	rec := metrics.New(prometheus.DefaultRegisterer)
	repo := attendance.NewRepository(db.Client, cfg.LectureDuration)
	svc := attendance.NewService(repo, cfg.FreshnessWindow,
		attendance.WithServiceLogger(logger),
		attendance.WithServiceObserver(rec))

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryEnabled() {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", "cloud", cfg.CloudinaryCloudName)
	} else {
		logger.Info("cloudinary not configured, tokens are stored locally only")
	}

	var (
		wg         sync.WaitGroup
		schedulers []*issuance.Scheduler
		batches    = make(map[string]handler.Batch, len(cfg.Batches))
	)
	for _, batch := range cfg.Batches {
		files, sink, err := tokenstore.ForBatch(cfg.TokenDir, batch, cdnClient)
		if err != nil {
			return err
		}
		src := issuance.RosterFunc(func(ctx context.Context) ([]roster.Student, error) {
			return repo.Roster(ctx, batch)
		})
		sched := issuance.New(batch, src, tokenstore.QRRenderer{Size: cfg.TokenImageSize}, sink,
			issuance.WithInterval(cfg.IssueInterval),
			issuance.WithLogger(logger),
			issuance.WithObserver(rec))
		if err := sched.Start(ctx); err != nil {
			return err
		}
		schedulers = append(schedulers, sched)

		var q queue.Queue
		if inProcess {
			mem := queue.NewInMemory(256)
			defer mem.Close()
			q = mem
			wg.Add(1)
			go func() {
				defer wg.Done()
				svc.Serve(ctx, batch, func() attendance.FrameSource {
					return attendance.NewQueueSource(mem, cfg.ScanPollTimeout)
				})
			}()
		} else {
			q = queue.NewRedisQueue(redisClient.Client, queue.ScanKey(batch))
		}
		batches[batch] = handler.Batch{Queue: q, Issuer: sched, Tokens: files}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	scanLimit := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin,
		httpmiddleware.WithKey(httpmiddleware.ClientBatch)).GinMiddleware()
	handler.New(repo, svc, batches, checks, logger).Register(r, scanLimit)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.HTTPPort, "batches", cfg.Batches, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-serveErr:
		if err != nil {
			stop()
			return err
		}
	}

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "error", err)
	}

	for _, s := range schedulers {
		s.Stop()
	}
	wg.Wait()
	logger.Info("server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
