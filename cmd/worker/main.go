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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Shauryam-singh/Advance-Attendance/internal/attendance"
	"github.com/Shauryam-singh/Advance-Attendance/internal/config"
	"github.com/Shauryam-singh/Advance-Attendance/internal/logging"
	"github.com/Shauryam-singh/Advance-Attendance/internal/metrics"
	"github.com/Shauryam-singh/Advance-Attendance/internal/queue"
	"github.com/Shauryam-singh/Advance-Attendance/internal/store"
)

// Worker runs one reconciliation session per batch, each fed from the
// batch's Redis scan queue.
func main() {
	cfg := config.Load()
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet; sessions will retry", "addr", cfg.RedisAddr)
	}

	repo := attendance.NewRepository(db.Client, cfg.LectureDuration)
	rec := metrics.New(prometheus.DefaultRegisterer)
	svc := attendance.NewService(repo, cfg.FreshnessWindow,
		attendance.WithServiceLogger(logger),
		attendance.WithServiceObserver(rec))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	var wg sync.WaitGroup
	for _, batch := range cfg.Batches {
		q := queue.NewRedisQueue(redisClient.Client, queue.ScanKey(batch))
		wg.Add(1)
		go func(batch string, q queue.Queue) {
			defer wg.Done()
			svc.Serve(ctx, batch, func() attendance.FrameSource {
				return attendance.NewQueueSource(q, cfg.ScanPollTimeout)
			})
		}(batch, q)
	}

	logger.Info("worker started", "batches", cfg.Batches)
	wg.Wait()
	logger.Info("worker stopped")
}
