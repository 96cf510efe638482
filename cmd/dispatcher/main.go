package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/api"
	"github.com/LeventeLantos/reminder-dispatch/internal/cache"
	"github.com/LeventeLantos/reminder-dispatch/internal/config"
	"github.com/LeventeLantos/reminder-dispatch/internal/dispatch"
	"github.com/LeventeLantos/reminder-dispatch/internal/feed"
	"github.com/LeventeLantos/reminder-dispatch/internal/gateway"
	"github.com/LeventeLantos/reminder-dispatch/internal/ingest"
	"github.com/LeventeLantos/reminder-dispatch/internal/repo"
	"github.com/LeventeLantos/reminder-dispatch/internal/scheduler"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level})))

	if err := run(cfg); err != nil {
		slog.Error("dispatcher exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("reminder dispatcher starting",
		"addr", cfg.Server.Address,
		"interval", cfg.Scheduler.Interval.String(),
		"batch", cfg.Scheduler.BatchSize,
		"concurrency", cfg.Scheduler.Concurrency,
		"gateway", cfg.Gateway.Mode,
		"redis", cfg.Redis.Enabled,
	)

	db, err := repo.OpenPostgres(ctx, cfg.Database.PostgresURL, cfg.Database.ConnectWait)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	reminders := repo.NewPostgresReminderRepo(db)

	var dispatchCache cache.DispatchCache = cache.Nop{}
	if cfg.Redis.Enabled {
		rdb, err := cache.OpenRedis(ctx, &redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Database.ConnectWait)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		dispatchCache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	ingester := ingest.New(reminders, dispatchCache)

	var (
		gw   gateway.Gateway
		mock *gateway.Mock
	)
	switch cfg.Gateway.Mode {
	case config.GatewayInfobip:
		gw = gateway.NewInfobip(gateway.InfobipConfig{
			BaseURL:     cfg.Gateway.Infobip.BaseURL,
			APIKey:      cfg.Gateway.Infobip.APIKey,
			From:        cfg.Gateway.Infobip.From,
			CallbackURL: cfg.Gateway.Infobip.CallbackURL,
		}, nil)
	default:
		mock = gateway.NewMock(gateway.MockConfig{
			Delay:               cfg.Gateway.Mock.Delay,
			InitiateSuccessRate: cfg.Gateway.Mock.InitiateSuccessRate,
			CompleteSuccessRate: cfg.Gateway.Mock.CompleteSuccessRate,
		}, ingester)
		gw = mock
	}

	dispatcher, err := dispatch.New(reminders, gw, dispatchCache, dispatch.Config{
		BatchSize:   cfg.Scheduler.BatchSize,
		Concurrency: cfg.Scheduler.Concurrency,
	})
	if err != nil {
		return err
	}

	sched, err := scheduler.New(cfg.Scheduler.Interval, dispatcher.Tick)
	if err != nil {
		return err
	}

	h := api.NewHandler(sched, ingester, feed.New(reminders), reminders)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sched.Start()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		sched.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
	sched.Stop()
	dispatcher.Wait()
	if mock != nil {
		mock.Wait()
	}

	slog.Info("reminder dispatcher stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
