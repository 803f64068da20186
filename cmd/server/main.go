package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	httpHandlers "github.com/JeanGrijp/auth-rate-limiter/internal/adapters/http/handlers"
	httpMiddleware "github.com/JeanGrijp/auth-rate-limiter/internal/adapters/http/middleware"
	"github.com/JeanGrijp/auth-rate-limiter/internal/adapters/metrics"
	memorystorage "github.com/JeanGrijp/auth-rate-limiter/internal/adapters/storage/memory"
	redisstorage "github.com/JeanGrijp/auth-rate-limiter/internal/adapters/storage/redis"
	"github.com/JeanGrijp/auth-rate-limiter/internal/config"
	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
	"github.com/JeanGrijp/auth-rate-limiter/internal/core/ports"
	"github.com/JeanGrijp/auth-rate-limiter/internal/core/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	storage, closeFn, err := initStorage(cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to init storage", "error", err)
		os.Exit(1)
	}
	defer closeFn()

	recorder := metrics.New()

	limiter, err := services.NewRateLimiterService(storage, services.Config{
		Rules: cfg.RateLimiter.Rules,
	}, services.WithRecorder(recorder))
	if err != nil {
		logger.Error("failed to create limiter", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter.StartSweeper(ctx, cfg.RateLimiter.SweepInterval)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           newRouter(limiter, recorder, cfg.Admin.Token, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "storage", cfg.Storage.Type)
		err := srv.ListenAndServe()
		if err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// actionRoutes liga cada endpoint sensível à cota da ação correspondente.
var actionRoutes = map[string]domain.ActionType{
	"/auth/login":              domain.ActionLogin,
	"/auth/register":           domain.ActionRegister,
	"/auth/password-reset":     domain.ActionPasswordReset,
	"/auth/email-verification": domain.ActionEmailVerification,
}

// newRouter só monta a rota de reset quando há adminToken; o cliente nunca libera a própria cota.
func newRouter(limiter *services.RateLimiterService, recorder *metrics.Recorder, adminToken string, logger hclog.Logger) http.Handler {
	r := chi.NewRouter()

	for path, action := range actionRoutes {
		r.With(httpMiddleware.NewRateLimiterMiddleware(limiter, action, logger)).
			Post(path, httpHandlers.ActionHandler(action))
	}

	r.Get("/ratelimit/{action}", httpHandlers.StatusHandler(limiter, logger))
	r.Handle("/metrics", recorder.Handler())

	if adminToken != "" {
		r.With(httpMiddleware.RequireAdminToken(adminToken)).
			Delete("/admin/ratelimit/{action}/{identifier}", httpHandlers.AdminResetHandler(limiter, logger))
	} else {
		logger.Info("ADMIN_TOKEN not set, operator reset route disabled")
	}

	return r
}

func newLogger(cfg config.LogConfig) hclog.Logger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "auth-rate-limiter",
		Level:      level,
		JSONFormat: cfg.JSON,
		Output:     os.Stderr,
	})
}

func initStorage(cfg config.StorageConfig, logger hclog.Logger) (ports.Storage, func(), error) {
	switch cfg.Type {
	case "memory":
		return memorystorage.New(), func() {}, nil
	case "redis":
		redisCfg := redisstorage.Config{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		storage, err := redisstorage.New(redisCfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("redis storage is not coordinated across instances; run a single limiter process")
		return storage, func() {
			if err := storage.Close(); err != nil {
				logger.Error("failed to close redis storage", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
