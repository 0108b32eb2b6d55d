// Package app boots the metering service from configuration.
package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/LOME-AI/HushBox-sub006/internal/billing"
	"github.com/LOME-AI/HushBox-sub006/internal/config"
	"github.com/LOME-AI/HushBox-sub006/internal/db"
	httpapi "github.com/LOME-AI/HushBox-sub006/internal/http"
	"github.com/LOME-AI/HushBox-sub006/internal/logging"
	"github.com/LOME-AI/HushBox-sub006/internal/provider"
	"github.com/LOME-AI/HushBox-sub006/internal/reserve"
	"github.com/LOME-AI/HushBox-sub006/internal/settings"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, appCfg config.AppConfig) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(appCfg.ConfigPath))
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the HTTP API with database-backed components and blocks
// until the context is cancelled or a termination signal arrives.
func RunServer(ctx context.Context, appCfg config.AppConfig) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(appCfg.ConfigPath))
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSnapshot := settings.Refresh(ctx, conn); errSnapshot != nil {
		return errSnapshot
	}

	counter, errCounter := newCounter(ctx, cfg.Redis)
	if errCounter != nil {
		return errCounter
	}

	client := provider.NewOpenAICompatClient(cfg.Provider.BaseURL, cfg.Provider.APIKey)
	engine := billing.NewEngine(conn, counter, client)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.RegisterRoutes(router, conn, engine, engine.Ledger(), cfg.Auth)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Listen).Info("metering server starting")
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	log.Info("metering server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newCounter picks the reservation counter backend. Redis is the production
// path; without an address the server falls back to an in-process counter,
// which is only correct for a single instance.
func newCounter(ctx context.Context, cfg config.RedisConfig) (reserve.Counter, error) {
	if cfg.Addr == "" {
		log.Warn("redis address not configured, using in-process reservation counter")
		return reserve.NewMemoryCounter(), nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		return nil, errPing
	}
	return reserve.NewRedisCounter(client), nil
}
