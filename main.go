package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/alerts"
	"taskboard/api"
	"taskboard/board"
	"taskboard/config"
	"taskboard/messaging"
	"taskboard/storage"
	"taskboard/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	backend, err := newBackend(cfg, loc)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var (
		rc      *redis.Client
		deduper api.Deduper
	)
	if cfg.Redis.ConnectionString != "" {
		redisOpts, err := config.RedisOptions(cfg.Redis.ConnectionString)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
		backend = storage.NewMemberCache(backend, rc, cfg.Redis.MembersCacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; member cache and idempotency keys disabled")
	}

	messenger, err := newMessenger(cfg)
	if err != nil {
		log.Fatalf("messaging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := board.New(backend, logger)
	initCtx, cancel := context.WithTimeout(ctx, cfg.Server.RequestTimeout)
	if err := b.Refresh(initCtx); err != nil {
		logger.WithError(err).Warn("initial board refresh failed")
	}
	cancel()

	feed := alerts.NewFeed(backend, logger)
	poller := alerts.NewPoller(feed, cfg.Notifications.PollInterval, logger)
	poller.Start(ctx)
	defer poller.Stop()

	creator := workflow.NewCreator(backend, b, messenger, loc, logger)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(api.RequestIDMiddleware())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderIdempotencyKey},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(api.TimeoutMiddleware(cfg.Server.RequestTimeout))
	api.Register(e, b, feed, creator, deduper, logger)

	go func() {
		if err := e.Start(cfg.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	b.Wait()
}

func newBackend(cfg config.Config, loc *time.Location) (storage.Backend, error) {
	switch cfg.Store.Backend {
	case config.StoreTables:
		return storage.NewTables(cfg.Store.ConnectionString, cfg.Store.TasksTable, cfg.Store.MembersTable)
	default:
		return storage.NewREST(cfg.Store.BaseURL, cfg.Store.Token, cfg.Server.RequestTimeout, loc)
	}
}

func newMessenger(cfg config.Config) (messaging.Messenger, error) {
	switch cfg.Messaging.Backend {
	case config.MessagingQueue:
		return messaging.NewQueueSender(cfg.Store.ConnectionString, cfg.Messaging.OutboundQueue)
	case config.MessagingNone:
		return nil, nil
	default:
		return messaging.NewUltraMsg(cfg.Messaging.UltraMsgBaseURL, cfg.Messaging.UltraMsgInstance, cfg.Messaging.UltraMsgToken, cfg.Server.RequestTimeout)
	}
}
