package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voip-exchange/internal/accounts"
	"voip-exchange/internal/auth"
	"voip-exchange/internal/billing"
	"voip-exchange/internal/config"
	"voip-exchange/internal/directory"
	"voip-exchange/internal/signaling"
	"voip-exchange/internal/transport"
	"voip-exchange/pkg/logger"
	"voip-exchange/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	store := billing.NewPostgresStore(db)

	// The phone directory is in-process unless redis is enabled, in which
	// case phones on other instances become reachable too. The redis
	// client also backs the billing cycle's leader lock.
	var dir directory.Directory = directory.NewLocal()
	var cycleLock billing.BatchLocker
	if cfg.Redis.Enabled {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		dir = directory.NewRedis(rootCtx, rdb, log)
		cycleLock = utils.NewBatchLock(rdb)
	}

	sigManager := signaling.NewManager(dir, store, store, store, log, cfg.Signaling.CloseAckWait)

	cycle := billing.NewCycle(store, store, store, store, sigManager, log)
	scheduler := billing.NewScheduler(cycle, cycleLock, cfg.Billing.CycleInterval, log)
	go scheduler.RunForever(rootCtx)

	accountService := accounts.NewService(store, cycle, sigManager, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		db:        db,
		auth:      authManager,
		store:     store,
		accounts:  accountService,
		signaling: transport.NewHandler(store, sigManager, log),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Unset write timeout: the signaling websocket outlives any
		// sane request deadline.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
