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

	"telecom-signaling/internal/accounts"
	"telecom-signaling/internal/audit"
	"telecom-signaling/internal/auth"
	"telecom-signaling/internal/calls"
	"telecom-signaling/internal/config"
	"telecom-signaling/internal/gateway"
	"telecom-signaling/internal/media"
	"telecom-signaling/internal/presence"
	"telecom-signaling/internal/ratelimit"
	"telecom-signaling/internal/reporting"
	"telecom-signaling/internal/session"
	"telecom-signaling/internal/timeout"
	"telecom-signaling/pkg/logger"
	"telecom-signaling/pkg/utils"

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

	log := logger.New(cfg.App.Env, cfg.App.InstanceID)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, stop, cfg, log); err != nil {
		log.Error("signaling stopped", "err", err)
		os.Exit(1)
	}
}

func run(rootCtx context.Context, stop context.CancelFunc, cfg config.Config, log *slog.Logger) error {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return err
	}
	defer rdb.Close()

	if err := utils.ApplySchema(rootCtx, db, accounts.Schema, calls.Schema, audit.Schema); err != nil {
		return err
	}

	accountStore := accounts.NewPostgresStore(db)
	callRepo := calls.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	// A fresh process owns no connections, so nothing recorded before it
	// started can still be reachable. Both views are wiped together, and
	// RecoverOrphans below completes every ACCEPTED call. All of this is
	// cluster-wide: starting one instance next to running peers (scale-out,
	// rolling deploy) drops their presence and ends their calls too, so
	// instances sharing Redis and Postgres must be started together.
	registry := presence.NewRegistry(rdb)
	if n, err := registry.Reset(rootCtx); err != nil {
		return err
	} else if n > 0 {
		log.Info("presence registry reset", "removed", n)
	}
	if n, err := accountStore.ResetPresence(rootCtx); err != nil {
		return err
	} else if n > 0 {
		log.Info("call-taker presence reset", "updated", n)
	}

	hub := gateway.NewHub(rdb, registry, cfg.App.InstanceID, log)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go func() {
		if err := hub.Run(hubCtx); err != nil {
			log.Error("relay subscription failed", "err", err)
			stop()
		}
	}()

	scheduler := timeout.New(cfg.Calls.RingTimeout)
	defer scheduler.Stop()

	lk, err := media.NewLiveKit(cfg.LiveKit, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(session.Deps{
		Accounts:    accountStore,
		Calls:       callRepo,
		Presence:    registry,
		Timers:      scheduler,
		Media:       lk,
		Notifier:    hub,
		Audit:       auditSvc,
		Logger:      log,
		RingTimeout: cfg.Calls.RingTimeout,
	})
	if err != nil {
		return err
	}

	if _, err := sessions.RecoverOrphans(rootCtx); err != nil {
		return err
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sessions.RunSweeper(sweepCtx, cfg.Calls.SweepInterval)

	connectLimit, err := ratelimit.New(rdb, "ratelimit:connect", cfg.Limits.ConnectPerMinute, time.Minute)
	if err != nil {
		return err
	}
	initiateLimit, err := ratelimit.New(rdb, "ratelimit:initiate", cfg.Limits.InitiatePerMinute, time.Minute)
	if err != nil {
		return err
	}
	actionLimit, err := ratelimit.New(rdb, "ratelimit:action", cfg.Limits.ActionPerMinute, time.Minute)
	if err != nil {
		return err
	}

	gw, err := gateway.NewServer(gateway.Deps{
		Hub:           hub,
		Registry:      registry,
		Sessions:      sessions,
		Accounts:      accountStore,
		Verifier:      authManager,
		ConnectLimit:  connectLimit,
		InitiateLimit: initiateLimit,
		ActionLimit:   actionLimit,
		Logger:        log,
	}, gateway.Options{AllowedOrigins: cfg.WS.AllowedOrigins})
	if err != nil {
		return err
	}

	select {
	case <-hub.Ready():
	case <-rootCtx.Done():
		return nil
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		auth:     authManager,
		db:       db,
		rdb:      rdb,
		gateway:  gw,
		registry: registry,
		calls:    callRepo,
		reports:  reporting.NewService(callRepo),
		audit:    auditSvc,
	})

	// No read/write timeouts: websocket handlers hold the connection open.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("signaling listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Close sockets first so their disconnect cleanup runs while storage is
	// still open.
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error("gateway shutdown incomplete", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	stopSweep()
	stopHub()
	return nil
}
