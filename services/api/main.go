package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/directory"
	"github.com/chatrelay/internal/handler"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/media"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/push"
	"github.com/chatrelay/internal/registry"
	"github.com/chatrelay/internal/repository"
	"github.com/chatrelay/internal/router"
	"github.com/chatrelay/internal/service"
	"github.com/chatrelay/internal/startup"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/storage/memory"
	"github.com/chatrelay/internal/ws"
)

const connectWait = 60 * time.Second

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()
	defer func() { _ = logger.Sync() }()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	if err := run(cfg, *dev, *migrate); err != nil {
		logger.Errorf("api: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, dev, migrateOnly bool) error {
	ctx := context.Background()

	if dev {
		cfg.StoreBackend = config.StorePostgres
		embeddedDB, err := startEmbeddedPostgres(cfg)
		if err != nil {
			return fmt.Errorf("embedded postgres: %w", err)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	var (
		messages storage.MessageStore
		groups   storage.GroupStore
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			return fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 2

		pool, err := startup.ConnectDB(ctx, poolCfg, connectWait)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := startup.RunMigrations(ctx, pool); err != nil {
			return err
		}
		if migrateOnly {
			return nil
		}
		logger.Info("database connected, migrations applied")
		messages = repository.NewMessageRepository(pool)
		groups = repository.NewGroupRepository(pool)
	default:
		if migrateOnly {
			return errors.New("-migrate requires STORE_BACKEND=postgres")
		}
		logger.Info("using in-memory message and group store")
		messages = memory.NewMessageStore()
		groups = memory.NewGroupStore()
	}

	var kv storage.KeyValue
	if cfg.Redis.URL != "" {
		rdb, err := startup.ConnectRedis(ctx, cfg.Redis.URL, connectWait)
		if err != nil {
			return err
		}
		kv = rdb
	} else {
		kv = memory.New()
	}
	defer kv.Close()

	pushCfg, err := push.ResolveKeys(cfg.Push, "")
	if err != nil {
		logger.Errorf("vapid keys: %v (web push disabled)", err)
	}
	sender := push.NewSender(kv, pushCfg)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if !cfg.Auth.DevMode && !dev {
			return errors.New("JWT_SECRET is required")
		}
		secret = randomSecret()
		logger.Warnf("JWT_SECRET not set, using a random secret for this process")
	}
	verifier := auth.New(secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if dev {
		cfg.Auth.DevMode = true
	}

	reg := registry.New()
	dir := directory.New(groups)
	rt := router.New(reg, dir, messages)
	if sender.Enabled() {
		rt.WithNotifier(sender)
	}
	pr := presence.New(reg, dir, messages)
	svc := service.NewChatService(dir, messages, rt, pr, kv, service.Options{
		SendRateLimit:       cfg.SendRateLimit,
		SendRateWindow:      cfg.SendRateWindow,
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.HistoryMaxLimit,
	})
	rt.OnOffline(func(userID string) {
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Disconnected(offCtx, userID)
	})

	hub := ws.NewHub(reg, svc, ws.Options{
		MaxConnections:   cfg.WS.MaxConnections,
		ChatBufferSize:   cfg.WS.ChatBufferSize,
		TypingBufferSize: cfg.WS.TypingBufferSize,
		WriteTimeout:     cfg.WS.WriteTimeout,
		PongTimeout:      cfg.WS.PongTimeout,
		MaxMessageSize:   cfg.WS.MaxMessageSize,
	})
	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	deps := handler.Deps{
		Config:   cfg,
		Chat:     svc,
		Hub:      hub,
		Verifier: verifier,
		Limiter:  kv,
		Media:    media.New(cfg.UploadDir),
	}
	if sender.Enabled() {
		deps.Push = sender
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s (store=%s)", cfg.ServerAddr, cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	// Хаб закрывает WebSocket-соединения, которые Shutdown не отслеживает.
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
	return serveErr
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatrelay"
		password = "chatrelay_secret"
		database = "chatrelay"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
