package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/api"
	"github.com/quibex/botmother/internal/api/handlers"
	"github.com/quibex/botmother/internal/config"
	"github.com/quibex/botmother/internal/db"
	"github.com/quibex/botmother/internal/jobs"
	"github.com/quibex/botmother/internal/provision"
	"github.com/quibex/botmother/internal/steps"
	"github.com/quibex/botmother/internal/sweep"
	"github.com/quibex/botmother/internal/telegram"
	"github.com/quibex/botmother/internal/tenant"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Mother database
	motherDB, err := db.NewConnection(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer motherDB.Close()
	motherDB.SetMaxOpenConns(cfg.Database.MaxConnections)
	motherDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if err := db.Migrate(motherDB); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	repo := db.NewRepository(motherDB)

	// Step store
	stepStore := steps.NewRedisStore(cfg.Redis.URL)

	// Tenant databases are opened on first routed update and reconciled to
	// the current schema as they come up.
	opener := func(name string) (*sqlx.DB, error) {
		url, err := db.TenantURL(cfg.Database.URL, name)
		if err != nil {
			return nil, err
		}
		conn, err := db.NewConnection(url)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(conn); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}

	var motherAdmin int64
	if len(cfg.Bot.Operators) > 0 {
		motherAdmin = cfg.Bot.Operators[0]
	}
	resolver := tenant.NewResolver(repo, opener, motherDB,
		db.DatabaseName(cfg.Database.URL), cfg.Bot.Token, motherAdmin, logger)

	// Jobs run detached when a runner binary is configured; otherwise the
	// same code runs inline in this process.
	runner := jobs.NewRunner(cfg, repo, motherDB, logger)
	dispatcher := jobs.NewDispatcher(cfg.Jobs.RunnerPath, runner, logger)

	prov := provision.NewService(repo, stepStore, dispatcher, logger)

	// The sweeper talks to owners through the mother bot and tears down
	// tenant endpoints with each tenant's own credential.
	mother, err := telegram.NewClient(cfg.Bot.Token)
	if err != nil {
		logger.Fatal("Failed to initialize bot client", zap.Error(err))
	}
	sweeper := sweep.New(repo, mother.Send, telegram.UnregisterEndpoint,
		filepath.Join(cfg.Jobs.LockDir, "sweep.marker"),
		cfg.Sweep.Interval, cfg.Sweep.NoticeWindow, logger)

	h := handlers.NewHandler(cfg, repo, prov, dispatcher, sweeper, logger)
	server := api.NewServer(cfg, resolver, h, logger)

	if cfg.Bot.BaseURL != "" {
		if err := mother.RegisterEndpoint(cfg.Bot.BaseURL + "/webhook"); err != nil {
			logger.Warn("Failed to register mother webhook", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
