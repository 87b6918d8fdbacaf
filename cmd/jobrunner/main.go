package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/config"
	"github.com/quibex/botmother/internal/db"
	"github.com/quibex/botmother/internal/jobs"
)

// jobrunner executes one background job and exits. The server spawns it
// detached so long-running work (dumps, restores, broadcasts) survives
// request handling and even server restarts.
//
// Usage: jobrunner <job> [args...]
func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: jobrunner <job> [args...]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	if id := os.Getenv("BOTMOTHER_DISPATCH_ID"); id != "" {
		logger = logger.With(zap.String("dispatch_id", id))
	}

	motherDB, err := db.NewConnection(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer motherDB.Close()

	repo := db.NewRepository(motherDB)
	runner := jobs.NewRunner(cfg, repo, motherDB, logger)

	name, args := os.Args[1], os.Args[2:]
	if err := runner.Run(name, args); err != nil {
		logger.Fatal("Job failed", zap.String("job", name), zap.Error(err))
	}
}
