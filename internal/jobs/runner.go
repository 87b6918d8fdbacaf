package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/config"
	"github.com/quibex/botmother/internal/db"
	"github.com/quibex/botmother/internal/dump"
	"github.com/quibex/botmother/internal/metrics"
	"github.com/quibex/botmother/internal/telegram"
)

// Messenger is the slice of the messaging client jobs need.
type Messenger interface {
	Identity() (int64, string)
	Send(chatID int64, text string) error
	SendFile(chatID int64, path, caption string) error
	RegisterEndpoint(url string) error
	UnregisterEndpoint() error
}

// Runner hosts the job implementations. It serves both the jobrunner binary
// and the dispatcher's inline fallback, so every job is written to be
// safely re-runnable: there is no delivery guarantee between dispatch and
// execution.
type Runner struct {
	cfg       *config.Config
	repo      *db.Repository
	motherDB  *sqlx.DB
	logger    *zap.Logger
	newClient func(token string) (Messenger, error)
}

func NewRunner(cfg *config.Config, repo *db.Repository, motherDB *sqlx.DB, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		repo:     repo,
		motherDB: motherDB,
		logger:   logger,
		newClient: func(token string) (Messenger, error) {
			return telegram.NewClient(token)
		},
	}
}

func (r *Runner) Run(name string, args []string) error {
	handlers := map[string]func([]string) error{
		JobBackup:         r.runBackup,
		JobRestore:        r.runRestore,
		JobFinalizeTenant: r.runFinalize,
		JobDropDatabase:   r.runDropDatabase,
		JobBroadcast:      r.runBroadcast,
	}

	h, ok := handlers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	r.logger.Info("job started", zap.String("job", name))
	err := h(args)
	if err != nil {
		r.logger.Error("job failed", zap.String("job", name), zap.Error(err))
	} else {
		r.logger.Info("job finished", zap.String("job", name))
	}
	return err
}

// engineFor binds a dump engine to the named database, or to the mother
// database when name is empty or the mother's own.
func (r *Runner) engineFor(dbName string) (*dump.Engine, func(), error) {
	motherName := db.DatabaseName(r.cfg.Database.URL)
	if dbName == "" || dbName == motherName {
		e := dump.NewEngine(r.motherDB, r.cfg.Database.URL, r.cfg.Backup.Dir,
			r.cfg.Backup.PgDumpPath, r.cfg.Backup.PsqlPath, r.logger)
		return e, func() {}, nil
	}

	url, err := db.TenantURL(r.cfg.Database.URL, dbName)
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.NewConnection(url)
	if err != nil {
		return nil, nil, err
	}
	e := dump.NewEngine(conn, url, r.cfg.Backup.Dir,
		r.cfg.Backup.PgDumpPath, r.cfg.Backup.PsqlPath, r.logger)
	return e, func() { conn.Close() }, nil
}

// backup <token> <chatID> [prefix] [dbName]
func (r *Runner) runBackup(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("backup: want 2-4 args, got %d", len(args))
	}
	token := args[0]
	chatID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("backup: bad chat id %q", args[1])
	}
	prefix := "backup"
	if len(args) > 2 && args[2] != "" {
		prefix = args[2]
	}
	dbName := ""
	if len(args) > 3 {
		dbName = args[3]
	}

	client, err := r.newClient(token)
	if err != nil {
		return err
	}

	engine, release, err := r.engineFor(dbName)
	if err != nil {
		return client.Send(chatID, fmt.Sprintf("Backup failed: %v", err))
	}
	defer release()

	path, err := engine.CreateDump(prefix)
	if err != nil {
		return client.Send(chatID, fmt.Sprintf("Backup failed: %v", err))
	}
	metrics.DumpsTotal.Inc()

	info, err := os.Stat(path)
	if err != nil {
		return client.Send(chatID, fmt.Sprintf("Backup failed: %v", err))
	}
	if info.Size() > dump.MaxDeliverySize {
		return client.Send(chatID, fmt.Sprintf(
			"Backup is %d MiB, too large to deliver. File kept at %s.",
			info.Size()>>20, path))
	}

	if err := client.SendFile(chatID, path, filepath.Base(path)); err != nil {
		return client.Send(chatID, fmt.Sprintf("Backup produced but delivery failed: %v. File kept at %s.", err, path))
	}
	os.Remove(path)
	return nil
}

// restore <token> <chatID> <sqlPath> [dbName]
func (r *Runner) runRestore(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("restore: want 3-4 args, got %d", len(args))
	}
	token := args[0]
	chatID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("restore: bad chat id %q", args[1])
	}
	sqlPath := args[2]
	dbName := ""
	if len(args) > 3 {
		dbName = args[3]
	}

	client, err := r.newClient(token)
	if err != nil {
		return err
	}

	engine, release, err := r.engineFor(dbName)
	if err != nil {
		return client.Send(chatID, fmt.Sprintf("Restore failed: %v", err))
	}
	defer release()

	ok, detail := engine.RestoreFrom(sqlPath)
	if !ok {
		return client.Send(chatID, fmt.Sprintf("Restore finished with errors: %s. File kept at %s.", detail, sqlPath))
	}
	return client.Send(chatID, "Restore completed successfully.")
}

// finalize-tenant <tenantID>
func (r *Runner) runFinalize(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("finalize-tenant: want 1 arg, got %d", len(args))
	}
	botID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("finalize-tenant: bad tenant id %q", args[0])
	}

	bot, err := r.repo.GetBot(botID)
	if err != nil {
		return fmt.Errorf("finalize-tenant %d: %w", botID, err)
	}
	if bot.BotToken == "" || bot.AdminUserID == 0 {
		return fmt.Errorf("finalize-tenant %d: credential collection incomplete", botID)
	}

	tenantClient, err := r.newClient(bot.BotToken)
	if err != nil {
		return fmt.Errorf("finalize-tenant %d: %w", botID, err)
	}

	extID, username := tenantClient.Identity()
	if err := r.repo.SetBotIdentity(botID, extID, username); err != nil {
		return err
	}

	// The database is bound exactly once; a re-run of this job reuses it.
	dbName := bot.DBName.String
	if !bot.DBName.Valid || dbName == "" {
		dbName = fmt.Sprintf("bot_%d", botID)
		if err := r.provisionDatabase(dbName); err != nil {
			return fmt.Errorf("finalize-tenant %d: provision %s: %w", botID, dbName, err)
		}
		if err := r.repo.AssignDBName(botID, dbName); err != nil && err != db.ErrDBNameAssigned {
			return err
		}
	}

	url := fmt.Sprintf("%s/webhook?bot=%d", r.cfg.Bot.BaseURL, botID)
	if err := tenantClient.RegisterEndpoint(url); err != nil {
		return fmt.Errorf("finalize-tenant %d: register endpoint: %w", botID, err)
	}

	metrics.BotsProvisioned.Inc()

	mother, err := r.newClient(r.cfg.Bot.Token)
	if err != nil {
		return err
	}
	summary := fmt.Sprintf(
		"Bot #%d is live.\nUsername: @%s\nDatabase: %s\nOwner: %d\nAdmin: %d\nExpires: %s",
		botID, username, dbName, bot.OwnerID, bot.AdminUserID, formatExpiry(bot.ExpiresAt))

	if err := mother.Send(bot.OwnerID, summary); err != nil {
		r.logger.Warn("owner notification failed", zap.Int64("bot_id", botID), zap.Error(err))
	}
	for _, op := range r.cfg.Bot.Operators {
		if op == bot.OwnerID {
			continue
		}
		if err := mother.Send(op, summary); err != nil {
			r.logger.Warn("operator notification failed", zap.Int64("operator", op), zap.Error(err))
		}
	}
	return nil
}

func (r *Runner) provisionDatabase(name string) error {
	if err := db.CreateDatabase(r.motherDB, name); err != nil {
		return err
	}
	url, err := db.TenantURL(r.cfg.Database.URL, name)
	if err != nil {
		return err
	}
	conn, err := db.NewConnection(url)
	if err != nil {
		return err
	}
	defer conn.Close()
	return db.EnsureSchema(conn)
}

// drop-database <token> <chatID> <messageID> <dbName>
func (r *Runner) runDropDatabase(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("drop-database: want 4 args, got %d", len(args))
	}
	token := args[0]
	chatID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("drop-database: bad chat id %q", args[1])
	}
	dbName := args[3]

	client, err := r.newClient(token)
	if err != nil {
		return err
	}

	if dbName == db.DatabaseName(r.cfg.Database.URL) {
		return client.Send(chatID, "Refusing to drop the mother database.")
	}

	if err := db.DropDatabase(r.motherDB, dbName); err != nil {
		return client.Send(chatID, fmt.Sprintf("Dropping %s failed: %v", dbName, err))
	}
	return client.Send(chatID, fmt.Sprintf("Database %s dropped.", dbName))
}

// broadcast <token>
func (r *Runner) runBroadcast(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("broadcast: want 1 arg, got %d", len(args))
	}
	client, err := r.newClient(args[0])
	if err != nil {
		return err
	}

	b := &Broadcaster{
		LockPath: filepath.Join(r.cfg.Jobs.LockDir, "broadcast.lock"),
		Queue:    r.repo,
		Send:     client.Send,
		Logger:   r.logger,
	}
	return b.Run()
}

func formatExpiry(expiresAt int64) string {
	if expiresAt == 0 {
		return "never"
	}
	return time.Unix(expiresAt, 0).UTC().Format("2006-01-02")
}
