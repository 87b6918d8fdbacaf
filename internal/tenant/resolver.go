package tenant

import (
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/db"
)

// Binding is everything request handling needs to act inside one execution
// context: the credential to speak with, the operator to trust, and the
// database to touch.
type Binding struct {
	Token    string
	AdminID  int64
	DB       *sqlx.DB
	DBName   string
	IsTenant bool
	Bot      *db.Bot
}

// Finder is the registry lookup the resolver needs. Only routable tenants
// resolve: active, not deleted, credential collection finished.
type Finder interface {
	GetRoutableBot(id int64) (*db.Bot, error)
}

// Opener connects to a named tenant database, provisioning its schema if
// needed.
type Opener func(name string) (*sqlx.DB, error)

type Resolver struct {
	finder       Finder
	open         Opener
	motherDB     *sqlx.DB
	motherDBName string
	motherToken  string
	motherAdmin  int64
	logger       *zap.Logger

	mu    sync.Mutex
	conns map[string]*sqlx.DB
}

func NewResolver(finder Finder, open Opener, motherDB *sqlx.DB, motherDBName, motherToken string, motherAdmin int64, logger *zap.Logger) *Resolver {
	return &Resolver{
		finder:       finder,
		open:         open,
		motherDB:     motherDB,
		motherDBName: motherDBName,
		motherToken:  motherToken,
		motherAdmin:  motherAdmin,
		logger:       logger,
		conns:        make(map[string]*sqlx.DB),
	}
}

// Mother is the default, non-tenant binding.
func (r *Resolver) Mother() *Binding {
	return &Binding{
		Token:   r.motherToken,
		AdminID: r.motherAdmin,
		DB:      r.motherDB,
		DBName:  r.motherDBName,
	}
}

// Resolve materializes the execution context for a request. botID 0 means
// the mother endpoint. Unknown or non-routable tenants fall back to the
// mother binding; ordinary authorization rejects the request later. A
// failure to reach the tenant database is non-fatal and also falls back to
// the mother database rather than aborting the request.
func (r *Resolver) Resolve(botID int64) *Binding {
	if botID == 0 {
		return r.Mother()
	}

	bot, err := r.finder.GetRoutableBot(botID)
	if err != nil {
		return r.Mother()
	}

	b := &Binding{
		Token:    bot.BotToken,
		AdminID:  bot.AdminUserID,
		DB:       r.motherDB,
		DBName:   r.motherDBName,
		IsTenant: true,
		Bot:      bot,
	}

	if bot.DBName.Valid && bot.DBName.String != "" && bot.DBName.String != r.motherDBName {
		conn, err := r.tenantConn(bot.DBName.String)
		if err != nil {
			r.logger.Warn("tenant database switch failed, using mother binding",
				zap.Int64("bot_id", bot.ID),
				zap.String("db_name", bot.DBName.String),
				zap.Error(err),
			)
		} else {
			b.DB = conn
			b.DBName = bot.DBName.String
		}
	}

	return b
}

func (r *Resolver) tenantConn(name string) (*sqlx.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[name]; ok {
		return conn, nil
	}
	conn, err := r.open(name)
	if err != nil {
		return nil, err
	}
	r.conns[name] = conn
	return conn, nil
}
