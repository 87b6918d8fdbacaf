package handlers

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/config"
	"github.com/quibex/botmother/internal/db"
	"github.com/quibex/botmother/internal/jobs"
	"github.com/quibex/botmother/internal/provision"
	"github.com/quibex/botmother/internal/sweep"
	"github.com/quibex/botmother/internal/telegram"
	"github.com/quibex/botmother/internal/tenant"
)

type Handler struct {
	cfg       *config.Config
	repo      *db.Repository
	provision *provision.Service
	dispatch  *jobs.Dispatcher
	sweeper   *sweep.Sweeper
	logger    *zap.Logger

	mu        sync.Mutex
	clients   map[string]jobs.Messenger
	newClient func(token string) (jobs.Messenger, error)
}

func NewHandler(cfg *config.Config, repo *db.Repository, prov *provision.Service,
	dispatch *jobs.Dispatcher, sweeper *sweep.Sweeper, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		repo:      repo,
		provision: prov,
		dispatch:  dispatch,
		sweeper:   sweeper,
		logger:    logger,
		clients:   make(map[string]jobs.Messenger),
		newClient: func(token string) (jobs.Messenger, error) {
			return telegram.NewClient(token)
		},
	}
}

// client returns a cached messaging client for a credential.
func (h *Handler) client(token string) (jobs.Messenger, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[token]; ok {
		return c, nil
	}
	c, err := h.newClient(token)
	if err != nil {
		return nil, err
	}
	h.clients[token] = c
	return c, nil
}

// reply answers inside the request's execution context.
func (h *Handler) reply(b *tenant.Binding, chatID int64, text string) {
	c, err := h.client(b.Token)
	if err != nil {
		h.logger.Warn("reply client unavailable", zap.Error(err))
		return
	}
	if err := c.Send(chatID, text); err != nil {
		h.logger.Warn("reply delivery failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handler) isOperator(userID int64) bool {
	for _, op := range h.cfg.Bot.Operators {
		if op == userID {
			return true
		}
	}
	return false
}

// operatorChat is where unattended job notifications land.
func (h *Handler) operatorChat() int64 {
	if len(h.cfg.Bot.Operators) > 0 {
		return h.cfg.Bot.Operators[0]
	}
	return 0
}

// timeNow is swapped out in tests.
var timeNow = time.Now

func formatExpiry(expiresAt int64) string {
	if expiresAt == 0 {
		return "never"
	}
	return time.Unix(expiresAt, 0).UTC().Format("2006-01-02 15:04")
}
