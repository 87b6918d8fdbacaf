package sweep

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/db"
	"github.com/quibex/botmother/internal/locks"
	"github.com/quibex/botmother/internal/metrics"
)

// Registry is the slice of the tenant registry the sweep reads and writes.
type Registry interface {
	ExpiringSoon(now time.Time, window time.Duration) ([]*db.Bot, error)
	MarkExpiryNotified(id int64) error
	ExpiredActive(now time.Time) ([]*db.Bot, error)
	SetStatus(id int64, active bool) error
}

// Sweeper applies time-based lifecycle transitions to all tenants: a
// reminder pass for soon-to-expire bots and a deactivation pass for expired
// ones. The two predicates are disjoint on expires_at vs now, so the passes
// are order-insensitive.
type Sweeper struct {
	registry     Registry
	notify       func(chatID int64, text string) error
	unregister   func(token string) error
	markerPath   string
	interval     time.Duration
	noticeWindow time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func New(registry Registry, notify func(int64, string) error, unregister func(string) error,
	markerPath string, interval, noticeWindow time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		registry:     registry,
		notify:       notify,
		unregister:   unregister,
		markerPath:   markerPath,
		interval:     interval,
		noticeWindow: noticeWindow,
		logger:       logger,
		now:          time.Now,
	}
}

// Run executes at most once per interval process-wide; the marker file is
// checked and advanced under its own exclusive lock, so two concurrent
// requests cannot both pass the gate.
func (s *Sweeper) Run() error {
	now := s.now()
	due, err := locks.Gate(s.markerPath, s.interval, now)
	if err != nil {
		return fmt.Errorf("sweep gate: %w", err)
	}
	if !due {
		return nil
	}

	metrics.SweepsTotal.Inc()
	s.remindExpiring(now)
	s.deactivateExpired(now)
	return nil
}

func (s *Sweeper) remindExpiring(now time.Time) {
	bots, err := s.registry.ExpiringSoon(now, s.noticeWindow)
	if err != nil {
		s.logger.Error("expiry reminder query failed", zap.Error(err))
		return
	}

	for _, bot := range bots {
		text := fmt.Sprintf("Bot #%d (@%s) expires on %s. Renew to keep it running.",
			bot.ID, bot.BotUsername, time.Unix(bot.ExpiresAt, 0).UTC().Format("2006-01-02 15:04"))

		if err := s.notify(bot.OwnerID, text); err != nil {
			s.logger.Warn("owner expiry notice failed",
				zap.Int64("bot_id", bot.ID), zap.Error(err))
		}
		if bot.AdminUserID != 0 && bot.AdminUserID != bot.OwnerID {
			if err := s.notify(bot.AdminUserID, text); err != nil {
				s.logger.Warn("admin expiry notice failed",
					zap.Int64("bot_id", bot.ID), zap.Error(err))
			}
		}

		// The flag advances even when delivery failed: the notice is
		// at-most-once per expiry value.
		if err := s.registry.MarkExpiryNotified(bot.ID); err != nil {
			s.logger.Error("marking expiry notice failed",
				zap.Int64("bot_id", bot.ID), zap.Error(err))
		}
	}
}

func (s *Sweeper) deactivateExpired(now time.Time) {
	bots, err := s.registry.ExpiredActive(now)
	if err != nil {
		s.logger.Error("expired tenant query failed", zap.Error(err))
		return
	}

	for _, bot := range bots {
		// Endpoint first: status=0 must imply the endpoint is gone. A
		// failed unregister leaves the bot for the next sweep instead of
		// letting the two facts disagree.
		if err := s.unregister(bot.BotToken); err != nil {
			s.logger.Warn("endpoint unregister failed, retrying next sweep",
				zap.Int64("bot_id", bot.ID), zap.Error(err))
			continue
		}
		if err := s.registry.SetStatus(bot.ID, false); err != nil {
			s.logger.Error("deactivating expired bot failed",
				zap.Int64("bot_id", bot.ID), zap.Error(err))
			continue
		}
		s.logger.Info("expired bot deactivated",
			zap.Int64("bot_id", bot.ID),
			zap.Int64("owner_id", bot.OwnerID),
		)
	}
}
