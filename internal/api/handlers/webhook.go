package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/api/middleware"
	"github.com/quibex/botmother/internal/db"
	"github.com/quibex/botmother/internal/jobs"
	"github.com/quibex/botmother/internal/metrics"
	"github.com/quibex/botmother/internal/provision"
	"github.com/quibex/botmother/internal/tenant"
)

// Webhook receives one Telegram update, for the mother instance or for a
// tenant depending on the resolved binding.
func (h *Handler) Webhook(c *gin.Context) {
	b := middleware.GetBinding(c)

	ctxName := "mother"
	if b.IsTenant {
		ctxName = "tenant"
	}
	metrics.WebhooksTotal.WithLabelValues(ctxName).Inc()

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed update"})
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	h.handleMessage(c.Request.Context(), b, msg)

	// Opportunistic maintenance rides on ordinary traffic only. A bare
	// /start is the liveness probe of this world and must stay cheap and
	// side-effect free.
	if !isStartProbe(msg) {
		h.autoBackupTail(b)
		h.sweepTail()
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func isStartProbe(msg *tgbotapi.Message) bool {
	return msg.IsCommand() && msg.Command() == "start"
}

func (h *Handler) handleMessage(ctx context.Context, b *tenant.Binding, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		h.runCommand(ctx, b, msg)
		return
	}

	// Free text only matters to the provisioning conversation, which lives
	// on the mother instance.
	if b.IsTenant {
		return
	}

	out, err := h.provision.Advance(ctx, msg.From.ID, msg.Text)
	if err != nil {
		h.logger.Error("provisioning advance failed",
			zap.Int64("user_id", msg.From.ID), zap.Error(err))
		h.reply(b, msg.Chat.ID, "Something went wrong, please try again.")
		return
	}

	switch out.Kind {
	case provision.OutcomeTokenSaved:
		h.reply(b, msg.Chat.ID, fmt.Sprintf(
			"Token saved for bot #%d. Now send the numeric Telegram id of the bot's administrator.", out.BotID))
	case provision.OutcomeInvalidAdminID:
		h.reply(b, msg.Chat.ID,
			"That does not look like a Telegram user id (digits only, at least 5). Please try again.")
	case provision.OutcomeFinalized:
		h.reply(b, msg.Chat.ID, fmt.Sprintf(
			"Bot #%d is being set up. You will get a confirmation shortly.", out.BotID))
	}
}

// autoBackupTail fires the scheduled backup for the bound instance when its
// interval has elapsed. LastRun is persisted before dispatching so two
// overlapping requests cannot both fire.
func (h *Handler) autoBackupTail(b *tenant.Binding) {
	repo := db.NewRepository(b.DB)
	s, err := repo.AutoBackup()
	if err != nil {
		h.logger.Warn("auto-backup settings unreadable", zap.Error(err))
		return
	}
	now := time.Now()
	if !s.Due(now) {
		return
	}

	s.LastRun = now.Unix()
	if err := repo.SaveAutoBackup(s); err != nil {
		h.logger.Warn("auto-backup settings write failed", zap.Error(err))
		return
	}

	chat := b.AdminID
	if !b.IsTenant {
		chat = h.operatorChat()
	}
	err = h.dispatch.Dispatch(jobs.JobBackup,
		b.Token, fmt.Sprintf("%d", chat), "auto", b.DBName)
	if err != nil {
		h.logger.Error("auto-backup dispatch failed", zap.Error(err))
	}
}

func (h *Handler) sweepTail() {
	if err := h.sweeper.Run(); err != nil {
		h.logger.Error("maintenance sweep failed", zap.Error(err))
	}
}
