package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/jobs"
)

// DropDatabase handles the signed confirmation link issued after /delete.
// The database name is only acted on when the HMAC over chat, message and
// name checks out against the mother credential.
func (h *Handler) DropDatabase(c *gin.Context) {
	chatID, err1 := strconv.ParseInt(c.Query("chat_id"), 10, 64)
	messageID, err2 := strconv.ParseInt(c.Query("message_id"), 10, 64)
	dbName := c.Query("db")
	sig := c.Query("sig")
	if err1 != nil || err2 != nil || dbName == "" || sig == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or malformed parameters"})
		return
	}

	if !jobs.VerifyDropSignature(h.cfg.Bot.Token, chatID, messageID, dbName, sig) {
		h.logger.Warn("drop-database signature rejected",
			zap.String("db", dbName), zap.Int64("chat_id", chatID))
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	err := h.dispatch.Dispatch(jobs.JobDropDatabase,
		h.cfg.Bot.Token,
		strconv.FormatInt(chatID, 10),
		strconv.FormatInt(messageID, 10),
		dbName)
	if err != nil {
		h.logger.Error("drop-database dispatch failed", zap.String("db", dbName), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted", "db": dbName})
}
