package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/db"
	"github.com/quibex/botmother/internal/jobs"
	"github.com/quibex/botmother/internal/provision"
	"github.com/quibex/botmother/internal/tenant"
)

type cmdRequest struct {
	ctx    context.Context
	b      *tenant.Binding
	msg    *tgbotapi.Message
	userID int64
	chatID int64
	args   []string
}

type cmdFunc func(*cmdRequest)

// commandTable enumerates the routing surface; anything not listed is
// ignored rather than answered.
func (h *Handler) commandTable() map[string]cmdFunc {
	return map[string]cmdFunc{
		"start":      h.cmdStart,
		"plans":      h.cmdPlans,
		"buy":        h.cmdBuy,
		"mybots":     h.cmdMyBots,
		"bots":       h.cmdBots,
		"enable":     h.cmdEnable,
		"disable":    h.cmdDisable,
		"renew":      h.cmdRenew,
		"delete":     h.cmdDelete,
		"balance":    h.cmdBalance,
		"credit":     h.cmdCredit,
		"addplan":    h.cmdAddPlan,
		"delplan":    h.cmdDelPlan,
		"backup":     h.cmdBackup,
		"restore":    h.cmdRestore,
		"autobackup": h.cmdAutoBackup,
		"broadcast":  h.cmdBroadcast,
	}
}

func (h *Handler) runCommand(ctx context.Context, b *tenant.Binding, msg *tgbotapi.Message) {
	fn, ok := h.commandTable()[msg.Command()]
	if !ok {
		return
	}
	fn(&cmdRequest{
		ctx:    ctx,
		b:      b,
		msg:    msg,
		userID: msg.From.ID,
		chatID: msg.Chat.ID,
		args:   strings.Fields(msg.CommandArguments()),
	})
}

// mayManage authorizes tenant lifecycle actions: the mother's operators
// always, the bot's owner for their own bots.
func (h *Handler) mayManage(userID int64, bot *db.Bot) bool {
	return h.isOperator(userID) || bot.OwnerID == userID
}

func (h *Handler) cmdStart(r *cmdRequest) {
	if r.b.IsTenant {
		return
	}
	if err := h.repo.EnsureUser(r.userID, timeNow()); err != nil {
		h.logger.Warn("user row creation failed", zap.Int64("user_id", r.userID), zap.Error(err))
	}
	h.reply(r.b, r.chatID, "Welcome. /plans shows the available subscriptions, /buy <plan> starts a purchase.")
}

func (h *Handler) cmdPlans(r *cmdRequest) {
	plans, err := h.repo.ListPlans(true)
	if err != nil {
		h.logger.Error("plan listing failed", zap.Error(err))
		return
	}
	if len(plans) == 0 {
		h.reply(r.b, r.chatID, "No plans available right now.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Available plans:\n")
	for _, p := range plans {
		fmt.Fprintf(&sb, "#%d %s: %d days, %d\n", p.ID, p.Title, p.Days, p.Price)
	}
	h.reply(r.b, r.chatID, sb.String())
}

func (h *Handler) cmdBuy(r *cmdRequest) {
	if r.b.IsTenant {
		return
	}
	if len(r.args) != 1 {
		h.reply(r.b, r.chatID, "Usage: /buy <planID>")
		return
	}
	planID, err := strconv.ParseInt(r.args[0], 10, 64)
	if err != nil {
		h.reply(r.b, r.chatID, "Usage: /buy <planID>")
		return
	}

	botID, err := h.provision.BeginPurchase(r.ctx, r.userID, planID)
	switch {
	case errors.Is(err, provision.ErrPlanUnavailable):
		h.reply(r.b, r.chatID, "That plan is not available.")
	case errors.Is(err, db.ErrInsufficientBalance):
		h.reply(r.b, r.chatID, "Your balance does not cover this plan. /balance shows it.")
	case err != nil:
		h.logger.Error("purchase failed", zap.Int64("user_id", r.userID), zap.Error(err))
		h.reply(r.b, r.chatID, "Purchase failed, please try again.")
	default:
		h.reply(r.b, r.chatID, fmt.Sprintf(
			"Bot #%d reserved. Now send me the bot token from @BotFather.", botID))
	}
}

func (h *Handler) cmdMyBots(r *cmdRequest) {
	bots, err := h.repo.ListByOwner(r.userID)
	if err != nil {
		h.logger.Error("owner bot listing failed", zap.Error(err))
		return
	}
	if len(bots) == 0 {
		h.reply(r.b, r.chatID, "You own no bots yet.")
		return
	}
	var sb strings.Builder
	now := timeNow()
	for _, bot := range bots {
		fmt.Fprintf(&sb, "#%d @%s: %s, expires %s\n",
			bot.ID, bot.BotUsername, bot.State(now), formatExpiry(bot.ExpiresAt))
	}
	h.reply(r.b, r.chatID, sb.String())
}

const botsPageSize = 20

// cmdBots pages through every active tenant, operator view of the fleet.
func (h *Handler) cmdBots(r *cmdRequest) {
	if !h.isOperator(r.userID) || r.b.IsTenant {
		return
	}
	page := 1
	if len(r.args) == 1 {
		p, err := strconv.Atoi(r.args[0])
		if err != nil || p < 1 {
			h.reply(r.b, r.chatID, "Usage: /bots [page]")
			return
		}
		page = p
	}

	bots, err := h.repo.ListActive((page-1)*botsPageSize, botsPageSize)
	if err != nil {
		h.logger.Error("active bot listing failed", zap.Error(err))
		return
	}
	if len(bots) == 0 {
		h.reply(r.b, r.chatID, fmt.Sprintf("No active bots on page %d.", page))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Active bots, page %d:\n", page)
	for _, bot := range bots {
		fmt.Fprintf(&sb, "#%d @%s owner %d, expires %s\n",
			bot.ID, bot.BotUsername, bot.OwnerID, formatExpiry(bot.ExpiresAt))
	}
	if len(bots) == botsPageSize {
		fmt.Fprintf(&sb, "/bots %d for more", page+1)
	}
	h.reply(r.b, r.chatID, sb.String())
}

func (h *Handler) cmdEnable(r *cmdRequest) {
	bot, ok := h.managedBot(r, "enable")
	if !ok {
		return
	}
	if bot.Expired(timeNow()) {
		h.reply(r.b, r.chatID, fmt.Sprintf("Bot #%d has expired; renew it instead.", bot.ID))
		return
	}
	if err := h.registerEndpoint(bot); err != nil {
		h.reply(r.b, r.chatID, fmt.Sprintf("Could not register bot #%d's endpoint: %v", bot.ID, err))
		return
	}
	if err := h.repo.SetStatus(bot.ID, true); err != nil {
		h.logger.Error("enable failed", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return
	}
	h.reply(r.b, r.chatID, fmt.Sprintf("Bot #%d enabled.", bot.ID))
}

func (h *Handler) cmdDisable(r *cmdRequest) {
	bot, ok := h.managedBot(r, "disable")
	if !ok {
		return
	}
	if err := h.unregisterEndpoint(bot); err != nil {
		h.reply(r.b, r.chatID, fmt.Sprintf("Could not unregister bot #%d's endpoint: %v", bot.ID, err))
		return
	}
	if err := h.repo.SetStatus(bot.ID, false); err != nil {
		h.logger.Error("disable failed", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return
	}
	h.reply(r.b, r.chatID, fmt.Sprintf("Bot #%d disabled.", bot.ID))
}

func (h *Handler) cmdRenew(r *cmdRequest) {
	if len(r.args) != 2 {
		h.reply(r.b, r.chatID, "Usage: /renew <botID> <planID>")
		return
	}
	botID, err1 := strconv.ParseInt(r.args[0], 10, 64)
	planID, err2 := strconv.ParseInt(r.args[1], 10, 64)
	if err1 != nil || err2 != nil {
		h.reply(r.b, r.chatID, "Usage: /renew <botID> <planID>")
		return
	}

	bot, err := h.repo.GetBot(botID)
	if err != nil {
		h.reply(r.b, r.chatID, "Unknown bot.")
		return
	}
	if !h.mayManage(r.userID, bot) {
		return
	}

	plan, err := h.repo.GetPlan(planID)
	if err != nil || !plan.Active {
		h.reply(r.b, r.chatID, "That plan is not available.")
		return
	}
	if err := h.repo.Debit(r.userID, plan.Price); err != nil {
		if errors.Is(err, db.ErrInsufficientBalance) {
			h.reply(r.b, r.chatID, "Your balance does not cover this plan.")
			return
		}
		h.logger.Error("renewal debit failed", zap.Error(err))
		return
	}

	now := timeNow()
	wasExpired := bot.Expired(now)
	newExpiry, err := h.repo.Renew(botID, plan.Days, now, h.cfg.Sweep.NoticeWindow)
	if err != nil {
		h.logger.Error("renewal failed", zap.Int64("bot_id", botID), zap.Error(err))
		h.reply(r.b, r.chatID, "Renewal failed, please contact an operator.")
		return
	}

	// Renewing an expired bot brings it back: endpoint first, then status.
	if wasExpired || bot.Status == db.StatusInactive {
		if err := h.registerEndpoint(bot); err != nil {
			h.reply(r.b, r.chatID, fmt.Sprintf(
				"Renewed until %s, but re-registering the endpoint failed: %v", formatExpiry(newExpiry), err))
			return
		}
		if err := h.repo.SetStatus(botID, true); err != nil {
			h.logger.Error("post-renewal enable failed", zap.Int64("bot_id", botID), zap.Error(err))
		}
	}
	h.reply(r.b, r.chatID, fmt.Sprintf("Bot #%d renewed until %s.", botID, formatExpiry(newExpiry)))
}

func (h *Handler) cmdDelete(r *cmdRequest) {
	bot, ok := h.managedBot(r, "delete")
	if !ok {
		return
	}

	if err := h.unregisterEndpoint(bot); err != nil {
		h.logger.Warn("endpoint unregister during delete failed",
			zap.Int64("bot_id", bot.ID), zap.Error(err))
	}
	if err := h.repo.SoftDelete(bot.ID, timeNow()); err != nil {
		h.logger.Error("soft delete failed", zap.Int64("bot_id", bot.ID), zap.Error(err))
		h.reply(r.b, r.chatID, "Deletion failed, please try again.")
		return
	}

	text := fmt.Sprintf("Bot #%d deleted. Its data is retained for audit.", bot.ID)
	if bot.DBName.Valid && bot.DBName.String != "" {
		sig := jobs.DropSignature(h.cfg.Bot.Token, r.chatID, int64(r.msg.MessageID), bot.DBName.String)
		text += fmt.Sprintf(
			"\nTo drop its database permanently, open:\n%s/internal/drop-db?chat_id=%d&message_id=%d&db=%s&sig=%s",
			h.cfg.Bot.BaseURL, r.chatID, r.msg.MessageID, bot.DBName.String, sig)
	}
	h.reply(r.b, r.chatID, text)
}

func (h *Handler) cmdBalance(r *cmdRequest) {
	balance, err := h.repo.GetBalance(r.userID)
	if err != nil {
		h.logger.Error("balance lookup failed", zap.Error(err))
		return
	}
	h.reply(r.b, r.chatID, fmt.Sprintf("Balance: %d", balance))
}

func (h *Handler) cmdCredit(r *cmdRequest) {
	if !h.isOperator(r.userID) {
		return
	}
	if len(r.args) != 2 {
		h.reply(r.b, r.chatID, "Usage: /credit <userID> <amount>")
		return
	}
	userID, err1 := strconv.ParseInt(r.args[0], 10, 64)
	amount, err2 := strconv.ParseInt(r.args[1], 10, 64)
	if err1 != nil || err2 != nil || amount <= 0 {
		h.reply(r.b, r.chatID, "Usage: /credit <userID> <amount>")
		return
	}
	if err := h.repo.Credit(userID, amount, timeNow()); err != nil {
		h.logger.Error("credit failed", zap.Error(err))
		return
	}
	h.reply(r.b, r.chatID, fmt.Sprintf("Credited %d to %d.", amount, userID))
}

func (h *Handler) cmdAddPlan(r *cmdRequest) {
	if !h.isOperator(r.userID) {
		return
	}
	if len(r.args) < 3 {
		h.reply(r.b, r.chatID, "Usage: /addplan <title> <days> <price>")
		return
	}
	days, err1 := strconv.Atoi(r.args[len(r.args)-2])
	price, err2 := strconv.ParseInt(r.args[len(r.args)-1], 10, 64)
	if err1 != nil || err2 != nil || days <= 0 || price < 0 {
		h.reply(r.b, r.chatID, "Usage: /addplan <title> <days> <price>")
		return
	}
	title := strings.Join(r.args[:len(r.args)-2], " ")

	plan, err := h.repo.CreatePlan(title, days, price)
	if err != nil {
		h.logger.Error("plan creation failed", zap.Error(err))
		return
	}
	h.reply(r.b, r.chatID, fmt.Sprintf("Plan #%d %q created.", plan.ID, plan.Title))
}

func (h *Handler) cmdDelPlan(r *cmdRequest) {
	if !h.isOperator(r.userID) {
		return
	}
	if len(r.args) != 1 {
		h.reply(r.b, r.chatID, "Usage: /delplan <planID>")
		return
	}
	planID, err := strconv.ParseInt(r.args[0], 10, 64)
	if err != nil {
		h.reply(r.b, r.chatID, "Usage: /delplan <planID>")
		return
	}
	// Plans referenced by purchases are never removed, only retired.
	if err := h.repo.SetPlanActive(planID, false); err != nil {
		h.logger.Error("plan retirement failed", zap.Error(err))
		return
	}
	h.reply(r.b, r.chatID, fmt.Sprintf("Plan #%d retired.", planID))
}

// cmdBackup dispatches a manual dump of the bound instance's database.
func (h *Handler) cmdBackup(r *cmdRequest) {
	if !h.mayAdministerInstance(r) {
		return
	}
	err := h.dispatch.Dispatch(jobs.JobBackup,
		r.b.Token, strconv.FormatInt(r.chatID, 10), "backup", r.b.DBName)
	if err != nil {
		h.logger.Error("backup dispatch failed", zap.Error(err))
		h.reply(r.b, r.chatID, "Could not start the backup.")
		return
	}
	h.reply(r.b, r.chatID, "Backup started; the dump arrives here when ready.")
}

func (h *Handler) cmdRestore(r *cmdRequest) {
	if !h.mayAdministerInstance(r) {
		return
	}
	if len(r.args) != 1 {
		h.reply(r.b, r.chatID, "Usage: /restore <dump path on server>")
		return
	}
	err := h.dispatch.Dispatch(jobs.JobRestore,
		r.b.Token, strconv.FormatInt(r.chatID, 10), r.args[0], r.b.DBName)
	if err != nil {
		h.logger.Error("restore dispatch failed", zap.Error(err))
		h.reply(r.b, r.chatID, "Could not start the restore.")
		return
	}
	h.reply(r.b, r.chatID, "Restore started; the result arrives here when done.")
}

// cmdAutoBackup configures the typed scheduled-backup record of the bound
// instance: /autobackup off, /autobackup on <intervalMinutes>.
func (h *Handler) cmdAutoBackup(r *cmdRequest) {
	if !h.mayAdministerInstance(r) {
		return
	}
	repo := db.NewRepository(r.b.DB)

	switch {
	case len(r.args) == 1 && r.args[0] == "off":
		if err := repo.SaveAutoBackup(db.AutoBackupSettings{}); err != nil {
			h.logger.Error("auto-backup settings write failed", zap.Error(err))
			return
		}
		h.reply(r.b, r.chatID, "Automatic backups disabled.")
	case len(r.args) == 2 && r.args[0] == "on":
		interval, err := strconv.Atoi(r.args[1])
		if err != nil || interval < 1 {
			h.reply(r.b, r.chatID, "Usage: /autobackup on <intervalMinutes>")
			return
		}
		s := db.AutoBackupSettings{Enabled: true, IntervalMin: interval}
		if err := repo.SaveAutoBackup(s); err != nil {
			h.logger.Error("auto-backup settings write failed", zap.Error(err))
			return
		}
		h.reply(r.b, r.chatID, fmt.Sprintf("Automatic backups every %d minutes.", interval))
	default:
		h.reply(r.b, r.chatID, "Usage: /autobackup on <intervalMinutes> | /autobackup off")
	}
}

// cmdBroadcast queues a message for every tenant owner and kicks the bulk
// sender, which serializes itself behind its file lock.
func (h *Handler) cmdBroadcast(r *cmdRequest) {
	if !h.isOperator(r.userID) || r.b.IsTenant {
		return
	}
	text := strings.TrimSpace(r.msg.CommandArguments())
	if text == "" {
		h.reply(r.b, r.chatID, "Usage: /broadcast <message>")
		return
	}

	owners, err := h.repo.OwnerIDs()
	if err != nil {
		h.logger.Error("broadcast audience query failed", zap.Error(err))
		return
	}
	for _, owner := range owners {
		if err := h.repo.QueueBroadcast(owner, text); err != nil {
			h.logger.Error("broadcast enqueue failed", zap.Int64("owner", owner), zap.Error(err))
		}
	}

	if err := h.dispatch.Dispatch(jobs.JobBroadcast, r.b.Token); err != nil {
		h.logger.Error("broadcast dispatch failed", zap.Error(err))
		return
	}
	h.reply(r.b, r.chatID, fmt.Sprintf("Broadcast queued for %d owners.", len(owners)))
}

// managedBot parses the single bot-id argument and authorizes the caller.
func (h *Handler) managedBot(r *cmdRequest, verb string) (*db.Bot, bool) {
	if len(r.args) != 1 {
		h.reply(r.b, r.chatID, fmt.Sprintf("Usage: /%s <botID>", verb))
		return nil, false
	}
	botID, err := strconv.ParseInt(r.args[0], 10, 64)
	if err != nil {
		h.reply(r.b, r.chatID, fmt.Sprintf("Usage: /%s <botID>", verb))
		return nil, false
	}
	bot, err := h.repo.GetBot(botID)
	if err != nil {
		h.reply(r.b, r.chatID, "Unknown bot.")
		return nil, false
	}
	if !h.mayManage(r.userID, bot) {
		return nil, false
	}
	return bot, true
}

// mayAdministerInstance authorizes instance-level maintenance: mother
// operators on the mother endpoint, the tenant's administrator on its own.
func (h *Handler) mayAdministerInstance(r *cmdRequest) bool {
	if r.b.IsTenant {
		return r.userID == r.b.AdminID
	}
	return h.isOperator(r.userID)
}

func (h *Handler) registerEndpoint(bot *db.Bot) error {
	c, err := h.client(bot.BotToken)
	if err != nil {
		return err
	}
	return c.RegisterEndpoint(fmt.Sprintf("%s/webhook?bot=%d", h.cfg.Bot.BaseURL, bot.ID))
}

func (h *Handler) unregisterEndpoint(bot *db.Bot) error {
	c, err := h.client(bot.BotToken)
	if err != nil {
		return err
	}
	return c.UnregisterEndpoint()
}
