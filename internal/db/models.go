package db

import (
	"database/sql"
	"time"
)

const (
	StatusInactive = 0
	StatusActive   = 1
)

// Plan is a purchasable subscription offer. Rows referenced by a purchase
// are never edited except for the Active flag.
type Plan struct {
	ID     int64  `json:"id" db:"id"`
	Title  string `json:"title" db:"title"`
	Days   int    `json:"days" db:"days"`
	Price  int64  `json:"price" db:"price"`
	Active bool   `json:"active" db:"active"`
}

// Bot is one reseller tenant: an isolated bot instance with its own
// credential and, once provisioned, its own database.
type Bot struct {
	ID            int64          `json:"id" db:"id"`
	OwnerID       int64          `json:"owner_id" db:"owner_id"`
	BotToken      string         `json:"-" db:"bot_token"`
	BotID         int64          `json:"bot_id" db:"bot_id"`
	BotUsername   string         `json:"bot_username" db:"bot_username"`
	AdminUserID   int64          `json:"admin_userid" db:"admin_userid"`
	CreatedAt     int64          `json:"created_at" db:"created_at"`
	ExpiresAt     int64          `json:"expires_at" db:"expires_at"` // epoch seconds, 0 = never
	Status        int            `json:"status" db:"status"`
	IsDeleted     bool           `json:"is_deleted" db:"is_deleted"`
	DeletedAt     sql.NullInt64  `json:"deleted_at" db:"deleted_at"`
	ExpNotifySent bool           `json:"exp_notify_sent" db:"exp_notify_sent"`
	DBName        sql.NullString `json:"db_name" db:"db_name"`
}

type BotState string

const (
	BotPendingToken   BotState = "pending-credential"
	BotPendingAdminID BotState = "pending-admin-id"
	BotActive         BotState = "active"
	BotDisabled       BotState = "disabled"
	BotExpired        BotState = "expired"
	BotDeleted        BotState = "deleted"
)

// State derives the lifecycle position from the row fields. admin_userid=0
// marks credential collection in progress regardless of status.
func (b *Bot) State(now time.Time) BotState {
	switch {
	case b.IsDeleted:
		return BotDeleted
	case b.BotToken == "":
		return BotPendingToken
	case b.AdminUserID == 0:
		return BotPendingAdminID
	case b.Status == StatusInactive && b.ExpiresAt != 0 && b.ExpiresAt < now.Unix():
		return BotExpired
	case b.Status == StatusInactive:
		return BotDisabled
	default:
		return BotActive
	}
}

// Expired reports whether the bot's expiry is set and in the past.
func (b *Bot) Expired(now time.Time) bool {
	return b.ExpiresAt != 0 && b.ExpiresAt < now.Unix()
}

// RenewalExpiry computes the expiry after buying days more of service.
// Renewal never stacks on an already-elapsed expiry: the base is the stored
// expiry if still in the future, the current time otherwise.
func RenewalExpiry(current int64, now time.Time, days int) int64 {
	base := current
	if n := now.Unix(); base < n {
		base = n
	}
	return base + int64(days)*86400
}

// User backs the wallet consumed by the provisioning workflow.
type User struct {
	ID        int64 `json:"id" db:"id"`
	Balance   int64 `json:"balance" db:"balance"`
	CreatedAt int64 `json:"created_at" db:"created_at"`
}

// AutoBackupSettings is the typed auto-backup record, persisted as a single
// settings row and replaced wholesale on every write.
type AutoBackupSettings struct {
	Enabled     bool  `json:"enabled"`
	LastRun     int64 `json:"last"`
	IntervalMin int   `json:"interval_min"`
}

// Due reports whether a scheduled backup should fire at now.
func (s AutoBackupSettings) Due(now time.Time) bool {
	if !s.Enabled || s.IntervalMin <= 0 {
		return false
	}
	return now.Unix()-s.LastRun >= int64(s.IntervalMin)*60
}

// BroadcastMessage is one queued outbound message for the bulk sender.
type BroadcastMessage struct {
	ID     int64         `json:"id" db:"id"`
	ChatID int64         `json:"chat_id" db:"chat_id"`
	Text   string        `json:"text" db:"text"`
	SentAt sql.NullInt64 `json:"sent_at" db:"sent_at"`
}
