package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDBNameAssigned      = errors.New("database name already assigned")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping() error {
	return r.db.Ping()
}

// Plan operations

func (r *Repository) CreatePlan(title string, days int, price int64) (*Plan, error) {
	p := &Plan{Title: title, Days: days, Price: price, Active: true}
	query := `INSERT INTO plans (title, days, price, active) VALUES ($1, $2, $3, TRUE) RETURNING id`
	err := r.db.Get(&p.ID, query, title, days, price)
	return p, err
}

func (r *Repository) GetPlan(id int64) (*Plan, error) {
	var p Plan
	err := r.db.Get(&p, `SELECT * FROM plans WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *Repository) SetPlanActive(id int64, active bool) error {
	_, err := r.db.Exec(`UPDATE plans SET active = $2 WHERE id = $1`, id, active)
	return err
}

func (r *Repository) ListPlans(activeOnly bool) ([]*Plan, error) {
	plans := []*Plan{}
	query := `SELECT * FROM plans ORDER BY id`
	if activeOnly {
		query = `SELECT * FROM plans WHERE active ORDER BY id`
	}
	err := r.db.Select(&plans, query)
	return plans, err
}

// Wallet operations

func (r *Repository) EnsureUser(id int64, now time.Time) error {
	query := `INSERT INTO users (id, balance, created_at) VALUES ($1, 0, $2) ON CONFLICT (id) DO NOTHING`
	_, err := r.db.Exec(query, id, now.Unix())
	return err
}

func (r *Repository) GetBalance(userID int64) (int64, error) {
	var balance int64
	err := r.db.Get(&balance, `SELECT balance FROM users WHERE id = $1`, userID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func (r *Repository) Credit(userID int64, amount int64, now time.Time) error {
	if err := r.EnsureUser(userID, now); err != nil {
		return err
	}
	_, err := r.db.Exec(`UPDATE users SET balance = balance + $2 WHERE id = $1`, userID, amount)
	return err
}

// Debit withdraws amount from the wallet, failing without mutation when the
// balance is short.
func (r *Repository) Debit(userID int64, amount int64) error {
	res, err := r.db.Exec(`UPDATE users SET balance = balance - $2 WHERE id = $1 AND balance >= $2`, userID, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// OwnerIDs lists the distinct owners of live tenants, the broadcast
// audience.
func (r *Repository) OwnerIDs() ([]int64, error) {
	ids := []int64{}
	err := r.db.Select(&ids, `SELECT DISTINCT owner_id FROM bots WHERE NOT is_deleted ORDER BY owner_id`)
	return ids, err
}

// PurchaseBot debits the plan price and inserts the pending tenant row in
// one transaction, so a crash cannot charge the wallet without creating the
// bot. The conversational step write lives outside the transaction; the
// recovery lookup (FindRecoverable) compensates for that.
func (r *Repository) PurchaseBot(ownerID int64, plan *Plan, now time.Time) (int64, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.Get(&balance, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, ownerID)
	if err == sql.ErrNoRows {
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, err
	}
	if balance < plan.Price {
		return 0, ErrInsufficientBalance
	}

	_, err = tx.Exec(`UPDATE users SET balance = balance - $2 WHERE id = $1`, ownerID, plan.Price)
	if err != nil {
		return 0, err
	}

	var botID int64
	query := `
		INSERT INTO bots (owner_id, created_at, expires_at, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	expiresAt := now.Unix() + int64(plan.Days)*86400
	err = tx.Get(&botID, query, ownerID, now.Unix(), expiresAt, StatusActive)
	if err != nil {
		return 0, err
	}

	return botID, tx.Commit()
}

// Bot operations

func (r *Repository) GetBot(id int64) (*Bot, error) {
	var b Bot
	err := r.db.Get(&b, `SELECT * FROM bots WHERE id = $1 AND NOT is_deleted`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &b, err
}

// GetRoutableBot is the resolver lookup: only bots that are active and past
// credential collection may receive traffic.
func (r *Repository) GetRoutableBot(id int64) (*Bot, error) {
	var b Bot
	query := `
		SELECT * FROM bots
		WHERE id = $1 AND status = 1 AND NOT is_deleted
		AND bot_token <> '' AND admin_userid <> 0`
	err := r.db.Get(&b, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &b, err
}

func (r *Repository) SetToken(id int64, token string) error {
	return r.execOne(`UPDATE bots SET bot_token = $2 WHERE id = $1 AND NOT is_deleted`, id, token)
}

func (r *Repository) SetAdmin(id int64, adminID int64) error {
	return r.execOne(`UPDATE bots SET admin_userid = $2 WHERE id = $1 AND NOT is_deleted`, id, adminID)
}

func (r *Repository) SetBotIdentity(id int64, botID int64, username string) error {
	return r.execOne(`UPDATE bots SET bot_id = $2, bot_username = $3 WHERE id = $1 AND NOT is_deleted`, id, botID, username)
}

// AssignDBName binds a database to the tenant exactly once. A second
// assignment fails rather than silently re-pointing the tenant.
func (r *Repository) AssignDBName(id int64, name string) error {
	res, err := r.db.Exec(`UPDATE bots SET db_name = $2 WHERE id = $1 AND db_name IS NULL`, id, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDBNameAssigned
	}
	return nil
}

func (r *Repository) SetStatus(id int64, active bool) error {
	status := StatusInactive
	if active {
		status = StatusActive
	}
	return r.execOne(`UPDATE bots SET status = $2 WHERE id = $1 AND NOT is_deleted`, id, status)
}

func (r *Repository) SoftDelete(id int64, now time.Time) error {
	return r.execOne(`
		UPDATE bots SET is_deleted = TRUE, deleted_at = $2, status = 0
		WHERE id = $1 AND NOT is_deleted`, id, now.Unix())
}

// Renew extends the subscription by the plan duration. The base is the
// stored expiry when still in the future, current time otherwise, and a new
// expiry beyond the notice window re-arms the reminder flag.
func (r *Repository) Renew(id int64, days int, now time.Time, noticeWindow time.Duration) (int64, error) {
	b, err := r.GetBot(id)
	if err != nil {
		return 0, err
	}

	newExpiry := RenewalExpiry(b.ExpiresAt, now, days)
	resetNotice := newExpiry > now.Add(noticeWindow).Unix()

	query := `
		UPDATE bots SET expires_at = $2,
		exp_notify_sent = CASE WHEN $3 THEN FALSE ELSE exp_notify_sent END
		WHERE id = $1 AND NOT is_deleted`
	if err := r.execOne(query, id, newExpiry, resetNotice); err != nil {
		return 0, err
	}
	return newExpiry, nil
}

// ListActive pages through non-deleted bots with status=1, oldest first.
func (r *Repository) ListActive(offset, limit int) ([]*Bot, error) {
	bots := []*Bot{}
	query := `
		SELECT * FROM bots
		WHERE status = 1 AND NOT is_deleted
		ORDER BY id
		OFFSET $1 LIMIT $2`
	err := r.db.Select(&bots, query, offset, limit)
	return bots, err
}

func (r *Repository) ListByOwner(ownerID int64) ([]*Bot, error) {
	bots := []*Bot{}
	err := r.db.Select(&bots, `SELECT * FROM bots WHERE owner_id = $1 AND NOT is_deleted ORDER BY id`, ownerID)
	return bots, err
}

// FindRecoverable locates the owner's most recent bot still waiting for an
// admin id, created at or after since. Used when the conversational step was
// lost but the owner's message looks like an admin-id submission.
func (r *Repository) FindRecoverable(ownerID int64, since time.Time) (int64, error) {
	var id int64
	query := `
		SELECT id FROM bots
		WHERE owner_id = $1 AND NOT is_deleted
		AND bot_token <> '' AND admin_userid = 0
		AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT 1`
	err := r.db.Get(&id, query, ownerID, since.Unix())
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

// Sweep queries

func (r *Repository) ExpiringSoon(now time.Time, window time.Duration) ([]*Bot, error) {
	bots := []*Bot{}
	query := `
		SELECT * FROM bots
		WHERE status = 1 AND NOT is_deleted AND NOT exp_notify_sent
		AND expires_at > $1 AND expires_at <= $2`
	err := r.db.Select(&bots, query, now.Unix(), now.Add(window).Unix())
	return bots, err
}

func (r *Repository) MarkExpiryNotified(id int64) error {
	return r.execOne(`UPDATE bots SET exp_notify_sent = TRUE WHERE id = $1 AND NOT is_deleted`, id)
}

func (r *Repository) ExpiredActive(now time.Time) ([]*Bot, error) {
	bots := []*Bot{}
	query := `
		SELECT * FROM bots
		WHERE status = 1 AND NOT is_deleted
		AND expires_at <> 0 AND expires_at < $1`
	err := r.db.Select(&bots, query, now.Unix())
	return bots, err
}

// Settings

const autoBackupKey = "auto_backup"

func (r *Repository) AutoBackup() (AutoBackupSettings, error) {
	var s AutoBackupSettings
	var raw []byte
	err := r.db.Get(&raw, `SELECT value FROM settings WHERE key = $1`, autoBackupKey)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	return s, json.Unmarshal(raw, &s)
}

func (r *Repository) SaveAutoBackup(s AutoBackupSettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	_, err = r.db.Exec(query, autoBackupKey, raw)
	return err
}

// Broadcast queue

func (r *Repository) QueueBroadcast(chatID int64, text string) error {
	_, err := r.db.Exec(`INSERT INTO broadcast_queue (chat_id, text) VALUES ($1, $2)`, chatID, text)
	return err
}

func (r *Repository) UnsentBroadcasts(limit int) ([]*BroadcastMessage, error) {
	msgs := []*BroadcastMessage{}
	query := `SELECT * FROM broadcast_queue WHERE sent_at IS NULL ORDER BY id LIMIT $1`
	err := r.db.Select(&msgs, query, limit)
	return msgs, err
}

func (r *Repository) MarkBroadcastSent(id int64, now time.Time) error {
	_, err := r.db.Exec(`UPDATE broadcast_queue SET sent_at = $2 WHERE id = $1`, id, now.Unix())
	return err
}

func (r *Repository) execOne(query string, args ...interface{}) error {
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("bots: %w", ErrNotFound)
	}
	return nil
}
