package sweep

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/db"
)

type fakeRegistry struct {
	bots map[int64]*db.Bot
}

func (f *fakeRegistry) ExpiringSoon(now time.Time, window time.Duration) ([]*db.Bot, error) {
	var out []*db.Bot
	for _, b := range f.bots {
		if b.Status == db.StatusActive && !b.IsDeleted && !b.ExpNotifySent &&
			b.ExpiresAt > now.Unix() && b.ExpiresAt <= now.Add(window).Unix() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeRegistry) MarkExpiryNotified(id int64) error {
	f.bots[id].ExpNotifySent = true
	return nil
}

func (f *fakeRegistry) ExpiredActive(now time.Time) ([]*db.Bot, error) {
	var out []*db.Bot
	for _, b := range f.bots {
		if b.Status == db.StatusActive && !b.IsDeleted && b.ExpiresAt != 0 && b.ExpiresAt < now.Unix() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeRegistry) SetStatus(id int64, active bool) error {
	if active {
		f.bots[id].Status = db.StatusActive
	} else {
		f.bots[id].Status = db.StatusInactive
	}
	return nil
}

type recorder struct {
	notices       map[int64][]string
	unregistered  []string
	unregisterErr error
}

func newRecorder() *recorder {
	return &recorder{notices: map[int64][]string{}}
}

func (r *recorder) notify(chatID int64, text string) error {
	r.notices[chatID] = append(r.notices[chatID], text)
	return nil
}

func (r *recorder) unregister(token string) error {
	if r.unregisterErr != nil {
		return r.unregisterErr
	}
	r.unregistered = append(r.unregistered, token)
	return nil
}

func newTestSweeper(t *testing.T, reg *fakeRegistry, rec *recorder, now time.Time) *Sweeper {
	t.Helper()
	s := New(reg, rec.notify, rec.unregister,
		filepath.Join(t.TempDir(), "sweep.marker"), 15*time.Minute, 24*time.Hour, zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func TestSweepDeactivatesExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := &fakeRegistry{bots: map[int64]*db.Bot{
		1: {ID: 1, OwnerID: 10, BotToken: "t1", AdminUserID: 10, Status: db.StatusActive, ExpiresAt: now.Unix() - 1},
		2: {ID: 2, OwnerID: 20, BotToken: "t2", AdminUserID: 20, Status: db.StatusActive, ExpiresAt: now.Unix() + 100_000},
	}}
	rec := newRecorder()
	s := newTestSweeper(t, reg, rec, now)

	require.NoError(t, s.Run())

	assert.Equal(t, db.StatusInactive, reg.bots[1].Status)
	assert.Equal(t, []string{"t1"}, rec.unregistered, "endpoint unregistered exactly once")
	assert.Equal(t, db.StatusActive, reg.bots[2].Status, "future expiry untouched")
}

func TestSweepKeepsStatusWhenUnregisterFails(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := &fakeRegistry{bots: map[int64]*db.Bot{
		1: {ID: 1, OwnerID: 10, BotToken: "t1", Status: db.StatusActive, ExpiresAt: now.Unix() - 1},
	}}
	rec := newRecorder()
	rec.unregisterErr = errors.New("telegram unreachable")
	s := newTestSweeper(t, reg, rec, now)

	require.NoError(t, s.Run())

	assert.Equal(t, db.StatusActive, reg.bots[1].Status,
		"status stays 1 until the endpoint is actually gone")
}

func TestSweepNotifiesExpiringOnce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := &fakeRegistry{bots: map[int64]*db.Bot{
		1: {ID: 1, OwnerID: 10, AdminUserID: 99, BotToken: "t1", BotUsername: "shop_bot",
			Status: db.StatusActive, ExpiresAt: now.Unix() + 3600},
	}}
	rec := newRecorder()
	s := newTestSweeper(t, reg, rec, now)

	require.NoError(t, s.Run())

	assert.Len(t, rec.notices[10], 1, "owner notified")
	assert.Len(t, rec.notices[99], 1, "distinct admin notified")
	assert.True(t, reg.bots[1].ExpNotifySent)

	// A second sweep past the gate must not re-notify.
	s.now = func() time.Time { return now.Add(16 * time.Minute) }
	require.NoError(t, s.Run())
	assert.Len(t, rec.notices[10], 1)
}

func TestSweepSkipsOwnerDoubleNotice(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := &fakeRegistry{bots: map[int64]*db.Bot{
		1: {ID: 1, OwnerID: 10, AdminUserID: 10, BotToken: "t1",
			Status: db.StatusActive, ExpiresAt: now.Unix() + 3600},
	}}
	rec := newRecorder()
	s := newTestSweeper(t, reg, rec, now)

	require.NoError(t, s.Run())
	assert.Len(t, rec.notices[10], 1, "owner who is also admin gets one notice")
}

func TestSweepRateLimited(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := &fakeRegistry{bots: map[int64]*db.Bot{
		1: {ID: 1, OwnerID: 10, BotToken: "t1", Status: db.StatusActive, ExpiresAt: now.Unix() - 1},
	}}
	rec := newRecorder()
	s := newTestSweeper(t, reg, rec, now)

	require.NoError(t, s.Run())
	assert.Len(t, rec.unregistered, 1)

	// Restore the bot and run again inside the window: the gate holds.
	reg.bots[1].Status = db.StatusActive
	s.now = func() time.Time { return now.Add(5 * time.Minute) }
	require.NoError(t, s.Run())
	assert.Len(t, rec.unregistered, 1, "second sweep inside the window is a no-op")

	s.now = func() time.Time { return now.Add(15 * time.Minute) }
	require.NoError(t, s.Run())
	assert.Len(t, rec.unregistered, 2, "window elapsed, sweep runs")
}
