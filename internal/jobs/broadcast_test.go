package jobs

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/db"
	"github.com/quibex/botmother/internal/locks"
)

type fakeQueue struct {
	mu   sync.Mutex
	msgs []*db.BroadcastMessage
}

func (q *fakeQueue) UnsentBroadcasts(limit int) ([]*db.BroadcastMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*db.BroadcastMessage
	for _, m := range q.msgs {
		if !m.SentAt.Valid {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (q *fakeQueue) MarkBroadcastSent(id int64, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.msgs {
		if m.ID == id {
			m.SentAt.Valid = true
			m.SentAt.Int64 = now.Unix()
		}
	}
	return nil
}

func (q *fakeQueue) unsentCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, m := range q.msgs {
		if !m.SentAt.Valid {
			n++
		}
	}
	return n
}

func TestBroadcasterDrainsQueue(t *testing.T) {
	q := &fakeQueue{}
	for i := int64(1); i <= 60; i++ {
		q.msgs = append(q.msgs, &db.BroadcastMessage{ID: i, ChatID: 1000 + i, Text: "hi"})
	}

	var sent []int64
	b := &Broadcaster{
		LockPath: filepath.Join(t.TempDir(), "broadcast.lock"),
		Queue:    q,
		Send: func(chatID int64, text string) error {
			sent = append(sent, chatID)
			return nil
		},
		Logger: zap.NewNop(),
		Pause:  time.Millisecond,
	}

	require.NoError(t, b.Run())
	assert.Len(t, sent, 60)
	assert.Equal(t, 0, q.unsentCount())
}

func TestBroadcasterSendFailureLeavesMessageQueued(t *testing.T) {
	q := &fakeQueue{msgs: []*db.BroadcastMessage{
		{ID: 1, ChatID: 10, Text: "a"},
		{ID: 2, ChatID: 20, Text: "b"},
	}}

	b := &Broadcaster{
		LockPath: filepath.Join(t.TempDir(), "broadcast.lock"),
		Queue:    q,
		Send: func(chatID int64, text string) error {
			if chatID == 10 {
				return errors.New("blocked by user")
			}
			return nil
		},
		Logger: zap.NewNop(),
		Pause:  time.Millisecond,
	}

	require.NoError(t, b.Run())
	assert.Equal(t, 1, q.unsentCount(), "failed delivery stays queued for a later run")
}

func TestBroadcasterSecondInstanceIsNoOp(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "broadcast.lock")
	q := &fakeQueue{msgs: []*db.BroadcastMessage{{ID: 1, ChatID: 10, Text: "a"}}}

	held, err := locks.Acquire(lockPath)
	require.NoError(t, err)
	defer held.Release()

	sent := 0
	b := &Broadcaster{
		LockPath: lockPath,
		Queue:    q,
		Send: func(chatID int64, text string) error {
			sent++
			return nil
		},
		Logger: zap.NewNop(),
		Pause:  time.Millisecond,
	}

	require.NoError(t, b.Run(), "held lock makes the launch a no-op, not an error")
	assert.Zero(t, sent, "second instance must not process any item")
	assert.Equal(t, 1, q.unsentCount())
}

func TestBroadcasterWritesHeartbeat(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "broadcast.lock")
	q := &fakeQueue{msgs: []*db.BroadcastMessage{{ID: 1, ChatID: 10, Text: "a"}}}

	b := &Broadcaster{
		LockPath: lockPath,
		Queue:    q,
		Send:     func(int64, string) error { return nil },
		Logger:   zap.NewNop(),
		Pause:    time.Millisecond,
	}
	require.NoError(t, b.Run())

	hb, err := locks.ReadHeartbeat(lockPath)
	require.NoError(t, err)
	assert.False(t, hb.IsZero())
	assert.WithinDuration(t, time.Now(), hb, time.Minute)
}
