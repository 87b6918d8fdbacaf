package jobs

import (
	"time"

	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/db"
	"github.com/quibex/botmother/internal/locks"
)

// BroadcastQueue is the slice of the repository the bulk sender drains.
type BroadcastQueue interface {
	UnsentBroadcasts(limit int) ([]*db.BroadcastMessage, error)
	MarkBroadcastSent(id int64, now time.Time) error
}

// Broadcaster drains the shared outbound queue. Exactly one instance runs
// system-wide: the run starts only after taking an exclusive non-blocking
// file lock, and a held lock makes the launch a silent no-op. The runtime
// is self-bounded by a capped iteration count instead of external
// cancellation.
type Broadcaster struct {
	LockPath string
	Queue    BroadcastQueue
	Send     func(chatID int64, text string) error
	Logger   *zap.Logger

	// Pause between batches; overridable in tests.
	Pause time.Duration
}

const (
	broadcastBatch         = 25
	broadcastMaxIterations = 100
)

func (b *Broadcaster) Run() error {
	pause := b.Pause
	if pause == 0 {
		pause = 500 * time.Millisecond
	}

	lock, err := locks.Acquire(b.LockPath)
	if err == locks.ErrHeld {
		b.Logger.Info("broadcast already running, skipping", zap.String("lock", b.LockPath))
		return nil
	}
	if err != nil {
		return err
	}
	defer lock.Release()

	for i := 0; i < broadcastMaxIterations; i++ {
		// Heartbeat per batch so monitoring can tell running from stuck.
		if err := lock.Heartbeat(time.Now()); err != nil {
			b.Logger.Warn("heartbeat write failed", zap.Error(err))
		}

		msgs, err := b.Queue.UnsentBroadcasts(broadcastBatch)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		for _, m := range msgs {
			if err := b.Send(m.ChatID, m.Text); err != nil {
				b.Logger.Warn("broadcast send failed",
					zap.Int64("message_id", m.ID),
					zap.Int64("chat_id", m.ChatID),
					zap.Error(err),
				)
				// Left unsent; a later run retries it.
				continue
			}
			if err := b.Queue.MarkBroadcastSent(m.ID, time.Now()); err != nil {
				return err
			}
		}

		time.Sleep(pause)
	}

	b.Logger.Info("broadcast iteration cap reached, leaving remainder for next run")
	return nil
}
