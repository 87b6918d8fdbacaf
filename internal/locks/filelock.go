package locks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrHeld means another process owns the lock; the caller's launch is a
// no-op by contract.
var ErrHeld = errors.New("lock already held")

// FileLock is an exclusive, non-blocking advisory lock on a regular file.
// The lock file doubles as a heartbeat record so external monitoring can
// tell a running holder from a stuck one.
type FileLock struct {
	path string
	f    *os.File
}

func Acquire(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	return &FileLock{path: path, f: f}, nil
}

// Heartbeat overwrites the lock file with the current timestamp.
func (l *FileLock) Heartbeat(now time.Time) error {
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	if _, err := l.f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(l.f, "%d\n", now.Unix())
	return err
}

// Release unlocks and closes. The file itself stays behind; its last
// heartbeat is still meaningful to an operator.
func (l *FileLock) Release() error {
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// ReadHeartbeat returns the last heartbeat written to a lock file, or zero
// time if the file is absent, empty, or holds something unparseable. A
// corrupt marker must read as "never", not poison every later Gate call.
func ReadHeartbeat(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.Unix(ts, 0), nil
}

// Gate is a cross-process rate limiter: it returns true at most once per
// interval, using the marker file's timestamp under the file's own lock so
// two concurrent callers can never both pass the check.
func Gate(path string, interval time.Duration, now time.Time) (bool, error) {
	l, err := Acquire(path)
	if err == ErrHeld {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer l.Release()

	last, err := ReadHeartbeat(path)
	if err != nil {
		return false, err
	}
	if !last.IsZero() && now.Sub(last) < interval {
		return false, nil
	}

	return true, l.Heartbeat(now)
}
