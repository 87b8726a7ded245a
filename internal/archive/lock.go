package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockFileName is the run lock inside an archive root.
const LockFileName = ".lock"

// ErrArchiveBusy indicates another process holds the archive's run lock.
var ErrArchiveBusy = errors.New("archive is locked by another run")

// RunLock is an exclusive flock(2) lock on an archive root. It serializes
// writers (fetch and index runs) across processes and is released by the
// kernel if the holder dies.
type RunLock struct {
	path string
	file *os.File
}

// NewRunLock returns an unlocked lock for the given archive root.
func NewRunLock(root string) *RunLock {
	return &RunLock{path: filepath.Join(root, LockFileName)}
}

// Acquire takes the lock, waiting up to wait for a concurrent run to finish.
// A zero wait fails immediately with ErrArchiveBusy when the lock is held.
func (l *RunLock) Acquire(ctx context.Context, wait time.Duration) error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create archive root: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	deadline := time.Now().Add(wait)
	poll := 10 * time.Millisecond
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			l.file = f
			return nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			_ = f.Close()
			return fmt.Errorf("flock failed: %w", err)
		}
		if !time.Now().Before(deadline) {
			_ = f.Close()
			return ErrArchiveBusy
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return ctx.Err()
		case <-time.After(poll):
			poll = min(poll*2, 500*time.Millisecond)
		}
	}
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *RunLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	return closeErr
}

// Held reports whether this instance holds the lock.
func (l *RunLock) Held() bool {
	return l.file != nil
}
