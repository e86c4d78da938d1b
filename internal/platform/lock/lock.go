// Package lock elects a single process among several sharing a host by
// holding an exclusive advisory lock on a file.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// ErrNotHeld is returned by Execute when this process does not hold the lock.
var ErrNotHeld = errors.New("process lock not held")

// ProcessLock is an exclusive, non-blocking lock on a file.
type ProcessLock struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New creates a ProcessLock for path. Nothing is locked until TryAcquire.
func New(path string, logger *slog.Logger) *ProcessLock {
	return &ProcessLock{
		path:   path,
		logger: logger.With("component", "process_lock", "path", path),
	}
}

// TryAcquire attempts to take the lock without blocking. It reports whether
// the lock is now held by this process.
func (l *ProcessLock) TryAcquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return true, nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("failed to open lock file: %w", err)
	}

	acquired, err := tryLock(f)
	if err != nil || !acquired {
		_ = f.Close()
		return false, err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	l.file = f
	l.logger.Info("process lock acquired", "pid", os.Getpid())
	return true, nil
}

// Held reports whether this process holds the lock.
func (l *ProcessLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// Execute runs fn only if the lock is held.
func (l *ProcessLock) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !l.Held() {
		return ErrNotHeld
	}
	return fn(ctx)
}

// Release gives the lock up. It is safe to call when the lock is not held.
func (l *ProcessLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	unlockErr := unlock(f)
	closeErr := f.Close()
	l.logger.Info("process lock released")
	return errors.Join(unlockErr, closeErr)
}
