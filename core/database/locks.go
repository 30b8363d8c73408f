package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"

	liberrors "github.com/adalundhe/shelf/core/errors"
)

const lockPollInterval = 100 * time.Millisecond

// AdvisoryLock is an flock(2) based lock file. It guards a library root so
// that only one process writes the catalog and object directory at a time.
type AdvisoryLock struct {
	path string
	file *os.File
}

// NewAdvisoryLock prepares <lockDir>/<name>.lock without acquiring it.
func NewAdvisoryLock(lockDir, name string) (*AdvisoryLock, error) {
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, err
	}

	return &AdvisoryLock{
		path: filepath.Join(lockDir, name+".lock"),
	}, nil
}

// Acquire polls until the lock is held, ctx is done or timeout elapses. A
// timeout is reported as a Conflict naming the lock file.
func (l *AdvisoryLock) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.TryAcquire()
		if err != nil || ok {
			return err
		}
		if !time.Now().Before(deadline) {
			return liberrors.Newf(liberrors.KindConflict, "database.AdvisoryLock",
				"library is locked by another process: %s", l.path)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryAcquire takes the lock if it is free. ok is false when another holder
// has it. Calling it while already holding the lock is a no-op.
func (l *AdvisoryLock) TryAcquire() (bool, error) {
	if l.file != nil {
		return true, nil
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, err
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return false, nil
		}
		return false, err
	}

	l.file = file
	return true, nil
}

func (l *AdvisoryLock) Release() error {
	if l.file == nil {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	return errors.Join(err, closeErr)
}

func (l *AdvisoryLock) IsHeld() bool {
	return l.file != nil
}

func (l *AdvisoryLock) Path() string {
	return l.path
}
