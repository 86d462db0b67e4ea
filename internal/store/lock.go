package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
)

// LockFileName is created inside every on-disk store directory.
const LockFileName = ".urlindex.lock"

// dirLock guards a store directory against a second process opening it.
// Works on all platforms via gofrs/flock.
type dirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newDirLock(dir string) *dirLock {
	lockPath := filepath.Join(dir, LockFileName)
	return &dirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// tryLock acquires the lock without blocking. A lock held elsewhere is
// reported as ERR_207_STORE_LOCKED so callers can decide to retry.
func (l *dirLock) tryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return uierrors.New(uierrors.ErrCodeStoreLocked, "index store is in use by another process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("stop the other urlindex process (for example a running `urlindex watch`) and retry")
	}

	l.locked = true
	return nil
}

// unlock releases the lock. Safe to call on an unlocked dirLock.
func (l *dirLock) unlock() error {
	if l == nil || !l.locked {
		return nil
	}

	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
