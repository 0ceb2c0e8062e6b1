package locking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// FileLocker takes one lock file per key under dir. It serializes runs
// between processes on the same host, e.g. `fern run-once` from cron next
// to a running server. The ttl is ignored; the OS drops the lock when the
// holder exits.
type FileLocker struct {
	dir string
}

func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileLocker{dir: dir}, nil
}

func (l *FileLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (Lease, error) {
	name := strings.NewReplacer("/", "_", ":", "_").Replace(key) + ".lock"
	fileLock := flock.New(filepath.Join(l.dir, name))

	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", fileLock.Path(), err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return &fileLease{lock: fileLock}, nil
}

type fileLease struct {
	lock *flock.Flock
}

func (f *fileLease) Release(_ context.Context) error {
	if !f.lock.Locked() {
		return ErrNotHeld
	}
	return f.lock.Unlock()
}
