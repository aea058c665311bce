package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLocker uses advisory file locks under a base directory, one directory
// per key.
type FileLocker struct {
	dir string
}

// NewFileLocker creates a locker storing lock files under dir. An empty dir
// means the system temp directory.
func NewFileLocker(dir string) *FileLocker {
	if dir == "" {
		dir = os.TempDir()
	}
	return &FileLocker{dir: dir}
}

// Path returns the lock file of key.
func (l *FileLocker) Path(key string) string {
	return filepath.Join(l.dir, "fxctl-"+key, ".fx.lock")
}

// TryLock implements Locker.
func (l *FileLocker) TryLock(_ context.Context, key string) (Lease, error) {
	path := l.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrAlreadyLocked
	}
	return fileLease{fl}, nil
}

type fileLease struct {
	fl *flock.Flock
}

func (f fileLease) Unlock(context.Context) error {
	return f.fl.Unlock()
}
