// Package lock serializes lifecycle actions against one project, across
// processes.
package lock

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"path/filepath"
)

// ErrAlreadyLocked is returned by Locker.TryLock when another holder owns
// the lock. It is the only acquisition error that is retried.
var ErrAlreadyLocked = errors.New("lock is already held")

// Lease is a held lock.
type Lease interface {
	Unlock(ctx context.Context) error
}

// Locker acquires named locks without blocking.
type Locker interface {
	TryLock(ctx context.Context, key string) (Lease, error)
}

// Key derives the lock key of a project: the md5 of its absolute path.
func Key(projectPath string) (string, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(abs))
	return hex.EncodeToString(sum[:]), nil
}
