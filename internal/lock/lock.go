package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrTimeout is returned when the store lock could not be taken within the
// configured wait. Callers may retry the whole operation.
var ErrTimeout = errors.New("timed out waiting for availability lock")

// Locker guards a read-modify-write cycle on the availability store.
type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error) error
}

// FileLocker takes an advisory lock on a companion ".lock" file next to the
// data file, so separate processes sharing the file serialize their writes.
type FileLocker struct {
	path       string
	timeout    time.Duration
	retryDelay time.Duration
}

func NewFileLocker(dataPath string, timeout, retryDelay time.Duration) *FileLocker {
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	return &FileLocker{
		path:       dataPath + ".lock",
		timeout:    timeout,
		retryDelay: retryDelay,
	}
}

// Path returns the lock file location.
func (l *FileLocker) Path() string {
	return l.path
}

func (l *FileLocker) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	fl := flock.New(l.path)

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ok, err := fl.TryLockContext(waitCtx, l.retryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s after %s", ErrTimeout, l.path, l.timeout)
		}
		return fmt.Errorf("acquire file lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s after %s", ErrTimeout, l.path, l.timeout)
	}

	defer func() {
		_ = fl.Unlock()
	}()

	return fn(ctx)
}
