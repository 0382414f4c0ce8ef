package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrAccountLocked is returned when another process holds the account tree
var ErrAccountLocked = errors.New("account tree is locked by another run")

const lockRetryDelay = 500 * time.Millisecond

// LockAccount takes an exclusive file lock on the account directory. It
// waits until ctx is done for the lock to be released by its holder.
func (s *ArtifactStore) LockAccount(ctx context.Context, account string) (func() error, error) {
	dir := s.AccountDir(account)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create account directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrAccountLocked, account)
		}
		return nil, fmt.Errorf("failed to lock account %s: %w", account, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrAccountLocked, account)
	}

	return lock.Unlock, nil
}
