package golden

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/parity/fixture"
)

// ErrLocked is returned by TryLock when another writer holds the case lock.
var ErrLocked = errors.New("golden: case is locked by another writer")

const lockName = ".lock"

// Lock acquires the writer lock of caseID, waiting until ctx is done.
// The returned function releases it.
func (s *Store) Lock(ctx context.Context, caseID string) (func() error, error) {
	for delay := 10 * time.Millisecond; ; delay = min(delay*2, 500*time.Millisecond) {
		unlock, err := s.TryLock(caseID)
		if !errors.Is(err, ErrLocked) {
			return unlock, err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("golden: lock %s: %w", caseID, ctx.Err())
		case <-t.C:
		}
	}
}

// TryLock acquires the writer lock of caseID or fails with ErrLocked.
func (s *Store) TryLock(caseID string) (func() error, error) {
	if err := fixture.ValidateID(caseID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, caseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("golden: mkdir %s: %w", dir, err)
	}
	return lockFile(filepath.Join(dir, lockName))
}
