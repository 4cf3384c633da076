//go:build !unix

package golden

import (
	"errors"
	"fmt"
	"os"
)

// lockFile falls back to exclusive creation of the lock file.
func lockFile(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("golden: create lock: %w", err)
	}
	f.Close()
	return func() error { return os.Remove(path) }, nil
}
