package fixture

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a relative fixture path escapes its base.
var ErrPathTraversal = errors.New("fixture: path escapes fixture base")

// Resolve joins a config-supplied HTML path onto base. Absolute paths are
// returned cleaned; relative ones must stay under base.
func Resolve(base, path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	joined := filepath.Join(base, path)
	rel, err := filepath.Rel(filepath.Clean(base), joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}
