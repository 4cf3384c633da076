// CLAUDE:SUMMARY Capture-provider contract: request shape, provider interface and the atomic output helpers providers share.
// Package capture defines how the gate obtains pixels: a Provider renders one
// HTML fixture at a viewport and writes a pixel buffer to Request.OutputPath.
//
// Contract: on success the output file exists and is complete; on failure the
// provider returns an error and leaves no output file. A missing output after
// a nil error is reported as ErrNoOutput by Check.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoOutput is returned when a provider reported success but wrote nothing.
var ErrNoOutput = errors.New("capture: provider produced no output")

// Request is one capture.
type Request struct {
	CaseID   string
	HTMLPath string
	Width    int
	Height   int

	// Budget is the time the provider may spend. Zero means no budget beyond
	// the context.
	Budget time.Duration

	// OutputPath receives the pixel buffer.
	OutputPath string

	// OraclePath, when set, asks the provider to also write a layout/style
	// dump. Providers that cannot produce one ignore it.
	OraclePath string
}

// Provider renders one request.
type Provider interface {
	Capture(ctx context.Context, req Request) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) error

// Capture calls f.
func (f ProviderFunc) Capture(ctx context.Context, req Request) error { return f(ctx, req) }

// Check verifies that req.OutputPath exists after a successful capture.
func Check(req Request) error {
	st, err := os.Stat(req.OutputPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNoOutput, req.OutputPath)
	}
	if err != nil {
		return fmt.Errorf("capture: stat output: %w", err)
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrNoOutput, req.OutputPath)
	}
	return nil
}

// partialPath is where a provider writes before publishing to target.
func partialPath(target string) string {
	return target + ".partial"
}

// publish renames a finished partial file onto target.
func publish(target string) error {
	if err := os.Rename(partialPath(target), target); err != nil {
		os.Remove(partialPath(target))
		return fmt.Errorf("capture: publish %s: %w", filepath.Base(target), err)
	}
	return nil
}

// writeFile writes data through the partial path so target is either
// absent or complete.
func writeFile(target string, data []byte) error {
	if err := os.WriteFile(partialPath(target), data, 0o644); err != nil {
		os.Remove(partialPath(target))
		return fmt.Errorf("capture: write %s: %w", filepath.Base(target), err)
	}
	return publish(target)
}
