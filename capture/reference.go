// CLAUDE:SUMMARY Reference provider: renders fixtures in headless Chrome via Rod and writes PNG plus oracle dump.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/parity/capture/internal/browser"
)

// ReferenceConfig configures the reference renderer.
type ReferenceConfig struct {
	RemoteURL   string        // external Chrome DevTools URL; empty launches one
	Bin         string        // Chrome binary; empty lets the launcher decide
	Stealth     bool          // open pages through go-rod/stealth
	BlockRemote bool          // fail http(s) requests issued by fixtures
	Settle      time.Duration // extra wait after load and fonts
	Logger      *slog.Logger
}

// Reference renders fixtures in headless Chrome. It is safe for concurrent
// use; each capture gets its own tab.
type Reference struct {
	cfg ReferenceConfig
	mgr *browser.Manager
}

// NewReference creates a Reference. Call Start before the first capture.
func NewReference(cfg ReferenceConfig) *Reference {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reference{
		cfg: cfg,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:   cfg.RemoteURL,
			Bin:         cfg.Bin,
			Stealth:     cfg.Stealth,
			BlockRemote: cfg.BlockRemote,
			Logger:      cfg.Logger,
		}),
	}
}

// Start launches or connects to Chrome.
func (r *Reference) Start(ctx context.Context) error {
	return r.mgr.Start(ctx)
}

// Close shuts Chrome down.
func (r *Reference) Close() error {
	return r.mgr.Close()
}

// Capture renders req.HTMLPath and writes a PNG to req.OutputPath and,
// when requested, the oracle dump to req.OraclePath.
func (r *Reference) Capture(ctx context.Context, req Request) error {
	if req.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Budget)
		defer cancel()
	}

	tab, err := browser.OpenTab(ctx, r.mgr, req.HTMLPath, req.Width, req.Height)
	if err != nil {
		return fmt.Errorf("capture: reference %s: %w", req.CaseID, err)
	}
	defer tab.Close()

	if err := tab.Settle(ctx, r.cfg.Settle); err != nil {
		return fmt.Errorf("capture: reference %s: %w", req.CaseID, err)
	}

	png, err := tab.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("capture: reference %s: %w", req.CaseID, err)
	}

	if req.OraclePath != "" {
		dump, err := tab.Oracle(ctx)
		if err != nil {
			// The oracle is a triage hint; pixels are still valid without it.
			r.cfg.Logger.Warn("capture: oracle dump failed", "case", req.CaseID, "error", err)
		} else if err := writeFile(req.OraclePath, dump); err != nil {
			return err
		}
	}

	if err := writeFile(req.OutputPath, png); err != nil {
		return err
	}
	r.cfg.Logger.Debug("capture: reference done", "case", req.CaseID, "url", tab.PageURL)
	return nil
}
