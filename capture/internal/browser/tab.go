package browser

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps a Rod page sized to a fixed viewport and loaded with a local
// fixture.
type Tab struct {
	Page    *rod.Page
	PageURL string
	Width   int
	Height  int
	unblock func()
}

// OpenTab creates a tab at width x height, navigates to the local HTML
// file and waits for load. A dead browser is relaunched once.
func OpenTab(ctx context.Context, mgr *Manager, htmlPath string, width, height int) (*Tab, error) {
	stale := mgr.Browser()
	page, err := mgr.newPage(stale)
	if err != nil {
		if rerr := mgr.RecycleIf(ctx, stale); rerr != nil {
			return nil, fmt.Errorf("browser: create tab: %w (recycle: %v)", err, rerr)
		}
		if page, err = mgr.newPage(mgr.Browser()); err != nil {
			return nil, fmt.Errorf("browser: create tab: %w", err)
		}
	}

	t := &Tab{Page: page, Width: width, Height: height}
	if mgr.cfg.BlockRemote {
		t.unblock = blockRemote(page)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	pageURL, err := fileURL(htmlPath)
	if err != nil {
		t.Close()
		return nil, err
	}
	t.PageURL = pageURL

	// Navigate with timeout.
	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

func (m *Manager) newPage(b *rod.Browser) (*rod.Page, error) {
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	if m.cfg.Stealth {
		return stealth.Page(b)
	}
	return b.Page(proto.TargetCreateTarget{URL: ""})
}

// Settle waits for web fonts and then for d, so late layout settles before
// the screenshot.
func (t *Tab) Settle(ctx context.Context, d time.Duration) error {
	if _, err := t.Page.Context(ctx).Eval(`() => document.fonts ? document.fonts.ready.then(() => true) : true`); err != nil {
		return fmt.Errorf("browser: wait fonts: %w", err)
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Screenshot captures the viewport as PNG.
func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := t.Page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

// Oracle serialises the geometry and key computed styles of every element.
func (t *Tab) Oracle(ctx context.Context) ([]byte, error) {
	res, err := t.Page.Context(ctx).Eval(oracleScript)
	if err != nil {
		return nil, fmt.Errorf("browser: oracle: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.unblock != nil {
		t.unblock()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

func fileURL(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("browser: resolve %s: %w", path, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// oracleScript returns JSON so the result crosses CDP as one string.
// Selectors are tag + id, or tag:nth-of-type chains when there is no id.
const oracleScript = `() => {
	const props = ["display", "width", "height", "margin-top", "padding-top", "position"];
	const selectorOf = (el) => {
		if (el.id) return "#" + el.id;
		const parts = [];
		for (let n = el; n && n.nodeType === 1; n = n.parentElement) {
			if (n.id) { parts.unshift("#" + n.id); break; }
			let i = 1;
			for (let s = n.previousElementSibling; s; s = s.previousElementSibling) {
				if (s.tagName === n.tagName) i++;
			}
			parts.unshift(n.tagName.toLowerCase() + ":nth-of-type(" + i + ")");
		}
		return parts.join(" > ");
	};
	const elements = [];
	for (const el of document.querySelectorAll("body, body *")) {
		const r = el.getBoundingClientRect();
		const cs = getComputedStyle(el);
		const styles = {};
		for (const p of props) styles[p] = cs.getPropertyValue(p);
		elements.push({
			selector: selectorOf(el),
			rect: {x: r.x, y: r.y, width: r.width, height: r.height},
			styles: styles,
		});
	}
	return JSON.stringify({elements: elements});
}`
