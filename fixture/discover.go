// CLAUDE:SUMMARY Discovers fixture cases from <root>/<case>/index.html, reading viewport and title from the document head.
package fixture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ViewportMeta is the <meta name> a fixture uses to declare its viewport,
// e.g. <meta name="parity-viewport" content="800x600">.
const ViewportMeta = "parity-viewport"

// MaxDiffMeta declares a per-case allowance, e.g. content="12.5".
const MaxDiffMeta = "parity-max-diff"

// Discover scans root for <case>/index.html pages and returns them as
// cases of the given suite, sorted by id. Directories whose name is not a
// valid id are skipped.
func Discover(root, suite string) ([]Case, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("fixture: discover %s: %w", root, err)
	}
	var out []Case
	for _, e := range entries {
		if !e.IsDir() || ValidateID(e.Name()) != nil {
			continue
		}
		page := filepath.Join(root, e.Name(), "index.html")
		c, err := ReadPage(page)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		c.ID = e.Name()
		c.Suite = suite
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReadPage extracts case metadata from the head of an HTML page. Missing
// metadata falls back to the default viewport.
func ReadPage(path string) (Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return Case{}, err
	}
	defer f.Close()

	c := Case{HTMLPath: path, Width: DefaultWidth, Height: DefaultHeight}
	if err := scanHead(f, &c); err != nil {
		return Case{}, fmt.Errorf("fixture: %s: %w", path, err)
	}
	return c, nil
}

func scanHead(r io.Reader, c *Case) error {
	z := html.NewTokenizer(r)
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return nil
			}
			return z.Err()
		case html.TextToken:
			if inTitle {
				c.Title += strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			tn, _ := z.TagName()
			switch atom.Lookup(tn) {
			case atom.Title:
				inTitle = false
			case atom.Head:
				return nil
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			switch atom.Lookup(tn) {
			case atom.Title:
				inTitle = true
			case atom.Body:
				return nil
			case atom.Meta:
				if hasAttr {
					if err := applyMeta(z, c); err != nil {
						return err
					}
				}
			}
		}
	}
}

func applyMeta(z *html.Tokenizer, c *Case) error {
	var name, content string
	for {
		k, v, more := z.TagAttr()
		switch string(k) {
		case "name":
			name = string(v)
		case "content":
			content = string(v)
		}
		if !more {
			break
		}
	}
	switch name {
	case ViewportMeta:
		w, h, err := ParseViewport(content)
		if err != nil {
			return err
		}
		c.Width, c.Height = w, h
	case MaxDiffMeta:
		v, err := strconv.ParseFloat(strings.TrimSpace(content), 64)
		if err != nil || v < 0 || v > 100 {
			return fmt.Errorf("invalid %s %q", MaxDiffMeta, content)
		}
		c.MaxDiffPercent = &v
	}
	return nil
}

// ParseViewport parses "WIDTHxHEIGHT".
func ParseViewport(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid viewport %q", s)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid viewport %q", s)
	}
	return w, h, nil
}
