package fixture

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateID(t *testing.T) {
	good := []string{"new_tab", "card-grid", "v1.2", "A9"}
	for _, id := range good {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q): %v", id, err)
		}
	}
	bad := []string{"", ".", "..", "a/b", "../etc", "sp ace", "é"}
	for _, id := range bad {
		if err := ValidateID(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("ValidateID(%q): got %v, want ErrInvalidID", id, err)
		}
	}
}

func TestRegistry_SortedAndDefaults(t *testing.T) {
	r, err := NewRegistry(
		Case{ID: "zeta", HTMLPath: "z.html"},
		Case{ID: "alpha", HTMLPath: "a.html", Width: 800, Height: 600, Suite: "websuite"},
	)
	if err != nil {
		t.Fatal(err)
	}
	all := r.All()
	if len(all) != 2 || all[0].ID != "alpha" || all[1].ID != "zeta" {
		t.Fatalf("All: got %+v", all)
	}
	if all[1].Width != DefaultWidth || all[1].Height != DefaultHeight {
		t.Errorf("default viewport: got %dx%d", all[1].Width, all[1].Height)
	}
	if got := r.Suite("websuite"); len(got) != 1 || got[0].ID != "alpha" {
		t.Errorf("Suite: got %+v", got)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrUnknownCase) {
		t.Errorf("Get(missing): got %v", err)
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	_, err := NewRegistry(Case{ID: "a", HTMLPath: "x"}, Case{ID: "a", HTMLPath: "y"})
	if err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestDiscover(t *testing.T) {
	// WHAT: Each <case>/index.html becomes a case with its declared viewport.
	root := t.TempDir()
	writePage(t, root, "flex-positioning", `<!doctype html><html><head>
<title> Flex positioning </title>
<meta name="parity-viewport" content="800x1000">
<meta name="parity-max-diff" content="12.5">
</head><body><div>x</div></body></html>`)
	writePage(t, root, "card-grid", `<html><head><title>Cards</title></head><body></body></html>`)
	writePage(t, root, "bad id", `<html></html>`)
	if err := os.MkdirAll(filepath.Join(root, "empty-dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	cases, err := Discover(root, "websuite")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("got %d cases, want 2: %+v", len(cases), cases)
	}
	cg, fp := cases[0], cases[1]
	if cg.ID != "card-grid" || cg.Width != DefaultWidth || cg.Height != DefaultHeight || cg.Title != "Cards" {
		t.Errorf("card-grid: %+v", cg)
	}
	if fp.ID != "flex-positioning" || fp.Width != 800 || fp.Height != 1000 || fp.Title != "Flex positioning" {
		t.Errorf("flex-positioning: %+v", fp)
	}
	if fp.MaxDiffPercent == nil || *fp.MaxDiffPercent != 12.5 {
		t.Errorf("max diff: got %v", fp.MaxDiffPercent)
	}
	if fp.Suite != "websuite" {
		t.Errorf("suite: got %q", fp.Suite)
	}
}

func TestDiscover_BadViewport(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "broken", `<html><head><meta name="parity-viewport" content="wide"></head></html>`)
	if _, err := Discover(root, "websuite"); err == nil {
		t.Fatal("expected error for malformed viewport")
	}
}

func TestBuiltins_Valid(t *testing.T) {
	r, err := NewRegistry(Builtins("/repo")...)
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 5 {
		t.Fatalf("got %d builtins, want 5", r.Len())
	}
	c, _ := r.Get("chrome_rustkit")
	if c.Width != 1280 || c.Height != 100 {
		t.Errorf("chrome_rustkit viewport: %dx%d", c.Width, c.Height)
	}
}

func writePage(t *testing.T, root, id, body string) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolve(t *testing.T) {
	got, err := Resolve("/repo", "websuite/cases/a/index.html")
	if err != nil || got != "/repo/websuite/cases/a/index.html" {
		t.Errorf("relative: %q, %v", got, err)
	}
	if got, err := Resolve("/repo", "/abs/x.html"); err != nil || got != "/abs/x.html" {
		t.Errorf("absolute: %q, %v", got, err)
	}
	for _, bad := range []string{"../etc/passwd", "a/../../b.html"} {
		if _, err := Resolve("/repo", bad); !errors.Is(err, ErrPathTraversal) {
			t.Errorf("Resolve(%q): got %v, want ErrPathTraversal", bad, err)
		}
	}
	if got, err := Resolve(".", "a.html"); err != nil || got != "a.html" {
		t.Errorf("dot base: %q, %v", got, err)
	}
}
