package oracle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse_ContentRectFallback(t *testing.T) {
	d, err := Parse([]byte(`{"elements":[
		{"selector":"#a","rect":{"x":1,"y":2,"width":3,"height":4}},
		{"selector":"#b","content_rect":{"x":5,"y":6,"width":7,"height":8}}
	]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Elements) != 2 {
		t.Fatalf("elements: got %d", len(d.Elements))
	}
	if d.Elements[1].Rect != (Rect{X: 5, Y: 6, Width: 7, Height: 8}) {
		t.Errorf("content_rect not used: %+v", d.Elements[1].Rect)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte(`{"elements":`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestDiff_Identical(t *testing.T) {
	d := dump(el("#a", 0, 0, 100, 20, "block"), el("#b", 0, 20, 100, 20, "block"))
	delta := Diff(d, d)
	if !delta.Empty() || delta.Matched != 2 || len(delta.Differences) != 0 {
		t.Fatalf("got %+v", delta)
	}
}

func TestDiff_Kinds(t *testing.T) {
	// WHAT: Moves within RectTolerance are ignored; larger moves, resizes,
	// style changes and missing selectors are each counted in their bucket.
	golden := dump(
		el("#moved", 10, 10, 100, 20, "block"),
		el("#nudged", 10, 10, 100, 20, "block"),
		el("#resized", 0, 0, 100, 20, "block"),
		el("#restyled", 0, 0, 100, 20, "block"),
		el("#gone", 0, 0, 1, 1, "block"),
	)
	current := dump(
		el("#moved", 10, 40, 100, 20, "block"),
		el("#nudged", 15, 5, 100, 20, "block"),
		el("#resized", 0, 0, 160, 20, "block"),
		el("#restyled", 0, 0, 100, 20, "flex"),
	)
	delta := Diff(golden, current)
	if delta.Positions != 1 || delta.Sizes != 1 || delta.Styles != 1 || delta.Missing != 1 {
		t.Errorf("buckets: %+v", delta)
	}
	if delta.Matched != 1 || delta.Mismatched != 4 {
		t.Errorf("matched=%d mismatched=%d, want 1/4", delta.Matched, delta.Mismatched)
	}
	// Selector order: #gone, #moved, #nudged, #resized, #restyled.
	first := delta.Differences[0]
	if first.Kind != KindMissing || first.Selector != "#gone" {
		t.Errorf("first difference: %+v", first)
	}
	second := delta.Differences[1]
	if second.Property != "y" || second.Golden != "10px" || second.Current != "40px" {
		t.Errorf("position difference: %+v", second)
	}
}

func TestDiff_Bounded(t *testing.T) {
	var g, c []Element
	for i := range 30 {
		sel := "#e" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		g = append(g, el(sel, 0, 0, 10, 10, "block"))
		c = append(c, el(sel, 0, 0, 10, 10, "inline"))
	}
	delta := Diff(dump(g...), dump(c...))
	if len(delta.Differences) != MaxDifferences {
		t.Errorf("differences: got %d, want %d", len(delta.Differences), MaxDifferences)
	}
	if delta.Styles != 30 {
		t.Errorf("styles counter must cover every selector: got %d", delta.Styles)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oracle.json")
	if err := os.WriteFile(path, []byte(`{"elements":[{"selector":"body","rect":{"width":800,"height":600}}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if d.Elements[0].Rect.Width != 800 {
		t.Errorf("got %+v", d.Elements[0])
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); !os.IsNotExist(err) {
		t.Errorf("missing file: got %v", err)
	}
}

func dump(els ...Element) *Dump { return &Dump{Elements: els} }

func el(sel string, x, y, w, h float64, display string) Element {
	return Element{
		Selector: sel,
		Rect:     Rect{X: x, Y: y, Width: w, Height: h},
		Styles:   map[string]string{"display": display},
	}
}
