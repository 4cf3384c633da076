// CLAUDE:SUMMARY Layout/style oracle dumps: parsing and the rect/style delta used as a triage signal.
// Package oracle reads the structured geometry/style dump a capture provider
// may emit next to its pixels and computes the delta between two dumps.
//
// An oracle is a triage hint only. Nothing here participates in a pass/diff
// decision.
package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// RectTolerance is the largest per-coordinate difference, in CSS pixels,
// still considered equal.
const RectTolerance = 5.0

// MaxDifferences bounds the differences kept in a Delta.
const MaxDifferences = 10

// StyleProps are the computed styles compared between dumps.
var StyleProps = []string{"display", "width", "height", "margin-top", "padding-top", "position"}

// Rect is an element's border box.
type Rect struct {
	Height float64 `json:"height"`
	Width  float64 `json:"width"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Element is one selector's geometry and computed styles.
type Element struct {
	Rect     Rect              `json:"rect"`
	Selector string            `json:"selector"`
	Styles   map[string]string `json:"styles,omitempty"`
}

// Dump is the document-level oracle.
type Dump struct {
	Elements []Element `json:"elements"`
}

// Parse decodes an oracle dump. Engines that only report a content box
// under "content_rect" are accepted.
func Parse(data []byte) (*Dump, error) {
	var raw struct {
		Elements []struct {
			Element
			ContentRect *Rect `json:"content_rect"`
		} `json:"elements"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("oracle: parse: %w", err)
	}
	d := &Dump{Elements: make([]Element, 0, len(raw.Elements))}
	for _, e := range raw.Elements {
		el := e.Element
		if el.Rect == (Rect{}) && e.ContentRect != nil {
			el.Rect = *e.ContentRect
		}
		d.Elements = append(d.Elements, el)
	}
	return d, nil
}

// Load reads and parses an oracle file.
func Load(path string) (*Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return d, nil
}

// Kind classifies one difference.
type Kind string

const (
	KindPosition Kind = "position" // x or y moved
	KindSize     Kind = "size"     // width or height changed
	KindStyle    Kind = "style"    // computed style differs
	KindMissing  Kind = "missing"  // selector absent from the current dump
)

// Difference is one mismatching property of one selector.
type Difference struct {
	Current  string `json:"current,omitempty"`
	Golden   string `json:"golden,omitempty"`
	Kind     Kind   `json:"kind"`
	Property string `json:"property,omitempty"`
	Selector string `json:"selector"`
}

// Delta summarises how the current dump departs from the golden one.
type Delta struct {
	Differences []Difference `json:"differences"`
	Matched     int          `json:"matched"`
	Mismatched  int          `json:"mismatched"`
	Missing     int          `json:"missing"`
	Positions   int          `json:"positions"`
	Sizes       int          `json:"sizes"`
	Styles      int          `json:"styles"`
}

// Empty reports whether the dumps agree.
func (d Delta) Empty() bool { return d.Mismatched == 0 }

// Diff compares current against golden selector by selector, in selector
// order. Counters cover every selector; Differences keeps the first
// MaxDifferences entries.
func Diff(golden, current *Dump) Delta {
	cur := make(map[string]Element, len(current.Elements))
	for _, e := range current.Elements {
		cur[e.Selector] = e
	}
	ref := append([]Element(nil), golden.Elements...)
	sort.SliceStable(ref, func(i, j int) bool { return ref[i].Selector < ref[j].Selector })

	d := Delta{Differences: []Difference{}}
	add := func(diff Difference) {
		if len(d.Differences) < MaxDifferences {
			d.Differences = append(d.Differences, diff)
		}
	}

	for _, g := range ref {
		c, ok := cur[g.Selector]
		if !ok {
			d.Mismatched++
			d.Missing++
			add(Difference{Kind: KindMissing, Selector: g.Selector})
			continue
		}

		before := d.Positions + d.Sizes + d.Styles
		for _, p := range []struct {
			name string
			kind Kind
			g, c float64
		}{
			{"x", KindPosition, g.Rect.X, c.Rect.X},
			{"y", KindPosition, g.Rect.Y, c.Rect.Y},
			{"width", KindSize, g.Rect.Width, c.Rect.Width},
			{"height", KindSize, g.Rect.Height, c.Rect.Height},
		} {
			if math.Abs(p.g-p.c) <= RectTolerance {
				continue
			}
			if p.kind == KindPosition {
				d.Positions++
			} else {
				d.Sizes++
			}
			add(Difference{
				Current:  formatPx(p.c),
				Golden:   formatPx(p.g),
				Kind:     p.kind,
				Property: p.name,
				Selector: g.Selector,
			})
		}
		for _, prop := range StyleProps {
			gv, cv := g.Styles[prop], c.Styles[prop]
			if gv == cv {
				continue
			}
			d.Styles++
			add(Difference{Current: cv, Golden: gv, Kind: KindStyle, Property: prop, Selector: g.Selector})
		}

		if d.Positions+d.Sizes+d.Styles > before {
			d.Mismatched++
		} else {
			d.Matched++
		}
	}
	return d
}

func formatPx(v float64) string {
	return fmt.Sprintf("%gpx", v)
}
