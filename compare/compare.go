// CLAUDE:SUMMARY Tolerance-banded per-pixel diff with anti-aliasing-aware tolerated/true classification.
// Package compare implements the pixel comparator used by the parity gate.
//
// A pixel differs when its largest channel delta exceeds the AA tolerance.
// A differing pixel is tolerated (anti-aliasing noise) when the delta stays
// inside the AA band (tolerance < delta <= 3*tolerance) and the pixel sits on
// an edge in either frame: its neighbourhood has both a darker and a brighter
// pixel and at most two neighbours of equal luminance. Everything else is a
// true diff, and only true diffs gate.
//
// All thresholds are exact integer comparisons; floating point is used only
// for the reported percentage.
package compare

import (
	"fmt"

	"github.com/hazyhaar/parity/frame"
)

// BandFactor scales the AA tolerance into the upper bound of the AA band.
const BandFactor = 3

// Class is the per-pixel verdict.
type Class uint8

const (
	Match Class = iota
	Tolerated
	True
)

// Mask holds one Class per pixel, row-major.
type Mask struct {
	Width  int
	Height int
	Class  []Class
}

// Compare diffs current against golden.
func Compare(golden, current *frame.Frame, aaTolerance uint8) Result {
	r, _ := Classify(golden, current, aaTolerance)
	return r
}

// Classify is Compare plus the per-pixel mask consumed by the failure packet
// builder. The mask is nil unless the frames have the same size.
func Classify(golden, current *frame.Frame, aaTolerance uint8) (Result, *Mask) {
	res := Result{
		Dimensions: Dimensions{Width: current.Width, Height: current.Height},
	}
	if !golden.SameSize(current) {
		res.Status = StatusSizeMismatch
		res.GoldenDimensions = &Dimensions{Width: golden.Width, Height: golden.Height}
		res.Error = fmt.Sprintf("size mismatch: golden %dx%d, current %dx%d",
			golden.Width, golden.Height, current.Width, current.Height)
		return res, nil
	}

	tol := int(aaTolerance)
	band := tol * BandFactor
	n := golden.Len()
	mask := &Mask{Width: golden.Width, Height: golden.Height, Class: make([]Class, n)}

	for i := 0; i < n; i++ {
		d := maxDelta(golden, current, i)
		if d <= tol {
			continue
		}
		if d <= band && (onEdge(golden, i) || onEdge(current, i)) {
			mask.Class[i] = Tolerated
			res.ToleratedDiffPixels++
			continue
		}
		mask.Class[i] = True
		res.TrueDiffPixels++
	}

	res.TotalPixels = uint64(n)
	res.DiffPercent = Percent(res.TrueDiffPixels, res.TotalPixels)
	if res.TrueDiffPixels == 0 {
		res.Status = StatusPass
	} else {
		res.Status = StatusDiff
	}
	return res, mask
}

// Percent returns part/total*100, or 0 when total is 0. Multiplying first
// keeps whole percentages exact.
func Percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) * 100 / float64(total)
}

func maxDelta(a, b *frame.Frame, i int) int {
	ar, ag, ab := a.At(i)
	br, bg, bb := b.At(i)
	return max(absDiff(ar, br), absDiff(ag, bg), absDiff(ab, bb))
}

func absDiff(x, y uint8) int {
	if x > y {
		return int(x - y)
	}
	return int(y - x)
}

// luma is an integer Rec. 601 luminance scaled by 1000.
func luma(f *frame.Frame, i int) int {
	r, g, b := f.At(i)
	return 299*int(r) + 587*int(g) + 114*int(b)
}

// onEdge reports whether pixel i of f looks like an anti-aliased edge
// sample: at least one strictly darker and one strictly brighter neighbour,
// and no more than two neighbours of equal luminance.
func onEdge(f *frame.Frame, i int) bool {
	x, y := i%f.Width, i/f.Width
	c := luma(f, i)
	darker, brighter, equal := false, false, 0

	for dy := -1; dy <= 1; dy++ {
		ny := y + dy
		if ny < 0 || ny >= f.Height {
			continue
		}
		for dx := -1; dx <= 1; dx++ {
			nx := x + dx
			if (dx == 0 && dy == 0) || nx < 0 || nx >= f.Width {
				continue
			}
			l := luma(f, ny*f.Width+nx)
			switch {
			case l < c:
				darker = true
			case l > c:
				brighter = true
			default:
				equal++
				if equal > 2 {
					return false
				}
			}
		}
	}
	return darker && brighter
}
