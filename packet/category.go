package packet

import (
	"fmt"

	"github.com/hazyhaar/parity/compare"
	"github.com/hazyhaar/parity/frame"
	"github.com/hazyhaar/parity/oracle"
)

// A true-diff region at least this large (pixels, and share of the frame)
// reads as displaced content rather than recolouring.
const (
	LayoutMinPixels  = 64
	LayoutMinPercent = 0.5
)

// Categorize picks a triage category. Signals are tried strongest first:
// a blank current frame, the oracle delta, then the shape of the true-diff
// pixels. delta may be nil.
func Categorize(golden, current *frame.Frame, mask *compare.Mask, delta *oracle.Delta) (Category, string) {
	if blank(current) && !blank(golden) {
		return CategoryMissing, "current frame is a single flat colour"
	}

	if delta != nil && !delta.Empty() {
		switch {
		case delta.Missing > 0:
			return CategoryMissing, fmt.Sprintf("%d element(s) absent from the current layout", delta.Missing)
		case delta.Positions > 0:
			return CategoryLayout, fmt.Sprintf("%d element position(s) moved beyond %gpx", delta.Positions, oracle.RectTolerance)
		case delta.Sizes > 0:
			return CategorySize, fmt.Sprintf("%d element size(s) changed beyond %gpx", delta.Sizes, oracle.RectTolerance)
		}
	}

	s := shape(golden, current, mask)
	if s.truePixels == 0 {
		return CategoryUnknown, "no true-diff pixels"
	}
	total := len(mask.Class)
	if s.largest >= LayoutMinPixels && compare.Percent(uint64(s.largest), uint64(total)) >= LayoutMinPercent {
		return CategoryLayout, fmt.Sprintf("contiguous true-diff region of %d pixels", s.largest)
	}
	if s.singleChannel*2 >= s.truePixels {
		return CategoryColor, fmt.Sprintf("%d of %d true-diff pixels differ in a single channel", s.singleChannel, s.truePixels)
	}
	if s.components > 1 {
		return CategoryColor, fmt.Sprintf("true diffs scattered over %d small regions", s.components)
	}
	return CategoryUnknown, "single small multi-channel region"
}

type diffShape struct {
	truePixels    int
	components    int
	largest       int
	singleChannel int
}

// shape measures the 4-connected components of true-diff pixels and how
// many of them differ in exactly one channel.
func shape(golden, current *frame.Frame, mask *compare.Mask) diffShape {
	var s diffShape
	seen := make([]bool, len(mask.Class))
	var stack []int

	for i, c := range mask.Class {
		if c != compare.True {
			continue
		}
		s.truePixels++
		if channelsChanged(golden, current, i) == 1 {
			s.singleChannel++
		}
		if seen[i] {
			continue
		}

		s.components++
		size := 0
		seen[i] = true
		stack = append(stack[:0], i)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++
			x, y := p%mask.Width, p/mask.Width
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[0] >= mask.Width || n[1] < 0 || n[1] >= mask.Height {
					continue
				}
				j := n[1]*mask.Width + n[0]
				if !seen[j] && mask.Class[j] == compare.True {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
		s.largest = max(s.largest, size)
	}
	return s
}

func channelsChanged(a, b *frame.Frame, i int) int {
	ar, ag, ab := a.At(i)
	br, bg, bb := b.At(i)
	n := 0
	for _, d := range [3]bool{ar != br, ag != bg, ab != bb} {
		if d {
			n++
		}
	}
	return n
}

func blank(f *frame.Frame) bool {
	if f.Len() == 0 {
		return true
	}
	r0, g0, b0 := f.At(0)
	for i := 1; i < f.Len(); i++ {
		r, g, b := f.At(i)
		if r != r0 || g != g0 || b != b0 {
			return false
		}
	}
	return true
}
