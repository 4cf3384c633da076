package packet

import (
	"github.com/hazyhaar/parity/compare"
	"github.com/hazyhaar/parity/frame"
)

// Colours painted over the golden.
var (
	TrueColor      = [3]uint8{255, 0, 255} // magenta
	ToleratedColor = [3]uint8{255, 255, 0} // yellow
)

// Visualize paints true diffs magenta and tolerated diffs yellow over a copy
// of golden. Matching pixels keep the golden's colour.
func Visualize(golden *frame.Frame, mask *compare.Mask) *frame.Frame {
	out := golden.Clone()
	for i, c := range mask.Class {
		switch c {
		case compare.True:
			out.Set(i, TrueColor[0], TrueColor[1], TrueColor[2])
		case compare.Tolerated:
			out.Set(i, ToleratedColor[0], ToleratedColor[1], ToleratedColor[2])
		}
	}
	return out
}
