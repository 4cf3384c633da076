// CLAUDE:SUMMARY Canonical in-memory RGB frame shared by the codec, comparator, golden store and packet builder.
// Package frame holds the canonical RGB pixel buffer and the codecs for the
// two on-disk formats: binary PPM (engine under test) and compressed raster
// images (reference renderer).
package frame

import (
	"errors"
	"fmt"
)

// MaxDimension bounds width and height. Larger headers are rejected as
// invalid rather than allocating an absurd buffer.
const MaxDimension = 1 << 15

// ErrInvalidImage is returned for any malformed, truncated or unsupported
// pixel buffer. A decoder never returns a partially filled Frame.
var ErrInvalidImage = errors.New("frame: invalid image")

// Frame is a width*height RGB image, 3 bytes per pixel, row-major.
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

// New allocates a black frame.
func New(width, height int) (*Frame, error) {
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	return &Frame{Width: width, Height: height, Pix: make([]uint8, width*height*3)}, nil
}

// FromPixels builds a frame from (r,g,b) triples. It is mostly useful in tests.
func FromPixels(width, height int, px [][3]uint8) (*Frame, error) {
	f, err := New(width, height)
	if err != nil {
		return nil, err
	}
	if len(px) != width*height {
		return nil, fmt.Errorf("%w: %d pixels for %dx%d", ErrInvalidImage, len(px), width, height)
	}
	for i, p := range px {
		f.Set(i, p[0], p[1], p[2])
	}
	return f, nil
}

// Len returns the number of pixels.
func (f *Frame) Len() int { return f.Width * f.Height }

// At returns the channels of pixel i.
func (f *Frame) At(i int) (r, g, b uint8) {
	o := i * 3
	return f.Pix[o], f.Pix[o+1], f.Pix[o+2]
}

// Set writes the channels of pixel i.
func (f *Frame) Set(i int, r, g, b uint8) {
	o := i * 3
	f.Pix[o], f.Pix[o+1], f.Pix[o+2] = r, g, b
}

// SameSize reports whether f and o have identical dimensions.
func (f *Frame) SameSize(o *Frame) bool {
	return f.Width == o.Width && f.Height == o.Height
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Width: f.Width, Height: f.Height, Pix: pix}
}

// Validate checks the pixels.length == width*height invariant.
func (f *Frame) Validate() error {
	if err := checkDims(f.Width, f.Height); err != nil {
		return err
	}
	if len(f.Pix) != f.Width*f.Height*3 {
		return fmt.Errorf("%w: %d payload bytes for %dx%d", ErrInvalidImage, len(f.Pix), f.Width, f.Height)
	}
	return nil
}

func checkDims(w, h int) error {
	if w <= 0 || h <= 0 || w > MaxDimension || h > MaxDimension {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidImage, w, h)
	}
	return nil
}
