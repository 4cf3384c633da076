package frame

import (
	"bytes"
	"fmt"
	"os"
)

// Format selects the decoder.
type Format int

const (
	// FormatPPM is the engine-under-test dump: binary P6, maxval 255.
	FormatPPM Format = iota
	// FormatRaster is the reference renderer output (PNG, WebP, BMP).
	FormatRaster
)

func (f Format) String() string {
	switch f {
	case FormatPPM:
		return "ppm"
	case FormatRaster:
		return "raster"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// Option customises decoding.
type Option func(*decodeOptions)

type decodeOptions struct {
	normalize bool
}

// WithNormalize accepts grey and paletted raster images by converting them
// to RGB instead of rejecting them.
func WithNormalize() Option { return func(o *decodeOptions) { o.normalize = true } }

// Decode parses data in the given format.
func Decode(data []byte, format Format, opts ...Option) (*Frame, error) {
	switch format {
	case FormatPPM:
		return DecodePPM(data)
	case FormatRaster:
		return DecodeRaster(data, opts...)
	}
	return nil, fmt.Errorf("%w: unknown format %v", ErrInvalidImage, format)
}

// DecodeFile reads and decodes path. Read failures are returned unwrapped
// from os so callers can tell a missing file from a malformed one.
func DecodeFile(path string, format Format, opts ...Option) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Decode(data, format, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Sniff guesses the format from the leading bytes.
func Sniff(data []byte) Format {
	if bytes.HasPrefix(data, []byte("P6")) {
		return FormatPPM
	}
	return FormatRaster
}
