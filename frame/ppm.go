package frame

import (
	"bytes"
	"fmt"
	"strconv"
)

// DecodePPM parses a binary P6 pixmap with maxval 255. Comment lines
// starting with '#' are allowed between header fields. The payload must be
// exactly width*height*3 bytes with nothing after it.
func DecodePPM(data []byte) (*Frame, error) {
	p := ppmParser{data: data}
	if len(data) < 2 || data[0] != 'P' || data[1] != '6' {
		return nil, fmt.Errorf("%w: missing P6 magic", ErrInvalidImage)
	}
	if len(data) < 3 || !(isSpace(data[2]) || data[2] == '#') {
		return nil, fmt.Errorf("%w: no separator after P6 magic", ErrInvalidImage)
	}
	p.pos = 2

	var fields [3]int
	names := [3]string{"width", "height", "maxval"}
	for i := range fields {
		if !p.skipSpaceAndComments() {
			return nil, fmt.Errorf("%w: truncated header before %s", ErrInvalidImage, names[i])
		}
		n, err := p.readUint()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidImage, names[i], err)
		}
		fields[i] = n
	}
	w, h, maxval := fields[0], fields[1], fields[2]
	if maxval != 255 {
		return nil, fmt.Errorf("%w: unsupported maxval %d", ErrInvalidImage, maxval)
	}
	if err := checkDims(w, h); err != nil {
		return nil, err
	}

	// Exactly one whitespace byte separates maxval from the raster.
	if p.pos >= len(data) || !isSpace(data[p.pos]) {
		return nil, fmt.Errorf("%w: missing separator after maxval", ErrInvalidImage)
	}
	p.pos++

	want := w * h * 3
	got := len(data) - p.pos
	switch {
	case got < want:
		return nil, fmt.Errorf("%w: truncated payload: %d of %d bytes", ErrInvalidImage, got, want)
	case got > want:
		return nil, fmt.Errorf("%w: %d trailing bytes after payload", ErrInvalidImage, got-want)
	}

	pix := make([]uint8, want)
	copy(pix, data[p.pos:])
	return &Frame{Width: w, Height: h, Pix: pix}, nil
}

// EncodePPM writes f as "P6\n<w> <h>\n255\n" followed by the raw payload.
func EncodePPM(f *Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(f.Pix) + 32)
	fmt.Fprintf(&buf, "P6\n%d %d\n255\n", f.Width, f.Height)
	buf.Write(f.Pix)
	return buf.Bytes(), nil
}

type ppmParser struct {
	data []byte
	pos  int
}

// skipSpaceAndComments advances past whitespace and '#' comment lines.
// It reports false when the input ends.
func (p *ppmParser) skipSpaceAndComments() bool {
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch {
		case isSpace(c):
			p.pos++
		case c == '#':
			nl := bytes.IndexByte(p.data[p.pos:], '\n')
			if nl < 0 {
				return false
			}
			p.pos += nl + 1
		default:
			return true
		}
	}
	return false
}

func (p *ppmParser) readUint() (int, error) {
	start := p.pos
	for p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected digits at offset %d", start)
	}
	if p.pos-start > 6 {
		return 0, fmt.Errorf("value too large at offset %d", start)
	}
	return strconv.Atoi(string(p.data[start:p.pos]))
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
