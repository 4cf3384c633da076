package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	xdraw "golang.org/x/image/draw"

	// Reference renderers occasionally hand back WebP or BMP instead of PNG.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DecodeRaster decodes a compressed reference image (PNG, WebP or BMP).
// Grey and paletted images are rejected with ErrInvalidImage unless
// WithNormalize is given, in which case they are converted to RGB first.
// Alpha is premultiplied, which is a no-op for the opaque screenshots the
// reference renderer produces.
func DecodeRaster(data []byte, opts ...Option) (*Frame, error) {
	o := decodeOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	cfg, kind, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := checkDims(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if !isRGBModel(cfg.ColorModel) && !o.normalize {
		return nil, fmt.Errorf("%w: %s image is not RGB", ErrInvalidImage, kind)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return fromImage(img), nil
}

// EncodePNG writes f as an opaque 8-bit PNG. The encoding is lossless, so
// decoding the result reproduces every channel exactly.
func EncodePNG(f *Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	img := ToImage(f)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("frame: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ToImage converts f into an opaque *image.NRGBA.
func ToImage(f *Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, n := 0, f.Len(); i < n; i++ {
		o := i * 4
		r, g, b := f.At(i)
		img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = r, g, b, 0xff
	}
	return img
}

func fromImage(img image.Image) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) || rgba.Stride != w*4 {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	}

	f := &Frame{Width: w, Height: h, Pix: make([]uint8, w*h*3)}
	for i, n := 0, w*h; i < n; i++ {
		o := i * 4
		f.Set(i, rgba.Pix[o], rgba.Pix[o+1], rgba.Pix[o+2])
	}
	return f
}

func isRGBModel(m color.Model) bool {
	// color.Palette is a slice; comparing it with == would panic.
	if _, ok := m.(color.Palette); ok {
		return false
	}
	switch m {
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model,
		color.YCbCrModel, color.NYCbCrAModel:
		return true
	}
	return false
}
