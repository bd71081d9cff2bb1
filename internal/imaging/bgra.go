// Package imaging turns raw capture buffers into images the effect pipeline
// can consume.
package imaging

import (
	"fmt"
	"image"
	"image/color"
)

// BGRA is an image.Image over a premultiplied BGRA buffer. It does not copy
// Pix, so it is only valid as long as the buffer is.
type BGRA struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// NewBGRA wraps pix. It fails when the buffer cannot hold width x height
// pixels at the given stride.
func NewBGRA(pix []byte, width, height, stride int) (*BGRA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if stride < width*4 {
		return nil, fmt.Errorf("stride %d shorter than row of %d pixels", stride, width)
	}
	if need := stride*(height-1) + width*4; len(pix) < need {
		return nil, fmt.Errorf("buffer holds %d bytes, need %d", len(pix), need)
	}
	return &BGRA{Pix: pix, Stride: stride, Rect: image.Rect(0, 0, width, height)}, nil
}

// ColorModel returns color.RGBAModel; the samples are premultiplied.
func (p *BGRA) ColorModel() color.Model { return color.RGBAModel }

// Bounds returns the image rectangle.
func (p *BGRA) Bounds() image.Rectangle { return p.Rect }

// At returns the pixel at (x, y).
func (p *BGRA) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	return color.RGBA{R: p.Pix[i+2], G: p.Pix[i+1], B: p.Pix[i], A: p.Pix[i+3]}
}

// PixOffset returns the index of the first byte of (x, y).
func (p *BGRA) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

// ToRGBA copies the view into a new RGBA image, swapping channels.
func (p *BGRA) ToRGBA() *image.RGBA {
	w, h := p.Rect.Dx(), p.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := p.Pix[y*p.Stride : y*p.Stride+w*4]
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for i := 0; i < len(src); i += 4 {
			row[i] = src[i+2]
			row[i+1] = src[i+1]
			row[i+2] = src[i]
			row[i+3] = src[i+3]
		}
	}
	return dst
}
