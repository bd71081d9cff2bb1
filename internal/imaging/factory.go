package imaging

import (
	"image"
	"image/draw"

	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

// Bitmap is an image created by a Factory. Release must be called once the
// frame has been rendered.
type Bitmap interface {
	image.Image
	Release()
}

// Factory creates bitmaps from capture buffers. A factory is created once per
// session and closed during teardown.
type Factory interface {
	Name() string
	CreateBitmapFromMemory(frame platform.CaptureFrame) (Bitmap, error)
	Close() error
}

// MemoryFactory wraps frames in zero-copy BGRA views.
type MemoryFactory struct{}

// NewMemoryFactory returns a factory that needs no platform support.
func NewMemoryFactory() *MemoryFactory { return &MemoryFactory{} }

// Name returns "memory".
func (MemoryFactory) Name() string { return "memory" }

// CreateBitmapFromMemory wraps frame.Pix without copying.
func (MemoryFactory) CreateBitmapFromMemory(frame platform.CaptureFrame) (Bitmap, error) {
	view, err := NewBGRA(frame.Pix, int(frame.Width), int(frame.Height), int(frame.Stride))
	if err != nil {
		return nil, err
	}
	return memBitmap{view}, nil
}

// Close is a no-op.
func (MemoryFactory) Close() error { return nil }

type memBitmap struct{ *BGRA }

func (memBitmap) Release() {}

// AsBGRA returns the BGRA view behind a bitmap created by this package.
func AsBGRA(b image.Image) (*BGRA, bool) {
	switch v := b.(type) {
	case *BGRA:
		return v, true
	case memBitmap:
		return v.BGRA, true
	case interface{ View() *BGRA }:
		return v.View(), true
	}
	return nil, false
}

// RGBAConverter is implemented by bitmaps whose factory converts pixel
// formats natively.
type RGBAConverter interface {
	ConvertRGBA() (*image.RGBA, error)
}

// ToRGBA converts img into a new RGBA image, preferring the bitmap's own
// converter, then the BGRA view, then a generic draw.
func ToRGBA(img image.Image) (*image.RGBA, error) {
	if c, ok := img.(RGBAConverter); ok {
		return c.ConvertRGBA()
	}
	if v, ok := AsBGRA(img); ok {
		return v.ToRGBA(), nil
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst, nil
}

// FactoryFor returns the factory constructor matching a platform backend.
// Only the native Windows backend initializes COM, so every other backend
// gets the memory factory.
func FactoryFor(backend string) func() (Factory, error) {
	if backend == "win32" {
		return NewFactory
	}
	return func() (Factory, error) { return NewMemoryFactory(), nil }
}
