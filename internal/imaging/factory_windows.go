//go:build windows

package imaging

import (
	"fmt"
	"image"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"

	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

var (
	clsidWICImagingFactory    = ole.NewGUID("{cacaf262-9370-4615-a13b-9f5539da4c0a}")
	iidIWICImagingFactory     = ole.NewGUID("{ec5ec8a9-c395-4314-9c77-54d7a935ff70}")
	guidWICPixelFormat32PBGRA = ole.NewGUID("{6fddc324-4e03-4bfe-b185-3d77768dc910}")
	guidWICPixelFormat32PRGBA = ole.NewGUID("{3cc4a650-a527-4d37-a916-3142c7ebedba}")
)

// Vtable slots.
const (
	vtblCreateFormatConverter  = 10 // IWICImagingFactory
	vtblCreateBitmapFromMemory = 20 // IWICImagingFactory
	vtblCopyPixels             = 7  // IWICBitmapSource
	vtblConverterInitialize    = 8  // IWICFormatConverter
)

func vtable(unk *ole.IUnknown) *[32]uintptr {
	return (*[32]uintptr)(unsafe.Pointer(unk.RawVTable))
}

// WICFactory is a Windows Imaging Component factory. COM must be initialized
// on the calling thread.
type WICFactory struct {
	unk *ole.IUnknown
}

// NewFactory creates the WIC imaging factory.
func NewFactory() (Factory, error) {
	unk, err := ole.CreateInstance(clsidWICImagingFactory, iidIWICImagingFactory)
	if err != nil {
		return nil, fmt.Errorf("CoCreateInstance(WICImagingFactory): %w", err)
	}
	return &WICFactory{unk: unk}, nil
}

// Name returns "wic".
func (f *WICFactory) Name() string { return "wic" }

// CreateBitmapFromMemory creates a WIC bitmap from frame and pairs it with a
// BGRA view of the same buffer.
func (f *WICFactory) CreateBitmapFromMemory(frame platform.CaptureFrame) (Bitmap, error) {
	view, err := NewBGRA(frame.Pix, int(frame.Width), int(frame.Height), int(frame.Stride))
	if err != nil {
		return nil, err
	}

	var native *ole.IUnknown
	hr, _, _ := syscall.SyscallN(
		vtable(f.unk)[vtblCreateBitmapFromMemory],
		uintptr(unsafe.Pointer(f.unk)),
		uintptr(frame.Width),
		uintptr(frame.Height),
		uintptr(unsafe.Pointer(guidWICPixelFormat32PBGRA)),
		uintptr(frame.Stride),
		uintptr(len(frame.Pix)),
		uintptr(unsafe.Pointer(&frame.Pix[0])),
		uintptr(unsafe.Pointer(&native)),
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("CreateBitmapFromMemory: %w", ole.NewError(hr))
	}
	return &wicBitmap{BGRA: view, native: native, factory: f}, nil
}

func (f *WICFactory) formatConverter() (*ole.IUnknown, error) {
	var conv *ole.IUnknown
	hr, _, _ := syscall.SyscallN(
		vtable(f.unk)[vtblCreateFormatConverter],
		uintptr(unsafe.Pointer(f.unk)),
		uintptr(unsafe.Pointer(&conv)),
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("CreateFormatConverter: %w", ole.NewError(hr))
	}
	return conv, nil
}

// Close releases the factory.
func (f *WICFactory) Close() error {
	if f.unk != nil {
		f.unk.Release()
		f.unk = nil
	}
	return nil
}

type wicBitmap struct {
	*BGRA
	native  *ole.IUnknown
	factory *WICFactory
}

// ConvertRGBA has WIC convert the native bitmap to premultiplied RGBA and
// copy it straight into the returned image.
func (b *wicBitmap) ConvertRGBA() (*image.RGBA, error) {
	if b.native == nil {
		return nil, fmt.Errorf("wic: bitmap released")
	}
	conv, err := b.factory.formatConverter()
	if err != nil {
		return nil, err
	}
	defer conv.Release()

	// Initialize(source, format, WICBitmapDitherTypeNone, no palette, 0.0, WICBitmapPaletteTypeCustom)
	hr, _, _ := syscall.SyscallN(
		vtable(conv)[vtblConverterInitialize],
		uintptr(unsafe.Pointer(conv)),
		uintptr(unsafe.Pointer(b.native)),
		uintptr(unsafe.Pointer(guidWICPixelFormat32PRGBA)),
		0, 0, 0, 0,
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("IWICFormatConverter::Initialize: %w", ole.NewError(hr))
	}

	dst := image.NewRGBA(image.Rect(0, 0, b.Rect.Dx(), b.Rect.Dy()))
	hr, _, _ = syscall.SyscallN(
		vtable(conv)[vtblCopyPixels],
		uintptr(unsafe.Pointer(conv)),
		0,
		uintptr(dst.Stride),
		uintptr(len(dst.Pix)),
		uintptr(unsafe.Pointer(&dst.Pix[0])),
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("IWICBitmapSource::CopyPixels: %w", ole.NewError(hr))
	}
	return dst, nil
}

func (b *wicBitmap) View() *BGRA { return b.BGRA }

func (b *wicBitmap) Release() {
	if b.native != nil {
		b.native.Release()
		b.native = nil
	}
}
