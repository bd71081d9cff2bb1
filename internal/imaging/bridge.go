package imaging

import (
	"fmt"
	"image"
	"sync/atomic"

	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

// Renderer consumes one wrapped frame.
type Renderer interface {
	Render(img image.Image) error
}

// Target resolves the live session's renderer and factory. ok is false when
// no session is live.
type Target func() (r Renderer, f Factory, ok bool)

// Stats counts bridge outcomes.
type Stats struct {
	Consumed uint64 `json:"consumed"`
	Rejected uint64 `json:"rejected"`
	Failed   uint64 `json:"failed"`
	Idle     uint64 `json:"idle"`
}

// Bridge adapts magnifier captures to the effect pipeline. Callback runs
// synchronously on the loop thread for every captured frame.
type Bridge struct {
	target Target

	consumed atomic.Uint64
	rejected atomic.Uint64
	failed   atomic.Uint64
	idle     atomic.Uint64
}

// NewBridge returns a bridge that renders into whatever target resolves to.
func NewBridge(target Target) *Bridge {
	return &Bridge{target: target}
}

// Callback is a platform.ScalingCallback. It never panics; every failure is
// logged and reported as not consumed.
func (b *Bridge) Callback(frame platform.CaptureFrame) (consumed bool) {
	log := logger.WithComponent("bridge")

	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			log.Error().
				Interface("panic", r).
				Uint32("width", frame.Width).
				Uint32("height", frame.Height).
				Msg("Frame render panicked")
			consumed = false
		}
	}()

	renderer, factory, ok := b.target()
	if !ok {
		b.idle.Add(1)
		return false
	}

	if err := CheckFrame(frame); err != nil {
		b.rejected.Add(1)
		log.Error().
			Err(err).
			Uint32("width", frame.Width).
			Uint32("height", frame.Height).
			Uint32("stride", frame.Stride).
			Uint64("byte_size", frame.ByteSize).
			Msg("Rejected capture frame")
		return false
	}

	bitmap, err := factory.CreateBitmapFromMemory(frame)
	if err != nil {
		b.failed.Add(1)
		log.Error().Err(err).Str("factory", factory.Name()).Msg("Failed to wrap capture frame")
		return false
	}
	defer bitmap.Release()

	if err := renderer.Render(bitmap); err != nil {
		b.failed.Add(1)
		log.Error().Err(err).Msg("Effect pipeline failed")
		return false
	}

	b.consumed.Add(1)
	log.Trace().Uint32("width", frame.Width).Uint32("height", frame.Height).Msg("Frame rendered")
	return true
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Consumed: b.consumed.Load(),
		Rejected: b.rejected.Load(),
		Failed:   b.failed.Load(),
		Idle:     b.idle.Load(),
	}
}

// CheckFrame verifies that frame carries exactly four bytes per pixel, using
// integer division of the byte size by width and height.
func CheckFrame(frame platform.CaptureFrame) error {
	if frame.Width == 0 || frame.Height == 0 {
		return fmt.Errorf("empty frame %dx%d", frame.Width, frame.Height)
	}
	if bpp := frame.ByteSize / uint64(frame.Width) / uint64(frame.Height); bpp != 4 {
		return fmt.Errorf("unsupported pixel size: %d bytes per pixel", bpp)
	}
	return nil
}
