package output

import (
	"errors"
	"image"
)

// ErrNotRunning is returned when a frame is presented to a stopped output.
var ErrNotRunning = errors.New("output not running")

// Output is a secondary sink for processed overlay frames. Present is called
// on the platform loop thread, so implementations must not block on I/O.
//
// Outputs satisfy effects.Presenter and are attached to a session through
// session.Deps.Presenters.
type Output interface {
	// Start initializes the output.
	Start() error

	// Stop shuts the output down and disconnects its clients.
	Stop() error

	// Present hands over one RGBA frame.
	Present(frame *image.RGBA) error

	// Name returns a short name for logs.
	Name() string

	// IsRunning reports whether the output is active.
	IsRunning() bool
}

// Config holds common output settings.
type Config struct {
	// Quality is the JPEG quality, 1..100.
	Quality int
	// MaxFPS caps how many frames per second are encoded. Zero means no cap.
	MaxFPS int
}

// DefaultQuality is used when Config.Quality is out of range.
const DefaultQuality = 80

func (c Config) quality() int {
	if c.Quality < 1 || c.Quality > 100 {
		return DefaultQuality
	}
	return c.Quality
}
