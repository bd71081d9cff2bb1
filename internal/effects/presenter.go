package effects

import (
	"errors"
	"image"

	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

// Presenter receives every processed frame.
type Presenter interface {
	Present(img *image.RGBA) error
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(img *image.RGBA) error

// Present calls f.
func (f PresenterFunc) Present(img *image.RGBA) error { return f(img) }

// HostPresenter draws frames onto the host surface.
type HostPresenter struct {
	Backend platform.Backend
	Host    platform.Handle
}

// Present draws img onto the host window.
func (p HostPresenter) Present(img *image.RGBA) error {
	return p.Backend.Present(p.Host, img)
}

// Tee fans a frame out to several presenters. All presenters run even when
// one fails.
type Tee []Presenter

// Present forwards img to every presenter and joins their errors.
func (t Tee) Present(img *image.RGBA) error {
	var errs []error
	for _, p := range t {
		if p == nil {
			continue
		}
		if err := p.Present(img); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
