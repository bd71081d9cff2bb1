//go:build linux

package platform

import "fmt"

func openNative() (Backend, error) {
	return NewX11()
}

func openNamed(name string) (Backend, error) {
	switch name {
	case "x11":
		return NewX11()
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrUnsupported, name)
	}
}
