//go:build !linux && !windows

package platform

import "fmt"

func openNative() (Backend, error) {
	return nil, ErrUnsupported
}

func openNamed(name string) (Backend, error) {
	return nil, fmt.Errorf("%w: backend %q", ErrUnsupported, name)
}
