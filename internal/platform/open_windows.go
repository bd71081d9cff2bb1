//go:build windows

package platform

import "fmt"

func openNative() (Backend, error) {
	return NewWin32()
}

func openNamed(name string) (Backend, error) {
	switch name {
	case "win32":
		return NewWin32()
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrUnsupported, name)
	}
}
