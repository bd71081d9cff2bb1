//go:build !linux && !windows

package notify

import "errors"

func newNative() (Notifier, error) {
	return nil, errors.New("no desktop notification service on this platform")
}
