package session

import (
	"errors"

	"github.com/bryanchriswhite/FocusMirror/internal/pump"
)

var (
	// ErrAlreadyActive is returned by Create while another session exists.
	ErrAlreadyActive = errors.New("an overlay session is already active")
	// ErrInvalidFrameRate is returned for rates outside 0 or [30, 120].
	ErrInvalidFrameRate = pump.ErrInvalidFrameRate
	// ErrInvalidSourceWindow is returned when the source is not an existing,
	// visible window with a non-empty client area.
	ErrInvalidSourceWindow = errors.New("invalid source window")
	// ErrNoSession is returned by operations that need a live session.
	ErrNoSession = errors.New("no active overlay session")
)
