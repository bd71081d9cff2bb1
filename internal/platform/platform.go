// Package platform abstracts the windowing system the overlay runs on: window
// queries, the host surface, the magnifier capture control, timers, posted
// messages, the shell notification hook and the message loop that dispatches
// all of them on a single thread.
package platform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// Handle is an opaque window handle (HWND on Windows, XID on X11).
type Handle uintptr

// Rect is a rectangle in screen coordinates. Right and Bottom are exclusive.
type Rect struct {
	Left   int32 `json:"left"`
	Top    int32 `json:"top"`
	Right  int32 `json:"right"`
	Bottom int32 `json:"bottom"`
}

// Width returns the horizontal extent of r.
func (r Rect) Width() int32 { return r.Right - r.Left }

// Height returns the vertical extent of r.
func (r Rect) Height() int32 { return r.Bottom - r.Top }

// Size returns the dimensions of r.
func (r Rect) Size() Size { return Size{Width: r.Width(), Height: r.Height()} }

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.Left, r.Top, r.Right, r.Bottom)
}

// Size is a width/height pair.
type Size struct {
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// Message is a window message as delivered to a WindowProc.
type Message struct {
	Hwnd   Handle
	ID     uint32
	WParam uintptr
	LParam uintptr
}

// WindowProc handles a message for the host window class. When handled is
// false the backend passes the message to its default window procedure.
type WindowProc func(msg Message) (result uintptr, handled bool)

// CaptureFrame describes one frame handed over by the magnifier. Pix is only
// valid for the duration of the callback that received it.
type CaptureFrame struct {
	Pix      []byte
	Width    uint32
	Height   uint32
	Stride   uint32
	ByteSize uint64
}

// ScalingCallback receives every captured frame synchronously on the loop
// thread. The return value tells the magnifier whether the frame was consumed.
type ScalingCallback func(frame CaptureFrame) bool

// HostWindowOptions configures the full-screen host surface.
type HostWindowOptions struct {
	Size      Size
	NoDisturb bool
	Title     string
	// Source is the mirrored window. Backends that cannot keep the host out
	// of their own screen capture read this window directly.
	Source Handle
}

// WindowInfo describes a top-level window.
type WindowInfo struct {
	Handle  Handle `json:"handle"`
	Title   string `json:"title"`
	Class   string `json:"class"`
	PID     int    `json:"pid"`
	Rect    Rect   `json:"rect"`
	Visible bool   `json:"visible"`
}

// Window message identifiers shared by every backend. Backends that are not
// Windows use the same numbers so the session dispatcher stays uniform.
const (
	WMTimer uint32 = 0x0113
	WMUser  uint32 = 0x0400
	WMApp   uint32 = 0x8000
)

// Shell hook status codes (low byte of wParam).
const (
	ShellWindowCreated    = 1
	ShellWindowDestroyed  = 2
	ShellActivateShell    = 3
	ShellWindowActivated  = 4
	ShellGetMinRect       = 5
	ShellRedraw           = 6
	ShellTaskMan          = 7
	ShellLanguage         = 8
	ShellAccessibility    = 11
	ShellAppCommand       = 12
	ShellWindowReplaced   = 13
	ShellWindowReplacing  = 14
	ShellRudeAppActivated = 0x8004
)

var (
	// ErrUnsupported is returned when no backend exists for the current OS.
	ErrUnsupported = errors.New("platform: no backend for this operating system")
	// ErrNoWindow is returned for handles that do not name a live window.
	ErrNoWindow = errors.New("platform: no such window")
	// ErrLoopNotRunning is returned by Invoke when nothing will ever drain it.
	ErrLoopNotRunning = errors.New("platform: message loop not running")
)

// Backend is the windowing system surface the overlay session drives. Every
// method except Invoke must be called from the goroutine running RunLoop (or,
// before RunLoop starts, from the goroutine that will run it).
type Backend interface {
	// Name returns the backend name (e.g. "win32", "x11", "sim").
	Name() string

	// InitRuntime prepares the per-thread runtime (COM on Windows).
	InitRuntime() error
	// UninitRuntime releases what InitRuntime acquired.
	UninitRuntime()

	// IsWindowVisible reports whether h names an existing, visible window.
	IsWindowVisible(h Handle) bool
	// ClientScreenRect returns the client area of h in screen coordinates.
	ClientScreenRect(h Handle) (Rect, error)
	// ScreenSize returns the size of the screen h is displayed on.
	ScreenSize(h Handle) (Size, error)
	// ForegroundWindow returns the window that currently has focus.
	ForegroundWindow() (Handle, error)
	// ListWindows returns the visible top-level windows.
	ListWindows() ([]WindowInfo, error)

	// RegisterHostClass registers the host window class. Registering twice is
	// not an error.
	RegisterHostClass(proc WindowProc) error
	// UnregisterHostClass removes the host window class.
	UnregisterHostClass() error

	// InitMagnification initializes the process-wide magnification runtime.
	InitMagnification() error
	// UninitMagnification releases the magnification runtime.
	UninitMagnification() error

	// CreateHostWindow creates the layered, click-through, full-screen host.
	CreateHostWindow(opts HostWindowOptions) (Handle, error)
	// DestroyWindow destroys a window created by this backend.
	DestroyWindow(h Handle) error
	// CreateMagnifier creates the magnifier control as a child of host and
	// attaches cb as its image scaling callback.
	CreateMagnifier(host Handle, size Size, cb ScalingCallback) (Handle, error)
	// ShowWindow makes h visible.
	ShowWindow(h Handle) error
	// SetMagnifierSource asks the magnifier to capture src. The capture is
	// delivered synchronously through the scaling callback.
	SetMagnifierSource(mag Handle, src Rect) error

	// SetTimer installs a recurring WMTimer message for h.
	SetTimer(h Handle, id uintptr, interval time.Duration) error
	// KillTimer removes a timer installed with SetTimer.
	KillTimer(h Handle, id uintptr) error
	// PostMessage queues msg for h.
	PostMessage(h Handle, msg uint32, wParam, lParam uintptr) error

	// RegisterShellHook subscribes h to shell notifications and returns the
	// registered message id they arrive with.
	RegisterShellHook(h Handle) (uint32, error)
	// DeregisterShellHook undoes RegisterShellHook.
	DeregisterShellHook(h Handle) error

	// Present draws img onto the host surface.
	Present(h Handle, img *image.RGBA) error

	// RunLoop pumps messages until ctx is done.
	RunLoop(ctx context.Context) error
	// Invoke runs fn on the loop goroutine and waits for it to return. It is
	// safe to call from any goroutine.
	Invoke(fn func()) error

	// Close releases backend-wide resources (display connections etc.).
	Close() error
}

// Open returns the backend with the given name. "auto" or "" selects the
// native backend for the running OS.
func Open(name string) (Backend, error) {
	switch name {
	case "", "auto":
		return openNative()
	case "sim":
		return NewSim(SimOptions{}), nil
	default:
		return openNamed(name)
	}
}

// FrameFromImage builds a CaptureFrame over a BGRA buffer laid out like
// img's Pix. It is used by backends whose capture path yields Go images.
func FrameFromImage(pix []byte, width, height, stride int) CaptureFrame {
	return CaptureFrame{
		Pix:      pix,
		Width:    uint32(width),
		Height:   uint32(height),
		Stride:   uint32(stride),
		ByteSize: uint64(len(pix)),
	}
}
