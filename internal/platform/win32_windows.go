//go:build windows

package platform

import (
	"context"
	"fmt"
	"image"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/lxn/win"
	"golang.org/x/sys/windows"

	"github.com/bryanchriswhite/FocusMirror/internal/logger"
)

// HostClassName is the window class registered for the host surface.
const HostClassName = "Window_FocusMirror_967EB565-6F73-4E94-AE53-00CC42592A22"

const (
	lwaAlpha            = 0x2
	msShowMagnifiedCur  = 0x1
	mwFilterModeExclude = 0
	wmQuit              = 0x0012
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")
	magDLL = windows.NewLazySystemDLL("Magnification.dll")

	procSetLayeredWindowAttributes = user32.NewProc("SetLayeredWindowAttributes")
	procEnumWindows                = user32.NewProc("EnumWindows")
	procGetWindowTextW             = user32.NewProc("GetWindowTextW")
	procGetClassNameW              = user32.NewProc("GetClassNameW")
	procPostThreadMessageW         = user32.NewProc("PostThreadMessageW")
	procRegisterShellHookWindow    = user32.NewProc("RegisterShellHookWindow")
	procDeregisterShellHookWindow  = user32.NewProc("DeregisterShellHookWindow")
	procRegisterWindowMessageW     = user32.NewProc("RegisterWindowMessageW")
	procStretchDIBits              = gdi32.NewProc("StretchDIBits")

	procMagInitialize              = magDLL.NewProc("MagInitialize")
	procMagUninitialize            = magDLL.NewProc("MagUninitialize")
	procMagSetImageScalingCallback = magDLL.NewProc("MagSetImageScalingCallback")
	procMagSetWindowSource         = magDLL.NewProc("MagSetWindowSource")
	procMagSetWindowFilterList     = magDLL.NewProc("MagSetWindowFilterList")
)

// magImageHeader mirrors MAGIMAGEHEADER.
type magImageHeader struct {
	Width  uint32
	Height uint32
	Format windows.GUID
	Stride uint32
	Offset uint32
	CbSize uintptr
}

// Callbacks created with syscall.NewCallback are never freed, so the window
// procedure, the magnifier callback and the EnumWindows callback are created
// once per process and routed through win32Active.
var (
	win32Once     sync.Once
	win32Active   *Win32
	wndProcPtr    uintptr
	magCallbackFn uintptr
	enumProcPtr   uintptr
	enumMu        sync.Mutex
	enumSink      func(win.HWND)
)

// Win32 implements Backend with user32, gdi32 and the Magnification API.
//
// The image scaling callback receives MAGIMAGEHEADER and RECT by value; on
// amd64 and arm64 those arrive as pointers, which is the only layout this
// backend decodes.
type Win32 struct {
	mu        sync.Mutex
	instance  win.HINSTANCE
	className *uint16
	proc      WindowProc
	class     bool
	mags      map[win.HWND]ScalingCallback
	shellMsg  uint32
	threadID  uint32
	running   bool
	pending   []*invocation
	pendingMu sync.Mutex
	accepting bool
}

// NewWin32 returns the Windows backend. Only one may be live per process.
func NewWin32() (*Win32, error) {
	if err := magDLL.Load(); err != nil {
		return nil, fmt.Errorf("failed to load Magnification.dll: %w", err)
	}
	b := &Win32{
		instance:  win.GetModuleHandle(nil),
		className: syscall.StringToUTF16Ptr(HostClassName),
		mags:      make(map[win.HWND]ScalingCallback),
	}
	win32Once.Do(func() {
		wndProcPtr = syscall.NewCallback(win32WndProc)
		magCallbackFn = syscall.NewCallback(win32MagCallback)
		enumProcPtr = syscall.NewCallback(win32EnumProc)
	})
	win32Active = b
	return b, nil
}

// Name returns the backend name.
func (b *Win32) Name() string { return "win32" }

// InitRuntime initializes COM for the calling thread.
func (b *Win32) InitRuntime() error {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// S_FALSE: already initialized on this thread, still needs balancing.
		if oleErr, ok := err.(*ole.OleError); ok && oleErr.Code() == 1 {
			return nil
		}
		return err
	}
	return nil
}

// UninitRuntime balances InitRuntime.
func (b *Win32) UninitRuntime() {
	ole.CoUninitialize()
}

// IsWindowVisible reports whether h is a visible window.
func (b *Win32) IsWindowVisible(h Handle) bool {
	hwnd := win.HWND(h)
	return h != 0 && win.IsWindow(hwnd) && win.IsWindowVisible(hwnd)
}

// ClientScreenRect returns the client area of h in screen coordinates.
func (b *Win32) ClientScreenRect(h Handle) (Rect, error) {
	hwnd := win.HWND(h)
	var rc win.RECT
	if !win.GetClientRect(hwnd, &rc) {
		return Rect{}, fmt.Errorf("GetClientRect failed: %w", windows.GetLastError())
	}
	pt := win.POINT{X: rc.Left, Y: rc.Top}
	if !win.ClientToScreen(hwnd, &pt) {
		return Rect{}, fmt.Errorf("ClientToScreen failed: %w", windows.GetLastError())
	}
	return Rect{
		Left:   pt.X,
		Top:    pt.Y,
		Right:  pt.X + (rc.Right - rc.Left),
		Bottom: pt.Y + (rc.Bottom - rc.Top),
	}, nil
}

// ScreenSize returns the primary screen size.
func (b *Win32) ScreenSize(Handle) (Size, error) {
	w := win.GetSystemMetrics(win.SM_CXSCREEN)
	h := win.GetSystemMetrics(win.SM_CYSCREEN)
	if w <= 0 || h <= 0 {
		return Size{}, fmt.Errorf("GetSystemMetrics returned %dx%d", w, h)
	}
	return Size{Width: w, Height: h}, nil
}

// ForegroundWindow returns the window with keyboard focus.
func (b *Win32) ForegroundWindow() (Handle, error) {
	hwnd := win.GetForegroundWindow()
	if hwnd == 0 {
		return 0, ErrNoWindow
	}
	return Handle(hwnd), nil
}

// ListWindows enumerates visible, titled top-level windows.
func (b *Win32) ListWindows() ([]WindowInfo, error) {
	var handles []win.HWND

	enumMu.Lock()
	enumSink = func(hwnd win.HWND) { handles = append(handles, hwnd) }
	procEnumWindows.Call(enumProcPtr, 0)
	enumSink = nil
	enumMu.Unlock()

	out := make([]WindowInfo, 0, len(handles))
	for _, hwnd := range handles {
		if !win.IsWindowVisible(hwnd) {
			continue
		}
		title := windowText(procGetWindowTextW, hwnd)
		if title == "" {
			continue
		}
		class := windowText(procGetClassNameW, hwnd)
		if class == HostClassName {
			continue
		}
		var pid uint32
		win.GetWindowThreadProcessId(hwnd, &pid)
		info := WindowInfo{
			Handle:  Handle(hwnd),
			Title:   title,
			Class:   class,
			PID:     int(pid),
			Visible: true,
		}
		if r, err := b.ClientScreenRect(Handle(hwnd)); err == nil {
			info.Rect = r
		}
		out = append(out, info)
	}
	return out, nil
}

func windowText(proc *windows.LazyProc, hwnd win.HWND) string {
	buf := make([]uint16, 256)
	n, _, _ := proc.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return syscall.UTF16ToString(buf[:n])
}

func win32EnumProc(hwnd win.HWND, _ uintptr) uintptr {
	if enumSink != nil {
		enumSink(hwnd)
	}
	return 1
}

// RegisterHostClass registers the host window class. ERROR_CLASS_ALREADY_EXISTS
// counts as success.
func (b *Win32) RegisterHostClass(proc WindowProc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.proc = proc
	if b.class {
		return nil
	}
	wc := win.WNDCLASSEX{
		CbSize:        uint32(unsafe.Sizeof(win.WNDCLASSEX{})),
		Style:         win.CS_HREDRAW | win.CS_VREDRAW,
		LpfnWndProc:   wndProcPtr,
		HInstance:     b.instance,
		HCursor:       win.LoadCursor(0, win.MAKEINTRESOURCE(win.IDC_ARROW)),
		LpszClassName: b.className,
	}
	if atom := win.RegisterClassEx(&wc); atom == 0 {
		if err := windows.GetLastError(); err != windows.ERROR_CLASS_ALREADY_EXISTS {
			return fmt.Errorf("RegisterClassEx failed: %w", err)
		}
	}
	b.class = true
	return nil
}

// UnregisterHostClass removes the host window class.
func (b *Win32) UnregisterHostClass() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !win.UnregisterClass(b.className) {
		return fmt.Errorf("UnregisterClass failed: %w", windows.GetLastError())
	}
	b.class = false
	return nil
}

// InitMagnification calls MagInitialize.
func (b *Win32) InitMagnification() error {
	if r, _, err := procMagInitialize.Call(); r == 0 {
		return fmt.Errorf("MagInitialize failed: %w", err)
	}
	return nil
}

// UninitMagnification calls MagUninitialize.
func (b *Win32) UninitMagnification() error {
	if r, _, err := procMagUninitialize.Call(); r == 0 {
		return fmt.Errorf("MagUninitialize failed: %w", err)
	}
	return nil
}

const wsExNoActivate = 0x08000000

// hostExStyle never lets the host take activation; an activated host would
// raise HSHELL_WINDOWACTIVATED and end the session.
func hostExStyle(noDisturb bool) uint32 {
	exStyle := uint32(win.WS_EX_LAYERED | win.WS_EX_TRANSPARENT | win.WS_EX_TOOLWINDOW | wsExNoActivate)
	if !noDisturb {
		exStyle |= win.WS_EX_TOPMOST
	}
	return exStyle
}

// CreateHostWindow creates the layered, click-through, full-screen popup.
func (b *Win32) CreateHostWindow(opts HostWindowOptions) (Handle, error) {
	hwnd := win.CreateWindowEx(
		hostExStyle(opts.NoDisturb),
		b.className,
		syscall.StringToUTF16Ptr(opts.Title),
		win.WS_POPUP,
		0, 0, opts.Size.Width, opts.Size.Height,
		0, 0, b.instance, nil,
	)
	if hwnd == 0 {
		return 0, fmt.Errorf("CreateWindowEx failed: %w", windows.GetLastError())
	}
	if r, _, err := procSetLayeredWindowAttributes.Call(uintptr(hwnd), 0, 255, lwaAlpha); r == 0 {
		win.DestroyWindow(hwnd)
		return 0, fmt.Errorf("SetLayeredWindowAttributes failed: %w", err)
	}
	return Handle(hwnd), nil
}

// DestroyWindow destroys h.
func (b *Win32) DestroyWindow(h Handle) error {
	hwnd := win.HWND(h)
	b.mu.Lock()
	delete(b.mags, hwnd)
	b.mu.Unlock()
	if !win.DestroyWindow(hwnd) {
		return fmt.Errorf("DestroyWindow failed: %w", windows.GetLastError())
	}
	return nil
}

// CreateMagnifier creates a WC_MAGNIFIER child of host, excludes host from
// its capture and installs cb as the image scaling callback.
func (b *Win32) CreateMagnifier(host Handle, size Size, cb ScalingCallback) (Handle, error) {
	hwnd := win.CreateWindowEx(
		0,
		syscall.StringToUTF16Ptr("Magnifier"),
		syscall.StringToUTF16Ptr("FocusMirrorMagnifier"),
		win.WS_CHILD|msShowMagnifiedCur,
		0, 0, size.Width, size.Height,
		win.HWND(host), 0, b.instance, nil,
	)
	if hwnd == 0 {
		return 0, fmt.Errorf("CreateWindowEx(Magnifier) failed: %w", windows.GetLastError())
	}

	exclude := win.HWND(host)
	if r, _, err := procMagSetWindowFilterList.Call(uintptr(hwnd), mwFilterModeExclude, 1, uintptr(unsafe.Pointer(&exclude))); r == 0 {
		logger.WithComponent("platform").Warn().Err(err).Msg("MagSetWindowFilterList failed")
	}

	b.mu.Lock()
	b.mags[hwnd] = cb
	b.mu.Unlock()

	if r, _, err := procMagSetImageScalingCallback.Call(uintptr(hwnd), magCallbackFn); r == 0 {
		b.mu.Lock()
		delete(b.mags, hwnd)
		b.mu.Unlock()
		win.DestroyWindow(hwnd)
		return 0, fmt.Errorf("MagSetImageScalingCallback failed: %w", err)
	}
	return Handle(hwnd), nil
}

// ShowWindow shows h without activating it.
func (b *Win32) ShowWindow(h Handle) error {
	win.ShowWindow(win.HWND(h), win.SW_SHOWNOACTIVATE)
	return nil
}

// SetMagnifierSource calls MagSetWindowSource, which renders synchronously
// through the scaling callback.
func (b *Win32) SetMagnifierSource(mag Handle, src Rect) error {
	rc := win.RECT{Left: src.Left, Top: src.Top, Right: src.Right, Bottom: src.Bottom}
	if r, _, err := procMagSetWindowSource.Call(uintptr(mag), uintptr(unsafe.Pointer(&rc))); r == 0 {
		return fmt.Errorf("MagSetWindowSource failed: %w", err)
	}
	return nil
}

func win32MagCallback(hwnd win.HWND, srcData uintptr, srcHeader *magImageHeader,
	_ uintptr, _ *magImageHeader, _ *win.RECT, _ *win.RECT, _ uintptr) uintptr {
	b := win32Active
	if b == nil || srcHeader == nil || srcData == 0 {
		return 0
	}
	b.mu.Lock()
	cb := b.mags[hwnd]
	b.mu.Unlock()
	if cb == nil {
		return 0
	}
	hdr := *srcHeader
	pix := unsafe.Slice((*byte)(unsafe.Pointer(srcData+uintptr(hdr.Offset))), hdr.CbSize)
	frame := CaptureFrame{
		Pix:      pix,
		Width:    hdr.Width,
		Height:   hdr.Height,
		Stride:   hdr.Stride,
		ByteSize: uint64(hdr.CbSize),
	}
	if cb(frame) {
		return 1
	}
	return 0
}

// SetTimer wraps user32 SetTimer.
func (b *Win32) SetTimer(h Handle, id uintptr, interval time.Duration) error {
	ms := uint32(interval / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	if win.SetTimer(win.HWND(h), id, ms, 0) == 0 {
		return fmt.Errorf("SetTimer failed: %w", windows.GetLastError())
	}
	return nil
}

// KillTimer wraps user32 KillTimer.
func (b *Win32) KillTimer(h Handle, id uintptr) error {
	if !win.KillTimer(win.HWND(h), id) {
		return fmt.Errorf("KillTimer failed: %w", windows.GetLastError())
	}
	return nil
}

// PostMessage wraps user32 PostMessageW.
func (b *Win32) PostMessage(h Handle, msg uint32, wParam, lParam uintptr) error {
	if win.PostMessage(win.HWND(h), msg, wParam, lParam) == 0 {
		return fmt.Errorf("PostMessage failed: %w", windows.GetLastError())
	}
	return nil
}

// RegisterShellHook registers h with RegisterShellHookWindow and returns the
// SHELLHOOK message id.
func (b *Win32) RegisterShellHook(h Handle) (uint32, error) {
	name := syscall.StringToUTF16Ptr("SHELLHOOK")
	id, _, err := procRegisterWindowMessageW.Call(uintptr(unsafe.Pointer(name)))
	if id == 0 {
		return 0, fmt.Errorf("RegisterWindowMessage(SHELLHOOK) failed: %w", err)
	}
	if r, _, err := procRegisterShellHookWindow.Call(uintptr(h)); r == 0 {
		return 0, fmt.Errorf("RegisterShellHookWindow failed: %w", err)
	}
	b.mu.Lock()
	b.shellMsg = uint32(id)
	b.mu.Unlock()
	return uint32(id), nil
}

// DeregisterShellHook wraps DeregisterShellHookWindow.
func (b *Win32) DeregisterShellHook(h Handle) error {
	if r, _, err := procDeregisterShellHookWindow.Call(uintptr(h)); r == 0 {
		return fmt.Errorf("DeregisterShellHookWindow failed: %w", err)
	}
	return nil
}

// Present stretches img over the host's client area with StretchDIBits.
func (b *Win32) Present(h Handle, img *image.RGBA) error {
	hwnd := win.HWND(h)
	var rc win.RECT
	if !win.GetClientRect(hwnd, &rc) {
		return fmt.Errorf("GetClientRect failed: %w", windows.GetLastError())
	}

	bounds := img.Bounds()
	w, hgt := bounds.Dx(), bounds.Dy()
	if w <= 0 || hgt <= 0 {
		return nil
	}

	bgra := make([]byte, w*hgt*4)
	for y := 0; y < hgt; y++ {
		src := img.Pix[(y+bounds.Min.Y-img.Rect.Min.Y)*img.Stride+(bounds.Min.X-img.Rect.Min.X)*4:]
		dst := bgra[y*w*4:]
		for x := 0; x < w; x++ {
			i := x * 4
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = src[i+3]
		}
	}

	var bi win.BITMAPINFO
	bi.BmiHeader = win.BITMAPINFOHEADER{
		BiSize:        uint32(unsafe.Sizeof(win.BITMAPINFOHEADER{})),
		BiWidth:       int32(w),
		BiHeight:      -int32(hgt),
		BiPlanes:      1,
		BiBitCount:    32,
		BiCompression: win.BI_RGB,
	}

	hdc := win.GetDC(hwnd)
	if hdc == 0 {
		return fmt.Errorf("GetDC failed")
	}
	defer win.ReleaseDC(hwnd, hdc)

	r, _, err := procStretchDIBits.Call(
		uintptr(hdc),
		0, 0, uintptr(rc.Right-rc.Left), uintptr(rc.Bottom-rc.Top),
		0, 0, uintptr(w), uintptr(hgt),
		uintptr(unsafe.Pointer(&bgra[0])),
		uintptr(unsafe.Pointer(&bi)),
		uintptr(win.DIB_RGB_COLORS),
		uintptr(win.SRCCOPY),
	)
	if r == 0 {
		return fmt.Errorf("StretchDIBits failed: %w", err)
	}
	return nil
}

func win32WndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	if b := win32Active; b != nil {
		b.mu.Lock()
		proc := b.proc
		b.mu.Unlock()
		if proc != nil {
			if res, handled := proc(Message{Hwnd: Handle(hwnd), ID: msg, WParam: wParam, LParam: lParam}); handled {
				return res
			}
		}
	}
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

// RunLoop runs GetMessage/DispatchMessage on the calling thread, which must be
// locked with runtime.LockOSThread and be the thread that created the host.
func (b *Win32) RunLoop(ctx context.Context) error {
	log := logger.WithComponent("platform")

	b.mu.Lock()
	b.threadID = windows.GetCurrentThreadId()
	b.running = true
	b.mu.Unlock()
	b.pendingMu.Lock()
	b.accepting = true
	b.pendingMu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		// Stop accepting and drain under one lock so no call is stranded.
		b.pendingMu.Lock()
		b.accepting = false
		calls := b.pending
		b.pending = nil
		b.pendingMu.Unlock()
		for _, call := range calls {
			call.run()
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			procPostThreadMessageW.Call(uintptr(b.threadID), wmQuit, 0, 0)
		case <-done:
		}
	}()

	log.Debug().Str("backend", "win32").Msg("Message loop started")
	var msg win.MSG
	for {
		ret := win.GetMessage(&msg, 0, 0, 0)
		if ret == 0 {
			return ctx.Err()
		}
		if ret == -1 {
			return fmt.Errorf("GetMessage failed: %w", windows.GetLastError())
		}
		if msg.HWnd == 0 && msg.Message == WMApp {
			b.runPending()
			continue
		}
		win.TranslateMessage(&msg)
		win.DispatchMessage(&msg)
	}
}

func (b *Win32) runPending() {
	b.pendingMu.Lock()
	calls := b.pending
	b.pending = nil
	b.pendingMu.Unlock()
	for _, call := range calls {
		call.run()
	}
}

// Invoke posts fn to the loop thread as a WM_APP thread message and waits.
func (b *Win32) Invoke(fn func()) error {
	b.mu.Lock()
	running, tid := b.running, b.threadID
	b.mu.Unlock()
	if !running {
		return ErrLoopNotRunning
	}

	call := &invocation{fn: fn, done: make(chan struct{})}
	b.pendingMu.Lock()
	if !b.accepting {
		b.pendingMu.Unlock()
		return ErrLoopNotRunning
	}
	b.pending = append(b.pending, call)
	b.pendingMu.Unlock()

	if r, _, err := procPostThreadMessageW.Call(uintptr(tid), uintptr(WMApp), 0, 0); r == 0 && b.withdraw(call) {
		return fmt.Errorf("PostThreadMessage failed: %w", err)
	}
	<-call.done
	return nil
}

// withdraw removes call if the loop has not taken it yet.
func (b *Win32) withdraw(call *invocation) bool {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for i, c := range b.pending {
		if c == call {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Close releases nothing; windows are owned by the session.
func (b *Win32) Close() error {
	if win32Active == b {
		win32Active = nil
	}
	return nil
}
