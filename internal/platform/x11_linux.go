//go:build linux

package platform

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/FocusMirror/internal/logger"
)

// x11ShellMessage is the message id used for emulated shell notifications.
const x11ShellMessage uint32 = 0xC0A8

// X11 implements Backend on an X server. The magnifier reads the source
// window through a Composite pixmap (falling back to the root window) and the
// shell hook is emulated from PropertyNotify events on _NET_ACTIVE_WINDOW.
type X11 struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	root   xproto.Window

	mu      sync.Mutex
	atoms   map[string]xproto.Atom
	proc    WindowProc
	class   bool
	magInit bool
	fixes   bool
	hosts   map[Handle]*x11Host
	mags    map[Handle]*x11Magnifier
	timers  map[simTimerKey]chan struct{}
	hooked  map[Handle]bool
	active  xproto.Window

	queue   chan Message
	invoker *invoker
}

type x11Host struct {
	size      Size
	source    Handle
	noDisturb bool
}

type x11Magnifier struct {
	host       Handle
	source     xproto.Window
	redirected bool
	cb         ScalingCallback
}

// NewX11 connects to the X server named by $DISPLAY.
func NewX11() (*X11, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	return &X11{
		conn:    conn,
		screen:  screen,
		root:    screen.Root,
		atoms:   make(map[string]xproto.Atom),
		hosts:   make(map[Handle]*x11Host),
		mags:    make(map[Handle]*x11Magnifier),
		timers:  make(map[simTimerKey]chan struct{}),
		hooked:  make(map[Handle]bool),
		queue:   make(chan Message, 256),
		invoker: newInvoker(),
	}, nil
}

// Name returns the backend name.
func (b *X11) Name() string { return "x11" }

// InitRuntime has nothing to prepare on X11.
func (b *X11) InitRuntime() error { return nil }

// UninitRuntime is a no-op on X11.
func (b *X11) UninitRuntime() {}

// IsWindowVisible reports whether h is mapped and viewable.
func (b *X11) IsWindowVisible(h Handle) bool {
	if h == 0 {
		return false
	}
	attrs, err := xproto.GetWindowAttributes(b.conn, xproto.Window(h)).Reply()
	if err != nil {
		return false
	}
	return attrs.MapState == xproto.MapStateViewable
}

// ClientScreenRect translates the geometry of h into root coordinates.
func (b *X11) ClientScreenRect(h Handle) (Rect, error) {
	win := xproto.Window(h)
	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return Rect{}, fmt.Errorf("failed to get window geometry: %w", err)
	}
	tr, err := xproto.TranslateCoordinates(b.conn, win, b.root, 0, 0).Reply()
	if err != nil {
		return Rect{}, fmt.Errorf("failed to translate coordinates: %w", err)
	}
	left, top := int32(tr.DstX), int32(tr.DstY)
	return Rect{
		Left:   left,
		Top:    top,
		Right:  left + int32(geom.Width),
		Bottom: top + int32(geom.Height),
	}, nil
}

// ScreenSize returns the default screen size.
func (b *X11) ScreenSize(Handle) (Size, error) {
	return Size{Width: int32(b.screen.WidthInPixels), Height: int32(b.screen.HeightInPixels)}, nil
}

// ForegroundWindow reads _NET_ACTIVE_WINDOW, falling back to the input focus.
func (b *X11) ForegroundWindow() (Handle, error) {
	if win, err := b.activeWindow(); err == nil && win != 0 {
		return Handle(win), nil
	}
	focus, err := xproto.GetInputFocus(b.conn).Reply()
	if err != nil {
		return 0, err
	}
	if focus.Focus == 0 || focus.Focus == b.root {
		return 0, ErrNoWindow
	}
	return Handle(focus.Focus), nil
}

func (b *X11) activeWindow() (xproto.Window, error) {
	atom, err := b.atom("_NET_ACTIVE_WINDOW")
	if err != nil {
		return 0, err
	}
	reply, err := xproto.GetProperty(b.conn, false, b.root, atom, xproto.AtomWindow, 0, 1).Reply()
	if err != nil {
		return 0, err
	}
	if len(reply.Value) < 4 {
		return 0, ErrNoWindow
	}
	return xproto.Window(le32(reply.Value)), nil
}

// ListWindows returns the windows in _NET_CLIENT_LIST that are viewable.
func (b *X11) ListWindows() ([]WindowInfo, error) {
	log := logger.WithComponent("platform")

	atom, err := b.atom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST atom: %w", err)
	}
	reply, err := xproto.GetProperty(b.conn, false, b.root, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
	}

	windows := make([]WindowInfo, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		win := xproto.Window(le32(reply.Value[i:]))
		info := b.windowInfo(win)
		if info.Title == "" && info.Class == "" {
			continue
		}
		if !info.Visible {
			continue
		}
		windows = append(windows, info)
	}
	log.Debug().Int("count", len(windows)).Msg("Listed client windows")
	return windows, nil
}

func (b *X11) windowInfo(win xproto.Window) WindowInfo {
	h := Handle(win)
	info := WindowInfo{Handle: h, Visible: b.IsWindowVisible(h)}
	if r, err := b.ClientScreenRect(h); err == nil {
		info.Rect = r
	}

	if atom, err := b.atom("_NET_WM_NAME"); err == nil {
		info.Title, _ = b.stringProperty(win, atom)
	}
	if info.Title == "" {
		info.Title, _ = b.stringProperty(win, xproto.AtomWmName)
	}

	// WM_CLASS is "instance\0class\0".
	if raw, err := b.stringProperty(win, xproto.AtomWmClass); err == nil {
		parts := strings.Split(raw, "\x00")
		if len(parts) >= 2 && parts[1] != "" {
			info.Class = parts[1]
		} else if len(parts) >= 1 {
			info.Class = parts[0]
		}
	}

	if atom, err := b.atom("_NET_WM_PID"); err == nil {
		reply, err := xproto.GetProperty(b.conn, false, win, atom, xproto.AtomCardinal, 0, 1).Reply()
		if err == nil && len(reply.Value) >= 4 {
			info.PID = int(le32(reply.Value))
		}
	}
	return info
}

// RegisterHostClass remembers proc for host windows.
func (b *X11) RegisterHostClass(proc WindowProc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.class {
		return nil
	}
	b.proc = proc
	b.class = true
	return nil
}

// UnregisterHostClass forgets the host window procedure.
func (b *X11) UnregisterHostClass() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.hosts) > 0 {
		return fmt.Errorf("x11: host windows still exist")
	}
	b.proc = nil
	b.class = false
	return nil
}

// InitMagnification initializes the Composite and XFixes extensions.
func (b *X11) InitMagnification() error {
	log := logger.WithComponent("platform")
	if err := composite.Init(b.conn); err != nil {
		return fmt.Errorf("composite extension not available: %w", err)
	}
	fixes := true
	if err := xfixes.Init(b.conn); err != nil {
		log.Warn().Err(err).Msg("XFixes not available, host will not be click-through")
		fixes = false
	} else if _, err := xfixes.QueryVersion(b.conn, 5, 0).Reply(); err != nil {
		log.Warn().Err(err).Msg("XFixes version query failed, host will not be click-through")
		fixes = false
	}
	b.mu.Lock()
	b.magInit = true
	b.fixes = fixes
	b.mu.Unlock()
	return nil
}

// UninitMagnification marks the extensions unused.
func (b *X11) UninitMagnification() error {
	b.mu.Lock()
	b.magInit = false
	b.mu.Unlock()
	return nil
}

// CreateHostWindow creates an override-redirect window covering the screen.
func (b *X11) CreateHostWindow(opts HostWindowOptions) (Handle, error) {
	log := logger.WithComponent("platform")

	b.mu.Lock()
	registered, fixes := b.class, b.fixes
	b.mu.Unlock()
	if !registered {
		return 0, fmt.Errorf("x11: host class not registered")
	}

	wid, err := xproto.NewWindowId(b.conn)
	if err != nil {
		return 0, fmt.Errorf("failed to create window ID: %w", err)
	}

	mask := uint32(xproto.CwBackPixel | xproto.CwOverrideRedirect | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		1,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}
	err = xproto.CreateWindowChecked(
		b.conn,
		b.screen.RootDepth,
		wid,
		b.root,
		0, 0,
		uint16(opts.Size.Width), uint16(opts.Size.Height),
		0,
		xproto.WindowClassInputOutput,
		b.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return 0, fmt.Errorf("failed to create window: %w", err)
	}

	if opts.Title != "" {
		if err := b.setUTF8(wid, "_NET_WM_NAME", opts.Title); err != nil {
			log.Warn().Err(err).Msg("Failed to set window title")
		}
	}
	if err := b.setCardinal(wid, "_NET_WM_WINDOW_OPACITY", 0xffffffff); err != nil {
		log.Warn().Err(err).Msg("Failed to set window opacity")
	}
	if !opts.NoDisturb {
		if err := b.setAtomList(wid, "_NET_WM_STATE", "_NET_WM_STATE_ABOVE"); err != nil {
			log.Warn().Err(err).Msg("Failed to set _NET_WM_STATE_ABOVE")
		}
	}
	if fixes {
		if err := b.clickThrough(wid); err != nil {
			log.Warn().Err(err).Msg("Failed to clear input shape")
		}
	}

	h := Handle(wid)
	b.mu.Lock()
	b.hosts[h] = &x11Host{size: opts.Size, source: opts.Source, noDisturb: opts.NoDisturb}
	b.mu.Unlock()
	return h, nil
}

// clickThrough sets an empty input shape so pointer events fall through.
func (b *X11) clickThrough(win xproto.Window) error {
	region, err := xfixes.NewRegionId(b.conn)
	if err != nil {
		return err
	}
	if err := xfixes.CreateRegionChecked(b.conn, region, nil).Check(); err != nil {
		return err
	}
	defer xfixes.DestroyRegion(b.conn, region)
	return xfixes.SetWindowShapeRegionChecked(b.conn, win, shape.SkInput, 0, 0, region).Check()
}

// DestroyWindow destroys a host (and its magnifiers) or a magnifier.
func (b *X11) DestroyWindow(h Handle) error {
	b.mu.Lock()
	_, isHost := b.hosts[h]
	mag, isMag := b.mags[h]
	if isHost {
		delete(b.hosts, h)
		delete(b.hooked, h)
		for mh, m := range b.mags {
			if m.host == h {
				b.releaseMagnifierLocked(m)
				delete(b.mags, mh)
			}
		}
	}
	if isMag {
		b.releaseMagnifierLocked(mag)
		delete(b.mags, h)
	}
	for k, stop := range b.timers {
		if k.hwnd == h {
			close(stop)
			delete(b.timers, k)
		}
	}
	b.mu.Unlock()

	if !isHost && !isMag {
		return ErrNoWindow
	}
	if err := xproto.DestroyWindowChecked(b.conn, xproto.Window(h)).Check(); err != nil {
		return fmt.Errorf("failed to destroy window: %w", err)
	}
	return nil
}

func (b *X11) releaseMagnifierLocked(m *x11Magnifier) {
	if m.redirected {
		composite.UnredirectWindow(b.conn, m.source, composite.RedirectAutomatic)
		m.redirected = false
	}
	m.cb = nil
}

// CreateMagnifier creates an input-only child of host standing in for the
// magnifier control and redirects the host's source window off-screen.
func (b *X11) CreateMagnifier(host Handle, size Size, cb ScalingCallback) (Handle, error) {
	log := logger.WithComponent("platform")

	b.mu.Lock()
	hw, ok := b.hosts[host]
	magInit := b.magInit
	b.mu.Unlock()
	if !ok {
		return 0, ErrNoWindow
	}
	if !magInit {
		return 0, fmt.Errorf("x11: magnification not initialized")
	}

	wid, err := xproto.NewWindowId(b.conn)
	if err != nil {
		return 0, fmt.Errorf("failed to create window ID: %w", err)
	}
	err = xproto.CreateWindowChecked(
		b.conn,
		0,
		wid,
		xproto.Window(host),
		0, 0,
		uint16(size.Width), uint16(size.Height),
		0,
		xproto.WindowClassInputOnly,
		0,
		0,
		nil,
	).Check()
	if err != nil {
		return 0, fmt.Errorf("failed to create magnifier window: %w", err)
	}

	m := &x11Magnifier{host: host, source: xproto.Window(hw.source), cb: cb}
	if m.source != 0 {
		if err := composite.RedirectWindowChecked(b.conn, m.source, composite.RedirectAutomatic).Check(); err != nil {
			log.Warn().Err(err).Uint32("window_id", uint32(m.source)).
				Msg("Failed to redirect source window, capturing from root")
		} else {
			m.redirected = true
		}
	}

	h := Handle(wid)
	b.mu.Lock()
	b.mags[h] = m
	b.mu.Unlock()
	return h, nil
}

// ShowWindow maps h and applies the stacking chosen at creation.
func (b *X11) ShowWindow(h Handle) error {
	win := xproto.Window(h)
	if err := xproto.MapWindowChecked(b.conn, win).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}
	b.mu.Lock()
	host, isHost := b.hosts[h]
	b.mu.Unlock()
	if isHost {
		mode := uint32(xproto.StackModeAbove)
		if host.noDisturb {
			mode = xproto.StackModeBelow
		}
		xproto.ConfigureWindow(b.conn, win, xproto.ConfigWindowStackMode, []uint32{mode})
	}
	b.conn.Sync()
	return nil
}

// SetMagnifierSource grabs src and hands it to the magnifier's callback.
func (b *X11) SetMagnifierSource(mag Handle, src Rect) error {
	b.mu.Lock()
	m, ok := b.mags[mag]
	b.mu.Unlock()
	if !ok {
		return ErrNoWindow
	}
	if src.Empty() {
		return fmt.Errorf("x11: empty source rect %s", src)
	}

	data, err := b.grab(m, src)
	if err != nil {
		return err
	}
	width, height := int(src.Width()), int(src.Height())
	// Depth 24 leaves the fourth byte undefined.
	for i := 3; i < len(data); i += 4 {
		data[i] = 0xff
	}
	if m.cb != nil {
		m.cb(FrameFromImage(data, width, height, width*4))
	}
	return nil
}

func (b *X11) grab(m *x11Magnifier, src Rect) ([]byte, error) {
	if m.redirected {
		pixmap, err := xproto.NewPixmapId(b.conn)
		if err == nil {
			if err = composite.NameWindowPixmapChecked(b.conn, m.source, pixmap).Check(); err == nil {
				defer xproto.FreePixmap(b.conn, pixmap)
				reply, err := xproto.GetImage(
					b.conn,
					xproto.ImageFormatZPixmap,
					xproto.Drawable(pixmap),
					0, 0,
					uint16(src.Width()), uint16(src.Height()),
					0xffffffff,
				).Reply()
				if err == nil {
					return reply.Data, nil
				}
			}
		}
		logger.WithComponent("platform").Debug().Err(err).Msg("Composite capture failed, using root window")
	}

	reply, err := xproto.GetImage(
		b.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(b.root),
		int16(src.Left), int16(src.Top),
		uint16(src.Width()), uint16(src.Height()),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return reply.Data, nil
}

// SetTimer starts a goroutine that posts WMTimer to the loop queue.
func (b *X11) SetTimer(h Handle, id uintptr, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Millisecond
	}
	stop := make(chan struct{})
	key := simTimerKey{h, id}

	b.mu.Lock()
	if old, ok := b.timers[key]; ok {
		close(old)
	}
	b.timers[key] = stop
	b.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// Ticks coalesce when the loop falls behind.
				select {
				case b.queue <- Message{Hwnd: h, ID: WMTimer, WParam: id}:
				default:
				}
			}
		}
	}()
	return nil
}

// KillTimer stops a timer started with SetTimer.
func (b *X11) KillTimer(h Handle, id uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := simTimerKey{h, id}
	stop, ok := b.timers[key]
	if !ok {
		return fmt.Errorf("x11: no timer %d on %#x", id, h)
	}
	close(stop)
	delete(b.timers, key)
	return nil
}

// PostMessage queues msg for the loop goroutine.
func (b *X11) PostMessage(h Handle, msg uint32, wParam, lParam uintptr) error {
	select {
	case b.queue <- Message{Hwnd: h, ID: msg, WParam: wParam, LParam: lParam}:
		return nil
	default:
		return fmt.Errorf("x11: message queue full")
	}
}

// RegisterShellHook starts watching root property changes for h.
func (b *X11) RegisterShellHook(h Handle) (uint32, error) {
	if _, err := b.atom("_NET_ACTIVE_WINDOW"); err != nil {
		return 0, err
	}
	err := xproto.ChangeWindowAttributesChecked(
		b.conn,
		b.root,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange},
	).Check()
	if err != nil {
		return 0, fmt.Errorf("failed to set event mask: %w", err)
	}
	active, _ := b.activeWindow()

	b.mu.Lock()
	b.hooked[h] = true
	b.active = active
	b.mu.Unlock()
	return x11ShellMessage, nil
}

// DeregisterShellHook stops delivering shell notifications to h.
func (b *X11) DeregisterShellHook(h Handle) error {
	b.mu.Lock()
	if !b.hooked[h] {
		b.mu.Unlock()
		return fmt.Errorf("x11: %#x has no shell hook", h)
	}
	delete(b.hooked, h)
	remaining := len(b.hooked)
	b.mu.Unlock()

	if remaining == 0 {
		xproto.ChangeWindowAttributes(b.conn, b.root, xproto.CwEventMask, []uint32{0})
	}
	return nil
}

// Present uploads img to the host window in row bands that fit the
// server's maximum request length.
func (b *X11) Present(h Handle, img *image.RGBA) error {
	b.mu.Lock()
	host, ok := b.hosts[h]
	b.mu.Unlock()
	if !ok {
		return ErrNoWindow
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width > int(host.size.Width) {
		width = int(host.size.Width)
	}
	if height > int(host.size.Height) {
		height = int(host.size.Height)
	}
	if width <= 0 || height <= 0 {
		return nil
	}

	gc, err := xproto.NewGcontextId(b.conn)
	if err != nil {
		return fmt.Errorf("failed to create GC ID: %w", err)
	}
	if err := xproto.CreateGCChecked(b.conn, gc, xproto.Drawable(h), 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	defer xproto.FreeGC(b.conn, gc)

	stride := width * 4
	maxBytes := int(xproto.Setup(b.conn).MaximumRequestLength)*4 - 32
	rows := maxBytes / stride
	if rows < 1 {
		rows = 1
	}

	depth := b.screen.RootDepth
	band := make([]byte, stride*rows)
	for y0 := 0; y0 < height; y0 += rows {
		n := rows
		if y0+n > height {
			n = height - y0
		}
		for y := 0; y < n; y++ {
			src := img.Pix[(bounds.Min.Y+y0+y-img.Rect.Min.Y)*img.Stride+(bounds.Min.X-img.Rect.Min.X)*4:]
			dst := band[y*stride:]
			for x := 0; x < width; x++ {
				i := x * 4
				dst[i] = src[i+2]
				dst[i+1] = src[i+1]
				dst[i+2] = src[i]
				if depth == 32 {
					dst[i+3] = src[i+3]
				} else {
					dst[i+3] = 0
				}
			}
		}
		err := xproto.PutImageChecked(
			b.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(h),
			gc,
			uint16(width), uint16(n),
			0, int16(y0),
			0,
			depth,
			band[:stride*n],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

// RunLoop dispatches queued messages, invoked functions and X events until
// ctx is done.
func (b *X11) RunLoop(ctx context.Context) error {
	log := logger.WithComponent("platform")

	b.invoker.start()
	defer b.invoker.stop()

	quit := make(chan struct{})
	defer close(quit)
	events := make(chan xgb.Event, 64)
	go forwardEvents(b.conn.WaitForEvent, events, quit)

	log.Debug().Str("backend", "x11").Msg("Message loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case call := <-b.invoker.calls:
			call.run()
		case msg := <-b.queue:
			b.dispatch(msg)
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("x11: connection closed")
			}
			b.handleEvent(ev)
		}
	}
}

// forwardEvents reads X events into events until the connection closes or
// quit is closed. It closes events on return.
func forwardEvents(wait func() (xgb.Event, xgb.Error), events chan<- xgb.Event, quit <-chan struct{}) {
	defer close(events)
	for {
		ev, xerr := wait()
		if ev == nil && xerr == nil {
			return
		}
		if xerr != nil {
			logger.WithComponent("platform").Debug().Str("error", xerr.Error()).Msg("X11 error event")
			continue
		}
		select {
		case events <- ev:
		case <-quit:
			return
		}
	}
}

func (b *X11) handleEvent(ev xgb.Event) {
	pn, ok := ev.(xproto.PropertyNotifyEvent)
	if !ok || pn.Window != b.root {
		return
	}
	atom, err := b.atom("_NET_ACTIVE_WINDOW")
	if err != nil || pn.Atom != atom {
		return
	}
	active, err := b.activeWindow()
	if err != nil {
		return
	}

	b.mu.Lock()
	if active == b.active {
		b.mu.Unlock()
		return
	}
	b.active = active
	targets := make([]Handle, 0, len(b.hooked))
	for h := range b.hooked {
		targets = append(targets, h)
	}
	b.mu.Unlock()

	for _, h := range targets {
		b.dispatch(Message{Hwnd: h, ID: x11ShellMessage, WParam: ShellWindowActivated, LParam: uintptr(active)})
	}
}

func (b *X11) dispatch(msg Message) {
	b.mu.Lock()
	_, isHost := b.hosts[msg.Hwnd]
	proc := b.proc
	b.mu.Unlock()
	if !isHost || proc == nil {
		return
	}
	proc(msg)
}

// Invoke runs fn on the RunLoop goroutine.
func (b *X11) Invoke(fn func()) error {
	return b.invoker.invoke(fn)
}

// Close disconnects from the X server.
func (b *X11) Close() error {
	b.mu.Lock()
	for k, stop := range b.timers {
		close(stop)
		delete(b.timers, k)
	}
	b.mu.Unlock()
	b.conn.Close()
	return nil
}

func (b *X11) atom(name string) (xproto.Atom, error) {
	b.mu.Lock()
	a, ok := b.atoms[name]
	b.mu.Unlock()
	if ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.atoms[name] = reply.Atom
	b.mu.Unlock()
	return reply.Atom, nil
}

func (b *X11) stringProperty(win xproto.Window, atom xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(b.conn, false, win, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}
	return string(reply.Value), nil
}

func (b *X11) setUTF8(win xproto.Window, prop, value string) error {
	propAtom, err := b.atom(prop)
	if err != nil {
		return err
	}
	utf8Atom, err := b.atom("UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(b.conn, xproto.PropModeReplace, win, propAtom, utf8Atom,
		8, uint32(len(value)), []byte(value)).Check()
}

func (b *X11) setCardinal(win xproto.Window, prop string, value uint32) error {
	propAtom, err := b.atom(prop)
	if err != nil {
		return err
	}
	buf := []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
	return xproto.ChangePropertyChecked(b.conn, xproto.PropModeReplace, win, propAtom, xproto.AtomCardinal,
		32, 1, buf).Check()
}

func (b *X11) setAtomList(win xproto.Window, prop string, values ...string) error {
	propAtom, err := b.atom(prop)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, 4*len(values))
	for _, v := range values {
		a, err := b.atom(v)
		if err != nil {
			return err
		}
		buf = append(buf, byte(a), byte(a>>8), byte(a>>16), byte(a>>24))
	}
	return xproto.ChangePropertyChecked(b.conn, xproto.PropModeReplace, win, propAtom, xproto.AtomAtom,
		32, uint32(len(values)), buf).Check()
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
