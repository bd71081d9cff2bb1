package platform

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/bryanchriswhite/FocusMirror/internal/logger"
)

// SimShellMessage is the message id the simulated shell hook delivers.
const SimShellMessage uint32 = 0xC0A7

// SimOptions configures a simulated desktop.
type SimOptions struct {
	// Screen is the virtual screen size (default 1920x1080).
	Screen Size
	// FrameSource produces the pixels for a capture of src. The default
	// fills a BGRA buffer of src's size with a gradient.
	FrameSource func(src Rect) CaptureFrame
}

// Sim is an in-memory desktop used for tests and for dry runs on machines
// without a display server. It keeps a virtual clock; timers only fire when
// Advance moves the clock (or when RunLoop advances it with wall time).
type Sim struct {
	mu sync.Mutex

	screen      Size
	frameSource func(src Rect) CaptureFrame

	now     time.Duration
	nextID  Handle
	windows map[Handle]*simWindow
	fg      Handle

	queue  []Message
	timers map[simTimerKey]*simTimer

	classProc       WindowProc
	classRegistered bool

	runtimeDepth int
	magInit      bool

	failures map[string]error
	calls    map[string]int

	captures  []Rect
	consumed  int
	rejected  int
	defProc   int
	presented int
	lastFrame *image.RGBA

	invoker *invoker
}

type simWindow struct {
	info      WindowInfo
	host      bool
	parent    Handle
	shown     bool
	shellHook bool
	magCB     ScalingCallback
	magSize   Size
	magnifier bool
}

type simTimerKey struct {
	hwnd Handle
	id   uintptr
}

type simTimer struct {
	interval time.Duration
	next     time.Duration
}

// NewSim creates an empty simulated desktop.
func NewSim(opts SimOptions) *Sim {
	screen := opts.Screen
	if screen.Width <= 0 || screen.Height <= 0 {
		screen = Size{Width: 1920, Height: 1080}
	}
	s := &Sim{
		screen:      screen,
		frameSource: opts.FrameSource,
		nextID:      0x10000,
		windows:     make(map[Handle]*simWindow),
		timers:      make(map[simTimerKey]*simTimer),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
		invoker:     newInvoker(),
	}
	if s.frameSource == nil {
		s.frameSource = gradientFrame
	}
	return s
}

// Name returns the backend name.
func (s *Sim) Name() string { return "sim" }

// AddWindow places an application window on the simulated desktop. rect is
// the client area in screen coordinates.
func (s *Sim) AddWindow(title string, rect Rect, visible bool) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.allocLocked()
	s.windows[h] = &simWindow{info: WindowInfo{
		Handle:  h,
		Title:   title,
		Class:   "SimApp",
		PID:     4242,
		Rect:    rect,
		Visible: visible,
	}}
	if s.fg == 0 && visible {
		s.fg = h
	}
	return h
}

// SetForeground changes the simulated focused window.
func (s *Sim) SetForeground(h Handle) {
	s.mu.Lock()
	s.fg = h
	s.mu.Unlock()
}

// Fail makes the named operation return err until cleared with a nil err.
// Names match the Backend method names (e.g. "CreateHostWindow").
func (s *Sim) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns how often the named operation was invoked.
func (s *Sim) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Sim) enter(op string) error {
	s.calls[op]++
	return s.failures[op]
}

func (s *Sim) allocLocked() Handle {
	s.nextID += 4
	return s.nextID
}

// InitRuntime nests like CoInitialize.
func (s *Sim) InitRuntime() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InitRuntime"); err != nil {
		return err
	}
	s.runtimeDepth++
	return nil
}

// UninitRuntime balances InitRuntime.
func (s *Sim) UninitRuntime() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["UninitRuntime"]++
	if s.runtimeDepth > 0 {
		s.runtimeDepth--
	}
}

// IsWindowVisible reports whether h exists and is visible.
func (s *Sim) IsWindowVisible(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[h]
	if !ok {
		return false
	}
	if w.host || w.magnifier {
		return w.shown
	}
	return w.info.Visible
}

// ClientScreenRect returns the client rect of h.
func (s *Sim) ClientScreenRect(h Handle) (Rect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ClientScreenRect"); err != nil {
		return Rect{}, err
	}
	w, ok := s.windows[h]
	if !ok {
		return Rect{}, ErrNoWindow
	}
	return w.info.Rect, nil
}

// ScreenSize returns the virtual screen size.
func (s *Sim) ScreenSize(h Handle) (Size, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ScreenSize"); err != nil {
		return Size{}, err
	}
	return s.screen, nil
}

// ForegroundWindow returns the simulated focused window.
func (s *Sim) ForegroundWindow() (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fg == 0 {
		return 0, ErrNoWindow
	}
	return s.fg, nil
}

// ListWindows returns the visible application windows sorted by handle.
func (s *Sim) ListWindows() ([]WindowInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WindowInfo, 0, len(s.windows))
	for _, w := range s.windows {
		if w.host || w.magnifier || !w.info.Visible {
			continue
		}
		out = append(out, w.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

// RegisterHostClass stores proc for windows created with CreateHostWindow.
func (s *Sim) RegisterHostClass(proc WindowProc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("RegisterHostClass"); err != nil {
		return err
	}
	if s.classRegistered {
		return nil
	}
	s.classProc = proc
	s.classRegistered = true
	return nil
}

// UnregisterHostClass drops the host class.
func (s *Sim) UnregisterHostClass() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UnregisterHostClass"); err != nil {
		return err
	}
	for _, w := range s.windows {
		if w.host {
			return fmt.Errorf("sim: class still has windows")
		}
	}
	s.classProc = nil
	s.classRegistered = false
	return nil
}

// InitMagnification flips the process-wide magnification flag.
func (s *Sim) InitMagnification() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InitMagnification"); err != nil {
		return err
	}
	s.magInit = true
	return nil
}

// UninitMagnification clears the magnification flag.
func (s *Sim) UninitMagnification() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UninitMagnification"); err != nil {
		return err
	}
	s.magInit = false
	return nil
}

// CreateHostWindow creates a host surface of the registered class.
func (s *Sim) CreateHostWindow(opts HostWindowOptions) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateHostWindow"); err != nil {
		return 0, err
	}
	if !s.classRegistered {
		return 0, fmt.Errorf("sim: host class not registered")
	}
	h := s.allocLocked()
	s.windows[h] = &simWindow{
		host: true,
		info: WindowInfo{
			Handle: h,
			Title:  opts.Title,
			Class:  "FocusMirrorHost",
			Rect:   Rect{Right: opts.Size.Width, Bottom: opts.Size.Height},
		},
	}
	return h, nil
}

// DestroyWindow destroys h and its children, kills their timers and drops
// their shell hook registration.
func (s *Sim) DestroyWindow(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DestroyWindow"); err != nil {
		return err
	}
	if _, ok := s.windows[h]; !ok {
		return ErrNoWindow
	}
	for ch, w := range s.windows {
		if w.parent == h {
			s.dropLocked(ch)
		}
	}
	s.dropLocked(h)
	return nil
}

func (s *Sim) dropLocked(h Handle) {
	delete(s.windows, h)
	for k := range s.timers {
		if k.hwnd == h {
			delete(s.timers, k)
		}
	}
	if s.fg == h {
		s.fg = 0
	}
}

// CreateMagnifier creates the capture control under host.
func (s *Sim) CreateMagnifier(host Handle, size Size, cb ScalingCallback) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateMagnifier"); err != nil {
		return 0, err
	}
	if !s.magInit {
		return 0, fmt.Errorf("sim: magnification not initialized")
	}
	if _, ok := s.windows[host]; !ok {
		return 0, ErrNoWindow
	}
	h := s.allocLocked()
	s.windows[h] = &simWindow{
		magnifier: true,
		parent:    host,
		magCB:     cb,
		magSize:   size,
		info:      WindowInfo{Handle: h, Class: "Magnifier", Rect: Rect{Right: size.Width, Bottom: size.Height}},
	}
	return h, nil
}

// ShowWindow marks h shown.
func (s *Sim) ShowWindow(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ShowWindow"); err != nil {
		return err
	}
	w, ok := s.windows[h]
	if !ok {
		return ErrNoWindow
	}
	w.shown = true
	return nil
}

// SetMagnifierSource captures src and delivers it synchronously to the
// magnifier's scaling callback.
func (s *Sim) SetMagnifierSource(mag Handle, src Rect) error {
	s.mu.Lock()
	if err := s.enter("SetMagnifierSource"); err != nil {
		s.mu.Unlock()
		return err
	}
	w, ok := s.windows[mag]
	if !ok || !w.magnifier {
		s.mu.Unlock()
		return ErrNoWindow
	}
	cb := w.magCB
	source := s.frameSource
	s.captures = append(s.captures, src)
	s.mu.Unlock()

	if cb == nil {
		return nil
	}
	consumed := cb(source(src))

	s.mu.Lock()
	if consumed {
		s.consumed++
	} else {
		s.rejected++
	}
	s.mu.Unlock()
	return nil
}

// SetTimer installs a timer that fires every interval of virtual time.
func (s *Sim) SetTimer(h Handle, id uintptr, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetTimer"); err != nil {
		return err
	}
	if _, ok := s.windows[h]; !ok {
		return ErrNoWindow
	}
	if interval <= 0 {
		interval = time.Millisecond
	}
	s.timers[simTimerKey{h, id}] = &simTimer{interval: interval, next: s.now + interval}
	return nil
}

// KillTimer removes a timer.
func (s *Sim) KillTimer(h Handle, id uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["KillTimer"]++
	k := simTimerKey{h, id}
	if _, ok := s.timers[k]; !ok {
		return fmt.Errorf("sim: no timer %d on %#x", id, h)
	}
	delete(s.timers, k)
	return nil
}

// PostMessage appends msg to the queue.
func (s *Sim) PostMessage(h Handle, msg uint32, wParam, lParam uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("PostMessage"); err != nil {
		return err
	}
	if _, ok := s.windows[h]; !ok {
		return ErrNoWindow
	}
	s.queue = append(s.queue, Message{Hwnd: h, ID: msg, WParam: wParam, LParam: lParam})
	return nil
}

// RegisterShellHook subscribes h to EmitShell events.
func (s *Sim) RegisterShellHook(h Handle) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("RegisterShellHook"); err != nil {
		return 0, err
	}
	w, ok := s.windows[h]
	if !ok {
		return 0, ErrNoWindow
	}
	w.shellHook = true
	return SimShellMessage, nil
}

// DeregisterShellHook unsubscribes h.
func (s *Sim) DeregisterShellHook(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["DeregisterShellHook"]++
	w, ok := s.windows[h]
	if !ok {
		return ErrNoWindow
	}
	w.shellHook = false
	return nil
}

// Present records the presented frame.
func (s *Sim) Present(h Handle, img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("Present"); err != nil {
		return err
	}
	if _, ok := s.windows[h]; !ok {
		return ErrNoWindow
	}
	s.presented++
	s.lastFrame = img
	return nil
}

// Close is a no-op for the simulator.
func (s *Sim) Close() error { return nil }

// EmitShell queues a shell notification with the given wParam to every
// hooked window and dispatches what is pending.
func (s *Sim) EmitShell(wParam uintptr, hwndArg Handle) {
	s.mu.Lock()
	for h, w := range s.windows {
		if w.shellHook {
			s.queue = append(s.queue, Message{Hwnd: h, ID: SimShellMessage, WParam: wParam, LParam: uintptr(hwndArg)})
		}
	}
	s.mu.Unlock()
	s.dispatchPending()
}

// Step dispatches one queued message. It returns false when the queue is
// empty.
func (s *Sim) Step() bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()
	s.dispatch(msg)
	return true
}

// Drain dispatches up to max queued messages (including ones posted while
// draining) and returns how many ran.
func (s *Sim) Drain(max int) int {
	n := 0
	for n < max && s.Step() {
		n++
	}
	return n
}

// Pending returns the queue length.
func (s *Sim) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Advance moves the virtual clock by d. Every timer deadline crossed queues
// a WMTimer message, after which the messages pending at that instant are
// dispatched. Messages posted by those handlers stay queued.
func (s *Sim) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var (
			due   simTimerKey
			found bool
			when  time.Duration
		)
		for k, t := range s.timers {
			if t.next > target {
				continue
			}
			if !found || t.next < when || (t.next == when && k.id < due.id) {
				due, when, found = k, t.next, true
			}
		}
		if !found {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = when
		t := s.timers[due]
		t.next += t.interval
		s.queue = append(s.queue, Message{Hwnd: due.hwnd, ID: WMTimer, WParam: due.id})
		s.mu.Unlock()
		s.dispatchPending()
	}
}

// Now returns the virtual clock.
func (s *Sim) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Sim) dispatchPending() {
	s.mu.Lock()
	n := len(s.queue)
	s.mu.Unlock()
	for i := 0; i < n; i++ {
		if !s.Step() {
			return
		}
	}
}

func (s *Sim) dispatch(msg Message) {
	s.mu.Lock()
	w, ok := s.windows[msg.Hwnd]
	proc := s.classProc
	s.mu.Unlock()
	if !ok {
		// Messages to destroyed windows are discarded.
		return
	}
	if w.host && proc != nil {
		if _, handled := proc(msg); handled {
			return
		}
	}
	s.mu.Lock()
	s.defProc++
	s.mu.Unlock()
}

// RunLoop drives the simulator with wall-clock time until ctx is done.
func (s *Sim) RunLoop(ctx context.Context) error {
	s.invoker.start()
	defer s.invoker.stop()

	logger.WithComponent("platform").Debug().Str("backend", "sim").Msg("Message loop started")
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case call := <-s.invoker.calls:
			call.run()
			continue
		default:
		}

		now := time.Now()
		s.Advance(now.Sub(last))
		last = now

		if s.Step() {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case call := <-s.invoker.calls:
			call.run()
		case <-time.After(time.Millisecond):
		}
	}
}

// Invoke runs fn on the RunLoop goroutine.
func (s *Sim) Invoke(fn func()) error {
	return s.invoker.invoke(fn)
}

// SimStats is a snapshot of simulator counters.
type SimStats struct {
	Windows      int
	HostWindows  int
	Magnifiers   int
	Timers       int
	Queue        int
	RuntimeDepth int
	MagInit      bool
	ClassActive  bool
	Captures     int
	Consumed     int
	Rejected     int
	DefProc      int
	Presented    int
}

// Stats returns a snapshot of the simulator state.
func (s *Sim) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SimStats{
		Timers:       len(s.timers),
		Queue:        len(s.queue),
		RuntimeDepth: s.runtimeDepth,
		MagInit:      s.magInit,
		ClassActive:  s.classRegistered,
		Captures:     len(s.captures),
		Consumed:     s.consumed,
		Rejected:     s.rejected,
		DefProc:      s.defProc,
		Presented:    s.presented,
	}
	for _, w := range s.windows {
		st.Windows++
		if w.host {
			st.HostWindows++
		}
		if w.magnifier {
			st.Magnifiers++
		}
	}
	return st
}

// CaptureRects returns the rectangles passed to SetMagnifierSource.
func (s *Sim) CaptureRects() []Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Rect(nil), s.captures...)
}

// HostShown reports whether h is a host window that has been shown.
func (s *Sim) HostShown(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[h]
	return ok && w.host && w.shown
}

// MagnifierSize returns the size the magnifier h was created with.
func (s *Sim) MagnifierSize(h Handle) (Size, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[h]
	if !ok || !w.magnifier {
		return Size{}, false
	}
	return w.magSize, true
}

// LastFrame returns the most recently presented image.
func (s *Sim) LastFrame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}

func gradientFrame(src Rect) CaptureFrame {
	w, h := int(src.Width()), int(src.Height())
	if w <= 0 || h <= 0 {
		return CaptureFrame{}
	}
	stride := w * 4
	pix := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*stride + x*4
			pix[i] = byte(x)   // B
			pix[i+1] = byte(y) // G
			pix[i+2] = 0x80    // R
			pix[i+3] = 0xff    // A
		}
	}
	return FrameFromImage(pix, w, h, stride)
}
