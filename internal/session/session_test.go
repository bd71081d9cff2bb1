package session

import (
	"errors"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusMirror/internal/effects"
	"github.com/bryanchriswhite/FocusMirror/internal/imaging"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

var sourceRect = platform.Rect{Left: 100, Top: 100, Right: 740, Bottom: 580}

func newDesktop(t *testing.T) (*platform.Sim, platform.Handle) {
	t.Helper()
	t.Cleanup(Shutdown)
	sim := platform.NewSim(platform.SimOptions{})
	src := sim.AddWindow("source", sourceRect, true)
	return sim, src
}

func mustCreate(t *testing.T, sim *platform.Sim, opts Options) *Session {
	t.Helper()
	s, err := Create(Deps{Backend: sim}, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

// assertReleased checks that only the source application window is left.
func assertReleased(t *testing.T, sim *platform.Sim) {
	t.Helper()
	st := sim.Stats()
	if st.Windows != 1 || st.HostWindows != 0 || st.Magnifiers != 0 || st.Timers != 0 ||
		st.RuntimeDepth != 0 || st.MagInit || st.ClassActive {
		t.Fatalf("resources left behind: %+v", st)
	}
	if Current() != nil {
		t.Fatal("slot still occupied")
	}
}

func TestCreateRejectsInvalidFrameRate(t *testing.T) {
	sim, src := newDesktop(t)
	for _, rate := range []uint32{1, 29, 121, 240} {
		_, err := Create(Deps{Backend: sim}, Options{Source: src, FrameRate: rate})
		if !errors.Is(err, ErrInvalidFrameRate) {
			t.Errorf("rate %d: err = %v", rate, err)
		}
	}
	if sim.Calls("InitRuntime") != 0 {
		t.Fatal("resources touched before rate validation")
	}
	assertReleased(t, sim)
}

func TestCreateRejectsInvalidSourceWithoutAllocating(t *testing.T) {
	sim, _ := newDesktop(t)
	hidden := sim.AddWindow("hidden", sourceRect, false)

	for _, h := range []platform.Handle{0, hidden, 0xdead} {
		_, err := Create(Deps{Backend: sim}, Options{Source: h, FrameRate: 60})
		if !errors.Is(err, ErrInvalidSourceWindow) {
			t.Errorf("source %#x: err = %v", h, err)
		}
	}
	if sim.Calls("InitRuntime") != 0 || sim.Calls("RegisterHostClass") != 0 {
		t.Fatal("platform resources allocated for invalid source")
	}
}

func TestSingleInstance(t *testing.T) {
	sim, src := newDesktop(t)
	first := mustCreate(t, sim, Options{Source: src, FrameRate: 60})

	// Already-active wins over every other precondition.
	_, err := Create(Deps{Backend: sim}, Options{Source: 0, FrameRate: 7})
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Create err = %v", err)
	}
	if Current() != first {
		t.Fatal("slot changed by rejected Create")
	}

	first.Destroy()
	second := mustCreate(t, sim, Options{Source: src, FrameRate: 60})
	if Current() != second {
		t.Fatal("slot not reusable after Destroy")
	}
}

func TestEndToEndFixedRate(t *testing.T) {
	sim, src := newDesktop(t)
	events := Subscribe()
	defer Unsubscribe(events)

	s := mustCreate(t, sim, Options{Source: src, FrameRate: 30})
	if s.SourceRect() != sourceRect {
		t.Fatalf("SourceRect = %s, want %s", s.SourceRect(), sourceRect)
	}
	if !sim.HostShown(s.Host()) {
		t.Fatal("host not shown")
	}
	if size, ok := sim.MagnifierSize(s.mag); !ok || size != sourceRect.Size() {
		t.Fatalf("magnifier size = %v", size)
	}

	sim.Advance(5 * 33 * time.Millisecond)

	st := sim.Stats()
	if st.Captures != 5 || st.Consumed != 5 || st.Presented != 5 {
		t.Fatalf("after five cycles: %+v", st)
	}
	for _, r := range sim.CaptureRects() {
		if r != sourceRect {
			t.Fatalf("captured %v, want %v", r, sourceRect)
		}
	}
	frame := sim.LastFrame()
	if frame == nil || frame.Bounds() != image.Rect(0, 0, 640, 480) {
		t.Fatal("presented frame missing or wrong size")
	}
	status := s.Status()
	if !status.Active || status.Mode != "interval" || status.Frames.Consumed != 5 {
		t.Fatalf("status = %+v", status)
	}

	s.Destroy()
	assertReleased(t, sim)
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
	if s.EndReason() != ReasonRequested {
		t.Fatalf("EndReason = %q", s.EndReason())
	}

	sim.Advance(time.Second)
	if got := sim.Stats().Captures; got != 5 {
		t.Fatalf("captures after Destroy = %d", got)
	}

	if ev := <-events; ev.Type != EventStarted || ev.Source != src {
		t.Fatalf("first event = %+v", ev)
	}
	if ev := <-events; ev.Type != EventEnded || ev.Reason != ReasonRequested {
		t.Fatalf("second event = %+v", ev)
	}
}

func TestMaxRateChainHaltsAfterDestroy(t *testing.T) {
	sim, src := newDesktop(t)
	s := mustCreate(t, sim, Options{Source: src, FrameRate: 0})

	for i := 0; i < 3; i++ {
		if !sim.Step() {
			t.Fatalf("cycle %d: no signal queued", i)
		}
	}
	if got := sim.Stats().Captures; got != 3 {
		t.Fatalf("captures = %d", got)
	}

	s.Destroy()
	sim.Drain(100)
	if got := sim.Stats().Captures; got != 3 {
		t.Fatalf("captures after Destroy = %d", got)
	}
	if sim.Pending() != 0 {
		t.Fatalf("%d messages left queued", sim.Pending())
	}
	assertReleased(t, sim)
}

func TestShellNotifications(t *testing.T) {
	tests := []struct {
		code     uintptr
		teardown bool
	}{
		{platform.ShellWindowActivated, true},
		{platform.ShellWindowReplaced, true},
		{platform.ShellWindowReplacing, true},
		{platform.ShellRudeAppActivated, true},
		{platform.ShellWindowCreated, false},
		{platform.ShellWindowDestroyed, false},
		{platform.ShellRedraw, false},
	}
	for _, tt := range tests {
		t.Run(fmtCode(tt.code), func(t *testing.T) {
			sim, src := newDesktop(t)
			s := mustCreate(t, sim, Options{Source: src, FrameRate: 60})
			defProc := sim.Stats().DefProc

			sim.EmitShell(tt.code, src)

			if tt.teardown {
				if Current() != nil {
					t.Fatal("session survived qualifying notification")
				}
				if s.EndReason() != ReasonDesktopChanged {
					t.Fatalf("EndReason = %q", s.EndReason())
				}
				assertReleased(t, sim)
				return
			}
			if Current() != s {
				t.Fatal("session ended on non-qualifying notification")
			}
			if sim.Stats().DefProc != defProc+1 {
				t.Fatal("non-qualifying notification not passed to default procedure")
			}
		})
	}
}

func fmtCode(c uintptr) string { return fmt.Sprintf("%#04x", c) }

func TestDestroyIsIdempotent(t *testing.T) {
	sim, src := newDesktop(t)
	s := mustCreate(t, sim, Options{Source: src, FrameRate: 120})

	s.Destroy()
	s.Destroy()
	Shutdown()

	if n := sim.Calls("UninitMagnification"); n != 1 {
		t.Fatalf("UninitMagnification called %d times", n)
	}
	if n := sim.Calls("UnregisterHostClass"); n != 1 {
		t.Fatalf("UnregisterHostClass called %d times", n)
	}
	assertReleased(t, sim)
}

func TestDestroyNilSessionIsNoop(t *testing.T) {
	sim, src := newDesktop(t)
	var never *Session
	never.Destroy()

	failed, err := Create(Deps{Backend: sim}, Options{Source: src, FrameRate: 7})
	if err == nil {
		t.Fatal("Create accepted rate 7")
	}
	failed.Destroy()
	assertReleased(t, sim)
}

func TestCreateFailureUnwinds(t *testing.T) {
	tests := []struct {
		step string
		rate uint32
	}{
		{"InitRuntime", 30},
		{"ClientScreenRect", 30},
		{"RegisterHostClass", 30},
		{"InitMagnification", 30},
		{"ScreenSize", 30},
		{"CreateHostWindow", 30},
		{"CreateMagnifier", 30},
		{"ShowWindow", 30},
		{"SetTimer", 30},
		{"PostMessage", 0},
		{"RegisterShellHook", 30},
	}
	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			sim, src := newDesktop(t)
			boom := errors.New("boom")
			sim.Fail(tt.step, boom)

			_, err := Create(Deps{Backend: sim}, Options{Source: src, FrameRate: tt.rate})
			if !errors.Is(err, boom) {
				t.Fatalf("err = %v, want boom", err)
			}
			assertReleased(t, sim)

			sim.Fail(tt.step, nil)
			s := mustCreate(t, sim, Options{Source: src, FrameRate: tt.rate})
			s.Destroy()
		})
	}
}

type countingFactory struct {
	imaging.MemoryFactory
	closed int
}

func (f *countingFactory) Close() error {
	f.closed++
	return nil
}

func TestCreateFailsWhenFactoryFails(t *testing.T) {
	sim, src := newDesktop(t)
	boom := errors.New("no imaging")
	_, err := Create(Deps{
		Backend:    sim,
		NewFactory: func() (imaging.Factory, error) { return nil, boom },
	}, Options{Source: src, FrameRate: 60})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want factory error", err)
	}
	assertReleased(t, sim)
}

func TestCreateFailureClosesFactory(t *testing.T) {
	sim, src := newDesktop(t)
	factory := &countingFactory{}
	deps := Deps{
		Backend:    sim,
		NewFactory: func() (imaging.Factory, error) { return factory, nil },
	}

	sim.Fail("CreateMagnifier", errors.New("boom"))
	if _, err := Create(deps, Options{Source: src, FrameRate: 60}); err == nil {
		t.Fatal("Create succeeded")
	}
	if factory.closed != 1 {
		t.Fatalf("factory closed %d times", factory.closed)
	}
	assertReleased(t, sim)

	sim.Fail("CreateMagnifier", nil)
	s, err := Create(deps, Options{Source: src, FrameRate: 60})
	if err != nil {
		t.Fatal(err)
	}
	s.Destroy()
	if factory.closed != 2 {
		t.Fatalf("factory closed %d times after Destroy", factory.closed)
	}
}

func TestCreateFailsOnBadEffects(t *testing.T) {
	sim, src := newDesktop(t)
	_, err := Create(Deps{Backend: sim}, Options{Source: src, FrameRate: 30, Effects: `[{"effect":"warp"}]`})
	if !errors.Is(err, effects.ErrUnknownEffect) {
		t.Fatalf("err = %v", err)
	}
	assertReleased(t, sim)
}

func TestCreateRejectsEmptyClientArea(t *testing.T) {
	sim, _ := newDesktop(t)
	flat := sim.AddWindow("flat", platform.Rect{Left: 10, Top: 10, Right: 10, Bottom: 50}, true)
	_, err := Create(Deps{Backend: sim}, Options{Source: flat, FrameRate: 30})
	if !errors.Is(err, ErrInvalidSourceWindow) {
		t.Fatalf("err = %v", err)
	}
	st := sim.Stats()
	if st.HostWindows != 0 || st.RuntimeDepth != 0 || st.ClassActive {
		t.Fatalf("resources left behind: %+v", st)
	}
}

func TestRejectedFramesKeepSessionAlive(t *testing.T) {
	t.Cleanup(Shutdown)
	sim := platform.NewSim(platform.SimOptions{
		FrameSource: func(src platform.Rect) platform.CaptureFrame {
			w, h := int(src.Width()), int(src.Height())
			return platform.FrameFromImage(make([]byte, w*h*3), w, h, w*3)
		},
	})
	src := sim.AddWindow("source", sourceRect, true)
	s := mustCreate(t, sim, Options{Source: src, FrameRate: 60})

	sim.Advance(100 * time.Millisecond)
	st := s.Status()
	if st.Frames.Rejected == 0 || st.Frames.Consumed != 0 || st.Presented != 0 {
		t.Fatalf("status = %+v", st)
	}
	if Current() != s {
		t.Fatal("rejected frames ended the session")
	}
}

func TestExtraPresentersReceiveFrames(t *testing.T) {
	sim, src := newDesktop(t)
	var got int
	extra := effects.PresenterFunc(func(*image.RGBA) error { got++; return nil })

	s, err := Create(Deps{Backend: sim, Presenters: []effects.Presenter{extra}}, Options{Source: src, FrameRate: 30})
	if err != nil {
		t.Fatal(err)
	}
	sim.Advance(66 * time.Millisecond)
	if got != 2 {
		t.Fatalf("extra presenter got %d frames", got)
	}
	s.Destroy()
}

func TestReleaseStackUnwindsInReverse(t *testing.T) {
	var order []string
	var r releaseStack
	for _, name := range []string{"a", "b", "c"} {
		name := name
		r.push(name, func() error {
			order = append(order, name)
			if name == "b" {
				return errors.New("b failed")
			}
			return nil
		})
	}
	if got := r.names(); len(got) != 3 {
		t.Fatalf("names = %v", got)
	}

	log := zerolog.Nop()
	r.unwind(&log)
	r.unwind(&log)

	if len(order) != 3 || order[0] != "c" || order[1] != "b" || order[2] != "a" {
		t.Fatalf("order = %v", order)
	}
}

func TestClassify(t *testing.T) {
	const shell = 0xC0A7
	tests := []struct {
		msg  platform.Message
		want EventKind
	}{
		{platform.Message{ID: platform.WMTimer, WParam: 1}, EventTimer},
		{platform.Message{ID: platform.WMTimer, WParam: 2}, EventOther},
		{platform.Message{ID: platform.WMUser}, EventMaxRate},
		{platform.Message{ID: shell, WParam: 4}, EventShell},
		{platform.Message{ID: 0x000F}, EventOther},
	}
	for _, tt := range tests {
		if got := Classify(tt.msg, shell); got != tt.want {
			t.Errorf("Classify(%+v) = %v, want %v", tt.msg, got, tt.want)
		}
	}
	if got := Classify(platform.Message{ID: 0}, 0); got != EventOther {
		t.Errorf("unregistered shell id classified as %v", got)
	}
}
