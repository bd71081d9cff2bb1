package shellmon

import (
	"testing"

	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

func TestQualifies(t *testing.T) {
	tests := []struct {
		wParam uintptr
		want   bool
	}{
		{platform.ShellWindowActivated, true},
		{platform.ShellWindowReplaced, true},
		{platform.ShellWindowReplacing, true},
		{platform.ShellRudeAppActivated, true}, // low byte is 4
		{0x1204, true},
		{platform.ShellWindowCreated, false},
		{platform.ShellWindowDestroyed, false},
		{platform.ShellRedraw, false},
		{platform.ShellAppCommand, false},
		{0x0100, false},
	}
	for _, tt := range tests {
		if got := Qualifies(tt.wParam); got != tt.want {
			t.Errorf("Qualifies(%#x) = %v, want %v", tt.wParam, got, tt.want)
		}
	}
}

func TestMonitorHandle(t *testing.T) {
	sim := platform.NewSim(platform.SimOptions{})
	_ = sim.RegisterHostClass(func(platform.Message) (uintptr, bool) { return 0, false })
	host, err := sim.CreateHostWindow(platform.HostWindowOptions{})
	if err != nil {
		t.Fatal(err)
	}

	m, err := Register(sim, host)
	if err != nil {
		t.Fatal(err)
	}
	id := m.MessageID()

	if teardown, ok := m.Handle(platform.Message{ID: id, WParam: platform.ShellWindowActivated}); !ok || !teardown {
		t.Fatalf("activated: teardown=%v ok=%v", teardown, ok)
	}
	if teardown, ok := m.Handle(platform.Message{ID: id, WParam: platform.ShellRedraw}); !ok || teardown {
		t.Fatalf("redraw: teardown=%v ok=%v", teardown, ok)
	}
	if _, ok := m.Handle(platform.Message{ID: platform.WMTimer}); ok {
		t.Fatal("timer classified as shell message")
	}

	if err := m.Deregister(); err != nil {
		t.Fatal(err)
	}
	if err := m.Deregister(); err != nil {
		t.Fatalf("second Deregister: %v", err)
	}
	if _, ok := m.Handle(platform.Message{ID: id, WParam: platform.ShellWindowActivated}); ok {
		t.Fatal("deregistered monitor still classifies messages")
	}
}

func TestCodeName(t *testing.T) {
	if got := CodeName(0x8004); got != "window-activated" {
		t.Fatalf("CodeName(0x8004) = %q", got)
	}
	if got := CodeName(99); got != "code-99" {
		t.Fatalf("CodeName(99) = %q", got)
	}
}
