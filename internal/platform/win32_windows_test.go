//go:build windows

package platform

import (
	"testing"

	"github.com/lxn/win"
)

func TestHostExStyle(t *testing.T) {
	tests := []struct {
		noDisturb bool
		topmost   bool
	}{
		{noDisturb: false, topmost: true},
		{noDisturb: true, topmost: false},
	}
	for _, tt := range tests {
		style := hostExStyle(tt.noDisturb)
		for _, want := range []uint32{wsExNoActivate, win.WS_EX_LAYERED, win.WS_EX_TRANSPARENT, win.WS_EX_TOOLWINDOW} {
			if style&want == 0 {
				t.Errorf("hostExStyle(%v) = %#x, missing %#x", tt.noDisturb, style, want)
			}
		}
		if got := style&win.WS_EX_TOPMOST != 0; got != tt.topmost {
			t.Errorf("hostExStyle(%v) topmost = %v", tt.noDisturb, got)
		}
	}
}
