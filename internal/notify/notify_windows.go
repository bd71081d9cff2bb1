//go:build windows

package notify

import (
	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

// MessageBox shows errors in a system-modal message box. Info
// notifications are logged only.
type MessageBox struct {
	boxes *onScreen
}

func newNative() (Notifier, error) { return MessageBox{boxes: &onScreen{}}, nil }

// Notify logs the notification and, for errors, shows a message box on its
// own goroutine so the caller's message loop keeps running.
func (m MessageBox) Notify(level Level, title, body string) error {
	logNotification(level, title, body)
	if level != Error {
		return nil
	}
	caption, err := windows.UTF16PtrFromString(AppName + ": " + title)
	if err != nil {
		return err
	}
	text, err := windows.UTF16PtrFromString(body)
	if err != nil {
		return err
	}
	m.boxes.show(func() {
		win.MessageBox(0, text, caption, win.MB_OK|win.MB_ICONERROR|win.MB_SYSTEMMODAL)
	})
	return nil
}

// Close waits until every open box is dismissed.
func (m MessageBox) Close() error {
	m.boxes.wait()
	return nil
}
