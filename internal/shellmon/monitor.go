// Package shellmon watches shell notifications and decides which of them
// end an overlay session.
package shellmon

import (
	"fmt"

	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

// Qualifies reports whether a shell notification's wParam announces a
// desktop change. Only the low byte carries the status code.
func Qualifies(wParam uintptr) bool {
	switch wParam & 0xff {
	case platform.ShellWindowActivated, platform.ShellWindowReplaced, platform.ShellWindowReplacing:
		return true
	default:
		return false
	}
}

// CodeName returns a readable name for a shell status code.
func CodeName(wParam uintptr) string {
	switch wParam & 0xff {
	case platform.ShellWindowCreated:
		return "window-created"
	case platform.ShellWindowDestroyed:
		return "window-destroyed"
	case platform.ShellActivateShell:
		return "activate-shell"
	case platform.ShellWindowActivated:
		return "window-activated"
	case platform.ShellGetMinRect:
		return "get-min-rect"
	case platform.ShellRedraw:
		return "redraw"
	case platform.ShellTaskMan:
		return "task-man"
	case platform.ShellLanguage:
		return "language"
	case platform.ShellAccessibility:
		return "accessibility"
	case platform.ShellAppCommand:
		return "app-command"
	case platform.ShellWindowReplaced:
		return "window-replaced"
	case platform.ShellWindowReplacing:
		return "window-replacing"
	default:
		return fmt.Sprintf("code-%d", wParam&0xff)
	}
}

// Monitor holds a host window's shell hook registration.
type Monitor struct {
	backend   platform.Backend
	host      platform.Handle
	messageID uint32
}

// Register subscribes host to shell notifications.
func Register(b platform.Backend, host platform.Handle) (*Monitor, error) {
	id, err := b.RegisterShellHook(host)
	if err != nil {
		return nil, err
	}
	logger.WithComponent("shellmon").Debug().
		Uint32("message_id", id).
		Msg("Registered shell hook")
	return &Monitor{backend: b, host: host, messageID: id}, nil
}

// MessageID returns the registered shell message id.
func (m *Monitor) MessageID() uint32 { return m.messageID }

// Deregister undoes Register. Calling it again is a no-op.
func (m *Monitor) Deregister() error {
	if m.messageID == 0 {
		return nil
	}
	m.messageID = 0
	return m.backend.DeregisterShellHook(m.host)
}

// Handle classifies msg. ok is false when msg is not a shell notification;
// teardown is true when it is one that must end the session.
func (m *Monitor) Handle(msg platform.Message) (teardown, ok bool) {
	if m.messageID == 0 || msg.ID != m.messageID {
		return false, false
	}
	return Qualifies(msg.WParam), true
}
