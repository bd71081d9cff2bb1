package session

import (
	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
	"github.com/bryanchriswhite/FocusMirror/internal/pump"
	"github.com/bryanchriswhite/FocusMirror/internal/shellmon"
)

// EventKind tags a host window message.
type EventKind int

const (
	EventOther EventKind = iota
	EventTimer
	EventMaxRate
	EventShell
)

func (k EventKind) String() string {
	switch k {
	case EventTimer:
		return "timer"
	case EventMaxRate:
		return "max-rate"
	case EventShell:
		return "shell"
	default:
		return "other"
	}
}

// Classify tags msg for a host whose shell hook uses shellMsg.
func Classify(msg platform.Message, shellMsg uint32) EventKind {
	switch {
	case msg.ID == platform.WMTimer && msg.WParam == pump.TimerID:
		return EventTimer
	case msg.ID == pump.SignalMessage:
		return EventMaxRate
	case shellMsg != 0 && msg.ID == shellMsg:
		return EventShell
	default:
		return EventOther
	}
}

// hostProc is the window procedure of the host class. Anything not
// addressed to the live session's host goes to the default procedure.
func hostProc(msg platform.Message) (result uintptr, handled bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("session").Error().
				Interface("panic", r).
				Uint32("message", msg.ID).
				Msg("Host window procedure panicked")
			result, handled = 0, true
		}
	}()

	s := Current()
	if s == nil || msg.Hwnd != s.host {
		return 0, false
	}

	var shellMsg uint32
	if s.monitor != nil {
		shellMsg = s.monitor.MessageID()
	}

	switch Classify(msg, shellMsg) {
	case EventTimer:
		s.pump.HandleTick()
		return 0, true
	case EventMaxRate:
		s.pump.HandleSignal()
		return 0, true
	case EventShell:
		if teardown, _ := s.monitor.Handle(msg); teardown {
			logger.WithComponent("shellmon").Info().
				Str("code", shellmon.CodeName(msg.WParam)).
				Msg("Desktop changed, ending overlay")
			s.end(ReasonDesktopChanged, shellmon.CodeName(msg.WParam))
			return 0, true
		}
		return 0, false
	default:
		return 0, false
	}
}
