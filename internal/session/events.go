package session

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

// EndReason says why a session ended.
type EndReason string

const (
	ReasonNone           EndReason = ""
	ReasonRequested      EndReason = "requested"
	ReasonDesktopChanged EndReason = "desktop-changed"
	ReasonShutdown       EndReason = "shutdown"
)

// EventType distinguishes lifecycle events.
type EventType string

const (
	EventStarted EventType = "started"
	EventEnded   EventType = "ended"
)

// Event is published to subscribers when a session starts or ends.
type Event struct {
	Type      EventType       `json:"type"`
	Source    platform.Handle `json:"source"`
	FrameRate uint32          `json:"frame_rate"`
	Reason    EndReason       `json:"reason,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Time      time.Time       `json:"time"`
}

var (
	subMu       sync.Mutex
	subscribers = map[chan Event]struct{}{}
)

// Subscribe returns a channel receiving every lifecycle event. Slow
// subscribers miss events rather than block the loop thread.
func Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	subMu.Lock()
	subscribers[ch] = struct{}{}
	subMu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func Unsubscribe(ch <-chan Event) {
	subMu.Lock()
	defer subMu.Unlock()
	for c := range subscribers {
		if c == ch {
			delete(subscribers, c)
			close(c)
			return
		}
	}
}

func publish(ev Event) {
	subMu.Lock()
	defer subMu.Unlock()
	for c := range subscribers {
		select {
		case c <- ev:
		default:
		}
	}
}
