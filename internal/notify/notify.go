// Package notify shows user-visible diagnostics: a failed overlay start and
// an overlay ended because the desktop changed. Every notification is also
// logged.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/session"
)

// AppName is shown as the notification source.
const AppName = "FocusMirror"

// Level is the severity of a notification.
type Level int

const (
	Info Level = iota
	Error
)

func (l Level) String() string {
	if l == Error {
		return "error"
	}
	return "info"
}

// Notifier delivers notifications. Close waits for notifications that are
// still on screen, so a process about to exit does not take them down.
type Notifier interface {
	Notify(level Level, title, body string) error
	Close() error
}

// onScreen runs blocking notification displays off the caller's goroutine
// and lets Close wait for them.
type onScreen struct {
	wg sync.WaitGroup
}

func (o *onScreen) show(display func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		display()
	}()
}

func (o *onScreen) wait() { o.wg.Wait() }

// New returns the desktop notifier for this platform, or a log-only
// notifier when enabled is false or the desktop service is unavailable.
func New(enabled bool) Notifier {
	if !enabled {
		return Log{}
	}
	n, err := newNative()
	if err != nil {
		logger.WithComponent("notify").Debug().Err(err).Msg("Desktop notifications unavailable, logging only")
		return Log{}
	}
	return n
}

// Log only writes notifications to the log.
type Log struct{}

// Notify logs the notification.
func (Log) Notify(level Level, title, body string) error {
	logNotification(level, title, body)
	return nil
}

// Close does nothing.
func (Log) Close() error { return nil }

func logNotification(level Level, title, body string) {
	log := logger.WithComponent("notify")
	ev := log.Info()
	if level == Error {
		ev = log.Error()
	}
	ev.Str("title", title).Str("body", body).Msg("Notification")
}

// CreateFailed reports a failed overlay start.
func CreateFailed(n Notifier, err error) {
	send(n, Error, "Overlay failed to start", err.Error())
}

// Watch notifies about every session that ends because the desktop changed,
// until ctx is done. It subscribes before returning; the returned channel is
// closed when the watcher exits.
func Watch(ctx context.Context, n Notifier) <-chan struct{} {
	events := session.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer session.Unsubscribe(events)
		for {
			select {
			case <-ctx.Done():
				// Deliver what was published before shutdown.
				for {
					select {
					case ev, ok := <-events:
						if !ok {
							return
						}
						handle(n, ev)
					default:
						return
					}
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				handle(n, ev)
			}
		}
	}()
	return done
}

func handle(n Notifier, ev session.Event) {
	if ev.Type == session.EventEnded && ev.Reason == session.ReasonDesktopChanged {
		send(n, Info, "Overlay closed", fmt.Sprintf("The desktop changed (%s); the mirror of window %#x was closed.", ev.Detail, uintptr(ev.Source)))
	}
}

func send(n Notifier, level Level, title, body string) {
	if err := n.Notify(level, title, body); err != nil {
		logger.WithComponent("notify").Warn().Err(err).Str("title", title).Msg("Failed to deliver notification")
	}
}
