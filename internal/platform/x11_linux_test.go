//go:build linux

package platform

import (
	"testing"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

func TestForwardEventsStopsWhenLoopQuits(t *testing.T) {
	wait := func() (xgb.Event, xgb.Error) { return xproto.PropertyNotifyEvent{}, nil }
	events := make(chan xgb.Event)
	quit := make(chan struct{})

	returned := make(chan struct{})
	go func() {
		forwardEvents(wait, events, quit)
		close(returned)
	}()

	<-events
	close(quit)

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("forwardEvents blocked on send after quit")
	}
	if _, ok := <-events; ok {
		t.Fatal("events not closed")
	}
}

func TestForwardEventsClosesOnDisconnect(t *testing.T) {
	calls := 0
	wait := func() (xgb.Event, xgb.Error) {
		calls++
		if calls == 1 {
			return xproto.PropertyNotifyEvent{Atom: 7}, nil
		}
		return nil, nil
	}
	events := make(chan xgb.Event, 4)
	forwardEvents(wait, events, make(chan struct{}))

	ev, ok := <-events
	if !ok || ev.(xproto.PropertyNotifyEvent).Atom != 7 {
		t.Fatalf("first event = %v, %v", ev, ok)
	}
	if _, ok := <-events; ok {
		t.Fatal("events not closed after disconnect")
	}
}
