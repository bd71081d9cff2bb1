package platform

import (
	"errors"
	"testing"
	"time"
)

func TestInvokerRejectsWhenStopped(t *testing.T) {
	v := newInvoker()
	if err := v.invoke(func() {}); !errors.Is(err, ErrLoopNotRunning) {
		t.Fatalf("invoke before start = %v", err)
	}
	v.start()
	v.stop()
	v.stop()
	if err := v.invoke(func() {}); !errors.Is(err, ErrLoopNotRunning) {
		t.Fatalf("invoke after stop = %v", err)
	}
}

func TestInvokerReleasesCallerWhenLoopExits(t *testing.T) {
	v := newInvoker()
	v.start()

	// Nothing receives on calls, as when the loop has already returned.
	result := make(chan error, 1)
	go func() { result <- v.invoke(func() { t.Error("call ran after loop exit") }) }()

	time.Sleep(10 * time.Millisecond)
	v.stop()

	select {
	case err := <-result:
		if !errors.Is(err, ErrLoopNotRunning) {
			t.Fatalf("invoke = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invoke blocked after loop exit")
	}
}

func TestInvokerRunsReceivedCall(t *testing.T) {
	v := newInvoker()
	v.start()
	defer v.stop()

	go func() {
		call := <-v.calls
		call.run()
	}()

	var ran bool
	if err := v.invoke(func() { ran = true }); err != nil || !ran {
		t.Fatalf("invoke = %v, ran = %v", err, ran)
	}
}
