package platform

import "sync"

type invocation struct {
	fn   func()
	done chan struct{}
}

func (c invocation) run() {
	defer close(c.done)
	c.fn()
}

// invoker hands functions to a loop goroutine. A caller racing the loop's
// exit gets ErrLoopNotRunning instead of blocking.
type invoker struct {
	mu      sync.Mutex
	calls   chan invocation
	stopped chan struct{}
}

func newInvoker() *invoker {
	return &invoker{calls: make(chan invocation)}
}

// start opens the invoker for a loop run.
func (v *invoker) start() {
	v.mu.Lock()
	v.stopped = make(chan struct{})
	v.mu.Unlock()
}

// stop closes the invoker and releases callers waiting to hand off.
func (v *invoker) stop() {
	v.mu.Lock()
	if v.stopped != nil {
		close(v.stopped)
		v.stopped = nil
	}
	v.mu.Unlock()
}

// invoke runs fn on the loop goroutine and waits for it. Once the loop has
// received a call it runs it before looking at anything else, so waiting on
// done cannot outlive the loop.
func (v *invoker) invoke(fn func()) error {
	v.mu.Lock()
	stopped := v.stopped
	v.mu.Unlock()
	if stopped == nil {
		return ErrLoopNotRunning
	}

	call := invocation{fn: fn, done: make(chan struct{})}
	select {
	case v.calls <- call:
	case <-stopped:
		return ErrLoopNotRunning
	}
	<-call.done
	return nil
}
