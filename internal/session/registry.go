package session

import "sync"

// The process holds at most one session. creating reserves the slot while
// Create runs so reentrant calls fail fast.
var (
	slotMu   sync.Mutex
	current  *Session
	creating bool
)

// Current returns the live session, or nil.
func Current() *Session {
	slotMu.Lock()
	defer slotMu.Unlock()
	return current
}

// Active reports whether a session is live.
func Active() bool {
	return Current() != nil
}

func reserve() error {
	slotMu.Lock()
	defer slotMu.Unlock()
	if current != nil || creating {
		return ErrAlreadyActive
	}
	creating = true
	return nil
}

func commit(s *Session) {
	slotMu.Lock()
	current = s
	creating = false
	slotMu.Unlock()
}

func abandon() {
	slotMu.Lock()
	creating = false
	slotMu.Unlock()
}

// vacate empties the slot if it still holds s.
func vacate(s *Session) bool {
	slotMu.Lock()
	defer slotMu.Unlock()
	if current != s {
		return false
	}
	current = nil
	return true
}

func isCurrent(s *Session) bool {
	slotMu.Lock()
	defer slotMu.Unlock()
	return current == s
}
