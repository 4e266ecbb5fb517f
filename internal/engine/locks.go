package engine

import (
	"sync"
)

// lockManager serializes mutations per session. All engine operations on a
// session run under its lock, so ordering and idempotency checks read a
// stable snapshot. Entries count their holder and waiters and are reclaimed
// when the last one releases, so a queued waiter never races a goroutine
// that recreated the entry.
type lockManager struct {
	mu      sync.Mutex
	entries map[string]*sessionLock
}

type sessionLock struct {
	mu      sync.Mutex
	holders int
}

func (m *lockManager) Lock(sessionID string) func() {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[string]*sessionLock)
	}
	l := m.entries[sessionID]
	if l == nil {
		l = &sessionLock{}
		m.entries[sessionID] = l
	}
	l.holders++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		m.mu.Lock()
		l.holders--
		if l.holders == 0 {
			delete(m.entries, sessionID)
		}
		m.mu.Unlock()
		l.mu.Unlock()
	}
}
