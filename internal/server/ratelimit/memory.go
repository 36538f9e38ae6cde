package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Window is one client's fixed admission window.
type Window struct {
	Count int
	Start time.Time
}

// MemoryStore keeps windows in a bounded LRU local to this process.
// Entries expire after one window, so idle clients cost nothing.
type MemoryStore struct {
	mu      sync.Mutex
	windows *expirable.LRU[string, Window]
}

func NewMemoryStore(maxClients int, window time.Duration) *MemoryStore {
	return &MemoryStore{
		windows: expirable.NewLRU[string, Window](maxClients, nil, window),
	}
}

// Hit applies the fixed-window transition under a single lock so the
// check and the increment cannot interleave.
func (m *MemoryStore) Hit(_ context.Context, clientID string, now time.Time, window time.Duration, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows.Get(clientID)
	switch {
	case !ok, now.Sub(w.Start) >= window:
		w = Window{Count: 1, Start: now}
	case w.Count < limit:
		w.Count++
	default:
		return w.Count, false, nil
	}

	m.windows.Add(clientID, w)
	return w.Count, true, nil
}
