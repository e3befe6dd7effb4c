// Package presence tracks which users are online and who is typing in which
// conversation, fed by realtime channel events.
package presence

import (
	"sort"
	"sync"
)

// Tracker maintains the set of online user ids.
//
// Two event shapes feed the same set: plain online/offline events and the
// role-specific status updates carrying an explicit isOnline flag. The last
// event per user wins.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// NewTracker creates an empty presence tracker.
func NewTracker() *Tracker {
	return &Tracker{online: make(map[string]struct{})}
}

// HandleOnline records a user_online event.
func (t *Tracker) HandleOnline(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[userID] = struct{}{}
}

// HandleOffline records a user_offline event.
func (t *Tracker) HandleOffline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.online, userID)
}

// HandleStatusUpdate records a merchant/customer status update event.
func (t *Tracker) HandleStatusUpdate(userID string, isOnline bool) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if isOnline {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
}

// IsOnline reports set membership for userID.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// OnlineUsers returns the online set, sorted for stable output.
func (t *Tracker) OnlineUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	users := make([]string, 0, len(t.online))
	for id := range t.online {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// Reset clears all presence state, used on disconnect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]struct{})
}
