package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingExpiry is how long a typing indicator survives without a
// refreshing start.
const DefaultTypingExpiry = 2 * time.Second

// EmitFunc sends a typing event over the realtime channel. It returns false
// when the channel is down; typing events are fire-and-forget either way.
type EmitFunc func(event string, payload map[string]interface{}) bool

const (
	eventTypingStart = "typing_start"
	eventTypingStop  = "typing_stop"
)

type localTyping struct {
	seq   uint64
	timer *time.Timer
}

type remoteTyping struct {
	seq   uint64
	timer *time.Timer
}

// Typing tracks per-conversation typing state: an expiry timer for the local
// user and a remote set per conversation fed by typing_start/stop events.
// Remote entries carry their own expiry timers; a lost typing_stop never
// leaves a user typing forever.
type Typing struct {
	localUser string
	expiry    time.Duration
	emit      EmitFunc

	mu     sync.Mutex
	seq    uint64
	local  map[string]*localTyping             // conversationID -> pending expiry
	remote map[string]map[string]*remoteTyping // conversationID -> typing user ids
	closed bool
}

// NewTyping creates a typing tracker for the local user. A zero expiry uses
// DefaultTypingExpiry.
func NewTyping(localUser string, expiry time.Duration, emit EmitFunc) *Typing {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &Typing{
		localUser: localUser,
		expiry:    expiry,
		emit:      emit,
		local:     make(map[string]*localTyping),
		remote:    make(map[string]map[string]*remoteTyping),
	}
}

// HandleTyping processes a local typing action ("start" or "stop").
//
// "start" emits typing_start and arms an expiry timer that emits typing_stop
// if no further start refreshes it. A repeated start replaces the previous
// timer atomically. The returned cleanup cancels the timer and emits
// typing_stop immediately; it is safe to call more than once.
func (t *Typing) HandleTyping(conversationID, action string) func() {
	if conversationID == "" {
		return func() {}
	}
	if action != "start" {
		t.stopLocal(conversationID, true)
		return func() {}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return func() {}
	}
	if prev, ok := t.local[conversationID]; ok {
		prev.timer.Stop()
	}
	t.seq++
	entry := &localTyping{seq: t.seq}
	seq := entry.seq
	entry.timer = time.AfterFunc(t.expiry, func() {
		t.expireLocal(conversationID, seq)
	})
	t.local[conversationID] = entry
	t.mu.Unlock()

	t.sendTyping(eventTypingStart, conversationID)

	return func() {
		t.cancelLocal(conversationID, seq)
	}
}

// expireLocal fires when the expiry timer elapses without a refresh. A stale
// seq means the entry was refreshed or cancelled while the timer was firing.
func (t *Typing) expireLocal(conversationID string, seq uint64) {
	t.mu.Lock()
	entry, ok := t.local[conversationID]
	if !ok || entry.seq != seq || t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.local, conversationID)
	t.mu.Unlock()

	t.sendTyping(eventTypingStop, conversationID)
}

// cancelLocal is the early-stop path returned from HandleTyping.
func (t *Typing) cancelLocal(conversationID string, seq uint64) {
	t.mu.Lock()
	entry, ok := t.local[conversationID]
	if !ok || entry.seq != seq {
		t.mu.Unlock()
		return
	}
	entry.timer.Stop()
	delete(t.local, conversationID)
	closed := t.closed
	t.mu.Unlock()

	if !closed {
		t.sendTyping(eventTypingStop, conversationID)
	}
}

func (t *Typing) stopLocal(conversationID string, emitStop bool) {
	t.mu.Lock()
	if entry, ok := t.local[conversationID]; ok {
		entry.timer.Stop()
		delete(t.local, conversationID)
	}
	closed := t.closed
	t.mu.Unlock()

	if emitStop && !closed {
		t.sendTyping(eventTypingStop, conversationID)
	}
}

func (t *Typing) sendTyping(event, conversationID string) {
	if t.emit == nil {
		return
	}
	t.emit(event, map[string]interface{}{
		"conversationId": conversationID,
		"userId":         t.localUser,
	})
}

// HandleRemoteStart records a remote typing_start event and arms an expiry
// timer for the (conversation, user) pair. A repeated start replaces the
// previous timer; without a refresh or stop the entry expires on its own.
func (t *Typing) HandleRemoteStart(conversationID, userID string) {
	if conversationID == "" || userID == "" {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	set, ok := t.remote[conversationID]
	if !ok {
		set = make(map[string]*remoteTyping)
		t.remote[conversationID] = set
	}
	if prev, ok := set[userID]; ok {
		prev.timer.Stop()
	}
	t.seq++
	entry := &remoteTyping{seq: t.seq}
	seq := entry.seq
	entry.timer = time.AfterFunc(t.expiry, func() {
		t.expireRemote(conversationID, userID, seq)
	})
	set[userID] = entry
	t.mu.Unlock()
}

// expireRemote fires when a remote entry's timer elapses without a refresh.
// A stale seq means the entry was refreshed or removed while the timer was
// firing.
func (t *Typing) expireRemote(conversationID, userID string, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.remote[conversationID]
	if !ok {
		return
	}
	entry, ok := set[userID]
	if !ok || entry.seq != seq || t.closed {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(t.remote, conversationID)
	}
}

// HandleRemoteStop records a remote typing_stop event.
func (t *Typing) HandleRemoteStop(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.remote[conversationID]; ok {
		if entry, ok := set[userID]; ok {
			entry.timer.Stop()
			delete(set, userID)
		}
		if len(set) == 0 {
			delete(t.remote, conversationID)
		}
	}
}

// TypingUsers returns the users currently typing in a conversation, excluding
// the local user, sorted for stable output.
func (t *Typing) TypingUsers(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.remote[conversationID]
	users := make([]string, 0, len(set))
	for id := range set {
		if id == t.localUser {
			continue
		}
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// Close cancels every pending timer. Timers that already fired become no-ops.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, entry := range t.local {
		entry.timer.Stop()
		delete(t.local, id)
	}
	for _, set := range t.remote {
		for _, entry := range set {
			entry.timer.Stop()
		}
	}
	t.remote = make(map[string]map[string]*remoteTyping)
}
