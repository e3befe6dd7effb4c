package notification

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// realtimeLimit bounds the in-memory list of push-delivered records to the
// most recent entries; the poll baseline carries the rest of the history.
const realtimeLimit = 10

// Aggregator merges adapter outputs, dedupes, sorts and maintains the count
// invariants: unread == Σ byType, all counters ≥ 0, checked after every
// mutation.
//
// The sources race freely; the merge and replacement rules below resolve
// their conflicts.
type Aggregator struct {
	log zerolog.Logger

	mu       sync.Mutex
	realtime []Record // newest first
	baseline []Record // authoritative server page, replaced wholesale
	chats    []Record // derived, one per conversation with unread messages
	offers   []Record // derived, one per fresh pending offer
	counts   Counts
	merged   []Record
}

// NewAggregator creates an empty aggregator.
func NewAggregator(log zerolog.Logger) *Aggregator {
	return &Aggregator{log: log, counts: newCounts()}
}

// AddRealtime prepends a push-delivered record, trims the realtime list to
// its bound and bumps the counters by one.
func (a *Aggregator) AddRealtime(rec Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.realtime = append([]Record{rec}, a.realtime...)
	if len(a.realtime) > realtimeLimit {
		a.realtime = a.realtime[:realtimeLimit]
	}
	a.counts.Total++
	if !rec.IsRead {
		a.counts.Unread++
		a.counts.ByType[rec.Type]++
	}
	a.remergeLocked()
}

// ReplaceBaseline installs an authoritative server snapshot: the baseline
// records and counters are replaced, not appended, and the realtime list is
// folded away (the server page already reflects those events). Records and
// counts reset together so the invariant never observably breaks
// mid-replacement.
func (a *Aggregator) ReplaceBaseline(records []Record, server Counts) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.realtime = nil
	a.baseline = append([]Record(nil), records...)

	a.counts = Counts{
		Total:  server.Total,
		Unread: server.Unread,
		ByType: make(map[Type]int, len(server.ByType)),
	}
	for typ, n := range server.ByType {
		a.counts.ByType[typ] = n
	}
	// Derived records live outside the server's books; re-apply their
	// contribution on top of the authoritative counters.
	a.applyDerivedLocked(a.chats, true)
	a.applyDerivedLocked(a.offers, false)
	a.remergeLocked()
}

// SetChatRecords replaces the derived-chat records. The unread-chat counter
// is the number of conversations with unread messages, not the per-message
// sum.
func (a *Aggregator) SetChatRecords(records []Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.removeDerivedLocked(a.chats, true)
	a.chats = append([]Record(nil), records...)
	a.applyDerivedLocked(a.chats, true)
	a.remergeLocked()
}

// SetOfferRecords replaces the derived-offer records.
func (a *Aggregator) SetOfferRecords(records []Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.removeDerivedLocked(a.offers, false)
	a.offers = append([]Record(nil), records...)
	a.applyDerivedLocked(a.offers, false)
	a.remergeLocked()
}

func (a *Aggregator) applyDerivedLocked(records []Record, chats bool) {
	for _, rec := range records {
		a.counts.Total++
		if !rec.IsRead {
			a.counts.Unread++
			a.counts.ByType[rec.Type]++
			if chats {
				a.counts.UnreadChats += chatContribution(rec)
			}
		}
	}
	a.checkCountsLocked()
}

func (a *Aggregator) removeDerivedLocked(records []Record, chats bool) {
	for _, rec := range records {
		a.counts.Total--
		if !rec.IsRead {
			a.counts.Unread--
			a.counts.ByType[rec.Type]--
			if chats {
				a.counts.UnreadChats -= chatContribution(rec)
			}
		}
	}
	a.checkCountsLocked()
}

func chatContribution(rec Record) int {
	if rec.UnreadCount <= 0 {
		return 1
	}
	return rec.UnreadCount
}

// MarkRead flips one record to read and decrements the matching counters,
// floored at zero. Chat-derived records additionally decrement the
// unread-chat counter by their declared contribution, bridging the two
// counting schemes.
func (a *Aggregator) MarkRead(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := a.findLocked(id)
	if rec == nil || rec.IsRead {
		return rec != nil
	}
	rec.IsRead = true
	a.counts.Unread--
	a.counts.ByType[rec.Type]--
	if rec.Source == SourceChat {
		a.counts.UnreadChats -= chatContribution(*rec)
	}
	a.checkCountsLocked()
	a.remergeLocked()
	return true
}

// MarkAllRead flips every record to read and zeroes every unread counter in
// one step; callers never observe a half-applied state. Idempotent.
func (a *Aggregator) MarkAllRead() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, list := range [][]Record{a.realtime, a.baseline, a.chats, a.offers} {
		for i := range list {
			list[i].IsRead = true
		}
	}
	a.counts.Unread = 0
	a.counts.UnreadChats = 0
	for typ := range a.counts.ByType {
		a.counts.ByType[typ] = 0
	}
	a.remergeLocked()
}

// Notifications returns the merged, sorted view.
func (a *Aggregator) Notifications() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Record, len(a.merged))
	copy(out, a.merged)
	return out
}

// Counts returns a copy of the current counters.
func (a *Aggregator) Counts() Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts.clone()
}

// findLocked locates a record by id across the owning slices so mutation
// survives the next remerge.
func (a *Aggregator) findLocked(id string) *Record {
	for _, list := range [][]Record{a.realtime, a.baseline, a.chats, a.offers} {
		for i := range list {
			if list[i].ID == id {
				return &list[i]
			}
		}
	}
	return nil
}

// remergeLocked rebuilds the visible list: concatenate sources, drop
// realtime/poll records superseded by a derived-chat record for the same
// conversation (the derived record carries richer navigation metadata), drop
// id duplicates, then stable-sort by priority desc, createdAt desc.
func (a *Aggregator) remergeLocked() {
	chatSources := make(map[string]struct{}, len(a.chats))
	for _, rec := range a.chats {
		if rec.SourceID != "" {
			chatSources[rec.SourceID] = struct{}{}
		}
	}

	merged := make([]Record, 0, len(a.realtime)+len(a.baseline)+len(a.chats)+len(a.offers))
	seen := make(map[string]struct{})
	appendRec := func(rec Record, superseded bool) {
		if superseded {
			return
		}
		if _, dup := seen[rec.ID]; dup {
			return
		}
		seen[rec.ID] = struct{}{}
		merged = append(merged, rec)
	}

	for _, rec := range a.realtime {
		_, superseded := chatSources[rec.SourceID]
		appendRec(rec, superseded)
	}
	for _, rec := range a.baseline {
		_, superseded := chatSources[rec.SourceID]
		appendRec(rec, superseded)
	}
	for _, rec := range a.chats {
		appendRec(rec, false)
	}
	for _, rec := range a.offers {
		appendRec(rec, false)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Priority != merged[j].Priority {
			return merged[i].Priority > merged[j].Priority
		}
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	a.merged = merged
}

// checkCountsLocked enforces the count invariants after a mutation: no
// counter below zero and unread == Σ byType. Violations are repaired and
// logged rather than propagated.
func (a *Aggregator) checkCountsLocked() {
	if a.counts.Total < 0 {
		a.counts.Total = 0
	}
	if a.counts.Unread < 0 {
		a.counts.Unread = 0
	}
	if a.counts.UnreadChats < 0 {
		a.counts.UnreadChats = 0
	}
	sum := 0
	for typ, n := range a.counts.ByType {
		if n < 0 {
			a.counts.ByType[typ] = 0
			n = 0
		}
		sum += n
	}
	if a.counts.Unread != sum {
		a.log.Warn().
			Int("unread", a.counts.Unread).
			Int("byTypeSum", sum).
			Msg("notification counters diverged, repairing")
		a.counts.Unread = sum
	}
}
