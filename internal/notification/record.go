// Package notification merges notifications from three independent sources
// (realtime push, REST polling, locally derived chat/offer state) into one
// deduplicated, priority-ordered view with count invariants.
package notification

import "time"

// Type buckets notifications for the per-type unread counters.
type Type string

const (
	TypeMessage Type = "message"
	TypeOffer   Type = "offer"
	TypeRequest Type = "service_request"
	TypeSystem  Type = "system"
)

// Priority orders notifications; higher sorts first.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// ParsePriority maps a server priority string onto a Priority; unknown values
// are normal.
func ParsePriority(s string) Priority {
	switch s {
	case "urgent":
		return PriorityUrgent
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Source names the adapter that produced a record.
type Source string

const (
	SourceRealtime Source = "realtime"
	SourcePoll     Source = "poll"
	SourceChat     Source = "chat"
	SourceOffer    Source = "offer"
)

// Record is one notification in the merged view.
//
// IDs are stable per logical event: derived records use ids computed from the
// underlying entity id ("chat-<conversation>", "offer-<offer>"), so a
// recomputation updates the existing record instead of accumulating
// duplicates.
type Record struct {
	ID        string
	Type      Type
	Title     string
	Subtitle  string
	Message   string
	Priority  Priority
	CreatedAt time.Time
	IsRead    bool

	Source Source
	// SourceID is the underlying entity id (conversation, offer, request)
	// used for cross-source deduplication.
	SourceID string
	// UnreadCount is the record's contribution to the unread-chat counter;
	// chat-derived records carry 1 per conversation.
	UnreadCount int

	Metadata map[string]interface{}
}

// Counts are the badge counters kept alongside the merged view. ByType holds
// unread counts per type.
type Counts struct {
	Total       int
	Unread      int
	ByType      map[Type]int
	UnreadChats int
}

func newCounts() Counts {
	return Counts{ByType: make(map[Type]int)}
}

func (c Counts) clone() Counts {
	out := c
	out.ByType = make(map[Type]int, len(c.ByType))
	for k, v := range c.ByType {
		out.ByType[k] = v
	}
	return out
}
