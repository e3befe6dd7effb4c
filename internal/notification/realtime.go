package notification

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RealtimeAdapter turns push events from the realtime channel into records.
type RealtimeAdapter struct {
	agg *Aggregator
	log zerolog.Logger
}

// NewRealtimeAdapter creates the push adapter feeding agg.
func NewRealtimeAdapter(agg *Aggregator, log zerolog.Logger) *RealtimeAdapter {
	return &RealtimeAdapter{agg: agg, log: log}
}

// Handle builds a record from one push event and adds it to the merged view.
// Payloads that cannot produce a record are dropped with a debug log; push
// processing never fails upward.
func (ad *RealtimeAdapter) Handle(event string, payload map[string]interface{}) {
	rec, ok := RecordFromPush(event, payload)
	if !ok {
		ad.log.Debug().Str("event", event).Msg("push event without usable payload")
		return
	}
	ad.agg.AddRealtime(rec)
}

// RecordFromPush maps a server push event onto a Record. Ids are derived from
// the source entity id so a redelivered event updates rather than duplicates.
func RecordFromPush(event string, payload map[string]interface{}) (Record, bool) {
	if payload == nil {
		return Record{}, false
	}

	switch event {
	case "new_message", "merchant_new_message", "customer_new_message":
		conversationID := getString(payload, "conversationId")
		if conversationID == "" {
			return Record{}, false
		}
		messageID := firstString(payload, "messageId", "id")
		id := "message-" + conversationID
		if messageID != "" {
			id = "message-" + messageID
		}
		return Record{
			ID:        id,
			Type:      TypeMessage,
			Title:     firstString(payload, "senderName", "title"),
			Message:   firstString(payload, "preview", "message"),
			Priority:  ParsePriority(getString(payload, "priority")),
			CreatedAt: eventTime(payload),
			Source:    SourceRealtime,
			SourceID:  conversationID,
			Metadata:  payload,
		}, true

	case "offer:new":
		offerID := getString(payload, "id")
		if offerID == "" {
			return Record{}, false
		}
		return Record{
			// Same synthetic id scheme as the derived-offer adapter, so a
			// later recomputation supersedes this push record by id.
			ID:        "offer-" + offerID,
			Type:      TypeOffer,
			Title:     getString(payload, "title"),
			Message:   fmt.Sprintf("New offer: %s", firstString(payload, "amountLabel", "title")),
			Priority:  ParsePriority(getString(payload, "priority")),
			CreatedAt: eventTime(payload),
			Source:    SourceRealtime,
			SourceID:  offerID,
			Metadata:  payload,
		}, true

	case "service-request:new":
		requestID := firstString(payload, "requestId", "id")
		if requestID == "" {
			return Record{}, false
		}
		return Record{
			ID:        "request-" + requestID,
			Type:      TypeRequest,
			Title:     getString(payload, "title"),
			Message:   getString(payload, "message"),
			Priority:  ParsePriority(getString(payload, "priority")),
			CreatedAt: eventTime(payload),
			Source:    SourceRealtime,
			SourceID:  requestID,
			Metadata:  payload,
		}, true

	default:
		id := getString(payload, "id")
		if id == "" {
			return Record{}, false
		}
		typ := Type(getString(payload, "type"))
		if typ == "" {
			typ = TypeSystem
		}
		return Record{
			ID:        id,
			Type:      typ,
			Title:     getString(payload, "title"),
			Subtitle:  getString(payload, "subtitle"),
			Message:   getString(payload, "message"),
			Priority:  ParsePriority(getString(payload, "priority")),
			CreatedAt: eventTime(payload),
			Source:    SourceRealtime,
			SourceID:  id,
			Metadata:  payload,
		}, true
	}
}

func getString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func firstString(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v := getString(payload, key); v != "" {
			return v
		}
	}
	return ""
}

// eventTime extracts a timestamp from a push payload: RFC 3339 "createdAt",
// epoch-millisecond "ts", or the current time.
func eventTime(payload map[string]interface{}) time.Time {
	if raw := getString(payload, "createdAt"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts
		}
	}
	switch v := payload["ts"].(type) {
	case float64:
		return time.UnixMilli(int64(v))
	case int64:
		return time.UnixMilli(v)
	case int:
		return time.UnixMilli(int64(v))
	}
	return time.Now()
}
