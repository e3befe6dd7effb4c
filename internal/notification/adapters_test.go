package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/api"
)

func TestRecordFromPush(t *testing.T) {
	created := baseTime.Format(time.RFC3339)

	tests := []struct {
		name    string
		event   string
		payload map[string]interface{}
		wantOK  bool
		wantID  string
		wantTyp Type
	}{
		{
			name:  "new message",
			event: "new_message",
			payload: map[string]interface{}{
				"conversationId": "c1", "messageId": "m1",
				"senderName": "Ada", "preview": "hi", "createdAt": created,
			},
			wantOK: true, wantID: "message-m1", wantTyp: TypeMessage,
		},
		{
			name:  "role-specific message alias",
			event: "merchant_new_message",
			payload: map[string]interface{}{
				"conversationId": "c2",
			},
			wantOK: true, wantID: "message-c2", wantTyp: TypeMessage,
		},
		{
			name:    "message without conversation dropped",
			event:   "new_message",
			payload: map[string]interface{}{"messageId": "m9"},
			wantOK:  false,
		},
		{
			name:  "new offer",
			event: "offer:new",
			payload: map[string]interface{}{
				"id": "o1", "title": "Bulk order", "priority": "high",
			},
			wantOK: true, wantID: "offer-o1", wantTyp: TypeOffer,
		},
		{
			name:  "new service request",
			event: "service-request:new",
			payload: map[string]interface{}{
				"requestId": "r1", "title": "Repair",
			},
			wantOK: true, wantID: "request-r1", wantTyp: TypeRequest,
		},
		{
			name:  "unknown event with id falls back to system",
			event: "account:flagged",
			payload: map[string]interface{}{
				"id": "x1", "message": "review required",
			},
			wantOK: true, wantID: "x1", wantTyp: TypeSystem,
		},
		{
			name:    "unknown event without id dropped",
			event:   "account:flagged",
			payload: map[string]interface{}{"message": "noise"},
			wantOK:  false,
		},
		{
			name:   "nil payload dropped",
			event:  "new_message",
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, ok := RecordFromPush(tc.event, tc.payload)
			require.Equal(t, tc.wantOK, ok)
			if !ok {
				return
			}
			require.Equal(t, tc.wantID, rec.ID)
			require.Equal(t, tc.wantTyp, rec.Type)
			require.Equal(t, SourceRealtime, rec.Source)
			require.False(t, rec.CreatedAt.IsZero())
		})
	}
}

func TestRecordFromPushTimestamp(t *testing.T) {
	rec, ok := RecordFromPush("offer:new", map[string]interface{}{
		"id": "o1", "ts": float64(baseTime.UnixMilli()),
	})
	require.True(t, ok)
	require.True(t, rec.CreatedAt.Equal(baseTime))
}

type fakePollAPI struct {
	counts api.Counts
	page   api.NotificationPage
	err    error
	calls  int
}

func (f *fakePollAPI) Counts(context.Context) (api.Counts, error) {
	f.calls++
	return f.counts, f.err
}

func (f *fakePollAPI) Notifications(ctx context.Context, page, limit int) (api.NotificationPage, error) {
	return f.page, f.err
}

func TestPollerReplacesBaseline(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	fake := &fakePollAPI{
		counts: api.Counts{Total: 2, Unread: 1, ByType: map[string]int{"message": 1}},
		page: api.NotificationPage{Notifications: []api.Notification{
			{ID: "n1", Type: "message", CreatedAt: baseTime, Metadata: map[string]interface{}{"conversationId": "c1"}},
			{ID: "n2", Type: "system", CreatedAt: baseTime, IsRead: true},
		}},
	}
	p := NewPoller(fake, agg, zerolog.Nop())

	require.NoError(t, p.Poll(context.Background()))

	list := agg.Notifications()
	require.Len(t, list, 2)
	counts := agg.Counts()
	require.Equal(t, 2, counts.Total)
	require.Equal(t, 1, counts.Unread)

	var n1 Record
	for _, rec := range list {
		if rec.ID == "n1" {
			n1 = rec
		}
	}
	require.Equal(t, SourcePoll, n1.Source)
	require.Equal(t, "c1", n1.SourceID, "conversation id lifted from metadata")
}

func TestPollerKeepsLastGoodOnError(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	fake := &fakePollAPI{
		counts: api.Counts{Total: 1, Unread: 1, ByType: map[string]int{"message": 1}},
		page: api.NotificationPage{Notifications: []api.Notification{
			{ID: "n1", Type: "message", CreatedAt: baseTime},
		}},
	}
	p := NewPoller(fake, agg, zerolog.Nop())
	require.NoError(t, p.Poll(context.Background()))

	fake.err = errors.New("boom")
	require.Error(t, p.Poll(context.Background()))

	require.Len(t, agg.Notifications(), 1, "failed poll leaves the last snapshot in place")
	require.Equal(t, 1, agg.Counts().Unread)
}

type fakeConversationAPI struct {
	convs []api.Conversation
	err   error
}

func (f *fakeConversationAPI) Conversations(context.Context, string) ([]api.Conversation, error) {
	return f.convs, f.err
}

func TestChatAdapterDerivesUnreadConversations(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	fake := &fakeConversationAPI{convs: []api.Conversation{
		{ID: "c1", UnreadCount: 3, LastMessage: "see you", LastMessageTime: baseTime, Store: api.Party{ID: "s1", Name: "Corner Shop"}},
		{ID: "c2", UnreadCount: 0, LastMessage: "done"},
	}}
	ad := NewChatAdapter(fake, agg, "customer", zerolog.Nop())

	require.NoError(t, ad.Refresh(context.Background()))

	list := agg.Notifications()
	require.Len(t, list, 1, "read conversations produce no record")
	rec := list[0]
	require.Equal(t, "chat-c1", rec.ID)
	require.Equal(t, TypeMessage, rec.Type)
	require.Equal(t, SourceChat, rec.Source)
	require.Equal(t, 1, rec.UnreadCount)
	require.Equal(t, 1, agg.Counts().UnreadChats, "badge counts conversations, not messages")

	// A second refresh with the same data changes nothing.
	require.NoError(t, ad.Refresh(context.Background()))
	require.Len(t, agg.Notifications(), 1)
	require.Equal(t, 1, agg.Counts().UnreadChats)
}

type fakeOfferAPI struct {
	offers []api.Offer
	err    error
	calls  int
}

func (f *fakeOfferAPI) PendingOffers(context.Context) ([]api.Offer, error) {
	f.calls++
	return f.offers, f.err
}

type memStore struct{ m map[string]string }

func newMemStore() *memStore { return &memStore{m: map[string]string{}} }

func (s *memStore) Get(key string) (string, bool) {
	v, ok := s.m[key]
	return v, ok
}

func (s *memStore) Set(key, value string) error {
	s.m[key] = value
	return nil
}

func testOfferPolicy() OfferPolicy {
	return OfferPolicy{ValueThreshold: 500, RatingThreshold: 4.5, Freshness: 24 * time.Hour}
}

func TestOfferEscalation(t *testing.T) {
	ad := NewOfferAdapter(&fakeOfferAPI{}, NewAggregator(zerolog.Nop()), newMemStore(), testOfferPolicy(), zerolog.Nop())

	tests := []struct {
		name  string
		offer api.Offer
		want  Priority
	}{
		{"high value and trusted", api.Offer{Amount: 900, Counterparty: api.Party{Verified: true, Rating: 4.8}}, PriorityUrgent},
		{"high value alone", api.Offer{Amount: 900, Counterparty: api.Party{Verified: false, Rating: 4.8}}, PriorityHigh},
		{"trusted alone", api.Offer{Amount: 50, Counterparty: api.Party{Verified: true, Rating: 4.9}}, PriorityHigh},
		{"quick response requested", api.Offer{Amount: 50, QuickResponse: true}, PriorityHigh},
		{"verified but low rating", api.Offer{Amount: 50, Counterparty: api.Party{Verified: true, Rating: 3.0}}, PriorityNormal},
		{"plain offer", api.Offer{Amount: 50}, PriorityNormal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ad.escalate(tc.offer))
		})
	}
}

func TestOfferAdapterFreshnessAndCache(t *testing.T) {
	now := baseTime
	agg := NewAggregator(zerolog.Nop())
	fake := &fakeOfferAPI{offers: []api.Offer{
		{ID: "o1", Title: "Fresh", Amount: 100, CreatedAt: now.Add(-time.Hour)},
		{ID: "o2", Title: "Stale", Amount: 100, CreatedAt: now.Add(-48 * time.Hour)},
	}}
	ad := NewOfferAdapter(fake, agg, newMemStore(), testOfferPolicy(), zerolog.Nop())
	ad.now = func() time.Time { return now }

	require.NoError(t, ad.Refresh(context.Background()))
	list := agg.Notifications()
	require.Len(t, list, 1)
	require.Equal(t, "offer-o1", list[0].ID)

	// Within the cache window the endpoint is not hit again.
	now = now.Add(time.Minute)
	require.NoError(t, ad.Refresh(context.Background()))
	require.Equal(t, 1, fake.calls)

	now = now.Add(offerCacheTTL)
	require.NoError(t, ad.Refresh(context.Background()))
	require.Equal(t, 2, fake.calls)
}

func TestOfferViewedStatePersists(t *testing.T) {
	store := newMemStore()
	fake := &fakeOfferAPI{offers: []api.Offer{{ID: "o1", Title: "Deal", Amount: 100, CreatedAt: baseTime}}}

	agg := NewAggregator(zerolog.Nop())
	ad := NewOfferAdapter(fake, agg, store, testOfferPolicy(), zerolog.Nop())
	ad.now = func() time.Time { return baseTime }
	require.NoError(t, ad.Refresh(context.Background()))
	require.False(t, agg.Notifications()[0].IsRead)

	ad.MarkViewed("offer-o1")
	ad.MarkViewed("chat-c1") // foreign ids are ignored

	// A fresh adapter over the same store remembers the viewed offer.
	agg2 := NewAggregator(zerolog.Nop())
	ad2 := NewOfferAdapter(fake, agg2, store, testOfferPolicy(), zerolog.Nop())
	ad2.now = func() time.Time { return baseTime }
	require.NoError(t, ad2.Refresh(context.Background()))

	list := agg2.Notifications()
	require.Len(t, list, 1)
	require.True(t, list[0].IsRead)
	require.Equal(t, 0, agg2.Counts().Unread)
}
