package notification

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func pushRecord(id string, createdAt time.Time) Record {
	return Record{
		ID:        id,
		Type:      TypeMessage,
		Priority:  PriorityNormal,
		CreatedAt: createdAt,
		Source:    SourceRealtime,
	}
}

func requireInvariants(t *testing.T, c Counts) {
	t.Helper()
	require.GreaterOrEqual(t, c.Total, 0)
	require.GreaterOrEqual(t, c.Unread, 0)
	require.GreaterOrEqual(t, c.UnreadChats, 0)
	sum := 0
	for typ, n := range c.ByType {
		require.GreaterOrEqualf(t, n, 0, "type %s", typ)
		sum += n
	}
	require.Equal(t, sum, c.Unread, "unread must equal the per-type sum")
}

func TestAddRealtimeBounded(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	for i := 0; i < 12; i++ {
		agg.AddRealtime(pushRecord(fmt.Sprintf("push-%d", i), baseTime.Add(time.Duration(i)*time.Minute)))
	}

	list := agg.Notifications()
	require.Len(t, list, realtimeLimit)
	// Newest push wins the visible slots.
	require.Equal(t, "push-11", list[0].ID)

	counts := agg.Counts()
	require.Equal(t, 12, counts.Total)
	require.Equal(t, 12, counts.Unread)
	requireInvariants(t, counts)
}

func TestReplaceBaselineReplacesNotAppends(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	agg.AddRealtime(pushRecord("push-1", baseTime))
	agg.AddRealtime(pushRecord("push-2", baseTime.Add(time.Minute)))

	first := []Record{
		{ID: "n1", Type: TypeMessage, CreatedAt: baseTime, Source: SourcePoll},
		{ID: "n2", Type: TypeSystem, CreatedAt: baseTime.Add(time.Minute), Source: SourcePoll},
	}
	agg.ReplaceBaseline(first, Counts{Total: 2, Unread: 2, ByType: map[Type]int{TypeMessage: 1, TypeSystem: 1}})

	list := agg.Notifications()
	require.Len(t, list, 2, "realtime records fold into the server snapshot")

	second := []Record{{ID: "n3", Type: TypeMessage, CreatedAt: baseTime, Source: SourcePoll}}
	agg.ReplaceBaseline(second, Counts{Total: 1, Unread: 1, ByType: map[Type]int{TypeMessage: 1}})

	list = agg.Notifications()
	require.Len(t, list, 1)
	require.Equal(t, "n3", list[0].ID)

	counts := agg.Counts()
	require.Equal(t, 1, counts.Total)
	requireInvariants(t, counts)
}

func TestReplaceBaselineRepairsDivergedCounts(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	agg.ReplaceBaseline(nil, Counts{Total: 5, Unread: 7, ByType: map[Type]int{TypeMessage: 2, TypeOffer: 1}})

	counts := agg.Counts()
	require.Equal(t, 3, counts.Unread, "unread snaps to the per-type sum")
	requireInvariants(t, counts)
}

func TestMarkRead(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	agg.ReplaceBaseline([]Record{
		{ID: "n1", Type: TypeMessage, CreatedAt: baseTime, Source: SourcePoll},
		{ID: "n2", Type: TypeOffer, CreatedAt: baseTime, Source: SourcePoll},
	}, Counts{Total: 2, Unread: 2, ByType: map[Type]int{TypeMessage: 1, TypeOffer: 1}})

	require.True(t, agg.MarkRead("n1"))
	counts := agg.Counts()
	require.Equal(t, 1, counts.Unread)
	require.Equal(t, 0, counts.ByType[TypeMessage])
	require.Equal(t, 2, counts.Total, "reading never shrinks the total")
	requireInvariants(t, counts)

	// Second call finds the record but decrements nothing.
	require.True(t, agg.MarkRead("n1"))
	require.Equal(t, 1, agg.Counts().Unread)

	require.False(t, agg.MarkRead("missing"))
}

func TestMarkAllReadIdempotent(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	agg.ReplaceBaseline([]Record{
		{ID: "n1", Type: TypeMessage, CreatedAt: baseTime, Source: SourcePoll},
	}, Counts{Total: 4, Unread: 1, ByType: map[Type]int{TypeMessage: 1}})
	agg.SetChatRecords([]Record{
		{ID: "chat-c1", Type: TypeMessage, SourceID: "c1", Source: SourceChat, UnreadCount: 1, CreatedAt: baseTime},
	})

	for i := 0; i < 2; i++ {
		agg.MarkAllRead()
		counts := agg.Counts()
		require.Equal(t, 0, counts.Unread)
		require.Equal(t, 0, counts.UnreadChats)
		require.Equal(t, 5, counts.Total)
		requireInvariants(t, counts)
	}
	for _, rec := range agg.Notifications() {
		require.True(t, rec.IsRead)
	}
}

func TestMergeOrderPriorityThenRecency(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	records := []Record{
		{ID: "a", Type: TypeSystem, Priority: PriorityNormal, CreatedAt: baseTime, Source: SourcePoll},
		{ID: "b", Type: TypeOffer, Priority: PriorityUrgent, CreatedAt: baseTime, Source: SourcePoll},
		{ID: "c", Type: TypeMessage, Priority: PriorityHigh, CreatedAt: baseTime, Source: SourcePoll},
		{ID: "d", Type: TypeSystem, Priority: PriorityNormal, CreatedAt: baseTime, Source: SourcePoll},
	}
	agg.ReplaceBaseline(records, Counts{Total: 4, Unread: 4, ByType: map[Type]int{TypeSystem: 2, TypeOffer: 1, TypeMessage: 1}})

	var ids []string
	for _, rec := range agg.Notifications() {
		ids = append(ids, rec.ID)
	}
	// Equal timestamps: priority decides, ties keep insertion order.
	require.Equal(t, []string{"b", "c", "a", "d"}, ids)
}

func TestChatRecordSupersedesConversationDuplicates(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	agg.AddRealtime(Record{
		ID: "message-m1", Type: TypeMessage, SourceID: "c1",
		CreatedAt: baseTime, Source: SourceRealtime,
	})
	agg.ReplaceBaseline([]Record{
		{ID: "n1", Type: TypeMessage, SourceID: "c1", CreatedAt: baseTime, Source: SourcePoll},
	}, Counts{Total: 1, Unread: 1, ByType: map[Type]int{TypeMessage: 1}})

	agg.SetChatRecords([]Record{
		{ID: "chat-c1", Type: TypeMessage, SourceID: "c1", Source: SourceChat, UnreadCount: 1, CreatedAt: baseTime.Add(time.Minute)},
	})

	list := agg.Notifications()
	require.Len(t, list, 1, "one conversation, one visible record")
	require.Equal(t, "chat-c1", list[0].ID)
	require.Equal(t, 1, agg.Counts().UnreadChats)
}

func TestDerivedRecordsReplaceOnRefresh(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	offer := Record{ID: "offer-o1", Type: TypeOffer, SourceID: "o1", Source: SourceOffer, CreatedAt: baseTime}

	agg.SetOfferRecords([]Record{offer})
	agg.SetOfferRecords([]Record{offer})

	require.Len(t, agg.Notifications(), 1)
	counts := agg.Counts()
	require.Equal(t, 1, counts.Total)
	require.Equal(t, 1, counts.ByType[TypeOffer])
	requireInvariants(t, counts)

	agg.SetOfferRecords(nil)
	counts = agg.Counts()
	require.Equal(t, 0, counts.Total)
	require.Equal(t, 0, counts.Unread)
	requireInvariants(t, counts)
}

func TestMarkReadChatDecrementsUnreadChats(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	agg.SetChatRecords([]Record{
		{ID: "chat-c1", Type: TypeMessage, SourceID: "c1", Source: SourceChat, UnreadCount: 1, CreatedAt: baseTime},
		{ID: "chat-c2", Type: TypeMessage, SourceID: "c2", Source: SourceChat, UnreadCount: 1, CreatedAt: baseTime},
	})
	require.Equal(t, 2, agg.Counts().UnreadChats)

	require.True(t, agg.MarkRead("chat-c1"))
	counts := agg.Counts()
	require.Equal(t, 1, counts.UnreadChats)
	requireInvariants(t, counts)
}
