package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/beaconhq/beacon/internal/api"
)

// ConversationAPI is the slice of the REST client the chat adapter needs.
type ConversationAPI interface {
	Conversations(ctx context.Context, role string) ([]api.Conversation, error)
}

// ChatAdapter derives one notification per conversation that has unread
// messages. Ids are stable across refreshes ("chat-" + conversation id) so a
// recomputation replaces the earlier record instead of stacking a duplicate.
type ChatAdapter struct {
	api  ConversationAPI
	agg  *Aggregator
	role string
	log  zerolog.Logger
}

// NewChatAdapter creates the derived-chat source for the given role.
func NewChatAdapter(client ConversationAPI, agg *Aggregator, role string, log zerolog.Logger) *ChatAdapter {
	return &ChatAdapter{api: client, agg: agg, role: role, log: log}
}

// Refresh recomputes the derived chat records and installs them.
func (ad *ChatAdapter) Refresh(ctx context.Context) error {
	convs, err := ad.api.Conversations(ctx, ad.role)
	if err != nil {
		ad.log.Warn().Err(err).Msg("conversation refresh failed")
		return err
	}

	records := make([]Record, 0, len(convs))
	for _, conv := range convs {
		if conv.UnreadCount <= 0 || conv.ID == "" {
			continue
		}
		records = append(records, chatRecord(conv))
	}
	ad.agg.SetChatRecords(records)
	ad.log.Debug().Int("conversations", len(records)).Msg("chat records refreshed")
	return nil
}

func chatRecord(conv api.Conversation) Record {
	subtitle := fmt.Sprintf("%d unread", conv.UnreadCount)
	if conv.UnreadCount == 1 {
		subtitle = "1 unread message"
	}
	return Record{
		ID:        "chat-" + conv.ID,
		Type:      TypeMessage,
		Title:     conv.Store.Name,
		Subtitle:  subtitle,
		Message:   conv.LastMessage,
		Priority:  PriorityNormal,
		CreatedAt: conv.LastMessageTime,
		Source:    SourceChat,
		SourceID:  conv.ID,
		// A conversation counts once toward the unread-chat badge no matter
		// how many messages it holds.
		UnreadCount: 1,
		Metadata: map[string]interface{}{
			"conversationId": conv.ID,
			"unreadMessages": conv.UnreadCount,
			"storeId":        conv.Store.ID,
			"storeName":      conv.Store.Name,
		},
	}
}
