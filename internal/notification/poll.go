package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/beaconhq/beacon/internal/api"
)

const pollPageSize = 10

// PollAPI is the slice of the REST client the poller needs.
type PollAPI interface {
	Counts(ctx context.Context) (api.Counts, error)
	Notifications(ctx context.Context, page, limit int) (api.NotificationPage, error)
}

// Poller refreshes the server-truth baseline: each successful poll replaces
// the previous list wholesale instead of appending to it. On error the last
// known good baseline is kept.
type Poller struct {
	api PollAPI
	agg *Aggregator
	log zerolog.Logger
}

// NewPoller creates a REST poller feeding agg.
func NewPoller(client PollAPI, agg *Aggregator, log zerolog.Logger) *Poller {
	return &Poller{api: client, agg: agg, log: log}
}

// Poll fetches counts and the first page of notifications and installs them
// as the new baseline.
func (p *Poller) Poll(ctx context.Context) error {
	counts, err := p.api.Counts(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("notification counts poll failed")
		return err
	}
	page, err := p.api.Notifications(ctx, 1, pollPageSize)
	if err != nil {
		p.log.Warn().Err(err).Msg("notification list poll failed")
		return err
	}

	records := make([]Record, 0, len(page.Notifications))
	for _, n := range page.Notifications {
		records = append(records, recordFromAPI(n))
	}
	p.agg.ReplaceBaseline(records, countsFromAPI(counts))
	p.log.Debug().Int("records", len(records)).Int("unread", counts.Unread).Msg("baseline replaced")
	return nil
}

func recordFromAPI(n api.Notification) Record {
	rec := Record{
		ID:        n.ID,
		Type:      Type(n.Type),
		Title:     n.Title,
		Subtitle:  n.Subtitle,
		Message:   n.Message,
		Priority:  ParsePriority(n.Priority),
		CreatedAt: n.CreatedAt,
		IsRead:    n.IsRead,
		Source:    SourcePoll,
		Metadata:  n.Metadata,
	}
	if n.Metadata != nil {
		rec.SourceID = getString(n.Metadata, "conversationId")
	}
	return rec
}

func countsFromAPI(c api.Counts) Counts {
	out := newCounts()
	out.Total = c.Total
	out.Unread = c.Unread
	for typ, n := range c.ByType {
		out.ByType[Type(typ)] = n
	}
	return out
}
