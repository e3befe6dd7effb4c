package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/beaconhq/beacon/internal/api"
)

const (
	offerCacheTTL = 5 * time.Minute

	keyLastOfferCheck = "last_offer_check"
	keyViewedOffers   = "viewed_offers"
)

// OfferAPI is the slice of the REST client the offer adapter needs.
type OfferAPI interface {
	PendingOffers(ctx context.Context) ([]api.Offer, error)
}

// OfferStore persists viewed-offer state between runs.
type OfferStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// OfferPolicy holds the escalation thresholds for derived offer records.
type OfferPolicy struct {
	ValueThreshold  float64
	RatingThreshold float64
	Freshness       time.Duration
}

// OfferAdapter derives notifications from pending offers. Offer ids already
// seen in this session are served from a short-lived cache so repeated
// refreshes do not hammer the offers endpoint, and viewed offers survive
// restarts through the store.
type OfferAdapter struct {
	api    OfferAPI
	agg    *Aggregator
	store  OfferStore
	policy OfferPolicy
	log    zerolog.Logger

	viewed    map[string]bool
	cached    []api.Offer
	fetchedAt time.Time

	now func() time.Time
}

// NewOfferAdapter creates the derived-offer source.
func NewOfferAdapter(client OfferAPI, agg *Aggregator, store OfferStore, policy OfferPolicy, log zerolog.Logger) *OfferAdapter {
	ad := &OfferAdapter{
		api:    client,
		agg:    agg,
		store:  store,
		policy: policy,
		log:    log,
		viewed: map[string]bool{},
		now:    time.Now,
	}
	ad.loadViewed()
	return ad
}

// Refresh recomputes the derived offer records and installs them.
func (ad *OfferAdapter) Refresh(ctx context.Context) error {
	offers, err := ad.pending(ctx)
	if err != nil {
		ad.log.Warn().Err(err).Msg("offer refresh failed")
		return err
	}

	now := ad.now()
	records := make([]Record, 0, len(offers))
	for _, offer := range offers {
		if offer.ID == "" {
			continue
		}
		if ad.policy.Freshness > 0 && now.Sub(offer.CreatedAt) > ad.policy.Freshness {
			continue
		}
		records = append(records, ad.offerRecord(offer))
	}
	ad.agg.SetOfferRecords(records)

	if err := ad.store.Set(keyLastOfferCheck, now.Format(time.RFC3339)); err != nil {
		ad.log.Warn().Err(err).Msg("persist last offer check failed")
	}
	ad.log.Debug().Int("offers", len(records)).Msg("offer records refreshed")
	return nil
}

// MarkViewed records that the user has seen the offer behind the given
// notification id. Unknown ids are ignored.
func (ad *OfferAdapter) MarkViewed(id string) {
	offerID, ok := offerIDFromRecord(id)
	if !ok || ad.viewed[offerID] {
		return
	}
	ad.viewed[offerID] = true
	ad.saveViewed()
}

func (ad *OfferAdapter) pending(ctx context.Context) ([]api.Offer, error) {
	if ad.cached != nil && ad.now().Sub(ad.fetchedAt) < offerCacheTTL {
		return ad.cached, nil
	}
	offers, err := ad.api.PendingOffers(ctx)
	if err != nil {
		return nil, err
	}
	ad.cached = offers
	ad.fetchedAt = ad.now()
	return offers, nil
}

func (ad *OfferAdapter) offerRecord(offer api.Offer) Record {
	return Record{
		ID:        "offer-" + offer.ID,
		Type:      TypeOffer,
		Title:     offer.Title,
		Subtitle:  offer.Counterparty.Name,
		Message:   fmt.Sprintf("Pending offer for %.2f", offer.Amount),
		Priority:  ad.escalate(offer),
		CreatedAt: offer.CreatedAt,
		IsRead:    ad.viewed[offer.ID],
		Source:    SourceOffer,
		SourceID:  offer.ID,
		Metadata: map[string]interface{}{
			"offerId":       offer.ID,
			"amount":        offer.Amount,
			"counterparty":  offer.Counterparty.Name,
			"quickResponse": offer.QuickResponse,
		},
	}
}

// escalate ranks an offer: urgent when it is both high value and from a
// trusted counterparty, high when either holds alone or a quick response is
// requested, normal otherwise.
func (ad *OfferAdapter) escalate(offer api.Offer) Priority {
	highValue := offer.Amount > ad.policy.ValueThreshold
	trusted := offer.Counterparty.Verified && offer.Counterparty.Rating > ad.policy.RatingThreshold
	switch {
	case highValue && trusted:
		return PriorityUrgent
	case highValue || trusted || offer.QuickResponse:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

func (ad *OfferAdapter) loadViewed() {
	raw, ok := ad.store.Get(keyViewedOffers)
	if !ok || raw == "" {
		return
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		ad.log.Warn().Err(err).Msg("viewed offer state unreadable, starting fresh")
		return
	}
	for _, id := range ids {
		ad.viewed[id] = true
	}
}

func (ad *OfferAdapter) saveViewed() {
	ids := make([]string, 0, len(ad.viewed))
	for id := range ad.viewed {
		ids = append(ids, id)
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := ad.store.Set(keyViewedOffers, string(raw)); err != nil {
		ad.log.Warn().Err(err).Msg("persist viewed offers failed")
	}
}

func offerIDFromRecord(id string) (string, bool) {
	const prefix = "offer-"
	if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
		return "", false
	}
	return id[len(prefix):], true
}
