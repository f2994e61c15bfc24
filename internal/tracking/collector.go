// Package tracking records open and click hits as immutable campaign events.
package tracking

import (
	"context"
	"time"

	"newsletter/internal/domain"
	"newsletter/internal/observability"
	"newsletter/internal/rewrite"
	"newsletter/internal/util"
)

// Pixel is a 1x1 transparent GIF.
var Pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0xff, 0xff,
	0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00,
	0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
	0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type Store interface {
	GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error)
	GetSubscriberByID(ctx context.Context, id string) (domain.Subscriber, bool, error)
	InsertCampaignEvent(ctx context.Context, ev domain.CampaignEvent) error
}

type Collector struct {
	store Store
	Now   func() time.Time
}

func NewCollector(st Store) *Collector {
	return &Collector{store: st, Now: util.NowUTC}
}

// RecordOpen appends an open event for the subscriber.
func (c *Collector) RecordOpen(ctx context.Context, campaignID, subscriberID string) error {
	return c.record(ctx, campaignID, subscriberID, domain.EventOpen, "")
}

// RecordClick appends a click event carrying the target exactly as received,
// whether or not it is a usable URL.
func (c *Collector) RecordClick(ctx context.Context, campaignID, subscriberID, target string) error {
	return c.record(ctx, campaignID, subscriberID, domain.EventClick, target)
}

// record drops hits that do not name both a known campaign and a known
// subscriber; the endpoints are unauthenticated.
func (c *Collector) record(ctx context.Context, campaignID, subscriberID string, typ domain.EventType, target string) error {
	_, found, err := c.store.GetCampaign(ctx, campaignID)
	if err != nil {
		observability.TrackingEvents.WithLabelValues(string(typ), "error").Inc()
		return err
	}
	if !found {
		observability.TrackingEvents.WithLabelValues(string(typ), "unknown_campaign").Inc()
		return domain.ErrCampaignNotFound
	}

	sub, found, err := c.store.GetSubscriberByID(ctx, subscriberID)
	if err != nil {
		observability.TrackingEvents.WithLabelValues(string(typ), "error").Inc()
		return err
	}
	if !found {
		observability.TrackingEvents.WithLabelValues(string(typ), "unknown_subscriber").Inc()
		return domain.ErrSubscriberNotFound
	}

	err = c.store.InsertCampaignEvent(ctx, domain.CampaignEvent{
		CampaignID:      campaignID,
		SubscriberEmail: sub.Email,
		Type:            typ,
		URL:             target,
		CreatedAt:       c.Now(),
	})
	if err != nil {
		observability.TrackingEvents.WithLabelValues(string(typ), "error").Inc()
		return err
	}
	observability.TrackingEvents.WithLabelValues(string(typ), "ok").Inc()
	return nil
}

// RedirectTarget returns target when it is an absolute http(s) URL and
// fallback otherwise.
func RedirectTarget(target, fallback string) string {
	if rewrite.IsHTTP(target) {
		return target
	}
	return fallback
}
