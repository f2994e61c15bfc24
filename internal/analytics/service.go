package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"newsletter/internal/domain"
	"newsletter/internal/store"
	"newsletter/internal/util"
)

const (
	DefaultDays = 30
	MaxDays     = 365
	recentDays  = 7
)

var ErrInvalidWindow = errors.New("days must be between 1 and 365")

type Store interface {
	GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error)
	ListCampaignEvents(ctx context.Context, campaignID string) ([]domain.CampaignEvent, error)
	SubscriberCounts(ctx context.Context) (store.SubscriberCounts, error)
	CountSubscribersSince(ctx context.Context, since time.Time) (int, error)
	ListSubscriberLifecycle(ctx context.Context, since time.Time) ([]store.LifecycleRow, error)
}

// Cache is optional; a nil Cache means every stats call hits the store.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

type Stats struct {
	Total             int    `json:"total"`
	Confirmed         int    `json:"confirmed"`
	Unconfirmed       int    `json:"unconfirmed"`
	Unsubscribed      int    `json:"unsubscribed"`
	RecentSubscribers int    `json:"recentSubscribers"`
	Trends            Trends `json:"trends"`
}

type CampaignReport struct {
	CampaignID   string                 `json:"campaignId"`
	SentCount    int                    `json:"sentCount"`
	Opens        int                    `json:"opens"`
	Clicks       int                    `json:"clicks"`
	UniqueOpens  int                    `json:"uniqueOpens"`
	UniqueClicks int                    `json:"uniqueClicks"`
	OpenRate     float64                `json:"openRate"`
	ClickRate    float64                `json:"clickRate"`
	Subscribers  []SubscriberEngagement `json:"subscribers"`
	URLs         []URLClicks            `json:"urls"`
	Timeline     []DailyEngagement      `json:"timeline"`
}

type Service struct {
	store    Store
	cache    Cache
	cacheTTL time.Duration
	Now      func() time.Time
}

func NewService(st Store, c Cache, ttl time.Duration) *Service {
	return &Service{store: st, cache: c, cacheTTL: ttl, Now: util.NowUTC}
}

// NormalizeDays applies the default window and rejects out-of-range values.
func NormalizeDays(days int) (int, error) {
	if days == 0 {
		return DefaultDays, nil
	}
	if days < 0 || days > MaxDays {
		return 0, ErrInvalidWindow
	}
	return days, nil
}

func (s *Service) Stats(ctx context.Context, days int) (Stats, error) {
	days, err := NormalizeDays(days)
	if err != nil {
		return Stats{}, err
	}
	now := s.Now()
	key := fmt.Sprintf("stats:%d:%s", days, now.Format(dateLayout))

	if s.cache != nil {
		var cached Stats
		found, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			slog.Warn("stats cache read failed", "err", err)
		} else if found {
			return cached, nil
		}
	}

	counts, err := s.store.SubscriberCounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	recent, err := s.store.CountSubscribersSince(ctx, WindowStart(recentDays, now))
	if err != nil {
		return Stats{}, err
	}
	rows, err := s.store.ListSubscriberLifecycle(ctx, WindowStart(days, now))
	if err != nil {
		return Stats{}, err
	}

	out := Stats{
		Total:             counts.Total,
		Confirmed:         counts.Confirmed,
		Unconfirmed:       counts.Unconfirmed,
		Unsubscribed:      counts.Unsubscribed,
		RecentSubscribers: recent,
		Trends:            LifecycleTrends(rows, days, now),
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.SetJSON(ctx, key, out, s.cacheTTL); err != nil {
			slog.Warn("stats cache write failed", "err", err)
		}
	}
	return out, nil
}

func (s *Service) CampaignReport(ctx context.Context, campaignID string, days int) (CampaignReport, error) {
	days, err := NormalizeDays(days)
	if err != nil {
		return CampaignReport{}, err
	}
	c, found, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return CampaignReport{}, err
	}
	if !found {
		return CampaignReport{}, domain.ErrCampaignNotFound
	}
	events, err := s.store.ListCampaignEvents(ctx, campaignID)
	if err != nil {
		return CampaignReport{}, err
	}

	totals := Summarize(events)
	return CampaignReport{
		CampaignID:   c.ID,
		SentCount:    c.SentCount,
		Opens:        totals.Opens,
		Clicks:       totals.Clicks,
		UniqueOpens:  totals.UniqueOpens,
		UniqueClicks: totals.UniqueClicks,
		OpenRate:     rate(totals.UniqueOpens, c.SentCount),
		ClickRate:    rate(totals.UniqueClicks, c.SentCount),
		Subscribers:  BySubscriber(events),
		URLs:         ByURL(events),
		Timeline:     EngagementTimeline(events, days, s.Now()),
	}, nil
}

func rate(n, of int) float64 {
	if of <= 0 {
		return 0
	}
	return math.Round(float64(n)/float64(of)*10000) / 10000
}
