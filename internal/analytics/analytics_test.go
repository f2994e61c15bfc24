package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter/internal/cache"
	"newsletter/internal/domain"
	"newsletter/internal/store"
	"newsletter/internal/store/memory"
)

var now = time.Date(2026, 5, 10, 15, 30, 0, 0, time.UTC)

func ev(email string, typ domain.EventType, url string, at time.Time) domain.CampaignEvent {
	return domain.CampaignEvent{CampaignID: "cmp_1", SubscriberEmail: email, Type: typ, URL: url, CreatedAt: at}
}

func TestZeroFilledSevenDayWindow(t *testing.T) {
	tr := LifecycleTrends(nil, 7, now)
	for _, series := range [][]DailyCount{tr.NewSubscribers, tr.ConfirmedSubscribers, tr.Unsubscribes} {
		require.Len(t, series, 7)
		for _, d := range series {
			assert.Equal(t, 0, d.Count)
		}
		assert.Equal(t, "2026-05-04", series[0].Date)
		assert.Equal(t, "2026-05-10", series[6].Date)
	}

	tl := EngagementTimeline(nil, 7, now)
	require.Len(t, tl, 7)
	assert.Equal(t, DailyEngagement{Date: "2026-05-04"}, tl[0])
}

func TestLifecycleTrendsBucketsByUTCDay(t *testing.T) {
	conf := now.Add(-24 * time.Hour)
	unsub := now.Add(-time.Hour)
	rows := []store.LifecycleRow{
		{CreatedAt: now.Add(-48 * time.Hour), ConfirmedAt: &conf},
		{CreatedAt: now.Add(-48 * time.Hour), UnsubscribedAt: &unsub},
		{CreatedAt: now.AddDate(0, 0, -30)}, // outside window
	}
	tr := LifecycleTrends(rows, 7, now)
	assert.Equal(t, 2, tr.NewSubscribers[4].Count)
	assert.Equal(t, 1, tr.ConfirmedSubscribers[5].Count)
	assert.Equal(t, 1, tr.Unsubscribes[6].Count)

	sum := 0
	for _, d := range tr.NewSubscribers {
		sum += d.Count
	}
	assert.Equal(t, 2, sum)
}

func TestRollups(t *testing.T) {
	events := []domain.CampaignEvent{
		ev("a@x.com", domain.EventOpen, "", now),
		ev("a@x.com", domain.EventOpen, "", now),
		ev("a@x.com", domain.EventClick, "https://x.com/1", now),
		ev("b@x.com", domain.EventClick, "https://x.com/2", now.Add(-24*time.Hour)),
		ev("b@x.com", domain.EventClick, "https://x.com/1", now),
		ev("c@x.com", domain.EventOpen, "", now.AddDate(0, 0, -40)),
	}

	subs := BySubscriber(events)
	require.Len(t, subs, 3)
	assert.Equal(t, SubscriberEngagement{Email: "a@x.com", Opens: 2, Clicks: 1}, subs[0])
	assert.Equal(t, SubscriberEngagement{Email: "b@x.com", Opens: 0, Clicks: 2}, subs[1])

	urls := ByURL(events)
	assert.Equal(t, []URLClicks{{URL: "https://x.com/1", Clicks: 2}, {URL: "https://x.com/2", Clicks: 1}}, urls)

	tot := Summarize(events)
	assert.Equal(t, Totals{Opens: 3, Clicks: 3, UniqueOpens: 2, UniqueClicks: 2}, tot)

	tl := EngagementTimeline(events, 7, now)
	assert.Equal(t, DailyEngagement{Date: "2026-05-10", Opens: 2, Clicks: 2}, tl[6])
	assert.Equal(t, DailyEngagement{Date: "2026-05-09", Clicks: 1}, tl[5])
}

func TestNormalizeDays(t *testing.T) {
	d, err := NormalizeDays(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDays, d)
	_, err = NormalizeDays(-1)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = NormalizeDays(366)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestCampaignReport(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.InsertCampaign(ctx, domain.Campaign{ID: "cmp_1", Subject: "s", Content: "c", Status: domain.StatusDraft, CreatedAt: now}))
	ok, err := st.TransitionCampaign(ctx, "cmp_1", domain.SendableStatuses(), domain.StatusSending, now)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = st.CompleteCampaign(ctx, store.CampaignResult{ID: "cmp_1", Status: domain.StatusSent, SentCount: 4, SentAt: now})
	require.NoError(t, err)
	require.NoError(t, st.InsertCampaignEvent(ctx, ev("a@x.com", domain.EventOpen, "", now)))
	require.NoError(t, st.InsertCampaignEvent(ctx, ev("a@x.com", domain.EventClick, "https://x.com", now)))

	svc := NewService(st, nil, 0)
	svc.Now = func() time.Time { return now }

	rep, err := svc.CampaignReport(ctx, "cmp_1", 14)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.SentCount)
	assert.Equal(t, 0.25, rep.OpenRate)
	assert.Equal(t, 0.25, rep.ClickRate)
	assert.Len(t, rep.Timeline, 14)

	_, err = svc.CampaignReport(ctx, "cmp_missing", 7)
	assert.ErrorIs(t, err, domain.ErrCampaignNotFound)
}

func TestStatsUsesCache(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.InsertSubscriber(ctx, domain.Subscriber{ID: "sub_1", Email: "a@x.com", UnsubscribeToken: "u", CreatedAt: now.Add(-time.Hour)}))

	mr := miniredis.RunT(t)
	c, err := cache.NewClient(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	defer c.Close()

	svc := NewService(st, c, 30*time.Second)
	svc.Now = func() time.Time { return now }

	first, err := svc.Stats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total)
	assert.Equal(t, 1, first.Unconfirmed)
	assert.Equal(t, 1, first.RecentSubscribers)
	require.Len(t, first.Trends.NewSubscribers, 7)
	assert.Equal(t, 1, first.Trends.NewSubscribers[6].Count)

	require.NoError(t, st.InsertSubscriber(ctx, domain.Subscriber{ID: "sub_2", Email: "b@x.com", UnsubscribeToken: "u", CreatedAt: now}))
	cached, err := svc.Stats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Total, "served from cache within ttl")

	mr.FastForward(31 * time.Second)
	fresh, err := svc.Stats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Total)
}
