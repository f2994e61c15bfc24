// Package analytics derives engagement and lifecycle rollups from the event
// log at read time. Nothing here is stored; every call recomputes.
package analytics

import (
	"sort"
	"time"

	"newsletter/internal/domain"
	"newsletter/internal/store"
)

const dateLayout = "2006-01-02"

type SubscriberEngagement struct {
	Email  string `json:"email"`
	Opens  int    `json:"opens"`
	Clicks int    `json:"clicks"`
}

type URLClicks struct {
	URL    string `json:"url"`
	Clicks int    `json:"clicks"`
}

type DailyEngagement struct {
	Date   string `json:"date"`
	Opens  int    `json:"opens"`
	Clicks int    `json:"clicks"`
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Trends struct {
	NewSubscribers       []DailyCount `json:"newSubscribers"`
	ConfirmedSubscribers []DailyCount `json:"confirmedSubscribers"`
	Unsubscribes         []DailyCount `json:"unsubscribes"`
}

type Totals struct {
	Opens        int
	Clicks       int
	UniqueOpens  int
	UniqueClicks int
}

// BySubscriber counts opens and clicks per address, most engaged first.
func BySubscriber(events []domain.CampaignEvent) []SubscriberEngagement {
	idx := map[string]int{}
	var out []SubscriberEngagement
	for _, ev := range events {
		i, ok := idx[ev.SubscriberEmail]
		if !ok {
			i = len(out)
			idx[ev.SubscriberEmail] = i
			out = append(out, SubscriberEngagement{Email: ev.SubscriberEmail})
		}
		switch ev.Type {
		case domain.EventOpen:
			out[i].Opens++
		case domain.EventClick:
			out[i].Clicks++
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		ta, tb := out[a].Opens+out[a].Clicks, out[b].Opens+out[b].Clicks
		if ta != tb {
			return ta > tb
		}
		return out[a].Email < out[b].Email
	})
	return out
}

// ByURL counts click events per target, highest first.
func ByURL(events []domain.CampaignEvent) []URLClicks {
	counts := map[string]int{}
	for _, ev := range events {
		if ev.Type == domain.EventClick {
			counts[ev.URL]++
		}
	}
	out := make([]URLClicks, 0, len(counts))
	for u, n := range counts {
		out = append(out, URLClicks{URL: u, Clicks: n})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Clicks != out[b].Clicks {
			return out[a].Clicks > out[b].Clicks
		}
		return out[a].URL < out[b].URL
	})
	return out
}

func Summarize(events []domain.CampaignEvent) Totals {
	var t Totals
	opened, clicked := map[string]bool{}, map[string]bool{}
	for _, ev := range events {
		switch ev.Type {
		case domain.EventOpen:
			t.Opens++
			opened[ev.SubscriberEmail] = true
		case domain.EventClick:
			t.Clicks++
			clicked[ev.SubscriberEmail] = true
		}
	}
	t.UniqueOpens, t.UniqueClicks = len(opened), len(clicked)
	return t
}

// Days returns the UTC calendar days of a window of n days ending on now's day.
func Days(n int, now time.Time) []string {
	if n <= 0 {
		return nil
	}
	today := truncateDay(now)
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = today.AddDate(0, 0, i-(n-1)).Format(dateLayout)
	}
	return out
}

// WindowStart is midnight UTC of the first day in the window.
func WindowStart(n int, now time.Time) time.Time {
	return truncateDay(now).AddDate(0, 0, -(n - 1))
}

// EngagementTimeline is the per-day open/click series, zero-filled.
func EngagementTimeline(events []domain.CampaignEvent, days int, now time.Time) []DailyEngagement {
	keys := Days(days, now)
	out := make([]DailyEngagement, len(keys))
	pos := make(map[string]int, len(keys))
	for i, k := range keys {
		out[i] = DailyEngagement{Date: k}
		pos[k] = i
	}
	for _, ev := range events {
		i, ok := pos[ev.CreatedAt.UTC().Format(dateLayout)]
		if !ok {
			continue
		}
		switch ev.Type {
		case domain.EventOpen:
			out[i].Opens++
		case domain.EventClick:
			out[i].Clicks++
		}
	}
	return out
}

// LifecycleTrends buckets subscriptions, confirmations and unsubscribes per
// day. Each series has exactly one entry per day of the window.
func LifecycleTrends(rows []store.LifecycleRow, days int, now time.Time) Trends {
	keys := Days(days, now)
	pos := make(map[string]int, len(keys))
	for i, k := range keys {
		pos[k] = i
	}
	series := func() []DailyCount {
		s := make([]DailyCount, len(keys))
		for i, k := range keys {
			s[i] = DailyCount{Date: k}
		}
		return s
	}
	tr := Trends{NewSubscribers: series(), ConfirmedSubscribers: series(), Unsubscribes: series()}

	bump := func(s []DailyCount, t *time.Time) {
		if t == nil {
			return
		}
		if i, ok := pos[t.UTC().Format(dateLayout)]; ok {
			s[i].Count++
		}
	}
	for _, r := range rows {
		created := r.CreatedAt
		bump(tr.NewSubscribers, &created)
		bump(tr.ConfirmedSubscribers, r.ConfirmedAt)
		bump(tr.Unsubscribes, r.UnsubscribedAt)
	}
	return tr
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
