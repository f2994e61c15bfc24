// Package storetest is a behavioural suite every store implementation must
// pass. The memory store runs it as a unit test, Postgres under the
// integration build tag.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter/internal/domain"
	"newsletter/internal/store"
)

type Store interface {
	GetSubscriberByEmail(ctx context.Context, email string) (domain.Subscriber, bool, error)
	GetSubscriberByID(ctx context.Context, id string) (domain.Subscriber, bool, error)
	FindSubscriberByTokenHash(ctx context.Context, hash string) (domain.Subscriber, bool, error)
	InsertSubscriber(ctx context.Context, sub domain.Subscriber) error
	RotateConfirmToken(ctx context.Context, id, hash string) (bool, error)
	ConfirmSubscriber(ctx context.Context, id string, now time.Time) (bool, error)
	UnsubscribeSubscriber(ctx context.Context, id string, now time.Time) (bool, error)
	ReactivateSubscriber(ctx context.Context, id string, now time.Time) (bool, error)
	ListEligibleRecipients(ctx context.Context) ([]domain.Recipient, error)
	SubscriberCounts(ctx context.Context) (store.SubscriberCounts, error)
	CountSubscribersSince(ctx context.Context, since time.Time) (int, error)
	ListSubscriberLifecycle(ctx context.Context, since time.Time) ([]store.LifecycleRow, error)
	SetMarketingPreference(ctx context.Context, in store.MarketingPreference) error

	InsertCampaign(ctx context.Context, c domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error)
	ListCampaigns(ctx context.Context, f store.CampaignFilter) ([]domain.Campaign, int, error)
	UpdateCampaign(ctx context.Context, in store.CampaignUpdate) (bool, error)
	DeleteCampaign(ctx context.Context, id string) (bool, error)
	TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, now time.Time) (bool, error)
	CompleteCampaign(ctx context.Context, in store.CampaignResult) (bool, error)
	ListDueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error)

	InsertCampaignEvent(ctx context.Context, ev domain.CampaignEvent) error
	ListCampaignEvents(ctx context.Context, campaignID string) ([]domain.CampaignEvent, error)
}

// base has no sub-microsecond part so values survive a Postgres round trip.
var base = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

// Run executes the suite; open must return an empty store per call.
func Run(t *testing.T, open func(t *testing.T) Store) {
	t.Run("SubscriberLifecycle", func(t *testing.T) { testSubscriberLifecycle(t, open(t)) })
	t.Run("EligibleRecipients", func(t *testing.T) { testEligibleRecipients(t, open(t)) })
	t.Run("CampaignEditing", func(t *testing.T) { testCampaignEditing(t, open(t)) })
	t.Run("CampaignPagination", func(t *testing.T) { testCampaignPagination(t, open(t)) })
	t.Run("TransitionIsCompareAndSwap", func(t *testing.T) { testTransitionCAS(t, open(t)) })
	t.Run("DueCampaigns", func(t *testing.T) { testDueCampaigns(t, open(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, open(t)) })
}

func subscriber(id, email string, minute int) domain.Subscriber {
	return domain.Subscriber{
		ID:               id,
		Email:            email,
		ConfirmTokenHash: "hash-" + id,
		UnsubscribeToken: "unsub-" + id,
		CreatedAt:        at(minute),
	}
}

func testSubscriberLifecycle(t *testing.T, st Store) {
	ctx := context.Background()
	require.NoError(t, st.InsertSubscriber(ctx, subscriber("sub_1", "a@x.com", 0)))
	assert.ErrorIs(t, st.InsertSubscriber(ctx, subscriber("sub_2", "A@X.com", 1)), store.ErrConflict)

	got, found, err := st.GetSubscriberByEmail(ctx, "A@x.COM")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sub_1", got.ID)
	assert.False(t, got.Confirmed)
	assert.Equal(t, "hash-sub_1", got.ConfirmTokenHash)

	_, found, err = st.GetSubscriberByID(ctx, "sub_missing")
	require.NoError(t, err)
	assert.False(t, found)

	byHash, found, err := st.FindSubscriberByTokenHash(ctx, "hash-sub_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sub_1", byHash.ID)

	ok, err := st.RotateConfirmToken(ctx, "sub_1", "hash-sub_1-b")
	require.NoError(t, err)
	assert.True(t, ok)
	_, found, err = st.FindSubscriberByTokenHash(ctx, "hash-sub_1")
	require.NoError(t, err)
	assert.False(t, found, "the rotated-out hash no longer resolves")
	byHash, found, err = st.FindSubscriberByTokenHash(ctx, "hash-sub_1-b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sub_1", byHash.ID)

	ok, err = st.ConfirmSubscriber(ctx, "sub_1", at(5))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.ConfirmSubscriber(ctx, "sub_1", at(6))
	require.NoError(t, err)
	assert.False(t, ok, "second confirm is a no-op")

	got, _, err = st.GetSubscriberByID(ctx, "sub_1")
	require.NoError(t, err)
	assert.True(t, got.Confirmed)
	require.NotNil(t, got.ConfirmedAt)
	assert.True(t, got.ConfirmedAt.Equal(at(5)))

	// a confirmed token still resolves so a repeat click reports "already confirmed"
	_, found, err = st.FindSubscriberByTokenHash(ctx, "hash-sub_1-b")
	require.NoError(t, err)
	assert.True(t, found)

	ok, err = st.RotateConfirmToken(ctx, "sub_1", "hash-sub_1-c")
	require.NoError(t, err)
	assert.False(t, ok, "confirmed subscribers keep their token")

	ok, err = st.UnsubscribeSubscriber(ctx, "sub_1", at(10))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.UnsubscribeSubscriber(ctx, "sub_1", at(11))
	require.NoError(t, err)
	assert.False(t, ok)

	counts, err := st.SubscriberCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.SubscriberCounts{Total: 1, Unsubscribed: 1}, counts)

	ok, err = st.ReactivateSubscriber(ctx, "sub_1", at(20))
	require.NoError(t, err)
	assert.True(t, ok)
	got, _, err = st.GetSubscriberByID(ctx, "sub_1")
	require.NoError(t, err)
	assert.True(t, got.Eligible())
	require.NotNil(t, got.UnsubscribedAt, "unsubscribe history is kept")
	assert.True(t, got.ConfirmedAt.Equal(at(5)))

	n, err := st.CountSubscribersSince(ctx, at(1))
	require.NoError(t, err)
	assert.Zero(t, n)
	rows, err := st.ListSubscriberLifecycle(ctx, at(8))
	require.NoError(t, err)
	require.Len(t, rows, 1, "the unsubscribe falls inside the window")

	require.NoError(t, st.InsertSubscriber(ctx, subscriber("sub_3", "c@x.com", 30)))
	_, err = st.RotateConfirmToken(ctx, "sub_3", "hash-sub_1-b")
	assert.ErrorIs(t, err, store.ErrConflict, "token hashes are unique")
}

func testEligibleRecipients(t *testing.T, st Store) {
	ctx := context.Background()
	for i, email := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"} {
		require.NoError(t, st.InsertSubscriber(ctx, subscriber(fmt.Sprintf("sub_%d", i), email, i)))
	}
	for _, id := range []string{"sub_0", "sub_2", "sub_3"} {
		_, err := st.ConfirmSubscriber(ctx, id, at(10))
		require.NoError(t, err)
	}
	_, err := st.UnsubscribeSubscriber(ctx, "sub_2", at(11))
	require.NoError(t, err)
	require.NoError(t, st.SetMarketingPreference(ctx, store.MarketingPreference{Email: "d@x.com", OptedIn: false, Now: at(12)}))
	require.NoError(t, st.SetMarketingPreference(ctx, store.MarketingPreference{Email: "a@x.com", OptedIn: true, Now: at(12)}))

	got, err := st.ListEligibleRecipients(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.Recipient{SubscriberID: "sub_0", Email: "a@x.com", UnsubscribeToken: "unsub-sub_0"}, got[0])

	// flipping the preference back re-admits the address
	require.NoError(t, st.SetMarketingPreference(ctx, store.MarketingPreference{Email: "d@x.com", OptedIn: true, Now: at(13)}))
	got, err = st.ListEligibleRecipients(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func campaign(id string, status domain.CampaignStatus, minute int, scheduledFor *time.Time) domain.Campaign {
	return domain.Campaign{
		ID: id, Subject: "Subject " + id, Content: "<p>" + id + "</p>", Status: status,
		ScheduledFor: scheduledFor, CreatedAt: at(minute), UpdatedAt: at(minute),
	}
}

func testCampaignEditing(t *testing.T, st Store) {
	ctx := context.Background()
	require.NoError(t, st.InsertCampaign(ctx, campaign("cmp_1", domain.StatusDraft, 0, nil)))

	when := at(60)
	ok, err := st.UpdateCampaign(ctx, store.CampaignUpdate{
		ID: "cmp_1", Subject: "New", Content: "<p>new</p>", Status: domain.StatusScheduled, ScheduledFor: &when, Now: at(1),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, found, err := st.GetCampaign(ctx, "cmp_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "New", got.Subject)
	assert.Equal(t, domain.StatusScheduled, got.Status)
	require.NotNil(t, got.ScheduledFor)
	assert.True(t, got.ScheduledFor.Equal(when))

	ok, err = st.TransitionCampaign(ctx, "cmp_1", domain.SendableStatuses(), domain.StatusSending, at(2))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.UpdateCampaign(ctx, store.CampaignUpdate{ID: "cmp_1", Subject: "x", Content: "x", Status: domain.StatusDraft, Now: at(3)})
	require.NoError(t, err)
	assert.False(t, ok, "sending campaigns are locked")
	ok, err = st.DeleteCampaign(ctx, "cmp_1")
	require.NoError(t, err)
	assert.False(t, ok)

	errs := []domain.RecipientError{{Email: "b@x.com", Error: "boom"}}
	ok, err = st.CompleteCampaign(ctx, store.CampaignResult{ID: "cmp_1", Status: domain.StatusFailed, SentCount: 2, ErrorLog: errs, SentAt: at(4)})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.CompleteCampaign(ctx, store.CampaignResult{ID: "cmp_1", Status: domain.StatusSent, SentCount: 3, SentAt: at(5)})
	require.NoError(t, err)
	assert.False(t, ok, "only a sending campaign can be completed")

	got, _, err = st.GetCampaign(ctx, "cmp_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 2, got.SentCount)
	assert.Equal(t, errs, got.ErrorLog)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(at(4)))

	require.NoError(t, st.InsertCampaign(ctx, campaign("cmp_2", domain.StatusDraft, 5, nil)))
	ok, err = st.DeleteCampaign(ctx, "cmp_2")
	require.NoError(t, err)
	assert.True(t, ok)
	_, found, err = st.GetCampaign(ctx, "cmp_2")
	require.NoError(t, err)
	assert.False(t, found)
}

func testCampaignPagination(t *testing.T, st Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		status := domain.StatusDraft
		if i%2 == 1 {
			status = domain.StatusScheduled
		}
		when := at(100)
		var sched *time.Time
		if status == domain.StatusScheduled {
			sched = &when
		}
		require.NoError(t, st.InsertCampaign(ctx, campaign(fmt.Sprintf("cmp_%d", i), status, i, sched)))
	}

	page, total, err := st.ListCampaigns(ctx, store.CampaignFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "cmp_2", page[0].ID, "newest first")
	assert.Equal(t, "cmp_1", page[1].ID)

	page, total, err = st.ListCampaigns(ctx, store.CampaignFilter{Status: domain.StatusScheduled, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 2)
	assert.Equal(t, "cmp_3", page[0].ID)

	page, total, err = st.ListCampaigns(ctx, store.CampaignFilter{Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, page)
}

func testTransitionCAS(t *testing.T, st Store) {
	ctx := context.Background()
	require.NoError(t, st.InsertCampaign(ctx, campaign("cmp_race", domain.StatusScheduled, 0, nil)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.TransitionCampaign(ctx, "cmp_race", domain.SendableStatuses(), domain.StatusSending, at(1))
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	ok, err := st.TransitionCampaign(ctx, "cmp_missing", domain.SendableStatuses(), domain.StatusSending, at(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDueCampaigns(t *testing.T, st Store) {
	ctx := context.Background()
	early, late, future := at(10), at(20), at(90)
	require.NoError(t, st.InsertCampaign(ctx, campaign("cmp_late", domain.StatusScheduled, 0, &late)))
	require.NoError(t, st.InsertCampaign(ctx, campaign("cmp_early", domain.StatusScheduled, 1, &early)))
	require.NoError(t, st.InsertCampaign(ctx, campaign("cmp_future", domain.StatusScheduled, 2, &future)))
	require.NoError(t, st.InsertCampaign(ctx, campaign("cmp_draft", domain.StatusDraft, 3, nil)))

	due, err := st.ListDueCampaigns(ctx, at(30))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "cmp_early", due[0].ID)
	assert.Equal(t, "cmp_late", due[1].ID)
}

func testEvents(t *testing.T, st Store) {
	ctx := context.Background()
	evs := []domain.CampaignEvent{
		{CampaignID: "cmp_1", SubscriberEmail: "a@x.com", Type: domain.EventOpen, CreatedAt: at(1)},
		{CampaignID: "cmp_1", SubscriberEmail: "a@x.com", Type: domain.EventClick, URL: "https://example.com/?q=1", CreatedAt: at(2)},
		{CampaignID: "cmp_2", SubscriberEmail: "b@x.com", Type: domain.EventOpen, CreatedAt: at(3)},
	}
	for _, ev := range evs {
		require.NoError(t, st.InsertCampaignEvent(ctx, ev))
	}

	got, err := st.ListCampaignEvents(ctx, "cmp_1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventOpen, got[0].Type)
	assert.Empty(t, got[0].URL)
	assert.Equal(t, "https://example.com/?q=1", got[1].URL)
	assert.True(t, got[1].CreatedAt.Equal(at(2)))
}
