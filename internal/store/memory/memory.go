// Package memory is an in-process store with the same conditional-update
// semantics as the Postgres store. It backs tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"newsletter/internal/domain"
	"newsletter/internal/store"
)

type Store struct {
	mu          sync.Mutex
	subscribers map[string]domain.Subscriber // by id
	prefs       map[string]bool              // by lowercased email
	campaigns   map[string]domain.Campaign
	events      []domain.CampaignEvent
	seq         int
	order       map[string]int // insertion order, for stable listings
}

func New() *Store {
	return &Store{
		subscribers: map[string]domain.Subscriber{},
		prefs:       map[string]bool{},
		campaigns:   map[string]domain.Campaign{},
		order:       map[string]int{},
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) GetSubscriberByEmail(_ context.Context, email string) (domain.Subscriber, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = domain.NormalizeEmail(email)
	for _, sub := range s.subscribers {
		if domain.NormalizeEmail(sub.Email) == email {
			return copySubscriber(sub), true, nil
		}
	}
	return domain.Subscriber{}, false, nil
}

func (s *Store) GetSubscriberByID(_ context.Context, id string) (domain.Subscriber, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	return copySubscriber(sub), ok, nil
}

func (s *Store) FindSubscriberByTokenHash(_ context.Context, hash string) (domain.Subscriber, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hash == "" {
		return domain.Subscriber{}, false, nil
	}
	for _, sub := range s.subscribers {
		if sub.ConfirmTokenHash == hash {
			return copySubscriber(sub), true, nil
		}
	}
	return domain.Subscriber{}, false, nil
}

func (s *Store) InsertSubscriber(_ context.Context, sub domain.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := domain.NormalizeEmail(sub.Email)
	for _, existing := range s.subscribers {
		if existing.ID == sub.ID || domain.NormalizeEmail(existing.Email) == email {
			return store.ErrConflict
		}
	}
	s.subscribers[sub.ID] = copySubscriber(sub)
	s.track(sub.ID)
	return nil
}

func (s *Store) ConfirmSubscriber(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok || sub.Confirmed {
		return false, nil
	}
	sub.Confirmed = true
	sub.ConfirmedAt = &now
	s.subscribers[id] = sub
	return true, nil
}

func (s *Store) RotateConfirmToken(_ context.Context, id, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok || sub.Confirmed {
		return false, nil
	}
	for otherID, other := range s.subscribers {
		if otherID != id && hash != "" && other.ConfirmTokenHash == hash {
			return false, store.ErrConflict
		}
	}
	sub.ConfirmTokenHash = hash
	s.subscribers[id] = sub
	return true, nil
}

func (s *Store) UnsubscribeSubscriber(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok || sub.Unsubscribed {
		return false, nil
	}
	sub.Unsubscribed = true
	sub.UnsubscribedAt = &now
	s.subscribers[id] = sub
	return true, nil
}

func (s *Store) ReactivateSubscriber(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok || !sub.Unsubscribed {
		return false, nil
	}
	sub.Confirmed = true
	sub.Unsubscribed = false
	if sub.ConfirmedAt == nil {
		sub.ConfirmedAt = &now
	}
	s.subscribers[id] = sub
	return true, nil
}

func (s *Store) ListEligibleRecipients(context.Context) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]domain.Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		if !sub.Eligible() {
			continue
		}
		if optedIn, ok := s.prefs[domain.NormalizeEmail(sub.Email)]; ok && !optedIn {
			continue
		}
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return s.order[subs[i].ID] < s.order[subs[j].ID] })

	out := make([]domain.Recipient, len(subs))
	for i, sub := range subs {
		out[i] = domain.Recipient{SubscriberID: sub.ID, Email: sub.Email, UnsubscribeToken: sub.UnsubscribeToken}
	}
	return out, nil
}

func (s *Store) SubscriberCounts(context.Context) (store.SubscriberCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c store.SubscriberCounts
	for _, sub := range s.subscribers {
		c.Total++
		switch {
		case sub.Unsubscribed:
			c.Unsubscribed++
		case sub.Confirmed:
			c.Confirmed++
		default:
			c.Unconfirmed++
		}
	}
	return c, nil
}

func (s *Store) CountSubscribersSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subscribers {
		if !sub.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListSubscriberLifecycle(_ context.Context, since time.Time) ([]store.LifecycleRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	after := func(t *time.Time) bool { return t != nil && !t.Before(since) }
	var out []store.LifecycleRow
	for _, sub := range s.subscribers {
		if !sub.CreatedAt.Before(since) || after(sub.ConfirmedAt) || after(sub.UnsubscribedAt) {
			out = append(out, store.LifecycleRow{
				CreatedAt:      sub.CreatedAt,
				ConfirmedAt:    sub.ConfirmedAt,
				UnsubscribedAt: sub.UnsubscribedAt,
			})
		}
	}
	return out, nil
}

func (s *Store) SetMarketingPreference(_ context.Context, in store.MarketingPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[domain.NormalizeEmail(in.Email)] = in.OptedIn
	return nil
}

func (s *Store) InsertCampaign(_ context.Context, c domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[c.ID]; ok {
		return store.ErrConflict
	}
	c.UpdatedAt = c.CreatedAt
	s.campaigns[c.ID] = copyCampaign(c)
	s.track(c.ID)
	return nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (domain.Campaign, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	return copyCampaign(c), ok, nil
}

func (s *Store) ListCampaigns(_ context.Context, f store.CampaignFilter) ([]domain.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Campaign
	for _, c := range s.campaigns {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		all = append(all, c)
	}
	// newest first, matching ORDER BY created_at DESC
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return s.order[all[i].ID] > s.order[all[j].ID]
	})
	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	out := make([]domain.Campaign, 0, end-f.Offset)
	for _, c := range all[f.Offset:end] {
		out = append(out, copyCampaign(c))
	}
	return out, total, nil
}

func (s *Store) UpdateCampaign(_ context.Context, in store.CampaignUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[in.ID]
	if !ok || !c.Status.Editable() {
		return false, nil
	}
	c.Subject = in.Subject
	c.Content = in.Content
	c.Status = in.Status
	c.ScheduledFor = in.ScheduledFor
	c.UpdatedAt = in.Now
	s.campaigns[in.ID] = copyCampaign(c)
	return true, nil
}

func (s *Store) DeleteCampaign(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || !c.Status.Editable() {
		return false, nil
	}
	delete(s.campaigns, id)
	return true, nil
}

func (s *Store) TransitionCampaign(_ context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || !slices.Contains(from, c.Status) {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = now
	s.campaigns[id] = c
	return true, nil
}

func (s *Store) CompleteCampaign(_ context.Context, in store.CampaignResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[in.ID]
	if !ok || c.Status != domain.StatusSending {
		return false, nil
	}
	sentAt := in.SentAt
	c.Status = in.Status
	c.SentCount = in.SentCount
	c.ErrorLog = slices.Clone(in.ErrorLog)
	c.SentAt = &sentAt
	c.UpdatedAt = sentAt
	s.campaigns[in.ID] = c
	return true, nil
}

func (s *Store) ListDueCampaigns(_ context.Context, now time.Time) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status == domain.StatusScheduled && c.ScheduledFor != nil && !c.ScheduledFor.After(now) {
			out = append(out, copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(*out[j].ScheduledFor) })
	return out, nil
}

func (s *Store) InsertCampaignEvent(_ context.Context, ev domain.CampaignEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) ListCampaignEvents(_ context.Context, campaignID string) ([]domain.CampaignEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CampaignEvent
	for _, ev := range s.events {
		if ev.CampaignID == campaignID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Store) track(id string) {
	s.seq++
	s.order[id] = s.seq
}

func copySubscriber(sub domain.Subscriber) domain.Subscriber {
	if sub.ConfirmedAt != nil {
		t := *sub.ConfirmedAt
		sub.ConfirmedAt = &t
	}
	if sub.UnsubscribedAt != nil {
		t := *sub.UnsubscribedAt
		sub.UnsubscribedAt = &t
	}
	return sub
}

func copyCampaign(c domain.Campaign) domain.Campaign {
	c.ErrorLog = slices.Clone(c.ErrorLog)
	if c.ScheduledFor != nil {
		t := *c.ScheduledFor
		c.ScheduledFor = &t
	}
	if c.SentAt != nil {
		t := *c.SentAt
		c.SentAt = &t
	}
	return c
}
