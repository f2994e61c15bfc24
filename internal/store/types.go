package store

import (
	"errors"
	"time"

	"newsletter/internal/domain"
)

// ErrConflict is returned when an insert hits a unique constraint.
var ErrConflict = errors.New("store: conflict")

type SubscriberCounts struct {
	Total        int
	Confirmed    int
	Unconfirmed  int
	Unsubscribed int
}

// LifecycleRow carries the three lifecycle timestamps of one subscriber.
type LifecycleRow struct {
	CreatedAt      time.Time
	ConfirmedAt    *time.Time
	UnsubscribedAt *time.Time
}

type CampaignFilter struct {
	Status domain.CampaignStatus // empty means any
	Limit  int
	Offset int
}

type CampaignUpdate struct {
	ID           string
	Subject      string
	Content      string
	Status       domain.CampaignStatus
	ScheduledFor *time.Time
	Now          time.Time
}

// CampaignResult is the single terminal commit of a dispatch.
type CampaignResult struct {
	ID        string
	Status    domain.CampaignStatus
	SentCount int
	ErrorLog  []domain.RecipientError
	SentAt    time.Time
}

type MarketingPreference struct {
	Email   string
	OptedIn bool
	Now     time.Time
}
