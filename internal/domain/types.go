package domain

import (
	"strings"
	"time"
)

type Subscriber struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Confirmed        bool       `json:"confirmed"`
	Unsubscribed     bool       `json:"unsubscribed"`
	ConfirmTokenHash string     `json:"-"` // sha256 of the mailed token; the token itself is never stored
	UnsubscribeToken string     `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
	ConfirmedAt      *time.Time `json:"confirmedAt,omitempty"`
	UnsubscribedAt   *time.Time `json:"unsubscribedAt,omitempty"`
}

// Eligible reports whether the subscriber may receive campaign mail,
// before marketing preferences are applied.
func (s Subscriber) Eligible() bool {
	return s.Confirmed && !s.Unsubscribed
}

// NormalizeEmail lowercases and trims an address; emails are unique case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Recipient struct {
	SubscriberID     string
	Email            string
	UnsubscribeToken string
}

type Campaign struct {
	ID           string           `json:"id"`
	Subject      string           `json:"subject"`
	Content      string           `json:"content"`
	Status       CampaignStatus   `json:"status"`
	ScheduledFor *time.Time       `json:"scheduledFor,omitempty"`
	SentAt       *time.Time       `json:"sentAt,omitempty"`
	SentCount    int              `json:"sentCount"`
	ErrorLog     []RecipientError `json:"errorLog,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

type RecipientError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

type EventType string

const (
	EventOpen  EventType = "open"
	EventClick EventType = "click"
)

func (t EventType) Valid() bool {
	return t == EventOpen || t == EventClick
}

// CampaignEvent is an immutable tracking hit. URL is set only for clicks.
type CampaignEvent struct {
	CampaignID      string    `json:"campaignId"`
	SubscriberEmail string    `json:"subscriberEmail"`
	Type            EventType `json:"eventType"`
	URL             string    `json:"url,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}
