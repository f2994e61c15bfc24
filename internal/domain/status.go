package domain

import "fmt"

type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusScheduled CampaignStatus = "scheduled"
	StatusSending   CampaignStatus = "sending"
	StatusSent      CampaignStatus = "sent"
	StatusFailed    CampaignStatus = "failed"
)

// allowedTransitions lists every legal move. draft and scheduled may swap
// while the campaign is still being edited; everything else moves forward.
var allowedTransitions = map[CampaignStatus][]CampaignStatus{
	StatusDraft:     {StatusScheduled, StatusSending},
	StatusScheduled: {StatusDraft, StatusSending},
	StatusSending:   {StatusSent, StatusFailed},
}

func ParseCampaignStatus(s string) (CampaignStatus, error) {
	st := CampaignStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidCampaign, s)
	}
	return st, nil
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusSending, StatusSent, StatusFailed:
		return true
	}
	return false
}

func (s CampaignStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Sendable reports whether a trigger may move the campaign into sending.
func (s CampaignStatus) Sendable() bool {
	return s == StatusDraft || s == StatusScheduled
}

// Editable reports whether content, schedule or existence may still change.
func (s CampaignStatus) Editable() bool {
	return s == StatusDraft || s == StatusScheduled
}

func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, to := range allowedTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Transition returns next when the move is legal and ErrInvalidTransition otherwise.
func (s CampaignStatus) Transition(next CampaignStatus) (CampaignStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// SendableStatuses is the precondition set for the sending CAS.
func SendableStatuses() []CampaignStatus {
	return []CampaignStatus{StatusDraft, StatusScheduled}
}
