package domain

import "errors"

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrAlreadySubscribed  = errors.New("email is already subscribed")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrDuplicateSend      = errors.New("campaign has already been sent or is sending")
	ErrInvalidTransition  = errors.New("invalid campaign status transition")
	ErrCampaignLocked     = errors.New("campaign can no longer be modified")
	ErrInvalidCampaign    = errors.New("invalid campaign")
)

// TransportError is one recipient's send failure. The dispatcher records it
// and moves on to the next recipient.
type TransportError struct {
	Recipient string
	Err       error
}

func (e *TransportError) Error() string { return "send to " + e.Recipient + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// RecipientFetchError aborts a dispatch before any mail goes out.
type RecipientFetchError struct {
	Err error
}

func (e *RecipientFetchError) Error() string { return "fetch recipients: " + e.Err.Error() }
func (e *RecipientFetchError) Unwrap() error { return e.Err }
