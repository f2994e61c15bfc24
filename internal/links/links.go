// Package links builds the public URLs embedded in outgoing mail.
package links

import (
	"net/url"
	"strings"
)

const (
	ClickPath       = "/api/track/click/"
	OpenPath        = "/api/track/open/"
	ConfirmPath     = "/api/newsletter/confirm"
	UnsubscribePath = "/api/newsletter/unsubscribe"
)

type Builder struct {
	base string
}

// New takes PUBLIC_BASE_URL, e.g. https://news.example.com.
func New(base string) Builder {
	return Builder{base: strings.TrimRight(base, "/")}
}

// ClickPrefix is the common prefix of every click-tracking URL.
func (b Builder) ClickPrefix() string { return b.base + ClickPath }

// ClickURL encodes the original target as the url query parameter.
func (b Builder) ClickURL(campaignID, subscriberID, target string) string {
	return b.base + ClickPath + url.PathEscape(campaignID) + "/" + url.PathEscape(subscriberID) +
		"?url=" + url.QueryEscape(target)
}

func (b Builder) OpenURL(campaignID, subscriberID string) string {
	return b.base + OpenPath + url.PathEscape(campaignID) + "/" + url.PathEscape(subscriberID)
}

func (b Builder) ConfirmURL(token string) string {
	return b.base + ConfirmPath + "?" + url.Values{"token": {token}}.Encode()
}

func (b Builder) UnsubscribeURL(token, email string) string {
	return b.base + UnsubscribePath + "?" + url.Values{"email": {email}, "token": {token}}.Encode()
}

// NewsletterPrefix covers the confirm and unsubscribe endpoints.
func (b Builder) NewsletterPrefix() string { return b.base + "/api/newsletter/" }
