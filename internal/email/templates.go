package email

import (
	"bytes"
	"html/template"
	"strings"
)

var (
	confirmTmpl = template.Must(template.New("confirm").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; color: #333;">
<h2>Confirm your subscription</h2>
<p>Thanks for signing up with {{.Email}}. Please confirm your address to start receiving the newsletter.</p>
<p><a href="{{.ConfirmURL}}" style="background:#e67e22;color:#fff;padding:10px 18px;text-decoration:none;border-radius:4px;">Confirm subscription</a></p>
<p style="font-size:0.9em;color:#7f8c8d;">If you did not request this, ignore this email or <a href="{{.UnsubscribeURL}}">unsubscribe</a>.</p>
</body></html>`))

	welcomeTmpl = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; color: #333;">
<h2>You're subscribed</h2>
<p>{{.Email}} will now receive our newsletter.</p>
<p style="font-size:0.9em;color:#7f8c8d;">Changed your mind? <a href="{{.UnsubscribeURL}}">Unsubscribe</a> at any time.</p>
</body></html>`))

	footerTmpl = template.Must(template.New("footer").Parse(`<div style="margin-top:30px;padding-top:15px;border-top:1px solid #ddd;font-size:0.9em;color:#7f8c8d;">` +
		`You are receiving this because you subscribed to our newsletter. <a href="{{.UnsubscribeURL}}">Unsubscribe</a></div>`))

	pixelTmpl = template.Must(template.New("pixel").Parse(
		`<img src="{{.OpenURL}}" width="1" height="1" alt="" style="display:block;width:1px;height:1px;border:0;" />`))
)

type systemMailData struct {
	Email          string
	ConfirmURL     string
	UnsubscribeURL string
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func ConfirmationBody(email, confirmURL, unsubscribeURL string) (string, error) {
	return render(confirmTmpl, systemMailData{Email: email, ConfirmURL: confirmURL, UnsubscribeURL: unsubscribeURL})
}

func WelcomeBody(email, unsubscribeURL string) (string, error) {
	return render(welcomeTmpl, systemMailData{Email: email, UnsubscribeURL: unsubscribeURL})
}

// CampaignTrailer is the unsubscribe footer plus the open pixel. It is added
// after click rewriting so neither link is tracked.
func CampaignTrailer(unsubscribeURL, openURL string) (string, error) {
	footer, err := render(footerTmpl, struct{ UnsubscribeURL string }{unsubscribeURL})
	if err != nil {
		return "", err
	}
	pixel, err := render(pixelTmpl, struct{ OpenURL string }{openURL})
	if err != nil {
		return "", err
	}
	return footer + pixel, nil
}

// AppendTrailer inserts trailer before the last </body>, or at the end when
// the content is a fragment.
func AppendTrailer(htmlBody, trailer string) string {
	idx := strings.LastIndex(strings.ToLower(htmlBody), "</body>")
	if idx < 0 {
		return htmlBody + trailer
	}
	return htmlBody[:idx] + trailer + htmlBody[idx:]
}
