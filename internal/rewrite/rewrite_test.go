package rewrite

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter/internal/links"
)

const trackerBase = "https://n.example.com"

func trackingRule() Rule {
	b := links.New(trackerBase)
	return ClickTracking(func(href string) string {
		return b.ClickURL("cmp_1", "sub_1", href)
	}, b.ClickPrefix())
}

func hrefs(t *testing.T, doc string) []string {
	t.Helper()
	q, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	require.NoError(t, err)
	var out []string
	q.Find("a").Each(func(_ int, s *goquery.Selection) {
		h, _ := s.Attr("href")
		out = append(out, h)
	})
	return out
}

// follow decodes a tracking URL back to the href a click would land on.
func follow(t *testing.T, tracking string) string {
	t.Helper()
	u, err := url.Parse(tracking)
	require.NoError(t, err)
	return u.Query().Get("url")
}

func TestRewriteHTTPOnly(t *testing.T) {
	src := `<p>
<a href="https://example.com/a">a</a>
<a href="http://example.com/b?x=1&amp;y=2">b</a>
<a href="mailto:hi@example.com">mail</a>
<a href="#top">top</a>
<a href="/relative/path">rel</a>
<a href="tel:+123">tel</a>
<a href="javascript:void(0)">js</a>
</p>`
	out := Rewrite(src, trackingRule())
	got := hrefs(t, out)
	require.Len(t, got, 7)

	assert.True(t, strings.HasPrefix(got[0], trackerBase+links.ClickPath))
	assert.True(t, strings.HasPrefix(got[1], trackerBase+links.ClickPath))
	assert.Equal(t, "https://example.com/a", follow(t, got[0]))
	assert.Equal(t, "http://example.com/b?x=1&y=2", follow(t, got[1]))
	assert.Equal(t, []string{"mailto:hi@example.com", "#top", "/relative/path", "tel:+123", "javascript:void(0)"}, got[2:])
}

func TestRewritePreservesMarkupExactly(t *testing.T) {
	cases := map[string]struct {
		src  string
		want string
	}{
		"other attributes and order": {
			src:  `<a class="btn" title='say "hi"' href="https://x.com" data-id=7>go</a>`,
			want: `<a class="btn" title='say "hi"' href="TRACK" data-id=7>go</a>`,
		},
		"single quoted": {
			src:  `<a href='https://x.com/q?a="b"'>q</a>`,
			want: `<a href='TRACK'>q</a>`,
		},
		"unquoted gets quoted": {
			src:  `<A HREF=https://x.com target=_blank>up</A>`,
			want: `<A HREF="TRACK" target=_blank>up</A>`,
		},
		"self closing": {
			src:  `<a href="https://x.com"/>`,
			want: `<a href="TRACK"/>`,
		},
		"spaces around equals": {
			src:  "<a\n  href = \"https://x.com\"\n>x</a>",
			want: "<a\n  href = \"TRACK\"\n>x</a>",
		},
		"lookalike attribute untouched": {
			src:  `<a data-href="https://x.com" href="https://y.com">y</a>`,
			want: `<a data-href="https://x.com" href="TRACK">y</a>`,
		},
		"other tags untouched": {
			src:  `<link href="https://x.com/s.css"><area href="https://x.com">`,
			want: `<link href="https://x.com/s.css"><area href="https://x.com">`,
		},
		"script text untouched": {
			src:  `<script>var s = '<a href="https://x.com">';</script>`,
			want: `<script>var s = '<a href="https://x.com">';</script>`,
		},
		"first href wins": {
			src:  `<a href="https://x.com" href="https://y.com">x</a>`,
			want: `<a href="TRACK" href="https://y.com">x</a>`,
		},
	}
	rule := func(href string) (string, bool) {
		if !IsHTTP(href) {
			return "", false
		}
		return "TRACK", true
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Rewrite(tc.src, rule))
		})
	}
}

func TestRewriteNoopIsByteIdentical(t *testing.T) {
	src := "<!DOCTYPE html>\r\n<html><!-- <a href=\"https://c.com\"> --><body style=\"x\">Hi &amp; bye <b>bold<a href=\"https://x.com\">x</a> <a href=\"https://unterminated"
	never := func(string) (string, bool) { return "", false }
	assert.Equal(t, src, Rewrite(src, never))
}

func TestRewriteTracksWhitespacePaddedHrefs(t *testing.T) {
	src := `<a href=" https://ws.com ">a</a>` +
		"<a href=\"\n\thttp://ws.com/b\n\">b</a>" +
		`<a href=" mailto:x@ws.com ">m</a>`
	got := hrefs(t, Rewrite(src, trackingRule()))
	require.Len(t, got, 3)
	assert.Equal(t, "https://ws.com", follow(t, got[0]))
	assert.Equal(t, "http://ws.com/b", follow(t, got[1]))
	assert.Equal(t, " mailto:x@ws.com ", got[2])
}

func TestRewriteSkipsAlreadyTrackedLinks(t *testing.T) {
	once := Rewrite(`<a href="https://example.com/x">x</a>`, trackingRule())
	twice := Rewrite(once, trackingRule())
	assert.Equal(t, once, twice)
	assert.Equal(t, "https://example.com/x", follow(t, hrefs(t, twice)[0]))
}

func TestIsHTTP(t *testing.T) {
	assert.True(t, IsHTTP("https://x.com"))
	assert.True(t, IsHTTP("HTTP://X.COM/a"))
	assert.False(t, IsHTTP("//x.com/a"))
	assert.False(t, IsHTTP("ftp://x.com"))
	assert.False(t, IsHTTP("https:/no-host"))
	assert.False(t, IsHTTP(""))
}

func TestClickTrackingSkipPrefixes(t *testing.T) {
	rule := ClickTracking(func(string) string { return "TRACK" }, "https://n.example.com/api/newsletter/", "")
	_, ok := rule("https://n.example.com/api/newsletter/unsubscribe?token=t")
	assert.False(t, ok)
	got, ok := rule("https://n.example.com/blog")
	assert.True(t, ok)
	assert.Equal(t, "TRACK", got)
}
