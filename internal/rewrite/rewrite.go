// Package rewrite instruments anchor hrefs in HTML email bodies.
//
// Rewrite is a targeted attribute substitution: the document is walked with
// the x/net/html tokenizer and every token is copied through byte for byte,
// except the value of the first href attribute on <a> start tags, which is
// replaced when the Rule accepts it. Attribute order, quoting style, other
// attributes and all surrounding markup are left untouched.
package rewrite

import (
	"html"
	"net/url"
	"strings"

	xhtml "golang.org/x/net/html"
)

// Rule maps a decoded href to its replacement. ok=false leaves the href alone.
type Rule func(href string) (replacement string, ok bool)

func Rewrite(src string, rule Rule) string {
	if rule == nil || src == "" {
		return src
	}

	z := xhtml.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	b.Grow(len(src))
	consumed := 0

	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			break
		}
		raw := string(z.Raw())
		consumed += len(raw)
		if tt == xhtml.StartTagToken || tt == xhtml.SelfClosingTagToken {
			raw = rewriteAnchor(raw, rule)
		}
		b.WriteString(raw)
	}
	// anything the tokenizer refused (e.g. a tag cut off at EOF) is kept verbatim
	if consumed < len(src) {
		b.WriteString(src[consumed:])
	}
	return b.String()
}

// IsHTTP reports whether href is an absolute http or https URL.
func IsHTTP(href string) bool {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// ClickTracking rewrites http(s) hrefs through track. Hrefs starting with any
// of skip are left alone, which keeps already-tracked links from being
// wrapped a second time. Surrounding whitespace is dropped first, as
// browsers do when following the link.
func ClickTracking(track func(href string) string, skip ...string) Rule {
	return func(href string) (string, bool) {
		href = strings.TrimSpace(href)
		if !IsHTTP(href) {
			return "", false
		}
		for _, prefix := range skip {
			if prefix != "" && strings.HasPrefix(href, prefix) {
				return "", false
			}
		}
		return track(href), true
	}
}

type attrSpan struct {
	start, end int // value bounds in raw
	quote      byte
}

func rewriteAnchor(raw string, rule Rule) string {
	name, i := tagName(raw)
	if !strings.EqualFold(name, "a") {
		return raw
	}
	span, ok := findAttr(raw, i, "href")
	if !ok {
		return raw
	}

	replacement, ok := rule(html.UnescapeString(raw[span.start:span.end]))
	if !ok {
		return raw
	}
	escaped := html.EscapeString(replacement)
	if span.quote == 0 {
		// unquoted values cannot carry '=' or '&'; quote them
		escaped = `"` + escaped + `"`
	}
	return raw[:span.start] + escaped + raw[span.end:]
}

// tagName returns the name of the tag in raw and the offset just past it.
func tagName(raw string) (string, int) {
	if len(raw) < 2 || raw[0] != '<' {
		return "", len(raw)
	}
	i := 1
	for i < len(raw) && !isSpace(raw[i]) && raw[i] != '/' && raw[i] != '>' {
		i++
	}
	return raw[1:i], i
}

// findAttr scans attributes from offset i and returns the value span of the
// first attribute called name. Duplicates after the first are ignored, as
// browsers do.
func findAttr(raw string, i int, name string) (attrSpan, bool) {
	for i < len(raw) {
		c := raw[i]
		if c == '>' {
			return attrSpan{}, false
		}
		if isSpace(c) || c == '/' {
			i++
			continue
		}

		nameStart := i
		i++ // first char may be '=' per the tokenizer rules
		for i < len(raw) && !isSpace(raw[i]) && raw[i] != '/' && raw[i] != '>' && raw[i] != '=' {
			i++
		}
		attr := raw[nameStart:i]

		j := skipSpace(raw, i)
		if j >= len(raw) || raw[j] != '=' {
			i = j
			continue
		}
		j = skipSpace(raw, j+1)

		var span attrSpan
		switch {
		case j < len(raw) && (raw[j] == '"' || raw[j] == '\''):
			q := raw[j]
			end := strings.IndexByte(raw[j+1:], q)
			if end < 0 {
				return attrSpan{}, false
			}
			span = attrSpan{start: j + 1, end: j + 1 + end, quote: q}
			i = span.end + 1
		default:
			k := j
			for k < len(raw) && !isSpace(raw[k]) && raw[k] != '>' {
				k++
			}
			span = attrSpan{start: j, end: k}
			i = k
		}

		if strings.EqualFold(attr, name) {
			return span, true
		}
	}
	return attrSpan{}, false
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
