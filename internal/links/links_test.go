package links

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickURLRoundTrip(t *testing.T) {
	b := New("https://news.example.com/")
	target := "https://shop.example.com/p?id=1&ref=mail#top"

	got := b.ClickURL("cmp_1", "sub_1", target)
	require.True(t, strings.HasPrefix(got, b.ClickPrefix()+"cmp_1/sub_1?"))

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, target, u.Query().Get("url"))
}

func TestUnsubscribeURLCarriesTokenAndEmail(t *testing.T) {
	b := New("http://localhost:8080")
	u, err := url.Parse(b.UnsubscribeURL("tok", "a+b@x.com"))
	require.NoError(t, err)
	assert.Equal(t, UnsubscribePath, u.Path)
	assert.Equal(t, "tok", u.Query().Get("token"))
	assert.Equal(t, "a+b@x.com", u.Query().Get("email"))
}

func TestOpenURL(t *testing.T) {
	assert.Equal(t, "http://h/api/track/open/c/s", New("http://h").OpenURL("c", "s"))
}
