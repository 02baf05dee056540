package discover

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"imgload/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestFromHTML(t *testing.T) {
	page := `<html><body>
<img src="/a.png">
<img src="b.jpg" alt="b">
<img src="data:image/png;base64,AAAA" data-src="lazy.webp">
<img srcset="small.jpg 1x, big.jpg 2x">
<picture><source srcset="https://cdn.example/p.avif 1x"><img src="/a.png"></picture>
<img src="mailto:nobody@example.com">
<img>
</body></html>`

	got, err := FromHTML(mustURL(t, "http://example.com/gallery/index.html"), strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"http://example.com/a.png",
		"http://example.com/gallery/b.jpg",
		"http://example.com/gallery/lazy.webp",
		"http://example.com/gallery/small.jpg",
		"https://cdn.example/p.avif",
	}, got)
}

func TestFromHTMLBaseHref(t *testing.T) {
	page := `<html><head><base href="https://static.example/img/"></head><body><img src="x.png"></body></html>`
	got, err := FromHTML(mustURL(t, "http://example.com/"), strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://static.example/img/x.png"}, got)
}

func TestFromJSON(t *testing.T) {
	doc := []byte(`{"items": [
		{"thumb": "/t/1.jpg", "tags": ["a"]},
		{"thumb": "https://other.example/2.jpg"},
		{"thumb": null}
	], "gallery": ["g1.png", "g2.png"]}`)
	base := mustURL(t, "http://api.example/v1/feed")

	got, err := FromJSON(base, doc, ".items[].thumb")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://api.example/t/1.jpg", "https://other.example/2.jpg"}, got)

	got, err = FromJSON(base, doc, ".gallery")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://api.example/v1/g1.png", "http://api.example/v1/g2.png"}, got)
}

func TestFromJSONErrors(t *testing.T) {
	base := mustURL(t, "http://api.example/")
	tests := []struct {
		name  string
		doc   string
		query string
	}{
		{"bad query", `{}`, ".items[["},
		{"bad json", `{"items": `, ".items"},
		{"number result", `{"n": 3}`, ".n"},
		{"mixed array", `{"a": ["x", 1]}`, ".a"},
		{"runtime error", `{"a": 1}`, ".a[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromJSON(base, []byte(tt.doc), tt.query)
			assert.Error(t, err)
		})
	}
}

func TestPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Write([]byte(`<img src="one.png"><img src="two.png">`))
		case "/feed":
			w.Write([]byte(`{"photos": [{"url": "/p/1.jpg"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	fetch := HTTPFetcher(srv.Client())
	ctx := context.Background()

	sources, err := Page(ctx, fetch, srv.URL+"/page", "")
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, common.Remote(srv.URL+"/one.png"), sources[0])

	sources, err = Page(ctx, fetch, srv.URL+"/feed", ".photos[].url")
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, srv.URL+"/p/1.jpg", sources[0].URL())

	_, err = Page(ctx, fetch, srv.URL+"/missing", "")
	assert.ErrorIs(t, err, common.ErrNetwork)
}
