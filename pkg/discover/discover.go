// Package discover finds image URLs in web pages and JSON documents.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"imgload/pkg/common"

	"github.com/PuerkitoBio/goquery"
	"github.com/itchyny/gojq"
	"golang.org/x/net/html/atom"
)

// maxDocument bounds how much of a page is read.
const maxDocument = 16 << 20

// Fetcher retrieves the body of a URL.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// HTTPFetcher returns a Fetcher using client, or http.DefaultClient when nil.
func HTTPFetcher(client *http.Client) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, uri string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: bad status: %s", common.ErrNetwork, resp.Status)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocument))
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", common.ErrNetwork, uri, err)
		}
		return data, nil
	}
}

// Page fetches pageURL and returns the images it references. With an empty
// query the body is parsed as HTML; otherwise it is JSON and query is a jq
// program producing URL strings.
func Page(ctx context.Context, fetch Fetcher, pageURL, query string) ([]common.Source, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %q: %w", pageURL, err)
	}
	data, err := fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	var urls []string
	if query == "" {
		urls, err = FromHTML(base, strings.NewReader(string(data)))
	} else {
		urls, err = FromJSON(base, data, query)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pageURL, err)
	}

	sources := make([]common.Source, 0, len(urls))
	for _, u := range urls {
		sources = append(sources, common.Remote(u))
	}
	return sources, nil
}

// FromHTML returns the absolute URLs of <img> and <picture> sources in
// document order, without duplicates. A <base href> overrides base.
func FromHTML(base *url.URL, r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := resolve(base, href); err == nil {
			base, _ = url.Parse(b)
		}
	}

	c := newCollector(base)
	doc.Find("img, source").Each(func(_ int, s *goquery.Selection) {
		switch s.Nodes[0].DataAtom {
		case atom.Img:
			if v, ok := s.Attr("src"); ok && !strings.HasPrefix(v, "data:") {
				c.add(v)
				return
			}
			if v, ok := s.Attr("data-src"); ok {
				c.add(v)
				return
			}
			if v, ok := s.Attr("srcset"); ok {
				c.add(firstCandidate(v))
			}
		case atom.Source:
			if v, ok := s.Attr("srcset"); ok {
				c.add(firstCandidate(v))
			}
		}
	})
	return c.urls, nil
}

// FromJSON runs query over the JSON document data. Each result must be a
// string or an array of strings; relative URLs are resolved against base.
func FromJSON(base *url.URL, data []byte, query string) ([]string, error) {
	q, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parsing query %q: %w", query, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}

	c := newCollector(base)
	iter := q.Run(doc)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, fmt.Errorf("running query: %w", err)
		}
		switch v := v.(type) {
		case string:
			c.add(v)
		case []any:
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("query produced %T inside an array, want string", item)
				}
				c.add(s)
			}
		case nil:
		default:
			return nil, fmt.Errorf("query produced %T, want string", v)
		}
	}
	return c.urls, nil
}

type collector struct {
	base *url.URL
	seen map[string]bool
	urls []string
}

func newCollector(base *url.URL) *collector {
	return &collector{base: base, seen: make(map[string]bool)}
}

func (c *collector) add(ref string) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return
	}
	abs, err := resolve(c.base, ref)
	if err != nil || c.seen[abs] {
		return
	}
	c.seen[abs] = true
	c.urls = append(c.urls, abs)
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("not a web url: %s", ref)
	}
	return u.String(), nil
}

// firstCandidate returns the URL of the first "url descriptor" pair of a srcset.
func firstCandidate(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
