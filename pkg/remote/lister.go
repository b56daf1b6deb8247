package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"github.com/fulmenhq/metakernel/pkg/logger"
)

const (
	defaultListTimeout = 30 * time.Second
	maxIndexBytes      = 16 << 20
)

// Lister fetches HTML directory indexes and extracts the file names they link to.
type Lister struct {
	fetcher HTTPFetcher
	timeout time.Duration
}

// NewLister creates a Lister. timeout bounds each index request.
func NewLister(fetcher HTTPFetcher, timeout time.Duration) *Lister {
	if timeout <= 0 {
		timeout = defaultListTimeout
	}
	return &Lister{fetcher: fetcher, timeout: timeout}
}

// List returns the file names linked from the index page at dirURL, in page
// order. A missing directory (404/410) yields an empty listing. Links to
// other hosts, parent or sibling directories, subdirectories, query strings
// and fragments are discarded.
func (l *Lister) List(ctx context.Context, dirURL string) ([]string, error) {
	base, err := NormalizeDirURL(dirURL)
	if err != nil {
		return nil, &NetworkError{URL: dirURL, Wrapped: err}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, &NetworkError{URL: base.String(), Wrapped: err}
	}
	req.Header.Set("Accept", "text/html")

	start := time.Now()
	resp, err := l.fetcher.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: base.String(), Wrapped: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		logger.Warn("remote directory not found", logger.String("url", base.String()), logger.Int("status", resp.StatusCode))
		return []string{}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &NetworkError{URL: base.String(), StatusCode: resp.StatusCode}
	}

	names, err := ExtractLinks(io.LimitReader(resp.Body, maxIndexBytes), base)
	if err != nil {
		return nil, &NetworkError{URL: base.String(), Wrapped: fmt.Errorf("failed to read index: %w", err)}
	}

	logger.Debug("listing fetched",
		logger.String("url", base.String()),
		logger.Int("entries", len(names)),
		logger.Duration("took", time.Since(start)))
	return names, nil
}

// NormalizeDirURL parses dirURL and guarantees a trailing slash on its path
// so relative links resolve inside the directory.
func NormalizeDirURL(dirURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(dirURL))
	if err != nil {
		return nil, fmt.Errorf("invalid listing URL %q: %w", dirURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported listing URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("listing URL %q has no host", dirURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		u.RawPath = ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// ExtractLinks tokenizes an HTML index and returns the names of the files
// that are direct children of base.
func ExtractLinks(r io.Reader, base *url.URL) ([]string, error) {
	var names []string
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return names, nil
			}
			return nil, z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			tag, hasAttr := z.TagName()
			if string(tag) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					if name, ok := childName(base, string(val)); ok {
						names = append(names, name)
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

func childName(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "?") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if ref.Scheme != "" && ref.Scheme != base.Scheme {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if !strings.EqualFold(resolved.Host, base.Host) || resolved.RawQuery != "" {
		return "", false
	}
	if !strings.HasPrefix(resolved.Path, base.Path) {
		return "", false
	}
	name := strings.TrimPrefix(resolved.Path, base.Path)
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// CachedLister lists each distinct URL at most once for its lifetime.
// Concurrent callers asking for the same URL share one request.
type CachedLister struct {
	lister *Lister
	group  singleflight.Group
	mu     sync.Mutex
	cache  map[string]listing
}

type listing struct {
	names []string
	err   error
}

// NewCachedLister wraps a Lister with a per-invocation cache.
func NewCachedLister(l *Lister) *CachedLister {
	return &CachedLister{lister: l, cache: make(map[string]listing)}
}

// List returns the cached listing for dirURL, fetching it on first use.
// Failures are cached too so a dead host is only contacted once.
func (c *CachedLister) List(ctx context.Context, dirURL string) ([]string, error) {
	key := dirURL
	if u, err := NormalizeDirURL(dirURL); err == nil {
		key = u.String()
	}

	c.mu.Lock()
	if hit, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return hit.names, hit.err
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		hit, ok := c.cache[key]
		c.mu.Unlock()
		if ok {
			return hit, nil
		}
		names, err := c.lister.List(ctx, key)
		entry := listing{names: names, err: err}
		if ctx.Err() == nil {
			c.mu.Lock()
			c.cache[key] = entry
			c.mu.Unlock()
		}
		return entry, nil
	})
	entry := v.(listing)
	return entry.names, entry.err
}
