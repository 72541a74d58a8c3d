package fetch

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/embed-email/internal/identity"
)

// DefaultConcurrency is the number of downloads in flight per email.
const DefaultConcurrency = 3

// DefaultUserAgent is sent with every request; some origins reject requests
// without a browser-like agent.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:93.0) Gecko/20100101 Firefox/93.0"

// Options tunes a Fetcher.
type Options struct {
	// Concurrency caps simultaneous downloads. Zero means DefaultConcurrency.
	Concurrency int
	// UserAgent overrides DefaultUserAgent.
	UserAgent string
	// ReuseCache serves a URL from the cache directory when a blob for it
	// already exists instead of downloading it again.
	ReuseCache bool
	Logger     *slog.Logger
}

// Fetcher downloads a set of URLs into a Cache with bounded concurrency.
// Failed downloads are logged and left out of the result; they never fail
// the batch.
type Fetcher struct {
	client      Client
	cache       *Cache
	concurrency int
	userAgent   string
	reuseCache  bool
	logger      *slog.Logger
}

// New creates a Fetcher that downloads through client into cache.
func New(client Client, cache *Cache, opts Options) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Fetcher{
		client:      client,
		cache:       cache,
		concurrency: opts.Concurrency,
		userAgent:   opts.UserAgent,
		reuseCache:  opts.ReuseCache,
		logger:      opts.Logger,
	}
}

// FetchAll downloads every distinct URL and returns a map from URL to the
// absolute path of its blob in the cache. It returns once all downloads have
// finished, successfully or not. Completion order is not defined.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) map[string]string {
	distinct := make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			distinct = append(distinct, u)
		}
	}

	// Every task owns one slot, so no locking is needed until the merge.
	paths := make([]string, len(distinct))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, u := range distinct {
		g.Go(func() error {
			paths[i] = f.fetchOne(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	saved := make(map[string]string, len(distinct))
	for i, u := range distinct {
		if paths[i] != "" {
			saved[u] = paths[i]
		}
	}
	return saved
}

// fetchOne downloads a single URL and returns the blob path, or "" when the
// download failed.
func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) string {
	name := identity.CacheName(rawURL)

	if f.reuseCache {
		if p, ok := f.cache.Lookup(name); ok {
			f.logger.Debug("using cached download", "url", rawURL, "path", p)
			return p
		}
	}

	f.logger.Debug("download started", "url", rawURL)

	header := http.Header{}
	header.Set("User-Agent", f.userAgent)

	body, err := f.client.Get(ctx, rawURL, header)
	if err != nil {
		f.logger.Warn("download failed", "url", rawURL, "error", err)
		return ""
	}

	p, err := f.cache.Write(name, body)
	if err != nil {
		f.logger.Warn("download failed", "url", rawURL, "error", err)
		return ""
	}

	f.logger.Debug("download finished", "url", rawURL, "path", p, "bytes", len(body))
	return p
}
