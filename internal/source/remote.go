package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bimmerbailey/prompthakcer/internal/config"
	"github.com/bimmerbailey/prompthakcer/internal/rules"
)

const (
	// DefaultCacheTTL is how long a fetched remote document is reused.
	DefaultCacheTTL = time.Hour

	// DefaultFetchTimeout bounds a single remote fetch.
	DefaultFetchTimeout = 10 * time.Second

	maxDocumentBytes = 4 << 20
	cacheSize        = 16
)

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithTTL sets how long fetched documents are cached.
func WithTTL(ttl time.Duration) RemoteOption {
	return func(r *Remote) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithHTTPClient replaces the HTTP client used for fetching.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		r.client = c
	}
}

// WithCacheFile persists fetched documents to path so later processes can
// reuse them until the TTL runs out.
func WithCacheFile(path string) RemoteOption {
	return func(r *Remote) {
		r.cacheFile = path
	}
}

// Remote fetches a JSON rule document over HTTP and caches it per URL, in
// memory and optionally on disk.
type Remote struct {
	URL string

	client    *http.Client
	ttl       time.Duration
	cache     *expirable.LRU[string, *rules.Document]
	cacheFile string
	now       func() time.Time
	logger    *slog.Logger
}

// cachedDocument is the on-disk form of a fetched document.
type cachedDocument struct {
	URL       string          `json:"url"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Document  json.RawMessage `json:"document"`
}

// NewRemote creates a Remote for url.
func NewRemote(url string, logger *slog.Logger, opts ...RemoteOption) *Remote {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Remote{
		URL:    url,
		client: &http.Client{Timeout: DefaultFetchTimeout},
		ttl:    DefaultCacheTTL,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = expirable.NewLRU[string, *rules.Document](cacheSize, nil, r.ttl)
	return r
}

// Fetch returns the cached document for the URL, downloading it when the
// cache entry is missing or expired.
func (r *Remote) Fetch(ctx context.Context) (*rules.Document, error) {
	if doc, ok := r.cache.Get(r.URL); ok {
		r.logger.Debug("remote rules cache hit", "url", r.URL)
		return doc, nil
	}
	if doc, ok := r.readCacheFile(); ok {
		r.cache.Add(r.URL, doc)
		return doc, nil
	}
	return r.Refresh(ctx)
}

// Refresh downloads the document regardless of the cache and stores the
// result. A failed refresh leaves any cached copy in place.
func (r *Remote) Refresh(ctx context.Context) (*rules.Document, error) {
	data, err := r.download(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	r.cache.Add(r.URL, doc)
	r.writeCacheFile(data)
	r.logger.Info("remote rules fetched", "url", r.URL, "rules", len(doc.Rules), "version", doc.Version)
	return doc, nil
}

// Purge drops every cached document, including the cache file.
func (r *Remote) Purge() {
	r.cache.Purge()
	if r.cacheFile == "" {
		return
	}
	if err := os.Remove(r.cacheFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("failed to remove rules cache", "path", r.cacheFile, "error", err)
	}
}

// readCacheFile returns the persisted document when it belongs to this URL
// and is younger than the TTL.
func (r *Remote) readCacheFile() (*rules.Document, bool) {
	if r.cacheFile == "" {
		return nil, false
	}
	data, err := os.ReadFile(r.cacheFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("failed to read rules cache", "path", r.cacheFile, "error", err)
		}
		return nil, false
	}

	var cached cachedDocument
	if err := json.Unmarshal(data, &cached); err != nil {
		r.logger.Warn("ignoring unreadable rules cache", "path", r.cacheFile, "error", err)
		return nil, false
	}
	if cached.URL != r.URL {
		return nil, false
	}
	age := r.now().Sub(cached.FetchedAt)
	if age < 0 || age >= r.ttl {
		r.logger.Debug("rules cache expired", "path", r.cacheFile, "age", age)
		return nil, false
	}

	doc, err := Decode(cached.Document)
	if err != nil {
		r.logger.Warn("ignoring invalid rules cache", "path", r.cacheFile, "error", err)
		return nil, false
	}
	r.logger.Debug("remote rules cache file hit", "url", r.URL, "age", age)
	return doc, true
}

func (r *Remote) writeCacheFile(data []byte) {
	if r.cacheFile == "" {
		return
	}
	out, err := json.Marshal(cachedDocument{URL: r.URL, FetchedAt: r.now(), Document: data})
	if err == nil {
		err = config.WriteFileAtomic(r.cacheFile, out)
	}
	if err != nil {
		r.logger.Warn("failed to write rules cache", "path", r.cacheFile, "error", err)
	}
}

func (r *Remote) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrSourceUnavailable, r.URL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrSourceUnavailable, err)
	}
	return data, nil
}
