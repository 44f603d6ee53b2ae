package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// emptyCatalog is what clients get when the upstream is unreachable: the
// warmup exercise degrades to an empty list instead of an error page.
var emptyCatalog = []byte(`{"productions":[]}`)

// MovieCache proxies the warmup-question movie catalog with a TTL cache.
//
// FUNCTIONAL DISCOVERY: The catalog changes rarely and the upstream is rate
// limited, so one fetch per hour is shared by every session.
type MovieCache struct {
	upstreamURL string
	ttl         time.Duration
	httpClient  *http.Client
	now         func() time.Time

	mu        sync.Mutex
	cached    []byte
	fetchedAt time.Time
}

// NewMovieCache creates a catalog cache. An empty upstream URL serves the
// empty catalog.
func NewMovieCache(upstreamURL string, ttl time.Duration) *MovieCache {
	return &MovieCache{
		upstreamURL: upstreamURL,
		ttl:         ttl,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
	}
}

// Get returns the catalog JSON, from cache when fresh.
func (m *MovieCache) Get(ctx context.Context) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.now().Sub(m.fetchedAt) < m.ttl {
		return m.cached
	}

	body, err := m.fetch(ctx)
	if err != nil {
		log.Printf("movies: upstream fetch failed: %v", err)
		if m.cached != nil {
			return m.cached // stale beats empty
		}
		return emptyCatalog
	}

	m.cached = body
	m.fetchedAt = m.now()
	return m.cached
}

func (m *MovieCache) fetch(ctx context.Context) ([]byte, error) {
	if m.upstreamURL == "" {
		return nil, errNoUpstream
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.upstreamURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errUpstreamStatus
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errUpstreamBody
	}
	return body, nil
}
