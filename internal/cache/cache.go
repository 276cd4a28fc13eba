package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"
)

// Loader produces rows for a query on a cache miss.
type Loader func(ctx context.Context) ([]domain.MetricRow, error)

type entry struct {
	done      chan struct{}
	rows      []domain.MetricRow
	err       error
	createdAt time.Time
}

func (e *entry) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.createdAt) > ttl
}

// QueryCache memoizes analytics query results with a fixed TTL and collapses
// concurrent identical requests onto a single in-flight fetch. Entries are
// evicted lazily on lookup; failed fetches are never retained.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewQueryCache(ttl time.Duration, logger *logger.Logger, metrics *metrics.Metrics) *QueryCache {
	return &QueryCache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Get returns the cached rows for q, waiting on an in-flight fetch for the
// same fingerprint if one exists, and otherwise invoking loader exactly once.
func (c *QueryCache) Get(ctx context.Context, q domain.AnalyticsQuery, loader Loader) ([]domain.MetricRow, error) {
	key := Fingerprint(q)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		settled := false
		select {
		case <-e.done:
			settled = true
		default:
		}
		if settled && e.expired(c.now(), c.ttl) {
			delete(c.entries, key)
		} else {
			c.mu.Unlock()
			if !settled {
				c.metrics.RecordCacheDedup()
			} else {
				c.metrics.RecordCacheHit()
			}
			select {
			case <-e.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return e.rows, e.err
		}
	}

	// miss: install the in-flight placeholder before releasing the lock
	e := &entry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	c.metrics.RecordCacheMiss()

	e.rows, e.err = loader(ctx)
	e.createdAt = c.now()
	close(e.done)

	if e.err != nil {
		// failures are not cached, the next call retries
		c.mu.Lock()
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.logger.WithContext(ctx).WithError(e.err).Debug("Query fetch failed, entry dropped")
		return nil, e.err
	}

	return e.rows, nil
}

// Len reports the number of retained entries, expired ones included.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
