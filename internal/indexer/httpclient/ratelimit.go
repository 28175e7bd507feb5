package httpclient

import (
	"context"
	"sync"
	"time"
)

const defaultHostInterval = 500 * time.Millisecond

// RateLimiter enforces a minimum interval between requests at two levels:
// per indexer instance (the definition's requestDelay) and per target host
// (shared across indexers pointing at the same site). Waits block until
// both windows allow, honoring context cancellation.
type RateLimiter struct {
	mu           sync.Mutex
	hostInterval time.Duration
	indexers     map[int64]*limitEntry
	hosts        map[string]time.Time
}

type limitEntry struct {
	interval time.Duration
	last     time.Time
}

// NewRateLimiter creates a limiter with the default per-host interval.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		hostInterval: defaultHostInterval,
		indexers:     make(map[int64]*limitEntry),
		hosts:        make(map[string]time.Time),
	}
}

// SetIndexerInterval registers the per-indexer minimum request interval.
// Zero means no indexer-level limit.
func (l *RateLimiter) SetIndexerInterval(indexerID int64, interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.indexers[indexerID]
	if entry == nil {
		entry = &limitEntry{}
		l.indexers[indexerID] = entry
	}
	entry.interval = interval
}

// Wait blocks until both the indexer window and the host window allow a
// request, then records the request time. No strict FIFO fairness is
// guaranteed among concurrent callers on the same key.
func (l *RateLimiter) Wait(ctx context.Context, indexerID int64, host string) error {
	for {
		wait := l.reserve(indexerID, host)
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve returns how long the caller must still wait, or records the
// request and returns zero when both windows are open.
func (l *RateLimiter) reserve(indexerID int64, host string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	var wait time.Duration

	if entry, ok := l.indexers[indexerID]; ok && entry.interval > 0 {
		if until := entry.last.Add(entry.interval).Sub(now); until > wait {
			wait = until
		}
	}
	if host != "" {
		if until := l.hosts[host].Add(l.hostInterval).Sub(now); until > wait {
			wait = until
		}
	}

	if wait > 0 {
		return wait
	}

	if entry, ok := l.indexers[indexerID]; ok {
		entry.last = now
	}
	if host != "" {
		l.hosts[host] = now
	}
	return 0
}

// Remove drops the indexer's rate-limit state. Host entries persist since
// other indexers may share the host.
func (l *RateLimiter) Remove(indexerID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.indexers, indexerID)
}
