package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// defaultCleanupInterval is how often the store sweeps expired entries
// when Options leaves it unset.
const defaultCleanupInterval = 5 * time.Minute

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Fetcher produces the value for a key on a miss.
type Fetcher func(ctx context.Context) (any, error)

// Options configures a RequestCache.
type Options struct {
	// CleanupInterval is how often expired entries are swept. Expired
	// entries are never returned regardless.
	CleanupInterval time.Duration
}

// entry is what the store holds for each key.
type entry struct {
	value    any
	storedAt time.Time
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Invalidations int64   `json:"invalidations"`
	Errors        int64   `json:"errors"`
	Refreshes     int64   `json:"refreshes"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
	Size          int     `json:"size"`
}

// EntryInfo describes a single key.
type EntryInfo struct {
	Key       string        `json:"key"`
	Exists    bool          `json:"exists"`
	Age       time.Duration `json:"age"`
	Remaining time.Duration `json:"remaining"`
}

// RequestCache is a keyed TTL cache with read-through fetchers and
// per-key background refresh.
type RequestCache struct {
	store *gocache.Cache

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
	errors        atomic.Int64
	refreshed     atomic.Int64

	// genMu orders stores against invalidation. gens holds a generation per
	// key ever fetched or set; Invalidate and Set bump it so a fetch that
	// began earlier does not store its result.
	genMu sync.Mutex
	gens  map[string]uint64

	mu        sync.Mutex
	refreshes map[string]context.CancelFunc
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	logger Logger
}

// New creates a RequestCache. Close must be called to stop its goroutines.
func New(opts Options) *RequestCache {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RequestCache{
		store:     gocache.New(gocache.NoExpiration, opts.CleanupInterval),
		gens:      make(map[string]uint64),
		refreshes: make(map[string]context.CancelFunc),
		ctx:       ctx,
		cancel:    cancel,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for background refresh failures.
func (c *RequestCache) SetLogger(logger Logger) {
	c.logger = logger
}

// Get returns the live entry for key, or calls fetcher and stores its
// result for ttl. force skips the lookup. A fetcher error is returned and
// nothing is stored. A result whose key was invalidated or set while the
// fetcher ran is returned to the caller but not stored.
func (c *RequestCache) Get(ctx context.Context, key string, fetcher Fetcher, ttl time.Duration, force bool) (any, error) {
	if !force {
		if e, found := c.lookup(key); found {
			c.hits.Add(1)
			return e.value, nil
		}
	}

	c.misses.Add(1)
	return c.load(ctx, key, fetcher, ttl)
}

// load runs fetcher and stores its result unless the key's generation moved
// in the meantime.
func (c *RequestCache) load(ctx context.Context, key string, fetcher Fetcher, ttl time.Duration) (any, error) {
	gen := c.generation(key)
	value, err := fetcher(ctx)
	if err != nil {
		c.errors.Add(1)
		return nil, err
	}

	c.genMu.Lock()
	defer c.genMu.Unlock()
	if c.gens[key] != gen {
		c.logger.Debug("discarding result of superseded fetch", "key", key)
		return value, nil
	}
	c.store.Set(key, entry{value: value, storedAt: time.Now()}, expiry(ttl))
	return value, nil
}

func (c *RequestCache) generation(key string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	gen, seen := c.gens[key]
	if !seen {
		c.gens[key] = 0
	}
	return gen
}

func expiry(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

// Fetch is the typed form of Get.
func Fetch[T any](ctx context.Context, c *RequestCache, key string, ttl time.Duration, force bool, fetch func(context.Context) (T, error)) (T, error) {
	v, err := c.Get(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, ttl, force)
	if err != nil {
		var zero T
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s holds %T, want %T", ErrTypeMismatch, key, v, zero)
	}
	return typed, nil
}

// lookup returns the entry for key if it has not expired. An expired entry
// is removed.
func (c *RequestCache) lookup(key string) (entry, bool) {
	v, found := c.store.Get(key)
	if !found {
		c.store.Delete(key)
		return entry{}, false
	}
	e, ok := v.(entry)
	return e, ok
}

// Set stores value under key for ttl. A non-positive ttl never expires.
func (c *RequestCache) Set(key string, value any, ttl time.Duration) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.gens[key]++
	c.store.Set(key, entry{value: value, storedAt: time.Now()}, expiry(ttl))
}

// Peek returns the live value for key without touching the counters.
func (c *RequestCache) Peek(key string) (any, bool) {
	e, found := c.lookup(key)
	if !found {
		return nil, false
	}
	return e.value, true
}

// Invalidate deletes every key containing pattern and returns how many
// were removed. Fetches in flight for a matching key do not store their
// result.
func (c *RequestCache) Invalidate(pattern string) int {
	c.genMu.Lock()
	for key := range c.gens {
		if strings.Contains(key, pattern) {
			c.gens[key]++
		}
	}
	removed := 0
	for key := range c.store.Items() {
		if strings.Contains(key, pattern) {
			c.store.Delete(key)
			removed++
		}
	}
	c.genMu.Unlock()

	if removed > 0 {
		c.invalidations.Add(int64(removed))
		c.logger.Debug("cache entries invalidated", "pattern", pattern, "count", removed)
	}
	return removed
}

// Info reports whether key exists, how old it is and how long it has left.
// Remaining is zero for entries that never expire.
func (c *RequestCache) Info(key string) EntryInfo {
	info := EntryInfo{Key: key}
	v, expiresAt, found := c.store.GetWithExpiration(key)
	if !found {
		return info
	}
	e, ok := v.(entry)
	if !ok {
		return info
	}

	now := time.Now()
	info.Exists = true
	info.Age = now.Sub(e.storedAt)
	if !expiresAt.IsZero() {
		info.Remaining = max(expiresAt.Sub(now), 0)
	}
	return info
}

// Stats returns the current counters.
func (c *RequestCache) Stats() Stats {
	s := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Errors:        c.errors.Load(),
		Refreshes:     c.refreshed.Load(),
		Size:          c.store.ItemCount(),
	}
	s.TotalRequests = s.Hits + s.Misses
	if s.TotalRequests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalRequests)
	}
	return s
}

// ResetStats zeroes the counters. Entries are kept.
func (c *RequestCache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.invalidations.Store(0)
	c.errors.Store(0)
	c.refreshed.Store(0)
}

// StartBackgroundRefresh force-refreshes key every interval until stopped.
// Starting a key that already has a task replaces it. A failed refresh is
// logged and the existing entry is left in place. Refreshes are counted
// apart from hits and misses.
func (c *RequestCache) StartBackgroundRefresh(key string, interval time.Duration, fetcher Fetcher, ttl time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("cache: refresh interval for %s must be positive", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if stop, running := c.refreshes[key]; running {
		stop()
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.refreshes[key] = cancel

	c.wg.Add(1)
	go c.refreshLoop(ctx, key, interval, fetcher, ttl)

	c.logger.Debug("background refresh started", "key", key, "interval", interval)
	return nil
}

func (c *RequestCache) refreshLoop(ctx context.Context, key string, interval time.Duration, fetcher Fetcher, ttl time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshed.Add(1)
			if _, err := c.load(ctx, key, fetcher, ttl); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("background refresh failed", "key", key, "error", err)
			}
		}
	}
}

// StopBackgroundRefresh stops the task for key. It reports whether a task
// was running.
func (c *RequestCache) StopBackgroundRefresh(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop, running := c.refreshes[key]
	if !running {
		return false
	}
	stop()
	delete(c.refreshes, key)
	return true
}

// RefreshingKeys returns the keys that have a background task.
func (c *RequestCache) RefreshingKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.refreshes))
	for key := range c.refreshes {
		keys = append(keys, key)
	}
	return keys
}

// Close stops every background task, waits for them to exit and drops all
// entries. Calling Close more than once is safe.
func (c *RequestCache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.refreshes = make(map[string]context.CancelFunc)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.store.Flush()
}
