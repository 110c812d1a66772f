// Package naming resolves node names to their network address and signing
// keys, caching answers from the naming service.
//
// Every cached name has one record. A record carries a future (done) for its
// in-flight refresh, so concurrent lookups of the same name share a single
// naming service call and wake only when that call completes.
package naming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	platformclock "github.com/fedsearch/search-api/internal/platform/clock"
	"github.com/fedsearch/search-api/internal/platform/metrics"
	clockport "github.com/fedsearch/search-api/internal/ports/out/clock"
	"github.com/fedsearch/search-api/internal/ports/out/namingsvc"
)

const (
	DefaultSuccessTTL      = 6 * time.Hour
	DefaultErrorTTL        = time.Minute
	DefaultBlockingTimeout = 30 * time.Second
	DefaultPurgeInterval   = time.Minute
	DefaultRefreshWorkers  = 8
)

type Options struct {
	// SuccessTTL is how long a resolved name stays fresh. It is also the
	// window within which an access keeps an expired record alive on purge.
	SuccessTTL time.Duration
	// ErrorTTL is how long a failed resolution is remembered.
	ErrorTTL time.Duration
	// BlockingTimeout bounds how long LookupBlocking waits for a refresh.
	BlockingTimeout time.Duration
	PurgeInterval   time.Duration
	RefreshWorkers  int

	Clock   clockport.Clock
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

type record struct {
	name Name

	// lastAccess is unix nanoseconds of the latest lookup.
	lastAccess atomic.Int64

	// Guarded by Cache.mu.
	details  *Details
	err      error
	deadline time.Time
	done     chan struct{} // non-nil while a refresh is in flight
}

func (r *record) touch(now time.Time) {
	r.lastAccess.Store(now.UnixNano())
}

type Cache struct {
	client  namingsvc.Client
	opts    Options
	clock   clockport.Clock
	log     *zap.Logger
	metrics *metrics.Collector

	workers *semaphore.Weighted

	// bg scopes refreshes; they outlive the lookups that start them.
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	records map[string]*record
	closed  bool
}

func New(client namingsvc.Client) *Cache {
	return NewWithOptions(client, Options{})
}

func NewWithOptions(client namingsvc.Client, opts Options) *Cache {
	if opts.SuccessTTL <= 0 {
		opts.SuccessTTL = DefaultSuccessTTL
	}
	if opts.ErrorTTL <= 0 {
		opts.ErrorTTL = DefaultErrorTTL
	}
	if opts.BlockingTimeout <= 0 {
		opts.BlockingTimeout = DefaultBlockingTimeout
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = DefaultPurgeInterval
	}
	if opts.RefreshWorkers <= 0 {
		opts.RefreshWorkers = DefaultRefreshWorkers
	}
	clk := opts.Clock
	if clk == nil {
		clk = platformclock.NewSystemClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bg, cancel := context.WithCancel(context.Background())
	return &Cache{
		client:  client,
		opts:    opts,
		clock:   clk,
		log:     logger.Named("naming"),
		metrics: opts.Metrics,
		workers: semaphore.NewWeighted(int64(opts.RefreshWorkers)),
		bg:      bg,
		cancel:  cancel,
		records: make(map[string]*record),
	}
}

// LookupNonBlocking returns cached details for name. When nothing usable is
// cached it schedules a refresh and returns false without waiting. Expired
// details are still returned while their refresh runs.
func (c *Cache) LookupNonBlocking(name string) (Details, bool) {
	now := c.clock.Now()
	rec := c.recordFor(name, now)

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.After(rec.deadline) && rec.done == nil {
		c.startRefreshLocked(rec)
	}
	if rec.details != nil {
		c.metrics.NamingLookup("nonblocking", "hit")
		return rec.details.Clone(), true
	}
	c.metrics.NamingLookup("nonblocking", "miss")
	return Details{}, false
}

// LookupBlocking returns cached details for name, or waits for the record's
// refresh to finish. It gives up after the configured blocking timeout or
// when ctx ends, returning ErrResolutionFailed. An unregistered name yields
// ErrNameNotFound.
func (c *Cache) LookupBlocking(ctx context.Context, name string) (Details, error) {
	now := c.clock.Now()
	rec := c.recordFor(name, now)

	timer := time.NewTimer(c.opts.BlockingTimeout)
	defer timer.Stop()

	for waited := false; ; waited = true {
		c.mu.Lock()
		unresolved := rec.details == nil && rec.err == nil
		if rec.done == nil && (unresolved || !waited && now.After(rec.deadline)) {
			c.startRefreshLocked(rec)
		}
		if rec.details != nil {
			d := rec.details.Clone()
			c.mu.Unlock()
			c.metrics.NamingLookup("blocking", "hit")
			return d, nil
		}
		done := rec.done
		if done == nil {
			err := rec.err
			c.mu.Unlock()
			c.metrics.NamingLookup("blocking", "error")
			return Details{}, err
		}
		c.mu.Unlock()

		select {
		case <-done:
		case <-timer.C:
			c.metrics.NamingLookup("blocking", "timeout")
			return Details{}, fmt.Errorf("%w: %s: timed out after %s", ErrResolutionFailed, name, c.opts.BlockingTimeout)
		case <-ctx.Done():
			return Details{}, fmt.Errorf("%w: %s: %w", ErrResolutionFailed, name, ctx.Err())
		}
	}
}

// LookupHistorical returns the signing key that was valid for name at the
// given time. It always asks the naming service.
func (c *Cache) LookupHistorical(ctx context.Context, name string, at time.Time) ([]byte, error) {
	n := Parse(name)
	rn, err := c.client.GetPast(ctx, n.Name, n.Generation, at)
	if err != nil {
		c.log.Warn("historical lookup failed",
			zap.String("node", n.String()),
			zap.Time("at", at),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s at %s: %w", ErrResolutionFailed, n, at.Format(time.RFC3339), err)
	}
	if rn == nil || len(rn.SigningKey) == 0 {
		return nil, fmt.Errorf("%w: %s at %s", ErrNameNotFound, n, at.Format(time.RFC3339))
	}
	return cloneBytes(rn.SigningKey), nil
}

// Purge drops or refreshes expired records. Records accessed within
// SuccessTTL are refreshed in place; the rest are evicted under every
// spelling.
func (c *Cache) Purge() {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[*record]bool, len(c.records))
	var refreshed, evicted int
	for _, rec := range c.records {
		if seen[rec] {
			continue
		}
		seen[rec] = true
		if rec.done != nil || !now.After(rec.deadline) {
			continue
		}
		lastAccess := time.Unix(0, rec.lastAccess.Load())
		if now.Sub(lastAccess) <= c.opts.SuccessTTL {
			c.startRefreshLocked(rec)
			refreshed++
			continue
		}
		c.removeLocked(rec)
		evicted++
	}
	c.metrics.NamingEntries(len(seen) - evicted)
	if refreshed > 0 || evicted > 0 {
		c.log.Debug("purged naming cache",
			zap.Int("refreshed", refreshed),
			zap.Int("evicted", evicted),
		)
	}
}

// Invalidate forgets name so the next lookup asks the naming service again.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[name]; ok {
		c.removeLocked(rec)
	}
}

// Run purges the cache every PurgeInterval until ctx ends.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}

// Close cancels in-flight refreshes and waits for them to finish.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// Len reports the number of distinct records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[*record]bool, len(c.records))
	for _, rec := range c.records {
		seen[rec] = true
	}
	return len(seen)
}

// recordFor returns the record for name, inserting an empty one (expired, so
// the caller refreshes it) when absent.
func (c *Cache) recordFor(name string, now time.Time) *record {
	c.mu.RLock()
	rec, ok := c.records[name]
	c.mu.RUnlock()
	if ok {
		rec.touch(now)
		return rec
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[name]; ok {
		rec.touch(now)
		return rec
	}
	rec = &record{name: Parse(name)}
	rec.touch(now)
	for _, k := range rec.name.keys() {
		if existing, ok := c.records[k]; ok {
			// Another spelling of the same name is already cached.
			c.records[name] = existing
			existing.touch(now)
			return existing
		}
	}
	for _, k := range rec.name.keys() {
		c.records[k] = rec
	}
	c.records[name] = rec
	return rec
}

func (c *Cache) removeLocked(rec *record) {
	for k, r := range c.records {
		if r == rec {
			delete(c.records, k)
		}
	}
}

// startRefreshLocked dispatches a refresh of rec. c.mu must be held for
// writing and rec must have no refresh in flight.
func (c *Cache) startRefreshLocked(rec *record) {
	rec.done = make(chan struct{})
	if c.closed {
		c.completeLocked(rec, nil, fmt.Errorf("%w: %s: cache closed", ErrResolutionFailed, rec.name))
		return
	}
	c.wg.Add(1)
	go c.refresh(rec)
}

func (c *Cache) refresh(rec *record) {
	defer c.wg.Done()

	if err := c.workers.Acquire(c.bg, 1); err != nil {
		c.complete(rec, nil, fmt.Errorf("%w: %s: %w", ErrResolutionFailed, rec.name, err))
		return
	}
	rn, err := c.client.GetCurrent(c.bg, rec.name.Name, rec.name.Generation)
	c.workers.Release(1)

	switch {
	case err != nil:
		c.metrics.NamingRefresh("error")
		c.log.Warn("naming refresh failed",
			zap.String("node", rec.name.String()),
			zap.Error(err),
		)
		c.complete(rec, nil, fmt.Errorf("%w: %s: %w", ErrResolutionFailed, rec.name, err))
	case rn == nil:
		c.metrics.NamingRefresh("not_found")
		c.complete(rec, nil, fmt.Errorf("%w: %s", ErrNameNotFound, rec.name))
	default:
		c.metrics.NamingRefresh("ok")
		c.complete(rec, detailsFrom(rn), nil)
	}
}

func (c *Cache) complete(rec *record, details *Details, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeLocked(rec, details, err)
}

func (c *Cache) completeLocked(rec *record, details *Details, err error) {
	now := c.clock.Now()
	if err == nil {
		rec.details = details
		rec.err = nil
		rec.deadline = now.Add(c.opts.SuccessTTL)
	} else {
		// Stale details keep serving through an outage, but not past a
		// deregistration.
		if errors.Is(err, ErrNameNotFound) {
			rec.details = nil
		}
		rec.err = err
		rec.deadline = now.Add(c.opts.ErrorTTL)
	}
	close(rec.done)
	rec.done = nil
}
