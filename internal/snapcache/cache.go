// Package snapcache keeps computed report snapshots in a bounded in-process
// arena with freshness policies, single-flight computation and tenant-scoped
// invalidation.
package snapcache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/erplora/insighthub/internal/analytics"
)

// ErrComputationFailed wraps a failure observed by a caller that joined
// another caller's in-flight computation. The initiating caller receives the
// underlying error untouched.
var ErrComputationFailed = errors.New("snapcache: computation failed")

// DefaultCapacity bounds the arena when no capacity is configured.
const DefaultCapacity = 512

// TTLs pairs the lifetime for ranges still covering today with the lifetime
// for fully elapsed ranges.
type TTLs struct {
	Hot    time.Duration
	Closed time.Duration
}

// DefaultTTLs returns the standard snapshot lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{Hot: 5 * time.Minute, Closed: 24 * time.Hour}
}

// TTLPolicy resolves a snapshot lifetime from the report type and the range
// recency. Closed ranges can no longer change, so they live long; ranges
// still covering today stay short-lived.
type TTLPolicy struct {
	Default TTLs
	ByType  map[analytics.ReportType]TTLs
}

// For returns the lifetime for one key as of today.
func (p TTLPolicy) For(key analytics.ReportKey, today time.Time) time.Duration {
	ttls := p.Default
	if o, ok := p.ByType[key.Type]; ok {
		if o.Hot > 0 {
			ttls.Hot = o.Hot
		}
		if o.Closed > 0 {
			ttls.Closed = o.Closed
		}
	}
	if key.Range.Closed(today) {
		return ttls.Closed
	}
	return ttls.Hot
}

// Recorder receives cache observations. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Hit(rt analytics.ReportType)
	Miss(rt analytics.ReportType)
	Computed(rt analytics.ReportType, d time.Duration)
	Shared(rt analytics.ReportType)
}

type nopRecorder struct{}

func (nopRecorder) Hit(analytics.ReportType)                     {}
func (nopRecorder) Miss(analytics.ReportType)                    {}
func (nopRecorder) Computed(analytics.ReportType, time.Duration) {}
func (nopRecorder) Shared(analytics.ReportType)                  {}

// Cache is the snapshot arena. The mutex guards only constant-time map and
// list bookkeeping; computations always run outside it, so eviction and
// lookups for one key never stall callers working on a different key.
type Cache struct {
	capacity int
	policy   TTLPolicy
	now      func() time.Time
	rec      Recorder

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List
	gens    map[genKey]uint64

	group singleflight.Group
}

type entry struct {
	snap *analytics.Snapshot
	elem *list.Element
}

// genKey scopes invalidation generations per tenant and report type.
type genKey struct {
	tenant uuid.UUID
	rt     analytics.ReportType
}

// Option tweaks cache construction.
type Option func(*Cache)

// WithNow overrides the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(c *Cache) { c.now = fn }
}

// WithRecorder attaches cache metrics.
func WithRecorder(r Recorder) Option {
	return func(c *Cache) {
		if r != nil {
			c.rec = r
		}
	}
}

// New builds a cache bounded to capacity entries under the given TTL policy.
func New(capacity int, policy TTLPolicy, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if policy.Default.Hot <= 0 || policy.Default.Closed <= 0 {
		def := DefaultTTLs()
		if policy.Default.Hot <= 0 {
			policy.Default.Hot = def.Hot
		}
		if policy.Default.Closed <= 0 {
			policy.Default.Closed = def.Closed
		}
	}
	c := &Cache{
		capacity: capacity,
		policy:   policy,
		now:      time.Now,
		rec:      nopRecorder{},
		entries:  make(map[string]*entry),
		lru:      list.New(),
		gens:     make(map[genKey]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns a fresh snapshot for key, computing it at most once
// across concurrent callers. A failed computation is surfaced to every waiter
// and leaves the key uncached; callers that merely joined the flight see the
// failure wrapped in ErrComputationFailed. Each waiter honors its own ctx and
// may stop waiting early without aborting the shared computation for others.
func (c *Cache) GetOrCompute(ctx context.Context, key analytics.ReportKey, compute analytics.ComputeFunc) (*analytics.Snapshot, error) {
	if compute == nil {
		return nil, errors.New("snapcache: nil compute func")
	}
	id := key.ID()
	now := c.now()

	c.mu.Lock()
	gen := c.gens[genKey{tenant: key.TenantID, rt: key.Type}]
	if e, ok := c.entries[id]; ok {
		if now.Sub(e.snap.ComputedAt) < c.policy.For(key, now) {
			c.lru.MoveToFront(e.elem)
			c.mu.Unlock()
			c.rec.Hit(key.Type)
			return e.snap, nil
		}
		c.removeLocked(id, e)
	}
	c.mu.Unlock()
	c.rec.Miss(key.Type)

	// initiated marks the caller whose closure actually ran; joiners keep it
	// false. The channel receive orders the write before the read.
	initiated := false
	ch := c.group.DoChan(flightID(id, gen), func() (any, error) {
		initiated = true
		started := c.now()
		payload, asOf, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		computedAt := c.now()
		if asOf.IsZero() {
			asOf = computedAt
		}
		snap := &analytics.Snapshot{Key: key, Payload: payload, ComputedAt: computedAt, DataAsOf: asOf}
		c.store(id, key, snap, gen)
		c.rec.Computed(key.Type, computedAt.Sub(started))
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if !initiated {
			c.rec.Shared(key.Type)
		}
		if res.Err != nil {
			if !initiated {
				return nil, fmt.Errorf("%w: %w", ErrComputationFailed, res.Err)
			}
			return nil, res.Err
		}
		return res.Val.(*analytics.Snapshot), nil
	}
}

// Invalidate removes the tenant's snapshots, optionally narrowed to specific
// report types, and returns how many entries were dropped. Generation bumps
// guarantee that a caller arriving after Invalidate never joins a computation
// started before it, and that such a computation cannot write its result
// back.
func (c *Cache) Invalidate(tenantID uuid.UUID, types ...analytics.ReportType) int {
	bump := types
	if len(bump) == 0 {
		bump = analytics.ReportTypes()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rt := range bump {
		c.gens[genKey{tenant: tenantID, rt: rt}]++
	}
	removed := 0
	for id, e := range c.entries {
		if e.snap.Key.TenantID != tenantID {
			continue
		}
		if len(types) > 0 && !containsType(types, e.snap.Key.Type) {
			continue
		}
		c.removeLocked(id, e)
		removed++
	}
	return removed
}

// Len reports the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) store(id string, key analytics.ReportKey, snap *analytics.Snapshot, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[genKey{tenant: key.TenantID, rt: key.Type}] != gen {
		// Invalidated while computing; waiters still get the result, the
		// arena does not.
		return
	}
	if e, ok := c.entries[id]; ok {
		c.removeLocked(id, e)
	}
	elem := c.lru.PushFront(id)
	c.entries[id] = &entry{snap: snap, elem: elem}
	for len(c.entries) > c.capacity {
		back := c.lru.Back()
		if back == nil {
			break
		}
		oldest := back.Value.(string)
		c.removeLocked(oldest, c.entries[oldest])
	}
}

func (c *Cache) removeLocked(id string, e *entry) {
	c.lru.Remove(e.elem)
	delete(c.entries, id)
}

func flightID(id string, gen uint64) string {
	return id + "#" + strconv.FormatUint(gen, 10)
}

func containsType(types []analytics.ReportType, rt analytics.ReportType) bool {
	for _, t := range types {
		if t == rt {
			return true
		}
	}
	return false
}
