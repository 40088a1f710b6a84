package snapcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/erplora/insighthub/internal/analytics"
	"github.com/erplora/insighthub/internal/period"
)

func testKey(tenant uuid.UUID, rt analytics.ReportType, rng period.DateRange) analytics.ReportKey {
	return analytics.NewReportKey(tenant, rt, rng, nil)
}

func marchRange() period.DateRange {
	return period.DateRange{Start: period.Date(2024, time.March, 1), End: period.Date(2024, time.April, 1)}
}

func februaryRange() period.DateRange {
	return period.DateRange{Start: period.Date(2024, time.February, 1), End: period.Date(2024, time.March, 1)}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	current := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	cache := New(8, TTLPolicy{}, WithNow(func() time.Time { return current }))
	key := testKey(uuid.New(), analytics.ReportSales, marchRange())

	calls := 0
	asOf := time.Date(2024, time.March, 10, 11, 58, 0, 0, time.UTC)
	compute := func(ctx context.Context) (analytics.Payload, time.Time, error) {
		calls++
		return &analytics.SalesPayload{Revenue: 900}, asOf, nil
	}

	first, err := cache.GetOrCompute(context.Background(), key, compute)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !first.ComputedAt.Equal(current) || !first.DataAsOf.Equal(asOf) {
		t.Fatalf("snapshot metadata wrong: computed=%s asOf=%s", first.ComputedAt, first.DataAsOf)
	}

	second, err := cache.GetOrCompute(context.Background(), key, compute)
	if err != nil {
		t.Fatalf("cached read: %v", err)
	}
	if calls != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}
	if second != first {
		t.Fatalf("cached read must return the stored snapshot")
	}
	if cache.Len() != 1 {
		t.Fatalf("len = %d", cache.Len())
	}
}

func TestDataAsOfFallsBackToComputedAt(t *testing.T) {
	current := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	cache := New(8, TTLPolicy{}, WithNow(func() time.Time { return current }))
	key := testKey(uuid.New(), analytics.ReportLoyalty, marchRange())

	snap, err := cache.GetOrCompute(context.Background(), key, func(ctx context.Context) (analytics.Payload, time.Time, error) {
		return &analytics.LoyaltyPayload{ActiveMembers: 3}, time.Time{}, nil
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !snap.DataAsOf.Equal(snap.ComputedAt) {
		t.Fatalf("zero asOf must fall back to computedAt")
	}
}

func TestFreshnessByRangeRecency(t *testing.T) {
	current := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	policy := TTLPolicy{Default: TTLs{Hot: 5 * time.Minute, Closed: 24 * time.Hour}}
	cache := New(8, policy, WithNow(func() time.Time { return current }))

	tenant := uuid.New()
	hotKey := testKey(tenant, analytics.ReportSales, marchRange())
	closedKey := testKey(tenant, analytics.ReportSales, februaryRange())

	hotCalls, closedCalls := 0, 0
	hotCompute := func(ctx context.Context) (analytics.Payload, time.Time, error) {
		hotCalls++
		return &analytics.SalesPayload{}, time.Time{}, nil
	}
	closedCompute := func(ctx context.Context) (analytics.Payload, time.Time, error) {
		closedCalls++
		return &analytics.SalesPayload{}, time.Time{}, nil
	}

	mustGet := func(key analytics.ReportKey, compute analytics.ComputeFunc) {
		t.Helper()
		if _, err := cache.GetOrCompute(context.Background(), key, compute); err != nil {
			t.Fatalf("get: %v", err)
		}
	}

	mustGet(hotKey, hotCompute)
	mustGet(closedKey, closedCompute)

	current = current.Add(4 * time.Minute)
	mustGet(hotKey, hotCompute)
	mustGet(closedKey, closedCompute)
	if hotCalls != 1 || closedCalls != 1 {
		t.Fatalf("still fresh: hot=%d closed=%d", hotCalls, closedCalls)
	}

	current = current.Add(2 * time.Minute)
	mustGet(hotKey, hotCompute)
	mustGet(closedKey, closedCompute)
	if hotCalls != 2 {
		t.Fatalf("hot range must expire after its short ttl, calls=%d", hotCalls)
	}
	if closedCalls != 1 {
		t.Fatalf("closed range must survive the short ttl, calls=%d", closedCalls)
	}

	current = current.Add(25 * time.Hour)
	mustGet(closedKey, closedCompute)
	if closedCalls != 2 {
		t.Fatalf("closed range must expire after the long ttl, calls=%d", closedCalls)
	}
}

func TestTTLPolicyByTypeOverride(t *testing.T) {
	today := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	policy := TTLPolicy{
		Default: TTLs{Hot: 5 * time.Minute, Closed: 24 * time.Hour},
		ByType:  map[analytics.ReportType]TTLs{analytics.ReportSales: {Hot: 30 * time.Second}},
	}

	sales := testKey(uuid.New(), analytics.ReportSales, marchRange())
	products := testKey(uuid.New(), analytics.ReportProducts, marchRange())
	closedSales := testKey(uuid.New(), analytics.ReportSales, februaryRange())

	if got := policy.For(sales, today); got != 30*time.Second {
		t.Fatalf("sales hot ttl = %s", got)
	}
	if got := policy.For(products, today); got != 5*time.Minute {
		t.Fatalf("products hot ttl = %s", got)
	}
	if got := policy.For(closedSales, today); got != 24*time.Hour {
		t.Fatalf("closed ttl must keep default when override only sets hot, got %s", got)
	}
}

func TestConcurrentCallersShareOneComputation(t *testing.T) {
	cache := New(8, TTLPolicy{})
	key := testKey(uuid.New(), analytics.ReportSales, marchRange())

	gate := make(chan struct{})
	var calls atomic.Int32
	compute := func(ctx context.Context) (analytics.Payload, time.Time, error) {
		calls.Add(1)
		<-gate
		return &analytics.SalesPayload{Revenue: 42}, time.Time{}, nil
	}

	const workers = 8
	snaps := make(chan *analytics.Snapshot, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := cache.GetOrCompute(context.Background(), key, compute)
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			snaps <- snap
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(snaps)

	if got := calls.Load(); got != 1 {
		t.Fatalf("compute ran %d times, want 1", got)
	}
	var first *analytics.Snapshot
	for snap := range snaps {
		if first == nil {
			first = snap
			continue
		}
		if snap != first {
			t.Fatalf("callers must share one snapshot")
		}
	}
}

func TestComputeFailureReachesEveryWaiter(t *testing.T) {
	cache := New(8, TTLPolicy{})
	key := testKey(uuid.New(), analytics.ReportProducts, marchRange())

	cause := errors.New("warehouse db down")
	started := make(chan struct{})
	gate := make(chan struct{})
	failing := func(ctx context.Context) (analytics.Payload, time.Time, error) {
		close(started)
		<-gate
		return nil, time.Time{}, cause
	}

	initiatorErr := make(chan error, 1)
	go func() {
		_, err := cache.GetOrCompute(context.Background(), key, failing)
		initiatorErr <- err
	}()

	<-started
	waiterErr := make(chan error, 1)
	go func() {
		_, err := cache.GetOrCompute(context.Background(), key, failing)
		waiterErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	close(gate)

	errInit := <-initiatorErr
	errWait := <-waiterErr

	if !errors.Is(errInit, cause) || errors.Is(errInit, ErrComputationFailed) {
		t.Fatalf("initiator must see the raw cause, got %v", errInit)
	}
	if !errors.Is(errWait, ErrComputationFailed) || !errors.Is(errWait, cause) {
		t.Fatalf("waiter must see the wrapped cause, got %v", errWait)
	}
	if cache.Len() != 0 {
		t.Fatalf("failed computation must not be cached, len=%d", cache.Len())
	}

	// The key retries cleanly afterwards.
	retries := 0
	snap, err := cache.GetOrCompute(context.Background(), key, func(ctx context.Context) (analytics.Payload, time.Time, error) {
		retries++
		return &analytics.ProductsPayload{ProductCount: 7}, time.Time{}, nil
	})
	if err != nil || retries != 1 {
		t.Fatalf("retry after failure: err=%v retries=%d", err, retries)
	}
	if snap.Payload.(*analytics.ProductsPayload).ProductCount != 7 {
		t.Fatalf("unexpected payload after retry")
	}
}

func TestWaiterHonorsItsOwnContext(t *testing.T) {
	cache := New(8, TTLPolicy{})
	key := testKey(uuid.New(), analytics.ReportCustomers, marchRange())

	started := make(chan struct{})
	gate := make(chan struct{})
	slow := func(ctx context.Context) (analytics.Payload, time.Time, error) {
		close(started)
		<-gate
		return &analytics.CustomersPayload{TotalCustomers: 5}, time.Time{}, nil
	}

	initiatorDone := make(chan error, 1)
	go func() {
		_, err := cache.GetOrCompute(context.Background(), key, slow)
		initiatorDone <- err
	}()

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := cache.GetOrCompute(ctx, key, slow)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waiter must return its ctx error, got %v", err)
	}

	close(gate)
	if err := <-initiatorDone; err != nil {
		t.Fatalf("initiator must still succeed, got %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("completed computation must be cached, len=%d", cache.Len())
	}
}

func TestInvalidateForcesRecomputation(t *testing.T) {
	cache := New(8, TTLPolicy{})
	tenant := uuid.New()
	other := uuid.New()

	keys := map[string]analytics.ReportKey{
		"sales":    testKey(tenant, analytics.ReportSales, marchRange()),
		"products": testKey(tenant, analytics.ReportProducts, marchRange()),
		"foreign":  testKey(other, analytics.ReportSales, marchRange()),
	}
	calls := map[string]int{}
	prime := func(name string) {
		t.Helper()
		_, err := cache.GetOrCompute(context.Background(), keys[name], func(ctx context.Context) (analytics.Payload, time.Time, error) {
			calls[name]++
			return &analytics.SalesPayload{}, time.Time{}, nil
		})
		if err != nil {
			t.Fatalf("prime %s: %v", name, err)
		}
	}

	prime("sales")
	prime("products")
	prime("foreign")

	if removed := cache.Invalidate(tenant, analytics.ReportSales); removed != 1 {
		t.Fatalf("typed invalidate removed %d, want 1", removed)
	}
	prime("sales")
	prime("products")
	if calls["sales"] != 2 || calls["products"] != 1 {
		t.Fatalf("typed invalidate must only hit its type: sales=%d products=%d", calls["sales"], calls["products"])
	}

	if removed := cache.Invalidate(tenant); removed != 2 {
		t.Fatalf("tenant invalidate removed %d, want 2", removed)
	}
	prime("sales")
	prime("products")
	prime("foreign")
	if calls["sales"] != 3 || calls["products"] != 2 || calls["foreign"] != 1 {
		t.Fatalf("tenant invalidate must not touch other tenants: %+v", calls)
	}

	if removed := cache.Invalidate(uuid.New()); removed != 0 {
		t.Fatalf("invalidate with no matches must be a no-op, removed %d", removed)
	}
}

func TestInvalidateCutsOffInFlightComputation(t *testing.T) {
	cache := New(8, TTLPolicy{})
	tenant := uuid.New()
	key := testKey(tenant, analytics.ReportSales, marchRange())

	started := make(chan struct{})
	gate := make(chan struct{})
	var calls atomic.Int32
	compute := func(ctx context.Context) (analytics.Payload, time.Time, error) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
		}
		<-gate
		return &analytics.SalesPayload{Revenue: float64(n)}, time.Time{}, nil
	}

	firstSnap := make(chan *analytics.Snapshot, 1)
	go func() {
		snap, err := cache.GetOrCompute(context.Background(), key, compute)
		if err != nil {
			t.Errorf("first get: %v", err)
		}
		firstSnap <- snap
	}()

	<-started
	if removed := cache.Invalidate(tenant); removed != 0 {
		t.Fatalf("nothing stored yet, removed %d", removed)
	}

	secondSnap := make(chan *analytics.Snapshot, 1)
	go func() {
		snap, err := cache.GetOrCompute(context.Background(), key, compute)
		if err != nil {
			t.Errorf("second get: %v", err)
		}
		secondSnap <- snap
	}()

	// Wait for the post-invalidation flight to start; it must not join the
	// first one.
	deadline := time.After(2 * time.Second)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("second computation never started; caller joined a stale flight")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(gate)

	first := <-firstSnap
	second := <-secondSnap
	if first.Payload.(*analytics.SalesPayload).Revenue != 1 {
		t.Fatalf("first caller must keep its own result")
	}
	if second.Payload.(*analytics.SalesPayload).Revenue != 2 {
		t.Fatalf("post-invalidation caller must get freshly computed data")
	}

	// Only the post-invalidation result may live in the cache.
	cached, err := cache.GetOrCompute(context.Background(), key, compute)
	if err != nil {
		t.Fatalf("cached read: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("cached read must not recompute, calls=%d", calls.Load())
	}
	if cached.Payload.(*analytics.SalesPayload).Revenue != 2 {
		t.Fatalf("stale flight result leaked into the cache")
	}
}

func TestEvictionKeepsMostRecentlyUsed(t *testing.T) {
	cache := New(2, TTLPolicy{})
	tenant := uuid.New()

	ranges := []period.DateRange{
		{Start: period.Date(2024, time.January, 1), End: period.Date(2024, time.February, 1)},
		{Start: period.Date(2024, time.February, 1), End: period.Date(2024, time.March, 1)},
		{Start: period.Date(2024, time.March, 1), End: period.Date(2024, time.April, 1)},
	}
	calls := make([]int, len(ranges))
	get := func(i int) {
		t.Helper()
		key := testKey(tenant, analytics.ReportSales, ranges[i])
		_, err := cache.GetOrCompute(context.Background(), key, func(ctx context.Context) (analytics.Payload, time.Time, error) {
			calls[i]++
			return &analytics.SalesPayload{}, time.Time{}, nil
		})
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
	}

	get(0)
	get(1)
	get(0) // refresh key 0 so key 1 is least recently used
	get(2) // evicts key 1

	if cache.Len() != 2 {
		t.Fatalf("len = %d, want capacity 2", cache.Len())
	}
	get(0)
	if calls[0] != 1 {
		t.Fatalf("recently used key must survive eviction, calls=%d", calls[0])
	}
	get(1)
	if calls[1] != 2 {
		t.Fatalf("evicted key must recompute, calls=%d", calls[1])
	}
}
