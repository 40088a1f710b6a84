package analytics

import (
	"context"
	"fmt"
	"time"
)

// DefaultFetchTimeout bounds one collaborator call unless configured.
const DefaultFetchTimeout = 15 * time.Second

// Adapter normalizes collaborator access: every failure comes back as
// ErrDataUnavailable with the cause preserved, and each call is bounded by a
// timeout so a slow store cannot hold shared computations. The adapter never
// retries; retry policy belongs to callers.
type Adapter struct {
	inner   Fetcher
	timeout time.Duration
}

// NewAdapter wraps a raw fetcher. A non-positive timeout falls back to
// DefaultFetchTimeout.
func NewAdapter(inner Fetcher, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Adapter{inner: inner, timeout: timeout}
}

// Fetch implements Fetcher.
func (a *Adapter) Fetch(ctx context.Context, key ReportKey) (Payload, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	payload, asOf, err := a.inner.Fetch(ctx, key)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s report for tenant %s over %s: %w",
			ErrDataUnavailable, key.Type, key.TenantID, key.Range, err)
	}
	return payload, asOf, nil
}
