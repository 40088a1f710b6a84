package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erplora/insighthub/internal/period"
	"github.com/erplora/insighthub/internal/settings"
)

// SettingsSource provides the tenant configuration snapshot read once per
// request. Concurrent settings updates only affect later requests.
type SettingsSource interface {
	Get(ctx context.Context, tenantID uuid.UUID) (settings.Settings, error)
}

// SnapshotCache is the single-flight snapshot arena the orchestrator reads
// through.
type SnapshotCache interface {
	GetOrCompute(ctx context.Context, key ReportKey, compute ComputeFunc) (*Snapshot, error)
}

// ReportRequest describes one report to assemble. Zero-valued Selector,
// ReferenceDate and Compare fall back to the tenant's settings and today.
type ReportRequest struct {
	TenantID      uuid.UUID
	Type          ReportType
	Selector      period.Selector
	ReferenceDate time.Time
	Filters       Filters
	Compare       *bool
}

// ReportResult is the complete outcome of one report request. It is built in
// full or not at all: a failure at any stage surfaces as a single error.
type ReportResult struct {
	TenantID        uuid.UUID         `json:"tenant_id"`
	Type            ReportType        `json:"type"`
	Selector        period.Selector   `json:"selector"`
	Period          period.DateRange  `json:"period"`
	PreviousPeriod  *period.DateRange `json:"previous_period,omitempty"`
	Payload         Payload           `json:"payload"`
	PreviousPayload Payload           `json:"previous_payload,omitempty"`
	Comparison      Comparison        `json:"comparison,omitempty"`
	Currency        string            `json:"currency"`
	ComputedAt      time.Time         `json:"computed_at"`
	DataAsOf        time.Time         `json:"data_as_of"`
}

// Service orchestrates report assembly: settings snapshot, period
// resolution, cached fetches and comparison.
type Service struct {
	settings SettingsSource
	fetcher  Fetcher
	cache    SnapshotCache
	now      func() time.Time
}

// ServiceOption tweaks service construction.
type ServiceOption func(*Service)

// WithNow overrides the clock, for tests.
func WithNow(fn func() time.Time) ServiceOption {
	return func(s *Service) { s.now = fn }
}

// NewService constructs the report orchestrator.
func NewService(settingsSrc SettingsSource, fetcher Fetcher, cache SnapshotCache, opts ...ServiceOption) *Service {
	s := &Service{
		settings: settingsSrc,
		fetcher:  fetcher,
		cache:    cache,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetReport assembles one report. Settings are read once at entry; request
// fields override them. The previous period is fetched and compared only
// when comparison is effective.
func (s *Service) GetReport(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReportType, req.Type)
	}
	cfg, err := s.settings.Get(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: settings for tenant %s: %w", ErrDataUnavailable, req.TenantID, err)
	}

	selector := req.Selector
	if selector == "" {
		selector = cfg.DefaultPeriod
	}
	ref := req.ReferenceDate
	if ref.IsZero() {
		ref = s.now()
	}
	ranges, err := period.Resolve(selector, ref, cfg.FiscalYearStartMonth)
	if err != nil {
		return nil, fmt.Errorf("resolve %s period for tenant %s: %w", selector, req.TenantID, err)
	}

	current, err := s.snapshot(ctx, NewReportKey(req.TenantID, req.Type, ranges.Current, req.Filters))
	if err != nil {
		return nil, err
	}

	shaped := shapePayload(current.Payload, cfg)
	result := &ReportResult{
		TenantID:   req.TenantID,
		Type:       req.Type,
		Selector:   selector,
		Period:     ranges.Current,
		Payload:    shaped,
		Currency:   cfg.CurrencyCode,
		ComputedAt: current.ComputedAt,
		DataAsOf:   current.DataAsOf,
	}

	compare := cfg.ComparePreviousPeriod
	if req.Compare != nil {
		compare = *req.Compare
	}
	if !compare {
		return result, nil
	}

	previous, err := s.snapshot(ctx, NewReportKey(req.TenantID, req.Type, ranges.Previous, req.Filters))
	if err != nil {
		return nil, err
	}
	prevShaped := shapePayload(previous.Payload, cfg)
	prevRange := ranges.Previous
	result.PreviousPeriod = &prevRange
	result.PreviousPayload = prevShaped
	result.Comparison = Compare(shaped, prevShaped)
	return result, nil
}

// shapePayload applies tenant presentation settings to a payload. Cached
// snapshots keep full fidelity; shaping copies before trimming so shared
// values stay untouched.
func shapePayload(p Payload, cfg settings.Settings) Payload {
	switch v := p.(type) {
	case *SalesPayload:
		if cfg.TaxBreakdown == settings.TaxBreakdownRates {
			return v
		}
		out := *v
		out.TaxByRate = nil
		if cfg.TaxBreakdown == settings.TaxBreakdownNone {
			out.TaxTotal = nil
		}
		return &out
	case *ProductsPayload:
		if cfg.ShowProfit || v.Margins == nil {
			return v
		}
		out := *v
		out.Margins = nil
		return &out
	}
	return p
}

func (s *Service) snapshot(ctx context.Context, key ReportKey) (*Snapshot, error) {
	return s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (Payload, time.Time, error) {
		return s.fetcher.Fetch(ctx, key)
	})
}
