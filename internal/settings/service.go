package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/currency"

	"github.com/erplora/insighthub/internal/period"
)

// Store abstracts settings persistence.
type Store interface {
	GetOrCreate(ctx context.Context, tenantID uuid.UUID) (Settings, error)
	Upsert(ctx context.Context, s Settings) error
}

// WarmupEnqueuer schedules a snapshot warmup for one tenant.
type WarmupEnqueuer interface {
	EnqueueTenantWarmup(ctx context.Context, tenantID uuid.UUID) error
}

// Service validates and applies settings changes.
type Service struct {
	store    Store
	logger   *slog.Logger
	validate *validator.Validate
	warmup   WarmupEnqueuer
	now      func() time.Time
}

// Option tweaks service construction.
type Option func(*Service)

// WithWarmup wires the warmup queue used after fiscal anchoring changes.
func WithWarmup(w WarmupEnqueuer) Option {
	return func(s *Service) { s.warmup = w }
}

// WithNow overrides the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// NewService constructs the settings service.
func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the tenant's settings, seeding defaults on first access.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (Settings, error) {
	return s.store.GetOrCreate(ctx, tenantID)
}

// Update validates and persists a full settings update. A change to the
// fiscal anchoring or the default period re-warms the tenant's snapshots in
// the background; enqueue failures only log.
func (s *Service) Update(ctx context.Context, tenantID uuid.UUID, req UpdateRequest) (Settings, error) {
	selector, err := period.ParseSelector(req.DefaultPeriod)
	if err != nil {
		return Settings{}, err
	}
	if req.FiscalYearStartMonth < 1 || req.FiscalYearStartMonth > 12 {
		return Settings{}, fmt.Errorf("%w: fiscal year start month %d", period.ErrInvalidConfiguration, req.FiscalYearStartMonth)
	}
	if err := s.validate.Struct(req); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	tax, err := ParseTaxBreakdown(req.TaxBreakdown)
	if err != nil {
		return Settings{}, err
	}
	unit, err := currency.ParseISO(strings.ToUpper(req.CurrencyCode))
	if err != nil {
		return Settings{}, fmt.Errorf("%w: currency %q", ErrInvalidSettings, req.CurrencyCode)
	}

	before, err := s.store.GetOrCreate(ctx, tenantID)
	if err != nil {
		return Settings{}, err
	}

	next := Settings{
		TenantID:              tenantID,
		DefaultPeriod:         selector,
		FiscalYearStartMonth:  req.FiscalYearStartMonth,
		ShowProfit:            req.ShowProfit,
		TaxBreakdown:          tax,
		ComparePreviousPeriod: req.ComparePreviousPeriod,
		CurrencyCode:          unit.String(),
		UpdatedAt:             s.now(),
	}
	if err := s.store.Upsert(ctx, next); err != nil {
		return Settings{}, err
	}

	anchoringChanged := before.FiscalYearStartMonth != next.FiscalYearStartMonth ||
		before.DefaultPeriod != next.DefaultPeriod
	if anchoringChanged && s.warmup != nil {
		if err := s.warmup.EnqueueTenantWarmup(ctx, tenantID); err != nil {
			s.logger.Warn("tenant warmup enqueue failed",
				slog.String("tenant_id", tenantID.String()),
				slog.Any("error", err))
		}
	}
	return next, nil
}
