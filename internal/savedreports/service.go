package savedreports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/erplora/insighthub/internal/analytics"
	"github.com/erplora/insighthub/internal/period"
)

// Store is the persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, report SavedReport) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (SavedReport, error)
	List(ctx context.Context, tenantID, userID uuid.UUID, limit, offset int) ([]SavedReport, int, error)
	Update(ctx context.Context, report SavedReport) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	TouchLastRun(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
}

// ReportRunner assembles a report from a stored configuration.
type ReportRunner interface {
	GetReport(ctx context.Context, req analytics.ReportRequest) (*analytics.ReportResult, error)
}

// Service guards access rules and replays saved configurations.
type Service struct {
	store    Store
	runner   ReportRunner
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// Option tweaks service construction.
type Option func(*Service)

// WithNow overrides the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// NewService constructs the saved reports service.
func NewService(store Store, runner ReportRunner, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		runner:   runner,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertRequest carries a create or full update of a saved report.
type UpsertRequest struct {
	Name        string       `json:"name" validate:"required,max=120"`
	Description string       `json:"description" validate:"max=500"`
	Sharing     string       `json:"sharing" validate:"required"`
	Config      ReportConfig `json:"config"`
}

func (s *Service) parseRequest(req UpsertRequest) (Sharing, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidReport, err)
	}
	sharing, err := ParseSharing(req.Sharing)
	if err != nil {
		return "", err
	}
	if _, err := analytics.ParseReportType(req.Config.ReportType); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidReport, err)
	}
	if req.Config.Selector != "" {
		if _, err := period.ParseSelector(req.Config.Selector); err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidReport, err)
		}
	}
	return sharing, nil
}

// Create stores a new saved report owned by ownerID.
func (s *Service) Create(ctx context.Context, tenantID, ownerID uuid.UUID, req UpsertRequest) (SavedReport, error) {
	sharing, err := s.parseRequest(req)
	if err != nil {
		return SavedReport{}, err
	}
	now := s.now()
	report := SavedReport{
		ID:          uuid.New(),
		TenantID:    tenantID,
		OwnerID:     ownerID,
		Name:        req.Name,
		Description: req.Description,
		Sharing:     sharing,
		Config:      req.Config,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, report); err != nil {
		return SavedReport{}, err
	}
	return report, nil
}

// Get returns one report. Another user's private report reads as not found
// rather than forbidden, so its existence never leaks.
func (s *Service) Get(ctx context.Context, tenantID, userID, id uuid.UUID) (SavedReport, error) {
	report, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return SavedReport{}, err
	}
	if !report.VisibleTo(userID) {
		return SavedReport{}, ErrNotFound
	}
	return report, nil
}

// List returns the reports visible to user plus the total visible count.
func (s *Service) List(ctx context.Context, tenantID, userID uuid.UUID, limit, offset int) ([]SavedReport, int, error) {
	return s.store.List(ctx, tenantID, userID, limit, offset)
}

// Update replaces the mutable fields of a report. Only the owner may edit.
func (s *Service) Update(ctx context.Context, tenantID, userID, id uuid.UUID, req UpsertRequest) (SavedReport, error) {
	report, err := s.Get(ctx, tenantID, userID, id)
	if err != nil {
		return SavedReport{}, err
	}
	if !report.EditableBy(userID) {
		return SavedReport{}, ErrForbidden
	}
	sharing, err := s.parseRequest(req)
	if err != nil {
		return SavedReport{}, err
	}
	report.Name = req.Name
	report.Description = req.Description
	report.Sharing = sharing
	report.Config = req.Config
	report.UpdatedAt = s.now()
	if err := s.store.Update(ctx, report); err != nil {
		return SavedReport{}, err
	}
	return report, nil
}

// Delete removes a report. Only the owner may delete.
func (s *Service) Delete(ctx context.Context, tenantID, userID, id uuid.UUID) error {
	report, err := s.Get(ctx, tenantID, userID, id)
	if err != nil {
		return err
	}
	if !report.EditableBy(userID) {
		return ErrForbidden
	}
	return s.store.Delete(ctx, tenantID, id)
}

// Run replays the stored configuration through the report engine and stamps
// the run time. A failed stamp never fails the run.
func (s *Service) Run(ctx context.Context, tenantID, userID, id uuid.UUID, referenceDate time.Time) (*analytics.ReportResult, error) {
	report, err := s.Get(ctx, tenantID, userID, id)
	if err != nil {
		return nil, err
	}

	req := analytics.ReportRequest{
		TenantID:      tenantID,
		Type:          analytics.ReportType(report.Config.ReportType),
		Selector:      period.Selector(report.Config.Selector),
		ReferenceDate: referenceDate,
		Compare:       report.Config.Compare,
	}
	if len(report.Config.Filters) > 0 {
		req.Filters = analytics.Filters(report.Config.Filters)
	}
	result, err := s.runner.GetReport(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.store.TouchLastRun(ctx, tenantID, id, s.now()); err != nil {
		s.logger.Warn("saved report run not stamped",
			slog.Any("error", err),
			slog.String("report_id", id.String()))
	}
	return result, nil
}
