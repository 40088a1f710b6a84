package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/erplora/insighthub/internal/analytics"
	jobmetrics "github.com/erplora/insighthub/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// TenantLister discovers which tenants a warmup sweep should cover.
type TenantLister interface {
	ActiveTenants(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// SnapshotWarmupJob pre-populates report snapshots so dashboards open warm.
type SnapshotWarmupJob struct {
	Reports       *analytics.Service
	Tenants       TenantLister
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
	TenantTimeout time.Duration
	clock         func() time.Time
}

// NewSnapshotWarmupJob wires dependencies for the warmup handlers.
func NewSnapshotWarmupJob(reports *analytics.Service, tenants TenantLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotWarmupJob {
	return &SnapshotWarmupJob{
		Reports:       reports,
		Tenants:       tenants,
		Logger:        logger,
		Metrics:       metrics,
		TenantTimeout: 2 * time.Minute,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes warmup sweep tasks covering every active tenant.
func (j *SnapshotWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("snapshot warmup: handler not configured")
	}
	var payload SnapshotWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Scope == "" {
		payload.Scope = "active"
	}

	tracker := j.metrics().Track(TaskSnapshotWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.jobLogger(TaskSnapshotWarmup).With(slog.String("scope", payload.Scope))
	logger.Info("starting snapshot warmup")

	if j.Tenants == nil {
		resultErr = errors.New("snapshot warmup: tenant lister not configured")
		return resultErr
	}
	tenants, err := j.Tenants.ActiveTenants(ctx, 0)
	if err != nil {
		resultErr = err
		logger.Error("list warmup tenants", slog.Any("error", err))
		return resultErr
	}
	if len(tenants) == 0 {
		logger.Info("no tenants discovered for warmup")
		return resultErr
	}

	start := j.now()
	failed := 0
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			resultErr = err
			return resultErr
		}
		if err := j.warmTenant(ctx, tenantID); err != nil {
			failed++
			logger.Error("warm tenant", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		}
	}

	if failed > 0 {
		resultErr = fmt.Errorf("snapshot warmup: %d of %d tenants failed", failed, len(tenants))
		return resultErr
	}
	logger.Info("completed snapshot warmup", slog.Int("tenants", len(tenants)), slog.Duration("duration", time.Since(start)))
	return resultErr
}

// HandleTenant processes single-tenant warmup tasks, typically enqueued after
// a settings change dropped that tenant's snapshots.
func (j *SnapshotWarmupJob) HandleTenant(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("tenant warmup: handler not configured")
	}
	var payload TenantWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.TenantID == uuid.Nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskTenantWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.jobLogger(TaskTenantWarmup).With(slog.String("tenant_id", payload.TenantID.String()))
	logger.Info("starting tenant warmup")

	if err := j.warmTenant(ctx, payload.TenantID); err != nil {
		resultErr = err
		logger.Error("warm tenant", slog.Any("error", err))
		return resultErr
	}
	logger.Info("completed tenant warmup")
	return resultErr
}

func (j *SnapshotWarmupJob) warmTenant(ctx context.Context, tenantID uuid.UUID) error {
	if j.Reports == nil {
		return nil
	}
	// Bound each tenant so one slow store cannot stall the whole sweep.
	timeout := j.TenantTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	tenantCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, rt := range analytics.ReportTypes() {
		if _, err := j.Reports.GetReport(tenantCtx, analytics.ReportRequest{TenantID: tenantID, Type: rt}); err != nil {
			return fmt.Errorf("warm %s: %w", rt, err)
		}
		j.metrics().AddWarmedSnapshots(string(rt), 1)
	}
	return nil
}

func (j *SnapshotWarmupJob) jobLogger(job string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *SnapshotWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SnapshotWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
