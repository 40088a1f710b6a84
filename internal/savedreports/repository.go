package savedreports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const savedReportColumns = `id, tenant_id, owner_id, name, description, sharing, config, created_at, updated_at, last_run_at`

// Repository persists saved reports in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, report SavedReport) error {
	config, err := json.Marshal(report.Config)
	if err != nil {
		return fmt.Errorf("savedreports: marshal config: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO saved_reports (id, tenant_id, owner_id, name, description, sharing, config, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		report.ID, report.TenantID, report.OwnerID, report.Name, report.Description,
		string(report.Sharing), config, report.CreatedAt, report.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, report.Name)
	}
	if err != nil {
		return fmt.Errorf("savedreports: create: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (SavedReport, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+savedReportColumns+`
FROM saved_reports
WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	report, err := scanSavedReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SavedReport{}, ErrNotFound
		}
		return SavedReport{}, fmt.Errorf("savedreports: get: %w", err)
	}
	return report, nil
}

// List returns the reports visible to user, newest first, plus the total
// visible count for pagination.
func (r *Repository) List(ctx context.Context, tenantID, userID uuid.UUID, limit, offset int) ([]SavedReport, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*)
FROM saved_reports
WHERE tenant_id = $1 AND (sharing <> 'private' OR owner_id = $2)`, tenantID, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("savedreports: count: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+savedReportColumns+`
FROM saved_reports
WHERE tenant_id = $1 AND (sharing <> 'private' OR owner_id = $2)
ORDER BY updated_at DESC, id DESC
LIMIT $3 OFFSET $4`, tenantID, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("savedreports: list: %w", err)
	}
	defer rows.Close()
	reports := []SavedReport{}
	for rows.Next() {
		report, err := scanSavedReport(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, report)
	}
	return reports, total, rows.Err()
}

func (r *Repository) Update(ctx context.Context, report SavedReport) error {
	config, err := json.Marshal(report.Config)
	if err != nil {
		return fmt.Errorf("savedreports: marshal config: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE saved_reports
SET name = $3, description = $4, sharing = $5, config = $6, updated_at = $7
WHERE tenant_id = $1 AND id = $2`,
		report.TenantID, report.ID, report.Name, report.Description,
		string(report.Sharing), config, report.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, report.Name)
	}
	if err != nil {
		return fmt.Errorf("savedreports: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM saved_reports WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("savedreports: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) TouchLastRun(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE saved_reports SET last_run_at = $3 WHERE tenant_id = $1 AND id = $2`, tenantID, id, at)
	if err != nil {
		return fmt.Errorf("savedreports: touch last run: %w", err)
	}
	return nil
}

func scanSavedReport(row interface{ Scan(dest ...any) error }) (SavedReport, error) {
	var (
		report  SavedReport
		sharing string
		config  []byte
	)
	err := row.Scan(&report.ID, &report.TenantID, &report.OwnerID, &report.Name, &report.Description,
		&sharing, &config, &report.CreatedAt, &report.UpdatedAt, &report.LastRunAt)
	if err != nil {
		return SavedReport{}, err
	}
	report.Sharing = Sharing(sharing)
	if len(config) > 0 {
		if err := json.Unmarshal(config, &report.Config); err != nil {
			return SavedReport{}, fmt.Errorf("savedreports: decode config: %w", err)
		}
	}
	return report, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
