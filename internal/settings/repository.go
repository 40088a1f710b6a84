package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erplora/insighthub/internal/period"
)

const settingsColumns = `tenant_id, default_period, fiscal_year_start_month, show_profit,
	tax_breakdown, compare_previous_period, currency_code, updated_at`

// Repository provides PostgreSQL backed persistence for tenant settings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one tenant's settings.
func (r *Repository) Get(ctx context.Context, tenantID uuid.UUID) (Settings, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM analytics_settings WHERE tenant_id = $1`, tenantID)
	s, err := scanSettings(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, ErrNotFound
		}
		return Settings{}, fmt.Errorf("settings: get: %w", err)
	}
	return s, nil
}

// GetOrCreate loads settings, seeding the default row on first access.
func (r *Repository) GetOrCreate(ctx context.Context, tenantID uuid.UUID) (Settings, error) {
	s, err := r.Get(ctx, tenantID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Settings{}, err
	}
	def := Defaults(tenantID)
	_, err = r.pool.Exec(ctx, `
		INSERT INTO analytics_settings (`+settingsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (tenant_id) DO NOTHING`,
		def.TenantID, def.DefaultPeriod.String(), def.FiscalYearStartMonth, def.ShowProfit,
		string(def.TaxBreakdown), def.ComparePreviousPeriod, def.CurrencyCode)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: seed defaults: %w", err)
	}
	return r.Get(ctx, tenantID)
}

// Upsert writes a full settings row.
func (r *Repository) Upsert(ctx context.Context, s Settings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO analytics_settings (`+settingsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id) DO UPDATE SET
			default_period = EXCLUDED.default_period,
			fiscal_year_start_month = EXCLUDED.fiscal_year_start_month,
			show_profit = EXCLUDED.show_profit,
			tax_breakdown = EXCLUDED.tax_breakdown,
			compare_previous_period = EXCLUDED.compare_previous_period,
			currency_code = EXCLUDED.currency_code,
			updated_at = EXCLUDED.updated_at`,
		s.TenantID, s.DefaultPeriod.String(), s.FiscalYearStartMonth, s.ShowProfit,
		string(s.TaxBreakdown), s.ComparePreviousPeriod, s.CurrencyCode, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("settings: upsert: %w", err)
	}
	return nil
}

// ActiveTenants lists tenants that have a settings row, for warmup sweeps.
func (r *Repository) ActiveTenants(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT tenant_id FROM analytics_settings ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("settings: list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("settings: scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: list tenants: %w", err)
	}
	return tenants, nil
}

func scanSettings(row pgx.Row) (Settings, error) {
	var (
		s        Settings
		selector string
		tax      string
	)
	err := row.Scan(&s.TenantID, &selector, &s.FiscalYearStartMonth, &s.ShowProfit,
		&tax, &s.ComparePreviousPeriod, &s.CurrencyCode, &s.UpdatedAt)
	if err != nil {
		return Settings{}, err
	}
	s.DefaultPeriod = period.Selector(selector)
	s.TaxBreakdown = TaxBreakdown(tax)
	return s, nil
}
