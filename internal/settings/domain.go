// Package settings stores per-tenant analytics preferences: default period,
// fiscal year anchoring, comparison and display options.
package settings

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erplora/insighthub/internal/period"
)

var (
	ErrNotFound        = errors.New("settings: not found")
	ErrInvalidSettings = errors.New("settings: invalid settings")
)

// TaxBreakdown controls how much tax detail reports expose.
type TaxBreakdown string

const (
	// TaxBreakdownNone hides tax detail entirely.
	TaxBreakdownNone TaxBreakdown = "none"
	// TaxBreakdownSummary exposes the tax total only.
	TaxBreakdownSummary TaxBreakdown = "summary"
	// TaxBreakdownRates adds the per-rate breakdown.
	TaxBreakdownRates TaxBreakdown = "rates"
)

// ParseTaxBreakdown validates a raw tax breakdown mode.
func ParseTaxBreakdown(raw string) (TaxBreakdown, error) {
	switch TaxBreakdown(raw) {
	case TaxBreakdownNone, TaxBreakdownSummary, TaxBreakdownRates:
		return TaxBreakdown(raw), nil
	}
	return "", fmt.Errorf("%w: tax breakdown %q", ErrInvalidSettings, raw)
}

// Settings is one tenant's analytics configuration.
type Settings struct {
	TenantID              uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	DefaultPeriod         period.Selector `json:"default_period" db:"default_period"`
	FiscalYearStartMonth  int             `json:"fiscal_year_start_month" db:"fiscal_year_start_month"`
	ShowProfit            bool            `json:"show_profit" db:"show_profit"`
	TaxBreakdown          TaxBreakdown    `json:"tax_breakdown" db:"tax_breakdown"`
	ComparePreviousPeriod bool            `json:"compare_previous_period" db:"compare_previous_period"`
	CurrencyCode          string          `json:"currency_code" db:"currency_code"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}

// Defaults returns the settings a tenant starts with before saving anything.
func Defaults(tenantID uuid.UUID) Settings {
	return Settings{
		TenantID:              tenantID,
		DefaultPeriod:         period.SelectorMonth,
		FiscalYearStartMonth:  1,
		ShowProfit:            true,
		TaxBreakdown:          TaxBreakdownNone,
		ComparePreviousPeriod: true,
		CurrencyCode:          "EUR",
	}
}

// UpdateRequest carries a full settings update.
type UpdateRequest struct {
	DefaultPeriod         string `json:"default_period" validate:"required"`
	FiscalYearStartMonth  int    `json:"fiscal_year_start_month" validate:"required"`
	ShowProfit            bool   `json:"show_profit"`
	TaxBreakdown          string `json:"tax_breakdown" validate:"required"`
	ComparePreviousPeriod bool   `json:"compare_previous_period"`
	CurrencyCode          string `json:"currency_code" validate:"required,len=3,alpha"`
}
