package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erplora/insighthub/internal/analytics"
)

var salesFilterColumns = map[string]string{
	"hub":            "s.hub_id::text",
	"employee":       "s.employee_id::text",
	"payment_method": "s.payment_method",
}

func (s *Store) salesReport(ctx context.Context, key analytics.ReportKey) (analytics.Payload, time.Time, error) {
	payload := &analytics.SalesPayload{}

	sc := newScope(key, "s.tenant_id", "s.occurred_at", salesFilterColumns)
	var (
		taxTotal float64
		asOf     sql.NullTime
	)
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(s.total),0), COALESCE(SUM(s.tax_total),0), MAX(s.updated_at)
FROM sales s
`+sc.where(), sc.args...).Scan(&payload.SaleCount, &payload.Revenue, &taxTotal, &asOf)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("queries: sales totals: %w", err)
	}
	payload.TaxTotal = &taxTotal
	if payload.SaleCount > 0 {
		payload.AvgTicket = payload.Revenue / float64(payload.SaleCount)
	}

	if payload.TaxByRate, err = s.salesTaxByRate(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	if payload.RevenueByDay, err = s.salesRevenueByDay(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	if payload.PaymentBreakdown, err = s.salesPaymentBreakdown(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	if payload.SalesByEmployee, err = s.salesByEmployee(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	if payload.HourlyDistribution, err = s.salesHourly(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	return payload, latestOf(asOf), nil
}

func (s *Store) salesTaxByRate(ctx context.Context, key analytics.ReportKey) ([]analytics.TaxLine, error) {
	sc := newScope(key, "s.tenant_id", "s.occurred_at", salesFilterColumns)
	rows, err := s.pool.Query(ctx, `SELECT st.rate, COALESCE(SUM(st.amount),0)
FROM sale_taxes st
JOIN sales s ON s.id = st.sale_id
`+sc.where()+`
GROUP BY st.rate
ORDER BY st.rate`, sc.args...)
	if err != nil {
		return nil, fmt.Errorf("queries: tax by rate: %w", err)
	}
	defer rows.Close()
	var lines []analytics.TaxLine
	for rows.Next() {
		var line analytics.TaxLine
		if err := rows.Scan(&line.Rate, &line.Amount); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) salesRevenueByDay(ctx context.Context, key analytics.ReportKey) ([]analytics.SeriesPoint, error) {
	sc := newScope(key, "s.tenant_id", "s.occurred_at", salesFilterColumns)
	rows, err := s.pool.Query(ctx, `SELECT date_trunc('day', s.occurred_at), COALESCE(SUM(s.total),0)
FROM sales s
`+sc.where()+`
GROUP BY 1
ORDER BY 1`, sc.args...)
	if err != nil {
		return nil, fmt.Errorf("queries: revenue by day: %w", err)
	}
	defer rows.Close()
	var series []analytics.SeriesPoint
	for rows.Next() {
		var point analytics.SeriesPoint
		if err := rows.Scan(&point.Date, &point.Value); err != nil {
			return nil, err
		}
		series = append(series, point)
	}
	return series, rows.Err()
}

func (s *Store) salesPaymentBreakdown(ctx context.Context, key analytics.ReportKey) ([]analytics.BreakdownSlice, error) {
	sc := newScope(key, "s.tenant_id", "s.occurred_at", salesFilterColumns)
	rows, err := s.pool.Query(ctx, `SELECT s.payment_method, COUNT(*), COALESCE(SUM(s.total),0)
FROM sales s
`+sc.where()+`
GROUP BY s.payment_method
ORDER BY 3 DESC`, sc.args...)
	if err != nil {
		return nil, fmt.Errorf("queries: payment breakdown: %w", err)
	}
	defer rows.Close()
	var slices []analytics.BreakdownSlice
	for rows.Next() {
		var slice analytics.BreakdownSlice
		if err := rows.Scan(&slice.Label, &slice.Count, &slice.Amount); err != nil {
			return nil, err
		}
		slices = append(slices, slice)
	}
	return slices, rows.Err()
}

func (s *Store) salesByEmployee(ctx context.Context, key analytics.ReportKey) ([]analytics.BreakdownSlice, error) {
	sc := newScope(key, "s.tenant_id", "s.occurred_at", salesFilterColumns)
	query := `SELECT e.name, COUNT(*), COALESCE(SUM(s.total),0)
FROM sales s
JOIN employees e ON e.id = s.employee_id
` + sc.where() + `
GROUP BY e.name
ORDER BY 3 DESC
LIMIT ` + sc.arg(topListLimit)
	rows, err := s.pool.Query(ctx, query, sc.args...)
	if err != nil {
		return nil, fmt.Errorf("queries: sales by employee: %w", err)
	}
	defer rows.Close()
	var slices []analytics.BreakdownSlice
	for rows.Next() {
		var slice analytics.BreakdownSlice
		if err := rows.Scan(&slice.Label, &slice.Count, &slice.Amount); err != nil {
			return nil, err
		}
		slices = append(slices, slice)
	}
	return slices, rows.Err()
}

func (s *Store) salesHourly(ctx context.Context, key analytics.ReportKey) ([]analytics.HourBucket, error) {
	sc := newScope(key, "s.tenant_id", "s.occurred_at", salesFilterColumns)
	rows, err := s.pool.Query(ctx, `SELECT EXTRACT(HOUR FROM s.occurred_at AT TIME ZONE 'UTC')::int, COUNT(*), COALESCE(SUM(s.total),0)
FROM sales s
`+sc.where()+`
GROUP BY 1
ORDER BY 1`, sc.args...)
	if err != nil {
		return nil, fmt.Errorf("queries: hourly distribution: %w", err)
	}
	defer rows.Close()
	var buckets []analytics.HourBucket
	for rows.Next() {
		var bucket analytics.HourBucket
		if err := rows.Scan(&bucket.Hour, &bucket.Count, &bucket.Revenue); err != nil {
			return nil, err
		}
		buckets = append(buckets, bucket)
	}
	return buckets, rows.Err()
}
