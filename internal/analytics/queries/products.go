package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erplora/insighthub/internal/analytics"
)

var productFilterColumns = map[string]string{"category": "pr.category"}

func (s *Store) productsReport(ctx context.Context, key analytics.ReportKey) (analytics.Payload, time.Time, error) {
	payload := &analytics.ProductsPayload{}

	// Stock figures are a point-in-time view of the catalog, not bounded by
	// the report range.
	sc := newScope(key, "p.tenant_id", "", map[string]string{"category": "p.category"})
	var catalogAsOf sql.NullTime
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*),
       COUNT(*) FILTER (WHERE p.stock_qty <= p.stock_min),
       COALESCE(SUM(p.stock_qty * p.cost),0),
       MAX(p.updated_at)
FROM products p
`+sc.where()+` AND p.active`, sc.args...).
		Scan(&payload.ProductCount, &payload.LowStockCount, &payload.StockValue, &catalogAsOf)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("queries: product stock: %w", err)
	}

	sc = newScope(key, "s.tenant_id", "s.occurred_at", productFilterColumns)
	var salesAsOf sql.NullTime
	err = s.pool.QueryRow(ctx, `SELECT MAX(s.updated_at)
FROM sale_lines l
JOIN sales s ON s.id = l.sale_id
JOIN products pr ON pr.id = l.product_id
`+sc.where(), sc.args...).Scan(&salesAsOf)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("queries: product sales freshness: %w", err)
	}

	if payload.TopSellers, err = s.topSellers(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	if payload.SlowMovers, err = s.slowMovers(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	if payload.Margins, err = s.productMargins(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	return payload, latestOf(catalogAsOf, salesAsOf), nil
}

func (s *Store) topSellers(ctx context.Context, key analytics.ReportKey) ([]analytics.ProductStat, error) {
	sc := newScope(key, "s.tenant_id", "s.occurred_at", productFilterColumns)
	query := `SELECT pr.name, COALESCE(SUM(l.quantity),0)::bigint, COALESCE(SUM(l.quantity * l.unit_price),0)
FROM sale_lines l
JOIN sales s ON s.id = l.sale_id
JOIN products pr ON pr.id = l.product_id
` + sc.where() + `
GROUP BY pr.name
ORDER BY 2 DESC, pr.name ASC
LIMIT ` + sc.arg(topListLimit)
	rows, err := s.pool.Query(ctx, query, sc.args...)
	if err != nil {
		return nil, fmt.Errorf("queries: top sellers: %w", err)
	}
	defer rows.Close()
	var stats []analytics.ProductStat
	for rows.Next() {
		var stat analytics.ProductStat
		if err := rows.Scan(&stat.Name, &stat.Quantity, &stat.Revenue); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// slowMovers ranks active products by in-range quantity sold, ascending, so
// products without a single sale surface first.
func (s *Store) slowMovers(ctx context.Context, key analytics.ReportKey) ([]analytics.ProductStat, error) {
	args := []interface{}{key.TenantID, key.Range.Start, key.Range.End}
	cond := ""
	if category := key.Filters["category"]; category != "" {
		args = append(args, category)
		cond = fmt.Sprintf(" AND pr.category = $%d", len(args))
	}
	args = append(args, topListLimit)
	query := fmt.Sprintf(`SELECT pr.name, COALESCE(SUM(sold.quantity),0)::bigint AS qty, COALESCE(SUM(sold.quantity * sold.unit_price),0)
FROM products pr
LEFT JOIN (
    SELECT l.product_id, l.quantity, l.unit_price
    FROM sale_lines l
    JOIN sales s ON s.id = l.sale_id
    WHERE s.tenant_id = $1 AND s.occurred_at >= $2 AND s.occurred_at < $3
) sold ON sold.product_id = pr.id
WHERE pr.tenant_id = $1 AND pr.active%s
GROUP BY pr.name
ORDER BY qty ASC, pr.name ASC
LIMIT $%d`, cond, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queries: slow movers: %w", err)
	}
	defer rows.Close()
	var stats []analytics.ProductStat
	for rows.Next() {
		var stat analytics.ProductStat
		if err := rows.Scan(&stat.Name, &stat.Quantity, &stat.Revenue); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

func (s *Store) productMargins(ctx context.Context, key analytics.ReportKey) ([]analytics.ProductMargin, error) {
	sc := newScope(key, "s.tenant_id", "s.occurred_at", productFilterColumns)
	query := `SELECT pr.name, COALESCE(SUM(l.quantity * l.unit_price),0), COALESCE(SUM(l.quantity * pr.cost),0)
FROM sale_lines l
JOIN sales s ON s.id = l.sale_id
JOIN products pr ON pr.id = l.product_id
` + sc.where() + `
GROUP BY pr.name
ORDER BY COALESCE(SUM(l.quantity * l.unit_price),0) - COALESCE(SUM(l.quantity * pr.cost),0) DESC
LIMIT ` + sc.arg(topListLimit)
	rows, err := s.pool.Query(ctx, query, sc.args...)
	if err != nil {
		return nil, fmt.Errorf("queries: product margins: %w", err)
	}
	defer rows.Close()
	var margins []analytics.ProductMargin
	for rows.Next() {
		var margin analytics.ProductMargin
		if err := rows.Scan(&margin.Name, &margin.Revenue, &margin.Cost); err != nil {
			return nil, err
		}
		margin.Margin = margin.Revenue - margin.Cost
		margins = append(margins, margin)
	}
	return margins, rows.Err()
}
