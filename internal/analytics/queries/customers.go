package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erplora/insighthub/internal/analytics"
)

func (s *Store) customersReport(ctx context.Context, key analytics.ReportKey) (analytics.Payload, time.Time, error) {
	payload := &analytics.CustomersPayload{}

	// Total and lifetime value cover the whole book; new and returning are
	// range-bound.
	sc := newScope(key, "c.tenant_id", "", map[string]string{"hub": "c.hub_id::text"})
	start := sc.arg(key.Range.Start)
	end := sc.arg(key.Range.End)
	var bookAsOf sql.NullTime
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*),
       COUNT(*) FILTER (WHERE c.created_at >= `+start+` AND c.created_at < `+end+`),
       MAX(c.updated_at)
FROM customers c
`+sc.where(), sc.args...).Scan(&payload.TotalCustomers, &payload.NewCustomers, &bookAsOf)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("queries: customer counts: %w", err)
	}

	if payload.ReturningCustomers, err = s.returningCustomers(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	if payload.AvgLifetimeValue, err = s.avgLifetimeValue(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	var salesAsOf sql.NullTime
	if payload.TopSpenders, salesAsOf, err = s.topSpenders(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	if payload.VisitFrequency, err = s.visitFrequency(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	return payload, latestOf(bookAsOf, salesAsOf), nil
}

// returningCustomers counts customers who bought inside the range and had
// already bought before it started.
func (s *Store) returningCustomers(ctx context.Context, key analytics.ReportKey) (int64, error) {
	sc := newScope(key, "s.tenant_id", "s.occurred_at", map[string]string{"hub": "s.hub_id::text"})
	prior := sc.arg(key.Range.Start)
	query := `SELECT COUNT(DISTINCT s.customer_id)
FROM sales s
` + sc.where() + ` AND s.customer_id IS NOT NULL
  AND EXISTS (
      SELECT 1 FROM sales p
      WHERE p.tenant_id = s.tenant_id AND p.customer_id = s.customer_id AND p.occurred_at < ` + prior + `
  )`
	var count int64
	if err := s.pool.QueryRow(ctx, query, sc.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("queries: returning customers: %w", err)
	}
	return count, nil
}

func (s *Store) avgLifetimeValue(ctx context.Context, key analytics.ReportKey) (float64, error) {
	sc := newScope(key, "s.tenant_id", "", map[string]string{"hub": "s.hub_id::text"})
	query := `SELECT COALESCE(AVG(spend), 0)
FROM (
    SELECT SUM(s.total) AS spend
    FROM sales s
    ` + sc.where() + ` AND s.customer_id IS NOT NULL
    GROUP BY s.customer_id
) lifetime`
	var avg float64
	if err := s.pool.QueryRow(ctx, query, sc.args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("queries: lifetime value: %w", err)
	}
	return avg, nil
}

func (s *Store) topSpenders(ctx context.Context, key analytics.ReportKey) ([]analytics.CustomerStat, sql.NullTime, error) {
	var asOf sql.NullTime
	sc := newScope(key, "s.tenant_id", "s.occurred_at", map[string]string{"hub": "s.hub_id::text"})
	query := `SELECT c.name, COUNT(*), COALESCE(SUM(s.total),0), MAX(s.updated_at)
FROM sales s
JOIN customers c ON c.id = s.customer_id
` + sc.where() + `
GROUP BY c.name
ORDER BY 3 DESC
LIMIT ` + sc.arg(topListLimit)
	rows, err := s.pool.Query(ctx, query, sc.args...)
	if err != nil {
		return nil, asOf, fmt.Errorf("queries: top spenders: %w", err)
	}
	defer rows.Close()
	var stats []analytics.CustomerStat
	for rows.Next() {
		var (
			stat    analytics.CustomerStat
			updated sql.NullTime
		)
		if err := rows.Scan(&stat.Name, &stat.Visits, &stat.Spent, &updated); err != nil {
			return nil, asOf, err
		}
		if updated.Valid && (!asOf.Valid || updated.Time.After(asOf.Time)) {
			asOf = updated
		}
		stats = append(stats, stat)
	}
	return stats, asOf, rows.Err()
}

func (s *Store) visitFrequency(ctx context.Context, key analytics.ReportKey) ([]analytics.FrequencyBucket, error) {
	sc := newScope(key, "s.tenant_id", "s.occurred_at", map[string]string{"hub": "s.hub_id::text"})
	query := `SELECT CASE WHEN visits = 1 THEN '1'
            WHEN visits BETWEEN 2 AND 3 THEN '2-3'
            WHEN visits BETWEEN 4 AND 6 THEN '4-6'
            ELSE '7+' END,
       COUNT(*)::bigint
FROM (
    SELECT COUNT(*) AS visits
    FROM sales s
    ` + sc.where() + ` AND s.customer_id IS NOT NULL
    GROUP BY s.customer_id
) v
GROUP BY 1
ORDER BY MIN(visits)`
	rows, err := s.pool.Query(ctx, query, sc.args...)
	if err != nil {
		return nil, fmt.Errorf("queries: visit frequency: %w", err)
	}
	defer rows.Close()
	var buckets []analytics.FrequencyBucket
	for rows.Next() {
		var bucket analytics.FrequencyBucket
		if err := rows.Scan(&bucket.Bucket, &bucket.Customers); err != nil {
			return nil, err
		}
		buckets = append(buckets, bucket)
	}
	return buckets, rows.Err()
}
