package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erplora/insighthub/internal/analytics"
)

var dealFilterColumns = map[string]string{"owner": "d.owner_id::text"}

func (s *Store) pipelineReport(ctx context.Context, key analytics.ReportKey) (analytics.Payload, time.Time, error) {
	payload := &analytics.PipelinePayload{}

	// Wins and losses count by close date inside the range.
	sc := newScope(key, "d.tenant_id", "d.closed_at", dealFilterColumns)
	var closedAsOf sql.NullTime
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FILTER (WHERE d.status = 'won'),
       COUNT(*) FILTER (WHERE d.status = 'lost'),
       MAX(d.updated_at)
FROM deals d
`+sc.where(), sc.args...).Scan(&payload.WonDeals, &payload.LostDeals, &closedAsOf)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("queries: closed deals: %w", err)
	}
	if decided := payload.WonDeals + payload.LostDeals; decided > 0 {
		payload.WinRate = float64(payload.WonDeals) / float64(decided) * 100
	}

	// Open pipeline is a point-in-time view.
	sc = newScope(key, "d.tenant_id", "", dealFilterColumns)
	var openAsOf sql.NullTime
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*),
       COALESCE(SUM(d.value),0),
       COALESCE(SUM(d.value * d.probability),0),
       MAX(d.updated_at)
FROM deals d
`+sc.where()+` AND d.status = 'open'`, sc.args...).
		Scan(&payload.OpenDeals, &payload.PipelineValue, &payload.WeightedValue, &openAsOf)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("queries: open pipeline: %w", err)
	}

	if payload.ByStage, err = s.dealsByStage(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	return payload, latestOf(closedAsOf, openAsOf), nil
}

func (s *Store) dealsByStage(ctx context.Context, key analytics.ReportKey) ([]analytics.StageSlice, error) {
	sc := newScope(key, "d.tenant_id", "", dealFilterColumns)
	rows, err := s.pool.Query(ctx, `SELECT d.stage, COUNT(*), COALESCE(SUM(d.value),0)
FROM deals d
`+sc.where()+` AND d.status = 'open'
GROUP BY d.stage
ORDER BY 3 DESC`, sc.args...)
	if err != nil {
		return nil, fmt.Errorf("queries: deals by stage: %w", err)
	}
	defer rows.Close()
	var slices []analytics.StageSlice
	for rows.Next() {
		var slice analytics.StageSlice
		if err := rows.Scan(&slice.Stage, &slice.Count, &slice.Value); err != nil {
			return nil, err
		}
		slices = append(slices, slice)
	}
	return slices, rows.Err()
}
