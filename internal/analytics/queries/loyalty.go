package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erplora/insighthub/internal/analytics"
)

func (s *Store) loyaltyReport(ctx context.Context, key analytics.ReportKey) (analytics.Payload, time.Time, error) {
	payload := &analytics.LoyaltyPayload{}

	sc := newScope(key, "m.tenant_id", "e.occurred_at", map[string]string{"tier": "m.tier"})
	err := s.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT e.member_id),
       COALESCE(SUM(e.points) FILTER (WHERE e.kind = 'earn'),0),
       COALESCE(SUM(e.points) FILTER (WHERE e.kind = 'redeem'),0)
FROM loyalty_events e
JOIN loyalty_members m ON m.id = e.member_id
`+sc.where(), sc.args...).Scan(&payload.ActiveMembers, &payload.PointsEarned, &payload.PointsRedeemed)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("queries: loyalty activity: %w", err)
	}
	if payload.PointsEarned > 0 {
		payload.RedemptionRate = float64(payload.PointsRedeemed) / float64(payload.PointsEarned) * 100
	}

	sc = newScope(key, "m.tenant_id", "", map[string]string{"tier": "m.tier"})
	start := sc.arg(key.Range.Start)
	end := sc.arg(key.Range.End)
	var asOf sql.NullTime
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FILTER (WHERE m.joined_at >= `+start+` AND m.joined_at < `+end+`),
       MAX(m.updated_at)
FROM loyalty_members m
`+sc.where(), sc.args...).Scan(&payload.NewMembers, &asOf)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("queries: loyalty members: %w", err)
	}

	if payload.TierBreakdown, err = s.loyaltyTiers(ctx, key); err != nil {
		return nil, time.Time{}, err
	}
	return payload, latestOf(asOf), nil
}

func (s *Store) loyaltyTiers(ctx context.Context, key analytics.ReportKey) ([]analytics.TierSlice, error) {
	sc := newScope(key, "m.tenant_id", "", map[string]string{"tier": "m.tier"})
	rows, err := s.pool.Query(ctx, `SELECT m.tier, COUNT(*)
FROM loyalty_members m
`+sc.where()+`
GROUP BY m.tier
ORDER BY 2 DESC`, sc.args...)
	if err != nil {
		return nil, fmt.Errorf("queries: loyalty tiers: %w", err)
	}
	defer rows.Close()
	var slices []analytics.TierSlice
	for rows.Next() {
		var slice analytics.TierSlice
		if err := rows.Scan(&slice.Tier, &slice.Members); err != nil {
			return nil, err
		}
		slices = append(slices, slice)
	}
	return slices, rows.Err()
}
