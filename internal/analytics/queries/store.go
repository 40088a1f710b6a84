// Package queries computes report payloads from the transactional store.
// Each report family aggregates with plain SQL over the half-open key range;
// nothing here caches, the snapshot arena sits above.
package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erplora/insighthub/internal/analytics"
)

// topListLimit caps every top-N list returned inside a payload.
const topListLimit = 10

// Store computes report payloads straight from PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Fetch computes the payload for key. DataAsOf reports the newest row that
// contributed, zero when the range holds no rows.
func (s *Store) Fetch(ctx context.Context, key analytics.ReportKey) (analytics.Payload, time.Time, error) {
	if s == nil || s.pool == nil {
		return nil, time.Time{}, errors.New("queries: store not initialised")
	}
	switch key.Type {
	case analytics.ReportSales:
		return s.salesReport(ctx, key)
	case analytics.ReportProducts:
		return s.productsReport(ctx, key)
	case analytics.ReportCustomers:
		return s.customersReport(ctx, key)
	case analytics.ReportPipeline:
		return s.pipelineReport(ctx, key)
	case analytics.ReportLoyalty:
		return s.loyaltyReport(ctx, key)
	}
	return nil, time.Time{}, fmt.Errorf("%w: %q", analytics.ErrUnknownReportType, key.Type)
}

// scope accumulates WHERE conditions and positional args for one query.
// Filter values are always bound as args; only allowlisted column snippets
// reach the SQL text.
type scope struct {
	conditions []string
	args       []interface{}
}

func newScope(key analytics.ReportKey, tenantColumn, timeColumn string, filterColumns map[string]string) *scope {
	sc := &scope{}
	sc.add(tenantColumn+" = $%d", key.TenantID)
	if timeColumn != "" {
		sc.add(timeColumn+" >= $%d", key.Range.Start)
		sc.add(timeColumn+" < $%d", key.Range.End)
	}
	for _, name := range sortedFilterKeys(key.Filters) {
		column, ok := filterColumns[name]
		if !ok || key.Filters[name] == "" {
			continue
		}
		sc.add(column+" = $%d", key.Filters[name])
	}
	return sc
}

func (sc *scope) add(expr string, value interface{}) {
	sc.args = append(sc.args, value)
	sc.conditions = append(sc.conditions, fmt.Sprintf(expr, len(sc.args)))
}

// arg binds an extra parameter past the WHERE clause, e.g. a LIMIT.
func (sc *scope) arg(value interface{}) string {
	sc.args = append(sc.args, value)
	return fmt.Sprintf("$%d", len(sc.args))
}

func (sc *scope) where() string {
	return "WHERE " + strings.Join(sc.conditions, " AND ")
}

func sortedFilterKeys(f analytics.Filters) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func latestOf(times ...sql.NullTime) time.Time {
	var out time.Time
	for _, t := range times {
		if t.Valid && t.Time.After(out) {
			out = t.Time
		}
	}
	return out
}
