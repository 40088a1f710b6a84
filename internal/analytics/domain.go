// Package analytics holds the reporting domain: report identities, payload
// variants, the comparison engine and the report orchestrator.
package analytics

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/erplora/insighthub/internal/period"
)

// ===== REPORT TYPES =====

// ReportType enumerates the report families served by the engine.
type ReportType string

const (
	ReportSales     ReportType = "sales"
	ReportProducts  ReportType = "products"
	ReportCustomers ReportType = "customers"
	ReportPipeline  ReportType = "pipeline"
	ReportLoyalty   ReportType = "loyalty"
)

// ErrUnknownReportType indicates a report type outside the supported set.
var ErrUnknownReportType = errors.New("analytics: unknown report type")

// ParseReportType validates a raw report type string.
func ParseReportType(raw string) (ReportType, error) {
	rt := ReportType(raw)
	if !rt.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownReportType, raw)
	}
	return rt, nil
}

// Valid reports whether rt is one of the supported report types.
func (rt ReportType) Valid() bool {
	switch rt {
	case ReportSales, ReportProducts, ReportCustomers, ReportPipeline, ReportLoyalty:
		return true
	}
	return false
}

func (rt ReportType) String() string { return string(rt) }

// ReportTypes lists all supported report types in stable order.
func ReportTypes() []ReportType {
	return []ReportType{ReportSales, ReportProducts, ReportCustomers, ReportPipeline, ReportLoyalty}
}

// ===== FILTERS =====

// Filters carries the dimension filters applied to a report, e.g. hub,
// employee or payment method scoping.
type Filters map[string]string

// Clone returns an independent copy so callers can mutate freely.
func (f Filters) Clone() Filters {
	if f == nil {
		return nil
	}
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Canonical renders the filters as sorted key=value pairs. Two filter sets
// with equal content always canonicalize identically regardless of insertion
// order. Empty values are dropped.
func (f Filters) Canonical() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k, v := range f {
		if strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+f[k])
	}
	return strings.Join(parts, "&")
}

// Hash digests the canonical form with BLAKE2b-256, truncated to 16 bytes.
func (f Filters) Hash() string {
	sum := blake2b.Sum256([]byte(f.Canonical()))
	return hex.EncodeToString(sum[:16])
}

// ===== REPORT KEY & SNAPSHOT =====

// ReportKey identifies one cacheable report snapshot. Identity is carried by
// the hash; Filters keeps the raw values so fetchers can scope their queries.
type ReportKey struct {
	TenantID    uuid.UUID        `json:"tenant_id"`
	Type        ReportType       `json:"type"`
	Range       period.DateRange `json:"range"`
	FiltersHash string           `json:"filters_hash"`
	Filters     Filters          `json:"-"`
}

// NewReportKey builds the key for a tenant, report type, range and filter set.
func NewReportKey(tenantID uuid.UUID, rt ReportType, rng period.DateRange, filters Filters) ReportKey {
	return ReportKey{
		TenantID:    tenantID,
		Type:        rt,
		Range:       rng,
		FiltersHash: filters.Hash(),
		Filters:     filters.Clone(),
	}
}

// ID renders a stable identifier usable as a map key and in logs.
func (k ReportKey) ID() string {
	return strings.Join([]string{k.TenantID.String(), string(k.Type), k.Range.String(), k.FiltersHash}, "|")
}

// Snapshot is one computed report payload with its cache metadata. Snapshots
// are immutable; recomputation produces a replacement value.
type Snapshot struct {
	Key        ReportKey `json:"key"`
	Payload    Payload   `json:"payload"`
	ComputedAt time.Time `json:"computed_at"`
	DataAsOf   time.Time `json:"data_as_of"`
}

// ComputeFunc produces a fresh payload for a snapshot key together with the
// data freshness marker reported by the collaborator.
type ComputeFunc func(ctx context.Context) (Payload, time.Time, error)

// ===== PAYLOAD CONTRACT =====

// Payload is the closed set of report payload variants. Metrics exposes the
// scalar KPIs used for period comparison; series and breakdowns stay on the
// concrete variant and are excluded from comparison.
type Payload interface {
	ReportType() ReportType
	Metrics() map[string]float64
}

// ===== COLLABORATOR CONTRACT =====

// Fetcher computes a report payload from the transactional store. DataAsOf
// reports the freshness of the underlying rows; implementations fall back to
// the computation time when the store carries no fresher marker.
type Fetcher interface {
	Fetch(ctx context.Context, key ReportKey) (Payload, time.Time, error)
}

// ErrDataUnavailable marks a transient collaborator failure. Callers may
// retry; the engine itself never does.
var ErrDataUnavailable = errors.New("analytics: data unavailable")
