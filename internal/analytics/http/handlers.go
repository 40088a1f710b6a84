package analyticshttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/erplora/insighthub/internal/analytics"
	"github.com/erplora/insighthub/internal/analytics/export"
	"github.com/erplora/insighthub/internal/period"
	"github.com/erplora/insighthub/internal/platform/httpx"
	"github.com/erplora/insighthub/internal/settings"
	"github.com/erplora/insighthub/internal/shared"
	"github.com/erplora/insighthub/internal/snapcache"
)

// requestTimeout bounds one request. Report endpoints may trigger two cold
// snapshot computations back to back, so it sits above twice the fetch
// timeout.
const requestTimeout = 35 * time.Second

// retryAfterHint is the Retry-After sent with 503 responses.
const retryAfterHint = 30 * time.Second

// ReportService runs report computations for the handler.
type ReportService interface {
	GetReport(ctx context.Context, req analytics.ReportRequest) (*analytics.ReportResult, error)
}

// SettingsService reads and updates tenant preferences.
type SettingsService interface {
	Get(ctx context.Context, tenantID uuid.UUID) (settings.Settings, error)
	Update(ctx context.Context, tenantID uuid.UUID, req settings.UpdateRequest) (settings.Settings, error)
}

// SnapshotInvalidator drops cached snapshots for a tenant.
type SnapshotInvalidator interface {
	Invalidate(tenantID uuid.UUID, types ...analytics.ReportType) int
}

// InvalidationPublisher fans an invalidation out to the other instances.
type InvalidationPublisher interface {
	Publish(ctx context.Context, event snapcache.Event) error
}

// Handler coordinates the analytics JSON API.
type Handler struct {
	logger   *slog.Logger
	reports  ReportService
	settings SettingsService
	cache    SnapshotInvalidator
	publish  InvalidationPublisher
	csvPool  sync.Pool
}

// NewHandler constructs the analytics HTTP handler.
func NewHandler(logger *slog.Logger, reports ReportService, settingsSvc SettingsService, cache SnapshotInvalidator, publish InvalidationPublisher) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		logger:   logger,
		reports:  reports,
		settings: settingsSvc,
		cache:    cache,
		publish:  publish,
	}
	h.csvPool.New = func() interface{} { return new(bytes.Buffer) }
	return h
}

// allowedParams is every query parameter the report endpoints accept.
var allowedParams = map[string]struct{}{
	"period": {}, "date": {}, "compare": {},
	"hub": {}, "employee": {}, "payment_method": {},
	"category": {}, "owner": {}, "tier": {},
}

// reportFilterKeys are the dimension filters forwarded to the engine.
var reportFilterKeys = []string{"hub", "employee", "payment_method", "category", "owner", "tier"}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	rt, err := analytics.ParseReportType(chi.URLParam(r, "type"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	req, err := parseReportRequest(r, ident, rt)
	if err != nil {
		h.respondError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.reports.GetReport(ctx, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleChart(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	kind := chi.URLParam(r, "kind")
	rt, ok := chartSource(kind)
	if !ok {
		h.respondError(w, validationError{field: "kind"})
		return
	}
	req, err := parseReportRequest(r, ident, rt)
	if err != nil {
		h.respondError(w, err)
		return
	}
	// Charts only render the current period.
	compare := false
	req.Compare = &compare

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.reports.GetReport(ctx, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ChartResponse{
		Kind:   kind,
		Period: result.Period.String(),
		Points: chartPoints(kind, result.Payload),
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	rt, err := analytics.ParseReportType(chi.URLParam(r, "type"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	req, err := parseReportRequest(r, ident, rt)
	if err != nil {
		h.respondError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.reports.GetReport(ctx, req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()

	if err := export.WriteReportCSV(buf, result); err != nil {
		h.logError("write report csv", err)
		httpx.Internal(w)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(result)))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logError("stream csv", err)
	}
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	cfg, err := h.settings.Get(ctx, ident.TenantID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

func (h *Handler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req settings.UpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	cfg, err := h.settings.Update(ctx, ident.TenantID, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

type invalidationRequest struct {
	ReportType string `json:"report_type"`
}

type invalidationResponse struct {
	Removed int `json:"removed"`
}

// handleInvalidate drops the tenant's cached snapshots and announces the
// invalidation to the other instances. The broadcast is best effort.
func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req invalidationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}
	var types []analytics.ReportType
	if req.ReportType != "" {
		rt, err := analytics.ParseReportType(req.ReportType)
		if err != nil {
			h.respondError(w, err)
			return
		}
		types = append(types, rt)
	}

	removed := h.cache.Invalidate(ident.TenantID, types...)
	if h.publish != nil {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		event := snapcache.Event{TenantID: ident.TenantID, Types: types}
		if err := h.publish.Publish(ctx, event); err != nil {
			h.logger.Warn("invalidation broadcast failed",
				slog.String("tenant_id", ident.TenantID.String()),
				slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusAccepted, invalidationResponse{Removed: removed})
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Unauthorized(w, "missing identity")
		return shared.Identity{}, false
	}
	return ident, true
}

func parseReportRequest(r *http.Request, ident shared.Identity, rt analytics.ReportType) (analytics.ReportRequest, error) {
	q := r.URL.Query()
	for key := range q {
		if _, ok := allowedParams[key]; !ok {
			return analytics.ReportRequest{}, validationError{field: key}
		}
	}

	req := analytics.ReportRequest{TenantID: ident.TenantID, Type: rt}
	if raw := strings.TrimSpace(q.Get("period")); raw != "" {
		sel, err := period.ParseSelector(raw)
		if err != nil {
			return analytics.ReportRequest{}, err
		}
		req.Selector = sel
	}
	if raw := strings.TrimSpace(q.Get("date")); raw != "" {
		ref, err := period.ParseDate(raw)
		if err != nil {
			return analytics.ReportRequest{}, validationError{field: "date"}
		}
		req.ReferenceDate = ref
	}
	if raw := strings.TrimSpace(q.Get("compare")); raw != "" {
		compare, err := strconv.ParseBool(raw)
		if err != nil {
			return analytics.ReportRequest{}, validationError{field: "compare"}
		}
		req.Compare = &compare
	}

	filters := analytics.Filters{}
	for _, key := range reportFilterKeys {
		if value := strings.TrimSpace(q.Get(key)); value != "" {
			filters[key] = value
		}
	}
	if len(filters) > 0 {
		req.Filters = filters
	}
	return req, nil
}

// ChartPoint is one labeled value on a chart series.
type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// ChartResponse is the series projection the dashboard charts consume.
type ChartResponse struct {
	Kind   string       `json:"kind"`
	Period string       `json:"period"`
	Points []ChartPoint `json:"points"`
}

const (
	chartRevenue    = "revenue"
	chartSalesCount = "sales_count"
	chartCustomers  = "customers"
	chartProducts   = "products"
)

// chartSource maps a chart kind to the report feeding it.
func chartSource(kind string) (analytics.ReportType, bool) {
	switch kind {
	case chartRevenue, chartSalesCount:
		return analytics.ReportSales, true
	case chartCustomers:
		return analytics.ReportCustomers, true
	case chartProducts:
		return analytics.ReportProducts, true
	}
	return "", false
}

func chartPoints(kind string, payload analytics.Payload) []ChartPoint {
	switch kind {
	case chartRevenue:
		p, ok := payload.(*analytics.SalesPayload)
		if !ok {
			return nil
		}
		points := make([]ChartPoint, 0, len(p.RevenueByDay))
		for _, day := range p.RevenueByDay {
			points = append(points, ChartPoint{Label: day.Date.Format("2006-01-02"), Value: day.Value})
		}
		return points
	case chartSalesCount:
		p, ok := payload.(*analytics.SalesPayload)
		if !ok {
			return nil
		}
		points := make([]ChartPoint, 0, len(p.HourlyDistribution))
		for _, bucket := range p.HourlyDistribution {
			points = append(points, ChartPoint{Label: fmt.Sprintf("%02d:00", bucket.Hour), Value: float64(bucket.Count)})
		}
		return points
	case chartCustomers:
		p, ok := payload.(*analytics.CustomersPayload)
		if !ok {
			return nil
		}
		points := make([]ChartPoint, 0, len(p.VisitFrequency))
		for _, bucket := range p.VisitFrequency {
			points = append(points, ChartPoint{Label: bucket.Bucket, Value: float64(bucket.Customers)})
		}
		return points
	case chartProducts:
		p, ok := payload.(*analytics.ProductsPayload)
		if !ok {
			return nil
		}
		points := make([]ChartPoint, 0, len(p.TopSellers))
		for _, seller := range p.TopSellers {
			points = append(points, ChartPoint{Label: seller.Name, Value: float64(seller.Quantity)})
		}
		return points
	}
	return nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var vErr validationError
	switch {
	case errors.As(err, &vErr):
		httpx.Unprocessable(w, vErr.Error())
	case errors.Is(err, analytics.ErrUnknownReportType),
		errors.Is(err, period.ErrInvalidSelector),
		errors.Is(err, period.ErrInvalidConfiguration),
		errors.Is(err, settings.ErrInvalidSettings):
		httpx.Unprocessable(w, err.Error())
	case errors.Is(err, analytics.ErrDataUnavailable),
		errors.Is(err, snapcache.ErrComputationFailed),
		errors.Is(err, context.DeadlineExceeded):
		h.logError("report unavailable", err)
		httpx.Unavailable(w, retryAfterHint, "report data is temporarily unavailable")
	default:
		h.logError("request failed", err)
		httpx.Internal(w)
	}
}

func (h *Handler) logError(msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
}

type validationError struct {
	field string
}

func (v validationError) Error() string {
	return fmt.Sprintf("invalid parameter %q", v.field)
}
