package analyticshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/erplora/insighthub/internal/analytics"
	"github.com/erplora/insighthub/internal/period"
	"github.com/erplora/insighthub/internal/settings"
	"github.com/erplora/insighthub/internal/shared"
	"github.com/erplora/insighthub/internal/snapcache"
)

type stubReports struct {
	result *analytics.ReportResult
	err    error
	last   analytics.ReportRequest
	calls  int
}

func (s *stubReports) GetReport(ctx context.Context, req analytics.ReportRequest) (*analytics.ReportResult, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubSettings struct {
	cfg     settings.Settings
	err     error
	updated *settings.UpdateRequest
}

func (s *stubSettings) Get(ctx context.Context, tenantID uuid.UUID) (settings.Settings, error) {
	if s.err != nil {
		return settings.Settings{}, s.err
	}
	cfg := s.cfg
	cfg.TenantID = tenantID
	return cfg, nil
}

func (s *stubSettings) Update(ctx context.Context, tenantID uuid.UUID, req settings.UpdateRequest) (settings.Settings, error) {
	s.updated = &req
	if s.err != nil {
		return settings.Settings{}, s.err
	}
	cfg := s.cfg
	cfg.TenantID = tenantID
	return cfg, nil
}

type stubInvalidator struct {
	removed int
	tenant  uuid.UUID
	types   []analytics.ReportType
}

func (s *stubInvalidator) Invalidate(tenantID uuid.UUID, types ...analytics.ReportType) int {
	s.tenant = tenantID
	s.types = types
	return s.removed
}

type stubPublisher struct {
	events []snapcache.Event
	err    error
}

func (s *stubPublisher) Publish(ctx context.Context, event snapcache.Event) error {
	s.events = append(s.events, event)
	return s.err
}

func testRouter(reports ReportService, settingsSvc SettingsService, cache SnapshotInvalidator, publish InvalidationPublisher) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, reports, settingsSvc, cache, publish)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func authedRequest(method, target string, body io.Reader, ident shared.Identity) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(shared.ContextWithIdentity(req.Context(), ident))
}

func testIdentity() shared.Identity {
	return shared.Identity{TenantID: uuid.New(), UserID: uuid.New()}
}

func salesResult(tenantID uuid.UUID) *analytics.ReportResult {
	ranges, err := period.Resolve(period.SelectorMonth, period.Date(2024, time.February, 20), 1)
	if err != nil {
		panic(err)
	}
	taxed := 90.0
	return &analytics.ReportResult{
		TenantID: tenantID,
		Type:     analytics.ReportSales,
		Selector: period.SelectorMonth,
		Period:   ranges.Current,
		Payload: &analytics.SalesPayload{
			Revenue:   1200,
			SaleCount: 40,
			AvgTicket: 30,
			TaxTotal:  &taxed,
			RevenueByDay: []analytics.SeriesPoint{
				{Date: period.Date(2024, time.February, 1), Value: 700},
				{Date: period.Date(2024, time.February, 2), Value: 500},
			},
			HourlyDistribution: []analytics.HourBucket{{Hour: 9, Count: 25, Revenue: 800}},
		},
		Currency:   "EUR",
		ComputedAt: time.Date(2024, time.February, 20, 10, 0, 0, 0, time.UTC),
		DataAsOf:   time.Date(2024, time.February, 20, 9, 55, 0, 0, time.UTC),
	}
}

func TestReportEndpointReturnsResult(t *testing.T) {
	ident := testIdentity()
	reports := &stubReports{result: salesResult(ident.TenantID)}
	router := testRouter(reports, &stubSettings{}, &stubInvalidator{}, &stubPublisher{})

	req := authedRequest(http.MethodGet, "/reports/sales?period=month&hub=hub-1&compare=false", nil, ident)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type %s", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	payload, ok := body["payload"].(map[string]any)
	if !ok {
		t.Fatalf("expected payload object, got %T", body["payload"])
	}
	if payload["revenue"].(float64) != 1200 {
		t.Fatalf("expected revenue 1200, got %v", payload["revenue"])
	}

	if reports.last.TenantID != ident.TenantID {
		t.Fatalf("expected tenant from identity, got %s", reports.last.TenantID)
	}
	if reports.last.Type != analytics.ReportSales {
		t.Fatalf("expected sales request, got %s", reports.last.Type)
	}
	if reports.last.Selector != period.SelectorMonth {
		t.Fatalf("expected month selector, got %q", reports.last.Selector)
	}
	if got := reports.last.Filters["hub"]; got != "hub-1" {
		t.Fatalf("expected hub filter, got %q", got)
	}
	if reports.last.Compare == nil || *reports.last.Compare {
		t.Fatalf("expected compare=false forwarded, got %v", reports.last.Compare)
	}
}

func TestReportEndpointRequiresIdentity(t *testing.T) {
	router := testRouter(&stubReports{}, &stubSettings{}, &stubInvalidator{}, &stubPublisher{})
	req := httptest.NewRequest(http.MethodGet, "/reports/sales", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestReportEndpointRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name   string
		target string
	}{
		{"unknown type", "/reports/margins"},
		{"unknown selector", "/reports/sales?period=decade"},
		{"unknown parameter", "/reports/sales?region=emea"},
		{"bad date", "/reports/sales?date=2024-13-40"},
		{"bad compare", "/reports/sales?compare=maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reports := &stubReports{result: salesResult(uuid.New())}
			router := testRouter(reports, &stubSettings{}, &stubInvalidator{}, &stubPublisher{})
			req := authedRequest(http.MethodGet, tc.target, nil, testIdentity())
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
			}
			if reports.calls != 0 {
				t.Fatalf("expected no engine call, got %d", reports.calls)
			}
		})
	}
}

func TestReportEndpointMapsUnavailable(t *testing.T) {
	reports := &stubReports{err: fmt.Errorf("%w: fetch sales: connection refused", analytics.ErrDataUnavailable)}
	router := testRouter(reports, &stubSettings{}, &stubInvalidator{}, &stubPublisher{})

	req := authedRequest(http.MethodGet, "/reports/sales", nil, testIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After 30, got %q", rr.Header().Get("Retry-After"))
	}
}

func TestChartEndpointProjectsSeries(t *testing.T) {
	ident := testIdentity()
	reports := &stubReports{result: salesResult(ident.TenantID)}
	router := testRouter(reports, &stubSettings{}, &stubInvalidator{}, &stubPublisher{})

	req := authedRequest(http.MethodGet, "/charts/revenue?period=month", nil, ident)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var chart ChartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &chart); err != nil {
		t.Fatalf("decode chart: %v", err)
	}
	if chart.Kind != "revenue" {
		t.Fatalf("expected revenue kind, got %q", chart.Kind)
	}
	if len(chart.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(chart.Points))
	}
	if chart.Points[0].Label != "2024-02-01" || chart.Points[0].Value != 700 {
		t.Fatalf("unexpected first point %+v", chart.Points[0])
	}
	if reports.last.Compare == nil || *reports.last.Compare {
		t.Fatalf("charts must not request comparison")
	}
}

func TestChartEndpointRejectsUnknownKind(t *testing.T) {
	router := testRouter(&stubReports{}, &stubSettings{}, &stubInvalidator{}, &stubPublisher{})
	req := authedRequest(http.MethodGet, "/charts/velocity", nil, testIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestExportEndpointStreamsCSV(t *testing.T) {
	ident := testIdentity()
	reports := &stubReports{result: salesResult(ident.TenantID)}
	router := testRouter(reports, &stubSettings{}, &stubInvalidator{}, &stubPublisher{})

	req := authedRequest(http.MethodGet, "/reports/sales/export?period=month", nil, ident)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %s", ct)
	}
	disposition := rr.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, "sales_2024-02-01_2024-03-01.csv") {
		t.Fatalf("unexpected disposition %q", disposition)
	}
	if !strings.Contains(rr.Body.String(), "Revenue") {
		t.Fatalf("expected metric rows in CSV body")
	}
}

func TestExportEndpointRateLimits(t *testing.T) {
	ident := testIdentity()
	reports := &stubReports{result: salesResult(ident.TenantID)}
	router := testRouter(reports, &stubSettings{}, &stubInvalidator{}, &stubPublisher{})

	for i := 0; i < 10; i++ {
		req := authedRequest(http.MethodGet, "/reports/sales/export", nil, ident)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}
	req := authedRequest(http.MethodGet, "/reports/sales/export", nil, ident)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", rr.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ident := testIdentity()
	store := &stubSettings{cfg: settings.Defaults(uuid.Nil)}
	router := testRouter(&stubReports{}, store, &stubInvalidator{}, &stubPublisher{})

	req := authedRequest(http.MethodGet, "/settings", nil, ident)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var cfg settings.Settings
	if err := json.Unmarshal(rr.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if cfg.TenantID != ident.TenantID {
		t.Fatalf("expected tenant %s, got %s", ident.TenantID, cfg.TenantID)
	}

	update := `{"default_period":"quarter","fiscal_year_start_month":4,"show_profit":true,"tax_breakdown":"rates","compare_previous_period":true,"currency_code":"USD"}`
	req = authedRequest(http.MethodPut, "/settings", bytes.NewBufferString(update), ident)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if store.updated == nil {
		t.Fatalf("expected update forwarded to service")
	}
	if store.updated.DefaultPeriod != "quarter" || store.updated.FiscalYearStartMonth != 4 {
		t.Fatalf("unexpected update payload %+v", store.updated)
	}
}

func TestSettingsUpdateRejectsBadInput(t *testing.T) {
	ident := testIdentity()
	store := &stubSettings{err: settings.ErrInvalidSettings}
	router := testRouter(&stubReports{}, store, &stubInvalidator{}, &stubPublisher{})

	req := authedRequest(http.MethodPut, "/settings", strings.NewReader(`{"default_period":"month"}`), ident)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}

	req = authedRequest(http.MethodPut, "/settings", strings.NewReader(`{not-json`), ident)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestInvalidationEndpoint(t *testing.T) {
	ident := testIdentity()
	invalidator := &stubInvalidator{removed: 7}
	publisher := &stubPublisher{}
	router := testRouter(&stubReports{}, &stubSettings{}, invalidator, publisher)

	req := authedRequest(http.MethodPost, "/cache/invalidations", strings.NewReader(`{"report_type":"sales"}`), ident)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp invalidationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Removed != 7 {
		t.Fatalf("expected 7 removed, got %d", resp.Removed)
	}
	if invalidator.tenant != ident.TenantID {
		t.Fatalf("expected tenant scoped invalidation")
	}
	if len(invalidator.types) != 1 || invalidator.types[0] != analytics.ReportSales {
		t.Fatalf("expected sales-only invalidation, got %v", invalidator.types)
	}
	if len(publisher.events) != 1 || publisher.events[0].TenantID != ident.TenantID {
		t.Fatalf("expected broadcast event, got %v", publisher.events)
	}
}

func TestInvalidationEndpointDefaultsToAllTypes(t *testing.T) {
	ident := testIdentity()
	invalidator := &stubInvalidator{removed: 12}
	publisher := &stubPublisher{err: fmt.Errorf("redis down")}
	router := testRouter(&stubReports{}, &stubSettings{}, invalidator, publisher)

	req := authedRequest(http.MethodPost, "/cache/invalidations", nil, ident)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 despite broadcast failure, got %d", rr.Code)
	}
	if len(invalidator.types) != 0 {
		t.Fatalf("expected all types invalidated, got %v", invalidator.types)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected JSON body")
	}
}

func TestInvalidationEndpointRejectsUnknownType(t *testing.T) {
	router := testRouter(&stubReports{}, &stubSettings{}, &stubInvalidator{}, &stubPublisher{})
	req := authedRequest(http.MethodPost, "/cache/invalidations", strings.NewReader(`{"report_type":"margins"}`), testIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}
