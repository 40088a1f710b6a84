package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/erplora/insighthub/internal/analytics"
	analyticshttp "github.com/erplora/insighthub/internal/analytics/http"
	"github.com/erplora/insighthub/internal/observability"
	"github.com/erplora/insighthub/internal/period"
	"github.com/erplora/insighthub/internal/settings"
)

type routerReports struct {
	lastTenant uuid.UUID
}

func (r *routerReports) GetReport(_ context.Context, req analytics.ReportRequest) (*analytics.ReportResult, error) {
	r.lastTenant = req.TenantID
	ranges, err := period.Resolve(period.SelectorMonth, period.Date(2024, time.February, 20), 1)
	if err != nil {
		return nil, err
	}
	return &analytics.ReportResult{
		TenantID: req.TenantID,
		Type:     req.Type,
		Selector: period.SelectorMonth,
		Period:   ranges.Current,
		Payload:  &analytics.SalesPayload{Revenue: 640, SaleCount: 8, AvgTicket: 80},
		Currency: "EUR",
	}, nil
}

type routerSettings struct{}

func (routerSettings) Get(_ context.Context, tenantID uuid.UUID) (settings.Settings, error) {
	return settings.Defaults(tenantID), nil
}

func (routerSettings) Update(_ context.Context, tenantID uuid.UUID, _ settings.UpdateRequest) (settings.Settings, error) {
	return settings.Defaults(tenantID), nil
}

type routerInvalidator struct{}

func (routerInvalidator) Invalidate(uuid.UUID, ...analytics.ReportType) int { return 0 }

// RouterSuite drives requests through the fully assembled router: middleware
// stack, gateway identity, mounted handlers and the metrics endpoint.
type RouterSuite struct {
	suite.Suite
	reports *routerReports
	handler http.Handler
}

func (s *RouterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.reports = &routerReports{}
	s.handler = NewRouter(RouterParams{
		Logger:           logger,
		Config:           &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second},
		AnalyticsHandler: analyticshttp.NewHandler(logger, s.reports, routerSettings{}, routerInvalidator{}, nil),
		Metrics:          observability.NewMetrics(),
	})
}

func (s *RouterSuite) TestHealthz() {
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(s.T(), http.StatusOK, rr.Code)
	require.JSONEq(s.T(), `{"status":"ok"}`, rr.Body.String())
}

func (s *RouterSuite) TestAPIRequiresGatewayIdentity() {
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/analytics/reports/sales", nil))

	require.Equal(s.T(), http.StatusUnauthorized, rr.Code)
}

func (s *RouterSuite) TestReportFlowsThroughStack() {
	tenantID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/analytics/reports/sales?period=month", nil)
	req.Header.Set(HeaderTenantID, tenantID.String())
	req.Header.Set(HeaderUserID, uuid.New().String())

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	require.Equal(s.T(), http.StatusOK, rr.Code)
	require.Equal(s.T(), tenantID, s.reports.lastTenant)

	var body struct {
		Payload struct {
			Revenue float64 `json:"revenue"`
		} `json:"payload"`
	}
	require.NoError(s.T(), json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(s.T(), 640.0, body.Payload.Revenue)
}

func (s *RouterSuite) TestMetricsRecordRoutedRequests() {
	req := httptest.NewRequest(http.MethodGet, "/api/analytics/reports/sales", nil)
	req.Header.Set(HeaderTenantID, uuid.New().String())
	req.Header.Set(HeaderUserID, uuid.New().String())
	s.handler.ServeHTTP(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(s.T(), http.StatusOK, rr.Code)
	require.Contains(s.T(), rr.Body.String(), `route="/api/analytics/reports/{type}"`)
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}
