package analytics

import "time"

// Metric names shared between payloads and comparison output.
const (
	MetricRevenue          = "revenue"
	MetricSaleCount        = "sale_count"
	MetricAvgTicket        = "avg_ticket"
	MetricTaxTotal         = "tax_total"
	MetricProductCount     = "product_count"
	MetricLowStockCount    = "low_stock_count"
	MetricStockValue       = "stock_value"
	MetricTotalCustomers   = "total_customers"
	MetricNewCustomers     = "new_customers"
	MetricReturning        = "returning_customers"
	MetricAvgLifetimeValue = "avg_lifetime_value"
	MetricOpenDeals        = "open_deals"
	MetricWonDeals         = "won_deals"
	MetricLostDeals        = "lost_deals"
	MetricPipelineValue    = "pipeline_value"
	MetricWeightedValue    = "weighted_value"
	MetricWinRate          = "win_rate"
	MetricActiveMembers    = "active_members"
	MetricNewMembers       = "new_members"
	MetricPointsEarned     = "points_earned"
	MetricPointsRedeemed   = "points_redeemed"
	MetricRedemptionRate   = "redemption_rate"
)

// SeriesPoint is one day on a time series.
type SeriesPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// BreakdownSlice is one labeled share of a total.
type BreakdownSlice struct {
	Label  string  `json:"label"`
	Count  int64   `json:"count"`
	Amount float64 `json:"amount"`
}

// TaxLine is the tax collected at one rate.
type TaxLine struct {
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
}

// HourBucket aggregates sales landing in one hour of day.
type HourBucket struct {
	Hour    int     `json:"hour"`
	Count   int64   `json:"count"`
	Revenue float64 `json:"revenue"`
}

// SalesPayload is the sales report for one period.
type SalesPayload struct {
	Revenue            float64          `json:"revenue"`
	SaleCount          int64            `json:"sale_count"`
	AvgTicket          float64          `json:"avg_ticket"`
	TaxTotal           *float64         `json:"tax_total,omitempty"`
	TaxByRate          []TaxLine        `json:"tax_by_rate,omitempty"`
	RevenueByDay       []SeriesPoint    `json:"revenue_by_day"`
	PaymentBreakdown   []BreakdownSlice `json:"payment_breakdown"`
	SalesByEmployee    []BreakdownSlice `json:"sales_by_employee"`
	HourlyDistribution []HourBucket     `json:"hourly_distribution"`
}

func (p *SalesPayload) ReportType() ReportType { return ReportSales }

func (p *SalesPayload) Metrics() map[string]float64 {
	m := map[string]float64{
		MetricRevenue:   p.Revenue,
		MetricSaleCount: float64(p.SaleCount),
		MetricAvgTicket: p.AvgTicket,
	}
	if p.TaxTotal != nil {
		m[MetricTaxTotal] = *p.TaxTotal
	}
	return m
}

// ProductStat is one product's sales performance.
type ProductStat struct {
	Name     string  `json:"name"`
	Quantity int64   `json:"quantity"`
	Revenue  float64 `json:"revenue"`
}

// ProductMargin is one product's revenue against cost.
type ProductMargin struct {
	Name    string  `json:"name"`
	Revenue float64 `json:"revenue"`
	Cost    float64 `json:"cost"`
	Margin  float64 `json:"margin"`
}

// ProductsPayload is the product performance report for one period.
type ProductsPayload struct {
	ProductCount  int64           `json:"product_count"`
	LowStockCount int64           `json:"low_stock_count"`
	StockValue    float64         `json:"stock_value"`
	TopSellers    []ProductStat   `json:"top_sellers"`
	SlowMovers    []ProductStat   `json:"slow_movers"`
	Margins       []ProductMargin `json:"margins,omitempty"`
}

func (p *ProductsPayload) ReportType() ReportType { return ReportProducts }

func (p *ProductsPayload) Metrics() map[string]float64 {
	return map[string]float64{
		MetricProductCount:  float64(p.ProductCount),
		MetricLowStockCount: float64(p.LowStockCount),
		MetricStockValue:    p.StockValue,
	}
}

// CustomerStat is one customer's spend within the period.
type CustomerStat struct {
	Name   string  `json:"name"`
	Visits int64   `json:"visits"`
	Spent  float64 `json:"spent"`
}

// FrequencyBucket counts customers by visit frequency band.
type FrequencyBucket struct {
	Bucket    string `json:"bucket"`
	Customers int64  `json:"customers"`
}

// CustomersPayload is the customer activity report for one period.
type CustomersPayload struct {
	TotalCustomers     int64             `json:"total_customers"`
	NewCustomers       int64             `json:"new_customers"`
	ReturningCustomers int64             `json:"returning_customers"`
	AvgLifetimeValue   float64           `json:"avg_lifetime_value"`
	TopSpenders        []CustomerStat    `json:"top_spenders"`
	VisitFrequency     []FrequencyBucket `json:"visit_frequency"`
}

func (p *CustomersPayload) ReportType() ReportType { return ReportCustomers }

func (p *CustomersPayload) Metrics() map[string]float64 {
	return map[string]float64{
		MetricTotalCustomers:   float64(p.TotalCustomers),
		MetricNewCustomers:     float64(p.NewCustomers),
		MetricReturning:        float64(p.ReturningCustomers),
		MetricAvgLifetimeValue: p.AvgLifetimeValue,
	}
}

// StageSlice aggregates deals sitting in one pipeline stage.
type StageSlice struct {
	Stage string  `json:"stage"`
	Count int64   `json:"count"`
	Value float64 `json:"value"`
}

// PipelinePayload is the deal pipeline report for one period.
type PipelinePayload struct {
	OpenDeals     int64        `json:"open_deals"`
	WonDeals      int64        `json:"won_deals"`
	LostDeals     int64        `json:"lost_deals"`
	PipelineValue float64      `json:"pipeline_value"`
	WeightedValue float64      `json:"weighted_value"`
	WinRate       float64      `json:"win_rate"`
	ByStage       []StageSlice `json:"by_stage"`
}

func (p *PipelinePayload) ReportType() ReportType { return ReportPipeline }

func (p *PipelinePayload) Metrics() map[string]float64 {
	return map[string]float64{
		MetricOpenDeals:     float64(p.OpenDeals),
		MetricWonDeals:      float64(p.WonDeals),
		MetricLostDeals:     float64(p.LostDeals),
		MetricPipelineValue: p.PipelineValue,
		MetricWeightedValue: p.WeightedValue,
		MetricWinRate:       p.WinRate,
	}
}

// TierSlice counts loyalty members per tier.
type TierSlice struct {
	Tier    string `json:"tier"`
	Members int64  `json:"members"`
}

// LoyaltyPayload is the loyalty program report for one period.
type LoyaltyPayload struct {
	ActiveMembers  int64       `json:"active_members"`
	NewMembers     int64       `json:"new_members"`
	PointsEarned   int64       `json:"points_earned"`
	PointsRedeemed int64       `json:"points_redeemed"`
	RedemptionRate float64     `json:"redemption_rate"`
	TierBreakdown  []TierSlice `json:"tier_breakdown"`
}

func (p *LoyaltyPayload) ReportType() ReportType { return ReportLoyalty }

func (p *LoyaltyPayload) Metrics() map[string]float64 {
	return map[string]float64{
		MetricActiveMembers:  float64(p.ActiveMembers),
		MetricNewMembers:     float64(p.NewMembers),
		MetricPointsEarned:   float64(p.PointsEarned),
		MetricPointsRedeemed: float64(p.PointsRedeemed),
		MetricRedemptionRate: p.RedemptionRate,
	}
}
