// Package export serialises report results for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/erplora/insighthub/internal/analytics"
)

var metricLabels = map[string]string{
	analytics.MetricRevenue:          "Revenue",
	analytics.MetricSaleCount:        "Sale Count",
	analytics.MetricAvgTicket:        "Average Ticket",
	analytics.MetricTaxTotal:         "Tax Total",
	analytics.MetricProductCount:     "Product Count",
	analytics.MetricLowStockCount:    "Low Stock Count",
	analytics.MetricStockValue:       "Stock Value",
	analytics.MetricTotalCustomers:   "Total Customers",
	analytics.MetricNewCustomers:     "New Customers",
	analytics.MetricReturning:        "Returning Customers",
	analytics.MetricAvgLifetimeValue: "Average Lifetime Value",
	analytics.MetricOpenDeals:        "Open Deals",
	analytics.MetricWonDeals:         "Won Deals",
	analytics.MetricLostDeals:        "Lost Deals",
	analytics.MetricPipelineValue:    "Pipeline Value",
	analytics.MetricWeightedValue:    "Weighted Value",
	analytics.MetricWinRate:          "Win Rate",
	analytics.MetricActiveMembers:    "Active Members",
	analytics.MetricNewMembers:       "New Members",
	analytics.MetricPointsEarned:     "Points Earned",
	analytics.MetricPointsRedeemed:   "Points Redeemed",
	analytics.MetricRedemptionRate:   "Redemption Rate",
}

var metricOrder = map[analytics.ReportType][]string{
	analytics.ReportSales: {
		analytics.MetricRevenue, analytics.MetricSaleCount,
		analytics.MetricAvgTicket, analytics.MetricTaxTotal,
	},
	analytics.ReportProducts: {
		analytics.MetricProductCount, analytics.MetricLowStockCount, analytics.MetricStockValue,
	},
	analytics.ReportCustomers: {
		analytics.MetricTotalCustomers, analytics.MetricNewCustomers,
		analytics.MetricReturning, analytics.MetricAvgLifetimeValue,
	},
	analytics.ReportPipeline: {
		analytics.MetricOpenDeals, analytics.MetricWonDeals, analytics.MetricLostDeals,
		analytics.MetricPipelineValue, analytics.MetricWeightedValue, analytics.MetricWinRate,
	},
	analytics.ReportLoyalty: {
		analytics.MetricActiveMembers, analytics.MetricNewMembers,
		analytics.MetricPointsEarned, analytics.MetricPointsRedeemed, analytics.MetricRedemptionRate,
	},
}

// Filename suggests a download name for one result.
func Filename(result *analytics.ReportResult) string {
	return fmt.Sprintf("%s_%s.csv", result.Type, strings.ReplaceAll(result.Period.String(), "..", "_"))
}

// WriteReportCSV serialises a full report result: a summary block, the
// metric table with comparison columns when present, then the per-type
// breakdown sections.
func WriteReportCSV(w io.Writer, result *analytics.ReportResult) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writeSummary(writer, result); err != nil {
		return err
	}
	if err := writeMetrics(writer, result); err != nil {
		return err
	}

	var err error
	switch payload := result.Payload.(type) {
	case *analytics.SalesPayload:
		err = writeSalesSections(writer, payload)
	case *analytics.ProductsPayload:
		err = writeProductSections(writer, payload)
	case *analytics.CustomersPayload:
		err = writeCustomerSections(writer, payload)
	case *analytics.PipelinePayload:
		err = writePipelineSections(writer, payload)
	case *analytics.LoyaltyPayload:
		err = writeLoyaltySections(writer, payload)
	}
	if err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func writeSummary(writer *csv.Writer, result *analytics.ReportResult) error {
	rows := [][]string{
		{"Report", string(result.Type)},
		{"Period", result.Period.String()},
	}
	if result.PreviousPeriod != nil {
		rows = append(rows, []string{"Previous Period", result.PreviousPeriod.String()})
	}
	rows = append(rows,
		[]string{"Currency", result.Currency},
		[]string{"Computed At", result.ComputedAt.UTC().Format(time.RFC3339)},
		[]string{"Data As Of", result.DataAsOf.UTC().Format(time.RFC3339)},
	)
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeMetrics(writer *csv.Writer, result *analytics.ReportResult) error {
	names := metricOrder[result.Type]

	if result.Comparison != nil {
		if err := writer.Write([]string{"Metric", "Current", "Previous", "Delta", "Change %"}); err != nil {
			return err
		}
		for _, name := range names {
			change, ok := result.Comparison[name]
			if !ok {
				continue
			}
			row := []string{
				metricLabels[name],
				formatOptional(change.Current),
				formatOptional(change.Previous),
				formatOptional(change.Delta),
				formatPercent(change.PercentChange),
			}
			if err := writer.Write(row); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writer.Write([]string{"Metric", "Value"}); err != nil {
		return err
	}
	values := result.Payload.Metrics()
	for _, name := range names {
		value, ok := values[name]
		if !ok {
			continue
		}
		if err := writer.Write([]string{metricLabels[name], formatFloat(value)}); err != nil {
			return err
		}
	}
	return nil
}

func writeSalesSections(writer *csv.Writer, payload *analytics.SalesPayload) error {
	rows := make([][]string, 0, len(payload.RevenueByDay))
	for _, point := range payload.RevenueByDay {
		rows = append(rows, []string{point.Date.Format("2006-01-02"), formatFloat(point.Value)})
	}
	if err := writeSection(writer, "Revenue By Day", []string{"Date", "Revenue"}, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, slice := range payload.PaymentBreakdown {
		rows = append(rows, []string{slice.Label, formatInt(slice.Count), formatFloat(slice.Amount)})
	}
	if err := writeSection(writer, "Payment Breakdown", []string{"Method", "Count", "Amount"}, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, slice := range payload.SalesByEmployee {
		rows = append(rows, []string{slice.Label, formatInt(slice.Count), formatFloat(slice.Amount)})
	}
	if err := writeSection(writer, "Sales By Employee", []string{"Employee", "Count", "Amount"}, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, bucket := range payload.HourlyDistribution {
		rows = append(rows, []string{strconv.Itoa(bucket.Hour), formatInt(bucket.Count), formatFloat(bucket.Revenue)})
	}
	if err := writeSection(writer, "Hourly Distribution", []string{"Hour", "Count", "Revenue"}, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, line := range payload.TaxByRate {
		rows = append(rows, []string{formatFloat(line.Rate), formatFloat(line.Amount)})
	}
	return writeSection(writer, "Tax By Rate", []string{"Rate", "Amount"}, rows)
}

func writeProductSections(writer *csv.Writer, payload *analytics.ProductsPayload) error {
	rows := make([][]string, 0, len(payload.TopSellers))
	for _, stat := range payload.TopSellers {
		rows = append(rows, []string{stat.Name, formatInt(stat.Quantity), formatFloat(stat.Revenue)})
	}
	if err := writeSection(writer, "Top Sellers", []string{"Product", "Quantity", "Revenue"}, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, stat := range payload.SlowMovers {
		rows = append(rows, []string{stat.Name, formatInt(stat.Quantity), formatFloat(stat.Revenue)})
	}
	if err := writeSection(writer, "Slow Movers", []string{"Product", "Quantity", "Revenue"}, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, margin := range payload.Margins {
		rows = append(rows, []string{margin.Name, formatFloat(margin.Revenue), formatFloat(margin.Cost), formatFloat(margin.Margin)})
	}
	return writeSection(writer, "Margins", []string{"Product", "Revenue", "Cost", "Margin"}, rows)
}

func writeCustomerSections(writer *csv.Writer, payload *analytics.CustomersPayload) error {
	rows := make([][]string, 0, len(payload.TopSpenders))
	for _, stat := range payload.TopSpenders {
		rows = append(rows, []string{stat.Name, formatInt(stat.Visits), formatFloat(stat.Spent)})
	}
	if err := writeSection(writer, "Top Spenders", []string{"Customer", "Visits", "Spent"}, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, bucket := range payload.VisitFrequency {
		rows = append(rows, []string{bucket.Bucket, formatInt(bucket.Customers)})
	}
	return writeSection(writer, "Visit Frequency", []string{"Visits", "Customers"}, rows)
}

func writePipelineSections(writer *csv.Writer, payload *analytics.PipelinePayload) error {
	rows := make([][]string, 0, len(payload.ByStage))
	for _, slice := range payload.ByStage {
		rows = append(rows, []string{slice.Stage, formatInt(slice.Count), formatFloat(slice.Value)})
	}
	return writeSection(writer, "By Stage", []string{"Stage", "Count", "Value"}, rows)
}

func writeLoyaltySections(writer *csv.Writer, payload *analytics.LoyaltyPayload) error {
	rows := make([][]string, 0, len(payload.TierBreakdown))
	for _, slice := range payload.TierBreakdown {
		rows = append(rows, []string{slice.Tier, formatInt(slice.Members)})
	}
	return writeSection(writer, "Tiers", []string{"Tier", "Members"}, rows)
}

func writeSection(writer *csv.Writer, title string, header []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	if err := writer.Write([]string{title}); err != nil {
		return err
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

// formatPercent renders an undefined percent as n/a, never as infinity.
func formatPercent(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + "%"
}
