// Package reporter renders reconciliation results for people and programs.
//
// Supported output formats:
//   - Console: Human-readable sections for terminal display
//   - JSON: Structured data format for programmatic consumption
//   - CSV: Comma-separated format for spreadsheet applications
//
// Report types available:
//   - Run reports: summary, match rows and residue of one reconciliation run
//   - Result reports: the stored match rows
//   - Unmatched reports: residue records with names and amounts
//   - Group reports: the members of a single match group
//   - Ledger statistics and import reports
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/internal/parsers"
	"ledger-matching-service/internal/reconciler"

	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeRows        bool `json:"include_rows"`
	IncludeUnmatched   bool `json:"include_unmatched"`
	IncludeEdgeCases   bool `json:"include_edge_cases"`
	IncludeEngineStats bool `json:"include_engine_stats"`

	// MaxListItems truncates console lists. Zero prints everything.
	MaxListItems int `json:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:             FormatConsole,
		IncludeRows:        true,
		IncludeUnmatched:   true,
		IncludeEdgeCases:   true,
		IncludeEngineStats: false,
		MaxListItems:       50,
		CSVDelimiter:       ',',
		CSVHeaders:         true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}
	if c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' || c.CSVDelimiter == '\r' {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// render dispatches on the configured format. JSON always encodes v.
func (rg *ReportGenerator) render(
	v interface{},
	writer io.Writer,
	console func(io.Writer) error,
	csvHeader []string,
	csvRecords func() [][]string,
) error {
	switch rg.config.Format {
	case FormatConsole:
		ew := &errWriter{w: writer}
		if err := console(ew); err != nil {
			return err
		}
		return ew.err
	case FormatJSON:
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case FormatCSV:
		return rg.writeCSV(writer, csvHeader, csvRecords())
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// errWriter keeps the first write error so the console printers can use
// fmt.Fprintf without checking every call.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	ew.err = err
	return n, err
}

func (rg *ReportGenerator) writeCSV(writer io.Writer, header []string, records [][]string) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(header); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, record := range records {
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// GenerateReport writes the report of one reconciliation run.
func (rg *ReportGenerator) GenerateReport(result *reconciler.RunResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("run result cannot be nil")
	}
	if result.Summary == nil {
		return fmt.Errorf("run result has no summary")
	}

	return rg.render(
		rg.filterResultForOutput(result),
		writer,
		func(w io.Writer) error { return rg.generateConsoleReport(result, w) },
		runCSVHeader,
		func() [][]string { return rg.runCSVRecords(result) },
	)
}

// GenerateRowsReport writes the stored match rows.
func (rg *ReportGenerator) GenerateRowsReport(rows []models.ReportRow, writer io.Writer) error {
	if rows == nil {
		rows = []models.ReportRow{}
	}
	return rg.render(
		map[string]interface{}{"rows": rows},
		writer,
		func(w io.Writer) error {
			fmt.Fprintf(w, "=== MATCH RESULTS ===\n")
			rg.printRows(rows, w)
			return nil
		},
		rowsCSVHeader,
		func() [][]string { return rowRecords(rows) },
	)
}

// GenerateUnmatchedReport writes the residue with names and amounts.
func (rg *ReportGenerator) GenerateUnmatchedReport(detail *models.UnmatchedDetail, writer io.Writer) error {
	if detail == nil {
		return fmt.Errorf("unmatched detail cannot be nil")
	}
	return rg.render(
		detail,
		writer,
		func(w io.Writer) error {
			fmt.Fprintf(w, "=== UNMATCHED BILLS (%d) ===\n", len(detail.Bills))
			rg.printEntries(detail.Bills, w)
			fmt.Fprintf(w, "\n=== UNMATCHED PAYMENTS (%d) ===\n", len(detail.Payments))
			rg.printEntries(detail.Payments, w)
			return nil
		},
		entryCSVHeader,
		func() [][]string {
			return append(entryRecords(detail.Bills), entryRecords(detail.Payments)...)
		},
	)
}

// GenerateGroupReport writes the members of one group.
func (rg *ReportGenerator) GenerateGroupReport(detail *models.GroupDetail, writer io.Writer) error {
	if detail == nil {
		return fmt.Errorf("group detail cannot be nil")
	}
	output := map[string]interface{}{
		"group_id":      detail.GroupID,
		"kind":          detail.Kind,
		"bills":         detail.Bills,
		"payments":      detail.Payments,
		"bill_total":    detail.BillTotal(),
		"payment_total": detail.PaymentTotal(),
	}
	return rg.render(
		output,
		writer,
		func(w io.Writer) error {
			fmt.Fprintf(w, "GROUP %d (%s)\n\n", detail.GroupID, detail.Kind)
			fmt.Fprintf(w, "Bills (%d):\n", len(detail.Bills))
			rg.printEntries(detail.Bills, w)
			fmt.Fprintf(w, "\nPayments (%d):\n", len(detail.Payments))
			rg.printEntries(detail.Payments, w)
			fmt.Fprintf(w, "\nBill Total:    %s\n", detail.BillTotal().String())
			fmt.Fprintf(w, "Payment Total: %s\n", detail.PaymentTotal().String())
			fmt.Fprintf(w, "Difference:    %s\n", detail.BillTotal().Sub(detail.PaymentTotal()).String())
			return nil
		},
		entryCSVHeader,
		func() [][]string {
			return append(entryRecords(detail.Bills), entryRecords(detail.Payments)...)
		},
	)
}

// GenerateStatsReport writes ledger statistics.
func (rg *ReportGenerator) GenerateStatsReport(stats *models.LedgerStats, writer io.Writer) error {
	if stats == nil {
		return fmt.Errorf("stats cannot be nil")
	}
	return rg.render(
		stats,
		writer,
		func(w io.Writer) error {
			fmt.Fprintf(w, "=== LEDGER ===\n")
			fmt.Fprintf(w, "Customers:     %d\n", stats.Customers)
			fmt.Fprintf(w, "Payers:        %d\n", stats.Payers)
			fmt.Fprintf(w, "Bills:         %d\n", stats.Bills)
			fmt.Fprintf(w, "Payments:      %d\n", stats.Payments)
			fmt.Fprintf(w, "Match Groups:  %d\n", stats.Groups)
			fmt.Fprintf(w, "Match Results: %d\n", stats.MatchResults)
			return nil
		},
		[]string{"Customers", "Payers", "Bills", "Payments", "Groups", "Match_Results"},
		func() [][]string {
			return [][]string{{
				strconv.Itoa(stats.Customers),
				strconv.Itoa(stats.Payers),
				strconv.Itoa(stats.Bills),
				strconv.Itoa(stats.Payments),
				strconv.Itoa(stats.Groups),
				strconv.Itoa(stats.MatchResults),
			}}
		},
	)
}

// GenerateImportReport writes the outcome of an import.
func (rg *ReportGenerator) GenerateImportReport(result *reconciler.ImportResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("import result cannot be nil")
	}
	return rg.render(
		result,
		writer,
		func(w io.Writer) error {
			fmt.Fprintf(w, "=== IMPORT ===\n")
			fmt.Fprintf(w, "Bills Stored:    %d\n", result.BillsStored)
			fmt.Fprintf(w, "Payments Stored: %d\n", result.PaymentsStored)
			fmt.Fprintf(w, "Duration:        %v\n", result.Duration.Round(time.Millisecond))
			if result.BillStats != nil {
				fmt.Fprintf(w, "\n%s\n", result.BillStats.String())
				for _, sample := range result.BillStats.GetSampleErrors(5) {
					fmt.Fprintf(w, "  - %s\n", sample)
				}
			}
			if result.PaymentStats != nil {
				fmt.Fprintf(w, "\n%s\n", result.PaymentStats.String())
				for _, sample := range result.PaymentStats.GetSampleErrors(5) {
					fmt.Fprintf(w, "  - %s\n", sample)
				}
			}
			rg.printPreprocessing("Bills", result.BillPreprocessing, w)
			rg.printPreprocessing("Payments", result.PaymentPreprocessing, w)
			return nil
		},
		[]string{"Side", "Stored", "Parsed", "Skipped", "Dropped"},
		func() [][]string {
			return [][]string{
				importRecord("bill", result.BillsStored, result.BillStats, result.BillPreprocessing),
				importRecord("payment", result.PaymentsStored, result.PaymentStats, result.PaymentPreprocessing),
			}
		},
	)
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.RunResult, writer io.Writer) error {
	fmt.Fprintf(writer, "RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Run ID:    %s\n", result.RunID)
	fmt.Fprintf(writer, "Mode:      %s (tolerance %s, up to %d records per combination)\n",
		result.Config.Mode, result.Config.Tolerance.String(), result.Config.MaxCombinationSize)
	if result.Restricted {
		fmt.Fprintf(writer, "Scope:     previous residue only\n")
	}
	fmt.Fprintf(writer, "Generated: %s\n", result.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration:  %v\n\n", result.Duration.Round(time.Millisecond))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummaryTable(result.Summary, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== AMOUNTS ===\n")
	rg.printAmountSummary(result.Summary, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== GROUPS ===\n")
	rg.printGroupBreakdown(result.Summary, writer)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeRows && len(result.Rows) > 0 {
		fmt.Fprintf(writer, "=== MATCH RESULTS ===\n")
		rg.printRows(result.Rows, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnmatched && !result.Unmatched.IsEmpty() {
		fmt.Fprintf(writer, "=== UNMATCHED ===\n")
		rg.printIDList("Bill IDs", result.Unmatched.BillIDs, writer)
		rg.printIDList("Payment IDs", result.Unmatched.PaymentIDs, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeEdgeCases && result.EdgeCases != nil && result.EdgeCases.HasFindings() {
		fmt.Fprintf(writer, "=== DATA WARNINGS ===\n")
		rg.printEdgeCases(result, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeEngineStats {
		fmt.Fprintf(writer, "=== ENGINE STATISTICS ===\n")
		fmt.Fprintf(writer, "Name Keys:           %d bill, %d payment, %d shared\n",
			result.Buckets.BillKeys, result.Buckets.PaymentKeys, result.Buckets.SharedKeys)
		fmt.Fprintf(writer, "Largest Bucket:      %d\n", result.Buckets.LargestBucket)
		fmt.Fprintf(writer, "Buckets Visited:     %d\n", result.Engine.BucketsVisited)
		fmt.Fprintf(writer, "Combinations Tried:  %d\n", result.Engine.CombinationsTried)
		fmt.Fprintf(writer, "Large Search Warns:  %d\n", result.Engine.LargeSearchWarning)
	}

	return nil
}

var (
	runCSVHeader   = []string{"Type", "Group_ID", "Customer_Name", "Payer_Name", "Bill_ID", "Payment_ID", "Bill_Amount", "Payment_Amount"}
	rowsCSVHeader  = []string{"Group_ID", "Customer_Name", "Payer_Name", "Bill_ID", "Payment_ID", "Bill_Amount", "Payment_Amount"}
	entryCSVHeader = []string{"Side", "ID", "Name", "Raw_Name", "Amount"}
)

func (rg *ReportGenerator) runCSVRecords(result *reconciler.RunResult) [][]string {
	var records [][]string

	if rg.config.IncludeRows {
		for _, row := range rowRecords(result.Rows) {
			records = append(records, append([]string{"Match"}, row...))
		}
	}

	if rg.config.IncludeUnmatched {
		for _, id := range result.Unmatched.BillIDs {
			records = append(records, []string{"Unmatched Bill", "", "", "", formatID(id), "", "", ""})
		}
		for _, id := range result.Unmatched.PaymentIDs {
			records = append(records, []string{"Unmatched Payment", "", "", "", "", formatID(id), "", ""})
		}
	}

	return records
}

func rowRecords(rows []models.ReportRow) [][]string {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			formatID(row.GroupID),
			row.CustomerName,
			row.PayerName,
			formatID(row.BillID),
			formatID(row.PaymentID),
			row.BillAmount.String(),
			row.PaymentAmount.String(),
		})
	}
	return records
}

func entryRecords(entries []models.LedgerEntry) [][]string {
	records := make([][]string, 0, len(entries))
	for _, e := range entries {
		records = append(records, []string{string(e.Side), formatID(e.ID), e.Name, e.RawName, e.Amount.String()})
	}
	return records
}

func importRecord(side string, stored int, stats *parsers.ParseStats, pre *reconciler.PreprocessingStats) []string {
	parsed, skipped, dropped := 0, 0, 0
	if stats != nil {
		parsed, skipped = stats.RecordsParsed, stats.Skipped
	}
	if pre != nil {
		dropped = pre.Dropped()
	}
	return []string{side, strconv.Itoa(stored), strconv.Itoa(parsed), strconv.Itoa(skipped), strconv.Itoa(dropped)}
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummaryTable(summary *reconciler.ResultSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Bills:\n")
	fmt.Fprintf(writer, "  Total:     %d\n", summary.TotalBills)
	fmt.Fprintf(writer, "  Matched:   %d (%.1f%%)\n",
		summary.MatchedBills,
		rg.calculatePercentage(summary.MatchedBills, summary.TotalBills))
	fmt.Fprintf(writer, "  Unmatched: %d (%.1f%%)\n",
		summary.UnmatchedBills,
		rg.calculatePercentage(summary.UnmatchedBills, summary.TotalBills))

	fmt.Fprintf(writer, "\nPayments:\n")
	fmt.Fprintf(writer, "  Total:     %d\n", summary.TotalPayments)
	fmt.Fprintf(writer, "  Matched:   %d (%.1f%%)\n",
		summary.MatchedPayments,
		rg.calculatePercentage(summary.MatchedPayments, summary.TotalPayments))
	fmt.Fprintf(writer, "  Unmatched: %d (%.1f%%)\n",
		summary.UnmatchedPayments,
		rg.calculatePercentage(summary.UnmatchedPayments, summary.TotalPayments))
}

func (rg *ReportGenerator) printAmountSummary(summary *reconciler.ResultSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Matched Bill Amount:      %s\n", summary.MatchedBillAmount.String())
	fmt.Fprintf(writer, "Matched Payment Amount:   %s\n", summary.MatchedPaymentAmount.String())
	fmt.Fprintf(writer, "Accepted Difference:      %s\n", summary.Difference().String())
	fmt.Fprintf(writer, "Unmatched Bill Amount:    %s\n", summary.UnmatchedBillAmount.String())
	fmt.Fprintf(writer, "Unmatched Payment Amount: %s\n", summary.UnmatchedPaymentAmount.String())

	if !summary.MatchedBillAmount.IsZero() && !summary.Difference().IsZero() {
		pct := summary.Difference().Abs().Div(summary.MatchedBillAmount).Mul(decimal.NewFromInt(100))
		fmt.Fprintf(writer, "Difference Percentage:    %s%%\n", pct.StringFixed(2))
	}
}

func (rg *ReportGenerator) printGroupBreakdown(summary *reconciler.ResultSummary, writer io.Writer) {
	fmt.Fprintf(writer, "One-to-One:  %d (%.1f%%)\n",
		summary.OneToOne, rg.calculatePercentage(summary.OneToOne, summary.Groups))
	fmt.Fprintf(writer, "Many-to-One: %d (%.1f%%)\n",
		summary.ManyToOne, rg.calculatePercentage(summary.ManyToOne, summary.Groups))
	fmt.Fprintf(writer, "One-to-Many: %d (%.1f%%)\n",
		summary.OneToMany, rg.calculatePercentage(summary.OneToMany, summary.Groups))
	fmt.Fprintf(writer, "Total:       %d\n", summary.Groups)
}

func (rg *ReportGenerator) printRows(rows []models.ReportRow, writer io.Writer) {
	fmt.Fprintf(writer, "Total Rows: %d\n\n", len(rows))
	for i, row := range rows {
		if rg.truncated(i, len(rows), writer) {
			break
		}
		fmt.Fprintf(writer, "  Group %d: %s <- %s, Bill #%d %s, Payment #%d %s\n",
			row.GroupID,
			row.CustomerName,
			row.PayerName,
			row.BillID,
			row.BillAmount.String(),
			row.PaymentID,
			row.PaymentAmount.String())
	}
}

func (rg *ReportGenerator) printEntries(entries []models.LedgerEntry, writer io.Writer) {
	for i, e := range entries {
		if rg.truncated(i, len(entries), writer) {
			break
		}
		if e.RawName != "" && e.RawName != e.Name {
			fmt.Fprintf(writer, "  %d. ID: %d, Name: %s (%s), Amount: %s\n", i+1, e.ID, e.Name, e.RawName, e.Amount.String())
		} else {
			fmt.Fprintf(writer, "  %d. ID: %d, Name: %s, Amount: %s\n", i+1, e.ID, e.Name, e.Amount.String())
		}
	}
}

func (rg *ReportGenerator) printIDList(label string, ids []int64, writer io.Writer) {
	fmt.Fprintf(writer, "%s (%d):", label, len(ids))
	for i, id := range ids {
		if rg.config.MaxListItems > 0 && i >= rg.config.MaxListItems {
			fmt.Fprintf(writer, " ... and %d more", len(ids)-i)
			break
		}
		fmt.Fprintf(writer, " %d", id)
	}
	fmt.Fprintf(writer, "\n")
}

func (rg *ReportGenerator) printEdgeCases(result *reconciler.RunResult, writer io.Writer) {
	report := result.EdgeCases
	if n := len(report.EmptyKeyBills) + len(report.EmptyKeyPayments); n > 0 {
		fmt.Fprintf(writer, "  - %d records have an empty normalized name and cannot be matched\n", n)
	}
	if len(report.BillOnlyKeys) > 0 {
		fmt.Fprintf(writer, "  - %d customer names have no payments\n", len(report.BillOnlyKeys))
	}
	if len(report.PaymentOnlyKeys) > 0 {
		fmt.Fprintf(writer, "  - %d payer names have no bills\n", len(report.PaymentOnlyKeys))
	}
	for _, dup := range report.Duplicates {
		fmt.Fprintf(writer, "  - %s: %d %ss of %s\n", dup.Key, len(dup.IDs), dup.Side, dup.Amount.String())
	}
	for _, large := range report.LargeBuckets {
		fmt.Fprintf(writer, "  - %s: large search (%d bills, %d payments)\n", large.Key, large.Bills, large.Payments)
	}
}

func (rg *ReportGenerator) printPreprocessing(label string, stats *reconciler.PreprocessingStats, writer io.Writer) {
	if stats == nil || stats.Dropped() == 0 {
		return
	}
	fmt.Fprintf(writer, "\n%s dropped during preprocessing: %d (non-positive %d, duplicates %d)\n",
		label, stats.Dropped(), stats.NonPositive, stats.Duplicates)
}

// truncated prints the overflow line and reports true once i passes the limit.
func (rg *ReportGenerator) truncated(i, total int, writer io.Writer) bool {
	if rg.config.MaxListItems > 0 && i >= rg.config.MaxListItems {
		fmt.Fprintf(writer, "  ... and %d more\n", total-i)
		return true
	}
	return false
}

// Helper methods

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.RunResult) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":     result.RunID,
		"config":     result.Config,
		"restricted": result.Restricted,
		"summary":    result.Summary,
		"groups":     result.Groups,
		"started_at": result.StartedAt,
		"duration":   result.Duration.String(),
	}

	if rg.config.IncludeRows {
		output["rows"] = result.Rows
	}

	if rg.config.IncludeUnmatched {
		output["unmatched"] = result.Unmatched
	}

	if rg.config.IncludeEdgeCases && result.EdgeCases != nil {
		output["edge_cases"] = result.EdgeCases
	}

	if rg.config.IncludeEngineStats {
		output["engine"] = result.Engine
		output["buckets"] = result.Buckets
	}

	return output
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
