package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"
)

// BillParser handles parsing of bill CSV files
type BillParser struct {
	*BaseParser
	config *BillParserConfig
}

// NewBillParser creates a new bill parser with the given configuration
func NewBillParser(config *BillParserConfig) (*BillParser, error) {
	if config == nil {
		config = DefaultBillParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "bill_parser", config, err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.Delimiter = config.Delimiter
	parseConfig.Encoding, _ = ParseEncoding(string(config.Encoding))

	return &BillParser{
		BaseParser: NewBaseParser(parseConfig, "bill_parser"),
		config:     config,
	}, nil
}

// ParseFile parses a bill CSV file from disk.
func (p *BillParser) ParseFile(ctx context.Context, filePath string) ([]models.BillInput, *ParseStats, error) {
	file, reader, err := p.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return p.parse(ctx, filePath, reader)
}

// Parse parses bill rows from r. name is used in messages only.
func (p *BillParser) Parse(ctx context.Context, r io.Reader, name string) ([]models.BillInput, *ParseStats, error) {
	return p.parse(ctx, name, p.NewReader(r))
}

func (p *BillParser) parse(ctx context.Context, file string, reader *csv.Reader) ([]models.BillInput, *ParseStats, error) {
	p.logger.WithFields(logger.Fields{
		"file_path": file,
		"operation": "parse_bills",
	}).Info("Starting bill parsing")

	parseCtx := NewParseContext(ctx, file)
	stats := NewParseStats(file)

	nameColumn := p.config.GetColumnName("name")
	if err := p.ReadHeaders(reader, parseCtx, []string{nameColumn}); err != nil {
		return nil, stats, err
	}

	amountCandidates := p.config.AmountColumns
	if alias, ok := p.config.ColumnAliases["amount"]; ok {
		amountCandidates = append([]string{alias}, amountCandidates...)
	}
	amountColumn, ok := parseCtx.FirstPresent(amountCandidates...)
	if !ok {
		return nil, stats, errors.ParseError(
			errors.CodeMissingColumn,
			file,
			parseCtx.Line,
			fmt.Sprintf("%v", amountCandidates),
			"",
			nil,
		).WithSuggestion(fmt.Sprintf("The bill file needs one of the amount columns %v", amountCandidates))
	}

	var bills []models.BillInput
	for {
		record, issue, err := p.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, err
		}
		if issue != nil {
			stats.Skip(*issue)
			continue
		}
		stats.RecordsParsed++

		name := p.GetFieldValue(record, parseCtx, nameColumn)
		if name == "" {
			stats.Skip(errors.RowIssue{File: file, Line: parseCtx.Line, Column: nameColumn, Code: errors.CodeMissingField})
			continue
		}

		raw := p.GetFieldValue(record, parseCtx, amountColumn)
		amount, err := models.ParseAmount(raw)
		if err != nil {
			stats.Skip(errors.RowIssue{File: file, Line: parseCtx.Line, Column: amountColumn, Value: raw, Code: errors.CodeInvalidAmount})
			continue
		}

		bills = append(bills, models.BillInput{CustomerName: name, Amount: amount, Line: parseCtx.Line})
		stats.RecordsValid++
	}
	stats.TotalLines = parseCtx.Line

	p.logger.WithFields(logger.Fields{
		"file_path":      file,
		"amount_column":  amountColumn,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"skipped":        stats.Skipped,
	}).Info("Bill parsing completed")

	if stats.HasErrors() {
		p.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Skipped rows during bill parsing")
	}

	return bills, stats, nil
}
