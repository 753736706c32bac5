package parsers

import (
	"context"
	"encoding/csv"
	"io"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"
)

// PaymentParser handles parsing of bank deposit CSV files
type PaymentParser struct {
	*BaseParser
	config *PaymentParserConfig
}

// NewPaymentParser creates a new payment parser with the given configuration
func NewPaymentParser(config *PaymentParserConfig) (*PaymentParser, error) {
	if config == nil {
		config = DefaultPaymentParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "payment_parser", config, err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.Delimiter = config.Delimiter
	parseConfig.Encoding, _ = ParseEncoding(string(config.Encoding))

	return &PaymentParser{
		BaseParser: NewBaseParser(parseConfig, "payment_parser"),
		config:     config,
	}, nil
}

// ParseFile parses a payment CSV file from disk.
func (p *PaymentParser) ParseFile(ctx context.Context, filePath string) ([]models.PaymentInput, *ParseStats, error) {
	file, reader, err := p.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return p.parse(ctx, filePath, reader)
}

// Parse parses payment rows from r. name is used in messages only.
func (p *PaymentParser) Parse(ctx context.Context, r io.Reader, name string) ([]models.PaymentInput, *ParseStats, error) {
	return p.parse(ctx, name, p.NewReader(r))
}

func (p *PaymentParser) parse(ctx context.Context, file string, reader *csv.Reader) ([]models.PaymentInput, *ParseStats, error) {
	p.logger.WithFields(logger.Fields{
		"file_path": file,
		"operation": "parse_payments",
	}).Info("Starting payment parsing")

	parseCtx := NewParseContext(ctx, file)
	stats := NewParseStats(file)

	payerColumn := p.config.GetColumnName("payer")
	amountColumn := p.config.GetColumnName("amount")
	if err := p.ReadHeaders(reader, parseCtx, []string{payerColumn, amountColumn}); err != nil {
		return nil, stats, err
	}

	rawNameColumn := p.config.GetColumnName("raw_name")
	hasRawName := rawNameColumn != "" && parseCtx.GetColumnIndex(rawNameColumn) != -1
	if !hasRawName {
		p.logger.WithField("column", rawNameColumn).Warn("Raw name column not found, matching on payer names")
	}

	var payments []models.PaymentInput
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

		payer := p.GetFieldValue(record, parseCtx, payerColumn)
		if payer == "" {
			stats.Skip(errors.RowIssue{File: file, Line: parseCtx.Line, Column: payerColumn, Code: errors.CodeMissingField})
			continue
		}

		raw := p.GetFieldValue(record, parseCtx, amountColumn)
		amount, err := models.ParseAmount(raw)
		if err != nil {
			stats.Skip(errors.RowIssue{File: file, Line: parseCtx.Line, Column: amountColumn, Value: raw, Code: errors.CodeInvalidAmount})
			continue
		}

		rawName := payer
		if hasRawName {
			rawName = p.GetFieldValue(record, parseCtx, rawNameColumn)
		}

		payments = append(payments, models.PaymentInput{
			PayerName: payer,
			RawName:   rawName,
			Amount:    amount,
			Line:      parseCtx.Line,
		})
		stats.RecordsValid++
	}
	stats.TotalLines = parseCtx.Line

	p.logger.WithFields(logger.Fields{
		"file_path":      file,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"skipped":        stats.Skipped,
	}).Info("Payment parsing completed")

	if stats.HasErrors() {
		p.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Skipped rows during payment parsing")
	}

	return payments, stats, nil
}
